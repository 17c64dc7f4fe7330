package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	declared   string
	kind       string
	declareErr error
	published  []amqp.Publishing
	keys       []string
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	c.declared, c.kind = name, kind
	return c.declareErr
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.keys = append(c.keys, exchange+"/"+key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPSinkPublishes(t *testing.T) {
	ch := &fakeChannel{}
	sink, err := NewAMQPSink(ch, "mcpanel")
	require.NoError(t, err)
	assert.Equal(t, "mcpanel", ch.declared)
	assert.Equal(t, "topic", ch.kind)

	r := New(WithSink(sink))
	msg, err := r.Ingest("s1", "Steve", "069a79f4", "hello")
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	assert.Equal(t, []string{"mcpanel/chat.s1"}, ch.keys)
	assert.Equal(t, "application/json", ch.published[0].ContentType)
	assert.Equal(t, msg.ID, ch.published[0].MessageId)

	var body map[string]any
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &body))
	assert.Equal(t, "s1", body["serverId"])
	assert.Equal(t, "069a79f4", body["playerUuid"])
	assert.Equal(t, "hello", body["message"])
	assert.Equal(t, msg.Timestamp.Format(time.RFC3339Nano), body["timestamp"])

	require.NoError(t, sink.Close())
	assert.True(t, ch.closed)
}

func TestAMQPSinkDeclareFailure(t *testing.T) {
	ch := &fakeChannel{declareErr: errors.New("access refused")}
	_, err := NewAMQPSink(ch, "mcpanel")
	require.Error(t, err)
	assert.True(t, ch.closed)
}
