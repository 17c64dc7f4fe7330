// Package chat relays in-game chat to dashboard subscribers, keeping a short
// per-server history for late joiners.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHistory = 100
	DefaultLimit   = 50

	subscriberBuffer = 64
	sinkTimeout      = 5 * time.Second
)

var ErrInvalidMessage = errors.New("invalid chat message")

type Message struct {
	ID         string    `json:"id"`
	ServerID   string    `json:"serverId"`
	Player     string    `json:"player"`
	PlayerUUID string    `json:"playerUuid"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`

	// seq orders messages across servers.
	seq uint64
}

// Sink receives every ingested message after subscribers have been notified.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
}

// Subscription receives chat messages published after it was created.
// History holds what was retained at that moment.
type Subscription struct {
	History []Message
	C       <-chan Message

	ch       chan Message
	serverID string
	relay    *Relay
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.relay.unsubscribe(s)
}

type Option func(*Relay)

// WithHistory sets how many messages are kept per server.
func WithHistory(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.capacity = n
		}
	}
}

func WithSink(s Sink) Option {
	return func(r *Relay) { r.sinks = append(r.sinks, s) }
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

type Relay struct {
	capacity int
	sinks    []Sink
	now      func() time.Time

	mu      sync.Mutex
	seq     uint64
	history map[string][]Message
	subs    map[*Subscription]struct{}
}

func New(opts ...Option) *Relay {
	r := &Relay{
		capacity: DefaultHistory,
		now:      time.Now,
		history:  make(map[string][]Message),
		subs:     make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest records a chat line and fans it out. Subscribers that cannot keep
// up are dropped rather than stalling ingestion.
func (r *Relay) Ingest(serverID, player, playerUUID, message string) (Message, error) {
	switch {
	case strings.TrimSpace(serverID) == "":
		return Message{}, fmt.Errorf("%w: serverId is required", ErrInvalidMessage)
	case strings.TrimSpace(player) == "":
		return Message{}, fmt.Errorf("%w: player is required", ErrInvalidMessage)
	case strings.TrimSpace(message) == "":
		return Message{}, fmt.Errorf("%w: message is required", ErrInvalidMessage)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Message{}, fmt.Errorf("generate message id: %w", err)
	}

	r.mu.Lock()
	r.seq++
	msg := Message{
		ID:         id.String(),
		ServerID:   serverID,
		Player:     player,
		PlayerUUID: playerUUID,
		Message:    message,
		Timestamp:  r.now().UTC(),
		seq:        r.seq,
	}

	h := append(r.history[serverID], msg)
	if len(h) > r.capacity {
		h = append([]Message(nil), h[len(h)-r.capacity:]...)
	}
	r.history[serverID] = h

	for sub := range r.subs {
		if sub.serverID != "" && sub.serverID != serverID {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			delete(r.subs, sub)
			close(sub.ch)
			log.Warn().Str("server", serverID).Msg("chat subscriber too slow, dropped")
		}
	}
	r.mu.Unlock()

	r.publish(msg)
	return msg, nil
}

func (r *Relay) publish(msg Message) {
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := sink.Publish(ctx, msg); err != nil {
			log.Error().Err(err).Str("server", msg.ServerID).Msg("chat sink publish failed")
		}
		cancel()
	}
}

// Subscribe starts a subscription scoped to serverID, or to every server
// when serverID is empty. The history snapshot and the registration happen
// atomically, so every message is seen exactly once.
func (r *Relay) Subscribe(serverID string) *Subscription {
	ch := make(chan Message, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, serverID: serverID, relay: r}

	r.mu.Lock()
	sub.History = r.snapshot(serverID, 0)
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	return sub
}

func (r *Relay) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; ok {
		delete(r.subs, sub)
		close(sub.ch)
	}
}

// Messages returns up to limit of the most recent messages for serverID,
// oldest first. An empty serverID merges all servers.
func (r *Relay) Messages(serverID string, limit int) []Message {
	if limit <= 0 {
		limit = DefaultLimit
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(serverID, limit)
}

// Clear forgets the history of serverID.
func (r *Relay) Clear(serverID string) {
	r.mu.Lock()
	delete(r.history, serverID)
	r.mu.Unlock()
}

// Subscribers returns the number of attached subscriptions.
func (r *Relay) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// snapshot copies retained messages in ingestion order. The caller holds mu.
func (r *Relay) snapshot(serverID string, limit int) []Message {
	var out []Message
	if serverID != "" {
		out = append([]Message{}, r.history[serverID]...)
	} else {
		out = []Message{}
		for _, h := range r.history {
			out = append(out, h...)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
