package rcon_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reedfamily/mcpanel/internal/rcon"
	"github.com/reedfamily/mcpanel/internal/rcon/rcontest"
)

func TestDialAndExecute(t *testing.T) {
	srv := rcontest.NewServer("secret", func(cmd string) string {
		if cmd == "list" {
			return "There are 0 of a max of 20 players online:"
		}
		return "Unknown command"
	})
	defer srv.Close()

	conn, err := rcon.Dial(context.Background(), srv.Addr(), "secret")
	require.NoError(t, err)
	defer conn.Close()

	reply, err := conn.Execute(context.Background(), "list")
	require.NoError(t, err)
	assert.Equal(t, "There are 0 of a max of 20 players online:", reply)

	reply, err = conn.Execute(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Equal(t, "Unknown command", reply)
	assert.Equal(t, 1, srv.Accepted())
}

func TestDialWrongPassword(t *testing.T) {
	srv := rcontest.NewServer("secret", nil)
	defer srv.Close()

	_, err := rcon.Dial(context.Background(), srv.Addr(), "nope")
	assert.ErrorIs(t, err, rcon.ErrAuth)
	assert.False(t, rcon.IsNetworkError(err))
}

func TestDialUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = rcon.Dial(context.Background(), addr, "secret", rcon.WithDialTimeout(time.Second))
	require.Error(t, err)

	var netErr *rcon.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "dial", netErr.Op)
	assert.Equal(t, addr, netErr.Addr)
}

func TestExecuteReassemblesFragments(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"single fragment", rcon.MaxResponseBody - 1},
		{"exactly one full fragment", rcon.MaxResponseBody},
		{"short last fragment", 2*rcon.MaxResponseBody + 1808},
		{"exact multiple", 2 * rcon.MaxResponseBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			long := strings.Repeat("abcdefghij", tt.size/10+1)[:tt.size]
			srv := rcontest.NewServer("secret", func(cmd string) string {
				if cmd == "help" {
					return long
				}
				return cmd
			})
			defer srv.Close()

			conn, err := rcon.Dial(context.Background(), srv.Addr(), "secret")
			require.NoError(t, err)
			defer conn.Close()

			reply, err := conn.Execute(context.Background(), "help")
			require.NoError(t, err)
			assert.Equal(t, long, reply)

			// The connection stays aligned for the next exchange.
			reply, err = conn.Execute(context.Background(), "ping")
			require.NoError(t, err)
			assert.Equal(t, "ping", reply)
			assert.Equal(t, 1, srv.Accepted())
		})
	}
}

func TestExecuteLongCommand(t *testing.T) {
	srv := rcontest.NewServer("secret", nil)
	defer srv.Close()

	conn, err := rcon.Dial(context.Background(), srv.Addr(), "secret")
	require.NoError(t, err)
	defer conn.Close()

	cmd := "say " + strings.Repeat("x", rcon.MaxCommandSize-4)
	reply, err := conn.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, cmd, reply)
}

// The server reads one packet per socket read and hangs up on anything else,
// so a client that batches packets into one write never gets a reply.
func TestServerRejectsCoalescedPackets(t *testing.T) {
	srv := rcontest.NewServer("secret", nil)
	defer srv.Close()

	nc, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer nc.Close()
	require.NoError(t, nc.SetDeadline(time.Now().Add(2*time.Second)))

	auth, err := rcon.Packet{ID: 1, Type: rcon.TypeAuth, Body: "secret"}.MarshalBinary()
	require.NoError(t, err)
	_, err = nc.Write(auth)
	require.NoError(t, err)
	resp, err := rcon.ReadPacket(nc)
	require.NoError(t, err)
	require.Equal(t, int32(1), resp.ID)

	exec, err := rcon.Packet{ID: 2, Type: rcon.TypeExecCommand, Body: "list"}.MarshalBinary()
	require.NoError(t, err)
	end, err := rcon.Packet{ID: 3, Type: rcon.TypeResponseValue}.MarshalBinary()
	require.NoError(t, err)
	_, err = nc.Write(append(exec, end...))
	require.NoError(t, err)

	_, err = rcon.ReadPacket(nc)
	assert.Error(t, err)
	assert.Zero(t, srv.Commands())
}

func TestExecuteEmptyReply(t *testing.T) {
	srv := rcontest.NewServer("secret", func(string) string { return "" })
	defer srv.Close()

	conn, err := rcon.Dial(context.Background(), srv.Addr(), "secret")
	require.NoError(t, err)
	defer conn.Close()

	reply, err := conn.Execute(context.Background(), "whitelist add Steve")
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestExecuteCommandTooLong(t *testing.T) {
	srv := rcontest.NewServer("secret", nil)
	defer srv.Close()

	conn, err := rcon.Dial(context.Background(), srv.Addr(), "secret")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Execute(context.Background(), strings.Repeat("x", rcon.MaxCommandSize+1))
	assert.ErrorIs(t, err, rcon.ErrCommandTooLong)

	// A rejected command does not poison the connection.
	reply, err := conn.Execute(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, "ping", reply)
}

func TestExecuteAfterServerDrop(t *testing.T) {
	srv := rcontest.NewServer("secret", nil)
	defer srv.Close()

	conn, err := rcon.Dial(context.Background(), srv.Addr(), "secret")
	require.NoError(t, err)
	defer conn.Close()

	srv.DropConnections()

	_, err = conn.Execute(context.Background(), "list")
	require.Error(t, err)
	assert.True(t, rcon.IsNetworkError(err))

	// The connection is closed after a network failure.
	_, err = conn.Execute(context.Background(), "list")
	var netErr *rcon.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.ErrorIs(t, err, rcon.ErrClosed)
}

func TestExecuteTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := rcontest.NewServer("secret", func(string) string {
		<-block
		return ""
	})
	defer srv.Close()
	defer close(block)

	conn, err := rcon.Dial(context.Background(), srv.Addr(), "secret", rcon.WithTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Execute(context.Background(), "list")
	var netErr *rcon.NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestExecuteContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := rcontest.NewServer("secret", func(string) string {
		<-block
		return ""
	})
	defer srv.Close()
	defer close(block)

	conn, err := rcon.Dial(context.Background(), srv.Addr(), "secret")
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = conn.Execute(ctx, "list")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := rcontest.NewServer("secret", nil)
	defer srv.Close()

	conn, err := rcon.Dial(context.Background(), srv.Addr(), "secret")
	require.NoError(t, err)

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}
