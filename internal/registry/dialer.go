package registry

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/reedfamily/mcpanel/internal/rcon"
)

// Endpoint holds the parameters needed to open a session.
type Endpoint struct {
	Host     string
	Port     int
	Password string
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Session is one authenticated command channel to a game server.
type Session interface {
	Execute(ctx context.Context, cmd string) (string, error)
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, ep Endpoint) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, ep Endpoint) (Session, error) {
	return f(ctx, ep)
}

// RCONDialer opens real RCON connections.
type RCONDialer struct {
	DialTimeout time.Duration
	Timeout     time.Duration
}

func (d RCONDialer) Dial(ctx context.Context, ep Endpoint) (Session, error) {
	conn, err := rcon.Dial(ctx, ep.Addr(), ep.Password,
		rcon.WithDialTimeout(d.DialTimeout),
		rcon.WithTimeout(d.Timeout),
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
