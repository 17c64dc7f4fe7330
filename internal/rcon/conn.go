// Package rcon implements the client side of the RCON protocol as spoken by
// Minecraft servers: one authenticated TCP connection carrying one command at
// a time, with multi-packet replies reassembled.
package rcon

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultTimeout     = 10 * time.Second
)

type options struct {
	dialTimeout time.Duration
	timeout     time.Duration
}

// Option tunes a connection created by Dial.
type Option func(*options)

// WithDialTimeout bounds the TCP connect and login exchange.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.dialTimeout = d
		}
	}
}

// WithTimeout bounds a single command round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Conn is an authenticated RCON connection. Execute calls are serialized;
// the protocol has no way to attribute interleaved replies.
type Conn struct {
	addr    string
	conn    net.Conn
	timeout time.Duration

	mu     sync.Mutex
	lastID int32

	closeOnce sync.Once
	closed    atomic.Bool
}

// Dial connects to addr and logs in with password. A rejected password yields
// ErrAuth; anything else that goes wrong is a *NetworkError.
func Dial(ctx context.Context, addr, password string, opts ...Option) (*Conn, error) {
	o := options{dialTimeout: DefaultDialTimeout, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithTimeout(ctx, o.dialTimeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &NetworkError{Op: "dial", Addr: addr, Err: err}
	}

	c := &Conn{addr: addr, conn: nc, timeout: o.timeout}
	if err := c.login(ctx, password); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Addr returns the remote address the connection was dialed with.
func (c *Conn) Addr() string {
	return c.addr
}

func (c *Conn) login(ctx context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := c.watch(ctx)
	defer stop()

	id := c.nextID()
	if _, err := (Packet{ID: id, Type: TypeAuth, Body: password}).WriteTo(c.conn); err != nil {
		return c.fail(ctx, "auth", err)
	}

	for {
		p, err := ReadPacket(c.conn)
		if err != nil {
			return c.fail(ctx, "auth", err)
		}
		// Source servers send an empty response value ahead of the auth response.
		if p.Type != TypeAuthResponse {
			continue
		}
		switch p.ID {
		case id:
			return nil
		case authFailedID:
			return ErrAuth
		default:
			return c.fail(ctx, "auth", fmt.Errorf("unexpected auth response id %d", p.ID))
		}
	}
}

// Execute sends cmd and returns the complete reply text.
//
// Minecraft splits long replies into MaxResponseBody fragments and reads each
// request with a single socket read, so packets must go out one per write.
// A fragment shorter than MaxResponseBody ends the reply. After a full-size
// fragment a sentinel packet is sent; the server answers it only after the
// last fragment, which marks the end of the reply.
func (c *Conn) Execute(ctx context.Context, cmd string) (string, error) {
	if len(cmd) > MaxCommandSize {
		return "", ErrCommandTooLong
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return "", &NetworkError{Op: "write", Addr: c.addr, Err: ErrClosed}
	}

	stop := c.watch(ctx)
	defer stop()

	id := c.nextID()
	if _, err := (Packet{ID: id, Type: TypeExecCommand, Body: cmd}).WriteTo(c.conn); err != nil {
		return "", c.fail(ctx, "write", err)
	}

	var (
		reply    strings.Builder
		sentinel int32
	)
	for {
		p, err := ReadPacket(c.conn)
		if err != nil {
			return "", c.fail(ctx, "read", err)
		}
		switch {
		case p.ID == id:
			reply.WriteString(p.Body)
			if sentinel != 0 {
				continue
			}
			if len(p.Body) < MaxResponseBody {
				return reply.String(), nil
			}
			sentinel = c.nextID()
			if _, err := (Packet{ID: sentinel, Type: TypeResponseValue}).WriteTo(c.conn); err != nil {
				return "", c.fail(ctx, "write", err)
			}
		case sentinel != 0 && p.ID == sentinel:
			return reply.String(), nil
		default:
			// Late reply to an earlier exchange.
		}
	}
}

// Close releases the connection. It is safe to call more than once and from
// any goroutine; an in-flight Execute is aborted.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// watch applies the I/O deadline for one exchange and aborts it early when
// ctx is cancelled.
func (c *Conn) watch(ctx context.Context) func() {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() { stop() }
}

func (c *Conn) fail(ctx context.Context, op string, err error) error {
	_ = c.Close()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &NetworkError{Op: op, Addr: c.addr, Err: err}
}

func (c *Conn) nextID() int32 {
	if c.lastID == math.MaxInt32 {
		c.lastID = 0
	}
	c.lastID++
	return c.lastID
}
