// Package registry keeps at most one live RCON session per configured game
// server, opening sessions on demand, recovering once from a stale session
// and closing sessions that sit idle.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reedfamily/mcpanel/internal/rcon"
)

const (
	DefaultIdleTimeout  = 10 * time.Minute
	DefaultReapInterval = 5 * time.Minute
)

// ErrServerNotFound is returned for server ids the directory does not know.
var ErrServerNotFound = errors.New("server not found")

// Directory supplies the current connection parameters of a server.
type Directory interface {
	Lookup(id string) (Endpoint, bool)
}

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Option configures a Registry.
type Option func(*Registry)

func WithDialer(d Dialer) Option {
	return func(r *Registry) { r.dialer = d }
}

func WithClock(c Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Registry) { r.retry = p }
}

// WithIdleTimeout sets how long a session may go unused before a sweep
// closes it.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleTimeout = d
		}
	}
}

// WithReapInterval sets how often Start sweeps for idle sessions.
func WithReapInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.reapInterval = d
		}
	}
}

// entry guards the session of one server id. Holding mu is the exclusive
// section for that id: dialing, sending and closing all happen under it.
type entry struct {
	mu       sync.Mutex
	sess     Session
	lastUsed time.Time
	// removed is set once the entry has left the map; holders must start over.
	removed bool
}

// Registry maps server ids to sessions.
type Registry struct {
	dir          Directory
	dialer       Dialer
	clock        Clock
	retry        RetryPolicy
	idleTimeout  time.Duration
	reapInterval time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	open atomic.Int64
}

func New(dir Directory, opts ...Option) *Registry {
	r := &Registry{
		dir:          dir,
		dialer:       RCONDialer{},
		clock:        systemClock{},
		retry:        DefaultRetryPolicy,
		idleTimeout:  DefaultIdleTimeout,
		reapInterval: DefaultReapInterval,
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute runs cmd on the server's session, opening one if needed. When a
// reused session fails the command is retried once over a fresh session.
func (r *Registry) Execute(ctx context.Context, id, cmd string) (string, error) {
	if _, ok := r.dir.Lookup(id); !ok {
		return "", fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}

	e := r.acquire(id)
	defer e.mu.Unlock()

	reply, err := r.run(ctx, e, id, cmd)
	if e.sess == nil {
		r.drop(id, e)
	}
	return reply, err
}

func (r *Registry) run(ctx context.Context, e *entry, id, cmd string) (string, error) {
	for attempt := 0; ; attempt++ {
		reused := e.sess != nil
		if !reused {
			ep, ok := r.dir.Lookup(id)
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrServerNotFound, id)
			}
			sess, err := r.dialer.Dial(ctx, ep)
			if err != nil {
				return "", err
			}
			e.sess = sess
			r.open.Add(1)
			log.Debug().Str("server", id).Str("addr", ep.Addr()).Msg("rcon session opened")
		}

		reply, err := e.sess.Execute(ctx, cmd)
		if err == nil {
			e.lastUsed = r.clock.Now()
			return reply, nil
		}
		if errors.Is(err, rcon.ErrCommandTooLong) {
			return "", err
		}

		r.discard(id, e, "failed")
		if !reused || ctx.Err() != nil || !r.retry.ShouldRetry(attempt, err) {
			return "", err
		}
	}
}

// acquire returns the locked live entry for id, creating it if needed.
func (r *Registry) acquire(id string) *entry {
	for {
		r.mu.Lock()
		e, ok := r.entries[id]
		if !ok {
			e = &entry{}
			r.entries[id] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// discard closes the entry's session. The caller holds e.mu.
func (r *Registry) discard(id string, e *entry, reason string) {
	if e.sess == nil {
		return
	}
	_ = e.sess.Close()
	e.sess = nil
	r.open.Add(-1)
	log.Debug().Str("server", id).Str("reason", reason).Msg("rcon session closed")
}

// drop removes e from the map. The caller holds e.mu.
func (r *Registry) drop(id string, e *entry) {
	e.removed = true
	r.mu.Lock()
	if r.entries[id] == e {
		delete(r.entries, id)
	}
	r.mu.Unlock()
}

// Invalidate closes any session held for id. It waits for a command in
// flight on that session to finish.
func (r *Registry) Invalidate(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return
	}
	r.discard(id, e, "invalidated")
	r.drop(id, e)
}

// Reap closes sessions unused for longer than the idle timeout and returns
// how many it closed. Entries busy with a command are skipped.
func (r *Registry) Reap() int {
	cutoff := r.clock.Now().Add(-r.idleTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for id, e := range r.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.sess != nil && e.lastUsed.Before(cutoff) {
			r.discard(id, e, "idle")
			reaped++
		}
		if e.sess == nil {
			e.removed = true
			delete(r.entries, id)
		}
		e.mu.Unlock()
	}
	return reaped
}

// Start sweeps idle sessions every reap interval until ctx is done, then
// closes everything.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.reapInterval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", r.reapInterval).
		Dur("idle_timeout", r.idleTimeout).
		Msg("rcon idle reaper started")

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			if n := r.Reap(); n > 0 {
				log.Debug().Int("closed", n).Msg("reaped idle rcon sessions")
			}
		}
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	return int(r.open.Load())
}

// Close closes every session. The registry stays usable afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for id, e := range entries {
		e.mu.Lock()
		r.discard(id, e, "shutdown")
		e.removed = true
		e.mu.Unlock()
	}
}

// TestResult reports the outcome of a connectivity check.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Test checks that the server answers a harmless command.
func (r *Registry) Test(ctx context.Context, id string) TestResult {
	if _, err := r.Execute(ctx, id, "list"); err != nil {
		return TestResult{Success: false, Message: err.Error()}
	}
	return TestResult{Success: true, Message: "Connection successful"}
}
