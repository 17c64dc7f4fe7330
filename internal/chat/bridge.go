package chat

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reedfamily/mcpanel/internal/game"
)

const (
	DefaultReconcileInterval = 30 * time.Second
	followRetryDelay         = 5 * time.Second
)

// LogFollower streams a container's console output from now on.
type LogFollower interface {
	FollowLogs(ctx context.Context, container string) (io.ReadCloser, error)
}

// Target ties a server to the container whose logs carry its chat.
type Target struct {
	ServerID  string
	Container string
}

// Bridge feeds chat lines from container logs into a Relay, for servers
// without a webhook plugin.
type Bridge struct {
	relay    *Relay
	logs     LogFollower
	adapter  game.Adapter
	targets  func() []Target
	interval time.Duration

	mu      sync.Mutex
	running map[Target]context.CancelFunc
	wg      sync.WaitGroup
}

func NewBridge(relay *Relay, logs LogFollower, adapter game.Adapter, targets func() []Target) *Bridge {
	return &Bridge{
		relay:    relay,
		logs:     logs,
		adapter:  adapter,
		targets:  targets,
		interval: DefaultReconcileInterval,
		running:  make(map[Target]context.CancelFunc),
	}
}

// Start follows the current targets and re-reads them every interval until
// ctx is done.
func (b *Bridge) Start(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			b.stopAll()
			return
		case <-ticker.C:
			b.reconcile(ctx)
		}
	}
}

func (b *Bridge) reconcile(ctx context.Context) {
	want := make(map[Target]bool)
	for _, t := range b.targets() {
		if t.Container != "" {
			want[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for t, cancel := range b.running {
		if !want[t] {
			cancel()
			delete(b.running, t)
		}
	}
	for t := range want {
		if _, ok := b.running[t]; ok {
			continue
		}
		fctx, cancel := context.WithCancel(ctx)
		b.running[t] = cancel
		b.wg.Add(1)
		go func(t Target) {
			defer b.wg.Done()
			b.follow(fctx, t)
		}(t)
	}
}

func (b *Bridge) stopAll() {
	b.mu.Lock()
	for t, cancel := range b.running {
		cancel()
		delete(b.running, t)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

func (b *Bridge) follow(ctx context.Context, t Target) {
	logger := log.With().Str("server", t.ServerID).Str("container", t.Container).Logger()
	logger.Info().Msg("following container chat")

	for {
		rc, err := b.logs.FollowLogs(ctx, t.Container)
		if err != nil {
			logger.Warn().Err(err).Msg("follow container logs")
		} else {
			if err := b.Consume(t.ServerID, rc); err != nil && ctx.Err() == nil {
				logger.Warn().Err(err).Msg("container log stream ended")
			}
			rc.Close()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(followRetryDelay):
		}
	}
}

// Consume reads console lines from r and ingests the chat among them until
// r is exhausted.
func (b *Bridge) Consume(serverID string, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		ev := b.adapter.ParseLogLine(scanner.Text())
		if ev == nil || ev.Type != game.EventChat {
			continue
		}
		if _, err := b.relay.Ingest(serverID, ev.Player, "", ev.Message); err != nil {
			log.Debug().Err(err).Str("server", serverID).Msg("skipping chat line")
		}
	}
	return scanner.Err()
}
