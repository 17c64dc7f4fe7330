package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/reedfamily/mcpanel/internal/commands"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultRetention   = 24 * time.Hour
	DefaultConcurrency = 4
)

type Sample struct {
	ServerID string `json:"serverId"`
	commands.ServerStats
	RecordedAt string `json:"recordedAt"`
}

// Querier fetches live stats from a game server.
type Querier interface {
	Stats(ctx context.Context, serverID string) (*commands.ServerStats, error)
}

type Config struct {
	Interval    time.Duration
	Retention   time.Duration
	Concurrency int
}

type Collector struct {
	db      *sql.DB
	querier Querier
	servers func() []string
	cfg     Config
	now     func() time.Time

	mu        sync.RWMutex
	latest    map[string]*Sample // server_id -> latest sample
	lastHash  map[string]uint64
	listeners map[string][]chan *Sample

	cancel context.CancelFunc
	done   chan struct{}
}

func NewCollector(db *sql.DB, querier Querier, servers func() []string, cfg Config) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Collector{
		db:        db,
		querier:   querier,
		servers:   servers,
		cfg:       cfg,
		now:       time.Now,
		latest:    make(map[string]*Sample),
		lastHash:  make(map[string]uint64),
		listeners: make(map[string][]chan *Sample),
	}
}

func (c *Collector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		// Run immediately on start
		c.Collect(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Collect(ctx)
			}
		}
	}()

	log.Info().Dur("interval", c.cfg.Interval).Msg("stats collector started")
}

func (c *Collector) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Collect polls every server once. Unreachable servers are logged and
// skipped.
func (c *Collector) Collect(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for _, id := range c.servers() {
		g.Go(func() error {
			st, err := c.querier.Stats(gctx, id)
			if err != nil {
				log.Debug().Err(err).Str("server", id).Msg("stats poll failed")
				return nil
			}
			c.record(ctx, id, st)
			return nil
		})
	}
	_ = g.Wait()

	cutoff := c.now().Add(-c.cfg.Retention).UTC().Format(time.RFC3339)
	if _, err := c.db.ExecContext(ctx, "DELETE FROM stats_samples WHERE recorded_at < ?", cutoff); err != nil {
		log.Error().Err(err).Msg("stats cleanup")
	}
}

// record stores a sample unless it matches the previous one for the server,
// and pushes it to listeners either way.
func (c *Collector) record(ctx context.Context, id string, st *commands.ServerStats) {
	sample := &Sample{ServerID: id, ServerStats: *st, RecordedAt: c.now().UTC().Format(time.RFC3339)}

	payload, _ := json.Marshal(st)
	sum := xxhash.Sum64(payload)

	c.mu.Lock()
	unchanged := c.lastHash[id] == sum && c.latest[id] != nil
	c.lastHash[id] = sum
	c.latest[id] = sample
	// Sends happen under the lock so Unsubscribe cannot close a channel
	// mid-send.
	for _, ch := range c.listeners[id] {
		select {
		case ch <- sample:
		default:
			// Drop if listener is slow
		}
	}
	c.mu.Unlock()

	if !unchanged {
		_, err := c.db.ExecContext(ctx,
			`INSERT INTO stats_samples (server_id, version, online_players, memory_used_mb, memory_allocated_mb, tps_1m, tps_5m, tps_15m, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, st.Version, st.OnlinePlayers, st.MemoryUsedMB, st.MemoryAllocatedMB, st.TPS1m, st.TPS5m, st.TPS15m, sample.RecordedAt,
		)
		if err != nil {
			log.Error().Err(err).Str("server", id).Msg("stats insert")
		}
	}
}

func (c *Collector) Latest(serverID string) *Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest[serverID]
}

// History returns stored samples for serverID recorded within period,
// oldest first.
func (c *Collector) History(ctx context.Context, serverID string, period time.Duration) ([]Sample, error) {
	since := c.now().Add(-period).UTC().Format(time.RFC3339)
	rows, err := c.db.QueryContext(ctx,
		`SELECT server_id, version, online_players, memory_used_mb, memory_allocated_mb, tps_1m, tps_5m, tps_15m, recorded_at
		FROM stats_samples WHERE server_id = ? AND recorded_at >= ? ORDER BY recorded_at, id`,
		serverID, since)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	samples := []Sample{}
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ServerID, &s.Version, &s.OnlinePlayers, &s.MemoryUsedMB, &s.MemoryAllocatedMB,
			&s.TPS1m, &s.TPS5m, &s.TPS15m, &s.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// Forget drops cached state for a deleted server.
func (c *Collector) Forget(serverID string) {
	c.mu.Lock()
	delete(c.latest, serverID)
	delete(c.lastHash, serverID)
	c.mu.Unlock()
}

func (c *Collector) Subscribe(serverID string) chan *Sample {
	ch := make(chan *Sample, 1)
	c.mu.Lock()
	c.listeners[serverID] = append(c.listeners[serverID], ch)
	c.mu.Unlock()
	return ch
}

func (c *Collector) Unsubscribe(serverID string, ch chan *Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	listeners := c.listeners[serverID]
	for i, l := range listeners {
		if l == ch {
			c.listeners[serverID] = append(listeners[:i], listeners[i+1:]...)
			close(ch)
			return
		}
	}
}
