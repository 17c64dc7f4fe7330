package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("schedule not found")
	ErrInvalid  = errors.New("invalid schedule")
)

type Schedule struct {
	ID         string `json:"id"`
	ServerID   string `json:"serverId"`
	Name       string `json:"name"`
	Cron       string `json:"cron"`
	Command    string `json:"command"`
	Enabled    bool   `json:"enabled"`
	LastRun    string `json:"lastRun,omitempty"`
	LastResult string `json:"lastResult,omitempty"`
	NextRun    string `json:"nextRun,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// Patch holds the fields of an update; nil fields are left unchanged.
type Patch struct {
	Name    *string `json:"name"`
	Cron    *string `json:"cron"`
	Command *string `json:"command"`
	Enabled *bool   `json:"enabled"`
}

func (s *Schedule) validate() error {
	s.Name = strings.TrimSpace(s.Name)
	s.Command = strings.TrimSpace(s.Command)
	if s.Name == "" || s.Command == "" || s.Cron == "" {
		return fmt.Errorf("%w: name, cron and command required", ErrInvalid)
	}
	if strings.ContainsAny(s.Command, "\r\n") {
		return fmt.Errorf("%w: command must be a single line", ErrInvalid)
	}
	if _, err := ParseCron(s.Cron); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Store keeps schedules in the schedules table.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

const selectSchedule = `SELECT id, server_id, name, cron_expr, command, enabled, last_run, last_result, created_at FROM schedules`

func (s *Store) scan(row interface{ Scan(...any) error }) (*Schedule, error) {
	var (
		sc      Schedule
		enabled int
		lastRun sql.NullString
		created sql.NullString
	)
	if err := row.Scan(&sc.ID, &sc.ServerID, &sc.Name, &sc.Cron, &sc.Command, &enabled, &lastRun, &sc.LastResult, &created); err != nil {
		return nil, err
	}
	sc.Enabled = enabled == 1
	sc.LastRun = lastRun.String
	sc.CreatedAt = created.String
	if expr, err := ParseCron(sc.Cron); err == nil && sc.Enabled {
		if next := expr.Next(s.now()); !next.IsZero() {
			sc.NextRun = next.UTC().Format(time.RFC3339)
		}
	}
	return &sc, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	schedules := []Schedule{}
	for rows.Next() {
		sc, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sc)
	}
	return schedules, rows.Err()
}

// List returns the schedules of one server, newest first.
func (s *Store) List(ctx context.Context, serverID string) ([]Schedule, error) {
	return s.query(ctx, selectSchedule+` WHERE server_id = ? ORDER BY created_at DESC, id`, serverID)
}

// Enabled returns every enabled schedule across servers.
func (s *Store) Enabled(ctx context.Context) ([]Schedule, error) {
	return s.query(ctx, selectSchedule+` WHERE enabled = 1 ORDER BY server_id, id`)
}

func (s *Store) Get(ctx context.Context, serverID, id string) (*Schedule, error) {
	sc, err := s.scan(s.db.QueryRowContext(ctx, selectSchedule+` WHERE id = ? AND server_id = ?`, id, serverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sc, err
}

// Create validates and stores a new enabled schedule.
func (s *Store) Create(ctx context.Context, sc Schedule) (*Schedule, error) {
	if err := sc.validate(); err != nil {
		return nil, err
	}
	sc.ID = uuid.New().String()[:8]

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, server_id, name, cron_expr, command, enabled) VALUES (?, ?, ?, ?, ?, 1)`,
		sc.ID, sc.ServerID, sc.Name, sc.Cron, sc.Command,
	)
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	return s.Get(ctx, sc.ServerID, sc.ID)
}

// Update applies p in a single statement after validating the result.
func (s *Store) Update(ctx context.Context, serverID, id string, p Patch) (*Schedule, error) {
	sc, err := s.Get(ctx, serverID, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		sc.Name = *p.Name
	}
	if p.Cron != nil {
		sc.Cron = *p.Cron
	}
	if p.Command != nil {
		sc.Command = *p.Command
	}
	if p.Enabled != nil {
		sc.Enabled = *p.Enabled
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}

	enabled := 0
	if sc.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE schedules SET name = ?, cron_expr = ?, command = ?, enabled = ? WHERE id = ? AND server_id = ?`,
		sc.Name, sc.Cron, sc.Command, enabled, id, serverID,
	)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return s.Get(ctx, serverID, id)
}

func (s *Store) Delete(ctx context.Context, serverID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ? AND server_id = ?`, id, serverID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRun records when a schedule last ran and what the server replied.
func (s *Store) MarkRun(ctx context.Context, id string, at time.Time, result string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET last_run = ?, last_result = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), result, id,
	)
	return err
}
