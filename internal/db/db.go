package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Open opens the sqlite database at path. Use ":memory:" for a throwaway
// database; the single connection keeps it alive for the pool's lifetime.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func Migrate(db *sql.DB) error {
	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration %d: %w\nSQL: %s", i, err, m)
		}
	}
	log.Debug().Int("statements", len(migrations)).Msg("database schema up to date")
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		expires_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS servers (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL,
		host TEXT NOT NULL,
		game_port INTEGER NOT NULL DEFAULT 25565,
		rcon_port INTEGER NOT NULL,
		rcon_password TEXT NOT NULL,
		container TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS stats_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
		version TEXT NOT NULL DEFAULT '',
		online_players INTEGER NOT NULL DEFAULT 0,
		memory_used_mb REAL NOT NULL DEFAULT 0,
		memory_allocated_mb REAL NOT NULL DEFAULT 0,
		tps_1m REAL NOT NULL DEFAULT 0,
		tps_5m REAL NOT NULL DEFAULT 0,
		tps_15m REAL NOT NULL DEFAULT 0,
		recorded_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stats_samples_server_time ON stats_samples(server_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		command TEXT NOT NULL,
		enabled INTEGER DEFAULT 1,
		last_run DATETIME,
		last_result TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}
