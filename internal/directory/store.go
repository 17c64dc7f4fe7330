package directory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SQLStore keeps server configs in the servers table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Load(ctx context.Context) ([]ServerConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, host, game_port, rcon_port, rcon_password, container FROM servers ORDER BY position, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	servers := []ServerConfig{}
	for rows.Next() {
		var c ServerConfig
		if err := rows.Scan(&c.ID, &c.Name, &c.Host, &c.GamePort, &c.RconPort, &c.RconPassword, &c.Container); err != nil {
			return nil, err
		}
		servers = append(servers, c)
	}
	return servers, rows.Err()
}

// Save replaces the stored set with servers in one transaction. Rows for
// servers that are kept are updated in place so dependent rows survive.
func (s *SQLStore) Save(ctx context.Context, servers []ServerConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ids := make([]any, len(servers))
	for i, c := range servers {
		ids[i] = c.ID
	}
	del := `DELETE FROM servers`
	if len(ids) > 0 {
		del += ` WHERE id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`
	}
	if _, err := tx.ExecContext(ctx, del, ids...); err != nil {
		return fmt.Errorf("delete removed servers: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO servers (id, position, name, host, game_port, rcon_port, rcon_password, container)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position = excluded.position,
			name = excluded.name,
			host = excluded.host,
			game_port = excluded.game_port,
			rcon_port = excluded.rcon_port,
			rcon_password = excluded.rcon_password,
			container = excluded.container,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, c := range servers {
		if _, err := stmt.ExecContext(ctx, c.ID, i, c.Name, c.Host, c.GamePort, c.RconPort, c.RconPassword, c.Container); err != nil {
			return fmt.Errorf("upsert server %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}
