package allowlist

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

import (
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS allowed_channels (
	channel_id TEXT PRIMARY KEY,
	added_at   DATETIME NOT NULL
);
`

// SQLiteStore keeps the allow-list in a local sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	slog.Info("allow-list database opened", "path", path)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id FROM allowed_channels ORDER BY channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Add(ctx context.Context, channelID string) error {
	id, err := NormalizeID(channelID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO allowed_channels (channel_id, added_at) VALUES (?, ?)
		ON CONFLICT(channel_id) DO NOTHING
	`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("add channel %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, channelID string) error {
	id, err := NormalizeID(channelID)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM allowed_channels WHERE channel_id = ?`, id); err != nil {
		return fmt.Errorf("remove channel %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
