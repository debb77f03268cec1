package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/aetherpack/aetherbot/internal/providers"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS turns (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_key TEXT NOT NULL,
	payload  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_chat ON turns(chat_key, id);
`

// SQLiteStore persists turns in a single sqlite file. Turns are stored as
// JSON payloads; ordering comes from the rowid.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "aetherbot.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	// sqlite allows one writer; serialize through the pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, chatKey string, turns ...providers.Message) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	for _, turn := range turns {
		payload, err := json.Marshal(turn)
		if err != nil {
			return fmt.Errorf("history: encode turn: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO turns (chat_key, payload) VALUES (?, ?)`,
			chatKey, string(payload)); err != nil {
			return fmt.Errorf("history: insert: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Recent(ctx context.Context, chatKey string, limit int) ([]providers.Message, error) {
	if limit <= 0 {
		limit = maxTurnsPerChat
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM turns WHERE chat_key = ? ORDER BY id DESC LIMIT ?`,
		chatKey, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var turns []providers.Message
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		var turn providers.Message
		if err := json.Unmarshal([]byte(payload), &turn); err != nil {
			return nil, fmt.Errorf("history: decode turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}

	// rows came newest-first; flip to chronological
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (s *SQLiteStore) Reset(ctx context.Context, chatKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE chat_key = ?`, chatKey); err != nil {
		return fmt.Errorf("history: reset: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
