package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id  TEXT PRIMARY KEY,
	state      BLOB NOT NULL,
	pending    TEXT,
	updated_at INTEGER NOT NULL
)`

// SQLiteCheckpointer stores checkpoints in a local SQLite file so
// suspended turns survive restarts.
type SQLiteCheckpointer struct {
	db *sql.DB
}

// OpenSQLiteCheckpointer opens (and creates) dir/checkpoints.db.
func OpenSQLiteCheckpointer(dir string) (*SQLiteCheckpointer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	dsn := filepath.Join(dir, "checkpoints.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init checkpoints table: %w", err)
	}
	return &SQLiteCheckpointer{db: db}, nil
}

func (s *SQLiteCheckpointer) Close() error { return s.db.Close() }

func (s *SQLiteCheckpointer) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	var (
		state   []byte
		pending sql.NullString
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, pending, updated_at FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&state, &pending, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp := &Checkpoint{ThreadID: threadID, State: state, UpdatedAt: time.UnixMilli(updated)}
	if pending.Valid && pending.String != "" {
		cp.Pending = &PendingInterrupt{}
		if err := json.Unmarshal([]byte(pending.String), cp.Pending); err != nil {
			return nil, fmt.Errorf("decode pending interrupt: %w", err)
		}
	}
	return cp, nil
}

func (s *SQLiteCheckpointer) Put(ctx context.Context, cp *Checkpoint) error {
	var pending sql.NullString
	if cp.Pending != nil {
		raw, err := json.Marshal(cp.Pending)
		if err != nil {
			return err
		}
		pending = sql.NullString{String: string(raw), Valid: true}
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, state, pending, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET state = excluded.state, pending = excluded.pending, updated_at = excluded.updated_at`,
		cp.ThreadID, []byte(cp.State), pending, updated.UnixMilli(),
	)
	return err
}

func (s *SQLiteCheckpointer) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	return err
}
