package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/graph"
)

// PGCheckpointer implements graph.Checkpointer on the checkpoints table.
type PGCheckpointer struct {
	db *sql.DB
}

func NewPGCheckpointer(db *sql.DB) *PGCheckpointer {
	return &PGCheckpointer{db: db}
}

func (c *PGCheckpointer) Get(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	var (
		state   []byte
		pending []byte
		updated time.Time
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT state, pending, updated_at FROM checkpoints WHERE thread_id = $1`, threadID,
	).Scan(&state, &pending, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cp := &graph.Checkpoint{ThreadID: threadID, State: state, UpdatedAt: updated}
	if len(pending) > 0 && string(pending) != "null" {
		cp.Pending = &graph.PendingInterrupt{}
		if err := json.Unmarshal(pending, cp.Pending); err != nil {
			return nil, fmt.Errorf("decode pending interrupt: %w", err)
		}
	}
	return cp, nil
}

func (c *PGCheckpointer) Put(ctx context.Context, cp *graph.Checkpoint) error {
	var pending []byte
	if cp.Pending != nil {
		raw, err := json.Marshal(cp.Pending)
		if err != nil {
			return err
		}
		pending = raw
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	state := []byte(cp.State)
	if len(state) == 0 {
		state = []byte("{}")
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, state, pending, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (thread_id) DO UPDATE SET state = EXCLUDED.state, pending = EXCLUDED.pending, updated_at = EXCLUDED.updated_at`,
		cp.ThreadID, string(state), nullJSON(pending), updated.UTC(),
	)
	return err
}

func (c *PGCheckpointer) Delete(ctx context.Context, threadID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = $1`, threadID)
	return err
}

func nullJSON(raw []byte) sql.NullString {
	if raw == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
