package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Result is the outcome of Invoke or Resume. Interrupt is set when the run
// paused; State is then the checkpointed state.
type Result[S any] struct {
	State      S
	Interrupt  *PendingInterrupt
	Interrupts []PendingInterrupt
}

// Interrupted reports whether the run paused.
func (r *Result[S]) Interrupted() bool { return r.Interrupt != nil }

// Snapshot is the stored view of a thread.
type Snapshot[S any] struct {
	State   S
	Pending *PendingInterrupt
}

// Runnable is a validated graph bound to a checkpointer.
type Runnable[S any] struct {
	g  *Graph[S]
	cp Checkpointer
}

// Compile validates g and binds it to cp (a memory checkpointer when nil).
func (g *Graph[S]) Compile(cp Checkpointer) (*Runnable[S], error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if cp == nil {
		cp = NewMemoryCheckpointer()
	}
	return &Runnable[S]{g: g, cp: cp}, nil
}

// MustCompile is Compile for statically built graphs.
func (g *Graph[S]) MustCompile(cp Checkpointer) *Runnable[S] {
	r, err := g.Compile(cp)
	if err != nil {
		panic(err)
	}
	return r
}

// Invoke starts a fresh run for threadID, dropping any pending interrupt.
func (r *Runnable[S]) Invoke(ctx context.Context, threadID string, s S) (*Result[S], error) {
	ctx = withoutCursor(ctx)
	return r.finish(ctx, threadID, &s, r.g.run(ctx, &s))
}

// Resume continues the thread's pending interrupt with answer.
func (r *Runnable[S]) Resume(ctx context.Context, threadID, answer string) (*Result[S], error) {
	cp, err := r.cp.Get(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	if cp == nil || cp.Pending == nil {
		return nil, ErrNoPendingInterrupt
	}
	var s S
	if err := json.Unmarshal(cp.State, &s); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	ctx = withCursor(ctx, &resumeCursor{path: cp.Pending.Path, answer: answer})
	runErr := r.g.run(ctx, &s)
	return r.finish(withoutCursor(ctx), threadID, &s, runErr)
}

// Snapshot returns the thread's stored state, or nil when none exists.
func (r *Runnable[S]) Snapshot(ctx context.Context, threadID string) (*Snapshot[S], error) {
	cp, err := r.cp.Get(ctx, threadID)
	if err != nil || cp == nil {
		return nil, err
	}
	snap := &Snapshot[S]{Pending: cp.Pending}
	if len(cp.State) > 0 {
		if err := json.Unmarshal(cp.State, &snap.State); err != nil {
			return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
		}
	}
	return snap, nil
}

// Update applies fn to the thread's stored state, starting from the zero
// state for unknown threads. A pending interrupt is kept.
func (r *Runnable[S]) Update(ctx context.Context, threadID string, fn func(*S)) error {
	cp, err := r.cp.Get(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	var s S
	if cp != nil && len(cp.State) > 0 {
		if err := json.Unmarshal(cp.State, &s); err != nil {
			return fmt.Errorf("decode checkpoint %s: %w", threadID, err)
		}
	}
	if cp == nil {
		cp = &Checkpoint{ThreadID: threadID}
	}
	fn(&s)
	raw, err := json.Marshal(&s)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	cp.State = raw
	cp.UpdatedAt = time.Now()
	return r.cp.Put(ctx, cp)
}

// Clear forgets the thread.
func (r *Runnable[S]) Clear(ctx context.Context, threadID string) error {
	return r.cp.Delete(ctx, threadID)
}

func (r *Runnable[S]) finish(ctx context.Context, threadID string, s *S, runErr error) (*Result[S], error) {
	var intr *Interrupted
	if runErr != nil && !errors.As(runErr, &intr) {
		return nil, runErr
	}

	cp := &Checkpoint{ThreadID: threadID, UpdatedAt: time.Now()}
	res := &Result[S]{}
	if intr != nil {
		cp.State = intr.state
		cp.Pending = &PendingInterrupt{ID: intr.ID, Path: intr.Path, Prompt: intr.Prompt}
		if err := json.Unmarshal(intr.state, &res.State); err != nil {
			return nil, fmt.Errorf("decode interrupted state: %w", err)
		}
		res.Interrupt = cp.Pending
		res.Interrupts = []PendingInterrupt{*cp.Pending}
	} else {
		raw, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encode state: %w", err)
		}
		cp.State = raw
		res.State = *s
	}
	if err := r.cp.Put(ctx, cp); err != nil {
		return nil, fmt.Errorf("save checkpoint %s: %w", threadID, err)
	}
	return res, nil
}
