package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Prompt is what an interrupted run surfaces to the caller.
type Prompt struct {
	Question string   `json:"question"`
	Kind     string   `json:"kind,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// Interrupted pauses a run. Path lists node names from the outermost graph
// down to the node that raised it.
type Interrupted struct {
	ID     string
	Prompt Prompt
	Path   []string
	state  []byte
}

func (e *Interrupted) Error() string {
	return fmt.Sprintf("interrupted at %v: %s", e.Path, e.Prompt.Question)
}

type cursorKey struct{}

type resumeCursor struct {
	path   []string
	answer string
}

func withCursor(ctx context.Context, c *resumeCursor) context.Context {
	return context.WithValue(ctx, cursorKey{}, c)
}

func withoutCursor(ctx context.Context) context.Context {
	if cursorFrom(ctx) == nil {
		return ctx
	}
	return context.WithValue(ctx, cursorKey{}, (*resumeCursor)(nil))
}

func cursorFrom(ctx context.Context) *resumeCursor {
	c, _ := ctx.Value(cursorKey{}).(*resumeCursor)
	return c
}

// ResumeValue returns the answer when the current node is being resumed
// after it interrupted.
func ResumeValue(ctx context.Context) (string, bool) {
	c := cursorFrom(ctx)
	if c == nil || len(c.path) > 0 {
		return "", false
	}
	return c.answer, true
}

// Interrupt returns the resume answer when the node is being resumed, and
// otherwise an *Interrupted error the node must return unchanged.
func Interrupt(ctx context.Context, p Prompt) (string, error) {
	if answer, ok := ResumeValue(ctx); ok {
		return answer, nil
	}
	return "", Suspend(p)
}

// Suspend always pauses the run with p.
func Suspend(p Prompt) error {
	return &Interrupted{ID: uuid.NewString(), Prompt: p}
}
