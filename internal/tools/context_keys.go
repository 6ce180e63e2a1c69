package tools

import (
	"context"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// Scope is what a tool knows about the turn it runs in. User is the live
// record; tools update its runtime in place and the caller persists it.
type Scope struct {
	UserID     string
	ThreadID   string
	User       *store.User
	Now        time.Time
	Location   *time.Location
	SenderName string
}

// Loc returns the user's location, Asia/Jerusalem when unset.
func (s *Scope) Loc() *time.Location {
	if s != nil && s.Location != nil {
		return s.Location
	}
	return DefaultLocation()
}

// Clock returns the turn's reference time.
func (s *Scope) Clock() time.Time {
	if s == nil || s.Now.IsZero() {
		return time.Now()
	}
	return s.Now
}

type toolContextKey string

const ctxScope toolContextKey = "tool_scope"

// WithScope attaches the turn scope to ctx.
func WithScope(ctx context.Context, sc *Scope) context.Context {
	return context.WithValue(ctx, ctxScope, sc)
}

// ScopeFromCtx returns the scope attached by WithScope, or nil.
func ScopeFromCtx(ctx context.Context) *Scope {
	v, _ := ctx.Value(ctxScope).(*Scope)
	return v
}

var jerusalem = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Jerusalem")
	if err != nil {
		return time.FixedZone("IST", 2*60*60)
	}
	return loc
}()

// DefaultLocation is the zone naive timestamps are read in.
func DefaultLocation() *time.Location { return jerusalem }
