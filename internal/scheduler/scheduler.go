// Package scheduler runs the wall-clock loops: the daily open-tasks digest
// and the dispatcher for due scheduled messages and reminders.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/gaddyh/tami2-ai-sub000/internal/agent"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/config"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

const (
	defaultDigestCron = "0 9 * * *"
	defaultTimezone   = "Asia/Jerusalem"
	defaultTick       = 30 * time.Second
	defaultLookback   = 10 * time.Minute
	defaultMaxRetries = 3

	stopGrace = 2 * time.Second
)

// Agent is the part of the agent app the digest needs.
type Agent interface {
	Prompts() *agent.Prompts
	AppendHistory(ctx context.Context, threadID, agentName, text string) error
}

// Scheduler owns the digest and due-dispatch loops.
type Scheduler struct {
	transport channels.Transport
	stores    *store.Stores
	agent     Agent

	cron       string
	loc        *time.Location
	tick       time.Duration
	lookback   time.Duration
	maxRetries int
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and applies defaults. agent may be nil, in which case
// digests use the embedded prompts and are not recorded in history.
func New(cfg config.SchedulerConfig, transport channels.Transport, stores *store.Stores, ag Agent) (*Scheduler, error) {
	if transport == nil || stores == nil || stores.Users == nil {
		return nil, errors.New("scheduler needs a transport and a user store")
	}
	expr := cfg.DigestCron
	if expr == "" {
		expr = defaultDigestCron
	}
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid digest cron %q", expr)
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone %q: %w", tz, err)
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &Scheduler{
		transport:  transport,
		stores:     stores,
		agent:      ag,
		cron:       expr,
		loc:        loc,
		tick:       config.ParseDuration(cfg.Tick, defaultTick),
		lookback:   config.ParseDuration(cfg.Lookback, defaultLookback),
		maxRetries: retries,
		now:        time.Now,
	}, nil
}

// Start launches both loops. They run until ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.digestLoop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.dueLoop(ctx)
	}()
	slog.Info("scheduler started", "digest_cron", s.cron, "timezone", s.loc.String(), "tick", s.tick)
}

// Stop cancels the loops and waits up to two seconds for in-flight work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("scheduler stopped")
	case <-time.After(stopGrace):
		slog.Warn("scheduler stop grace exceeded")
	}
}

// NextDigest returns the first digest time strictly after t. It is
// recomputed from the wall clock on every iteration so DST changes and
// missed days never accumulate.
func (s *Scheduler) NextDigest(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.cron, t.In(s.loc), false)
}

func (s *Scheduler) digestLoop(ctx context.Context) {
	for {
		next, err := s.NextDigest(s.now())
		if err != nil {
			slog.Error("digest schedule failed", "cron", s.cron, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		sent, err := s.RunDigest(ctx)
		if err != nil {
			slog.Error("digest run failed", "error", err)
		}
		slog.Info("digest sent", "users", sent, "at", next)
	}
}

func (s *Scheduler) dueLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunDue(ctx); err != nil {
				slog.Error("due dispatch failed", "error", err)
			}
		}
	}
}
