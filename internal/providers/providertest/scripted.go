// Package providertest offers a scripted chat provider for tests.
package providertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gaddyh/tami2-ai-sub000/internal/providers"
)

// Reply is one scripted answer: either JSON text or an error.
type Reply struct {
	Text string
	Err  error
}

// Scripted answers each call with the next reply queued for the request's
// schema name. Calls without a queued reply fail.
type Scripted struct {
	mu      sync.Mutex
	queues  map[string][]Reply
	Calls   []providers.Request
	Default map[string]string // fallback reply per schema name
}

func New() *Scripted {
	return &Scripted{queues: make(map[string][]Reply), Default: make(map[string]string)}
}

// On queues replies for schema name.
func (s *Scripted) On(schema string, replies ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range replies {
		s.queues[schema] = append(s.queues[schema], Reply{Text: r})
	}
	return s
}

// Fail queues an error for schema name.
func (s *Scripted) Fail(schema string, err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = errors.New("scripted failure")
	}
	s.queues[schema] = append(s.queues[schema], Reply{Err: err})
	return s
}

func (s *Scripted) Complete(_ context.Context, req providers.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, req)
	name := ""
	if req.Schema != nil {
		name = req.Schema.Name
	}
	q := s.queues[name]
	if len(q) == 0 {
		if d, ok := s.Default[name]; ok {
			return d, nil
		}
		return "", fmt.Errorf("no scripted reply for %q", name)
	}
	r := q[0]
	s.queues[name] = q[1:]
	return r.Text, r.Err
}

// CallsFor returns the recorded requests for schema name.
func (s *Scripted) CallsFor(schema string) []providers.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []providers.Request
	for _, c := range s.Calls {
		if c.Schema != nil && c.Schema.Name == schema {
			out = append(out, c)
		}
	}
	return out
}

func (s *Scripted) Name() string         { return "scripted" }
func (s *Scripted) DefaultModel() string { return "scripted" }
