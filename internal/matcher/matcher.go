// Package matcher resolves free-text person and group names to WhatsApp
// chat identifiers using the user's contacts.
package matcher

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gaddyh/tami2-ai-sub000/internal/phone"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// DefaultLimit caps the number of returned candidates.
const DefaultLimit = 8

// Candidate types.
const (
	TypePerson  = "person"
	TypeGroup   = "group"
	TypeUnknown = "unknown"
)

const (
	scoreExact    = 1.0
	scoreStarts   = 0.95
	scoreContains = 0.9
)

// Candidate is a scored potential match for a name reference.
type Candidate struct {
	DisplayName string  `json:"display_name"`
	Score       float64 `json:"score"`
	Type        string  `json:"type"`
	ChatID      string  `json:"chat_id,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Email       string  `json:"email,omitempty"`
}

// Result is the outcome of a FindCandidates call.
type Result struct {
	Name       string      `json:"name"`
	Candidates []Candidate `json:"candidates"`
	Count      int         `json:"count"`
	TS         time.Time   `json:"ts"`
}

// ContactSource supplies a user's contacts keyed by display name.
type ContactSource interface {
	Contacts(ctx context.Context, userID string) (map[string]store.Contact, error)
}

// Matcher merges its sources in order; later sources do not override names
// already provided by earlier ones.
type Matcher struct {
	sources []ContactSource
	now     func() time.Time
}

// New creates a Matcher over the given contact sources.
func New(sources ...ContactSource) *Matcher {
	return &Matcher{sources: sources, now: time.Now}
}

type scored struct {
	Candidate
	starts    bool
	excessLen int
}

func (s scored) hasChatID() bool { return s.ChatID != "" }

// FindCandidates returns candidates for name. Unknown users and empty
// contact maps yield an empty list, not an error.
func (m *Matcher) FindCandidates(ctx context.Context, userID, name string, limit int) Result {
	if limit <= 0 {
		limit = DefaultLimit
	}
	res := Result{Name: name, Candidates: []Candidate{}, TS: m.now()}

	q := Normalize(name)
	if q == "" {
		return res
	}
	contacts := m.collect(ctx, userID)
	if len(contacts) == 0 {
		return res
	}

	// exact
	for _, c := range contacts {
		if Normalize(c.Name) == q {
			cand := toCandidate(c, scoreExact)
			res.Candidates = []Candidate{cand}
			res.Count = 1
			return res
		}
	}

	// substring
	var hits []scored
	for _, c := range contacts {
		n := Normalize(c.Name)
		if !strings.Contains(n, q) {
			continue
		}
		starts := strings.HasPrefix(n, q)
		score := scoreContains
		if starts {
			score = scoreStarts
		}
		hits = append(hits, scored{
			Candidate: toCandidate(c, score),
			starts:    starts,
			excessLen: utf8.RuneCountInString(n) - utf8.RuneCountInString(q),
		})
	}
	if len(hits) > 0 {
		sort.SliceStable(hits, func(i, j int) bool {
			a, b := hits[i], hits[j]
			if a.starts != b.starts {
				return a.starts
			}
			if a.hasChatID() != b.hasChatID() {
				return a.hasChatID()
			}
			if a.excessLen != b.excessLen {
				return a.excessLen < b.excessLen
			}
			if (a.Type == TypeGroup) != (b.Type == TypeGroup) {
				return a.Type == TypeGroup
			}
			return a.DisplayName < b.DisplayName
		})
		return finish(res, hits, limit)
	}

	// fuzzy
	for _, c := range contacts {
		cand := toCandidate(c, TokenSortSimilarity(q, Normalize(c.Name)))
		if cand.Score <= 0 || (cand.ChatID == "" && cand.Phone == "") {
			continue
		}
		hits = append(hits, scored{Candidate: cand})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.hasChatID() != b.hasChatID() {
			return a.hasChatID()
		}
		if (a.Type != TypeGroup) != (b.Type != TypeGroup) {
			return a.Type != TypeGroup
		}
		return a.DisplayName < b.DisplayName
	})
	return finish(res, hits, limit)
}

func finish(res Result, hits []scored, limit int) Result {
	if len(hits) > limit {
		hits = hits[:limit]
	}
	for _, h := range hits {
		res.Candidates = append(res.Candidates, h.Candidate)
	}
	res.Count = len(res.Candidates)
	return res
}

// collect merges all sources into a name-sorted slice so iteration order is
// deterministic.
func (m *Matcher) collect(ctx context.Context, userID string) []store.Contact {
	seen := make(map[string]bool)
	var out []store.Contact
	for _, src := range m.sources {
		contacts, err := src.Contacts(ctx, userID)
		if err != nil {
			slog.Debug("matcher: contact source failed", "user", userID, "error", err)
			continue
		}
		for name, c := range contacts {
			if c.Name == "" {
				c.Name = name
			}
			key := Normalize(c.Name)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func toCandidate(c store.Contact, score float64) Candidate {
	cand := Candidate{
		DisplayName: c.Name,
		Score:       score,
		Type:        TypeUnknown,
		Phone:       c.Phone,
		Email:       c.Email,
	}
	switch {
	case phone.IsGroup(c.GroupID):
		cand.Type = TypeGroup
		cand.ChatID = c.GroupID
	case phone.IsGroup(c.ChatID):
		cand.Type = TypeGroup
		cand.ChatID = c.ChatID
	case c.Phone != "":
		cand.Type = TypePerson
		if id, err := phone.ChatID(c.Phone); err == nil {
			cand.ChatID = id
		} else if d := nonDigits(c.Phone); d != "" {
			cand.ChatID = d + phone.PersonSuffix
		}
	case c.ChatID != "":
		cand.Type = TypePerson
		cand.ChatID = c.ChatID
	case c.Email != "":
		cand.Type = TypePerson
	}
	return cand
}

func nonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
