package matcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

type staticContacts map[string]map[string]store.Contact

func (s staticContacts) Contacts(_ context.Context, userID string) (map[string]store.Contact, error) {
	return s[userID], nil
}

func newMatcher(contacts ...store.Contact) *Matcher {
	m := make(map[string]store.Contact)
	for _, c := range contacts {
		m[c.Name] = c
	}
	return New(staticContacts{"u1": m})
}

func TestFindCandidates_ExactWins(t *testing.T) {
	m := newMatcher(
		store.Contact{Name: "גל ליס", Phone: "0501111111"},
		store.Contact{Name: "גל ליסון", Phone: "0502222222"},
	)
	res := m.FindCandidates(context.Background(), "u1", "  גל ליס ", 0)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, 1.0, res.Candidates[0].Score)
	assert.Equal(t, "972501111111@c.us", res.Candidates[0].ChatID)
	assert.Equal(t, TypePerson, res.Candidates[0].Type)
}

func TestFindCandidates_CaseFold(t *testing.T) {
	m := newMatcher(store.Contact{Name: "Dana", Phone: "0501111111"})
	res := m.FindCandidates(context.Background(), "u1", "DANA", 0)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, 1.0, res.Candidates[0].Score)
}

func TestFindCandidates_SubstringSuppressesFuzzy(t *testing.T) {
	m := newMatcher(
		store.Contact{Name: "גל ליס", Phone: "0501111111"},
		store.Contact{Name: "גל כהן", Phone: "0502222222"},
		store.Contact{Name: "אביגל", Phone: "0503333333"},
		store.Contact{Name: "גיל", Phone: "0504444444"}, // fuzzy-only
	)
	res := m.FindCandidates(context.Background(), "u1", "גל", 0)
	require.Equal(t, 3, res.Count)
	names := []string{res.Candidates[0].DisplayName, res.Candidates[1].DisplayName, res.Candidates[2].DisplayName}
	assert.ElementsMatch(t, []string{"גל ליס", "גל כהן"}, names[:2])
	assert.Equal(t, "אביגל", names[2])
	assert.Equal(t, 0.95, res.Candidates[0].Score)
	assert.Equal(t, 0.9, res.Candidates[2].Score)
	for _, c := range res.Candidates {
		assert.NotEqual(t, "גיל", c.DisplayName)
	}
}

func TestFindCandidates_SubstringPrefersShorterAndChatID(t *testing.T) {
	m := newMatcher(
		store.Contact{Name: "dan brown-smith", Phone: "0501111111"},
		store.Contact{Name: "dan b", Email: "danb@example.com"},
		store.Contact{Name: "dan c", Phone: "0502222222"},
	)
	res := m.FindCandidates(context.Background(), "u1", "dan", 0)
	require.Equal(t, 3, res.Count)
	assert.Equal(t, "dan c", res.Candidates[0].DisplayName)
	assert.Equal(t, "dan brown-smith", res.Candidates[1].DisplayName)
	assert.Equal(t, "dan b", res.Candidates[2].DisplayName)
}

func TestFindCandidates_FuzzyTokenSort(t *testing.T) {
	m := newMatcher(
		store.Contact{Name: "Yosi Cohen", Phone: "0501111111"},
		store.Contact{Name: "Yosef Cohn", Email: "no-phone@example.com"},
		store.Contact{Name: "Family", GroupID: "120363@g.us"},
	)
	res := m.FindCandidates(context.Background(), "u1", "cohen yosi", 0)
	require.GreaterOrEqual(t, res.Count, 1)
	assert.Equal(t, "Yosi Cohen", res.Candidates[0].DisplayName)
	assert.InDelta(t, 1.0, res.Candidates[0].Score, 1e-9)
	for _, c := range res.Candidates {
		assert.NotEqual(t, "Yosef Cohn", c.DisplayName, "entries without chat id or phone are dropped")
	}
}

func TestFindCandidates_Group(t *testing.T) {
	m := newMatcher(store.Contact{Name: "משפחה", GroupID: "120363025246125486@g.us"})
	res := m.FindCandidates(context.Background(), "u1", "משפחה", 0)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, TypeGroup, res.Candidates[0].Type)
	assert.Equal(t, "120363025246125486@g.us", res.Candidates[0].ChatID)
}

func TestFindCandidates_Limit(t *testing.T) {
	var cs []store.Contact
	for _, n := range []string{"aa", "ab", "ac", "ad"} {
		cs = append(cs, store.Contact{Name: n, Phone: "0501111111"})
	}
	res := newMatcher(cs...).FindCandidates(context.Background(), "u1", "a", 2)
	assert.Equal(t, 2, res.Count)
}

func TestFindCandidates_UnknownUser(t *testing.T) {
	res := newMatcher().FindCandidates(context.Background(), "nobody", "dan", 0)
	assert.Equal(t, 0, res.Count)
	assert.NotNil(t, res.Candidates)
}

func TestTokenSortSimilarity(t *testing.T) {
	assert.Equal(t, 0.0, TokenSortSimilarity("", ""))
	assert.InDelta(t, 1.0, TokenSortSimilarity("b a", "a b"), 1e-9)
	// one substitution over four runes
	assert.InDelta(t, 0.75, TokenSortSimilarity("abcd", "abce"), 1e-9)
	// runes, not bytes
	assert.InDelta(t, 0.75, TokenSortSimilarity("דנהל", "דנהב"), 1e-9)
	assert.Equal(t, 0.0, TokenSortSimilarity("ab", "cd"))
}
