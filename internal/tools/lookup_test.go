package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaddyh/tami2-ai-sub000/internal/matcher"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

func TestRecipientInfo_StripsEmail(t *testing.T) {
	h := newHarness(t, store.Contact{Name: "דנה כהן", Phone: "0501234567", Email: "dana@example.com"})

	res := h.run(t, ToolRecipientInfo, map[string]any{"name": "דנה כהן"})
	require.True(t, res.OK)
	var cands []matcher.Candidate
	require.True(t, res.Field("candidates", &cands))
	require.Len(t, cands, 1)
	assert.Empty(t, cands[0].Email)
	assert.Equal(t, "972501234567@c.us", cands[0].ChatID)

	res = h.run(t, ToolRecipientInfo, map[string]any{"name": "דנה כהן", "include_email_for_event_invite": true})
	require.True(t, res.Field("candidates", &cands))
	assert.Equal(t, "dana@example.com", cands[0].Email)

	res = h.run(t, ToolRecipientInfo, map[string]any{"name": "אף אחד"})
	require.True(t, res.OK)
	var count int
	require.True(t, res.Field("count", &count))
	assert.Zero(t, count)
}

func TestSearchChatHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	chat := "972501234567@c.us"
	day1 := time.Date(2026, 2, 28, 21, 30, 0, 0, time.UTC) // 23:30 local
	msgs := []store.ChatMessage{
		{ID: "m1", ChatID: chat, SenderName: "דנה", Text: "מגיעה מחר?", Timestamp: day1},
		{ID: "m2", ChatID: chat, FromMe: true, Text: "כן", ReplyToID: "m1", Timestamp: day1.Add(time.Hour)},
		{ID: "m3", ChatID: chat, SenderName: "דנה", MediaType: "image", Text: "הנה", Timestamp: day1.Add(2 * time.Hour)},
		{ID: "m4", ChatID: chat, SenderName: "דנה", Text: "https://example.com", LinkPreview: "Example Domain", Timestamp: day1.Add(3 * time.Hour)},
	}
	for _, m := range msgs {
		require.NoError(t, h.deps.ChatLog.Append(ctx, m))
	}

	res := h.run(t, ToolSearchChatHistory, map[string]any{"chat_id": "0501234567"})
	require.True(t, res.OK, res.Error)
	var transcript string
	require.True(t, res.Field("transcript", &transcript))

	want := strings.Join([]string{
		"--- 2026-02-28 ---",
		"#1 [23:30] דנה: מגיעה מחר?",
		"--- 2026-03-01 ---",
		"#2 → #1 [00:30] אני: כן",
		"#3 [01:30] דנה: [תמונה] הנה",
		"#4 [02:30] דנה: https://example.com",
		"    🔗 Example Domain",
	}, "\n")
	assert.Equal(t, want, transcript)

	res = h.run(t, ToolSearchChatHistory, map[string]any{"chat_id": "דנה"})
	assert.Equal(t, CodeBadInput, res.Code)

	res = h.run(t, ToolSearchChatHistory, map[string]any{"chat_id": "120363025246125486@g.us"})
	require.True(t, res.OK)
	require.True(t, res.Field("transcript", &transcript))
	assert.Equal(t, "(אין הודעות)", transcript)
}

type stubSearch struct {
	calls int
	hits  []SearchHit
	err   error
}

func (s *stubSearch) Name() string { return "stub" }

func (s *stubSearch) Search(context.Context, string, int) ([]SearchHit, error) {
	s.calls++
	return s.hits, s.err
}

func TestWebSearch_FallbackAndCache(t *testing.T) {
	broken := &stubSearch{err: errors.New("quota")}
	ok := &stubSearch{hits: []SearchHit{{Title: "מזג אוויר", URL: "https://ims.gov.il"}}}
	ws := NewWebSearchWith(5, time.Minute, broken, ok)

	r := NewRegistry()
	r.Register(newWebSearchTool(ws))
	for i := 0; i < 2; i++ {
		res := r.Execute(context.Background(), ToolWebSearch, []byte(`{"query":"מזג אוויר תל אביב"}`), nil)
		require.True(t, res.OK, res.Error)
		var provider string
		require.True(t, res.Field("provider", &provider))
		assert.Equal(t, "stub", provider)
	}
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, ok.calls)
}

func TestWebSearch_AllFail(t *testing.T) {
	ws := NewWebSearchWith(5, time.Minute, &stubSearch{err: errors.New("down")})
	r := NewRegistry()
	r.Register(newWebSearchTool(ws))
	res := r.Execute(context.Background(), ToolWebSearch, []byte(`{"query":"x"}`), nil)
	assert.Equal(t, CodeFetchFailed, res.Code)
	assert.Nil(t, NewWebSearchWith(5, time.Minute))
}

func TestDuckDuckGoProvider(t *testing.T) {
	page := `<div><a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.ynet.co.il%2Fnews&amp;rut=abc">ynet &amp; <b>חדשות</b></a>
<a class="result__snippet" href="x">כל <b>החדשות</b> מהארץ</a></div>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "חדשות", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	p := &duckDuckGoProvider{client: srv.Client(), endpoint: srv.URL}
	hits, err := p.Search(context.Background(), "חדשות", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "ynet & חדשות", hits[0].Title)
	assert.Equal(t, "https://www.ynet.co.il/news", hits[0].URL)
	assert.Equal(t, "כל החדשות מהארץ", hits[0].Snippet)
}

func TestBraveProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"web":{"results":[{"title":"T","url":"https://a","description":"<strong>d</strong>"}]}}`))
	}))
	defer srv.Close()

	p := &braveProvider{apiKey: "k", client: srv.Client(), endpoint: srv.URL}
	hits, err := p.Search(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, []SearchHit{{Title: "T", URL: "https://a", Snippet: "d"}}, hits)

	p.apiKey = "bad"
	_, err = p.Search(context.Background(), "q", 3)
	assert.Error(t, err)
}
