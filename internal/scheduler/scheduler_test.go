package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaddyh/tami2-ai-sub000/internal/agent"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/config"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
	"github.com/gaddyh/tami2-ai-sub000/internal/store/memory"
)

type outbound struct {
	ChatID, Text string
	Template     []string
}

type fakeTransport struct {
	mu          sync.Mutex
	out         []outbound
	textErr     error
	templateErr error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) ParseIncoming([]byte) (*channels.Message, error) {
	return nil, errors.New("not used")
}

func (f *fakeTransport) SendMessage(_ context.Context, chatID, text, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return "", f.textErr
	}
	f.out = append(f.out, outbound{ChatID: chatID, Text: text})
	return "sent-1", nil
}

func (f *fakeTransport) SendTemplateMessage(_ context.Context, chatID string, params []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.templateErr != nil {
		return f.templateErr
	}
	f.out = append(f.out, outbound{ChatID: chatID, Template: params})
	return nil
}

type historyRecorder struct {
	threads, agents, texts []string
}

func (h *historyRecorder) Prompts() *agent.Prompts { return agent.DefaultPrompts() }

func (h *historyRecorder) AppendHistory(_ context.Context, threadID, agentName, text string) error {
	h.threads = append(h.threads, threadID)
	h.agents = append(h.agents, agentName)
	h.texts = append(h.texts, text)
	return nil
}

type env struct {
	s       *Scheduler
	tr      *fakeTransport
	stores  *store.Stores
	history *historyRecorder
	now     time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		tr:      &fakeTransport{},
		stores:  memory.NewStores(),
		history: &historyRecorder{},
		now:     time.Date(2026, 3, 1, 7, 1, 0, 0, time.UTC),
	}
	s, err := New(config.SchedulerConfig{Lookback: "10m", MaxRetries: 3}, e.tr, e.stores, e.history)
	require.NoError(t, err)
	s.now = func() time.Time { return e.now }
	e.s = s
	return e
}

func (e *env) user(t *testing.T, id, chat string, digest bool) {
	t.Helper()
	require.NoError(t, e.stores.Users.Save(context.Background(), &store.User{
		ID: id, ChatID: chat, Config: store.UserConfig{Name: id, Digest: digest},
	}))
}

func TestNew_Validation(t *testing.T) {
	stores := memory.NewStores()
	_, err := New(config.SchedulerConfig{}, nil, stores, nil)
	assert.Error(t, err)

	_, err = New(config.SchedulerConfig{DigestCron: "not a cron"}, &fakeTransport{}, stores, nil)
	assert.Error(t, err)

	_, err = New(config.SchedulerConfig{Timezone: "Mars/Olympus"}, &fakeTransport{}, stores, nil)
	assert.Error(t, err)

	s, err := New(config.SchedulerConfig{}, &fakeTransport{}, stores, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultDigestCron, s.cron)
	assert.Equal(t, defaultTick, s.tick)
	assert.Equal(t, defaultMaxRetries, s.maxRetries)
}

func TestNextDigest_WallClockAcrossDST(t *testing.T) {
	e := newEnv(t)
	loc := e.s.loc

	next, err := e.s.NextDigest(time.Date(2026, 3, 1, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 3, 2, 9, 0, 0, 0, loc).Equal(next), next)

	// Israel moves to summer time on 2026-03-27; the digest stays at 09:00 local.
	before, err := e.s.NextDigest(time.Date(2026, 3, 26, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, 9, before.In(loc).Hour())
	assert.Equal(t, 27, before.In(loc).Day())
	assert.Equal(t, 6, before.UTC().Hour())

	// Same-day, before 09:00.
	same, err := e.s.NextDigest(time.Date(2026, 3, 1, 8, 59, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, 1, same.In(loc).Day())
}

func TestRunDigest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(t, "u1", "972501111111@c.us", true)
	e.user(t, "u2", "972502222222@c.us", false)

	for i, title := range []string{"לקנות חלב", "להתקשר לאמא"} {
		_, err := e.stores.Tasks.Create(ctx, &store.Task{UserID: "u1", Title: title, Position: i + 1})
		require.NoError(t, err)
	}
	_, err := e.stores.Tasks.Create(ctx, &store.Task{UserID: "u1", Title: "done", Status: store.StatusCompleted, Position: 3})
	require.NoError(t, err)

	n, err := e.s.RunDigest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, e.tr.out, 1)
	p := agent.DefaultPrompts()
	assert.Equal(t, "972501111111@c.us", e.tr.out[0].ChatID)
	assert.Equal(t, p.DigestHeader+"\n1. לקנות חלב\n2. להתקשר לאמא", e.tr.out[0].Text)

	u, err := e.stores.Users.Load(ctx, "u1")
	require.NoError(t, err)
	listing := u.Listing("972501111111@c.us")
	require.NotNil(t, listing)
	require.Len(t, listing.Items, 2)
	assert.Equal(t, "להתקשר לאמא", listing.Items[1].Title)

	assert.Equal(t, []string{"972501111111@c.us"}, e.history.threads)
	assert.Equal(t, []string{agent.AgentTasks}, e.history.agents)
	assert.Equal(t, e.tr.out[0].Text, e.history.texts[0])
}

func TestRunDigest_Empty(t *testing.T) {
	e := newEnv(t)
	e.user(t, "u1", "972501111111@c.us", true)

	n, err := e.s.RunDigest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, agent.DefaultPrompts().DigestEmpty, e.tr.out[0].Text)
}

func TestRunDigest_SendFailureLeavesListing(t *testing.T) {
	e := newEnv(t)
	e.user(t, "u1", "972501111111@c.us", true)
	e.tr.textErr = errors.New("down")

	n, err := e.s.RunDigest(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
	u, _ := e.stores.Users.Load(context.Background(), "u1")
	assert.Nil(t, u.Listing("972501111111@c.us"))
	assert.Empty(t, e.history.texts)
}

func TestRunDue_OneShotScheduledMessage(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	m, err := e.stores.Scheduled.Save(ctx, &store.ScheduledMessage{
		UserID: "u1", Message: "תזכורת: להתקשר", RecipientChatID: "972501111111@c.us",
		ScheduledTime: e.now.Add(-time.Minute),
	})
	require.NoError(t, err)
	_, err = e.stores.Scheduled.Save(ctx, &store.ScheduledMessage{
		UserID: "u1", Message: "later", RecipientChatID: "972501111111@c.us",
		ScheduledTime: e.now.Add(time.Hour),
	})
	require.NoError(t, err)

	n, err := e.s.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, e.tr.out, 1)
	assert.Equal(t, "תזכורת: להתקשר", e.tr.out[0].Text)

	got, err := e.stores.Scheduled.Get(ctx, "u1", m.ItemID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, got.Status)
	require.NotNil(t, got.SentAt)

	// Completed items are not sent twice.
	n, err = e.s.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunDue_RecurringReminderAdvances(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.user(t, "u1", "972501111111@c.us", false)
	at := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC) // 09:00 Jerusalem
	r, err := e.stores.Reminders.CreateReminder(ctx, &store.Reminder{
		UserID: "u1", Title: "לשתות מים", ScheduledTime: at, Recurrence: "RRULE:FREQ=DAILY",
	})
	require.NoError(t, err)

	n, err := e.s.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, reminderPrefix+"לשתות מים", e.tr.out[0].Text)

	got, err := e.stores.Reminders.GetReminder(ctx, "u1", r.ItemID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.True(t, at.Add(24*time.Hour).Equal(got.ScheduledTime), got.ScheduledTime)
}

func TestRunDue_FailureCountsRetriesUpToCap(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.tr.textErr = errors.New("down")
	e.tr.templateErr = errors.New("no template")
	m, err := e.stores.Scheduled.Save(ctx, &store.ScheduledMessage{
		UserID: "u1", Message: "hi", RecipientChatID: "972501111111@c.us",
		ScheduledTime: e.now.Add(-time.Minute),
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _ = e.s.RunDue(ctx)
	}
	got, err := e.stores.Scheduled.Get(ctx, "u1", m.ItemID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.Contains(t, got.LastError, "down")
}

func TestRunDue_TemplateFallback(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.tr.textErr = errors.New("outside the 24h window")
	m, err := e.stores.Scheduled.Save(ctx, &store.ScheduledMessage{
		UserID: "u1", Message: "מזל טוב!", SenderName: "דנה", RecipientChatID: "972503333333@c.us",
		ScheduledTime: e.now.Add(-time.Minute),
	})
	require.NoError(t, err)

	n, err := e.s.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, e.tr.out, 1)
	assert.Equal(t, []string{"דנה", "מזל טוב!"}, e.tr.out[0].Template)

	got, _ := e.stores.Scheduled.Get(ctx, "u1", m.ItemID)
	assert.Equal(t, store.StatusCompleted, got.Status)
}

func TestRunDue_ReminderForUnknownUserFails(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	r, err := e.stores.Reminders.CreateReminder(ctx, &store.Reminder{
		UserID: "ghost", Title: "x", ScheduledTime: e.now.Add(-time.Minute),
	})
	require.NoError(t, err)

	n, err := e.s.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	got, _ := e.stores.Reminders.GetReminder(ctx, "ghost", r.ItemID)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Equal(t, 1, got.RetryCount)
}

func TestStartStop(t *testing.T) {
	e := newEnv(t)
	e.s.tick = 5 * time.Millisecond
	e.s.Start(context.Background())
	e.s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		e.s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
	e.s.Stop()
}
