package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaddyh/tami2-ai-sub000/internal/agent"
	"github.com/gaddyh/tami2-ai-sub000/internal/bus"
	"github.com/gaddyh/tami2-ai-sub000/internal/cache"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/config"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
	"github.com/gaddyh/tami2-ai-sub000/internal/store/memory"
)

// idsDecoder reads {"ids":[...]} and emits one job per id.
type idsDecoder struct{}

func (idsDecoder) DecodeWebhook(body []byte) ([]bus.Job, error) {
	var in struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, err
	}
	jobs := make([]bus.Job, 0, len(in.IDs))
	for _, id := range in.IDs {
		raw, _ := json.Marshal(channels.Message{ID: id, ChatID: "972501234567@c.us", Kind: channels.KindText, Text: "hi"})
		jobs = append(jobs, bus.Job{MessageID: id, Raw: raw, From: "972501234567"})
	}
	return jobs, nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type serverEnv struct {
	srv    *Server
	queue  *bus.Queue
	intake *Intake
}

func newServerEnv(t *testing.T, secret string, queueSize int) *serverEnv {
	t.Helper()
	cfg := config.Default()
	cfg.WhatsApp.VerifyToken = "verify-me"
	cfg.WhatsApp.AppSecret = secret
	q := bus.NewQueue(queueSize)
	in := NewIntake(cache.NewDedupeCache(time.Hour), cache.NewMessageIndex(time.Hour), q)
	in.timeout = 10 * time.Millisecond
	return &serverEnv{srv: NewServer(cfg, in, idsDecoder{}, q), queue: q, intake: in}
}

func (e *serverEnv) post(body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.True(t, VerifySignature("s3cret", body, sign("s3cret", body)))
	assert.False(t, VerifySignature("other", body, sign("s3cret", body)))
	assert.False(t, VerifySignature("s3cret", body, "sha1=abc"))
	assert.False(t, VerifySignature("s3cret", body, "sha256=zz"))
}

func TestServer_VerifyHandshake(t *testing.T) {
	env := newServerEnv(t, "", 4)

	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	rec = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_WebhookSignature(t *testing.T) {
	env := newServerEnv(t, "s3cret", 4)
	body := `{"ids":["wamid.1"]}`

	assert.Equal(t, http.StatusForbidden, env.post(body, "").Code)
	assert.Equal(t, http.StatusForbidden, env.post(body, sign("nope", []byte(body))).Code)

	rec := env.post(body, sign("s3cret", []byte(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, 1, env.queue.Stats().Depth)
}

func TestServer_WebhookDuplicate(t *testing.T) {
	env := newServerEnv(t, "", 4)
	body := `{"ids":["wamid.1"]}`

	assert.Equal(t, "ok", env.post(body, "").Body.String())
	rec := env.post(body, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", rec.Body.String())
	assert.Equal(t, 1, env.queue.Stats().Depth)
}

func TestServer_WebhookMalformedIsAcknowledged(t *testing.T) {
	env := newServerEnv(t, "", 4)
	rec := env.post(`not json`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, env.queue.Stats().Depth)
}

func TestServer_WebhookQueueFullReleasesReservation(t *testing.T) {
	env := newServerEnv(t, "", 1)

	rec := env.post(`{"ids":["wamid.1","wamid.2"]}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// wamid.2 was released, so the redelivery is accepted once there is room.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = env.queue.Run(ctx, func(context.Context, bus.Job) error { return nil })
	}()
	require.Eventually(t, func() bool { return env.queue.Stats().Depth == 0 }, time.Second, 5*time.Millisecond)

	rec = env.post(`{"ids":["wamid.1","wamid.2"]}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	cancel()
	<-done
}

func TestServer_WebhookWithoutDecoder(t *testing.T) {
	cfg := config.Default()
	srv := NewServer(cfg, nil, nil, nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Health(t *testing.T) {
	env := newServerEnv(t, "", 8)
	env.post(`{"ids":["a","b"]}`, "")

	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Queue.Depth)
	assert.Equal(t, 8, resp.Queue.Capacity)
}

func TestIntake_AcceptIndexesAndDedupes(t *testing.T) {
	q := bus.NewQueue(4)
	idx := cache.NewMessageIndex(time.Hour)
	in := NewIntake(cache.NewDedupeCache(time.Hour), idx, q)
	ctx := context.Background()

	ok, err := in.Accept(ctx, bus.Job{MessageID: "m1", Raw: json.RawMessage(`{"id":"m1"}`)})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, idx.Seen("m1"))

	ok, err = in.Accept(ctx, bus.Job{MessageID: "m1"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = in.Accept(ctx, bus.Job{})
	assert.Error(t, err)

	require.NoError(t, in.Enqueue(ctx, bus.Job{MessageID: "m1"}))
	assert.Equal(t, 1, q.Stats().Depth)
}

func TestIntake_IndexOutlivesDedupeWindow(t *testing.T) {
	q := bus.NewQueue(4)
	idx := cache.NewMessageIndex(48 * time.Hour)
	in := NewIntake(cache.NewDedupeCache(time.Millisecond), idx, q)
	ctx := context.Background()

	ok, err := in.Accept(ctx, bus.Job{MessageID: "wamid.1", Raw: json.RawMessage(`{"id":"wamid.1"}`)})
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)
	ok, err = in.Accept(ctx, bus.Job{MessageID: "wamid.1"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Stats().Depth)
}

func TestServer_LateRedeliveryIsDuplicate(t *testing.T) {
	cfg := config.Default()
	q := bus.NewQueue(4)
	in := NewIntake(cache.NewDedupeCache(time.Millisecond), cache.NewMessageIndex(48*time.Hour), q)
	env := &serverEnv{srv: NewServer(cfg, in, idsDecoder{}, q), queue: q, intake: in}

	body := `{"ids":["late-1"]}`
	rec := env.post(body, "")
	require.Equal(t, http.StatusOK, rec.Code)

	time.Sleep(5 * time.Millisecond)
	rec = env.post(body, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", rec.Body.String())
	assert.Equal(t, 1, q.Stats().Depth)
}

// --- worker ---

type sent struct {
	ChatID, Text, ReplyTo string
}

// fakeTransport decodes jobs as JSON-encoded channels.Message values.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []sent
	buttons []string
	media   []byte
	sendErr error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) ParseIncoming(raw []byte) (*channels.Message, error) {
	var m channels.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (f *fakeTransport) SendMessage(_ context.Context, chatID, text, replyTo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sent{chatID, text, replyTo})
	return "out-" + chatID, nil
}

func (f *fakeTransport) SendTemplateMessage(context.Context, string, []string) error { return nil }

func (f *fakeTransport) SendButtons(_ context.Context, chatID, text string, buttons []channels.Reply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{ChatID: chatID, Text: text})
	for _, b := range buttons {
		f.buttons = append(f.buttons, b.ID)
	}
	return nil
}

func (f *fakeTransport) FetchMedia(context.Context, *channels.Media) ([]byte, error) {
	if f.media == nil {
		return nil, errors.New("no media")
	}
	return f.media, nil
}

func (f *fakeTransport) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.Text
	}
	return out
}

type recordingAgent struct {
	envs  []agent.Envelope
	texts []string
	reply string
	err   error
}

func (r *recordingAgent) ProcessInput(_ context.Context, env agent.Envelope, text string, _ *store.User) (string, error) {
	r.envs = append(r.envs, env)
	r.texts = append(r.texts, text)
	return r.reply, r.err
}

type fakeSTT struct{ text string }

func (f fakeSTT) Transcribe(context.Context, string, []byte) (string, error) { return f.text, nil }

const userChat = "972501234567@c.us"

type workerEnv struct {
	w         *Worker
	transport *fakeTransport
	agent     *recordingAgent
	stores    *store.Stores
	index     *cache.MessageIndex
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()
	stores := memory.NewStores()
	require.NoError(t, stores.Users.Save(context.Background(), &store.User{
		ID:     "u1",
		ChatID: userChat,
		Config: store.UserConfig{Name: "דנה", Timezone: "Asia/Jerusalem"},
	}))
	tr := &fakeTransport{}
	ag := &recordingAgent{reply: "סגור!"}
	idx := cache.NewMessageIndex(time.Hour)
	w, err := NewWorker(WorkerDeps{
		Transport: tr,
		Agent:     ag,
		Stores:    stores,
		Index:     idx,
		AckText:   "רגע, אני על זה…",
	})
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return &workerEnv{w: w, transport: tr, agent: ag, stores: stores, index: idx}
}

func job(t *testing.T, m channels.Message) bus.Job {
	t.Helper()
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	return bus.Job{MessageID: m.ID, Raw: raw}
}

func TestNewWorker_RequiresDeps(t *testing.T) {
	_, err := NewWorker(WorkerDeps{})
	assert.Error(t, err)
}

func TestWorker_AckThenReply(t *testing.T) {
	env := newWorkerEnv(t)
	msg := channels.Message{ID: "wamid.1", ChatID: userChat, SenderName: "Dana", Kind: channels.KindText, Text: "תזכירי לי לקנות חלב", IdempotencyKey: "wamid.1"}

	require.NoError(t, env.w.Handle(context.Background(), job(t, msg)))

	require.Len(t, env.transport.sent, 2)
	assert.Equal(t, sent{userChat, "רגע, אני על זה…", "wamid.1"}, env.transport.sent[0])
	assert.Equal(t, "סגור!", env.transport.sent[1].Text)

	require.Len(t, env.agent.envs, 1)
	got := env.agent.envs[0]
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "דנה", got.UserName)
	assert.Equal(t, userChat, got.ThreadID)
	assert.Equal(t, "Asia/Jerusalem", got.Timezone)
	assert.Equal(t, "wamid.1", got.IdempotencyKey)
	assert.Equal(t, agent.CategoryUserRequest, got.Category)
	assert.Equal(t, "תזכירי לי לקנות חלב", env.agent.texts[0])

	log, err := env.stores.ChatLog.Recent(context.Background(), userChat, 10)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.False(t, log[0].FromMe)
	assert.True(t, log[1].FromMe)
}

func TestWorker_TurnErrorStillReplies(t *testing.T) {
	env := newWorkerEnv(t)
	env.agent.reply = "סליחה, משהו השתבש."
	env.agent.err = errors.New("llm down")

	msg := channels.Message{ID: "wamid.2", ChatID: userChat, Kind: channels.KindText, Text: "היי"}
	require.NoError(t, env.w.Handle(context.Background(), job(t, msg)))
	assert.Contains(t, env.transport.texts(), "סליחה, משהו השתבש.")
}

func TestWorker_SkipsOwnMessages(t *testing.T) {
	env := newWorkerEnv(t)
	msg := channels.Message{ID: "wamid.3", ChatID: userChat, FromMe: true, Direction: channels.DirectionSelf, Text: "note to self"}

	require.NoError(t, env.w.Handle(context.Background(), job(t, msg)))
	assert.Empty(t, env.transport.sent)
	assert.Empty(t, env.agent.envs)

	log, _ := env.stores.ChatLog.Recent(context.Background(), userChat, 10)
	assert.Len(t, log, 1)
}

func TestWorker_ContactShareMergesRuntimeContacts(t *testing.T) {
	env := newWorkerEnv(t)
	msg := channels.Message{
		ID: "wamid.4", ChatID: userChat, Kind: channels.KindContacts,
		Contacts: []channels.SharedContact{{Name: "גל", Phones: []string{"050-765-4321"}}},
	}

	require.NoError(t, env.w.Handle(context.Background(), job(t, msg)))

	u, err := env.stores.Users.Load(context.Background(), "u1")
	require.NoError(t, err)
	c, ok := u.Runtime.Contacts["גל"]
	require.True(t, ok)
	assert.Equal(t, "972507654321", c.Phone)
	assert.Equal(t, "972507654321@c.us", c.ChatID)
	assert.Contains(t, env.agent.texts[0], "גל 972507654321")
}

func TestWorker_ReplyHydratesQuotedMessage(t *testing.T) {
	env := newWorkerEnv(t)
	quoted := channels.Message{ID: "wamid.old", ChatID: userChat, Kind: channels.KindText, Text: "פגישה עם רון ביום שלישי"}
	raw, _ := json.Marshal(quoted)
	env.index.Put("wamid.old", raw)

	msg := channels.Message{ID: "wamid.5", ChatID: userChat, Kind: channels.KindText, Text: "תזיזי לרביעי", ReplyTo: "wamid.old"}
	require.NoError(t, env.w.Handle(context.Background(), job(t, msg)))

	require.Len(t, env.agent.texts, 1)
	assert.Contains(t, env.agent.texts[0], "פגישה עם רון ביום שלישי")
	assert.True(t, strings.HasSuffix(env.agent.texts[0], "תזיזי לרביעי"))
	assert.Equal(t, "wamid.old", env.agent.envs[0].ReplyRef)
}

func TestWorker_VoiceNote(t *testing.T) {
	env := newWorkerEnv(t)
	audio := channels.Message{ID: "wamid.6", ChatID: userChat, Kind: channels.KindAudio,
		Media: &channels.Media{ID: "media-1", MimeType: "audio/ogg; codecs=opus", Voice: true}}

	// no transcriber configured
	require.NoError(t, env.w.Handle(context.Background(), job(t, audio)))
	assert.Contains(t, env.transport.texts(), textVoiceFailed)
	assert.Empty(t, env.agent.envs)

	env.w.stt = fakeSTT{text: " לקבוע תור לרופא "}
	env.transport.media = []byte("OggS")
	audio.ID = "wamid.7"
	require.NoError(t, env.w.Handle(context.Background(), job(t, audio)))
	require.Len(t, env.agent.texts, 1)
	assert.Equal(t, "לקבוע תור לרופא", env.agent.texts[0])
}

func TestWorker_UnsupportedMessage(t *testing.T) {
	env := newWorkerEnv(t)
	msg := channels.Message{ID: "wamid.8", ChatID: userChat, Kind: channels.KindSticker, Media: &channels.Media{ID: "s"}}
	require.NoError(t, env.w.Handle(context.Background(), job(t, msg)))
	assert.Contains(t, env.transport.texts(), textUnsupported)
	assert.Empty(t, env.agent.envs)
}

func TestWorker_SendFailureIsReported(t *testing.T) {
	env := newWorkerEnv(t)
	env.transport.sendErr = errors.New("provider down")
	msg := channels.Message{ID: "wamid.9", ChatID: userChat, Kind: channels.KindText, Text: "היי"}
	assert.Error(t, env.w.Handle(context.Background(), job(t, msg)))
}

func TestWorker_WaitlistFlow(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()
	stranger := "972529999999@c.us"

	first := channels.Message{ID: "w1", ChatID: stranger, SenderName: "Noa", Kind: channels.KindText, Text: "היי"}
	require.NoError(t, env.w.Handle(ctx, job(t, first)))
	assert.Equal(t, []string{waitlistYes, waitlistNo}, env.transport.buttons)
	assert.Equal(t, []string{textWaitlistPrompt}, env.transport.texts())
	e, err := env.stores.Waitlist.Get(ctx, stranger)
	require.NoError(t, err)
	assert.Equal(t, store.WaitlistPrompted, e.Status)
	assert.Equal(t, "Noa", e.Name)

	no := channels.Message{ID: "w2", ChatID: stranger, Kind: channels.KindInteractive, Reply: &channels.Reply{ID: waitlistNo, Title: "לא עכשיו"}}
	require.NoError(t, env.w.Handle(ctx, job(t, no)))
	e, _ = env.stores.Waitlist.Get(ctx, stranger)
	assert.Equal(t, store.WaitlistDeclined, e.Status)

	yes := channels.Message{ID: "w3", ChatID: stranger, Kind: channels.KindText, Text: "כן!"}
	require.NoError(t, env.w.Handle(ctx, job(t, yes)))
	e, _ = env.stores.Waitlist.Get(ctx, stranger)
	assert.Equal(t, store.WaitlistJoined, e.Status)

	again := channels.Message{ID: "w4", ChatID: stranger, Kind: channels.KindText, Text: "נו?"}
	require.NoError(t, env.w.Handle(ctx, job(t, again)))
	texts := env.transport.texts()
	assert.Equal(t, textWaitlistAlready, texts[len(texts)-1])

	assert.Empty(t, env.agent.envs)
}

func TestWorker_RunDrainsQueue(t *testing.T) {
	env := newWorkerEnv(t)
	q := bus.NewQueue(4)
	for _, id := range []string{"r1", "r2"} {
		require.NoError(t, q.Enqueue(context.Background(), job(t, channels.Message{ID: id, ChatID: userChat, Kind: channels.KindText, Text: id})))
	}
	q.Close()
	require.NoError(t, env.w.Run(context.Background(), q))
	assert.Equal(t, []string{"r1", "r2"}, env.agent.texts)
}
