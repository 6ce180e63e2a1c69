package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/gaddyh/tami2-ai-sub000/internal/bus"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/phone"
)

// Bridge connects to a WhatsApp bridge over WebSocket. The bridge (e.g.
// whatsapp-web.js based) owns the WhatsApp session; frames are JSON:
//
//	{"type":"message","id":"..","from":"..","chat":"..","from_name":"..","content":"..",
//	 "from_me":false,"reply_to":"..","timestamp":1700000000,
//	 "media":{"type":"audio","url":"..","mime_type":"..","caption":".."}}
type Bridge struct {
	url     string
	sink    bus.JobSink
	limiter *channels.SendLimiter

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewBridge returns a bridge transport that feeds inbound frames to sink.
func NewBridge(url string, sink bus.JobSink, limiter *channels.SendLimiter) (*Bridge, error) {
	if url == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &Bridge{url: url, sink: sink, limiter: limiter}, nil
}

func (b *Bridge) Name() string { return "bridge" }

// Start connects and listens until ctx ends or Stop is called. A failed
// first dial is retried by the listen loop.
func (b *Bridge) Start(ctx context.Context) error {
	slog.Info("starting whatsapp bridge", "url", b.url)
	ctx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = cancel
	b.done = make(chan struct{})
	b.mu.Unlock()

	if err := b.connect(); err != nil {
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}
	go b.listenLoop(ctx)
	return nil
}

// Stop closes the connection and waits for the listen loop.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	if cancel != nil {
		cancel()
	}
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.connected = false
	b.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Connected reports whether the bridge socket is up.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bridge) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(b.url, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", b.url, err)
	}
	b.mu.Lock()
	b.conn = conn
	b.connected = true
	b.mu.Unlock()
	slog.Info("whatsapp bridge connected", "url", b.url)
	return nil
}

// listenLoop reads frames, reconnecting with exponential backoff.
func (b *Bridge) listenLoop(ctx context.Context) {
	defer func() {
		b.mu.Lock()
		if b.conn != nil {
			_ = b.conn.Close()
			b.conn = nil
		}
		b.connected = false
		b.mu.Unlock()
		close(b.done)
	}()
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()

		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := b.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err, "backoff", backoff)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("whatsapp bridge read error, will reconnect", "error", err)
			b.mu.Lock()
			if b.conn == conn {
				_ = b.conn.Close()
				b.conn = nil
				b.connected = false
			}
			b.mu.Unlock()
			continue
		}
		b.handleFrame(ctx, frame)
	}
}

func (b *Bridge) handleFrame(ctx context.Context, frame []byte) {
	if !gjson.ValidBytes(frame) {
		slog.Warn("invalid whatsapp bridge frame")
		return
	}
	f := gjson.ParseBytes(frame)
	if f.Get("type").String() != "message" {
		return
	}
	job := bus.Job{
		MessageID: f.Get("id").String(),
		Raw:       append([]byte(nil), frame...),
		Timestamp: unixTime(f.Get("timestamp")),
		From:      f.Get("from").String(),
	}
	if job.MessageID == "" || job.From == "" {
		return
	}
	if b.sink == nil {
		return
	}
	if err := b.sink.Enqueue(ctx, job); err != nil {
		slog.Warn("whatsapp bridge job dropped", "message_id", job.MessageID, "error", err)
	}
}

// ParseIncoming decodes one bridge message frame.
func (b *Bridge) ParseIncoming(raw []byte) (*channels.Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("bridge frame is not valid json")
	}
	f := gjson.ParseBytes(raw)
	id, from := f.Get("id").String(), f.Get("from").String()
	if id == "" || from == "" {
		return nil, fmt.Errorf("bridge frame lacks id or sender")
	}
	chat := f.Get("chat").String()
	if chat == "" {
		chat = from
	}
	if !phone.IsChatID(chat) {
		chat = personChatID(chat)
	}

	m := &channels.Message{
		ID:             id,
		ChatID:         chat,
		SenderID:       from,
		SenderName:     f.Get("from_name").String(),
		FromMe:         f.Get("from_me").Bool(),
		Direction:      channels.DirectionIncoming,
		Kind:           channels.KindText,
		Text:           f.Get("content").String(),
		ReplyTo:        f.Get("reply_to").String(),
		IdempotencyKey: id,
		Timestamp:      unixTime(f.Get("timestamp")),
	}
	if m.FromMe {
		m.Direction = channels.DirectionSelf
	}
	if media := f.Get("media"); media.Exists() {
		m.Kind = media.Get("type").String()
		if m.Kind == "" {
			m.Kind = channels.KindDocument
		}
		m.Media = &channels.Media{
			URL:      media.Get("url").String(),
			MimeType: media.Get("mime_type").String(),
			Caption:  media.Get("caption").String(),
			Voice:    media.Get("ptt").Bool(),
		}
	}
	if vc := f.Get("vcards"); vc.Exists() {
		m.Kind = channels.KindContacts
		vc.ForEach(func(_, c gjson.Result) bool {
			m.Contacts = append(m.Contacts, channels.SharedContact{
				Name:   c.Get("name").String(),
				Phones: stringList(c.Get("phones")),
			})
			return true
		})
	}
	return m, nil
}

// SendMessage writes a message frame. Group chat ids are supported.
func (b *Bridge) SendMessage(ctx context.Context, chatID, text, replyTo string) (string, error) {
	frame := []byte(`{"type":"message"}`)
	frame, _ = sjson.SetBytes(frame, "to", chatID)
	frame, _ = sjson.SetBytes(frame, "content", text)
	if replyTo != "" {
		frame, _ = sjson.SetBytes(frame, "reply_to", replyTo)
	}
	return "", b.write(ctx, frame)
}

// SendTemplateMessage has no template support on the bridge; the
// parameters are sent as plain lines.
func (b *Bridge) SendTemplateMessage(ctx context.Context, chatID string, params []string) error {
	_, err := b.SendMessage(ctx, chatID, strings.Join(params, "\n"), "")
	return err
}

// FetchMedia downloads media by the URL the bridge reported.
func (b *Bridge) FetchMedia(ctx context.Context, m *channels.Media) ([]byte, error) {
	if m == nil || m.URL == "" {
		return nil, fmt.Errorf("bridge media has no url")
	}
	return fetchURL(ctx, m.URL)
}

func (b *Bridge) write(ctx context.Context, frame []byte) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return fmt.Errorf("whatsapp bridge not connected")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = b.conn.SetWriteDeadline(deadline)
		defer b.conn.SetWriteDeadline(time.Time{})
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send whatsapp bridge frame: %w", err)
	}
	return nil
}

func stringList(r gjson.Result) []string {
	var out []string
	r.ForEach(func(_, v gjson.Result) bool {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

var mediaClient = &http.Client{Timeout: 30 * time.Second}

func fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := mediaClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
}
