package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/agent"
	"github.com/gaddyh/tami2-ai-sub000/internal/bus"
	"github.com/gaddyh/tami2-ai-sub000/internal/cache"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/providers"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// Processor runs one agent turn and returns the reply.
type Processor interface {
	ProcessInput(ctx context.Context, env agent.Envelope, text string, user *store.User) (string, error)
}

// WorkerDeps are the collaborators of the queue worker. Transcriber and
// Index are optional.
type WorkerDeps struct {
	Transport   channels.Transport
	Agent       Processor
	Stores      *store.Stores
	Index       *cache.MessageIndex
	Transcriber providers.Transcriber
	AckText     string
}

// Worker handles queued jobs one at a time.
type Worker struct {
	transport channels.Transport
	agent     Processor
	users     store.UserStore
	waitlist  store.WaitlistStore
	chatlog   store.ChatLogStore
	index     *cache.MessageIndex
	stt       providers.Transcriber
	ackText   string
	now       func() time.Time
}

func NewWorker(d WorkerDeps) (*Worker, error) {
	if d.Transport == nil || d.Agent == nil || d.Stores == nil || d.Stores.Users == nil {
		return nil, fmt.Errorf("worker needs a transport, an agent and a user store")
	}
	return &Worker{
		transport: d.Transport,
		agent:     d.Agent,
		users:     d.Stores.Users,
		waitlist:  d.Stores.Waitlist,
		chatlog:   d.Stores.ChatLog,
		index:     d.Index,
		stt:       d.Transcriber,
		ackText:   d.AckText,
		now:       time.Now,
	}, nil
}

// Run drains q until ctx ends or q is closed.
func (w *Worker) Run(ctx context.Context, q *bus.Queue) error {
	slog.Info("queue worker started", "transport", w.transport.Name())
	err := q.Run(ctx, w.Handle)
	slog.Info("queue worker stopped")
	return err
}

// Handle processes one job end to end. The returned error is logged by the
// queue and the job is not retried.
func (w *Worker) Handle(ctx context.Context, job bus.Job) error {
	msg, err := w.transport.ParseIncoming(job.Raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", job.MessageID, err)
	}
	w.logChat(ctx, msg)
	if !msg.Inbound() {
		return nil
	}
	slog.Info("message received",
		"message_id", msg.ID,
		"chat", msg.ChatID,
		"kind", msg.Kind,
		"preview", channels.Truncate(msg.Body(), 50),
	)

	user, err := w.users.FindByChatID(ctx, msg.ChatID)
	if errors.Is(err, store.ErrNotFound) {
		return w.handleUnknown(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("load user for %s: %w", msg.ChatID, err)
	}

	if w.ackText != "" {
		if _, err := w.transport.SendMessage(ctx, msg.ChatID, w.ackText, msg.ID); err != nil {
			slog.Warn("ack failed", "chat", msg.ChatID, "error", err)
		}
	}

	reply, turnErr := w.handleUserInput(ctx, msg, user)
	if turnErr != nil {
		slog.Error("turn error", "chat", msg.ChatID, "message_id", msg.ID, "error", turnErr)
	}

	var saveErr error
	if err := w.users.Save(ctx, user); err != nil {
		saveErr = fmt.Errorf("save user %s: %w", user.ID, err)
	}
	if err := w.reply(ctx, msg.ChatID, reply); err != nil {
		return errors.Join(saveErr, err)
	}
	return saveErr
}

// reply sends text and logs it on the chat log. Empty replies are skipped.
func (w *Worker) reply(ctx context.Context, chatID, text string) error {
	if text == "" {
		return nil
	}
	id, err := w.transport.SendMessage(ctx, chatID, text, "")
	if err != nil {
		return fmt.Errorf("send reply to %s: %w", chatID, err)
	}
	w.appendChat(ctx, store.ChatMessage{
		ID:        id,
		ChatID:    chatID,
		FromMe:    true,
		Text:      text,
		Timestamp: w.now().UTC(),
	})
	return nil
}

func (w *Worker) logChat(ctx context.Context, msg *channels.Message) {
	cm := store.ChatMessage{
		ID:         msg.ID,
		ChatID:     msg.ChatID,
		SenderName: msg.SenderName,
		FromMe:     msg.FromMe,
		Text:       msg.Body(),
		ReplyToID:  msg.ReplyTo,
		Timestamp:  msg.Timestamp,
	}
	if msg.Media != nil {
		cm.MediaType = msg.Kind
	}
	w.appendChat(ctx, cm)
}

func (w *Worker) appendChat(ctx context.Context, cm store.ChatMessage) {
	if w.chatlog == nil {
		return
	}
	if err := w.chatlog.Append(ctx, cm); err != nil {
		slog.Warn("chat log append failed", "chat", cm.ChatID, "error", err)
	}
}
