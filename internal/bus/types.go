package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Job is one inbound WhatsApp message accepted by the webhook and waiting
// for the worker. Raw is the transport's per-message payload.
type Job struct {
	MessageID     string          `json:"message_id"`
	PhoneNumberID string          `json:"phone_number_id,omitempty"`
	Raw           json.RawMessage `json:"raw"`
	Timestamp     time.Time       `json:"timestamp"`
	From          string          `json:"from"`
}

// OutboundMessage is a text reply addressed to a chat.
type OutboundMessage struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	ReplyTo string `json:"reply_to,omitempty"` // quoted message id
}

// JobHandler processes one job. Errors are logged by the queue and the job
// is dropped.
type JobHandler func(ctx context.Context, job Job) error

// JobSink accepts jobs for later processing.
type JobSink interface {
	Enqueue(ctx context.Context, job Job) error
}
