// Package channels defines the WhatsApp transport port: the normalized
// inbound message, the send operations the worker and scheduler need and
// the shared rate limiting used by the concrete transports.
package channels

import (
	"context"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/gaddyh/tami2-ai-sub000/internal/bus"
)

// Message content kinds.
const (
	KindText        = "text"
	KindAudio       = "audio"
	KindImage       = "image"
	KindVideo       = "video"
	KindDocument    = "document"
	KindSticker     = "sticker"
	KindLocation    = "location"
	KindContacts    = "contacts"
	KindButton      = "button"
	KindInteractive = "interactive"
	KindUnsupported = "unsupported"
)

// Message directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
	DirectionSelf     = "self"
	DirectionEcho     = "echo"
)

// Media references an attachment held by the provider.
type Media struct {
	ID       string `json:"id,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
}

// Location is a shared pin.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// SharedContact is one vCard from a contact-share message.
type SharedContact struct {
	Name   string   `json:"name"`
	Phones []string `json:"phones,omitempty"`
	Emails []string `json:"emails,omitempty"`
}

// Reply is the payload of a tapped button or list row.
type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Message is a normalized inbound message. It is built once by the
// transport and never mutated.
type Message struct {
	ID             string          `json:"id"`
	ChatID         string          `json:"chat_id"`
	SenderID       string          `json:"sender_id"`
	SenderName     string          `json:"sender_name,omitempty"`
	FromMe         bool            `json:"from_me,omitempty"`
	Direction      string          `json:"direction"`
	Kind           string          `json:"kind"`
	Text           string          `json:"text,omitempty"`
	Media          *Media          `json:"media,omitempty"`
	Location       *Location       `json:"location,omitempty"`
	Contacts       []SharedContact `json:"contacts,omitempty"`
	Reply          *Reply          `json:"reply,omitempty"`
	ReplyTo        string          `json:"reply_to,omitempty"` // quoted message id
	IdempotencyKey string          `json:"idempotency_key"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Body is the message's user-visible text: the text, the media caption or
// the tapped reply's title.
func (m *Message) Body() string {
	switch {
	case m.Text != "":
		return m.Text
	case m.Media != nil && m.Media.Caption != "":
		return m.Media.Caption
	case m.Reply != nil:
		return m.Reply.Title
	}
	return ""
}

// IsAudio reports whether the message carries a voice note or audio file.
func (m *Message) IsAudio() bool {
	return m.Kind == KindAudio && m.Media != nil
}

// Inbound reports whether the message was written by someone else.
func (m *Message) Inbound() bool {
	return !m.FromMe && (m.Direction == "" || m.Direction == DirectionIncoming)
}

// Transport is the WhatsApp adapter. Chat ids are "<digits>@c.us" for
// people and "<id>@g.us" for groups.
type Transport interface {
	Name() string
	// ParseIncoming turns one job payload into a Message.
	ParseIncoming(raw []byte) (*Message, error)
	// SendMessage sends text, quoting replyTo when set, and returns the
	// provider's message id.
	SendMessage(ctx context.Context, chatID, text, replyTo string) (string, error)
	// SendTemplateMessage sends the configured approved template with
	// positional body parameters.
	SendTemplateMessage(ctx context.Context, chatID string, params []string) error
}

// WebhookDecoder splits a provider webhook body into one job per message.
type WebhookDecoder interface {
	DecodeWebhook(body []byte) ([]bus.Job, error)
}

// MediaFetcher downloads attachments referenced by Media.ID or Media.URL.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, m *Media) ([]byte, error)
}

// ButtonSender sends a message with quick-reply buttons.
type ButtonSender interface {
	SendButtons(ctx context.Context, chatID, text string, buttons []Reply) error
}

// SendButtons uses t's buttons when supported and falls back to a numbered
// text message.
func SendButtons(ctx context.Context, t Transport, chatID, text string, buttons []Reply) error {
	if bs, ok := t.(ButtonSender); ok {
		return bs.SendButtons(ctx, chatID, text, buttons)
	}
	var b strings.Builder
	b.WriteString(text)
	for _, btn := range buttons {
		b.WriteString("\n• ")
		b.WriteString(btn.Title)
	}
	_, err := t.SendMessage(ctx, chatID, b.String(), "")
	return err
}

// Truncate shortens s to maxWidth display cells for log previews.
func Truncate(s string, maxWidth int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return runewidth.Truncate(s, maxWidth, "...")
}
