package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gaddyh/tami2-ai-sub000/internal/agent"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/phone"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

const (
	textVoiceFailed = "לא הצלחתי להבין את ההודעה הקולית. אפשר לכתוב לי?"
	textUnsupported = "כרגע אני יודעת לקרוא רק הודעות טקסט, הודעות קוליות ואנשי קשר."
)

// handleUserInput turns msg into turn text (transcribing voice notes,
// merging shared contacts and quoting the replied-to message) and runs the
// agent. Contact shares update user in place.
func (w *Worker) handleUserInput(ctx context.Context, msg *channels.Message, user *store.User) (string, error) {
	text := msg.Body()

	if msg.IsAudio() {
		heard, err := w.transcribe(ctx, msg.Media)
		if err != nil {
			slog.Warn("transcription failed", "message_id", msg.ID, "error", err)
			return textVoiceFailed, nil
		}
		text = heard
	}
	if len(msg.Contacts) > 0 {
		text = joinLines(text, mergeContacts(user, msg.Contacts))
	}
	if msg.Location != nil {
		text = joinLines(text, describeLocation(msg.Location))
	}
	if strings.TrimSpace(text) == "" {
		return textUnsupported, nil
	}
	if quoted := w.quotedText(msg.ReplyTo); quoted != "" {
		text = fmt.Sprintf("[בתגובה ל: \"%s\"]\n%s", quoted, text)
	}

	name := user.Config.Name
	if name == "" {
		name = msg.SenderName
	}
	env := agent.Envelope{
		UserID:         user.ID,
		UserName:       name,
		ThreadID:       msg.ChatID,
		Timezone:       user.Config.Timezone,
		Locale:         user.Config.Locale,
		Now:            w.now(),
		IdempotencyKey: msg.IdempotencyKey,
		Category:       agent.CategoryUserRequest,
		ReplyRef:       msg.ReplyTo,
	}
	return w.agent.ProcessInput(ctx, env, text, user)
}

func (w *Worker) transcribe(ctx context.Context, m *channels.Media) (string, error) {
	if w.stt == nil {
		return "", fmt.Errorf("speech-to-text is disabled")
	}
	fetcher, ok := w.transport.(channels.MediaFetcher)
	if !ok {
		return "", fmt.Errorf("transport %s cannot download media", w.transport.Name())
	}
	audio, err := fetcher.FetchMedia(ctx, m)
	if err != nil {
		return "", err
	}
	filename := m.Filename
	if filename == "" {
		filename = "voice" + audioExt(m.MimeType)
	}
	text, err := w.stt.Transcribe(ctx, filename, audio)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// quotedText returns the body of an indexed message, if still known.
func (w *Worker) quotedText(id string) string {
	if id == "" || w.index == nil {
		return ""
	}
	entry, ok := w.index.Get(id)
	if !ok {
		return ""
	}
	quoted, err := w.transport.ParseIncoming(entry.Payload)
	if err != nil {
		return ""
	}
	return channels.Truncate(quoted.Body(), 200)
}

// mergeContacts stores shared vCards on the user's runtime contacts and
// describes them for the turn text.
func mergeContacts(user *store.User, shared []channels.SharedContact) string {
	var lines []string
	for _, sc := range shared {
		if sc.Name == "" {
			continue
		}
		c := store.Contact{Name: sc.Name}
		for _, p := range sc.Phones {
			if digits, err := phone.Normalize(p); err == nil {
				c.Phone = digits
				c.ChatID = digits + phone.PersonSuffix
				break
			}
		}
		if len(sc.Emails) > 0 {
			c.Email = sc.Emails[0]
		}
		user.AddContact(c)

		line := "שיתפתי איש קשר: " + c.Name
		if c.Phone != "" {
			line += " " + c.Phone
		}
		if c.Email != "" {
			line += " " + c.Email
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func describeLocation(l *channels.Location) string {
	parts := []string{"מיקום:"}
	if l.Name != "" {
		parts = append(parts, l.Name)
	}
	if l.Address != "" {
		parts = append(parts, l.Address)
	}
	parts = append(parts, fmt.Sprintf("(%.5f, %.5f)", l.Latitude, l.Longitude))
	return strings.Join(parts, " ")
}

func joinLines(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n" + b
}

func audioExt(mime string) string {
	switch {
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "mpeg"):
		return ".mp3"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"):
		return ".m4a"
	case strings.Contains(mime, "wav"):
		return ".wav"
	}
	return ".ogg"
}
