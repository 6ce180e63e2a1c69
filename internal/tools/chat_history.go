package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/gaddyh/tami2-ai-sub000/internal/phone"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

const (
	defaultHistoryCount = 30
	maxHistoryCount     = 200
)

var mediaPlaceholders = map[string]string{
	"image":    "[תמונה]",
	"audio":    "[הודעה קולית]",
	"ptt":      "[הודעה קולית]",
	"video":    "[וידאו]",
	"document": "[מסמך]",
	"sticker":  "[סטיקר]",
	"location": "[מיקום]",
	"contacts": "[איש קשר]",
}

// ChatHistoryQuery is the search_chat_history argument record.
type ChatHistoryQuery struct {
	ChatID string `json:"chat_id" jsonschema:"required" jsonschema_description:"WhatsApp chat id (<digits>@c.us, <id>@g.us) or phone number; names are not accepted, resolve them first"`
	Count  int    `json:"count,omitempty" jsonschema:"default=30" jsonschema_description:"number of recent messages (1-200)"`
}

func (a *ChatHistoryQuery) Validate() *Result {
	if a.Count < 0 || a.Count > maxHistoryCount {
		return Failure(CodeBadInput, "count must be between 1 and %d", maxHistoryCount)
	}
	return nil
}

func newSearchChatHistoryTool(d Deps) Tool {
	return NewTool(ToolSearchChatHistory,
		"Read the latest messages of a WhatsApp chat as a numbered transcript.",
		func(ctx context.Context, a ChatHistoryQuery, sc *Scope) *Result {
			chatID, ok := chatIDFromInput(a.ChatID)
			if !ok {
				return Failure(CodeBadInput, "%q is not a chat id or phone number; look the name up with %s first", a.ChatID, ToolRecipientInfo)
			}
			count := a.Count
			if count == 0 {
				count = defaultHistoryCount
			}
			msgs, err := d.ChatLog.Recent(ctx, chatID, count)
			if err != nil {
				return storeFailure(err, "chat history")
			}
			return Success("").
				With("chat_id", chatID).
				With("count", len(msgs)).
				With("transcript", FormatTranscript(msgs, sc))
		})
}

func chatIDFromInput(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if phone.IsGroup(s) {
		return s, true
	}
	if !phone.IsChatID(s) && !phone.LooksLikeNumber(s) {
		return "", false
	}
	id, err := phone.ChatID(s)
	return id, err == nil
}

// FormatTranscript renders messages (oldest first) as numbered lines with a
// separator per local day. Replies to messages in the window show as
// "#i → #j".
func FormatTranscript(msgs []store.ChatMessage, sc *Scope) string {
	if len(msgs) == 0 {
		return "(אין הודעות)"
	}
	loc := sc.Loc()
	pos := make(map[string]int, len(msgs))
	for i, m := range msgs {
		if m.ID != "" {
			pos[m.ID] = i + 1
		}
	}
	var b strings.Builder
	lastDay := ""
	for i, m := range msgs {
		ts := m.Timestamp.In(loc)
		if day := ts.Format("2006-01-02"); day != lastDay {
			fmt.Fprintf(&b, "--- %s ---\n", day)
			lastDay = day
		}
		ref := fmt.Sprintf("#%d", i+1)
		if j, ok := pos[m.ReplyToID]; ok && m.ReplyToID != "" {
			ref = fmt.Sprintf("#%d → #%d", i+1, j)
		}
		sender := m.SenderName
		switch {
		case m.FromMe:
			sender = "אני"
		case sender == "":
			sender = phone.Digits(m.ChatID)
		}
		fmt.Fprintf(&b, "%s [%s] %s: %s\n", ref, ts.Format("15:04"), sender, messageBody(m))
		if m.LinkPreview != "" {
			fmt.Fprintf(&b, "    🔗 %s\n", m.LinkPreview)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func messageBody(m store.ChatMessage) string {
	text := strings.TrimSpace(m.Text)
	if m.MediaType == "" || m.MediaType == "text" || m.MediaType == "chat" {
		return text
	}
	ph, ok := mediaPlaceholders[m.MediaType]
	if !ok {
		ph = "[" + m.MediaType + "]"
	}
	if text == "" {
		return ph
	}
	return ph + " " + text
}
