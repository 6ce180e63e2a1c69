// Package whatsapp implements the WhatsApp transports: the Cloud API
// (webhook in, Graph HTTP out) and a WebSocket bridge to a whatsapp-web
// style gateway.
package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/gaddyh/tami2-ai-sub000/internal/bus"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/config"
	"github.com/gaddyh/tami2-ai-sub000/internal/phone"
)

const (
	// keys injected into each job's raw message by DecodeWebhook
	rawProfileName   = "tami_profile_name"
	rawPhoneNumberID = "tami_phone_number_id"

	maxMediaBytes = 16 << 20
)

var errGroupUnsupported = errors.New("cloud api cannot send to groups")

// Cloud is the WhatsApp Business Cloud API transport.
type Cloud struct {
	cfg     config.WhatsAppConfig
	client  *http.Client
	limiter *channels.SendLimiter
}

// NewCloud validates cfg and returns the transport. A nil client uses a
// client with a 15s timeout.
func NewCloud(cfg config.WhatsAppConfig, limiter *channels.SendLimiter, client *http.Client) (*Cloud, error) {
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("whatsapp access token is required")
	}
	if cfg.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp phone_number_id is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v21.0"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Cloud{cfg: cfg, client: client, limiter: limiter}, nil
}

func (c *Cloud) Name() string { return "cloud" }

// DecodeWebhook returns one job per message in a Cloud API notification.
// Status callbacks carry no messages and yield no jobs.
func (c *Cloud) DecodeWebhook(body []byte) ([]bus.Job, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("webhook body is not valid json")
	}
	root := gjson.ParseBytes(body)
	if obj := root.Get("object").String(); obj != "" && obj != "whatsapp_business_account" {
		return nil, fmt.Errorf("unexpected webhook object %q", obj)
	}

	var jobs []bus.Job
	root.Get("entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			value := change.Get("value")
			pnid := value.Get("metadata.phone_number_id").String()
			names := make(map[string]string)
			value.Get("contacts").ForEach(func(_, ct gjson.Result) bool {
				names[ct.Get("wa_id").String()] = ct.Get("profile.name").String()
				return true
			})
			value.Get("messages").ForEach(func(_, msg gjson.Result) bool {
				id := msg.Get("id").String()
				if id == "" {
					return true
				}
				from := msg.Get("from").String()
				raw := []byte(msg.Raw)
				if name := names[from]; name != "" {
					raw, _ = sjson.SetBytes(raw, rawProfileName, name)
				}
				if pnid != "" {
					raw, _ = sjson.SetBytes(raw, rawPhoneNumberID, pnid)
				}
				jobs = append(jobs, bus.Job{
					MessageID:     id,
					PhoneNumberID: pnid,
					Raw:           raw,
					Timestamp:     unixTime(msg.Get("timestamp")),
					From:          from,
				})
				return true
			})
			return true
		})
		return true
	})
	return jobs, nil
}

// ParseIncoming decodes one Cloud API message object.
func (c *Cloud) ParseIncoming(raw []byte) (*channels.Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("message payload is not valid json")
	}
	msg := gjson.ParseBytes(raw)
	id := msg.Get("id").String()
	from := msg.Get("from").String()
	if id == "" || from == "" {
		return nil, fmt.Errorf("message payload lacks id or sender")
	}

	out := &channels.Message{
		ID:             id,
		ChatID:         personChatID(from),
		SenderID:       from,
		SenderName:     msg.Get(rawProfileName).String(),
		Direction:      channels.DirectionIncoming,
		Kind:           msg.Get("type").String(),
		ReplyTo:        msg.Get("context.id").String(),
		IdempotencyKey: id,
		Timestamp:      unixTime(msg.Get("timestamp")),
	}

	switch out.Kind {
	case channels.KindText:
		out.Text = msg.Get("text.body").String()
	case channels.KindAudio, channels.KindImage, channels.KindVideo, channels.KindDocument, channels.KindSticker:
		m := msg.Get(out.Kind)
		out.Media = &channels.Media{
			ID:       m.Get("id").String(),
			MimeType: m.Get("mime_type").String(),
			Caption:  m.Get("caption").String(),
			Filename: m.Get("filename").String(),
			Voice:    m.Get("voice").Bool(),
		}
	case channels.KindLocation:
		out.Location = &channels.Location{
			Latitude:  msg.Get("location.latitude").Float(),
			Longitude: msg.Get("location.longitude").Float(),
			Name:      msg.Get("location.name").String(),
			Address:   msg.Get("location.address").String(),
		}
	case channels.KindContacts:
		msg.Get("contacts").ForEach(func(_, ct gjson.Result) bool {
			sc := channels.SharedContact{Name: ct.Get("name.formatted_name").String()}
			ct.Get("phones").ForEach(func(_, p gjson.Result) bool {
				if n := p.Get("wa_id").String(); n != "" {
					sc.Phones = append(sc.Phones, n)
				} else if n := p.Get("phone").String(); n != "" {
					sc.Phones = append(sc.Phones, n)
				}
				return true
			})
			ct.Get("emails").ForEach(func(_, e gjson.Result) bool {
				if v := e.Get("email").String(); v != "" {
					sc.Emails = append(sc.Emails, v)
				}
				return true
			})
			out.Contacts = append(out.Contacts, sc)
			return true
		})
	case channels.KindButton:
		out.Reply = &channels.Reply{
			ID:    msg.Get("button.payload").String(),
			Title: msg.Get("button.text").String(),
		}
	case channels.KindInteractive:
		r := msg.Get("interactive.button_reply")
		if !r.Exists() {
			r = msg.Get("interactive.list_reply")
		}
		out.Reply = &channels.Reply{ID: r.Get("id").String(), Title: r.Get("title").String()}
	default:
		out.Kind = channels.KindUnsupported
	}
	return out, nil
}

// SendMessage posts a text message. Hebrew text is sent as is.
func (c *Cloud) SendMessage(ctx context.Context, chatID, text, replyTo string) (string, error) {
	to, err := recipient(chatID)
	if err != nil {
		return "", err
	}
	body := []byte(`{"messaging_product":"whatsapp","recipient_type":"individual","type":"text"}`)
	body, _ = sjson.SetBytes(body, "to", to)
	body, _ = sjson.SetBytes(body, "text.body", text)
	body, _ = sjson.SetBytes(body, "text.preview_url", false)
	if replyTo != "" {
		body, _ = sjson.SetBytes(body, "context.message_id", replyTo)
	}
	return c.postMessage(ctx, body)
}

// SendTemplateMessage sends the configured template with body parameters.
func (c *Cloud) SendTemplateMessage(ctx context.Context, chatID string, params []string) error {
	if c.cfg.TemplateName == "" {
		return fmt.Errorf("whatsapp template_name is not configured")
	}
	to, err := recipient(chatID)
	if err != nil {
		return err
	}
	body := []byte(`{"messaging_product":"whatsapp","type":"template"}`)
	body, _ = sjson.SetBytes(body, "to", to)
	body, _ = sjson.SetBytes(body, "template.name", c.cfg.TemplateName)
	body, _ = sjson.SetBytes(body, "template.language.code", c.cfg.TemplateLang)
	if len(params) > 0 {
		values := make([]map[string]string, len(params))
		for i, p := range params {
			values[i] = map[string]string{"type": "text", "text": p}
		}
		body, _ = sjson.SetBytes(body, "template.components", []map[string]any{{"type": "body", "parameters": values}})
	}
	_, err = c.postMessage(ctx, body)
	return err
}

// SendButtons sends an interactive reply-button message (max 3 buttons).
func (c *Cloud) SendButtons(ctx context.Context, chatID, text string, buttons []channels.Reply) error {
	to, err := recipient(chatID)
	if err != nil {
		return err
	}
	body := []byte(`{"messaging_product":"whatsapp","type":"interactive","interactive":{"type":"button"}}`)
	body, _ = sjson.SetBytes(body, "to", to)
	body, _ = sjson.SetBytes(body, "interactive.body.text", text)
	if len(buttons) > 3 {
		buttons = buttons[:3]
	}
	action := make([]map[string]any, len(buttons))
	for i, b := range buttons {
		action[i] = map[string]any{"type": "reply", "reply": map[string]string{"id": b.ID, "title": b.Title}}
	}
	body, _ = sjson.SetBytes(body, "interactive.action.buttons", action)
	_, err = c.postMessage(ctx, body)
	return err
}

// FetchMedia resolves a media id to its download URL and downloads it.
func (c *Cloud) FetchMedia(ctx context.Context, m *channels.Media) ([]byte, error) {
	if m == nil || (m.ID == "" && m.URL == "") {
		return nil, fmt.Errorf("media reference is empty")
	}
	url := m.URL
	if url == "" {
		meta, err := c.do(ctx, http.MethodGet, c.endpoint(m.ID), nil)
		if err != nil {
			return nil, fmt.Errorf("resolve media %s: %w", m.ID, err)
		}
		url = gjson.GetBytes(meta, "url").String()
		if url == "" {
			return nil, fmt.Errorf("media %s has no url", m.ID)
		}
	}
	data, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return data, nil
}

func (c *Cloud) endpoint(path string) string {
	return strings.TrimRight(c.cfg.APIBase, "/") + "/" + c.cfg.APIVersion + "/" + path
}

func (c *Cloud) postMessage(ctx context.Context, body []byte) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.do(ctx, http.MethodPost, c.endpoint(c.cfg.PhoneNumberID+"/messages"), body)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(resp, "messages.0.id").String()
	slog.Debug("whatsapp message sent", "to", gjson.GetBytes(body, "to").String(), "id", id)
	return id, nil
}

func (c *Cloud) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := gjson.GetBytes(data, "error.message").String()
		if msg == "" {
			msg = channels.Truncate(string(data), 200)
		}
		return nil, fmt.Errorf("graph api %d: %s", resp.StatusCode, msg)
	}
	return data, nil
}

func recipient(chatID string) (string, error) {
	if phone.IsGroup(chatID) {
		return "", errGroupUnsupported
	}
	return phone.Digits(chatID), nil
}

func personChatID(from string) string {
	if id, err := phone.ChatID(from); err == nil {
		return id
	}
	return from + phone.PersonSuffix
}

func unixTime(r gjson.Result) time.Time {
	if sec := r.Int(); sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return time.Now().UTC()
}
