package whatsapp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/config"
)

const sampleWebhook = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "PNID"},
        "contacts": [{"profile": {"name": "גיא"}, "wa_id": "972500000001"}],
        "messages": [
          {"from": "972500000001", "id": "wamid.1", "timestamp": "1772352000", "type": "text",
           "text": {"body": "קבעי פגישה מחר ב-10 עם גל"}},
          {"from": "972500000001", "id": "wamid.2", "timestamp": "1772352001", "type": "audio",
           "audio": {"id": "MEDIA1", "mime_type": "audio/ogg; codecs=opus", "voice": true},
           "context": {"id": "wamid.0"}}
        ]
      }
    }]
  }]
}`

func newTestCloud(t *testing.T, h http.HandlerFunc) *Cloud {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewCloud(config.WhatsAppConfig{
		AccessToken:   "token",
		PhoneNumberID: "PNID",
		APIBase:       srv.URL,
		APIVersion:    "v21.0",
		TemplateName:  "tami_digest",
		TemplateLang:  "he",
	}, nil, srv.Client())
	require.NoError(t, err)
	return c
}

func TestNewCloud_RequiresCredentials(t *testing.T) {
	_, err := NewCloud(config.WhatsAppConfig{PhoneNumberID: "x"}, nil, nil)
	assert.Error(t, err)
	_, err = NewCloud(config.WhatsAppConfig{AccessToken: "x"}, nil, nil)
	assert.Error(t, err)
}

func TestDecodeWebhook(t *testing.T) {
	c := newTestCloud(t, nil)
	jobs, err := c.DecodeWebhook([]byte(sampleWebhook))
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "wamid.1", jobs[0].MessageID)
	assert.Equal(t, "PNID", jobs[0].PhoneNumberID)
	assert.Equal(t, "972500000001", jobs[0].From)
	assert.Equal(t, int64(1772352000), jobs[0].Timestamp.Unix())
	assert.Equal(t, "גיא", gjson.GetBytes(jobs[0].Raw, rawProfileName).String())

	statusOnly := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.1","status":"read"}]}}]}]}`
	jobs, err = c.DecodeWebhook([]byte(statusOnly))
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = c.DecodeWebhook([]byte("{not json"))
	assert.Error(t, err)
	_, err = c.DecodeWebhook([]byte(`{"object":"page"}`))
	assert.Error(t, err)
}

func TestParseIncoming_Kinds(t *testing.T) {
	c := newTestCloud(t, nil)
	jobs, err := c.DecodeWebhook([]byte(sampleWebhook))
	require.NoError(t, err)

	text, err := c.ParseIncoming(jobs[0].Raw)
	require.NoError(t, err)
	assert.Equal(t, channels.KindText, text.Kind)
	assert.Equal(t, "972500000001@c.us", text.ChatID)
	assert.Equal(t, "גיא", text.SenderName)
	assert.Equal(t, "קבעי פגישה מחר ב-10 עם גל", text.Body())
	assert.Equal(t, "wamid.1", text.IdempotencyKey)
	assert.True(t, text.Inbound())

	audio, err := c.ParseIncoming(jobs[1].Raw)
	require.NoError(t, err)
	assert.True(t, audio.IsAudio())
	assert.Equal(t, "MEDIA1", audio.Media.ID)
	assert.True(t, audio.Media.Voice)
	assert.Equal(t, "wamid.0", audio.ReplyTo)

	contacts, err := c.ParseIncoming([]byte(`{"from":"972500000001","id":"wamid.3","type":"contacts",
		"contacts":[{"name":{"formatted_name":"דנה לוי"},"phones":[{"phone":"+972 52-444-4444","wa_id":"972524444444"}],"emails":[{"email":"dana@example.com"}]}]}`))
	require.NoError(t, err)
	require.Len(t, contacts.Contacts, 1)
	assert.Equal(t, channels.SharedContact{Name: "דנה לוי", Phones: []string{"972524444444"}, Emails: []string{"dana@example.com"}}, contacts.Contacts[0])

	button, err := c.ParseIncoming([]byte(`{"from":"972500000001","id":"wamid.4","type":"interactive",
		"interactive":{"type":"button_reply","button_reply":{"id":"waitlist_yes","title":"כן"}}}`))
	require.NoError(t, err)
	assert.Equal(t, &channels.Reply{ID: "waitlist_yes", Title: "כן"}, button.Reply)

	odd, err := c.ParseIncoming([]byte(`{"from":"972500000001","id":"wamid.5","type":"reaction"}`))
	require.NoError(t, err)
	assert.Equal(t, channels.KindUnsupported, odd.Kind)

	_, err = c.ParseIncoming([]byte(`{"type":"text"}`))
	assert.Error(t, err)
}

func TestSendMessage(t *testing.T) {
	var got []byte
	c := newTestCloud(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/PNID/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		got, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.out"}]}`))
	})

	id, err := c.SendMessage(context.Background(), "972500000001@c.us", "רגע, אני על זה…", "wamid.1")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out", id)
	assert.Equal(t, "972500000001", gjson.GetBytes(got, "to").String())
	assert.Equal(t, "text", gjson.GetBytes(got, "type").String())
	assert.Equal(t, "רגע, אני על זה…", gjson.GetBytes(got, "text.body").String())
	assert.Equal(t, "wamid.1", gjson.GetBytes(got, "context.message_id").String())

	_, err = c.SendMessage(context.Background(), "120363@g.us", "hi", "")
	assert.ErrorIs(t, err, errGroupUnsupported)
}

func TestSendMessage_APIError(t *testing.T) {
	c := newTestCloud(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","code":131030}}`))
	})
	_, err := c.SendMessage(context.Background(), "972500000001@c.us", "hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Recipient phone number not in allowed list")
}

func TestSendTemplateAndButtons(t *testing.T) {
	var bodies [][]byte
	c := newTestCloud(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, b)
		_, _ = w.Write([]byte(`{"messages":[{"id":"x"}]}`))
	})
	ctx := context.Background()

	require.NoError(t, c.SendTemplateMessage(ctx, "972500000001@c.us", []string{"גיא", "3"}))
	require.NoError(t, c.SendButtons(ctx, "972500000001@c.us", "להצטרף?", []channels.Reply{
		{ID: "yes", Title: "כן"}, {ID: "no", Title: "לא"}, {ID: "a", Title: "a"}, {ID: "b", Title: "b"},
	}))
	require.Len(t, bodies, 2)

	tpl := bodies[0]
	assert.Equal(t, "tami_digest", gjson.GetBytes(tpl, "template.name").String())
	assert.Equal(t, "he", gjson.GetBytes(tpl, "template.language.code").String())
	assert.Equal(t, "body", gjson.GetBytes(tpl, "template.components.0.type").String())
	assert.Equal(t, "3", gjson.GetBytes(tpl, "template.components.0.parameters.1.text").String())

	btn := bodies[1]
	assert.Equal(t, "button", gjson.GetBytes(btn, "interactive.type").String())
	assert.Equal(t, int64(3), gjson.GetBytes(btn, "interactive.action.buttons.#").Int())
	assert.Equal(t, "כן", gjson.GetBytes(btn, "interactive.action.buttons.0.reply.title").String())
}

func TestFetchMedia(t *testing.T) {
	var base string
	c := newTestCloud(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v21.0/MEDIA1":
			_, _ = w.Write([]byte(`{"url":"` + base + `/files/voice.ogg","mime_type":"audio/ogg"}`))
		case "/files/voice.ogg":
			assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte("OggS"))
		default:
			http.NotFound(w, r)
		}
	})
	base = c.cfg.APIBase

	data, err := c.FetchMedia(context.Background(), &channels.Media{ID: "MEDIA1"})
	require.NoError(t, err)
	assert.Equal(t, []byte("OggS"), data)

	_, err = c.FetchMedia(context.Background(), &channels.Media{})
	assert.Error(t, err)
}
