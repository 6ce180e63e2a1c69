package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/gaddyh/tami2-ai-sub000/internal/bus"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
)

type chanSink chan bus.Job

func (s chanSink) Enqueue(_ context.Context, job bus.Job) error {
	s <- job
	return nil
}

// fakeBridge accepts one socket, pushes frames to it and records what the
// client writes.
func fakeBridge(t *testing.T, push []string) (url string, written chan []byte) {
	t.Helper()
	written = make(chan []byte, 8)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range push {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			written <- data
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), written
}

func TestBridge_InboundFramesBecomeJobs(t *testing.T) {
	url, written := fakeBridge(t, []string{
		`{"type":"presence","from":"x"}`,
		`{"type":"message","id":"B1","from":"972500000001@c.us","from_name":"גיא","content":"שלום","timestamp":1772352000}`,
	})
	sink := make(chanSink, 4)
	b, err := NewBridge(url, sink, nil)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop()

	var job bus.Job
	select {
	case job = <-sink:
	case <-time.After(2 * time.Second):
		t.Fatal("no job from bridge")
	}
	assert.Equal(t, "B1", job.MessageID)
	assert.Equal(t, "972500000001@c.us", job.From)

	msg, err := b.ParseIncoming(job.Raw)
	require.NoError(t, err)
	assert.Equal(t, "972500000001@c.us", msg.ChatID)
	assert.Equal(t, "שלום", msg.Text)
	assert.Equal(t, "גיא", msg.SenderName)
	assert.True(t, msg.Inbound())

	require.Eventually(t, b.Connected, time.Second, 10*time.Millisecond)
	_, err = b.SendMessage(context.Background(), "120363@g.us", "שלום לכולם", "B1")
	require.NoError(t, err)
	select {
	case frame := <-written:
		assert.Equal(t, "message", gjson.GetBytes(frame, "type").String())
		assert.Equal(t, "120363@g.us", gjson.GetBytes(frame, "to").String())
		assert.Equal(t, "שלום לכולם", gjson.GetBytes(frame, "content").String())
		assert.Equal(t, "B1", gjson.GetBytes(frame, "reply_to").String())
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not receive the frame")
	}
}

func TestBridge_ParseMediaAndSelf(t *testing.T) {
	b, err := NewBridge("ws://unused", nil, nil)
	require.NoError(t, err)

	m, err := b.ParseIncoming([]byte(`{"type":"message","id":"B2","from":"972500000001","from_me":true,
		"media":{"type":"audio","url":"http://bridge/media/B2","mime_type":"audio/ogg","ptt":true}}`))
	require.NoError(t, err)
	assert.Equal(t, "972500000001@c.us", m.ChatID)
	assert.False(t, m.Inbound())
	assert.True(t, m.IsAudio())
	assert.Equal(t, "http://bridge/media/B2", m.Media.URL)

	v, err := b.ParseIncoming([]byte(`{"type":"message","id":"B3","from":"972500000001@c.us",
		"vcards":[{"name":"דנה","phones":["0524444444"]}]}`))
	require.NoError(t, err)
	assert.Equal(t, channels.KindContacts, v.Kind)
	assert.Equal(t, []channels.SharedContact{{Name: "דנה", Phones: []string{"0524444444"}}}, v.Contacts)
}

func TestBridge_SendWithoutConnection(t *testing.T) {
	b, err := NewBridge("ws://unused", nil, nil)
	require.NoError(t, err)
	_, err = b.SendMessage(context.Background(), "972500000001@c.us", "hi", "")
	assert.Error(t, err)

	_, err = NewBridge("", nil, nil)
	assert.Error(t, err)
}
