package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultSTTModel   = "whisper-1"
	defaultSTTTimeout = 30 * time.Second
	sttEndpoint       = "/audio/transcriptions"
)

// Transcriber turns a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// WhisperTranscriber posts audio to an OpenAI-compatible transcription
// endpoint.
type WhisperTranscriber struct {
	apiBase  string
	apiKey   string
	model    string
	language string
	timeout  time.Duration
	client   *http.Client
}

func NewWhisperTranscriber(apiBase, apiKey, model string, timeout time.Duration) *WhisperTranscriber {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if model == "" {
		model = defaultSTTModel
	}
	if timeout <= 0 {
		timeout = defaultSTTTimeout
	}
	return &WhisperTranscriber{
		apiBase:  strings.TrimRight(apiBase, "/"),
		apiKey:   apiKey,
		model:    model,
		language: "he",
		timeout:  timeout,
		client:   &http.Client{},
	}
}

type sttResponse struct {
	Text string `json:"text"`
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	if filename == "" {
		filename = "voice.ogg"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("stt: create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("stt: write audio: %w", err)
	}
	_ = w.WriteField("model", t.model)
	if t.language != "" {
		_ = w.WriteField("language", t.language)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("stt: close multipart: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	url := t.apiBase + sttEndpoint
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("stt: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("stt: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}
	var result sttResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("stt: parse response: %w", err)
	}
	slog.Debug("stt transcript received", "length", len(result.Text))
	return strings.TrimSpace(result.Text), nil
}
