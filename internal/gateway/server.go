// Package gateway is the webhook front door and the queue worker: it
// verifies and deduplicates WhatsApp deliveries, queues them, and drains
// the queue one message at a time through the agent.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/gaddyh/tami2-ai-sub000/internal/bus"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/config"
)

// Server serves the webhook, its verification handshake and /health.
type Server struct {
	cfg         config.GatewayConfig
	verifyToken string
	appSecret   string

	intake  *Intake
	decoder channels.WebhookDecoder // nil for push transports
	queue   *bus.Queue
	limiter *channels.WebhookRateLimiter
	started time.Time

	router     *mux.Router
	httpServer *http.Server
}

// NewServer wires the HTTP surface. decoder may be nil when inbound
// messages arrive through a push transport; POST /webhook then answers 404.
func NewServer(cfg *config.Config, intake *Intake, decoder channels.WebhookDecoder, queue *bus.Queue) *Server {
	if cfg.WhatsApp.AppSecret == "" && decoder != nil {
		slog.Warn("security.webhook_signature_disabled", "reason", "WHATSAPP_APP_SECRET is empty")
	}
	return &Server{
		cfg:         cfg.Gateway,
		verifyToken: cfg.WhatsApp.VerifyToken,
		appSecret:   cfg.WhatsApp.AppSecret,
		intake:      intake,
		decoder:     decoder,
		queue:       queue,
		limiter:     channels.NewWebhookRateLimiter(0, 0),
		started:     time.Now(),
	}
}

// Router builds and caches the route table.
func (s *Server) Router() *mux.Router {
	if s.router != nil {
		return s.router
	}
	r := mux.NewRouter()
	r.HandleFunc("/webhook", s.handleVerify).Methods(http.MethodGet)
	r.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router = r
	return r
}

// Start listens until ctx is canceled, then shuts down with a 5s grace.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleVerify answers the provider's subscription handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || s.verifyToken == "" || q.Get("hub.verify_token") != s.verifyToken {
		slog.Warn("security.webhook_verify_rejected", "mode", q.Get("hub.mode"))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// handleWebhook verifies, deduplicates and enqueues. It never waits for
// the agent. Unparseable bodies are acknowledged so the provider does not
// redeliver them.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.decoder == nil {
		http.NotFound(w, r)
		return
	}
	if !s.limiter.Allow(clientIP(r)) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	maxBody := s.cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if s.appSecret != "" && !VerifySignature(s.appSecret, body, r.Header.Get(SignatureHeader)) {
		slog.Warn("security.webhook_signature_mismatch", "remote", clientIP(r))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	jobs, err := s.decoder.DecodeWebhook(body)
	if err != nil {
		slog.Warn("webhook parse failed", "error", err)
		writeText(w, http.StatusOK, "ok")
		return
	}

	accepted, failed := 0, 0
	for _, job := range jobs {
		ok, err := s.intake.Accept(r.Context(), job)
		switch {
		case err != nil:
			failed++
			slog.Error("webhook enqueue failed", "message_id", job.MessageID, "error", err)
		case ok:
			accepted++
			slog.Info("webhook message queued", "message_id", job.MessageID, "from", job.From)
		}
	}

	switch {
	case failed > 0:
		// released reservations make the redelivery go through
		http.Error(w, "busy", http.StatusServiceUnavailable)
	case len(jobs) > 0 && accepted == 0:
		writeText(w, http.StatusOK, "duplicate")
	default:
		writeText(w, http.StatusOK, "ok")
	}
}

type healthResponse struct {
	Status  string    `json:"status"`
	Uptime  string    `json:"uptime"`
	Started time.Time `json:"started"`
	Queue   bus.Stats `json:"queue"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Uptime:  time.Since(s.started).Round(time.Second).String(),
		Started: s.started,
	}
	if s.queue != nil {
		resp.Queue = s.queue.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
