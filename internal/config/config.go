package config

import (
	"sync"
	"time"
)

// Config is the root configuration for the Tami service.
// Secrets carry `json:"-"` and are only read from the environment.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	LLM       LLMConfig       `json:"llm"`
	STT       STTConfig       `json:"stt,omitempty"`
	Agent     AgentConfig     `json:"agent"`
	Cache     CacheConfig     `json:"cache"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Calendar  CalendarConfig  `json:"calendar,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Contacts  ContactsConfig  `json:"contacts,omitempty"`
	Search    SearchConfig    `json:"search,omitempty"`
	Sessions  SessionsConfig  `json:"sessions"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// GatewayConfig controls the webhook HTTP listener.
type GatewayConfig struct {
	Host         string `json:"host" env:"TAMI_HOST"`
	Port         int    `json:"port" env:"TAMI_PORT"`
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
}

// WhatsAppConfig selects and configures the WhatsApp transport.
type WhatsAppConfig struct {
	Transport     string  `json:"transport"` // "cloud" (default) or "bridge"
	VerifyToken   string  `json:"-" env:"WHATSAPP_VERIFY_TOKEN"`
	AppSecret     string  `json:"-" env:"WHATSAPP_APP_SECRET"`
	AccessToken   string  `json:"-" env:"WHATSAPP_ACCESS_TOKEN"`
	PhoneNumberID string  `json:"phone_number_id,omitempty" env:"WHATSAPP_PHONE_NUMBER_ID"`
	APIBase       string  `json:"api_base,omitempty"`
	APIVersion    string  `json:"api_version,omitempty"`
	BridgeURL     string  `json:"bridge_url,omitempty" env:"WHATSAPP_BRIDGE_URL"`
	SendRPS       float64 `json:"send_rps,omitempty"`
	SendBurst     int     `json:"send_burst,omitempty"`
	TemplateName  string  `json:"template_name,omitempty"`
	TemplateLang  string  `json:"template_lang,omitempty"`
	AckText       string  `json:"ack_text,omitempty"`
}

// LLMConfig configures the model provider used by router, planner, responder
// and the confirmation resolvers.
type LLMConfig struct {
	Provider        string  `json:"provider"` // "openai" (default) or "anthropic"
	Model           string  `json:"model"`
	RouterModel     string  `json:"router_model,omitempty"`
	APIBase         string  `json:"api_base,omitempty" env:"OPENAI_BASE_URL"`
	OpenAIAPIKey    string  `json:"-" env:"OPENAI_API_KEY"`
	AnthropicAPIKey string  `json:"-" env:"ANTHROPIC_API_KEY"`
	Timeout         string  `json:"timeout,omitempty"` // Go duration, default "10s"
	Retries         int     `json:"retries,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
}

// STTConfig configures voice note transcription.
type STTConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	APIBase string `json:"api_base,omitempty"`
	APIKey  string `json:"-" env:"TAMI_STT_API_KEY"`
	Model   string `json:"model,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// AgentConfig tunes the agent graph.
type AgentConfig struct {
	MaxFollowups       int    `json:"max_followups,omitempty"`
	MaxToolHistory     int    `json:"max_tool_history,omitempty"`
	HistoryLimit       int    `json:"history_limit,omitempty"`
	CalendarWindowDays int    `json:"calendar_window_days,omitempty"`
	StrictResolve      bool   `json:"strict_resolve,omitempty"`
	ConfirmPerson      bool   `json:"confirm_person,omitempty"` // resolve participants through the confirmation graph
	PromptsFile        string `json:"prompts_file,omitempty" env:"TAMI_PROMPTS_FILE"`
	DefaultTimezone    string `json:"default_timezone,omitempty"`
	DefaultLocale      string `json:"default_locale,omitempty"`
}

// CacheConfig configures the message index and dedupe cache.
type CacheConfig struct {
	IndexTTL   string `json:"index_ttl,omitempty"`
	DedupeTTL  string `json:"dedupe_ttl,omitempty"`
	GCInterval string `json:"gc_interval,omitempty"`
	RedisURL   string `json:"-" env:"TAMI_REDIS_URL"`
}

// DatabaseConfig selects the persistence backend.
// PostgresDSN is never read from the config file.
type DatabaseConfig struct {
	Mode             string `json:"mode,omitempty" env:"TAMI_MODE"` // "memory" (default), "postgres", "firestore"
	PostgresDSN      string `json:"-" env:"TAMI_POSTGRES_DSN"`
	FirestoreProject string `json:"firestore_project,omitempty" env:"TAMI_FIRESTORE_PROJECT"`
	Checkpointer     string `json:"checkpointer,omitempty"` // "memory" (default), "sqlite", "postgres"
}

// IsPostgres reports whether the relational stores should be used.
func (c *Config) IsPostgres() bool {
	return c.Database.Mode == "postgres" && c.Database.PostgresDSN != ""
}

// CalendarConfig selects the calendar backend.
type CalendarConfig struct {
	Provider     string `json:"provider,omitempty"` // "memory" (default) or "google"
	ClientID     string `json:"client_id,omitempty" env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `json:"-" env:"GOOGLE_CLIENT_SECRET"`
	CalendarID   string `json:"calendar_id,omitempty"`
}

// SchedulerConfig configures the digest and due-message loops.
type SchedulerConfig struct {
	Enabled    bool   `json:"enabled"`
	DigestCron string `json:"digest_cron,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	Tick       string `json:"tick,omitempty"`
	Lookback   string `json:"lookback,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// ContactsConfig points at the CSV contact book directory.
type ContactsConfig struct {
	Dir string `json:"dir,omitempty" env:"TAMI_CONTACTS_DIR"`
}

// SearchConfig configures the web_search tool.
type SearchConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"`
	BraveAPIKey string `json:"brave_api_key,omitempty" env:"BRAVE_API_KEY"`
	CacheTTL    string `json:"cache_ttl,omitempty"` // Go duration, default "15m"
}

// SessionsConfig locates on-disk session state (SQLite checkpoints).
type SessionsConfig struct {
	Dir string `json:"dir" env:"TAMI_SESSIONS_DIR"`
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty" env:"TAMI_TELEMETRY_ENABLED"`
	Endpoint    string            `json:"endpoint,omitempty" env:"TAMI_TELEMETRY_ENDPOINT"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// LLMTimeout returns the per-call LLM deadline.
func (c *Config) LLMTimeout() time.Duration {
	return ParseDuration(c.LLM.Timeout, 10*time.Second)
}

// ParseDuration parses a Go duration string, falling back to def when the
// value is empty or malformed.
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
