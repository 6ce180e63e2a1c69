package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			MaxBodyBytes: 1 << 20,
			QueueSize:    256,
		},
		WhatsApp: WhatsAppConfig{
			Transport:    "cloud",
			APIBase:      "https://graph.facebook.com",
			APIVersion:   "v21.0",
			SendRPS:      1,
			SendBurst:    3,
			TemplateLang: "he",
			AckText:      "רגע, אני על זה…",
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gpt-4.1-mini",
			Timeout:   "10s",
			Retries:   1,
			MaxTokens: 2048,
		},
		STT: STTConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "whisper-1",
			Timeout: "30s",
		},
		Agent: AgentConfig{
			MaxFollowups:       3,
			MaxToolHistory:     10,
			HistoryLimit:       10,
			CalendarWindowDays: 14,
			StrictResolve:      true,
			ConfirmPerson:      true,
			DefaultTimezone:    "Asia/Jerusalem",
			DefaultLocale:      "he-IL",
		},
		Cache: CacheConfig{
			IndexTTL:   "48h",
			DedupeTTL:  "1h",
			GCInterval: "10m",
		},
		Database: DatabaseConfig{
			Mode:         "memory",
			Checkpointer: "memory",
		},
		Calendar: CalendarConfig{
			Provider:   "memory",
			CalendarID: "primary",
		},
		Scheduler: SchedulerConfig{
			Enabled:    true,
			DigestCron: "0 9 * * *",
			Timezone:   "Asia/Jerusalem",
			Tick:       "30s",
			Lookback:   "10m",
			MaxRetries: 3,
		},
		Search: SearchConfig{Enabled: true, MaxResults: 5, CacheTTL: "15m"},
		Sessions: SessionsConfig{
			Dir: "~/.tami/sessions",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values; unset vars leave fields alone.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if c.Database.PostgresDSN != "" && c.Database.Mode == "memory" {
		c.Database.Mode = "postgres"
	}
	return nil
}

// Save writes the config to a JSON file. Secrets are never written.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 digest of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// SessionsDir returns the expanded sessions directory.
func (c *Config) SessionsDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Sessions.Dir)
}

const secretMask = "***"

// MaskedCopy returns a copy of the config safe to log, with secrets masked.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := &Config{
		Gateway:   c.Gateway,
		WhatsApp:  c.WhatsApp,
		LLM:       c.LLM,
		STT:       c.STT,
		Agent:     c.Agent,
		Cache:     c.Cache,
		Database:  c.Database,
		Calendar:  c.Calendar,
		Scheduler: c.Scheduler,
		Contacts:  c.Contacts,
		Search:    c.Search,
		Sessions:  c.Sessions,
		Telemetry: c.Telemetry,
	}
	maskNonEmpty(&cp.WhatsApp.VerifyToken)
	maskNonEmpty(&cp.WhatsApp.AppSecret)
	maskNonEmpty(&cp.WhatsApp.AccessToken)
	maskNonEmpty(&cp.LLM.OpenAIAPIKey)
	maskNonEmpty(&cp.LLM.AnthropicAPIKey)
	maskNonEmpty(&cp.STT.APIKey)
	maskNonEmpty(&cp.Cache.RedisURL)
	maskNonEmpty(&cp.Database.PostgresDSN)
	maskNonEmpty(&cp.Calendar.ClientSecret)
	maskNonEmpty(&cp.Search.BraveAPIKey)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
