package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/agent"
	"github.com/gaddyh/tami2-ai-sub000/internal/calendar"
	"github.com/gaddyh/tami2-ai-sub000/internal/calendar/google"
	"github.com/gaddyh/tami2-ai-sub000/internal/config"
	"github.com/gaddyh/tami2-ai-sub000/internal/contacts"
	"github.com/gaddyh/tami2-ai-sub000/internal/graph"
	"github.com/gaddyh/tami2-ai-sub000/internal/matcher"
	"github.com/gaddyh/tami2-ai-sub000/internal/providers"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
	"github.com/gaddyh/tami2-ai-sub000/internal/store/firestore"
	"github.com/gaddyh/tami2-ai-sub000/internal/store/memory"
	"github.com/gaddyh/tami2-ai-sub000/internal/store/pg"
	"github.com/gaddyh/tami2-ai-sub000/internal/tools"
)

// backend is everything the serve and chat commands share: stores, the
// compiled agent and the resources to release on exit.
type backend struct {
	cfg      *config.Config
	stores   *store.Stores
	app      *agent.App
	contacts *contacts.Book
	closers  []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
}

func buildBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	db, err := b.openStores(ctx)
	if err != nil {
		return nil, err
	}
	cp, err := b.openCheckpointer(db)
	if err != nil {
		return nil, err
	}

	provider, err := providers.New(cfg)
	if err != nil {
		return nil, err
	}

	b.contacts = contacts.NewBook(config.ExpandHome(cfg.Contacts.Dir))
	var sources []matcher.ContactSource
	if src, isSource := b.stores.Users.(matcher.ContactSource); isSource {
		sources = append(sources, src)
	}
	sources = append(sources, b.contacts)

	deps := tools.Deps{
		Tasks:     b.stores.Tasks,
		Scheduled: b.stores.Scheduled,
		Reminders: b.stores.Reminders,
		ChatLog:   b.stores.ChatLog,
		Calendars: newCalendars(cfg.Calendar),
		Matcher:   matcher.New(sources...),
	}
	if cfg.Search.Enabled {
		deps.Search = tools.NewWebSearch(tools.WebSearchOptions{
			BraveAPIKey: cfg.Search.BraveAPIKey,
			DuckDuckGo:  true,
			MaxResults:  cfg.Search.MaxResults,
			CacheTTL:    config.ParseDuration(cfg.Search.CacheTTL, 15*time.Minute),
		})
	}

	prompts, err := agent.LoadPrompts(config.ExpandHome(cfg.Agent.PromptsFile))
	if err != nil {
		return nil, err
	}
	b.app, err = agent.NewApp(agent.AppConfig{
		Provider:     provider,
		Tools:        tools.NewDefaultRegistry(deps),
		Prompts:      prompts,
		Agent:        cfg.Agent,
		Checkpointer: cp,
	})
	if err != nil {
		return nil, fmt.Errorf("build agent: %w", err)
	}
	ok = true
	return b, nil
}

// openStores picks the persistence backend. Firestore holds user records
// only; the remaining stores stay in memory in that mode.
func (b *backend) openStores(ctx context.Context) (*sql.DB, error) {
	cfg := b.cfg
	switch cfg.Database.Mode {
	case "", "memory":
		b.stores = memory.NewStores()
		return nil, nil
	case "postgres":
		if cfg.Database.PostgresDSN == "" {
			return nil, errors.New("TAMI_POSTGRES_DSN environment variable is not set")
		}
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		if err := pg.CheckSchema(ctx, db); err != nil {
			return nil, err
		}
		b.stores = pg.NewPGStores(db)
		slog.Info("using postgres stores")
		return db, nil
	case "firestore":
		users, err := firestore.NewUserStore(ctx, cfg.Database.FirestoreProject)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, users.Close)
		b.stores = memory.NewStores()
		b.stores.Users = users
		slog.Info("using firestore user store", "project", cfg.Database.FirestoreProject)
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown database mode %q", cfg.Database.Mode)
	}
}

func (b *backend) openCheckpointer(db *sql.DB) (graph.Checkpointer, error) {
	switch b.cfg.Database.Checkpointer {
	case "", "memory":
		return graph.NewMemoryCheckpointer(), nil
	case "sqlite":
		cp, err := graph.OpenSQLiteCheckpointer(b.cfg.SessionsDir())
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, cp.Close)
		return cp, nil
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres checkpointer needs database mode postgres")
		}
		return pg.NewPGCheckpointer(db), nil
	default:
		return nil, fmt.Errorf("unknown checkpointer %q", b.cfg.Database.Checkpointer)
	}
}

func newCalendars(cfg config.CalendarConfig) calendar.Provider {
	if cfg.Provider == "google" {
		return google.NewProvider(cfg.ClientID, cfg.ClientSecret, cfg.CalendarID)
	}
	return calendar.NewMemoryProvider()
}
