package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gaddyh/tami2-ai-sub000/internal/agent"
	"github.com/gaddyh/tami2-ai-sub000/internal/bus"
	"github.com/gaddyh/tami2-ai-sub000/internal/cache"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels/whatsapp"
	"github.com/gaddyh/tami2-ai-sub000/internal/config"
	"github.com/gaddyh/tami2-ai-sub000/internal/gateway"
	"github.com/gaddyh/tami2-ai-sub000/internal/providers"
	"github.com/gaddyh/tami2-ai-sub000/internal/scheduler"
	"github.com/gaddyh/tami2-ai-sub000/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway, queue worker and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	be, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.Close()

	dedupe, err := newDeduper(cfg.Cache)
	if err != nil {
		return err
	}
	index := cache.NewMessageIndex(config.ParseDuration(cfg.Cache.IndexTTL, 48*time.Hour))
	queue := bus.NewQueue(cfg.Gateway.QueueSize)
	intake := gateway.NewIntake(dedupe, index, queue)

	limiter := channels.NewSendLimiter(cfg.WhatsApp.SendRPS, cfg.WhatsApp.SendBurst)
	var (
		transport channels.Transport
		decoder   channels.WebhookDecoder
		bridge    *whatsapp.Bridge
	)
	switch cfg.WhatsApp.Transport {
	case "", "cloud":
		cloud, err := whatsapp.NewCloud(cfg.WhatsApp, limiter, nil)
		if err != nil {
			return err
		}
		transport, decoder = cloud, cloud
	case "bridge":
		bridge, err = whatsapp.NewBridge(cfg.WhatsApp.BridgeURL, intake, limiter)
		if err != nil {
			return err
		}
		transport = bridge
	default:
		return fmt.Errorf("unknown whatsapp transport %q", cfg.WhatsApp.Transport)
	}

	worker, err := gateway.NewWorker(gateway.WorkerDeps{
		Transport:   transport,
		Agent:       be.app,
		Stores:      be.stores,
		Index:       index,
		Transcriber: providers.NewTranscriber(cfg),
		AckText:     cfg.WhatsApp.AckText,
	})
	if err != nil {
		return err
	}
	server := gateway.NewServer(cfg, intake, decoder, queue)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		if err := worker.Run(gctx, queue); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		collectors := []cache.Collector{index}
		if c, ok := dedupe.(cache.Collector); ok {
			collectors = append(collectors, c)
		}
		cache.RunGC(gctx, config.ParseDuration(cfg.Cache.GCInterval, 10*time.Minute), collectors...)
		return nil
	})
	g.Go(func() error {
		if err := be.contacts.Watch(gctx); err != nil {
			slog.Warn("contacts watcher stopped", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, func(next *config.Config) {
			reloadPrompts(be.app, next)
		})
		if err != nil {
			slog.Warn("config watcher stopped", "path", cfgPath, "error", err)
		}
		return nil
	})

	if bridge != nil {
		if err := bridge.Start(gctx); err != nil {
			return err
		}
		defer bridge.Stop()
	}

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler, transport, be.stores, be.app)
		if err != nil {
			return err
		}
		sched.Start(gctx)
		defer sched.Stop()
	}

	slog.Info("tami started",
		"version", Version,
		"transport", transport.Name(),
		"database", cfg.Database.Mode,
		"llm", cfg.LLM.Provider,
	)
	err = g.Wait()
	queue.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("tami stopped")
	return nil
}

// newDeduper prefers Redis so several replicas share one dedupe window.
func newDeduper(cfg config.CacheConfig) (cache.Deduper, error) {
	ttl := config.ParseDuration(cfg.DedupeTTL, cache.DefaultDedupeTTL)
	if cfg.RedisURL == "" {
		return cache.NewDedupeCache(ttl), nil
	}
	r, err := cache.NewRedisDedupe(cfg.RedisURL, ttl)
	if err != nil {
		return nil, fmt.Errorf("redis dedupe: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Info("using redis dedupe")
	return r, nil
}

func reloadPrompts(app *agent.App, cfg *config.Config) {
	p, err := agent.LoadPrompts(config.ExpandHome(cfg.Agent.PromptsFile))
	if err != nil {
		slog.Warn("prompts reload failed", "error", err)
		return
	}
	app.SetPrompts(p)
	slog.Info("prompts reloaded", "file", cfg.Agent.PromptsFile)
}
