package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
	"github.com/gaddyh/tami2-ai-sub000/internal/tools"
)

// ProcessInput runs one turn for env and returns the reply to send. user is
// the live record: tools update its runtime in place and the caller
// persists it. On failure the reply is the apology and err is set.
func (a *App) ProcessInput(ctx context.Context, env Envelope, text string, user *store.User) (string, error) {
	if env.InputID == "" {
		env.InputID = uuid.NewString()
	}
	if env.Now.IsZero() {
		env.Now = time.Now()
	}
	if env.Category == "" {
		env.Category = CategoryUserRequest
	}
	if user != nil {
		if env.Timezone == "" {
			env.Timezone = user.Config.Timezone
		}
		if env.Locale == "" {
			env.Locale = user.Config.Locale
		}
		if env.UserName == "" {
			env.UserName = user.Config.Name
		}
	}
	if env.Timezone == "" {
		env.Timezone = a.cfg.DefaultTimezone
	}
	if env.Locale == "" {
		env.Locale = a.cfg.DefaultLocale
	}

	ctx, span := tracer.Start(ctx, "turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("tami.thread_id", env.ThreadID),
		attribute.String("tami.input_id", env.InputID),
		attribute.String("tami.category", env.Category),
	)

	ctx = tools.WithScope(ctx, &tools.Scope{
		UserID:     env.UserID,
		ThreadID:   env.ThreadID,
		User:       user,
		Now:        env.Now,
		Location:   env.Location(),
		SenderName: env.UserName,
	})

	apology := a.Prompts().Apology
	start := time.Now()
	res, err := a.HandleTurn(ctx, env.ThreadID, text, State{Input: env})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("turn failed", "thread", env.ThreadID, "input_id", env.InputID, "error", err)
		return apology, err
	}

	span.SetAttributes(
		attribute.String("tami.status", res.Status),
		attribute.String("tami.target_agent", res.State.TargetAgent),
	)
	slog.Info("turn done",
		"thread", env.ThreadID,
		"input_id", env.InputID,
		"status", res.Status,
		"agent", res.State.TargetAgent,
		"tools", len(res.State.ToolResults),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res.ReplyText(apology), nil
}
