package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/gaddyh/tami2-ai-sub000/internal/agent"
	"github.com/gaddyh/tami2-ai-sub000/internal/config"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

func chatCmd() *cobra.Command {
	var (
		userID   string
		userName string
		persist  bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long:  "Runs turns against the configured stores and model without WhatsApp. Type /reset to start a new thread, /quit to exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runChat(ctx, userID, userName, persist)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "user id")
	cmd.Flags().StringVarP(&userName, "name", "n", "", "display name for a new user")
	cmd.Flags().BoolVar(&persist, "persist", false, "use the configured database instead of in-memory stores")
	return cmd
}

func runChat(ctx context.Context, userID, userName string, persist bool) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !persist {
		cfg.Database.Mode = "memory"
		cfg.Database.Checkpointer = "memory"
	}
	be, err := buildBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.Close()

	user, err := loadOrCreateUser(ctx, be.stores.Users, userID, userName, cfg)
	if err != nil {
		return err
	}

	historyFile := ""
	if dir := cfg.SessionsDir(); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err == nil {
			historyFile = filepath.Join(dir, "chat_history")
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "אתה> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	thread := newChatThread(user.ID)
	fmt.Fprintf(rl.Stdout(), "tami %s, thread %s. /reset starts over, /quit exits.\n", Version, thread)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			thread = newChatThread(user.ID)
			fmt.Fprintf(rl.Stdout(), "new thread %s\n", thread)
			continue
		}

		env := agent.Envelope{
			UserID:   user.ID,
			ThreadID: thread,
			Now:      time.Now(),
		}
		reply, turnErr := be.app.ProcessInput(ctx, env, line, user)
		if turnErr != nil {
			fmt.Fprintf(rl.Stderr(), "error: %v\n", turnErr)
		}
		if err := be.stores.Users.Save(ctx, user); err != nil {
			fmt.Fprintf(rl.Stderr(), "save user: %v\n", err)
		}
		fmt.Fprintf(rl.Stdout(), "תמי> %s\n", reply)
	}
}

func loadOrCreateUser(ctx context.Context, users store.UserStore, id, name string, cfg *config.Config) (*store.User, error) {
	u, err := users.Load(ctx, id)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	if name == "" {
		name = id
	}
	now := time.Now().UTC()
	u = &store.User{
		ID:     id,
		ChatID: id + "@local",
		Config: store.UserConfig{
			Name:     name,
			Timezone: cfg.Agent.DefaultTimezone,
			Locale:   cfg.Agent.DefaultLocale,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := users.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("create user %s: %w", id, err)
	}
	return u, nil
}

func newChatThread(userID string) string {
	return fmt.Sprintf("%s@local/%d", userID, time.Now().Unix())
}
