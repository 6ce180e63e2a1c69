package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gaddyh/tami2-ai-sub000/internal/agent"
	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

const maxDigestTitleWidth = 80

// RunDigest sends the open-tasks digest to every user who enabled it and
// returns how many were sent. The rendered list becomes the thread's task
// listing, so "#2" in the user's next message refers to its second row.
func (s *Scheduler) RunDigest(ctx context.Context) (int, error) {
	if s.stores.Tasks == nil {
		return 0, errors.New("digest needs a task store")
	}
	users, err := s.stores.Users.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	var (
		sent int
		errs []error
	)
	for _, u := range users {
		if !u.Config.Digest || u.ChatID == "" {
			continue
		}
		if err := s.digestUser(ctx, u); err != nil {
			errs = append(errs, fmt.Errorf("digest %s: %w", u.ID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (s *Scheduler) digestUser(ctx context.Context, u *store.User) error {
	tasks, err := s.stores.Tasks.GetItems(ctx, u.ID, store.ItemQuery{})
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	listing := &store.TaskListing{GeneratedAt: s.now().UTC()}
	for _, t := range tasks {
		if t.Status != store.StatusOpen && t.Status != store.StatusPending {
			continue
		}
		listing.Items = append(listing.Items, store.ListingItem{
			Index:  len(listing.Items) + 1,
			ItemID: t.ItemID,
			Title:  t.Title,
		})
	}
	text := s.renderDigest(listing)

	if _, err := s.transport.SendMessage(ctx, u.ChatID, text, ""); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	u.SetListing(u.ChatID, listing)
	if err := s.stores.Users.Save(ctx, u); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if s.agent != nil {
		if err := s.agent.AppendHistory(ctx, u.ChatID, agent.AgentTasks, text); err != nil {
			slog.Warn("digest history append failed", "user", u.ID, "error", err)
		}
	}
	slog.Info("digest delivered", "user", u.ID, "tasks", len(listing.Items))
	return nil
}

func (s *Scheduler) renderDigest(listing *store.TaskListing) string {
	p := agent.DefaultPrompts()
	if s.agent != nil {
		p = s.agent.Prompts()
	}
	if len(listing.Items) == 0 {
		return p.DigestEmpty
	}
	var b strings.Builder
	b.WriteString(p.DigestHeader)
	for _, it := range listing.Items {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(it.Index))
		b.WriteString(". ")
		b.WriteString(channels.Truncate(it.Title, maxDigestTitleWidth))
	}
	return b.String()
}
