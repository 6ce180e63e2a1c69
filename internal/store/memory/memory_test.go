package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

func TestTaskStore_OpIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore()

	first, err := s.Create(ctx, &store.Task{UserID: "u1", Title: "check mail", OpID: "op-1"})
	require.NoError(t, err)
	second, err := s.Create(ctx, &store.Task{UserID: "u1", Title: "check mail again", OpID: "op-1"})
	require.NoError(t, err)

	assert.Equal(t, first.ItemID, second.ItemID)
	assert.Equal(t, "check mail", second.Title, "second create must not overwrite")

	items, err := s.GetItems(ctx, "u1", store.ItemQuery{})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestTaskStore_OwnershipChecked(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore()
	task, err := s.Create(ctx, &store.Task{UserID: "u1", Title: "mine"})
	require.NoError(t, err)

	err = s.Delete(ctx, "u2", task.ItemID)
	assert.True(t, errors.Is(err, store.ErrForbidden))

	_, err = s.Get(ctx, "u1", "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestTaskStore_SoftDeleteAndStatusFilter(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore()
	a, _ := s.Create(ctx, &store.Task{UserID: "u1", Title: "a"})
	b, _ := s.Create(ctx, &store.Task{UserID: "u1", Title: "b"})
	require.NoError(t, s.Delete(ctx, "u1", a.ItemID))
	require.NoError(t, s.UpdateStatus(ctx, "u1", b.ItemID, store.StatusCompleted))

	open, _ := s.GetItems(ctx, "u1", store.ItemQuery{Status: store.StatusOpen})
	assert.Empty(t, open)

	deleted, _ := s.GetItems(ctx, "u1", store.ItemQuery{Status: store.StatusDeleted})
	require.Len(t, deleted, 1)
	assert.Equal(t, "a", deleted[0].Title)

	done, _ := s.Get(ctx, "u1", b.ItemID)
	assert.True(t, done.Completed)

	all, _ := s.GetItems(ctx, "u1", store.ItemQuery{Status: store.StatusAll})
	assert.Len(t, all, 2)
}

func TestScheduledStore_Due(t *testing.T) {
	ctx := context.Background()
	s := NewScheduledStore()
	now := time.Now().UTC()

	due, _ := s.Save(ctx, &store.ScheduledMessage{UserID: "u1", Message: "due", ScheduledTime: now.Add(-time.Minute), RecipientChatID: "1@c.us"})
	_, _ = s.Save(ctx, &store.ScheduledMessage{UserID: "u1", Message: "later", ScheduledTime: now.Add(time.Hour), RecipientChatID: "1@c.us"})
	exhausted, _ := s.Save(ctx, &store.ScheduledMessage{UserID: "u1", Message: "exhausted", ScheduledTime: now.Add(-time.Minute), RecipientChatID: "1@c.us"})
	exhausted.Status = store.StatusFailed
	exhausted.RetryCount = 3
	require.NoError(t, s.Update(ctx, exhausted))

	got, err := s.Due(ctx, now.Add(-10*time.Minute), now, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ItemID, got[0].ItemID)
}

func TestUserStore_CopiesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	s := NewUserStore()
	u := &store.User{ID: "972501234567", ChatID: "972501234567@c.us"}
	u.AddContact(store.Contact{Name: "גל ליס", Phone: "0501111111"})
	require.NoError(t, s.Save(ctx, u))

	u.AddContact(store.Contact{Name: "leak", Phone: "1"})
	loaded, err := s.Load(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Runtime.Contacts, 1)

	byChat, err := s.FindByChatID(ctx, "972501234567@c.us")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byChat.ID)
}

func TestChatLog_RecentOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewChatLogStore()
	for i, txt := range []string{"one", "two", "three"} {
		require.NoError(t, s.Append(ctx, store.ChatMessage{ChatID: "c", Text: txt, Timestamp: time.Unix(int64(i), 0)}))
	}
	got, _ := s.Recent(ctx, "c", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Text)
	assert.Equal(t, "three", got[1].Text)
}
