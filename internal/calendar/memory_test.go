package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

var base = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) // a Monday

func TestMemoryCalendar_SingleEvent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCalendar()

	ev, err := c.Insert(ctx, &Event{ID: "e1", Title: "dentist", Start: base, End: base.Add(time.Hour)}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "e1", ev.ID)

	// same id again is a no-op
	_, err = c.Insert(ctx, &Event{ID: "e1", Title: "other", Start: base, End: base.Add(time.Hour)}, WriteOptions{})
	require.NoError(t, err)
	got, err := c.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "dentist", got.Title)

	list, err := c.ListEvents(ctx, base.Add(-time.Hour), base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = c.ListEvents(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, list, "end is exclusive")

	_, err = c.Patch(ctx, "e1", &Event{Location: "clinic"}, WriteOptions{})
	require.NoError(t, err)
	got, _ = c.Get(ctx, "e1")
	assert.Equal(t, "dentist", got.Title)
	assert.Equal(t, "clinic", got.Location)

	require.NoError(t, c.Delete(ctx, "e1", WriteOptions{}))
	_, err = c.Get(ctx, "e1")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(c.Delete(ctx, "e1", WriteOptions{}), ErrNotFound))
}

func TestMemoryCalendar_RecurringInstances(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCalendar()
	_, err := c.Insert(ctx, &Event{
		ID: "series", Title: "standup",
		Start: base, End: base.Add(15 * time.Minute),
		Recurrence: []string{"RRULE:FREQ=DAILY;COUNT=5"},
	}, WriteOptions{})
	require.NoError(t, err)

	list, err := c.ListEvents(ctx, base, base.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, "series_20250303T090000Z", list[0].ID)
	assert.Equal(t, "series", list[0].RecurringEventID)
	assert.Empty(t, list[0].Recurrence)

	second := list[1].ID
	inst, err := c.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, base.AddDate(0, 0, 1), inst.Start.UTC())

	// deleting one instance leaves the rest
	require.NoError(t, c.Delete(ctx, second, WriteOptions{}))
	list, _ = c.ListEvents(ctx, base, base.AddDate(0, 0, 10))
	assert.Len(t, list, 4)
	_, err = c.Get(ctx, second)
	assert.True(t, errors.Is(err, ErrNotFound))

	// patching an instance detaches it
	third := list[1].ID
	_, err = c.Patch(ctx, third, &Event{Title: "standup (moved)"}, WriteOptions{})
	require.NoError(t, err)
	list, _ = c.ListEvents(ctx, base, base.AddDate(0, 0, 10))
	require.Len(t, list, 4)
	assert.Equal(t, "standup (moved)", list[1].Title)
	assert.Equal(t, "standup", list[2].Title)
}

func TestMemoryCalendar_FreeBusy(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCalendar()
	_, _ = c.Insert(ctx, &Event{ID: "a", Start: base, End: base.Add(time.Hour)}, WriteOptions{})
	_, _ = c.Insert(ctx, &Event{ID: "b", Start: base.Add(3 * time.Hour), End: base.Add(4 * time.Hour)}, WriteOptions{})

	busy, err := c.FreeBusy(ctx, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, base, busy[0].Start)
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	_, err := p.ForUser(context.Background(), nil)
	assert.True(t, errors.Is(err, ErrNoCredentials))

	u := &store.User{ID: "972501234567"}
	a, err := p.ForUser(context.Background(), u)
	require.NoError(t, err)
	b, _ := p.ForUser(context.Background(), u)
	assert.Same(t, a, b)
}

func TestEventRRule(t *testing.T) {
	e := Event{Recurrence: []string{"EXDATE:20250101T000000Z", "RRULE:FREQ=WEEKLY"}}
	assert.Equal(t, "FREQ=WEEKLY", e.RRule())
	e.SetRRule("FREQ=DAILY")
	assert.Equal(t, []string{"RRULE:FREQ=DAILY", "EXDATE:20250101T000000Z"}, e.Recurrence)
	e.SetRRule("")
	assert.Equal(t, []string{"EXDATE:20250101T000000Z"}, e.Recurrence)
}
