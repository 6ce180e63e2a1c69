package calendar

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/recurrence"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

const instanceLayout = "20060102T150405Z"

// MemoryProvider keeps one in-process calendar per user.
type MemoryProvider struct {
	mu   sync.Mutex
	cals map[string]*MemoryCalendar
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{cals: make(map[string]*MemoryCalendar)}
}

func (p *MemoryProvider) ForUser(_ context.Context, u *store.User) (Calendar, error) {
	if u == nil {
		return nil, ErrNoCredentials
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cals[u.ID]
	if !ok {
		c = NewMemoryCalendar()
		p.cals[u.ID] = c
	}
	return c, nil
}

// MemoryCalendar stores masters and expands recurring series on read.
// Instance ids follow the "<master>_<UTC start>" convention; edits to a
// single instance become exception events and an EXDATE on the master.
type MemoryCalendar struct {
	mu      sync.Mutex
	events  map[string]*Event
	exdates map[string][]time.Time
}

func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{events: make(map[string]*Event), exdates: make(map[string][]time.Time)}
}

func instanceID(masterID string, start time.Time) string {
	return masterID + "_" + start.UTC().Format(instanceLayout)
}

func splitInstanceID(id string) (string, time.Time, bool) {
	i := strings.LastIndex(id, "_")
	if i <= 0 {
		return "", time.Time{}, false
	}
	t, err := time.Parse(instanceLayout, id[i+1:])
	if err != nil {
		return "", time.Time{}, false
	}
	return id[:i], t, true
}

func (c *MemoryCalendar) excluded(masterID string, t time.Time) bool {
	for _, x := range c.exdates[masterID] {
		if x.Equal(t) {
			return true
		}
	}
	return false
}

func (c *MemoryCalendar) ListEvents(_ context.Context, from, to time.Time) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		rule := e.RRule()
		if rule == "" {
			if e.Overlaps(from, to) {
				out = append(out, cloneEvent(e))
			}
			continue
		}
		dur := e.End.Sub(e.Start)
		starts, err := recurrence.Expand(rule, e.Start, from.Add(-dur), to)
		if err != nil {
			return nil, err
		}
		for _, s := range starts {
			if c.excluded(e.ID, s) {
				continue
			}
			inst := cloneEvent(e)
			inst.ID = instanceID(e.ID, s)
			inst.RecurringEventID = e.ID
			inst.Recurrence = nil
			inst.Start, inst.End = s, s.Add(dur)
			if inst.Overlaps(from, to) {
				out = append(out, inst)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (c *MemoryCalendar) Get(_ context.Context, id string) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(id)
}

func (c *MemoryCalendar) getLocked(id string) (*Event, error) {
	if e, ok := c.events[id]; ok {
		cp := cloneEvent(e)
		return &cp, nil
	}
	masterID, start, ok := splitInstanceID(id)
	if !ok {
		return nil, ErrNotFound
	}
	master, ok := c.events[masterID]
	if !ok || c.excluded(masterID, start) {
		return nil, ErrNotFound
	}
	inst := cloneEvent(master)
	inst.ID = id
	inst.RecurringEventID = masterID
	inst.Recurrence = nil
	inst.End = start.Add(master.End.Sub(master.Start))
	inst.Start = start
	return &inst, nil
}

func (c *MemoryCalendar) Insert(_ context.Context, e *Event, _ WriteOptions) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.ID == "" {
		e.ID = store.NewItemID("", "")
	}
	if existing, ok := c.events[e.ID]; ok {
		cp := cloneEvent(existing)
		return &cp, nil
	}
	cp := cloneEvent(e)
	c.events[e.ID] = &cp
	out := cloneEvent(e)
	return &out, nil
}

// Patch replaces the stored fields with the non-zero fields of patch.
func (c *MemoryCalendar) Patch(_ context.Context, id string, patch *Event, _ WriteOptions) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, err := c.getLocked(id)
	if err != nil {
		return nil, err
	}
	merged := mergeEvent(*cur, patch)
	if _, stored := c.events[id]; !stored && cur.RecurringEventID != "" {
		// first edit of a single instance: detach it from the series
		c.exdates[cur.RecurringEventID] = append(c.exdates[cur.RecurringEventID], cur.Start)
	}
	c.events[id] = &merged
	out := cloneEvent(&merged)
	return &out, nil
}

func (c *MemoryCalendar) Delete(_ context.Context, id string, _ WriteOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.events[id]; ok {
		delete(c.events, id)
		delete(c.exdates, id)
		return nil
	}
	masterID, start, ok := splitInstanceID(id)
	if !ok {
		return ErrNotFound
	}
	if _, ok := c.events[masterID]; !ok || c.excluded(masterID, start) {
		return ErrNotFound
	}
	c.exdates[masterID] = append(c.exdates[masterID], start)
	return nil
}

func (c *MemoryCalendar) FreeBusy(ctx context.Context, from, to time.Time) ([]Interval, error) {
	events, err := c.ListEvents(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]Interval, 0, len(events))
	for _, e := range events {
		out = append(out, Interval{Start: e.Start, End: e.End})
	}
	return out, nil
}

func mergeEvent(cur Event, p *Event) Event {
	if p.Title != "" {
		cur.Title = p.Title
	}
	if p.Description != "" {
		cur.Description = p.Description
	}
	if p.Location != "" {
		cur.Location = p.Location
	}
	if !p.Start.IsZero() {
		cur.Start = p.Start
		cur.AllDay = p.AllDay
	}
	if !p.End.IsZero() {
		cur.End = p.End
	}
	if p.Timezone != "" {
		cur.Timezone = p.Timezone
	}
	if p.Attendees != nil {
		cur.Attendees = append([]Attendee(nil), p.Attendees...)
	}
	if p.Recurrence != nil {
		cur.Recurrence = append([]string(nil), p.Recurrence...)
	}
	if p.Reminders != nil {
		cur.Reminders = append([]Reminder(nil), p.Reminders...)
	}
	return cur
}

func cloneEvent(e *Event) Event {
	cp := *e
	cp.Attendees = append([]Attendee(nil), e.Attendees...)
	cp.Recurrence = append([]string(nil), e.Recurrence...)
	cp.Reminders = append([]Reminder(nil), e.Reminders...)
	return cp
}
