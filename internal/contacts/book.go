// Package contacts serves per-user contact books kept as CSV files.
//
// Each user has <dir>/<user_id>.csv with a header row naming any of the
// columns name, phone, email, group_id, chat_id. Files are parsed lazily
// and re-read after fsnotify reports a change.
package contacts

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/gaddyh/tami2-ai-sub000/internal/phone"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// Book is a directory of CSV contact files.
type Book struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]map[string]store.Contact
}

func NewBook(dir string) *Book {
	return &Book{dir: dir, cache: make(map[string]map[string]store.Contact)}
}

func (b *Book) path(userID string) string {
	return filepath.Join(b.dir, filepath.Base(userID)+".csv")
}

// Contacts returns the user's contacts keyed by name. A missing file is an
// empty book.
func (b *Book) Contacts(_ context.Context, userID string) (map[string]store.Contact, error) {
	if b == nil || b.dir == "" || userID == "" {
		return nil, nil
	}
	b.mu.RLock()
	cached, ok := b.cache[userID]
	b.mu.RUnlock()
	if ok {
		return cached, nil
	}

	f, err := os.Open(b.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		b.store(userID, map[string]store.Contact{})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open contacts: %w", err)
	}
	defer f.Close()

	book, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("contacts %s: %w", userID, err)
	}
	b.store(userID, book)
	return book, nil
}

func (b *Book) store(userID string, book map[string]store.Contact) {
	b.mu.Lock()
	b.cache[userID] = book
	b.mu.Unlock()
}

// Invalidate drops the cached book for userID, or all books when empty.
func (b *Book) Invalidate(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if userID == "" {
		b.cache = make(map[string]map[string]store.Contact)
		return
	}
	delete(b.cache, userID)
}

// Parse reads a contacts CSV. Rows without a name are skipped; phones are
// normalized when they parse and kept raw otherwise.
func Parse(r io.Reader) (map[string]store.Contact, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return map[string]store.Contact{}, nil
	}
	if err != nil {
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := cols["name"]; !ok {
		return nil, errors.New("missing name column")
	}
	get := func(rec []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	out := make(map[string]store.Contact)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		c := store.Contact{
			Name:    get(rec, "name"),
			Phone:   get(rec, "phone"),
			Email:   get(rec, "email"),
			GroupID: get(rec, "group_id"),
			ChatID:  get(rec, "chat_id"),
		}
		if c.Name == "" {
			continue
		}
		if c.Phone != "" {
			if n, err := phone.Normalize(c.Phone); err == nil {
				c.Phone = n
			}
		}
		out[c.Name] = c
	}
	return out, nil
}

// Watch invalidates cached books when files in the directory change. It
// blocks until ctx is done.
func (b *Book) Watch(ctx context.Context) error {
	if b.dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("contacts watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(b.dir); err != nil {
		return fmt.Errorf("watch %s: %w", b.dir, err)
	}
	slog.Info("contacts watcher started", "dir", b.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".csv" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			userID := strings.TrimSuffix(filepath.Base(ev.Name), ".csv")
			b.Invalidate(userID)
			slog.Debug("contacts reloaded", "user", userID)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("contacts watcher error", "error", err)
		}
	}
}
