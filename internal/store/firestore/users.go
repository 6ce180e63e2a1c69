// Package firestore keeps user records in a Cloud Firestore collection for
// deployments whose user directory lives there. Other stores stay relational
// or in memory.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	gfs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

const usersCollection = "users"

// UserStore implements store.UserStore. Documents mirror the JSON shape of
// store.User, so "chat_id" is queryable.
type UserStore struct {
	client *gfs.Client
	col    string
}

// NewUserStore connects to project. Credentials come from the environment
// (ADC or FIRESTORE_EMULATOR_HOST).
func NewUserStore(ctx context.Context, project string) (*UserStore, error) {
	if project == "" {
		return nil, errors.New("firestore project is required")
	}
	client, err := gfs.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &UserStore{client: client, col: usersCollection}, nil
}

func (s *UserStore) Close() error { return s.client.Close() }

func (s *UserStore) Load(ctx context.Context, userID string) (*store.User, error) {
	snap, err := s.client.Collection(s.col).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromDoc(snap.Data())
}

func (s *UserStore) Save(ctx context.Context, u *store.User) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	doc, err := toDoc(u)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(s.col).Doc(u.ID).Set(ctx, doc)
	return err
}

func (s *UserStore) FindByChatID(ctx context.Context, chatID string) (*store.User, error) {
	it := s.client.Collection(s.col).Where("chat_id", "==", chatID).Limit(1).Documents(ctx)
	defer it.Stop()
	snap, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromDoc(snap.Data())
}

func (s *UserStore) List(ctx context.Context) ([]*store.User, error) {
	it := s.client.Collection(s.col).Documents(ctx)
	defer it.Stop()
	var out []*store.User
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		u, err := fromDoc(snap.Data())
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", snap.Ref.ID, err)
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Contacts exposes the user's runtime contacts to the matcher.
func (s *UserStore) Contacts(ctx context.Context, userID string) (map[string]store.Contact, error) {
	u, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Runtime.Contacts, nil
}

func toDoc(u *store.User) (map[string]any, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDoc(doc map[string]any) (*store.User, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var u store.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
