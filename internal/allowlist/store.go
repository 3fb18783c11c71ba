package allowlist

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrInvalidChannel = errors.New("invalid channel id")

// Store persists the channel allow-list.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, channelID string) error
	Remove(ctx context.Context, channelID string) error
}

// NormalizeID trims the id and rejects empty ones.
func NormalizeID(channelID string) (string, error) {
	id := strings.TrimSpace(channelID)
	if id == "" {
		return "", ErrInvalidChannel
	}
	return id, nil
}

// MemoryStore keeps the list in process memory only.
type MemoryStore struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewMemoryStore(ids ...string) *MemoryStore {
	m := &MemoryStore{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id, err := NormalizeID(id); err == nil {
			m.ids[id] = struct{}{}
		}
	}
	return m
}

func (m *MemoryStore) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Add(_ context.Context, channelID string) error {
	id, err := NormalizeID(channelID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.ids[id] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, channelID string) error {
	id, err := NormalizeID(channelID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.ids, id)
	m.mu.Unlock()
	return nil
}
