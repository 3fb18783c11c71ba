package cooldown

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps one entry per user. A single mutex covers the map;
// contention is bounded by the number of active users.
type MemoryStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{last: make(map[string]time.Time)}
}

func (m *MemoryStore) CheckAndSet(_ context.Context, userID string, now time.Time, cooldown time.Duration) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.last[userID]; ok {
		elapsed := now.Sub(prev)
		if elapsed >= 0 && elapsed < cooldown {
			return false, cooldown - elapsed, nil
		}
	}
	m.last[userID] = now
	return true, 0, nil
}

// Len reports how many users have an entry.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}
