package allowlist

import (
	"context"
	"log/slog"
	"sort"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/rcu"
)

// channelSet is an immutable allow-list snapshot.
type channelSet struct {
	IDs map[string]struct{}
}

func newChannelSet(ids []string) *channelSet {
	set := &channelSet{IDs: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id, err := NormalizeID(id); err == nil {
			set.IDs[id] = struct{}{}
		}
	}
	return set
}

func (s *channelSet) with(id string) *channelSet {
	next := &channelSet{IDs: make(map[string]struct{}, len(s.IDs)+1)}
	for k := range s.IDs {
		next.IDs[k] = struct{}{}
	}
	next.IDs[id] = struct{}{}
	return next
}

func (s *channelSet) without(id string) *channelSet {
	next := &channelSet{IDs: make(map[string]struct{}, len(s.IDs))}
	for k := range s.IDs {
		if k != id {
			next.IDs[k] = struct{}{}
		}
	}
	return next
}

// Cache serves allow-list lookups from an in-memory snapshot; writes go
// to the store first and then to the snapshot.
type Cache struct {
	store  Store
	snap   *rcu.Snapshot[channelSet]
	logger *slog.Logger
}

func NewCache(store Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		snap:   rcu.NewSnapshot(newChannelSet(nil)),
		logger: logger,
	}
}

// Bootstrap seeds the store with the configured channels and loads the snapshot.
func (c *Cache) Bootstrap(ctx context.Context, seed []string) error {
	for _, id := range seed {
		if err := c.store.Add(ctx, id); err != nil {
			return err
		}
	}
	return c.Reload(ctx)
}

// Reload replaces the snapshot with the store's contents. On error the
// previous snapshot stays in place.
func (c *Cache) Reload(ctx context.Context) error {
	ids, err := c.store.List(ctx)
	if err != nil {
		return err
	}
	c.snap.Replace(newChannelSet(ids))
	c.logger.Debug("reloaded allow-list", "count", len(ids))
	return nil
}

func (c *Cache) Contains(channelID string) bool {
	_, ok := c.snap.Load().IDs[channelID]
	return ok
}

func (c *Cache) List() []string {
	set := c.snap.Load()
	out := make([]string, 0, len(set.IDs))
	for id := range set.IDs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) Add(ctx context.Context, channelID string) error {
	id, err := NormalizeID(channelID)
	if err != nil {
		return err
	}
	if err := c.store.Add(ctx, id); err != nil {
		return err
	}
	c.snap.Update(func(old *channelSet) *channelSet { return old.with(id) })
	c.logger.Info("channel allowed", "channel_id", id)
	return nil
}

func (c *Cache) Remove(ctx context.Context, channelID string) error {
	id, err := NormalizeID(channelID)
	if err != nil {
		return err
	}
	if err := c.store.Remove(ctx, id); err != nil {
		return err
	}
	c.snap.Update(func(old *channelSet) *channelSet { return old.without(id) })
	c.logger.Info("channel removed", "channel_id", id)
	return nil
}
