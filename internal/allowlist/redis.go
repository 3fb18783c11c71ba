package allowlist

import (
	"context"
	"sort"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/repo"
)

// SetRepo is the subset of the redis repo the store needs.
type SetRepo interface {
	AddToSet(ctx context.Context, setKey, member string) error
	RemoveFromSet(ctx context.Context, setKey, member string) error
	SetMembers(ctx context.Context, setKey string) ([]string, error)
}

// RedisStore keeps the allow-list in a redis set shared by all replicas.
type RedisStore struct {
	repo SetRepo
	key  string
}

func NewRedisStore(r SetRepo, key string) *RedisStore {
	return &RedisStore{repo: r, key: key}
}

func NewRedisStoreFromRepo(r *repo.RedisRepo) *RedisStore {
	return NewRedisStore(r, r.KeyAllowList())
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ids, err := s.repo.SetMembers(ctx, s.key)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisStore) Add(ctx context.Context, channelID string) error {
	id, err := NormalizeID(channelID)
	if err != nil {
		return err
	}
	return s.repo.AddToSet(ctx, s.key, id)
}

func (s *RedisStore) Remove(ctx context.Context, channelID string) error {
	id, err := NormalizeID(channelID)
	if err != nil {
		return err
	}
	return s.repo.RemoveFromSet(ctx, s.key, id)
}
