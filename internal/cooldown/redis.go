package cooldown

import (
	"context"
	"errors"
	"time"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/repo"
	"github.com/nanjiek/pixiu-relay/internal/util"
)

// ScriptExecutor executes a Lua script and returns raw results.
type ScriptExecutor interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) ([]interface{}, error)
}

// RedisStore shares cooldown state between bot replicas.
type RedisStore struct {
	exec   ScriptExecutor
	script string
	key    func(userID string) string
}

func NewRedisStore(exec ScriptExecutor, key func(userID string) string) *RedisStore {
	if exec == nil {
		panic("cooldown: nil ScriptExecutor")
	}
	if key == nil {
		key = func(userID string) string { return "cooldown:{" + userID + "}" }
	}
	return &RedisStore{exec: exec, script: repo.ScriptCooldown, key: key}
}

// NewRedisStoreFromRepo uses the repo's key template.
func NewRedisStoreFromRepo(r *repo.RedisRepo) *RedisStore {
	return NewRedisStore(r, r.KeyCooldown)
}

func (s *RedisStore) CheckAndSet(ctx context.Context, userID string, now time.Time, cooldown time.Duration) (bool, time.Duration, error) {
	nowMs := now.UnixMilli()
	cdMs := cooldown.Milliseconds()
	if cdMs <= 0 {
		return true, 0, nil
	}

	res, err := s.exec.Eval(ctx, s.script, []string{s.key(userID)}, nowMs, cdMs)
	if err != nil {
		return false, 0, err
	}
	if len(res) < 2 {
		return false, 0, errors.New("invalid script response")
	}
	if util.ToInt64(res[0]) > 0 {
		return true, 0, nil
	}
	return false, time.Duration(util.ToInt64(res[1])) * time.Millisecond, nil
}
