// Package cache holds the shared key/value store used for cross-process locks
// and the LMS access token cache built on top of it.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store is the subset of a key/value store the locks and token cache need.
// A zero ttl means no expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// DelIfEqual deletes key only while it still holds value.
	DelIfEqual(ctx context.Context, key, value string) (bool, error)
}

// RedisStore implements Store on go-redis.
type RedisStore struct {
	c redis.Cmdable
}

func NewRedisStore(c redis.Cmdable) *RedisStore {
	return &RedisStore{c: c}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.c.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.c.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.c.Del(ctx, keys...).Err()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisStore) DelIfEqual(ctx context.Context, key, value string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.c, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MemoryStore is a process-local Store, used when no redis address is configured.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

type memItem struct {
	value   string
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memItem), now: time.Now}
}

func (s *MemoryStore) getLocked(key string) (string, bool) {
	it, ok := s.items[key]
	if !ok {
		return "", false
	}
	if !it.expires.IsZero() && !s.now().Before(it.expires) {
		delete(s.items, key)
		return "", false
	}
	return it.value, true
}

func (s *MemoryStore) setLocked(key, value string, ttl time.Duration) {
	it := memItem{value: value}
	if ttl > 0 {
		it.expires = s.now().Add(ttl)
	}
	s.items[key] = it
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.getLocked(key)
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, value, ttl)
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.getLocked(key); ok {
		return false, nil
	}
	s.setLocked(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}

func (s *MemoryStore) DelIfEqual(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.getLocked(key); !ok || v != value {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// ErrLocked is returned by TryLock when another holder owns the key.
var ErrLocked = errors.New("cache: lock is held")

// TryLock takes key for ttl without waiting. The returned func releases it.
// A lock that expired and was taken by someone else is left alone.
func TryLock(ctx context.Context, s Store, key string, ttl time.Duration) (func(), error) {
	owner := uuid.NewString()
	ok, err := s.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	return func() {
		// release must survive a cancelled caller context
		_, _ = s.DelIfEqual(context.WithoutCancel(ctx), key, owner)
	}, nil
}
