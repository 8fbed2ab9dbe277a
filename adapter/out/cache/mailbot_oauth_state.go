package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"mailbot/pkg/cache"

	"github.com/redis/go-redis/v9"
)

// OAuthStateTTL is how long a consent-screen state stays valid.
const OAuthStateTTL = 10 * time.Minute

// RedisStateStore keeps OAuth states in Redis so any instance can finish the flow.
type RedisStateStore struct {
	cache *cache.RedisCache
}

func NewRedisStateStore(c *cache.RedisCache) *RedisStateStore {
	return &RedisStateStore{cache: c}
}

func (s *RedisStateStore) StoreState(ctx context.Context, state string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = OAuthStateTTL
	}
	ok, err := s.cache.SetNX(ctx, s.cache.Key("oauth", "state", state), "1", ttl)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("oauth state collision")
	}
	return nil
}

// ConsumeState reports whether state was issued and not yet used; it is
// deleted either way.
func (s *RedisStateStore) ConsumeState(ctx context.Context, state string) (bool, error) {
	err := s.cache.Client().GetDel(ctx, s.cache.Key("oauth", "state", state)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MemoryStateStore is the single-process fallback.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStateStore) StoreState(_ context.Context, state string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = OAuthStateTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, exp := range s.states {
		if now.After(exp) {
			delete(s.states, k)
		}
	}
	s.states[state] = now.Add(ttl)
	return nil
}

func (s *MemoryStateStore) ConsumeState(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp, ok := s.states[state]
	delete(s.states, state)
	return ok && !s.now().After(exp), nil
}
