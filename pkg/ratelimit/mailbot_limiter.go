// Package ratelimit caps how often replies are sent and drafts are requested.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrQuotaExceeded is returned once today's reservations are used up.
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// =============================================================================
// SlidingWindowLimiter - Redis 기반 Sliding Window Rate Limiter
// =============================================================================

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local count = redis.call('ZCARD', key)

	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #oldest > 0 then
		return -(oldest[2] + window_ms - now)
	end
	return 0
`)

// SlidingWindowLimiter allows at most limit events per window and key.
// Without Redis it keeps the window in process memory.
type SlidingWindowLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewSlidingWindowLimiter creates a limiter. redisClient may be nil.
func NewSlidingWindowLimiter(redisClient *redis.Client, prefix string, limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		redis:  redisClient,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Allow records an event for key when under the limit. When refused it
// returns how long until the oldest event leaves the window.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}
	if l.redis == nil {
		return l.allowLocal(key)
	}

	now := l.now()
	result, err := slidingWindowScript.Run(ctx, l.redis, []string{fmt.Sprintf("%s:%s", l.prefix, key)},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		// Redis 에러 시 로컬 윈도우로 fallback
		return l.allowLocal(key)
	}
	if result == 1 {
		return true, 0
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}
	return false, l.window
}

func (l *SlidingWindowLimiter) allowLocal(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	start := now.Add(-l.window)

	buf := l.hits[key]
	i := 0
	for i < len(buf) && !buf[i].After(start) {
		i++
	}
	buf = buf[i:]

	if len(buf) >= l.limit {
		l.hits[key] = buf
		return false, buf[0].Add(l.window).Sub(now)
	}
	l.hits[key] = append(buf, now)
	return true, 0
}

// =============================================================================
// DailyQuota
// =============================================================================

// DailyQuota allows a fixed number of reservations per calendar day in loc.
type DailyQuota struct {
	redis  *redis.Client
	prefix string
	limit  int64
	loc    *time.Location
	now    func() time.Time

	mu    sync.Mutex
	day   string
	count int64
}

// NewDailyQuota creates a quota. A limit of zero or less disables it.
func NewDailyQuota(redisClient *redis.Client, prefix string, limit int, loc *time.Location) *DailyQuota {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyQuota{
		redis:  redisClient,
		prefix: prefix,
		limit:  int64(limit),
		loc:    loc,
		now:    time.Now,
	}
}

// Reserve takes one unit of today's quota or returns ErrQuotaExceeded.
func (q *DailyQuota) Reserve(ctx context.Context) error {
	if q.limit <= 0 {
		return nil
	}

	now := q.now().In(q.loc)
	day := now.Format("2006-01-02")

	var used int64
	if q.redis != nil {
		key := fmt.Sprintf("%s:%s", q.prefix, day)
		midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, q.loc)

		pipe := q.redis.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, midnight.Add(time.Hour))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("reserve draft quota: %w", err)
		}
		used = incr.Val()
	} else {
		q.mu.Lock()
		if q.day != day {
			q.day, q.count = day, 0
		}
		q.count++
		used = q.count
		q.mu.Unlock()
	}

	if used > q.limit {
		return ErrQuotaExceeded
	}
	return nil
}
