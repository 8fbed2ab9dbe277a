// Package cache implements the reply cooldown guards and OAuth state storage.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"mailbot/core/port/out"
	"mailbot/pkg/cache"
)

const DefaultCooldown = 24 * time.Hour

func guardKey(sender, threadID string) (string, string) {
	return strings.ToLower(strings.TrimSpace(sender)), threadID
}

// =============================================================================
// Redis guard
// =============================================================================

// RedisReplyGuard marks sender+thread pairs with a SETNX key that expires
// after the cooldown. Safe across processes.
type RedisReplyGuard struct {
	cache    *cache.RedisCache
	cooldown time.Duration
}

// NewRedisReplyGuard creates a Redis backed guard.
func NewRedisReplyGuard(c *cache.RedisCache, cooldown time.Duration) *RedisReplyGuard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &RedisReplyGuard{cache: c, cooldown: cooldown}
}

func (g *RedisReplyGuard) key(sender, threadID string) string {
	s, t := guardKey(sender, threadID)
	return g.cache.Key("replied", s, t)
}

// Acquire returns false when the pair was answered inside the cooldown.
func (g *RedisReplyGuard) Acquire(ctx context.Context, sender, threadID string) (bool, error) {
	return g.cache.SetNX(ctx, g.key(sender, threadID), time.Now().UTC().Format(time.RFC3339), g.cooldown)
}

// Release clears the mark so a later run may reply.
func (g *RedisReplyGuard) Release(ctx context.Context, sender, threadID string) error {
	return g.cache.Delete(ctx, g.key(sender, threadID))
}

// =============================================================================
// Reply log guard
// =============================================================================

// LogReplyGuard answers from the reply log, plus in-flight acquisitions of
// this process. Used when Redis is not configured.
type LogReplyGuard struct {
	log      out.ReplyLogRepository
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[[2]string]time.Time
}

// NewLogReplyGuard creates a guard backed by the reply log.
func NewLogReplyGuard(log out.ReplyLogRepository, cooldown time.Duration) *LogReplyGuard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &LogReplyGuard{
		log:      log,
		cooldown: cooldown,
		now:      time.Now,
		pending:  make(map[[2]string]time.Time),
	}
}

func (g *LogReplyGuard) Acquire(ctx context.Context, sender, threadID string) (bool, error) {
	s, t := guardKey(sender, threadID)
	key := [2]string{s, t}
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if at, ok := g.pending[key]; ok && now.Sub(at) < g.cooldown {
		return false, nil
	}

	last, err := g.log.LastRepliedAt(ctx, s, t)
	if err != nil {
		return false, err
	}
	if last != nil && now.Sub(*last) < g.cooldown {
		return false, nil
	}

	g.pending[key] = now
	g.gc(now)
	return true, nil
}

func (g *LogReplyGuard) Release(_ context.Context, sender, threadID string) error {
	s, t := guardKey(sender, threadID)
	g.mu.Lock()
	delete(g.pending, [2]string{s, t})
	g.mu.Unlock()
	return nil
}

// gc drops expired in-flight marks. Caller holds mu.
func (g *LogReplyGuard) gc(now time.Time) {
	for k, at := range g.pending {
		if now.Sub(at) >= g.cooldown {
			delete(g.pending, k)
		}
	}
}

var (
	_ out.ReplyGuard = (*RedisReplyGuard)(nil)
	_ out.ReplyGuard = (*LogReplyGuard)(nil)
)
