package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStateStore(t *testing.T) {
	s := NewMemoryStateStore()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.StoreState(ctx, "abc", time.Minute); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.ConsumeState(ctx, "abc"); !ok {
		t.Fatal("fresh state rejected")
	}
	if ok, _ := s.ConsumeState(ctx, "abc"); ok {
		t.Error("state accepted twice")
	}
	if ok, _ := s.ConsumeState(ctx, "never-issued"); ok {
		t.Error("unknown state accepted")
	}

	_ = s.StoreState(ctx, "old", time.Minute)
	now = now.Add(2 * time.Minute)
	if ok, _ := s.ConsumeState(ctx, "old"); ok {
		t.Error("expired state accepted")
	}
}
