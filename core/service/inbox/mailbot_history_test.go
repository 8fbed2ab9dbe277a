package inbox

import (
	"context"
	"errors"
	"testing"

	"mailbot/core/port/in"
)

func TestClampLimit(t *testing.T) {
	tests := []struct {
		limit, def, want int
	}{
		{0, 50, 50},
		{-3, 20, 20},
		{10, 50, 10},
		{5000, 50, maxHistoryLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.limit, tt.def); got != tt.want {
			t.Errorf("clampLimit(%d, %d) = %d, want %d", tt.limit, tt.def, got, tt.want)
		}
	}
}

func TestHistory_Unconfigured(t *testing.T) {
	h := NewHistory(nil, nil)
	ctx := context.Background()

	if _, err := h.RecentReplies(ctx, 10); !errors.Is(err, ErrHistoryUnavailable) {
		t.Errorf("RecentReplies err = %v", err)
	}
	if _, err := h.RunReport(ctx, "x"); !errors.Is(err, ErrHistoryUnavailable) {
		t.Errorf("RunReport err = %v", err)
	}
	if _, err := h.RecentRuns(ctx, 10); !errors.Is(err, ErrHistoryUnavailable) {
		t.Errorf("RecentRuns err = %v", err)
	}
}

func TestHistory_ReadsStores(t *testing.T) {
	env := newTestEnv(t, newFakeMailbox(orderMessage("m1")), nil)
	ctx := context.Background()
	if _, err := env.svc.Run(ctx, in.RunOptions{}); err != nil {
		t.Fatal(err)
	}

	h := NewHistory(env.log, env.reports)
	replies, err := h.RecentReplies(ctx, 0)
	if err != nil || len(replies) != 1 || replies[0].MessageID != "m1" {
		t.Errorf("RecentReplies = %v, %v", replies, err)
	}
	runs, err := h.RecentRuns(ctx, 0)
	if err != nil || len(runs) != 1 {
		t.Errorf("RecentRuns = %v, %v", runs, err)
	}
}
