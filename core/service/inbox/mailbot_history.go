package inbox

import (
	"context"
	"errors"

	"mailbot/core/domain"
	"mailbot/core/port/in"
	"mailbot/core/port/out"
)

// ErrHistoryUnavailable is returned when no store backs the query.
var ErrHistoryUnavailable = errors.New("history store not configured")

const maxHistoryLimit = 200

// History implements in.ReplyHistoryService over the reply log and report store.
type History struct {
	replies out.ReplyLogRepository
	reports out.RunReportRepository
}

// NewHistory creates the history service. Either store may be nil.
func NewHistory(replies out.ReplyLogRepository, reports out.RunReportRepository) *History {
	return &History{replies: replies, reports: reports}
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func (h *History) RecentReplies(ctx context.Context, limit int) ([]*domain.ReplyLogEntry, error) {
	if h.replies == nil {
		return nil, ErrHistoryUnavailable
	}
	return h.replies.ListRecent(ctx, clampLimit(limit, 50))
}

func (h *History) RunReport(ctx context.Context, runID string) (*domain.RunReport, error) {
	if h.reports == nil {
		return nil, ErrHistoryUnavailable
	}
	return h.reports.Get(ctx, runID)
}

func (h *History) RecentRuns(ctx context.Context, limit int) ([]*domain.RunReport, error) {
	if h.reports == nil {
		return nil, ErrHistoryUnavailable
	}
	return h.reports.ListRecent(ctx, clampLimit(limit, 20))
}

var _ in.ReplyHistoryService = (*History)(nil)
