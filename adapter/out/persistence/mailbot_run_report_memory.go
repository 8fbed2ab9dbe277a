package persistence

import (
	"context"
	"sort"
	"sync"

	"mailbot/core/domain"
	"mailbot/core/port/out"
)

// MemoryRunReportStore keeps the most recent run reports in memory.
// Used when MongoDB is not configured.
type MemoryRunReportStore struct {
	mu      sync.RWMutex
	reports map[string]*domain.RunReport
	order   []string
	max     int
}

// NewMemoryRunReportStore keeps at most max reports.
func NewMemoryRunReportStore(max int) *MemoryRunReportStore {
	if max <= 0 {
		max = 100
	}
	return &MemoryRunReportStore{reports: make(map[string]*domain.RunReport), max: max}
}

func (s *MemoryRunReportStore) Save(_ context.Context, report *domain.RunReport) error {
	if report == nil || report.RunID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[report.RunID]; !ok {
		s.order = append(s.order, report.RunID)
	}
	cp := *report
	s.reports[report.RunID] = &cp

	for len(s.order) > s.max {
		delete(s.reports, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *MemoryRunReportStore) Get(_ context.Context, runID string) (*domain.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[runID]
	if !ok {
		return nil, out.ErrRunReportNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryRunReportStore) ListRecent(_ context.Context, limit int) ([]*domain.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]*domain.RunReport, 0, len(s.reports))
	for _, r := range s.reports {
		cp := *r
		cp.Details = nil
		reports = append(reports, &cp)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

var _ out.RunReportRepository = (*MemoryRunReportStore)(nil)
