package out

import (
	"context"
	"errors"

	"mailbot/core/domain"
)

// ErrRunReportNotFound is returned by Get for unknown run ids.
var ErrRunReportNotFound = errors.New("run report not found")

// RunReportRepository stores the outcome of inbox runs.
type RunReportRepository interface {
	Save(ctx context.Context, report *domain.RunReport) error
	Get(ctx context.Context, runID string) (*domain.RunReport, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.RunReport, error)
}
