package in

import (
	"context"

	"mailbot/core/domain"
)

// RunOptions tunes a single inbox run.
type RunOptions struct {
	Query       string
	MaxMessages int
	// DryRun classifies and labels without sending replies.
	DryRun bool
}

// InboxService is the inbox processing use case.
type InboxService interface {
	Run(ctx context.Context, opts RunOptions) (*domain.RunReport, error)
	ProcessMessage(ctx context.Context, msg *domain.Message, dryRun bool) *domain.MessageOutcome
	Classify(msg *domain.Message) domain.ClassificationResult
}

// ReplyHistoryService exposes sent replies and stored run reports.
type ReplyHistoryService interface {
	RecentReplies(ctx context.Context, limit int) ([]*domain.ReplyLogEntry, error)
	RunReport(ctx context.Context, runID string) (*domain.RunReport, error)
	RecentRuns(ctx context.Context, limit int) ([]*domain.RunReport, error)
}
