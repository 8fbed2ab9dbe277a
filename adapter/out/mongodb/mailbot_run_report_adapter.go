// Package mongodb stores run reports in MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mailbot/core/domain"
	"mailbot/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Run Report Adapter
// =============================================================================

const (
	collectionRunReports = "mail_run_reports"

	defaultReportRetention = 30 * 24 * time.Hour
)

// ErrReportNotFound is returned by Get for unknown run ids.
var ErrReportNotFound = out.ErrRunReportNotFound

// RunReportAdapter implements out.RunReportRepository using MongoDB.
type RunReportAdapter struct {
	collection *mongo.Collection
	retention  time.Duration
}

// NewRunReportAdapter creates a run report adapter. Reports expire after retention.
func NewRunReportAdapter(db *mongo.Database, retention time.Duration) *RunReportAdapter {
	if retention <= 0 {
		retention = defaultReportRetention
	}
	return &RunReportAdapter{
		collection: db.Collection(collectionRunReports),
		retention:  retention,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *RunReportAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "started_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// runReportDocument is the stored shape: the report plus its expiry.
type runReportDocument struct {
	domain.RunReport `bson:",inline"`
	ExpiresAt        time.Time `bson:"expires_at"`
}

// Save upserts the report by run id.
func (a *RunReportAdapter) Save(ctx context.Context, report *domain.RunReport) error {
	if report == nil || report.RunID == "" {
		return errors.New("run report without id")
	}

	doc := runReportDocument{
		RunReport: *report,
		ExpiresAt: report.StartedAt.Add(a.retention),
	}
	if report.StartedAt.IsZero() {
		doc.ExpiresAt = time.Now().Add(a.retention)
	}

	_, err := a.collection.ReplaceOne(ctx,
		bson.M{"_id": report.RunID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save run report: %w", err)
	}
	return nil
}

// Get loads one report.
func (a *RunReportAdapter) Get(ctx context.Context, runID string) (*domain.RunReport, error) {
	var doc runReportDocument
	err := a.collection.FindOne(ctx, bson.M{"_id": runID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run report: %w", err)
	}
	return &doc.RunReport, nil
}

// ListRecent returns report summaries, newest first. Details are omitted.
func (a *RunReportAdapter) ListRecent(ctx context.Context, limit int) ([]*domain.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"details": 0})

	cursor, err := a.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list run reports: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []runReportDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode run reports: %w", err)
	}

	reports := make([]*domain.RunReport, len(docs))
	for i := range docs {
		reports[i] = &docs[i].RunReport
	}
	return reports, nil
}

var _ out.RunReportRepository = (*RunReportAdapter)(nil)
