package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mailbot/core/domain"
	"mailbot/core/port/out"

	"github.com/jmoiron/sqlx"
)

// ReplyLogAdapter implements out.ReplyLogRepository on PostgreSQL or SQLite.
type ReplyLogAdapter struct {
	db *sqlx.DB
}

// NewReplyLogAdapter creates a new ReplyLogAdapter.
func NewReplyLogAdapter(db *sqlx.DB) *ReplyLogAdapter {
	return &ReplyLogAdapter{db: db}
}

// replyLogRow represents the database row for sent replies.
type replyLogRow struct {
	MessageID  string         `db:"message_id"`
	ThreadID   string         `db:"thread_id"`
	ToAddr     string         `db:"to_addr"`
	Category   string         `db:"category"`
	Label      string         `db:"label"`
	Source     string         `db:"source"`
	TemplateID sql.NullString `db:"template_id"`
	OrderID    sql.NullString `db:"order_id"`
	TicketID   sql.NullString `db:"ticket_id"`
	RepliedAt  time.Time      `db:"replied_at"`
	FollowUp   bool           `db:"needs_followup"`
}

func (r *replyLogRow) toEntity() *domain.ReplyLogEntry {
	return &domain.ReplyLogEntry{
		MessageID:  r.MessageID,
		ThreadID:   r.ThreadID,
		ToAddr:     r.ToAddr,
		Category:   domain.Category(r.Category),
		Label:      r.Label,
		Source:     domain.ReplySource(r.Source),
		TemplateID: r.TemplateID.String,
		OrderID:    r.OrderID.String,
		TicketID:   r.TicketID.String,
		RepliedAt:  r.RepliedAt.UTC(),

		NeedsFollowUp: r.FollowUp,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (a *ReplyLogAdapter) isPostgres() bool {
	return a.db.DriverName() == "postgres" || a.db.DriverName() == "pgx"
}

// Migrate creates the reply_log table when missing and adds columns newer
// than an existing table.
func (a *ReplyLogAdapter) Migrate(ctx context.Context) error {
	tsType := "TIMESTAMP"
	if a.isPostgres() {
		tsType = "TIMESTAMPTZ"
	}

	stmts := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS reply_log (
			message_id  TEXT PRIMARY KEY,
			thread_id   TEXT NOT NULL,
			to_addr     TEXT NOT NULL,
			category    TEXT NOT NULL,
			label       TEXT NOT NULL,
			source      TEXT NOT NULL,
			template_id TEXT,
			order_id    TEXT,
			ticket_id   TEXT,
			replied_at  %s NOT NULL,
			needs_followup BOOLEAN NOT NULL DEFAULT FALSE
		)`, tsType),
		`CREATE INDEX IF NOT EXISTS idx_reply_log_recipient ON reply_log (to_addr, thread_id, replied_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reply_log_replied_at ON reply_log (replied_at)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate reply_log: %w", err)
		}
	}
	return a.addFollowUpColumn(ctx)
}

// addFollowUpColumn upgrades tables created before needs_followup existed.
func (a *ReplyLogAdapter) addFollowUpColumn(ctx context.Context) error {
	const alter = `ALTER TABLE reply_log ADD COLUMN needs_followup BOOLEAN NOT NULL DEFAULT FALSE`
	if a.isPostgres() {
		if _, err := a.db.ExecContext(ctx, `ALTER TABLE reply_log ADD COLUMN IF NOT EXISTS needs_followup BOOLEAN NOT NULL DEFAULT FALSE`); err != nil {
			return fmt.Errorf("migrate reply_log: %w", err)
		}
		return nil
	}

	var n int
	if err := a.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM pragma_table_info('reply_log') WHERE name = 'needs_followup'`); err != nil {
		return fmt.Errorf("inspect reply_log: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := a.db.ExecContext(ctx, alter); err != nil {
		return fmt.Errorf("migrate reply_log: %w", err)
	}
	return nil
}

// storedTime normalizes t for the replied_at column. Whole seconds in UTC
// keep the text form sortable on SQLite.
func storedTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Second)
}

// Record stores a sent reply. Recording the same message twice is a no-op.
func (a *ReplyLogAdapter) Record(ctx context.Context, entry *domain.ReplyLogEntry) error {
	if entry == nil || entry.MessageID == "" {
		return ErrInvalidInput
	}

	query := a.db.Rebind(`
		INSERT INTO reply_log (
			message_id, thread_id, to_addr, category, label, source,
			template_id, order_id, ticket_id, replied_at, needs_followup
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING
	`)

	_, err := a.db.ExecContext(ctx, query,
		entry.MessageID,
		entry.ThreadID,
		entry.ToAddr,
		string(entry.Category),
		entry.Label,
		string(entry.Source),
		nullString(entry.TemplateID),
		nullString(entry.OrderID),
		nullString(entry.TicketID),
		storedTime(entry.RepliedAt),
		entry.NeedsFollowUp,
	)
	if err != nil {
		return fmt.Errorf("insert reply_log: %w", err)
	}
	return nil
}

// PendingFollowUp reports whether messageID holds an open quiet-hours
// acknowledgement.
func (a *ReplyLogAdapter) PendingFollowUp(ctx context.Context, messageID string) (bool, error) {
	var n int
	query := a.db.Rebind(`SELECT COUNT(*) FROM reply_log WHERE message_id = ? AND needs_followup = ?`)
	if err := a.db.GetContext(ctx, &n, query, messageID, true); err != nil {
		return false, fmt.Errorf("query reply_log: %w", err)
	}
	return n > 0, nil
}

// CompleteFollowUp replaces the acknowledgement row of entry.MessageID with
// the follow-up reply. Without such a row the entry is recorded as new.
func (a *ReplyLogAdapter) CompleteFollowUp(ctx context.Context, entry *domain.ReplyLogEntry) error {
	if entry == nil || entry.MessageID == "" {
		return ErrInvalidInput
	}

	query := a.db.Rebind(`
		UPDATE reply_log
		SET category = ?, label = ?, source = ?, template_id = ?, order_id = ?,
		    ticket_id = ?, replied_at = ?, needs_followup = ?
		WHERE message_id = ? AND needs_followup = ?
	`)
	res, err := a.db.ExecContext(ctx, query,
		string(entry.Category),
		entry.Label,
		string(entry.Source),
		nullString(entry.TemplateID),
		nullString(entry.OrderID),
		nullString(entry.TicketID),
		storedTime(entry.RepliedAt),
		entry.NeedsFollowUp,
		entry.MessageID,
		true,
	)
	if err != nil {
		return fmt.Errorf("update reply_log: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return a.Record(ctx, entry)
	}
	return nil
}

// LastRepliedAt returns when toAddr was last answered in threadID, or nil.
// An empty threadID matches any thread.
func (a *ReplyLogAdapter) LastRepliedAt(ctx context.Context, toAddr, threadID string) (*time.Time, error) {
	query := `SELECT replied_at FROM reply_log WHERE to_addr = ?`
	args := []any{toAddr}
	if threadID != "" {
		query += ` AND thread_id = ?`
		args = append(args, threadID)
	}
	query += ` ORDER BY replied_at DESC LIMIT 1`

	var repliedAt time.Time
	err := a.db.GetContext(ctx, &repliedAt, a.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reply_log: %w", err)
	}
	repliedAt = repliedAt.UTC()
	return &repliedAt, nil
}

// ListRecent returns the newest replies first.
func (a *ReplyLogAdapter) ListRecent(ctx context.Context, limit int) ([]*domain.ReplyLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []replyLogRow
	query := a.db.Rebind(`
		SELECT message_id, thread_id, to_addr, category, label, source,
		       template_id, order_id, ticket_id, replied_at, needs_followup
		FROM reply_log
		ORDER BY replied_at DESC, message_id
		LIMIT ?
	`)
	if err := a.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("list reply_log: %w", err)
	}

	entries := make([]*domain.ReplyLogEntry, len(rows))
	for i := range rows {
		entries[i] = rows[i].toEntity()
	}
	return entries, nil
}

var _ out.ReplyLogRepository = (*ReplyLogAdapter)(nil)
