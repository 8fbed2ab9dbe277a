package out

import (
	"context"
	"time"

	"mailbot/core/domain"
)

// =============================================================================
// Mailbox
// =============================================================================

// OutgoingReply is an in-thread reply handed to the mailbox.
type OutgoingReply struct {
	ThreadID   string
	To         string
	Subject    string
	Body       string
	InReplyTo  string
	References string
}

// MailboxPort is the mailbox collaborator (fetch, labels, send).
type MailboxPort interface {
	FetchCandidateMessages(ctx context.Context, query string, max int) ([]*domain.Message, error)
	EnsureLabel(ctx context.Context, name string) (string, error)
	ApplyLabel(ctx context.Context, threadID, labelID string) error
	SendReply(ctx context.Context, reply OutgoingReply) (string, error)
}

// =============================================================================
// Commerce / language model
// =============================================================================

// CommercePort looks up an order's shipment status.
// Returns ErrOrderNotFound when the store has no such order.
type CommercePort interface {
	LookupOrder(ctx context.Context, orderID string) (*domain.OrderRecord, error)
}

// DrafterPort drafts a reply with a language model.
type DrafterPort interface {
	DraftReply(ctx context.Context, systemPrompt, messageText string) (string, error)
}

// =============================================================================
// Bookkeeping
// =============================================================================

// ReplyLogRepository persists sent replies.
type ReplyLogRepository interface {
	Record(ctx context.Context, entry *domain.ReplyLogEntry) error
	LastRepliedAt(ctx context.Context, toAddr, threadID string) (*time.Time, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.ReplyLogEntry, error)

	// PendingFollowUp reports whether messageID was answered with a
	// quiet-hours acknowledgement that still owes a reply.
	PendingFollowUp(ctx context.Context, messageID string) (bool, error)
	// CompleteFollowUp overwrites the acknowledgement row with the reply
	// that followed it.
	CompleteFollowUp(ctx context.Context, entry *domain.ReplyLogEntry) error
}

// ReplyGuard enforces the per sender+thread reply cooldown.
type ReplyGuard interface {
	// Acquire returns false when a reply was already sent inside the cooldown.
	Acquire(ctx context.Context, sender, threadID string) (bool, error)
	// Release undoes an Acquire whose reply was never sent.
	Release(ctx context.Context, sender, threadID string) error
}

// DraftQuota caps language-model calls per day.
type DraftQuota interface {
	Reserve(ctx context.Context) error
}
