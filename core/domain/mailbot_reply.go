package domain

import "time"

// OrderRecord is the shipment view of an order returned by the commerce system.
type OrderRecord struct {
	OrderID        string    `json:"order_id"`
	Status         string    `json:"status"`
	Carrier        string    `json:"carrier,omitempty"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	TrackingURL    string    `json:"tracking_url,omitempty"`
	LastUpdate     time.Time `json:"last_update"`
}

// ReplySource tells which strategy produced a reply.
type ReplySource string

const (
	ReplySourceOrderLookup ReplySource = "order_lookup"
	ReplySourceTemplate    ReplySource = "template"
	ReplySourceAIDraft     ReplySource = "ai_draft"
	ReplySourceNone        ReplySource = "none"
)

// ResolverState is a step of the reply resolution state machine.
type ResolverState string

const (
	StateNotStarted           ResolverState = "not_started"
	StateOrderLookupAttempted ResolverState = "order_lookup_attempted"
	StateOrderFound           ResolverState = "order_found"
	StateOrderNotFound        ResolverState = "order_not_found"
	StateTemplateAttempted    ResolverState = "template_attempted"
	StateTemplateFound        ResolverState = "template_found"
	StateTemplateMissing      ResolverState = "template_missing"
	StateAIDraftAttempted     ResolverState = "ai_draft_attempted"
	StateAIDraftSucceeded     ResolverState = "ai_draft_succeeded"
	StateAIDraftFailed        ResolverState = "ai_draft_failed"
	StateResolved             ResolverState = "resolved"
)

// ReplyDecision is the terminal artifact of reply resolution.
// Subject is always the customer's subject with "Re:" so the reply stays in
// their thread; a template's own subject becomes Heading and leads the body.
type ReplyDecision struct {
	Subject    string          `json:"subject"`
	Heading    string          `json:"heading,omitempty"`
	Body       string          `json:"body"`
	Source     ReplySource     `json:"source"`
	OrderID    string          `json:"order_id,omitempty"`
	TemplateID string          `json:"template_id,omitempty"`
	TicketID   string          `json:"ticket_id,omitempty"`
	Trace      []ResolverState `json:"trace"`

	// NeedsFollowUp marks a quiet-hours acknowledgement that owes a real
	// reply once operating hours resume.
	NeedsFollowUp bool `json:"needs_follow_up,omitempty"`
}

// Final returns the last state reached.
func (d ReplyDecision) Final() ResolverState {
	if len(d.Trace) == 0 {
		return StateNotStarted
	}
	return d.Trace[len(d.Trace)-1]
}

// Reached reports whether the decision passed through state s.
func (d ReplyDecision) Reached(s ResolverState) bool {
	for _, st := range d.Trace {
		if st == s {
			return true
		}
	}
	return false
}

// ReplyLogEntry records a reply that was actually sent.
type ReplyLogEntry struct {
	MessageID  string      `json:"message_id" db:"message_id"`
	ThreadID   string      `json:"thread_id" db:"thread_id"`
	ToAddr     string      `json:"to_addr" db:"to_addr"`
	Category   Category    `json:"category" db:"category"`
	Label      string      `json:"label" db:"label"`
	Source     ReplySource `json:"source" db:"source"`
	TemplateID string      `json:"template_id,omitempty" db:"template_id"`
	OrderID    string      `json:"order_id,omitempty" db:"order_id"`
	TicketID   string      `json:"ticket_id,omitempty" db:"ticket_id"`
	RepliedAt  time.Time   `json:"replied_at" db:"replied_at"`

	NeedsFollowUp bool `json:"needs_follow_up" db:"needs_followup"`
}
