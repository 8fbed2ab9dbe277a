package domain

import "time"

// Stage names a step of the per-message pipeline.
type Stage string

const (
	StageClassify Stage = "classify"
	StageLabel    Stage = "label"
	StageGuard    Stage = "guard"
	StageResolve  Stage = "resolve"
	StageSend     Stage = "send"
	StageMarkSent Stage = "mark_replied"
	StageLog      Stage = "reply_log"
	StageDispatch Stage = "dispatch"
)

// StageError is a failure isolated to one pipeline stage.
type StageError struct {
	Stage     Stage  `json:"stage" bson:"stage"`
	Error     string `json:"error" bson:"error"`
	Retryable bool   `json:"retryable" bson:"retryable"`
}

// SkipReason explains why a message got no reply.
type SkipReason string

const (
	SkipNone           SkipReason = ""
	SkipAlreadyReplied SkipReason = "already_replied"
	SkipAutomated      SkipReason = "automated_sender"
	SkipSelf           SkipReason = "own_address"
	SkipNoAutoReply    SkipReason = "auto_reply_disabled"
	SkipDryRun         SkipReason = "dry_run"
	SkipCooldown       SkipReason = "cooldown"
	SkipNoRecipient    SkipReason = "no_recipient"
)

// MessageOutcome is the per-message result of a run.
type MessageOutcome struct {
	MessageID  string       `json:"message_id" bson:"message_id"`
	ThreadID   string       `json:"thread_id" bson:"thread_id"`
	From       string       `json:"from" bson:"from"`
	Subject    string       `json:"subject" bson:"subject"`
	Category   Category     `json:"category" bson:"category"`
	Label      string       `json:"label" bson:"label"`
	Labeled    bool         `json:"labeled" bson:"labeled"`
	Replied    bool         `json:"replied" bson:"replied"`
	Source     ReplySource  `json:"source,omitempty" bson:"source,omitempty"`
	TemplateID string       `json:"template_id,omitempty" bson:"template_id,omitempty"`
	OrderID    string       `json:"order_id,omitempty" bson:"order_id,omitempty"`
	FollowUp   bool         `json:"follow_up,omitempty" bson:"follow_up,omitempty"`
	Skipped    SkipReason   `json:"skipped,omitempty" bson:"skipped,omitempty"`
	Errors     []StageError `json:"errors,omitempty" bson:"errors,omitempty"`
	DurationMs int64        `json:"duration_ms" bson:"duration_ms"`
}

// Failed reports whether any stage failed.
func (o *MessageOutcome) Failed() bool { return len(o.Errors) > 0 }

// RunReport summarizes one inbox run.
type RunReport struct {
	RunID      string            `json:"run_id" bson:"_id"`
	Query      string            `json:"query" bson:"query"`
	DryRun     bool              `json:"dry_run" bson:"dry_run"`
	StartedAt  time.Time         `json:"started_at" bson:"started_at"`
	FinishedAt time.Time         `json:"finished_at" bson:"finished_at"`
	Processed  int               `json:"processed" bson:"processed"`
	Labeled    int               `json:"labeled" bson:"labeled"`
	Replied    int               `json:"replied" bson:"replied"`
	Failed     int               `json:"failed" bson:"failed"`
	Details    []*MessageOutcome `json:"details" bson:"details"`
}

// Tally recomputes the counters from Details.
func (r *RunReport) Tally() {
	r.Processed, r.Labeled, r.Replied, r.Failed = 0, 0, 0, 0
	for _, d := range r.Details {
		if d == nil {
			continue
		}
		r.Processed++
		if d.Labeled {
			r.Labeled++
		}
		if d.Replied {
			r.Replied++
		}
		if d.Failed() {
			r.Failed++
		}
	}
}
