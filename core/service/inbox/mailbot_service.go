// Package inbox runs the per-message pipeline and whole inbox runs.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"mailbot/core/domain"
	"mailbot/core/port/in"
	"mailbot/core/port/out"
	"mailbot/core/service/classification"
	"mailbot/core/service/label"
	"mailbot/core/service/reply"
	"mailbot/pkg/metrics"
	"mailbot/pkg/ratelimit"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultQuery            = "in:inbox is:unread"
	DefaultMaxMessages      = 25
	DefaultAutoRepliedLabel = "Auto Replied"

	sendLimiterKey = "send"

	// followUpSuffix gives a follow-up its own cooldown slot so the
	// acknowledgement's slot does not block it.
	followUpSuffix = "#follow-up"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("inbox run already in progress")

// Dispatcher fans a batch of messages out to process.
// Implementations return one outcome per message, in input order.
type Dispatcher interface {
	Dispatch(ctx context.Context, msgs []*domain.Message, process func(context.Context, *domain.Message) *domain.MessageOutcome) []*domain.MessageOutcome
}

// SequentialDispatcher processes messages one after another.
type SequentialDispatcher struct{}

func (SequentialDispatcher) Dispatch(ctx context.Context, msgs []*domain.Message, process func(context.Context, *domain.Message) *domain.MessageOutcome) []*domain.MessageOutcome {
	outcomes := make([]*domain.MessageOutcome, 0, len(msgs))
	for _, m := range msgs {
		outcomes = append(outcomes, process(ctx, m))
	}
	return outcomes
}

// Config wires the service. Optional collaborators may be nil.
type Config struct {
	Mailbox    out.MailboxPort
	Classifier *classification.Classifier
	Labels     *label.Applier
	Resolver   *reply.Resolver

	ReplyLog    out.ReplyLogRepository
	Guard       out.ReplyGuard
	Reports     out.RunReportRepository
	SendLimiter *ratelimit.SlidingWindowLimiter
	Metrics     *metrics.Registry
	Dispatcher  Dispatcher

	// Hours decides when quiet-hours acknowledgements get their follow-up.
	// Nil means always.
	Hours *reply.BusinessHours

	Query            string
	MaxMessages      int
	AutoReply        bool
	AutoRepliedLabel string
	OwnAddresses     []string

	Now    func() time.Time
	Logger zerolog.Logger
}

// Service implements in.InboxService.
type Service struct {
	cfg     Config
	log     zerolog.Logger
	own     map[string]struct{}
	running atomic.Bool
}

// NewService creates the inbox service.
func NewService(cfg Config) *Service {
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = SequentialDispatcher{}
	}
	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.AutoRepliedLabel == "" {
		cfg.AutoRepliedLabel = DefaultAutoRepliedLabel
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	own := make(map[string]struct{}, len(cfg.OwnAddresses))
	for _, a := range cfg.OwnAddresses {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			own[a] = struct{}{}
		}
	}

	return &Service{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "inbox").Logger(),
		own: own,
	}
}

// AddOwnAddress registers another address the bot must never answer.
// Call before the first run.
func (s *Service) AddOwnAddress(addr string) {
	if addr = strings.ToLower(strings.TrimSpace(addr)); addr != "" {
		s.own[addr] = struct{}{}
	}
}

// Running reports whether a run is active.
func (s *Service) Running() bool { return s.running.Load() }

// Classify exposes the classifier for previews.
func (s *Service) Classify(msg *domain.Message) domain.ClassificationResult {
	return s.cfg.Classifier.Classify(msg)
}

// =============================================================================
// Run
// =============================================================================

// Run fetches candidates and processes each. Only a fetch failure fails the run.
func (s *Service) Run(ctx context.Context, opts in.RunOptions) (*domain.RunReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	query := opts.Query
	if query == "" {
		query = s.cfg.Query
	}
	max := opts.MaxMessages
	if max <= 0 {
		max = s.cfg.MaxMessages
	}
	dryRun := opts.DryRun || !s.cfg.AutoReply

	report := &domain.RunReport{
		RunID:     uuid.New().String(),
		Query:     query,
		DryRun:    dryRun,
		StartedAt: s.cfg.Now().UTC(),
	}
	log := s.log.With().Str("run_id", report.RunID).Logger()
	log.Info().Str("query", query).Int("max", max).Bool("dry_run", dryRun).Msg("inbox run started")

	start := time.Now()
	msgs, err := s.cfg.Mailbox.FetchCandidateMessages(ctx, query, max)
	s.cfg.Metrics.Record("fetch", time.Since(start), err != nil)
	if err != nil {
		log.Error().Err(err).Bool("retryable", out.IsRetryable(err)).Msg("fetch failed")
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}

	report.Details = s.cfg.Dispatcher.Dispatch(ctx, msgs, func(ctx context.Context, msg *domain.Message) *domain.MessageOutcome {
		return s.ProcessMessage(ctx, msg, dryRun)
	})
	report.FinishedAt = s.cfg.Now().UTC()
	report.Tally()

	if s.cfg.Reports != nil {
		// The run itself succeeded even when the report cannot be stored.
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if err := s.cfg.Reports.Save(saveCtx, report); err != nil {
			log.Warn().Err(err).Msg("failed to store run report")
		}
		cancel()
	}

	log.Info().
		Int("processed", report.Processed).
		Int("labeled", report.Labeled).
		Int("replied", report.Replied).
		Int("failed", report.Failed).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("inbox run finished")
	return report, nil
}

// =============================================================================
// Per-message pipeline
// =============================================================================

// ProcessMessage runs classify, label, guard, resolve, send and bookkeeping in
// that order. A failing stage is recorded and later stages still run where
// they make sense; it never returns nil.
func (s *Service) ProcessMessage(ctx context.Context, msg *domain.Message, dryRun bool) *domain.MessageOutcome {
	start := time.Now()
	if msg == nil {
		msg = &domain.Message{}
	}

	outcome := &domain.MessageOutcome{
		MessageID: msg.MessageID,
		ThreadID:  msg.ThreadID,
		From:      msg.FromEmail,
		Subject:   msg.Subject,
	}
	defer func() {
		outcome.DurationMs = time.Since(start).Milliseconds()
		s.cfg.Metrics.Record("message", time.Since(start), outcome.Failed())
	}()

	p := &pipeline{svc: s, msg: msg, outcome: outcome}
	p.log = s.log.With().Str("message_id", msg.MessageID).Str("thread_id", msg.ThreadID).Logger()

	// classify
	stageStart := time.Now()
	class := s.cfg.Classifier.Classify(msg)
	s.cfg.Metrics.Record(string(domain.StageClassify), time.Since(stageStart), false)
	outcome.Category = class.Category
	outcome.Label = class.Label

	// label
	if err := p.timed(domain.StageLabel, func() error {
		return s.cfg.Labels.EnsureLabelApplied(ctx, msg.ThreadID, class.Label)
	}); err == nil {
		outcome.Labeled = class.Label != ""
	}

	// eligibility and cooldown
	reason, followUp := s.skipReason(ctx, msg, class, dryRun)
	if reason != domain.SkipNone {
		outcome.Skipped = reason
		p.log.Debug().Str("skip", string(reason)).Msg("no reply")
		return outcome
	}
	p.followUp = followUp
	outcome.FollowUp = followUp
	if !p.acquire(ctx) {
		return outcome
	}

	// resolve
	stageStart = time.Now()
	decision := s.cfg.Resolver.Resolve(ctx, msg, class)
	s.cfg.Metrics.Record(string(domain.StageResolve), time.Since(stageStart), false)
	outcome.Source = decision.Source
	outcome.TemplateID = decision.TemplateID
	outcome.OrderID = decision.OrderID

	// send
	if s.cfg.SendLimiter != nil {
		if ok, wait := s.cfg.SendLimiter.Allow(ctx, sendLimiterKey); !ok {
			p.fail(domain.StageSend, fmt.Errorf("hourly reply limit reached, retry in %s", wait.Round(time.Second)), true)
			p.release(ctx)
			return outcome
		}
	}

	err := p.timed(domain.StageSend, func() error {
		_, err := s.cfg.Mailbox.SendReply(ctx, out.OutgoingReply{
			ThreadID:   msg.ThreadID,
			To:         msg.FromEmail,
			Subject:    decision.Subject,
			Body:       decision.Body,
			InReplyTo:  msg.RFCMessageID,
			References: msg.References,
		})
		return err
	})
	if err != nil {
		p.release(ctx)
		return outcome
	}
	outcome.Replied = true
	p.log.Info().
		Str("source", string(decision.Source)).
		Str("to", msg.FromEmail).
		Bool("follow_up", p.followUp).
		Bool("needs_follow_up", decision.NeedsFollowUp).
		Msg("reply sent")

	// post-send bookkeeping, each step isolated
	_ = p.timed(domain.StageMarkSent, func() error {
		return s.cfg.Labels.EnsureLabelApplied(ctx, msg.ThreadID, s.cfg.AutoRepliedLabel)
	})
	if s.cfg.ReplyLog != nil {
		entry := &domain.ReplyLogEntry{
			MessageID:     msg.MessageID,
			ThreadID:      msg.ThreadID,
			ToAddr:        msg.FromEmail,
			Category:      class.Category,
			Label:         class.Label,
			Source:        decision.Source,
			TemplateID:    decision.TemplateID,
			OrderID:       decision.OrderID,
			TicketID:      decision.TicketID,
			RepliedAt:     s.cfg.Now().UTC(),
			NeedsFollowUp: decision.NeedsFollowUp,
		}
		_ = p.timed(domain.StageLog, func() error {
			if p.followUp {
				return s.cfg.ReplyLog.CompleteFollowUp(ctx, entry)
			}
			return s.cfg.ReplyLog.Record(ctx, entry)
		})
	}

	return outcome
}

// skipReason returns why msg gets no reply. followUp is true when msg was
// acknowledged during quiet hours and its follow-up is now due.
func (s *Service) skipReason(ctx context.Context, msg *domain.Message, class domain.ClassificationResult, dryRun bool) (reason domain.SkipReason, followUp bool) {
	switch {
	case !class.AutoReply:
		return domain.SkipNoAutoReply, false
	case msg.Automated:
		return domain.SkipAutomated, false
	case msg.FromEmail == "":
		return domain.SkipNoRecipient, false
	case s.isOwnAddress(msg.FromEmail):
		return domain.SkipSelf, false
	}
	if s.alreadyReplied(ctx, msg) {
		if !s.followUpDue(ctx, msg) {
			return domain.SkipAlreadyReplied, false
		}
		followUp = true
	}
	if dryRun {
		return domain.SkipDryRun, followUp
	}
	return domain.SkipNone, followUp
}

// followUpDue reports whether msg holds an open quiet-hours acknowledgement
// and operating hours have resumed. A lookup failure counts as not due.
func (s *Service) followUpDue(ctx context.Context, msg *domain.Message) bool {
	if s.cfg.ReplyLog == nil || !s.cfg.Hours.IsOperatingHours(s.cfg.Now()) {
		return false
	}
	pending, err := s.cfg.ReplyLog.PendingFollowUp(ctx, msg.MessageID)
	if err != nil {
		s.log.Debug().Err(err).Str("message_id", msg.MessageID).Msg("follow-up lookup failed")
		return false
	}
	return pending
}

func (s *Service) isOwnAddress(addr string) bool {
	_, ok := s.own[strings.ToLower(strings.TrimSpace(addr))]
	return ok
}

// alreadyReplied checks for the auto-replied label on the message.
// A lookup failure counts as not replied; the cooldown guard still applies.
func (s *Service) alreadyReplied(ctx context.Context, msg *domain.Message) bool {
	if len(msg.LabelIDs) == 0 {
		return false
	}
	id, err := s.cfg.Labels.LabelID(ctx, s.cfg.AutoRepliedLabel)
	if err != nil {
		s.log.Debug().Err(err).Msg("auto-replied label lookup failed")
		return false
	}
	return msg.HasLabel(id)
}

// pipeline carries the per-message state through the stages.
type pipeline struct {
	svc     *Service
	msg     *domain.Message
	outcome *domain.MessageOutcome
	log     zerolog.Logger

	followUp bool
}

// guardThread is the cooldown slot for this reply.
func (p *pipeline) guardThread() string {
	if p.followUp {
		return p.msg.ThreadID + followUpSuffix
	}
	return p.msg.ThreadID
}

func (p *pipeline) timed(stage domain.Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	p.svc.cfg.Metrics.Record(string(stage), time.Since(start), err != nil)
	if err != nil {
		p.fail(stage, err, out.IsRetryable(err))
	}
	return err
}

func (p *pipeline) fail(stage domain.Stage, err error, retryable bool) {
	p.outcome.Errors = append(p.outcome.Errors, domain.StageError{
		Stage:     stage,
		Error:     err.Error(),
		Retryable: retryable,
	})
	p.log.Warn().
		Err(err).
		Str("stage", string(stage)).
		Bool("retryable", retryable).
		Msg("stage failed")
}

// acquire takes the cooldown guard. False means no reply goes out.
func (p *pipeline) acquire(ctx context.Context) bool {
	guard := p.svc.cfg.Guard
	if guard == nil {
		return true
	}
	ok, err := guard.Acquire(ctx, p.msg.FromEmail, p.guardThread())
	if err != nil {
		// Unknown reply state: do not risk a duplicate.
		p.fail(domain.StageGuard, err, true)
		return false
	}
	if !ok {
		p.outcome.Skipped = domain.SkipCooldown
		p.log.Debug().Str("skip", string(domain.SkipCooldown)).Msg("no reply")
	}
	return ok
}

func (p *pipeline) release(ctx context.Context) {
	guard := p.svc.cfg.Guard
	if guard == nil {
		return
	}
	if err := guard.Release(context.WithoutCancel(ctx), p.msg.FromEmail, p.guardThread()); err != nil {
		p.log.Warn().Err(err).Msg("failed to release reply guard")
	}
}

var _ in.InboxService = (*Service)(nil)
