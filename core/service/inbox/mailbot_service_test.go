package inbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mailbot/core/domain"
	"mailbot/core/port/in"
	"mailbot/core/port/out"
	"mailbot/core/service/classification"
	"mailbot/core/service/label"
	"mailbot/core/service/reply"
	"mailbot/pkg/metrics"
	"mailbot/pkg/ratelimit"

	"github.com/rs/zerolog"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeMailbox struct {
	mu sync.Mutex

	messages []*domain.Message
	fetchErr error
	block    chan struct{}

	labels   map[string]string
	applied  map[string][]string
	applyErr map[string]error // by label id

	sent    []out.OutgoingReply
	sendErr error
}

func newFakeMailbox(msgs ...*domain.Message) *fakeMailbox {
	return &fakeMailbox{
		messages: msgs,
		labels:   map[string]string{},
		applied:  map[string][]string{},
		applyErr: map[string]error{},
	}
}

func (f *fakeMailbox) FetchCandidateMessages(ctx context.Context, _ string, max int) ([]*domain.Message, error) {
	if f.block != nil {
		<-f.block
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if max < len(f.messages) {
		return f.messages[:max], nil
	}
	return f.messages, nil
}

func (f *fakeMailbox) EnsureLabel(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.labels[name]; ok {
		return id, nil
	}
	id := "Label_" + strings.ReplaceAll(name, " ", "_")
	f.labels[name] = id
	return id, nil
}

func (f *fakeMailbox) ApplyLabel(_ context.Context, threadID, labelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.applyErr[labelID]; err != nil {
		return err
	}
	f.applied[threadID] = append(f.applied[threadID], labelID)
	return nil
}

func (f *fakeMailbox) SendReply(_ context.Context, r out.OutgoingReply) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, r)
	return "sent-" + r.ThreadID, nil
}

type fakeReplyLog struct {
	mu        sync.Mutex
	entries   []*domain.ReplyLogEntry
	err       error
	pending   map[string]bool
	completed []*domain.ReplyLogEntry
}

func (f *fakeReplyLog) Record(_ context.Context, e *domain.ReplyLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeReplyLog) LastRepliedAt(context.Context, string, string) (*time.Time, error) {
	return nil, nil
}

func (f *fakeReplyLog) ListRecent(_ context.Context, limit int) ([]*domain.ReplyLogEntry, error) {
	return f.entries, nil
}

func (f *fakeReplyLog) PendingFollowUp(_ context.Context, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[messageID], nil
}

func (f *fakeReplyLog) CompleteFollowUp(_ context.Context, e *domain.ReplyLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, e.MessageID)
	f.completed = append(f.completed, e)
	return nil
}

type fakeGuard struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
	err      error
}

func (g *fakeGuard) Acquire(_ context.Context, sender, thread string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.held == nil {
		g.held = map[string]bool{}
	}
	k := sender + "|" + thread
	if g.held[k] {
		return false, nil
	}
	g.held[k] = true
	return true, nil
}

func (g *fakeGuard) Release(_ context.Context, sender, thread string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := sender + "|" + thread
	delete(g.held, k)
	g.released = append(g.released, k)
	return nil
}

type fakeReports struct {
	saved []*domain.RunReport
	err   error
}

func (f *fakeReports) Save(_ context.Context, r *domain.RunReport) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, r)
	return nil
}

func (f *fakeReports) Get(context.Context, string) (*domain.RunReport, error) { return nil, nil }

func (f *fakeReports) ListRecent(context.Context, int) ([]*domain.RunReport, error) {
	return f.saved, nil
}

// =============================================================================
// Helpers
// =============================================================================

var noon = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	mailbox *fakeMailbox
	log     *fakeReplyLog
	guard   *fakeGuard
	reports *fakeReports
	svc     *Service
}

func newTestEnv(t *testing.T, mailbox *fakeMailbox, mutate func(*Config)) *testEnv {
	t.Helper()

	rules, err := domain.NewRuleSet(domain.DefaultRules(), domain.RuleSetDefaults{Label: "Routine"})
	if err != nil {
		t.Fatal(err)
	}
	now := func() time.Time { return noon }

	env := &testEnv{
		mailbox: mailbox,
		log:     &fakeReplyLog{},
		guard:   &fakeGuard{},
		reports: &fakeReports{},
	}
	cfg := Config{
		Mailbox:    mailbox,
		Classifier: classification.NewClassifier(rules),
		Labels:     label.NewApplier(mailbox, zerolog.Nop()),
		Resolver: reply.NewResolver(reply.ResolverConfig{
			Brand:  "Oubon",
			Now:    now,
			Logger: zerolog.Nop(),
		}),
		ReplyLog:     env.log,
		Guard:        env.guard,
		Reports:      env.reports,
		Metrics:      metrics.NewRegistry(50),
		AutoReply:    true,
		OwnAddresses: []string{"Support@Oubon.com"},
		Now:          now,
		Logger:       zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	env.svc = NewService(cfg)
	return env
}

func orderMessage(id string) *domain.Message {
	return &domain.Message{
		MessageID:    id,
		ThreadID:     "thread-" + id,
		From:         "Jane Doe <jane@example.com>",
		FromName:     "Jane Doe",
		FromEmail:    "jane@example.com",
		Subject:      "Where is my order?",
		BodyText:     "My package has not arrived, order #1234",
		RFCMessageID: "<" + id + "@mail>",
	}
}

func hasStageError(o *domain.MessageOutcome, stage domain.Stage) bool {
	for _, e := range o.Errors {
		if e.Stage == stage {
			return true
		}
	}
	return false
}

// =============================================================================
// ProcessMessage
// =============================================================================

func TestProcessMessage_RepliesAndRecords(t *testing.T) {
	env := newTestEnv(t, newFakeMailbox(), nil)
	msg := orderMessage("m1")

	o := env.svc.ProcessMessage(context.Background(), msg, false)

	if o.Failed() {
		t.Fatalf("unexpected errors: %+v", o.Errors)
	}
	if o.Category != domain.CategoryOrders || o.Label != "Orders" || !o.Labeled {
		t.Errorf("classification outcome = %+v", o)
	}
	if !o.Replied || o.Source != domain.ReplySourceTemplate || o.OrderID != "#1234" {
		t.Errorf("reply outcome = %+v", o)
	}

	if len(env.mailbox.sent) != 1 {
		t.Fatalf("sent %d replies, want 1", len(env.mailbox.sent))
	}
	sent := env.mailbox.sent[0]
	if sent.To != "jane@example.com" || sent.ThreadID != "thread-m1" || sent.InReplyTo != "<m1@mail>" {
		t.Errorf("reply headers = %+v", sent)
	}
	if sent.Subject != "Re: Where is my order?" {
		t.Errorf("subject = %q, want the original subject so Gmail keeps the thread", sent.Subject)
	}
	if !strings.HasPrefix(sent.Body, "We're on it -- order #1234") {
		t.Errorf("body = %q, want template heading with rendered order id", sent.Body)
	}

	applied := env.mailbox.applied["thread-m1"]
	if len(applied) != 2 || applied[0] != "Label_Orders" || applied[1] != "Label_Auto_Replied" {
		t.Errorf("applied labels = %v, want category then auto-replied", applied)
	}

	if len(env.log.entries) != 1 {
		t.Fatalf("reply log entries = %d", len(env.log.entries))
	}
	entry := env.log.entries[0]
	if entry.ToAddr != "jane@example.com" || entry.OrderID != "#1234" || entry.Source != domain.ReplySourceTemplate {
		t.Errorf("log entry = %+v", entry)
	}
	if !entry.RepliedAt.Equal(noon) {
		t.Errorf("RepliedAt = %v", entry.RepliedAt)
	}
}

func TestProcessMessage_LabelFailureDoesNotBlockSend(t *testing.T) {
	mb := newFakeMailbox()
	mb.applyErr["Label_Orders"] = out.NewRemoteServiceError("gmail", out.RemoteErrServer, "boom", nil, true)
	env := newTestEnv(t, mb, nil)

	o := env.svc.ProcessMessage(context.Background(), orderMessage("m1"), false)

	if o.Labeled {
		t.Error("Labeled should be false when apply failed")
	}
	if !hasStageError(o, domain.StageLabel) {
		t.Errorf("missing label stage error: %+v", o.Errors)
	}
	if !o.Errors[0].Retryable {
		t.Error("server error should be retryable")
	}
	if !o.Replied || len(mb.sent) != 1 {
		t.Error("reply must still be sent after a label failure")
	}
}

func TestProcessMessage_SendFailureReleasesGuard(t *testing.T) {
	mb := newFakeMailbox()
	mb.sendErr = out.NewRemoteServiceError("gmail", out.RemoteErrRateLimit, "slow down", nil, true)
	env := newTestEnv(t, mb, nil)

	o := env.svc.ProcessMessage(context.Background(), orderMessage("m1"), false)

	if o.Replied {
		t.Error("Replied must be false when send failed")
	}
	if !hasStageError(o, domain.StageSend) {
		t.Fatalf("missing send error: %+v", o.Errors)
	}
	if len(env.guard.released) != 1 {
		t.Errorf("guard released %d times, want 1", len(env.guard.released))
	}
	if len(env.log.entries) != 0 {
		t.Error("failed send must not be logged as a reply")
	}
	if len(mb.applied["thread-m1"]) != 1 {
		t.Errorf("auto-replied label applied after failed send: %v", mb.applied["thread-m1"])
	}
}

func TestProcessMessage_BookkeepingFailuresAreIsolated(t *testing.T) {
	mb := newFakeMailbox()
	mb.applyErr["Label_Auto_Replied"] = errors.New("label gone")
	env := newTestEnv(t, mb, nil)
	env.log.err = errors.New("db down")

	o := env.svc.ProcessMessage(context.Background(), orderMessage("m1"), false)

	if !o.Replied {
		t.Fatal("reply was sent, Replied must be true")
	}
	if !hasStageError(o, domain.StageMarkSent) || !hasStageError(o, domain.StageLog) {
		t.Errorf("want mark and log errors, got %+v", o.Errors)
	}
}

func TestProcessMessage_Skips(t *testing.T) {
	tests := []struct {
		name   string
		msg    func() *domain.Message
		dryRun bool
		want   domain.SkipReason
	}{
		{
			name: "routine has no auto reply",
			msg: func() *domain.Message {
				m := orderMessage("r1")
				m.Subject, m.BodyText = "hello", "just saying hi"
				return m
			},
			want: domain.SkipNoAutoReply,
		},
		{
			name: "automated sender",
			msg: func() *domain.Message {
				m := orderMessage("a1")
				m.Automated = true
				return m
			},
			want: domain.SkipAutomated,
		},
		{
			name: "own address",
			msg: func() *domain.Message {
				m := orderMessage("s1")
				m.FromEmail = "support@oubon.com"
				return m
			},
			want: domain.SkipSelf,
		},
		{
			name: "no recipient",
			msg: func() *domain.Message {
				m := orderMessage("n1")
				m.FromEmail = ""
				return m
			},
			want: domain.SkipNoRecipient,
		},
		{
			name: "already carries auto-replied label",
			msg: func() *domain.Message {
				m := orderMessage("l1")
				m.LabelIDs = []string{"INBOX", "Label_Auto_Replied"}
				return m
			},
			want: domain.SkipAlreadyReplied,
		},
		{
			name:   "dry run",
			msg:    func() *domain.Message { return orderMessage("d1") },
			dryRun: true,
			want:   domain.SkipDryRun,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, newFakeMailbox(), nil)
			o := env.svc.ProcessMessage(context.Background(), tt.msg(), tt.dryRun)

			if o.Skipped != tt.want {
				t.Errorf("Skipped = %q, want %q", o.Skipped, tt.want)
			}
			if o.Replied || len(env.mailbox.sent) != 0 {
				t.Error("skipped message must not be answered")
			}
			if !o.Labeled {
				t.Error("skipped messages are still labeled")
			}
		})
	}
}

func TestProcessMessage_CooldownPreventsSecondReply(t *testing.T) {
	env := newTestEnv(t, newFakeMailbox(), nil)
	ctx := context.Background()

	first := env.svc.ProcessMessage(ctx, orderMessage("m1"), false)
	second := orderMessage("m2")
	second.ThreadID = "thread-m1"
	o := env.svc.ProcessMessage(ctx, second, false)

	if !first.Replied {
		t.Fatal("first message should be answered")
	}
	if o.Replied || o.Skipped != domain.SkipCooldown {
		t.Errorf("second outcome = %+v, want cooldown skip", o)
	}
	if len(env.mailbox.sent) != 1 {
		t.Errorf("sent %d replies, want 1", len(env.mailbox.sent))
	}
}

func TestProcessMessage_GuardErrorSuppressesReply(t *testing.T) {
	env := newTestEnv(t, newFakeMailbox(), nil)
	env.guard.err = errors.New("redis down")

	o := env.svc.ProcessMessage(context.Background(), orderMessage("m1"), false)
	if o.Replied || !hasStageError(o, domain.StageGuard) {
		t.Errorf("outcome = %+v", o)
	}
}

func TestProcessMessage_SendLimiter(t *testing.T) {
	env := newTestEnv(t, newFakeMailbox(), func(c *Config) {
		c.SendLimiter = ratelimit.NewSlidingWindowLimiter(nil, "test", 1, time.Hour)
	})
	ctx := context.Background()

	a := env.svc.ProcessMessage(ctx, orderMessage("m1"), false)
	b := env.svc.ProcessMessage(ctx, orderMessage("m2"), false)

	if !a.Replied {
		t.Fatal("first reply should pass the limiter")
	}
	if b.Replied || !hasStageError(b, domain.StageSend) {
		t.Errorf("second outcome = %+v, want limiter send error", b)
	}
	if !b.Errors[len(b.Errors)-1].Retryable {
		t.Error("limiter refusal should be retryable")
	}
}

func quietHoursEnv(t *testing.T, mb *fakeMailbox, at time.Time) *testEnv {
	t.Helper()
	hours, err := reply.NewBusinessHours("UTC", "21:00", "07:00", nil)
	if err != nil {
		t.Fatal(err)
	}
	now := func() time.Time { return at }
	return newTestEnv(t, mb, func(c *Config) {
		c.Now = now
		c.Hours = hours
		c.Resolver = reply.NewResolver(reply.ResolverConfig{
			Templates: domain.NewTemplateSet([]domain.Template{{
				ID:   domain.TemplateQuietHoursAck,
				Body: "Hi {{name}}, we're closed for the night and will follow up in the morning.",
			}}, nil),
			Hours:  hours,
			Brand:  "Oubon",
			Now:    now,
			Logger: zerolog.Nop(),
		})
	})
}

func TestProcessMessage_QuietHoursAckOwesFollowUp(t *testing.T) {
	night := time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC)
	env := quietHoursEnv(t, newFakeMailbox(), night)

	o := env.svc.ProcessMessage(context.Background(), orderMessage("m1"), false)

	if !o.Replied || o.Source != domain.ReplySourceNone || o.FollowUp {
		t.Fatalf("outcome = %+v", o)
	}
	if !strings.Contains(env.mailbox.sent[0].Body, "closed for the night") {
		t.Errorf("body = %q, want quiet-hours acknowledgement", env.mailbox.sent[0].Body)
	}
	if len(env.log.entries) != 1 || !env.log.entries[0].NeedsFollowUp {
		t.Errorf("log entries = %+v, want one pending follow-up", env.log.entries)
	}
}

func TestProcessMessage_FollowUpAfterQuietHours(t *testing.T) {
	acked := func() *domain.Message {
		m := orderMessage("m1")
		m.LabelIDs = []string{"INBOX", "Label_Auto_Replied"}
		return m
	}

	tests := []struct {
		name      string
		at        time.Time
		pending   bool
		wantReply bool
		wantSkip  domain.SkipReason
	}{
		{"still quiet hours", time.Date(2026, 10, 15, 6, 30, 0, 0, time.UTC), true, false, domain.SkipAlreadyReplied},
		{"operating hours resumed", time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC), true, true, domain.SkipNone},
		{"weekend waits", time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC), true, false, domain.SkipAlreadyReplied},
		{"follow-up already done", time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC), false, false, domain.SkipAlreadyReplied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := quietHoursEnv(t, newFakeMailbox(), tt.at)
			env.log.pending = map[string]bool{"m1": tt.pending}
			// The acknowledgement still holds the thread's cooldown slot.
			if ok, _ := env.guard.Acquire(context.Background(), "jane@example.com", "thread-m1"); !ok {
				t.Fatal("could not seed cooldown")
			}

			o := env.svc.ProcessMessage(context.Background(), acked(), false)

			if o.Replied != tt.wantReply || o.Skipped != tt.wantSkip {
				t.Fatalf("outcome = %+v, want replied=%v skip=%q", o, tt.wantReply, tt.wantSkip)
			}
			if !tt.wantReply {
				if len(env.mailbox.sent) != 0 || len(env.log.completed) != 0 {
					t.Error("no follow-up expected")
				}
				return
			}

			if !o.FollowUp || o.Failed() {
				t.Errorf("outcome = %+v, want clean follow-up", o)
			}
			if len(env.log.entries) != 0 || len(env.log.completed) != 1 {
				t.Fatalf("recorded %d, completed %d; want the ack completed", len(env.log.entries), len(env.log.completed))
			}
			done := env.log.completed[0]
			if done.MessageID != "m1" || done.NeedsFollowUp {
				t.Errorf("completed entry = %+v", done)
			}
			if strings.Contains(env.mailbox.sent[0].Body, "closed for the night") {
				t.Error("follow-up repeated the quiet-hours acknowledgement")
			}
			if pending, _ := env.log.PendingFollowUp(context.Background(), "m1"); pending {
				t.Error("follow-up must be marked done")
			}

			// A second run the same morning finds nothing owed.
			again := env.svc.ProcessMessage(context.Background(), acked(), false)
			if again.Replied || again.Skipped != domain.SkipAlreadyReplied {
				t.Errorf("second pass = %+v, want already replied", again)
			}
		})
	}
}

func TestProcessMessage_FollowUpSendFailureStaysPending(t *testing.T) {
	mb := newFakeMailbox()
	mb.sendErr = out.NewRemoteServiceError("gmail", out.RemoteErrServer, "boom", nil, true)
	env := quietHoursEnv(t, mb, time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC))
	env.log.pending = map[string]bool{"m1": true}

	m := orderMessage("m1")
	m.LabelIDs = []string{"Label_Auto_Replied"}
	o := env.svc.ProcessMessage(context.Background(), m, false)

	if o.Replied || !o.FollowUp || !hasStageError(o, domain.StageSend) {
		t.Fatalf("outcome = %+v", o)
	}
	if len(env.guard.released) != 1 || env.guard.released[0] != "jane@example.com|thread-m1"+followUpSuffix {
		t.Errorf("released = %v, want the follow-up slot", env.guard.released)
	}
	if pending, _ := env.log.PendingFollowUp(context.Background(), "m1"); !pending {
		t.Error("failed follow-up must stay pending")
	}
}

// =============================================================================
// Run
// =============================================================================

func TestRun_ProcessesAndStoresReport(t *testing.T) {
	routine := orderMessage("r1")
	routine.Subject, routine.BodyText = "hi", "nothing to see"
	mb := newFakeMailbox(orderMessage("m1"), routine)
	env := newTestEnv(t, mb, nil)

	report, err := env.svc.Run(context.Background(), in.RunOptions{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.RunID == "" || report.Query != DefaultQuery || report.DryRun {
		t.Errorf("report header = %+v", report)
	}
	if report.Processed != 2 || report.Labeled != 2 || report.Replied != 1 || report.Failed != 0 {
		t.Errorf("tally = %d/%d/%d/%d", report.Processed, report.Labeled, report.Replied, report.Failed)
	}
	if len(env.reports.saved) != 1 || env.reports.saved[0] != report {
		t.Error("report not stored")
	}
}

func TestRun_FetchFailureFailsRun(t *testing.T) {
	mb := newFakeMailbox()
	mb.fetchErr = out.NewRemoteServiceError("gmail", out.RemoteErrTokenExpired, "expired", nil, false)
	env := newTestEnv(t, mb, nil)

	_, err := env.svc.Run(context.Background(), in.RunOptions{})
	if out.RemoteCode(err) != out.RemoteErrTokenExpired {
		t.Fatalf("err = %v", err)
	}
	if len(env.reports.saved) != 0 {
		t.Error("no report for a failed fetch")
	}
}

func TestRun_ReportStoreFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, newFakeMailbox(orderMessage("m1")), nil)
	env.reports.err = errors.New("mongo down")

	report, err := env.svc.Run(context.Background(), in.RunOptions{})
	if err != nil || report.Replied != 1 {
		t.Fatalf("Run = %+v, %v", report, err)
	}
}

func TestRun_AutoReplyDisabledIsDryRun(t *testing.T) {
	env := newTestEnv(t, newFakeMailbox(orderMessage("m1")), func(c *Config) { c.AutoReply = false })

	report, err := env.svc.Run(context.Background(), in.RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !report.DryRun || report.Replied != 0 || report.Labeled != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.Details[0].Skipped != domain.SkipDryRun {
		t.Errorf("skip = %q", report.Details[0].Skipped)
	}
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	mb := newFakeMailbox()
	mb.block = make(chan struct{})
	env := newTestEnv(t, mb, nil)

	done := make(chan error, 1)
	go func() {
		_, err := env.svc.Run(context.Background(), in.RunOptions{})
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !env.svc.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if _, err := env.svc.Run(context.Background(), in.RunOptions{}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second Run err = %v, want ErrRunInProgress", err)
	}
	close(mb.block)
	if err := <-done; err != nil {
		t.Errorf("first Run: %v", err)
	}
}
