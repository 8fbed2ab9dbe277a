package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"mailbot/core/port/in"
	"mailbot/core/service/inbox"
	"mailbot/pkg/logger"
)

// =============================================================================
// PollScheduler - 주기적 인박스 처리
// =============================================================================

const (
	DefaultPollInterval = 5 * time.Minute
	pollStartDelay      = 5 * time.Second
	pollRunTimeout      = 10 * time.Minute
)

// PollScheduler triggers an inbox run every interval.
// A tick that lands while a run is still active is skipped.
type PollScheduler struct {
	inbox    in.InboxService
	opts     in.RunOptions
	interval time.Duration
	delay    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPollScheduler creates a new poll scheduler.
func NewPollScheduler(inboxSvc in.InboxService, opts in.RunOptions, interval time.Duration) *PollScheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PollScheduler{
		inbox:    inboxSvc,
		opts:     opts,
		interval: interval,
		delay:    pollStartDelay,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the scheduler loop.
func (s *PollScheduler) Start() {
	logger.Info("[PollScheduler] Starting (interval %s)", s.interval)
	s.wg.Add(1)
	go s.run()
}

// Stop stops the loop and waits for an active run to return.
func (s *PollScheduler) Stop() {
	logger.Info("[PollScheduler] Stopping...")
	s.cancel()
	s.wg.Wait()
}

// SetStartDelay sets the delay before the first run (for testing).
func (s *PollScheduler) SetStartDelay(d time.Duration) {
	s.delay = d
}

func (s *PollScheduler) run() {
	defer s.wg.Done()

	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.delay):
	}
	s.tick()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[PollScheduler] Stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *PollScheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, pollRunTimeout)
	defer cancel()

	report, err := s.inbox.Run(ctx, s.opts)
	switch {
	case errors.Is(err, inbox.ErrRunInProgress):
		logger.Debug("[PollScheduler] Previous run still active, skipping tick")
	case err != nil:
		logger.Error("[PollScheduler] Inbox run failed: %v", err)
	default:
		logger.Info("[PollScheduler] Run %s: processed=%d labeled=%d replied=%d failed=%d",
			report.RunID, report.Processed, report.Labeled, report.Replied, report.Failed)
	}
}

var _ inbox.Dispatcher = (*PoolDispatcher)(nil)
