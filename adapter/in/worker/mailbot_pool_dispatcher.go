package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"mailbot/core/domain"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// =============================================================================
// go-pkgz/pool 기반 메시지 디스패처
// =============================================================================

// PoolConfig holds dispatcher configuration.
type PoolConfig struct {
	Workers        int           // 동시 처리 메시지 수 (WORKER_MAX)
	MessageTimeout time.Duration // 메시지 1건 처리 제한 시간
	BatchSize      int
	WorkerChanSize int
}

// DefaultPoolConfig returns default dispatcher configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        4,
		MessageTimeout: 90 * time.Second,
		BatchSize:      1,
		WorkerChanSize: 16,
	}
}

// PoolMetrics holds cumulative dispatcher counters.
type PoolMetrics struct {
	MessagesProcessed int64
	MessagesTimedOut  int64
	MessagesPanicked  int64
	MessagesDropped   int64
	AvgProcessTime    int64 // milliseconds
}

// PoolDispatcher fans a run's messages out to a bounded go-pkgz/pool worker group.
// A new group is started per run so a cancelled run never leaks workers.
type PoolDispatcher struct {
	config  *PoolConfig
	metrics PoolMetrics
	log     zerolog.Logger
}

// NewPoolDispatcher creates a dispatcher. Nil config uses DefaultPoolConfig.
func NewPoolDispatcher(config *PoolConfig, log zerolog.Logger) *PoolDispatcher {
	def := DefaultPoolConfig()
	if config == nil {
		config = def
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.MessageTimeout <= 0 {
		config.MessageTimeout = def.MessageTimeout
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.WorkerChanSize <= 0 {
		config.WorkerChanSize = def.WorkerChanSize
	}
	return &PoolDispatcher{
		config: config,
		log:    log.With().Str("component", "worker_pool").Logger(),
	}
}

// dispatchJob is one message plus its slot in the result slice.
type dispatchJob struct {
	idx int
	msg *domain.Message
}

// messageWorker implements pool.Worker for dispatchJob.
type messageWorker struct {
	d        *PoolDispatcher
	process  func(context.Context, *domain.Message) *domain.MessageOutcome
	outcomes []*domain.MessageOutcome
}

// Do implements pool.Worker interface. Failures are carried in the outcome,
// so the group never stops on one message.
func (w *messageWorker) Do(ctx context.Context, job dispatchJob) error {
	w.outcomes[job.idx] = w.d.processJob(ctx, job.msg, w.process)
	return nil
}

// Dispatch processes msgs with at most Workers in flight and returns outcomes
// in input order.
func (d *PoolDispatcher) Dispatch(
	ctx context.Context,
	msgs []*domain.Message,
	process func(context.Context, *domain.Message) *domain.MessageOutcome,
) []*domain.MessageOutcome {
	outcomes := make([]*domain.MessageOutcome, len(msgs))
	if len(msgs) == 0 {
		return outcomes
	}

	workers := d.config.Workers
	if workers > len(msgs) {
		workers = len(msgs)
	}

	worker := &messageWorker{d: d, process: process, outcomes: outcomes}
	group := pool.New[dispatchJob](workers, worker).
		WithBatchSize(d.config.BatchSize).
		WithWorkerChanSize(d.config.WorkerChanSize).
		WithContinueOnError()

	if err := group.Go(ctx); err != nil {
		d.log.Error().Err(err).Msg("failed to start worker group, processing sequentially")
		for i, m := range msgs {
			outcomes[i] = d.processJob(ctx, m, process)
		}
		return outcomes
	}

	for i, m := range msgs {
		group.Submit(dispatchJob{idx: i, msg: m})
	}
	// Close waits for in-flight messages even when the run is cancelled; a
	// cancelled ctx would make it return before the workers exit.
	if err := group.Close(context.WithoutCancel(ctx)); err != nil && ctx.Err() == nil {
		d.log.Warn().Err(err).Msg("worker group closed with error")
	}

	// Messages never picked up (run cancelled) still get an outcome.
	for i, o := range outcomes {
		if o == nil {
			atomic.AddInt64(&d.metrics.MessagesDropped, 1)
			outcomes[i] = droppedOutcome(msgs[i], ctx.Err())
		}
	}

	d.log.Debug().
		Int("messages", len(msgs)).
		Int("workers", workers).
		Msg("dispatch finished")
	return outcomes
}

// processJob runs process under the per-message timeout and turns a panic
// into a failed outcome.
func (d *PoolDispatcher) processJob(
	ctx context.Context,
	msg *domain.Message,
	process func(context.Context, *domain.Message) *domain.MessageOutcome,
) (outcome *domain.MessageOutcome) {
	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, d.config.MessageTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&d.metrics.MessagesPanicked, 1)
			d.log.Error().
				Str("message_id", messageID(msg)).
				Interface("panic", r).
				Msg("message processing panicked")
			outcome = failedOutcome(msg, fmt.Errorf("panic: %v", r))
		}
		d.updateAvgProcessTime(time.Since(start).Milliseconds())
	}()

	outcome = process(jobCtx, msg)
	if outcome == nil {
		outcome = failedOutcome(msg, fmt.Errorf("no outcome"))
	}
	if jobCtx.Err() == context.DeadlineExceeded {
		atomic.AddInt64(&d.metrics.MessagesTimedOut, 1)
		d.log.Warn().
			Str("message_id", messageID(msg)).
			Dur("timeout", d.config.MessageTimeout).
			Msg("message timed out")
	}
	atomic.AddInt64(&d.metrics.MessagesProcessed, 1)
	return outcome
}

// updateAvgProcessTime updates the average processing time.
func (d *PoolDispatcher) updateAvgProcessTime(elapsed int64) {
	for {
		current := atomic.LoadInt64(&d.metrics.AvgProcessTime)
		next := elapsed
		if current != 0 {
			next = (current*9 + elapsed) / 10
		}
		if atomic.CompareAndSwapInt64(&d.metrics.AvgProcessTime, current, next) {
			return
		}
	}
}

// GetMetrics returns current dispatcher metrics.
func (d *PoolDispatcher) GetMetrics() PoolMetrics {
	return PoolMetrics{
		MessagesProcessed: atomic.LoadInt64(&d.metrics.MessagesProcessed),
		MessagesTimedOut:  atomic.LoadInt64(&d.metrics.MessagesTimedOut),
		MessagesPanicked:  atomic.LoadInt64(&d.metrics.MessagesPanicked),
		MessagesDropped:   atomic.LoadInt64(&d.metrics.MessagesDropped),
		AvgProcessTime:    atomic.LoadInt64(&d.metrics.AvgProcessTime),
	}
}

func messageID(msg *domain.Message) string {
	if msg == nil {
		return ""
	}
	return msg.MessageID
}

func failedOutcome(msg *domain.Message, err error) *domain.MessageOutcome {
	o := &domain.MessageOutcome{}
	if msg != nil {
		o.MessageID, o.ThreadID, o.From, o.Subject = msg.MessageID, msg.ThreadID, msg.FromEmail, msg.Subject
	}
	o.Errors = append(o.Errors, domain.StageError{Stage: domain.StageDispatch, Error: err.Error()})
	return o
}

func droppedOutcome(msg *domain.Message, cause error) *domain.MessageOutcome {
	if cause == nil {
		cause = context.Canceled
	}
	o := failedOutcome(msg, fmt.Errorf("not processed: %w", cause))
	o.Errors[0].Retryable = true
	return o
}
