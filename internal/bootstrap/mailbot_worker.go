package bootstrap

import (
	"context"
	"errors"
	"sync"

	"mailbot/adapter/in/worker"
	"mailbot/core/domain"
	"mailbot/core/port/in"
	"mailbot/pkg/logger"
)

// ErrSchedulerDisabled is returned by NewWorker when polling is switched off.
var ErrSchedulerDisabled = errors.New("scheduler is disabled (SCHEDULER_ENABLED=false)")

// Worker polls the inbox until stopped.
type Worker struct {
	scheduler *worker.PollScheduler
	done      chan struct{}
	stopOnce  sync.Once
}

func NewWorker(deps *Dependencies) (*Worker, error) {
	if !deps.Config.SchedulerEnabled {
		return nil, ErrSchedulerDisabled
	}
	scheduler := worker.NewPollScheduler(deps.Inbox, in.RunOptions{}, deps.Config.PollInterval)
	return &Worker{
		scheduler: scheduler,
		done:      make(chan struct{}),
	}, nil
}

// Start runs the scheduler and blocks until Stop.
func (w *Worker) Start() {
	w.scheduler.Start()
	logger.Info("Worker started")
	<-w.done
}

// Stop stops polling and waits for an active run to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.scheduler.Stop()
		close(w.done)
	})
}

// RunOnce performs a single inbox run with the configured query.
func RunOnce(ctx context.Context, deps *Dependencies, dryRun bool) (*domain.RunReport, error) {
	return deps.Inbox.Run(ctx, in.RunOptions{DryRun: dryRun})
}
