// Package worker runs scheduled re-audits in the background.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortresshq/fortress-api/internal/repository"
	"github.com/fortresshq/fortress-api/internal/service"
)

// Worker claims due schedules and starts their audits.
type Worker struct {
	schedules    repository.ScheduleRepository
	audits       *service.AuditService
	pollInterval time.Duration
	concurrency  int
	stop         chan struct{}
	wg           sync.WaitGroup
	active       atomic.Int64
	logger       *slog.Logger
}

// Config holds worker configuration.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
}

// New creates a new worker.
func New(schedules repository.ScheduleRepository, audits *service.AuditService, cfg Config, logger *slog.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		schedules:    schedules,
		audits:       audits,
		pollInterval: cfg.PollInterval,
		concurrency:  cfg.Concurrency,
		stop:         make(chan struct{}),
		logger:       logger.With("component", "worker"),
	}
}

// Start begins claiming due schedules.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("starting", "concurrency", w.concurrency, "poll_interval", w.pollInterval.String())

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.logger.Info("stopping")
	close(w.stop)
	w.wg.Wait()
	w.logger.Info("stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processDue(ctx, workerID)
		}
	}
}

// Busy reports whether any worker goroutine is mid-sweep. The idle monitor
// uses this to hold the server up while a scheduled audit runs.
func (w *Worker) Busy() bool {
	return w.active.Load() > 0
}

// processDue drains every schedule that has come due. Claiming advances
// next_run_at atomically, so concurrent workers never double-run a schedule.
func (w *Worker) processDue(ctx context.Context, workerID int) {
	w.active.Add(1)
	defer w.active.Add(-1)

	for {
		setting, err := w.schedules.ClaimDue(ctx, time.Now().UTC(), service.ScheduleInterval)
		if err != nil {
			w.logger.Error("failed to claim schedule", "worker_id", workerID, "error", err)
			return
		}
		if setting == nil {
			return
		}

		w.logger.Info("running scheduled audit",
			"worker_id", workerID, "user_id", setting.UserID, "domain", setting.Domain)

		result, err := w.audits.StartAudit(ctx, service.StartAuditInput{
			UserID: setting.UserID,
			Domain: setting.Domain,
		})
		if err != nil {
			w.logger.Error("scheduled audit failed to start",
				"user_id", setting.UserID, "domain", setting.Domain, "error", err)
			continue
		}
		if result.Rejection != nil {
			// Daily limits can collide with a manual audit run earlier the
			// same day. The schedule has already advanced a week, so skip.
			w.logger.Warn("scheduled audit rejected",
				"user_id", setting.UserID, "domain", setting.Domain,
				"reason", result.Rejection.Reason)
		}
	}
}
