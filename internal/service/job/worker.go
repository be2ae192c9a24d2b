// internal/service/job/worker.go
package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"audiotricks-service/internal/domain/job"
	xerrors "audiotricks-service/internal/pkg/errors"
	"audiotricks-service/internal/pkg/metrics"

	"go.uber.org/zap"
)

// Queue is the durable job table seen from a worker.
type Queue interface {
	Claim(ctx context.Context, worker string, visibility time.Duration) (*job.Job, error)
	ExtendLease(ctx context.Context, id int64, worker string, visibility time.Duration) (bool, error)
}

type Runner interface {
	Run(ctx context.Context, j *job.Job) Outcome
	GiveUp(ctx context.Context, j *job.Job, reason string) Outcome
}

type WorkerConfig struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	MaxDeliveries     int
}

// Worker leases jobs from the queue and runs them. A job whose worker dies
// becomes claimable again once its lease expires.
type Worker struct {
	queue   Queue
	runner  Runner
	cfg     WorkerConfig
	wake    chan struct{}
	metrics *metrics.Registry
	logger  *zap.Logger
}

func NewWorker(queue Queue, runner Runner, cfg WorkerConfig, m *metrics.Registry, logger *zap.Logger) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	return &Worker{
		queue:   queue,
		runner:  runner,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		metrics: m,
		logger:  logger,
	}
}

// Wake makes one idle loop poll immediately.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done and every in-flight job has returned.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("job worker started",
		zap.String("worker", w.cfg.ID),
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("visibility_timeout", w.cfg.VisibilityTimeout),
	)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			w.loop(ctx, name)
		}(fmt.Sprintf("%s-%d", w.cfg.ID, i))
	}
	wg.Wait()

	w.logger.Info("job worker stopped", zap.String("worker", w.cfg.ID))
}

func (w *Worker) loop(ctx context.Context, name string) {
	for {
		if ctx.Err() != nil {
			return
		}
		if w.processOne(ctx, name) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// processOne claims and runs at most one job. It reports whether a job was
// claimed.
func (w *Worker) processOne(ctx context.Context, name string) bool {
	j, err := w.queue.Claim(ctx, name, w.cfg.VisibilityTimeout)
	if err != nil {
		if !xerrors.Is(err, xerrors.ErrNotFound) && ctx.Err() == nil {
			w.logger.Error("failed to claim job", zap.String("worker", name), zap.Error(err))
		}
		return false
	}

	if w.cfg.MaxDeliveries > 0 && j.Attempts > w.cfg.MaxDeliveries {
		outcome := w.runner.GiveUp(ctx, j, fmt.Sprintf("job was delivered %d times without finishing", j.Attempts-1))
		w.count(outcome)
		return true
	}

	jobCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go w.keepLease(jobCtx, cancel, j.ID, name, done)

	outcome := w.runner.Run(jobCtx, j)
	close(done)
	cancel()

	w.count(outcome)
	return true
}

// keepLease extends the lease at a third of the visibility timeout. Losing
// the lease cancels the run so two workers never process the same job.
func (w *Worker) keepLease(ctx context.Context, cancel context.CancelFunc, jobID int64, name string, done <-chan struct{}) {
	ticker := time.NewTicker(w.cfg.VisibilityTimeout / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.queue.ExtendLease(ctx, jobID, name, w.cfg.VisibilityTimeout)
			if err != nil {
				w.logger.Warn("failed to extend lease", zap.Int64("job_id", jobID), zap.Error(err))
				continue
			}
			if !ok {
				w.logger.Info("lease lost, stopping job", zap.Int64("job_id", jobID), zap.String("worker", name))
				cancel()
				return
			}
			if w.metrics != nil {
				w.metrics.QueueLeaseRenewal.Inc()
			}
		}
	}
}

func (w *Worker) count(o Outcome) {
	if w.metrics != nil {
		w.metrics.Jobs.WithLabelValues(string(o)).Inc()
	}
}
