package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"audiotricks-service/internal/domain/job"
	"audiotricks-service/internal/pkg/metrics"

	"go.uber.org/zap"
)

type runnerStub struct {
	mu     sync.Mutex
	ran    []int64
	gaveUp []int64
	block  chan struct{}
}

func (r *runnerStub) Run(ctx context.Context, j *job.Job) Outcome {
	r.mu.Lock()
	r.ran = append(r.ran, j.ID)
	r.mu.Unlock()
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return OutcomeAbandoned
		}
	}
	return OutcomeCompleted
}

func (r *runnerStub) GiveUp(_ context.Context, j *job.Job, _ string) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gaveUp = append(r.gaveUp, j.ID)
	return OutcomeFailed
}

func TestProcessOne_IdleQueue(t *testing.T) {
	w := NewWorker(newMemJobs(), &runnerStub{}, WorkerConfig{ID: "w"}, nil, zap.NewNop())
	if w.processOne(context.Background(), "w-0") {
		t.Errorf("empty queue should report no work")
	}
}

func TestProcessOne_RunsClaimedJob(t *testing.T) {
	jobs := newMemJobs()
	queued := jobs.put(&job.Job{Status: job.StatusQueued})
	runner := &runnerStub{}
	m := metrics.New()
	w := NewWorker(jobs, runner, WorkerConfig{ID: "w", MaxDeliveries: 3}, m, zap.NewNop())

	if !w.processOne(context.Background(), "w-0") {
		t.Fatal("expected a job to be claimed")
	}
	if len(runner.ran) != 1 || runner.ran[0] != queued.ID {
		t.Errorf("expected job %d to run, got %v", queued.ID, runner.ran)
	}
	if jobs.get(queued.ID).Attempts != 1 {
		t.Errorf("claim should count the delivery")
	}
}

func TestProcessOne_GivesUpAfterMaxDeliveries(t *testing.T) {
	jobs := newMemJobs()
	queued := jobs.put(&job.Job{Status: job.StatusQueued, Attempts: 3})
	runner := &runnerStub{}
	w := NewWorker(jobs, runner, WorkerConfig{ID: "w", MaxDeliveries: 3}, nil, zap.NewNop())

	w.processOne(context.Background(), "w-0")
	if len(runner.ran) != 0 {
		t.Errorf("job over the delivery cap must not run")
	}
	if len(runner.gaveUp) != 1 || runner.gaveUp[0] != queued.ID {
		t.Errorf("expected give up on job %d, got %v", queued.ID, runner.gaveUp)
	}
}

func TestProcessOne_LostLeaseCancelsRun(t *testing.T) {
	jobs := newMemJobs()
	queued := jobs.put(&job.Job{Status: job.StatusQueued})
	runner := &runnerStub{block: make(chan struct{})}
	w := NewWorker(jobs, runner, WorkerConfig{ID: "w", VisibilityTimeout: 30 * time.Millisecond}, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.processOne(context.Background(), "w-0")
		close(done)
	}()

	// Cancelling the job makes the next lease extension fail.
	time.Sleep(5 * time.Millisecond)
	jobs.setStatus(queued.ID, job.StatusCancelled)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		close(runner.block)
		t.Fatal("run was not interrupted after the lease was lost")
	}
}

func TestWorker_RunDrainsQueueAndStops(t *testing.T) {
	jobs := newMemJobs()
	for i := 0; i < 4; i++ {
		jobs.put(&job.Job{Status: job.StatusQueued})
	}
	runner := &runnerStub{}
	w := NewWorker(jobs, runner, WorkerConfig{ID: "w", Concurrency: 2, PollInterval: 5 * time.Millisecond}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	deadline := time.After(2 * time.Second)
	for {
		runner.mu.Lock()
		n := len(runner.ran)
		runner.mu.Unlock()
		if n == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d of 4 jobs ran", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
