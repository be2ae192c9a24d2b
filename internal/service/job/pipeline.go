// internal/service/job/pipeline.go
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"audiotricks-service/internal/domain/job"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/upload"
	"audiotricks-service/internal/pkg/metrics"

	"go.uber.org/zap"
)

// Outcome is how one delivery of a job ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeAbandoned leaves the job to lease expiry and redelivery.
	OutcomeAbandoned Outcome = "abandoned"
)

// PipelineStore holds the conditional writes of a running job. Each returns
// false once the job is no longer processing.
type PipelineStore interface {
	Status(ctx context.Context, id int64) (job.Status, error)
	UpdateProgress(ctx context.Context, id int64, progress int) (bool, error)
	SaveResults(ctx context.Context, id int64, results job.Results, progress int) (bool, error)
	Complete(ctx context.Context, id int64) (bool, error)
	Fail(ctx context.Context, id int64, message string) (bool, error)
}

type AudioOpener interface {
	Open(ctx context.Context, u *upload.Upload) (io.ReadCloser, error)
}

type Processor interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (*job.Transcription, error)
	Summarize(ctx context.Context, transcript string) (*job.Summary, error)
	Analyze(ctx context.Context, transcript string) (*job.Analysis, error)
}

type Meter interface {
	Meter(ctx context.Context, workspaceID int64, resource plan.ResourceType, delta int64)
}

type Pipeline struct {
	store     PipelineStore
	uploads   Uploads
	audio     AudioOpener
	processor Processor
	meter     Meter
	publisher Publisher
	metrics   *metrics.Registry
	logger    *zap.Logger
}

func NewPipeline(
	store PipelineStore,
	uploads Uploads,
	audio AudioOpener,
	processor Processor,
	meter Meter,
	publisher Publisher,
	m *metrics.Registry,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		store:     store,
		uploads:   uploads,
		audio:     audio,
		processor: processor,
		meter:     meter,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

type stage struct {
	op         job.Operation
	checkpoint int
	done       func(r *job.Results) bool
	run        func(p *Pipeline, ctx context.Context, j *job.Job, r *job.Results) error
}

var stages = []stage{
	{
		op:         job.OpTranscribe,
		checkpoint: job.ProgressTranscribed,
		done:       func(r *job.Results) bool { return r.Transcription != nil },
		run:        (*Pipeline).transcribe,
	},
	{
		op:         job.OpSummarize,
		checkpoint: job.ProgressSummarized,
		done:       func(r *job.Results) bool { return r.Summary != nil },
		run:        (*Pipeline).summarize,
	},
	{
		op:         job.OpAnalyze,
		checkpoint: job.ProgressAnalyzed,
		done:       func(r *job.Results) bool { return r.Analysis != nil },
		run:        (*Pipeline).analyze,
	},
}

// errStopped means the job left processing under us, normally a cancel.
var errStopped = errors.New("job is no longer processing")

// Run executes the requested stages in order. Stages whose output was
// persisted by an earlier delivery are skipped; summary and analysis need a
// transcript and are skipped without one.
func (p *Pipeline) Run(ctx context.Context, j *job.Job) Outcome {
	log := p.logger.With(zap.Int64("job_id", j.ID), zap.String("reference", j.Reference), zap.Int("attempt", j.Attempts))
	log.Info("job started", zap.Strings("operations", operationNames(j.Operations)))

	if err := p.checkpoint(ctx, j, job.ProgressStarted, ""); err != nil {
		return p.stop(ctx, j, "", err)
	}

	results := j.Results
	for _, st := range stages {
		if !j.Wants(st.op) || st.done(&results) {
			continue
		}
		if st.op != job.OpTranscribe && (results.Transcription == nil || results.Transcription.Text == "") {
			continue
		}

		if err := p.boundary(ctx, j); err != nil {
			return p.stop(ctx, j, string(st.op), err)
		}

		started := time.Now()
		if err := st.run(p, ctx, j, &results); err != nil {
			return p.stop(ctx, j, string(st.op), err)
		}
		if p.metrics != nil {
			p.metrics.JobStageDuration.WithLabelValues(string(st.op)).Observe(time.Since(started).Seconds())
		}

		ok, err := p.store.SaveResults(ctx, j.ID, results, st.checkpoint)
		if err == nil && !ok {
			err = errStopped
		}
		if err != nil {
			return p.stop(ctx, j, string(st.op), err)
		}
		j.Results = results
		j.Progress = st.checkpoint
		p.publish(j, job.StatusProcessing, st.checkpoint, string(st.op), "")
		log.Info("stage finished", zap.String("stage", string(st.op)), zap.Duration("took", time.Since(started)))
	}

	if err := p.boundary(ctx, j); err != nil {
		return p.stop(ctx, j, "", err)
	}
	ok, err := p.store.Complete(ctx, j.ID)
	if err == nil && !ok {
		err = errStopped
	}
	if err != nil {
		return p.stop(ctx, j, "", err)
	}

	j.Status = job.StatusCompleted
	j.Progress = job.ProgressDone
	p.publish(j, job.StatusCompleted, job.ProgressDone, "", "")
	log.Info("job completed")
	return OutcomeCompleted
}

// GiveUp fails a job that was delivered too many times.
func (p *Pipeline) GiveUp(ctx context.Context, j *job.Job, reason string) Outcome {
	return p.stop(ctx, j, "", errors.New(reason))
}

// ========== Stages ==========

func (p *Pipeline) transcribe(ctx context.Context, j *job.Job, r *job.Results) error {
	u, err := p.uploads.FindByID(ctx, j.UploadID)
	if err != nil {
		return fmt.Errorf("failed to load upload: %w", err)
	}
	audio, err := p.audio.Open(ctx, u)
	if err != nil {
		return fmt.Errorf("failed to open audio: %w", err)
	}
	defer audio.Close()

	t, err := p.processor.Transcribe(ctx, u.Filename, audio)
	if err != nil {
		return fmt.Errorf("transcription failed: %w", err)
	}
	r.Transcription = t

	if minutes := int64(math.Ceil(t.DurationSeconds / 60)); minutes > 0 {
		p.meter.Meter(ctx, j.WorkspaceID, plan.ResourceTranscriptionMinutes, minutes)
		p.meter.Meter(ctx, j.WorkspaceID, plan.ResourceProcessingMinutes, minutes)
	}
	return nil
}

func (p *Pipeline) summarize(ctx context.Context, j *job.Job, r *job.Results) error {
	s, err := p.processor.Summarize(ctx, r.Transcription.Text)
	if err != nil {
		return fmt.Errorf("summary failed: %w", err)
	}
	r.Summary = s
	if s.TokensUsed > 0 {
		p.meter.Meter(ctx, j.WorkspaceID, plan.ResourceAITokens, s.TokensUsed)
	}
	return nil
}

func (p *Pipeline) analyze(ctx context.Context, j *job.Job, r *job.Results) error {
	a, err := p.processor.Analyze(ctx, r.Transcription.Text)
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	r.Analysis = a
	if a.TokensUsed > 0 {
		p.meter.Meter(ctx, j.WorkspaceID, plan.ResourceAITokens, a.TokensUsed)
	}
	return nil
}

// ========== Helpers ==========

func (p *Pipeline) checkpoint(ctx context.Context, j *job.Job, progress int, stage string) error {
	ok, err := p.store.UpdateProgress(ctx, j.ID, progress)
	if err != nil {
		return err
	}
	if !ok {
		return errStopped
	}
	j.Progress = progress
	p.publish(j, job.StatusProcessing, progress, stage, "")
	return nil
}

// boundary re-reads the status between stages so a cancel takes effect
// before the next provider call.
func (p *Pipeline) boundary(ctx context.Context, j *job.Job) error {
	status, err := p.store.Status(ctx, j.ID)
	if err != nil {
		return err
	}
	if status != job.StatusProcessing {
		return errStopped
	}
	return nil
}

// stop settles the outcome of a run that did not complete.
func (p *Pipeline) stop(ctx context.Context, j *job.Job, stage string, cause error) Outcome {
	log := p.logger.With(zap.Int64("job_id", j.ID), zap.String("stage", stage))

	if errors.Is(cause, errStopped) {
		log.Info("job stopped at stage boundary")
		return OutcomeCancelled
	}
	if ctx.Err() != nil {
		log.Warn("job interrupted, leaving it for redelivery", zap.Error(cause))
		return OutcomeAbandoned
	}

	msg := cause.Error()
	ok, err := p.store.Fail(ctx, j.ID, msg)
	if err != nil {
		log.Error("failed to mark job failed", zap.Error(err), zap.NamedError("cause", cause))
		return OutcomeAbandoned
	}
	if !ok {
		return OutcomeCancelled
	}

	j.Status = job.StatusFailed
	j.ErrorMessage = &msg
	p.publish(j, job.StatusFailed, j.Progress, stage, msg)
	log.Error("job failed", zap.Error(cause))
	return OutcomeFailed
}

func (p *Pipeline) publish(j *job.Job, status job.Status, progress int, stage, errMsg string) {
	if p.publisher == nil {
		return
	}
	p.publisher.PublishToUser(j.UserID, eventFor(status), &job.ProgressEvent{
		JobID:     j.ID,
		Reference: j.Reference,
		Status:    status,
		Progress:  progress,
		Stage:     stage,
		Error:     errMsg,
	})
}
