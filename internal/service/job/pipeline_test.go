package job

import (
	"context"
	"strings"
	"testing"

	"audiotricks-service/internal/domain/job"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/upload"
	wstypes "audiotricks-service/internal/domain/websocket"

	"go.uber.org/zap"
)

type pipelineFixture struct {
	jobs      *memJobs
	processor *fakeProcessor
	quota     *quotaStub
	events    *recorder
	pipeline  *Pipeline
}

func newPipelineFixture() *pipelineFixture {
	f := &pipelineFixture{
		jobs:      newMemJobs(),
		processor: &fakeProcessor{transcript: "we agreed to ship on friday", duration: 61.5},
		quota:     newQuotaStub(plan.PlanLimits{}),
		events:    &recorder{},
	}
	uploads := memUploads{"u-1": {ID: "u-1", Filename: "call.mp3", Status: upload.StatusCompleted}}
	f.pipeline = NewPipeline(f.jobs, uploads, uploads, f.processor, f.quota, f.events, nil, zap.NewNop())
	return f
}

// claimed stores a job already leased to a worker.
func (f *pipelineFixture) claimed(ops ...job.Operation) *job.Job {
	j := f.jobs.put(&job.Job{Reference: "JOB-1", UserID: 5, WorkspaceID: 9, UploadID: "u-1", Status: job.StatusProcessing, Operations: ops, Attempts: 1})
	return f.jobs.get(j.ID)
}

func TestRun_TranscribeOnly(t *testing.T) {
	f := newPipelineFixture()
	j := f.claimed(job.OpTranscribe)

	if got := f.pipeline.Run(context.Background(), j); got != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", got)
	}

	stored := f.jobs.get(j.ID)
	if stored.Status != job.StatusCompleted || stored.Progress != 100 {
		t.Errorf("unexpected final state %s/%d", stored.Status, stored.Progress)
	}
	if stored.Results.Transcription == nil {
		t.Fatal("transcription missing")
	}
	if stored.Results.Summary != nil || stored.Results.Analysis != nil {
		t.Errorf("summary and analysis must be absent")
	}
	if f.quota.metered[plan.ResourceTranscriptionMinutes] != 2 {
		t.Errorf("61.5s should meter 2 minutes, got %d", f.quota.metered[plan.ResourceTranscriptionMinutes])
	}
	last := f.events.last()
	if last.event != wstypes.EventTypeJobCompleted || last.userID != 5 {
		t.Errorf("expected completion pushed to owner, got %+v", last)
	}
}

func TestRun_AllStagesCheckpointInOrder(t *testing.T) {
	f := newPipelineFixture()
	j := f.claimed(job.OpTranscribe, job.OpSummarize, job.OpAnalyze)

	if got := f.pipeline.Run(context.Background(), j); got != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", got)
	}

	if strings.Join(f.processor.calls, ",") != "transcribe,summarize,analyze" {
		t.Errorf("unexpected stage order %v", f.processor.calls)
	}
	var progress []int
	for _, e := range f.events.events {
		progress = append(progress, e.data.Progress)
	}
	want := []int{10, 30, 60, 80, 100}
	if len(progress) != len(want) {
		t.Fatalf("expected checkpoints %v, got %v", want, progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("checkpoint %d = %d, want %d", i, progress[i], want[i])
		}
	}
	if f.quota.metered[plan.ResourceAITokens] != 65 {
		t.Errorf("expected 65 tokens metered, got %d", f.quota.metered[plan.ResourceAITokens])
	}
}

func TestRun_SummaryWithoutTranscriptProducesNothing(t *testing.T) {
	f := newPipelineFixture()
	j := f.claimed(job.OpSummarize)

	if got := f.pipeline.Run(context.Background(), j); got != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if len(f.processor.calls) != 0 {
		t.Errorf("no provider call expected, got %v", f.processor.calls)
	}
	if f.jobs.get(j.ID).Results.Summary != nil {
		t.Errorf("summary must be absent")
	}
}

func TestRun_StageFailureMarksJobFailed(t *testing.T) {
	f := newPipelineFixture()
	f.processor.summarizeErr = errProvider
	j := f.claimed(job.OpTranscribe, job.OpSummarize)

	if got := f.pipeline.Run(context.Background(), j); got != OutcomeFailed {
		t.Fatalf("expected failed, got %s", got)
	}

	stored := f.jobs.get(j.ID)
	if stored.Status != job.StatusFailed {
		t.Errorf("expected failed status, got %s", stored.Status)
	}
	if stored.ErrorMessage == nil || !strings.Contains(*stored.ErrorMessage, "provider exploded") {
		t.Errorf("error message not kept: %v", stored.ErrorMessage)
	}
	if stored.Results.Transcription == nil {
		t.Errorf("transcription from the earlier stage should be kept")
	}
	if f.events.last().event != wstypes.EventTypeJobFailed {
		t.Errorf("expected job:failed event")
	}
}

func TestRun_CancelledDuringStageStopsAtBoundary(t *testing.T) {
	f := newPipelineFixture()
	j := f.claimed(job.OpTranscribe, job.OpSummarize)
	f.processor.onTranscribe = func() { f.jobs.setStatus(j.ID, job.StatusCancelled) }

	if got := f.pipeline.Run(context.Background(), j); got != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}

	stored := f.jobs.get(j.ID)
	if stored.Status != job.StatusCancelled {
		t.Errorf("cancel was overwritten: %s", stored.Status)
	}
	if strings.Join(f.processor.calls, ",") != "transcribe" {
		t.Errorf("summarize must not run after cancel, calls %v", f.processor.calls)
	}
}

func TestRun_CancelledBeforeStageIsNotRun(t *testing.T) {
	f := newPipelineFixture()
	j := f.claimed(job.OpTranscribe)
	f.jobs.onStatus = func(id int64) { f.jobs.setStatus(id, job.StatusCancelled) }

	if got := f.pipeline.Run(context.Background(), j); got != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	if len(f.processor.calls) != 0 {
		t.Errorf("no stage should run, got %v", f.processor.calls)
	}
}

func TestRun_RedeliverySkipsPersistedStages(t *testing.T) {
	f := newPipelineFixture()
	j := f.claimed(job.OpTranscribe, job.OpSummarize)
	j.Results.Transcription = &job.Transcription{Text: "already done"}
	j.Attempts = 2

	if got := f.pipeline.Run(context.Background(), j); got != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	if strings.Join(f.processor.calls, ",") != "summarize" {
		t.Errorf("transcribe should be skipped, calls %v", f.processor.calls)
	}
	if f.quota.metered[plan.ResourceTranscriptionMinutes] != 0 {
		t.Errorf("skipped stage must not meter")
	}
}

func TestRun_InterruptedRunIsLeftForRedelivery(t *testing.T) {
	f := newPipelineFixture()
	j := f.claimed(job.OpTranscribe, job.OpSummarize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.processor.onTranscribe = cancel
	f.processor.summarizeErr = context.Canceled

	if got := f.pipeline.Run(ctx, j); got != OutcomeAbandoned {
		t.Fatalf("expected abandoned, got %s", got)
	}
	if f.jobs.get(j.ID).Status != job.StatusProcessing {
		t.Errorf("interrupted job must stay processing for redelivery")
	}
}
