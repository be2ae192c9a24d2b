// internal/service/job/service.go
package job

import (
	"context"
	"fmt"
	"io"

	"audiotricks-service/internal/domain/job"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/upload"
	wstypes "audiotricks-service/internal/domain/websocket"
	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// DefaultOperations run when a job is created without an explicit list.
var DefaultOperations = []job.Operation{job.OpTranscribe, job.OpSummarize}

type Store interface {
	CreateWithinLimit(ctx context.Context, j *job.Job, maxActive int64) error
	FindByID(ctx context.Context, id int64) (*job.Job, error)
	List(ctx context.Context, filters *job.ListFilters) ([]*job.Job, int64, error)
	Cancel(ctx context.Context, id int64) (bool, error)
	ResetForRetry(ctx context.Context, id int64) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type Uploads interface {
	FindByID(ctx context.Context, id string) (*upload.Upload, error)
}

type Members interface {
	FindMembership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error)
}

type Quota interface {
	Limits(ctx context.Context, workspaceID int64) (*plan.EffectivePlan, error)
	Consume(ctx context.Context, workspaceID int64, resource plan.ResourceType, delta int64) (int64, error)
	Release(ctx context.Context, workspaceID int64, resource plan.ResourceType, delta int64) error
	Meter(ctx context.Context, workspaceID int64, resource plan.ResourceType, delta int64)
}

type Speaker interface {
	Speech(ctx context.Context, text string) (io.ReadCloser, error)
}

type Publisher interface {
	PublishToUser(userID int64, event wstypes.EventType, data interface{})
}

type JobService struct {
	store     Store
	uploads   Uploads
	members   Members
	quota     Quota
	speaker   Speaker
	publisher Publisher
	wake      func()
	logger    *zap.Logger
}

func NewJobService(
	store Store,
	uploads Uploads,
	members Members,
	quotas Quota,
	speaker Speaker,
	publisher Publisher,
	logger *zap.Logger,
) *JobService {
	return &JobService{
		store:     store,
		uploads:   uploads,
		members:   members,
		quota:     quotas,
		speaker:   speaker,
		publisher: publisher,
		wake:      func() {},
		logger:    logger,
	}
}

// OnEnqueue registers a hook fired after a job is queued, used to nudge an
// idle in-process worker.
func (s *JobService) OnEnqueue(fn func()) {
	if fn != nil {
		s.wake = fn
	}
}

// ========== Lifecycle ==========

// CreateJob queues processing of a completed upload. One transcription is
// charged up front; the concurrent job cap is checked against queued and
// processing jobs of the workspace.
func (s *JobService) CreateJob(ctx context.Context, userID int64, req *job.CreateJobRequest) (*job.Job, error) {
	m, err := s.membership(ctx, req.WorkspaceID, userID)
	if err != nil {
		return nil, err
	}
	if m.Role == workspace.RoleViewer {
		return nil, fmt.Errorf("viewers cannot create jobs: %w", xerrors.ErrForbidden)
	}

	ops, err := normalizeOperations(req.Operations)
	if err != nil {
		return nil, err
	}

	u, err := s.uploads.FindByID(ctx, req.UploadID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("upload not found: %w", xerrors.ErrNotFound)
		}
		return nil, err
	}
	if u.WorkspaceID != req.WorkspaceID {
		return nil, fmt.Errorf("upload not found: %w", xerrors.ErrNotFound)
	}
	if u.Status != upload.StatusCompleted {
		return nil, fmt.Errorf("upload is %s, not completed: %w", u.Status, xerrors.ErrInvalidInput)
	}

	if _, err := s.quota.Consume(ctx, req.WorkspaceID, plan.ResourceTranscriptions, 1); err != nil {
		return nil, err
	}

	j := &job.Job{
		Reference:   "JOB-" + ulid.Make().String(),
		UserID:      userID,
		WorkspaceID: req.WorkspaceID,
		UploadID:    u.ID,
		Operations:  ops,
	}
	if err := s.store.CreateWithinLimit(ctx, j, s.concurrencyLimit(ctx, req.WorkspaceID)); err != nil {
		if rerr := s.quota.Release(ctx, req.WorkspaceID, plan.ResourceTranscriptions, 1); rerr != nil {
			s.logger.Error("failed to release transcription quota", zap.Error(rerr))
		}
		return nil, err
	}

	s.logger.Info("job queued",
		zap.Int64("job_id", j.ID),
		zap.String("reference", j.Reference),
		zap.Int64("workspace_id", j.WorkspaceID),
		zap.Strings("operations", operationNames(ops)),
	)
	s.wake()
	return j, nil
}

func (s *JobService) GetJob(ctx context.Context, userID, jobID int64) (*job.Job, error) {
	return s.visible(ctx, userID, jobID)
}

func (s *JobService) ListJobs(ctx context.Context, userID int64, filters *job.ListFilters) (*job.ListResponse, error) {
	if _, err := s.membership(ctx, filters.WorkspaceID, userID); err != nil {
		return nil, err
	}
	jobs, total, err := s.store.List(ctx, filters)
	if err != nil {
		return nil, err
	}
	return &job.ListResponse{Jobs: jobs, Total: total, Page: filters.Page, Limit: filters.Limit}, nil
}

// CancelJob stops a queued or processing job. A running pipeline notices at
// its next stage boundary.
func (s *JobService) CancelJob(ctx context.Context, userID, jobID int64) (*job.Job, error) {
	j, err := s.modifiable(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.Cancel(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("job is %s and cannot be cancelled: %w", j.Status, xerrors.ErrInvalidState)
	}

	s.publish(j, job.StatusCancelled, j.Progress, "", "")
	s.logger.Info("job cancelled", zap.Int64("job_id", j.ID), zap.Int64("user_id", userID))
	return s.store.FindByID(ctx, j.ID)
}

// RetryJob requeues a failed job with its results, error and attempts cleared.
func (s *JobService) RetryJob(ctx context.Context, userID, jobID int64) (*job.Job, error) {
	j, err := s.modifiable(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.ResetForRetry(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("only failed jobs can be retried, job is %s: %w", j.Status, xerrors.ErrInvalidState)
	}

	s.logger.Info("job requeued", zap.Int64("job_id", j.ID), zap.Int64("user_id", userID))
	s.wake()
	return s.store.FindByID(ctx, j.ID)
}

func (s *JobService) DeleteJob(ctx context.Context, userID, jobID int64) error {
	j, err := s.modifiable(ctx, userID, jobID)
	if err != nil {
		return err
	}
	ok, err := s.store.Delete(ctx, j.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job is %s, cancel it first: %w", j.Status, xerrors.ErrInvalidState)
	}
	return nil
}

// Speech reads the job summary aloud. It counts as one API call.
func (s *JobService) Speech(ctx context.Context, userID, jobID int64) (io.ReadCloser, error) {
	j, err := s.visible(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if j.Results.Summary == nil || j.Results.Summary.Text == "" {
		return nil, fmt.Errorf("job has no summary to read: %w", xerrors.ErrInvalidState)
	}
	if s.speaker == nil {
		return nil, fmt.Errorf("speech synthesis is not configured: %w", xerrors.ErrInternal)
	}
	if _, err := s.quota.Consume(ctx, j.WorkspaceID, plan.ResourceAPICalls, 1); err != nil {
		return nil, err
	}

	audio, err := s.speaker.Speech(ctx, j.Results.Summary.Text)
	if err != nil {
		if rerr := s.quota.Release(ctx, j.WorkspaceID, plan.ResourceAPICalls, 1); rerr != nil {
			s.logger.Error("failed to release api call quota", zap.Error(rerr))
		}
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}
	return audio, nil
}

// ========== Helpers ==========

func (s *JobService) membership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error) {
	m, err := s.members.FindMembership(ctx, workspaceID, userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("workspace not found: %w", xerrors.ErrNotFound)
		}
		return nil, err
	}
	return m, nil
}

// visible returns the job when the caller belongs to its workspace; anything
// else looks like a missing job.
func (s *JobService) visible(ctx context.Context, userID, jobID int64) (*job.Job, error) {
	j, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := s.membership(ctx, j.WorkspaceID, userID); err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("job not found: %w", xerrors.ErrNotFound)
		}
		return nil, err
	}
	return j, nil
}

// modifiable allows the job creator and workspace managers.
func (s *JobService) modifiable(ctx context.Context, userID, jobID int64) (*job.Job, error) {
	j, err := s.store.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	m, err := s.membership(ctx, j.WorkspaceID, userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("job not found: %w", xerrors.ErrNotFound)
		}
		return nil, err
	}
	if j.UserID != userID && !m.Role.CanManage() {
		return nil, fmt.Errorf("only the job creator or a workspace admin can change this job: %w", xerrors.ErrForbidden)
	}
	return j, nil
}

// concurrencyLimit is the plan's cap on queued plus processing jobs. The
// store applies it at insert time; an unresolvable plan means no cap.
func (s *JobService) concurrencyLimit(ctx context.Context, workspaceID int64) int64 {
	ep, err := s.quota.Limits(ctx, workspaceID)
	if err != nil {
		s.logger.Warn("failed to resolve plan for concurrency check, allowing", zap.Error(err))
		return plan.Unlimited
	}
	return ep.Limits.MaxConcurrentJobs
}

func (s *JobService) publish(j *job.Job, status job.Status, progress int, stage, errMsg string) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishToUser(j.UserID, eventFor(status), &job.ProgressEvent{
		JobID:     j.ID,
		Reference: j.Reference,
		Status:    status,
		Progress:  progress,
		Stage:     stage,
		Error:     errMsg,
	})
}

func eventFor(status job.Status) wstypes.EventType {
	switch status {
	case job.StatusCompleted:
		return wstypes.EventTypeJobCompleted
	case job.StatusFailed:
		return wstypes.EventTypeJobFailed
	case job.StatusCancelled:
		return wstypes.EventTypeJobCancelled
	default:
		return wstypes.EventTypeJobProgress
	}
}

// normalizeOperations validates and de-duplicates the requested operations,
// keeping their pipeline order.
func normalizeOperations(ops []job.Operation) ([]job.Operation, error) {
	if len(ops) == 0 {
		return append([]job.Operation(nil), DefaultOperations...), nil
	}
	want := make(map[job.Operation]bool, len(ops))
	for _, op := range ops {
		if !op.Valid() {
			return nil, fmt.Errorf("unknown operation %q: %w", op, xerrors.ErrInvalidInput)
		}
		want[op] = true
	}
	out := make([]job.Operation, 0, len(want))
	for _, op := range []job.Operation{job.OpTranscribe, job.OpSummarize, job.OpAnalyze} {
		if want[op] {
			out = append(out, op)
		}
	}
	return out, nil
}

func operationNames(ops []job.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}
