// internal/websocket/handler/job.go
package handler

import (
	"context"
	"fmt"

	"audiotricks-service/internal/domain/job"
	wstypes "audiotricks-service/internal/domain/websocket"
	ws "audiotricks-service/internal/websocket"
)

type JobLookup interface {
	GetJob(ctx context.Context, userID, jobID int64) (*job.Job, error)
}

// JobStatusHandler answers job:status requests with the caller's view of a job.
type JobStatusHandler struct {
	jobs JobLookup
}

func NewJobStatusHandler(jobs JobLookup) *JobStatusHandler {
	return &JobStatusHandler{jobs: jobs}
}

func (h *JobStatusHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{wstypes.EventTypeJobStatus}
}

func (h *JobStatusHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	var req struct {
		JobID int64 `json:"job_id"`
	}
	if err := ws.DecodeData(msg.Data, &req); err != nil || req.JobID <= 0 {
		client.SendError("invalid_request", "job_id is required", "")
		return nil
	}

	j, err := h.jobs.GetJob(ctx, client.UserID(), req.JobID)
	if err != nil {
		return fmt.Errorf("job %d unavailable: %w", req.JobID, err)
	}

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeJobStatus, &job.ProgressEvent{
		JobID:     j.ID,
		Reference: j.Reference,
		Status:    j.Status,
		Progress:  j.Progress,
		Error:     derefString(j.ErrorMessage),
	}))
	return nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
