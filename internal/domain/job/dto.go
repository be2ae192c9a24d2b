// internal/domain/job/dto.go
package job

type CreateJobRequest struct {
	WorkspaceID int64       `json:"workspace_id" binding:"required,gt=0"`
	UploadID    string      `json:"upload_id" binding:"required,uuid"`
	Operations  []Operation `json:"operations"`
}

type ListFilters struct {
	WorkspaceID int64   `form:"workspace_id" binding:"required,gt=0"`
	Status      *Status `form:"status"`
	Page        int     `form:"page,default=1" binding:"min=1"`
	Limit       int     `form:"limit,default=20" binding:"min=1,max=100"`
}

type ListResponse struct {
	Jobs  []*Job `json:"jobs"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

// ProgressEvent is pushed to the job owner on every checkpoint.
type ProgressEvent struct {
	JobID     int64  `json:"job_id"`
	Reference string `json:"reference"`
	Status    Status `json:"status"`
	Progress  int    `json:"progress"`
	Stage     string `json:"stage,omitempty"`
	Error     string `json:"error,omitempty"`
}
