// internal/domain/upload/entity.go
package upload

import "time"

type Status string

const (
	StatusInitialized Status = "initialized"
	StatusUploading   Status = "uploading"
	StatusCompleted   Status = "completed"
	StatusAborted     Status = "aborted"
)

type Upload struct {
	ID          string     `json:"id"`
	UserID      int64      `json:"user_id"`
	WorkspaceID int64      `json:"workspace_id"`
	Filename    string     `json:"filename"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	ChunkSize   int64      `json:"chunk_size"`
	TotalParts  int        `json:"total_parts"`
	Status      Status     `json:"status"`
	StorageKey  string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Part struct {
	UploadID   string    `json:"upload_id"`
	PartNumber int       `json:"part_number"`
	SizeBytes  int64     `json:"size_bytes"`
	Checksum   string    `json:"checksum"`
	StorageKey string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// TotalParts is the number of chunks a file of size splits into; never an
// empty trailing chunk.
func TotalParts(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}
