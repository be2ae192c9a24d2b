// internal/domain/upload/dto.go
package upload

type InitializeRequest struct {
	WorkspaceID int64  `json:"workspace_id" binding:"required,gt=0"`
	Filename    string `json:"filename" binding:"required,max=512"`
	ContentType string `json:"content_type" binding:"required"`
	SizeBytes   int64  `json:"size_bytes" binding:"required,gt=0"`
	ChunkSize   int64  `json:"chunk_size" binding:"omitempty,gt=0"`
}

type InitializeResponse struct {
	UploadID   string `json:"upload_id"`
	ChunkSize  int64  `json:"chunk_size"`
	TotalParts int    `json:"total_parts"`
}

// PartDescriptor is what the client reports back for each uploaded chunk.
type PartDescriptor struct {
	PartNumber int    `json:"part_number" binding:"required,gt=0"`
	Checksum   string `json:"checksum" binding:"required"`
}

type PartResponse struct {
	PartNumber int    `json:"part_number"`
	Checksum   string `json:"checksum"`
	SizeBytes  int64  `json:"size_bytes"`
}

type CompleteRequest struct {
	Parts []PartDescriptor `json:"parts" binding:"required,min=1,dive"`
}
