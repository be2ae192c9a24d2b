// internal/handlers/upload/upload_handler.go
package upload

import (
	"net/http"
	"strconv"

	"audiotricks-service/internal/domain/upload"
	"audiotricks-service/internal/middleware"
	"audiotricks-service/internal/pkg/response"
	uploadUsecase "audiotricks-service/internal/service/upload"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UploadHandler struct {
	service *uploadUsecase.UploadService
	logger  *zap.Logger
}

func NewUploadHandler(service *uploadUsecase.UploadService, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{service: service, logger: logger}
}

// Single accepts a multipart form with workspace_id and file.
func (h *UploadHandler) Single(c *gin.Context) {
	workspaceID, err := strconv.ParseInt(c.PostForm("workspace_id"), 10, 64)
	if err != nil || workspaceID <= 0 {
		response.Error(c, http.StatusBadRequest, "workspace_id is required", err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "file is required", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "failed to read file", err)
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	u, err := h.service.Single(c.Request.Context(), middleware.MustGetUserID(c), workspaceID, fh.Filename, contentType, fh.Size, f)
	if err != nil {
		response.FromError(c, "upload failed", err)
		return
	}
	response.Success(c, http.StatusCreated, "upload completed", u)
}

func (h *UploadHandler) Initialize(c *gin.Context) {
	var req upload.InitializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	resp, err := h.service.Initialize(c.Request.Context(), middleware.MustGetUserID(c), &req)
	if err != nil {
		response.FromError(c, "failed to initialize upload", err)
		return
	}
	response.Success(c, http.StatusCreated, "upload initialized", resp)
}

// PutChunk stores the raw request body as part ?part_number=N.
func (h *UploadHandler) PutChunk(c *gin.Context) {
	partNumber, err := strconv.Atoi(c.Query("part_number"))
	if err != nil || partNumber < 1 {
		response.Error(c, http.StatusBadRequest, "part_number must be a positive integer", err)
		return
	}

	part, err := h.service.PutPart(c.Request.Context(), middleware.MustGetUserID(c), c.Param("id"), partNumber, c.Request.Body)
	if err != nil {
		response.FromError(c, "failed to store chunk", err)
		return
	}
	response.Success(c, http.StatusOK, "chunk stored", part)
}

func (h *UploadHandler) Complete(c *gin.Context) {
	var req upload.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	u, err := h.service.Complete(c.Request.Context(), middleware.MustGetUserID(c), c.Param("id"), req.Parts)
	if err != nil {
		response.FromError(c, "failed to complete upload", err)
		return
	}
	response.Success(c, http.StatusOK, "upload completed", u)
}

func (h *UploadHandler) Abort(c *gin.Context) {
	if err := h.service.Abort(c.Request.Context(), middleware.MustGetUserID(c), c.Param("id")); err != nil {
		response.FromError(c, "failed to abort upload", err)
		return
	}
	response.Success(c, http.StatusOK, "upload aborted", nil)
}

// Get reports the upload and the parts received so far.
func (h *UploadHandler) Get(c *gin.Context) {
	u, parts, err := h.service.Get(c.Request.Context(), middleware.MustGetUserID(c), c.Param("id"))
	if err != nil {
		response.FromError(c, "failed to get upload", err)
		return
	}
	response.Success(c, http.StatusOK, "upload retrieved", gin.H{
		"upload": u,
		"parts":  parts,
	})
}
