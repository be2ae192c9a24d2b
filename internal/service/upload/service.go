// internal/service/upload/service.go
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/upload"
	wstypes "audiotricks-service/internal/domain/websocket"
	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"
	"audiotricks-service/internal/pkg/metrics"
	"audiotricks-service/internal/service/quota"
	"audiotricks-service/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	Create(ctx context.Context, u *upload.Upload) error
	FindByID(ctx context.Context, id string) (*upload.Upload, error)
	UpsertPart(ctx context.Context, p *upload.Part) error
	ListParts(ctx context.Context, uploadID string) ([]*upload.Part, error)
	Transition(ctx context.Context, id string, next upload.Status, from ...upload.Status) error
	DeleteParts(ctx context.Context, uploadID string) error
}

type Members interface {
	FindMembership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error)
}

type Quota interface {
	Limits(ctx context.Context, workspaceID int64) (*plan.EffectivePlan, error)
	CurrentUsage(ctx context.Context, workspaceID int64, resource plan.ResourceType) (int64, error)
	EnforceQuota(ctx context.Context, workspaceID int64, resource plan.ResourceType, currentUsage, delta int64) *quota.Decision
	Consume(ctx context.Context, workspaceID int64, resource plan.ResourceType, delta int64) (int64, error)
	Release(ctx context.Context, workspaceID int64, resource plan.ResourceType, delta int64) error
}

type Publisher interface {
	PublishToUser(userID int64, event wstypes.EventType, data interface{})
}

type Config struct {
	ChunkSize   int64
	MaxFileSize int64
}

type UploadService struct {
	store     Store
	members   Members
	quota     Quota
	storage   storage.Driver
	publisher Publisher
	metrics   *metrics.Registry
	cfg       Config
	logger    *zap.Logger
}

func NewUploadService(
	store Store,
	members Members,
	quotas Quota,
	driver storage.Driver,
	publisher Publisher,
	m *metrics.Registry,
	cfg Config,
	logger *zap.Logger,
) *UploadService {
	return &UploadService{
		store:     store,
		members:   members,
		quota:     quotas,
		storage:   driver,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
	}
}

// ========== Multipart ==========

// Initialize opens a multipart upload after checking membership, the plan's
// file size cap and the storage quota.
func (s *UploadService) Initialize(ctx context.Context, userID int64, req *upload.InitializeRequest) (*upload.InitializeResponse, error) {
	if err := s.requireUploader(ctx, req.WorkspaceID, userID); err != nil {
		return nil, err
	}

	if s.cfg.MaxFileSize > 0 && req.SizeBytes > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("file exceeds the %d byte limit: %w", s.cfg.MaxFileSize, xerrors.ErrInvalidInput)
	}

	if err := s.checkQuota(ctx, req.WorkspaceID, req.SizeBytes); err != nil {
		return nil, err
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.cfg.ChunkSize
	}

	id := uuid.NewString()
	u := &upload.Upload{
		ID:          id,
		UserID:      userID,
		WorkspaceID: req.WorkspaceID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		ChunkSize:   chunkSize,
		TotalParts:  upload.TotalParts(req.SizeBytes, chunkSize),
		Status:      upload.StatusInitialized,
		StorageKey:  storage.ObjectKey(req.WorkspaceID, id),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}

	s.logger.Info("upload initialized",
		zap.String("upload_id", u.ID),
		zap.Int64("workspace_id", u.WorkspaceID),
		zap.Int64("size_bytes", u.SizeBytes),
		zap.Int("total_parts", u.TotalParts),
	)

	return &upload.InitializeResponse{UploadID: u.ID, ChunkSize: u.ChunkSize, TotalParts: u.TotalParts}, nil
}

// PutPart stores one chunk. Sending the same part again replaces it, which
// is what client retries rely on.
func (s *UploadService) PutPart(ctx context.Context, userID int64, uploadID string, partNumber int, body io.Reader) (*upload.PartResponse, error) {
	u, err := s.owned(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}
	if u.Status != upload.StatusInitialized && u.Status != upload.StatusUploading {
		return nil, fmt.Errorf("upload is %s: %w", u.Status, xerrors.ErrInvalidState)
	}
	if partNumber < 1 || partNumber > u.TotalParts {
		return nil, fmt.Errorf("part number must be between 1 and %d: %w", u.TotalParts, xerrors.ErrInvalidInput)
	}

	expected := partSize(u, partNumber)
	key := storage.PartKey(u.ID, partNumber)

	hash := sha256.New()
	n, err := s.storage.Put(ctx, key, io.TeeReader(io.LimitReader(body, expected+1), hash))
	if err != nil {
		return nil, fmt.Errorf("failed to store part %d: %w", partNumber, err)
	}
	if n != expected {
		_ = s.storage.Delete(ctx, key)
		return nil, fmt.Errorf("part %d has %d bytes, expected %d: %w", partNumber, n, expected, xerrors.ErrInvalidInput)
	}

	part := &upload.Part{
		UploadID:   u.ID,
		PartNumber: partNumber,
		SizeBytes:  n,
		Checksum:   hex.EncodeToString(hash.Sum(nil)),
		StorageKey: key,
	}
	if err := s.store.UpsertPart(ctx, part); err != nil {
		return nil, err
	}

	if u.Status == upload.StatusInitialized {
		if err := s.store.Transition(ctx, u.ID, upload.StatusUploading, upload.StatusInitialized, upload.StatusUploading); err != nil {
			return nil, err
		}
	}

	if s.metrics != nil {
		s.metrics.UploadParts.Inc()
		s.metrics.UploadBytes.Add(float64(n))
	}

	return &upload.PartResponse{PartNumber: partNumber, Checksum: part.Checksum, SizeBytes: n}, nil
}

// Complete assembles the parts once every part 1..N is present with the
// checksum the client reports, and charges storage and the daily file count.
func (s *UploadService) Complete(ctx context.Context, userID int64, uploadID string, descriptors []upload.PartDescriptor) (*upload.Upload, error) {
	u, err := s.owned(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}
	if u.Status == upload.StatusCompleted {
		return u, nil
	}
	if u.Status != upload.StatusUploading && u.Status != upload.StatusInitialized {
		return nil, fmt.Errorf("upload is %s: %w", u.Status, xerrors.ErrInvalidState)
	}

	stored, err := s.store.ListParts(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	keys, err := verifyParts(u, stored, descriptors)
	if err != nil {
		return nil, err
	}

	charged, err := s.charge(ctx, u)
	if err != nil {
		return nil, err
	}

	if err := s.storage.Compose(ctx, u.StorageKey, keys); err != nil {
		s.refund(ctx, u, charged)
		return nil, fmt.Errorf("failed to assemble upload: %w", err)
	}

	if err := s.store.Transition(ctx, u.ID, upload.StatusCompleted, upload.StatusInitialized, upload.StatusUploading); err != nil {
		s.refund(ctx, u, charged)
		return nil, err
	}

	s.cleanupParts(ctx, u.ID, keys)

	u.Status = upload.StatusCompleted
	if s.publisher != nil {
		s.publisher.PublishToUser(userID, wstypes.EventTypeUploadCompleted, map[string]interface{}{
			"upload_id":    u.ID,
			"workspace_id": u.WorkspaceID,
			"filename":     u.Filename,
			"size_bytes":   u.SizeBytes,
		})
	}
	s.logger.Info("upload completed", zap.String("upload_id", u.ID), zap.Int64("size_bytes", u.SizeBytes))
	return s.store.FindByID(ctx, u.ID)
}

// Abort discards stored parts. Aborting twice is harmless.
func (s *UploadService) Abort(ctx context.Context, userID int64, uploadID string) error {
	u, err := s.owned(ctx, userID, uploadID)
	if err != nil {
		return err
	}
	switch u.Status {
	case upload.StatusAborted:
		return nil
	case upload.StatusCompleted:
		return fmt.Errorf("upload already completed: %w", xerrors.ErrInvalidState)
	}

	parts, err := s.store.ListParts(ctx, u.ID)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		keys = append(keys, p.StorageKey)
	}

	if err := s.store.Transition(ctx, u.ID, upload.StatusAborted, upload.StatusInitialized, upload.StatusUploading); err != nil {
		return err
	}
	s.cleanupParts(ctx, u.ID, keys)

	s.logger.Info("upload aborted", zap.String("upload_id", u.ID), zap.Int("parts_discarded", len(keys)))
	return nil
}

// Get returns the upload with the parts received so far, for resuming.
func (s *UploadService) Get(ctx context.Context, userID int64, uploadID string) (*upload.Upload, []*upload.Part, error) {
	u, err := s.owned(ctx, userID, uploadID)
	if err != nil {
		return nil, nil, err
	}
	parts, err := s.store.ListParts(ctx, u.ID)
	if err != nil {
		return nil, nil, err
	}
	return u, parts, nil
}

// ========== Single request ==========

// Single stores a small file in one request through the same bookkeeping as
// a one-part multipart upload.
func (s *UploadService) Single(ctx context.Context, userID, workspaceID int64, filename, contentType string, size int64, body io.Reader) (*upload.Upload, error) {
	init, err := s.Initialize(ctx, userID, &upload.InitializeRequest{
		WorkspaceID: workspaceID,
		Filename:    filename,
		ContentType: contentType,
		SizeBytes:   size,
		ChunkSize:   size,
	})
	if err != nil {
		return nil, err
	}

	part, err := s.PutPart(ctx, userID, init.UploadID, 1, body)
	if err != nil {
		_ = s.Abort(ctx, userID, init.UploadID)
		return nil, err
	}

	u, err := s.Complete(ctx, userID, init.UploadID, []upload.PartDescriptor{{PartNumber: 1, Checksum: part.Checksum}})
	if err != nil {
		_ = s.Abort(ctx, userID, init.UploadID)
		return nil, err
	}
	return u, nil
}

// Open streams a completed upload; used by the processing pipeline.
func (s *UploadService) Open(ctx context.Context, u *upload.Upload) (io.ReadCloser, error) {
	if u.Status != upload.StatusCompleted {
		return nil, fmt.Errorf("upload is %s: %w", u.Status, xerrors.ErrInvalidState)
	}
	return s.storage.Open(ctx, u.StorageKey)
}

// ========== Helpers ==========

func (s *UploadService) requireUploader(ctx context.Context, workspaceID, userID int64) error {
	m, err := s.members.FindMembership(ctx, workspaceID, userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return fmt.Errorf("workspace not found: %w", xerrors.ErrNotFound)
		}
		return err
	}
	if m.Role == workspace.RoleViewer {
		return fmt.Errorf("viewers cannot upload: %w", xerrors.ErrForbidden)
	}
	return nil
}

func (s *UploadService) checkQuota(ctx context.Context, workspaceID, size int64) error {
	if ep, err := s.quota.Limits(ctx, workspaceID); err == nil {
		maxSize := ep.Limits.MaxFileSizeBytes
		if maxSize != plan.Unlimited && maxSize > 0 && size > maxSize {
			return fmt.Errorf("file exceeds your plan's %d byte limit: %w", maxSize, xerrors.ErrQuotaExceeded)
		}
	}

	for _, check := range []struct {
		resource plan.ResourceType
		delta    int64
	}{
		{plan.ResourceStorageBytes, size},
		{plan.ResourceFilesPerDay, 1},
	} {
		current, err := s.quota.CurrentUsage(ctx, workspaceID, check.resource)
		if err != nil {
			s.logger.Warn("failed to read usage", zap.String("resource", string(check.resource)), zap.Error(err))
			continue
		}
		if d := s.quota.EnforceQuota(ctx, workspaceID, check.resource, current, check.delta); !d.Allowed {
			return fmt.Errorf("%s: %w", d.Suggestion, xerrors.ErrQuotaExceeded)
		}
	}
	return nil
}

// owned hides uploads of other users behind ErrNotFound.
func (s *UploadService) owned(ctx context.Context, userID int64, uploadID string) (*upload.Upload, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return nil, fmt.Errorf("invalid upload id: %w", xerrors.ErrNotFound)
	}
	u, err := s.store.FindByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if u.UserID != userID {
		return nil, fmt.Errorf("upload not found: %w", xerrors.ErrNotFound)
	}
	return u, nil
}

type quotaCharge struct {
	resource plan.ResourceType
	delta    int64
}

// charge consumes every per-upload quota atomically. The initialize-time
// check is advisory; this is where concurrent uploads are actually refused.
// On refusal, whatever was already charged is given back.
func (s *UploadService) charge(ctx context.Context, u *upload.Upload) ([]quotaCharge, error) {
	var done []quotaCharge
	for _, c := range []quotaCharge{
		{plan.ResourceStorageBytes, u.SizeBytes},
		{plan.ResourceFilesPerDay, 1},
	} {
		if _, err := s.quota.Consume(ctx, u.WorkspaceID, c.resource, c.delta); err != nil {
			s.refund(ctx, u, done)
			return nil, err
		}
		done = append(done, c)
	}
	return done, nil
}

func (s *UploadService) refund(ctx context.Context, u *upload.Upload, charged []quotaCharge) {
	for _, c := range charged {
		if err := s.quota.Release(ctx, u.WorkspaceID, c.resource, c.delta); err != nil {
			s.logger.Error("failed to release quota",
				zap.String("upload_id", u.ID),
				zap.String("resource", string(c.resource)),
				zap.Error(err),
			)
		}
	}
}

func (s *UploadService) cleanupParts(ctx context.Context, uploadID string, keys []string) {
	for _, k := range keys {
		if err := s.storage.Delete(ctx, k); err != nil {
			s.logger.Warn("failed to delete part object", zap.String("key", k), zap.Error(err))
		}
	}
	if err := s.store.DeleteParts(ctx, uploadID); err != nil {
		s.logger.Warn("failed to delete part rows", zap.String("upload_id", uploadID), zap.Error(err))
	}
}

func partSize(u *upload.Upload, n int) int64 {
	if n < u.TotalParts {
		return u.ChunkSize
	}
	return u.SizeBytes - int64(u.TotalParts-1)*u.ChunkSize
}

// verifyParts returns the storage keys in part order.
func verifyParts(u *upload.Upload, stored []*upload.Part, descriptors []upload.PartDescriptor) ([]string, error) {
	if len(descriptors) != u.TotalParts {
		return nil, fmt.Errorf("expected %d parts, got %d: %w", u.TotalParts, len(descriptors), xerrors.ErrInvalidInput)
	}

	byNumber := make(map[int]*upload.Part, len(stored))
	for _, p := range stored {
		byNumber[p.PartNumber] = p
	}

	seen := make(map[int]bool, len(descriptors))
	keys := make([]string, u.TotalParts)
	for _, d := range descriptors {
		if d.PartNumber < 1 || d.PartNumber > u.TotalParts || seen[d.PartNumber] {
			return nil, fmt.Errorf("invalid or duplicate part %d: %w", d.PartNumber, xerrors.ErrInvalidInput)
		}
		seen[d.PartNumber] = true

		p, ok := byNumber[d.PartNumber]
		if !ok {
			return nil, fmt.Errorf("part %d was never uploaded: %w", d.PartNumber, xerrors.ErrInvalidInput)
		}
		if p.Checksum != d.Checksum {
			return nil, fmt.Errorf("checksum mismatch on part %d: %w", d.PartNumber, xerrors.ErrInvalidInput)
		}
		keys[d.PartNumber-1] = p.StorageKey
	}
	return keys, nil
}
