// internal/uploader/uploader.go
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"audiotricks-service/internal/domain/upload"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultChunkSize          int64 = 5 * 1024 * 1024
	DefaultMultipartThreshold int64 = 8 * 1024 * 1024
	DefaultConcurrency              = 3
	DefaultMaxRetries               = 3
	DefaultBaseBackoff              = time.Second
)

// Transport is the server side of an upload. HTTPTransport talks to the API.
type Transport interface {
	Single(ctx context.Context, workspaceID int64, f *File, body io.Reader) (*upload.Upload, error)
	Initialize(ctx context.Context, req *upload.InitializeRequest) (*upload.InitializeResponse, error)
	PutPart(ctx context.Context, uploadID string, partNumber int, body io.Reader, size int64) (*upload.PartResponse, error)
	Complete(ctx context.Context, uploadID string, parts []upload.PartDescriptor) (*upload.Upload, error)
	Abort(ctx context.Context, uploadID string) error
}

// File is the source of an upload. *os.File satisfies io.ReaderAt.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        io.ReaderAt
}

type Progress struct {
	Uploaded int64
	Total    int64
	Percent  float64
}

type Options struct {
	ChunkSize          int64
	MultipartThreshold int64
	Concurrency        int
	MaxRetries         int
	BaseBackoff        time.Duration
	OnProgress         func(Progress)
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.MultipartThreshold <= 0 {
		o.MultipartThreshold = DefaultMultipartThreshold
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = DefaultBaseBackoff
	}
	return o
}

// Chunk is one byte range of the file.
type Chunk struct {
	PartNumber int
	Offset     int64
	Size       int64
}

// PlanChunks splits size bytes into ceil(size/chunkSize) ranges. The last
// range carries the remainder and is never empty.
func PlanChunks(size, chunkSize int64) []Chunk {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}
	chunks := make([]Chunk, 0, (size+chunkSize-1)/chunkSize)
	for off, n := int64(0), 1; off < size; off, n = off+chunkSize, n+1 {
		sz := chunkSize
		if off+sz > size {
			sz = size - off
		}
		chunks = append(chunks, Chunk{PartNumber: n, Offset: off, Size: sz})
	}
	return chunks
}

type Client struct {
	transport Transport
	opts      Options
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

func New(transport Transport, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		opts:      opts.withDefaults(),
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// UploadFile sends f to the workspace and returns the upload id. Files below
// the multipart threshold go in a single request.
func (c *Client) UploadFile(ctx context.Context, f *File, workspaceID int64) (string, error) {
	if f.Size <= 0 {
		return "", errors.New("file is empty")
	}
	if f.Size < c.opts.MultipartThreshold {
		return c.single(ctx, f, workspaceID)
	}
	return c.multipart(ctx, f, workspaceID)
}

func (c *Client) single(ctx context.Context, f *File, workspaceID int64) (string, error) {
	tracker := newTracker(f.Size, c.opts.OnProgress)
	body := &countingReader{r: io.NewSectionReader(f.Data, 0, f.Size), onRead: tracker.advance}

	u, err := c.transport.Single(ctx, workspaceID, f, body)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", f.Name, err)
	}
	tracker.finish()
	return u.ID, nil
}

func (c *Client) multipart(ctx context.Context, f *File, workspaceID int64) (string, error) {
	started, err := c.transport.Initialize(ctx, &upload.InitializeRequest{
		WorkspaceID: workspaceID,
		Filename:    f.Name,
		ContentType: f.ContentType,
		SizeBytes:   f.Size,
		ChunkSize:   c.opts.ChunkSize,
	})
	if err != nil {
		return "", fmt.Errorf("failed to initialize upload: %w", err)
	}

	chunks := PlanChunks(f.Size, started.ChunkSize)
	if len(chunks) != started.TotalParts {
		c.abort(started.UploadID)
		return "", fmt.Errorf("server expects %d parts, planned %d", started.TotalParts, len(chunks))
	}

	tracker := newTracker(f.Size, c.opts.OnProgress)
	descriptors := make([]upload.PartDescriptor, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for i, ch := range chunks {
		// stop dispatching once anything failed or the caller cancelled
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			part, err := c.sendChunk(gctx, started.UploadID, f, ch)
			if err != nil {
				return err
			}
			descriptors[i] = upload.PartDescriptor{PartNumber: ch.PartNumber, Checksum: part.Checksum}
			tracker.complete(ch.PartNumber, ch.Size)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.abort(started.UploadID)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if ctx.Err() != nil {
		c.abort(started.UploadID)
		return "", ctx.Err()
	}

	sort.Slice(descriptors, func(a, b int) bool { return descriptors[a].PartNumber < descriptors[b].PartNumber })
	if _, err := c.transport.Complete(ctx, started.UploadID, descriptors); err != nil {
		c.abort(started.UploadID)
		return "", fmt.Errorf("failed to complete upload: %w", err)
	}

	c.logger.Info("upload finished",
		zap.String("upload_id", started.UploadID),
		zap.String("file", f.Name),
		zap.Int("parts", len(chunks)),
	)
	return started.UploadID, nil
}

// sendChunk retries a chunk up to MaxRetries times, waiting base*2^retry
// before retry n (2s, 4s, 8s with the default base).
func (c *Client) sendChunk(ctx context.Context, uploadID string, f *File, ch Chunk) (*upload.PartResponse, error) {
	var lastErr error
	for retry := 0; retry <= c.opts.MaxRetries; retry++ {
		if retry > 0 {
			delay := c.opts.BaseBackoff << retry
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		part, err := c.transport.PutPart(ctx, uploadID, ch.PartNumber, io.NewSectionReader(f.Data, ch.Offset, ch.Size), ch.Size)
		if err == nil {
			return part, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !retryable(err) {
			break
		}
		c.logger.Warn("chunk upload failed",
			zap.String("upload_id", uploadID),
			zap.Int("part", ch.PartNumber),
			zap.Int("retry", retry),
			zap.Error(err),
		)
	}
	return nil, fmt.Errorf("part %d failed: %w", ch.PartNumber, lastErr)
}

// abort releases server state. It runs on its own context so a cancelled
// upload still gets cleaned up.
func (c *Client) abort(uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.transport.Abort(ctx, uploadID); err != nil {
		c.logger.Warn("failed to abort upload", zap.String("upload_id", uploadID), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ========== Progress ==========

// tracker derives progress from the set of finished chunks, so out of order
// completion and retried chunks never move it backwards.
type tracker struct {
	mu       sync.Mutex
	total    int64
	done     map[int]int64
	uploaded int64
	notify   func(Progress)
}

func newTracker(total int64, notify func(Progress)) *tracker {
	return &tracker{total: total, done: map[int]int64{}, notify: notify}
}

func (t *tracker) complete(partNumber int, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.done[partNumber]; ok {
		return
	}
	t.done[partNumber] = size
	var sum int64
	for _, s := range t.done {
		sum += s
	}
	t.report(sum)
}

// advance is used by the single-request path where bytes stream through one body.
func (t *tracker) advance(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report(t.uploaded + n)
}

func (t *tracker) finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report(t.total)
}

func (t *tracker) report(uploaded int64) {
	if uploaded > t.total {
		uploaded = t.total
	}
	if uploaded <= t.uploaded {
		return
	}
	t.uploaded = uploaded
	if t.notify == nil {
		return
	}
	pct := 100.0
	if t.total > 0 {
		pct = float64(uploaded) / float64(t.total) * 100
	}
	t.notify(Progress{Uploaded: uploaded, Total: t.total, Percent: pct})
}

type countingReader struct {
	r      io.Reader
	onRead func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.onRead(int64(n))
	}
	return n, err
}
