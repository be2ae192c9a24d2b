package uploader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"runtime"
	"sync"
	"testing"
	"time"

	"audiotricks-service/internal/domain/upload"
)

type fakeTransport struct {
	mu        sync.Mutex
	failures  map[int]int // part -> remaining failures
	failWith  error
	attempts  map[int]int
	received  map[int][]byte
	completed [][]upload.PartDescriptor
	aborted   int
	singles   int
	onPut     func(part int)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		failures: map[int]int{},
		attempts: map[int]int{},
		received: map[int][]byte{},
		failWith: &StatusError{Code: http.StatusServiceUnavailable, Message: "busy"},
	}
}

func (f *fakeTransport) Single(_ context.Context, _ int64, _ *File, body io.Reader) (*upload.Upload, error) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.singles++
	f.mu.Unlock()
	return &upload.Upload{ID: "single-1", Status: upload.StatusCompleted}, nil
}

func (f *fakeTransport) Initialize(_ context.Context, req *upload.InitializeRequest) (*upload.InitializeResponse, error) {
	return &upload.InitializeResponse{
		UploadID:   "up-1",
		ChunkSize:  req.ChunkSize,
		TotalParts: upload.TotalParts(req.SizeBytes, req.ChunkSize),
	}, nil
}

func (f *fakeTransport) PutPart(ctx context.Context, _ string, part int, body io.Reader, _ int64) (*upload.PartResponse, error) {
	if f.onPut != nil {
		f.onPut(part)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[part]++
	if f.failures[part] > 0 {
		f.failures[part]--
		return nil, f.failWith
	}
	f.received[part] = data
	sum := sha256.Sum256(data)
	return &upload.PartResponse{PartNumber: part, Checksum: hex.EncodeToString(sum[:]), SizeBytes: int64(len(data))}, nil
}

func (f *fakeTransport) Complete(_ context.Context, _ string, parts []upload.PartDescriptor) (*upload.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, parts)
	return &upload.Upload{ID: "up-1", Status: upload.StatusCompleted}, nil
}

func (f *fakeTransport) Abort(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
	return nil
}

func newTestClient(t *fakeTransport, opts Options) (*Client, *[]time.Duration) {
	c := New(t, opts, nil)
	var mu sync.Mutex
	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return ctx.Err()
	}
	return c, &delays
}

func testFile(size int) *File {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	return &File{Name: "talk.mp3", ContentType: "audio/mpeg", Size: int64(size), Data: bytes.NewReader(data)}
}

func TestPlanChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunkSize int64
		want      []int64
	}{
		{"exact multiple", 10, 5, []int64{5, 5}},
		{"remainder", 12, 5, []int64{5, 5, 2}},
		{"smaller than chunk", 3, 5, []int64{3}},
		{"empty", 0, 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := PlanChunks(tt.size, tt.chunkSize)
			if len(chunks) != len(tt.want) {
				t.Fatalf("expected %d chunks, got %d", len(tt.want), len(chunks))
			}
			var off int64
			for i, ch := range chunks {
				if ch.Size != tt.want[i] || ch.Offset != off || ch.PartNumber != i+1 {
					t.Errorf("chunk %d = %+v", i, ch)
				}
				off += ch.Size
			}
		})
	}
}

func TestUploadFile_RetriesFailedChunk(t *testing.T) {
	tr := newFakeTransport()
	tr.failures[2] = 2
	c, delays := newTestClient(tr, Options{ChunkSize: 5, MultipartThreshold: 8, BaseBackoff: time.Second})

	id, err := c.UploadFile(context.Background(), testFile(12), 7)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if id != "up-1" {
		t.Errorf("unexpected id %q", id)
	}
	if tr.attempts[2] != 3 {
		t.Errorf("expected 3 attempts on part 2, got %d", tr.attempts[2])
	}
	if len(tr.completed) != 1 {
		t.Fatalf("expected complete called once, got %d", len(tr.completed))
	}
	parts := tr.completed[0]
	if len(parts) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(parts))
	}
	for i, p := range parts {
		if p.PartNumber != i+1 {
			t.Errorf("descriptor %d has part number %d", i, p.PartNumber)
		}
	}
	if len(tr.received[3]) != 2 {
		t.Errorf("last chunk should be 2 bytes, got %d", len(tr.received[3]))
	}
	if len(*delays) != 2 || (*delays)[0] != 2*time.Second || (*delays)[1] != 4*time.Second {
		t.Errorf("unexpected backoff schedule %v", *delays)
	}
	if tr.aborted != 0 {
		t.Errorf("successful upload should not abort")
	}
}

func TestUploadFile_AbortsAfterRetriesExhausted(t *testing.T) {
	tr := newFakeTransport()
	tr.failures[1] = 10
	c, _ := newTestClient(tr, Options{ChunkSize: 5, MultipartThreshold: 8, MaxRetries: 2})

	_, err := c.UploadFile(context.Background(), testFile(12), 7)
	if err == nil {
		t.Fatal("expected error")
	}
	if tr.attempts[1] != 3 {
		t.Errorf("expected 3 attempts, got %d", tr.attempts[1])
	}
	if tr.aborted != 1 {
		t.Errorf("expected one abort, got %d", tr.aborted)
	}
	if len(tr.completed) != 0 {
		t.Errorf("complete must not be called")
	}
}

func TestUploadFile_ClientErrorNotRetried(t *testing.T) {
	tr := newFakeTransport()
	tr.failures[1] = 1
	tr.failWith = &StatusError{Code: http.StatusBadRequest, Message: "bad part"}
	c, delays := newTestClient(tr, Options{ChunkSize: 5, MultipartThreshold: 8})

	_, err := c.UploadFile(context.Background(), testFile(12), 7)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 status error, got %v", err)
	}
	if tr.attempts[1] != 1 || len(*delays) != 0 {
		t.Errorf("400 should not be retried")
	}
	if tr.aborted != 1 {
		t.Errorf("expected abort")
	}
}

func TestUploadFile_Cancel(t *testing.T) {
	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	tr.onPut = func(part int) {
		if part == 1 {
			cancel()
		}
	}
	c, _ := newTestClient(tr, Options{ChunkSize: 5, MultipartThreshold: 8, Concurrency: 1})

	_, err := c.UploadFile(ctx, testFile(12), 7)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if tr.aborted != 1 {
		t.Errorf("expected abort on cancel, got %d", tr.aborted)
	}
	if len(tr.completed) != 0 {
		t.Errorf("complete must not be called")
	}
	if tr.attempts[3] != 0 {
		t.Errorf("no chunk should be dispatched after cancel")
	}
}

func TestUploadFile_ProgressMonotonic(t *testing.T) {
	tr := newFakeTransport()
	tr.failures[1] = 1

	var mu sync.Mutex
	var seen []int64
	opts := Options{ChunkSize: 5, MultipartThreshold: 8, OnProgress: func(p Progress) {
		mu.Lock()
		seen = append(seen, p.Uploaded)
		mu.Unlock()
	}}
	c, _ := newTestClient(tr, opts)

	if _, err := c.UploadFile(context.Background(), testFile(22), 7); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 5 {
		t.Fatalf("expected one report per chunk, got %v", seen)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Errorf("progress went backwards: %v", seen)
		}
	}
	if seen[len(seen)-1] != 22 {
		t.Errorf("final progress should be total, got %d", seen[len(seen)-1])
	}
}

func TestUploadFile_SmallFileUsesSingleRequest(t *testing.T) {
	tr := newFakeTransport()
	var last Progress
	c, _ := newTestClient(tr, Options{ChunkSize: 5, MultipartThreshold: 8, OnProgress: func(p Progress) { last = p }})

	id, err := c.UploadFile(context.Background(), testFile(6), 7)
	if err != nil {
		t.Fatal(err)
	}
	if id != "single-1" || tr.singles != 1 {
		t.Errorf("expected the single path, got id %q", id)
	}
	if last.Percent != 100 {
		t.Errorf("expected 100%%, got %v", last.Percent)
	}
}

func TestSingle_BadURLLeavesNoWriter(t *testing.T) {
	tr := NewHTTPTransport("http://[::1", "token")
	f := &File{Name: "a.mp3", Data: bytes.NewReader(make([]byte, 64)), Size: 64}

	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		if _, err := tr.Single(context.Background(), 7, f, bytes.NewReader(make([]byte, 64))); err == nil {
			t.Fatal("expected a request error for a malformed base URL")
		}
	}

	deadline := time.Now().Add(time.Second)
	for runtime.NumGoroutine() > before+2 {
		if time.Now().After(deadline) {
			t.Fatalf("multipart writers still running: %d goroutines, started with %d", runtime.NumGoroutine(), before)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
