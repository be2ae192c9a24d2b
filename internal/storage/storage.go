// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrObjectNotFound is returned by Open for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// Driver stores upload parts and assembled audio files.
type Driver interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// Compose concatenates srcs, in order, into dst.
	Compose(ctx context.Context, dst string, srcs []string) error
	Close() error
}

type Config struct {
	Driver          string
	RootDir         string
	Bucket          string
	CredentialsFile string
}

// New builds the configured driver.
func New(ctx context.Context, cfg Config) (Driver, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.RootDir)
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// PartKey is where part n of an upload lives until completion.
func PartKey(uploadID string, n int) string {
	return fmt.Sprintf("uploads/%s/parts/%05d", uploadID, n)
}

// ObjectKey is the assembled file of an upload.
func ObjectKey(workspaceID int64, uploadID string) string {
	return fmt.Sprintf("workspaces/%d/audio/%s", workspaceID, uploadID)
}
