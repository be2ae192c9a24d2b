// internal/storage/gcs.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// maxComposeSources is the GCS limit per compose request.
const maxComposeSources = 32

// GCS stores objects in a Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
}

var _ Driver = (*GCS)(nil)

func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCS{client: client, bucket: client.Bucket(bucket)}, nil
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	w := g.bucket.Object(key).NewWriter(ctx)
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to finalize object %s: %w", key, err)
	}
	return n, nil
}

func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := g.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}
	return rc, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Compose works around the 32-source limit by folding batches into dst.
func (g *GCS) Compose(ctx context.Context, dst string, srcs []string) error {
	if len(srcs) == 0 {
		return fmt.Errorf("nothing to compose into %s", dst)
	}

	dstObj := g.bucket.Object(dst)
	remaining := srcs
	first := true
	for len(remaining) > 0 {
		limit := maxComposeSources
		if !first {
			limit-- // dst itself is the first source of later batches
		}
		n := len(remaining)
		if n > limit {
			n = limit
		}

		var handles []*gcs.ObjectHandle
		if !first {
			handles = append(handles, dstObj)
		}
		for _, key := range remaining[:n] {
			handles = append(handles, g.bucket.Object(key))
		}

		if _, err := dstObj.ComposerFrom(handles...).Run(ctx); err != nil {
			return fmt.Errorf("failed to compose %s: %w", dst, err)
		}
		remaining = remaining[n:]
		first = false
	}
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
