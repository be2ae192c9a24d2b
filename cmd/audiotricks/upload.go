package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"audiotricks-service/internal/uploader"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func uploadCmd() *cobra.Command {
	var (
		apiURL      string
		token       string
		workspaceID int64
		chunkSize   int64
		concurrency int
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload an audio file, in parallel chunks when it is large",
		Long: `Upload an audio file to a workspace.

Files above the multipart threshold are split into chunks that are sent
concurrently and retried with backoff. Interrupting the command aborts the
upload on the server.

Examples:
  audiotricks upload --workspace 3 interview.mp3
  audiotricks upload --api https://api.example.com --chunk-size 8388608 --workspace 3 talk.wav`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("an API token is required (--token or AUDIOTRICKS_TOKEN)")
			}
			if workspaceID <= 0 {
				return fmt.Errorf("--workspace is required")
			}

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", path, err)
			}

			contentType := mime.TypeByExtension(filepath.Ext(path))
			if contentType == "" {
				contentType = "application/octet-stream"
			}

			logger := zap.NewNop()
			if verbose {
				if logger, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			client := uploader.New(uploader.NewHTTPTransport(apiURL, token), uploader.Options{
				ChunkSize:   chunkSize,
				Concurrency: concurrency,
				OnProgress: func(p uploader.Progress) {
					fmt.Fprintf(out, "\r%6.2f%%  %d/%d bytes", p.Percent, p.Uploaded, p.Total)
				},
			}, logger)

			id, err := client.UploadFile(ctx, &uploader.File{
				Name:        filepath.Base(path),
				ContentType: contentType,
				Size:        info.Size(),
				Data:        f,
			}, workspaceID)
			fmt.Fprintln(out)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}

			fmt.Fprintf(out, "Uploaded %s as %s\n", filepath.Base(path), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", envOr("AUDIOTRICKS_API", "http://localhost:8000"), "API base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("AUDIOTRICKS_TOKEN"), "bearer token")
	cmd.Flags().Int64VarP(&workspaceID, "workspace", "w", 0, "target workspace id")
	cmd.Flags().Int64Var(&chunkSize, "chunk-size", uploader.DefaultChunkSize, "chunk size in bytes")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", uploader.DefaultConcurrency, "parallel chunk uploads")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log retries and aborts")

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
