package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"golang.org/x/sync/errgroup"
)

// FolderSync mirrors a finished request folder into a GCS bucket so the requester link
// can point at synced storage.
type FolderSync struct {
	client      *storage.Client
	bucket      string
	prefix      string
	parallelism int
	maxRetries  int
	backoff     time.Duration
}

// NewFolderSync returns a syncer for bucket. Objects are written under prefix.
func NewFolderSync(client *storage.Client, bucket, prefix string) *FolderSync {
	return &FolderSync{
		client:      client,
		bucket:      bucket,
		prefix:      prefix,
		parallelism: 10,
		maxRetries:  4,
		backoff:     1 * time.Second,
	}
}

// Sync uploads every file below localDir as <prefix>/<folder>/<relative path>. Objects
// that already exist are left alone, so a re-run after a partial failure only uploads
// what is missing.
func (s *FolderSync) Sync(ctx context.Context, localDir, folder string) (int, error) {
	var files []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", localDir, err)
	}

	logCtx := slog.With("gcsBucket", s.bucket, "folder", folder)
	logCtx.Info("Starting concurrent upload of request folder.", "fileCount", len(files))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.parallelism)
	for _, local := range files {
		rel, err := filepath.Rel(localDir, local)
		if err != nil {
			return 0, err
		}
		dest := ObjectName(s.prefix, folder, rel)
		eg.Go(func() error {
			return s.uploadFile(gctx, local, dest)
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, fmt.Errorf("one or more files failed to upload: %w", err)
	}
	logCtx.Info("Request folder uploaded.")
	return len(files), nil
}

// ObjectName joins prefix, folder and a local relative path into a GCS object name.
func ObjectName(prefix, folder, rel string) string {
	return path.Join(prefix, folder, filepath.ToSlash(rel))
}

func (s *FolderSync) uploadFile(ctx context.Context, localPath, destObject string) error {
	return withRetry(ctx, s.maxRetries, s.backoff, destObject, func() error {
		localFileReader, err := os.Open(localPath)
		if err != nil {
			return fmt.Errorf("could not open local file %s: %w", localPath, err)
		}
		defer localFileReader.Close()

		writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
		defer cancel()

		gcsWriter := s.client.Bucket(s.bucket).Object(destObject).
			If(storage.Conditions{DoesNotExist: true}).
			NewWriter(writeCtx)

		if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
			_ = gcsWriter.Close()
			return fmt.Errorf("io.Copy to GCS failed: %w", err)
		}
		if err := gcsWriter.Close(); err != nil {
			if isPreconditionFailed(err) {
				slog.Info("SKIPPING: object already exists.", "gcsObject", destObject)
				return nil
			}
			return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
		}
		return nil
	})
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// withRetry runs fn up to maxRetries times, doubling backoff between attempts.
func withRetry(ctx context.Context, maxRetries int, backoff time.Duration, name string, fn func() error) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", name,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", name, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", name, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", name, lastErr)
}
