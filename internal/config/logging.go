package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// RunLogLayout names run log files after the minute the run started.
const RunLogLayout = "2006-01-02_15.04"

// RunLog is the per-run JSON log file.
type RunLog struct {
	Path string
	file *os.File
}

// Close flushes and closes the file, keeping it on disk.
func (r *RunLog) Close() error {
	if r == nil || r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Discard closes and removes the file. Used when a run found nothing to do.
func (r *RunLog) Discard() error {
	if r == nil || r.Path == "" {
		return nil
	}
	if err := r.Close(); err != nil {
		return err
	}
	if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove run log: %w", err)
	}
	return nil
}

// SetupRunLogger creates a dual-output logger: text to stderr, JSON to
// <dir>/<start>.log. If the file cannot be opened the logger falls back to stderr only
// and the returned RunLog has an empty path.
func SetupRunLogger(dir string, level slog.Level, start time.Time) (*slog.Logger, *RunLog) {
	stderrHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	path := filepath.Join(dir, start.Format(RunLogLayout)+".log")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("failed to create log dir, using stderr only", "error", err, "dir", dir)
		return slog.New(stderrHandler), &RunLog{}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("failed to open log file, using stderr only", "error", err, "file", path)
		return slog.New(stderrHandler), &RunLog{}
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	logger := slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
	return logger, &RunLog{Path: path, file: file}
}

// SetupLoggerWithWriters creates the same fanout with custom writers (for testing).
func SetupLoggerWithWriters(stderr, file io.Writer, level slog.Level) *slog.Logger {
	stderrHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(stderrHandler, fileHandler))
}
