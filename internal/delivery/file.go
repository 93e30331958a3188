package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TheMichaelB/finsync/internal/events"
)

// FileSink writes artifacts into a directory. Files appear atomically: a
// reader never sees a partially written artifact.
type FileSink struct {
	dir    string
	mode   os.FileMode
	logger *events.Logger
}

// NewFileSink creates the directory if needed.
func NewFileSink(dir string, logger *events.Logger) (*FileSink, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &FileSink{
		dir:    absPath,
		mode:   0600,
		logger: logger.WithField("component", "file_sink"),
	}, nil
}

// Dir returns the output directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// Path returns where filename is written.
func (s *FileSink) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// Deliver writes content to dir/filename, replacing any previous file.
func (s *FileSink) Deliver(ctx context.Context, filename, content, mimeType string) error {
	if err := validateFilename(filename); err != nil {
		return deliveryError(filename, err)
	}
	if err := ctx.Err(); err != nil {
		return deliveryError(filename, err)
	}

	target := s.Path(filename)

	s.logger.WithFields(map[string]interface{}{
		"path": target,
		"size": len(content),
		"mime": mimeType,
	}).Debug("Writing artifact")

	tmp, err := os.CreateTemp(s.dir, "."+filename+".tmp-*")
	if err != nil {
		return deliveryError(filename, fmt.Errorf("create temp file: %w", err))
	}
	tempPath := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		_ = os.Remove(tempPath)
		return deliveryError(filename, fmt.Errorf("write temp file: %w", err))
	}

	// Sync to disk
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tempPath)
		return deliveryError(filename, fmt.Errorf("sync temp file: %w", err))
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return deliveryError(filename, fmt.Errorf("close temp file: %w", err))
	}

	if err := os.Chmod(tempPath, s.mode); err != nil {
		_ = os.Remove(tempPath)
		return deliveryError(filename, fmt.Errorf("chmod temp file: %w", err))
	}

	// Rename atomically
	if err := os.Rename(tempPath, target); err != nil {
		_ = os.Remove(tempPath)
		return deliveryError(filename, fmt.Errorf("rename temp file: %w", err))
	}

	s.logger.WithField("path", target).Info("Export written")
	return nil
}
