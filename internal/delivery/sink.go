// Package delivery turns a generated export artifact into a retrievable file.
package delivery

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
)

// Sink receives one complete artifact. Implementations report failure by
// returning an error wrapping models.ErrDelivery.
type Sink interface {
	Deliver(ctx context.Context, filename, content, mimeType string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, filename, content, mimeType string) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, filename, content, mimeType string) error {
	return f(ctx, filename, content, mimeType)
}

func deliveryError(filename string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrDelivery, filename, err)
}

// validateFilename rejects names that are not a single path element.
func validateFilename(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid filename %q", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("filename contains null bytes")
	case strings.ContainsAny(name, `/\`) || filepath.Base(name) != name:
		return fmt.Errorf("filename %q must not contain path separators", name)
	}
	return nil
}

// WriterSink writes the artifact to an io.Writer such as stdout.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	logger *events.Logger
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer, logger *events.Logger) *WriterSink {
	return &WriterSink{w: w, logger: logger.WithField("component", "writer_sink")}
}

// Deliver writes content verbatim.
func (s *WriterSink) Deliver(ctx context.Context, filename, content, mimeType string) error {
	if err := ctx.Err(); err != nil {
		return deliveryError(filename, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.w, content); err != nil {
		return deliveryError(filename, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"filename": filename,
		"size":     len(content),
	}).Debug("Wrote artifact")
	return nil
}
