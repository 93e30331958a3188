// Package export produces a point-in-time export of every document owned by
// a user and hands it to a delivery sink.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/TheMichaelB/finsync/internal/delivery"
	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/store"
)

// MimeType of the export artifact.
const MimeType = "text/csv"

// Config for the pipeline.
type Config struct {
	OwnerField     string
	FilenamePrefix string
	MaxConcurrent  int
}

// SectionSummary reports one collection's row count.
type SectionSummary struct {
	Collection string `json:"collection"`
	Rows       int    `json:"rows"`
}

// Artifact is the serialized export.
type Artifact struct {
	Filename    string           `json:"filename"`
	Content     string           `json:"-"`
	MimeType    string           `json:"mime_type"`
	Sections    []SectionSummary `json:"sections"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Rows returns the total number of data rows.
func (a *Artifact) Rows() int {
	n := 0
	for _, s := range a.Sections {
		n += s.Rows
	}
	return n
}

// Pipeline reads every owned collection and delivers one artifact.
// It holds no state between exports.
type Pipeline struct {
	reader store.Reader
	sink   delivery.Sink
	cfg    Config
	logger *events.Logger
	now    func() time.Time
}

// NewPipeline creates an export pipeline.
func NewPipeline(reader store.Reader, sink delivery.Sink, cfg Config, logger *events.Logger) *Pipeline {
	if cfg.OwnerField == "" {
		cfg.OwnerField = "userId"
	}
	if cfg.FilenamePrefix == "" {
		cfg.FilenamePrefix = "finance-export"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}

	return &Pipeline{
		reader: reader,
		sink:   sink,
		cfg:    cfg,
		logger: logger.WithField("service", "export"),
		now:    time.Now,
	}
}

// Filename returns the artifact name for the given time.
func (p *Pipeline) Filename(t time.Time) string {
	return fmt.Sprintf("%s-%s.csv", p.cfg.FilenamePrefix, t.Format("2006-01-02"))
}

// Export builds the artifact for id and delivers it. Nothing is delivered
// unless every read succeeds.
func (p *Pipeline) Export(ctx context.Context, id models.Identity) (*Artifact, error) {
	artifact, err := p.Build(ctx, id)
	if err != nil {
		return nil, err
	}

	logger := events.Scoped(ctx, p.logger).WithFields(map[string]interface{}{
		"user_id":  id.ID,
		"filename": artifact.Filename,
	})

	if err := p.sink.Deliver(ctx, artifact.Filename, artifact.Content, artifact.MimeType); err != nil {
		logger.WithError(err).Error("Export delivery failed")
		return nil, &models.ExportError{
			Phase:  "deliver",
			UserID: id.ID,
			Err:    fmt.Errorf("%w: %w", models.ErrDelivery, err),
		}
	}

	logger.WithFields(map[string]interface{}{
		"rows": artifact.Rows(),
		"size": len(artifact.Content),
	}).Info("Export delivered")

	return artifact, nil
}

// Build reads and serializes without delivering.
func (p *Pipeline) Build(ctx context.Context, id models.Identity) (*Artifact, error) {
	if !id.Present() {
		return nil, &models.ExportError{Phase: "validate", Err: models.ErrIdentityAbsent}
	}

	logger := events.Scoped(ctx, p.logger).WithField("user_id", id.ID)
	logger.Info("Starting export")

	sets, err := p.readAll(ctx, id)
	if err != nil {
		logger.WithError(err).Error("Export aborted")
		return nil, err
	}

	generated := p.now()
	artifact := &Artifact{
		Filename:    p.Filename(generated),
		Content:     Serialize(sets),
		MimeType:    MimeType,
		GeneratedAt: generated,
	}

	for i, docs := range sets {
		if len(docs) > 0 {
			artifact.Sections = append(artifact.Sections, SectionSummary{
				Collection: models.Collections[i],
				Rows:       len(docs),
			})
		}
	}

	return artifact, nil
}

// readAll issues one scoped read per collection. Results are indexed by
// collection position so completion order does not matter.
func (p *Pipeline) readAll(ctx context.Context, id models.Identity) ([][]models.Document, error) {
	sets := make([][]models.Document, len(models.Collections))
	filter := store.OwnedBy(p.cfg.OwnerField, id.ID)

	workers := pool.New().
		WithMaxGoroutines(p.cfg.MaxConcurrent).
		WithErrors().
		WithFirstError().
		WithContext(ctx).
		WithCancelOnError()

	for i, collection := range models.Collections {
		workers.Go(func(ctx context.Context) error {
			docs, err := p.reader.Read(ctx, collection, filter)
			if err != nil {
				return &models.ExportError{
					Phase:      "read",
					UserID:     id.ID,
					Collection: collection,
					Err:        fmt.Errorf("%w: %w", models.ErrStoreRead, err),
				}
			}

			p.logger.WithFields(map[string]interface{}{
				"collection": collection,
				"count":      len(docs),
			}).Debug("Read collection")

			sets[i] = docs
			return nil
		})
	}

	if err := workers.Wait(); err != nil {
		return nil, err
	}
	return sets, nil
}
