// Package handler serves finsync exports and status checks from AWS Lambda.
package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambdacontext"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/TheMichaelB/finsync/internal/client"
	"github.com/TheMichaelB/finsync/internal/config"
	"github.com/TheMichaelB/finsync/internal/delivery"
	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/lambda/progress"
	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/services/export"
	"github.com/TheMichaelB/finsync/internal/services/status"
	"github.com/TheMichaelB/finsync/internal/store"
)

// Actions accepted by the handler.
const (
	ActionExport = "export"
	ActionStatus = "status"
)

const defaultStatusTimeout = 10 * time.Second

// Event represents the Lambda input event
type Event struct {
	Action string `json:"action"`  // "export" or "status"
	UserID string `json:"user_id"` // Owner whose data is exported

	// S3 destination override (optional)
	DestBucket string `json:"dest_bucket,omitempty"`
	DestPrefix string `json:"dest_prefix,omitempty"`

	// Status wait, in seconds (optional)
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Response represents the Lambda response
type Response struct {
	Success  bool                    `json:"success"`
	Message  string                  `json:"message"`
	Filename string                  `json:"filename,omitempty"`
	Rows     int                     `json:"rows"`
	Sections []export.SectionSummary `json:"sections,omitempty"`
	Status   *models.SyncStatus      `json:"status,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
	Metadata map[string]string       `json:"metadata,omitempty"`
}

// SinkFactory builds the delivery sink for one export.
type SinkFactory func(ctx context.Context, cfg *config.ExportConfig) (delivery.Sink, error)

// Replaced in tests.
var (
	openStore     = client.OpenStore
	newRunsClient = func(ctx context.Context) (progress.DynamoAPI, error) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		return dynamodb.NewFromConfig(awsCfg), nil
	}
)

// sinkOpener binds the configured sinks to logger.
func sinkOpener(logger *events.Logger) SinkFactory {
	return func(ctx context.Context, cfg *config.ExportConfig) (delivery.Sink, error) {
		return client.OpenSink(ctx, cfg, logger)
	}
}

// Handler processes Lambda events. It is created once per cold start.
type Handler struct {
	cfg     *config.Config
	store   store.Client
	newSink SinkFactory
	runs    *progress.Tracker // nil when run tracking is off
	logger  *events.Logger
}

// NewHandler builds the handler from the environment.
func NewHandler(ctx context.Context) (*Handler, error) {
	cfg, lambdaCfg, err := loadLambdaConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := events.NewLogger(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	st, err := openStore(ctx, &cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"driver": cfg.Store.Driver,
		"sink":   cfg.Export.Sink,
		"bucket": cfg.Export.S3Bucket,
	}).Info("Lambda handler initialized")

	h := NewHandlerWithDeps(cfg, st, sinkOpener(logger), logger)

	if lambdaCfg.RunsTable != "" {
		db, err := newRunsClient(ctx)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("aws config: %w", err)
		}
		h.SetRunTracker(progress.NewTracker(db, lambdaCfg.RunsTable))
		logger.WithField("table", lambdaCfg.RunsTable).Info("Export run tracking enabled")
	}

	return h, nil
}

// NewHandlerWithDeps creates a handler around an existing store.
func NewHandlerWithDeps(cfg *config.Config, st store.Client, newSink SinkFactory, logger *events.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		store:   st,
		newSink: newSink,
		logger:  logger.WithField("component", "lambda_handler"),
	}
}

// SetRunTracker enables recording of export runs.
func (h *Handler) SetRunTracker(t *progress.Tracker) {
	h.runs = t
}

// Close releases the store.
func (h *Handler) Close() error {
	return h.store.Close()
}

// ProcessEvent dispatches one event. Failures are reported in the response;
// the returned error is reserved for malformed invocations.
func (h *Handler) ProcessEvent(ctx context.Context, event Event) (Response, error) {
	start := time.Now()

	if lc, ok := lambdacontext.FromContext(ctx); ok {
		ctx = events.WithRequestID(ctx, lc.AwsRequestID)
	}

	events.Scoped(ctx, h.logger).WithFields(map[string]interface{}{
		"action":  event.Action,
		"user_id": event.UserID,
	}).Info("Processing Lambda event")

	if event.UserID == "" && (event.Action == ActionExport || event.Action == ActionStatus) {
		return Response{
			Success: false,
			Message: "user_id is required",
			Errors:  []string{models.ErrIdentityAbsent.Error()},
		}, nil
	}

	switch event.Action {
	case ActionExport:
		return h.handleExport(ctx, event, start)
	case ActionStatus:
		return h.handleStatus(ctx, event, start)
	default:
		return Response{
			Success: false,
			Message: fmt.Sprintf("Unknown action: %s", event.Action),
		}, nil
	}
}

func (h *Handler) handleExport(ctx context.Context, event Event, start time.Time) (Response, error) {
	exportCfg := h.cfg.Export
	if event.DestBucket != "" {
		exportCfg.Sink = config.SinkS3
		exportCfg.S3Bucket = event.DestBucket
	}
	if event.DestPrefix != "" {
		exportCfg.S3Prefix = event.DestPrefix
	}
	if exportCfg.Sink == config.SinkS3 && exportCfg.S3Bucket == "" {
		return Response{
			Success: false,
			Message: "No destination bucket",
			Errors:  []string{"set S3_BUCKET or dest_bucket"},
		}, nil
	}

	sink, err := h.newSink(ctx, &exportCfg)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create sink")
		return Response{
			Success: false,
			Message: "Failed to create sink",
			Errors:  []string{err.Error()},
		}, nil
	}

	pipeline := export.NewPipeline(h.store, sink, export.Config{
		OwnerField:     h.cfg.Store.OwnerField,
		FilenamePrefix: exportCfg.FilenamePrefix,
		MaxConcurrent:  exportCfg.MaxConcurrent,
	}, h.logger)

	run := h.startRun(ctx, event.UserID)

	artifact, err := pipeline.Export(ctx, models.NewIdentity(event.UserID))
	if err != nil {
		events.Scoped(ctx, h.logger).WithError(err).Error("Export failed")
		h.finishRun(ctx, run, nil, err)
		return Response{
			Success:  false,
			Message:  exportFailureMessage(err),
			Errors:   []string{err.Error()},
			Metadata: map[string]string{"execution_time": time.Since(start).String()},
		}, nil
	}

	h.finishRun(ctx, run, artifact, nil)

	return Response{
		Success:  true,
		Message:  fmt.Sprintf("Exported %d rows in %d sections", artifact.Rows(), len(artifact.Sections)),
		Filename: artifact.Filename,
		Rows:     artifact.Rows(),
		Sections: artifact.Sections,
		Metadata: map[string]string{
			"bucket":         exportCfg.S3Bucket,
			"prefix":         exportCfg.S3Prefix,
			"execution_time": time.Since(start).String(),
		},
	}, nil
}

// startRun records a running export. Tracking failures never fail the export.
func (h *Handler) startRun(ctx context.Context, userID string) *progress.ExportRun {
	if h.runs == nil {
		return nil
	}
	run, err := h.runs.Start(ctx, userID)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to record export start")
		return nil
	}
	return run
}

func (h *Handler) finishRun(ctx context.Context, run *progress.ExportRun, artifact *export.Artifact, exportErr error) {
	if h.runs == nil || run == nil {
		return
	}
	var err error
	if exportErr != nil {
		err = h.runs.Fail(ctx, run, exportErr)
	} else {
		err = h.runs.Complete(ctx, run, artifact.Filename, artifact.Rows())
	}
	if err != nil {
		h.logger.WithError(err).Warn("Failed to record export result")
	}
}

func exportFailureMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrStoreRead):
		return "Failed to read collections"
	case errors.Is(err, models.ErrDelivery):
		return "Failed to deliver export"
	default:
		return "Export failed"
	}
}

// handleStatus runs the status monitor for the user until it settles on a
// state other than syncing, or the wait expires.
func (h *Handler) handleStatus(ctx context.Context, event Event, start time.Time) (Response, error) {
	wait := defaultStatusTimeout
	if event.TimeoutSeconds > 0 {
		wait = time.Duration(event.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	monitor := status.NewMonitor(h.store, status.Config{
		ProbeCollection: h.cfg.Monitor.ProbeCollection,
		OwnerField:      h.cfg.Store.OwnerField,
		UpdateBuffer:    h.cfg.Monitor.UpdateBuffer,
	}, h.logger)
	monitor.Start(ctx)
	defer monitor.Close()

	monitor.SetIdentity(models.NewIdentity(event.UserID))

	current := monitor.Status()
	settled := false
	for !settled {
		select {
		case <-ctx.Done():
			settled = true
		case s, ok := <-monitor.Updates():
			if !ok {
				settled = true
				continue
			}
			current = s
			settled = s.State != models.StateSyncing
		}
	}

	return Response{
		Success: current.State == models.StateSynced,
		Message: current.String(),
		Status:  &current,
		Metadata: map[string]string{
			"execution_time": time.Since(start).String(),
		},
	}, nil
}

// loadLambdaConfig reads FINSYNC_ settings, applies Lambda defaults and
// resolves the store token from Secrets Manager when configured.
func loadLambdaConfig(ctx context.Context) (*config.Config, *config.LambdaConfig, error) {
	cfg, err := config.NewLoader("").Load()
	if err != nil {
		return nil, nil, err
	}

	lambdaCfg := config.ApplyLambdaDefaults(cfg)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if lambdaCfg.TokenSecretName != "" && cfg.Store.Driver == config.DriverRemote {
		sm, err := newSecretsClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		token, err := loadStoreToken(ctx, sm, lambdaCfg.TokenSecretName)
		if err != nil {
			return nil, nil, fmt.Errorf("load store token: %w", err)
		}
		cfg.Store.Token = token
	}

	return cfg, lambdaCfg, nil
}
