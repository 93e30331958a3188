// Package progress records Lambda export runs in DynamoDB so operators can
// see the outcome of the last export per user.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// runTTL is how long a run record is kept.
const runTTL = 7 * 24 * time.Hour

// DynamoAPI is the subset of the DynamoDB client used by the tracker.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// ExportRun is the latest export attempt for one user.
type ExportRun struct {
	RunID      string    `json:"run_id"`
	UserID     string    `json:"user_id"`
	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
	Status     string    `json:"status"`
	Filename   string    `json:"filename,omitempty"`
	Rows       int       `json:"rows"`
	Error      string    `json:"error,omitempty"`
}

// Tracker persists export runs, one item per user.
type Tracker struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// NewTracker creates a tracker writing to tableName.
func NewTracker(client DynamoAPI, tableName string) *Tracker {
	return &Tracker{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

// Start records a new running export for userID.
func (t *Tracker) Start(ctx context.Context, userID string) (*ExportRun, error) {
	now := t.now()
	run := &ExportRun{
		RunID:     uuid.NewString(),
		UserID:    userID,
		StartTime: now,
		Status:    StatusRunning,
	}
	return run, t.save(ctx, run)
}

// Complete marks run as delivered.
func (t *Tracker) Complete(ctx context.Context, run *ExportRun, filename string, rows int) error {
	run.Status = StatusComplete
	run.Filename = filename
	run.Rows = rows
	return t.save(ctx, run)
}

// Fail marks run as failed with runErr.
func (t *Tracker) Fail(ctx context.Context, run *ExportRun, runErr error) error {
	run.Status = StatusFailed
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return t.save(ctx, run)
}

// Latest returns the most recent run for userID, or nil if none is recorded.
func (t *Tracker) Latest(ctx context.Context, userID string) (*ExportRun, error) {
	result, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &t.tableName,
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: runKey(userID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	dataAttr, ok := result.Item["data"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("run item for %s has no data attribute", userID)
	}

	var run ExportRun
	if err := json.Unmarshal([]byte(dataAttr.Value), &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

func (t *Tracker) save(ctx context.Context, run *ExportRun) error {
	run.LastUpdate = t.now()

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &t.tableName,
		Item: map[string]types.AttributeValue{
			"pk":     &types.AttributeValueMemberS{Value: runKey(run.UserID)},
			"status": &types.AttributeValueMemberS{Value: run.Status},
			"data":   &types.AttributeValueMemberS{Value: string(data)},
			"ttl":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", run.LastUpdate.Add(runTTL).Unix())},
		},
	})
	if err != nil {
		return fmt.Errorf("put run: %w", err)
	}
	return nil
}

func runKey(userID string) string {
	return "run#" + userID
}
