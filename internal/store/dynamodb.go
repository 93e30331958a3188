package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
)

// Attribute names in the documents table. The table is keyed by
// (collection, id); all other attributes are document fields.
const (
	dynamoCollectionAttr = "collection"
	dynamoIDAttr         = "id"
)

// DynamoQueryAPI is the subset of the DynamoDB client used by DynamoDBReader.
type DynamoQueryAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBReader performs scoped collection reads against a DynamoDB table.
// Listeners are served by polling.
type DynamoDBReader struct {
	client    DynamoQueryAPI
	tableName string
	logger    *events.Logger

	mu           sync.Mutex
	pollInterval time.Duration
	streams      map[string]*Stream
	closed       bool
	stop         chan struct{}
	wg           sync.WaitGroup
}

// NewDynamoDBReader creates a reader using the default AWS credential chain.
func NewDynamoDBReader(ctx context.Context, tableName string, logger *events.Logger) (*DynamoDBReader, error) {
	if tableName == "" {
		return nil, fmt.Errorf("dynamodb table name required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewDynamoDBReaderWithClient(dynamodb.NewFromConfig(cfg), tableName, logger), nil
}

// NewDynamoDBReaderWithClient wraps an existing client.
func NewDynamoDBReaderWithClient(client DynamoQueryAPI, tableName string, logger *events.Logger) *DynamoDBReader {
	return &DynamoDBReader{
		client:       client,
		tableName:    tableName,
		logger:       logger.WithField("component", "dynamodb_reader"),
		pollInterval: DefaultPollInterval,
		streams:      make(map[string]*Stream),
		stop:         make(chan struct{}),
	}
}

// Read queries one collection partition, following pagination, in sort-key order.
func (r *DynamoDBReader) Read(ctx context.Context, collection string, filter Filter) ([]models.Document, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		KeyConditionExpression: aws.String("#c = :c"),
		ExpressionAttributeNames: map[string]string{
			"#c": dynamoCollectionAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":c": &types.AttributeValueMemberS{Value: collection},
		},
	}

	if filter.Field != "" {
		input.FilterExpression = aws.String("#f = :f")
		input.ExpressionAttributeNames["#f"] = filter.Field
		input.ExpressionAttributeValues[":f"] = &types.AttributeValueMemberS{Value: filter.Value}
	}

	docs := []models.Document{}
	pages := 0
	for {
		out, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, &models.StoreError{Op: "read", Collection: collection, Err: fmt.Errorf("dynamodb query: %w", err)}
		}
		pages++

		for _, item := range out.Items {
			docs = append(docs, itemToDocument(item))
		}

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	r.logger.WithFields(map[string]interface{}{
		"collection": collection,
		"documents":  len(docs),
		"pages":      pages,
	}).Debug("Read collection from DynamoDB")

	return docs, nil
}

func itemToDocument(item map[string]types.AttributeValue) models.Document {
	doc := models.Document{Fields: make(map[string]any, len(item))}
	for k, av := range item {
		switch k {
		case dynamoCollectionAttr:
			continue
		case dynamoIDAttr:
			if s, ok := av.(*types.AttributeValueMemberS); ok {
				doc.ID = s.Value
				continue
			}
		}
		doc.Fields[k] = attributeValue(av)
	}
	return doc
}

func attributeValue(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return json.Number(v.Value)
	case *types.AttributeValueMemberBOOL:
		return v.Value
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberB:
		return v.Value
	case *types.AttributeValueMemberSS:
		return v.Value
	case *types.AttributeValueMemberNS:
		out := make([]json.Number, len(v.Value))
		for i, n := range v.Value {
			out[i] = json.Number(n)
		}
		return out
	case *types.AttributeValueMemberL:
		out := make([]any, len(v.Value))
		for i, e := range v.Value {
			out[i] = attributeValue(e)
		}
		return out
	case *types.AttributeValueMemberM:
		out := make(map[string]any, len(v.Value))
		for k, e := range v.Value {
			out[k] = attributeValue(e)
		}
		return out
	default:
		return nil
	}
}

// DefaultPollInterval is how often a DynamoDB listener re-reads its query.
const DefaultPollInterval = 30 * time.Second

// SetPollInterval changes the listener poll interval for subsequent subscriptions.
func (r *DynamoDBReader) SetPollInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.pollInterval = d
	}
}

// Subscribe emulates a realtime listener by polling the query. DynamoDB has no
// push channel for arbitrary filtered queries, so each tick re-reads the
// partition and delivers a snapshot when the result changed.
func (r *DynamoDBReader) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, &models.StoreError{Op: "subscribe", Collection: q.Collection, Err: models.ErrNotConnected}
	}
	interval := r.pollInterval
	id := uuid.NewString()
	done := make(chan struct{})
	stream := NewStream(id, 4, func() { close(done) })
	r.streams[id] = stream
	r.mu.Unlock()

	r.wg.Add(1)
	go r.poll(q, stream, interval, done)

	r.logger.WithFields(map[string]interface{}{
		"subscription": id,
		"collection":   q.Collection,
		"interval":     interval.String(),
	}).Debug("Started polling listener")

	return stream, nil
}

func (r *DynamoDBReader) poll(q Query, stream *Stream, interval time.Duration, done <-chan struct{}) {
	defer r.wg.Done()
	defer r.forget(stream.ID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-done:
		case <-r.stop:
		}
		cancel()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	first := true
	for {
		docs, err := r.Read(ctx, q.Collection, q.Filter)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			stream.Push(ErrorEvent(err.Error()))
			first = true
		default:
			if q.Limit > 0 && len(docs) > q.Limit {
				docs = docs[:q.Limit]
			}
			key := fingerprint(docs)
			if first || key != last {
				stream.Push(Snapshot(docs))
			}
			last, first = key, false
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *DynamoDBReader) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Close stops every polling listener and detaches it.
func (r *DynamoDBReader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	close(r.stop)
	r.mu.Unlock()

	for _, s := range streams {
		s.Terminate(Detached("store closed"))
	}
	r.wg.Wait()
	return nil
}

func fingerprint(docs []models.Document) string {
	data, err := json.Marshal(docs)
	if err != nil {
		return ""
	}
	return string(data)
}

var _ Client = (*DynamoDBReader)(nil)
