package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/finsync/internal/models"
)

// MockStore provides a scripted Client for testing.
type MockStore struct {
	mu sync.Mutex

	// Response configuration
	Documents map[string][]models.Document

	// Error injection
	ReadErrors     map[string]error
	SubscribeError error

	// ReadDelays holds per-collection latency to shuffle completion order.
	ReadDelays map[string]time.Duration

	// Request tracking
	ReadRequests      []ReadRequest
	SubscribeRequests []Query

	subs   []*MockSubscription
	closed bool
}

// ReadRequest tracks Read calls.
type ReadRequest struct {
	Collection string
	Filter     Filter
}

// MockSubscription is a scripted subscription.
type MockSubscription struct {
	*Stream
	Query Query

	mu         sync.Mutex
	closeCalls int
}

// Close records the call and closes the stream.
func (s *MockSubscription) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	return s.Stream.Close()
}

// CloseCalls returns how many times Close was called.
func (s *MockSubscription) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Emit delivers ev to the subscriber.
func (s *MockSubscription) Emit(ev Event) bool {
	return s.Push(ev)
}

// NewMockStore creates a mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		Documents:  make(map[string][]models.Document),
		ReadErrors: make(map[string]error),
		ReadDelays: make(map[string]time.Duration),
	}
}

// AddDocuments appends documents to a collection.
func (m *MockStore) AddDocuments(collection string, docs ...models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Documents[collection] = append(m.Documents[collection], docs...)
}

// SetReadError makes reads of collection fail.
func (m *MockStore) SetReadError(collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadErrors[collection] = err
}

// SetReadDelay delays reads of collection.
func (m *MockStore) SetReadDelay(collection string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadDelays[collection] = d
}

// Read returns the configured documents matching filter.
func (m *MockStore) Read(ctx context.Context, collection string, filter Filter) ([]models.Document, error) {
	m.mu.Lock()
	m.ReadRequests = append(m.ReadRequests, ReadRequest{Collection: collection, Filter: filter})
	delay := m.ReadDelays[collection]
	readErr := m.ReadErrors[collection]
	source := m.Documents[collection]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if readErr != nil {
		return nil, &models.StoreError{Op: "read", Collection: collection, Err: readErr}
	}

	docs := []models.Document{}
	for _, doc := range source {
		if filter.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Subscribe records the query and returns a scripted subscription.
func (m *MockStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SubscribeRequests = append(m.SubscribeRequests, q)

	if m.SubscribeError != nil {
		return nil, m.SubscribeError
	}
	if m.closed {
		return nil, models.ErrNotConnected
	}

	sub := &MockSubscription{Query: q}
	sub.Stream = NewStream(fmt.Sprintf("mock-%d", len(m.subs)+1), 16, nil)
	m.subs = append(m.subs, sub)
	return sub, nil
}

// Subscriptions returns every subscription created so far.
func (m *MockStore) Subscriptions() []*MockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockSubscription, len(m.subs))
	copy(out, m.subs)
	return out
}

// Latest returns the most recent subscription, or nil.
func (m *MockStore) Latest() *MockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.subs) == 0 {
		return nil
	}
	return m.subs[len(m.subs)-1]
}

// LiveSubscriptions counts subscriptions that are still open.
func (m *MockStore) LiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := 0
	for _, s := range m.subs {
		if !s.Closed() {
			live++
		}
	}
	return live
}

// ReadCount returns how many reads were issued.
func (m *MockStore) ReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ReadRequests)
}

// Close closes the mock.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
