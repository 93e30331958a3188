package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockSink is a testify mock of delivery.Sink.
type MockSink struct {
	mock.Mock
}

// Deliver records the call.
func (m *MockSink) Deliver(ctx context.Context, filename, content, mimeType string) error {
	args := m.Called(ctx, filename, content, mimeType)
	return args.Error(0)
}

// Delivery is one captured artifact.
type Delivery struct {
	Filename string
	Content  string
	MimeType string
}

// RecordingSink keeps every artifact it receives.
type RecordingSink struct {
	mu         sync.Mutex
	deliveries []Delivery
	Err        error
}

// Deliver stores the artifact, or returns Err when set.
func (s *RecordingSink) Deliver(ctx context.Context, filename, content, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.deliveries = append(s.deliveries, Delivery{Filename: filename, Content: content, MimeType: mimeType})
	return nil
}

// Deliveries returns the captured artifacts.
func (s *RecordingSink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}
