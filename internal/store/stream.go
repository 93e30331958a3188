package store

import (
	"sync"
)

// Stream is the Subscription implementation shared by the backends.
// Pushes never block: when the buffer is full the oldest pending event is dropped.
type Stream struct {
	id      string
	events  chan Event
	onClose func()

	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// NewStream creates a stream. onClose runs once when the consumer calls Close.
func NewStream(id string, buffer int, onClose func()) *Stream {
	if buffer <= 0 {
		buffer = 1
	}
	return &Stream{
		id:      id,
		events:  make(chan Event, buffer),
		onClose: onClose,
	}
}

// ID returns the subscription id.
func (s *Stream) ID() string {
	return s.id
}

// Events returns the event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Push delivers ev. It returns false if the stream is closed.
func (s *Stream) Push(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	for {
		select {
		case s.events <- ev:
			return true
		default:
			// Drop the oldest pending event.
			select {
			case <-s.events:
			default:
			}
		}
	}
}

// Terminate delivers a final event and closes the stream without running onClose.
// Backends use it when the listener is torn down on their side.
func (s *Stream) Terminate(ev Event) {
	s.once.Do(func() {
		s.Push(ev)
		s.shut()
	})
}

// Close unregisters the stream. Calling it more than once is a no-op.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.shut()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// Closed reports whether the stream has been closed or terminated.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
