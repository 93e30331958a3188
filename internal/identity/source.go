// Package identity supplies the authenticated user to the rest of finsync.
package identity

import (
	"sync"

	"github.com/TheMichaelB/finsync/internal/models"
)

// Source publishes the current identity and every change to it.
type Source interface {
	Current() models.Identity
	Changes() <-chan models.Identity
	Close() error
}

// feed is the change channel shared by the sources. It never blocks the
// producer: when full the oldest pending value is replaced.
type feed struct {
	mu      sync.Mutex
	current models.Identity
	seen    bool
	ch      chan models.Identity
	closed  bool
}

func newFeed() *feed {
	return &feed{ch: make(chan models.Identity, 8)}
}

// publish records id and reports whether it was a change.
func (f *feed) publish(id models.Identity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	if f.seen && f.current == id {
		return false
	}
	f.current = id
	f.seen = true

	for {
		select {
		case f.ch <- id:
			return true
		default:
			select {
			case <-f.ch:
			default:
			}
		}
	}
}

func (f *feed) get() models.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}

// Manual is an in-process identity source driven by the host application.
type Manual struct {
	feed *feed
}

// NewManual creates a source with no identity.
func NewManual() *Manual {
	return &Manual{feed: newFeed()}
}

// Set publishes a signed-in user. Repeating the current value is a no-op.
func (m *Manual) Set(userID string) {
	m.feed.publish(models.NewIdentity(userID))
}

// SetLoading publishes a transient value while the host resolves auth state.
func (m *Manual) SetLoading(userID string) {
	m.feed.publish(models.Identity{ID: userID, Loading: true})
}

// Clear publishes the null identity.
func (m *Manual) Clear() {
	m.feed.publish(models.NoIdentity)
}

// Current returns the last published identity.
func (m *Manual) Current() models.Identity {
	return m.feed.get()
}

// Changes returns published identities in order.
func (m *Manual) Changes() <-chan models.Identity {
	return m.feed.ch
}

// Close closes the change channel.
func (m *Manual) Close() error {
	m.feed.close()
	return nil
}
