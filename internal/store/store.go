// Package store defines the contract between finsync and the remote document
// store, plus the local and AWS-backed implementations of it.
package store

import (
	"context"
	"time"

	"github.com/TheMichaelB/finsync/internal/models"
)

// Filter selects documents whose Field equals Value.
type Filter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// OwnedBy returns the filter scoping reads to one owner.
func OwnedBy(ownerField, id string) Filter {
	return Filter{Field: ownerField, Value: id}
}

// Matches reports whether doc satisfies the filter. An empty filter matches everything.
func (f Filter) Matches(doc models.Document) bool {
	if f.Field == "" {
		return true
	}
	v, ok := doc.Get(f.Field)
	if !ok {
		return false
	}
	s, ok := v.(string)
	return ok && s == f.Value
}

// Query describes a realtime listener registration.
type Query struct {
	Collection string `json:"collection"`
	Filter     Filter `json:"filter"`
	Limit      int    `json:"limit,omitempty"`
}

// EventKind tags a listener event.
type EventKind string

const (
	EventSnapshot EventKind = "snapshot"
	EventError    EventKind = "error"
	EventDetached EventKind = "detached"
)

// Event is delivered on a subscription's event channel.
type Event struct {
	Kind      EventKind
	Documents []models.Document
	Message   string
	At        time.Time
}

// Snapshot builds a snapshot event.
func Snapshot(docs []models.Document) Event {
	return Event{Kind: EventSnapshot, Documents: docs, At: time.Now()}
}

// ErrorEvent builds an error event.
func ErrorEvent(message string) Event {
	return Event{Kind: EventError, Message: message, At: time.Now()}
}

// Detached builds a detach event.
func Detached(message string) Event {
	return Event{Kind: EventDetached, Message: message, At: time.Now()}
}

// Subscription is one live listener registration. Events is closed after
// Close or after a detached event. Close is idempotent.
type Subscription interface {
	ID() string
	Events() <-chan Event
	Close() error
}

// Subscriber registers realtime listeners.
type Subscriber interface {
	Subscribe(ctx context.Context, q Query) (Subscription, error)
}

// Reader performs one-shot scoped collection reads. Documents are returned
// in the store's natural read order.
type Reader interface {
	Read(ctx context.Context, collection string, filter Filter) ([]models.Document, error)
}

// Client is a store that supports both listeners and reads.
type Client interface {
	Subscriber
	Reader
	Close() error
}
