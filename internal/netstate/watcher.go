// Package netstate reports whether the network path to the store is up.
package netstate

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/TheMichaelB/finsync/internal/events"
)

// Event is a transport state transition.
type Event struct {
	Online bool
	At     time.Time
}

// Watcher dials a TCP endpoint on an interval and reports transitions.
// The first probe result is always reported.
type Watcher struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	logger   *events.Logger

	dial func(ctx context.Context, network, addr string) (net.Conn, error)

	mu     sync.RWMutex
	known  bool
	online bool

	events chan Event
	once   sync.Once
}

// NewWatcher creates a watcher for addr (host:port).
func NewWatcher(addr string, interval, timeout time.Duration, logger *events.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	dialer := &net.Dialer{}
	return &Watcher{
		addr:     addr,
		interval: interval,
		timeout:  timeout,
		logger:   logger.WithField("component", "netstate"),
		dial:     dialer.DialContext,
		events:   make(chan Event, 4),
	}
}

// Events returns transitions. The channel is closed when the watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Online reports the last observed state. It is false before the first probe.
func (w *Watcher) Online() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.online
}

// Start probes until ctx is cancelled. It may only be called once.
func (w *Watcher) Start(ctx context.Context) {
	w.once.Do(func() {
		go w.run(ctx)
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.events)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.observe(ctx, w.probe(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probe returns true if a TCP connection to addr can be established.
func (w *Watcher) probe(ctx context.Context) bool {
	dctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	conn, err := w.dial(dctx, "tcp", w.addr)
	if err != nil {
		w.logger.WithError(err).WithField("addr", w.addr).Debug("Connectivity probe failed")
		return false
	}
	_ = conn.Close()
	return true
}

func (w *Watcher) observe(ctx context.Context, online bool) {
	w.mu.Lock()
	changed := !w.known || w.online != online
	w.known = true
	w.online = online
	w.mu.Unlock()

	if !changed || ctx.Err() != nil {
		return
	}

	w.logger.WithField("online", online).Info("Network state changed")

	select {
	case w.events <- Event{Online: online, At: time.Now()}:
	case <-ctx.Done():
	}
}
