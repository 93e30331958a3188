// Package status derives the user-facing connection status from the identity,
// a realtime probe listener and the transport signal.
package status

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/store"
)

// Config for the monitor.
type Config struct {
	ProbeCollection string
	OwnerField      string
	UpdateBuffer    int
}

type messageKind int

const (
	msgIdentity messageKind = iota
	msgTransport
	msgStore
)

// message is one input to the event loop.
type message struct {
	kind       messageKind
	identity   models.Identity
	online     bool
	generation uint64
	event      store.Event
}

// handle is the monitor's exclusively owned probe subscription.
type handle struct {
	sub        store.Subscription
	generation uint64
	stop       chan struct{}
	once       sync.Once
	dead       bool
}

// release unregisters the subscription. Only the first call has any effect.
func (h *handle) release() error {
	var err error
	h.once.Do(func() {
		close(h.stop)
		err = h.sub.Close()
	})
	return err
}

// Monitor is the connection status state machine. All state below the
// loop-owned marker is touched only by the event loop goroutine.
type Monitor struct {
	subscriber store.Subscriber
	cfg        Config
	logger     *events.Logger
	now        func() time.Time

	inbox   chan message
	updates chan models.SyncStatus

	mu     sync.RWMutex
	status models.SyncStatus

	done      chan struct{}
	stopped   chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once

	// loop-owned
	identity      models.Identity
	identitySeen  bool
	handle        *handle
	generation    uint64
	transportDown bool
	quiet         bool
}

// NewMonitor creates a monitor. Call Start to begin processing input.
func NewMonitor(subscriber store.Subscriber, cfg Config, logger *events.Logger) *Monitor {
	if cfg.ProbeCollection == "" {
		cfg.ProbeCollection = models.CollectionTransactions
	}
	if cfg.OwnerField == "" {
		cfg.OwnerField = "userId"
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 16
	}

	return &Monitor{
		subscriber: subscriber,
		cfg:        cfg,
		logger:     logger.WithField("service", "status"),
		now:        time.Now,
		inbox:      make(chan message, 64),
		updates:    make(chan models.SyncStatus, cfg.UpdateBuffer),
		status:     models.OfflineStatus(),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Start launches the event loop. Cancelling ctx stops it like Close.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.started.Store(true)
		go m.run(ctx)
	})
}

// Close releases the probe subscription and stops the loop. The updates
// channel is closed once the loop has exited. Calling Close again is a no-op.
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.started.Load() {
			<-m.stopped
		} else {
			m.release()
			close(m.updates)
		}
	})
	return nil
}

// Status returns the current status.
func (m *Monitor) Status() models.SyncStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Updates returns emitted statuses in order. When the consumer falls behind
// the oldest pending value is replaced, so the latest value is never lost.
func (m *Monitor) Updates() <-chan models.SyncStatus {
	return m.updates
}

// SetIdentity reports an identity change from the identity source.
func (m *Monitor) SetIdentity(id models.Identity) {
	m.send(message{kind: msgIdentity, identity: id})
}

// SetTransport reports a transport online/offline signal.
func (m *Monitor) SetTransport(online bool) {
	m.send(message{kind: msgTransport, online: online})
}

func (m *Monitor) send(msg message) {
	select {
	case m.inbox <- msg:
	case <-m.done:
	case <-m.stopped:
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer func() {
		m.release()
		close(m.updates)
		close(m.stopped)
		m.logger.Debug("Status monitor stopped")
	}()

	m.logger.Debug("Status monitor started")

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case msg := <-m.inbox:
			batch := []message{msg}
		drain:
			for {
				select {
				case next := <-m.inbox:
					batch = append(batch, next)
				default:
					break drain
				}
			}
			m.process(ctx, batch)
		}
	}
}

// process applies one tick worth of input. When the last transport signal in
// the batch is offline, store-derived statuses of the batch are not emitted
// and offline is applied after everything else.
func (m *Monitor) process(ctx context.Context, batch []message) {
	finalOffline := false
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].kind == msgTransport {
			finalOffline = !batch[i].online
			break
		}
	}

	for _, msg := range batch {
		switch msg.kind {
		case msgIdentity:
			m.handleIdentity(ctx, msg.identity)
		case msgTransport:
			if !finalOffline {
				m.handleTransport(ctx, msg.online)
			}
		case msgStore:
			m.quiet = finalOffline
			m.handleStore(msg.generation, msg.event)
			m.quiet = false
		}
	}

	if finalOffline {
		m.handleTransport(ctx, false)
	}
}

func (m *Monitor) handleIdentity(ctx context.Context, id models.Identity) {
	if id.Loading {
		m.logger.Debug("Ignoring identity while loading")
		return
	}
	if m.identitySeen && m.identity.SameOwner(id) {
		return
	}
	m.identitySeen = true
	m.identity = id

	if !id.Present() {
		m.logger.Info("Identity cleared")
		m.release()
		status := models.OfflineStatus()
		status.Generation = m.generation
		m.emit(status)
		return
	}

	m.logger.WithField("user_id", id.ID).Info("Identity changed")
	m.startProbe(ctx, nil)
}

// startProbe releases any previous handle and registers a new probe listener
// for the current identity. lastSync is carried into the statuses it emits.
func (m *Monitor) startProbe(ctx context.Context, lastSync *time.Time) {
	m.release()
	gen := m.generation

	m.emit(models.SyncStatus{State: models.StateSyncing, LastSyncTime: lastSync, Generation: gen})

	q := store.Query{
		Collection: m.cfg.ProbeCollection,
		Filter:     store.OwnedBy(m.cfg.OwnerField, m.identity.ID),
		Limit:      1,
	}

	sub, err := m.subscriber.Subscribe(ctx, q)
	if err != nil {
		m.logger.WithError(err).WithField("user_id", m.identity.ID).Warn("Probe subscription failed")
		if m.transportDown {
			m.emitTransportDown()
		} else {
			m.emit(models.SyncStatus{State: models.StateError, LastSyncTime: lastSync, ErrorMessage: err.Error(), Generation: gen})
		}
		return
	}

	h := &handle{sub: sub, generation: gen, stop: make(chan struct{})}
	m.handle = h
	go m.pump(h)

	m.logger.WithFields(map[string]interface{}{
		"subscription": sub.ID(),
		"generation":   gen,
	}).Debug("Probe registered")

	if m.transportDown {
		m.emitTransportDown()
	}
}

// pump forwards the handle's events to the loop until the handle is released.
func (m *Monitor) pump(h *handle) {
	for {
		var ev store.Event
		select {
		case <-h.stop:
			return
		case <-m.done:
			return
		case e, ok := <-h.sub.Events():
			if !ok {
				e = store.Detached("listener closed")
			}
			ev = e
		}

		select {
		case m.inbox <- message{kind: msgStore, generation: h.generation, event: ev}:
		case <-h.stop:
			return
		case <-m.done:
			return
		}

		if ev.Kind == store.EventDetached {
			return
		}
	}
}

// release drops the current handle and advances the generation so anything
// it already queued is discarded.
func (m *Monitor) release() {
	if m.handle != nil {
		if err := m.handle.release(); err != nil {
			m.logger.WithError(err).Warn("Failed to release probe")
		}
		m.handle = nil
	}
	m.generation++
}

func (m *Monitor) handleStore(gen uint64, ev store.Event) {
	if m.handle == nil || gen != m.generation {
		m.logger.WithFields(map[string]interface{}{
			"event":      string(ev.Kind),
			"generation": gen,
			"current":    m.generation,
		}).Debug("Discarding stale listener event")
		return
	}

	switch ev.Kind {
	case store.EventSnapshot:
		if m.transportDown {
			return
		}
		now := m.now()
		m.emit(models.SyncStatus{State: models.StateSynced, LastSyncTime: &now, Generation: gen})

	case store.EventError:
		if m.transportDown {
			return
		}
		m.emit(models.SyncStatus{
			State:        models.StateError,
			LastSyncTime: m.Status().LastSyncTime,
			ErrorMessage: ev.Message,
			Generation:   gen,
		})

	case store.EventDetached:
		m.handle.dead = true
		m.logger.WithField("reason", ev.Message).Warn("Probe listener detached")
		if m.transportDown {
			return
		}
		msg := models.ErrListenerDetached.Error()
		if ev.Message != "" {
			msg += ": " + ev.Message
		}
		m.emit(models.SyncStatus{
			State:        models.StateOffline,
			LastSyncTime: m.Status().LastSyncTime,
			ErrorMessage: msg,
			Generation:   gen,
		})
	}
}

func (m *Monitor) handleTransport(ctx context.Context, online bool) {
	if !online {
		if !m.transportDown {
			m.logger.Info("Transport offline")
		}
		m.transportDown = true
		if m.identity.Present() {
			m.emitTransportDown()
		}
		return
	}

	wasDown := m.transportDown
	if wasDown {
		m.logger.Info("Transport online")
	}
	m.transportDown = false

	if !m.identity.Present() {
		return
	}

	// Snapshots seen while down were dropped. Backends resend only on change,
	// so re-register for a fresh one.
	current := m.Status()
	stale := current.State == models.StateOffline || current.State == models.StateError
	if wasDown || stale || m.handle == nil || m.handle.dead {
		m.startProbe(ctx, current.LastSyncTime)
	}
}

func (m *Monitor) emitTransportDown() {
	m.emit(models.SyncStatus{
		State:        models.StateOffline,
		LastSyncTime: m.Status().LastSyncTime,
		ErrorMessage: models.ErrTransportDown.Error(),
		Generation:   m.generation,
	})
}

// emit publishes status unless it is a repeat of the current value.
func (m *Monitor) emit(status models.SyncStatus) {
	if m.quiet {
		return
	}

	m.mu.Lock()
	if m.status.Equal(status) {
		m.mu.Unlock()
		return
	}
	m.status = status
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"state":      string(status.State),
		"generation": status.Generation,
		"error":      status.ErrorMessage,
	}).Debug("Status changed")

	for {
		select {
		case m.updates <- status:
			return
		default:
			select {
			case <-m.updates:
			default:
			}
		}
	}
}
