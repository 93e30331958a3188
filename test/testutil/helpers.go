package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/TheMichaelB/finsync/internal/config"
	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/transport"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// LogEntry represents a captured log entry for testing
type LogEntry struct {
	Level     string `json:"level"`
	Message   string `json:"msg"`
	Component string `json:"component,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TestServer is an in-memory document store API serving HTTP reads and
// realtime listeners.
type TestServer struct {
	*httptest.Server

	mu        sync.RWMutex
	documents map[string][]models.Document
	token     string
	readFails map[string]int
	reads     []string

	upgrader websocket.Upgrader
	conns    map[*websocket.Conn]*sync.Mutex
	subs     map[string]serverSub
}

type serverSub struct {
	conn *websocket.Conn
	msg  transport.WireMessage
}

// NewTestServer creates a new test server.
func NewTestServer() *TestServer {
	ts := &TestServer{
		documents: make(map[string][]models.Document),
		readFails: make(map[string]int),
		conns:     make(map[*websocket.Conn]*sync.Mutex),
		subs:      make(map[string]serverSub),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/collections/", ts.handleRead)
	mux.HandleFunc("/v1/listen", ts.handleListen)

	ts.Server = httptest.NewServer(mux)
	return ts
}

// StoreConfig returns a store configuration pointing at the server.
func (ts *TestServer) StoreConfig() *config.StoreConfig {
	cfg := config.DefaultConfig().Store
	cfg.BaseURL = ts.URL
	cfg.Token = ts.token
	cfg.Timeout = 5 * time.Second
	cfg.RetryDelay = 10 * time.Millisecond
	return &cfg
}

// RequireToken makes the server reject requests without the bearer token.
func (ts *TestServer) RequireToken(token string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = token
}

// AddDocuments appends documents to a collection.
func (ts *TestServer) AddDocuments(collection string, docs ...models.Document) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.documents[collection] = append(ts.documents[collection], docs...)
}

// FailReads makes the next n reads of collection answer 503.
func (ts *TestServer) FailReads(collection string, n int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.readFails[collection] = n
}

// Reads returns the collections read so far, in request order.
func (ts *TestServer) Reads() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]string, len(ts.reads))
	copy(out, ts.reads)
	return out
}

func (ts *TestServer) authorized(r *http.Request) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.token == "" || r.Header.Get("Authorization") == "Bearer "+ts.token
}

func (ts *TestServer) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !ts.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = writeJSON(w, models.APIError{Code: "unauthorized", Message: "invalid token"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/collections/")
	collection, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != "documents" {
		http.NotFound(w, r)
		return
	}

	field := r.URL.Query().Get("field")
	value := r.URL.Query().Get("value")

	ts.mu.Lock()
	ts.reads = append(ts.reads, collection)
	if ts.readFails[collection] > 0 {
		ts.readFails[collection]--
		ts.mu.Unlock()
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	docs := ts.matching(collection, field, value)
	ts.mu.Unlock()

	_ = writeJSON(w, map[string]interface{}{"documents": docs})
}

// matching must be called with ts.mu held.
func (ts *TestServer) matching(collection, field, value string) []models.Document {
	docs := []models.Document{}
	for _, d := range ts.documents[collection] {
		if field != "" {
			v, ok := d.Get(field)
			if s, isString := v.(string); !ok || !isString || s != value {
				continue
			}
		}
		docs = append(docs, d)
	}
	return docs
}

func (ts *TestServer) handleListen(w http.ResponseWriter, r *http.Request) {
	if !ts.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := ts.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ts.mu.Lock()
	ts.conns[conn] = &sync.Mutex{}
	ts.mu.Unlock()

	defer func() {
		ts.mu.Lock()
		delete(ts.conns, conn)
		for id, s := range ts.subs {
			if s.conn == conn {
				delete(ts.subs, id)
			}
		}
		ts.mu.Unlock()
		conn.Close()
	}()

	for {
		var msg transport.WireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Op {
		case transport.OpSubscribe:
			ts.mu.Lock()
			ts.subs[msg.ID] = serverSub{conn: conn, msg: msg}
			docs := ts.matching(msg.Collection, msg.Field, msg.Value)
			ts.mu.Unlock()
			if msg.Limit > 0 && len(docs) > msg.Limit {
				docs = docs[:msg.Limit]
			}
			ts.send(conn, transport.WireMessage{Op: transport.OpSnapshot, ID: msg.ID, Documents: docs})
		case transport.OpUnsubscribe:
			ts.mu.Lock()
			delete(ts.subs, msg.ID)
			ts.mu.Unlock()
		}
	}
}

func (ts *TestServer) send(conn *websocket.Conn, msg transport.WireMessage) {
	ts.mu.RLock()
	wmu := ts.conns[conn]
	ts.mu.RUnlock()
	if wmu == nil {
		return
	}
	wmu.Lock()
	defer wmu.Unlock()
	_ = conn.WriteJSON(msg)
}

// Subscriptions returns the ids of the listeners currently registered.
func (ts *TestServer) Subscriptions() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	ids := make([]string, 0, len(ts.subs))
	for id := range ts.subs {
		ids = append(ids, id)
	}
	return ids
}

// Publish sends a fresh snapshot to every listener on collection.
func (ts *TestServer) Publish(collection string) {
	ts.mu.RLock()
	var targets []serverSub
	for _, s := range ts.subs {
		if s.msg.Collection == collection {
			targets = append(targets, s)
		}
	}
	ts.mu.RUnlock()

	for _, s := range targets {
		ts.mu.RLock()
		docs := ts.matching(s.msg.Collection, s.msg.Field, s.msg.Value)
		ts.mu.RUnlock()
		ts.send(s.conn, transport.WireMessage{Op: transport.OpSnapshot, ID: s.msg.ID, Documents: docs})
	}
}

// FailListener sends a listener error to subscription id.
func (ts *TestServer) FailListener(id, message string) {
	ts.mu.RLock()
	s, ok := ts.subs[id]
	ts.mu.RUnlock()
	if ok {
		ts.send(s.conn, transport.WireMessage{Op: transport.OpError, ID: id, Message: message})
	}
}

// DetachListener tears down subscription id from the server side.
func (ts *TestServer) DetachListener(id, message string) {
	ts.mu.Lock()
	s, ok := ts.subs[id]
	delete(ts.subs, id)
	ts.mu.Unlock()
	if ok {
		ts.send(s.conn, transport.WireMessage{Op: transport.OpDetached, ID: id, Message: message})
	}
}

// DropConnections closes every open listener connection.
func (ts *TestServer) DropConnections() {
	ts.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(ts.conns))
	for c := range ts.conns {
		conns = append(conns, c)
	}
	ts.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// TestTimeout returns a context that expires after duration.
func TestTimeout(duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), duration)
}

// WaitForCondition waits for a condition to be true with timeout.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-timer.C:
			t.Fatalf("Timeout waiting for condition: %s", message)
		case <-ticker.C:
		}
	}
}

// LogOutput captures JSON log output for testing.
type LogOutput struct {
	mu      sync.RWMutex
	entries []LogEntry
}

// NewLogOutput creates a new log output capturer.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Logger returns a debug-level JSON logger writing to lo.
func (lo *LogOutput) Logger() *events.Logger {
	return events.NewTestLogger(events.DebugLevel, "json", lo)
}

// Write implements io.Writer to capture log output.
func (lo *LogOutput) Write(p []byte) (n int, err error) {
	var entry LogEntry
	if err := json.Unmarshal(p, &entry); err == nil {
		lo.mu.Lock()
		lo.entries = append(lo.entries, entry)
		lo.mu.Unlock()
	}
	return len(p), nil
}

// Entries returns captured log entries.
func (lo *LogOutput) Entries() []LogEntry {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	entries := make([]LogEntry, len(lo.entries))
	copy(entries, lo.entries)
	return entries
}

// HasMessage checks if any log entry contains the message.
func (lo *LogOutput) HasMessage(message string) bool {
	lo.mu.RLock()
	defer lo.mu.RUnlock()

	for _, entry := range lo.entries {
		if strings.Contains(entry.Message, message) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}
