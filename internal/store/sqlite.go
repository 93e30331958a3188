package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
)

// SQLiteStore is a local document store. It backs the CLI's offline mode and
// tests, and delivers listener snapshots whenever a matching document changes.
type SQLiteStore struct {
	db         *sql.DB
	ownerField string
	logger     *events.Logger

	mu       sync.Mutex
	watchers map[string]*sqliteWatcher
	closed   bool
}

type sqliteWatcher struct {
	query  Query
	stream *Stream
}

// NewSQLiteStore opens (or creates) a SQLite document store.
func NewSQLiteStore(dbPath, ownerField string, logger *events.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &SQLiteStore{
		db:         db,
		ownerField: ownerField,
		logger:     logger.WithField("component", "sqlite_store"),
		watchers:   make(map[string]*sqliteWatcher),
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	return store, nil
}

// initialize creates tables and indexes.
func (s *SQLiteStore) initialize() error {
	schema := `
    CREATE TABLE IF NOT EXISTS documents (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        collection TEXT NOT NULL,
        id TEXT NOT NULL,
        owner TEXT NOT NULL DEFAULT '',
        data TEXT NOT NULL,
        updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (collection, id)
    );

    CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(collection, owner);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return nil
}

// Read returns the documents of a collection matching filter in insertion order.
func (s *SQLiteStore) Read(ctx context.Context, collection string, filter Filter) ([]models.Document, error) {
	docs, err := s.query(ctx, collection, filter, 0)
	if err != nil {
		return nil, &models.StoreError{Op: "read", Collection: collection, Err: err}
	}
	return docs, nil
}

func (s *SQLiteStore) query(ctx context.Context, collection string, filter Filter, limit int) ([]models.Document, error) {
	q := "SELECT id, data FROM documents WHERE collection = ?"
	args := []interface{}{collection}

	switch {
	case filter.Field == "":
	case filter.Field == s.ownerField:
		q += " AND owner = ?"
		args = append(args, filter.Value)
	default:
		q += " AND json_extract(data, '$.' || ?) = ?"
		args = append(args, filter.Field, filter.Value)
	}

	q += " ORDER BY seq"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}

		doc := models.Document{ID: id}
		if err := decodeFields([]byte(data), &doc.Fields); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	return docs, nil
}

// Put inserts or replaces a document. Replacing keeps the original read position.
func (s *SQLiteStore) Put(ctx context.Context, collection string, doc models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	data, err := json.Marshal(doc.Fields)
	if err != nil {
		return &models.StoreError{Op: "put", Collection: collection, Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO documents (collection, id, owner, data, updated_at)
        VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(collection, id) DO UPDATE SET
            owner = excluded.owner,
            data = excluded.data,
            updated_at = CURRENT_TIMESTAMP
    `, collection, doc.ID, doc.Owner(s.ownerField), string(data))
	if err != nil {
		return &models.StoreError{Op: "put", Collection: collection, Err: err}
	}

	s.logger.WithFields(map[string]interface{}{
		"collection": collection,
		"id":         doc.ID,
	}).Debug("Stored document")

	s.notify(ctx, collection)
	return nil
}

// PutBatch stores many documents in one transaction and notifies listeners once.
func (s *SQLiteStore) PutBatch(ctx context.Context, collection string, docs []models.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO documents (collection, id, owner, data, updated_at)
        VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(collection, id) DO UPDATE SET
            owner = excluded.owner,
            data = excluded.data,
            updated_at = CURRENT_TIMESTAMP
    `)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, doc := range docs {
		if doc.ID == "" {
			doc.ID = uuid.NewString()
		}
		data, err := json.Marshal(doc.Fields)
		if err != nil {
			return &models.StoreError{Op: "put", Collection: collection, Err: err}
		}
		if _, err := stmt.ExecContext(ctx, collection, doc.ID, doc.Owner(s.ownerField), string(data)); err != nil {
			return &models.StoreError{Op: "put", Collection: collection, Err: fmt.Errorf("insert %s: %w", doc.ID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	s.notify(ctx, collection)
	return nil
}

// Delete removes a document.
func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id); err != nil {
		return &models.StoreError{Op: "delete", Collection: collection, Err: err}
	}
	s.notify(ctx, collection)
	return nil
}

// Subscribe registers a listener. The current result set is delivered
// immediately, then again after every change to the collection.
func (s *SQLiteStore) Subscribe(ctx context.Context, q Query) (Subscription, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, &models.StoreError{Op: "subscribe", Collection: q.Collection, Err: models.ErrNotConnected}
	}

	id := uuid.NewString()
	w := &sqliteWatcher{query: q}
	w.stream = NewStream(id, 4, func() { s.unwatch(id) })
	s.watchers[id] = w
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"subscription": id,
		"collection":   q.Collection,
	}).Debug("Listener registered")

	s.deliver(ctx, w)
	return w.stream, nil
}

func (s *SQLiteStore) unwatch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, id)
}

func (s *SQLiteStore) notify(ctx context.Context, collection string) {
	s.mu.Lock()
	var targets []*sqliteWatcher
	for _, w := range s.watchers {
		if w.query.Collection == collection {
			targets = append(targets, w)
		}
	}
	s.mu.Unlock()

	for _, w := range targets {
		s.deliver(ctx, w)
	}
}

func (s *SQLiteStore) deliver(ctx context.Context, w *sqliteWatcher) {
	docs, err := s.query(ctx, w.query.Collection, w.query.Filter, w.query.Limit)
	if err != nil {
		w.stream.Push(ErrorEvent(err.Error()))
		return
	}
	w.stream.Push(Snapshot(docs))
}

// Close detaches every listener and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	s.closed = true
	watchers := s.watchers
	s.watchers = make(map[string]*sqliteWatcher)
	s.mu.Unlock()

	for _, w := range watchers {
		w.stream.Terminate(Detached("store closed"))
	}

	return s.db.Close()
}
