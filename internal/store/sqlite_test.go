package store_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/finsync/internal/events"
	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/store"
)

func newSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"), "userId", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func doc(id, owner string, fields map[string]any) models.Document {
	f := map[string]any{"userId": owner}
	for k, v := range fields {
		f[k] = v
	}
	return models.Document{ID: id, Fields: f}
}

func TestSQLiteStoreRead(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	t.Run("empty collection", func(t *testing.T) {
		docs, err := s.Read(ctx, models.CollectionGoals, store.OwnedBy("userId", "u1"))
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("scoped by owner in insertion order", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, models.CollectionTransactions, doc("t2", "u1", map[string]any{"amount": 10})))
		require.NoError(t, s.Put(ctx, models.CollectionTransactions, doc("t1", "u1", map[string]any{"amount": 20.5})))
		require.NoError(t, s.Put(ctx, models.CollectionTransactions, doc("t3", "u2", nil)))

		docs, err := s.Read(ctx, models.CollectionTransactions, store.OwnedBy("userId", "u1"))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "t2", docs[0].ID)
		assert.Equal(t, "t1", docs[1].ID)
		assert.Equal(t, json.Number("20.5"), docs[1].Fields["amount"])
	})

	t.Run("update keeps read position", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, models.CollectionTransactions, doc("t2", "u1", map[string]any{"amount": 99})))

		docs, err := s.Read(ctx, models.CollectionTransactions, store.OwnedBy("userId", "u1"))
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "t2", docs[0].ID)
		assert.Equal(t, json.Number("99"), docs[0].Fields["amount"])
	})

	t.Run("filter on arbitrary field", func(t *testing.T) {
		require.NoError(t, s.Put(ctx, models.CollectionAccounts, doc("a1", "u1", map[string]any{"type": "checking"})))
		require.NoError(t, s.Put(ctx, models.CollectionAccounts, doc("a2", "u1", map[string]any{"type": "savings"})))

		docs, err := s.Read(ctx, models.CollectionAccounts, store.Filter{Field: "type", Value: "savings"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "a2", docs[0].ID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.Delete(ctx, models.CollectionAccounts, "a1"))

		docs, err := s.Read(ctx, models.CollectionAccounts, store.OwnedBy("userId", "u1"))
		require.NoError(t, err)
		require.Len(t, docs, 1)
	})
}

func TestSQLiteStorePutBatch(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	batch := []models.Document{
		doc("g1", "u1", map[string]any{"name": "House"}),
		doc("", "u1", map[string]any{"name": "Car"}),
	}
	require.NoError(t, s.PutBatch(ctx, models.CollectionGoals, batch))

	docs, err := s.Read(ctx, models.CollectionGoals, store.OwnedBy("userId", "u1"))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "g1", docs[0].ID)
	assert.NotEmpty(t, docs[1].ID, "missing ids are generated")
}

func nextEvent(t *testing.T, sub store.Subscription) store.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return store.Event{}
	}
}

func TestSQLiteStoreSubscribe(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, store.Query{
		Collection: models.CollectionTransactions,
		Filter:     store.OwnedBy("userId", "u1"),
		Limit:      1,
	})
	require.NoError(t, err)

	ev := nextEvent(t, sub)
	assert.Equal(t, store.EventSnapshot, ev.Kind)
	assert.Empty(t, ev.Documents)

	require.NoError(t, s.Put(ctx, models.CollectionTransactions, doc("t1", "u1", nil)))
	ev = nextEvent(t, sub)
	assert.Equal(t, store.EventSnapshot, ev.Kind)
	assert.Len(t, ev.Documents, 1)

	// Other collections do not trigger the listener
	require.NoError(t, s.Put(ctx, models.CollectionGoals, doc("g1", "u1", nil)))
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestSQLiteStoreCloseDetachesListeners(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.InfoLevel, "json", &buf)
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "store.db"), "userId", logger)
	require.NoError(t, err)

	sub, err := s.Subscribe(context.Background(), store.Query{Collection: models.CollectionGoals})
	require.NoError(t, err)
	nextEvent(t, sub)

	require.NoError(t, s.Close())

	ev := nextEvent(t, sub)
	assert.Equal(t, store.EventDetached, ev.Kind)

	_, err = s.Subscribe(context.Background(), store.Query{Collection: models.CollectionGoals})
	assert.ErrorIs(t, err, models.ErrNotConnected)
}
