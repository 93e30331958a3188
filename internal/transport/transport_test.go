package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/store"
	"github.com/TheMichaelB/finsync/internal/transport"
	"github.com/TheMichaelB/finsync/test/testutil"
)

func TestHTTPClientRead(t *testing.T) {
	server := testutil.NewTestServer()
	defer server.Close()

	server.RequireToken("test-token")
	server.AddDocuments(models.CollectionAccounts,
		testutil.Doc("a1", "u1", map[string]any{"balance": json.Number("10.50")}),
		testutil.Doc("a2", "u2", nil),
	)

	cfg := server.StoreConfig()
	cfg.Token = "test-token"
	client := transport.NewHTTPClient(cfg, testutil.NewTestLogger())

	docs, err := client.Read(context.Background(), models.CollectionAccounts, store.OwnedBy("userId", "u1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a1", docs[0].ID)
	assert.Equal(t, json.Number("10.50"), docs[0].Fields["balance"])
}

func TestHTTPClientReadEmpty(t *testing.T) {
	server := testutil.NewTestServer()
	defer server.Close()

	client := transport.NewHTTPClient(server.StoreConfig(), testutil.NewTestLogger())

	docs, err := client.Read(context.Background(), models.CollectionGoals, store.OwnedBy("userId", "u1"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestHTTPClientRetry(t *testing.T) {
	server := testutil.NewTestServer()
	defer server.Close()

	server.AddDocuments(models.CollectionGoals, testutil.Doc("g1", "u1", nil))
	server.FailReads(models.CollectionGoals, 2)

	cfg := server.StoreConfig()
	cfg.MaxRetries = 3
	client := transport.NewHTTPClient(cfg, testutil.NewTestLogger())

	docs, err := client.Read(context.Background(), models.CollectionGoals, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Len(t, server.Reads(), 3)
}

func TestHTTPClientUnauthorized(t *testing.T) {
	server := testutil.NewTestServer()
	defer server.Close()
	server.RequireToken("secret")

	cfg := server.StoreConfig()
	cfg.Token = "wrong"
	cfg.MaxRetries = 3
	client := transport.NewHTTPClient(cfg, testutil.NewTestLogger())

	_, err := client.Read(context.Background(), models.CollectionGoals, store.Filter{})
	require.Error(t, err)

	var storeErr *models.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, models.CollectionGoals, storeErr.Collection)

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	assert.Len(t, server.Reads(), 0, "rejected before reaching the handler body")
}

func TestHTTPClientMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	fake := testutil.NewTestServer()
	defer fake.Close()
	cfg := fake.StoreConfig()
	cfg.BaseURL = server.URL
	client := transport.NewHTTPClient(cfg, testutil.NewTestLogger())

	_, err := client.Read(context.Background(), models.CollectionGoals, store.Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
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

func TestRemoteClientSubscribe(t *testing.T) {
	server := testutil.NewTestServer()
	defer server.Close()

	server.AddDocuments(models.CollectionTransactions, testutil.Doc("t1", "u1", nil))

	client := transport.NewRemoteClient(server.StoreConfig(), testutil.NewTestLogger())
	defer client.Close()

	ctx := context.Background()
	sub, err := client.Subscribe(ctx, store.Query{
		Collection: models.CollectionTransactions,
		Filter:     store.OwnedBy("userId", "u1"),
		Limit:      1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())

	ev := nextEvent(t, sub)
	assert.Equal(t, store.EventSnapshot, ev.Kind)
	require.Len(t, ev.Documents, 1)
	assert.Equal(t, "t1", ev.Documents[0].ID)

	server.FailListener(sub.ID(), "permission denied")
	ev = nextEvent(t, sub)
	assert.Equal(t, store.EventError, ev.Kind)
	assert.Equal(t, "permission denied", ev.Message)

	server.AddDocuments(models.CollectionTransactions, testutil.Doc("t2", "u1", nil))
	server.Publish(models.CollectionTransactions)
	ev = nextEvent(t, sub)
	assert.Equal(t, store.EventSnapshot, ev.Kind)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	testutil.WaitForCondition(t, func() bool {
		return len(server.Subscriptions()) == 0
	}, 2*time.Second, "unsubscribe reaches the server")
}

func TestRemoteClientServerDetach(t *testing.T) {
	server := testutil.NewTestServer()
	defer server.Close()

	client := transport.NewRemoteClient(server.StoreConfig(), testutil.NewTestLogger())
	defer client.Close()

	sub, err := client.Subscribe(context.Background(), store.Query{Collection: models.CollectionGoals})
	require.NoError(t, err)
	nextEvent(t, sub)

	server.DetachListener(sub.ID(), "revoked")

	ev := nextEvent(t, sub)
	assert.Equal(t, store.EventDetached, ev.Kind)
	assert.Equal(t, "revoked", ev.Message)

	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestRemoteClientConnectionLoss(t *testing.T) {
	server := testutil.NewTestServer()
	defer server.Close()

	client := transport.NewRemoteClient(server.StoreConfig(), testutil.NewTestLogger())
	defer client.Close()

	ctx := context.Background()
	first, err := client.Subscribe(ctx, store.Query{Collection: models.CollectionGoals})
	require.NoError(t, err)
	second, err := client.Subscribe(ctx, store.Query{Collection: models.CollectionAccounts})
	require.NoError(t, err)
	nextEvent(t, first)
	nextEvent(t, second)

	server.DropConnections()

	assert.Equal(t, store.EventDetached, nextEvent(t, first).Kind)
	assert.Equal(t, store.EventDetached, nextEvent(t, second).Kind)

	// The next subscribe reconnects
	again, err := client.Subscribe(ctx, store.Query{Collection: models.CollectionGoals})
	require.NoError(t, err)
	assert.Equal(t, store.EventSnapshot, nextEvent(t, again).Kind)
}

func TestRemoteClientClose(t *testing.T) {
	server := testutil.NewTestServer()
	defer server.Close()

	client := transport.NewRemoteClient(server.StoreConfig(), testutil.NewTestLogger())

	sub, err := client.Subscribe(context.Background(), store.Query{Collection: models.CollectionGoals})
	require.NoError(t, err)
	nextEvent(t, sub)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	assert.Equal(t, store.EventDetached, nextEvent(t, sub).Kind)

	_, err = client.Subscribe(context.Background(), store.Query{Collection: models.CollectionGoals})
	assert.True(t, errors.Is(err, models.ErrNotConnected))
}

func TestRemoteClientDialFailure(t *testing.T) {
	server := testutil.NewTestServer()
	server.Close()
	cfg := server.StoreConfig()

	client := transport.NewRemoteClient(cfg, testutil.NewTestLogger())
	defer client.Close()

	_, err := client.Subscribe(context.Background(), store.Query{Collection: models.CollectionGoals})
	require.Error(t, err)

	var storeErr *models.StoreError
	assert.ErrorAs(t, err, &storeErr)
}
