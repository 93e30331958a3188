package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/finsync/internal/models"
)

func TestIdentity(t *testing.T) {
	assert.False(t, models.NoIdentity.Present())
	assert.Equal(t, "<none>", models.NoIdentity.String())

	id := models.NewIdentity("u1")
	assert.True(t, id.Present())
	assert.False(t, id.Loading)
	assert.True(t, id.SameOwner(models.Identity{ID: "u1", Loading: true}))
	assert.False(t, id.SameOwner(models.NewIdentity("u2")))
}

func TestCollectionsOrder(t *testing.T) {
	assert.Equal(t, []string{
		"transactions",
		"categories",
		"accounts",
		"goals",
		"investments",
		"recurringTransactions",
		"portfolioSnapshots",
		"budgetSettings",
	}, models.Collections)

	assert.True(t, models.IsCollection("budgetSettings"))
	assert.False(t, models.IsCollection("users"))
}

func TestDocumentGet(t *testing.T) {
	doc := models.Document{
		ID:     "doc-1",
		Fields: map[string]any{"amount": 12.5, "userId": "u1"},
	}

	v, ok := doc.Get("id")
	assert.True(t, ok)
	assert.Equal(t, "doc-1", v)

	v, ok = doc.Get("amount")
	assert.True(t, ok)
	assert.Equal(t, 12.5, v)

	_, ok = doc.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, "u1", doc.Owner("userId"))
	assert.Equal(t, "", doc.Owner("ownerId"))
}

func TestSyncStatus(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name   string
		status models.SyncStatus
		want   string
	}{
		{"offline", models.OfflineStatus(), "offline"},
		{"synced", models.SyncStatus{State: models.StateSynced, LastSyncTime: &now}, "synced at 2026-01-02T03:04:05Z"},
		{"error", models.SyncStatus{State: models.StateError, ErrorMessage: "permission denied"}, "error (permission denied)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
			assert.True(t, tt.status.State.Valid())
		})
	}

	assert.False(t, models.State("unknown").Valid())

	later := now.Add(time.Second)
	a := models.SyncStatus{State: models.StateSynced, LastSyncTime: &now}
	b := models.SyncStatus{State: models.StateSynced, LastSyncTime: &later}
	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(models.SyncStatus{State: models.StateSynced}))
}
