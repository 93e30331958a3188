package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/internal/store"
)

func TestMockStore(t *testing.T) {
	m := store.NewMockStore()
	ctx := context.Background()

	m.AddDocuments(models.CollectionGoals,
		doc("g1", "u1", nil),
		doc("g2", "u2", nil),
	)

	docs, err := m.Read(ctx, models.CollectionGoals, store.OwnedBy("userId", "u1"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "g1", docs[0].ID)

	m.SetReadError(models.CollectionGoals, errors.New("denied"))
	_, err = m.Read(ctx, models.CollectionGoals, store.Filter{})
	assert.Error(t, err)
	assert.Equal(t, 2, m.ReadCount())

	sub, err := m.Subscribe(ctx, store.Query{Collection: models.CollectionGoals})
	require.NoError(t, err)
	assert.Equal(t, 1, m.LiveSubscriptions())

	m.Latest().Emit(store.Snapshot(nil))
	ev := <-sub.Events()
	assert.Equal(t, store.EventSnapshot, ev.Kind)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, m.LiveSubscriptions())
	assert.Equal(t, 2, m.Latest().CloseCalls())
}
