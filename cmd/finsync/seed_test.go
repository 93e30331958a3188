package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/finsync/internal/models"
	"github.com/TheMichaelB/finsync/test/testutil"
)

func TestReadFixture(t *testing.T) {
	dir := t.TempDir()
	path, err := testutil.WriteFixture(dir, "sample.json", testutil.SampleFixture("u1"))
	require.NoError(t, err)

	fixture, err := readFixture(path)
	require.NoError(t, err)

	assert.Len(t, fixture, len(models.Collections))
	txns := fixture[models.CollectionTransactions]
	require.Len(t, txns, 2)
	assert.Equal(t, json.Number("-42.5"), txns[0].Fields["amount"])
	assert.Equal(t, "u1", txns[0].Fields[testutil.OwnerField])
}

func TestReadFixtureRejectsUnknownCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"invoices": [{"id": "x", "fields": {}}]}`), 0644))

	_, err := readFixture(path)
	assert.ErrorIs(t, err, models.ErrUnknownCollection)
}

func TestReadFixtureMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"accounts": [`), 0644))

	_, err := readFixture(path)
	assert.Error(t, err)
}
