package export

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/finsync/internal/models"
)

func TestSectionTitle(t *testing.T) {
	tests := map[string]string{
		"transactions":          "Transactions",
		"recurringTransactions": "RecurringTransactions",
		"budgetSettings":        "BudgetSettings",
	}
	for in, want := range tests {
		assert.Equal(t, want, SectionTitle(in))
	}
}

func TestHeader(t *testing.T) {
	docs := []models.Document{
		{ID: "1", Fields: map[string]any{"zeta": 1, "alpha": 2, "id": "custom"}},
		{ID: "2", Fields: map[string]any{"other": 3}},
	}
	assert.Equal(t, []string{"id", "alpha", "zeta"}, Header(docs))
	assert.Nil(t, Header(nil))
}

func TestRenderValue(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "plain", "plain"},
		{"json number", json.Number("12.50"), "12.50"},
		{"float", 12.5, "12.5"},
		{"large float", 1e21, "1000000000000000000000"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"bool", true, "true"},
		{"time", ts, "2024-01-02T03:04:05Z"},
		{"time pointer", &ts, "2024-01-02T03:04:05Z"},
		{"slice", []any{"a", json.Number("1")}, `["a",1]`},
		{"map", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderValue(tt.in))
		})
	}
}

func TestSerialize(t *testing.T) {
	sets := make([][]models.Document, len(models.Collections))
	sets[0] = []models.Document{
		{ID: "t1", Fields: map[string]any{"amount": json.Number("5"), "note": "a,b"}},
		{ID: "t2", Fields: map[string]any{"amount": json.Number("6")}},
	}
	sets[3] = []models.Document{
		{ID: "g1", Fields: map[string]any{"name": "Car"}},
	}

	want := "Transactions\n" +
		"id,amount,note\n" +
		"t1,5,\"a,b\"\n" +
		"t2,6,\n" +
		"\n" +
		"Goals\n" +
		"id,name\n" +
		"g1,Car\n"

	assert.Equal(t, want, Serialize(sets))
	assert.Equal(t, "", Serialize(make([][]models.Document, len(models.Collections))))
}
