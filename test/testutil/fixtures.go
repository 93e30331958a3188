package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/TheMichaelB/finsync/internal/models"
)

// OwnerField is the owner attribute used by fixtures.
const OwnerField = "userId"

// Fixture is a set of documents per collection, as loaded by `finsync seed`.
type Fixture map[string][]models.Document

// Doc builds a document owned by userID.
func Doc(id, userID string, fields map[string]any) models.Document {
	f := map[string]any{OwnerField: userID}
	for k, v := range fields {
		f[k] = v
	}
	return models.Document{ID: id, Fields: f}
}

// SampleFixture returns a small data set for userID covering every collection.
func SampleFixture(userID string) Fixture {
	return Fixture{
		models.CollectionTransactions: {
			Doc("t1", userID, map[string]any{"amount": json.Number("-42.5"), "description": "Groceries, weekly", "date": "2024-03-01"}),
			Doc("t2", userID, map[string]any{"amount": json.Number("2500"), "description": "Salary", "date": "2024-03-02"}),
		},
		models.CollectionCategories: {
			Doc("c1", userID, map[string]any{"name": "Food", "color": "#ff0000"}),
		},
		models.CollectionAccounts: {
			Doc("a1", userID, map[string]any{"name": "Checking", "balance": json.Number("1200.75")}),
		},
		models.CollectionGoals: {
			Doc("g1", userID, map[string]any{"name": "Holiday \"Japan\"", "target": json.Number("3000")}),
		},
		models.CollectionInvestments: {
			Doc("i1", userID, map[string]any{"symbol": "VTI", "shares": json.Number("10")}),
		},
		models.CollectionRecurringTransactions: {
			Doc("r1", userID, map[string]any{"description": "Rent", "interval": "monthly"}),
		},
		models.CollectionPortfolioSnapshots: {
			Doc("p1", userID, map[string]any{"value": json.Number("15000"), "date": "2024-03-01"}),
		},
		models.CollectionBudgetSettings: {
			Doc("b1", userID, map[string]any{"monthlyLimit": json.Number("2000"), "notes": "line one\nline two"}),
		},
	}
}

// Count returns the number of documents in the fixture.
func (f Fixture) Count() int {
	n := 0
	for _, docs := range f {
		n += len(docs)
	}
	return n
}

// WriteFixture writes f as JSON into dir and returns the path.
func WriteFixture(dir, name string, f Fixture) (string, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal fixture: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write fixture: %w", err)
	}
	return path, nil
}

// WriteSession writes an identity session file for userID.
func WriteSession(path, userID string) error {
	data, err := json.Marshal(map[string]string{
		"user_id": userID,
		"email":   userID + "@example.com",
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
