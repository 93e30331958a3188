package models

// Logical collections owned by a user, in export order.
const (
	CollectionTransactions          = "transactions"
	CollectionCategories            = "categories"
	CollectionAccounts              = "accounts"
	CollectionGoals                 = "goals"
	CollectionInvestments           = "investments"
	CollectionRecurringTransactions = "recurringTransactions"
	CollectionPortfolioSnapshots    = "portfolioSnapshots"
	CollectionBudgetSettings        = "budgetSettings"
)

// Collections is the fixed export order. Do not reorder.
var Collections = []string{
	CollectionTransactions,
	CollectionCategories,
	CollectionAccounts,
	CollectionGoals,
	CollectionInvestments,
	CollectionRecurringTransactions,
	CollectionPortfolioSnapshots,
	CollectionBudgetSettings,
}

// IsCollection reports whether name is one of the known collections.
func IsCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Document is a single record read from the remote store.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Get returns a field value; "id" resolves to the document ID
// unless the document carries its own id field.
func (d Document) Get(key string) (any, bool) {
	if v, ok := d.Fields[key]; ok {
		return v, true
	}
	if key == "id" {
		return d.ID, true
	}
	return nil, false
}

// Owner returns the string value of the owner field, if any.
func (d Document) Owner(field string) string {
	if v, ok := d.Fields[field].(string); ok {
		return v
	}
	return ""
}
