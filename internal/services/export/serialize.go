package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/TheMichaelB/finsync/internal/models"
)

var titleCaser = cases.Title(language.Und, cases.NoLower)

// SectionTitle is the label line for a collection's section.
func SectionTitle(collection string) string {
	return titleCaser.String(collection)
}

// Header returns the column names for a section: "id" followed by the first
// document's field names in lexical order. Later documents are assumed to
// share the first document's keys.
func Header(docs []models.Document) []string {
	if len(docs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(docs[0].Fields))
	for k := range docs[0].Fields {
		if k != "id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	return append([]string{"id"}, keys...)
}

// Serialize renders the sections for sets, which must be in collection order
// and parallel to models.Collections. Empty sets produce no section.
func Serialize(sets [][]models.Document) string {
	var sections []string

	for i, docs := range sets {
		if len(docs) == 0 || i >= len(models.Collections) {
			continue
		}
		sections = append(sections, serializeSection(models.Collections[i], docs))
	}

	return strings.Join(sections, "\n")
}

func serializeSection(collection string, docs []models.Document) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := Header(docs)

	// csv.Writer only fails on the underlying writer, which is a bytes.Buffer.
	_ = w.Write([]string{SectionTitle(collection)})
	_ = w.Write(header)

	row := make([]string, len(header))
	for _, doc := range docs {
		for i, key := range header {
			v, _ := doc.Get(key)
			row[i] = renderValue(v)
		}
		_ = w.Write(row)
	}

	w.Flush()
	return buf.String()
}

// renderValue formats one field as text.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case time.Time:
		return val.Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
