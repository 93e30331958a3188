package store

import (
	"bytes"
	"encoding/json"
)

// decodeFields unmarshals a JSON object keeping numbers as json.Number so
// exported values keep their exact textual form.
func decodeFields(data []byte, fields *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(fields); err != nil {
		return err
	}
	if *fields == nil {
		*fields = map[string]any{}
	}
	return nil
}
