package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Flexible decodes a JSON field that upstream catalogs send either as a
// structured value or as a JSON-encoded string holding that value. Adapters
// use it at the ingress boundary so nothing downstream has to care which
// shape arrived.
type Flexible[T any] struct {
	Value T
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flexible[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		if encoded == "" {
			return nil
		}
		data = []byte(encoded)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode flexible field: %w", err)
	}
	f.Value = v
	f.Set = true
	return nil
}

// MarshalJSON always emits the structured form.
func (f Flexible[T]) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// DecodeFlexible decodes raw into v, accepting both a structured value and
// a JSON-encoded string of it.
func DecodeFlexible[T any](raw json.RawMessage) (T, error) {
	var f Flexible[T]
	if err := f.UnmarshalJSON(raw); err != nil {
		var zero T
		return zero, err
	}
	return f.Value, nil
}
