package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Payload is an opaque JSON document stored in a jsonb column. The zero value
// is SQL NULL and JSON null.
type Payload []byte

func (p Payload) Empty() bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Object decodes the payload as a JSON object.
func (p Payload) Object() (map[string]any, error) {
	if p.Empty() {
		return nil, fmt.Errorf("payload is empty")
	}
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}
	return fields, nil
}

func (p Payload) Value() (driver.Value, error) {
	if p.Empty() {
		return nil, nil
	}
	return []byte(p), nil
}

func (p *Payload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append(Payload(nil), v...)
	case string:
		*p = Payload(v)
	default:
		return fmt.Errorf("unsupported payload source %T", src)
	}
	return nil
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Empty() {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], data...)
	return nil
}
