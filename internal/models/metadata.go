package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Metadata is an opaque caller-controlled key/value map, stored as a
// Postgres jsonb column. Works with sqlx / database/sql.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("metadata: expected []byte, got %T", value)
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}
