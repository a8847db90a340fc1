package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// OrderLog is one entry of an order's operation history.
type OrderLog struct {
	ID        string    `db:"id" json:"id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Action    string    `db:"action" json:"action"`
	Status    string    `db:"status" json:"status"`
	Message   string    `db:"message" json:"message"`
	Metadata  JSONMap   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// JSONMap stores free-form metadata as JSON text.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan json map: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(raw, (*map[string]any)(m))
}
