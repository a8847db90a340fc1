package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a purchasable service template.
type Plan struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	NestID       int64           `db:"nest_id" json:"nest"`
	EggID        int64           `db:"egg_id" json:"egg"`
	RAM          int64           `db:"ram" json:"ram"`
	Disk         int64           `db:"disk" json:"disk"`
	CPU          int64           `db:"cpu" json:"cpu"`
	Databases    int64           `db:"databases" json:"databases"`
	Backups      int64           `db:"backups" json:"backups"`
	BillingCycle string          `db:"billing_cycle" json:"billing_cycle"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Environment  EnvMap          `db:"environment" json:"environment,omitempty"`
	Startup      string          `db:"startup" json:"startup,omitempty"`
	DockerImage  string          `db:"docker_image" json:"docker_image,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// EnvMap is a plan's environment-variable override, stored as a JSON object.
type EnvMap map[string]string

func (m EnvMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *EnvMap) Scan(src any) error {
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
		return fmt.Errorf("scan env map: unsupported type %T", src)
	}

	parsed, err := ParseEnv(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseEnv decodes an override document. Values of any JSON type are kept
// in string form; null values are dropped.
func ParseEnv(raw []byte) (EnvMap, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("environment must be a JSON object: %w", err)
	}
	out := make(EnvMap, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
		case string:
			out[k] = val
		default:
			b, _ := json.Marshal(val)
			out[k] = string(b)
		}
	}
	return out, nil
}
