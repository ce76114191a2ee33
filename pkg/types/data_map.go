package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// DataMap is the open-ended key/value payload on an event. Stored as jsonb.
type DataMap map[string]any

func (d DataMap) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

func (d *DataMap) Scan(value interface{}) error {
	if value == nil {
		*d = DataMap{}
		return nil
	}
	raw, ok := toBytes(value)
	if !ok {
		return fmt.Errorf("data map: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*d = DataMap{}
		return nil
	}
	return json.Unmarshal(raw, d)
}
