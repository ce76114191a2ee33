package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// NotificationSetting is one recipient's interest flags.
type NotificationSetting struct {
	ReportNewErrors        bool `json:"report_new_errors"`
	ReportCriticalErrors   bool `json:"report_critical_errors"`
	ReportEventRegressions bool `json:"report_event_regressions"`
	ReportNewEvents        bool `json:"report_new_events"`
	ReportCriticalEvents   bool `json:"report_critical_events"`
}

// NotificationSettingsMap maps a recipient key (user id or the fixed chat
// integration key) to its interest flags. Stored as jsonb.
type NotificationSettingsMap map[string]NotificationSetting

func (m NotificationSettingsMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *NotificationSettingsMap) Scan(value interface{}) error {
	if value == nil {
		*m = NotificationSettingsMap{}
		return nil
	}
	raw, ok := toBytes(value)
	if !ok {
		return fmt.Errorf("notification settings: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*m = NotificationSettingsMap{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

func toBytes(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case []byte:
		return v, true
	case string:
		return []byte(v), true
	default:
		return nil, false
	}
}
