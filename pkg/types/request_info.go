package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// RequestInfo captures the HTTP request metadata attached to an event.
// Stored as jsonb.
type RequestInfo struct {
	UserAgent   string            `json:"user_agent,omitempty"`
	HTTPMethod  string            `json:"http_method,omitempty"`
	Host        string            `json:"host,omitempty"`
	Path        string            `json:"path,omitempty"`
	ClientIP    string            `json:"client_ip_address,omitempty"`
	Referrer    string            `json:"referrer,omitempty"`
	QueryString map[string]string `json:"query_string,omitempty"`
}

func (r RequestInfo) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *RequestInfo) Scan(value interface{}) error {
	if value == nil {
		*r = RequestInfo{}
		return nil
	}
	raw, ok := toBytes(value)
	if !ok {
		return fmt.Errorf("request info: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*r = RequestInfo{}
		return nil
	}
	return json.Unmarshal(raw, r)
}
