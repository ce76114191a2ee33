package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ProjectConfig carries client-facing project configuration. Stored as jsonb.
type ProjectConfig struct {
	// UserAgentBotPatterns are wildcard patterns matched against event user
	// agents when deciding whether a sender is a bot.
	UserAgentBotPatterns []string `json:"user_agent_bot_patterns,omitempty"`
}

func (c ProjectConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *ProjectConfig) Scan(value interface{}) error {
	if value == nil {
		*c = ProjectConfig{}
		return nil
	}
	raw, ok := toBytes(value)
	if !ok {
		return fmt.Errorf("project config: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*c = ProjectConfig{}
		return nil
	}
	return json.Unmarshal(raw, c)
}
