package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline-backend/pkg/types"
)

// Project owns stacks and events and carries per-recipient notification
// settings plus client configuration.
type Project struct {
	ID                   uuid.UUID                     `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrganizationID       uuid.UUID                     `gorm:"column:organization_id;type:uuid;not null"`
	Name                 string                        `gorm:"column:name;type:text;not null"`
	NotificationSettings types.NotificationSettingsMap `gorm:"column:notification_settings;type:jsonb"`
	Config               types.ProjectConfig           `gorm:"column:config;type:jsonb"`
	CreatedAt            time.Time                     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                     `gorm:"column:updated_at;autoUpdateTime"`
}
