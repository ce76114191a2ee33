package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/faultline-io/faultline-backend/pkg/db/types"
)

// User is a notification recipient. Account management itself lives outside
// this service; only the fields the dispatcher needs are mapped.
type User struct {
	ID                        uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EmailAddress              string            `gorm:"column:email_address;type:text;not null"`
	IsEmailAddressVerified    bool              `gorm:"column:is_email_address_verified;not null;default:false"`
	EmailNotificationsEnabled bool              `gorm:"column:email_notifications_enabled;not null;default:true"`
	OrganizationIDs           dbtypes.UUIDArray `gorm:"column:organization_ids;type:uuid[]"`
	FullName                  string            `gorm:"column:full_name;type:text"`
	CreatedAt                 time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// IsMemberOf reports whether the user belongs to the given organization.
func (u *User) IsMemberOf(organizationID uuid.UUID) bool {
	for _, id := range u.OrganizationIDs {
		if id == organizationID {
			return true
		}
	}
	return false
}
