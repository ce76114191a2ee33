package models

import (
	"time"

	"github.com/google/uuid"
)

// Stack is the deduplicated aggregate for one recurring problem signature
// within a project. Counters and occurrence bounds are mutated by
// server-evaluated merges; everything else changes rarely.
type Stack struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrganizationID   uuid.UUID  `gorm:"column:organization_id;type:uuid;not null"`
	ProjectID        uuid.UUID  `gorm:"column:project_id;type:uuid;not null;uniqueIndex:ux_stacks_project_signature"`
	SignatureHash    string     `gorm:"column:signature_hash;type:text;not null;uniqueIndex:ux_stacks_project_signature"`
	StackingVersion  string     `gorm:"column:stacking_version;type:text;not null;uniqueIndex:ux_stacks_project_signature"`
	Title            string     `gorm:"column:title;type:text"`
	TotalOccurrences int64      `gorm:"column:total_occurrences;not null;default:0"`
	FirstOccurrence  time.Time  `gorm:"column:first_occurrence;type:timestamptz"`
	LastOccurrence   time.Time  `gorm:"column:last_occurrence;type:timestamptz"`
	IsRegressed      bool       `gorm:"column:is_regressed;not null;default:false"`
	DateFixed        *time.Time `gorm:"column:date_fixed;type:timestamptz"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// IsFixed reports whether the stack was marked resolved.
func (s *Stack) IsFixed() bool {
	return s.DateFixed != nil
}
