package parser

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/faultline-io/faultline-backend/pkg/types"
)

// CurrentAPIVersion is the wire schema this service stores natively.
const CurrentAPIVersion = 2

// Document is one raw submission during schema upgrade.
type Document map[string]any

// Event is a normalized submission document after parsing.
type Event struct {
	Type        string              `json:"type" validate:"omitempty,oneof=error log usage 404 session"`
	Source      string              `json:"source" validate:"max=2000"`
	Date        time.Time           `json:"date"`
	Message     *string             `json:"message,omitempty"`
	Value       decimal.NullDecimal `json:"value,omitempty"`
	Geo         *string             `json:"geo,omitempty"`
	ReferenceID *string             `json:"reference_id,omitempty" validate:"omitempty,max=255"`
	Tags        []string            `json:"tags,omitempty"`
	Request     types.RequestInfo   `json:"request,omitempty"`
	Data        types.DataMap       `json:"data,omitempty"`
}

// Normalize fills schema defaults in place.
func (e *Event) Normalize(now time.Time) {
	if e.Type == "" {
		e.Type = "log"
	}
	if e.Date.IsZero() {
		e.Date = now.UTC()
	} else {
		e.Date = e.Date.UTC()
	}
}
