package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// V2Variant decodes current-schema submissions: a single document or an
// array of documents, order preserved.
type V2Variant struct{}

// NewV2Variant builds the current-version parser.
func NewV2Variant() *V2Variant {
	return &V2Variant{}
}

// Name identifies the variant in logs.
func (v *V2Variant) Name() string { return "v2" }

// Priority runs the current-version parser first.
func (v *V2Variant) Priority() int { return 10 }

// Parse decodes version-2 input. Other versions are declined.
func (v *V2Variant) Parse(_ context.Context, input []byte, apiVersion int) ([]*Event, error) {
	if apiVersion != CurrentAPIVersion {
		return nil, nil
	}
	return decodeDocuments(input)
}

func decodeDocuments(input []byte) ([]*Event, error) {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 {
		return []*Event{}, nil
	}

	if trimmed[0] == '[' {
		var events []*Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decoding event array: %w", err)
		}
		return events, nil
	}

	var event Event
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil, fmt.Errorf("decoding event document: %w", err)
	}
	return []*Event{&event}, nil
}
