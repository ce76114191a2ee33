package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/faultline-io/faultline-backend/internal/pipeline"
)

// V1Variant upgrades legacy submissions through the upgrade chain before
// decoding them with the current schema.
type V1Variant struct {
	upgrades *pipeline.Runner[*UpgradeContext]
}

// NewV1Variant builds the legacy parser around an upgrade chain.
func NewV1Variant(upgrades *pipeline.Runner[*UpgradeContext]) *V1Variant {
	return &V1Variant{upgrades: upgrades}
}

// Name identifies the variant in logs.
func (v *V1Variant) Name() string { return "v1" }

// Priority runs after the current-version parser.
func (v *V1Variant) Priority() int { return 20 }

// Parse upgrades version-1 input to the current schema and decodes it.
// Current-version input is declined.
func (v *V1Variant) Parse(ctx context.Context, input []byte, apiVersion int) ([]*Event, error) {
	if apiVersion >= CurrentAPIVersion {
		return nil, nil
	}

	docs, err := decodeRawDocuments(input)
	if err != nil {
		return nil, err
	}

	upgrade := &UpgradeContext{Docs: docs, FromVersion: apiVersion}
	if err := v.upgrades.Run(ctx, upgrade); err != nil {
		return nil, fmt.Errorf("upgrading v%d submission: %w", apiVersion, err)
	}

	upgraded, err := json.Marshal(upgrade.Docs)
	if err != nil {
		return nil, fmt.Errorf("re-encoding upgraded submission: %w", err)
	}
	return decodeDocuments(upgraded)
}

func decodeRawDocuments(input []byte) ([]Document, error) {
	trimmed := bytes.TrimSpace(input)
	if len(trimmed) == 0 {
		return []Document{}, nil
	}

	if trimmed[0] == '[' {
		var docs []Document
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, fmt.Errorf("decoding legacy array: %w", err)
		}
		return docs, nil
	}

	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("decoding legacy document: %w", err)
	}
	return []Document{doc}, nil
}
