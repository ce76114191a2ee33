package parser

import (
	"context"

	"github.com/faultline-io/faultline-backend/internal/pipeline"
	"github.com/faultline-io/faultline-backend/pkg/logger"
)

// UpgradeContext carries legacy documents through the upgrade chain.
type UpgradeContext struct {
	Docs        []Document
	FromVersion int
}

// UpgradeRegistry wires the upgrade plugin chain. Plugins run through the
// shared pipeline engine and must be idempotent on already-current documents.
func UpgradeRegistry(logg *logger.Logger) *pipeline.Registry[*UpgradeContext] {
	reg := pipeline.NewRegistry[*UpgradeContext]()
	reg.MustRegister("v1-field-renames", func() (pipeline.Plugin[*UpgradeContext], error) {
		return &fieldRenamePlugin{logg: logg}, nil
	})
	reg.MustRegister("v1-critical-tag", func() (pipeline.Plugin[*UpgradeContext], error) {
		return &criticalTagPlugin{logg: logg}, nil
	})
	return reg
}

// fieldRenamePlugin moves version-1 keys to their current names. Documents
// already using the current keys pass through untouched.
type fieldRenamePlugin struct {
	logg *logger.Logger
}

func (p *fieldRenamePlugin) Name() string  { return "v1-field-renames" }
func (p *fieldRenamePlugin) Priority() int { return 10 }

func (p *fieldRenamePlugin) Run(_ context.Context, upgrade *UpgradeContext) error {
	renames := map[string]string{
		"occurrence_date": "date",
		"ref":             "reference_id",
		"msg":             "message",
	}
	for _, doc := range upgrade.Docs {
		for old, current := range renames {
			value, hasOld := doc[old]
			if !hasOld {
				continue
			}
			if _, hasCurrent := doc[current]; !hasCurrent {
				doc[current] = value
			}
			delete(doc, old)
		}
	}
	return nil
}

func (p *fieldRenamePlugin) OnError(ctx context.Context, _ *UpgradeContext, err error) pipeline.Action {
	p.logg.Error(ctx, "field rename upgrade failed", err)
	return pipeline.Continue
}

// criticalTagPlugin converts the legacy boolean critical flag into the
// current tag form.
type criticalTagPlugin struct {
	logg *logger.Logger
}

func (p *criticalTagPlugin) Name() string  { return "v1-critical-tag" }
func (p *criticalTagPlugin) Priority() int { return 20 }

func (p *criticalTagPlugin) Run(_ context.Context, upgrade *UpgradeContext) error {
	for _, doc := range upgrade.Docs {
		flag, ok := doc["is_critical"].(bool)
		if !ok {
			delete(doc, "is_critical")
			continue
		}
		delete(doc, "is_critical")
		if !flag {
			continue
		}
		tags := stringSlice(doc["tags"])
		if !containsString(tags, "Critical") {
			tags = append(tags, "Critical")
		}
		doc["tags"] = tags
	}
	return nil
}

func (p *criticalTagPlugin) OnError(ctx context.Context, _ *UpgradeContext, err error) pipeline.Action {
	p.logg.Error(ctx, "critical tag upgrade failed", err)
	return pipeline.Continue
}

func stringSlice(value any) []string {
	switch typed := value.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
