package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/faultline-io/faultline-backend/internal/parser"
	"github.com/faultline-io/faultline-backend/internal/pipeline"
	"github.com/faultline-io/faultline-backend/pkg/db/models"
	"github.com/faultline-io/faultline-backend/pkg/logger"
)

const (
	maxSourceLength = 2000
	maxTagCount     = 50
)

// EnrichmentContext is the mutable item one event carries through the
// enrichment pipeline.
type EnrichmentContext struct {
	Project   *models.Project
	UserAgent string

	Event         *parser.Event
	SignatureHash string
	Title         string
}

// logEnrichmentFailure writes the structured diagnostics every enrichment
// plugin emits before the runner decides whether to continue.
func logEnrichmentFailure(ctx context.Context, logg *logger.Logger, plugin string, item *EnrichmentContext, err error) {
	fields := map[string]any{"plugin": plugin}
	if item.Project != nil {
		fields["project_id"] = item.Project.ID.String()
	}
	if item.Event != nil {
		fields["event_type"] = item.Event.Type
		fields["event_source"] = item.Event.Source
		fields["event_tags"] = item.Event.Tags
		fields["event_critical"] = hasTag(item.Event.Tags, models.TagCritical)
	}
	logg.Error(logg.WithFields(ctx, fields), "enrichment plugin failed", err)
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

// sanitizePlugin trims and bounds free-form fields.
type sanitizePlugin struct {
	logg *logger.Logger
}

func (p *sanitizePlugin) Name() string  { return "sanitize" }
func (p *sanitizePlugin) Priority() int { return 10 }

func (p *sanitizePlugin) Run(ctx context.Context, item *EnrichmentContext) error {
	ev := item.Event
	ev.Source = strings.TrimSpace(ev.Source)
	if len(ev.Source) > maxSourceLength {
		ev.Source = ev.Source[:maxSourceLength]
	}
	if ev.Message != nil {
		trimmed := strings.TrimSpace(*ev.Message)
		if trimmed == "" {
			ev.Message = nil
		} else {
			ev.Message = &trimmed
		}
	}
	return nil
}

func (p *sanitizePlugin) OnError(ctx context.Context, item *EnrichmentContext, err error) pipeline.Action {
	logEnrichmentFailure(ctx, p.logg, p.Name(), item, err)
	return pipeline.Continue
}

// tagsPlugin dedupes tags and caps how many one event may carry.
type tagsPlugin struct {
	logg *logger.Logger
}

func (p *tagsPlugin) Name() string  { return "tags" }
func (p *tagsPlugin) Priority() int { return 20 }

func (p *tagsPlugin) Run(ctx context.Context, item *EnrichmentContext) error {
	ev := item.Event
	if len(ev.Tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ev.Tags))
	kept := ev.Tags[:0]
	for _, tag := range ev.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		kept = append(kept, tag)
		if len(kept) == maxTagCount {
			break
		}
	}
	ev.Tags = kept
	return nil
}

func (p *tagsPlugin) OnError(ctx context.Context, item *EnrichmentContext, err error) pipeline.Action {
	logEnrichmentFailure(ctx, p.logg, p.Name(), item, err)
	return pipeline.Continue
}

// userAgentPlugin copies the submitter's user agent onto events that carry no
// request metadata of their own.
type userAgentPlugin struct {
	logg *logger.Logger
}

func (p *userAgentPlugin) Name() string  { return "user-agent" }
func (p *userAgentPlugin) Priority() int { return 30 }

func (p *userAgentPlugin) Run(ctx context.Context, item *EnrichmentContext) error {
	if item.UserAgent != "" && item.Event.Request.UserAgent == "" {
		item.Event.Request.UserAgent = item.UserAgent
	}
	return nil
}

func (p *userAgentPlugin) OnError(ctx context.Context, item *EnrichmentContext, err error) pipeline.Action {
	logEnrichmentFailure(ctx, p.logg, p.Name(), item, err)
	return pipeline.Continue
}

// signaturePlugin computes the stack signature and title. It runs last; an
// event without a signature cannot be stacked, so failures abort.
type signaturePlugin struct {
	fingerprinter Fingerprinter
	logg          *logger.Logger
}

func (p *signaturePlugin) Name() string  { return "signature" }
func (p *signaturePlugin) Priority() int { return 100 }

func (p *signaturePlugin) Run(ctx context.Context, item *EnrichmentContext) error {
	hash := p.fingerprinter.Fingerprint(item.Event)
	if hash == "" {
		return fmt.Errorf("fingerprinter returned empty signature")
	}
	item.SignatureHash = hash
	item.Title = TitleFor(item.Event)
	return nil
}

func (p *signaturePlugin) OnError(ctx context.Context, item *EnrichmentContext, err error) pipeline.Action {
	logEnrichmentFailure(ctx, p.logg, p.Name(), item, err)
	return pipeline.Abort
}

// EnrichmentRegistry returns the default enrichment plugin set. Names here
// are what the disabled-plugins config knob matches against.
func EnrichmentRegistry(fingerprinter Fingerprinter, logg *logger.Logger) *pipeline.Registry[*EnrichmentContext] {
	registry := pipeline.NewRegistry[*EnrichmentContext]()
	registry.MustRegister("sanitize", func() (pipeline.Plugin[*EnrichmentContext], error) {
		return &sanitizePlugin{logg: logg}, nil
	})
	registry.MustRegister("tags", func() (pipeline.Plugin[*EnrichmentContext], error) {
		return &tagsPlugin{logg: logg}, nil
	})
	registry.MustRegister("user-agent", func() (pipeline.Plugin[*EnrichmentContext], error) {
		return &userAgentPlugin{logg: logg}, nil
	})
	registry.MustRegister("signature", func() (pipeline.Plugin[*EnrichmentContext], error) {
		if fingerprinter == nil {
			return nil, fmt.Errorf("fingerprinter is required")
		}
		return &signaturePlugin{fingerprinter: fingerprinter, logg: logg}, nil
	})
	return registry
}
