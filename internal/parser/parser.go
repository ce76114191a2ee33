package parser

import (
	"context"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/faultline-io/faultline-backend/pkg/logger"
)

// Variant is one version-specific parser. A variant declines input for a
// schema version it does not own by returning (nil, nil); the first acceptor
// wins.
type Variant interface {
	Name() string
	Priority() int
	Parse(ctx context.Context, input []byte, apiVersion int) ([]*Event, error)
}

// Service runs the registered variants in priority order.
type Service struct {
	variants []Variant
	validate *validator.Validate
	logg     *logger.Logger
	now      func() time.Time
}

// NewService sorts the variants. The sort is stable so same-priority variants
// keep registration order.
func NewService(variants []Variant, logg *logger.Logger) *Service {
	ordered := make([]Variant, len(variants))
	copy(ordered, variants)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})
	return &Service{
		variants: ordered,
		validate: validator.New(),
		logg:     logg,
		now:      time.Now,
	}
}

// Parse decodes the raw submission into normalized events. Malformed input
// yields zero events and no error; ingestion treats that as a benign no-op.
func (s *Service) Parse(ctx context.Context, input []byte, apiVersion int) ([]*Event, error) {
	for _, variant := range s.variants {
		events, err := variant.Parse(ctx, input, apiVersion)
		if err != nil {
			fields := map[string]any{"parser": variant.Name(), "api_version": apiVersion}
			s.logg.Warn(s.logg.WithFields(ctx, fields), "discarding malformed submission")
			return nil, nil
		}
		if events == nil {
			continue
		}
		return s.normalize(ctx, events), nil
	}

	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"api_version": apiVersion}), "no parser accepted submission")
	return nil, nil
}

func (s *Service) normalize(ctx context.Context, events []*Event) []*Event {
	kept := make([]*Event, 0, len(events))
	for _, event := range events {
		if event == nil {
			continue
		}
		event.Normalize(s.now())
		if err := s.validate.Struct(event); err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"validation": err.Error()}), "dropping invalid event document")
			continue
		}
		kept = append(kept, event)
	}
	return kept
}
