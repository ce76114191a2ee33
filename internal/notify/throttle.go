package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/faultline-io/faultline-backend/pkg/config"
	"github.com/faultline-io/faultline-backend/pkg/logger"
)

// throttleCache is the cache surface the throttler needs.
type throttleCache interface {
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, value time.Time, ttl time.Duration) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	StackThrottleKey(stackID string) string
	ProjectThrottleKey(projectID string, now time.Time, window time.Duration) string
}

// Throttler applies the two notification rate limits: a per-stack cooldown
// and a per-project bucket cap. Regressions bypass both.
type Throttler struct {
	cache throttleCache
	cfg   config.NotificationConfig
	logg  *logger.Logger

	now func() time.Time
}

// NewThrottler wires the throttler.
func NewThrottler(cache throttleCache, cfg config.NotificationConfig, logg *logger.Logger) (*Throttler, error) {
	if cache == nil {
		return nil, errors.New("throttle cache is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Throttler{cache: cache, cfg: cfg, logg: logg, now: time.Now}, nil
}

// SuppressByStack reports whether the stack cooldown suppresses this item.
// Only stacks past their first couple of occurrences are throttled, and the
// sent marker is checked against the nominal window even though MarkNotified
// writes it with a shorter TTL.
func (t *Throttler) SuppressByStack(ctx context.Context, stackID uuid.UUID, totalOccurrences int64, isRegression bool) (bool, error) {
	if isRegression || totalOccurrences <= 2 {
		return false, nil
	}
	lastNotified, err := t.cache.GetTime(ctx, t.cache.StackThrottleKey(stackID.String()))
	if err != nil {
		// cache trouble degrades to sending rather than dropping alerts
		t.logg.Warn(ctx, "stack throttle lookup failed, allowing notification")
		return false, nil
	}
	if lastNotified.IsZero() {
		return false, nil
	}
	return t.now().Sub(lastNotified) < t.cfg.StackThrottleWindow, nil
}

// MarkNotified refreshes the stack cooldown marker after a successful send.
func (t *Throttler) MarkNotified(ctx context.Context, stackID uuid.UUID) error {
	return t.cache.SetTime(ctx, t.cache.StackThrottleKey(stackID.String()), t.now().UTC(), t.cfg.StackThrottleTTL)
}

// SuppressByProject counts this item against the project's current bucket and
// reports whether the cap suppresses it. The increment happens regardless so
// concurrent workers agree on the bucket total.
func (t *Throttler) SuppressByProject(ctx context.Context, projectID uuid.UUID, isRegression bool) (bool, error) {
	key := t.cache.ProjectThrottleKey(projectID.String(), t.now(), t.cfg.ProjectWindow)
	count, err := t.cache.IncrWithTTL(ctx, key, t.cfg.ProjectWindow)
	if err != nil {
		t.logg.Warn(ctx, "project throttle increment failed, allowing notification")
		return false, nil
	}
	if isRegression {
		return false, nil
	}
	return count > t.cfg.ProjectLimit, nil
}
