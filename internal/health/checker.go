package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Probe checks one dependency.
type Probe interface {
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Ping(ctx context.Context) error { return f(ctx) }

// Report is one evaluated health snapshot.
type Report struct {
	Healthy   bool              `json:"healthy"`
	Checks    map[string]string `json:"checks"`
	CheckedAt time.Time         `json:"checkedAt"`
}

// Checker runs dependency probes and caches the combined result so frequent
// health polling does not hammer the dependencies themselves. The cache and
// its TTL live on the checker instance, not in package state.
type Checker struct {
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	mu     sync.Mutex
	probes map[string]Probe
	cached Report
	expiry time.Time
}

// CheckerParams configures a Checker.
type CheckerParams struct {
	CacheTTL     time.Duration
	ProbeTimeout time.Duration
}

// NewChecker builds an empty checker. Register probes before serving.
func NewChecker(params CheckerParams) (*Checker, error) {
	if params.CacheTTL <= 0 {
		return nil, errors.New("health cache ttl must be positive")
	}
	if params.ProbeTimeout <= 0 {
		return nil, errors.New("health probe timeout must be positive")
	}
	return &Checker{
		ttl:     params.CacheTTL,
		timeout: params.ProbeTimeout,
		now:     time.Now,
		probes:  map[string]Probe{},
	}, nil
}

// Register adds a named dependency probe. Nil probes are ignored so optional
// dependencies can be wired unconditionally.
func (c *Checker) Register(name string, probe Probe) {
	if probe == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe
}

// Check returns the cached report when it is still fresh, otherwise runs all
// probes and refreshes the cache. A failed run is cached too, so a flapping
// dependency is re-probed at most once per TTL.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Before(c.expiry) {
		return c.cached
	}

	report := Report{Healthy: true, Checks: map[string]string{}, CheckedAt: now}
	for _, name := range c.probeNamesLocked() {
		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.probes[name].Ping(probeCtx)
		cancel()
		if err != nil {
			report.Healthy = false
			report.Checks[name] = err.Error()
			continue
		}
		report.Checks[name] = "ok"
	}

	c.cached = report
	c.expiry = now.Add(c.ttl)
	return report
}

func (c *Checker) probeNamesLocked() []string {
	names := make([]string, 0, len(c.probes))
	for name := range c.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
