package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// Action tells the runner how to proceed after a plugin error.
type Action int

const (
	// Continue moves to the next plugin with the item as the failed plugin
	// left it.
	Continue Action = iota
	// Abort fails the whole run.
	Abort
)

// Plugin is one ordered stage operating on a mutable item.
type Plugin[T any] interface {
	Name() string
	Priority() int
	Run(ctx context.Context, item T) error
	// OnError is invoked with the failure before the runner decides whether
	// to keep going. Implementations log their own diagnostics.
	OnError(ctx context.Context, item T, err error) Action
}

// Runner executes plugins in ascending (priority, registration order).
type Runner[T any] struct {
	plugins []Plugin[T]
}

// NewRunner sorts the given plugins. The sort is stable so plugins sharing a
// priority keep their registration order.
func NewRunner[T any](plugins []Plugin[T]) *Runner[T] {
	ordered := make([]Plugin[T], len(plugins))
	copy(ordered, plugins)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})
	return &Runner[T]{plugins: ordered}
}

// Plugins returns the execution order.
func (r *Runner[T]) Plugins() []Plugin[T] {
	return r.plugins
}

// Run passes the item through every plugin in order.
func (r *Runner[T]) Run(ctx context.Context, item T) error {
	for _, plugin := range r.plugins {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := plugin.Run(ctx, item); err != nil {
			if plugin.OnError(ctx, item, err) == Abort {
				return fmt.Errorf("plugin %s: %w", plugin.Name(), err)
			}
		}
	}
	return nil
}
