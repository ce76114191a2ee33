package pipeline

import (
	"context"
	"fmt"

	"github.com/faultline-io/faultline-backend/pkg/logger"
)

// Builder constructs one plugin. Construction failures are fatal at startup.
type Builder[T any] func() (Plugin[T], error)

// Registry collects plugin builders in registration order. Plugins are
// registered explicitly by name; there is no discovery.
type Registry[T any] struct {
	names    []string
	builders map[string]Builder[T]
}

// NewRegistry builds an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{builders: make(map[string]Builder[T])}
}

// Register stores a builder under the given name. Duplicate names are
// rejected.
func (r *Registry[T]) Register(name string, builder Builder[T]) error {
	if name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if builder == nil {
		return fmt.Errorf("builder for %q is required", name)
	}
	if _, exists := r.builders[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.names = append(r.names, name)
	r.builders[name] = builder
	return nil
}

// MustRegister is Register for static wiring in main.
func (r *Registry[T]) MustRegister(name string, builder Builder[T]) {
	if err := r.Register(name, builder); err != nil {
		panic(err)
	}
}

// Build constructs every registered plugin, skipping disabled names with a
// warning, and returns the ordered runner.
func (r *Registry[T]) Build(ctx context.Context, disabled []string, logg *logger.Logger) (*Runner[T], error) {
	skip := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		skip[name] = true
	}

	plugins := make([]Plugin[T], 0, len(r.names))
	for _, name := range r.names {
		if skip[name] {
			if logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{"plugin": name}), "plugin disabled by config")
			}
			continue
		}
		plugin, err := r.builders[name]()
		if err != nil {
			return nil, fmt.Errorf("building plugin %q: %w", name, err)
		}
		plugins = append(plugins, plugin)
	}
	return NewRunner(plugins), nil
}
