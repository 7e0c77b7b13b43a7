// Package plugin provides the registry of named analysis capabilities.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nekazari/intelligence/pkg/models"
)

// ErrPluginNotFound is returned when a named plugin is absent from the
// registry.
var ErrPluginNotFound = errors.New("plugin not found")

// Registry maps plugin names to executable capabilities. It is safe for
// concurrent use; registration normally happens once at startup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]models.Plugin
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]models.Plugin)}
}

// Register adds a plugin under its own name. Registering the same name twice
// is a programming error and returns an error rather than silently replacing
// the earlier capability.
func (r *Registry) Register(p models.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin has empty name")
	}
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.plugins[name] = p
	return nil
}

// Get resolves a plugin by name.
func (r *Registry) Get(name string) (models.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPluginNotFound, name)
	}
	return p, nil
}

// Names returns the registered plugin names in sorted order, for discovery
// via GET /plugins.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
