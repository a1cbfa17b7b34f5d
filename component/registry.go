package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Factory builds a component from the shared dependencies.
type Factory func(deps Dependencies) (Discoverable, error)

// RegistrationConfig describes a component factory.
type RegistrationConfig struct {
	Name        string
	Factory     Factory
	Type        string
	Description string
	Version     string
}

// Registry holds component factories and the instances created from them.
// Instances start in creation order and stop in reverse.
type Registry struct {
	mu        sync.Mutex
	factories map[string]RegistrationConfig
	instances []Discoverable
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]RegistrationConfig)}
}

// RegisterWithConfig adds a factory. Names must be unique.
func (r *Registry) RegisterWithConfig(cfg RegistrationConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("component name required")
	}
	if cfg.Factory == nil {
		return fmt.Errorf("component %s: factory required", cfg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[cfg.Name]; exists {
		return fmt.Errorf("component %s already registered", cfg.Name)
	}
	r.factories[cfg.Name] = cfg
	return nil
}

// Create builds, initializes and records the named component.
func (r *Registry) Create(name string, deps Dependencies) (Discoverable, error) {
	r.mu.Lock()
	reg, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("component %s not registered", name)
	}

	c, err := reg.Factory(deps)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	if err := c.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}

	r.mu.Lock()
	r.instances = append(r.instances, c)
	r.mu.Unlock()
	return c, nil
}

// StartAll starts every created component. On failure the components
// already started are stopped again.
func (r *Registry) StartAll(ctx context.Context, timeout time.Duration) error {
	r.mu.Lock()
	instances := append([]Discoverable(nil), r.instances...)
	r.mu.Unlock()

	for i, c := range instances {
		if err := c.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = instances[j].Stop(timeout)
			}
			return fmt.Errorf("start %s: %w", c.Meta().Name, err)
		}
	}
	return nil
}

// StopAll stops the components in reverse creation order and joins errors.
func (r *Registry) StopAll(timeout time.Duration) error {
	r.mu.Lock()
	instances := append([]Discoverable(nil), r.instances...)
	r.mu.Unlock()

	var errs []error
	for i := len(instances) - 1; i >= 0; i-- {
		if err := instances[i].Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", instances[i].Meta().Name, err))
		}
	}
	return errors.Join(errs...)
}

// Health reports the health of every created component by name.
func (r *Registry) Health() map[string]HealthStatus {
	r.mu.Lock()
	instances := append([]Discoverable(nil), r.instances...)
	r.mu.Unlock()

	out := make(map[string]HealthStatus, len(instances))
	for _, c := range instances {
		out[c.Meta().Name] = c.Health()
	}
	return out
}
