package roadmapsync

import (
	"fmt"

	"github.com/c360studio/aibenefits/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the roadmap-sync component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "roadmap-sync",
		Factory:     NewComponent,
		Type:        "processor",
		Description: "Recomputes roadmap progress and raises alerts on a schedule",
		Version:     "0.1.0",
	})
}
