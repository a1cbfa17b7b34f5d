package trackerapi

import (
	"fmt"

	"github.com/c360studio/aibenefits/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the tracker-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "tracker-api",
		Factory:     NewComponent,
		Type:        "processor",
		Description: "JSON API over projects, KPIs, ROI, risks, roadmaps and alerts",
		Version:     "0.1.0",
	})
}
