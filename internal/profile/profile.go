// Package profile implements ProfileService: side-effect-free
// lookups of the workspace's active profile and an agent's profile-scoped
// config overlay.
package profile

import (
	"encoding/json"
	"os"
	"strings"
)

// Service is ProfileService.
type Service struct {
	active string
}

// New returns a Service with a fixed active profile name ("default" when
// empty).
func New(active string) *Service {
	if strings.TrimSpace(active) == "" {
		active = "default"
	}
	return &Service{active: active}
}

// FromEnvironment builds a Service from PLOINKY_PROFILE, falling back to
// "default".
func FromEnvironment() *Service {
	return New(os.Getenv("PLOINKY_PROFILE"))
}

// GetActiveProfile returns the workspace's currently active profile name.
func (s *Service) GetActiveProfile() string {
	return s.active
}

// Overlay is the profile-scoped config returned by GetProfileConfig.
type Overlay struct {
	Env    []string          `json:"env,omitempty"`
	Values map[string]string `json:"envValues,omitempty"`
}

// GetProfileConfig looks up agentName's overlay for profileName within
// rawProfiles (typically Manifest.Profiles re-marshaled). Returns a zero
// Overlay, not an error, when the profile or agent has no overlay —
// profiles are optional .
func (s *Service) GetProfileConfig(profileName string, rawProfiles map[string]json.RawMessage) (Overlay, error) {
	raw, ok := rawProfiles[profileName]
	if !ok {
		return Overlay{}, nil
	}
	var overlay Overlay
	if err := json.Unmarshal(raw, &overlay); err != nil {
		return Overlay{}, err
	}
	return overlay, nil
}
