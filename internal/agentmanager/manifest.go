package agentmanager

import (
	"encoding/json"
	"fmt"
	"strings"
)

// HealthProbeSpec is one of manifest.health.liveness / .readiness.
type HealthProbeSpec struct {
	Script            string `json:"script"`
	IntervalSeconds   int    `json:"interval"`
	TimeoutSeconds    int    `json:"timeout"`
	SuccessThreshold  int    `json:"successThreshold"`
	FailureThreshold  int    `json:"failureThreshold"`
}

// HealthSpec is manifest.health.
type HealthSpec struct {
	Liveness  *HealthProbeSpec `json:"liveness,omitempty"`
	Readiness *HealthProbeSpec `json:"readiness,omitempty"`
}

// RawManifest is the permissive, directly-unmarshaled agent manifest.
// Unknown fields are preserved in Extra but never acted upon.
type RawManifest struct {
	Name        string          `json:"name"`
	Container   string          `json:"container"`
	Install     string          `json:"install,omitempty"`
	Postinstall json.RawMessage `json:"postinstall,omitempty"`
	Start       string          `json:"start,omitempty"`
	Agent       string          `json:"agent,omitempty"`
	Ports       []string        `json:"ports,omitempty"`
	Volumes     map[string]string `json:"volumes,omitempty"`
	Env         []string        `json:"env,omitempty"`
	Health      *HealthSpec     `json:"health,omitempty"`
	Profiles    map[string]json.RawMessage `json:"profiles,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// PortSpec is a parsed "host:container" or "ip:host:container" entry.
type PortSpec struct {
	HostIP        string
	HostPort      int // 0 means "allocate one"
	ContainerPort int
}

// Manifest is the validated, typed manifest produced by Validate.
type Manifest struct {
	Name        string
	Container   string
	Install     string
	Postinstall []string
	Start       string
	Agent       string
	Ports       []PortSpec
	Volumes     map[string]string
	EnvNames    []string
	Health      HealthSpec
	Profiles    map[string]RawProfileOverlay
}

// RawProfileOverlay is a profile's raw shape before it is merged into the
// effective manifest by EnvResolver.
type RawProfileOverlay struct {
	Env    []string          `json:"env,omitempty"`
	Values map[string]string `json:"envValues,omitempty"`
}

// ParseManifest unmarshals raw JSON into a RawManifest.
func ParseManifest(data []byte) (*RawManifest, error) {
	var raw RawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err == nil {
		for _, known := range []string{"name", "container", "install", "postinstall", "start", "agent", "ports", "volumes", "env", "health", "profiles"} {
			delete(all, known)
		}
		if len(all) > 0 {
			raw.Extra = all
		}
	}
	return &raw, nil
}

// Validate converts a RawManifest into a typed Manifest, rejecting
// structurally invalid input with a ConfigError-class error.
func (r *RawManifest) Validate() (*Manifest, error) {
	if strings.TrimSpace(r.Name) == "" {
		return nil, fmt.Errorf("manifest: %w: name is required", ErrManifestInvalid)
	}
	if strings.TrimSpace(r.Container) == "" {
		return nil, fmt.Errorf("manifest: %w: container image is required", ErrManifestInvalid)
	}

	ports, err := parsePorts(r.Ports)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", r.Name, err)
	}

	postinstall, err := parsePostinstall(r.Postinstall)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", r.Name, err)
	}

	health := HealthSpec{}
	if r.Health != nil {
		health.Liveness = withProbeDefaults(r.Health.Liveness)
		health.Readiness = withProbeDefaults(r.Health.Readiness)
	}
	for _, probe := range []*HealthProbeSpec{health.Liveness, health.Readiness} {
		if probe == nil {
			continue
		}
		if strings.ContainsAny(probe.Script, "/") || strings.Contains(probe.Script, "..") {
			return nil, fmt.Errorf("manifest %s: %w: health script %q must be a bare filename", r.Name, ErrManifestInvalid, probe.Script)
		}
	}

	profiles := make(map[string]RawProfileOverlay, len(r.Profiles))
	for name, raw := range r.Profiles {
		var overlay RawProfileOverlay
		if err := json.Unmarshal(raw, &overlay); err != nil {
			return nil, fmt.Errorf("manifest %s: %w: profile %q: %v", r.Name, ErrManifestInvalid, name, err)
		}
		profiles[name] = overlay
	}

	return &Manifest{
		Name:        r.Name,
		Container:   r.Container,
		Install:     r.Install,
		Postinstall: postinstall,
		Start:       r.Start,
		Agent:       r.Agent,
		Ports:       ports,
		Volumes:     r.Volumes,
		EnvNames:    r.Env,
		Health:      health,
		Profiles:    profiles,
	}, nil
}

func withProbeDefaults(p *HealthProbeSpec) *HealthProbeSpec {
	if p == nil {
		return nil
	}
	out := *p
	if out.IntervalSeconds <= 0 {
		out.IntervalSeconds = 1
	}
	if out.TimeoutSeconds <= 0 {
		out.TimeoutSeconds = 5
	}
	if out.SuccessThreshold <= 0 {
		out.SuccessThreshold = 1
	}
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	return &out
}

func parsePostinstall(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	return nil, fmt.Errorf("%w: postinstall must be a string or list of strings", ErrManifestInvalid)
}

func parsePorts(raw []string) ([]PortSpec, error) {
	specs := make([]PortSpec, 0, len(raw))
	for _, entry := range raw {
		parts := strings.Split(entry, ":")
		var spec PortSpec
		var err error
		switch len(parts) {
		case 1:
			spec.ContainerPort, err = parsePort(parts[0])
		case 2:
			spec.HostPort, err = parsePort(parts[0])
			if err == nil {
				spec.ContainerPort, err = parsePort(parts[1])
			}
		case 3:
			spec.HostIP = parts[0]
			spec.HostPort, err = parsePort(parts[1])
			if err == nil {
				spec.ContainerPort, err = parsePort(parts[2])
			}
		default:
			err = fmt.Errorf("invalid port entry %q", entry)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func parsePort(s string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("port %q out of range", s)
	}
	return port, nil
}
