// Package registry implements AgentRegistry (AR): the
// persisted mapping from deterministic container name to agent record,
// stored as a single JSON file under the workspace's .ploinky/ directory.
package registry

// Bind is a host-path to container-path mount declared in an AgentRecord.
type Bind struct {
	Source string `json:"source"`
	Target string `json:"target"`
	RO     bool   `json:"ro,omitempty"`
}

// EnvVar names an environment variable exposed to the agent. Value is
// omitted when the variable's value comes from the workspace secret store;
// presence of Name alone declares "inject from env".
type EnvVar struct {
	Name  string  `json:"name"`
	Value *string `json:"value,omitempty"`
}

// PortMapping is a published container port.
type PortMapping struct {
	ContainerPort int    `json:"containerPort"`
	HostPort      int    `json:"hostPort"`
	HostIP        string `json:"hostIp,omitempty"`
}

// AgentConfig is the nested "config" object of an AgentRecord.
type AgentConfig struct {
	Binds []Bind        `json:"binds,omitempty"`
	Env   []EnvVar      `json:"env,omitempty"`
	Ports []PortMapping `json:"ports,omitempty"`
}

// RunMode classifies how isolated an agent's container is from its peers.
type RunMode string

const (
	RunModeIsolated RunMode = "isolated"
	RunModeFree     RunMode = "free"
)

// AgentType is the coarse kind of agent a record describes.
type AgentType string

const (
	TypeAgent       AgentType = "agent"
	TypeAgentCore   AgentType = "agentCore"
	TypeInteractive AgentType = "interactive"
)

// AgentRecord is the persisted unit of AR, keyed by containerName.
type AgentRecord struct {
	AgentName      string      `json:"agentName"`
	RepoName       string      `json:"repoName"`
	Alias          string      `json:"alias,omitempty"`
	ContainerImage string      `json:"containerImage"`
	CreatedAt      string      `json:"createdAt"`
	ProjectPath    string      `json:"projectPath"`
	RunMode        RunMode     `json:"runMode,omitempty"`
	Type           AgentType   `json:"type"`
	Config         AgentConfig `json:"config"`

	// EnvHash is the SHA-256 of the canonical effective env map,
	// mirrored from the "ploinky.envhash" container label so AGM can
	// detect drift without an inspect round-trip.
	EnvHash string `json:"envHash,omitempty"`

	// IntentionallyStopped marks a record whose container was stopped by
	// an explicit stop/destroy call (or SUP shutdown), so ContainerMonitor
	// (CM) must not try to resurrect it.
	IntentionallyStopped bool `json:"intentionallyStopped,omitempty"`

	WebchatSetupOutput string `json:"webchatSetupOutput,omitempty"`
	WebchatSetupAt     string `json:"webchatSetupAt,omitempty"`
}
