package agentmanager

// Event subjects published onto the ambient event bus by AGM, from Ensure
// and Stop. HP publishes its own agent.liveness_failed /
// agent.readiness_failed subjects directly (internal/healthprobe), since
// it cannot import this package without a cycle.
const (
	EventAgentStarted       = "agent.started"
	EventAgentReady         = "agent.ready"
	EventAgentFailed        = "agent.failed"
	EventAgentStopped       = "agent.stopped"
	EventContainerRecreated = "container.recreated"
)

// subjectForAgent builds a per-agent subject suffix so subscribers can
// filter with a NATS-style wildcard, e.g. "agent.started.demo" or
// "agent.started.*" for all agents.
func subjectForAgent(base, agentName string) string {
	if agentName == "" {
		return base
	}
	return base + "." + agentName
}
