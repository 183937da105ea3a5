package models

// AgentStatus is the lifecycle state a worker reports about itself.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentWaiting AgentStatus = "waiting"
	AgentError   AgentStatus = "error"
)

// StatusComplete marks a successful stage or pipeline result.
const StatusComplete = "complete"
