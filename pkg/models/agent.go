package models

import "time"

// AgentStatus represents the current state of a logical agent identity.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is available for assignment.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent is working on a task.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusError indicates the agent hit an unrecoverable error.
	AgentStatusError AgentStatus = "error"
	// AgentStatusOffline indicates the agent's process is not running.
	AgentStatusOffline AgentStatus = "offline"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusError, AgentStatusOffline:
		return true
	default:
		return false
	}
}

// AgentRole identifies the kind of work an agent performs.
type AgentRole string

const (
	// RoleExecutor performs general implementation work.
	RoleExecutor AgentRole = "executor"
	// RoleReviewer reviews completed work.
	RoleReviewer AgentRole = "reviewer"
	// RoleTester writes and runs tests.
	RoleTester AgentRole = "tester"
	// RoleArchitect handles design and architecture tasks.
	RoleArchitect AgentRole = "architect"
	// RoleDocwriter produces documentation.
	RoleDocwriter AgentRole = "docwriter"
	// RoleOrchestrator coordinates other agents and can stand in as an executor.
	RoleOrchestrator AgentRole = "orchestrator"
)

// Valid returns true if the role is a known value.
func (r AgentRole) Valid() bool {
	switch r {
	case RoleExecutor, RoleReviewer, RoleTester, RoleArchitect, RoleDocwriter, RoleOrchestrator:
		return true
	default:
		return false
	}
}

// Agent represents a logical agent identity: who can do work, distinct from
// the RuntimeInstance that physically executes it.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is a human-readable label for the agent.
	Name string `json:"name,omitempty"`
	// Role is the kind of work this agent performs.
	Role AgentRole `json:"role"`
	// Specialist is an optional subtype within the role (e.g. "frontend").
	Specialist string `json:"specialist,omitempty"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// Capabilities lists what the agent can do, beyond its role.
	Capabilities []string `json:"capabilities,omitempty"`
	// TaskID is the ID of the task this agent is working on, if any.
	// An agent identity is exclusively owned by that task until it completes.
	TaskID string `json:"task_id,omitempty"`
	// LastHeartbeat is the most recent liveness signal from the agent's process.
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}

// Idle returns true if the agent can accept a new task.
func (a *Agent) Idle() bool {
	return a.Status == AgentStatusIdle && a.TaskID == ""
}
