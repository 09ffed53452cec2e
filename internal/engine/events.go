package engine

import (
	"time"
)

// EventType represents the type of engine lifecycle event.
type EventType string

const (
	// EventTaskCompleted indicates a task finished and moved to review.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskBlocked indicates a task is blocked and cannot proceed.
	EventTaskBlocked EventType = "task_blocked"
	// EventTaskEscalated indicates a task exhausted its retries and needs a human.
	EventTaskEscalated EventType = "task_escalated"
	// EventAgentAvailable indicates an agent returned to the idle pool.
	EventAgentAvailable EventType = "agent_available"
	// EventDependencyResolved indicates a blocked task's dependencies all closed.
	EventDependencyResolved EventType = "dependency_resolved"
)

// Event represents a lifecycle event emitted by the engine.
// Emission is fire-and-forget: subscribers that cannot keep up lose events
// rather than stalling the tick loop.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// TaskTitle is the title of the related task, if applicable.
	TaskTitle string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
