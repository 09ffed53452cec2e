package models

import "time"

// InstanceStatus represents the current state of a runtime instance.
type InstanceStatus string

const (
	// InstanceStatusQueued indicates the instance is waiting for admission.
	InstanceStatusQueued InstanceStatus = "queued"
	// InstanceStatusRunning indicates the instance is executing.
	InstanceStatusRunning InstanceStatus = "running"
	// InstanceStatusWaitingInput indicates the instance is suspended on a
	// human decision.
	InstanceStatusWaitingInput InstanceStatus = "waiting_input"
	// InstanceStatusCompleted indicates the instance finished successfully.
	InstanceStatusCompleted InstanceStatus = "completed"
	// InstanceStatusFailed indicates the instance finished with an error.
	InstanceStatusFailed InstanceStatus = "failed"
	// InstanceStatusInterrupted indicates the instance was stopped externally.
	InstanceStatusInterrupted InstanceStatus = "interrupted"
)

// Valid returns true if the status is a known value.
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceStatusQueued, InstanceStatusRunning, InstanceStatusWaitingInput,
		InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusInterrupted:
		return true
	default:
		return false
	}
}

// Done returns true if the instance has finished executing.
func (s InstanceStatus) Done() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusInterrupted
}

// RuntimeInstance represents a physical execution slot: one admitted run of
// an agent process. One agent role may have many concurrently admitted
// instances, bounded by quota.
type RuntimeInstance struct {
	// InstanceID is the unique identifier for this instance.
	InstanceID string `json:"instance_id"`
	// ConfigID identifies the agent configuration this instance is bound to.
	ConfigID string `json:"config_id"`
	// Status is the current state of the instance.
	Status InstanceStatus `json:"status"`
	// QueuePosition is the 1-based position while queued; 0 once admitted.
	QueuePosition int `json:"queue_position,omitempty"`
	// Priority is recorded at enqueue time. Admission order is strict FIFO,
	// so priority currently does not affect ordering.
	Priority int `json:"priority,omitempty"`
	// EnqueuedAt is when the instance entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
	// StartedAt is when the instance was admitted, if applicable.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// EndedAt is when the instance finished, if applicable.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// PID is the process ID of the running instance.
	PID int `json:"pid,omitempty"`
	// FinalStatus records the terminal status after completion.
	FinalStatus InstanceStatus `json:"final_status,omitempty"`
	// ErrorReason explains a failed or interrupted final status.
	ErrorReason string `json:"error_reason,omitempty"`
}
