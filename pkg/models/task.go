package models

import "time"

// MaxTaskRetries is the number of failed->open retries a task may consume
// before it must be escalated.
const MaxTaskRetries = 3

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusOpen indicates the task is available for scheduling.
	TaskStatusOpen TaskStatus = "open"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusReview indicates the task awaits review before closing.
	TaskStatusReview TaskStatus = "review"
	// TaskStatusEscalated indicates the task exhausted automatic retries
	// and requires external intervention.
	TaskStatusEscalated TaskStatus = "escalated"
	// TaskStatusClosed indicates the task completed and was accepted.
	TaskStatusClosed TaskStatus = "closed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusBlocked,
		TaskStatusFailed, TaskStatusReview, TaskStatusEscalated, TaskStatusClosed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status permits no further automatic work.
// Escalated tasks wait on a human; closed tasks are done unless reopened.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusEscalated || s == TaskStatusClosed
}

// Task represents a unit of work in the system. Tasks are produced by an
// external planner and mutated only through the engine's state machine.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Priority orders tasks within the same scheduling group; higher runs first.
	Priority int `json:"priority"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// MainPath marks the task as part of the critical path. Main-path work
	// is deliberately dispatched after supporting work.
	MainPath bool `json:"main_path"`
	// DependsOn lists task IDs that must close before this task is ready.
	DependsOn []string `json:"depends_on,omitempty"`
	// AssignedTo is the ID of the agent working on this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// RetryCount is the number of failed->open retries already consumed.
	RetryCount int `json:"retry_count,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task last changed status.
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	// CompletedAt is when the task closed, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Artifacts lists paths or URIs produced by the task.
	Artifacts []string `json:"artifacts,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// BlockedReason explains why a blocked task cannot proceed.
	BlockedReason string `json:"blocked_reason,omitempty"`
}
