// Package recovery classifies failed tasks into retry, escalate, wait, or
// skip actions and checkpoints task progress so an interrupted run can be
// inspected and resumed.
package recovery

import (
	"sync"
	"time"

	"github.com/foremanhq/foreman/pkg/models"
)

// ActionType is the classification of a failed task.
type ActionType string

const (
	// ActionRetry re-opens the task after a backoff delay.
	ActionRetry ActionType = "retry"
	// ActionEscalate hands the task to a human; no further automatic retry.
	ActionEscalate ActionType = "escalate"
	// ActionWait leaves the task alone; it is re-evaluated each tick.
	ActionWait ActionType = "wait"
	// ActionSkip abandons the task rather than retrying indefinitely.
	ActionSkip ActionType = "skip"
)

// baseRetryDelay is the delay before the first retry.
const baseRetryDelay = time.Second

// maxRetryDelay caps the exponential backoff. The retry budget already
// bounds the exponent, but the cap is explicit rather than implied.
const maxRetryDelay = 8 * time.Second

// Action describes what to do with a failed task.
type Action struct {
	// Type is the classification.
	Type ActionType
	// Delay is the advisory backoff before a retry. The engine records it
	// as metadata; it is not enforced inside the tick.
	Delay time.Duration
	// Reason explains the classification for logging.
	Reason string
}

// Checkpoint is a point-in-time snapshot of a task's progress.
type Checkpoint struct {
	// TaskID identifies the task.
	TaskID string `json:"task_id"`
	// Status is the task status at checkpoint time.
	Status models.TaskStatus `json:"status"`
	// Progress is the heuristic completion percentage (0-100).
	Progress int `json:"progress"`
	// Artifacts lists the task's artifacts at checkpoint time.
	Artifacts []string `json:"artifacts,omitempty"`
	// CreatedAt is when the checkpoint was taken.
	CreatedAt time.Time `json:"created_at"`
}

// Manager classifies failures and records checkpoints. With a nil store,
// checkpoints are kept in memory only.
type Manager struct {
	store *Store

	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

// NewManager creates a Manager. The store may be nil, in which case
// checkpoints live only in memory.
func NewManager(store *Store) *Manager {
	return &Manager{
		store:       store,
		checkpoints: make(map[string]Checkpoint),
	}
}

// AnalyzeFailure classifies a failed or blocked task.
//
// A task past its retry budget escalates. A failed task with budget left is
// treated as transient and retried with exponential backoff. A blocked task
// waits: not an error, re-evaluated each tick with no state change.
// Anything else is skipped rather than retried indefinitely.
func (m *Manager) AnalyzeFailure(task *models.Task) Action {
	if task.Status == models.TaskStatusFailed && task.RetryCount >= models.MaxTaskRetries {
		return Action{
			Type:   ActionEscalate,
			Reason: "retry budget exhausted",
		}
	}

	if task.Status == models.TaskStatusFailed {
		return Action{
			Type:   ActionRetry,
			Delay:  RetryDelay(task.RetryCount),
			Reason: "transient failure",
		}
	}

	if task.Status == models.TaskStatusBlocked {
		return Action{
			Type:   ActionWait,
			Reason: "waiting on dependencies",
		}
	}

	return Action{
		Type:   ActionSkip,
		Reason: "unclassified failure",
	}
}

// RetryDelay returns the backoff delay before retry n (0-indexed):
// 1s doubled per retry, capped at maxRetryDelay.
func RetryDelay(retryCount int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// ProgressFor maps a task status to a heuristic completion percentage.
// This is a fixed mapping, not a measured value.
func ProgressFor(status models.TaskStatus) int {
	switch status {
	case models.TaskStatusClosed:
		return 100
	case models.TaskStatusReview:
		return 90
	case models.TaskStatusInProgress:
		return 50
	case models.TaskStatusBlocked, models.TaskStatusFailed:
		return 25
	default:
		return 0
	}
}

// CheckpointTask records a progress snapshot for the task, persisting it
// when a store is configured.
func (m *Manager) CheckpointTask(task *models.Task) (Checkpoint, error) {
	cp := Checkpoint{
		TaskID:    task.ID,
		Status:    task.Status,
		Progress:  ProgressFor(task.Status),
		Artifacts: task.Artifacts,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.checkpoints[task.ID] = cp
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveCheckpoint(cp); err != nil {
			return cp, err
		}
	}
	return cp, nil
}

// LatestCheckpoint returns the most recent checkpoint for the task, if any.
func (m *Manager) LatestCheckpoint(taskID string) (Checkpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[taskID]
	return cp, ok
}
