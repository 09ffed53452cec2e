// Package engine drives the orchestration core: it owns the task state
// machine, the ready-task scheduler, and the tick loop that pairs tasks
// with agents and reacts to completions and failures.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/foremanhq/foreman/pkg/models"
)

// MaxRetries is the number of failed->open retries a task may consume
// before it must be escalated.
const MaxRetries = models.MaxTaskRetries

// ErrInvalidTransition indicates a status change outside the transition table.
var ErrInvalidTransition = errors.New("invalid task transition")

// ErrRetryLimit indicates a failed->open retry was requested after the
// retry budget was exhausted.
var ErrRetryLimit = errors.New("retry limit reached")

// ErrCloseWithoutReview indicates a close was requested from a status other
// than review.
var ErrCloseWithoutReview = errors.New("tasks may only close from review")

// transitions is the allowed status transition table. A target status not
// listed for a source status is rejected.
var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusOpen:       {models.TaskStatusInProgress, models.TaskStatusClosed},
	models.TaskStatusInProgress: {models.TaskStatusBlocked, models.TaskStatusFailed, models.TaskStatusReview},
	models.TaskStatusBlocked:    {models.TaskStatusInProgress, models.TaskStatusOpen, models.TaskStatusClosed},
	models.TaskStatusFailed:     {models.TaskStatusOpen, models.TaskStatusEscalated},
	models.TaskStatusReview:     {models.TaskStatusClosed, models.TaskStatusOpen},
	models.TaskStatusEscalated:  {models.TaskStatusClosed, models.TaskStatusOpen},
	models.TaskStatusClosed:     {models.TaskStatusOpen},
}

// CanTransition reports whether the transition table allows moving a task
// from one status to another. It checks the table only; Transition applies
// the additional review-only-close and retry-limit gates.
func CanTransition(from, to models.TaskStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the task to the target status, enforcing the transition
// table plus two cross-cutting gates:
//   - closing is only permitted directly from review, even though the table
//     would allow open->closed and blocked->closed
//   - a failed->open retry is rejected once the retry budget is exhausted,
//     and every accepted retry increments RetryCount
//
// On success the task's status and timestamps are updated in place.
func Transition(task *models.Task, to models.TaskStatus) error {
	if task == nil {
		return fmt.Errorf("transition to %s: nil task", to)
	}
	from := task.Status

	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (task %s)", ErrInvalidTransition, from, to, task.ID)
	}

	// Gate: only review may close.
	if to == models.TaskStatusClosed && from != models.TaskStatusReview {
		return fmt.Errorf("%w: attempted %s -> closed (task %s)", ErrCloseWithoutReview, from, task.ID)
	}

	// Gate: retry budget.
	if from == models.TaskStatusFailed && to == models.TaskStatusOpen {
		if task.RetryCount >= MaxRetries {
			return fmt.Errorf("%w: task %s has %d retries", ErrRetryLimit, task.ID, task.RetryCount)
		}
		task.RetryCount++
	}

	now := time.Now()
	task.Status = to
	task.UpdatedAt = now
	if to == models.TaskStatusClosed {
		task.CompletedAt = &now
	}
	return nil
}

// ShouldEscalate reports whether the task has exhausted its automatic
// retries: status failed with a spent retry budget.
func ShouldEscalate(task *models.Task) bool {
	return task.Status == models.TaskStatusFailed && task.RetryCount >= MaxRetries
}
