// Package runqueue admits runtime instances in strict FIFO order per agent
// type, enforcing a concurrency ceiling on active instances. Priority is
// recorded at enqueue time but does not affect admission order.
package runqueue

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foremanhq/foreman/pkg/models"
)

// DefaultMaxConcurrent is the admission ceiling used when none is given.
// The queue is fully serial by default.
const DefaultMaxConcurrent = 1

// Stats is a point-in-time snapshot of queue occupancy.
type Stats struct {
	// Queued is the number of instances waiting for admission.
	Queued int
	// Active is the number of currently admitted instances.
	Active int
	// Completed is the number of archived instances.
	Completed int
	// Positions maps queued instance ids to their 1-based positions.
	Positions map[string]int
}

// Queue is a FIFO admission queue for one agent type. All methods are safe
// for concurrent use.
type Queue struct {
	mu            sync.Mutex
	maxConcurrent int
	queued        []*models.RuntimeInstance
	active        map[string]*models.RuntimeInstance
	completed     map[string]*models.RuntimeInstance
}

// New creates a Queue with the given admission ceiling. A ceiling below one
// falls back to DefaultMaxConcurrent.
func New(maxConcurrent int) *Queue {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Queue{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]*models.RuntimeInstance),
		completed:     make(map[string]*models.RuntimeInstance),
	}
}

// Enqueue appends a new instance for the given agent configuration and
// returns it. The instance id is generated here; the priority tag is
// recorded but admission stays strictly first-in, first-out.
func (q *Queue) Enqueue(configID string, priority int) *models.RuntimeInstance {
	q.mu.Lock()
	defer q.mu.Unlock()

	inst := &models.RuntimeInstance{
		InstanceID: uuid.New().String(),
		ConfigID:   configID,
		Status:     models.InstanceStatusQueued,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}
	q.queued = append(q.queued, inst)
	q.recomputePositions()
	return inst
}

// TryDequeue admits the head of the queue if the active count is below the
// ceiling. It never blocks; a nil result means nothing was admitted, which
// callers retry on a later poll.
func (q *Queue) TryDequeue() *models.RuntimeInstance {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queued) == 0 || len(q.active) >= q.maxConcurrent {
		return nil
	}

	inst := q.queued[0]
	q.queued = q.queued[1:]

	now := time.Now()
	inst.Status = models.InstanceStatusRunning
	inst.QueuePosition = 0
	inst.StartedAt = &now
	q.active[inst.InstanceID] = inst
	q.recomputePositions()
	return inst
}

// Complete moves an active instance to the archive with its terminal
// status. Completing an unknown or already archived id logs a warning and
// returns without error, so double completion is harmless.
func (q *Queue) Complete(instanceID string, finalStatus models.InstanceStatus, errorReason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	inst, ok := q.active[instanceID]
	if !ok {
		log.Printf("[runqueue] complete: instance %s is not active, ignoring", instanceID)
		return
	}
	delete(q.active, instanceID)

	now := time.Now()
	inst.Status = finalStatus
	inst.FinalStatus = finalStatus
	inst.ErrorReason = errorReason
	inst.EndedAt = &now
	q.completed[instanceID] = inst
	q.recomputePositions()
}

// UpdateStatus changes the status of an active instance, for example to
// waiting_input while it is suspended on a human decision.
func (q *Queue) UpdateStatus(instanceID string, status models.InstanceStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	inst, ok := q.active[instanceID]
	if !ok {
		return fmt.Errorf("instance %s is not active", instanceID)
	}
	if !status.Valid() {
		return fmt.Errorf("invalid instance status %q", status)
	}
	inst.Status = status
	return nil
}

// GetInstance finds an instance by id, searching active first, then the
// archive, then the queue.
func (q *Queue) GetInstance(instanceID string) (*models.RuntimeInstance, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if inst, ok := q.active[instanceID]; ok {
		return inst, true
	}
	if inst, ok := q.completed[instanceID]; ok {
		return inst, true
	}
	for _, inst := range q.queued {
		if inst.InstanceID == instanceID {
			return inst, true
		}
	}
	return nil, false
}

// GetStats returns a snapshot of queue occupancy.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	positions := make(map[string]int, len(q.queued))
	for _, inst := range q.queued {
		positions[inst.InstanceID] = inst.QueuePosition
	}
	return Stats{
		Queued:    len(q.queued),
		Active:    len(q.active),
		Completed: len(q.completed),
		Positions: positions,
	}
}

// recomputePositions reassigns 1-based queue positions after a mutation.
// Caller must hold q.mu.
func (q *Queue) recomputePositions() {
	for i, inst := range q.queued {
		inst.QueuePosition = i + 1
	}
}
