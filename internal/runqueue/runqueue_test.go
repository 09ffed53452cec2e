package runqueue

import (
	"testing"

	"github.com/foremanhq/foreman/pkg/models"
)

func TestEnqueueAssignsPositions(t *testing.T) {
	q := New(1)

	a := q.Enqueue("executor", 5)
	b := q.Enqueue("executor", 9)
	c := q.Enqueue("executor", 1)

	if a.QueuePosition != 1 || b.QueuePosition != 2 || c.QueuePosition != 3 {
		t.Errorf("positions = %d, %d, %d; want 1, 2, 3", a.QueuePosition, b.QueuePosition, c.QueuePosition)
	}
	if a.Status != models.InstanceStatusQueued {
		t.Errorf("status = %s, want queued", a.Status)
	}
	if a.InstanceID == "" || a.InstanceID == b.InstanceID {
		t.Error("expected unique non-empty instance ids")
	}
}

func TestFIFOIgnoresPriority(t *testing.T) {
	q := New(1)

	low := q.Enqueue("executor", 1)
	high := q.Enqueue("executor", 10)

	got := q.TryDequeue()
	if got == nil || got.InstanceID != low.InstanceID {
		t.Fatalf("expected first-enqueued instance despite lower priority, got %+v", got)
	}
	if got.Status != models.InstanceStatusRunning || got.QueuePosition != 0 {
		t.Errorf("admitted instance not marked running: %+v", got)
	}
	if got.StartedAt == nil {
		t.Error("admitted instance missing start time")
	}
	if high.QueuePosition != 1 {
		t.Errorf("remaining instance position = %d, want 1", high.QueuePosition)
	}
}

func TestTryDequeueRespectsCeiling(t *testing.T) {
	q := New(2)
	q.Enqueue("executor", 0)
	q.Enqueue("executor", 0)
	q.Enqueue("executor", 0)

	if q.TryDequeue() == nil || q.TryDequeue() == nil {
		t.Fatal("expected two admissions under ceiling 2")
	}
	if got := q.TryDequeue(); got != nil {
		t.Errorf("expected nil at ceiling, got %+v", got)
	}

	stats := q.GetStats()
	if stats.Active != 2 || stats.Queued != 1 {
		t.Errorf("stats = %+v, want 2 active, 1 queued", stats)
	}
}

func TestTryDequeueEmpty(t *testing.T) {
	q := New(1)
	if got := q.TryDequeue(); got != nil {
		t.Errorf("expected nil on empty queue, got %+v", got)
	}
}

func TestCompleteArchives(t *testing.T) {
	q := New(1)
	q.Enqueue("executor", 0)
	inst := q.TryDequeue()

	q.Complete(inst.InstanceID, models.InstanceStatusFailed, "boom")

	got, ok := q.GetInstance(inst.InstanceID)
	if !ok {
		t.Fatal("archived instance not found")
	}
	if got.FinalStatus != models.InstanceStatusFailed || got.ErrorReason != "boom" {
		t.Errorf("archive entry = %+v", got)
	}
	if got.EndedAt == nil {
		t.Error("archived instance missing end time")
	}

	stats := q.GetStats()
	if stats.Active != 0 || stats.Completed != 1 {
		t.Errorf("stats after complete = %+v", stats)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	q := New(1)
	q.Enqueue("executor", 0)
	inst := q.TryDequeue()

	q.Complete(inst.InstanceID, models.InstanceStatusCompleted, "")
	// Second completion and an unknown id both warn without failing.
	q.Complete(inst.InstanceID, models.InstanceStatusFailed, "late")
	q.Complete("no-such-instance", models.InstanceStatusCompleted, "")

	got, _ := q.GetInstance(inst.InstanceID)
	if got.FinalStatus != models.InstanceStatusCompleted {
		t.Errorf("archive entry overwritten by second completion: %+v", got)
	}
	if stats := q.GetStats(); stats.Completed != 1 {
		t.Errorf("completed count = %d, want 1", stats.Completed)
	}
}

func TestCompleteFreesSlot(t *testing.T) {
	q := New(1)
	q.Enqueue("executor", 0)
	q.Enqueue("executor", 0)

	first := q.TryDequeue()
	if q.TryDequeue() != nil {
		t.Fatal("ceiling 1 should block second admission")
	}
	q.Complete(first.InstanceID, models.InstanceStatusCompleted, "")
	if q.TryDequeue() == nil {
		t.Error("completion should free a slot for the next admission")
	}
}

func TestUpdateStatus(t *testing.T) {
	q := New(1)
	q.Enqueue("executor", 0)
	inst := q.TryDequeue()

	if err := q.UpdateStatus(inst.InstanceID, models.InstanceStatusWaitingInput); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := q.GetInstance(inst.InstanceID)
	if got.Status != models.InstanceStatusWaitingInput {
		t.Errorf("status = %s, want waiting_input", got.Status)
	}

	if err := q.UpdateStatus(inst.InstanceID, "bogus"); err == nil {
		t.Error("expected error for invalid status")
	}
	if err := q.UpdateStatus("no-such-instance", models.InstanceStatusRunning); err == nil {
		t.Error("expected error for unknown instance")
	}
}

func TestGetInstanceSearchOrder(t *testing.T) {
	q := New(1)
	queued := q.Enqueue("executor", 0)

	if _, ok := q.GetInstance(queued.InstanceID); !ok {
		t.Error("queued instance not found")
	}
	active := q.TryDequeue()
	if got, ok := q.GetInstance(active.InstanceID); !ok || got.Status != models.InstanceStatusRunning {
		t.Error("active instance not found")
	}
	q.Complete(active.InstanceID, models.InstanceStatusCompleted, "")
	if got, ok := q.GetInstance(active.InstanceID); !ok || got.FinalStatus != models.InstanceStatusCompleted {
		t.Error("completed instance not found")
	}
	if _, ok := q.GetInstance("missing"); ok {
		t.Error("unknown id should not be found")
	}
}
