package recovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/foremanhq/foreman/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "recovery.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestStoreCheckpointRoundTrip(t *testing.T) {
	store := openTestStore(t)

	cp := Checkpoint{
		TaskID:    "t1",
		Status:    models.TaskStatusReview,
		Progress:  90,
		Artifacts: []string{"a", "b"},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.SaveCheckpoint(cp); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	got, err := store.LatestCheckpoint("t1")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if got.Status != models.TaskStatusReview || got.Progress != 90 {
		t.Errorf("unexpected checkpoint: %+v", got)
	}
	if len(got.Artifacts) != 2 {
		t.Errorf("expected 2 artifacts, got %v", got.Artifacts)
	}
}

func TestStoreLatestCheckpointPicksNewest(t *testing.T) {
	store := openTestStore(t)

	base := time.Now().UTC().Truncate(time.Second)
	old := Checkpoint{TaskID: "t1", Status: models.TaskStatusInProgress, Progress: 50, CreatedAt: base.Add(-time.Minute)}
	newer := Checkpoint{TaskID: "t1", Status: models.TaskStatusReview, Progress: 90, CreatedAt: base}
	if err := store.SaveCheckpoint(old); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveCheckpoint(newer); err != nil {
		t.Fatal(err)
	}

	got, err := store.LatestCheckpoint("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Progress != 90 {
		t.Errorf("expected newest checkpoint (90), got %d", got.Progress)
	}
}

func TestStoreInstanceArchive(t *testing.T) {
	store := openTestStore(t)

	started := time.Now().UTC().Truncate(time.Second)
	inst := &models.RuntimeInstance{
		InstanceID: "inst-1",
		ConfigID:   "executor",
		Status:     models.InstanceStatusRunning,
		PID:        12345,
		EnqueuedAt: started.Add(-time.Second),
		StartedAt:  &started,
	}
	if err := store.SaveInstance(inst); err != nil {
		t.Fatalf("save instance: %v", err)
	}

	running, err := store.ListInstancesByStatus(models.InstanceStatusRunning)
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(running) != 1 || running[0].InstanceID != "inst-1" {
		t.Fatalf("unexpected running instances: %+v", running)
	}

	// Completing replaces the row, not duplicates it.
	inst.Status = models.InstanceStatusCompleted
	inst.FinalStatus = models.InstanceStatusCompleted
	if err := store.SaveInstance(inst); err != nil {
		t.Fatalf("archive instance: %v", err)
	}

	running, err = store.ListInstancesByStatus(models.InstanceStatusRunning)
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 0 {
		t.Errorf("expected no running instances after archive, got %d", len(running))
	}

	completed, err := store.ListInstancesByStatus(models.InstanceStatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 1 {
		t.Errorf("expected 1 completed instance, got %d", len(completed))
	}
}
