package engine

import (
	"context"
	"testing"

	"github.com/foremanhq/foreman/internal/recovery"
	"github.com/foremanhq/foreman/pkg/models"
)

func newTestEngine(t *testing.T, tasks []*models.Task, agents []*models.Agent) *Engine {
	t.Helper()
	e, err := New(Config{
		Tasks:    tasks,
		Agents:   agents,
		Recovery: recovery.NewManager(nil),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func drainEvents(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestTickNoOpWhenStopped(t *testing.T) {
	e := newTestEngine(t, []*models.Task{
		{ID: "t1", Title: "task", Status: models.TaskStatusOpen},
	}, nil)

	decisions, err := e.Tick(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decisions != nil {
		t.Errorf("expected no decisions before Start, got %v", decisions)
	}
}

func TestTickUnblocksWhenDependenciesClose(t *testing.T) {
	dep := &models.Task{ID: "dep", Title: "task", Status: models.TaskStatusClosed}
	blocked := &models.Task{ID: "b1", Title: "task", Status: models.TaskStatusBlocked, DependsOn: []string{"dep"}, BlockedReason: "dependency_failed:dep"}
	e := newTestEngine(t, []*models.Task{dep, blocked}, nil)
	e.Start()

	events, unsub := e.Subscribe()
	defer unsub()

	if _, err := e.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if blocked.Status != models.TaskStatusInProgress {
		t.Errorf("expected in_progress, got %s", blocked.Status)
	}
	if blocked.BlockedReason != "" {
		t.Errorf("expected cleared blocked reason, got %q", blocked.BlockedReason)
	}

	found := false
	for _, ev := range drainEvents(events) {
		if ev.Type == EventDependencyResolved && ev.TaskID == "b1" {
			found = true
		}
	}
	if !found {
		t.Error("expected dependency_resolved event")
	}
}

func TestTickKeepsBlockedWithOpenDependencies(t *testing.T) {
	dep := &models.Task{ID: "dep", Title: "task", Status: models.TaskStatusOpen}
	blocked := &models.Task{ID: "b1", Title: "task", Status: models.TaskStatusBlocked, DependsOn: []string{"dep"}}
	e := newTestEngine(t, []*models.Task{dep, blocked}, nil)
	e.Start()

	if _, err := e.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if blocked.Status != models.TaskStatusBlocked {
		t.Errorf("expected still blocked, got %s", blocked.Status)
	}
}

func TestTickReopensRetriableFailures(t *testing.T) {
	failed := &models.Task{ID: "f1", Title: "task", Status: models.TaskStatusFailed, RetryCount: 1}
	e := newTestEngine(t, []*models.Task{failed}, nil)
	e.Start()

	if _, err := e.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if failed.Status != models.TaskStatusOpen {
		t.Errorf("expected open, got %s", failed.Status)
	}
	if failed.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", failed.RetryCount)
	}
}

func TestTickEscalatesExhaustedFailures(t *testing.T) {
	failed := &models.Task{ID: "f1", Title: "task", Status: models.TaskStatusFailed, RetryCount: MaxRetries}
	e := newTestEngine(t, []*models.Task{failed}, nil)
	e.Start()

	if _, err := e.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if failed.Status != models.TaskStatusEscalated {
		t.Errorf("expected escalated, got %s", failed.Status)
	}
}

func TestTickReturnsSchedulerDecisions(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "Implement thing", Status: models.TaskStatusOpen}
	agent := &models.Agent{ID: "exec-1", Role: models.RoleExecutor, Status: models.AgentStatusIdle}
	e := newTestEngine(t, []*models.Task{task}, []*models.Agent{agent})
	e.Start()

	decisions, err := e.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(decisions) != 1 || decisions[0].AgentID != "exec-1" {
		t.Fatalf("unexpected decisions: %+v", decisions)
	}
}

func TestDispatchAndCompletionFlow(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "Implement thing", Status: models.TaskStatusOpen}
	agent := &models.Agent{ID: "exec-1", Role: models.RoleExecutor, Status: models.AgentStatusIdle}
	e := newTestEngine(t, []*models.Task{task}, []*models.Agent{agent})
	e.Start()

	events, unsub := e.Subscribe()
	defer unsub()

	if err := e.OnDispatch("t1", "exec-1"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if task.Status != models.TaskStatusInProgress {
		t.Errorf("expected in_progress, got %s", task.Status)
	}
	if agent.TaskID != "t1" || agent.Status != models.AgentStatusBusy {
		t.Errorf("expected busy agent owning t1, got %+v", agent)
	}

	// The busy agent is never double-assigned.
	if err := e.OnDispatch("t1", "exec-1"); err == nil {
		t.Error("expected dispatch to busy agent to fail")
	}

	if err := e.HandleTaskCompletion(context.Background(), "t1"); err != nil {
		t.Fatalf("completion: %v", err)
	}
	if task.Status != models.TaskStatusReview {
		t.Errorf("expected review, got %s", task.Status)
	}
	if !agent.Idle() {
		t.Errorf("expected agent freed, got %+v", agent)
	}

	var sawCompleted, sawAvailable bool
	for _, ev := range drainEvents(events) {
		switch ev.Type {
		case EventTaskCompleted:
			sawCompleted = true
		case EventAgentAvailable:
			sawAvailable = true
		}
	}
	if !sawCompleted || !sawAvailable {
		t.Errorf("expected task_completed and agent_available events (completed=%v available=%v)", sawCompleted, sawAvailable)
	}
}

func TestDispatchedTaskIsNotReassigned(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "Implement thing", Status: models.TaskStatusOpen}
	first := &models.Agent{ID: "exec-1", Role: models.RoleExecutor, Status: models.AgentStatusIdle}
	second := &models.Agent{ID: "exec-2", Role: models.RoleExecutor, Status: models.AgentStatusIdle}
	e := newTestEngine(t, []*models.Task{task}, []*models.Agent{first, second})
	e.Start()

	decisions, err := e.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(decisions) != 1 || decisions[0].AgentID != "exec-1" {
		t.Fatalf("expected t1 assigned to exec-1, got %+v", decisions)
	}
	if err := e.OnDispatch("t1", "exec-1"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// An owned in_progress task never shows up in later decisions.
	decisions, err = e.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	for _, d := range decisions {
		if d.TaskID == "t1" {
			t.Fatalf("t1 re-scheduled while owned by exec-1: %+v", d)
		}
	}

	if err := e.OnDispatch("t1", "exec-2"); err == nil {
		t.Fatal("expected dispatch of an owned task to fail")
	}
	if first.TaskID != "t1" || task.AssignedTo != "exec-1" {
		t.Fatalf("ownership mutated by rejected dispatch: agent=%+v task.AssignedTo=%q", first, task.AssignedTo)
	}

	if err := e.HandleTaskCompletion(context.Background(), "t1"); err != nil {
		t.Fatalf("completion: %v", err)
	}
	if !first.Idle() {
		t.Errorf("expected exec-1 freed after completion, got %+v", first)
	}
	if !second.Idle() {
		t.Errorf("expected exec-2 untouched, got %+v", second)
	}
}

func TestHandleTaskCompletionInvalidIsSwallowed(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "task", Status: models.TaskStatusOpen}
	e := newTestEngine(t, []*models.Task{task}, nil)
	e.Start()

	// open -> review is not in the table; the engine logs and carries on.
	if err := e.HandleTaskCompletion(context.Background(), "t1"); err != nil {
		t.Fatalf("expected swallowed invalid transition, got %v", err)
	}
	if task.Status != models.TaskStatusOpen {
		t.Errorf("status mutated: %s", task.Status)
	}
}

func TestHandleTaskFailureClassifiesAndCheckpoints(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "task", Status: models.TaskStatusInProgress, AssignedTo: "exec-1"}
	agent := &models.Agent{ID: "exec-1", Role: models.RoleExecutor, Status: models.AgentStatusBusy, TaskID: "t1"}
	rec := recovery.NewManager(nil)
	e, err := New(Config{Tasks: []*models.Task{task}, Agents: []*models.Agent{agent}, Recovery: rec})
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	action, err := e.HandleTaskFailure(context.Background(), "t1", "compile error")
	if err != nil {
		t.Fatalf("failure: %v", err)
	}
	if action.Type != recovery.ActionRetry {
		t.Errorf("expected retry, got %s", action.Type)
	}
	if task.Status != models.TaskStatusFailed {
		t.Errorf("expected failed, got %s", task.Status)
	}
	if task.Error != "compile error" {
		t.Errorf("expected error recorded, got %q", task.Error)
	}
	if !agent.Idle() {
		t.Errorf("expected agent freed, got %+v", agent)
	}

	cp, ok := rec.LatestCheckpoint("t1")
	if !ok {
		t.Fatal("expected checkpoint")
	}
	if cp.Progress != 25 {
		t.Errorf("expected progress 25, got %d", cp.Progress)
	}
}

func TestHandleTaskFailureEscalatesAtLimit(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "task", Status: models.TaskStatusInProgress, RetryCount: MaxRetries}
	e := newTestEngine(t, []*models.Task{task}, nil)
	e.Start()

	action, err := e.HandleTaskFailure(context.Background(), "t1", "again")
	if err != nil {
		t.Fatal(err)
	}
	if action.Type != recovery.ActionEscalate {
		t.Errorf("expected escalate, got %s", action.Type)
	}
	if task.Status != models.TaskStatusEscalated {
		t.Errorf("expected escalated, got %s", task.Status)
	}
}

func TestDone(t *testing.T) {
	t1 := &models.Task{ID: "t1", Title: "task", Status: models.TaskStatusClosed}
	t2 := &models.Task{ID: "t2", Title: "task", Status: models.TaskStatusOpen}
	e := newTestEngine(t, []*models.Task{t1, t2}, nil)
	if e.Done() {
		t.Error("expected not done with an open task")
	}
	t2.Status = models.TaskStatusEscalated
	if !e.Done() {
		t.Error("expected done with only terminal tasks")
	}
}

func TestNewRejectsCyclicPlan(t *testing.T) {
	tasks := []*models.Task{
		{ID: "a", Title: "task", Status: models.TaskStatusOpen, DependsOn: []string{"b"}},
		{ID: "b", Title: "task", Status: models.TaskStatusOpen, DependsOn: []string{"a"}},
	}
	if _, err := New(Config{Tasks: tasks, Recovery: recovery.NewManager(nil)}); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestApproveReview(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "task", Status: models.TaskStatusReview}
	e := newTestEngine(t, []*models.Task{task}, nil)

	if err := e.ApproveReview("t1"); err != nil {
		t.Fatalf("ApproveReview: %v", err)
	}
	if task.Status != models.TaskStatusClosed {
		t.Errorf("status = %s, want closed", task.Status)
	}
	if task.CompletedAt == nil {
		t.Error("closed task missing completion time")
	}

	// Only review tasks can be approved.
	open := &models.Task{ID: "t2", Title: "task", Status: models.TaskStatusOpen}
	e2 := newTestEngine(t, []*models.Task{open}, nil)
	if err := e2.ApproveReview("t2"); err == nil {
		t.Error("expected error approving a non-review task")
	}
	if err := e2.ApproveReview("missing"); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestRejectReview(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "task", Status: models.TaskStatusReview}
	e := newTestEngine(t, []*models.Task{task}, nil)

	if err := e.RejectReview("t1", "needs rework"); err != nil {
		t.Fatalf("RejectReview: %v", err)
	}
	if task.Status != models.TaskStatusOpen {
		t.Errorf("status = %s, want open", task.Status)
	}
	if task.Error != "needs rework" {
		t.Errorf("error = %q", task.Error)
	}
}

func TestReopenEscalated(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "task", Status: models.TaskStatusEscalated, RetryCount: 3, Error: "boom"}
	e := newTestEngine(t, []*models.Task{task}, nil)

	if err := e.ReopenEscalated("t1"); err != nil {
		t.Fatalf("ReopenEscalated: %v", err)
	}
	if task.Status != models.TaskStatusOpen {
		t.Errorf("status = %s, want open", task.Status)
	}
	if task.RetryCount != 0 || task.Error != "" {
		t.Errorf("retry budget not cleared: count=%d err=%q", task.RetryCount, task.Error)
	}

	if err := e.ReopenEscalated("t1"); err == nil {
		t.Error("expected error reopening a non-escalated task")
	}
}
