package engine

import (
	"errors"
	"testing"

	"github.com/foremanhq/foreman/pkg/models"
)

func TestGraphBuildSimple(t *testing.T) {
	g := NewDependencyGraph()
	tasks := []*models.Task{
		{ID: "task-1", Title: "Task 1", Status: models.TaskStatusOpen},
		{ID: "task-2", Title: "Task 2", Status: models.TaskStatusOpen},
		{ID: "task-3", Title: "Task 3", Status: models.TaskStatusOpen},
	}

	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Size() != 3 {
		t.Errorf("expected size 3, got %d", g.Size())
	}
}

func TestGraphBuildWithDependencies(t *testing.T) {
	g := NewDependencyGraph()
	tasks := []*models.Task{
		{ID: "task-1", Title: "Task 1", Status: models.TaskStatusOpen},
		{ID: "task-2", Title: "Task 2", Status: models.TaskStatusOpen, DependsOn: []string{"task-1"}},
		{ID: "task-3", Title: "Task 3", Status: models.TaskStatusOpen, DependsOn: []string{"task-1", "task-2"}},
	}

	if err := g.Build(tasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if deps := g.GetDependencies("task-3"); len(deps) != 2 {
		t.Errorf("expected 2 dependencies for task-3, got %d", len(deps))
	}
	if dependents := g.GetDependents("task-1"); len(dependents) != 2 {
		t.Errorf("expected 2 dependents of task-1, got %d", len(dependents))
	}
}

func TestGraphBuildUnknownDependency(t *testing.T) {
	g := NewDependencyGraph()
	tasks := []*models.Task{
		{ID: "task-1", Title: "Task 1", Status: models.TaskStatusOpen, DependsOn: []string{"unknown-task"}},
	}
	if err := g.Build(tasks); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestGraphBuildCycle(t *testing.T) {
	g := NewDependencyGraph()
	tasks := []*models.Task{
		{ID: "a", Title: "A", Status: models.TaskStatusOpen, DependsOn: []string{"c"}},
		{ID: "b", Title: "B", Status: models.TaskStatusOpen, DependsOn: []string{"a"}},
		{ID: "c", Title: "C", Status: models.TaskStatusOpen, DependsOn: []string{"b"}},
	}
	err := g.Build(tasks)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestGraphDependenciesClosed(t *testing.T) {
	dep1 := &models.Task{ID: "d1", Title: "D1", Status: models.TaskStatusClosed}
	dep2 := &models.Task{ID: "d2", Title: "D2", Status: models.TaskStatusOpen}
	task := &models.Task{ID: "t", Title: "T", Status: models.TaskStatusBlocked, DependsOn: []string{"d1", "d2"}}

	g := NewDependencyGraph()
	if err := g.Build([]*models.Task{dep1, dep2, task}); err != nil {
		t.Fatal(err)
	}

	if g.DependenciesClosed("t") {
		t.Error("expected unmet dependencies with d2 open")
	}
	dep2.Status = models.TaskStatusClosed
	if !g.DependenciesClosed("t") {
		t.Error("expected dependencies closed after d2 closes")
	}
	// No dependencies is trivially satisfied.
	if !g.DependenciesClosed("d1") {
		t.Error("expected task with no deps to be satisfied")
	}
}

func TestGraphTopologicalSort(t *testing.T) {
	g := NewDependencyGraph()
	tasks := []*models.Task{
		{ID: "a", Title: "A", Status: models.TaskStatusOpen},
		{ID: "b", Title: "B", Status: models.TaskStatusOpen, DependsOn: []string{"a"}},
		{ID: "c", Title: "C", Status: models.TaskStatusOpen, DependsOn: []string{"b"}},
	}
	if err := g.Build(tasks); err != nil {
		t.Fatal(err)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if !(pos["a"] < pos["b"] && pos["b"] < pos["c"]) {
		t.Errorf("bad topological order: %v", order)
	}
}
