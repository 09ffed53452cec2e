package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/foremanhq/foreman/pkg/models"
)

// Decision is the outcome of a scheduling pass for one ready task.
// An empty AgentID is a valid outcome, not an error: no matching agent was
// idle this tick and the task will be reconsidered next tick.
type Decision struct {
	// TaskID is the ID of the ready task.
	TaskID string
	// AgentID is the ID of the assigned agent, or empty if none matched.
	AgentID string
	// Role is the role the scheduler inferred for the task.
	Role models.AgentRole
	// Reason explains the decision for logging and dashboards.
	Reason string
}

// roleSubstitutions maps a preferred role to the roles that may stand in
// for it, in preference order. The preferred role itself always matches
// first.
var roleSubstitutions = map[models.AgentRole][]models.AgentRole{
	models.RoleExecutor:  {models.RoleOrchestrator},
	models.RoleReviewer:  {models.RoleArchitect},
	models.RoleTester:    {models.RoleExecutor},
	models.RoleDocwriter: {models.RoleExecutor},
	models.RoleArchitect: {models.RoleOrchestrator},
}

// InferRole infers a preferred agent role from the task title by substring
// match. This is a best-effort fallback, not a classifier: tasks carrying an
// explicit required capability should be routed by that instead.
func InferRole(title string) models.AgentRole {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "review"):
		return models.RoleReviewer
	case strings.Contains(t, "test"):
		return models.RoleTester
	case strings.Contains(t, "design"), strings.Contains(t, "architect"):
		return models.RoleArchitect
	case strings.Contains(t, "doc"):
		return models.RoleDocwriter
	default:
		return models.RoleExecutor
	}
}

// Schedule pairs ready tasks with idle, role-matching agents. It is a pure
// query: no task or agent state is mutated, and calling it twice with the
// same inputs yields the same decisions.
//
// Ready tasks are those with status open or in_progress whose every
// dependency is in the closed set. They are ordered non-main-path first,
// then by priority descending, so side and high-priority work is dispatched
// before the critical path.
func Schedule(tasks []*models.Task, agents []*models.Agent) []Decision {
	// Build the closed set from the task list itself.
	closed := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		if task.Status == models.TaskStatusClosed {
			closed[task.ID] = true
		}
	}

	var ready []*models.Task
	for _, task := range tasks {
		if task.Status != models.TaskStatusOpen && task.Status != models.TaskStatusInProgress {
			continue
		}
		// A task with an owner is already executing; dispatching it
		// again would hand it to a second agent.
		if task.AssignedTo != "" {
			continue
		}
		unmet := false
		for _, depID := range task.DependsOn {
			if !closed[depID] {
				unmet = true
				break
			}
		}
		if unmet {
			continue
		}
		ready = append(ready, task)
	}

	if len(ready) == 0 {
		return nil
	}

	// Non-main-path first, then priority descending. Stable so planner
	// order breaks ties deterministically.
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].MainPath != ready[j].MainPath {
			return !ready[i].MainPath
		}
		return ready[i].Priority > ready[j].Priority
	})

	// Track agents claimed within this pass so a single idle agent is never
	// handed two tasks in one tick.
	claimed := make(map[string]bool)

	decisions := make([]Decision, 0, len(ready))
	for _, task := range ready {
		role := InferRole(task.Title)
		agent := pickAgent(role, agents, claimed)
		if agent == nil {
			decisions = append(decisions, Decision{
				TaskID: task.ID,
				Role:   role,
				Reason: fmt.Sprintf("no idle agent for role %s", role),
			})
			continue
		}
		claimed[agent.ID] = true
		decisions = append(decisions, Decision{
			TaskID:  task.ID,
			AgentID: agent.ID,
			Role:    role,
			Reason:  fmt.Sprintf("assigned %s agent", agent.Role),
		})
	}

	return decisions
}

// pickAgent returns the first idle unclaimed agent matching the preferred
// role, expanding through the substitution table when no exact match is
// idle.
func pickAgent(role models.AgentRole, agents []*models.Agent, claimed map[string]bool) *models.Agent {
	acceptable := append([]models.AgentRole{role}, roleSubstitutions[role]...)
	for _, want := range acceptable {
		for _, agent := range agents {
			if claimed[agent.ID] {
				continue
			}
			if agent.Role == want && agent.Idle() {
				return agent
			}
		}
	}
	return nil
}
