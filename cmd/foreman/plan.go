package main

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/foremanhq/foreman/pkg/models"
)

// Plan is the YAML document a planner hands to foreman run: the task
// graph plus the agent pool to execute it with.
type Plan struct {
	Tasks  []PlanTask  `yaml:"tasks"`
	Agents []PlanAgent `yaml:"agents"`
}

// PlanTask is one task entry in a plan file.
type PlanTask struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Priority    int      `yaml:"priority"`
	MainPath    bool     `yaml:"main_path"`
	DependsOn   []string `yaml:"depends_on"`
}

// PlanAgent is one agent entry in a plan file.
type PlanAgent struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

// LoadPlan reads and validates a plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	if err := plan.validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (p *Plan) validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	if len(p.Agents) == 0 {
		return fmt.Errorf("plan has no agents")
	}
	seen := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task %d has no id", i)
		}
		if t.Title == "" {
			return fmt.Errorf("task %s has no title", t.ID)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %s", t.ID)
		}
		seen[t.ID] = true
	}
	for i, a := range p.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent %d has no id", i)
		}
		if role := models.AgentRole(a.Role); a.Role != "" && !role.Valid() {
			return fmt.Errorf("agent %s has unknown role %q", a.ID, a.Role)
		}
	}
	return nil
}

// BuildTasks converts plan entries into task models.
func (p *Plan) BuildTasks() []*models.Task {
	now := time.Now()
	tasks := make([]*models.Task, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		tasks = append(tasks, &models.Task{
			ID:          t.ID,
			Title:       t.Title,
			Description: t.Description,
			Priority:    t.Priority,
			Status:      models.TaskStatusOpen,
			MainPath:    t.MainPath,
			DependsOn:   t.DependsOn,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return tasks
}

// BuildAgents converts plan entries into agent models. An entry without
// a role defaults to executor.
func (p *Plan) BuildAgents() []*models.Agent {
	agents := make([]*models.Agent, 0, len(p.Agents))
	for _, a := range p.Agents {
		role := models.AgentRole(a.Role)
		if a.Role == "" {
			role = models.RoleExecutor
		}
		name := a.Name
		if name == "" {
			name = a.ID
		}
		agents = append(agents, &models.Agent{
			ID:     a.ID,
			Name:   name,
			Role:   role,
			Status: models.AgentStatusIdle,
		})
	}
	return agents
}
