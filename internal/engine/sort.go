package engine

import (
	"sort"

	"github.com/foremanhq/foreman/pkg/models"
)

// sortAgents orders agents by ID so scheduling is deterministic across
// ticks regardless of map iteration order.
func sortAgents(agents []*models.Agent) {
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].ID < agents[j].ID
	})
}
