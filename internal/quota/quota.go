// Package quota resolves concurrency ceilings for agent resource classes
// and carries the tunable execution policy that governs admission,
// estimation, and degradation decisions.
package quota

// QuotaSource identifies which level of the policy supplied a quota.
type QuotaSource string

const (
	// SourceWorkflow indicates a workflow-level override won.
	SourceWorkflow QuotaSource = "workflow"
	// SourceProject indicates a project-level override won.
	SourceProject QuotaSource = "project"
	// SourceDefault indicates the default quota applied.
	SourceDefault QuotaSource = "default"
)

// QuotaPolicy is a default quota plus optional overrides keyed by project
// id and by workflow id.
type QuotaPolicy struct {
	// DefaultQuota applies when no override matches.
	DefaultQuota int `yaml:"default_quota"`
	// ProjectOverrides maps project ids to quotas.
	ProjectOverrides map[string]int `yaml:"project_overrides,omitempty"`
	// WorkflowOverrides maps workflow ids to quotas.
	WorkflowOverrides map[string]int `yaml:"workflow_overrides,omitempty"`
}

// Resolution is an effective quota together with the level that supplied it.
type Resolution struct {
	Quota  int
	Source QuotaSource
}

// EffectiveQuota resolves the concurrency ceiling for the given workflow.
// Resolution order is workflow > project > default: a workflow-level
// override always beats a project-level one for the same id.
func EffectiveQuota(policy QuotaPolicy, workflowID string) Resolution {
	if q, ok := policy.WorkflowOverrides[workflowID]; ok {
		return Resolution{Quota: q, Source: SourceWorkflow}
	}
	if q, ok := policy.ProjectOverrides[workflowID]; ok {
		return Resolution{Quota: q, Source: SourceProject}
	}
	return Resolution{Quota: policy.DefaultQuota, Source: SourceDefault}
}
