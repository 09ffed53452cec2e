package quota

import "time"

// EstimationMode selects how task execution time is estimated.
type EstimationMode string

const (
	// EstimationStatic uses a fixed per-class duration table.
	EstimationStatic EstimationMode = "static"
	// EstimationAdaptive weights observed history per class.
	EstimationAdaptive EstimationMode = "adaptive"
	// EstimationExternal trusts an estimate supplied by the caller.
	EstimationExternal EstimationMode = "external"
)

// QueueDiscipline selects how queued work is ordered.
type QueueDiscipline string

const (
	// DisciplineFIFO admits strictly in arrival order.
	DisciplineFIFO QueueDiscipline = "fifo"
	// DisciplinePriority admits by priority.
	DisciplinePriority QueueDiscipline = "priority"
	// DisciplineAging admits by priority, linearly raised with wait time.
	DisciplineAging QueueDiscipline = "aging"
)

// RetryPolicy bounds automatic retries.
type RetryPolicy struct {
	// MaxRetries is the retry budget per task.
	MaxRetries int `yaml:"max_retries"`
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `yaml:"base_delay"`
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// DegradationPolicy shrinks the concurrency ceiling under load.
type DegradationPolicy struct {
	// UtilizationThreshold is the utilization (0-1) above which degradation kicks in.
	UtilizationThreshold float64 `yaml:"utilization_threshold"`
	// ShrinkFactor scales the ceiling while degraded (0-1).
	ShrinkFactor float64 `yaml:"shrink_factor"`
	// PauseAdmissions stops admitting new instances entirely while degraded.
	PauseAdmissions bool `yaml:"pause_admissions"`
}

// ExecutionPolicy is the tunable document governing admission and
// concurrency decisions. It is loaded from YAML and may be hot-reloaded.
type ExecutionPolicy struct {
	// Name labels the policy (for logs and the config command).
	Name string `yaml:"name"`
	// GlobalMaxConcurrent is the ceiling across all resource classes.
	GlobalMaxConcurrent int `yaml:"global_max_concurrent"`
	// ClassMaxConcurrent overrides the ceiling per resource class.
	ClassMaxConcurrent map[string]int `yaml:"class_max_concurrent,omitempty"`
	// MinSchedulingBenefit is the shortest task worth parallelizing;
	// anything estimated below dispatch overhead runs inline.
	MinSchedulingBenefit time.Duration `yaml:"min_scheduling_benefit"`
	// Estimation selects the execution-time estimation mode.
	Estimation EstimationMode `yaml:"estimation"`
	// Discipline selects the queue ordering.
	Discipline QueueDiscipline `yaml:"discipline"`
	// AgingRate is the priority points added per minute of waiting under
	// the aging discipline.
	AgingRate float64 `yaml:"aging_rate"`
	// ResourceBlockTimeout bounds how long a task may wait on resources
	// before the wait is surfaced to a human instead of blocking silently.
	ResourceBlockTimeout time.Duration `yaml:"resource_block_timeout"`
	// TaskExecutionTimeout bounds a single task execution.
	TaskExecutionTimeout time.Duration `yaml:"task_execution_timeout"`
	// Retry bounds automatic retries.
	Retry RetryPolicy `yaml:"retry"`
	// Degradation shrinks ceilings under load.
	Degradation DegradationPolicy `yaml:"degradation"`
	// Quotas resolves per-workflow admission ceilings.
	Quotas QuotaPolicy `yaml:"quotas"`
}

// DefaultPolicy returns the balanced preset.
func DefaultPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		Name:                 "default",
		GlobalMaxConcurrent:  4,
		MinSchedulingBenefit: 5 * time.Second,
		Estimation:           EstimationAdaptive,
		Discipline:           DisciplineAging,
		AgingRate:            1.0,
		ResourceBlockTimeout: 10 * time.Minute,
		TaskExecutionTimeout: 30 * time.Minute,
		Retry: RetryPolicy{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			MaxDelay:   8 * time.Second,
		},
		Degradation: DegradationPolicy{
			UtilizationThreshold: 0.85,
			ShrinkFactor:         0.5,
		},
		Quotas: QuotaPolicy{DefaultQuota: 1},
	}
}

// HighPerformancePolicy returns the preset tuned for throughput.
func HighPerformancePolicy() ExecutionPolicy {
	p := DefaultPolicy()
	p.Name = "high-performance"
	p.GlobalMaxConcurrent = 8
	p.MinSchedulingBenefit = 2 * time.Second
	p.Discipline = DisciplinePriority
	p.Degradation.UtilizationThreshold = 0.95
	p.Quotas.DefaultQuota = 2
	return p
}

// ConservativePolicy returns the preset tuned for stability: lower
// ceilings, strict FIFO, and admission pauses at 70% utilization.
func ConservativePolicy() ExecutionPolicy {
	p := DefaultPolicy()
	p.Name = "conservative"
	p.GlobalMaxConcurrent = 2
	p.MinSchedulingBenefit = 10 * time.Second
	p.Estimation = EstimationStatic
	p.Discipline = DisciplineFIFO
	p.Degradation = DegradationPolicy{
		UtilizationThreshold: 0.70,
		ShrinkFactor:         0.5,
		PauseAdmissions:      true,
	}
	return p
}

// PresetByName returns the named preset, falling back to the default.
func PresetByName(name string) ExecutionPolicy {
	switch name {
	case "high-performance":
		return HighPerformancePolicy()
	case "conservative":
		return ConservativePolicy()
	default:
		return DefaultPolicy()
	}
}

// ClassLimit returns the concurrency ceiling for a resource class,
// falling back to the global ceiling.
func (p ExecutionPolicy) ClassLimit(class string) int {
	if limit, ok := p.ClassMaxConcurrent[class]; ok {
		return limit
	}
	return p.GlobalMaxConcurrent
}

// WorthParallelizing reports whether a task with the given estimated
// duration gains anything from parallel dispatch.
func (p ExecutionPolicy) WorthParallelizing(estimate time.Duration) bool {
	return estimate >= p.MinSchedulingBenefit
}

// EffectivePriority returns a task's priority after aging: under the aging
// discipline, waiting linearly raises priority so old work cannot starve.
func (p ExecutionPolicy) EffectivePriority(priority int, waited time.Duration) float64 {
	if p.Discipline != DisciplineAging {
		return float64(priority)
	}
	return float64(priority) + p.AgingRate*waited.Minutes()
}

// AdjustedLimit returns the concurrency ceiling after degradation: above
// the utilization threshold the ceiling shrinks by the configured factor,
// never below one.
func (d DegradationPolicy) AdjustedLimit(limit int, utilization float64) int {
	if utilization < d.UtilizationThreshold || d.ShrinkFactor <= 0 {
		return limit
	}
	shrunk := int(float64(limit) * d.ShrinkFactor)
	if shrunk < 1 {
		return 1
	}
	return shrunk
}

// ShouldPause reports whether new admissions should stop entirely at the
// given utilization.
func (d DegradationPolicy) ShouldPause(utilization float64) bool {
	return d.PauseAdmissions && utilization >= d.UtilizationThreshold
}

// Utilization returns active/limit as a 0-based fraction. A policy
// document may carry a zero or negative ceiling; the denominator is
// floored at one so the fraction stays finite.
func Utilization(active, limit int) float64 {
	if limit < 1 {
		limit = 1
	}
	return float64(active) / float64(limit)
}
