package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/foremanhq/foreman/internal/recovery"
	"github.com/foremanhq/foreman/pkg/models"
)

// Config contains the required inputs for building an Engine.
// Everything the engine collaborates with is passed in explicitly; there
// are no process-wide registries.
type Config struct {
	// Tasks is the planner-supplied task list.
	Tasks []*models.Task
	// Agents is the pool of logical agent identities.
	Agents []*models.Agent
	// Recovery classifies failures and records checkpoints.
	Recovery *recovery.Manager
}

// Option configures optional Engine behavior.
type Option func(*Engine)

// WithEmitterBuffer sets the per-subscriber event buffer size.
func WithEmitterBuffer(size int) Option {
	return func(e *Engine) {
		e.emitter = NewEventEmitter(size)
	}
}

// WithDebugLogger installs a debug logger for engine internals.
func WithDebugLogger(l *DebugLogger) Option {
	return func(e *Engine) {
		SetDebugLogger(l)
	}
}

// Engine is the workflow driver. Each Tick unblocks tasks whose
// dependencies closed, reclassifies failed tasks, and asks the scheduler
// for assignments. It computes decisions only; actual execution is handed
// off to external dispatch machinery.
type Engine struct {
	mu sync.Mutex

	tasks  map[string]*models.Task
	order  []string // task iteration order, dependencies before dependents
	agents map[string]*models.Agent
	graph  *DependencyGraph

	recovery *recovery.Manager
	emitter  *EventEmitter

	running bool
}

// New builds an Engine from the planner's task list and the agent pool.
// Returns an error if the task list has unknown or cyclic dependencies.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Recovery == nil {
		return nil, fmt.Errorf("engine: Recovery manager is required")
	}

	graph := NewDependencyGraph()
	if err := graph.Build(cfg.Tasks); err != nil {
		return nil, fmt.Errorf("build dependency graph: %w", err)
	}

	e := &Engine{
		tasks:    make(map[string]*models.Task, len(cfg.Tasks)),
		agents:   make(map[string]*models.Agent, len(cfg.Agents)),
		graph:    graph,
		recovery: cfg.Recovery,
		emitter:  NewEventEmitter(100),
	}
	for _, task := range cfg.Tasks {
		e.tasks[task.ID] = task
	}
	order, err := graph.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("order tasks: %w", err)
	}
	e.order = order
	for _, agent := range cfg.Agents {
		e.agents[agent.ID] = agent
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start enables ticking.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
}

// Stop disables ticking and closes the event emitter.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	e.emitter.Close()
}

// Running reports whether the engine is accepting ticks.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Subscribe registers an event subscriber.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	return e.emitter.Subscribe()
}

// Tick runs one scheduling cycle. It is a no-op unless the engine is
// running. Within the cycle:
//
//	(a) every blocked task whose dependencies all closed moves to
//	    in_progress and emits dependency_resolved
//	(b) every failed task is reclassified; retry-classified tasks reopen
//	    (the backoff delay is advisory metadata, not enforced here), and
//	    escalate-classified tasks move to escalated
//	(c) the scheduler runs over all tasks and agents and its decisions
//	    are returned
//
// Per-task errors are logged and swallowed so one malformed task never
// stalls the cycle. Tick is not re-entrant.
func (e *Engine) Tick(ctx context.Context) ([]Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil, nil
	}

	taskList := make([]*models.Task, 0, len(e.order))
	for _, id := range e.order {
		taskList = append(taskList, e.tasks[id])
	}

	// (a) Unblock tasks whose dependencies have all closed.
	for _, task := range taskList {
		if task.Status != models.TaskStatusBlocked {
			continue
		}
		if !e.graph.DependenciesClosed(task.ID) {
			continue
		}
		if err := Transition(task, models.TaskStatusInProgress); err != nil {
			debugLog("[engine] unblock %s: %v", task.ID, err)
			continue
		}
		task.BlockedReason = ""
		e.emitter.Emit(Event{
			Type:      EventDependencyResolved,
			TaskID:    task.ID,
			TaskTitle: task.Title,
			Message:   "dependencies closed",
		})
	}

	// (b) Reclassify failed tasks.
	for _, task := range taskList {
		if task.Status != models.TaskStatusFailed {
			continue
		}
		action := e.recovery.AnalyzeFailure(task)
		switch action.Type {
		case recovery.ActionRetry:
			if err := Transition(task, models.TaskStatusOpen); err != nil {
				debugLog("[engine] retry %s: %v", task.ID, err)
				continue
			}
			debugLog("[engine] reopened %s for retry %d (advisory delay %s)", task.ID, task.RetryCount, action.Delay)
		case recovery.ActionEscalate:
			if err := Transition(task, models.TaskStatusEscalated); err != nil {
				debugLog("[engine] escalate %s: %v", task.ID, err)
				continue
			}
			e.emitter.Emit(Event{
				Type:      EventTaskEscalated,
				TaskID:    task.ID,
				TaskTitle: task.Title,
				Message:   action.Reason,
			})
		default:
			debugLog("[engine] task %s: %s (%s)", task.ID, action.Type, action.Reason)
		}
	}

	// (c) Schedule.
	agentList := make([]*models.Agent, 0, len(e.agents))
	for _, agent := range e.agents {
		agentList = append(agentList, agent)
	}
	sortAgents(agentList)

	return Schedule(taskList, agentList), nil
}

// OnDispatch records that the external dispatch machinery handed a task to
// an agent: the task moves to in_progress and the agent becomes busy and
// exclusively owned by the task.
func (e *Engine) OnDispatch(taskID, agentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return fmt.Errorf("dispatch: unknown task %s", taskID)
	}
	agent, ok := e.agents[agentID]
	if !ok {
		return fmt.Errorf("dispatch: unknown agent %s", agentID)
	}
	if !agent.Idle() {
		return fmt.Errorf("dispatch: agent %s is not idle", agentID)
	}
	if task.AssignedTo != "" {
		return fmt.Errorf("dispatch: task %s is already assigned to %s", taskID, task.AssignedTo)
	}

	if task.Status == models.TaskStatusOpen {
		if err := Transition(task, models.TaskStatusInProgress); err != nil {
			return err
		}
	}
	task.AssignedTo = agentID
	agent.Status = models.AgentStatusBusy
	agent.TaskID = taskID
	return nil
}

// HandleTaskCompletion moves a completed task to review and frees its
// agent. Only an in_progress task completes; an invalid transition is
// logged, never thrown across the tick boundary.
func (e *Engine) HandleTaskCompletion(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return fmt.Errorf("completion: unknown task %s", taskID)
	}

	if err := Transition(task, models.TaskStatusReview); err != nil {
		debugLog("[engine] completion of %s rejected: %v", taskID, err)
		return nil
	}

	e.emitter.Emit(Event{
		Type:      EventTaskCompleted,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		AgentID:   task.AssignedTo,
	})
	e.freeAgentLocked(task)
	return nil
}

// HandleTaskFailure moves a task to failed, checkpoints it, classifies the
// failure, and applies an escalation immediately. The classification is
// returned so callers can act on the advisory retry delay.
func (e *Engine) HandleTaskFailure(ctx context.Context, taskID, reason string) (recovery.Action, error) {
	if err := ctx.Err(); err != nil {
		return recovery.Action{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return recovery.Action{}, fmt.Errorf("failure: unknown task %s", taskID)
	}

	if task.Status != models.TaskStatusFailed {
		if err := Transition(task, models.TaskStatusFailed); err != nil {
			debugLog("[engine] failure of %s rejected: %v", taskID, err)
			return recovery.Action{Type: recovery.ActionSkip, Reason: "invalid transition"}, nil
		}
	}
	task.Error = reason

	if _, err := e.recovery.CheckpointTask(task); err != nil {
		debugLog("[engine] checkpoint %s: %v", taskID, err)
	}

	e.emitter.Emit(Event{
		Type:      EventTaskFailed,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		AgentID:   task.AssignedTo,
		Message:   reason,
	})

	action := e.recovery.AnalyzeFailure(task)
	if action.Type == recovery.ActionEscalate {
		if err := Transition(task, models.TaskStatusEscalated); err != nil {
			debugLog("[engine] escalate %s: %v", taskID, err)
		} else {
			e.emitter.Emit(Event{
				Type:      EventTaskEscalated,
				TaskID:    task.ID,
				TaskTitle: task.Title,
				Message:   action.Reason,
			})
		}
	}

	e.freeAgentLocked(task)
	return action, nil
}

// MarkBlocked moves an in_progress task to blocked with a reason and frees
// its agent. Dependency-wait is a normal temporary state, not an error.
func (e *Engine) MarkBlocked(taskID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return fmt.Errorf("block: unknown task %s", taskID)
	}
	if err := Transition(task, models.TaskStatusBlocked); err != nil {
		return err
	}
	task.BlockedReason = reason
	e.emitter.Emit(Event{
		Type:      EventTaskBlocked,
		TaskID:    task.ID,
		TaskTitle: task.Title,
		Message:   reason,
	})
	e.freeAgentLocked(task)
	return nil
}

// ApproveReview closes a task that passed review. Closing is only legal
// from review, which this entry point guarantees by construction.
func (e *Engine) ApproveReview(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return fmt.Errorf("approve: unknown task %s", taskID)
	}
	if task.Status != models.TaskStatusReview {
		return fmt.Errorf("approve: task %s is %s, not review", taskID, task.Status)
	}
	return Transition(task, models.TaskStatusClosed)
}

// RejectReview sends a reviewed task back to the open pool for rework.
func (e *Engine) RejectReview(taskID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return fmt.Errorf("reject: unknown task %s", taskID)
	}
	if task.Status != models.TaskStatusReview {
		return fmt.Errorf("reject: task %s is %s, not review", taskID, task.Status)
	}
	if err := Transition(task, models.TaskStatusOpen); err != nil {
		return err
	}
	task.Error = reason
	return nil
}

// ReopenEscalated puts an escalated task back into the open pool after a
// human decided to retry it, clearing the retry budget.
func (e *Engine) ReopenEscalated(taskID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return fmt.Errorf("reopen: unknown task %s", taskID)
	}
	if task.Status != models.TaskStatusEscalated {
		return fmt.Errorf("reopen: task %s is %s, not escalated", taskID, task.Status)
	}
	if err := Transition(task, models.TaskStatusOpen); err != nil {
		return err
	}
	task.RetryCount = 0
	task.Error = ""
	return nil
}

// freeAgentLocked returns the task's agent to the idle pool and emits
// agent_available. Caller must hold e.mu.
func (e *Engine) freeAgentLocked(task *models.Task) {
	if task.AssignedTo == "" {
		return
	}
	agent, ok := e.agents[task.AssignedTo]
	task.AssignedTo = ""
	if !ok || agent.TaskID != task.ID {
		return
	}
	agent.TaskID = ""
	agent.Status = models.AgentStatusIdle
	e.emitter.Emit(Event{
		Type:    EventAgentAvailable,
		AgentID: agent.ID,
	})
}

// Task returns the task with the given ID, or nil if unknown.
func (e *Engine) Task(id string) *models.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks[id]
}

// Tasks returns the tasks in dependency order.
func (e *Engine) Tasks() []*models.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]*models.Task, 0, len(e.order))
	for _, id := range e.order {
		result = append(result, e.tasks[id])
	}
	return result
}

// Agents returns the agent pool sorted by ID.
func (e *Engine) Agents() []*models.Agent {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]*models.Agent, 0, len(e.agents))
	for _, agent := range e.agents {
		result = append(result, agent)
	}
	sortAgents(result)
	return result
}

// Done reports whether no task can make further progress: everything is
// closed, escalated, or permanently skipped.
func (e *Engine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, task := range e.tasks {
		if !task.Status.Terminal() {
			return false
		}
	}
	return true
}
