package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/foremanhq/foreman/internal/ask"
	"github.com/foremanhq/foreman/internal/config"
	"github.com/foremanhq/foreman/internal/engine"
	"github.com/foremanhq/foreman/internal/quota"
	"github.com/foremanhq/foreman/internal/recovery"
	"github.com/foremanhq/foreman/internal/runqueue"
	"github.com/foremanhq/foreman/internal/supervisor"
	"github.com/foremanhq/foreman/internal/tui"
	"github.com/foremanhq/foreman/internal/worker"
	"github.com/foremanhq/foreman/pkg/models"
)

var (
	runPlanPath        string
	runDryRun          bool
	runPolicyFile      string
	runRequireApproval bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a task plan with supervised agents",
	Long: `Run drives a plan file to completion.

The plan lists tasks (with dependencies and priorities) and the agent
pool. Each tick, ready tasks are admitted through the runtime queue and
dispatched to idle agents; agents run as heartbeat-supervised child
processes. Escalated tasks pause for a human decision.

By default completed work is closed as soon as it reaches review; pass
--require-approval to review each task interactively instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorkflow(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVarP(&runPlanPath, "plan", "p", "", "path to the plan file (required)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "skip API calls; tasks complete immediately")
	runCmd.Flags().StringVar(&runPolicyFile, "policy", "", "quota policy YAML (hot-reloaded; overrides config)")
	runCmd.Flags().BoolVar(&runRequireApproval, "require-approval", false, "prompt for every task reaching review")
	runCmd.MarkFlagRequired("plan")
}

// dispatch ties an admitted runtime instance back to its task and agent.
type dispatch struct {
	taskID  string
	agentID string
}

func runWorkflow(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	plan, err := LoadPlan(runPlanPath)
	if err != nil {
		return err
	}
	tasks := plan.BuildTasks()
	agents := plan.BuildAgents()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	store, err := recovery.OpenProject(cwd)
	if err != nil {
		return fmt.Errorf("open recovery store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate recovery store: %w", err)
	}

	recMgr := recovery.NewManager(store)
	if orphans, err := recMgr.CheckForOrphans(); err == nil && len(orphans) > 0 {
		color.Yellow("resetting %d orphaned instance(s) from a previous run", len(orphans))
		if err := recMgr.ResetOrphans(orphans); err != nil {
			return fmt.Errorf("reset orphans: %w", err)
		}
	}

	currentPolicy, closePolicy, err := loadQuotaPolicy(cfg)
	if err != nil {
		return err
	}
	defer closePolicy()

	eng, err := engine.New(
		engine.Config{Tasks: tasks, Agents: agents, Recovery: recMgr},
		engine.WithDebugLogger(engine.NewDebugLoggerForDir(cwd)),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	queue := runqueue.New(currentPolicy().GlobalMaxConcurrent)
	askMgr := ask.NewManager(cfg.Engine.AskTimeout)

	runner, err := buildRunner(cfg)
	if err != nil {
		return err
	}

	sups, err := startSupervisors(ctx, cfg, agents)
	if err != nil {
		return err
	}
	defer stopSupervisors(sups)

	events, unsubscribe := eng.Subscribe()
	defer unsubscribe()
	go printEvents(events)

	eng.Start()
	defer eng.Stop()

	var mu sync.Mutex
	dispatches := make(map[string]dispatch)
	openAsks := make(map[string]string)

	g, gctx := errgroup.WithContext(ctx)
	ticker := time.NewTicker(cfg.Engine.TickInterval)
	defer ticker.Stop()

loop:
	for !eng.Done() {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		decisions, err := eng.Tick(ctx)
		if err != nil {
			color.Red("tick: %v", err)
			continue
		}

		policy := currentPolicy()
		stats := queue.GetStats()
		utilization := quota.Utilization(stats.Active, policy.GlobalMaxConcurrent)

		for _, d := range decisions {
			if d.AgentID == "" {
				continue
			}
			if policy.Degradation.ShouldPause(utilization) {
				continue
			}
			task := eng.Task(d.TaskID)
			inst := queue.Enqueue(string(d.Role), task.Priority)
			mu.Lock()
			dispatches[inst.InstanceID] = dispatch{taskID: d.TaskID, agentID: d.AgentID}
			mu.Unlock()
		}

		for {
			inst := queue.TryDequeue()
			if inst == nil {
				break
			}
			mu.Lock()
			dsp := dispatches[inst.InstanceID]
			delete(dispatches, inst.InstanceID)
			mu.Unlock()

			if err := eng.OnDispatch(dsp.taskID, dsp.agentID); err != nil {
				queue.Complete(inst.InstanceID, models.InstanceStatusFailed, err.Error())
				continue
			}
			if sup := sups[dsp.agentID]; sup != nil {
				inst.PID = sup.PID()
			}
			if err := store.SaveInstance(inst); err != nil {
				color.Yellow("save instance %s: %v", inst.InstanceID, err)
			}

			task := eng.Task(dsp.taskID)
			instID := inst.InstanceID
			g.Go(func() error {
				executeTask(gctx, eng, queue, store, runner, instID, task)
				return nil
			})
		}

		reviewTasks(eng, askMgr, openAsks)
		surfaceEscalations(eng, askMgr, openAsks)
	}

	g.Wait()
	printSummary(eng, queue)
	return nil
}

// executeTask runs one admitted payload and feeds the outcome back into
// the engine.
func executeTask(ctx context.Context, eng *engine.Engine, queue *runqueue.Queue, store *recovery.Store, runner worker.Runner, instanceID string, task *models.Task) {
	out, err := runner.Run(ctx, worker.Payload{
		TaskID: task.ID,
		System: "You are an agent executing one task of a larger plan. Complete the task and report the result.",
		Prompt: fmt.Sprintf("Task: %s\n\n%s", task.Title, task.Description),
	})
	if err != nil {
		queue.Complete(instanceID, models.InstanceStatusFailed, err.Error())
		eng.HandleTaskFailure(ctx, task.ID, err.Error())
	} else {
		if out.InputTokens+out.OutputTokens > 0 {
			fmt.Printf("task %s used %d input / %d output tokens\n", task.ID, out.InputTokens, out.OutputTokens)
		}
		queue.Complete(instanceID, models.InstanceStatusCompleted, "")
		eng.HandleTaskCompletion(ctx, task.ID)
	}
	if inst, ok := queue.GetInstance(instanceID); ok {
		if err := store.SaveInstance(inst); err != nil {
			color.Yellow("archive instance %s: %v", instanceID, err)
		}
	}
}

// taskAsk returns the ask already open for the task, or opens a new one.
// openAsks (taskID -> requestID) keeps a dismissed prompt from spawning a
// fresh ask every tick; stale entries for settled asks are dropped.
func taskAsk(askMgr *ask.Manager, openAsks map[string]string, taskID string, req ask.Request) (ask.PendingAsk, error) {
	if id, ok := openAsks[taskID]; ok {
		if pending, ok := askMgr.Get(id); ok {
			return pending, nil
		}
		delete(openAsks, taskID)
	}
	pending, _, err := askMgr.Open(req)
	if err != nil {
		return ask.PendingAsk{}, err
	}
	openAsks[taskID] = pending.RequestID
	return pending, nil
}

// reviewTasks closes tasks that reached review, or routes them through an
// interactive approval when --require-approval is set.
func reviewTasks(eng *engine.Engine, askMgr *ask.Manager, openAsks map[string]string) {
	for _, task := range eng.Tasks() {
		if task.Status != models.TaskStatusReview {
			continue
		}
		if !runRequireApproval {
			if err := eng.ApproveReview(task.ID); err != nil {
				color.Yellow("approve %s: %v", task.ID, err)
			}
			continue
		}

		pending, err := taskAsk(askMgr, openAsks, task.ID, ask.Request{
			Question:   fmt.Sprintf("Task %q is ready for review. Approve?", task.Title),
			Options:    []string{"approve", "reject"},
			Context:    task.Description,
			WorkflowID: task.ID,
		})
		if err != nil {
			continue
		}
		answer, ok, err := tui.PromptForAnswer(pending)
		if err != nil || !ok {
			// Dismissed; the ask stays open and is re-prompted next tick.
			continue
		}
		res, err := askMgr.ResolveByRequestID(pending.RequestID, answer)
		if err != nil {
			continue
		}
		delete(openAsks, task.ID)
		switch res.SelectedOption {
		case "reject":
			eng.RejectReview(task.ID, "changes requested in review")
		default:
			eng.ApproveReview(task.ID)
		}
	}
}

// surfaceEscalations asks the human what to do with tasks that exhausted
// their retry budget.
func surfaceEscalations(eng *engine.Engine, askMgr *ask.Manager, openAsks map[string]string) {
	for _, task := range eng.Tasks() {
		if task.Status != models.TaskStatusEscalated {
			continue
		}
		pending, err := taskAsk(askMgr, openAsks, task.ID, ask.Request{
			Question:   fmt.Sprintf("Task %q failed %d times: %s. Retry it?", task.Title, task.RetryCount, task.Error),
			Options:    []string{"retry", "skip"},
			WorkflowID: task.ID,
		})
		if err != nil {
			continue
		}
		answer, ok, err := tui.PromptForAnswer(pending)
		if err != nil || !ok {
			continue
		}
		res, err := askMgr.ResolveByRequestID(pending.RequestID, answer)
		if err != nil {
			continue
		}
		delete(openAsks, task.ID)
		if res.SelectedOption == "retry" {
			if err := eng.ReopenEscalated(task.ID); err != nil {
				color.Yellow("reopen %s: %v", task.ID, err)
			}
		}
	}
}

// loadQuotaPolicy returns a function yielding the current execution
// policy. With a policy file it is hot-reloaded; otherwise the configured
// preset is fixed for the run.
func loadQuotaPolicy(cfg *config.Config) (func() quota.ExecutionPolicy, func(), error) {
	path := runPolicyFile
	if path == "" {
		path = cfg.Quota.PolicyFile
	}
	if path == "" {
		policy := quota.PresetByName(cfg.Quota.Preset)
		return func() quota.ExecutionPolicy { return policy }, func() {}, nil
	}

	watcher, err := quota.NewWatcher(path, func(p quota.ExecutionPolicy) {
		color.Cyan("quota policy reloaded: %s", p.Name)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load quota policy: %w", err)
	}
	return watcher.Current, func() { watcher.Close() }, nil
}

// buildRunner returns the payload executor: the Anthropic runner, or a
// stub when --dry-run is set.
func buildRunner(cfg *config.Config) (worker.Runner, error) {
	if runDryRun {
		return dryRunner{}, nil
	}

	apiKey, err := config.GetAPIKey(cfg)
	if err != nil && !cfg.Anthropic.UseAWSBedrock {
		return nil, err
	}
	client, err := worker.NewClient(worker.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseAWSBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	return worker.NewAnthropicRunner(client, worker.DefaultRetryConfig()), nil
}

// dryRunner completes every payload immediately without touching the API.
type dryRunner struct{}

func (dryRunner) Run(ctx context.Context, p worker.Payload) (worker.Output, error) {
	return worker.Output{Text: "dry run: " + p.TaskID}, nil
}

// startSupervisors spawns one supervised worker process per agent.
func startSupervisors(ctx context.Context, cfg *config.Config, agents []*models.Agent) (map[string]*supervisor.Supervisor, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}

	sups := make(map[string]*supervisor.Supervisor, len(agents))
	for _, agent := range agents {
		s := supervisor.New(supervisor.Config{
			AgentID:           agent.ID,
			AgentName:         agent.Name,
			Command:           self,
			Args:              []string{"worker"},
			HeartbeatInterval: cfg.Heartbeat.Interval,
			HeartbeatTimeout:  cfg.Heartbeat.Timeout,
			AutoRestart:       cfg.Supervisor.AutoRestart,
			MaxRestarts:       cfg.Supervisor.MaxRestarts,
			RestartDelay:      cfg.Supervisor.RestartDelay,
		})
		if err := s.Start(ctx); err != nil {
			for _, started := range sups {
				started.Stop(syscall.SIGTERM)
			}
			return nil, fmt.Errorf("start agent %s: %w", agent.ID, err)
		}
		sups[agent.ID] = s
	}
	return sups, nil
}

func stopSupervisors(sups map[string]*supervisor.Supervisor) {
	for _, s := range sups {
		s.Stop(syscall.SIGTERM)
	}
}

// printEvents renders lifecycle events as they arrive.
func printEvents(events <-chan engine.Event) {
	for ev := range events {
		switch ev.Type {
		case engine.EventTaskCompleted:
			color.Green("✓ %s completed", label(ev))
		case engine.EventTaskFailed:
			color.Red("✗ %s failed: %s", label(ev), ev.Message)
		case engine.EventTaskBlocked:
			color.Yellow("⏸ %s blocked: %s", label(ev), ev.Message)
		case engine.EventTaskEscalated:
			color.Red("⚠ %s escalated", label(ev))
		case engine.EventDependencyResolved:
			color.Cyan("▶ %s unblocked", label(ev))
		case engine.EventAgentAvailable:
			// Too chatty for the console; visible in the debug log.
		}
	}
}

func label(ev engine.Event) string {
	if ev.TaskTitle != "" {
		return ev.TaskTitle
	}
	return ev.TaskID
}

// printSummary reports final task states and queue statistics.
func printSummary(eng *engine.Engine, queue *runqueue.Queue) {
	var closed, escalated, other int
	for _, task := range eng.Tasks() {
		switch task.Status {
		case models.TaskStatusClosed:
			closed++
		case models.TaskStatusEscalated:
			escalated++
		default:
			other++
		}
	}

	fmt.Println()
	color.Green("%d task(s) closed", closed)
	if escalated > 0 {
		color.Red("%d task(s) escalated and need attention", escalated)
	}
	if other > 0 {
		color.Yellow("%d task(s) unfinished", other)
	}
	stats := queue.GetStats()
	fmt.Printf("instances: %d completed, %d active, %d queued\n", stats.Completed, stats.Active, stats.Queued)
}
