// Package supervisor runs an agent as a child process, watches its
// heartbeats, and restarts it within a bounded budget. Children run in
// their own process group so a forced kill takes the whole subprocess
// tree, but they are never detached: a supervisor crash takes its
// children down with it.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Environment variables injected into every supervised child.
const (
	EnvAgentID             = "FOREMAN_AGENT_ID"
	EnvAgentName           = "FOREMAN_AGENT_NAME"
	EnvParentPID           = "FOREMAN_PARENT_PID"
	EnvHeartbeatIntervalMS = "FOREMAN_HEARTBEAT_INTERVAL_MS"
)

// HeartbeatMarker prefixes stdout lines the child emits as liveness
// signals. The supervisor consumes marker lines; everything else is
// forwarded to the configured output callback.
const HeartbeatMarker = "::foreman-heartbeat::"

// DefaultGraceWindow is how long Stop waits after a graceful signal
// before escalating to SIGKILL.
const DefaultGraceWindow = 5 * time.Second

// Config describes one supervised agent process.
type Config struct {
	// AgentID and AgentName identify the agent to the child.
	AgentID   string
	AgentName string
	// Command and Args are the child process invocation.
	Command string
	Args    []string
	// Dir is the child working directory; empty means inherit.
	Dir string
	// HeartbeatInterval is the cadence the child is told to beat at.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a missing heartbeat is tolerated,
	// measured from spawn for the first beat and from the latest beat
	// afterwards.
	HeartbeatTimeout time.Duration
	// AutoRestart re-spawns the child after a crash.
	AutoRestart bool
	// MaxRestarts bounds the restart budget; exceeding it is terminal.
	MaxRestarts int
	// RestartDelay is the pause before a restart.
	RestartDelay time.Duration
	// GraceWindow overrides DefaultGraceWindow for Stop.
	GraceWindow time.Duration
	// OnOutput receives non-heartbeat stdout lines, if set.
	OnOutput func(line string)
}

// Supervisor owns one agent child process across restarts.
type Supervisor struct {
	cfg Config

	mu            sync.Mutex
	cmd           *exec.Cmd
	running       bool
	stopping      bool
	killed        bool
	restartCount  int
	lastHeartbeat time.Time
	spawnedAt     time.Time
	restartTimer  *time.Timer
	exited        chan struct{}
	done          chan struct{}
	doneOnce      sync.Once
}

// New creates a Supervisor. The child is not spawned until Start.
func New(cfg Config) *Supervisor {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	return &Supervisor{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start spawns the child process and begins heartbeat monitoring.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("agent %s is already running", s.cfg.AgentID)
	}
	return s.spawnLocked(ctx)
}

// spawnLocked starts one run of the child. Caller must hold s.mu.
func (s *Supervisor) spawnLocked(ctx context.Context) error {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	if s.cfg.Dir != "" {
		cmd.Dir = s.cfg.Dir
	}
	// Own process group, so a forced kill reaches the whole subtree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = append(os.Environ(),
		EnvAgentID+"="+s.cfg.AgentID,
		EnvAgentName+"="+s.cfg.AgentName,
		EnvParentPID+"="+strconv.Itoa(os.Getpid()),
		EnvHeartbeatIntervalMS+"="+strconv.FormatInt(s.cfg.HeartbeatInterval.Milliseconds(), 10),
	)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start agent %s: %w", s.cfg.AgentID, err)
	}

	now := time.Now()
	s.cmd = cmd
	s.running = true
	s.killed = false
	s.spawnedAt = now
	s.lastHeartbeat = time.Time{}
	s.exited = make(chan struct{})

	go s.scanOutput(stdout)
	go s.watchdog(ctx, cmd)
	go s.waitForExit(ctx, cmd)
	return nil
}

// scanOutput consumes the child's stdout, turning marker lines into
// heartbeats and forwarding the rest.
func (s *Supervisor) scanOutput(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, HeartbeatMarker) {
			s.UpdateHeartbeat()
			continue
		}
		if s.cfg.OnOutput != nil {
			s.cfg.OnOutput(line)
		}
	}
}

// watchdog force-kills the child when the first heartbeat never arrives
// within the timeout, or an established heartbeat goes silent.
func (s *Supervisor) watchdog(ctx context.Context, cmd *exec.Cmd) {
	if s.cfg.HeartbeatTimeout <= 0 {
		return
	}
	interval := s.cfg.HeartbeatTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-exited:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.running || s.cmd != cmd {
				s.mu.Unlock()
				return
			}
			since := s.lastHeartbeat
			if since.IsZero() {
				since = s.spawnedAt
			}
			stale := time.Since(since) > s.cfg.HeartbeatTimeout
			alreadyKilled := s.killed
			if stale && !alreadyKilled {
				s.killed = true
			}
			s.mu.Unlock()

			if stale && !alreadyKilled {
				log.Printf("[supervisor] agent %s missed heartbeat deadline, killing process group", s.cfg.AgentID)
				killProcessGroup(cmd)
				return
			}
		}
	}
}

// waitForExit reaps the child, classifies the exit, and applies the
// restart policy.
func (s *Supervisor) waitForExit(ctx context.Context, cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	if s.cmd != cmd {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.exited)
	crashed := err != nil || s.killed
	stopping := s.stopping
	budgetLeft := s.restartCount < s.cfg.MaxRestarts

	if crashed && !stopping && s.cfg.AutoRestart && budgetLeft {
		s.restartCount++
		attempt := s.restartCount
		s.restartTimer = time.AfterFunc(s.cfg.RestartDelay, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.stopping {
				s.markDone()
				return
			}
			if err := s.spawnLocked(ctx); err != nil {
				log.Printf("[supervisor] agent %s restart %d failed: %v", s.cfg.AgentID, attempt, err)
				s.markDone()
			}
		})
		s.mu.Unlock()
		log.Printf("[supervisor] agent %s crashed, restart %d/%d in %s", s.cfg.AgentID, attempt, s.cfg.MaxRestarts, s.cfg.RestartDelay)
		return
	}
	if crashed && !stopping && s.cfg.AutoRestart {
		log.Printf("[supervisor] agent %s exhausted restart budget (%d), giving up", s.cfg.AgentID, s.cfg.MaxRestarts)
	}
	s.markDone()
	s.mu.Unlock()
}

// markDone marks the supervisor terminal. Caller must hold s.mu.
func (s *Supervisor) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// UpdateHeartbeat records a liveness signal from the child. Callers
// routing heartbeats out of band use this directly; stdout marker lines
// arrive here too.
func (s *Supervisor) UpdateHeartbeat() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

// Stop signals the child gracefully, escalates to SIGKILL after the
// grace window, and returns only once the process has exited.
func (s *Supervisor) Stop(sig syscall.Signal) error {
	s.mu.Lock()
	s.stopping = true
	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	if !s.running || s.cmd == nil {
		s.markDone()
		s.mu.Unlock()
		return nil
	}
	cmd := s.cmd
	exited := s.exited
	s.mu.Unlock()

	if err := cmd.Process.Signal(sig); err != nil {
		killProcessGroup(cmd)
	}

	select {
	case <-exited:
	case <-time.After(s.cfg.GraceWindow):
		killProcessGroup(cmd)
		<-exited
	}
	return nil
}

// Done is closed once the supervisor is terminal: the child exited and
// no restart is pending.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Running reports whether a child process is currently alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PID returns the current child pid, or 0 when none is running.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// RestartCount returns how many restarts have been consumed.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartCount
}

// LastHeartbeat returns the most recent heartbeat time; zero means the
// first heartbeat has not arrived yet.
func (s *Supervisor) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// killProcessGroup sends SIGKILL to the child's whole process group so
// grandchildren cannot outlive a forced termination.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill process group: %w", err)
	}
	return nil
}
