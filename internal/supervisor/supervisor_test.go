package supervisor

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"
)

func waitDone(t *testing.T, s *Supervisor, timeout time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(timeout):
		t.Fatal("supervisor did not reach terminal state in time")
	}
}

func TestMissedHeartbeatKills(t *testing.T) {
	s := New(Config{
		AgentID:           "agent-1",
		Command:           "/bin/sh",
		Args:              []string{"-c", "sleep 60"},
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  150 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitDone(t, s, 3*time.Second)
	if s.Running() {
		t.Error("child still running after missed heartbeat deadline")
	}
	if s.RestartCount() != 0 {
		t.Errorf("restart count = %d, want 0 without autoRestart", s.RestartCount())
	}
}

func TestRestartBudget(t *testing.T) {
	s := New(Config{
		AgentID:          "agent-1",
		Command:          "/bin/sh",
		Args:             []string{"-c", "sleep 60"},
		HeartbeatTimeout: 100 * time.Millisecond,
		AutoRestart:      true,
		MaxRestarts:      2,
		RestartDelay:     20 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Every run misses its heartbeat; the budget allows exactly two
	// restarts before the supervisor gives up.
	waitDone(t, s, 5*time.Second)
	if got := s.RestartCount(); got != 2 {
		t.Errorf("restart count = %d, want 2", got)
	}
	if s.Running() {
		t.Error("child still running after budget exhausted")
	}
}

func TestHeartbeatLinesKeepChildAlive(t *testing.T) {
	s := New(Config{
		AgentID:           "agent-1",
		Command:           "/bin/sh",
		Args:              []string{"-c", "while true; do echo '" + HeartbeatMarker + "'; sleep 0.05; done"},
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  300 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(syscall.SIGTERM)

	time.Sleep(time.Second)
	if !s.Running() {
		t.Fatal("heartbeating child was killed")
	}
	if s.LastHeartbeat().IsZero() {
		t.Error("no heartbeat recorded from stdout markers")
	}
}

func TestUpdateHeartbeatKeepsChildAlive(t *testing.T) {
	s := New(Config{
		AgentID:          "agent-1",
		Command:          "/bin/sh",
		Args:             []string{"-c", "sleep 60"},
		HeartbeatTimeout: 200 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(syscall.SIGTERM)

	// Route heartbeats externally instead of via stdout.
	deadline := time.Now().Add(700 * time.Millisecond)
	for time.Now().Before(deadline) {
		s.UpdateHeartbeat()
		time.Sleep(50 * time.Millisecond)
	}
	if !s.Running() {
		t.Fatal("child was killed despite external heartbeats")
	}
}

func TestCleanExitIsNotRestarted(t *testing.T) {
	s := New(Config{
		AgentID:      "agent-1",
		Command:      "/bin/sh",
		Args:         []string{"-c", "exit 0"},
		AutoRestart:  true,
		MaxRestarts:  3,
		RestartDelay: 10 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitDone(t, s, 3*time.Second)
	if got := s.RestartCount(); got != 0 {
		t.Errorf("clean exit consumed %d restarts", got)
	}
}

func TestCrashIsRestarted(t *testing.T) {
	s := New(Config{
		AgentID:      "agent-1",
		Command:      "/bin/sh",
		Args:         []string{"-c", "exit 1"},
		AutoRestart:  true,
		MaxRestarts:  1,
		RestartDelay: 10 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitDone(t, s, 3*time.Second)
	if got := s.RestartCount(); got != 1 {
		t.Errorf("restart count = %d, want 1", got)
	}
}

func TestStopReturnsAfterExit(t *testing.T) {
	s := New(Config{
		AgentID: "agent-1",
		Command: "/bin/sh",
		Args:    []string{"-c", "sleep 60"},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pid := s.PID()
	if pid == 0 {
		t.Fatal("no pid for running child")
	}

	start := time.Now()
	if err := s.Stop(syscall.SIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Running() {
		t.Error("child reported running after Stop returned")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Stop took %s, expected prompt graceful exit", elapsed)
	}
	// The process must actually be gone.
	if err := syscall.Kill(pid, 0); err == nil {
		t.Errorf("pid %d still alive after Stop", pid)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	// The child ignores SIGTERM, so Stop must escalate after the grace
	// window.
	s := New(Config{
		AgentID:     "agent-1",
		Command:     "/bin/sh",
		Args:        []string{"-c", "trap '' TERM; sleep 60"},
		GraceWindow: 200 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Give the shell a moment to install the trap.
	time.Sleep(100 * time.Millisecond)
	if err := s.Stop(syscall.SIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Running() {
		t.Error("child survived SIGKILL escalation")
	}
}

func TestStopSuppressesRestart(t *testing.T) {
	s := New(Config{
		AgentID:      "agent-1",
		Command:      "/bin/sh",
		Args:         []string{"-c", "sleep 60"},
		AutoRestart:  true,
		MaxRestarts:  5,
		RestartDelay: 10 * time.Millisecond,
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Stop(syscall.SIGKILL); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if s.Running() {
		t.Error("child restarted during shutdown")
	}
	if got := s.RestartCount(); got != 0 {
		t.Errorf("restart count = %d, want 0 during shutdown", got)
	}
}

func TestOnOutputForwardsNonMarkerLines(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	s := New(Config{
		AgentID: "agent-1",
		Command: "/bin/sh",
		Args:    []string{"-c", "echo '" + HeartbeatMarker + "'; echo hello; echo world"},
		OnOutput: func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		},
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s, 3*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 2 || lines[0] != "hello" || lines[1] != "world" {
		t.Errorf("forwarded lines = %v, want [hello world]", lines)
	}
	if s.LastHeartbeat().IsZero() {
		t.Error("marker line was not consumed as a heartbeat")
	}
}
