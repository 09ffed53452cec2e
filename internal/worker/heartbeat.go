// Package worker is the child-process side of a supervised agent: it
// reads its injected identity from the environment, emits heartbeats,
// and executes task payloads against the Anthropic API.
package worker

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/foremanhq/foreman/internal/supervisor"
)

// DefaultHeartbeatInterval applies when the parent did not inject one.
const DefaultHeartbeatInterval = 5 * time.Second

// Identity is the agent identity the supervisor injects into the child
// environment.
type Identity struct {
	AgentID           string
	AgentName         string
	ParentPID         int
	HeartbeatInterval time.Duration
}

// IdentityFromEnv reads the injected identity. It fails when the agent id
// is missing, which means the process was not started by a supervisor.
func IdentityFromEnv() (Identity, error) {
	id := Identity{
		AgentID:           os.Getenv(supervisor.EnvAgentID),
		AgentName:         os.Getenv(supervisor.EnvAgentName),
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
	if id.AgentID == "" {
		return Identity{}, fmt.Errorf("%s is not set: not running under a supervisor", supervisor.EnvAgentID)
	}
	if v := os.Getenv(supervisor.EnvParentPID); v != "" {
		pid, err := strconv.Atoi(v)
		if err != nil {
			return Identity{}, fmt.Errorf("parse %s: %w", supervisor.EnvParentPID, err)
		}
		id.ParentPID = pid
	}
	if v := os.Getenv(supervisor.EnvHeartbeatIntervalMS); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Identity{}, fmt.Errorf("parse %s: %w", supervisor.EnvHeartbeatIntervalMS, err)
		}
		if ms > 0 {
			id.HeartbeatInterval = time.Duration(ms) * time.Millisecond
		}
	}
	return id, nil
}

// HeartbeatEmitter writes liveness marker lines for the supervisor to
// consume from the child's stdout.
type HeartbeatEmitter struct {
	w        io.Writer
	interval time.Duration
}

// NewHeartbeatEmitter creates an emitter writing to w at the given
// interval.
func NewHeartbeatEmitter(w io.Writer, interval time.Duration) *HeartbeatEmitter {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatEmitter{w: w, interval: interval}
}

// Run emits one marker immediately, then one per interval until the
// context is cancelled. The immediate beat keeps a slow first task from
// tripping the supervisor's first-heartbeat deadline.
func (e *HeartbeatEmitter) Run(ctx context.Context) {
	e.beat()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.beat()
		}
	}
}

func (e *HeartbeatEmitter) beat() {
	fmt.Fprintf(e.w, "%s %d\n", supervisor.HeartbeatMarker, time.Now().UnixMilli())
}
