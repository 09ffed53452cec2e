package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/worker"
)

// workerCmd is the child-process entrypoint spawned by the supervisor.
// It is hidden from help output: users never run it directly.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run as a supervised agent process",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context())
	},
}

func runWorker(parent context.Context) error {
	identity, err := worker.IdentityFromEnv()
	if err != nil {
		return fmt.Errorf("worker startup: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Heartbeats go to stdout, where the parent supervisor scans for
	// them. The process stays alive until the supervisor stops it.
	emitter := worker.NewHeartbeatEmitter(os.Stdout, identity.HeartbeatInterval)
	emitter.Run(ctx)
	return nil
}
