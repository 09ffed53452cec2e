package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Agent workflow orchestration core",
	Long: `Foreman drives a plan of interdependent tasks through a pool of
supervised agent processes.

Each tick it unblocks tasks whose dependencies closed, retries failed
tasks within a bounded budget, and assigns ready tasks to idle agents,
side work before the critical path. Agents run as heartbeat-supervised
child processes; execution can suspend on a human decision and resume
when it is answered.

Core capabilities:
- Task state machine with review-gated closing and capped retries
- Dependency-aware scheduling with role inference and substitution
- Checkpointing recovery with exponential backoff and escalation
- Per-class concurrency quotas with hot-reloadable policy
- FIFO runtime admission queue
- Heartbeat supervision with bounded auto-restart`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
