package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/poltergeist/packer-driver/pkg/process"
	"github.com/poltergeist/packer-driver/pkg/state"
	"github.com/poltergeist/packer-driver/pkg/types"
	"github.com/spf13/cobra"
)

var waitableStatuses = []types.BuildStatus{
	types.BuildStatusIdle,
	types.BuildStatusBuilding,
	types.BuildStatusSucceeded,
	types.BuildStatusFailed,
}

func (c *CLI) newWaitCmd() *cobra.Command {
	var timeout time.Duration
	var targets []string
	var status string
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for targets to reach a build status",
		Long: `Wait until the targets of a running watch session reach a build status.
This command is useful in scripts that need a finished build before they run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWait(cmd.Context(), targets, types.BuildStatus(status), timeout, pollInterval)
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Minute, "give up after this long (0 waits forever)")
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "targets to wait for (default: editor,preview)")
	cmd.Flags().StringVarP(&status, "status", "s", string(types.BuildStatusSucceeded), "status to wait for (idle, building, succeeded, failed)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "how often to read target state")

	return cmd
}

// WaitResult represents the result of waiting for a target
type WaitResult struct {
	Target   string
	Status   types.BuildStatus
	Duration time.Duration
	Success  bool
	TimedOut bool
	Error    error
}

func (c *CLI) runWait(ctx context.Context, targets []string, status types.BuildStatus, timeout, pollInterval time.Duration) error {
	if !slices.Contains(waitableStatuses, status) {
		return fmt.Errorf("invalid status '%s'. Valid statuses: idle, building, succeeded, failed", status)
	}
	if pollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	if len(targets) == 0 {
		targets = types.PredefinedTargets
	}
	for _, name := range targets {
		if !slices.Contains(types.PredefinedTargets, name) {
			return fmt.Errorf("unknown target %q", name)
		}
	}

	p, err := c.loadProject()
	if err != nil {
		return err
	}

	c.printInfo(fmt.Sprintf("Waiting for %d target(s) to reach status '%s'", len(targets), status))

	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sm := state.NewStateManager(p.stateDir(), c.logger)
	results := c.waitForTargets(ctx, sm, targets, status, pollInterval)
	return c.displayWaitResults(results)
}

// waitForTargets polls target state until every target reached status or
// ctx is done. A target without a state file is still starting up; one
// whose owning process died will never change again.
func (c *CLI) waitForTargets(ctx context.Context, sm *state.StateManager, targetNames []string, targetStatus types.BuildStatus, pollInterval time.Duration) []WaitResult {
	startTime := time.Now()
	results := make([]WaitResult, len(targetNames))
	for i, name := range targetNames {
		results[i] = WaitResult{Target: name}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	completed := make(map[string]bool)
	poll := func() bool {
		allCompleted := true
		for i, targetName := range targetNames {
			if completed[targetName] {
				continue
			}

			currentState, err := sm.ReadState(targetName)
			if err != nil {
				allCompleted = false
				continue
			}
			results[i].Status = currentState.BuildStatus

			if currentState.BuildStatus == targetStatus {
				results[i].Success = true
				results[i].Duration = time.Since(startTime)
				completed[targetName] = true
				c.printSuccess(fmt.Sprintf("Target '%s' reached status '%s'", targetName, targetStatus))
			} else if pid := currentState.ProcessID; pid != 0 && !process.IsAlive(pid) {
				results[i].Error = fmt.Errorf("owning process %d exited", pid)
				results[i].Duration = time.Since(startTime)
				completed[targetName] = true
			} else {
				allCompleted = false
			}
		}
		return allCompleted
	}

	if poll() {
		return results
	}
	for {
		select {
		case <-ctx.Done():
			for i := range results {
				if !completed[results[i].Target] {
					results[i].TimedOut = true
					results[i].Duration = time.Since(startTime)
				}
			}
			return results

		case <-ticker.C:
			if poll() {
				return results
			}
		}
	}
}

// displayWaitResults prints one line per target and fails unless every
// target reached the status
func (c *CLI) displayWaitResults(results []WaitResult) error {
	successCount := 0
	timeoutCount := 0
	errorCount := 0

	for _, result := range results {
		var status string
		switch {
		case result.Error != nil:
			status = fmt.Sprintf("ERROR: %v", result.Error)
			errorCount++
		case result.TimedOut:
			status = fmt.Sprintf("TIMEOUT (last status: %s)", result.Status)
			timeoutCount++
		case result.Success:
			status = "SUCCESS"
			successCount++
		default:
			status = fmt.Sprintf("INCOMPLETE (status: %s)", result.Status)
		}

		fmt.Fprintf(c.out, "  %-20s %-30s %v\n", result.Target, status, result.Duration.Round(time.Millisecond))
	}

	c.printInfo(fmt.Sprintf("Summary: %d reached, %d timed out, %d errors", successCount, timeoutCount, errorCount))

	if successCount != len(results) {
		return fmt.Errorf("not all targets reached the desired status")
	}
	return nil
}
