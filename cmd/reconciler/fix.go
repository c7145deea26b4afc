package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamops/reconciler/internal/checkpoint"
	"github.com/bamops/reconciler/internal/depgraph"
	"github.com/bamops/reconciler/internal/executor"
	"github.com/bamops/reconciler/internal/handlers"
	"github.com/bamops/reconciler/internal/identity"
	"github.com/bamops/reconciler/internal/planner"
	"github.com/bamops/reconciler/internal/resolver"
	"github.com/bamops/reconciler/internal/rollback"
	"github.com/bamops/reconciler/internal/throttle"
)

// fixCommand re-plans the same input file and re-executes only the rows
// that a prior session under --session-id recorded as failed, appending
// the new attempts to that same session's checkpoints and changelog.
func (c *CLI) fixCommand() *cobra.Command {
	var sessionID string
	var allowDangerousOps bool

	cmd := &cobra.Command{
		Use:   "fix <file>",
		Short: "Retry only the rows a previous session failed on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session-id is required")
			}
			return c.runFix(cmd.Context(), args[0], sessionID, allowDangerousOps)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session whose failed rows should be retried")
	cmd.Flags().BoolVar(&allowDangerousOps, "allow-dangerous-operations", false, "permit deletes of protected kinds (blocks, zones, views, configurations)")
	return cmd
}

func (c *CLI) runFix(ctx context.Context, path, sessionID string, allowDangerousOps bool) error {
	parsed, err := c.parseInput(path)
	if err != nil {
		return err
	}
	if len(parsed.Rows) == 0 {
		fmt.Println("no valid rows to reconcile")
		return nil
	}

	client := c.clientWithDangerousOps(allowDangerousOps || c.cfg.BAM.AllowDangerousOps)

	res, err := resolver.New(client, c.resolverConfig(false))
	if err != nil {
		return fmt.Errorf("failed to start path resolver: %w", err)
	}
	defer res.Close()

	ops, err := planner.Plan(ctx, res, parsed.Rows, identity.Lookup(client), identity.ParentOf(client))
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	store, err := checkpoint.NewStore(ctx, c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	ops, err = filterPreviouslyFailed(ctx, store, sessionID, ops)
	if err != nil {
		return fmt.Errorf("failed to inspect prior session: %w", err)
	}
	if len(ops) == 0 {
		fmt.Println("nothing to retry: session recorded no failed rows among these inputs")
		return nil
	}

	nodes := make([]*depgraph.Node, 0, len(ops))
	for _, op := range ops {
		nodes = append(nodes, &depgraph.Node{RowID: op.RowID, Dependencies: op.Dependencies, Payload: op})
	}
	graph, err := depgraph.Build(nodes)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}

	th := throttle.New(throttle.Config{
		InitialLimit:       c.cfg.Throttle.InitialLimit,
		Min:                c.cfg.Throttle.MinLimit,
		Max:                c.cfg.Throttle.MaxLimit,
		AdjustmentInterval: throttle.DefaultConfig().AdjustmentInterval,
		HealthyErrorRate:   c.cfg.Throttle.ErrorRateLow,
		UnhealthyErrorRate: c.cfg.Throttle.ErrorRateHigh,
		HighLatencyMS:      throttle.DefaultConfig().HighLatencyMS,
		IncreaseFactor:     throttle.DefaultConfig().IncreaseFactor,
		DecreaseFactor:     throttle.DefaultConfig().DecreaseFactor,
		RateLimitFactor:    throttle.DefaultConfig().RateLimitFactor,
		LatencyWindow:      throttle.DefaultConfig().LatencyWindow,
	})

	exec := executor.New(executor.Config{
		FailurePolicy:     resolveFailurePolicy("", c.cfg.Executor.FailurePolicy),
		ConflictPolicy:    resolveConflictPolicy("", c.cfg.Executor.ConflictPolicy),
		AllowDangerousOps: allowDangerousOps || c.cfg.BAM.AllowDangerousOps,
		CheckpointEvery:   c.cfg.Checkpoint.CheckpointEvery,
		CheckpointPeriod:  c.cfg.Executor.CheckpointPeriod,
		SessionID:         sessionID,
		BatchID:           int(time.Now().UTC().Unix()),
	}, client, handlers.DefaultRegistry(), th, store, identity.ConflictLookup(client), c.log)

	results, runErr := exec.Run(ctx, graph)

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
		if err := store.RecordResult(ctx, r); err != nil {
			c.log.Warn("failed to persist retried result", "row_id", r.RowID, "error", err)
		}
	}

	if err := rollback.WriteChangelog(c.cfg.Checkpoint.ChangelogDir, sessionID, results); err != nil {
		c.log.Warn("failed to write changelog", "session_id", sessionID, "error", err)
	}

	fmt.Printf("session %s retry: %d succeeded, %d failed, %d retried\n", sessionID, succeeded, failed, len(results))
	if runErr != nil {
		return fmt.Errorf("retry aborted: %w", runErr)
	}
	if failed > 0 {
		return fmt.Errorf("%d operation(s) still failing; see session %s for detail", failed, sessionID)
	}
	return nil
}

// filterPreviouslyFailed keeps only the operations whose row_id the session
// previously recorded a failed result for; rows the session never touched,
// or already recorded successful, are left out of a fix run.
func filterPreviouslyFailed(ctx context.Context, store checkpoint.Store, sessionID string, ops []*planner.Operation) ([]*planner.Operation, error) {
	prior, err := store.ResultsForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	failedBefore := make(map[string]bool, len(prior))
	for _, r := range prior {
		failedBefore[r.RowID] = !r.Success
	}

	out := make([]*planner.Operation, 0, len(ops))
	for _, op := range ops {
		if failedBefore[op.RowID] {
			out = append(out, op)
		}
	}
	return out, nil
}
