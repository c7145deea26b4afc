package main

import (
	"context"
	"fmt"
	"os"
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
	"github.com/bamops/reconciler/internal/rows"
	"github.com/bamops/reconciler/internal/tabular"
	"github.com/bamops/reconciler/internal/throttle"
)

// rollbackCommand inverts a completed session's recorded results back into
// a row set that undoes it, grounded on internal/rollback.Generate. The
// original input file is re-parsed to recover each row's identity fields,
// since the checkpoint store only carries the operation's outcome, not its
// source row.
func (c *CLI) rollbackCommand() *cobra.Command {
	var sessionID string
	var output string
	var apply bool
	var allowDangerousOps bool

	cmd := &cobra.Command{
		Use:   "rollback <original-file>",
		Short: "Generate (and optionally apply) the inverse of a session's completed operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session-id is required")
			}
			return c.runRollback(cmd.Context(), args[0], sessionID, output, apply, allowDangerousOps)
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session to invert")
	cmd.Flags().StringVar(&output, "output", "", "file to write the generated rollback rows to, instead of applying them")
	cmd.Flags().BoolVar(&apply, "apply", false, "execute the rollback immediately instead of writing it out for review")
	cmd.Flags().BoolVar(&allowDangerousOps, "allow-dangerous-operations", false, "permit deletes of protected kinds (blocks, zones, views, configurations)")
	return cmd
}

func (c *CLI) runRollback(ctx context.Context, originalPath, sessionID, output string, apply, allowDangerousOps bool) error {
	parsed, err := c.parseInput(originalPath)
	if err != nil {
		return err
	}
	original := make(map[string]*rows.Row, len(parsed.Rows))
	for _, r := range parsed.Rows {
		original[r.RowID] = r
	}

	store, err := checkpoint.NewStore(ctx, c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

	results, err := store.ResultsForSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session results: %w", err)
	}
	if len(results) == 0 {
		fmt.Printf("no recorded results for session %s\n", sessionID)
		return nil
	}

	inverse, warnings, err := rollback.Generate(original, results)
	if err != nil {
		return fmt.Errorf("failed to generate rollback: %w", err)
	}
	for _, w := range warnings {
		c.log.Warn("rollback warning", "row_id", w.RowID, "message", w.Message)
	}
	if len(inverse) == 0 {
		fmt.Println("nothing to roll back")
		return nil
	}

	if !apply {
		w := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		if err := tabular.WriteCSV(w, inverse); err != nil {
			return fmt.Errorf("failed to write rollback rows: %w", err)
		}
		if output != "" {
			fmt.Printf("wrote %d rollback row(s) to %s\n", len(inverse), output)
		}
		return nil
	}

	return c.applyRollbackRows(ctx, sessionID, inverse, allowDangerousOps)
}

// applyRollbackRows re-plans and re-executes the generated inverse rows
// under a fresh, derived session id, so the rollback itself is checkpointed
// and changelogged independently of the session it undoes.
func (c *CLI) applyRollbackRows(ctx context.Context, originalSessionID string, inverse []*rows.Row, allowDangerousOps bool) error {
	rollbackSessionID := "rollback-" + originalSessionID

	client := c.clientWithDangerousOps(allowDangerousOps || c.cfg.BAM.AllowDangerousOps)

	res, err := resolver.New(client, c.resolverConfig(false))
	if err != nil {
		return fmt.Errorf("failed to start path resolver: %w", err)
	}
	defer res.Close()

	ops, err := planner.Plan(ctx, res, inverse, identity.Lookup(client), identity.ParentOf(client))
	if err != nil {
		return fmt.Errorf("planning rollback failed: %w", err)
	}

	store, err := checkpoint.NewStore(ctx, c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	defer store.Close()

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
		FailurePolicy:     executor.Continue,
		ConflictPolicy:    executor.ConflictOverwrite,
		AllowDangerousOps: allowDangerousOps || c.cfg.BAM.AllowDangerousOps,
		CheckpointEvery:   c.cfg.Checkpoint.CheckpointEvery,
		CheckpointPeriod:  c.cfg.Executor.CheckpointPeriod,
		SessionID:         rollbackSessionID,
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
			c.log.Warn("failed to persist rollback result", "row_id", r.RowID, "error", err)
		}
	}

	if err := rollback.WriteChangelog(c.cfg.Checkpoint.ChangelogDir, rollbackSessionID, results); err != nil {
		c.log.Warn("failed to write changelog", "session_id", rollbackSessionID, "error", err)
	}

	fmt.Printf("rollback session %s: %d succeeded, %d failed, %d total\n", rollbackSessionID, succeeded, failed, len(results))
	if runErr != nil {
		return fmt.Errorf("rollback execution aborted: %w", runErr)
	}
	if failed > 0 {
		return fmt.Errorf("%d rollback operation(s) failed; see session %s for detail", failed, rollbackSessionID)
	}
	return nil
}
