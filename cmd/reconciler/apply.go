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
	"github.com/bamops/reconciler/internal/tabular"
	"github.com/bamops/reconciler/internal/throttle"
)

type applyFlags struct {
	dryRun            bool
	allowDangerousOps bool
	resume            bool
	noCache           bool
	sessionID         string
	failurePolicy     string
	conflictPolicy    string
}

func (c *CLI) applyCommand() *cobra.Command {
	flags := &applyFlags{}

	cmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Reconcile a tabular input file against the Address-Management API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runApply(cmd.Context(), args[0], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "plan operations without performing any writes")
	cmd.Flags().BoolVar(&flags.allowDangerousOps, "allow-dangerous-operations", false, "permit deletes of protected kinds (blocks, zones, views, configurations)")
	cmd.Flags().BoolVar(&flags.resume, "resume", true, "skip rows already recorded successful under --session-id")
	cmd.Flags().BoolVar(&flags.noCache, "no-cache", false, "bypass the path resolver's cache tiers")
	cmd.Flags().StringVar(&flags.sessionID, "session-id", "", "session identifier for checkpointing and rollback (generated if omitted)")
	cmd.Flags().StringVar(&flags.failurePolicy, "failure-policy", "", "fail_fast, fail_group, or continue (defaults to config)")
	cmd.Flags().StringVar(&flags.conflictPolicy, "conflict-policy", "", "fail, overwrite, merge, or manual (defaults to config)")

	return cmd
}

func (c *CLI) runApply(ctx context.Context, path string, flags *applyFlags) error {
	sessionID := flags.sessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}

	parsed, err := c.parseInput(path)
	if err != nil {
		return err
	}
	if len(parsed.Errors) > 0 {
		for _, verr := range parsed.Errors {
			c.log.Warn("row validation error", "detail", verr.Error())
		}
	}
	if len(parsed.Rows) == 0 {
		fmt.Println("no valid rows to reconcile")
		return nil
	}

	client := c.clientWithDangerousOps(flags.allowDangerousOps || c.cfg.BAM.AllowDangerousOps)

	res, err := resolver.New(client, c.resolverConfig(flags.noCache))
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

	if flags.resume && flags.sessionID != "" {
		ops, err = filterAlreadyDone(ctx, store, sessionID, ops)
		if err != nil {
			return fmt.Errorf("failed to resume session: %w", err)
		}
	}
	if len(ops) == 0 {
		fmt.Println("nothing left to do: every row already recorded successful")
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
		FailurePolicy:     resolveFailurePolicy(flags.failurePolicy, c.cfg.Executor.FailurePolicy),
		ConflictPolicy:    resolveConflictPolicy(flags.conflictPolicy, c.cfg.Executor.ConflictPolicy),
		DryRun:            flags.dryRun || c.cfg.Executor.DryRun,
		AllowDangerousOps: flags.allowDangerousOps || c.cfg.BAM.AllowDangerousOps,
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
			c.log.Warn("failed to persist final result", "row_id", r.RowID, "error", err)
		}
	}

	finalStatus := checkpoint.StatusCompleted
	if failed > 0 {
		finalStatus = checkpoint.StatusFailed
	}
	if err := store.SaveCheckpoint(ctx, &checkpoint.Checkpoint{
		SessionID: sessionID, BatchID: int(time.Now().UTC().Unix()), OperationIndex: len(results),
		TotalOperations: len(ops), CompletedOperations: len(results), Status: finalStatus,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		c.log.Warn("failed to persist final checkpoint", "session_id", sessionID, "error", err)
	}

	if err := rollback.WriteChangelog(c.cfg.Checkpoint.ChangelogDir, sessionID, results); err != nil {
		c.log.Warn("failed to write changelog", "session_id", sessionID, "error", err)
	}

	fmt.Printf("session %s: %d succeeded, %d failed, %d total\n", sessionID, succeeded, failed, len(results))
	if runErr != nil {
		return fmt.Errorf("execution aborted: %w", runErr)
	}
	if failed > 0 {
		return fmt.Errorf("%d operation(s) failed; see session %s for detail", failed, sessionID)
	}
	return nil
}

func (c *CLI) parseInput(path string) (*tabular.ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	result, err := tabular.Parse(f, tabular.ModeWarn)
	if err != nil {
		return nil, fmt.Errorf("parse failed: %w", err)
	}
	return result, nil
}

func resolveFailurePolicy(flag, configured string) executor.FailurePolicy {
	v := flag
	if v == "" {
		v = configured
	}
	switch v {
	case string(executor.FailFast):
		return executor.FailFast
	case string(executor.Continue):
		return executor.Continue
	default:
		return executor.FailGroup
	}
}

func resolveConflictPolicy(flag, configured string) executor.ConflictPolicy {
	v := flag
	if v == "" {
		v = configured
	}
	switch v {
	case string(executor.ConflictOverwrite):
		return executor.ConflictOverwrite
	case string(executor.ConflictMerge):
		return executor.ConflictMerge
	case string(executor.ConflictManual):
		return executor.ConflictManual
	default:
		return executor.ConflictFail
	}
}

func filterAlreadyDone(ctx context.Context, store checkpoint.Store, sessionID string, ops []*planner.Operation) ([]*planner.Operation, error) {
	prior, err := store.ResultsForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(prior) == 0 {
		return ops, nil
	}

	done := make(map[string]bool, len(prior))
	for _, r := range prior {
		if r.Success {
			done[r.RowID] = true
		}
	}

	remaining := make([]*planner.Operation, 0, len(ops))
	for _, op := range ops {
		if !done[op.RowID] {
			remaining = append(remaining, op)
		}
	}
	return remaining, nil
}
