// Package executor implements the adaptively-throttled concurrent driver
// (C8): it walks the dependency graph, spawning one goroutine per
// newly-ready operation, resolving deferred cross-row references,
// dispatching to the handler registry, and feeding results back into the
// throttle's feedback loop and the checkpoint store.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/checkpoint"
	"github.com/bamops/reconciler/internal/core"
	"github.com/bamops/reconciler/internal/depgraph"
	"github.com/bamops/reconciler/internal/handlers"
	"github.com/bamops/reconciler/internal/planner"
	"github.com/bamops/reconciler/internal/throttle"
	"github.com/bamops/reconciler/pkg/metrics"
)

// FailurePolicy governs what happens to outstanding work after a failure.
type FailurePolicy string

const (
	FailFast  FailurePolicy = "fail_fast"
	FailGroup FailurePolicy = "fail_group"
	Continue  FailurePolicy = "continue"
)

// ConflictPolicy governs how a 409-on-create is resolved once the
// colliding entity has been looked up.
type ConflictPolicy string

const (
	ConflictFail      ConflictPolicy = "fail"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictMerge     ConflictPolicy = "merge"
	ConflictManual    ConflictPolicy = "manual"
)

// IdentityLookup resolves a conflicting create's target identity to its
// existing remote entity, reusing the same shape the planner consumes.
type IdentityLookup func(ctx context.Context, op *planner.Operation) (*bamclient.Entity, error)

// Config tunes executor behaviour.
type Config struct {
	FailurePolicy     FailurePolicy
	ConflictPolicy    ConflictPolicy
	DryRun            bool
	AllowDangerousOps bool
	CheckpointEvery   int
	CheckpointPeriod  time.Duration
	SessionID         string
	BatchID           int
}

// Executor drives a planned operation set to completion.
type Executor struct {
	cfg      Config
	client   *bamclient.Client
	registry handlers.Registry
	throttle *throttle.Throttle
	store    checkpoint.Store
	lookup   IdentityLookup
	logger   *slog.Logger
	metrics  *metrics.PipelineMetrics

	mu             sync.Mutex
	resolved       map[string]resolvedRef // producer row_id -> resolved parent reference
	upstreamFailed map[string]bool        // row_id -> ancestor failed
	results        []*checkpoint.Result
	cancelErr      error
	completed      int
	total          int
	lastCheckpoint time.Time

	dryRunSeq int64
}

// resolvedRef is what a completed create leaves behind for dependents
// waiting on it as a deferred parent: the concrete resource id and the
// collection it was created under.
type resolvedRef struct {
	ID         int64
	Collection string
}

// New builds an Executor. store and lookup may be nil for callers that
// don't need checkpointing or conflict rebinding (e.g. rollback replays).
func New(cfg Config, client *bamclient.Client, registry handlers.Registry, th *throttle.Throttle, store checkpoint.Store, lookup IdentityLookup, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		cfg:            cfg,
		client:         client,
		registry:       registry,
		throttle:       th,
		store:          store,
		lookup:         lookup,
		logger:         logger,
		metrics:        metrics.NewPipelineMetrics(),
		resolved:       map[string]resolvedRef{},
		upstreamFailed: map[string]bool{},
		lastCheckpoint: time.Now(),
	}
}

// throttleAdjustTick is how often the executor polls the adaptive
// throttle's feedback loop; MaybeAdjust itself is a no-op between its own
// configured AdjustmentInterval, so this only needs to undercut that.
const throttleAdjustTick = time.Second

// Run drives graph to completion, returning every result in completion
// order. ctx cancellation (from the caller or fail_fast) propagates to
// every in-flight and not-yet-started task.
func (e *Executor) Run(ctx context.Context, graph *depgraph.Graph) ([]*checkpoint.Result, error) {
	e.total = graph.Len()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adjustDone := make(chan struct{})
	go e.runAdjustLoop(ctx, adjustDone)

	var wg sync.WaitGroup
	var launch func(n *depgraph.Node)
	launch = func(n *depgraph.Node) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runOne(ctx, graph, n, cancel, launch)
		}()
	}

	for _, n := range graph.Ready() {
		launch(n)
	}
	wg.Wait()
	cancel()
	<-adjustDone

	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*checkpoint.Result(nil), e.results...), e.cancelErr
}

// runAdjustLoop periodically drives the throttle's error-rate/latency
// feedback loop until ctx is cancelled, so the concurrency limit actually
// responds to what Run observes instead of sitting at InitialLimit for the
// whole session.
func (e *Executor) runAdjustLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(throttleAdjustTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.throttle.MaybeAdjust()
		}
	}
}

func (e *Executor) runOne(ctx context.Context, graph *depgraph.Graph, n *depgraph.Node, cancel context.CancelFunc, launch func(*depgraph.Node)) {
	op, ok := n.Payload.(*planner.Operation)
	if !ok {
		e.advance(graph, n.RowID, launch)
		return
	}

	if e.isUpstreamFailed(op) {
		e.recordUpstreamFailure(op)
		e.advance(graph, op.RowID, launch)
		return
	}

	if op.OperationType == planner.OpNoop {
		e.recordResult(&checkpoint.Result{
			SessionID: e.cfg.SessionID, RowID: op.RowID, ObjectType: string(op.ObjectType),
			OperationType: string(op.OperationType), Success: true, RecordedAt: recordedAt(),
		})
		e.advance(graph, op.RowID, launch)
		return
	}

	if err := e.throttle.Acquire(ctx); err != nil {
		e.recordResult(&checkpoint.Result{
			SessionID: e.cfg.SessionID, RowID: op.RowID, ObjectType: string(op.ObjectType),
			OperationType: string(op.OperationType), Success: false, ErrorKind: "cancelled",
			ErrorMessage: err.Error(), RecordedAt: recordedAt(),
		})
		e.markFailed(op.RowID)
		e.advance(graph, op.RowID, launch)
		return
	}

	start := time.Now()
	resourceID, priorState, retried, err := e.execute(ctx, op)
	latency := time.Since(start)
	e.throttle.Release()

	success := err == nil
	if success {
		e.throttle.RecordSuccess(latency)
		e.mu.Lock()
		if resourceID != 0 {
			collection := ""
			if h, ok := e.registry[op.ObjectType]; ok {
				collection = h.Collection()
			}
			e.resolved[op.RowID] = resolvedRef{ID: resourceID, Collection: collection}
			op.ResourceID = resourceID
		}
		e.mu.Unlock()
	} else {
		e.throttle.RecordFailure(errors.Is(err, core.ErrRateLimited))
		e.markFailed(op.RowID)
	}

	e.metrics.OperationDuration.WithLabelValues(string(op.ObjectType), string(op.OperationType)).Observe(latency.Seconds())
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	e.metrics.OperationsTotal.WithLabelValues(string(op.ObjectType), string(op.OperationType), outcome).Inc()
	e.metrics.ThrottleLimit.Set(float64(e.throttle.Limit()))
	e.metrics.ThrottleActive.Set(float64(e.throttle.Active()))

	result := &checkpoint.Result{
		SessionID: e.cfg.SessionID, RowID: op.RowID, ObjectType: string(op.ObjectType),
		OperationType: string(op.OperationType), Success: success, DurationMS: latency.Milliseconds(),
		Retried: retried, PriorState: priorState, RecordedAt: recordedAt(),
	}
	if resourceID != 0 {
		result.ResourceID = &resourceID
	}
	if err != nil {
		result.ErrorKind = classify(err)
		result.ErrorMessage = err.Error()
	}
	e.recordResult(result)
	e.maybeCheckpoint(ctx)

	if !success {
		e.applyFailurePolicy(op, graph, cancel)
	}

	e.advance(graph, op.RowID, launch)
}

// execute resolves deferred references, snapshots prior state for
// update/delete, and dispatches to the handler registry (or synthesizes a
// fake id under dry-run).
func (e *Executor) execute(ctx context.Context, op *planner.Operation) (resourceID int64, priorState map[string]any, retried bool, err error) {
	e.resolveDeferred(op)

	h, ok := e.registry[op.ObjectType]
	if !ok {
		return 0, nil, false, fmt.Errorf("%w: no handler registered for object_type %q", core.ErrFatal, op.ObjectType)
	}

	if e.cfg.DryRun {
		if op.OperationType == planner.OpCreate {
			e.mu.Lock()
			e.dryRunSeq++
			resourceID = -e.dryRunSeq
			e.mu.Unlock()
		} else {
			resourceID = op.ResourceID
		}
		return resourceID, priorState, false, nil
	}

	if op.OperationType == planner.OpUpdate || op.OperationType == planner.OpDelete {
		if entity, getErr := e.client.GetByID(ctx, h.Collection(), op.ResourceID); getErr == nil && entity != nil {
			priorState = entity.Properties
			if priorState == nil {
				priorState = map[string]any{}
			}
			for _, identity := range []struct{ key, val string }{
				{"name", entity.Name}, {"address", entity.Address}, {"absolute_name", entity.AbsoluteName}, {"range", entity.Range},
			} {
				if identity.val != "" {
					priorState[identity.key] = identity.val
				}
			}
		}
	}

	entity, dispatchErr := handlers.Dispatch(ctx, e.registry, e.client, op, e.cfg.AllowDangerousOps)
	if dispatchErr != nil && op.OperationType == planner.OpCreate && errors.Is(dispatchErr, core.ErrConflict) {
		rebound, rerr := e.resolveConflict(ctx, op)
		if rerr != nil {
			return 0, priorState, true, rerr
		}
		return rebound, priorState, true, nil
	}
	if dispatchErr != nil {
		return 0, priorState, false, dispatchErr
	}
	if entity != nil {
		return entity.ID, priorState, false, nil
	}
	return op.ResourceID, priorState, false, nil
}

// resolveConflict rebinds a create that collided with an existing entity,
// per the configured conflict policy.
func (e *Executor) resolveConflict(ctx context.Context, op *planner.Operation) (int64, error) {
	if e.lookup == nil {
		return 0, fmt.Errorf("%w: conflict on create with no identity lookup configured", core.ErrConflict)
	}
	existing, err := e.lookup(ctx, op)
	if err != nil {
		return 0, fmt.Errorf("conflict lookup failed: %w", err)
	}
	if existing == nil {
		return 0, fmt.Errorf("%w: create conflicted but identity lookup found nothing", core.ErrConflict)
	}

	switch e.cfg.ConflictPolicy {
	case ConflictOverwrite, ConflictMerge:
		op.OperationType = planner.OpUpdate
		op.ResourceID = existing.ID
		updated, err := handlers.Dispatch(ctx, e.registry, e.client, op, e.cfg.AllowDangerousOps)
		if err != nil {
			return 0, err
		}
		if updated != nil {
			return updated.ID, nil
		}
		return existing.ID, nil
	case ConflictManual:
		return 0, fmt.Errorf("%w: create conflicted, manual resolution required for row %s", core.ErrConflict, op.RowID)
	default: // ConflictFail and unset
		return 0, fmt.Errorf("%w: create conflicted with existing entity %d", core.ErrConflict, existing.ID)
	}
}

// resolveDeferred fills in op.ParentID/ParentCollection from the producer
// row named by op.DeferredParentRowID, once that row's create has
// completed. A row whose parent was resolved directly against the remote
// store (ParentID already set) or that declares no deferred parent is a
// no-op.
func (e *Executor) resolveDeferred(op *planner.Operation) {
	if op.ParentID != 0 || op.DeferredParentRowID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ref, ok := e.resolved[op.DeferredParentRowID]; ok {
		op.ParentID = ref.ID
		op.ParentCollection = ref.Collection
	}
}

func (e *Executor) isUpstreamFailed(op *planner.Operation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dep := range op.Dependencies {
		if e.upstreamFailed[dep] {
			return true
		}
	}
	return false
}

func (e *Executor) markFailed(rowID string) {
	e.mu.Lock()
	e.upstreamFailed[rowID] = true
	e.mu.Unlock()
}

func (e *Executor) recordUpstreamFailure(op *planner.Operation) {
	e.recordResult(&checkpoint.Result{
		SessionID: e.cfg.SessionID, RowID: op.RowID, ObjectType: string(op.ObjectType),
		OperationType: string(op.OperationType), Success: false, ErrorKind: "upstream-failure",
		ErrorMessage: "a dependency failed", RecordedAt: recordedAt(),
	})
	e.markFailed(op.RowID)
}

func (e *Executor) applyFailurePolicy(op *planner.Operation, graph *depgraph.Graph, cancel context.CancelFunc) {
	switch e.cfg.FailurePolicy {
	case FailFast:
		e.mu.Lock()
		if e.cancelErr == nil {
			e.cancelErr = fmt.Errorf("row %s failed under fail_fast policy", op.RowID)
		}
		e.mu.Unlock()
		cancel()
	case FailGroup:
		e.markSuccessorsFailed(graph, op.RowID)
	case Continue, "":
		e.markFailed(op.RowID)
	}
}

// markSuccessorsFailed transitively propagates upstream-failure to every
// row depending (directly or indirectly) on rowID.
func (e *Executor) markSuccessorsFailed(graph *depgraph.Graph, rowID string) {
	queue := graph.Successors(rowID)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		e.mu.Lock()
		already := e.upstreamFailed[id]
		e.upstreamFailed[id] = true
		e.mu.Unlock()
		if !already {
			queue = append(queue, graph.Successors(id)...)
		}
	}
}

func (e *Executor) advance(graph *depgraph.Graph, rowID string, launch func(*depgraph.Node)) {
	unblocked := graph.Complete(rowID)
	for _, n := range unblocked {
		launch(n)
	}
}

func (e *Executor) recordResult(r *checkpoint.Result) {
	e.mu.Lock()
	e.results = append(e.results, r)
	e.completed++
	e.mu.Unlock()
}

// maybeCheckpoint persists progress when either CheckpointEvery completions
// or CheckpointPeriod has elapsed since the last write, whichever comes
// first.
func (e *Executor) maybeCheckpoint(ctx context.Context) {
	if e.store == nil {
		return
	}

	e.mu.Lock()
	due := e.completed%maxInt(e.cfg.CheckpointEvery, 1) == 0 || time.Since(e.lastCheckpoint) >= e.cfg.CheckpointPeriod
	completed := e.completed
	results := append([]*checkpoint.Result(nil), e.results...)
	if due {
		e.lastCheckpoint = time.Now()
	}
	e.mu.Unlock()

	if !due {
		return
	}

	for _, r := range results {
		if err := e.store.RecordResult(ctx, r); err != nil {
			e.logger.Warn("failed to persist result", "row_id", r.RowID, "error", err)
		}
	}

	cp := &checkpoint.Checkpoint{
		SessionID: e.cfg.SessionID, BatchID: e.cfg.BatchID, OperationIndex: completed,
		TotalOperations: e.total, CompletedOperations: completed, Status: checkpoint.StatusInProgress,
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		e.logger.Warn("failed to persist checkpoint", "session_id", e.cfg.SessionID, "error", err)
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, core.ErrConflict):
		return "conflict"
	case errors.Is(err, core.ErrNotFound):
		return "not-found"
	case errors.Is(err, core.ErrRateLimited):
		return "rate-limited"
	case errors.Is(err, core.ErrTransientNetwork):
		return "transient-network"
	case errors.Is(err, core.ErrAuthExpired):
		return "auth-expired"
	case errors.Is(err, core.ErrPermissionDenied):
		return "permission-denied"
	case errors.Is(err, core.ErrValidation):
		return "validation"
	case errors.Is(err, core.ErrUpstreamFailure):
		return "upstream-failure"
	case errors.Is(err, core.ErrFatal):
		return "fatal"
	default:
		return "unknown"
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func recordedAt() time.Time { return time.Now().UTC() }
