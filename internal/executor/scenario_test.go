package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/checkpoint"
	"github.com/bamops/reconciler/internal/core"
	"github.com/bamops/reconciler/internal/depgraph"
	"github.com/bamops/reconciler/internal/handlers"
	"github.com/bamops/reconciler/internal/planner"
	"github.com/bamops/reconciler/internal/resolver"
	"github.com/bamops/reconciler/internal/rows"
	"github.com/bamops/reconciler/internal/throttle"
)

// These scenario tests mirror the end-to-end acceptance scenarios that seed
// the whole pipeline's test suite: a tabular row set is planned with
// planner.Plan, turned into a dependency graph, and driven to completion by
// Executor.Run against a fake in-memory bamclient backend, rather than unit
// testing the executor against hand-built *planner.Operation values the way
// executor_test.go does.

func alwaysPathNotFound(ctx context.Context, res *resolver.Resolver, row *rows.Row) (planner.ParentRef, error) {
	return planner.ParentRef{}, core.ErrPathNotFound
}

func nothingExists(ctx context.Context, row *rows.Row) (*bamclient.Entity, error) {
	return nil, nil
}

func buildGraph(t *testing.T, ops []*planner.Operation) *depgraph.Graph {
	t.Helper()
	nodes := make([]*depgraph.Node, 0, len(ops))
	for _, op := range ops {
		nodes = append(nodes, &depgraph.Node{RowID: op.RowID, Dependencies: op.Dependencies, Payload: op})
	}
	graph, err := depgraph.Build(nodes)
	require.NoError(t, err)
	return graph
}

func TestScenario_HierarchyCreate(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()
	client := newTestClient(srv.URL)

	data := []*rows.Row{
		{RowID: "row-c1", Action: rows.ActionCreate, ObjectType: rows.ObjectConfiguration, Fields: map[string]string{"name": "C1"}},
		{RowID: "row-block", Action: rows.ActionCreate, ObjectType: rows.ObjectIP4Block, Fields: map[string]string{"cidr": "10.0.0.0/8", "parent_path": "C1"}},
		{RowID: "row-network", Action: rows.ActionCreate, ObjectType: rows.ObjectIP4Network, Fields: map[string]string{"cidr": "10.0.1.0/24", "parent_path": "10.0.0.0/8"}},
		{RowID: "row-address", Action: rows.ActionCreate, ObjectType: rows.ObjectIP4Address, Fields: map[string]string{"address": "10.0.1.5", "parent_path": "10.0.1.0/24"}},
	}

	ops, err := planner.Plan(context.Background(), nil, data, nothingExists, alwaysPathNotFound)
	require.NoError(t, err)

	opByRow := map[string]*planner.Operation{}
	for _, op := range ops {
		opByRow[op.RowID] = op
	}
	// each row's declared parent is a sibling being created in the same
	// batch, so every non-root row must carry a deferred reference rather
	// than an immediately resolved ParentID.
	assert.Equal(t, "row-c1", opByRow["row-block"].DeferredParentRowID)
	assert.Equal(t, "row-block", opByRow["row-network"].DeferredParentRowID)
	assert.Equal(t, "row-network", opByRow["row-address"].DeferredParentRowID)

	graph := buildGraph(t, ops)
	th := testThrottle()
	exec := New(Config{FailurePolicy: FailFast, SessionID: "s1"}, client, handlers.DefaultRegistry(), th, nil, nil, nil)

	results, runErr := exec.Run(context.Background(), graph)
	require.NoError(t, runErr)
	require.Len(t, results, 4)

	ids := map[string]int64{}
	for _, r := range results {
		assert.True(t, r.Success, "row %s should have succeeded: %s", r.RowID, r.ErrorMessage)
		require.NotNil(t, r.ResourceID, "row %s should have recorded a resource id", r.RowID)
		ids[r.RowID] = *r.ResourceID
	}
	assert.Len(t, ids, 4)

	// the chain must have resolved strictly in containment order: each
	// deferred parent reference was filled in with its producer's concrete
	// id before the dependent's create was dispatched.
	assert.Equal(t, ids["row-c1"], opByRow["row-block"].ParentID)
	assert.Equal(t, ids["row-block"], opByRow["row-network"].ParentID)
	assert.Equal(t, ids["row-network"], opByRow["row-address"].ParentID)
}

func TestScenario_ConflictOnCreateBecomesUpdate(t *testing.T) {
	fs := &fakeServer{records: map[string]map[int64]map[string]any{
		"blocks": {7: {"cidr": "10.0.0.0/8", "name": "original"}},
	}, nextID: 7}
	srv := httptest.NewServer(http.HandlerFunc(fs.handle))
	defer srv.Close()
	client := newTestClient(srv.URL)

	existing := &bamclient.Entity{ID: 7, Type: "IP4Block", Name: "original"}
	lookup := func(ctx context.Context, row *rows.Row) (*bamclient.Entity, error) {
		if row.Get("cidr") == "10.0.0.0/8" {
			return existing, nil
		}
		return nil, nil
	}

	data := []*rows.Row{
		{RowID: "row-1", Action: rows.ActionCreate, UpdateMode: rows.UpdateModeUpsert,
			ObjectType: rows.ObjectIP4Block, Fields: map[string]string{"cidr": "10.0.0.0/8", "name": "X"}},
	}
	ops, err := planner.Plan(context.Background(), nil, data, lookup, alwaysPathNotFound)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, planner.OpUpdate, ops[0].OperationType)
	assert.Equal(t, int64(7), ops[0].ResourceID)

	graph := buildGraph(t, ops)
	th := testThrottle()
	exec := New(Config{FailurePolicy: FailFast, SessionID: "s2"}, client, handlers.DefaultRegistry(), th, nil, nil, nil)

	results, runErr := exec.Run(context.Background(), graph)
	require.NoError(t, runErr)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	fs.mu.Lock()
	finalName := fs.records["blocks"][7]["name"]
	fs.mu.Unlock()
	assert.Equal(t, "X", finalName)
}

func TestScenario_PartialFailureWithFailGroup(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()
	// AllowDangerousOps is false at the client level: subtree A's root is a
	// protected-kind delete without the dangerous flag, which fails inside
	// the handler before the DELETE request is sent.
	client := bamclient.New(bamclient.Config{BaseURL: srv.URL, Username: "u", Password: "p", AllowDangerousOps: false})

	aRoot := &planner.Operation{RowID: "a-root", OperationType: planner.OpDelete, ObjectType: rows.ObjectIP4Block, ResourceID: 100}
	aChild := &planner.Operation{RowID: "a-child", OperationType: planner.OpCreate, ObjectType: rows.ObjectIP4Network,
		Payload: map[string]any{"cidr": "10.0.0.0/24"}, Dependencies: []string{"a-root"}}

	bRoot := &planner.Operation{RowID: "b-root", OperationType: planner.OpCreate, ObjectType: rows.ObjectIP4Block,
		Payload: map[string]any{"cidr": "10.1.0.0/8"}}
	bChild := &planner.Operation{RowID: "b-child", OperationType: planner.OpCreate, ObjectType: rows.ObjectIP4Network,
		Payload: map[string]any{"cidr": "10.1.0.0/24"}, Dependencies: []string{"b-root"}, DeferredParentRowID: "b-root"}

	graph := buildGraph(t, []*planner.Operation{aRoot, aChild, bRoot, bChild})
	th := testThrottle()
	exec := New(Config{FailurePolicy: FailGroup, SessionID: "s3"}, client, handlers.DefaultRegistry(), th, nil, nil, nil)

	results, runErr := exec.Run(context.Background(), graph)
	require.NoError(t, runErr)
	require.Len(t, results, 4)

	byRow := map[string]*checkpoint.Result{}
	for _, r := range results {
		byRow[r.RowID] = r
	}

	assert.False(t, byRow["a-root"].Success)
	assert.Equal(t, "permission-denied", byRow["a-root"].ErrorKind)
	assert.False(t, byRow["a-child"].Success)
	assert.Equal(t, "upstream-failure", byRow["a-child"].ErrorKind)

	assert.True(t, byRow["b-root"].Success)
	assert.True(t, byRow["b-child"].Success)
}

func TestScenario_AdaptiveThrottleUnderRateLimits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": "fake-token"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// every create is rate limited with a zero Retry-After so the
		// client's internal 429 handling never actually sleeps.
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(srv.URL)
	cfg := throttle.DefaultConfig()
	cfg.InitialLimit = 8
	cfg.Min = 1
	cfg.RateLimitFactor = 0.5
	th := throttle.New(cfg)

	var ops []*planner.Operation
	for i := 0; i < 3; i++ {
		ops = append(ops, &planner.Operation{
			RowID: fmt.Sprintf("row-%d", i), OperationType: planner.OpCreate, ObjectType: rows.ObjectIP4Block,
			Payload: map[string]any{"cidr": fmt.Sprintf("10.%d.0.0/16", i)},
		})
	}
	graph := buildGraph(t, ops)

	exec := New(Config{FailurePolicy: Continue, SessionID: "s4"}, client, handlers.DefaultRegistry(), th, nil, nil, nil)
	results, runErr := exec.Run(context.Background(), graph)
	require.NoError(t, runErr)
	require.Len(t, results, 3)

	for _, r := range results {
		assert.False(t, r.Success)
		assert.Equal(t, "rate-limited", r.ErrorKind)
	}
	// a sustained run of rate-limited failures must have shrunk the limit
	// below where it started.
	assert.Less(t, th.Limit(), cfg.InitialLimit)
}

// inMemoryStore is a hand-written checkpoint.Store stub keeping state in a
// mutex-guarded map, standing in for a real sqlite/postgres-backed store so
// the resume scenario can inspect exactly what was persisted. RecordResult
// upserts by (session, row) the way the real sqlite/postgres stores do via
// an ON CONFLICT clause, since the executor's own periodic checkpointing
// re-persists its whole accumulated result set on every tick rather than
// only the newest row.
type inMemoryStore struct {
	mu          sync.Mutex
	checkpoints map[string]*checkpoint.Checkpoint
	results     map[string]map[string]*checkpoint.Result // session -> row_id -> result
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		checkpoints: map[string]*checkpoint.Checkpoint{},
		results:     map[string]map[string]*checkpoint.Result{},
	}
}

func (s *inMemoryStore) SaveCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.SessionID] = cp
	return nil
}

func (s *inMemoryStore) LatestCheckpoint(ctx context.Context, sessionID string) (*checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[sessionID], nil
}

func (s *inMemoryStore) RecordResult(ctx context.Context, r *checkpoint.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results[r.SessionID] == nil {
		s.results[r.SessionID] = map[string]*checkpoint.Result{}
	}
	s.results[r.SessionID][r.RowID] = r
	return nil
}

func (s *inMemoryStore) ResultsForSession(ctx context.Context, sessionID string) ([]*checkpoint.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*checkpoint.Result, 0, len(s.results[sessionID]))
	for _, r := range s.results[sessionID] {
		out = append(out, r)
	}
	return out, nil
}

func (s *inMemoryStore) Close() error { return nil }

func TestScenario_ResumeAfterCrash(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()
	client := newTestClient(srv.URL)
	store := newInMemoryStore()
	const sessionID = "s5"

	allOps := make([]*planner.Operation, 0, 5)
	for i := 0; i < 5; i++ {
		allOps = append(allOps, &planner.Operation{
			RowID: fmt.Sprintf("row-%d", i), OperationType: planner.OpCreate, ObjectType: rows.ObjectIP4Block,
			Payload: map[string]any{"cidr": fmt.Sprintf("10.%d.0.0/16", i)},
		})
	}

	// simulate the process dying after the first two rows (40%) completed:
	// only row-0 and row-1 are handed to the first executor run, with
	// CheckpointEvery=1 so each persists to the store as it finishes.
	firstBatch := allOps[:2]
	graph1 := buildGraph(t, firstBatch)
	th1 := testThrottle()
	exec1 := New(Config{FailurePolicy: FailFast, SessionID: sessionID, CheckpointEvery: 1}, client, handlers.DefaultRegistry(), th1, store, nil, nil)
	firstResults, err := exec1.Run(context.Background(), graph1)
	require.NoError(t, err)
	require.Len(t, firstResults, 2)
	for _, r := range firstResults {
		require.NoError(t, store.RecordResult(context.Background(), r))
	}

	prior, err := store.ResultsForSession(context.Background(), sessionID)
	require.NoError(t, err)
	done := map[string]bool{}
	for _, r := range prior {
		if r.Success {
			done[r.RowID] = true
		}
	}

	// restart with --resume: replan the full row set, then drop anything
	// already recorded successful before rebuilding the graph.
	var remaining []*planner.Operation
	for _, op := range allOps {
		if !done[op.RowID] {
			remaining = append(remaining, op)
		}
	}
	assert.Len(t, remaining, 3, "resume must skip exactly the rows already recorded successful")

	graph2 := buildGraph(t, remaining)
	th2 := testThrottle()
	exec2 := New(Config{FailurePolicy: FailFast, SessionID: sessionID, CheckpointEvery: 1}, client, handlers.DefaultRegistry(), th2, store, nil, nil)
	secondResults, err := exec2.Run(context.Background(), graph2)
	require.NoError(t, err)
	require.Len(t, secondResults, 3)
	for _, r := range secondResults {
		require.NoError(t, store.RecordResult(context.Background(), r))
	}

	final, err := store.ResultsForSession(context.Background(), sessionID)
	require.NoError(t, err)
	// every row appears exactly once across both runs: nothing completed
	// in the first run was re-executed in the second.
	assert.Len(t, final, 5)
	seen := map[string]int{}
	for _, r := range final {
		seen[r.RowID]++
		assert.True(t, r.Success)
	}
	for _, op := range allOps {
		assert.Equal(t, 1, seen[op.RowID], "row %s must be recorded exactly once", op.RowID)
	}
}

func TestScenario_ProtectedDeleteGuard(t *testing.T) {
	fs := &fakeServer{records: map[string]map[int64]map[string]any{
		"configurations": {1: {"name": "prod"}},
	}, nextID: 1}
	srv := httptest.NewServer(http.HandlerFunc(fs.handle))
	defer srv.Close()

	// AllowDangerousOps is false both on the client and the executor
	// config: deleting a protected Configuration must be rejected before
	// the DELETE request reaches the fake server.
	client := bamclient.New(bamclient.Config{BaseURL: srv.URL, Username: "u", Password: "p", AllowDangerousOps: false})
	th := testThrottle()

	op := &planner.Operation{RowID: "row-1", OperationType: planner.OpDelete, ObjectType: rows.ObjectConfiguration, ResourceID: 1}
	graph := buildGraph(t, []*planner.Operation{op})

	exec := New(Config{FailurePolicy: FailFast, AllowDangerousOps: false, SessionID: "s6"}, client, handlers.DefaultRegistry(), th, nil, nil, nil)
	results, runErr := exec.Run(context.Background(), graph)
	require.NoError(t, runErr)
	require.Len(t, results, 1)

	assert.False(t, results[0].Success)
	assert.Equal(t, "permission-denied", results[0].ErrorKind)

	fs.mu.Lock()
	_, stillThere := fs.records["configurations"][1]
	fs.mu.Unlock()
	assert.True(t, stillThere, "protected configuration must be untouched on a rejected dangerous delete")
}
