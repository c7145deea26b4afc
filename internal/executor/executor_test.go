package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/depgraph"
	"github.com/bamops/reconciler/internal/handlers"
	"github.com/bamops/reconciler/internal/planner"
	"github.com/bamops/reconciler/internal/rows"
	"github.com/bamops/reconciler/internal/throttle"
)

func testThrottle() *throttle.Throttle {
	cfg := throttle.DefaultConfig()
	cfg.InitialLimit = 4
	return throttle.New(cfg)
}

func newTestClient(baseURL string) *bamclient.Client {
	return bamclient.New(bamclient.Config{
		BaseURL:        baseURL,
		Username:       "test",
		Password:       "test",
		AllowDangerousOps: true,
	})
}

func TestExecutor_SimpleCreateSuccess(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	client := newTestClient(srv.URL)
	registry := handlers.DefaultRegistry()
	th := testThrottle()

	op := &planner.Operation{
		RowID:         "row-1",
		OperationType: planner.OpCreate,
		ObjectType:    rows.ObjectIP4Block,
		Payload:       map[string]any{"cidr": "10.0.0.0/8"},
	}
	graph, err := depgraph.Build([]*depgraph.Node{{RowID: "row-1", Payload: op}})
	require.NoError(t, err)

	exec := New(Config{FailurePolicy: FailFast, SessionID: "s1"}, client, registry, th, nil, nil, nil)
	results, runErr := exec.Run(context.Background(), graph)
	require.NoError(t, runErr)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	require.NotNil(t, results[0].ResourceID)
	assert.Greater(t, *results[0].ResourceID, int64(0))
}

func TestExecutor_DeferredReferenceResolved(t *testing.T) {
	srv := newFakeServer()
	defer srv.Close()

	client := newTestClient(srv.URL)
	registry := handlers.DefaultRegistry()
	th := testThrottle()

	blockOp := &planner.Operation{
		RowID:         "row-block",
		OperationType: planner.OpCreate,
		ObjectType:    rows.ObjectIP4Block,
		Payload:       map[string]any{"cidr": "10.0.0.0/8"},
	}
	networkOp := &planner.Operation{
		RowID:               "row-network",
		OperationType:       planner.OpCreate,
		ObjectType:          rows.ObjectIP4Network,
		Payload:             map[string]any{"cidr": "10.0.0.0/24"},
		Dependencies:        []string{"row-block"},
		DeferredParentRowID: "row-block",
	}

	graph, err := depgraph.Build([]*depgraph.Node{
		{RowID: "row-block", Payload: blockOp},
		{RowID: "row-network", Dependencies: []string{"row-block"}, Payload: networkOp},
	})
	require.NoError(t, err)

	exec := New(Config{FailurePolicy: FailFast, SessionID: "s2"}, client, registry, th, nil, nil, nil)
	results, runErr := exec.Run(context.Background(), graph)
	require.NoError(t, runErr)
	require.Len(t, results, 2)

	for _, r := range results {
		assert.True(t, r.Success, "row %s should succeed: %s", r.RowID, r.ErrorMessage)
	}

	// the deferred parent must have been resolved to the block's concrete
	// id and collection before the network's create was dispatched.
	var blockID int64
	for _, r := range results {
		if r.RowID == "row-block" {
			require.NotNil(t, r.ResourceID)
			blockID = *r.ResourceID
		}
	}
	assert.Equal(t, blockID, networkOp.ParentID)
	assert.Equal(t, "blocks", networkOp.ParentCollection)
}

func TestExecutor_FailGroupPropagation(t *testing.T) {
	// deleting a protected kind without AllowDangerousOps fails inside the
	// handler before the DELETE is sent, so this test needs no server: the
	// executor's prior-state GET against the unresolvable URL fails first
	// and is ignored.
	client := bamclient.New(bamclient.Config{BaseURL: "http://unused.invalid", Username: "u", Password: "p", AllowDangerousOps: false})
	registry := handlers.DefaultRegistry()
	th := testThrottle()

	failing := &planner.Operation{
		RowID:         "row-delete",
		OperationType: planner.OpDelete,
		ObjectType:    rows.ObjectIP4Block,
		ResourceID:    42,
	}
	dependent := &planner.Operation{
		RowID:         "row-dependent",
		OperationType: planner.OpCreate,
		ObjectType:    rows.ObjectIP4Network,
		Payload:       map[string]any{"cidr": "10.0.0.0/24"},
		Dependencies:  []string{"row-delete"},
	}

	graph, err := depgraph.Build([]*depgraph.Node{
		{RowID: "row-delete", Payload: failing},
		{RowID: "row-dependent", Dependencies: []string{"row-delete"}, Payload: dependent},
	})
	require.NoError(t, err)

	exec := New(Config{FailurePolicy: FailGroup, SessionID: "s3"}, client, registry, th, nil, nil, nil)
	results, runErr := exec.Run(context.Background(), graph)
	require.NoError(t, runErr)
	require.Len(t, results, 2)

	byRow := map[string]bool{}
	for _, r := range results {
		byRow[r.RowID] = r.Success
	}
	assert.False(t, byRow["row-delete"])
	assert.False(t, byRow["row-dependent"])
}

func TestExecutor_DryRun(t *testing.T) {
	// dry-run must not contact the network at all; point at an
	// unreachable base URL to prove no request is attempted.
	client := bamclient.New(bamclient.Config{BaseURL: "http://127.0.0.1:0", Username: "u", Password: "p"})
	registry := handlers.DefaultRegistry()
	th := testThrottle()

	op := &planner.Operation{
		RowID:         "row-1",
		OperationType: planner.OpCreate,
		ObjectType:    rows.ObjectIP4Block,
		Payload:       map[string]any{"cidr": "10.0.0.0/8"},
	}
	graph, err := depgraph.Build([]*depgraph.Node{{RowID: "row-1", Payload: op}})
	require.NoError(t, err)

	exec := New(Config{FailurePolicy: FailFast, DryRun: true, SessionID: "s4"}, client, registry, th, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, runErr := exec.Run(ctx, graph)
	require.NoError(t, runErr)
	require.Len(t, out, 1)
	assert.True(t, out[0].Success)
	require.NotNil(t, out[0].ResourceID)
	assert.Less(t, *out[0].ResourceID, int64(0))
}
