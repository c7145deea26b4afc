package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamops/reconciler/internal/core"
)

func TestBuild_DuplicateRowID(t *testing.T) {
	_, err := Build([]*Node{
		{RowID: "a"},
		{RowID: "a"},
	})
	assert.ErrorContains(t, err, "duplicate row_id")
}

func TestBuild_UnknownDependencyIgnored(t *testing.T) {
	g, err := Build([]*Node{
		{RowID: "a", Dependencies: []string{"does-not-exist"}},
	})
	require.NoError(t, err)

	ready := g.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].RowID)
}

func TestBuild_DetectsCycle(t *testing.T) {
	_, err := Build([]*Node{
		{RowID: "a", Dependencies: []string{"b"}},
		{RowID: "b", Dependencies: []string{"a"}},
	})
	assert.ErrorIs(t, err, core.ErrCyclicDependency)
}

func TestBuild_DetectsLongerCycle(t *testing.T) {
	_, err := Build([]*Node{
		{RowID: "a", Dependencies: []string{"c"}},
		{RowID: "b", Dependencies: []string{"a"}},
		{RowID: "c", Dependencies: []string{"b"}},
	})
	assert.ErrorIs(t, err, core.ErrCyclicDependency)
}

func TestReady_OnlyZeroIndegreeNodes(t *testing.T) {
	g, err := Build([]*Node{
		{RowID: "block"},
		{RowID: "network", Dependencies: []string{"block"}},
		{RowID: "address", Dependencies: []string{"network"}},
	})
	require.NoError(t, err)

	ready := g.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, "block", ready[0].RowID)
}

func TestComplete_UnblocksSuccessorsInOrder(t *testing.T) {
	g, err := Build([]*Node{
		{RowID: "block"},
		{RowID: "network", Dependencies: []string{"block"}},
		{RowID: "address", Dependencies: []string{"network"}},
	})
	require.NoError(t, err)

	unblocked := g.Complete("block")
	require.Len(t, unblocked, 1)
	assert.Equal(t, "network", unblocked[0].RowID)

	// address is not yet unblocked; it still depends on network.
	stillBlocked := g.Complete("does-not-exist")
	assert.Empty(t, stillBlocked)

	unblocked = g.Complete("network")
	require.Len(t, unblocked, 1)
	assert.Equal(t, "address", unblocked[0].RowID)
}

func TestComplete_DiamondDependencyWaitsForBothParents(t *testing.T) {
	// address depends on both block and a sibling network, mirroring a
	// row whose containment path and a same-batch reference both resolve
	// to rows created earlier in the same run.
	g, err := Build([]*Node{
		{RowID: "block"},
		{RowID: "network", Dependencies: []string{"block"}},
		{RowID: "address", Dependencies: []string{"block", "network"}},
	})
	require.NoError(t, err)

	unblocked := g.Complete("block")
	// network's indegree drops to 0, but address still waits on network.
	require.Len(t, unblocked, 1)
	assert.Equal(t, "network", unblocked[0].RowID)

	unblocked = g.Complete("network")
	require.Len(t, unblocked, 1)
	assert.Equal(t, "address", unblocked[0].RowID)
}

func TestComplete_IsIdempotent(t *testing.T) {
	g, err := Build([]*Node{
		{RowID: "block"},
		{RowID: "network", Dependencies: []string{"block"}},
	})
	require.NoError(t, err)

	first := g.Complete("block")
	require.Len(t, first, 1)

	second := g.Complete("block")
	assert.Nil(t, second)
}

func TestSuccessors(t *testing.T) {
	g, err := Build([]*Node{
		{RowID: "block"},
		{RowID: "network-a", Dependencies: []string{"block"}},
		{RowID: "network-b", Dependencies: []string{"block"}},
	})
	require.NoError(t, err)

	succ := g.Successors("block")
	assert.ElementsMatch(t, []string{"network-a", "network-b"}, succ)
}

func TestNodeLookup(t *testing.T) {
	g, err := Build([]*Node{{RowID: "block", Payload: "payload-value"}})
	require.NoError(t, err)

	n, ok := g.Node("block")
	require.True(t, ok)
	assert.Equal(t, "payload-value", n.Payload)

	_, ok = g.Node("missing")
	assert.False(t, ok)
}

func TestLen(t *testing.T) {
	g, err := Build([]*Node{{RowID: "a"}, {RowID: "b"}, {RowID: "c"}})
	require.NoError(t, err)
	assert.Equal(t, 3, g.Len())
}
