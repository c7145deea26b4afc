package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/core"
	"github.com/bamops/reconciler/internal/resolver"
	"github.com/bamops/reconciler/internal/rows"
)

func blockRow(id, cidr string) *rows.Row {
	return &rows.Row{
		RowID:      id,
		Action:     rows.ActionCreate,
		ObjectType: rows.ObjectIP4Block,
		Fields:     map[string]string{"cidr": cidr},
	}
}

func networkRow(id, cidr, parentPath string) *rows.Row {
	return &rows.Row{
		RowID:      id,
		Action:     rows.ActionCreate,
		ObjectType: rows.ObjectIP4Network,
		Fields:     map[string]string{"cidr": cidr, "parent_path": parentPath},
	}
}

func noLookup(ctx context.Context, row *rows.Row) (*bamclient.Entity, error) {
	return nil, nil
}

func noParent(ctx context.Context, res *resolver.Resolver, row *rows.Row) (ParentRef, error) {
	return ParentRef{}, core.ErrPathNotFound
}

func TestPlan_CreateWhenAbsent(t *testing.T) {
	data := []*rows.Row{blockRow("row-1", "10.0.0.0/8")}
	ops, err := Plan(context.Background(), nil, data, noLookup, noParent)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpCreate, ops[0].OperationType)
	assert.Equal(t, int64(0), ops[0].ResourceID)
}

func TestPlan_UpdateWhenExistingAndUpsert(t *testing.T) {
	row := blockRow("row-1", "10.0.0.0/8")
	row.UpdateMode = rows.UpdateModeUpsert
	lookup := func(ctx context.Context, r *rows.Row) (*bamclient.Entity, error) {
		return &bamclient.Entity{ID: 99}, nil
	}
	ops, err := Plan(context.Background(), nil, []*rows.Row{row}, lookup, noParent)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpUpdate, ops[0].OperationType)
	assert.Equal(t, int64(99), ops[0].ResourceID)
}

func TestPlan_CreateOnlyConflictsWithExisting(t *testing.T) {
	row := blockRow("row-1", "10.0.0.0/8")
	row.UpdateMode = rows.UpdateModeCreateOnly
	lookup := func(ctx context.Context, r *rows.Row) (*bamclient.Entity, error) {
		return &bamclient.Entity{ID: 99}, nil
	}
	_, err := Plan(context.Background(), nil, []*rows.Row{row}, lookup, noParent)
	assert.ErrorIs(t, err, core.ErrConflict)
}

func TestPlan_UpdateActionMissingTargetIsNotFound(t *testing.T) {
	row := &rows.Row{RowID: "row-1", Action: rows.ActionUpdate, ObjectType: rows.ObjectIP4Block, Fields: map[string]string{}}
	_, err := Plan(context.Background(), nil, []*rows.Row{row}, noLookup, noParent)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestPlan_DeleteActionMissingTargetIsNoop(t *testing.T) {
	row := &rows.Row{RowID: "row-1", Action: rows.ActionDelete, ObjectType: rows.ObjectIP4Block, Fields: map[string]string{}}
	ops, err := Plan(context.Background(), nil, []*rows.Row{row}, noLookup, noParent)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpNoop, ops[0].OperationType)
}

func TestPlan_DeleteActionExistingTarget(t *testing.T) {
	row := &rows.Row{RowID: "row-1", Action: rows.ActionDelete, ObjectType: rows.ObjectIP4Block, Fields: map[string]string{}}
	lookup := func(ctx context.Context, r *rows.Row) (*bamclient.Entity, error) {
		return &bamclient.Entity{ID: 7}, nil
	}
	ops, err := Plan(context.Background(), nil, []*rows.Row{row}, lookup, noParent)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpDelete, ops[0].OperationType)
	assert.Equal(t, int64(7), ops[0].ResourceID)
}

func TestPlan_UnrecognisedActionIsValidationError(t *testing.T) {
	row := &rows.Row{RowID: "row-1", Action: "destroy", ObjectType: rows.ObjectIP4Block, Fields: map[string]string{}}
	_, err := Plan(context.Background(), nil, []*rows.Row{row}, noLookup, noParent)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestPlan_ParentPathExcludedFromPayload(t *testing.T) {
	row := networkRow("row-1", "10.0.0.0/24", "10.0.0.0/8")
	ops, err := Plan(context.Background(), nil, []*rows.Row{row}, noLookup, noParent)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	_, present := ops[0].Payload["parent_path"]
	assert.False(t, present, "parent_path must never reach the wire payload")
	assert.Equal(t, "10.0.0.0/24", ops[0].Payload["cidr"])
}

func TestPlan_ResolvedParentSetsParentIDAndCollection(t *testing.T) {
	row := networkRow("row-1", "10.0.0.0/24", "10.0.0.0/8")
	resolved := func(ctx context.Context, res *resolver.Resolver, r *rows.Row) (ParentRef, error) {
		return ParentRef{ID: 42, Collection: "blocks"}, nil
	}
	ops, err := Plan(context.Background(), nil, []*rows.Row{row}, noLookup, resolved)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, int64(42), ops[0].ParentID)
	assert.Equal(t, "blocks", ops[0].ParentCollection)
	assert.Empty(t, ops[0].DeferredParentRowID)
}

func TestPlan_UnresolvedParentDefersToSameBatchSibling(t *testing.T) {
	block := blockRow("row-block", "10.0.0.0/8")
	network := networkRow("row-network", "10.0.0.0/24", "10.0.0.0/8")
	ops, err := Plan(context.Background(), nil, []*rows.Row{block, network}, noLookup, noParent)
	require.NoError(t, err)

	var networkOp *Operation
	for _, op := range ops {
		if op.RowID == "row-network" {
			networkOp = op
		}
	}
	require.NotNil(t, networkOp)
	assert.Equal(t, "row-block", networkOp.DeferredParentRowID)
	assert.Equal(t, int64(0), networkOp.ParentID)
	assert.Contains(t, networkOp.Dependencies, "row-block")
}

func TestPlan_ParentResolverErrorPropagates(t *testing.T) {
	row := networkRow("row-1", "10.0.0.0/24", "10.0.0.0/8")
	boom := assert.AnError
	failing := func(ctx context.Context, res *resolver.Resolver, r *rows.Row) (ParentRef, error) {
		return ParentRef{}, boom
	}
	_, err := Plan(context.Background(), nil, []*rows.Row{row}, noLookup, failing)
	assert.ErrorIs(t, err, boom)
}

func TestPlan_DependenciesAreSortedDeterministically(t *testing.T) {
	block := blockRow("row-b", "10.0.0.0/8")
	addr1 := &rows.Row{RowID: "row-addr1", Action: rows.ActionCreate, ObjectType: rows.ObjectIP4Address,
		Fields: map[string]string{"address": "10.0.0.1", "parent_path": "10.0.0.0/8"}}
	network := networkRow("row-network", "10.0.0.0/8", "")
	data := []*rows.Row{block, addr1, network}

	ops, err := Plan(context.Background(), nil, data, noLookup, noParent)
	require.NoError(t, err)

	var addrOp *Operation
	for _, op := range ops {
		if op.RowID == "row-addr1" {
			addrOp = op
		}
	}
	require.NotNil(t, addrOp)
	// both row-b (cidr match) and row-network (cidr match, since network's
	// identity field is also "cidr") match the declared parent_path; the
	// planner must always report them in the same, sorted order.
	assert.True(t, sortedAscending(addrOp.Dependencies), "dependencies must be sorted: %v", addrOp.Dependencies)
}

func TestPlan_IsDeterministicAcrossRuns(t *testing.T) {
	data := []*rows.Row{
		blockRow("row-1", "10.0.0.0/8"),
		networkRow("row-2", "10.0.0.0/24", "10.0.0.0/8"),
		networkRow("row-3", "10.0.1.0/24", "10.0.0.0/8"),
	}

	first, err := Plan(context.Background(), nil, data, noLookup, noParent)
	require.NoError(t, err)
	second, err := Plan(context.Background(), nil, data, noLookup, noParent)
	require.NoError(t, err)

	require.Len(t, first, len(second))
	for i := range first {
		assert.Equal(t, first[i].RowID, second[i].RowID)
		assert.Equal(t, first[i].OperationType, second[i].OperationType)
		assert.Equal(t, first[i].Dependencies, second[i].Dependencies)
		assert.Equal(t, first[i].DeferredParentRowID, second[i].DeferredParentRowID)
	}
}

func sortedAscending(ss []string) bool {
	for i := 1; i < len(ss); i++ {
		if ss[i-1] > ss[i] {
			return false
		}
	}
	return true
}
