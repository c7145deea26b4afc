package rollback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamops/reconciler/internal/checkpoint"
	"github.com/bamops/reconciler/internal/rows"
)

func TestGenerate_InvertsCreateIntoDelete(t *testing.T) {
	original := map[string]*rows.Row{
		"r1": {
			RowID:      "r1",
			Action:     rows.ActionCreate,
			ObjectType: rows.ObjectIP4Network,
			Config:     "global",
			View:       "default",
			Fields: map[string]string{
				"row_id": "r1", "action": "create", "object_type": "ip4_network",
				"cidr": "10.0.0.0/24", "parent_path": "10.0.0.0/8",
			},
		},
	}
	resID := int64(100)
	results := []*checkpoint.Result{
		{RowID: "r1", ObjectType: "ip4_network", OperationType: "create", Success: true, ResourceID: &resID, RecordedAt: time.Now()},
	}

	inverted, warnings, err := Generate(original, results)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, inverted, 1)
	assert.Equal(t, rows.ActionDelete, inverted[0].Action)
	assert.Equal(t, "10.0.0.0/24", inverted[0].Fields["cidr"])
}

func TestGenerate_InvertsUpdateWithPriorState(t *testing.T) {
	original := map[string]*rows.Row{
		"r2": {
			RowID:      "r2",
			Action:     rows.ActionUpdate,
			ObjectType: rows.ObjectHostRecord,
			Fields:     map[string]string{"absolute_name": "host.example.com", "ttl": "300"},
		},
	}
	results := []*checkpoint.Result{
		{
			RowID: "r2", ObjectType: "host_record", OperationType: "update", Success: true,
			PriorState: map[string]any{"ttl": "60"}, RecordedAt: time.Now(),
		},
	}

	inverted, warnings, err := Generate(original, results)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, inverted, 1)
	assert.Equal(t, rows.ActionUpdate, inverted[0].Action)
	assert.Equal(t, "60", inverted[0].Fields["ttl"])
	assert.Equal(t, "host.example.com", inverted[0].Fields["absolute_name"])
}

func TestGenerate_InvertsDeleteIntoCreate(t *testing.T) {
	original := map[string]*rows.Row{
		"r3": {RowID: "r3", Action: rows.ActionDelete, ObjectType: rows.ObjectIP4Address},
	}
	results := []*checkpoint.Result{
		{
			RowID: "r3", ObjectType: "ip4_address", OperationType: "delete", Success: true,
			PriorState: map[string]any{"address": "10.0.0.5"}, RecordedAt: time.Now(),
		},
	}

	inverted, warnings, err := Generate(original, results)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, inverted, 1)
	assert.Equal(t, rows.ActionCreate, inverted[0].Action)
	assert.Equal(t, "10.0.0.5", inverted[0].Fields["address"])
}

func TestGenerate_ResourceTagWithNoPriorStateWarnsInsteadOfErroring(t *testing.T) {
	original := map[string]*rows.Row{
		"r4": {RowID: "r4", Action: rows.ActionUpdate, ObjectType: rows.ObjectResourceTag},
	}
	results := []*checkpoint.Result{
		{RowID: "r4", ObjectType: "resource_tag", OperationType: "update", Success: true, RecordedAt: time.Now()},
	}

	inverted, warnings, err := Generate(original, results)
	require.NoError(t, err)
	assert.Empty(t, inverted)
	require.Len(t, warnings, 1)
	assert.Equal(t, "r4", warnings[0].RowID)
}

func TestGenerate_SkipsFailedResults(t *testing.T) {
	original := map[string]*rows.Row{
		"r5": {RowID: "r5", Action: rows.ActionCreate, ObjectType: rows.ObjectIP4Block, Fields: map[string]string{"cidr": "10.1.0.0/16"}},
	}
	results := []*checkpoint.Result{
		{RowID: "r5", ObjectType: "ip4_block", OperationType: "create", Success: false, RecordedAt: time.Now()},
	}

	inverted, warnings, err := Generate(original, results)
	require.NoError(t, err)
	assert.Empty(t, inverted)
	assert.Empty(t, warnings)
}

func TestGenerate_ReversesOrder(t *testing.T) {
	original := map[string]*rows.Row{
		"a": {RowID: "a", Action: rows.ActionCreate, ObjectType: rows.ObjectIP4Block, Fields: map[string]string{"cidr": "10.0.0.0/8"}},
		"b": {RowID: "b", Action: rows.ActionCreate, ObjectType: rows.ObjectIP4Network, Fields: map[string]string{"cidr": "10.0.0.0/24"}},
	}
	results := []*checkpoint.Result{
		{RowID: "a", ObjectType: "ip4_block", OperationType: "create", Success: true, RecordedAt: time.Now()},
		{RowID: "b", ObjectType: "ip4_network", OperationType: "create", Success: true, RecordedAt: time.Now().Add(time.Second)},
	}

	inverted, _, err := Generate(original, results)
	require.NoError(t, err)
	require.Len(t, inverted, 2)
	assert.Equal(t, "10.0.0.0/24", inverted[0].Fields["cidr"])
	assert.Equal(t, "10.0.0.0/8", inverted[1].Fields["cidr"])
}
