// Package planner implements the diff/planner (C5): for each parsed row it
// consults the path resolver and remote client to decide create/update/
// delete/no-op, and emits operations carrying dependency edges derived
// from containment.
package planner

import (
	"context"
	"fmt"
	"sort"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/core"
	"github.com/bamops/reconciler/internal/resolver"
	"github.com/bamops/reconciler/internal/rows"
)

// OperationType mirrors rows.Action but is the planner's own vocabulary
// since a row's action and the resulting operation's type can diverge
// (e.g. action=create against an existing entity under upsert becomes
// operation_type=update).
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
	OpNoop   OperationType = "noop"
)

// Operation is the planner's unit of work: one create, update, delete, or
// no-op against a single row.
type Operation struct {
	RowID         string
	OperationType OperationType
	ObjectType    rows.ObjectType
	ResourceID    int64 // 0 means unset; only valid for update/delete

	// ParentID and ParentCollection identify the remote container a create
	// must nest under (e.g. ParentID=42, ParentCollection="blocks" builds
	// "blocks/42/networks"). Both are set when the row's parent already
	// exists and was resolved; they are zero/empty when the row has no
	// containment requirement, or until DeferredParentRowID resolves.
	ParentID         int64
	ParentCollection string

	// DeferredParentRowID names the row_id of a same-batch create whose
	// result will supply ParentID/ParentCollection once it completes; set
	// only when the row's declared parent could not be found remotely and
	// instead matches another row being created in this same run.
	DeferredParentRowID string

	Payload      map[string]any
	Dependencies []string // row_ids that must complete first
}

// ParentRef identifies a row's resolved remote container: the numeric id
// of the parent entity and the collection it lives under.
type ParentRef struct {
	ID         int64
	Collection string
}

// IdentityLookup resolves a row's target identity against the remote
// store, returning the entity if one already exists. Supplied per
// object_type by the caller (wired to bamclient filters/containment) so
// the planner itself stays free of per-kind HTTP knowledge.
type IdentityLookup func(ctx context.Context, row *rows.Row) (*bamclient.Entity, error)

// ParentResolver resolves a row's declared containment to the remote
// parent it must nest under, returning core.ErrPathNotFound if the parent
// does not exist remotely (yet).
type ParentResolver func(ctx context.Context, res *resolver.Resolver, row *rows.Row) (ParentRef, error)

// Plan builds the ordered operation list for data, consulting lookup for
// each row's current remote identity and parentOf for containment edges.
// Plan is deterministic: the same rows, resolver cache state, and remote
// snapshot always yield the same operation list in the same order
// (Testable Property 1), so rows are processed in their input order and
// dependency discovery never branches on map iteration order.
func Plan(ctx context.Context, res *resolver.Resolver, data []*rows.Row, lookup IdentityLookup, parentOf ParentResolver) ([]*Operation, error) {
	ops := make([]*Operation, 0, len(data))
	opByRowID := make(map[string]*Operation, len(data))
	rowByID := make(map[string]*rows.Row, len(data))
	for _, r := range data {
		rowByID[r.RowID] = r
	}

	for _, row := range data {
		op, err := planRow(ctx, res, row, lookup, parentOf, rowByID)
		if err != nil {
			return nil, fmt.Errorf("planner: row %s: %w", row.RowID, err)
		}
		ops = append(ops, op)
		opByRowID[row.RowID] = op
	}

	// Deterministic dependency edges: sort each operation's Dependencies
	// so iteration/serialization order never depends on map traversal.
	for _, op := range ops {
		sort.Strings(op.Dependencies)
	}

	return ops, nil
}

func planRow(ctx context.Context, res *resolver.Resolver, row *rows.Row, lookup IdentityLookup, parentOf ParentResolver, rowByID map[string]*rows.Row) (*Operation, error) {
	existing, err := lookup(ctx, row)
	if err != nil {
		return nil, err
	}

	op := &Operation{
		RowID:      row.RowID,
		ObjectType: row.ObjectType,
		Payload:    payloadOf(row),
	}

	switch row.Action {
	case rows.ActionCreate:
		if existing == nil {
			op.OperationType = OpCreate
		} else {
			switch row.UpdateMode {
			case rows.UpdateModeCreateOnly:
				return nil, fmt.Errorf("%w: entity already exists and update_mode=create_only", core.ErrConflict)
			case rows.UpdateModeUpsert, rows.UpdateModeUpdateOnly:
				op.OperationType = OpUpdate
				op.ResourceID = existing.ID
			default:
				op.OperationType = OpUpdate
				op.ResourceID = existing.ID
			}
		}
	case rows.ActionUpdate:
		if existing == nil {
			return nil, fmt.Errorf("%w: update target does not exist", core.ErrNotFound)
		}
		op.OperationType = OpUpdate
		op.ResourceID = existing.ID
	case rows.ActionDelete:
		if existing == nil {
			op.OperationType = OpNoop
		} else {
			op.OperationType = OpDelete
			op.ResourceID = existing.ID
		}
	default:
		return nil, fmt.Errorf("%w: unrecognised action %q", core.ErrValidation, row.Action)
	}

	if parentOf != nil {
		ref, err := parentOf(ctx, res, row)
		switch {
		case err == nil:
			op.ParentID = ref.ID
			op.ParentCollection = ref.Collection
		case err == core.ErrPathNotFound:
			// the declared parent does not exist remotely yet; it may be
			// created in this same batch, handled below.
		default:
			return nil, err
		}
	}

	op.Dependencies = containmentDependencies(row, rowByID)
	if op.ParentID == 0 {
		applyDeferredParentReference(op, row, rowByID)
	}

	return op, nil
}

// applyDeferredParentReference records the row_id of a same-batch create
// that will produce this row's parent, when the declared parent_path
// could not be resolved against the remote store. The executor fills in
// ParentID/ParentCollection once that producing row's create completes.
func applyDeferredParentReference(op *Operation, row *rows.Row, rowByID map[string]*rows.Row) {
	parentPath := row.Get("parent_path")
	if parentPath == "" {
		return
	}
	// several rows can match; the smallest row_id wins so the choice never
	// depends on map iteration order.
	best := ""
	for _, other := range rowByID {
		if other.RowID == row.RowID {
			continue
		}
		if other.Action == rows.ActionCreate && matchesIdentity(other, parentPath) && (best == "" || other.RowID < best) {
			best = other.RowID
		}
	}
	op.DeferredParentRowID = best
}

// payloadOf flattens a row's raw fields into the map[string]any the
// handlers shape into a wire payload. parent_path is excluded: it names a
// human-readable containment path, not a field the remote API accepts,
// and its resolved numeric form travels via ParentID/ParentCollection
// instead.
func payloadOf(row *rows.Row) map[string]any {
	payload := make(map[string]any, len(row.Fields))
	for k, v := range row.Fields {
		if k == "parent_path" {
			continue
		}
		payload[k] = v
	}
	return payload
}

// containmentDependencies derives dependency edges from the row's
// declared parent_path: if the parent_path matches another row's
// identity field in this same batch, that row's operation must complete
// first. This is a conservative same-batch containment check; parents
// that already exist remotely contribute no edge (the resolver will find
// them directly).
func containmentDependencies(row *rows.Row, rowByID map[string]*rows.Row) []string {
	parentPath := row.Get("parent_path")
	if parentPath == "" {
		return nil
	}

	var deps []string
	for id, other := range rowByID {
		if id == row.RowID {
			continue
		}
		if matchesIdentity(other, parentPath) {
			deps = append(deps, id)
		}
	}
	return deps
}

// matchesIdentity reports whether row's natural identity field (cidr,
// address, absolute_name, name) equals candidate, covering the containment
// cases block->network, network->address, and zone->record.
func matchesIdentity(row *rows.Row, candidate string) bool {
	for _, field := range []string{"cidr", "address", "absolute_name", "name"} {
		if v := row.Get(field); v != "" && v == candidate {
			return true
		}
	}
	return false
}
