package handlers

import (
	"context"
	"fmt"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/core"
	"github.com/bamops/reconciler/internal/planner"
	"github.com/bamops/reconciler/internal/rows"
)

// genericPatchHandler covers the common case: a shared helper merges
// name/properties/userDefinedFields into a PATCH-shaped payload.
// Covers records and zones.
type genericPatchHandler struct {
	collection string
}

func (h *genericPatchHandler) Create(ctx context.Context, client *bamclient.Client, op *planner.Operation) (*bamclient.Entity, error) {
	return client.Create(ctx, createCollection(op, h.collection), patchShape(op.Payload))
}

func (h *genericPatchHandler) Update(ctx context.Context, client *bamclient.Client, op *planner.Operation) (*bamclient.Entity, error) {
	return client.Patch(ctx, h.collection, op.ResourceID, patchShape(op.Payload))
}

func (h *genericPatchHandler) Delete(ctx context.Context, client *bamclient.Client, op *planner.Operation, dangerous bool) error {
	return client.Delete(ctx, h.collection, op.ResourceID, rows.IsProtected(op.ObjectType), dangerous)
}

func (h *genericPatchHandler) Collection() string { return h.collection }

// patchShape merges name/properties/userDefinedFields keys present in a
// raw field bag into the shape the remote PATCH/POST endpoints expect.
func patchShape(payload map[string]any) map[string]any {
	shaped := map[string]any{}
	props := map[string]any{}
	udf := map[string]any{}

	for k, v := range payload {
		switch {
		case k == "name" || k == "cidr" || k == "address" || k == "absolute_name":
			shaped[k] = v
		case len(k) > 4 && k[:4] == "udf_":
			udf[k[4:]] = v
		default:
			props[k] = v
		}
	}
	if len(props) > 0 {
		shaped["properties"] = props
	}
	if len(udf) > 0 {
		shaped["userDefinedFields"] = udf
	}
	return shaped
}

// typedUpdateHandler is update idiom 3: kinds with custom semantics build
// a bespoke payload rather than the generic patch shape. Covers blocks,
// DHCP options, and access rights.
type typedUpdateHandler struct {
	collection string
}

func (h *typedUpdateHandler) Create(ctx context.Context, client *bamclient.Client, op *planner.Operation) (*bamclient.Entity, error) {
	return client.Create(ctx, createCollection(op, h.collection), typedShape(op))
}

func (h *typedUpdateHandler) Update(ctx context.Context, client *bamclient.Client, op *planner.Operation) (*bamclient.Entity, error) {
	return client.Patch(ctx, h.collection, op.ResourceID, typedShape(op))
}

func (h *typedUpdateHandler) Delete(ctx context.Context, client *bamclient.Client, op *planner.Operation, dangerous bool) error {
	return client.Delete(ctx, h.collection, op.ResourceID, rows.IsProtected(op.ObjectType), dangerous)
}

func (h *typedUpdateHandler) Collection() string { return h.collection }

// typedShape builds the kind-specific payload. Blocks/networks key off
// cidr directly; DHCP options and access rights carry their own
// discriminating fields straight through.
func typedShape(op *planner.Operation) map[string]any {
	shaped := map[string]any{}
	for k, v := range op.Payload {
		shaped[k] = v
	}
	return shaped
}

// notSupportedUpdateHandler is update idiom 1: immutable kinds (tags,
// resource-tag links, device-address links) raise an explicit
// unsupported-update error so the planner's upstream logic never reaches
// here for an update, and a misrouted call fails loudly instead of
// silently no-opping.
type notSupportedUpdateHandler struct {
	collection string
}

func (h *notSupportedUpdateHandler) Create(ctx context.Context, client *bamclient.Client, op *planner.Operation) (*bamclient.Entity, error) {
	return client.Create(ctx, createCollection(op, h.collection), patchShape(op.Payload))
}

func (h *notSupportedUpdateHandler) Update(ctx context.Context, client *bamclient.Client, op *planner.Operation) (*bamclient.Entity, error) {
	return nil, fmt.Errorf("%w: %s does not support update", core.ErrValidation, h.collection)
}

func (h *notSupportedUpdateHandler) Delete(ctx context.Context, client *bamclient.Client, op *planner.Operation, dangerous bool) error {
	return client.Delete(ctx, h.collection, op.ResourceID, rows.IsProtected(op.ObjectType), dangerous)
}

func (h *notSupportedUpdateHandler) Collection() string { return h.collection }
