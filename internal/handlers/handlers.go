// Package handlers implements the per-object_type strategy table (C9):
// one stateless object per kind mapping a typed operation to remote-client
// calls, registered in a central table so adding a kind never touches the
// executor or planner.
package handlers

import (
	"context"
	"fmt"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/core"
	"github.com/bamops/reconciler/internal/planner"
	"github.com/bamops/reconciler/internal/rows"
)

// Handler is the three-method contract every object_type implements.
// Implementations are stateless and safe to share across goroutines.
type Handler interface {
	Create(ctx context.Context, client *bamclient.Client, op *planner.Operation) (*bamclient.Entity, error)
	Update(ctx context.Context, client *bamclient.Client, op *planner.Operation) (*bamclient.Entity, error)
	Delete(ctx context.Context, client *bamclient.Client, op *planner.Operation, dangerous bool) error
	// Collection names the remote endpoint this handler targets, used by
	// the executor to snapshot prior state before an update or delete.
	Collection() string
}

// Registry is the object_type -> Handler strategy table.
type Registry map[rows.ObjectType]Handler

// DefaultRegistry builds the registry with one entry per known kind. New
// kinds register here; no other component needs to change.
func DefaultRegistry() Registry {
	r := Registry{}
	r[rows.ObjectConfiguration] = &genericPatchHandler{collection: "configurations"}
	r[rows.ObjectView] = &genericPatchHandler{collection: "views"}
	r[rows.ObjectIP4Block] = &typedUpdateHandler{collection: "blocks"}
	r[rows.ObjectIP4Network] = &typedUpdateHandler{collection: "networks"}
	r[rows.ObjectIP4Address] = &genericPatchHandler{collection: "addresses"}
	r[rows.ObjectIP6Block] = &typedUpdateHandler{collection: "blocks"}
	r[rows.ObjectIP6Network] = &typedUpdateHandler{collection: "networks"}
	r[rows.ObjectIP6Address] = &genericPatchHandler{collection: "addresses"}
	r[rows.ObjectIPv4DHCPRange] = &genericPatchHandler{collection: "dhcp_ranges"}
	r[rows.ObjectIPv6DHCPRange] = &genericPatchHandler{collection: "dhcp_ranges"}
	r[rows.ObjectDHCPDeploymentRole] = &genericPatchHandler{collection: "dhcp_deployment_roles"}
	r[rows.ObjectDNSDeploymentRole] = &genericPatchHandler{collection: "dns_deployment_roles"}
	r[rows.ObjectDHCPv4ClientDeploymentOption] = &typedUpdateHandler{collection: "dhcp_client_options"}
	r[rows.ObjectDHCPv4ServiceDeploymentOption] = &typedUpdateHandler{collection: "dhcp_service_options"}
	r[rows.ObjectDNSZone] = &genericPatchHandler{collection: "zones"}
	r[rows.ObjectHostRecord] = &genericPatchHandler{collection: "host_records"}
	r[rows.ObjectAliasRecord] = &genericPatchHandler{collection: "alias_records"}
	r[rows.ObjectMXRecord] = &genericPatchHandler{collection: "mx_records"}
	r[rows.ObjectTXTRecord] = &genericPatchHandler{collection: "txt_records"}
	r[rows.ObjectSRVRecord] = &genericPatchHandler{collection: "srv_records"}
	r[rows.ObjectExternalHostRecord] = &genericPatchHandler{collection: "external_host_records"}
	r[rows.ObjectGenericRecord] = &genericPatchHandler{collection: "generic_records"}
	r[rows.ObjectLocation] = &genericPatchHandler{collection: "locations"}
	r[rows.ObjectUDFDefinition] = &genericPatchHandler{collection: "udf_definitions"}
	r[rows.ObjectUDLDefinition] = &genericPatchHandler{collection: "udl_definitions"}
	r[rows.ObjectUserDefinedLink] = &genericPatchHandler{collection: "user_defined_links"}
	r[rows.ObjectMACPool] = &genericPatchHandler{collection: "mac_pools"}
	r[rows.ObjectMACAddress] = &genericPatchHandler{collection: "mac_addresses"}
	r[rows.ObjectTagGroup] = &genericPatchHandler{collection: "tag_groups"}
	r[rows.ObjectTag] = &notSupportedUpdateHandler{collection: "tags"}
	r[rows.ObjectResourceTag] = &notSupportedUpdateHandler{collection: "resource_tags"}
	r[rows.ObjectDeviceType] = &genericPatchHandler{collection: "device_types"}
	r[rows.ObjectDeviceSubtype] = &genericPatchHandler{collection: "device_subtypes"}
	r[rows.ObjectDevice] = &genericPatchHandler{collection: "devices"}
	r[rows.ObjectDeviceAddress] = &notSupportedUpdateHandler{collection: "device_addresses"}
	r[rows.ObjectACL] = &genericPatchHandler{collection: "acls"}
	r[rows.ObjectAccessRight] = &typedUpdateHandler{collection: "access_rights"}
	return r
}

// createCollection builds the collection path a Create POSTs to: nested
// under the operation's resolved parent when one was found ("blocks/42/
// networks"), the flat collection otherwise (a top-level resource, or a
// parent not yet known). Update and Delete stay flat by-id regardless —
// the remote API only scopes creation by parent, never mutation.
func createCollection(op *planner.Operation, flat string) string {
	if op.ParentID != 0 && op.ParentCollection != "" {
		return fmt.Sprintf("%s/%d/%s", op.ParentCollection, op.ParentID, flat)
	}
	return flat
}

// Dispatch resolves op's handler and invokes the method matching its
// operation type. OpNoop and unknown kinds are the caller's
// responsibility to filter before calling Dispatch.
func Dispatch(ctx context.Context, registry Registry, client *bamclient.Client, op *planner.Operation, dangerous bool) (*bamclient.Entity, error) {
	h, ok := registry[op.ObjectType]
	if !ok {
		return nil, fmt.Errorf("%w: no handler registered for object_type %q", core.ErrFatal, op.ObjectType)
	}

	switch op.OperationType {
	case planner.OpCreate:
		return h.Create(ctx, client, op)
	case planner.OpUpdate:
		return h.Update(ctx, client, op)
	case planner.OpDelete:
		return nil, h.Delete(ctx, client, op, dangerous)
	default:
		return nil, fmt.Errorf("%w: handler dispatch called with operation_type %q", core.ErrFatal, op.OperationType)
	}
}
