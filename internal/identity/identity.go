// Package identity wires the planner's and executor's lookup callbacks to
// concrete bamclient calls: given a row or operation, find the existing
// remote entity (if any) that shares its natural identity field, answering
// the planner's "does this row already exist" question.
package identity

import (
	"context"
	"net/netip"

	"github.com/bamops/reconciler/internal/bamclient"
	"github.com/bamops/reconciler/internal/planner"
	"github.com/bamops/reconciler/internal/rows"
)

// fieldSpec names the collection and the row/remote field pair used to
// look an object_type's existing entity up by equality filter.
type fieldSpec struct {
	collection  string
	rowField    string
	remoteField string
}

// specs covers every kind whose identity is a direct equality match on one
// field. Kinds with other identity rules (networks keyed by exact CIDR
// range, addresses by an address filter, zones keyed by FQDN walk) are
// handled separately in Lookup below.
var specs = map[rows.ObjectType]fieldSpec{
	rows.ObjectIP4Block:                     {"blocks", "cidr", "range"},
	rows.ObjectIP6Block:                     {"blocks", "cidr", "range"},
	rows.ObjectIPv4DHCPRange:                {"dhcp_ranges", "cidr", "range"},
	rows.ObjectIPv6DHCPRange:                {"dhcp_ranges", "cidr", "range"},
	rows.ObjectDHCPDeploymentRole:           {"dhcp_deployment_roles", "name", "name"},
	rows.ObjectDNSDeploymentRole:            {"dns_deployment_roles", "name", "name"},
	rows.ObjectDHCPv4ClientDeploymentOption: {"dhcp_client_options", "name", "name"},
	rows.ObjectDHCPv4ServiceDeploymentOption: {"dhcp_service_options", "name", "name"},
	rows.ObjectHostRecord:                   {"host_records", "absolute_name", "absoluteName"},
	rows.ObjectAliasRecord:                  {"alias_records", "absolute_name", "absoluteName"},
	rows.ObjectMXRecord:                     {"mx_records", "absolute_name", "absoluteName"},
	rows.ObjectTXTRecord:                    {"txt_records", "absolute_name", "absoluteName"},
	rows.ObjectSRVRecord:                    {"srv_records", "absolute_name", "absoluteName"},
	rows.ObjectExternalHostRecord:           {"external_host_records", "absolute_name", "absoluteName"},
	rows.ObjectGenericRecord:                {"generic_records", "absolute_name", "absoluteName"},
	rows.ObjectLocation:                     {"locations", "name", "name"},
	rows.ObjectUDFDefinition:                {"udf_definitions", "name", "name"},
	rows.ObjectUDLDefinition:                {"udl_definitions", "name", "name"},
	rows.ObjectUserDefinedLink:              {"user_defined_links", "name", "name"},
	rows.ObjectMACPool:                      {"mac_pools", "name", "name"},
	rows.ObjectMACAddress:                   {"mac_addresses", "mac_address", "address"},
	rows.ObjectTagGroup:                     {"tag_groups", "name", "name"},
	rows.ObjectTag:                          {"tags", "name", "name"},
	rows.ObjectDeviceType:                   {"device_types", "name", "name"},
	rows.ObjectDeviceSubtype:                {"device_subtypes", "name", "name"},
	rows.ObjectDevice:                       {"devices", "name", "name"},
	rows.ObjectACL:                          {"acls", "name", "name"},
	rows.ObjectAccessRight:                  {"access_rights", "name", "name"},
}

// Lookup builds a planner.IdentityLookup backed by client, dispatching each
// object_type to its identity strategy: direct filter match for most
// kinds, an exact CIDR range match for networks, an address equality
// filter for addresses, and the FQDN-walk for zones. No longest-prefix
// containment search is made here.
func Lookup(client *bamclient.Client) planner.IdentityLookup {
	return func(ctx context.Context, row *rows.Row) (*bamclient.Entity, error) {
		switch row.ObjectType {
		case rows.ObjectIP4Network, rows.ObjectIP6Network:
			return lookupByCIDR(ctx, client, "networks", row.Get("cidr"))
		case rows.ObjectIP4Address, rows.ObjectIP6Address:
			return lookupByFilter(ctx, client, "addresses", "address", row.Get("address"))
		case rows.ObjectDNSZone:
			return client.GetZoneByFQDN(ctx, 0, row.Get("absolute_name"))
		case rows.ObjectResourceTag, rows.ObjectDeviceAddress:
			// link rows have no independent identity beyond their endpoints;
			// the planner treats every occurrence as a fresh create.
			return nil, nil
		}

		spec, ok := specs[row.ObjectType]
		if !ok {
			return nil, nil
		}
		return lookupByFilter(ctx, client, spec.collection, spec.remoteField, row.Get(spec.rowField))
	}
}

func lookupByFilter(ctx context.Context, client *bamclient.Client, collection, remoteField, value string) (*bamclient.Entity, error) {
	if value == "" {
		return nil, nil
	}
	entities, err := client.List(ctx, collection, bamclient.ListOptions{
		Filter:  map[string]string{remoteField: value},
		ItemCap: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

// lookupByCIDR resolves a network by its exact range rather than by
// containment: a row declaring "10.0.0.0/24" must match that network
// precisely, not merely be contained by it.
func lookupByCIDR(ctx context.Context, client *bamclient.Client, collection, cidr string) (*bamclient.Entity, error) {
	if cidr == "" {
		return nil, nil
	}
	if _, err := netip.ParsePrefix(cidr); err != nil {
		return nil, nil
	}
	return lookupByFilter(ctx, client, collection, "range", cidr)
}

// ConflictLookup adapts Lookup's row-oriented signature to the executor's
// operation-oriented one, reconstructing the minimal row fields a conflict
// resolution needs from the operation's payload.
func ConflictLookup(client *bamclient.Client) func(ctx context.Context, op *planner.Operation) (*bamclient.Entity, error) {
	lookup := Lookup(client)
	return func(ctx context.Context, op *planner.Operation) (*bamclient.Entity, error) {
		row := &rows.Row{ObjectType: op.ObjectType, Fields: map[string]string{}}
		for k, v := range op.Payload {
			if s, ok := v.(string); ok {
				row.Fields[k] = s
			}
		}
		return lookup(ctx, row)
	}
}
