// Package rows models the tagged, per-object-type input rows the parser
// produces and the field-level validation each object_type enforces before
// a row is allowed to reach the planner.
package rows

import (
	"fmt"
	"strings"
)

// Action is the row-level intent.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ObjectType enumerates the closed set of row kinds this system understands.
type ObjectType string

const (
	ObjectConfiguration                ObjectType = "configuration"
	ObjectView                         ObjectType = "view"
	ObjectIP4Block                     ObjectType = "ip4_block"
	ObjectIP4Network                   ObjectType = "ip4_network"
	ObjectIP4Address                   ObjectType = "ip4_address"
	ObjectIP6Block                     ObjectType = "ip6_block"
	ObjectIP6Network                   ObjectType = "ip6_network"
	ObjectIP6Address                   ObjectType = "ip6_address"
	ObjectIPv4DHCPRange                ObjectType = "ipv4_dhcp_range"
	ObjectIPv6DHCPRange                ObjectType = "ipv6_dhcp_range"
	ObjectDHCPDeploymentRole           ObjectType = "dhcp_deployment_role"
	ObjectDNSDeploymentRole            ObjectType = "dns_deployment_role"
	ObjectDHCPv4ClientDeploymentOption ObjectType = "dhcpv4_client_deployment_option"
	ObjectDHCPv4ServiceDeploymentOption ObjectType = "dhcpv4_service_deployment_option"
	ObjectDNSZone                      ObjectType = "dns_zone"
	ObjectHostRecord                   ObjectType = "host_record"
	ObjectAliasRecord                  ObjectType = "alias_record"
	ObjectMXRecord                     ObjectType = "mx_record"
	ObjectTXTRecord                    ObjectType = "txt_record"
	ObjectSRVRecord                    ObjectType = "srv_record"
	ObjectExternalHostRecord           ObjectType = "external_host_record"
	ObjectGenericRecord                ObjectType = "generic_record"
	ObjectLocation                     ObjectType = "location"
	ObjectUDFDefinition                ObjectType = "udf_definition"
	ObjectUDLDefinition                ObjectType = "udl_definition"
	ObjectUserDefinedLink              ObjectType = "user_defined_link"
	ObjectMACPool                      ObjectType = "mac_pool"
	ObjectMACAddress                   ObjectType = "mac_address"
	ObjectTagGroup                     ObjectType = "tag_group"
	ObjectTag                          ObjectType = "tag"
	ObjectResourceTag                  ObjectType = "resource_tag"
	ObjectDeviceType                   ObjectType = "device_type"
	ObjectDeviceSubtype                ObjectType = "device_subtype"
	ObjectDevice                       ObjectType = "device"
	ObjectDeviceAddress                ObjectType = "device_address"
	ObjectACL                          ObjectType = "acl"
	ObjectAccessRight                  ObjectType = "access_right"
)

// protectedKinds require allow_dangerous_operations to be deleted.
var protectedKinds = map[ObjectType]struct{}{
	ObjectConfiguration: {},
	ObjectView:          {},
	ObjectIP4Block:      {},
	ObjectIP6Block:      {},
	ObjectDNSZone:       {},
}

// IsProtected reports whether deleting a resource of this kind requires the
// dangerous-operations flag.
func IsProtected(ot ObjectType) bool {
	_, ok := protectedKinds[ot]
	return ok
}

// UpdateMode governs planner behaviour when a create row targets an
// already-existing remote identity.
type UpdateMode string

const (
	UpdateModeCreateOnly UpdateMode = "create_only"
	UpdateModeUpsert     UpdateMode = "upsert"
	UpdateModeUpdateOnly UpdateMode = "update_only"
)

// ValidationError is a single field-level or row-level complaint. The
// parser collects these rather than aborting on the first one.
type ValidationError struct {
	RowID   string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %s: %s", e.RowID, e.Message)
	}
	return fmt.Sprintf("row %s, field %s: %s", e.RowID, e.Field, e.Message)
}

// Row is the common envelope shared by every object_type, plus the raw
// field bag and the typed payload produced by that object_type's schema.
type Row struct {
	RowID      string
	Action     Action
	ObjectType ObjectType
	Config     string
	View       string
	UpdateMode UpdateMode

	// Fields is the raw, as-parsed cell values keyed by header name.
	Fields map[string]string

	// Payload is the typed, validated representation for this ObjectType,
	// one of the *Payload structs in schemas.go.
	Payload any
}

// GetList splits a '|'-delimited multi-valued field into its elements,
// trimming surrounding whitespace from each. Empty input yields nil.
func (r *Row) GetList(field string) []string {
	raw, ok := r.Fields[field]
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// Get returns a raw field value, defaulting to "".
func (r *Row) Get(field string) string {
	return r.Fields[field]
}

// Validator is implemented by each object_type's payload to run
// schema-specific field validation. It must not mutate fields other than
// its own typed payload.
type Validator interface {
	Validate(rowID string, fields map[string]string) []*ValidationError
}

// SchemaRegistry maps object_type to a constructor for its payload
// validator, mirroring the handler registry's strategy-table shape.
var SchemaRegistry = map[ObjectType]func() Validator{}

// RegisterSchema adds an object_type to the registry. Called from each
// schema's init().
func RegisterSchema(ot ObjectType, ctor func() Validator) {
	SchemaRegistry[ot] = ctor
}
