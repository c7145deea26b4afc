package rows

import (
	"net/netip"
	"strconv"
	"strings"
)

func init() {
	RegisterSchema(ObjectIP4Block, func() Validator { return &IP4BlockPayload{} })
	RegisterSchema(ObjectIP4Network, func() Validator { return &IP4NetworkPayload{} })
	RegisterSchema(ObjectIP4Address, func() Validator { return &IP4AddressPayload{} })
	RegisterSchema(ObjectIPv4DHCPRange, func() Validator { return &DHCPRangePayload{} })
	RegisterSchema(ObjectDNSZone, func() Validator { return &DNSZonePayload{} })
	RegisterSchema(ObjectHostRecord, func() Validator { return &HostRecordPayload{} })
	RegisterSchema(ObjectAliasRecord, func() Validator { return &AliasRecordPayload{} })
	RegisterSchema(ObjectMXRecord, func() Validator { return &MXRecordPayload{} })
	RegisterSchema(ObjectTXTRecord, func() Validator { return &TXTRecordPayload{} })
	RegisterSchema(ObjectSRVRecord, func() Validator { return &SRVRecordPayload{} })
	RegisterSchema(ObjectMACAddress, func() Validator { return &MACAddressPayload{} })
	RegisterSchema(ObjectDevice, func() Validator { return &DevicePayload{} })
	RegisterSchema(ObjectAccessRight, func() Validator { return &AccessRightPayload{} })
	RegisterSchema(ObjectDHCPv4ClientDeploymentOption, func() Validator { return &DHCPDeploymentOptionPayload{} })
	RegisterSchema(ObjectDHCPv4ServiceDeploymentOption, func() Validator { return &DHCPDeploymentOptionPayload{} })
}

// IP4BlockPayload describes an IPv4 block row, e.g. "10.0.0.0/8".
type IP4BlockPayload struct {
	CIDR       string
	Name       string
	ParentPath string
}

func (p *IP4BlockPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	var errs []*ValidationError
	p.CIDR = strings.TrimSpace(f["cidr"])
	p.Name = strings.TrimSpace(f["name"])
	p.ParentPath = strings.TrimSpace(f["parent_path"])
	if p.CIDR == "" {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "cidr", Message: "required"})
	} else if _, err := netip.ParsePrefix(p.CIDR); err != nil {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "cidr", Message: "not a well-formed CIDR: " + err.Error()})
	}
	return errs
}

// IP4NetworkPayload describes an IPv4 network row, e.g. "10.0.1.0/24".
type IP4NetworkPayload struct {
	CIDR       string
	Name       string
	ParentPath string
}

func (p *IP4NetworkPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	var errs []*ValidationError
	p.CIDR = strings.TrimSpace(f["cidr"])
	p.Name = strings.TrimSpace(f["name"])
	p.ParentPath = strings.TrimSpace(f["parent_path"])
	if p.CIDR == "" {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "cidr", Message: "required"})
	} else if _, err := netip.ParsePrefix(p.CIDR); err != nil {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "cidr", Message: "not a well-formed CIDR: " + err.Error()})
	}
	return errs
}

// IP4AddressPayload describes a single IPv4 address row.
type IP4AddressPayload struct {
	Address    string
	Name       string
	ParentPath string
}

func (p *IP4AddressPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	var errs []*ValidationError
	p.Address = strings.TrimSpace(f["address"])
	p.Name = strings.TrimSpace(f["name"])
	p.ParentPath = strings.TrimSpace(f["parent_path"])
	if p.Address == "" {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "address", Message: "required"})
	} else if _, err := netip.ParseAddr(p.Address); err != nil {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "address", Message: "not a well-formed address: " + err.Error()})
	}
	return errs
}

// serverScopes is the closed set of valid DHCP range scopes.
var serverScopes = map[string]struct{}{
	"server-wide": {}, "service-wide": {}, "client-wide": {}, "all-servers": {},
}

// DHCPRangePayload describes an IPv4 or IPv6 DHCP range row.
type DHCPRangePayload struct {
	StartAddress string
	EndAddress   string
	ServerScope  string
}

func (p *DHCPRangePayload) Validate(rowID string, f map[string]string) []*ValidationError {
	var errs []*ValidationError
	p.StartAddress = strings.TrimSpace(f["start_address"])
	p.EndAddress = strings.TrimSpace(f["end_address"])
	p.ServerScope = strings.ToLower(strings.TrimSpace(f["server_scope"]))

	if _, err := netip.ParseAddr(p.StartAddress); err != nil {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "start_address", Message: "not a well-formed address"})
	}
	if _, err := netip.ParseAddr(p.EndAddress); err != nil {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "end_address", Message: "not a well-formed address"})
	}
	if p.ServerScope != "" {
		if _, ok := serverScopes[p.ServerScope]; !ok {
			errs = append(errs, &ValidationError{RowID: rowID, Field: "server_scope", Message: "must be one of server-wide, service-wide, client-wide, all-servers"})
		}
	}
	return errs
}

// DNSZonePayload describes a DNS zone row.
type DNSZonePayload struct {
	AbsoluteName string
	ViewPath     string
}

func (p *DNSZonePayload) Validate(rowID string, f map[string]string) []*ValidationError {
	var errs []*ValidationError
	p.AbsoluteName = strings.TrimSuffix(strings.TrimSpace(f["absolute_name"]), ".")
	p.ViewPath = strings.TrimSpace(f["view_path"])
	if p.AbsoluteName == "" {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "absolute_name", Message: "required"})
	}
	return errs
}

// recordBase carries the fields common to every DNS record kind.
type recordBase struct {
	AbsoluteName string
	TTL          int
}

func (r *recordBase) validate(rowID string, f map[string]string) []*ValidationError {
	var errs []*ValidationError
	r.AbsoluteName = strings.TrimSuffix(strings.TrimSpace(f["absolute_name"]), ".")
	if r.AbsoluteName == "" {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "absolute_name", Message: "required"})
	}
	if ttl := strings.TrimSpace(f["ttl"]); ttl != "" {
		v, err := strconv.Atoi(ttl)
		if err != nil || v < 0 {
			errs = append(errs, &ValidationError{RowID: rowID, Field: "ttl", Message: "must be a non-negative integer"})
		} else {
			r.TTL = v
		}
	}
	return errs
}

// HostRecordPayload describes an A/AAAA host record row.
type HostRecordPayload struct {
	recordBase
	Addresses []string
}

func (p *HostRecordPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	errs := p.validate(rowID, f)
	for _, a := range strings.Split(f["addresses"], "|") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, err := netip.ParseAddr(a); err != nil {
			errs = append(errs, &ValidationError{RowID: rowID, Field: "addresses", Message: "not a well-formed address: " + a})
			continue
		}
		p.Addresses = append(p.Addresses, a)
	}
	if len(p.Addresses) == 0 {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "addresses", Message: "at least one address required"})
	}
	return errs
}

// AliasRecordPayload describes a CNAME alias record row.
type AliasRecordPayload struct {
	recordBase
	LinkedRecord string
}

func (p *AliasRecordPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	errs := p.validate(rowID, f)
	p.LinkedRecord = strings.TrimSuffix(strings.TrimSpace(f["linked_record"]), ".")
	if p.LinkedRecord == "" {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "linked_record", Message: "required"})
	}
	return errs
}

// MXRecordPayload describes a mail-exchanger record row.
type MXRecordPayload struct {
	recordBase
	Priority   int
	LinkedHost string
}

func (p *MXRecordPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	errs := p.validate(rowID, f)
	p.LinkedHost = strings.TrimSuffix(strings.TrimSpace(f["linked_host"]), ".")
	v, err := strconv.Atoi(strings.TrimSpace(f["priority"]))
	if err != nil || v < 0 {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "priority", Message: "must be a non-negative integer"})
	} else {
		p.Priority = v
	}
	return errs
}

// TXTRecordPayload describes a TXT record row.
type TXTRecordPayload struct {
	recordBase
	Text string
}

func (p *TXTRecordPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	errs := p.validate(rowID, f)
	p.Text = f["text"]
	return errs
}

// SRVRecordPayload describes an SRV record row.
type SRVRecordPayload struct {
	recordBase
	Priority   int
	Weight     int
	Port       int
	LinkedHost string
}

func (p *SRVRecordPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	errs := p.validate(rowID, f)
	intField := func(name string, dst *int) {
		v, err := strconv.Atoi(strings.TrimSpace(f[name]))
		if err != nil || v < 0 {
			errs = append(errs, &ValidationError{RowID: rowID, Field: name, Message: "must be a non-negative integer"})
			return
		}
		*dst = v
	}
	intField("priority", &p.Priority)
	intField("weight", &p.Weight)
	intField("port", &p.Port)
	p.LinkedHost = strings.TrimSuffix(strings.TrimSpace(f["linked_host"]), ".")
	return errs
}

// MACAddressPayload describes a MAC address row, normalized to
// colon-separated uppercase.
type MACAddressPayload struct {
	MACAddress string
	PoolPath   string
}

func (p *MACAddressPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	var errs []*ValidationError
	raw := strings.TrimSpace(f["mac_address"])
	norm, err := normalizeMAC(raw)
	if err != nil {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "mac_address", Message: err.Error()})
	}
	p.MACAddress = norm
	p.PoolPath = strings.TrimSpace(f["pool_path"])
	return errs
}

// normalizeMAC accepts colon, dash, or dot separated MAC addresses and
// returns the colon-separated uppercase canonical form.
func normalizeMAC(raw string) (string, error) {
	cleaned := strings.NewReplacer("-", "", ":", "", ".", "").Replace(raw)
	if len(cleaned) != 12 {
		return "", errInvalidMAC
	}
	for _, r := range cleaned {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return "", errInvalidMAC
		}
	}
	cleaned = strings.ToUpper(cleaned)
	var parts [6]string
	for i := 0; i < 6; i++ {
		parts[i] = cleaned[i*2 : i*2+2]
	}
	return strings.Join(parts[:], ":"), nil
}

var errInvalidMAC = &ValidationError{Message: "not a well-formed MAC address"}

// DevicePayload describes a device row.
type DevicePayload struct {
	Name       string `validate:"required"`
	DeviceType string `validate:"required"`
}

func (p *DevicePayload) Validate(rowID string, f map[string]string) []*ValidationError {
	p.Name = strings.TrimSpace(f["name"])
	p.DeviceType = strings.TrimSpace(f["device_type"])
	return ValidateStruct(rowID, p)
}

// AccessRightPayload describes an access-right row; access levels are
// uppercased and user_type lowercased before validation.
type AccessRightPayload struct {
	UserType    string `validate:"required"`
	AccessLevel string `validate:"oneof=NONE VIEW ADD CHANGE FULL"`
	TargetPath  string `validate:"required"`
}

func (p *AccessRightPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	p.UserType = strings.ToLower(strings.TrimSpace(f["user_type"]))
	p.AccessLevel = strings.ToUpper(strings.TrimSpace(f["access_level"]))
	p.TargetPath = strings.TrimSpace(f["target_path"])
	return ValidateStruct(rowID, p)
}

// DHCPDeploymentOptionPayload describes a DHCPv4 client/service deployment
// option row. The option code must be in 1-254.
type DHCPDeploymentOptionPayload struct {
	OptionCode  int
	ServerScope string
	Value       string
}

func (p *DHCPDeploymentOptionPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	var errs []*ValidationError
	code, err := strconv.Atoi(strings.TrimSpace(f["option_code"]))
	if err != nil || code < 1 || code > 254 {
		errs = append(errs, &ValidationError{RowID: rowID, Field: "option_code", Message: "must be in 1-254"})
	} else {
		p.OptionCode = code
	}
	p.ServerScope = strings.ToLower(strings.TrimSpace(f["server_scope"]))
	if p.ServerScope != "" {
		if _, ok := serverScopes[p.ServerScope]; !ok {
			errs = append(errs, &ValidationError{RowID: rowID, Field: "server_scope", Message: "must be one of server-wide, service-wide, client-wide, all-servers"})
		}
	}
	p.Value = strings.TrimSpace(f["value"])
	return errs
}

// GenericPayload is used for object_types with no dedicated schema above
// (location, udf_definition, tag, device_type, acl, ...): fields pass
// through unvalidated beyond requiring a name.
type GenericPayload struct {
	Name string
}

func (p *GenericPayload) Validate(rowID string, f map[string]string) []*ValidationError {
	p.Name = strings.TrimSpace(f["name"])
	return nil
}
