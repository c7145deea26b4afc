package bamclient

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
)

// operatorSuffixes maps a trailing field-name suffix to the filter
// operator it selects.
var operatorSuffixes = map[string]string{
	"__like":     "like",
	"__ne":       "ne",
	"__contains": "contains",
	"__gt":       "gt",
	"__gte":      "gte",
	"__lt":       "lt",
	"__lte":      "lte",
}

// BuildFilter renders a {field: value} map into the server's filter
// grammar: `field:value` for equality, `field:op(value)` for suffixed
// operators, joined by `and`. String values are single-quote-escaped;
// IPv6 address values are double-quoted because their colons collide with
// the grammar. Numeric and boolean values are left unquoted. Map iteration
// order is not stable in Go, so keys are sorted for determinism
// (Testable Property 1).
func BuildFilter(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	for _, key := range keys {
		value := fields[key]
		field, op := splitOperator(key)
		rendered := renderValue(value)
		if op == "" {
			clauses = append(clauses, fmt.Sprintf("%s:%s", field, rendered))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s:%s(%s)", field, op, rendered))
		}
	}

	return strings.Join(clauses, " and ")
}

func splitOperator(key string) (field, op string) {
	for suffix, operator := range operatorSuffixes {
		if strings.HasSuffix(key, suffix) {
			return strings.TrimSuffix(key, suffix), operator
		}
	}
	return key, ""
}

// renderValue quotes/escapes a single filter value per Testable Property 9:
// for any user-supplied string the result contains no unescaped single
// quote outside the wrapping quotes.
func renderValue(value string) string {
	if _, err := strconv.ParseBool(value); err == nil {
		return value
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}
	if addr, err := netip.ParseAddr(value); err == nil && addr.Is6() {
		return `"` + value + `"`
	}

	escaped := strings.ReplaceAll(value, `'`, `\'`)
	return "'" + escaped + "'"
}
