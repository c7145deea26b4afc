package bamclient

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildFilter_Empty(t *testing.T) {
	assert.Equal(t, "", BuildFilter(nil))
	assert.Equal(t, "", BuildFilter(map[string]string{}))
}

func TestBuildFilter_EqualityClause(t *testing.T) {
	assert.Equal(t, "name:'prod-dc1'", BuildFilter(map[string]string{"name": "prod-dc1"}))
}

func TestBuildFilter_OperatorSuffixes(t *testing.T) {
	tests := []struct {
		field    string
		expected string
	}{
		{"name__like", "name:like('prod%')"},
		{"name__ne", "name:ne('prod%')"},
		{"name__contains", "name:contains('prod%')"},
		{"count__gt", "count:gt('prod%')"},
		{"count__gte", "count:gte('prod%')"},
		{"count__lt", "count:lt('prod%')"},
		{"count__lte", "count:lte('prod%')"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			got := BuildFilter(map[string]string{tt.field: "prod%"})
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestBuildFilter_NumericAndBooleanAreUnquoted(t *testing.T) {
	assert.Equal(t, "count:42", BuildFilter(map[string]string{"count": "42"}))
	assert.Equal(t, "active:true", BuildFilter(map[string]string{"active": "true"}))
}

func TestBuildFilter_IPv6ValuesAreDoubleQuoted(t *testing.T) {
	got := BuildFilter(map[string]string{"address": "2001:db8::1"})
	assert.Equal(t, `address:"2001:db8::1"`, got)
}

func TestBuildFilter_IPv4ValuesAreSingleQuoted(t *testing.T) {
	// an IPv4 literal parses as a netip.Addr but is not Is6(), so it falls
	// through to the default string-quoting path rather than colliding
	// with the colon-delimited grammar the way an IPv6 literal would.
	got := BuildFilter(map[string]string{"address": "10.0.0.1"})
	assert.Equal(t, `address:'10.0.0.1'`, got)
}

func TestBuildFilter_EscapesEmbeddedSingleQuotes(t *testing.T) {
	got := BuildFilter(map[string]string{"name": "O'Brien's Site"})
	assert.Equal(t, `name:'O\'Brien\'s Site'`, got)
	// no unescaped single quote may appear between the wrapping quotes.
	inner := strings.TrimSuffix(strings.TrimPrefix(got, "name:'"), "'")
	assert.NotContains(t, strings.ReplaceAll(inner, `\'`, ""), "'")
}

func TestBuildFilter_MultipleClausesAreSortedAndJoinedWithAnd(t *testing.T) {
	fields := map[string]string{
		"zebra": "1",
		"alpha": "2",
		"mid":   "3",
	}
	// map iteration order is random in Go; BuildFilter must always emit
	// clauses in the same (sorted) order regardless of iteration order.
	first := BuildFilter(fields)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, BuildFilter(fields))
	}
	assert.Equal(t, "alpha:2 and mid:3 and zebra:1", first)
}
