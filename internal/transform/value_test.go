package transform

import (
	"fmt"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMonetaryValue(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
	}{
		{name: "US separators", input: "1,234,567.89", want: 1234567.89},
		{name: "European separators", input: "1.234.567,89", want: 1234567.89},
		{name: "decimal comma", input: "1234,56", want: 1234.56},
		{name: "decimal dot", input: "1234.56", want: 1234.56},
		{name: "plain integer", input: "500000", want: 500000},
		{name: "tenge symbol and spaces", input: "1 234 567,89 ₸", want: 1234567.89},
		{name: "non-breaking spaces", input: "1 234 567,89 ₸", want: 1234567.89},
		{name: "single comma thousands", input: "1,234", want: 1234},
		{name: "single dot thousands", input: "1.234", want: 1234},
		{name: "dollar sign", input: "$99.50", want: 99.5},
		{name: "zero tenge", input: "0 ₸", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMonetaryValue(tt.input)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseMonetaryValueErrors(t *testing.T) {
	for _, input := range []string{"", "   ", "₸", "abc"} {
		_, err := ParseMonetaryValue(input)
		assert.Error(t, err, "input %q", input)
	}
}

// Both separator conventions must agree on any amount with cents.
func TestParseMonetaryValueConventionsAgree(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("US and European renderings parse to the same value", prop.ForAll(
		func(units int, cents int) bool {
			us := fmt.Sprintf("%s.%02d", groupThousands(units, ","), cents)
			eu := fmt.Sprintf("%s,%02d", groupThousands(units, "."), cents)

			wantTotal := float64(units) + float64(cents)/100

			gotUS, errUS := ParseMonetaryValue(us)
			gotEU, errEU := ParseMonetaryValue(eu)

			return errUS == nil && errEU == nil &&
				math.Abs(gotUS-wantTotal) < 1e-6 &&
				math.Abs(gotUS-gotEU) < 1e-6
		},
		gen.IntRange(0, 999_999_999),
		gen.IntRange(0, 99),
	))

	properties.TestingRun(t)
}

// groupThousands renders n with the given thousands separator.
func groupThousands(n int, sep string) string {
	s := fmt.Sprintf("%d", n)
	out := ""
	for i, d := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out += sep
		}
		out += string(d)
	}
	return out
}

func TestParseDaysLeft(t *testing.T) {
	tests := []struct {
		input  string
		want   int
		wantOK bool
	}{
		{input: "13 дней", want: 13, wantOK: true},
		{input: "6 дня", want: 6, wantOK: true},
		{input: "3 дня", want: 3, wantOK: true},
		{input: "1 day", want: 1, wantOK: true},
		{input: "N/A", wantOK: false},
		{input: "", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := ParseDaysLeft(tt.input)
		assert.Equal(t, tt.wantOK, ok, "input %q", tt.input)
		if tt.wantOK {
			assert.Equal(t, tt.want, got, "input %q", tt.input)
		}
	}
}
