package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *float64
	}{
		{"plain number", "42.50", f(42.50)},
		{"dollar sign", "$129.99", f(129.99)},
		{"thousands separator", "$1,249.00", f(1249.00)},
		{"whitespace", "  19.95 ", f(19.95)},
		{"zero", "0", nil},
		{"dollar zero", "$0.00", nil},
		{"negative", "-5.00", nil},
		{"not available", "N/A", nil},
		{"call for price", "Call", nil},
		{"call long form", "call for price", nil},
		{"tbd", "TBD", nil},
		{"dashes", "--", nil},
		{"empty", "", nil},
		{"garbage", "see counter", nil},
		{"rounds to cents", "10.999", f(11.00)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizePrice(tt.raw)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.001)
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	assert.Nil(t, NormalizeValue(0))
	assert.Nil(t, NormalizeValue(-1.25))
	got := NormalizeValue(10.005)
	require.NotNil(t, got)
	assert.InDelta(t, 10.01, *got, 0.001)
}

func TestRetail(t *testing.T) {
	// 40% shop markup over wholesale.
	assert.InDelta(t, 140.00, Retail(100.00, 40), 0.001)
	assert.InDelta(t, 34.99, Retail(24.99, 40.02), 0.01)
	assert.InDelta(t, 100.00, Retail(100.00, 0), 0.001)
}

func f(v float64) *float64 { return &v }
