package metering

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToUserTokens(t *testing.T) {
	tests := []struct {
		name     string
		provider int64
		divisor  int64
		want     int64
	}{
		{"zero tokens", 0, 1000, 0},
		{"fraction rounds up", 3500, 1000, 4},
		{"exact", 3000, 1000, 3},
		{"single token", 1, 1000, 1},
		{"divisor one", 1234, 1, 1234},
		{"one over", 1001, 1000, 2},
		{"max int64", math.MaxInt64, 1000, math.MaxInt64/1000 + 1},
		{"max int64 divisor one", math.MaxInt64, 1, math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToUserTokens(tt.provider, tt.divisor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToUserTokens_RoundingUpProperty(t *testing.T) {
	for p := int64(0); p <= 3000; p += 13 {
		for _, d := range []int64{1, 2, 7, 100, 1000, 4096} {
			got, err := ToUserTokens(p, d)
			require.NoError(t, err)

			assert.GreaterOrEqual(t, got*d, p)
			assert.Equal(t, int64(math.Ceil(float64(p)/float64(d))), got)
		}
	}
}

func TestToUserTokens_InvalidDivisor(t *testing.T) {
	for _, d := range []int64{0, -1, math.MinInt64} {
		_, err := ToUserTokens(100, d)
		assert.ErrorIs(t, err, ErrInvalidDivisor, "divisor=%d", d)
	}

	// Zero tokens do not excuse a bad divisor
	_, err := ToUserTokens(0, 0)
	assert.ErrorIs(t, err, ErrInvalidDivisor)
}

func TestToUserTokens_NegativeTokens(t *testing.T) {
	_, err := ToUserTokens(-1, 1000)
	assert.ErrorIs(t, err, ErrNegativeTokens)
}

func TestEngine_ToUserTokensDefault(t *testing.T) {
	e, err := NewEngine(Config{BillingDivisor: 250}, nil)
	require.NoError(t, err)

	got, err := e.ToUserTokensDefault(1000)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)

	got, err = e.ToUserTokens(1000, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)
}

// ==================== Cost Breakdown Tests ====================

func TestEngine_CostBreakdown(t *testing.T) {
	e := NewDefaultEngine()

	b, err := e.CostBreakdown(10000, 1000)
	require.NoError(t, err)

	assert.Equal(t, int64(10000), b.ProviderTokens)
	assert.Equal(t, int64(10), b.UserTokens)
	assert.Equal(t, int64(1000), b.Divisor)
	assert.InDelta(t, 0.03, b.ProviderCost, 1e-12)
	assert.InDelta(t, 0.058, b.UserCost, 1e-12)
	require.True(t, b.MarginDefined())
	assert.InDelta(t, 93.333, *b.ProfitMarginPercent, 0.001)
	assert.InDelta(t, 0.028, b.Profit(), 1e-12)
}

func TestEngine_CostBreakdown_ZeroTokens(t *testing.T) {
	e := NewDefaultEngine()

	b, err := e.CostBreakdown(0, 1000)
	require.NoError(t, err)

	assert.Equal(t, int64(0), b.UserTokens)
	assert.Equal(t, 0.0, b.ProviderCost)
	assert.Equal(t, 0.0, b.UserCost)
	assert.False(t, b.MarginDefined())
	assert.Nil(t, b.ProfitMarginPercent)
	assert.Equal(t, 0.0, b.Margin())
}

func TestEngine_CostBreakdown_ZeroProviderRate(t *testing.T) {
	e, err := NewEngine(Config{ProviderRate: 0, UserRate: 0.01}, nil)
	require.NoError(t, err)

	b, err := e.CostBreakdown(5000, 1000)
	require.NoError(t, err)

	assert.InDelta(t, 0.05, b.UserCost, 1e-12)
	assert.False(t, b.MarginDefined())
	assert.False(t, math.IsNaN(b.Margin()))
}

func TestEngine_CostBreakdown_Invalid(t *testing.T) {
	e := NewDefaultEngine()

	_, err := e.CostBreakdown(100, 0)
	assert.ErrorIs(t, err, ErrInvalidDivisor)

	_, err = e.CostBreakdown(-100, 1000)
	assert.ErrorIs(t, err, ErrNegativeTokens)
}

func TestEngine_CostBreakdown_RoundingFavorsPlatform(t *testing.T) {
	e := NewDefaultEngine()

	// 1 provider token still bills a whole user token
	b, err := e.CostBreakdown(1, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.UserTokens)
	assert.Greater(t, b.Margin(), 0.0)
}

func TestEngine_CostBreakdownDefault(t *testing.T) {
	e := NewDefaultEngine()

	b1, err := e.CostBreakdownDefault(3500)
	require.NoError(t, err)
	b2, err := e.CostBreakdown(3500, 1000)
	require.NoError(t, err)

	assert.Equal(t, b2, b1)
	assert.Equal(t, int64(4), b1.UserTokens)
}

func TestEngine_CostBreakdown_Idempotent(t *testing.T) {
	e := NewDefaultEngine()

	b1, err := e.CostBreakdown(123456, 1000)
	require.NoError(t, err)
	b2, err := e.CostBreakdown(123456, 1000)
	require.NoError(t, err)

	assert.Equal(t, b1.ProviderCost, b2.ProviderCost)
	assert.Equal(t, b1.UserCost, b2.UserCost)
	assert.Equal(t, *b1.ProfitMarginPercent, *b2.ProfitMarginPercent)
}

func TestBreakdown_MarshalJSON(t *testing.T) {
	e := NewDefaultEngine()

	b, err := e.CostBreakdown(0, 1000)
	require.NoError(t, err)

	data, err := json.Marshal(b)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Contains(t, raw, "profit_margin_percent")
	assert.Nil(t, raw["profit_margin_percent"])
	assert.Equal(t, 0.0, raw["profit"])
	assert.Equal(t, 1000.0, raw["divisor"])
}
