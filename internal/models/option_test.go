package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testExpiry = time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)

func mustContract(t *testing.T, optType OptionType, strike string) OptionContract {
	t.Helper()
	c, err := NewOptionContract("SPY", optType, decimal.RequireFromString(strike), testExpiry)
	require.NoError(t, err)
	return c
}

func TestNewOptionContract_Validation(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		optType OptionType
		strike  decimal.Decimal
		exp     time.Time
		wantErr bool
	}{
		{"valid put", "spy", OptionTypePut, decimal.NewFromInt(450), testExpiry, false},
		{"empty symbol", " ", OptionTypePut, decimal.NewFromInt(450), testExpiry, true},
		{"bad type", "SPY", OptionType("STRADDLE"), decimal.NewFromInt(450), testExpiry, true},
		{"zero strike", "SPY", OptionTypeCall, decimal.Zero, testExpiry, true},
		{"negative strike", "SPY", OptionTypeCall, decimal.NewFromInt(-5), testExpiry, true},
		{"zero expiration", "SPY", OptionTypeCall, decimal.NewFromInt(450), time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewOptionContract(tt.symbol, tt.optType, tt.strike, tt.exp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SPY", c.Symbol)
		})
	}
}

func TestOptionContract_Moneyness(t *testing.T) {
	spot := decimal.NewFromInt(100)
	put := mustContract(t, OptionTypePut, "95")
	call := mustContract(t, OptionTypeCall, "95")
	atm := mustContract(t, OptionTypeCall, "100")

	assert.True(t, put.IsOTM(spot))
	assert.False(t, put.IsITM(spot))
	assert.True(t, put.IntrinsicValue(spot).IsZero())
	assert.True(t, put.OTMPercent(spot).Equal(decimal.NewFromInt(5)))

	assert.True(t, call.IsITM(spot))
	assert.True(t, call.IntrinsicValue(spot).Equal(decimal.NewFromInt(5)))
	assert.True(t, call.OTMPercent(spot).IsZero())
	assert.True(t, call.Moneyness(spot).GreaterThan(decimal.NewFromInt(1)))

	// at the money is neither
	assert.False(t, atm.IsITM(spot))
	assert.False(t, atm.IsOTM(spot))
}

func TestStrategyLeg_PremiumEffect(t *testing.T) {
	c := mustContract(t, OptionTypePut, "445")
	premium := decimal.RequireFromString("3.00")

	short, err := NewStrategyLeg(c, SideShort, 2)
	require.NoError(t, err)
	long, err := NewStrategyLeg(c, SideLong, 2)
	require.NoError(t, err)

	if got := short.PremiumEffect(premium); !got.Equal(decimal.RequireFromString("6.00")) {
		t.Errorf("short PremiumEffect = %s, want 6.00", got)
	}
	if got := long.PremiumEffect(premium); !got.Equal(decimal.RequireFromString("-6.00")) {
		t.Errorf("long PremiumEffect = %s, want -6.00", got)
	}
}

func TestNewStrategyLeg_Invalid(t *testing.T) {
	c := mustContract(t, OptionTypePut, "445")
	_, err := NewStrategyLeg(c, SideShort, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = NewStrategyLeg(c, Side("FLAT"), 1)
	assert.Error(t, err)
}

func TestParseOptionType(t *testing.T) {
	for in, want := range map[string]OptionType{"call": OptionTypeCall, "C": OptionTypeCall, " put ": OptionTypePut, "p": OptionTypePut} {
		got, err := ParseOptionType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOptionType("straddle")
	assert.Error(t, err)
}

func TestSide_UnmarshalText(t *testing.T) {
	var s Side
	require.NoError(t, s.UnmarshalText([]byte("short")))
	assert.Equal(t, SideShort, s)
	assert.Equal(t, SideLong, s.Opposite())
	assert.Error(t, s.UnmarshalText([]byte("sideways")))
}
