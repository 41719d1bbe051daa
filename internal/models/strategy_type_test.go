package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyType_TextRoundTrip(t *testing.T) {
	for _, st := range AllStrategyTypes() {
		b, err := st.MarshalText()
		require.NoError(t, err)
		var back StrategyType
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, st, back)
	}
	assert.Len(t, AllStrategyTypes(), int(NumStrategyTypes))
}

func TestStrategyType_Unknown(t *testing.T) {
	_, err := ParseStrategyType("jade_lizard")
	assert.Error(t, err)

	_, err = StrategyType(99).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "StrategyType(99)", StrategyType(99).String())
}

func TestStrategyType_JSONKeysAndValues(t *testing.T) {
	scores := map[StrategyType]float64{IronCondor: 72}
	b, err := json.Marshal(scores)
	require.NoError(t, err)
	assert.JSONEq(t, `{"iron_condor":72}`, string(b))

	var sel struct {
		S StrategyType `json:"s"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"s":"bear_call_spread"}`), &sel))
	assert.Equal(t, BearCallSpread, sel.S)
	assert.True(t, sel.S.IsVertical())
	assert.False(t, CalendarSpread.IsVertical())
}
