package mpt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		scale  uint8
		want   string
		reject bool
	}{
		{name: "scale two", amount: "500.00", scale: 2, want: "50000"},
		{name: "scale two no fraction", amount: "500", scale: 2, want: "50000"},
		{name: "scale two partial fraction", amount: "0.5", scale: 2, want: "50"},
		{name: "scale zero integer", amount: "1000000", scale: 0, want: "1000000"},
		{name: "scale six", amount: "1.234567", scale: 6, want: "1234567"},
		{name: "excess precision", amount: "500.001", scale: 2, reject: true},
		{name: "fraction at scale zero", amount: "1.5", scale: 0, reject: true},
		{name: "zero", amount: "0", scale: 2, reject: true},
		{name: "negative", amount: "-5", scale: 2, reject: true},
		{name: "not a number", amount: "five", scale: 2, reject: true},
		{name: "empty", amount: "", scale: 2, reject: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBaseUnits(tt.amount, tt.scale)
			if tt.reject {
				require.Error(t, err)
				assert.True(t, IsCallerInput(err), "amount rejections are caller-input errors")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromBaseUnits(t *testing.T) {
	got, err := FromBaseUnits("50000", 2)
	require.NoError(t, err)
	assert.Equal(t, "500", got)

	got, err = FromBaseUnits("50050", 2)
	require.NoError(t, err)
	assert.Equal(t, "500.5", got)

	_, err = FromBaseUnits("nonsense", 2)
	assert.Error(t, err)
}

func TestBaseUnitsRoundTrip(t *testing.T) {
	base, err := ToBaseUnits("123.45", 4)
	require.NoError(t, err)
	assert.Equal(t, "1234500", base)

	display, err := FromBaseUnits(base, 4)
	require.NoError(t, err)
	assert.Equal(t, "123.45", display)
}
