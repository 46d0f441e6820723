package mpt

import (
	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a decimal string amount (e.g. "500.00") to an
// integer count of base units at the given asset scale. Amounts carrying
// more precision than the scale are rejected rather than rounded; rounding
// here would drift against the ledger's integer representation.
func ToBaseUnits(amount string, scale uint8) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", callerInputf("invalid amount %q: not a decimal", amount)
	}
	if d.Sign() <= 0 {
		return "", callerInputf("invalid amount %q: must be positive", amount)
	}
	shifted := d.Shift(int32(scale))
	if !shifted.IsInteger() {
		return "", callerInputf("invalid amount %q: more precision than asset scale %d", amount, scale)
	}
	return shifted.String(), nil
}

// FromBaseUnits converts an integer base-unit string back to a decimal
// string at the given asset scale.
func FromBaseUnits(baseUnits string, scale uint8) (string, error) {
	d, err := decimal.NewFromString(baseUnits)
	if err != nil {
		return "", callerInputf("invalid base units %q", baseUnits)
	}
	return d.Shift(-int32(scale)).String(), nil
}
