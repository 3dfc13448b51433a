package payment

import "github.com/shopspring/decimal"

const minorUnitExp = 2

var minorUnitFactor = decimal.New(1, minorUnitExp)

// ToMinorUnits converts a major-unit amount to integer minor units, rounding half-up.
// Every amount sent to the gateway goes through here.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitFactor).Round(0).IntPart()
}

func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExp)
}
