package firestore

import "github.com/shopspring/decimal"

// Amounts are persisted as int64 minor units (cents) so a Firestore round trip is exact.
const minorUnitExponent = 2

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(minorUnitExponent).Round(0).IntPart()
}

func fromMinorUnits(units int64) decimal.Decimal {
	return decimal.New(units, -minorUnitExponent)
}
