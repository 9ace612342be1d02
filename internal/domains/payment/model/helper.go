package model

import (
	"github.com/shopspring/decimal"
)

// =====================================================
// AMOUNT CONVERSION
// =====================================================

// ConvertMinorUnits converts a minor-unit amount into a target currency.
// The formula goes minor -> major -> minor so the rounding point matches the
// ledger: round(amount/100 * rate * 100).
func ConvertMinorUnits(amount int64, rate decimal.Decimal) int64 {
	major := decimal.NewFromInt(amount).Div(decimal.NewFromInt(100))
	converted := major.Mul(rate).Mul(decimal.NewFromInt(100))
	return converted.Round(0).IntPart()
}

// MinorToMajorString renders a minor-unit amount as a major-unit decimal
// string ("5000" -> "50.00"), the format PayPal and Frankfurter expect.
func MinorToMajorString(amount int64) string {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// =====================================================
// LINE ITEM VALIDATION
// =====================================================

// ProviderLineItem is one priced row presented to a provider, minor units.
type ProviderLineItem struct {
	Name       string
	Quantity   int64
	UnitAmount int64
	Currency   string
	ImageURL   *string
}

// SumLineItems returns the total of unitAmount x quantity across items.
func SumLineItems(items []ProviderLineItem) int64 {
	var sum int64
	for _, it := range items {
		sum += it.UnitAmount * it.Quantity
	}
	return sum
}

// ValidateLineItemTotal checks the item sum against the converted total,
// tolerating at most one minor unit of rounding drift.
func ValidateLineItemTotal(items []ProviderLineItem, total int64) error {
	sum := SumLineItems(items)
	diff := sum - total
	if diff < 0 {
		diff = -diff
	}
	if diff > AmountToleranceMinor {
		return NewAmountMismatchError(sum, total)
	}
	return nil
}
