package core

import "github.com/shopspring/decimal"

// Totals is the full monetary derivation of a sale. All figures are rounded
// to 2 decimal places, half up, exactly once each — repeated recomputation
// must never accumulate drift.
type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	DueAmount     decimal.Decimal `json:"due_amount"`
}

var oneHundred = decimal.NewFromInt(100)

// ComputeTotals derives subtotal, discount, grand total, paid and due from
// the raw item, discount and payment data. It is pure and deterministic.
//
// The discount is clamped to [0, subtotal] as a second line of defense; the
// caller-facing validator (ValidateDiscount) rejects out-of-range input
// before it ever reaches persistence.
func ComputeTotals(items []OfflineSaleItem, discountAmount decimal.Decimal, discountType DiscountType, payments []Payment) Totals {
	// One rounding of the summed subtotal, not per item.
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.UnitPrice.Mul(it.Quantity))
	}
	subtotal = subtotal.Round(2)

	var discountValue decimal.Decimal
	if discountType == DiscountPercentage {
		discountValue = subtotal.Mul(discountAmount).Div(oneHundred).Round(2)
	} else {
		discountValue = discountAmount.Round(2)
	}
	if discountValue.IsNegative() {
		discountValue = decimal.Zero
	}
	if discountValue.GreaterThan(subtotal) {
		discountValue = subtotal
	}

	grandTotal := subtotal.Sub(discountValue)

	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	paid = paid.Round(2)

	due := grandTotal.Sub(paid)
	if due.IsNegative() {
		due = decimal.Zero
	}

	return Totals{
		Subtotal:      subtotal,
		DiscountValue: discountValue,
		GrandTotal:    grandTotal,
		PaidAmount:    paid,
		DueAmount:     due,
	}
}

// ValidateDiscount rejects out-of-range discount input before the engine's
// defensive clamp ever applies. Percentage discounts must sit in [0, 100];
// fixed discounts must not exceed the current subtotal.
func ValidateDiscount(amount decimal.Decimal, typ DiscountType, subtotal decimal.Decimal) error {
	if amount.IsNegative() {
		return validationConflict("discount amount must not be negative, got %s", amount)
	}
	switch typ {
	case DiscountPercentage:
		if amount.GreaterThan(oneHundred) {
			return validationConflict("percentage discount must not exceed 100, got %s", amount)
		}
	case DiscountFixed:
		if amount.GreaterThan(subtotal) {
			return validationConflict("fixed discount %s exceeds subtotal %s", amount, subtotal)
		}
	default:
		return validationConflict("unknown discount type %q", typ)
	}
	return nil
}
