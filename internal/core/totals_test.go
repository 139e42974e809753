package core_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"pos-offline/internal/core"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func item(price, qty string) core.OfflineSaleItem {
	return core.OfflineSaleItem{UnitPrice: dec(price), Quantity: dec(qty)}
}

func payment(amount string) core.Payment {
	return core.Payment{Method: "cash", Amount: dec(amount)}
}

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name           string
		items          []core.OfflineSaleItem
		discountAmount string
		discountType   core.DiscountType
		payments       []core.Payment
		wantSubtotal   string
		wantDiscount   string
		wantGrand      string
		wantPaid       string
		wantDue        string
	}{
		{
			name:           "ten percent discount",
			items:          []core.OfflineSaleItem{item("10.00", "3")},
			discountAmount: "10",
			discountType:   core.DiscountPercentage,
			wantSubtotal:   "30.00",
			wantDiscount:   "3.00",
			wantGrand:      "27.00",
			wantPaid:       "0.00",
			wantDue:        "27.00",
		},
		{
			name:           "fixed discount exceeding subtotal clamps",
			items:          []core.OfflineSaleItem{item("25.00", "2")},
			discountAmount: "75.00",
			discountType:   core.DiscountFixed,
			wantSubtotal:   "50.00",
			wantDiscount:   "50.00",
			wantGrand:      "0.00",
			wantPaid:       "0.00",
			wantDue:        "0.00",
		},
		{
			name:           "partial payments accumulate",
			items:          []core.OfflineSaleItem{item("100.00", "1")},
			discountAmount: "0",
			discountType:   core.DiscountFixed,
			payments:       []core.Payment{payment("40.00"), payment("35.00")},
			wantSubtotal:   "100.00",
			wantDiscount:   "0.00",
			wantGrand:      "100.00",
			wantPaid:       "75.00",
			wantDue:        "25.00",
		},
		{
			name:           "overpayment floors due at zero",
			items:          []core.OfflineSaleItem{item("20.00", "1")},
			discountAmount: "0",
			discountType:   core.DiscountFixed,
			payments:       []core.Payment{payment("50.00")},
			wantSubtotal:   "20.00",
			wantDiscount:   "0.00",
			wantGrand:      "20.00",
			wantPaid:       "50.00",
			wantDue:        "0.00",
		},
		{
			name:           "negative discount clamps to zero",
			items:          []core.OfflineSaleItem{item("10.00", "1")},
			discountAmount: "-5",
			discountType:   core.DiscountFixed,
			wantSubtotal:   "10.00",
			wantDiscount:   "0.00",
			wantGrand:      "10.00",
			wantPaid:       "0.00",
			wantDue:        "10.00",
		},
		{
			name:           "percentage over 100 clamps to subtotal",
			items:          []core.OfflineSaleItem{item("10.00", "1")},
			discountAmount: "150",
			discountType:   core.DiscountPercentage,
			wantSubtotal:   "10.00",
			wantDiscount:   "10.00",
			wantGrand:      "0.00",
			wantPaid:       "0.00",
			wantDue:        "0.00",
		},
		{
			name: "subtotal rounds once over the sum",
			// 3 × 0.335 = 1.005 each; per-item rounding would give 3.03,
			// a single rounding of the 3.015 sum gives 3.02.
			items: []core.OfflineSaleItem{
				item("0.335", "3"),
				item("0.335", "3"),
				item("0.335", "3"),
			},
			discountAmount: "0",
			discountType:   core.DiscountFixed,
			wantSubtotal:   "3.02",
			wantDiscount:   "0.00",
			wantGrand:      "3.02",
			wantPaid:       "0.00",
			wantDue:        "3.02",
		},
		{
			name:           "no items",
			items:          nil,
			discountAmount: "0",
			discountType:   core.DiscountFixed,
			wantSubtotal:   "0.00",
			wantDiscount:   "0.00",
			wantGrand:      "0.00",
			wantPaid:       "0.00",
			wantDue:        "0.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := core.ComputeTotals(tt.items, dec(tt.discountAmount), tt.discountType, tt.payments)

			check := func(field string, got, want decimal.Decimal) {
				if !got.Equal(want) {
					t.Errorf("%s: expected %s, got %s", field, want, got)
				}
			}
			check("subtotal", got.Subtotal, dec(tt.wantSubtotal))
			check("discountValue", got.DiscountValue, dec(tt.wantDiscount))
			check("grandTotal", got.GrandTotal, dec(tt.wantGrand))
			check("paidAmount", got.PaidAmount, dec(tt.wantPaid))
			check("dueAmount", got.DueAmount, dec(tt.wantDue))
		})
	}
}

func TestComputeTotals_Deterministic(t *testing.T) {
	items := []core.OfflineSaleItem{item("19.99", "7"), item("0.05", "13")}
	payments := []core.Payment{payment("50.00")}

	first := core.ComputeTotals(items, dec("12.5"), core.DiscountPercentage, payments)
	for i := 0; i < 100; i++ {
		again := core.ComputeTotals(items, dec("12.5"), core.DiscountPercentage, payments)
		if !again.GrandTotal.Equal(first.GrandTotal) || !again.DueAmount.Equal(first.DueAmount) {
			t.Fatalf("recomputation drifted on pass %d: %+v vs %+v", i, again, first)
		}
	}
}

func TestValidateDiscount(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		typ       core.DiscountType
		subtotal  string
		expectErr bool
	}{
		{"valid percentage", "15", core.DiscountPercentage, "100.00", false},
		{"full percentage", "100", core.DiscountPercentage, "100.00", false},
		{"percentage over 100", "101", core.DiscountPercentage, "100.00", true},
		{"valid fixed", "30.00", core.DiscountFixed, "100.00", false},
		{"fixed equal to subtotal", "100.00", core.DiscountFixed, "100.00", false},
		{"fixed exceeding subtotal", "100.01", core.DiscountFixed, "100.00", true},
		{"negative amount", "-1", core.DiscountFixed, "100.00", true},
		{"unknown type", "10", core.DiscountType("bogus"), "100.00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := core.ValidateDiscount(dec(tt.amount), tt.typ, dec(tt.subtotal))
			if tt.expectErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, core.ErrValidationConflict) {
					t.Errorf("expected ErrValidationConflict, got %v", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
