package draft

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrPointsNotNumeric = errors.New("points must be a whole number")
	ErrPointsOutOfRange = errors.New("points must be between 0 and the available balance")
)

// Totals is the priced draft. Points are a currency-equivalent deduction.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Points   decimal.Decimal
	Final    decimal.Decimal
}

// Subtotal is the sum of price * quantity over items.
func Subtotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

// Price applies the coupon discount and loyalty points to the subtotal.
// The final amount is clamped at zero rather than rejecting large deductions.
func Price(items []Item, discount decimal.Decimal, points int64) Totals {
	t := Totals{
		Subtotal: Subtotal(items),
		Discount: discount,
		Points:   decimal.NewFromInt(points),
	}
	t.Final = t.Subtotal.Sub(t.Discount).Sub(t.Points)
	if t.Final.IsNegative() {
		t.Final = decimal.Zero
	}
	return t
}

// ParsePoints parses user input for points. Empty input means zero.
func ParsePoints(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrPointsNotNumeric
	}
	return n, nil
}

// ValidatePoints checks 0 <= points <= available.
func ValidatePoints(points, available int64) error {
	if points < 0 || points > available {
		return ErrPointsOutOfRange
	}
	return nil
}
