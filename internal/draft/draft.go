package draft

import (
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/shopspring/decimal"
)

// Draft is a not-yet-confirmed order. An empty OrderID means the order has
// never been created on the order service. Original is the last snapshot the
// order service confirmed and is empty for new orders.
type Draft struct {
	Key         string
	OrderID     string
	TableNumber int
	Items       []Item
	Original    []Item

	CustomerName   string
	CustomerID     string
	CouponCode     string
	DiscountAmount decimal.Decimal
	PointsToUse    int64
	PaymentMethod  enum.PaymentMethod

	State   enum.DraftState
	Version int64
}

// IsNew reports whether submitting the draft creates an order.
func (d *Draft) IsNew() bool {
	return d.OrderID == ""
}

// Totals prices the working list with the draft's discount and points.
func (d *Draft) Totals() Totals {
	return Price(d.Items, d.DiscountAmount, d.PointsToUse)
}
