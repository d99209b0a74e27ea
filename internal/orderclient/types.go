package orderclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/shopspring/decimal"
)

// Amount is a money value that travels as a bare JSON number. Decoding also
// accepts quoted strings and null.
type Amount struct {
	decimal.Decimal
}

func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("amount %s: %w", b, err)
	}
	a.Decimal = d
	return nil
}

// ID is an identifier the order service may send as a number or a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return fmt.Errorf("id %s: not a string or number", b)
	}
	*id = ID(b)
	return nil
}

// OrderItem is one cart line as the order service stores it.
type OrderItem struct {
	ProductID ID              `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     Amount          `json:"price"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Status    enum.ItemStatus `json:"status"`
}

// Order is the subset of an order read back for hydration.
type Order struct {
	ID             ID          `json:"id"`
	TableNumber    int         `json:"table_number"`
	CustomerName   string      `json:"customer_name"`
	CustomerID     ID          `json:"customerId"`
	Items          []OrderItem `json:"items"`
	DiscountAmount Amount      `json:"discountAmount"`
	CouponCode     string      `json:"couponCode"`
}

// OrderPayload is the body of both create and update requests.
type OrderPayload struct {
	BusinessID     string             `json:"businessId"`
	TableNumber    int                `json:"table_number"`
	CartItems      []OrderItem        `json:"cart_items"`
	TotalAmount    Amount             `json:"total_amount"`
	DiscountAmount Amount             `json:"discountAmount"`
	PaymentMethod  enum.PaymentMethod `json:"payment_method"`
	EstimatedTime  string             `json:"estimated_time"`
	PointsUsed     int64              `json:"pointsUsed"`
	CustomerName   string             `json:"customer_name"`
	CustomerID     string             `json:"customerId,omitempty"`
	CouponCode     string             `json:"couponCode,omitempty"`
}

// CouponResult is a successful coupon validation.
type CouponResult struct {
	Discount Amount `json:"discount"`
	Coupon   Coupon `json:"coupon"`
}

type Coupon struct {
	Code string `json:"code"`
}

// Customer carries the loyalty balance of a customer.
type Customer struct {
	ID     ID    `json:"id"`
	Points int64 `json:"points"`
}

// orderRef is the create/update response. Some deployments nest the order.
type orderRef struct {
	ID    ID `json:"id"`
	Order struct {
		ID ID `json:"id"`
	} `json:"order"`
}

func (r orderRef) id() string {
	if r.ID != "" {
		return string(r.ID)
	}
	return string(r.Order.ID)
}
