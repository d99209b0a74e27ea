package enum

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownStatus        = errors.New("unknown item status")
	ErrUnknownRole          = errors.New("unknown role")
	ErrUnknownPaymentMethod = errors.New("unknown payment method")
)

// ── Item fulfillment status ──

// ItemStatus is the fulfillment status of one order line. The zero value means
// "not set" and is read as Pending.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "Pending"
	ItemStatusReady     ItemStatus = "Ready"
	ItemStatusServed    ItemStatus = "Served"
	ItemStatusCompleted ItemStatus = "Completed"
)

var itemStatuses = []ItemStatus{
	ItemStatusPending,
	ItemStatusReady,
	ItemStatusServed,
	ItemStatusCompleted,
}

// ParseItemStatus matches s against the known statuses ignoring case, so the
// order service's "completed" and "Completed" are the same value.
func ParseItemStatus(s string) (ItemStatus, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	for _, st := range itemStatuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// OrDefault returns Pending for the unset value.
func (s ItemStatus) OrDefault() ItemStatus {
	if s == "" {
		return ItemStatusPending
	}
	return s
}

func (s *ItemStatus) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseItemStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ── Draft lifecycle ──

type DraftState string

const (
	DraftStateHydrating  DraftState = "HYDRATING"
	DraftStateEditing    DraftState = "EDITING"
	DraftStateValidating DraftState = "VALIDATING"
	DraftStateSubmitting DraftState = "SUBMITTING"
	DraftStateCleared    DraftState = "CLEARED"
)

// ── Roles (JWT claims) ──

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleWaiter   Role = "WAITER"
	RoleManager  Role = "MANAGER"
)

func ParseRole(s string) (Role, error) {
	for _, r := range []Role{RoleCustomer, RoleWaiter, RoleManager} {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// ── Payment ──

type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "CASH"
	PaymentMethodCard PaymentMethod = "CARD"
	PaymentMethodUPI  PaymentMethod = "UPI"
)

// ParsePaymentMethod defaults an empty method to CASH.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PaymentMethodCash, nil
	}
	for _, m := range []PaymentMethod{PaymentMethodCash, PaymentMethodCard, PaymentMethodUPI} {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, s)
}
