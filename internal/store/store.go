package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiwari-pos/tableorder/internal/draft"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/shopspring/decimal"
)

// ErrStaleDraft is returned when a write carries a version older than the
// stored one, i.e. another session changed the draft in between.
var ErrStaleDraft = errors.New("draft was changed by another session")

// AnyVersion skips the version check on writes.
const AnyVersion int64 = -1

// Key scopes every persisted value of one draft.
type Key string

// Record is everything persisted for one draft. A missing draft loads as the
// zero Record with Exists false.
type Record struct {
	draft.Draft
	Owner    Owner
	Pending  []draft.Item
	Hydrated bool
	Exists   bool
}

// Owner is who may read and edit a draft. An empty CustomerID leaves the draft
// open to every staff member and customer of the business.
type Owner struct {
	BusinessID string
	CustomerID string
}

// Snapshot is what hydration from the order service writes.
type Snapshot struct {
	OrderID        string
	TableNumber    int
	Items          []draft.Item
	CustomerName   string
	CustomerID     string
	CouponCode     string
	DiscountAmount decimal.Decimal
}

// Checkout holds the customer and discount fields edited before submission.
type Checkout struct {
	CustomerName   string
	CustomerID     string
	CouponCode     string
	DiscountAmount decimal.Decimal
	PointsToUse    int64
	PaymentMethod  enum.PaymentMethod
}

// TableBinding links a table to its current order. It belongs to the table and
// outlives the drafts created for it.
type TableBinding struct {
	TableNumber int
	OrderID     string
	Booked      bool
	UpdatedAt   time.Time
}

// Store persists drafts by key. Absent keys are never errors: lists load empty
// and records load with Exists false.
type Store interface {
	Load(ctx context.Context, key Key) (Record, error)
	LoadOriginal(ctx context.Context, key Key) ([]draft.Item, error)
	LoadWorking(ctx context.Context, key Key) ([]draft.Item, error)
	LoadPending(ctx context.Context, key Key) ([]draft.Item, error)

	// Hydrate writes the server snapshot as both original and working list.
	Hydrate(ctx context.Context, key Key, snap Snapshot) (int64, error)
	// Save overwrites the working list and drops queued additions, which the
	// caller has already merged. Returns the new version.
	Save(ctx context.Context, key Key, items []draft.Item, expectedVersion int64) (int64, error)
	// AppendPending queues catalog additions; quantities of the same id add up.
	AppendPending(ctx context.Context, key Key, items []draft.Item) (int64, error)
	SaveCheckout(ctx context.Context, key Key, c Checkout, expectedVersion int64) (int64, error)
	SetState(ctx context.Context, key Key, state enum.DraftState) error
	// BindTable binds table to the draft once and returns the bound value.
	BindTable(ctx context.Context, key Key, table int) (int, error)
	// BindOwner binds owner to the draft once and returns the bound owner. It
	// does not change the version.
	BindOwner(ctx context.Context, key Key, owner Owner) (Owner, error)
	// Clear removes every value of the draft.
	Clear(ctx context.Context, key Key) error

	BookTable(ctx context.Context, table int, orderID string) error
	TableBinding(ctx context.Context, table int) (TableBinding, bool, error)
}

// appendPending folds add into queued, summing quantities of repeated ids.
func appendPending(queued, add []draft.Item) []draft.Item {
	out := draft.Clone(queued)
	for _, it := range add {
		found := false
		for i := range out {
			if out[i].ID == it.ID {
				out[i].Quantity += it.Quantity
				found = true
				break
			}
		}
		if !found {
			out = append(out, it)
		}
	}
	return out
}
