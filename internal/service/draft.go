package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/tableorder/internal/draft"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/orderclient"
	"github.com/kiwari-pos/tableorder/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Errors returned by the draft service.
var (
	ErrFetchOrder         = errors.New("could not load order")
	ErrOrderNotFound      = errors.New("order not found")
	ErrNotHydrated        = errors.New("order has not been loaded yet")
	ErrInvalidItem        = errors.New("item id is required")
	ErrEmptyCustomerName  = errors.New("customer_name is required")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidTable       = errors.New("table_number must be > 0")
	ErrPointsOutOfRange   = draft.ErrPointsOutOfRange
	ErrPointsBalance      = errors.New("could not load points balance")
	ErrCouponRejected     = errors.New("coupon rejected")
	ErrSubmitFailed       = errors.New("order submission failed")
	ErrSubmissionInFlight = errors.New("a submission for this draft is already in progress")
)

// OrderGateway is the order service as the draft engine uses it.
// Satisfied by *orderclient.Client.
type OrderGateway interface {
	BusinessID() string
	GetOrder(ctx context.Context, id string) (orderclient.Order, error)
	CreateOrder(ctx context.Context, p orderclient.OrderPayload) (string, error)
	UpdateOrder(ctx context.Context, id string, p orderclient.OrderPayload) (string, error)
	ValidateCoupon(ctx context.Context, code string, orderTotal decimal.Decimal) (orderclient.CouponResult, error)
	CustomerPoints(ctx context.Context, customerID string) (int64, error)
}

// SubmittedEvent is announced after the order service accepted a draft.
type SubmittedEvent struct {
	DraftKey    string          `json:"draft_key"`
	OrderID     string          `json:"order_id"`
	BusinessID  string          `json:"business_id"`
	TableNumber int             `json:"table_number"`
	Created     bool            `json:"created"`
	ItemsReset  bool            `json:"items_reset"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// EventPublisher fans submitted orders out to other systems.
// Satisfied by *messaging.Publisher and *ws.Publisher.
type EventPublisher interface {
	PublishSubmitted(ctx context.Context, ev SubmittedEvent) error
}

// Options tunes a DraftService.
type Options struct {
	EstimatedTime string
	Publishers    []EventPublisher
}

// View is a draft as shown to the user, priced.
type View struct {
	store.Record
	Totals draft.Totals
}

// DraftService runs the draft lifecycle: hydrate, merge, edit, price, submit.
type DraftService struct {
	store         store.Store
	orders        OrderGateway
	log           *zap.Logger
	estimatedTime string
	publishers    []EventPublisher
	now           func() time.Time
	newKey        func() string

	mu       sync.Mutex
	inFlight map[store.Key]struct{}
}

// NewDraftService creates a new DraftService.
func NewDraftService(st store.Store, orders OrderGateway, log *zap.Logger, opts Options) *DraftService {
	return &DraftService{
		store:         st,
		orders:        orders,
		log:           log,
		estimatedTime: opts.EstimatedTime,
		publishers:    opts.Publishers,
		now:           time.Now,
		newKey:        uuid.NewString,
		inFlight:      make(map[store.Key]struct{}),
	}
}

// Get returns the draft stored under key. Unknown keys read as empty drafts.
func (s *DraftService) Get(ctx context.Context, key store.Key) (View, error) {
	rec, err := s.load(ctx, key, false)
	if err != nil {
		return View{}, err
	}
	return View{Record: rec, Totals: rec.Totals()}, nil
}

// Hydrate loads an existing order into the draft keyed by key. It talks to the
// order service once per key; later calls return the stored draft.
func (s *DraftService) Hydrate(ctx context.Context, key store.Key, orderID string) (View, error) {
	rec, err := s.load(ctx, key, false)
	if err != nil {
		return View{}, err
	}
	if rec.Hydrated {
		return View{Record: rec, Totals: rec.Totals()}, nil
	}

	if err := s.store.SetState(ctx, key, enum.DraftStateHydrating); err != nil {
		return View{}, fmt.Errorf("set state: %w", err)
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		s.log.Warn("hydrate order failed", zap.String("draft_key", string(key)), zap.String("order_id", orderID), zap.Error(err))
		if errors.Is(err, orderclient.ErrNotFound) {
			return View{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return View{}, fmt.Errorf("%w: %v", ErrFetchOrder, err)
	}

	owner := store.Owner{CustomerID: string(order.CustomerID)}
	if c, ok := CallerFromContext(ctx); ok {
		if !c.Staff && owner.CustomerID != "" && owner.CustomerID != c.CustomerID {
			return View{}, ErrForbidden
		}
		owner = c.owner()
		if c.Staff {
			owner.CustomerID = string(order.CustomerID)
		}
	}
	if owner.BusinessID == "" {
		owner.BusinessID = s.orders.BusinessID()
	}
	if err := s.bindOwner(ctx, key, owner, &rec); err != nil {
		return View{}, err
	}

	snap := store.Snapshot{
		OrderID:        orderID,
		TableNumber:    order.TableNumber,
		Items:          itemsFromOrder(order.Items),
		CustomerName:   order.CustomerName,
		CustomerID:     string(order.CustomerID),
		CouponCode:     order.CouponCode,
		DiscountAmount: order.DiscountAmount.Decimal,
	}
	if _, err := s.store.Hydrate(ctx, key, snap); err != nil {
		return View{}, fmt.Errorf("store snapshot: %w", err)
	}
	if err := s.transition(ctx, key, enum.DraftStateHydrating, enum.DraftStateEditing); err != nil {
		return View{}, err
	}

	s.log.Info("order hydrated",
		zap.String("draft_key", string(key)),
		zap.String("order_id", orderID),
		zap.Int("items", len(snap.Items)),
	)
	return s.view(ctx, key)
}

// Start opens a new draft for table and returns it.
func (s *DraftService) Start(ctx context.Context, table int) (View, error) {
	if table <= 0 {
		return View{}, ErrInvalidTable
	}
	c, hasCaller := CallerFromContext(ctx)
	if hasCaller {
		if err := s.authorize(c, store.Owner{}); err != nil {
			return View{}, err
		}
	}
	key := store.Key(s.newKey())
	if _, err := s.store.BindTable(ctx, key, table); err != nil {
		return View{}, fmt.Errorf("bind table: %w", err)
	}
	if hasCaller {
		if _, err := s.store.BindOwner(ctx, key, c.owner()); err != nil {
			return View{}, fmt.Errorf("bind owner: %w", err)
		}
	}
	if err := s.store.SetState(ctx, key, enum.DraftStateEditing); err != nil {
		return View{}, fmt.Errorf("set state: %w", err)
	}
	return s.view(ctx, key)
}

// Queue records catalog selections made while the cart was closed. They are
// merged into the working list by the next edit or submission.
func (s *DraftService) Queue(ctx context.Context, key store.Key, items []draft.Item) (View, error) {
	if err := validateItems(items); err != nil {
		return View{}, err
	}
	rec, err := s.load(ctx, key, true)
	if err != nil {
		return View{}, err
	}
	if err := s.editable(key, rec); err != nil {
		return View{}, err
	}
	if _, err := s.store.AppendPending(ctx, key, items); err != nil {
		return View{}, fmt.Errorf("queue items: %w", err)
	}
	return s.view(ctx, key)
}

// Open merges the stored list, queued additions and selected into the working
// list and saves it. An empty working list falls back to the original snapshot.
func (s *DraftService) Open(ctx context.Context, key store.Key, selected []draft.Item, version int64) (View, error) {
	if err := validateItems(selected); err != nil {
		return View{}, err
	}
	return s.edit(ctx, key, version, func(rec store.Record) ([]draft.Item, error) {
		return workingItems(rec, selected), nil
	})
}

func (s *DraftService) Increment(ctx context.Context, key store.Key, id string, version int64) (View, error) {
	return s.edit(ctx, key, version, func(rec store.Record) ([]draft.Item, error) {
		return draft.Increment(rec.Items, id)
	})
}

func (s *DraftService) Decrement(ctx context.Context, key store.Key, id string, version int64) (View, error) {
	return s.edit(ctx, key, version, func(rec store.Record) ([]draft.Item, error) {
		return draft.Decrement(rec.Items, rec.Original, id)
	})
}

func (s *DraftService) SetQuantity(ctx context.Context, key store.Key, id string, qty int, version int64) (View, error) {
	return s.edit(ctx, key, version, func(rec store.Record) ([]draft.Item, error) {
		return draft.SetQuantity(rec.Items, rec.Original, id, qty)
	})
}

func (s *DraftService) Remove(ctx context.Context, key store.Key, id string, version int64) (View, error) {
	return s.edit(ctx, key, version, func(rec store.Record) ([]draft.Item, error) {
		return draft.Remove(rec.Items, rec.Original, id)
	})
}

// SetCustomer records who the order is for. Points checked against another
// customer's balance are dropped.
func (s *DraftService) SetCustomer(ctx context.Context, key store.Key, name, customerID string, version int64) (View, error) {
	return s.checkout(ctx, key, version, func(rec store.Record, c *store.Checkout) error {
		c.CustomerName = strings.TrimSpace(name)
		c.CustomerID = strings.TrimSpace(customerID)
		if c.CustomerID != rec.CustomerID {
			c.PointsToUse = 0
		}
		return nil
	})
}

// ApplyCoupon asks the order service to price code against the current
// subtotal. A rejected coupon clears the code and resets the discount to zero;
// the draft stays editable. An empty code removes the coupon.
func (s *DraftService) ApplyCoupon(ctx context.Context, key store.Key, code string, version int64) (View, error) {
	code = strings.TrimSpace(code)
	var rejection error

	v, err := s.checkout(ctx, key, version, func(rec store.Record, c *store.Checkout) error {
		c.CouponCode = ""
		c.DiscountAmount = decimal.Zero
		if code == "" {
			return nil
		}
		res, err := s.orders.ValidateCoupon(ctx, code, draft.Subtotal(rec.Items))
		if err != nil {
			s.log.Info("coupon rejected", zap.String("draft_key", string(key)), zap.String("code", code), zap.Error(err))
			rejection = fmt.Errorf("%w: %v", ErrCouponRejected, err)
			return nil
		}
		c.CouponCode = code
		if res.Coupon.Code != "" {
			c.CouponCode = res.Coupon.Code
		}
		c.DiscountAmount = res.Discount.Decimal
		return nil
	})
	if err != nil {
		return View{}, err
	}
	if rejection != nil {
		return v, rejection
	}
	return v, nil
}

// SetPoints parses raw and checks it against the customer's loyalty balance.
func (s *DraftService) SetPoints(ctx context.Context, key store.Key, raw string, version int64) (View, error) {
	points, err := draft.ParsePoints(raw)
	if err != nil {
		return View{}, err
	}
	if points < 0 {
		return View{}, ErrPointsOutOfRange
	}
	return s.checkout(ctx, key, version, func(rec store.Record, c *store.Checkout) error {
		if points > 0 {
			available, err := s.orders.CustomerPoints(ctx, rec.CustomerID)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrPointsBalance, err)
			}
			if err := draft.ValidatePoints(points, available); err != nil {
				return err
			}
		}
		c.PointsToUse = points
		return nil
	})
}

// Quote prices the draft stored under key.
func (s *DraftService) Quote(ctx context.Context, key store.Key) (draft.Totals, error) {
	rec, err := s.load(ctx, key, false)
	if err != nil {
		return draft.Totals{}, err
	}
	return rec.Totals(), nil
}

// edit applies fn to the working list and saves the result under version.
// Queued additions are folded in first, so fn always sees them.
func (s *DraftService) edit(ctx context.Context, key store.Key, version int64, fn func(store.Record) ([]draft.Item, error)) (View, error) {
	rec, err := s.load(ctx, key, true)
	if err != nil {
		return View{}, err
	}
	if err := s.editable(key, rec); err != nil {
		return View{}, err
	}
	before := draft.Subtotal(rec.Items)
	if len(rec.Pending) > 0 {
		rec.Items = workingItems(rec, nil)
		rec.Pending = nil
	}
	items, err := fn(rec)
	if err != nil {
		return View{}, err
	}
	if _, err := s.store.Save(ctx, key, items, version); err != nil {
		return View{}, fmt.Errorf("save draft: %w", err)
	}
	if err := s.transition(ctx, key, rec.State, enum.DraftStateEditing); err != nil {
		return View{}, err
	}
	if rec.CouponCode != "" && !draft.Subtotal(items).Equal(before) {
		rec.Items = items
		if _, err := s.repriceCoupon(ctx, key, &rec); err != nil {
			return View{}, err
		}
	}
	return s.view(ctx, key)
}

// repriceCoupon validates the applied coupon against rec's current items and
// stores the new discount. A rejected coupon is cleared and reported as
// rejected; the error is only set when the store write fails.
func (s *DraftService) repriceCoupon(ctx context.Context, key store.Key, rec *store.Record) (bool, error) {
	subtotal := draft.Subtotal(rec.Items)
	rejected := false
	res, err := s.orders.ValidateCoupon(ctx, rec.CouponCode, subtotal)
	if err != nil {
		s.log.Info("coupon no longer applies",
			zap.String("draft_key", string(key)),
			zap.String("code", rec.CouponCode),
			zap.String("subtotal", subtotal.StringFixed(2)),
			zap.Error(err),
		)
		rec.CouponCode = ""
		rec.DiscountAmount = decimal.Zero
		rejected = true
	} else {
		rec.DiscountAmount = res.Discount.Decimal
	}
	if _, err := s.store.SaveCheckout(ctx, key, checkoutOf(*rec), store.AnyVersion); err != nil {
		return rejected, fmt.Errorf("save checkout: %w", err)
	}
	return rejected, nil
}

// checkout applies fn to the checkout fields and saves them under version.
func (s *DraftService) checkout(ctx context.Context, key store.Key, version int64, fn func(store.Record, *store.Checkout) error) (View, error) {
	rec, err := s.load(ctx, key, true)
	if err != nil {
		return View{}, err
	}
	if err := s.editable(key, rec); err != nil {
		return View{}, err
	}
	c := checkoutOf(rec)
	if err := fn(rec, &c); err != nil {
		return View{}, err
	}
	if _, err := s.store.SaveCheckout(ctx, key, c, version); err != nil {
		return View{}, fmt.Errorf("save checkout: %w", err)
	}
	return s.view(ctx, key)
}

// editable rejects edits while the order is still loading or being submitted.
func (s *DraftService) editable(key store.Key, rec store.Record) error {
	if rec.State == enum.DraftStateHydrating && !rec.Hydrated {
		return ErrNotHydrated
	}
	if s.submitting(key) {
		return ErrSubmissionInFlight
	}
	return nil
}

// transition moves the draft from current to next, skipping the write when
// nothing changes.
func (s *DraftService) transition(ctx context.Context, key store.Key, current, next enum.DraftState) error {
	if current == "" {
		current = enum.DraftStateEditing
	}
	if current == enum.DraftStateSubmitting && !s.submitting(key) {
		// Left behind by an interrupted submission.
		current = enum.DraftStateEditing
	}
	if err := draft.Transition(current, next); err != nil {
		return err
	}
	if current == next {
		return nil
	}
	if err := s.store.SetState(ctx, key, next); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func (s *DraftService) view(ctx context.Context, key store.Key) (View, error) {
	rec, err := s.store.Load(ctx, key)
	if err != nil {
		return View{}, fmt.Errorf("load draft: %w", err)
	}
	return View{Record: rec, Totals: rec.Totals()}, nil
}

func checkoutOf(rec store.Record) store.Checkout {
	return store.Checkout{
		CustomerName:   rec.CustomerName,
		CustomerID:     rec.CustomerID,
		CouponCode:     rec.CouponCode,
		DiscountAmount: rec.DiscountAmount,
		PointsToUse:    rec.PointsToUse,
		PaymentMethod:  rec.PaymentMethod,
	}
}

// workingItems merges queued additions and selected into the stored list. An
// empty list falls back to the original snapshot.
func workingItems(rec store.Record, selected []draft.Item) []draft.Item {
	existing := rec.Items
	if len(existing) == 0 {
		existing = rec.Original
	}
	return draft.Merge(existing, rec.Pending, selected)
}

func validateItems(items []draft.Item) error {
	for _, it := range items {
		if strings.TrimSpace(it.ID) == "" {
			return ErrInvalidItem
		}
	}
	return nil
}

func itemsFromOrder(lines []orderclient.OrderItem) []draft.Item {
	items := make([]draft.Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, draft.Item{
			ID:       string(l.ProductID),
			Name:     l.Name,
			Image:    l.Image,
			Quantity: l.Quantity,
			Price:    l.Price.Decimal,
			Status:   l.Status.OrDefault(),
		})
	}
	return items
}
