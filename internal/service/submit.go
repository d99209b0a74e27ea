package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kiwari-pos/tableorder/internal/draft"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/orderclient"
	"github.com/kiwari-pos/tableorder/internal/store"
	"go.uber.org/zap"
)

// SubmitRequest carries the choices made on the checkout screen.
type SubmitRequest struct {
	PaymentMethod enum.PaymentMethod
}

// SubmitResult reports an accepted submission.
type SubmitResult struct {
	OrderID string
	Created bool
	// ItemsReset is true when at least one confirmed line went back to Pending.
	ItemsReset bool
	Reset      []string
	Totals     draft.Totals
}

// Submit validates the draft, sends it to the order service as a create or an
// update, and clears it on success. On failure the draft is left as it was so
// the user can retry. Only one submission per key runs at a time.
func (s *DraftService) Submit(ctx context.Context, key store.Key, req SubmitRequest) (SubmitResult, error) {
	if !s.acquire(key) {
		return SubmitResult{}, ErrSubmissionInFlight
	}
	defer s.release(key)

	rec, err := s.load(ctx, key, false)
	if err != nil {
		return SubmitResult{}, err
	}
	if rec.State == enum.DraftStateHydrating && !rec.Hydrated {
		return SubmitResult{}, ErrNotHydrated
	}
	// Queued additions that never went through Open are part of the order.
	if len(rec.Pending) > 0 {
		rec.Items = workingItems(rec, nil)
		rec.Pending = nil
		if code := rec.CouponCode; code != "" {
			rejected, err := s.repriceCoupon(ctx, key, &rec)
			if err != nil {
				return SubmitResult{}, err
			}
			if rejected {
				return SubmitResult{}, fmt.Errorf("%w: %s no longer applies to the order total", ErrCouponRejected, code)
			}
		}
	}

	// A stored SUBMITTING state without the in-flight guard held is left
	// behind by an interrupted submission.
	current := rec.State
	if current == "" || current == enum.DraftStateSubmitting {
		current = enum.DraftStateEditing
	}
	if err := draft.Transition(current, enum.DraftStateValidating); err != nil {
		return SubmitResult{}, err
	}
	// Validation is local and leaves the draft untouched on failure.
	if err := validateSubmission(rec); err != nil {
		return SubmitResult{}, err
	}
	if err := draft.Transition(enum.DraftStateValidating, enum.DraftStateSubmitting); err != nil {
		return SubmitResult{}, err
	}
	if err := s.store.SetState(ctx, key, enum.DraftStateSubmitting); err != nil {
		return SubmitResult{}, fmt.Errorf("set state: %w", err)
	}

	recon := draft.Reconcile(rec.Original, rec.Items)
	totals := rec.Totals()
	payload := s.buildPayload(rec, recon, totals, req)

	created := rec.IsNew()
	var orderID string
	if created {
		orderID, err = s.orders.CreateOrder(ctx, payload)
	} else {
		orderID, err = s.orders.UpdateOrder(ctx, rec.OrderID, payload)
	}
	if err != nil {
		s.revert(ctx, key, enum.DraftStateSubmitting)
		s.log.Error("submit order failed",
			zap.String("draft_key", string(key)),
			zap.String("order_id", rec.OrderID),
			zap.Bool("create", created),
			zap.Error(err),
		)
		if !created && errors.Is(err, orderclient.ErrNotFound) {
			return SubmitResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, rec.OrderID)
		}
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	// The order service has accepted the order; failures from here on are
	// logged and do not fail the submission.
	if err := s.store.BookTable(ctx, rec.TableNumber, orderID); err != nil {
		s.log.Error("book table failed", zap.Int("table_number", rec.TableNumber), zap.String("order_id", orderID), zap.Error(err))
	}
	if err := s.store.Clear(ctx, key); err != nil {
		s.log.Error("clear draft failed", zap.String("draft_key", string(key)), zap.Error(err))
	}

	res := SubmitResult{
		OrderID:    orderID,
		Created:    created,
		ItemsReset: len(recon.Reset) > 0,
		Reset:      recon.Reset,
		Totals:     totals,
	}
	s.log.Info("order submitted",
		zap.String("draft_key", string(key)),
		zap.String("order_id", orderID),
		zap.Bool("created", created),
		zap.Strings("reset", recon.Reset),
		zap.String("total_amount", totals.Final.StringFixed(2)),
	)
	s.publish(ctx, SubmittedEvent{
		DraftKey:    string(key),
		OrderID:     orderID,
		BusinessID:  payload.BusinessID,
		TableNumber: rec.TableNumber,
		Created:     created,
		ItemsReset:  res.ItemsReset,
		TotalAmount: totals.Final,
		SubmittedAt: s.now(),
	})
	return res, nil
}

func validateSubmission(rec store.Record) error {
	if strings.TrimSpace(rec.CustomerName) == "" {
		return ErrEmptyCustomerName
	}
	if len(rec.Items) == 0 {
		return ErrEmptyCart
	}
	if rec.TableNumber <= 0 {
		return ErrInvalidTable
	}
	if rec.PointsToUse < 0 {
		return ErrPointsOutOfRange
	}
	return nil
}

func (s *DraftService) buildPayload(rec store.Record, recon draft.Reconciliation, totals draft.Totals, req SubmitRequest) orderclient.OrderPayload {
	method := req.PaymentMethod
	if method == "" {
		method = rec.PaymentMethod
	}
	if method == "" {
		method = enum.PaymentMethodCash
	}

	lines := recon.Apply(rec.Items)
	cart := make([]orderclient.OrderItem, 0, len(lines))
	for _, it := range lines {
		cart = append(cart, orderclient.OrderItem{
			ProductID: orderclient.ID(it.ID),
			Quantity:  it.Quantity,
			Price:     orderclient.NewAmount(it.Price),
			Name:      it.Name,
			Image:     it.Image,
			Status:    it.Status,
		})
	}

	return orderclient.OrderPayload{
		BusinessID:     s.orders.BusinessID(),
		TableNumber:    rec.TableNumber,
		CartItems:      cart,
		TotalAmount:    orderclient.NewAmount(totals.Final),
		DiscountAmount: orderclient.NewAmount(totals.Discount),
		PaymentMethod:  method,
		EstimatedTime:  s.estimatedTime,
		PointsUsed:     rec.PointsToUse,
		CustomerName:   strings.TrimSpace(rec.CustomerName),
		CustomerID:     rec.CustomerID,
		CouponCode:     rec.CouponCode,
	}
}

// revert puts a failed submission back into editing.
func (s *DraftService) revert(ctx context.Context, key store.Key, from enum.DraftState) {
	if err := draft.Transition(from, enum.DraftStateEditing); err != nil {
		s.log.Error("revert draft state", zap.String("draft_key", string(key)), zap.Error(err))
		return
	}
	if err := s.store.SetState(ctx, key, enum.DraftStateEditing); err != nil {
		s.log.Error("revert draft state", zap.String("draft_key", string(key)), zap.Error(err))
	}
}

func (s *DraftService) publish(ctx context.Context, ev SubmittedEvent) {
	for _, p := range s.publishers {
		if err := p.PublishSubmitted(ctx, ev); err != nil {
			s.log.Warn("publish order submitted", zap.String("order_id", ev.OrderID), zap.Error(err))
		}
	}
}

func (s *DraftService) acquire(key store.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *DraftService) release(key store.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

func (s *DraftService) submitting(key store.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, busy := s.inFlight[key]
	return busy
}
