package service_test

import (
	"context"
	"sync"

	"github.com/kiwari-pos/tableorder/internal/orderclient"
	"github.com/kiwari-pos/tableorder/internal/service"
	"github.com/shopspring/decimal"
)

// --- Mock OrderGateway ---

type mockGateway struct {
	getOrderFn       func(ctx context.Context, id string) (orderclient.Order, error)
	createFn         func(ctx context.Context, p orderclient.OrderPayload) (string, error)
	updateFn         func(ctx context.Context, id string, p orderclient.OrderPayload) (string, error)
	validateCouponFn func(ctx context.Context, code string, total decimal.Decimal) (orderclient.CouponResult, error)
	customerPointsFn func(ctx context.Context, customerID string) (int64, error)

	mu       sync.Mutex
	calls    int
	payloads []orderclient.OrderPayload
}

func (m *mockGateway) BusinessID() string { return "biz-1" }

func (m *mockGateway) record(p *orderclient.OrderPayload) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if p != nil {
		m.payloads = append(m.payloads, *p)
	}
}

func (m *mockGateway) lastPayload() (orderclient.OrderPayload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.payloads) == 0 {
		return orderclient.OrderPayload{}, false
	}
	return m.payloads[len(m.payloads)-1], true
}

func (m *mockGateway) GetOrder(ctx context.Context, id string) (orderclient.Order, error) {
	m.record(nil)
	if m.getOrderFn != nil {
		return m.getOrderFn(ctx, id)
	}
	return orderclient.Order{}, orderclient.ErrNotFound
}

func (m *mockGateway) CreateOrder(ctx context.Context, p orderclient.OrderPayload) (string, error) {
	m.record(&p)
	if m.createFn != nil {
		return m.createFn(ctx, p)
	}
	return "ord-1", nil
}

func (m *mockGateway) UpdateOrder(ctx context.Context, id string, p orderclient.OrderPayload) (string, error) {
	m.record(&p)
	if m.updateFn != nil {
		return m.updateFn(ctx, id, p)
	}
	return id, nil
}

func (m *mockGateway) ValidateCoupon(ctx context.Context, code string, total decimal.Decimal) (orderclient.CouponResult, error) {
	m.record(nil)
	if m.validateCouponFn != nil {
		return m.validateCouponFn(ctx, code, total)
	}
	return orderclient.CouponResult{}, &orderclient.StatusError{Code: 400, Body: "invalid coupon"}
}

func (m *mockGateway) CustomerPoints(ctx context.Context, customerID string) (int64, error) {
	m.record(nil)
	if m.customerPointsFn != nil {
		return m.customerPointsFn(ctx, customerID)
	}
	return 0, nil
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu     sync.Mutex
	events []service.SubmittedEvent
	err    error
}

func (m *mockPublisher) PublishSubmitted(ctx context.Context, ev service.SubmittedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}
