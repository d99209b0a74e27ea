package store

import (
	"context"
	"sync"
	"time"

	"github.com/kiwari-pos/tableorder/internal/draft"
	"github.com/kiwari-pos/tableorder/internal/enum"
)

// Memory is an in-process Store.
type Memory struct {
	mu     sync.Mutex
	drafts map[Key]*Record
	tables map[int]TableBinding
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		drafts: make(map[Key]*Record),
		tables: make(map[int]TableBinding),
		now:    time.Now,
	}
}

func (m *Memory) Load(ctx context.Context, key Key) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.drafts[key]
	if !ok {
		return Record{Draft: draft.Draft{Key: string(key)}}, nil
	}
	return copyRecord(rec), nil
}

func (m *Memory) LoadOriginal(ctx context.Context, key Key) ([]draft.Item, error) {
	rec, err := m.Load(ctx, key)
	return rec.Original, err
}

func (m *Memory) LoadWorking(ctx context.Context, key Key) ([]draft.Item, error) {
	rec, err := m.Load(ctx, key)
	return rec.Items, err
}

func (m *Memory) LoadPending(ctx context.Context, key Key) ([]draft.Item, error) {
	rec, err := m.Load(ctx, key)
	return rec.Pending, err
}

func (m *Memory) Hydrate(ctx context.Context, key Key, snap Snapshot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(key)
	rec.OrderID = snap.OrderID
	if rec.TableNumber == 0 {
		rec.TableNumber = snap.TableNumber
	}
	rec.Original = draft.Clone(snap.Items)
	rec.Items = draft.Clone(snap.Items)
	rec.CustomerName = snap.CustomerName
	rec.CustomerID = snap.CustomerID
	rec.CouponCode = snap.CouponCode
	rec.DiscountAmount = snap.DiscountAmount
	rec.Hydrated = true
	rec.Version++
	return rec.Version, nil
}

func (m *Memory) Save(ctx context.Context, key Key, items []draft.Item, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(key)
	if expectedVersion != AnyVersion && expectedVersion != rec.Version {
		return rec.Version, ErrStaleDraft
	}
	rec.Items = draft.Clone(items)
	rec.Pending = nil
	rec.Version++
	return rec.Version, nil
}

func (m *Memory) AppendPending(ctx context.Context, key Key, items []draft.Item) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(key)
	rec.Pending = appendPending(rec.Pending, items)
	rec.Version++
	return rec.Version, nil
}

func (m *Memory) SaveCheckout(ctx context.Context, key Key, c Checkout, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(key)
	if expectedVersion != AnyVersion && expectedVersion != rec.Version {
		return rec.Version, ErrStaleDraft
	}
	rec.CustomerName = c.CustomerName
	rec.CustomerID = c.CustomerID
	rec.CouponCode = c.CouponCode
	rec.DiscountAmount = c.DiscountAmount
	rec.PointsToUse = c.PointsToUse
	rec.PaymentMethod = c.PaymentMethod
	rec.Version++
	return rec.Version, nil
}

func (m *Memory) SetState(ctx context.Context, key Key, state enum.DraftState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(key).State = state
	return nil
}

func (m *Memory) BindTable(ctx context.Context, key Key, table int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(key)
	if rec.TableNumber == 0 {
		rec.TableNumber = table
		rec.Version++
	}
	return rec.TableNumber, nil
}

func (m *Memory) BindOwner(ctx context.Context, key Key, owner Owner) (Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(key)
	if rec.Owner.BusinessID == "" {
		rec.Owner = owner
	}
	return rec.Owner, nil
}

func (m *Memory) Clear(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, key)
	return nil
}

func (m *Memory) BookTable(ctx context.Context, table int, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = TableBinding{
		TableNumber: table,
		OrderID:     orderID,
		Booked:      true,
		UpdatedAt:   m.now(),
	}
	return nil
}

func (m *Memory) TableBinding(ctx context.Context, table int) (TableBinding, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.tables[table]
	return b, ok, nil
}

// record returns the stored record for key, creating it. Callers hold mu.
func (m *Memory) record(key Key) *Record {
	rec, ok := m.drafts[key]
	if !ok {
		rec = &Record{Draft: draft.Draft{Key: string(key)}, Exists: true}
		m.drafts[key] = rec
	}
	return rec
}

func copyRecord(rec *Record) Record {
	out := *rec
	out.Items = draft.Clone(rec.Items)
	out.Original = draft.Clone(rec.Original)
	out.Pending = draft.Clone(rec.Pending)
	return out
}
