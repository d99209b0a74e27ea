package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kiwari-pos/tableorder/internal/draft"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/shopspring/decimal"
)

// DBTX is the subset of pgx used by Postgres. Satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is a Store backed by the drafts and table_bindings tables.
type Postgres struct {
	db DBTX
}

func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

const loadDraft = `
SELECT order_id, table_number, original_items, working_items, pending_items,
       customer_name, customer_id, coupon_code, discount_amount, points_to_use,
       payment_method, state, hydrated, version, owner_business_id, owner_customer_id
FROM drafts
WHERE draft_key = $1`

func (p *Postgres) Load(ctx context.Context, key Key) (Record, error) {
	rec := Record{Draft: draft.Draft{Key: string(key)}}
	var (
		original, working, pending []byte
		discount                   pgtype.Numeric
		payment, state             string
	)
	err := p.db.QueryRow(ctx, loadDraft, string(key)).Scan(
		&rec.OrderID, &rec.TableNumber, &original, &working, &pending,
		&rec.CustomerName, &rec.CustomerID, &rec.CouponCode, &discount, &rec.PointsToUse,
		&payment, &state, &rec.Hydrated, &rec.Version, &rec.Owner.BusinessID, &rec.Owner.CustomerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rec, nil
		}
		return Record{}, fmt.Errorf("load draft: %w", err)
	}
	rec.Exists = true
	rec.DiscountAmount = numericToDecimal(discount)
	rec.PaymentMethod = enum.PaymentMethod(payment)
	rec.State = enum.DraftState(state)

	if rec.Original, err = decodeItems(original); err != nil {
		return Record{}, fmt.Errorf("decode original items: %w", err)
	}
	if rec.Items, err = decodeItems(working); err != nil {
		return Record{}, fmt.Errorf("decode working items: %w", err)
	}
	if rec.Pending, err = decodeItems(pending); err != nil {
		return Record{}, fmt.Errorf("decode pending items: %w", err)
	}
	return rec, nil
}

func (p *Postgres) LoadOriginal(ctx context.Context, key Key) ([]draft.Item, error) {
	return p.loadItems(ctx, `SELECT original_items FROM drafts WHERE draft_key = $1`, key)
}

func (p *Postgres) LoadWorking(ctx context.Context, key Key) ([]draft.Item, error) {
	return p.loadItems(ctx, `SELECT working_items FROM drafts WHERE draft_key = $1`, key)
}

func (p *Postgres) LoadPending(ctx context.Context, key Key) ([]draft.Item, error) {
	return p.loadItems(ctx, `SELECT pending_items FROM drafts WHERE draft_key = $1`, key)
}

func (p *Postgres) loadItems(ctx context.Context, query string, key Key) ([]draft.Item, error) {
	var raw []byte
	if err := p.db.QueryRow(ctx, query, string(key)).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load items: %w", err)
	}
	return decodeItems(raw)
}

const hydrateDraft = `
INSERT INTO drafts (draft_key, order_id, table_number, original_items, working_items,
                    customer_name, customer_id, coupon_code, discount_amount, hydrated, version)
VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8, true, 1)
ON CONFLICT (draft_key) DO UPDATE SET
    order_id        = EXCLUDED.order_id,
    table_number    = CASE WHEN drafts.table_number = 0 THEN EXCLUDED.table_number ELSE drafts.table_number END,
    original_items  = EXCLUDED.original_items,
    working_items   = EXCLUDED.working_items,
    customer_name   = EXCLUDED.customer_name,
    customer_id     = EXCLUDED.customer_id,
    coupon_code     = EXCLUDED.coupon_code,
    discount_amount = EXCLUDED.discount_amount,
    hydrated        = true,
    version         = drafts.version + 1,
    updated_at      = now()
RETURNING version`

func (p *Postgres) Hydrate(ctx context.Context, key Key, snap Snapshot) (int64, error) {
	items, err := encodeItems(snap.Items)
	if err != nil {
		return 0, err
	}
	var version int64
	err = p.db.QueryRow(ctx, hydrateDraft,
		string(key), snap.OrderID, snap.TableNumber, items,
		snap.CustomerName, snap.CustomerID, snap.CouponCode, decimalToNumeric(snap.DiscountAmount),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("hydrate draft: %w", err)
	}
	return version, nil
}

const saveWorking = `
UPDATE drafts
SET working_items = $2, pending_items = '[]', version = version + 1, updated_at = now()
WHERE draft_key = $1 AND ($3::bigint < 0 OR version = $3)
RETURNING version`

func (p *Postgres) Save(ctx context.Context, key Key, items []draft.Item, expectedVersion int64) (int64, error) {
	raw, err := encodeItems(items)
	if err != nil {
		return 0, err
	}
	if err := p.ensure(ctx, key); err != nil {
		return 0, err
	}
	return p.versioned(ctx, "save draft", saveWorking, string(key), raw, expectedVersion)
}

// appendPendingItems merges quantities of repeated ids inside SQL so that two
// sessions queuing the same item both count.
const appendPendingItems = `
UPDATE drafts d
SET pending_items = (
        SELECT COALESCE(jsonb_agg(merged ORDER BY pos), '[]'::jsonb)
        FROM (
            SELECT (jsonb_agg(elem ORDER BY ord))->0
                       || jsonb_build_object('quantity', SUM((elem->>'quantity')::int)) AS merged,
                   MIN(ord) AS pos
            FROM (
                SELECT elem, ord FROM jsonb_array_elements(d.pending_items) WITH ORDINALITY AS t(elem, ord)
                UNION ALL
                SELECT elem, ord + 1000000 FROM jsonb_array_elements($2::jsonb) WITH ORDINALITY AS t(elem, ord)
            ) all_items
            GROUP BY elem->>'id'
        ) merged_items(merged, pos)
    ),
    version = version + 1,
    updated_at = now()
WHERE draft_key = $1
RETURNING version`

func (p *Postgres) AppendPending(ctx context.Context, key Key, items []draft.Item) (int64, error) {
	raw, err := encodeItems(items)
	if err != nil {
		return 0, err
	}
	if err := p.ensure(ctx, key); err != nil {
		return 0, err
	}
	return p.versioned(ctx, "append pending", appendPendingItems, string(key), raw)
}

const saveCheckout = `
UPDATE drafts
SET customer_name = $2, customer_id = $3, coupon_code = $4, discount_amount = $5,
    points_to_use = $6, payment_method = $7, version = version + 1, updated_at = now()
WHERE draft_key = $1 AND ($8::bigint < 0 OR version = $8)
RETURNING version`

func (p *Postgres) SaveCheckout(ctx context.Context, key Key, c Checkout, expectedVersion int64) (int64, error) {
	if err := p.ensure(ctx, key); err != nil {
		return 0, err
	}
	return p.versioned(ctx, "save checkout", saveCheckout,
		string(key), c.CustomerName, c.CustomerID, c.CouponCode, decimalToNumeric(c.DiscountAmount),
		c.PointsToUse, string(c.PaymentMethod), expectedVersion,
	)
}

func (p *Postgres) SetState(ctx context.Context, key Key, state enum.DraftState) error {
	_, err := p.db.Exec(ctx, `
INSERT INTO drafts (draft_key, state) VALUES ($1, $2)
ON CONFLICT (draft_key) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		string(key), string(state))
	if err != nil {
		return fmt.Errorf("set draft state: %w", err)
	}
	return nil
}

const bindTable = `
INSERT INTO drafts (draft_key, table_number, version) VALUES ($1, $2, 1)
ON CONFLICT (draft_key) DO UPDATE SET
    table_number = CASE WHEN drafts.table_number = 0 THEN EXCLUDED.table_number ELSE drafts.table_number END,
    version      = CASE WHEN drafts.table_number = 0 THEN drafts.version + 1 ELSE drafts.version END,
    updated_at   = now()
RETURNING table_number`

func (p *Postgres) BindTable(ctx context.Context, key Key, table int) (int, error) {
	var bound int
	if err := p.db.QueryRow(ctx, bindTable, string(key), table).Scan(&bound); err != nil {
		return 0, fmt.Errorf("bind table: %w", err)
	}
	return bound, nil
}

const bindOwner = `
INSERT INTO drafts (draft_key, owner_business_id, owner_customer_id) VALUES ($1, $2, $3)
ON CONFLICT (draft_key) DO UPDATE SET
    owner_business_id = CASE WHEN drafts.owner_business_id = '' THEN EXCLUDED.owner_business_id ELSE drafts.owner_business_id END,
    owner_customer_id = CASE WHEN drafts.owner_business_id = '' THEN EXCLUDED.owner_customer_id ELSE drafts.owner_customer_id END,
    updated_at        = now()
RETURNING owner_business_id, owner_customer_id`

func (p *Postgres) BindOwner(ctx context.Context, key Key, owner Owner) (Owner, error) {
	var bound Owner
	if err := p.db.QueryRow(ctx, bindOwner, string(key), owner.BusinessID, owner.CustomerID).Scan(&bound.BusinessID, &bound.CustomerID); err != nil {
		return Owner{}, fmt.Errorf("bind owner: %w", err)
	}
	return bound, nil
}

func (p *Postgres) Clear(ctx context.Context, key Key) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM drafts WHERE draft_key = $1`, string(key)); err != nil {
		return fmt.Errorf("clear draft: %w", err)
	}
	return nil
}

func (p *Postgres) BookTable(ctx context.Context, table int, orderID string) error {
	_, err := p.db.Exec(ctx, `
INSERT INTO table_bindings (table_number, order_id, booked) VALUES ($1, $2, true)
ON CONFLICT (table_number) DO UPDATE SET order_id = EXCLUDED.order_id, booked = true, updated_at = now()`,
		table, orderID)
	if err != nil {
		return fmt.Errorf("book table: %w", err)
	}
	return nil
}

func (p *Postgres) TableBinding(ctx context.Context, table int) (TableBinding, bool, error) {
	var b TableBinding
	err := p.db.QueryRow(ctx,
		`SELECT table_number, order_id, booked, updated_at FROM table_bindings WHERE table_number = $1`,
		table,
	).Scan(&b.TableNumber, &b.OrderID, &b.Booked, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TableBinding{}, false, nil
		}
		return TableBinding{}, false, fmt.Errorf("get table binding: %w", err)
	}
	return b, true, nil
}

func (p *Postgres) ensure(ctx context.Context, key Key) error {
	if _, err := p.db.Exec(ctx, `INSERT INTO drafts (draft_key) VALUES ($1) ON CONFLICT (draft_key) DO NOTHING`, string(key)); err != nil {
		return fmt.Errorf("ensure draft: %w", err)
	}
	return nil
}

// versioned runs an UPDATE ... RETURNING version. No row means the version
// guard rejected the write.
func (p *Postgres) versioned(ctx context.Context, op, query string, args ...any) (int64, error) {
	var version int64
	if err := p.db.QueryRow(ctx, query, args...).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrStaleDraft
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return version, nil
}

func encodeItems(items []draft.Item) ([]byte, error) {
	if items == nil {
		items = []draft.Item{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	return b, nil
}

func decodeItems(raw []byte) ([]draft.Item, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []draft.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
