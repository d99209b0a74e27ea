//go:build integration

package store_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/tableorder/internal/draft"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/store"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tableorder_test"),
		tcpostgres.WithUsername("pos"),
		tcpostgres.WithPassword("pos"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	cleanup := func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	}
	return connStr, cleanup
}

func runMigrations(t *testing.T, connStr string) {
	t.Helper()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("open db for migrations: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		t.Fatalf("create migrate driver: %v", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		t.Fatalf("create migrate instance: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("run migrations: %v", err)
	}
}

func newPostgresStore(t *testing.T) (*store.Postgres, context.Context) {
	t.Helper()
	ctx := context.Background()

	connStr, cleanup := setupPostgresContainer(t, ctx)
	t.Cleanup(cleanup)
	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return store.NewPostgres(pool), ctx
}

func pgItem(id string, qty int, price int64) draft.Item {
	return draft.Item{ID: id, Name: "item " + id, Quantity: qty, Price: decimal.NewFromInt(price)}
}

func TestPostgres_DraftLifecycle(t *testing.T) {
	s, ctx := newPostgresStore(t)
	const key store.Key = "draft-1"

	rec, err := s.Load(ctx, key)
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if rec.Exists || len(rec.Items) != 0 {
		t.Fatalf("expected empty record, got %+v", rec)
	}

	bound, err := s.BindTable(ctx, key, 5)
	if err != nil || bound != 5 {
		t.Fatalf("bind table: %d, %v", bound, err)
	}
	if bound, _ = s.BindTable(ctx, key, 8); bound != 5 {
		t.Errorf("rebind should keep 5, got %d", bound)
	}

	owner, err := s.BindOwner(ctx, key, store.Owner{BusinessID: "biz-1", CustomerID: "cust-1"})
	if err != nil || owner.BusinessID != "biz-1" {
		t.Fatalf("bind owner: %+v, %v", owner, err)
	}
	if owner, _ = s.BindOwner(ctx, key, store.Owner{BusinessID: "biz-2"}); owner.BusinessID != "biz-1" || owner.CustomerID != "cust-1" {
		t.Errorf("rebind should keep the first owner, got %+v", owner)
	}

	if _, err := s.AppendPending(ctx, key, []draft.Item{pgItem("10", 1, 100), pgItem("11", 1, 50)}); err != nil {
		t.Fatalf("append pending: %v", err)
	}
	v, err := s.AppendPending(ctx, key, []draft.Item{pgItem("10", 2, 100)})
	if err != nil {
		t.Fatalf("append pending: %v", err)
	}
	pending, err := s.LoadPending(ctx, key)
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "10" || pending[0].Quantity != 3 {
		t.Fatalf("pending: %+v", pending)
	}

	if _, err := s.Save(ctx, key, pending, v-1); !errors.Is(err, store.ErrStaleDraft) {
		t.Fatalf("expected ErrStaleDraft, got: %v", err)
	}
	v, err = s.Save(ctx, key, pending, v)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := s.SaveCheckout(ctx, key, store.Checkout{
		CustomerName:   "Asha",
		CouponCode:     "SAVE10",
		DiscountAmount: decimal.RequireFromString("12.50"),
		PointsToUse:    20,
		PaymentMethod:  enum.PaymentMethodCard,
	}, v); err != nil {
		t.Fatalf("save checkout: %v", err)
	}
	if err := s.SetState(ctx, key, enum.DraftStateValidating); err != nil {
		t.Fatalf("set state: %v", err)
	}

	rec, err = s.Load(ctx, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !rec.Exists || rec.TableNumber != 5 || len(rec.Items) != 2 || len(rec.Pending) != 0 {
		t.Errorf("record: %+v", rec)
	}
	if rec.CustomerName != "Asha" || rec.PointsToUse != 20 || rec.PaymentMethod != enum.PaymentMethodCard {
		t.Errorf("checkout fields: %+v", rec)
	}
	if !rec.DiscountAmount.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("discount: got %s", rec.DiscountAmount)
	}
	if rec.State != enum.DraftStateValidating {
		t.Errorf("state: got %s", rec.State)
	}
	if rec.Owner != (store.Owner{BusinessID: "biz-1", CustomerID: "cust-1"}) {
		t.Errorf("owner: got %+v", rec.Owner)
	}

	if err := s.BookTable(ctx, 5, "order-42"); err != nil {
		t.Fatalf("book table: %v", err)
	}
	if err := s.Clear(ctx, key); err != nil {
		t.Fatalf("clear: %v", err)
	}
	rec, _ = s.Load(ctx, key)
	if rec.Exists {
		t.Errorf("draft should be cleared, got %+v", rec)
	}
	b, ok, err := s.TableBinding(ctx, 5)
	if err != nil || !ok || b.OrderID != "order-42" || !b.Booked {
		t.Errorf("table binding: %+v, %v, %v", b, ok, err)
	}
}

func TestPostgres_Hydrate(t *testing.T) {
	s, ctx := newPostgresStore(t)
	const key store.Key = "order-9"

	items := []draft.Item{
		{ID: "1", Name: "Tea", Quantity: 2, Price: decimal.NewFromInt(30), Status: enum.ItemStatusServed},
	}
	if _, err := s.Hydrate(ctx, key, store.Snapshot{OrderID: "order-9", TableNumber: 3, Items: items, CustomerName: "Ravi"}); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	original, err := s.LoadOriginal(ctx, key)
	if err != nil {
		t.Fatalf("load original: %v", err)
	}
	working, _ := s.LoadWorking(ctx, key)
	if len(original) != 1 || len(working) != 1 || original[0].Status != enum.ItemStatusServed {
		t.Fatalf("original %+v, working %+v", original, working)
	}
	if !original[0].Price.Equal(decimal.NewFromInt(30)) {
		t.Errorf("price: got %s", original[0].Price)
	}

	rec, _ := s.Load(ctx, key)
	if !rec.Hydrated || rec.OrderID != "order-9" || rec.TableNumber != 3 {
		t.Errorf("record: %+v", rec)
	}
}
