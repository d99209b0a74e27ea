//go:build integration

package handler_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/tableorder/internal/auth"
	"github.com/kiwari-pos/tableorder/internal/config"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/orderclient"
	"github.com/kiwari-pos/tableorder/internal/router"
	"github.com/kiwari-pos/tableorder/internal/service"
	"github.com/kiwari-pos/tableorder/internal/store"
	"github.com/kiwari-pos/tableorder/internal/ws"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// fakeOrderService stands in for the remote order service.
type fakeOrderService struct {
	mu       sync.Mutex
	orders   map[string]orderclient.Order
	created  []orderclient.OrderPayload
	updated  map[string]orderclient.OrderPayload
	tokens   []string
	sequence int
}

func newFakeOrderService() *fakeOrderService {
	return &fakeOrderService{
		orders:  make(map[string]orderclient.Order),
		updated: make(map[string]orderclient.OrderPayload),
	}
}

func (f *fakeOrderService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.tokens = append(f.tokens, r.Header.Get("Authorization"))
		o, ok := f.orders[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(o)
	})
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		var p orderclient.OrderPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.sequence++
		f.created = append(f.created, p)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": f.sequence})
	})
	mux.HandleFunc("PUT /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		var p orderclient.OrderPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		if _, ok := f.orders[id]; !ok {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		f.updated[id] = p
		json.NewEncoder(w).Encode(map[string]interface{}{"order": map[string]string{"id": id}})
	})
	return mux
}

// TestIntegrationFlow drives the draft lifecycle over HTTP against a real
// PostgreSQL draft store and a fake order service.
func TestIntegrationFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connStr, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()
	runMigrations(t, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	defer pool.Close()

	orders := newFakeOrderService()
	orders.orders["ord-9"] = orderclient.Order{
		ID:           "ord-9",
		TableNumber:  3,
		CustomerName: "Ravi",
		Items: []orderclient.OrderItem{
			{ProductID: "1", Quantity: 2, Price: amount(50), Name: "Nasi Bakar", Status: enum.ItemStatusServed},
			{ProductID: "2", Quantity: 1, Price: amount(30), Name: "Es Teh", Status: enum.ItemStatusCompleted},
		},
	}
	orderServer := httptest.NewServer(orders.handler())
	defer orderServer.Close()

	cfg := &config.Config{JWTSecret: "integration-test-secret", EstimatedTime: "20 mins"}
	log := zap.NewNop()
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	st := store.NewPostgres(pool)
	client := orderclient.New(orderServer.URL, "biz-1", 5*time.Second)
	svc := service.NewDraftService(st, client, log, service.Options{
		EstimatedTime: cfg.EstimatedTime,
		Publishers:    []service.EventPublisher{ws.NewPublisher(hub)},
	})

	server := httptest.NewServer(router.New(cfg, svc, hub, log))
	defer server.Close()

	token, err := auth.GenerateToken(cfg.JWTSecret, "", "biz-1", enum.RoleWaiter)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	// --- 1. New order for table 5 ---
	started := call(t, server, token, "POST", "/drafts/", map[string]interface{}{"table_number": 5}, http.StatusCreated)
	key := started["key"].(string)

	opened := call(t, server, token, "POST", "/drafts/"+key+"/open", map[string]interface{}{
		"items": []map[string]interface{}{{"id": "10", "name": "Ayam Bakar", "quantity": 2, "price": "100"}},
	}, http.StatusOK)
	totals := opened["totals"].(map[string]interface{})
	if totals["final_amount"] != "200.00" {
		t.Fatalf("final_amount: got %v, want 200.00", totals["final_amount"])
	}

	// A stale version is refused.
	call(t, server, token, "PUT", "/drafts/"+key+"/customer", map[string]interface{}{
		"customer_name": "Asha", "version": 0,
	}, http.StatusConflict)
	call(t, server, token, "PUT", "/drafts/"+key+"/customer", map[string]interface{}{
		"customer_name": "Asha", "version": opened["version"],
	}, http.StatusOK)

	submitted := call(t, server, token, "POST", "/drafts/"+key+"/submit", map[string]interface{}{"payment_method": "CASH"}, http.StatusCreated)
	if submitted["order_id"] != "1" || submitted["created"] != true {
		t.Fatalf("submit: %v", submitted)
	}
	if len(orders.created) != 1 {
		t.Fatalf("created orders: got %d, want 1", len(orders.created))
	}
	p := orders.created[0]
	if p.TableNumber != 5 || p.CustomerName != "Asha" || p.BusinessID != "biz-1" {
		t.Errorf("payload: %+v", p)
	}
	if !p.TotalAmount.Equal(amount(200).Decimal) {
		t.Errorf("total_amount: got %s, want 200", p.TotalAmount)
	}

	cleared := call(t, server, token, "GET", "/drafts/"+key, nil, http.StatusOK)
	if items := cleared["items"].([]interface{}); len(items) != 0 {
		t.Errorf("draft should be cleared, got %v", items)
	}
	binding, ok, err := st.TableBinding(ctx, 5)
	if err != nil || !ok || !binding.Booked || binding.OrderID != "1" {
		t.Errorf("table binding: %+v ok=%v err=%v", binding, ok, err)
	}

	// --- 2. Returning to an existing order ---
	hydrated := call(t, server, token, "POST", "/drafts/hydrate/ord-9", nil, http.StatusOK)
	if hydrated["order_id"] != "ord-9" || hydrated["customer_name"] != "Ravi" {
		t.Fatalf("hydrate: %v", hydrated)
	}
	if len(orders.tokens) == 0 || orders.tokens[0] != "Bearer "+token {
		t.Errorf("token not forwarded: %v", orders.tokens)
	}

	// Confirmed quantities cannot be reduced.
	call(t, server, token, "POST", "/drafts/ord-9/items/1/decrement", nil, http.StatusBadRequest)
	call(t, server, token, "POST", "/drafts/ord-9/items/1/increment", nil, http.StatusOK)

	updated := call(t, server, token, "POST", "/drafts/ord-9/submit", nil, http.StatusOK)
	if updated["items_reset"] != true || updated["message"] != "items reset to Pending" {
		t.Fatalf("update: %v", updated)
	}
	up, ok := orders.updated["ord-9"]
	if !ok {
		t.Fatal("order ord-9 was not updated")
	}
	statuses := map[string]enum.ItemStatus{}
	for _, it := range up.CartItems {
		statuses[string(it.ProductID)] = it.Status
	}
	if statuses["1"] != enum.ItemStatusPending || statuses["2"] != enum.ItemStatusCompleted {
		t.Errorf("statuses: %v", statuses)
	}

	// --- 3. Unknown orders ---
	call(t, server, token, "POST", "/drafts/hydrate/ord-404", nil, http.StatusNotFound)

	// --- 4. Customer drafts stay with their owner ---
	asha, _ := auth.GenerateToken(cfg.JWTSecret, "c-1", "biz-1", enum.RoleCustomer)
	budi, _ := auth.GenerateToken(cfg.JWTSecret, "c-2", "biz-1", enum.RoleCustomer)
	own := call(t, server, asha, "POST", "/drafts/", map[string]interface{}{"table_number": 6}, http.StatusCreated)
	ownKey := own["key"].(string)
	call(t, server, budi, "GET", "/drafts/"+ownKey, nil, http.StatusForbidden)
	call(t, server, budi, "POST", "/drafts/"+ownKey+"/submit", nil, http.StatusForbidden)
	call(t, server, token, "GET", "/drafts/"+ownKey, nil, http.StatusOK)
}

// --- Helpers ---

func amount(v int64) orderclient.Amount {
	return orderclient.NewAmount(decimal.NewFromInt(v))
}

func call(t *testing.T, server *httptest.Server, token, method, path string, body interface{}, wantStatus int) map[string]interface{} {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status got %d, want %d; body: %v", method, path, resp.StatusCode, wantStatus, out)
	}
	return out
}

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
		if err := pgContainer.Terminate(context.Background()); err != nil {
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
