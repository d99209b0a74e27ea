package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/tableorder/internal/draft"
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/kiwari-pos/tableorder/internal/middleware"
	"github.com/kiwari-pos/tableorder/internal/orderclient"
	"github.com/kiwari-pos/tableorder/internal/service"
	"github.com/kiwari-pos/tableorder/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DraftServicer defines the service methods needed by draft handlers.
// Satisfied by *service.DraftService; narrow interface for testability.
type DraftServicer interface {
	Get(ctx context.Context, key store.Key) (service.View, error)
	Start(ctx context.Context, table int) (service.View, error)
	Hydrate(ctx context.Context, key store.Key, orderID string) (service.View, error)
	Queue(ctx context.Context, key store.Key, items []draft.Item) (service.View, error)
	Open(ctx context.Context, key store.Key, selected []draft.Item, version int64) (service.View, error)
	Increment(ctx context.Context, key store.Key, id string, version int64) (service.View, error)
	Decrement(ctx context.Context, key store.Key, id string, version int64) (service.View, error)
	SetQuantity(ctx context.Context, key store.Key, id string, qty int, version int64) (service.View, error)
	Remove(ctx context.Context, key store.Key, id string, version int64) (service.View, error)
	SetCustomer(ctx context.Context, key store.Key, name, customerID string, version int64) (service.View, error)
	ApplyCoupon(ctx context.Context, key store.Key, code string, version int64) (service.View, error)
	SetPoints(ctx context.Context, key store.Key, raw string, version int64) (service.View, error)
	Quote(ctx context.Context, key store.Key) (draft.Totals, error)
	Submit(ctx context.Context, key store.Key, req service.SubmitRequest) (service.SubmitResult, error)
}

// DraftHandler handles draft order endpoints.
type DraftHandler struct {
	svc DraftServicer
	log *zap.Logger
}

func NewDraftHandler(svc DraftServicer, log *zap.Logger) *DraftHandler {
	return &DraftHandler{svc: svc, log: log}
}

// RegisterRoutes registers draft endpoints. Expected to be mounted at /drafts
// behind Authenticate.
func (h *DraftHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Start)
	r.Post("/hydrate/{orderID}", h.Hydrate)
	r.Route("/{key}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/queue", h.Queue)
		r.Post("/open", h.Open)
		r.Post("/items/{id}/increment", h.Increment)
		r.Post("/items/{id}/decrement", h.Decrement)
		r.Put("/items/{id}", h.SetQuantity)
		r.Delete("/items/{id}", h.Remove)
		r.Put("/customer", h.SetCustomer)
		r.Post("/coupon", h.ApplyCoupon)
		r.Put("/points", h.SetPoints)
		r.Get("/quote", h.Quote)
		r.Post("/submit", h.Submit)
	})
}

// --- Request / Response types ---

type itemRequest struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Image    string `json:"image"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

type startRequest struct {
	TableNumber int `json:"table_number"`
}

type itemsRequest struct {
	Items   []itemRequest `json:"items"`
	Version *int64        `json:"version"`
}

type quantityRequest struct {
	Quantity int    `json:"quantity"`
	Version  *int64 `json:"version"`
}

type customerRequest struct {
	CustomerName string `json:"customer_name"`
	CustomerID   string `json:"customer_id"`
	Version      *int64 `json:"version"`
}

type couponRequest struct {
	Code    string `json:"code"`
	Version *int64 `json:"version"`
}

type pointsRequest struct {
	// Raw so that non-numeric input reaches validation.
	Points  json.RawMessage `json:"points"`
	Version *int64          `json:"version"`
}

type submitRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type itemResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
	Status   string `json:"status"`
}

type totalsResponse struct {
	Subtotal    string `json:"subtotal"`
	Discount    string `json:"discount_amount"`
	Points      string `json:"points"`
	FinalAmount string `json:"final_amount"`
}

type draftResponse struct {
	Key            string         `json:"key"`
	OrderID        *string        `json:"order_id"`
	TableNumber    int            `json:"table_number"`
	State          string         `json:"state"`
	Version        int64          `json:"version"`
	Items          []itemResponse `json:"items"`
	OriginalItems  []itemResponse `json:"original_items"`
	PendingItems   []itemResponse `json:"pending_items"`
	CustomerName   string         `json:"customer_name"`
	CustomerID     string         `json:"customer_id,omitempty"`
	CouponCode     string         `json:"coupon_code,omitempty"`
	DiscountAmount string         `json:"discount_amount"`
	PointsToUse    int64          `json:"points_to_use"`
	PaymentMethod  string         `json:"payment_method,omitempty"`
	Totals         totalsResponse `json:"totals"`
}

type submitResponse struct {
	OrderID    string         `json:"order_id"`
	Created    bool           `json:"created"`
	ItemsReset bool           `json:"items_reset"`
	ResetItems []string       `json:"reset_items"`
	Message    string         `json:"message"`
	Totals     totalsResponse `json:"totals"`
}

func toItemResponses(items []draft.Item) []itemResponse {
	out := make([]itemResponse, len(items))
	for i, it := range items {
		out[i] = itemResponse{
			ID:       it.ID,
			Name:     it.Name,
			Image:    it.Image,
			Quantity: it.Quantity,
			Price:    it.Price.StringFixed(2),
			Status:   string(it.Status.OrDefault()),
		}
	}
	return out
}

func toTotalsResponse(t draft.Totals) totalsResponse {
	return totalsResponse{
		Subtotal:    t.Subtotal.StringFixed(2),
		Discount:    t.Discount.StringFixed(2),
		Points:      t.Points.StringFixed(2),
		FinalAmount: t.Final.StringFixed(2),
	}
}

func toDraftResponse(v service.View) draftResponse {
	resp := draftResponse{
		Key:            v.Key,
		TableNumber:    v.TableNumber,
		State:          string(v.State),
		Version:        v.Version,
		Items:          toItemResponses(v.Items),
		OriginalItems:  toItemResponses(v.Original),
		PendingItems:   toItemResponses(v.Pending),
		CustomerName:   v.CustomerName,
		CustomerID:     v.CustomerID,
		CouponCode:     v.CouponCode,
		DiscountAmount: v.DiscountAmount.StringFixed(2),
		PointsToUse:    v.PointsToUse,
		PaymentMethod:  string(v.PaymentMethod),
		Totals:         toTotalsResponse(v.Totals),
	}
	if v.OrderID != "" {
		resp.OrderID = &v.OrderID
	}
	if resp.State == "" {
		resp.State = string(enum.DraftStateEditing)
	}
	return resp
}

// --- Handlers ---

// Start handles POST /drafts.
func (h *DraftHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	v, err := h.svc.Start(h.ctx(r), req.TableNumber)
	if err != nil {
		h.writeError(w, "start draft", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDraftResponse(v))
}

// Hydrate handles POST /drafts/hydrate/{orderID}. The order id is the draft key.
func (h *DraftHandler) Hydrate(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	v, err := h.svc.Hydrate(h.ctx(r), store.Key(orderID), orderID)
	if err != nil {
		h.writeError(w, "hydrate draft", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// Get handles GET /drafts/{key}.
func (h *DraftHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Get(h.ctx(r), draftKey(r))
	if err != nil {
		h.writeError(w, "get draft", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// Queue handles POST /drafts/{key}/queue.
func (h *DraftHandler) Queue(w http.ResponseWriter, r *http.Request) {
	var req itemsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	items, err := parseItems(req.Items)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items are required"})
		return
	}
	v, err := h.svc.Queue(h.ctx(r), draftKey(r), items)
	if err != nil {
		h.writeError(w, "queue items", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// Open handles POST /drafts/{key}/open. The body is optional.
func (h *DraftHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req itemsRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	items, err := parseItems(req.Items)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	v, err := h.svc.Open(h.ctx(r), draftKey(r), items, bodyVersion(req.Version))
	if err != nil {
		h.writeError(w, "open draft", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// Increment handles POST /drafts/{key}/items/{id}/increment?version=N.
func (h *DraftHandler) Increment(w http.ResponseWriter, r *http.Request) {
	version, ok := queryVersion(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Increment(h.ctx(r), draftKey(r), chi.URLParam(r, "id"), version)
	if err != nil {
		h.writeError(w, "increment item", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// Decrement handles POST /drafts/{key}/items/{id}/decrement?version=N.
func (h *DraftHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	version, ok := queryVersion(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Decrement(h.ctx(r), draftKey(r), chi.URLParam(r, "id"), version)
	if err != nil {
		h.writeError(w, "decrement item", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// SetQuantity handles PUT /drafts/{key}/items/{id}.
func (h *DraftHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	v, err := h.svc.SetQuantity(h.ctx(r), draftKey(r), chi.URLParam(r, "id"), req.Quantity, bodyVersion(req.Version))
	if err != nil {
		h.writeError(w, "set quantity", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// Remove handles DELETE /drafts/{key}/items/{id}?version=N.
func (h *DraftHandler) Remove(w http.ResponseWriter, r *http.Request) {
	version, ok := queryVersion(w, r)
	if !ok {
		return
	}
	v, err := h.svc.Remove(h.ctx(r), draftKey(r), chi.URLParam(r, "id"), version)
	if err != nil {
		h.writeError(w, "remove item", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// SetCustomer handles PUT /drafts/{key}/customer. Customers default to their
// own id from the token.
func (h *DraftHandler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil && claims.Role == enum.RoleCustomer && req.CustomerID == "" {
		req.CustomerID = claims.CustomerID
	}
	v, err := h.svc.SetCustomer(h.ctx(r), draftKey(r), req.CustomerName, req.CustomerID, bodyVersion(req.Version))
	if err != nil {
		h.writeError(w, "set customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// ApplyCoupon handles POST /drafts/{key}/coupon. A rejected coupon answers 400
// with the reset draft so the client can keep editing.
func (h *DraftHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	v, err := h.svc.ApplyCoupon(h.ctx(r), draftKey(r), req.Code, bodyVersion(req.Version))
	if errors.Is(err, service.ErrCouponRejected) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": err.Error(),
			"code":  "coupon_rejected",
			"draft": toDraftResponse(v),
		})
		return
	}
	if err != nil {
		h.writeError(w, "apply coupon", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// SetPoints handles PUT /drafts/{key}/points. Points may be sent as a number
// or a string.
func (h *DraftHandler) SetPoints(w http.ResponseWriter, r *http.Request) {
	var req pointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	raw := string(req.Points)
	var s string
	if err := json.Unmarshal(req.Points, &s); err == nil {
		raw = s
	}
	if raw == "null" {
		raw = ""
	}
	v, err := h.svc.SetPoints(h.ctx(r), draftKey(r), raw, bodyVersion(req.Version))
	if err != nil {
		h.writeError(w, "set points", err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(v))
}

// Quote handles GET /drafts/{key}/quote.
func (h *DraftHandler) Quote(w http.ResponseWriter, r *http.Request) {
	totals, err := h.svc.Quote(h.ctx(r), draftKey(r))
	if err != nil {
		h.writeError(w, "quote draft", err)
		return
	}
	writeJSON(w, http.StatusOK, toTotalsResponse(totals))
}

// Submit handles POST /drafts/{key}/submit. The body is optional.
func (h *DraftHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	method, err := enum.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res, err := h.svc.Submit(h.ctx(r), draftKey(r), service.SubmitRequest{PaymentMethod: method})
	if err != nil {
		h.writeError(w, "submit draft", err)
		return
	}

	message := "no changes"
	if res.ItemsReset {
		message = "items reset to Pending"
	}
	reset := res.Reset
	if reset == nil {
		reset = []string{}
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, submitResponse{
		OrderID:    res.OrderID,
		Created:    res.Created,
		ItemsReset: res.ItemsReset,
		ResetItems: reset,
		Message:    message,
		Totals:     toTotalsResponse(res.Totals),
	})
}

// --- Helpers ---

// ctx forwards the caller's bearer token to the order service.
func (h *DraftHandler) ctx(r *http.Request) context.Context {
	ctx := orderclient.WithToken(r.Context(), middleware.TokenFromContext(r.Context()))
	if claims := middleware.ClaimsFromContext(ctx); claims != nil {
		ctx = service.WithCaller(ctx, service.Caller{
			BusinessID: claims.BusinessID,
			CustomerID: claims.CustomerID,
			Staff:      claims.Role != enum.RoleCustomer,
		})
	}
	return ctx
}

func draftKey(r *http.Request) store.Key {
	return store.Key(chi.URLParam(r, "key"))
}

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func bodyVersion(v *int64) int64 {
	if v == nil {
		return store.AnyVersion
	}
	return *v
}

func queryVersion(w http.ResponseWriter, r *http.Request) (int64, bool) {
	s := r.URL.Query().Get("version")
	if s == "" {
		return store.AnyVersion, true
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid version"})
		return 0, false
	}
	return v, true
}

func parseItems(reqs []itemRequest) ([]draft.Item, error) {
	items := make([]draft.Item, 0, len(reqs))
	for i, it := range reqs {
		if it.ID == "" {
			return nil, fmt.Errorf("items[%d]: id is required", i)
		}
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("items[%d]: quantity must be > 0", i)
		}
		price, err := decimal.NewFromString(it.Price)
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("items[%d]: invalid price", i)
		}
		items = append(items, draft.Item{
			ID:       it.ID,
			Name:     it.Name,
			Image:    it.Image,
			Quantity: it.Quantity,
			Price:    price,
		})
	}
	return items, nil
}

// writeError maps service errors onto HTTP status codes.
func (h *DraftHandler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case isValidationError(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrStaleDraft),
		errors.Is(err, service.ErrSubmissionInFlight),
		errors.Is(err, service.ErrNotHydrated),
		errors.Is(err, draft.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error(), "code": "order_not_found"})
	case errors.Is(err, service.ErrSubmitFailed),
		errors.Is(err, service.ErrFetchOrder),
		errors.Is(err, service.ErrPointsBalance):
		h.log.Warn(op+" failed upstream", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	default:
		h.log.Error(op, zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{
		service.ErrInvalidItem,
		service.ErrEmptyCustomerName,
		service.ErrEmptyCart,
		service.ErrInvalidTable,
		service.ErrPointsOutOfRange,
		service.ErrCouponRejected,
		draft.ErrPointsNotNumeric,
		draft.ErrItemNotFound,
		draft.ErrQuantityFloor,
		draft.ErrBelowOriginal,
		draft.ErrOriginalItem,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
