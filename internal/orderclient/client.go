// Package orderclient talks to the external order service. Requests carry the
// caller's bearer token, taken from the request context.
package orderclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrMissingOrderID  = errors.New("order service returned no order id")
	ErrNoCustomerFound = errors.New("customer not found")
)

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("order service: status %d: %s", e.Code, e.Body)
}

type tokenKey struct{}

// WithToken returns a context whose requests authenticate with token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

type Client struct {
	baseURL    string
	businessID string
	http       *http.Client
}

func New(baseURL, businessID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		businessID: businessID,
		http:       &http.Client{Timeout: timeout},
	}
}

// BusinessID is stamped on every outgoing order payload.
func (c *Client) BusinessID() string {
	return c.businessID
}

func (c *Client) GetOrder(ctx context.Context, id string) (Order, error) {
	var o Order
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, &o); err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (c *Client) CreateOrder(ctx context.Context, p OrderPayload) (string, error) {
	var ref orderRef
	if err := c.do(ctx, http.MethodPost, "/orders", p, &ref); err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	if ref.id() == "" {
		return "", fmt.Errorf("create order: %w", ErrMissingOrderID)
	}
	return ref.id(), nil
}

func (c *Client) UpdateOrder(ctx context.Context, id string, p OrderPayload) (string, error) {
	var ref orderRef
	if err := c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(id), p, &ref); err != nil {
		return "", fmt.Errorf("update order %s: %w", id, err)
	}
	if ref.id() == "" {
		return id, nil
	}
	return ref.id(), nil
}

func (c *Client) ValidateCoupon(ctx context.Context, code string, orderTotal decimal.Decimal) (CouponResult, error) {
	body := struct {
		Code       string `json:"code"`
		OrderTotal Amount `json:"orderTotal"`
	}{Code: code, OrderTotal: NewAmount(orderTotal)}

	var res CouponResult
	if err := c.do(ctx, http.MethodPost, "/coupons/validate", body, &res); err != nil {
		return CouponResult{}, fmt.Errorf("validate coupon %q: %w", code, err)
	}
	return res, nil
}

// CustomerPoints returns the loyalty balance of customerID. The endpoint lists
// the customers visible to the caller; a single entry is taken as the caller.
func (c *Client) CustomerPoints(ctx context.Context, customerID string) (int64, error) {
	var customers []Customer
	if err := c.do(ctx, http.MethodGet, "/customers/customer", nil, &customers); err != nil {
		return 0, fmt.Errorf("customer points: %w", err)
	}
	for _, cu := range customers {
		if string(cu.ID) == customerID {
			return cu.Points, nil
		}
	}
	if len(customers) == 1 && customerID == "" {
		return customers[0].Points, nil
	}
	return 0, fmt.Errorf("customer points %s: %w", customerID, ErrNoCustomerFound)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := tokenFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
