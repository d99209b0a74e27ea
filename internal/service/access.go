package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiwari-pos/tableorder/internal/store"
)

// ErrForbidden is returned when the caller may not touch the draft.
var ErrForbidden = errors.New("draft belongs to another customer or business")

// Caller is the authenticated user a request runs for. Staff may open any
// draft of their business; customers only their own.
type Caller struct {
	BusinessID string
	CustomerID string
	Staff      bool
}

type callerKey struct{}

// WithCaller attaches the caller to ctx. Calls without a caller skip the
// ownership checks.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller attached by WithCaller.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// owner is the binding a new draft gets for c.
func (c Caller) owner() store.Owner {
	o := store.Owner{BusinessID: c.BusinessID}
	if !c.Staff {
		o.CustomerID = c.CustomerID
	}
	return o
}

func (s *DraftService) authorize(c Caller, owner store.Owner) error {
	if bid := s.orders.BusinessID(); bid != "" && c.BusinessID != bid {
		return ErrForbidden
	}
	if owner.BusinessID != "" && owner.BusinessID != c.BusinessID {
		return ErrForbidden
	}
	if !c.Staff && owner.CustomerID != "" && owner.CustomerID != c.CustomerID {
		return ErrForbidden
	}
	return nil
}

// load reads the draft and checks the caller against its owner. With claim
// set, an unowned draft is bound to the caller.
func (s *DraftService) load(ctx context.Context, key store.Key, claim bool) (store.Record, error) {
	rec, err := s.store.Load(ctx, key)
	if err != nil {
		return store.Record{}, fmt.Errorf("load draft: %w", err)
	}
	c, ok := CallerFromContext(ctx)
	if !ok {
		return rec, nil
	}
	if err := s.authorize(c, rec.Owner); err != nil {
		return store.Record{}, err
	}
	if claim && rec.Owner.BusinessID == "" {
		if err := s.bindOwner(ctx, key, c.owner(), &rec); err != nil {
			return store.Record{}, err
		}
	}
	return rec, nil
}

// bindOwner binds owner and re-checks the caller, since another session may
// have bound the draft first.
func (s *DraftService) bindOwner(ctx context.Context, key store.Key, owner store.Owner, rec *store.Record) error {
	bound, err := s.store.BindOwner(ctx, key, owner)
	if err != nil {
		return fmt.Errorf("bind owner: %w", err)
	}
	rec.Owner = bound
	if c, ok := CallerFromContext(ctx); ok {
		return s.authorize(c, bound)
	}
	return nil
}
