package draft

import (
	"errors"
	"fmt"
)

var (
	ErrItemNotFound  = errors.New("item not in draft")
	ErrQuantityFloor = errors.New("quantity must be >= 1")
	ErrBelowOriginal = errors.New("quantity cannot go below the confirmed quantity")
	ErrOriginalItem  = errors.New("confirmed items cannot be removed")
)

// Increment adds one to the quantity of id.
func Increment(items []Item, id string) ([]Item, error) {
	i := find(items, id)
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	out := Clone(items)
	out[i].Quantity++
	return out, nil
}

// Decrement removes one from the quantity of id, never going below 1 or below
// the quantity confirmed in original.
func Decrement(items, original []Item, id string) ([]Item, error) {
	i := find(items, id)
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	return SetQuantity(items, original, id, items[i].Quantity-1)
}

// SetQuantity sets the quantity of id subject to the same floors as Decrement.
func SetQuantity(items, original []Item, id string, qty int) ([]Item, error) {
	i := find(items, id)
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	if qty < 1 {
		return nil, fmt.Errorf("%s: %w", id, ErrQuantityFloor)
	}
	if o := find(original, id); o >= 0 && qty < original[o].Quantity {
		return nil, fmt.Errorf("%s: %w (confirmed %d)", id, ErrBelowOriginal, original[o].Quantity)
	}
	out := Clone(items)
	out[i].Quantity = qty
	return out, nil
}

// Remove drops id from the list. Items present in original cannot be removed.
func Remove(items, original []Item, id string) ([]Item, error) {
	i := find(items, id)
	if i < 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrItemNotFound)
	}
	if find(original, id) >= 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrOriginalItem)
	}
	out := make([]Item, 0, len(items)-1)
	out = append(out, items[:i]...)
	return append(out, items[i+1:]...), nil
}
