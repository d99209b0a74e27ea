package draft

import (
	"github.com/kiwari-pos/tableorder/internal/enum"
	"github.com/shopspring/decimal"
)

// Item is one line of a draft order. ID is the catalog item id and is unique
// within a draft. Price is the unit price captured when the item was added.
type Item struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Image    string          `json:"image,omitempty"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Status   enum.ItemStatus `json:"status,omitempty"`
}

// Index maps item ids to items. Later duplicates win.
func Index(items []Item) map[string]Item {
	m := make(map[string]Item, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}

// Clone returns a copy that shares no backing array with items.
func Clone(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

func find(items []Item, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}
