package draft

import "github.com/kiwari-pos/tableorder/internal/enum"

// Merge combines the stored list, the queued catalog additions and the items
// just selected in the catalog into one working list.
//
// Precedence:
//  1. existing seeds the result and keeps its statuses (unset reads as Pending)
//  2. pending inserts unknown ids as Pending and adds quantities to known ids
//  3. selected inserts unknown ids only; it never overrides a quantity
//  4. every quantity is clamped to at least 1
//
// Result order is seed order followed by first appearance. Merge never mutates
// its arguments.
func Merge(existing, pending, selected []Item) []Item {
	out := make([]Item, 0, len(existing)+len(pending)+len(selected))
	pos := make(map[string]int, cap(out))

	for _, it := range existing {
		it.Status = it.Status.OrDefault()
		if i, ok := pos[it.ID]; ok {
			out[i] = it
			continue
		}
		pos[it.ID] = len(out)
		out = append(out, it)
	}

	for _, it := range pending {
		if i, ok := pos[it.ID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		it.Status = enum.ItemStatusPending
		pos[it.ID] = len(out)
		out = append(out, it)
	}

	for _, it := range selected {
		if _, ok := pos[it.ID]; ok {
			continue
		}
		it.Status = enum.ItemStatusPending
		pos[it.ID] = len(out)
		out = append(out, it)
	}

	for i := range out {
		if out[i].Quantity < 1 {
			out[i].Quantity = 1
		}
	}
	return out
}
