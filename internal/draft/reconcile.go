package draft

import "github.com/kiwari-pos/tableorder/internal/enum"

// Reconciliation is the per-item status decision for one submission.
type Reconciliation struct {
	Statuses map[string]enum.ItemStatus
	// Changed lists new items and items whose quantity differs from the original.
	Changed []string
	// Reset lists items that had a non-Pending original status and go back to Pending.
	Reset []string
}

// Reconcile decides the status of every working item against the original
// snapshot:
//
//	not in original            -> Pending
//	in original, qty changed   -> Pending
//	in original, qty unchanged -> original status (unset reads as Pending)
//
// Only changed lines reopen; untouched lines keep their status even when other
// lines of the same order change.
func Reconcile(original, working []Item) Reconciliation {
	orig := Index(original)
	r := Reconciliation{Statuses: make(map[string]enum.ItemStatus, len(working))}

	for _, it := range working {
		o, ok := orig[it.ID]
		if ok && o.Quantity == it.Quantity {
			r.Statuses[it.ID] = o.Status.OrDefault()
			continue
		}
		r.Statuses[it.ID] = enum.ItemStatusPending
		r.Changed = append(r.Changed, it.ID)
		if ok && o.Status.OrDefault() != enum.ItemStatusPending {
			r.Reset = append(r.Reset, it.ID)
		}
	}
	return r
}

// Apply returns a copy of items with the reconciled statuses set.
func (r Reconciliation) Apply(items []Item) []Item {
	out := Clone(items)
	for i := range out {
		if st, ok := r.Statuses[out[i].ID]; ok {
			out[i].Status = st
		}
	}
	return out
}
