package ledger

import (
	"fmt"
	"sort"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// SortFEFO orders lots earliest-expiry-first: lots with an expiry date come
// before lots without one, in ascending expiry order; lots without expiry
// follow in oldest-received-first order. Ties break on received time, then id,
// so allocation is deterministic.
func SortFEFO(lots []StockLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.Expiry != nil && b.Expiry == nil:
			return true
		case a.Expiry == nil && b.Expiry != nil:
			return false
		case a.Expiry != nil && b.Expiry != nil && !a.Expiry.Equal(*b.Expiry):
			return a.Expiry.Before(*b.Expiry)
		case !a.ReceivedAt.Equal(b.ReceivedAt):
			return a.ReceivedAt.Before(b.ReceivedAt)
		default:
			return a.ID < b.ID
		}
	})
}

// Allocate plans an outbound movement of qty units across the given lots
// using earliest-expiry-first ordering. It returns ErrInsufficientStock when
// the lots cannot cover the full quantity; no partial plan is returned.
func Allocate(lots []StockLot, qty int64) ([]Allocation, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("ledger: allocation quantity must be positive: %w", shared.ErrValidation)
	}

	ordered := make([]StockLot, len(lots))
	copy(ordered, lots)
	SortFEFO(ordered)

	var allocs []Allocation
	remaining := qty
	for _, lot := range ordered {
		if remaining == 0 {
			break
		}
		if lot.Qty <= 0 {
			continue
		}
		take := lot.Qty
		if take > remaining {
			take = remaining
		}
		allocs = append(allocs, Allocation{Lot: lot, Qty: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, fmt.Errorf("ledger: short %d units: %w", remaining, shared.ErrInsufficientStock)
	}
	return allocs, nil
}
