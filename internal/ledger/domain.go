package ledger

import (
	"fmt"
	"time"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// MovementReason enumerates supported stock movements.
type MovementReason string

const (
	// ReasonReceipt represents stock received against a purchase order line.
	ReasonReceipt MovementReason = "RECEIPT"
	// ReasonSale represents stock committed by a completed sale.
	ReasonSale MovementReason = "SALE"
	// ReasonReturn represents stock returned after a completed sale.
	ReasonReturn MovementReason = "RETURN"
	// ReasonIssue represents damage/loss write-offs independent of any sale.
	ReasonIssue MovementReason = "ISSUE"
	// ReasonAdjustment represents manual corrections.
	ReasonAdjustment MovementReason = "ADJUSTMENT"
)

// StockLot is a discrete batch of stock for one item, received together and
// tracked separately for expiry and cost purposes. Quantity only decreases
// after creation; corrections go through adjustment movements which create
// fresh lots, never through lot mutation.
type StockLot struct {
	ID         int64
	ItemID     int64
	Qty        int64
	UnitCost   float64
	Expiry     *time.Time // nil for non-perishable stock
	ReceivedAt time.Time
	OrderID    int64 // originating purchase order, 0 for return/adjustment lots
	SaleID     int64 // originating sale for return lots
	Sellable   bool  // quarantined return lots are excluded from availability
}

// StockMovement is an immutable, append-only ledger entry. The current
// quantity for an item is the sum of its movement deltas; the denormalized
// qty on each lot must always equal the lot's movement sum.
type StockMovement struct {
	ID         int64
	ItemID     int64
	LotID      int64
	Delta      int64
	UnitCost   float64
	Reason     MovementReason
	Actor      string
	RefModule  string
	RefID      int64
	OccurredAt time.Time
}

// LedgerEntry pairs a movement with the item's running balance, for the
// stock-card style movement history view.
type LedgerEntry struct {
	Movement StockMovement
	Balance  int64
}

// Allocation is one lot's contribution to an outbound movement.
type Allocation struct {
	Lot StockLot
	Qty int64
}

// validateMovement enforces the causal-reference invariant: every movement
// except ADJUSTMENT must carry the id of the order, sale, return or issue
// that caused it.
func validateMovement(m StockMovement) error {
	if m.ItemID == 0 || m.LotID == 0 {
		return fmt.Errorf("ledger: movement requires item and lot: %w", shared.ErrValidation)
	}
	if m.Delta == 0 {
		return fmt.Errorf("ledger: movement delta must be non zero: %w", shared.ErrValidation)
	}
	if m.Reason != ReasonAdjustment && (m.RefModule == "" || m.RefID == 0) {
		return fmt.Errorf("ledger: %s movement requires a causal reference: %w", m.Reason, shared.ErrValidation)
	}
	return nil
}
