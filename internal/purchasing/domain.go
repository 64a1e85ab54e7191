package purchasing

import "time"

// Purchase order lifecycle statuses.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusOrdered           Status = "ORDERED"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusReceived          Status = "RECEIVED"
	StatusClosed            Status = "CLOSED"
	StatusCancelled         Status = "CANCELLED"
)

// transitions is the closed transition table. Anything not listed is
// rejected, including receipts against DRAFT or CLOSED orders.
var transitions = map[Status][]Status{
	StatusDraft:             {StatusOrdered, StatusCancelled},
	StatusOrdered:           {StatusPartiallyReceived, StatusReceived, StatusCancelled},
	StatusPartiallyReceived: {StatusReceived},
	StatusReceived:          {StatusClosed},
	StatusClosed:            {},
	StatusCancelled:         {},
}

// CanTransition reports whether from → to is an allowed move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status accepts no further moves.
func Terminal(status Status) bool {
	return len(transitions[status]) == 0
}

// receivable statuses accept ReceiveLine.
func receivable(status Status) bool {
	return status == StatusOrdered || status == StatusPartiallyReceived
}

// PurchaseOrder is the order header.
type PurchaseOrder struct {
	ID         int64      `json:"id"`
	Number     string     `json:"number"`
	SupplierID int64      `json:"supplier_id"`
	Status     Status     `json:"status"`
	ExpectedAt *time.Time `json:"expected_at,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// OrderLine tracks ordered vs cumulatively received quantity for one item.
type OrderLine struct {
	ID          int64   `json:"id"`
	OrderID     int64   `json:"order_id"`
	ItemID      int64   `json:"item_id"`
	OrderedQty  int64   `json:"ordered_qty"`
	ReceivedQty int64   `json:"received_qty"`
	UnitCost    float64 `json:"unit_cost"`
}

// FullyReceived reports whether the line needs no further receipts.
func (l OrderLine) FullyReceived() bool {
	return l.ReceivedQty >= l.OrderedQty
}
