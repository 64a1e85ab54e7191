package selling

import "time"

// Sale lifecycle statuses.
type SaleStatus string

const (
	SaleStatusOpen      SaleStatus = "OPEN"
	SaleStatusCompleted SaleStatus = "COMPLETED"
	SaleStatusVoided    SaleStatus = "VOIDED"
)

// Record kinds in returns_issues.
type RecordKind string

const (
	KindReturn RecordKind = "RETURN"
	KindIssue  RecordKind = "ISSUE"
)

// Sale is a cart while OPEN; completing it turns it into an immutable
// document backed by SALE movements in the ledger.
type Sale struct {
	ID          int64      `json:"id"`
	Number      string     `json:"number"`
	Status      SaleStatus `json:"status"`
	Customer    string     `json:"customer,omitempty"`
	Total       float64    `json:"total"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SaleLine is one item position on a sale.
type SaleLine struct {
	ID        int64   `json:"id"`
	SaleID    int64   `json:"sale_id"`
	ItemID    int64   `json:"item_id"`
	Qty       int64   `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
}

// ReturnOrIssue records stock coming back from a completed sale or leaving
// outside any sale (damage, waste, internal use).
type ReturnOrIssue struct {
	ID        int64      `json:"id"`
	Kind      RecordKind `json:"kind"`
	SaleID    int64      `json:"sale_id,omitempty"`
	ItemID    int64      `json:"item_id"`
	Qty       int64      `json:"qty"`
	Reason    string     `json:"reason,omitempty"`
	Actor     string     `json:"actor"`
	CreatedAt time.Time  `json:"created_at"`
}
