package catalog

import "time"

// Item is a catalog entry. UnitCost is the last price paid on receipt; it is
// informational and never rewrites the cost basis of existing stock lots.
type Item struct {
	ID               int64     `json:"id"`
	Barcode          string    `json:"barcode"`
	Name             string    `json:"name"`
	Category         string    `json:"category"`
	Unit             string    `json:"unit"`
	UnitCost         float64   `json:"unit_cost"`
	Price            float64   `json:"price"`
	ReorderThreshold int64     `json:"reorder_threshold"`
	Disabled         bool      `json:"disabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Supplier is a purchase order counterparty.
type Supplier struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilters narrows and pages item listings.
type ListFilters struct {
	Search          string
	Category        string
	IncludeDisabled bool
	Page            int
	Limit           int
}
