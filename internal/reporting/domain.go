package reporting

import "time"

// NearExpiryRow is one lot inside the expiry window.
type NearExpiryRow struct {
	ItemID   int64     `json:"item_id"`
	Barcode  string    `json:"barcode"`
	ItemName string    `json:"item_name"`
	LotID    int64     `json:"lot_id"`
	Qty      int64     `json:"qty"`
	Expiry   time.Time `json:"expiry"`
	DaysLeft int       `json:"days_left"`
}

// ReorderRow is one item below its reorder threshold.
type ReorderRow struct {
	ItemID           int64  `json:"item_id"`
	Barcode          string `json:"barcode"`
	ItemName         string `json:"item_name"`
	OnHand           int64  `json:"on_hand"`
	ReorderThreshold int64  `json:"reorder_threshold"`
}

// SupplierPerformanceRow aggregates a supplier's delivery record.
type SupplierPerformanceRow struct {
	SupplierID     int64  `json:"supplier_id"`
	SupplierName   string `json:"supplier_name"`
	OrdersTotal    int64  `json:"orders_total"`
	OrdersReceived int64  `json:"orders_received"`
	OnTime         int64  `json:"on_time"`
	Late           int64  `json:"late"`
	OrderedQty     int64  `json:"ordered_qty"`
	ReceivedQty    int64  `json:"received_qty"`
}

// StockHealth bundles both alert reports into one snapshot.
type StockHealth struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	WindowDays     int             `json:"window_days"`
	NearExpiry     []NearExpiryRow `json:"near_expiry"`
	BelowThreshold []ReorderRow    `json:"below_threshold"`
}
