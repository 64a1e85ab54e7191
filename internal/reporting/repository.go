package reporting

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository runs the report queries against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NearExpiry returns open lots whose expiry falls on or before the horizon,
// soonest first.
func (r *Repository) NearExpiry(ctx context.Context, horizon time.Time) ([]NearExpiryRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.id, i.barcode, i.name, l.id, l.qty, l.expiry
		FROM stock_lots l
		JOIN items i ON i.id = l.item_id
		WHERE l.qty > 0 AND l.expiry IS NOT NULL AND l.expiry <= $1
		ORDER BY l.expiry, l.id`,
		horizon,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now().UTC()
	var out []NearExpiryRow
	for rows.Next() {
		var row NearExpiryRow
		if err := rows.Scan(&row.ItemID, &row.Barcode, &row.ItemName, &row.LotID, &row.Qty, &row.Expiry); err != nil {
			return nil, err
		}
		row.DaysLeft = int(row.Expiry.Sub(now).Hours() / 24)
		out = append(out, row)
	}
	return out, rows.Err()
}

// BelowReorderThreshold compares each active item's movement sum against its
// threshold. Strictly below: an item sitting exactly at its threshold is not
// flagged.
func (r *Repository) BelowReorderThreshold(ctx context.Context) ([]ReorderRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT i.id, i.barcode, i.name, COALESCE(SUM(m.delta), 0) AS on_hand, i.reorder_threshold
		FROM items i
		LEFT JOIN stock_movements m ON m.item_id = i.id
		WHERE NOT i.disabled AND i.reorder_threshold > 0
		GROUP BY i.id
		HAVING COALESCE(SUM(m.delta), 0) < i.reorder_threshold
		ORDER BY COALESCE(SUM(m.delta), 0), i.name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReorderRow
	for rows.Next() {
		var row ReorderRow
		if err := rows.Scan(&row.ItemID, &row.Barcode, &row.ItemName, &row.OnHand, &row.ReorderThreshold); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SupplierPerformance aggregates per supplier: an order counts as on time
// when it reached RECEIVED or CLOSED and its last receipt movement landed on
// or before the expected date.
func (r *Repository) SupplierPerformance(ctx context.Context) ([]SupplierPerformanceRow, error) {
	rows, err := r.pool.Query(ctx, `
		WITH order_receipts AS (
			SELECT o.id, o.supplier_id, o.status, o.expected_at,
			       MAX(m.occurred_at) AS last_receipt_at
			FROM purchase_orders o
			LEFT JOIN stock_movements m
			       ON m.ref_module = 'purchasing' AND m.ref_id = o.id AND m.reason = 'RECEIPT'
			GROUP BY o.id
		)
		SELECT s.id, s.name,
		       COUNT(o.id),
		       COUNT(o.id) FILTER (WHERE o.status IN ('RECEIVED', 'CLOSED')),
		       COUNT(o.id) FILTER (WHERE o.status IN ('RECEIVED', 'CLOSED')
		                             AND (o.expected_at IS NULL OR o.last_receipt_at <= o.expected_at)),
		       COUNT(o.id) FILTER (WHERE o.status IN ('RECEIVED', 'CLOSED')
		                             AND o.expected_at IS NOT NULL AND o.last_receipt_at > o.expected_at),
		       COALESCE((SELECT SUM(l.ordered_qty) FROM purchase_order_lines l
		                 JOIN purchase_orders po ON po.id = l.purchase_order_id
		                 WHERE po.supplier_id = s.id), 0),
		       COALESCE((SELECT SUM(l.received_qty) FROM purchase_order_lines l
		                 JOIN purchase_orders po ON po.id = l.purchase_order_id
		                 WHERE po.supplier_id = s.id), 0)
		FROM suppliers s
		LEFT JOIN order_receipts o ON o.supplier_id = s.id
		GROUP BY s.id
		ORDER BY s.name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SupplierPerformanceRow
	for rows.Next() {
		var row SupplierPerformanceRow
		if err := rows.Scan(&row.SupplierID, &row.SupplierName, &row.OrdersTotal, &row.OrdersReceived,
			&row.OnTime, &row.Late, &row.OrderedQty, &row.ReceivedQty); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
