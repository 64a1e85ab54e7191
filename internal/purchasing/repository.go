package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ims/meridian-ims/internal/ledger"
	"github.com/meridian-ims/meridian-ims/internal/platform/db"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Repository provides PostgreSQL backed persistence for purchase orders.
type Repository struct {
	pool   *pgxpool.Pool
	ledger *ledger.Repository
}

// NewRepository constructs a repository. The ledger repository is needed to
// bind ledger writes into the same transaction as the order mutation.
func NewRepository(pool *pgxpool.Pool, ledgerRepo *ledger.Repository) *Repository {
	return &Repository{pool: pool, ledger: ledgerRepo}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateOrder(ctx context.Context, order PurchaseOrder) (int64, error)
	InsertLine(ctx context.Context, line OrderLine) error
	DeleteLines(ctx context.Context, orderID int64) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, []OrderLine, error)
	AddReceivedQty(ctx context.Context, lineID, qty int64) error
	UpdateItemUnitCost(ctx context.Context, itemID int64, cost float64) error
	Ledger() ledger.Store
}

type txRepo struct {
	tx     pgx.Tx
	ledger ledger.Store
}

// WithTx wraps the callback in a repeatable-read transaction shared with the
// ledger store.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, ledger: r.ledger.Bind(tx)})
	})
}

const orderColumns = `id, number, supplier_id, status, expected_at, note, created_by, created_at, updated_at`

// GetOrder returns the order header and its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderLine, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, fmt.Errorf("purchasing: order %d: %w", id, shared.ErrNotFound)
		}
		return PurchaseOrder{}, nil, err
	}
	lines, err := r.orderLines(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return order, lines, nil
}

// ListOrders returns order headers, newest first.
func (r *Repository) ListOrders(ctx context.Context, status Status) ([]PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM purchase_orders`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (PurchaseOrder, error) {
	var o PurchaseOrder
	err := row.Scan(&o.ID, &o.Number, &o.SupplierID, &o.Status, &o.ExpectedAt,
		&o.Note, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repository) orderLines(ctx context.Context, q querier, orderID int64) ([]OrderLine, error) {
	rows, err := q.Query(ctx, `
		SELECT id, purchase_order_id, item_id, ordered_qty, received_qty, unit_cost
		FROM purchase_order_lines WHERE purchase_order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.OrderedQty, &l.ReceivedQty, &l.UnitCost); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepo) CreateOrder(ctx context.Context, order PurchaseOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (number, supplier_id, status, expected_at, note, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		order.Number, order.SupplierID, string(order.Status), order.ExpectedAt,
		order.Note, order.CreatedBy, order.CreatedAt, order.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLine(ctx context.Context, line OrderLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO purchase_order_lines (purchase_order_id, item_id, ordered_qty, received_qty, unit_cost)
		VALUES ($1, $2, $3, 0, $4)`,
		line.OrderID, line.ItemID, line.OrderedQty, line.UnitCost,
	)
	return err
}

func (t *txRepo) DeleteLines(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM purchase_order_lines WHERE purchase_order_id = $1`, orderID)
	return err
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_orders SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchasing: order %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// GetOrderForUpdate locks the order header so receipts, line rewrites and
// status transitions serialize against each other.
func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, []OrderLine, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, fmt.Errorf("purchasing: order %d: %w", id, shared.ErrNotFound)
		}
		return PurchaseOrder{}, nil, err
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, purchase_order_id, item_id, ordered_qty, received_qty, unit_cost
		FROM purchase_order_lines WHERE purchase_order_id = $1 ORDER BY id FOR UPDATE`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()

	var lines []OrderLine
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.OrderedQty, &l.ReceivedQty, &l.UnitCost); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, l)
	}
	return order, lines, rows.Err()
}

func (t *txRepo) AddReceivedQty(ctx context.Context, lineID, qty int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE purchase_order_lines
		SET received_qty = received_qty + $2
		WHERE id = $1 AND received_qty + $2 <= ordered_qty`,
		lineID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("purchasing: line %d over-receipt: %w", lineID, shared.ErrOverReceipt)
	}
	return nil
}

func (t *txRepo) UpdateItemUnitCost(ctx context.Context, itemID int64, cost float64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE items SET unit_cost = $1, updated_at = $2 WHERE id = $3`,
		cost, time.Now().UTC(), itemID)
	return err
}

func (t *txRepo) Ledger() ledger.Store {
	return t.ledger
}
