package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ims/meridian-ims/internal/platform/db"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Repository persists lots and movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStore struct {
	db dbtx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{db: tx})
	})
}

// Bind returns a Store scoped to the given transaction, so other modules'
// repositories can post ledger writes inside their own transaction.
func (r *Repository) Bind(tx pgx.Tx) Store {
	return &txStore{db: tx}
}

// OnHand sums movement deltas for the item.
func (r *Repository) OnHand(ctx context.Context, itemID int64) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM stock_movements WHERE item_id = $1`,
		itemID,
	).Scan(&qty)
	return qty, err
}

// Available sums sellable lot quantities for the item.
func (r *Repository) Available(ctx context.Context, itemID int64) (int64, error) {
	var qty int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM stock_lots WHERE item_id = $1 AND sellable`,
		itemID,
	).Scan(&qty)
	return qty, err
}

// Movements lists ledger entries for the item, newest first, with running
// balances computed over the full history.
func (r *Repository) Movements(ctx context.Context, itemID int64, limit int) ([]LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, item_id, lot_id, delta, unit_cost, reason, actor,
		       COALESCE(ref_module, ''), COALESCE(ref_id, 0), occurred_at, balance
		FROM (
			SELECT m.*, SUM(m.delta) OVER (ORDER BY m.occurred_at, m.id) AS balance
			FROM stock_movements m
			WHERE m.item_id = $1
		) h
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`,
		itemID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(
			&e.Movement.ID, &e.Movement.ItemID, &e.Movement.LotID,
			&e.Movement.Delta, &e.Movement.UnitCost, &e.Movement.Reason,
			&e.Movement.Actor, &e.Movement.RefModule, &e.Movement.RefID,
			&e.Movement.OccurredAt, &e.Balance,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *txStore) InsertLot(ctx context.Context, lot StockLot) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO stock_lots
			(item_id, qty, unit_cost, expiry, received_at, purchase_order_id, sale_id, sellable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		lot.ItemID, lot.Qty, lot.UnitCost, lot.Expiry, lot.ReceivedAt,
		nullableID(lot.OrderID), nullableID(lot.SaleID), lot.Sellable,
	).Scan(&id)
	return id, err
}

// SellableLotsForUpdate locks the item's open lots in allocation order so
// concurrent sales cannot over-allocate the same lot.
func (s *txStore) SellableLotsForUpdate(ctx context.Context, itemID int64) ([]StockLot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, item_id, qty, unit_cost, expiry, received_at,
		       COALESCE(purchase_order_id, 0), COALESCE(sale_id, 0), sellable
		FROM stock_lots
		WHERE item_id = $1 AND sellable AND qty > 0
		ORDER BY (expiry IS NULL), expiry, received_at, id
		FOR UPDATE`,
		itemID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lots []StockLot
	for rows.Next() {
		var lot StockLot
		if err := rows.Scan(
			&lot.ID, &lot.ItemID, &lot.Qty, &lot.UnitCost, &lot.Expiry,
			&lot.ReceivedAt, &lot.OrderID, &lot.SaleID, &lot.Sellable,
		); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// GetLotForUpdate locks one lot by id.
func (s *txStore) GetLotForUpdate(ctx context.Context, lotID int64) (StockLot, error) {
	var lot StockLot
	err := s.db.QueryRow(ctx, `
		SELECT id, item_id, qty, unit_cost, expiry, received_at,
		       COALESCE(purchase_order_id, 0), COALESCE(sale_id, 0), sellable
		FROM stock_lots
		WHERE id = $1
		FOR UPDATE`,
		lotID,
	).Scan(
		&lot.ID, &lot.ItemID, &lot.Qty, &lot.UnitCost, &lot.Expiry,
		&lot.ReceivedAt, &lot.OrderID, &lot.SaleID, &lot.Sellable,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockLot{}, fmt.Errorf("ledger: lot %d: %w", lotID, shared.ErrNotFound)
	}
	return lot, err
}

// SetLotSellable moves a lot in or out of the quarantine pool.
func (s *txStore) SetLotSellable(ctx context.Context, lotID int64, sellable bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE stock_lots SET sellable = $2 WHERE id = $1`,
		lotID, sellable,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: lot %d: %w", lotID, shared.ErrNotFound)
	}
	return nil
}

// TakeFromLot decrements a lot. The qty guard in the statement keeps the
// non-negative invariant even if the in-memory plan went stale.
func (s *txStore) TakeFromLot(ctx context.Context, lotID, qty int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE stock_lots SET qty = qty - $2 WHERE id = $1 AND qty >= $2`,
		lotID, qty,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger: lot %d cannot cover %d units: %w", lotID, qty, shared.ErrInsufficientStock)
	}
	return nil
}

func (s *txStore) InsertMovement(ctx context.Context, m StockMovement) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO stock_movements
			(item_id, lot_id, delta, unit_cost, reason, actor, ref_module, ref_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, 0), $9)
		RETURNING id`,
		m.ItemID, m.LotID, m.Delta, m.UnitCost, string(m.Reason), m.Actor,
		m.RefModule, m.RefID, m.OccurredAt,
	).Scan(&id)
	return id, err
}

func (s *txStore) AvailableQty(ctx context.Context, itemID int64) (int64, error) {
	var qty int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM stock_lots WHERE item_id = $1 AND sellable`,
		itemID,
	).Scan(&qty)
	return qty, err
}

// SaleConsumption reports how much of the item the sale took, and at what
// average cost basis, from the movement history.
func (s *txStore) SaleConsumption(ctx context.Context, saleID, itemID int64) (Consumption, error) {
	var c Consumption
	err := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(-delta), 0),
		       COALESCE(SUM(-delta * unit_cost) / NULLIF(SUM(-delta), 0), 0)
		FROM stock_movements
		WHERE reason = 'SALE' AND ref_module = 'selling' AND ref_id = $1 AND item_id = $2`,
		saleID, itemID,
	).Scan(&c.Qty, &c.AvgUnitCost)
	return c, err
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
