package selling

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

// Repository provides PostgreSQL backed persistence for sales, returns and
// issues.
type Repository struct {
	pool   *pgxpool.Pool
	ledger *ledger.Repository
}

// NewRepository constructs a repository bound to the shared ledger.
func NewRepository(pool *pgxpool.Pool, ledgerRepo *ledger.Repository) *Repository {
	return &Repository{pool: pool, ledger: ledgerRepo}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	CreateSale(ctx context.Context, sale Sale) (int64, error)
	InsertLine(ctx context.Context, line SaleLine) (int64, error)
	DeleteLine(ctx context.Context, saleID, lineID int64) error
	GetSaleForUpdate(ctx context.Context, id int64) (Sale, []SaleLine, error)
	UpdateStatus(ctx context.Context, id int64, status SaleStatus) error
	CompleteSale(ctx context.Context, id int64, total float64, at time.Time) error
	ReturnedQty(ctx context.Context, saleID, itemID int64) (int64, error)
	InsertRecord(ctx context.Context, rec ReturnOrIssue) (int64, error)
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

const saleColumns = `id, number, status, customer, total, created_by, created_at, updated_at, completed_at`

// GetSale returns the sale header and its lines.
func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, []SaleLine, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, nil, fmt.Errorf("selling: sale %d: %w", id, shared.ErrNotFound)
		}
		return Sale{}, nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, sale_id, item_id, qty, unit_price FROM sale_lines WHERE sale_id = $1 ORDER BY id`, id)
	if err != nil {
		return Sale{}, nil, err
	}
	defer rows.Close()

	lines, err := scanLines(rows)
	if err != nil {
		return Sale{}, nil, err
	}
	return sale, lines, nil
}

// ListSales returns sale headers, newest first.
func (r *Repository) ListSales(ctx context.Context, status SaleStatus) ([]Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales`
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

	var sales []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.Number, &s.Status, &s.Customer, &s.Total,
		&s.CreatedBy, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt)
	return s, err
}

func scanLines(rows pgx.Rows) ([]SaleLine, error) {
	var lines []SaleLine
	for rows.Next() {
		var l SaleLine
		if err := rows.Scan(&l.ID, &l.SaleID, &l.ItemID, &l.Qty, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepo) CreateSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales (number, status, customer, total, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6)
		RETURNING id`,
		sale.Number, string(sale.Status), sale.Customer, sale.CreatedBy,
		sale.CreatedAt, sale.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLine(ctx context.Context, line SaleLine) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sale_lines (sale_id, item_id, qty, unit_price)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		line.SaleID, line.ItemID, line.Qty, line.UnitPrice,
	).Scan(&id)
	return id, err
}

func (t *txRepo) DeleteLine(ctx context.Context, saleID, lineID int64) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM sale_lines WHERE id = $1 AND sale_id = $2`, lineID, saleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("selling: line %d on sale %d: %w", lineID, saleID, shared.ErrNotFound)
	}
	return nil
}

// GetSaleForUpdate locks the sale header so line edits, completion, voiding
// and returns serialize against each other.
func (t *txRepo) GetSaleForUpdate(ctx context.Context, id int64) (Sale, []SaleLine, error) {
	sale, err := scanSale(t.tx.QueryRow(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, nil, fmt.Errorf("selling: sale %d: %w", id, shared.ErrNotFound)
		}
		return Sale{}, nil, err
	}

	rows, err := t.tx.Query(ctx,
		`SELECT id, sale_id, item_id, qty, unit_price FROM sale_lines WHERE sale_id = $1 ORDER BY id`, id)
	if err != nil {
		return Sale{}, nil, err
	}
	defer rows.Close()

	lines, err := scanLines(rows)
	if err != nil {
		return Sale{}, nil, err
	}
	return sale, lines, nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status SaleStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE sales SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("selling: sale %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (t *txRepo) CompleteSale(ctx context.Context, id int64, total float64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sales SET status = $1, total = $2, completed_at = $3, updated_at = $3
		WHERE id = $4`,
		string(SaleStatusCompleted), total, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("selling: sale %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// ReturnedQty sums prior returns of the item against the sale.
func (t *txRepo) ReturnedQty(ctx context.Context, saleID, itemID int64) (int64, error) {
	var qty int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(qty), 0) FROM returns_issues
		WHERE kind = 'RETURN' AND sale_id = $1 AND item_id = $2`,
		saleID, itemID,
	).Scan(&qty)
	return qty, err
}

func (t *txRepo) InsertRecord(ctx context.Context, rec ReturnOrIssue) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO returns_issues (kind, sale_id, item_id, qty, reason, actor, created_at)
		VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7)
		RETURNING id`,
		string(rec.Kind), rec.SaleID, rec.ItemID, rec.Qty, rec.Reason, rec.Actor, rec.CreatedAt,
	).Scan(&id)
	return id, err
}

func (t *txRepo) Ledger() ledger.Store {
	return t.ledger
}
