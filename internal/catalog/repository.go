package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Repository persists items and suppliers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const itemColumns = `id, barcode, name, category, unit, unit_cost, price, reorder_threshold, disabled, created_at, updated_at`

func (r *Repository) CreateItem(ctx context.Context, item Item) (Item, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO items (barcode, name, category, unit, unit_cost, price, reorder_threshold, disabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $8)
		RETURNING id`,
		item.Barcode, item.Name, item.Category, item.Unit,
		item.UnitCost, item.Price, item.ReorderThreshold, now,
	).Scan(&item.ID)
	if err != nil {
		return Item{}, mapConstraint(err, item.Barcode)
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func (r *Repository) UpdateItem(ctx context.Context, id int64, item Item) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE items
		SET barcode = $1, name = $2, category = $3, unit = $4,
		    unit_cost = $5, price = $6, reorder_threshold = $7, updated_at = $8
		WHERE id = $9`,
		item.Barcode, item.Name, item.Category, item.Unit,
		item.UnitCost, item.Price, item.ReorderThreshold, time.Now().UTC(), id,
	)
	if err != nil {
		return mapConstraint(err, item.Barcode)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: item %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *Repository) SetItemDisabled(ctx context.Context, id int64, disabled bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE items SET disabled = $1, updated_at = $2 WHERE id = $3`,
		disabled, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: item %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	var item Item
	err := r.pool.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id,
	).Scan(
		&item.ID, &item.Barcode, &item.Name, &item.Category, &item.Unit,
		&item.UnitCost, &item.Price, &item.ReorderThreshold, &item.Disabled,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("catalog: item %d: %w", id, shared.ErrNotFound)
	}
	return item, err
}

func (r *Repository) ListItems(ctx context.Context, filters ListFilters) ([]Item, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if !filters.IncludeDisabled {
		where += ` AND NOT disabled`
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (name ILIKE $` + n + ` OR barcode ILIKE $` + n + `)`
	}
	if filters.Category != "" {
		args = append(args, filters.Category)
		where += ` AND category = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filters.Limit, (filters.Page-1)*filters.Limit)
	query := `SELECT ` + itemColumns + ` FROM items` + where +
		` ORDER BY name LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(
			&item.ID, &item.Barcode, &item.Name, &item.Category, &item.Unit,
			&item.UnitCost, &item.Price, &item.ReorderThreshold, &item.Disabled,
			&item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// HasActiveReferences reports whether the item is on an OPEN sale or on a
// purchase order that has not reached CLOSED or CANCELLED.
func (r *Repository) HasActiveReferences(ctx context.Context, itemID int64) (bool, error) {
	var active bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM purchase_order_lines l
			JOIN purchase_orders o ON o.id = l.purchase_order_id
			WHERE l.item_id = $1 AND o.status NOT IN ('CLOSED', 'CANCELLED')
		) OR EXISTS (
			SELECT 1
			FROM sale_lines l
			JOIN sales s ON s.id = l.sale_id
			WHERE l.item_id = $1 AND s.status = 'OPEN'
		)`,
		itemID,
	).Scan(&active)
	return active, err
}

func (r *Repository) CreateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO suppliers (name, contact, email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id`,
		s.Name, s.Contact, s.Email, s.Phone, now,
	).Scan(&s.ID)
	if err != nil {
		return Supplier{}, err
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return s, nil
}

func (r *Repository) UpdateSupplier(ctx context.Context, id int64, s Supplier) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE suppliers SET name = $1, contact = $2, email = $3, phone = $4, updated_at = $5
		WHERE id = $6`,
		s.Name, s.Contact, s.Email, s.Phone, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("catalog: supplier %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, contact, email, phone, created_at, updated_at
		FROM suppliers WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Contact, &s.Email, &s.Phone, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, fmt.Errorf("catalog: supplier %d: %w", id, shared.ErrNotFound)
	}
	return s, err
}

func (r *Repository) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, contact, email, phone, created_at, updated_at
		FROM suppliers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.Contact, &s.Email, &s.Phone, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func mapConstraint(err error, barcode string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("catalog: barcode %q already registered: %w", barcode, shared.ErrValidation)
	}
	return err
}
