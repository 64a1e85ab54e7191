package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	CreateItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, id int64, item Item) error
	SetItemDisabled(ctx context.Context, id int64, disabled bool) error
	GetItem(ctx context.Context, id int64) (Item, error)
	ListItems(ctx context.Context, filters ListFilters) ([]Item, int, error)
	// HasActiveReferences reports whether any OPEN sale or non-terminal
	// purchase order references the item.
	HasActiveReferences(ctx context.Context, itemID int64) (bool, error)

	CreateSupplier(ctx context.Context, s Supplier) (Supplier, error)
	UpdateSupplier(ctx context.Context, id int64, s Supplier) error
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	ListSuppliers(ctx context.Context) ([]Supplier, error)
}

// AuditPort records who changed what.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns item and supplier master data.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// CreateItem registers a new catalog item.
func (s *Service) CreateItem(ctx context.Context, item Item) (Item, error) {
	if err := validateItem(item); err != nil {
		return Item{}, err
	}
	item.Disabled = false
	created, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, "catalog:item_created", "item", created.ID, map[string]any{"barcode": created.Barcode})
	return created, nil
}

// UpdateItem edits descriptive fields, price, unit cost and threshold. Cost
// changes apply to future receipts only; existing lots keep their cost basis.
func (s *Service) UpdateItem(ctx context.Context, id int64, item Item) (Item, error) {
	if id <= 0 {
		return Item{}, fmt.Errorf("catalog: item id required: %w", shared.ErrValidation)
	}
	if err := validateItem(item); err != nil {
		return Item{}, err
	}
	current, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if err := s.repo.UpdateItem(ctx, id, item); err != nil {
		return Item{}, err
	}
	item.ID = id
	item.Disabled = current.Disabled
	s.record(ctx, "catalog:item_updated", "item", id, nil)
	return item, nil
}

// DisableItem retires an item from new activity. Ledger history and open
// documents keep referring to it; the operation fails while an OPEN sale or a
// non-terminal purchase order still references the item.
func (s *Service) DisableItem(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("catalog: item id required: %w", shared.ErrValidation)
	}
	if _, err := s.repo.GetItem(ctx, id); err != nil {
		return err
	}
	active, err := s.repo.HasActiveReferences(ctx, id)
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("catalog: item %d is referenced by an open sale or order: %w", id, shared.ErrInvalidState)
	}
	if err := s.repo.SetItemDisabled(ctx, id, true); err != nil {
		return err
	}
	s.record(ctx, "catalog:item_disabled", "item", id, nil)
	return nil
}

// EnableItem lifts a disable.
func (s *Service) EnableItem(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("catalog: item id required: %w", shared.ErrValidation)
	}
	if _, err := s.repo.GetItem(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SetItemDisabled(ctx, id, false); err != nil {
		return err
	}
	s.record(ctx, "catalog:item_enabled", "item", id, nil)
	return nil
}

// GetItem fetches one item.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, fmt.Errorf("catalog: item id required: %w", shared.ErrValidation)
	}
	return s.repo.GetItem(ctx, id)
}

// ListItems pages through the catalog.
func (s *Service) ListItems(ctx context.Context, filters ListFilters) ([]Item, int, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.Limit < 1 || filters.Limit > 200 {
		filters.Limit = 50
	}
	return s.repo.ListItems(ctx, filters)
}

// CreateSupplier registers a supplier.
func (s *Service) CreateSupplier(ctx context.Context, sup Supplier) (Supplier, error) {
	if strings.TrimSpace(sup.Name) == "" {
		return Supplier{}, fmt.Errorf("catalog: supplier name required: %w", shared.ErrValidation)
	}
	created, err := s.repo.CreateSupplier(ctx, sup)
	if err != nil {
		return Supplier{}, err
	}
	s.record(ctx, "catalog:supplier_created", "supplier", created.ID, nil)
	return created, nil
}

// UpdateSupplier edits supplier contact data.
func (s *Service) UpdateSupplier(ctx context.Context, id int64, sup Supplier) error {
	if id <= 0 {
		return fmt.Errorf("catalog: supplier id required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(sup.Name) == "" {
		return fmt.Errorf("catalog: supplier name required: %w", shared.ErrValidation)
	}
	if err := s.repo.UpdateSupplier(ctx, id, sup); err != nil {
		return err
	}
	s.record(ctx, "catalog:supplier_updated", "supplier", id, nil)
	return nil
}

// GetSupplier fetches one supplier.
func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	if id <= 0 {
		return Supplier{}, fmt.Errorf("catalog: supplier id required: %w", shared.ErrValidation)
	}
	return s.repo.GetSupplier(ctx, id)
}

// ListSuppliers returns every supplier.
func (s *Service) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func validateItem(item Item) error {
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("catalog: item name required: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(item.Barcode) == "" {
		return fmt.Errorf("catalog: barcode required: %w", shared.ErrValidation)
	}
	if item.UnitCost < 0 || item.Price < 0 {
		return fmt.Errorf("catalog: cost and price must be >= 0: %w", shared.ErrValidation)
	}
	if item.ReorderThreshold < 0 {
		return fmt.Errorf("catalog: reorder threshold must be >= 0: %w", shared.ErrValidation)
	}
	return nil
}

func (s *Service) record(ctx context.Context, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}
