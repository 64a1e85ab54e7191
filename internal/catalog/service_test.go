package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

type memoryRepo struct {
	nextItemID     int64
	nextSupplierID int64
	items          map[int64]Item
	suppliers      map[int64]Supplier
	activeRefs     map[int64]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		nextItemID:     1,
		nextSupplierID: 1,
		items:          map[int64]Item{},
		suppliers:      map[int64]Supplier{},
		activeRefs:     map[int64]bool{},
	}
}

func (m *memoryRepo) CreateItem(_ context.Context, item Item) (Item, error) {
	for _, existing := range m.items {
		if existing.Barcode == item.Barcode {
			return Item{}, fmt.Errorf("catalog: barcode %q already registered: %w", item.Barcode, shared.ErrValidation)
		}
	}
	item.ID = m.nextItemID
	m.nextItemID++
	m.items[item.ID] = item
	return item, nil
}

func (m *memoryRepo) UpdateItem(_ context.Context, id int64, item Item) error {
	current, ok := m.items[id]
	if !ok {
		return shared.ErrNotFound
	}
	item.ID = id
	item.Disabled = current.Disabled
	m.items[id] = item
	return nil
}

func (m *memoryRepo) SetItemDisabled(_ context.Context, id int64, disabled bool) error {
	item, ok := m.items[id]
	if !ok {
		return shared.ErrNotFound
	}
	item.Disabled = disabled
	m.items[id] = item
	return nil
}

func (m *memoryRepo) GetItem(_ context.Context, id int64) (Item, error) {
	item, ok := m.items[id]
	if !ok {
		return Item{}, shared.ErrNotFound
	}
	return item, nil
}

func (m *memoryRepo) ListItems(_ context.Context, filters ListFilters) ([]Item, int, error) {
	var items []Item
	for _, item := range m.items {
		if item.Disabled && !filters.IncludeDisabled {
			continue
		}
		items = append(items, item)
	}
	return items, len(items), nil
}

func (m *memoryRepo) HasActiveReferences(_ context.Context, itemID int64) (bool, error) {
	return m.activeRefs[itemID], nil
}

func (m *memoryRepo) CreateSupplier(_ context.Context, s Supplier) (Supplier, error) {
	s.ID = m.nextSupplierID
	m.nextSupplierID++
	m.suppliers[s.ID] = s
	return s, nil
}

func (m *memoryRepo) UpdateSupplier(_ context.Context, id int64, s Supplier) error {
	if _, ok := m.suppliers[id]; !ok {
		return shared.ErrNotFound
	}
	s.ID = id
	m.suppliers[id] = s
	return nil
}

func (m *memoryRepo) GetSupplier(_ context.Context, id int64) (Supplier, error) {
	s, ok := m.suppliers[id]
	if !ok {
		return Supplier{}, shared.ErrNotFound
	}
	return s, nil
}

func (m *memoryRepo) ListSuppliers(_ context.Context) ([]Supplier, error) {
	var out []Supplier
	for _, s := range m.suppliers {
		out = append(out, s)
	}
	return out, nil
}

func validItem() Item {
	return Item{
		Barcode:          "8991002101234",
		Name:             "Paracetamol 500mg",
		Category:         "analgesic",
		Unit:             "box",
		UnitCost:         1.2,
		Price:            2.0,
		ReorderThreshold: 20,
	}
}

func TestCreateItemRejectsDuplicateBarcode(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.CreateItem(ctx, validItem())
	require.NoError(t, err)

	_, err = svc.CreateItem(ctx, validItem())
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateItemValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	item := validItem()
	item.Name = "  "
	_, err := svc.CreateItem(ctx, item)
	require.ErrorIs(t, err, shared.ErrValidation)

	item = validItem()
	item.UnitCost = -1
	_, err = svc.CreateItem(ctx, item)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateItemKeepsDisabledFlag(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	created, err := svc.CreateItem(ctx, validItem())
	require.NoError(t, err)
	require.NoError(t, svc.DisableItem(ctx, created.ID))

	edit := validItem()
	edit.Price = 2.5
	updated, err := svc.UpdateItem(ctx, created.ID, edit)
	require.NoError(t, err)
	require.True(t, updated.Disabled)
	require.Equal(t, 2.5, updated.Price)
}

func TestDisableItemBlockedByActiveReferences(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	created, err := svc.CreateItem(ctx, validItem())
	require.NoError(t, err)
	repo.activeRefs[created.ID] = true

	err = svc.DisableItem(ctx, created.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	got, err := svc.GetItem(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, got.Disabled)
}

func TestDisableThenEnable(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	created, err := svc.CreateItem(ctx, validItem())
	require.NoError(t, err)

	require.NoError(t, svc.DisableItem(ctx, created.ID))
	got, err := svc.GetItem(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, got.Disabled)

	items, _, err := svc.ListItems(ctx, ListFilters{})
	require.NoError(t, err)
	require.Empty(t, items)

	require.NoError(t, svc.EnableItem(ctx, created.ID))
	items, _, err = svc.ListItems(ctx, ListFilters{})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestDisableUnknownItem(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	err := svc.DisableItem(context.Background(), 42)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSupplierLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	created, err := svc.CreateSupplier(ctx, Supplier{Name: "PharmaDirect", Email: "sales@pharmadirect.example"})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	created.Phone = "+62-21-555-0101"
	require.NoError(t, svc.UpdateSupplier(ctx, created.ID, created))

	got, err := svc.GetSupplier(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "+62-21-555-0101", got.Phone)

	_, err = svc.CreateSupplier(ctx, Supplier{Name: " "})
	require.ErrorIs(t, err, shared.ErrValidation)
}
