package purchasing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian-ims/internal/catalog"
	"github.com/meridian-ims/meridian-ims/internal/ledger"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

type memoryOrderRepo struct {
	nextID    int64
	orders    map[int64]PurchaseOrder
	lines     map[int64][]OrderLine
	itemCosts map[int64]float64
	ledger    *fakeLedgerStore
}

type memoryOrderTx struct {
	repo *memoryOrderRepo
}

func newMemoryOrderRepo() *memoryOrderRepo {
	return &memoryOrderRepo{
		orders:    map[int64]PurchaseOrder{},
		lines:     map[int64][]OrderLine{},
		itemCosts: map[int64]float64{},
		ledger:    &fakeLedgerStore{},
	}
}

func (r *memoryOrderRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryOrderTx{repo: r})
}

func (r *memoryOrderRepo) GetOrder(_ context.Context, id int64) (PurchaseOrder, []OrderLine, error) {
	order, ok := r.orders[id]
	if !ok {
		return PurchaseOrder{}, nil, shared.ErrNotFound
	}
	return order, append([]OrderLine(nil), r.lines[id]...), nil
}

func (r *memoryOrderRepo) ListOrders(_ context.Context, status Status) ([]PurchaseOrder, error) {
	var out []PurchaseOrder
	for _, order := range r.orders {
		if status == "" || order.Status == status {
			out = append(out, order)
		}
	}
	return out, nil
}

func (tx *memoryOrderTx) next() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *memoryOrderTx) CreateOrder(_ context.Context, order PurchaseOrder) (int64, error) {
	id := tx.next()
	order.ID = id
	tx.repo.orders[id] = order
	return id, nil
}

func (tx *memoryOrderTx) InsertLine(_ context.Context, line OrderLine) error {
	line.ID = tx.next()
	tx.repo.lines[line.OrderID] = append(tx.repo.lines[line.OrderID], line)
	return nil
}

func (tx *memoryOrderTx) DeleteLines(_ context.Context, orderID int64) error {
	delete(tx.repo.lines, orderID)
	return nil
}

func (tx *memoryOrderTx) UpdateStatus(_ context.Context, id int64, status Status) error {
	order, ok := tx.repo.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	order.Status = status
	tx.repo.orders[id] = order
	return nil
}

func (tx *memoryOrderTx) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, []OrderLine, error) {
	return tx.repo.GetOrder(ctx, id)
}

func (tx *memoryOrderTx) AddReceivedQty(_ context.Context, lineID, qty int64) error {
	for orderID, lines := range tx.repo.lines {
		for i := range lines {
			if lines[i].ID != lineID {
				continue
			}
			if lines[i].ReceivedQty+qty > lines[i].OrderedQty {
				return shared.ErrOverReceipt
			}
			lines[i].ReceivedQty += qty
			tx.repo.lines[orderID] = lines
			return nil
		}
	}
	return shared.ErrNotFound
}

func (tx *memoryOrderTx) UpdateItemUnitCost(_ context.Context, itemID int64, cost float64) error {
	tx.repo.itemCosts[itemID] = cost
	return nil
}

func (tx *memoryOrderTx) Ledger() ledger.Store {
	return tx.repo.ledger
}

// fakeLedgerStore records what the workflow posts.
type fakeLedgerStore struct {
	nextID    int64
	lots      []ledger.StockLot
	movements []ledger.StockMovement
}

func (f *fakeLedgerStore) InsertLot(_ context.Context, lot ledger.StockLot) (int64, error) {
	f.nextID++
	lot.ID = f.nextID
	f.lots = append(f.lots, lot)
	return lot.ID, nil
}

func (f *fakeLedgerStore) SellableLotsForUpdate(_ context.Context, itemID int64) ([]ledger.StockLot, error) {
	var out []ledger.StockLot
	for _, lot := range f.lots {
		if lot.ItemID == itemID && lot.Sellable && lot.Qty > 0 {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (f *fakeLedgerStore) GetLotForUpdate(_ context.Context, lotID int64) (ledger.StockLot, error) {
	for _, lot := range f.lots {
		if lot.ID == lotID {
			return lot, nil
		}
	}
	return ledger.StockLot{}, shared.ErrNotFound
}

func (f *fakeLedgerStore) SetLotSellable(_ context.Context, lotID int64, sellable bool) error {
	for i := range f.lots {
		if f.lots[i].ID == lotID {
			f.lots[i].Sellable = sellable
			return nil
		}
	}
	return shared.ErrNotFound
}

func (f *fakeLedgerStore) TakeFromLot(_ context.Context, lotID, qty int64) error {
	for i := range f.lots {
		if f.lots[i].ID == lotID {
			if f.lots[i].Qty < qty {
				return shared.ErrInsufficientStock
			}
			f.lots[i].Qty -= qty
			return nil
		}
	}
	return shared.ErrNotFound
}

func (f *fakeLedgerStore) InsertMovement(_ context.Context, m ledger.StockMovement) (int64, error) {
	f.nextID++
	m.ID = f.nextID
	f.movements = append(f.movements, m)
	return m.ID, nil
}

func (f *fakeLedgerStore) AvailableQty(_ context.Context, itemID int64) (int64, error) {
	var qty int64
	for _, lot := range f.lots {
		if lot.ItemID == itemID && lot.Sellable {
			qty += lot.Qty
		}
	}
	return qty, nil
}

func (f *fakeLedgerStore) SaleConsumption(_ context.Context, _, _ int64) (ledger.Consumption, error) {
	return ledger.Consumption{}, nil
}

type fakeCatalog struct {
	items     map[int64]catalog.Item
	suppliers map[int64]catalog.Supplier
}

func (f *fakeCatalog) GetItem(_ context.Context, id int64) (catalog.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return catalog.Item{}, shared.ErrNotFound
	}
	return item, nil
}

func (f *fakeCatalog) GetSupplier(_ context.Context, id int64) (catalog.Supplier, error) {
	s, ok := f.suppliers[id]
	if !ok {
		return catalog.Supplier{}, shared.ErrNotFound
	}
	return s, nil
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		items: map[int64]catalog.Item{
			1: {ID: 1, Barcode: "B1", Name: "Amoxicillin 250mg", Unit: "box", UnitCost: 3},
			2: {ID: 2, Barcode: "B2", Name: "Gauze roll", Unit: "pc", UnitCost: 0.5},
			3: {ID: 3, Barcode: "B3", Name: "Old tonic", Unit: "btl", Disabled: true},
		},
		suppliers: map[int64]catalog.Supplier{10: {ID: 10, Name: "PharmaDirect"}},
	}
}

func newFixture() (*Service, *memoryOrderRepo) {
	repo := newMemoryOrderRepo()
	return NewService(repo, newFakeCatalog(), nil, nil, nil), repo
}

func draftOrder(t *testing.T, svc *Service, lines ...LineInput) PurchaseOrder {
	t.Helper()
	order, err := svc.CreateOrder(context.Background(), CreateOrderInput{SupplierID: 10, Lines: lines})
	require.NoError(t, err)
	return order
}

func TestCreateOrderStartsDraft(t *testing.T) {
	svc, repo := newFixture()
	order := draftOrder(t, svc, LineInput{ItemID: 1, Qty: 100, UnitCost: 2.8})

	require.Equal(t, StatusDraft, order.Status)
	require.Len(t, repo.lines[order.ID], 1)
	require.Equal(t, int64(0), repo.lines[order.ID][0].ReceivedQty)
}

func TestCreateOrderRejectsDisabledItem(t *testing.T) {
	svc, _ := newFixture()
	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		SupplierID: 10,
		Lines:      []LineInput{{ItemID: 3, Qty: 5}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSubmitRequiresLines(t *testing.T) {
	svc, _ := newFixture()
	order := draftOrder(t, svc)
	err := svc.Submit(context.Background(), order.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiveLifecycle(t *testing.T) {
	svc, repo := newFixture()
	ctx := context.Background()
	order := draftOrder(t, svc, LineInput{ItemID: 1, Qty: 100, UnitCost: 2.8})
	require.NoError(t, svc.Submit(ctx, order.ID))

	lineID := repo.lines[order.ID][0].ID
	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	lot, err := svc.ReceiveLine(ctx, ReceiveInput{OrderID: order.ID, LineID: lineID, Qty: 60, Expiry: &exp})
	require.NoError(t, err)
	require.Equal(t, int64(60), lot.Qty)
	require.Equal(t, 2.8, lot.UnitCost)

	got, lines, err := svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyReceived, got.Status)
	require.Equal(t, int64(60), lines[0].ReceivedQty)

	_, err = svc.ReceiveLine(ctx, ReceiveInput{OrderID: order.ID, LineID: lineID, Qty: 40})
	require.NoError(t, err)

	got, _, err = svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, got.Status)

	// Two receipts, two lots, two RECEIPT movements referencing the order.
	require.Len(t, repo.ledger.lots, 2)
	require.Len(t, repo.ledger.movements, 2)
	for _, m := range repo.ledger.movements {
		require.Equal(t, ledger.ReasonReceipt, m.Reason)
		require.Equal(t, "purchasing", m.RefModule)
		require.Equal(t, order.ID, m.RefID)
	}

	require.NoError(t, svc.Close(ctx, order.ID))
	got, _, err = svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClosed, got.Status)
}

func TestReceiveRejectsOverReceipt(t *testing.T) {
	svc, repo := newFixture()
	ctx := context.Background()
	order := draftOrder(t, svc, LineInput{ItemID: 1, Qty: 100})
	require.NoError(t, svc.Submit(ctx, order.ID))
	lineID := repo.lines[order.ID][0].ID

	_, err := svc.ReceiveLine(ctx, ReceiveInput{OrderID: order.ID, LineID: lineID, Qty: 60})
	require.NoError(t, err)

	_, err = svc.ReceiveLine(ctx, ReceiveInput{OrderID: order.ID, LineID: lineID, Qty: 41})
	require.ErrorIs(t, err, shared.ErrOverReceipt)

	// The rejected receipt posted nothing.
	require.Len(t, repo.ledger.lots, 1)
	require.Equal(t, int64(60), repo.lines[order.ID][0].ReceivedQty)
}

func TestReceiveRejectedOutsideOrderedStates(t *testing.T) {
	svc, repo := newFixture()
	ctx := context.Background()
	order := draftOrder(t, svc, LineInput{ItemID: 1, Qty: 10})
	lineID := repo.lines[order.ID][0].ID

	_, err := svc.ReceiveLine(ctx, ReceiveInput{OrderID: order.ID, LineID: lineID, Qty: 5})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestReceiveUpdatesLastCost(t *testing.T) {
	svc, repo := newFixture()
	ctx := context.Background()
	order := draftOrder(t, svc, LineInput{ItemID: 1, Qty: 10, UnitCost: 2.8})
	require.NoError(t, svc.Submit(ctx, order.ID))
	lineID := repo.lines[order.ID][0].ID

	_, err := svc.ReceiveLine(ctx, ReceiveInput{OrderID: order.ID, LineID: lineID, Qty: 10, UnitCost: 3.1})
	require.NoError(t, err)
	require.Equal(t, 3.1, repo.itemCosts[1])
	require.Equal(t, 3.1, repo.ledger.lots[0].UnitCost)
}

func TestCancelRules(t *testing.T) {
	svc, repo := newFixture()
	ctx := context.Background()

	// DRAFT cancels freely.
	order := draftOrder(t, svc, LineInput{ItemID: 1, Qty: 10})
	require.NoError(t, svc.Cancel(ctx, order.ID))

	// ORDERED with zero received cancels.
	order = draftOrder(t, svc, LineInput{ItemID: 1, Qty: 10})
	require.NoError(t, svc.Submit(ctx, order.ID))
	require.NoError(t, svc.Cancel(ctx, order.ID))

	// Any received quantity blocks cancellation.
	order = draftOrder(t, svc, LineInput{ItemID: 1, Qty: 10})
	require.NoError(t, svc.Submit(ctx, order.ID))
	lineID := repo.lines[order.ID][0].ID
	_, err := svc.ReceiveLine(ctx, ReceiveInput{OrderID: order.ID, LineID: lineID, Qty: 4})
	require.NoError(t, err)
	require.ErrorIs(t, svc.Cancel(ctx, order.ID), shared.ErrInvalidState)
}

func TestTransitionTableRejections(t *testing.T) {
	svc, _ := newFixture()
	ctx := context.Background()

	order := draftOrder(t, svc, LineInput{ItemID: 1, Qty: 10})
	// DRAFT cannot close.
	require.ErrorIs(t, svc.Close(ctx, order.ID), shared.ErrInvalidState)

	require.NoError(t, svc.Submit(ctx, order.ID))
	// ORDERED cannot close or re-submit.
	require.ErrorIs(t, svc.Close(ctx, order.ID), shared.ErrInvalidState)
	require.ErrorIs(t, svc.Submit(ctx, order.ID), shared.ErrInvalidState)

	require.NoError(t, svc.Cancel(ctx, order.ID))
	// CANCELLED is terminal.
	require.ErrorIs(t, svc.Submit(ctx, order.ID), shared.ErrInvalidState)
	require.ErrorIs(t, svc.Cancel(ctx, order.ID), shared.ErrInvalidState)
}

// staleOrderRepo serves pool-level reads from a frozen snapshot while the
// transaction sees live state, standing in for a concurrent writer landing
// between a plain read and the mutation.
type staleOrderRepo struct {
	*memoryOrderRepo
	order PurchaseOrder
	lines []OrderLine
}

func (r *staleOrderRepo) GetOrder(_ context.Context, _ int64) (PurchaseOrder, []OrderLine, error) {
	return r.order, append([]OrderLine(nil), r.lines...), nil
}

func TestTransitionsDecideOnTransactionalState(t *testing.T) {
	svc, repo := newFixture()
	ctx := context.Background()

	order := draftOrder(t, svc, LineInput{ItemID: 1, Qty: 10})
	require.NoError(t, svc.Submit(ctx, order.ID))
	lineID := repo.lines[order.ID][0].ID
	_, err := svc.ReceiveLine(ctx, ReceiveInput{OrderID: order.ID, LineID: lineID, Qty: 4})
	require.NoError(t, err)

	// Pool reads claim the order is still ORDERED with nothing received.
	// The locked row says otherwise, so cancellation must be refused.
	stale := &staleOrderRepo{
		memoryOrderRepo: repo,
		order:           PurchaseOrder{ID: order.ID, SupplierID: 10, Status: StatusOrdered},
		lines:           []OrderLine{{ID: lineID, OrderID: order.ID, ItemID: 1, OrderedQty: 10}},
	}
	staleSvc := NewService(stale, newFakeCatalog(), nil, nil, nil)
	require.ErrorIs(t, staleSvc.Cancel(ctx, order.ID), shared.ErrInvalidState)
	require.Equal(t, StatusPartiallyReceived, repo.orders[order.ID].Status)

	// Same for submit: a stale DRAFT snapshot must not revive an order
	// that was cancelled underneath it.
	cancelled := draftOrder(t, svc, LineInput{ItemID: 1, Qty: 5})
	require.NoError(t, svc.Cancel(ctx, cancelled.ID))
	stale.order = PurchaseOrder{ID: cancelled.ID, SupplierID: 10, Status: StatusDraft}
	stale.lines = repo.lines[cancelled.ID]
	require.ErrorIs(t, staleSvc.Submit(ctx, cancelled.ID), shared.ErrInvalidState)
	require.Equal(t, StatusCancelled, repo.orders[cancelled.ID].Status)
}

func TestReplaceDraftLinesOnlyInDraft(t *testing.T) {
	svc, repo := newFixture()
	ctx := context.Background()
	order := draftOrder(t, svc, LineInput{ItemID: 1, Qty: 10})

	require.NoError(t, svc.ReplaceDraftLines(ctx, order.ID, []LineInput{
		{ItemID: 1, Qty: 20, UnitCost: 2.9},
		{ItemID: 2, Qty: 50},
	}))
	require.Len(t, repo.lines[order.ID], 2)
	// Zero cost falls back to the catalog's reference cost.
	require.Equal(t, 0.5, repo.lines[order.ID][1].UnitCost)

	require.NoError(t, svc.Submit(ctx, order.ID))
	err := svc.ReplaceDraftLines(ctx, order.ID, []LineInput{{ItemID: 1, Qty: 5}})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}
