package selling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian-ims/internal/catalog"
	"github.com/meridian-ims/meridian-ims/internal/ledger"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// ledgerFake implements ledger.Store over slices so the real allocation and
// append logic runs against it.
type ledgerFake struct {
	nextID    int64
	lots      []ledger.StockLot
	movements []ledger.StockMovement
}

func (f *ledgerFake) InsertLot(_ context.Context, lot ledger.StockLot) (int64, error) {
	f.nextID++
	lot.ID = f.nextID
	f.lots = append(f.lots, lot)
	return lot.ID, nil
}

func (f *ledgerFake) SellableLotsForUpdate(_ context.Context, itemID int64) ([]ledger.StockLot, error) {
	var out []ledger.StockLot
	for _, lot := range f.lots {
		if lot.ItemID == itemID && lot.Sellable && lot.Qty > 0 {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (f *ledgerFake) GetLotForUpdate(_ context.Context, lotID int64) (ledger.StockLot, error) {
	for _, lot := range f.lots {
		if lot.ID == lotID {
			return lot, nil
		}
	}
	return ledger.StockLot{}, shared.ErrNotFound
}

func (f *ledgerFake) SetLotSellable(_ context.Context, lotID int64, sellable bool) error {
	for i := range f.lots {
		if f.lots[i].ID == lotID {
			f.lots[i].Sellable = sellable
			return nil
		}
	}
	return shared.ErrNotFound
}

func (f *ledgerFake) TakeFromLot(_ context.Context, lotID, qty int64) error {
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

func (f *ledgerFake) InsertMovement(_ context.Context, m ledger.StockMovement) (int64, error) {
	f.nextID++
	m.ID = f.nextID
	f.movements = append(f.movements, m)
	return m.ID, nil
}

func (f *ledgerFake) AvailableQty(_ context.Context, itemID int64) (int64, error) {
	var qty int64
	for _, lot := range f.lots {
		if lot.ItemID == itemID && lot.Sellable {
			qty += lot.Qty
		}
	}
	return qty, nil
}

func (f *ledgerFake) SaleConsumption(_ context.Context, saleID, itemID int64) (ledger.Consumption, error) {
	var c ledger.Consumption
	var cost float64
	for _, m := range f.movements {
		if m.Reason == ledger.ReasonSale && m.RefModule == "selling" && m.RefID == saleID && m.ItemID == itemID {
			c.Qty += -m.Delta
			cost += float64(-m.Delta) * m.UnitCost
		}
	}
	if c.Qty > 0 {
		c.AvgUnitCost = cost / float64(c.Qty)
	}
	return c, nil
}

func (f *ledgerFake) Available(ctx context.Context, itemID int64) (int64, error) {
	return f.AvailableQty(ctx, itemID)
}

func (f *ledgerFake) onHand(itemID int64) int64 {
	var qty int64
	for _, m := range f.movements {
		if m.ItemID == itemID {
			qty += m.Delta
		}
	}
	return qty
}

func (f *ledgerFake) seedLot(itemID, qty int64, cost float64, expiry *time.Time) int64 {
	f.nextID++
	lot := ledger.StockLot{
		ID: f.nextID, ItemID: itemID, Qty: qty, UnitCost: cost,
		Expiry: expiry, ReceivedAt: time.Now().UTC(), Sellable: true,
	}
	f.lots = append(f.lots, lot)
	f.nextID++
	f.movements = append(f.movements, ledger.StockMovement{
		ID: f.nextID, ItemID: itemID, LotID: lot.ID, Delta: qty, UnitCost: cost,
		Reason: ledger.ReasonReceipt, Actor: "seed", RefModule: "purchasing", RefID: 1,
	})
	return lot.ID
}

type saleRepo struct {
	nextID  int64
	sales   map[int64]Sale
	lines   map[int64][]SaleLine
	records []ReturnOrIssue
	ledger  *ledgerFake
}

type saleTx struct {
	repo *saleRepo
}

func newSaleRepo() *saleRepo {
	return &saleRepo{sales: map[int64]Sale{}, lines: map[int64][]SaleLine{}, ledger: &ledgerFake{}}
}

func (r *saleRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &saleTx{repo: r})
}

func (r *saleRepo) GetSale(_ context.Context, id int64) (Sale, []SaleLine, error) {
	sale, ok := r.sales[id]
	if !ok {
		return Sale{}, nil, shared.ErrNotFound
	}
	return sale, append([]SaleLine(nil), r.lines[id]...), nil
}

func (r *saleRepo) ListSales(_ context.Context, status SaleStatus) ([]Sale, error) {
	var out []Sale
	for _, sale := range r.sales {
		if status == "" || sale.Status == status {
			out = append(out, sale)
		}
	}
	return out, nil
}

func (tx *saleTx) next() int64 {
	tx.repo.nextID++
	return tx.repo.nextID
}

func (tx *saleTx) CreateSale(_ context.Context, sale Sale) (int64, error) {
	id := tx.next()
	sale.ID = id
	tx.repo.sales[id] = sale
	return id, nil
}

func (tx *saleTx) InsertLine(_ context.Context, line SaleLine) (int64, error) {
	line.ID = tx.next()
	tx.repo.lines[line.SaleID] = append(tx.repo.lines[line.SaleID], line)
	return line.ID, nil
}

func (tx *saleTx) DeleteLine(_ context.Context, saleID, lineID int64) error {
	lines := tx.repo.lines[saleID]
	for i := range lines {
		if lines[i].ID == lineID {
			tx.repo.lines[saleID] = append(lines[:i], lines[i+1:]...)
			return nil
		}
	}
	return shared.ErrNotFound
}

func (tx *saleTx) GetSaleForUpdate(ctx context.Context, id int64) (Sale, []SaleLine, error) {
	return tx.repo.GetSale(ctx, id)
}

func (tx *saleTx) UpdateStatus(_ context.Context, id int64, status SaleStatus) error {
	sale, ok := tx.repo.sales[id]
	if !ok {
		return shared.ErrNotFound
	}
	sale.Status = status
	tx.repo.sales[id] = sale
	return nil
}

func (tx *saleTx) CompleteSale(_ context.Context, id int64, total float64, at time.Time) error {
	sale, ok := tx.repo.sales[id]
	if !ok {
		return shared.ErrNotFound
	}
	sale.Status = SaleStatusCompleted
	sale.Total = total
	sale.CompletedAt = &at
	tx.repo.sales[id] = sale
	return nil
}

func (tx *saleTx) ReturnedQty(_ context.Context, saleID, itemID int64) (int64, error) {
	var qty int64
	for _, rec := range tx.repo.records {
		if rec.Kind == KindReturn && rec.SaleID == saleID && rec.ItemID == itemID {
			qty += rec.Qty
		}
	}
	return qty, nil
}

func (tx *saleTx) InsertRecord(_ context.Context, rec ReturnOrIssue) (int64, error) {
	rec.ID = tx.next()
	tx.repo.records = append(tx.repo.records, rec)
	return rec.ID, nil
}

func (tx *saleTx) Ledger() ledger.Store {
	return tx.repo.ledger
}

type itemCatalog map[int64]catalog.Item

func (c itemCatalog) GetItem(_ context.Context, id int64) (catalog.Item, error) {
	item, ok := c[id]
	if !ok {
		return catalog.Item{}, shared.ErrNotFound
	}
	return item, nil
}

func newSaleFixture(policy Policy) (*Service, *saleRepo) {
	repo := newSaleRepo()
	cat := itemCatalog{
		1: {ID: 1, Name: "Insulin pen", Unit: "pc", Price: 12.5},
		2: {ID: 2, Name: "Bandage", Unit: "pc", Price: 1.0},
	}
	return NewService(repo, cat, repo.ledger, nil, nil, nil, policy), repo
}

func openSaleWithLine(t *testing.T, svc *Service, itemID, qty int64) Sale {
	t.Helper()
	sale, err := svc.OpenSale(context.Background(), "")
	require.NoError(t, err)
	_, err = svc.AddLine(context.Background(), sale.ID, itemID, qty)
	require.NoError(t, err)
	return sale
}

func TestCompleteSaleConsumesEarliestExpiryOnly(t *testing.T) {
	svc, repo := newSaleFixture(Policy{})
	ctx := context.Background()
	e1 := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	e2 := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	earlyLot := repo.ledger.seedLot(1, 40, 3, &e1)
	lateLot := repo.ledger.seedLot(1, 50, 3, &e2)

	sale := openSaleWithLine(t, svc, 1, 30)
	completed, err := svc.CompleteSale(ctx, sale.ID, "")
	require.NoError(t, err)
	require.Equal(t, SaleStatusCompleted, completed.Status)
	require.Equal(t, 375.0, completed.Total)

	var early, late ledger.StockLot
	for _, lot := range repo.ledger.lots {
		switch lot.ID {
		case earlyLot:
			early = lot
		case lateLot:
			late = lot
		}
	}
	require.Equal(t, int64(10), early.Qty)
	require.Equal(t, int64(50), late.Qty)
}

func TestCompleteSaleShortfallAborts(t *testing.T) {
	svc, repo := newSaleFixture(Policy{})
	ctx := context.Background()
	repo.ledger.seedLot(1, 100, 3, nil)
	repo.ledger.seedLot(2, 5, 0.4, nil)

	sale, err := svc.OpenSale(ctx, "")
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, sale.ID, 1, 10)
	require.NoError(t, err)
	_, err = svc.AddLine(ctx, sale.ID, 2, 5)
	require.NoError(t, err)

	// Another sale drains item 2 between AddLine and CompleteSale.
	require.NoError(t, repo.ledger.TakeFromLot(ctx, 3, 3))

	_, err = svc.CompleteSale(ctx, sale.ID, "")
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	got, _, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, SaleStatusOpen, got.Status)
}

func TestAddLineChecksAvailability(t *testing.T) {
	svc, repo := newSaleFixture(Policy{})
	ctx := context.Background()
	repo.ledger.seedLot(1, 10, 3, nil)

	sale, err := svc.OpenSale(ctx, "")
	require.NoError(t, err)

	_, err = svc.AddLine(ctx, sale.ID, 1, 11)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// Adding a line reserves nothing.
	_, err = svc.AddLine(ctx, sale.ID, 1, 10)
	require.NoError(t, err)
	available, err := repo.ledger.AvailableQty(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(10), available)
}

// staleSaleRepo serves pool-level reads from a frozen snapshot while the
// transaction sees live state, standing in for a concurrent completion
// landing between a plain read and the line edit.
type staleSaleRepo struct {
	*saleRepo
	sale Sale
}

func (r *staleSaleRepo) GetSale(_ context.Context, _ int64) (Sale, []SaleLine, error) {
	return r.sale, append([]SaleLine(nil), r.saleRepo.lines[r.sale.ID]...), nil
}

func TestLineEditsDecideOnTransactionalState(t *testing.T) {
	svc, repo := newSaleFixture(Policy{})
	ctx := context.Background()
	repo.ledger.seedLot(1, 100, 3, nil)

	sale := openSaleWithLine(t, svc, 1, 5)
	lineID := repo.lines[sale.ID][0].ID
	_, err := svc.CompleteSale(ctx, sale.ID, "")
	require.NoError(t, err)

	// Pool reads still see the sale as OPEN; the locked row is COMPLETED,
	// so neither edit may slip in.
	stale := &staleSaleRepo{saleRepo: repo, sale: Sale{ID: sale.ID, Status: SaleStatusOpen}}
	cat := itemCatalog{1: {ID: 1, Name: "Insulin pen", Unit: "pc", Price: 12.5}}
	staleSvc := NewService(stale, cat, repo.ledger, nil, nil, nil, Policy{})

	_, err = staleSvc.AddLine(ctx, sale.ID, 1, 2)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.ErrorIs(t, staleSvc.RemoveLine(ctx, sale.ID, lineID), shared.ErrInvalidState)
	require.Len(t, repo.lines[sale.ID], 1)
}

func TestVoidRules(t *testing.T) {
	svc, repo := newSaleFixture(Policy{})
	ctx := context.Background()
	repo.ledger.seedLot(1, 100, 3, nil)

	sale := openSaleWithLine(t, svc, 1, 5)
	require.NoError(t, svc.VoidSale(ctx, sale.ID))
	// Voiding leaves the ledger untouched.
	require.Equal(t, int64(100), repo.ledger.onHand(1))

	// VOIDED cannot complete or re-void.
	_, err := svc.CompleteSale(ctx, sale.ID, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.ErrorIs(t, svc.VoidSale(ctx, sale.ID), shared.ErrInvalidState)

	sale = openSaleWithLine(t, svc, 1, 5)
	_, err = svc.CompleteSale(ctx, sale.ID, "")
	require.NoError(t, err)
	// COMPLETED cannot be voided.
	require.ErrorIs(t, svc.VoidSale(ctx, sale.ID), shared.ErrInvalidState)
}

func TestSellThenReturnRestoresOnHand(t *testing.T) {
	svc, repo := newSaleFixture(Policy{ReturnsSellable: true})
	ctx := context.Background()
	repo.ledger.seedLot(1, 100, 3, nil)

	sale := openSaleWithLine(t, svc, 1, 70)
	_, err := svc.CompleteSale(ctx, sale.ID, "")
	require.NoError(t, err)
	require.Equal(t, int64(30), repo.ledger.onHand(1))

	record, err := svc.RecordReturn(ctx, ReturnInput{SaleID: sale.ID, ItemID: 1, Qty: 10, Reason: "unopened"})
	require.NoError(t, err)
	require.Equal(t, KindReturn, record.Kind)
	require.Equal(t, int64(40), repo.ledger.onHand(1))

	// The returned stock came back as a new sellable lot at sale cost.
	last := repo.ledger.lots[len(repo.ledger.lots)-1]
	require.Equal(t, int64(10), last.Qty)
	require.Equal(t, 3.0, last.UnitCost)
	require.True(t, last.Sellable)
}

func TestReturnQuarantinedByDefault(t *testing.T) {
	svc, repo := newSaleFixture(Policy{ReturnsSellable: false})
	ctx := context.Background()
	repo.ledger.seedLot(1, 50, 3, nil)

	sale := openSaleWithLine(t, svc, 1, 20)
	_, err := svc.CompleteSale(ctx, sale.ID, "")
	require.NoError(t, err)

	_, err = svc.RecordReturn(ctx, ReturnInput{SaleID: sale.ID, ItemID: 1, Qty: 5})
	require.NoError(t, err)

	// On-hand counts the quarantined lot, available does not.
	require.Equal(t, int64(35), repo.ledger.onHand(1))
	available, err := repo.ledger.AvailableQty(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(30), available)
}

func TestReturnCappedBySoldQty(t *testing.T) {
	svc, repo := newSaleFixture(Policy{})
	ctx := context.Background()
	repo.ledger.seedLot(1, 50, 3, nil)

	sale := openSaleWithLine(t, svc, 1, 20)
	_, err := svc.CompleteSale(ctx, sale.ID, "")
	require.NoError(t, err)

	_, err = svc.RecordReturn(ctx, ReturnInput{SaleID: sale.ID, ItemID: 1, Qty: 21})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordReturn(ctx, ReturnInput{SaleID: sale.ID, ItemID: 1, Qty: 15})
	require.NoError(t, err)
	// Cumulative cap: 15 already back, only 5 remain.
	_, err = svc.RecordReturn(ctx, ReturnInput{SaleID: sale.ID, ItemID: 1, Qty: 6})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReturnNeedsCompletedSale(t *testing.T) {
	svc, repo := newSaleFixture(Policy{})
	ctx := context.Background()
	repo.ledger.seedLot(1, 50, 3, nil)

	sale := openSaleWithLine(t, svc, 1, 20)
	_, err := svc.RecordReturn(ctx, ReturnInput{SaleID: sale.ID, ItemID: 1, Qty: 5})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRecordIssueWritesOff(t *testing.T) {
	svc, repo := newSaleFixture(Policy{})
	ctx := context.Background()
	e1 := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	repo.ledger.seedLot(1, 10, 3, &e1)
	repo.ledger.seedLot(1, 10, 3, nil)

	record, err := svc.RecordIssue(ctx, IssueInput{ItemID: 1, Qty: 12, Reason: "water damage"})
	require.NoError(t, err)
	require.Equal(t, KindIssue, record.Kind)
	require.Equal(t, int64(8), repo.ledger.onHand(1))

	// Expiry-bearing lot drained first.
	require.Equal(t, int64(0), repo.ledger.lots[0].Qty)
	require.Equal(t, int64(8), repo.ledger.lots[1].Qty)

	_, err = svc.RecordIssue(ctx, IssueInput{ItemID: 1, Qty: 9, Reason: "recount"})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	_, err = svc.RecordIssue(ctx, IssueInput{ItemID: 1, Qty: 1, Reason: "  "})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReceiptFormatsMoney(t *testing.T) {
	svc, repo := newSaleFixture(Policy{})
	ctx := context.Background()
	repo.ledger.seedLot(1, 200, 3, nil)

	sale := openSaleWithLine(t, svc, 1, 100)
	_, err := svc.CompleteSale(ctx, sale.ID, "")
	require.NoError(t, err)

	receipt, err := svc.Receipt(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, receipt.Lines, 1)
	require.Equal(t, "Insulin pen", receipt.Lines[0].Item)
	require.Equal(t, "1,250.00", receipt.Total)
}
