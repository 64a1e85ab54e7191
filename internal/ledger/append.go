package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// Store is the transactional surface of the ledger. Repositories of other
// modules bind a Store to their own transaction so a receipt or sale commits
// its lot updates, movements and workflow state in a single transaction.
type Store interface {
	InsertLot(ctx context.Context, lot StockLot) (int64, error)
	SellableLotsForUpdate(ctx context.Context, itemID int64) ([]StockLot, error)
	GetLotForUpdate(ctx context.Context, lotID int64) (StockLot, error)
	SetLotSellable(ctx context.Context, lotID int64, sellable bool) error
	TakeFromLot(ctx context.Context, lotID, qty int64) error
	InsertMovement(ctx context.Context, m StockMovement) (int64, error)
	AvailableQty(ctx context.Context, itemID int64) (int64, error)
	SaleConsumption(ctx context.Context, saleID, itemID int64) (Consumption, error)
}

// Consumption summarises what a sale took from the ledger for one item.
type Consumption struct {
	Qty         int64
	AvgUnitCost float64
}

// ReceiptInput describes stock entering the ledger from a purchase order line.
type ReceiptInput struct {
	ItemID   int64
	Qty      int64
	UnitCost float64
	Expiry   *time.Time
	OrderID  int64
	Actor    string
}

// OutflowInput describes stock leaving the ledger (sale, issue, negative
// adjustment).
type OutflowInput struct {
	ItemID    int64
	Qty       int64
	Reason    MovementReason
	RefModule string
	RefID     int64
	Actor     string
}

// ReturnInput describes returned stock re-entering the ledger as a new lot.
type ReturnInput struct {
	SaleID   int64
	ItemID   int64
	Qty      int64
	UnitCost float64
	ReturnID int64
	Sellable bool
	Actor    string
}

// AdjustmentInput describes a manual correction. Positive deltas create a new
// lot; negative deltas consume lots earliest-expiry-first.
type AdjustmentInput struct {
	ItemID   int64
	Delta    int64
	UnitCost float64
	Actor    string
}

// AppendReceipt creates exactly one new lot and its RECEIPT movement.
func AppendReceipt(ctx context.Context, s Store, in ReceiptInput) (StockLot, error) {
	if in.ItemID == 0 || in.OrderID == 0 {
		return StockLot{}, fmt.Errorf("ledger: receipt requires item and order: %w", shared.ErrValidation)
	}
	if in.Qty <= 0 {
		return StockLot{}, fmt.Errorf("ledger: receipt quantity must be positive: %w", shared.ErrValidation)
	}
	if in.UnitCost < 0 {
		return StockLot{}, fmt.Errorf("ledger: unit cost must be >= 0: %w", shared.ErrValidation)
	}

	lot := StockLot{
		ItemID:     in.ItemID,
		Qty:        in.Qty,
		UnitCost:   in.UnitCost,
		Expiry:     in.Expiry,
		ReceivedAt: time.Now().UTC(),
		OrderID:    in.OrderID,
		Sellable:   true,
	}
	lotID, err := s.InsertLot(ctx, lot)
	if err != nil {
		return StockLot{}, err
	}
	lot.ID = lotID

	m := StockMovement{
		ItemID:     in.ItemID,
		LotID:      lotID,
		Delta:      in.Qty,
		UnitCost:   in.UnitCost,
		Reason:     ReasonReceipt,
		Actor:      in.Actor,
		RefModule:  "purchasing",
		RefID:      in.OrderID,
		OccurredAt: lot.ReceivedAt,
	}
	if err := validateMovement(m); err != nil {
		return StockLot{}, err
	}
	if _, err := s.InsertMovement(ctx, m); err != nil {
		return StockLot{}, err
	}
	return lot, nil
}

// AppendOutflow allocates qty units earliest-expiry-first, decrements the
// chosen lots and writes one movement per (lot, allocation). The caller's
// transaction makes the plan-and-take sequence atomic.
func AppendOutflow(ctx context.Context, s Store, in OutflowInput) ([]Allocation, error) {
	if in.ItemID == 0 {
		return nil, fmt.Errorf("ledger: outflow requires item: %w", shared.ErrValidation)
	}
	if in.Qty <= 0 {
		return nil, fmt.Errorf("ledger: outflow quantity must be positive: %w", shared.ErrValidation)
	}
	switch in.Reason {
	case ReasonSale, ReasonIssue, ReasonAdjustment:
	default:
		return nil, fmt.Errorf("ledger: %s is not an outbound reason: %w", in.Reason, shared.ErrValidation)
	}

	lots, err := s.SellableLotsForUpdate(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	allocs, err := Allocate(lots, in.Qty)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, alloc := range allocs {
		if err := s.TakeFromLot(ctx, alloc.Lot.ID, alloc.Qty); err != nil {
			return nil, err
		}
		m := StockMovement{
			ItemID:     in.ItemID,
			LotID:      alloc.Lot.ID,
			Delta:      -alloc.Qty,
			UnitCost:   alloc.Lot.UnitCost,
			Reason:     in.Reason,
			Actor:      in.Actor,
			RefModule:  in.RefModule,
			RefID:      in.RefID,
			OccurredAt: now,
		}
		if err := validateMovement(m); err != nil {
			return nil, err
		}
		if _, err := s.InsertMovement(ctx, m); err != nil {
			return nil, err
		}
	}
	return allocs, nil
}

// AppendReturn creates a fresh lot for returned stock, seeded at the original
// sale's cost basis. Whether the lot is sellable is the caller's policy.
func AppendReturn(ctx context.Context, s Store, in ReturnInput) (StockLot, error) {
	if in.ItemID == 0 || in.SaleID == 0 || in.ReturnID == 0 {
		return StockLot{}, fmt.Errorf("ledger: return requires item, sale and return ids: %w", shared.ErrValidation)
	}
	if in.Qty <= 0 {
		return StockLot{}, fmt.Errorf("ledger: return quantity must be positive: %w", shared.ErrValidation)
	}

	lot := StockLot{
		ItemID:     in.ItemID,
		Qty:        in.Qty,
		UnitCost:   in.UnitCost,
		ReceivedAt: time.Now().UTC(),
		SaleID:     in.SaleID,
		Sellable:   in.Sellable,
	}
	lotID, err := s.InsertLot(ctx, lot)
	if err != nil {
		return StockLot{}, err
	}
	lot.ID = lotID

	m := StockMovement{
		ItemID:     in.ItemID,
		LotID:      lotID,
		Delta:      in.Qty,
		UnitCost:   in.UnitCost,
		Reason:     ReasonReturn,
		Actor:      in.Actor,
		RefModule:  "returns",
		RefID:      in.ReturnID,
		OccurredAt: lot.ReceivedAt,
	}
	if err := validateMovement(m); err != nil {
		return StockLot{}, err
	}
	if _, err := s.InsertMovement(ctx, m); err != nil {
		return StockLot{}, err
	}
	return lot, nil
}

// AppendAdjustment posts a manual correction. A positive delta lands in a new
// lot since existing lots never grow after creation.
func AppendAdjustment(ctx context.Context, s Store, in AdjustmentInput) error {
	if in.ItemID == 0 {
		return fmt.Errorf("ledger: adjustment requires item: %w", shared.ErrValidation)
	}
	if in.Delta == 0 {
		return fmt.Errorf("ledger: adjustment delta must be non zero: %w", shared.ErrValidation)
	}

	if in.Delta < 0 {
		_, err := AppendOutflow(ctx, s, OutflowInput{
			ItemID: in.ItemID,
			Qty:    -in.Delta,
			Reason: ReasonAdjustment,
			Actor:  in.Actor,
		})
		return err
	}

	if in.UnitCost < 0 {
		return fmt.Errorf("ledger: unit cost must be >= 0: %w", shared.ErrValidation)
	}
	now := time.Now().UTC()
	lotID, err := s.InsertLot(ctx, StockLot{
		ItemID:     in.ItemID,
		Qty:        in.Delta,
		UnitCost:   in.UnitCost,
		ReceivedAt: now,
		Sellable:   true,
	})
	if err != nil {
		return err
	}
	m := StockMovement{
		ItemID:     in.ItemID,
		LotID:      lotID,
		Delta:      in.Delta,
		UnitCost:   in.UnitCost,
		Reason:     ReasonAdjustment,
		Actor:      in.Actor,
		OccurredAt: now,
	}
	if err := validateMovement(m); err != nil {
		return err
	}
	_, err = s.InsertMovement(ctx, m)
	return err
}

// ReleaseLot flips a quarantined lot back into the sellable pool after
// inspection. On-hand does not change, so no movement is written; from here
// on the lot participates in earliest-expiry-first allocation like any
// other, which is also the path for writing off spoiled returned stock
// (release, then post an issue or negative adjustment).
func ReleaseLot(ctx context.Context, s Store, lotID int64) (StockLot, error) {
	if lotID == 0 {
		return StockLot{}, fmt.Errorf("ledger: release requires lot: %w", shared.ErrValidation)
	}
	lot, err := s.GetLotForUpdate(ctx, lotID)
	if err != nil {
		return StockLot{}, err
	}
	if lot.Sellable {
		return StockLot{}, fmt.Errorf("ledger: lot %d is not quarantined: %w", lotID, shared.ErrInvalidState)
	}
	if err := s.SetLotSellable(ctx, lotID, true); err != nil {
		return StockLot{}, err
	}
	lot.Sellable = true
	return lot, nil
}
