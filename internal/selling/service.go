package selling

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-ims/meridian-ims/internal/catalog"
	"github.com/meridian-ims/meridian-ims/internal/ledger"
	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, id int64) (Sale, []SaleLine, error)
	ListSales(ctx context.Context, status SaleStatus) ([]Sale, error)
}

// CatalogPort exposes item lookups.
type CatalogPort interface {
	GetItem(ctx context.Context, id int64) (catalog.Item, error)
}

// LedgerPort exposes the pool-level availability read used when adding lines.
type LedgerPort interface {
	Available(ctx context.Context, itemID int64) (int64, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Policy carries the workflow's configurable behavior.
type Policy struct {
	// ReturnsSellable controls whether returned stock re-enters the
	// sellable pool immediately or sits quarantined until an adjustment
	// releases it.
	ReturnsSellable bool
}

// Service orchestrates the sale, return and issue flows.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	ledger      LedgerPort
	audit       AuditPort
	metrics     ledger.MetricsPort
	idempotency *shared.IdempotencyStore
	policy      Policy
}

// NewService constructs selling service.
func NewService(repo RepositoryPort, cat CatalogPort, led LedgerPort, audit AuditPort, metrics ledger.MetricsPort, idem *shared.IdempotencyStore, policy Policy) *Service {
	return &Service{repo: repo, catalog: cat, ledger: led, audit: audit, metrics: metrics, idempotency: idem, policy: policy}
}

// OpenSale starts an empty OPEN sale.
func (s *Service) OpenSale(ctx context.Context, customer string) (Sale, error) {
	now := time.Now().UTC()
	sale := Sale{
		Number:    generateNumber("SAL"),
		Status:    SaleStatusOpen,
		Customer:  strings.TrimSpace(customer),
		CreatedBy: shared.ActorFromContext(ctx),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = id
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, "selling:sale_opened", sale.ID, map[string]any{"number": sale.Number})
	return sale, nil
}

// AddLine appends an item to an OPEN sale. Availability is checked to fail
// fast, but nothing is reserved; CompleteSale re-validates under lock. The
// OPEN check happens inside the insert transaction so a concurrent complete
// or void cannot land between the check and the write.
func (s *Service) AddLine(ctx context.Context, saleID, itemID, qty int64) (SaleLine, error) {
	if qty <= 0 {
		return SaleLine{}, fmt.Errorf("selling: quantity must be positive: %w", shared.ErrValidation)
	}
	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return SaleLine{}, err
	}
	if item.Disabled {
		return SaleLine{}, fmt.Errorf("selling: item %d is disabled: %w", itemID, shared.ErrValidation)
	}
	available, err := s.ledger.Available(ctx, itemID)
	if err != nil {
		return SaleLine{}, err
	}
	if available < qty {
		return SaleLine{}, fmt.Errorf("selling: %d available, %d requested: %w", available, qty, shared.ErrInsufficientStock)
	}

	line := SaleLine{SaleID: saleID, ItemID: itemID, Qty: qty, UnitPrice: item.Price}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, _, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != SaleStatusOpen {
			return fmt.Errorf("selling: sale %d is %s: %w", saleID, sale.Status, shared.ErrInvalidState)
		}
		id, err := tx.InsertLine(ctx, line)
		if err != nil {
			return err
		}
		line.ID = id
		return nil
	})
	if err != nil {
		return SaleLine{}, err
	}
	return line, nil
}

// RemoveLine drops a line from an OPEN sale.
func (s *Service) RemoveLine(ctx context.Context, saleID, lineID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, _, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != SaleStatusOpen {
			return fmt.Errorf("selling: sale %d is %s: %w", saleID, sale.Status, shared.ErrInvalidState)
		}
		return tx.DeleteLine(ctx, saleID, lineID)
	})
}

// CompleteSale finalizes an OPEN sale: every line is allocated
// earliest-expiry-first and consumed in one transaction. Any shortfall
// aborts the whole completion; no line commits partially.
func (s *Service) CompleteSale(ctx context.Context, saleID int64, idempotencyKey string) (Sale, error) {
	inserted := false
	if s.idempotency != nil && idempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, "selling.complete"); err != nil {
			return Sale{}, err
		}
		inserted = true
	}

	var sale Sale
	var soldQty int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var lines []SaleLine
		var err error
		sale, lines, err = tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != SaleStatusOpen {
			return fmt.Errorf("selling: sale %d is %s: %w", saleID, sale.Status, shared.ErrInvalidState)
		}
		if len(lines) == 0 {
			return fmt.Errorf("selling: sale %d has no lines: %w", saleID, shared.ErrValidation)
		}

		actor := shared.ActorFromContext(ctx)
		var total float64
		for _, line := range lines {
			_, err := ledger.AppendOutflow(ctx, tx.Ledger(), ledger.OutflowInput{
				ItemID:    line.ItemID,
				Qty:       line.Qty,
				Reason:    ledger.ReasonSale,
				RefModule: "selling",
				RefID:     sale.ID,
				Actor:     actor,
			})
			if err != nil {
				return err
			}
			total += float64(line.Qty) * line.UnitPrice
			soldQty += line.Qty
		}

		now := time.Now().UTC()
		if err := tx.CompleteSale(ctx, sale.ID, total, now); err != nil {
			return err
		}
		sale.Status = SaleStatusCompleted
		sale.Total = total
		sale.CompletedAt = &now
		sale.UpdatedAt = now
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, idempotencyKey)
		}
		return Sale{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveMovement(ledger.ReasonSale, soldQty)
	}
	s.recordAudit(ctx, "selling:sale_completed", sale.ID, map[string]any{"total": sale.Total})
	return sale, nil
}

// VoidSale abandons an OPEN sale. Completed sales are corrected through
// returns, never voided.
func (s *Service) VoidSale(ctx context.Context, saleID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, _, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != SaleStatusOpen {
			return fmt.Errorf("selling: sale %d is %s: %w", saleID, sale.Status, shared.ErrInvalidState)
		}
		return tx.UpdateStatus(ctx, saleID, SaleStatusVoided)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "selling:sale_voided", saleID, nil)
	return nil
}

// ReturnInput describes a customer return against a completed sale.
type ReturnInput struct {
	SaleID int64
	ItemID int64
	Qty    int64
	Reason string
}

// RecordReturn books returned stock from a COMPLETED sale. The cumulative
// returned quantity can never exceed what the sale actually consumed, and
// the new lot is seeded at the sale's average cost basis.
func (s *Service) RecordReturn(ctx context.Context, input ReturnInput) (ReturnOrIssue, error) {
	if input.Qty <= 0 {
		return ReturnOrIssue{}, fmt.Errorf("selling: return quantity must be positive: %w", shared.ErrValidation)
	}

	var record ReturnOrIssue
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, _, err := tx.GetSaleForUpdate(ctx, input.SaleID)
		if err != nil {
			return err
		}
		if sale.Status != SaleStatusCompleted {
			return fmt.Errorf("selling: returns need a %s sale, got %s: %w", SaleStatusCompleted, sale.Status, shared.ErrInvalidState)
		}

		consumed, err := tx.Ledger().SaleConsumption(ctx, input.SaleID, input.ItemID)
		if err != nil {
			return err
		}
		if consumed.Qty == 0 {
			return fmt.Errorf("selling: sale %d never consumed item %d: %w", input.SaleID, input.ItemID, shared.ErrValidation)
		}
		returned, err := tx.ReturnedQty(ctx, input.SaleID, input.ItemID)
		if err != nil {
			return err
		}
		if returned+input.Qty > consumed.Qty {
			return fmt.Errorf("selling: return of %d exceeds sold %d (already returned %d): %w",
				input.Qty, consumed.Qty, returned, shared.ErrValidation)
		}

		actor := shared.ActorFromContext(ctx)
		record = ReturnOrIssue{
			Kind:      KindReturn,
			SaleID:    input.SaleID,
			ItemID:    input.ItemID,
			Qty:       input.Qty,
			Reason:    input.Reason,
			Actor:     actor,
			CreatedAt: time.Now().UTC(),
		}
		recordID, err := tx.InsertRecord(ctx, record)
		if err != nil {
			return err
		}
		record.ID = recordID

		_, err = ledger.AppendReturn(ctx, tx.Ledger(), ledger.ReturnInput{
			SaleID:   input.SaleID,
			ItemID:   input.ItemID,
			Qty:      input.Qty,
			UnitCost: consumed.AvgUnitCost,
			ReturnID: recordID,
			Sellable: s.policy.ReturnsSellable,
			Actor:    actor,
		})
		return err
	})
	if err != nil {
		return ReturnOrIssue{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveMovement(ledger.ReasonReturn, input.Qty)
	}
	s.recordAudit(ctx, "selling:return_recorded", input.SaleID, map[string]any{
		"item": input.ItemID, "qty": input.Qty, "record": record.ID,
	})
	return record, nil
}

// IssueInput describes stock leaving outside any sale: breakage, expiry
// disposal, internal use.
type IssueInput struct {
	ItemID int64
	Qty    int64
	Reason string
}

// RecordIssue writes off stock unconditionally, bounded only by the
// non-negative invariant.
func (s *Service) RecordIssue(ctx context.Context, input IssueInput) (ReturnOrIssue, error) {
	if input.Qty <= 0 {
		return ReturnOrIssue{}, fmt.Errorf("selling: issue quantity must be positive: %w", shared.ErrValidation)
	}
	if strings.TrimSpace(input.Reason) == "" {
		return ReturnOrIssue{}, fmt.Errorf("selling: issue reason required: %w", shared.ErrValidation)
	}
	if _, err := s.catalog.GetItem(ctx, input.ItemID); err != nil {
		return ReturnOrIssue{}, err
	}

	var record ReturnOrIssue
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		actor := shared.ActorFromContext(ctx)
		record = ReturnOrIssue{
			Kind:      KindIssue,
			ItemID:    input.ItemID,
			Qty:       input.Qty,
			Reason:    input.Reason,
			Actor:     actor,
			CreatedAt: time.Now().UTC(),
		}
		recordID, err := tx.InsertRecord(ctx, record)
		if err != nil {
			return err
		}
		record.ID = recordID

		_, err = ledger.AppendOutflow(ctx, tx.Ledger(), ledger.OutflowInput{
			ItemID:    input.ItemID,
			Qty:       input.Qty,
			Reason:    ledger.ReasonIssue,
			RefModule: "issues",
			RefID:     recordID,
			Actor:     actor,
		})
		return err
	})
	if err != nil {
		return ReturnOrIssue{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveMovement(ledger.ReasonIssue, input.Qty)
	}
	s.recordAudit(ctx, "selling:issue_recorded", record.ID, map[string]any{
		"item": input.ItemID, "qty": input.Qty, "reason": input.Reason,
	})
	return record, nil
}

// Get returns the sale with its lines.
func (s *Service) Get(ctx context.Context, saleID int64) (Sale, []SaleLine, error) {
	if saleID <= 0 {
		return Sale{}, nil, fmt.Errorf("selling: sale id required: %w", shared.ErrValidation)
	}
	return s.repo.GetSale(ctx, saleID)
}

// List returns sale headers, optionally filtered by status.
func (s *Service) List(ctx context.Context, status SaleStatus) ([]Sale, error) {
	switch status {
	case "", SaleStatusOpen, SaleStatusCompleted, SaleStatusVoided:
	default:
		return nil, fmt.Errorf("selling: unknown status %q: %w", status, shared.ErrValidation)
	}
	return s.repo.ListSales(ctx, status)
}

func (s *Service) recordAudit(ctx context.Context, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "sale",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8]))
}
