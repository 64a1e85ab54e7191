package purchasing

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
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderLine, error)
	ListOrders(ctx context.Context, status Status) ([]PurchaseOrder, error)
}

// CatalogPort exposes the master data the workflow validates against.
type CatalogPort interface {
	GetItem(ctx context.Context, id int64) (catalog.Item, error)
	GetSupplier(ctx context.Context, id int64) (catalog.Supplier, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo        RepositoryPort
	catalog     CatalogPort
	audit       AuditPort
	metrics     ledger.MetricsPort
	idempotency *shared.IdempotencyStore
}

// NewService constructs purchasing service.
func NewService(repo RepositoryPort, cat CatalogPort, audit AuditPort, metrics ledger.MetricsPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, catalog: cat, audit: audit, metrics: metrics, idempotency: idem}
}

// LineInput describes one draft line.
type LineInput struct {
	ItemID   int64
	Qty      int64
	UnitCost float64
}

// CreateOrderInput describes a new draft order.
type CreateOrderInput struct {
	SupplierID int64
	ExpectedAt *time.Time
	Note       string
	Lines      []LineInput
}

// ReceiveInput describes one receipt against an order line. UnitCost zero
// means "use the line's agreed cost"; Expiry nil marks a non-perishable lot.
type ReceiveInput struct {
	OrderID        int64
	LineID         int64
	Qty            int64
	UnitCost       float64
	Expiry         *time.Time
	IdempotencyKey string
}

// CreateOrder persists a DRAFT order with its initial lines.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (PurchaseOrder, error) {
	if input.SupplierID == 0 {
		return PurchaseOrder{}, fmt.Errorf("purchasing: supplier required: %w", shared.ErrValidation)
	}
	if _, err := s.catalog.GetSupplier(ctx, input.SupplierID); err != nil {
		return PurchaseOrder{}, err
	}
	lines, err := s.checkLines(ctx, input.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}

	now := time.Now().UTC()
	order := PurchaseOrder{
		Number:     generateNumber("PO"),
		SupplierID: input.SupplierID,
		Status:     StatusDraft,
		ExpectedAt: input.ExpectedAt,
		Note:       input.Note,
		CreatedBy:  shared.ActorFromContext(ctx),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orderID, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = orderID
		for i := range lines {
			lines[i].OrderID = orderID
			if err := tx.InsertLine(ctx, lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "purchasing:order_created", order.ID, map[string]any{"number": order.Number})
	return order, nil
}

// ReplaceDraftLines swaps the full line set of a DRAFT order. The status
// check shares the transaction with the rewrite so a concurrent submit
// cannot slip between them.
func (s *Service) ReplaceDraftLines(ctx context.Context, orderID int64, inputs []LineInput) error {
	lines, err := s.checkLines(ctx, inputs)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, _, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != StatusDraft {
			return fmt.Errorf("purchasing: lines are editable only in %s: %w", StatusDraft, shared.ErrInvalidState)
		}
		if err := tx.DeleteLines(ctx, orderID); err != nil {
			return err
		}
		for i := range lines {
			lines[i].OrderID = orderID
			if err := tx.InsertLine(ctx, lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "purchasing:lines_replaced", orderID, map[string]any{"lines": len(lines)})
	return nil
}

// Submit moves DRAFT → ORDERED. An order without lines cannot be submitted.
// Like every transition, the state it validates is the locked row it writes.
func (s *Service) Submit(ctx context.Context, orderID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, lines, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(order.Status, StatusOrdered) {
			return fmt.Errorf("purchasing: %s → %s not allowed: %w", order.Status, StatusOrdered, shared.ErrInvalidState)
		}
		if len(lines) == 0 {
			return fmt.Errorf("purchasing: order has no lines: %w", shared.ErrValidation)
		}
		return tx.UpdateStatus(ctx, orderID, StatusOrdered)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "purchasing:order_submitted", orderID, nil)
	return nil
}

// Cancel moves DRAFT or ORDERED to CANCELLED. An ORDERED order with any
// received quantity can no longer be cancelled; the remainder is handled by
// receiving what arrives and closing.
func (s *Service) Cancel(ctx context.Context, orderID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, lines, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(order.Status, StatusCancelled) {
			return fmt.Errorf("purchasing: %s → %s not allowed: %w", order.Status, StatusCancelled, shared.ErrInvalidState)
		}
		for _, line := range lines {
			if line.ReceivedQty > 0 {
				return fmt.Errorf("purchasing: order %d has received stock: %w", orderID, shared.ErrInvalidState)
			}
		}
		return tx.UpdateStatus(ctx, orderID, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "purchasing:order_cancelled", orderID, nil)
	return nil
}

// ReceiveLine books arrived stock against one order line: the new lot, its
// RECEIPT movement, the line's cumulative counter, the item's last cost and
// the order status recompute all commit in a single transaction.
func (s *Service) ReceiveLine(ctx context.Context, input ReceiveInput) (ledger.StockLot, error) {
	if input.Qty <= 0 {
		return ledger.StockLot{}, fmt.Errorf("purchasing: receipt quantity must be positive: %w", shared.ErrValidation)
	}
	if input.UnitCost < 0 {
		return ledger.StockLot{}, fmt.Errorf("purchasing: unit cost must be >= 0: %w", shared.ErrValidation)
	}

	inserted := false
	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "purchasing.receipt"); err != nil {
			return ledger.StockLot{}, err
		}
		inserted = true
	}

	var lot ledger.StockLot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, lines, err := tx.GetOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if !receivable(order.Status) {
			return fmt.Errorf("purchasing: order %d is %s: %w", order.ID, order.Status, shared.ErrInvalidState)
		}

		var line *OrderLine
		for i := range lines {
			if lines[i].ID == input.LineID {
				line = &lines[i]
				break
			}
		}
		if line == nil {
			return fmt.Errorf("purchasing: line %d on order %d: %w", input.LineID, input.OrderID, shared.ErrNotFound)
		}
		if line.ReceivedQty+input.Qty > line.OrderedQty {
			return fmt.Errorf("purchasing: line %d would exceed ordered %d by %d: %w",
				line.ID, line.OrderedQty, line.ReceivedQty+input.Qty-line.OrderedQty, shared.ErrOverReceipt)
		}

		cost := input.UnitCost
		if cost == 0 {
			cost = line.UnitCost
		}

		lot, err = ledger.AppendReceipt(ctx, tx.Ledger(), ledger.ReceiptInput{
			ItemID:   line.ItemID,
			Qty:      input.Qty,
			UnitCost: cost,
			Expiry:   input.Expiry,
			OrderID:  order.ID,
			Actor:    shared.ActorFromContext(ctx),
		})
		if err != nil {
			return err
		}
		if err := tx.AddReceivedQty(ctx, line.ID, input.Qty); err != nil {
			return err
		}
		// Last-cost policy: the most recent receipt price becomes the
		// item's reference cost. Existing lots keep their own basis.
		if err := tx.UpdateItemUnitCost(ctx, line.ItemID, cost); err != nil {
			return err
		}

		line.ReceivedQty += input.Qty
		next := StatusPartiallyReceived
		if allReceived(lines) {
			next = StatusReceived
		}
		if next != order.Status {
			return tx.UpdateStatus(ctx, order.ID, next)
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return ledger.StockLot{}, err
	}
	if s.metrics != nil {
		s.metrics.ObserveMovement(ledger.ReasonReceipt, input.Qty)
	}
	s.recordAudit(ctx, "purchasing:line_received", input.OrderID, map[string]any{
		"line": input.LineID, "qty": input.Qty, "lot": lot.ID,
	})
	return lot, nil
}

// Close moves RECEIVED → CLOSED.
func (s *Service) Close(ctx context.Context, orderID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, _, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(order.Status, StatusClosed) {
			return fmt.Errorf("purchasing: %s → %s not allowed: %w", order.Status, StatusClosed, shared.ErrInvalidState)
		}
		return tx.UpdateStatus(ctx, orderID, StatusClosed)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "purchasing:order_closed", orderID, nil)
	return nil
}

// Get returns the order with its lines.
func (s *Service) Get(ctx context.Context, orderID int64) (PurchaseOrder, []OrderLine, error) {
	if orderID <= 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("purchasing: order id required: %w", shared.ErrValidation)
	}
	return s.repo.GetOrder(ctx, orderID)
}

// List returns order headers, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status) ([]PurchaseOrder, error) {
	if status != "" {
		if _, ok := transitions[status]; !ok {
			return nil, fmt.Errorf("purchasing: unknown status %q: %w", status, shared.ErrValidation)
		}
	}
	return s.repo.ListOrders(ctx, status)
}

func (s *Service) checkLines(ctx context.Context, inputs []LineInput) ([]OrderLine, error) {
	lines := make([]OrderLine, 0, len(inputs))
	for _, in := range inputs {
		if in.ItemID == 0 || in.Qty <= 0 {
			return nil, fmt.Errorf("purchasing: line requires item and positive qty: %w", shared.ErrValidation)
		}
		if in.UnitCost < 0 {
			return nil, fmt.Errorf("purchasing: line unit cost must be >= 0: %w", shared.ErrValidation)
		}
		item, err := s.catalog.GetItem(ctx, in.ItemID)
		if err != nil {
			return nil, err
		}
		if item.Disabled {
			return nil, fmt.Errorf("purchasing: item %d is disabled: %w", in.ItemID, shared.ErrValidation)
		}
		cost := in.UnitCost
		if cost == 0 {
			cost = item.UnitCost
		}
		lines = append(lines, OrderLine{ItemID: in.ItemID, OrderedQty: in.Qty, UnitCost: cost})
	}
	return lines, nil
}

func allReceived(lines []OrderLine) bool {
	for _, line := range lines {
		if !line.FullyReceived() {
			return false
		}
	}
	return len(lines) > 0
}

func (s *Service) recordAudit(ctx context.Context, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
	})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8]))
}
