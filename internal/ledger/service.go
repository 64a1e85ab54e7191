package ledger

import (
	"context"
	"fmt"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	OnHand(ctx context.Context, itemID int64) (int64, error)
	Available(ctx context.Context, itemID int64) (int64, error)
	Movements(ctx context.Context, itemID int64, limit int) ([]LedgerEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort lets the service count posted movements.
type MetricsPort interface {
	ObserveMovement(reason MovementReason, qty int64)
}

// Service exposes ledger operations that are not owned by a workflow:
// manual adjustments and the read-only quantity/history queries.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{repo: repo, audit: audit, metrics: metrics}
}

// PostAdjustment posts a manual correction atomically.
func (s *Service) PostAdjustment(ctx context.Context, in AdjustmentInput) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		return AppendAdjustment(ctx, store, in)
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ObserveMovement(ReasonAdjustment, in.Delta)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    in.Actor,
			Action:   "ledger:ADJUSTMENT",
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("item:%d", in.ItemID),
			Meta:     map[string]any{"delta": in.Delta, "unit_cost": in.UnitCost},
		})
	}
	return nil
}

// ReleaseLot makes a quarantined return lot sellable again after inspection.
func (s *Service) ReleaseLot(ctx context.Context, lotID int64) (StockLot, error) {
	var lot StockLot
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		var err error
		lot, err = ReleaseLot(ctx, store, lotID)
		return err
	})
	if err != nil {
		return StockLot{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    shared.ActorFromContext(ctx),
			Action:   "ledger:RELEASE",
			Entity:   "stock_lot",
			EntityID: fmt.Sprintf("%d", lot.ID),
			Meta:     map[string]any{"item_id": lot.ItemID, "qty": lot.Qty},
		})
	}
	return lot, nil
}

// OnHand returns the sum of movement deltas for the item.
func (s *Service) OnHand(ctx context.Context, itemID int64) (int64, error) {
	if itemID == 0 {
		return 0, fmt.Errorf("ledger: item required: %w", shared.ErrValidation)
	}
	return s.repo.OnHand(ctx, itemID)
}

// Available returns the sellable quantity, excluding quarantined return lots.
func (s *Service) Available(ctx context.Context, itemID int64) (int64, error) {
	if itemID == 0 {
		return 0, fmt.Errorf("ledger: item required: %w", shared.ErrValidation)
	}
	return s.repo.Available(ctx, itemID)
}

// Movements lists the item's ledger entries, newest first, with running
// balances.
func (s *Service) Movements(ctx context.Context, itemID int64, limit int) ([]LedgerEntry, error) {
	if itemID == 0 {
		return nil, fmt.Errorf("ledger: item required: %w", shared.ErrValidation)
	}
	if limit <= 0 {
		limit = 100
	}
	return s.repo.Movements(ctx, itemID, limit)
}
