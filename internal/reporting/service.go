package reporting

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-ims/meridian-ims/internal/shared"
)

// RepositoryPort abstracts the snapshot reads. Implementations must not
// mutate anything; reports are read-only by contract.
type RepositoryPort interface {
	NearExpiry(ctx context.Context, horizon time.Time) ([]NearExpiryRow, error)
	BelowReorderThreshold(ctx context.Context) ([]ReorderRow, error)
	SupplierPerformance(ctx context.Context) ([]SupplierPerformanceRow, error)
}

// Service computes the expiry, reorder and supplier reports.
type Service struct {
	repo          RepositoryPort
	defaultWindow int
}

// NewService builds Service. defaultWindow is the near-expiry horizon in days
// used when the caller passes no window.
func NewService(repo RepositoryPort, defaultWindow int) *Service {
	if defaultWindow <= 0 {
		defaultWindow = 30
	}
	return &Service{repo: repo, defaultWindow: defaultWindow}
}

// NearExpiry lists lots with stock expiring within windowDays.
func (s *Service) NearExpiry(ctx context.Context, windowDays int) ([]NearExpiryRow, error) {
	if windowDays == 0 {
		windowDays = s.defaultWindow
	}
	if windowDays < 0 {
		return nil, fmt.Errorf("reporting: window must be positive: %w", shared.ErrValidation)
	}
	horizon := time.Now().UTC().AddDate(0, 0, windowDays)
	return s.repo.NearExpiry(ctx, horizon)
}

// BelowReorderThreshold lists items whose on-hand quantity has dropped below
// their threshold.
func (s *Service) BelowReorderThreshold(ctx context.Context) ([]ReorderRow, error) {
	return s.repo.BelowReorderThreshold(ctx)
}

// SupplierPerformance summarises on-time vs late deliveries and ordered vs
// received quantities per supplier.
func (s *Service) SupplierPerformance(ctx context.Context) ([]SupplierPerformanceRow, error) {
	return s.repo.SupplierPerformance(ctx)
}

// StockHealth runs the expiry and reorder reports concurrently and bundles
// them into one snapshot.
func (s *Service) StockHealth(ctx context.Context, windowDays int) (StockHealth, error) {
	if windowDays == 0 {
		windowDays = s.defaultWindow
	}
	if windowDays < 0 {
		return StockHealth{}, fmt.Errorf("reporting: window must be positive: %w", shared.ErrValidation)
	}

	health := StockHealth{
		GeneratedAt: time.Now().UTC(),
		WindowDays:  windowDays,
	}
	horizon := health.GeneratedAt.AddDate(0, 0, windowDays)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.repo.NearExpiry(ctx, horizon)
		if err != nil {
			return err
		}
		health.NearExpiry = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.repo.BelowReorderThreshold(ctx)
		if err != nil {
			return err
		}
		health.BelowThreshold = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return StockHealth{}, err
	}
	return health, nil
}
