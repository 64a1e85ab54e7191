package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-ims/meridian-ims/internal/observability"
	"github.com/meridian-ims/meridian-ims/internal/reporting"
)

const (
	// TaskExpiryScan triggers the nightly near-expiry sweep.
	TaskExpiryScan = "reports:expiry_scan"
)

// ReportsPort is the slice of the reporting service the scans consume.
type ReportsPort interface {
	NearExpiry(ctx context.Context, windowDays int) ([]reporting.NearExpiryRow, error)
	BelowReorderThreshold(ctx context.Context) ([]reporting.ReorderRow, error)
}

// ExpiryScanPayload carries the scan horizon.
type ExpiryScanPayload struct {
	WindowDays int `json:"window_days"`
}

// NewExpiryScanTask constructs an Asynq task for the near-expiry sweep.
func NewExpiryScanTask(windowDays int) (*asynq.Task, error) {
	body, err := json.Marshal(ExpiryScanPayload{WindowDays: windowDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpiryScan, body, asynq.Queue(QueueDefault)), nil
}

// ExpiryScanJob surfaces lots that will expire inside the window as log
// alerts so the morning shift sees them before opening.
type ExpiryScanJob struct {
	Reports ReportsPort
	Logger  *slog.Logger
	Metrics *observability.Metrics
	clock   func() time.Time
}

// NewExpiryScanJob initialises the expiry scan handler.
func NewExpiryScanJob(reports ReportsPort, logger *slog.Logger, metrics *observability.Metrics) *ExpiryScanJob {
	return &ExpiryScanJob{
		Reports: reports,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the near-expiry scan.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reports == nil {
		return errors.New("expiry scan: handler not configured")
	}
	var payload ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	rows, err := j.Reports.NearExpiry(ctx, payload.WindowDays)
	if err != nil {
		j.Metrics.ObserveJob(TaskExpiryScan, "failure")
		j.logger().Error("expiry scan failed", slog.Any("error", err))
		return err
	}

	for _, row := range rows {
		j.logger().Warn("lot nearing expiry",
			slog.Int64("item_id", row.ItemID),
			slog.String("item", row.ItemName),
			slog.Int64("lot_id", row.LotID),
			slog.Int64("qty", row.Qty),
			slog.Int("days_left", row.DaysLeft),
		)
	}
	j.logger().Info("expiry scan complete",
		slog.Int("window_days", payload.WindowDays),
		slog.Int("lots_flagged", len(rows)),
	)
	j.Metrics.ObserveJob(TaskExpiryScan, "success")
	return nil
}

func (j *ExpiryScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
