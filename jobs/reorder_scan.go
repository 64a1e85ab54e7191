package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-ims/meridian-ims/internal/observability"
)

const (
	// TaskReorderScan triggers the nightly below-threshold sweep.
	TaskReorderScan = "reports:reorder_scan"
)

// ReorderScanPayload is empty today; kept for forward-compatible options.
type ReorderScanPayload struct{}

// NewReorderScanTask constructs an Asynq task for the reorder sweep.
func NewReorderScanTask() (*asynq.Task, error) {
	body, err := json.Marshal(ReorderScanPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderScan, body, asynq.Queue(QueueDefault)), nil
}

// ReorderScanJob logs every active item at or below its reorder threshold.
type ReorderScanJob struct {
	Reports ReportsPort
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewReorderScanJob initialises the reorder scan handler.
func NewReorderScanJob(reports ReportsPort, logger *slog.Logger, metrics *observability.Metrics) *ReorderScanJob {
	return &ReorderScanJob{Reports: reports, Logger: logger, Metrics: metrics}
}

// Handle executes the below-threshold scan.
func (j *ReorderScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reports == nil {
		return errors.New("reorder scan: handler not configured")
	}
	var payload ReorderScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	rows, err := j.Reports.BelowReorderThreshold(ctx)
	if err != nil {
		j.Metrics.ObserveJob(TaskReorderScan, "failure")
		j.logger().Error("reorder scan failed", slog.Any("error", err))
		return err
	}

	for _, row := range rows {
		j.logger().Warn("item below reorder threshold",
			slog.Int64("item_id", row.ItemID),
			slog.String("item", row.ItemName),
			slog.Int64("on_hand", row.OnHand),
			slog.Int64("threshold", row.ReorderThreshold),
		)
	}
	j.logger().Info("reorder scan complete", slog.Int("items_flagged", len(rows)))
	j.Metrics.ObserveJob(TaskReorderScan, "success")
	return nil
}

func (j *ReorderScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
