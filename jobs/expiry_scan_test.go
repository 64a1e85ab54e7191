package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-ims/meridian-ims/internal/reporting"
)

type stubReports struct {
	nearExpiry []reporting.NearExpiryRow
	reorder    []reporting.ReorderRow
	err        error
	gotWindow  int
}

func (s *stubReports) NearExpiry(_ context.Context, windowDays int) ([]reporting.NearExpiryRow, error) {
	s.gotWindow = windowDays
	return s.nearExpiry, s.err
}

func (s *stubReports) BelowReorderThreshold(_ context.Context) ([]reporting.ReorderRow, error) {
	return s.reorder, s.err
}

func TestExpiryScanHandlePassesWindow(t *testing.T) {
	reports := &stubReports{nearExpiry: []reporting.NearExpiryRow{
		{ItemID: 1, ItemName: "Milk 1L", LotID: 9, Qty: 4, Expiry: time.Now().Add(48 * time.Hour), DaysLeft: 2},
	}}
	job := NewExpiryScanJob(reports, nil, nil)

	task, err := NewExpiryScanTask(7)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 7, reports.gotWindow)
}

func TestExpiryScanHandleSkipsRetryOnBadPayload(t *testing.T) {
	job := NewExpiryScanJob(&stubReports{}, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskExpiryScan, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestExpiryScanHandlePropagatesError(t *testing.T) {
	reports := &stubReports{err: errors.New("db down")}
	job := NewExpiryScanJob(reports, nil, nil)

	task, err := NewExpiryScanTask(30)
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))
}

func TestReorderScanHandleReportsFlagged(t *testing.T) {
	reports := &stubReports{reorder: []reporting.ReorderRow{
		{ItemID: 2, ItemName: "Rice 5kg", OnHand: 3, ReorderThreshold: 10},
	}}
	job := NewReorderScanJob(reports, nil, nil)

	task, err := NewReorderScanTask()
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
}
