package temporal

import (
	"context"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/sablefin/mintd/service/metrics"
	"github.com/sablefin/mintd/service/mpt"
)

// ReconcilerInterface is the slice of the lifecycle orchestrator the
// activities need.
type ReconcilerInterface interface {
	ReconcileStaleAuthorizations(ctx context.Context, olderThan time.Duration, limit int32) (*mpt.ReconcileReport, error)
}

// Activities holds the dependencies for workflow activities.
type Activities struct {
	reconciler ReconcilerInterface
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewActivities creates a new Activities instance with the given dependencies.
func NewActivities(reconciler ReconcilerInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		reconciler: reconciler,
		metrics:    m,
		logger:     logger,
	}
}

// ReconcileActivityInput is the input to the reconcile activity.
type ReconcileActivityInput struct {
	OlderThan time.Duration `json:"older_than"`
	BatchSize int32         `json:"batch_size"`
}

// ReconcileActivityResult is the output of the reconcile activity.
type ReconcileActivityResult struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
	StillOpen int `json:"still_open"`
}

// ReconcileStaleAuthorizations runs one reconcile pass. The heavy lifting
// lives in the orchestrator; the activity adds heartbeating and timing.
func (a *Activities) ReconcileStaleAuthorizations(ctx context.Context, input ReconcileActivityInput) (*ReconcileActivityResult, error) {
	logger := a.logger.With("activity", "ReconcileStaleAuthorizations")
	start := time.Now()

	activity.RecordHeartbeat(ctx, "starting reconcile pass")

	report, err := a.reconciler.ReconcileStaleAuthorizations(ctx, input.OlderThan, input.BatchSize)
	if err != nil {
		logger.ErrorContext(ctx, "reconcile pass failed", "error", err)
		if a.metrics != nil {
			a.metrics.RecordOperation("reconcile", "failure")
		}
		return nil, err
	}

	logger.InfoContext(ctx, "reconcile pass finished",
		"checked", report.Checked,
		"confirmed", report.Confirmed,
		"rejected", report.Rejected,
		"still_open", report.StillOpen,
		"duration", time.Since(start),
	)
	if a.metrics != nil {
		a.metrics.RecordOperation("reconcile", "success")
	}
	return &ReconcileActivityResult{
		Checked:   report.Checked,
		Confirmed: report.Confirmed,
		Rejected:  report.Rejected,
		StillOpen: report.StillOpen,
	}, nil
}
