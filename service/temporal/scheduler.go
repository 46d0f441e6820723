package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule that drives the periodic
// reconcile pass over stale pending authorizations and dual-write
// divergences.
type Scheduler interface {
	// UpsertReconcileSchedule creates or updates the reconcile schedule.
	// The schedule triggers the ReconcileWorkflow on the given interval.
	UpsertReconcileSchedule(ctx context.Context, interval time.Duration, input ReconcileInput) error

	// DeleteReconcileSchedule removes the reconcile schedule, stopping
	// future passes.
	DeleteReconcileSchedule(ctx context.Context) error
}

// reconcileScheduleID is the fixed schedule ID; there is one reconcile
// schedule per deployment.
const reconcileScheduleID = "mpt-reconcile"
