package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ReconcileInput configures one reconcile pass.
type ReconcileInput struct {
	// OlderThan is the minimum age a pending authorization must reach
	// before the pass re-checks it against on-chain truth.
	OlderThan time.Duration `json:"older_than"`

	// BatchSize caps how many records one pass examines.
	BatchSize int32 `json:"batch_size"`
}

// ReconcileResult summarizes one reconcile pass.
type ReconcileResult struct {
	Checked   int       `json:"checked"`
	Confirmed int       `json:"confirmed"`
	Rejected  int       `json:"rejected"`
	StillOpen int       `json:"still_open"`
	RunAt     time.Time `json:"run_at"`
	Error     *string   `json:"error,omitempty"`
}

// ReconcileWorkflow is the Temporal workflow that settles stale pending
// authorizations against the ledger. It is triggered by a Temporal schedule
// at a configured interval.
//
// The workflow runs a single activity: scan pending non-custodial
// authorizations older than the cutoff, look each holder up on-chain, and
// finalize the records whose opt-in transaction has validated. Records with
// no matching transaction stay pending for the next pass.
func ReconcileWorkflow(ctx workflow.Context, input ReconcileInput) (*ReconcileResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ReconcileWorkflow started", "older_than", input.OlderThan, "batch_size", input.BatchSize)

	result := &ReconcileResult{RunAt: workflow.Now(ctx)}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 300 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var activityResult *ReconcileActivityResult
	err := workflow.ExecuteActivity(ctx, a.ReconcileStaleAuthorizations, ReconcileActivityInput{
		OlderThan: input.OlderThan,
		BatchSize: input.BatchSize,
	}).Get(ctx, &activityResult)
	if err != nil {
		errMsg := fmt.Sprintf("reconcile pass failed: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("reconcile pass failed: %w", err)
	}

	result.Checked = activityResult.Checked
	result.Confirmed = activityResult.Confirmed
	result.Rejected = activityResult.Rejected
	result.StillOpen = activityResult.StillOpen

	logger.Info("ReconcileWorkflow completed",
		"checked", result.Checked,
		"confirmed", result.Confirmed,
		"rejected", result.Rejected,
		"still_open", result.StillOpen,
	)
	return result, nil
}
