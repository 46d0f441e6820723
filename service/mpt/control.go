package mpt

import (
	"context"
	"fmt"
	"time"

	"github.com/sablefin/mintd/service/db"
	natspkg "github.com/sablefin/mintd/service/nats"
	"github.com/sablefin/mintd/service/xrpl"
)

// ControlResult is the outcome of a freeze, unfreeze, or clawback.
type ControlResult struct {
	Issuance *db.Issuance
	TxHash   string
	Outcome  *xrpl.Outcome
}

// Freeze locks an issuance. With an empty holder the lock is global and the
// issuance record moves to paused; with a holder set only that holder's
// balance is locked. Requires the lockable capability, checked before any
// network call.
func (o *Orchestrator) Freeze(ctx context.Context, issuanceID, holder string) (result *ControlResult, err error) {
	defer func() {
		var outcome *xrpl.Outcome
		if result != nil {
			outcome = result.Outcome
		}
		o.recordOp("freeze", outcome, err)
	}()
	return o.setLock(ctx, issuanceID, holder, true)
}

// Unfreeze reverses a freeze. A global unfreeze moves a paused issuance back
// to active.
func (o *Orchestrator) Unfreeze(ctx context.Context, issuanceID, holder string) (result *ControlResult, err error) {
	defer func() {
		var outcome *xrpl.Outcome
		if result != nil {
			outcome = result.Outcome
		}
		o.recordOp("unfreeze", outcome, err)
	}()
	return o.setLock(ctx, issuanceID, holder, false)
}

func (o *Orchestrator) setLock(ctx context.Context, issuanceID, holder string, lock bool) (*ControlResult, error) {
	iss, err := o.GetIssuance(ctx, issuanceID)
	if err != nil {
		return nil, err
	}
	if !iss.CanLock {
		return nil, callerInputf("issuance %s was not created with the lockable capability", iss.ID)
	}
	signer, err := o.issuerSigner(iss.IssuerAddress)
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock("issuance:" + iss.ID)
	defer unlock()

	flags := xrpl.TfMPTUnlock
	if lock {
		flags = xrpl.TfMPTLock
	}
	tx := &xrpl.MPTokenIssuanceSet{
		BaseTx: xrpl.BaseTx{
			TransactionType: xrpl.TxTypeMPTokenIssuanceSet,
			Account:         iss.IssuerAddress,
			Flags:           flags,
		},
		MPTokenIssuanceID: iss.MPTIssuanceID,
		Holder:            holder,
	}

	outcome, err := o.signAndSubmit(ctx, xrpl.Network(iss.Network), signer, tx)
	if err != nil {
		return nil, err
	}
	result := &ControlResult{Issuance: iss, TxHash: outcome.Hash, Outcome: outcome}
	if !outcome.Succeeded() {
		return result, &SubmissionError{Outcome: outcome}
	}

	// Per-holder locks do not change the issuance's lifecycle status.
	if holder == "" {
		status := db.IssuanceStatusActive
		if lock {
			status = db.IssuanceStatusPaused
		}
		updated, err := o.store.UpdateIssuanceStatus(ctx, iss.ID, status)
		if err != nil {
			o.logger.WarnContext(ctx, "lock applied on-chain but status update failed",
				"issuance_id", iss.ID, "status", status, "error", err)
		} else {
			result.Issuance = updated
		}
	}

	kind := natspkg.KindIssuanceUnfrozen
	if lock {
		kind = natspkg.KindIssuanceFrozen
	}
	o.publish(ctx, &natspkg.LifecycleEvent{
		Kind:          kind,
		Network:       iss.Network,
		IssuanceID:    iss.ID,
		MPTIssuanceID: iss.MPTIssuanceID,
		Holder:        holder,
		TxHash:        outcome.Hash,
		EngineResult:  outcome.EngineResult,
	})
	o.logger.InfoContext(ctx, "issuance lock state changed",
		"issuance_id", iss.ID,
		"holder", holder,
		"locked", lock,
		"tx_hash", outcome.Hash,
	)
	return result, nil
}

// ClawbackParams contains the inputs for reclaiming value from a holder.
// Amount is a decimal string in display units.
type ClawbackParams struct {
	IssuanceID    string
	HolderAddress string
	Amount        string
}

// Clawback reclaims token value from a holder. The capability check runs
// before any network call: attempting clawback on an issuance created
// without the clawback capability is a caller-input error and touches
// neither the ledger nor the record store.
func (o *Orchestrator) Clawback(ctx context.Context, params ClawbackParams) (result *ControlResult, err error) {
	defer func() {
		var outcome *xrpl.Outcome
		if result != nil {
			outcome = result.Outcome
		}
		o.recordOp("clawback", outcome, err)
	}()

	if params.HolderAddress == "" {
		return nil, callerInputf("holder address is required")
	}
	iss, err := o.GetIssuance(ctx, params.IssuanceID)
	if err != nil {
		return nil, err
	}
	if !iss.CanClawback {
		return nil, callerInputf("issuance %s was not created with the clawback capability", iss.ID)
	}
	baseUnits, err := ToBaseUnits(params.Amount, iss.AssetScale)
	if err != nil {
		return nil, callerInputf("invalid amount %q: %v", params.Amount, err)
	}
	signer, err := o.issuerSigner(iss.IssuerAddress)
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock("issuance:" + iss.ID)
	defer unlock()

	tx := &xrpl.Clawback{
		BaseTx: xrpl.BaseTx{
			TransactionType: xrpl.TxTypeClawback,
			Account:         iss.IssuerAddress,
		},
		Amount: xrpl.MPTAmount{
			MPTIssuanceID: iss.MPTIssuanceID,
			Value:         baseUnits,
		},
		Holder: params.HolderAddress,
	}

	outcome, err := o.signAndSubmit(ctx, xrpl.Network(iss.Network), signer, tx)
	if err != nil {
		return nil, err
	}
	result = &ControlResult{Issuance: iss, TxHash: outcome.Hash, Outcome: outcome}
	if !outcome.Succeeded() {
		return result, &SubmissionError{Outcome: outcome}
	}

	o.publish(ctx, &natspkg.LifecycleEvent{
		Kind:          natspkg.KindIssuanceClawback,
		Network:       iss.Network,
		IssuanceID:    iss.ID,
		MPTIssuanceID: iss.MPTIssuanceID,
		Holder:        params.HolderAddress,
		Amount:        baseUnits,
		TxHash:        outcome.Hash,
		EngineResult:  outcome.EngineResult,
	})
	o.logger.InfoContext(ctx, "clawback completed",
		"issuance_id", iss.ID,
		"holder", params.HolderAddress,
		"amount", baseUnits,
		"tx_hash", outcome.Hash,
	)
	return result, nil
}

// ReconcileReport summarizes one reconcile pass over stale pending
// authorizations.
type ReconcileReport struct {
	Checked   int
	Confirmed int
	Rejected  int
	StillOpen int
}

// ReconcileStaleAuthorizations scans pending non-custodial authorizations
// older than the cutoff against on-chain truth. A holder whose opt-in
// validated while we weren't looking is confirmed; an opt-in that validated
// with a failure code is rejected; a holder with no matching transaction
// stays pending for the next pass.
func (o *Orchestrator) ReconcileStaleAuthorizations(ctx context.Context, olderThan time.Duration, limit int32) (*ReconcileReport, error) {
	cutoff := time.Now().Add(-olderThan)
	stale, err := o.store.ListStalePendingAuthorizations(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale authorizations: %w", err)
	}

	report := &ReconcileReport{}
	for _, auth := range stale {
		report.Checked++
		settled, err := o.reconcileOne(ctx, auth)
		if err != nil {
			o.logger.WarnContext(ctx, "reconcile check failed",
				"authorization_id", auth.ID,
				"holder", auth.HolderAddress,
				"error", err,
			)
			report.StillOpen++
			continue
		}
		switch settled {
		case db.AuthStatusAuthorized:
			report.Confirmed++
		case db.AuthStatusRejected:
			report.Rejected++
		default:
			report.StillOpen++
		}
	}

	if o.metrics != nil {
		o.metrics.RecordReconcileRun(report.Checked, report.Confirmed+report.Rejected)
	}
	o.logger.InfoContext(ctx, "reconcile pass completed",
		"checked", report.Checked,
		"confirmed", report.Confirmed,
		"rejected", report.Rejected,
		"still_open", report.StillOpen,
	)
	return report, nil
}

// reconcileOne checks one pending authorization against the holder's recent
// on-chain transactions. Returns the settled status, or empty when the
// record stays pending.
func (o *Orchestrator) reconcileOne(ctx context.Context, auth *db.Authorization) (string, error) {
	iss, err := o.GetIssuance(ctx, auth.IssuanceID)
	if err != nil {
		return "", err
	}
	sess, err := o.pool.Acquire(ctx, xrpl.Network(iss.Network))
	if err != nil {
		return "", err
	}
	txs, err := sess.AccountTx(ctx, auth.HolderAddress, 50)
	if err != nil {
		return "", err
	}

	for _, tx := range txs {
		if !tx.Validated || tx.TransactionType != xrpl.TxTypeMPTokenAuthorize {
			continue
		}
		if tx.Account != auth.HolderAddress || tx.MPTIssuanceID != iss.MPTIssuanceID {
			continue
		}

		status := db.AuthStatusAuthorized
		kind := natspkg.KindAuthorizationGranted
		if tx.FinalResult() != xrpl.ResultSuccess {
			status = db.AuthStatusRejected
			kind = natspkg.KindAuthorizationRejected
		}
		hash := tx.Hash
		if _, err := o.store.FinalizeAuthorization(ctx, auth.ID, status, &hash); err != nil {
			return "", err
		}
		o.publish(ctx, &natspkg.LifecycleEvent{
			Kind:          kind,
			Network:       iss.Network,
			IssuanceID:    iss.ID,
			MPTIssuanceID: iss.MPTIssuanceID,
			Holder:        auth.HolderAddress,
			TxHash:        hash,
			EngineResult:  tx.FinalResult(),
			Detail:        "settled by reconcile pass",
		})
		return status, nil
	}
	return "", nil
}
