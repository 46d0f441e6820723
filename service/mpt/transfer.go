package mpt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sablefin/mintd/service/db"
	natspkg "github.com/sablefin/mintd/service/nats"
	"github.com/sablefin/mintd/service/xrpl"
)

// TransferParams contains the inputs for moving token value. A source equal
// to the issuer address is a mint. Amount is a decimal string in display
// units and is converted using the issuance's asset scale.
type TransferParams struct {
	IssuanceID         string
	SourceAddress      string
	DestinationAddress string
	Amount             string
	IdempotencyKey     string

	// AutoAuthorize opts in to authorizing a custodial destination before
	// the payment when the issuance requires authorization. Non-custodial
	// destinations are never silently authorized.
	AutoAuthorize bool
}

// TransferResult is the outcome of a Transfer call.
type TransferResult struct {
	Transfer *db.Transfer
	Outcome  *xrpl.Outcome

	// Replayed is set when the idempotency key had already been settled and
	// the stored outcome was returned without a new submission.
	Replayed bool

	// ReconcileNeeded is set when the payment validated on-chain but the
	// transfer row could not be written.
	ReconcileNeeded bool
}

func (p *TransferParams) validate() error {
	if p.IdempotencyKey == "" {
		return callerInputf("idempotency key is required")
	}
	if p.SourceAddress == "" || p.DestinationAddress == "" {
		return callerInputf("source and destination addresses are required")
	}
	if p.SourceAddress == p.DestinationAddress {
		return callerInputf("source and destination must differ")
	}
	return nil
}

// Transfer mints or moves token value, exactly once per idempotency key.
// Concurrent calls with the same key collapse into a single submission;
// later calls with a settled key replay the stored outcome. An engine
// failure is recorded under the key too, so a retry needs a fresh key;
// a timeout is not recorded, because the transaction may still validate
// and the caller decides whether to resubmit.
func (o *Orchestrator) Transfer(ctx context.Context, params TransferParams) (result *TransferResult, err error) {
	defer func() {
		var outcome *xrpl.Outcome
		if result != nil {
			outcome = result.Outcome
		}
		o.recordOp("transfer", outcome, err)
	}()

	if err := params.validate(); err != nil {
		return nil, err
	}

	v, err, _ := o.flight.Do("transfer:"+params.IdempotencyKey, func() (any, error) {
		return o.transferOnce(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TransferResult), nil
}

func (o *Orchestrator) transferOnce(ctx context.Context, params TransferParams) (*TransferResult, error) {
	if existing, err := o.store.GetTransfer(ctx, params.IdempotencyKey); err == nil {
		return &TransferResult{
			Transfer: existing,
			Outcome:  outcomeFromTransfer(existing),
			Replayed: true,
		}, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	iss, err := o.GetIssuance(ctx, params.IssuanceID)
	if err != nil {
		return nil, err
	}

	isMint := params.SourceAddress == iss.IssuerAddress
	if !isMint && !iss.CanTransfer {
		return nil, callerInputf("issuance %s is not transferable between holders", iss.ID)
	}

	baseUnits, err := ToBaseUnits(params.Amount, iss.AssetScale)
	if err != nil {
		return nil, callerInputf("invalid amount %q: %v", params.Amount, err)
	}

	signer, ok := o.keyring.SignerFor(params.SourceAddress)
	if !ok {
		return nil, callerInputf("source %s is not custodied by this service", params.SourceAddress)
	}

	unlock := o.locks.Lock("issuance:" + iss.ID)
	defer unlock()

	if params.AutoAuthorize {
		if err := o.ensureAuthorized(ctx, iss, params.DestinationAddress); err != nil {
			return nil, fmt.Errorf("failed to authorize destination before transfer: %w", err)
		}
	}

	network := xrpl.Network(iss.Network)
	buildPayment := func() *xrpl.Payment {
		return &xrpl.Payment{
			BaseTx: xrpl.BaseTx{
				TransactionType: xrpl.TxTypePayment,
				Account:         params.SourceAddress,
			},
			Destination: params.DestinationAddress,
			Amount: xrpl.MPTAmount{
				MPTIssuanceID: iss.MPTIssuanceID,
				Value:         baseUnits,
			},
		}
	}

	outcome, err := o.signAndSubmit(ctx, network, signer, buildPayment())
	if err != nil {
		return nil, err
	}

	// Authorization-class rejection with a custodial destination: perform
	// the corrective step once, then rebuild and resubmit.
	if !outcome.Succeeded() && !outcome.TimedOut && xrpl.AuthorizationFailure(outcome.EngineResult) {
		if _, custodial := o.keyring.SignerFor(params.DestinationAddress); custodial {
			o.logger.InfoContext(ctx, "destination unauthorized, authorizing and resubmitting",
				"issuance_id", iss.ID,
				"destination", params.DestinationAddress,
				"engine_result", outcome.EngineResult,
			)
			if _, err := o.authorizeCustodial(ctx, iss, params.DestinationAddress); err != nil {
				return nil, fmt.Errorf("corrective authorization failed: %w", err)
			}
			outcome, err = o.signAndSubmit(ctx, network, signer, buildPayment())
			if err != nil {
				return nil, err
			}
		}
	}

	result := &TransferResult{Outcome: outcome}

	// A timed-out submission is indeterminate: the transaction may still
	// validate inside its ledger window. Leave the key unsettled so the
	// caller can safely retry after checking.
	if outcome.TimedOut {
		o.logger.WarnContext(ctx, "transfer validation timed out",
			"issuance_id", iss.ID,
			"idempotency_key", params.IdempotencyKey,
			"tx_hash", outcome.Hash,
		)
		return result, nil
	}

	row, err := o.store.CreateTransfer(ctx, db.CreateTransferParams{
		IdempotencyKey:     params.IdempotencyKey,
		IssuanceID:         iss.ID,
		SourceAddress:      params.SourceAddress,
		DestinationAddress: params.DestinationAddress,
		Amount:             baseUnits,
		TxHash:             outcome.Hash,
		EngineResult:       outcome.EngineResult,
		Validated:          outcome.Validated,
		TimedOut:           outcome.TimedOut,
		ElapsedMS:          outcome.Elapsed.Milliseconds(),
	})
	if err != nil {
		if errors.Is(err, db.ErrDuplicateKey) {
			// Another writer settled the key first; replay its row.
			if existing, getErr := o.store.GetTransfer(ctx, params.IdempotencyKey); getErr == nil {
				return &TransferResult{
					Transfer: existing,
					Outcome:  outcomeFromTransfer(existing),
					Replayed: true,
				}, nil
			}
		}
		if outcome.Succeeded() {
			// Value moved on-chain; the missing row is repaired by the
			// reconcile pass, never by rolling back the ledger.
			o.logger.ErrorContext(ctx, "transfer validated on-chain but persistence failed",
				"issuance_id", iss.ID,
				"idempotency_key", params.IdempotencyKey,
				"tx_hash", outcome.Hash,
				"error", err,
			)
			if o.metrics != nil {
				o.metrics.RecordReconciliationPending()
			}
			o.publish(ctx, &natspkg.LifecycleEvent{
				Kind:          natspkg.KindReconcileNeeded,
				Network:       iss.Network,
				IssuanceID:    iss.ID,
				MPTIssuanceID: iss.MPTIssuanceID,
				Holder:        params.DestinationAddress,
				Amount:        baseUnits,
				TxHash:        outcome.Hash,
				Detail:        "transfer row missing after validated payment",
			})
			result.ReconcileNeeded = true
			return result, nil
		}
		return nil, err
	}
	result.Transfer = row

	if !outcome.Succeeded() {
		return result, &SubmissionError{Outcome: outcome}
	}

	if isMint && iss.Status == db.IssuanceStatusCreated {
		if _, err := o.store.UpdateIssuanceStatus(ctx, iss.ID, db.IssuanceStatusMinted); err != nil {
			o.logger.WarnContext(ctx, "failed to mark issuance minted",
				"issuance_id", iss.ID, "error", err)
		}
	}

	kind := natspkg.KindTransferCompleted
	if isMint {
		kind = natspkg.KindIssuanceMinted
	}
	o.publish(ctx, &natspkg.LifecycleEvent{
		Kind:          kind,
		Network:       iss.Network,
		IssuanceID:    iss.ID,
		MPTIssuanceID: iss.MPTIssuanceID,
		Holder:        params.DestinationAddress,
		Amount:        baseUnits,
		TxHash:        outcome.Hash,
		EngineResult:  outcome.EngineResult,
	})
	o.logger.InfoContext(ctx, "transfer completed",
		"issuance_id", iss.ID,
		"source", params.SourceAddress,
		"destination", params.DestinationAddress,
		"amount", baseUnits,
		"tx_hash", outcome.Hash,
		"mint", isMint,
	)
	return result, nil
}

// outcomeFromTransfer reconstructs the submission outcome stored with a
// settled idempotency key.
func outcomeFromTransfer(t *db.Transfer) *xrpl.Outcome {
	return &xrpl.Outcome{
		Validated:    t.Validated,
		TimedOut:     t.TimedOut,
		EngineResult: t.EngineResult,
		Hash:         t.TxHash,
		Elapsed:      time.Duration(t.ElapsedMS) * time.Millisecond,
	}
}
