package mpt

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sablefin/mintd/service/db"
	natspkg "github.com/sablefin/mintd/service/nats"
	"github.com/sablefin/mintd/service/xrpl"
)

func newID() string { return uuid.NewString() }

// AuthorizeHolderParams contains the inputs for authorizing a holder.
type AuthorizeHolderParams struct {
	IssuanceID    string
	HolderAddress string
}

// AuthorizeResult is the outcome of AuthorizeHolder. For custodial holders
// Status is authorized and TxHash is set. For non-custodial holders Status
// is pending, CorrelationID identifies the record for the later
// confirmation step, and SigningPayload is the transaction the holder must
// sign and submit externally.
type AuthorizeResult struct {
	Authorization  *db.Authorization
	Status         string
	TxHash         string
	CorrelationID  string
	SigningPayload *xrpl.MPTokenAuthorize
}

// AuthorizeHolder authorizes a holder for an issuance. Custodial holders
// are signed for directly and recorded as authorized; non-custodial holders
// get a pending record and the payload to sign externally. Repeating the
// call for an already-authorized or already-pending holder returns the
// existing record rather than creating a second one.
func (o *Orchestrator) AuthorizeHolder(ctx context.Context, params AuthorizeHolderParams) (result *AuthorizeResult, err error) {
	defer func() { o.recordOp("authorize", nil, err) }()

	if params.HolderAddress == "" {
		return nil, callerInputf("holder address is required")
	}
	iss, err := o.GetIssuance(ctx, params.IssuanceID)
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock("auth:" + iss.ID + ":" + params.HolderAddress)
	defer unlock()

	// An existing record wins: terminal-authorized is idempotent success,
	// pending hands back the same correlation id.
	existing, err := o.store.GetAuthorization(ctx, iss.ID, params.HolderAddress)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case db.AuthStatusAuthorized:
			res := &AuthorizeResult{Authorization: existing, Status: existing.Status}
			if existing.TxHash != nil {
				res.TxHash = *existing.TxHash
			}
			return res, nil
		case db.AuthStatusPending:
			res := &AuthorizeResult{Authorization: existing, Status: existing.Status}
			if existing.CorrelationID != nil {
				res.CorrelationID = *existing.CorrelationID
				res.SigningPayload = o.holderOptInPayload(iss, params.HolderAddress)
			}
			return res, nil
		}
		// A rejected record is terminal but does not block a fresh attempt.
	}

	if _, custodial := o.keyring.SignerFor(params.HolderAddress); custodial {
		auth, err := o.authorizeCustodial(ctx, iss, params.HolderAddress)
		if err != nil {
			return nil, err
		}
		res := &AuthorizeResult{Authorization: auth, Status: auth.Status}
		if auth.TxHash != nil {
			res.TxHash = *auth.TxHash
		}
		return res, nil
	}

	// Non-custodial: record the intent, hand the caller what it needs to
	// build the externally-signed transaction.
	correlationID := newID()
	auth, err := o.store.CreateAuthorization(ctx, db.CreateAuthorizationParams{
		ID:            newID(),
		IssuanceID:    iss.ID,
		HolderAddress: params.HolderAddress,
		Custody:       db.CustodyExternal,
		Status:        db.AuthStatusPending,
		CorrelationID: &correlationID,
	})
	if err != nil {
		if errors.Is(err, db.ErrDuplicatePending) {
			// Lost a race with another request for the same pair; return
			// the row that won.
			if existing, getErr := o.store.GetAuthorization(ctx, iss.ID, params.HolderAddress); getErr == nil {
				res := &AuthorizeResult{Authorization: existing, Status: existing.Status}
				if existing.CorrelationID != nil {
					res.CorrelationID = *existing.CorrelationID
					res.SigningPayload = o.holderOptInPayload(iss, params.HolderAddress)
				}
				return res, nil
			}
		}
		return nil, err
	}

	o.publish(ctx, &natspkg.LifecycleEvent{
		Kind:          natspkg.KindAuthorizationPending,
		Network:       iss.Network,
		IssuanceID:    iss.ID,
		MPTIssuanceID: iss.MPTIssuanceID,
		Holder:        params.HolderAddress,
		CorrelationID: correlationID,
	})
	o.logger.InfoContext(ctx, "authorization pending external signature",
		"issuance_id", iss.ID,
		"holder", params.HolderAddress,
		"correlation_id", correlationID,
	)
	return &AuthorizeResult{
		Authorization:  auth,
		Status:         auth.Status,
		CorrelationID:  correlationID,
		SigningPayload: o.holderOptInPayload(iss, params.HolderAddress),
	}, nil
}

// holderOptInPayload builds the transaction a holder signs to opt in to an
// issuance. Sequencing fields are left for the external signer to fill.
func (o *Orchestrator) holderOptInPayload(iss *db.Issuance, holder string) *xrpl.MPTokenAuthorize {
	return &xrpl.MPTokenAuthorize{
		BaseTx: xrpl.BaseTx{
			TransactionType: xrpl.TxTypeMPTokenAuthorize,
			Account:         holder,
		},
		MPTokenIssuanceID: iss.MPTIssuanceID,
	}
}

// authorizeCustodial signs and submits the authorization chain for a holder
// whose key this service custodies: the holder's opt-in, plus the
// issuer-side authorization when the issuance requires it. The record is
// written as authorized only after on-chain success.
func (o *Orchestrator) authorizeCustodial(ctx context.Context, iss *db.Issuance, holder string) (*db.Authorization, error) {
	holderSigner, ok := o.keyring.SignerFor(holder)
	if !ok {
		return nil, callerInputf("holder %s is not custodied by this service", holder)
	}

	network := xrpl.Network(iss.Network)

	optIn := o.holderOptInPayload(iss, holder)
	outcome, err := o.signAndSubmit(ctx, network, holderSigner, optIn)
	if err != nil {
		return nil, err
	}
	// tecDUPLICATE means the holder already opted in; that is the state we
	// wanted, so continue.
	if !outcome.Succeeded() && xrpl.Classify(outcome.EngineResult).Action != xrpl.ActionSkip {
		return nil, &SubmissionError{Outcome: outcome}
	}
	finalHash := outcome.Hash

	if iss.RequireAuth {
		issuerSigner, err := o.issuerSigner(iss.IssuerAddress)
		if err != nil {
			return nil, err
		}
		grant := &xrpl.MPTokenAuthorize{
			BaseTx: xrpl.BaseTx{
				TransactionType: xrpl.TxTypeMPTokenAuthorize,
				Account:         iss.IssuerAddress,
			},
			MPTokenIssuanceID: iss.MPTIssuanceID,
			Holder:            holder,
		}
		outcome, err = o.signAndSubmit(ctx, network, issuerSigner, grant)
		if err != nil {
			return nil, err
		}
		if !outcome.Succeeded() && xrpl.Classify(outcome.EngineResult).Action != xrpl.ActionSkip {
			return nil, &SubmissionError{Outcome: outcome}
		}
		finalHash = outcome.Hash
	}

	auth, err := o.store.CreateAuthorization(ctx, db.CreateAuthorizationParams{
		ID:            newID(),
		IssuanceID:    iss.ID,
		HolderAddress: holder,
		Custody:       db.CustodyCustodial,
		Status:        db.AuthStatusAuthorized,
		TxHash:        &finalHash,
	})
	if err != nil {
		// On-chain authorization stands; flag the missing row.
		o.logger.ErrorContext(ctx, "holder authorized on-chain but persistence failed",
			"issuance_id", iss.ID,
			"holder", holder,
			"tx_hash", finalHash,
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
			Holder:        holder,
			TxHash:        finalHash,
			Detail:        "authorization row missing after on-chain authorize",
		})
		return &db.Authorization{
			IssuanceID:    iss.ID,
			HolderAddress: holder,
			Custody:       db.CustodyCustodial,
			Status:        db.AuthStatusAuthorized,
			TxHash:        &finalHash,
		}, nil
	}

	o.publish(ctx, &natspkg.LifecycleEvent{
		Kind:          natspkg.KindAuthorizationGranted,
		Network:       iss.Network,
		IssuanceID:    iss.ID,
		MPTIssuanceID: iss.MPTIssuanceID,
		Holder:        holder,
		TxHash:        finalHash,
	})
	o.logger.InfoContext(ctx, "holder authorized",
		"issuance_id", iss.ID,
		"holder", holder,
		"tx_hash", finalHash,
	)
	return auth, nil
}

// ensureAuthorized makes sure a custodial destination can hold the
// issuance before value moves to it, avoiding an avoidable
// authorization-class failure. Non-custodial holders are never silently
// authorized; for them this is a no-op.
func (o *Orchestrator) ensureAuthorized(ctx context.Context, iss *db.Issuance, holder string) error {
	if !iss.RequireAuth {
		return nil
	}
	existing, err := o.store.GetAuthorization(ctx, iss.ID, holder)
	if err == nil && existing.Status == db.AuthStatusAuthorized {
		return nil
	}
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	if _, custodial := o.keyring.SignerFor(holder); !custodial {
		return nil
	}
	_, err = o.authorizeCustodial(ctx, iss, holder)
	return err
}

// ConfirmAuthorization transitions a pending non-custodial authorization
// once a validated transaction of the expected type, for the expected
// issuance and holder, is independently verified on-chain. Confirming a
// terminal record fails without mutating it.
func (o *Orchestrator) ConfirmAuthorization(ctx context.Context, correlationID, observedTxHash string) (auth *db.Authorization, err error) {
	defer func() { o.recordOp("confirm_authorization", nil, err) }()

	if correlationID == "" || observedTxHash == "" {
		return nil, callerInputf("correlation id and observed tx hash are required")
	}

	pending, err := o.store.GetAuthorizationByCorrelationID(ctx, correlationID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if pending.Terminal() {
		return nil, ErrAlreadyTerminal
	}

	iss, err := o.GetIssuance(ctx, pending.IssuanceID)
	if err != nil {
		return nil, err
	}

	sess, err := o.pool.Acquire(ctx, xrpl.Network(iss.Network))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire ledger session: %w", err)
	}
	observed, err := sess.Tx(ctx, observedTxHash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch observed transaction: %w", err)
	}
	if !observed.Validated {
		return nil, fmt.Errorf("transaction %s is not yet in a validated ledger", observedTxHash)
	}
	if observed.TransactionType != xrpl.TxTypeMPTokenAuthorize {
		return nil, callerInputf("transaction %s is a %s, not an authorization", observedTxHash, observed.TransactionType)
	}
	if observed.Account != pending.HolderAddress {
		return nil, callerInputf("transaction %s was signed by %s, not holder %s", observedTxHash, observed.Account, pending.HolderAddress)
	}
	if observed.MPTIssuanceID != iss.MPTIssuanceID {
		return nil, callerInputf("transaction %s targets issuance %s, not %s", observedTxHash, observed.MPTIssuanceID, iss.MPTIssuanceID)
	}

	// A validated authorization that failed on-chain rejects the pending
	// record; terminal either way.
	status := db.AuthStatusAuthorized
	kind := natspkg.KindAuthorizationGranted
	if observed.FinalResult() != xrpl.ResultSuccess {
		status = db.AuthStatusRejected
		kind = natspkg.KindAuthorizationRejected
	}

	auth, err = o.store.FinalizeAuthorization(ctx, pending.ID, status, &observedTxHash)
	if err != nil {
		if errors.Is(err, db.ErrAlreadyTerminal) {
			return nil, ErrAlreadyTerminal
		}
		return nil, err
	}

	o.publish(ctx, &natspkg.LifecycleEvent{
		Kind:          kind,
		Network:       iss.Network,
		IssuanceID:    iss.ID,
		MPTIssuanceID: iss.MPTIssuanceID,
		Holder:        auth.HolderAddress,
		TxHash:        observedTxHash,
		CorrelationID: correlationID,
		EngineResult:  observed.FinalResult(),
	})
	o.logger.InfoContext(ctx, "authorization confirmed",
		"issuance_id", iss.ID,
		"holder", auth.HolderAddress,
		"status", status,
		"tx_hash", observedTxHash,
	)
	return auth, nil
}
