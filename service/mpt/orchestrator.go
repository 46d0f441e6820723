package mpt

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sablefin/mintd/service/db"
	"github.com/sablefin/mintd/service/metrics"
	natspkg "github.com/sablefin/mintd/service/nats"
	"github.com/sablefin/mintd/service/xrpl"
)

// Store is the slice of the record store the orchestrator consumes. The
// orchestrator exclusively owns the write path to these records.
type Store interface {
	CreateIssuance(ctx context.Context, params db.CreateIssuanceParams) (*db.Issuance, error)
	GetIssuance(ctx context.Context, id string) (*db.Issuance, error)
	ListIssuances(ctx context.Context, network string) ([]*db.Issuance, error)
	UpdateIssuanceStatus(ctx context.Context, id, status string) (*db.Issuance, error)

	CreateAuthorization(ctx context.Context, params db.CreateAuthorizationParams) (*db.Authorization, error)
	GetAuthorization(ctx context.Context, issuanceID, holderAddress string) (*db.Authorization, error)
	GetAuthorizationByCorrelationID(ctx context.Context, correlationID string) (*db.Authorization, error)
	FinalizeAuthorization(ctx context.Context, id, status string, txHash *string) (*db.Authorization, error)
	ListAuthorizations(ctx context.Context, params db.ListAuthorizationsParams) ([]*db.Authorization, error)
	ListStalePendingAuthorizations(ctx context.Context, cutoff time.Time, limit int32) ([]*db.Authorization, error)

	CreateTransfer(ctx context.Context, params db.CreateTransferParams) (*db.Transfer, error)
	GetTransfer(ctx context.Context, idempotencyKey string) (*db.Transfer, error)
}

// Submitter is the reliable submission pipeline.
type Submitter interface {
	SubmitAndWait(ctx context.Context, txBlob string, network xrpl.Network) (*xrpl.Outcome, error)
}

// Config configures an Orchestrator.
type Config struct {
	Store     Store
	Submitter Submitter
	Pool      xrpl.ConnectionProvider
	Keyring   Keyring
	Publisher natspkg.Publisher // optional
	Metrics   *metrics.Metrics  // optional
	Logger    *slog.Logger

	// Fee is the transaction fee in drops. Defaults to "10".
	Fee string

	// MaxLedgerOffset is how many ledgers past the current one a
	// transaction stays valid. Defaults to 20 (roughly 80 seconds).
	MaxLedgerOffset uint32
}

// Orchestrator drives the MPT lifecycle: issuance, authorization, transfer,
// freeze, and clawback. It keeps the off-chain record store consistent with
// on-chain truth; where the two can diverge (dual write), the ledger wins
// and the record store is repaired by the reconcile pass.
type Orchestrator struct {
	store     Store
	submitter Submitter
	pool      xrpl.ConnectionProvider
	keyring   Keyring
	publisher natspkg.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	fee             string
	maxLedgerOffset uint32

	// locks serializes writes per issuance; flight collapses duplicate
	// idempotency keys into one submission.
	locks  *keyedMutex
	flight singleflight.Group
}

// NewOrchestrator creates a lifecycle orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Fee == "" {
		cfg.Fee = "10"
	}
	if cfg.MaxLedgerOffset == 0 {
		cfg.MaxLedgerOffset = 20
	}
	return &Orchestrator{
		store:           cfg.Store,
		submitter:       cfg.Submitter,
		pool:            cfg.Pool,
		keyring:         cfg.Keyring,
		publisher:       cfg.Publisher,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		fee:             cfg.Fee,
		maxLedgerOffset: cfg.MaxLedgerOffset,
		locks:           newKeyedMutex(),
	}
}

// sequencing fetches the account sequence and computes the transaction's
// validity ceiling. Callers racing multiple transactions from one signing
// identity must coordinate sequences themselves; this layer only reads the
// current value.
func (o *Orchestrator) sequencing(ctx context.Context, network xrpl.Network, account string) (uint32, uint32, error) {
	sess, err := o.pool.Acquire(ctx, network)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to acquire ledger session: %w", err)
	}
	info, err := sess.AccountInfo(ctx, account)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch account info for %s: %w", account, err)
	}
	lastLedger := uint32(info.LedgerCurrentIndex) + o.maxLedgerOffset
	return info.AccountData.Sequence, lastLedger, nil
}

// signAndSubmit fills sequencing fields, signs, and runs the submission
// pipeline. When the taxonomy says resubmit with no corrective step
// (expired validity window, stale sequence), the transaction is rebuilt
// once with fresh sequencing and submitted again.
func (o *Orchestrator) signAndSubmit(ctx context.Context, network xrpl.Network, signer Signer, tx xrpl.Tx) (*xrpl.Outcome, error) {
	const resubmitBudget = 1

	var outcome *xrpl.Outcome
	for i := 0; ; i++ {
		seq, lastLedger, err := o.sequencing(ctx, network, signer.Address())
		if err != nil {
			return nil, err
		}
		base := tx.Base()
		base.Fee = o.fee
		base.Sequence = seq
		base.LastLedgerSequence = lastLedger

		blob, hash, err := signer.Sign(tx)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction: %w", err)
		}

		outcome, err = o.submitter.SubmitAndWait(ctx, blob, network)
		if err != nil {
			return nil, err
		}
		if outcome.Hash == "" {
			outcome.Hash = hash
		}

		if outcome.Validated || outcome.TimedOut {
			return outcome, nil
		}
		policy := xrpl.Classify(outcome.EngineResult)
		if policy.Action == xrpl.ActionResubmit && policy.Corrective == xrpl.CorrectNone && i < resubmitBudget {
			o.logger.InfoContext(ctx, "rebuilding transaction for resubmission",
				"engine_result", outcome.EngineResult,
				"account", signer.Address(),
			)
			continue
		}
		return outcome, nil
	}
}

// publish sends a lifecycle event. Publishing is best effort: a broker
// outage must not fail an operation whose on-chain effect already happened.
func (o *Orchestrator) publish(ctx context.Context, event *natspkg.LifecycleEvent) {
	if o.publisher == nil {
		return
	}
	event.OccurredAt = time.Now().UTC()
	if err := o.publisher.PublishEvent(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "failed to publish lifecycle event",
			"kind", event.Kind,
			"issuance_id", event.IssuanceID,
			"error", err,
		)
	}
}

func (o *Orchestrator) recordOp(operation string, outcome *xrpl.Outcome, err error) {
	if o.metrics == nil {
		return
	}
	status := "success"
	switch {
	case err != nil && IsCallerInput(err):
		status = "rejected"
	case err != nil:
		status = "failure"
	case outcome != nil && outcome.TimedOut:
		status = "timeout"
	case outcome != nil && !outcome.Succeeded():
		status = "failure"
	}
	o.metrics.RecordOperation(operation, status)
}

// issuerSigner resolves the custodial signer for an issuance's issuer.
func (o *Orchestrator) issuerSigner(issuerAddress string) (Signer, error) {
	signer, ok := o.keyring.SignerFor(issuerAddress)
	if !ok {
		return nil, callerInputf("issuer identity %s is not custodied by this service", issuerAddress)
	}
	return signer, nil
}

// GetIssuance reads one issuance record.
func (o *Orchestrator) GetIssuance(ctx context.Context, id string) (*db.Issuance, error) {
	iss, err := o.store.GetIssuance(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return iss, nil
}

// ListIssuances reads issuance records, optionally filtered by network.
func (o *Orchestrator) ListIssuances(ctx context.Context, network string) ([]*db.Issuance, error) {
	return o.store.ListIssuances(ctx, network)
}

// ListAuthorizations reads authorization records for an issuance, served
// from the record store.
func (o *Orchestrator) ListAuthorizations(ctx context.Context, params db.ListAuthorizationsParams) ([]*db.Authorization, error) {
	return o.store.ListAuthorizations(ctx, params)
}

// CreateIssuanceParams contains the inputs for creating a token type.
// MaxSupply is a decimal string of base units.
type CreateIssuanceParams struct {
	Network       xrpl.Network
	IssuerAddress string
	AssetScale    uint8
	MaxSupply     string
	TransferFee   uint16
	CanTransfer   bool
	RequireAuth   bool
	CanClawback   bool
	CanLock       bool
	Metadata      string
}

// IssuanceResult is the outcome of CreateIssuance.
type IssuanceResult struct {
	Issuance      *db.Issuance
	MPTIssuanceID string
	TxHash        string
	Outcome       *xrpl.Outcome

	// ReconcileNeeded is set when the on-chain creation succeeded but the
	// off-chain row could not be written. The ledger state is the source
	// of truth; the reconcile pass backfills the record.
	ReconcileNeeded bool
}

const maxAssetScale = 19

func (p *CreateIssuanceParams) validate() error {
	if !xrpl.ValidNetwork(p.Network) {
		return callerInputf("unknown network %q", p.Network)
	}
	if p.IssuerAddress == "" {
		return callerInputf("issuer address is required")
	}
	if p.AssetScale > maxAssetScale {
		return callerInputf("asset scale %d exceeds maximum %d", p.AssetScale, maxAssetScale)
	}
	if _, err := ToBaseUnits(p.MaxSupply, 0); err != nil {
		return callerInputf("invalid max supply %q: must be a positive integer of base units", p.MaxSupply)
	}
	if p.TransferFee > 50000 {
		return callerInputf("transfer fee %d exceeds maximum 50000", p.TransferFee)
	}
	if p.TransferFee > 0 && !p.CanTransfer {
		return callerInputf("a transfer fee requires the transferable capability")
	}
	return nil
}

// CreateIssuance validates the issuer and capability flags, creates the
// token type on-chain, and persists the issuance row after on-chain
// success. A persistence failure after on-chain success is logged and
// flagged for reconciliation, never rolled back on-chain.
func (o *Orchestrator) CreateIssuance(ctx context.Context, params CreateIssuanceParams) (result *IssuanceResult, err error) {
	defer func() {
		var outcome *xrpl.Outcome
		if result != nil {
			outcome = result.Outcome
		}
		o.recordOp("issue", outcome, err)
	}()

	if err := params.validate(); err != nil {
		return nil, err
	}
	signer, err := o.issuerSigner(params.IssuerAddress)
	if err != nil {
		return nil, err
	}

	flags := uint32(0)
	if params.CanTransfer {
		flags |= xrpl.TfMPTCanTransfer
	}
	if params.RequireAuth {
		flags |= xrpl.TfMPTRequireAuth
	}
	if params.CanClawback {
		flags |= xrpl.TfMPTCanClawback
	}
	if params.CanLock {
		flags |= xrpl.TfMPTCanLock
	}

	tx := &xrpl.MPTokenIssuanceCreate{
		BaseTx: xrpl.BaseTx{
			TransactionType: xrpl.TxTypeMPTokenIssuanceCreate,
			Account:         params.IssuerAddress,
			Flags:           flags,
		},
		AssetScale:      params.AssetScale,
		MaximumAmount:   params.MaxSupply,
		TransferFee:     params.TransferFee,
		MPTokenMetadata: hex.EncodeToString([]byte(params.Metadata)),
	}

	outcome, err := o.signAndSubmit(ctx, params.Network, signer, tx)
	if err != nil {
		return nil, err
	}
	if !outcome.Succeeded() {
		return &IssuanceResult{Outcome: outcome}, &SubmissionError{Outcome: outcome}
	}

	// The on-chain issuance identifier is assigned by the ledger and
	// reported in the validated transaction's metadata.
	mptID := o.lookupMPTIssuanceID(ctx, params.Network, outcome.Hash)

	result = &IssuanceResult{
		MPTIssuanceID: mptID,
		TxHash:        outcome.Hash,
		Outcome:       outcome,
	}

	iss, err := o.store.CreateIssuance(ctx, db.CreateIssuanceParams{
		ID:            newID(),
		Network:       string(params.Network),
		IssuerAddress: params.IssuerAddress,
		AssetScale:    params.AssetScale,
		MaxSupply:     params.MaxSupply,
		TransferFee:   int32(params.TransferFee),
		CanTransfer:   params.CanTransfer,
		RequireAuth:   params.RequireAuth,
		CanClawback:   params.CanClawback,
		CanLock:       params.CanLock,
		Metadata:      params.Metadata,
		MPTIssuanceID: mptID,
		CreateTxHash:  outcome.Hash,
	})
	if err != nil {
		// On-chain state is the source of truth; the economically real
		// event happened. Flag for reconciliation and report success.
		o.logger.ErrorContext(ctx, "issuance created on-chain but persistence failed",
			"network", params.Network,
			"issuer", params.IssuerAddress,
			"mpt_issuance_id", mptID,
			"tx_hash", outcome.Hash,
			"error", err,
		)
		if o.metrics != nil {
			o.metrics.RecordReconciliationPending()
		}
		o.publish(ctx, &natspkg.LifecycleEvent{
			Kind:          natspkg.KindReconcileNeeded,
			Network:       string(params.Network),
			MPTIssuanceID: mptID,
			TxHash:        outcome.Hash,
			Detail:        "issuance row missing after on-chain create",
		})
		result.ReconcileNeeded = true
		return result, nil
	}

	result.Issuance = iss
	o.publish(ctx, &natspkg.LifecycleEvent{
		Kind:          natspkg.KindIssuanceCreated,
		Network:       iss.Network,
		IssuanceID:    iss.ID,
		MPTIssuanceID: mptID,
		TxHash:        outcome.Hash,
		EngineResult:  outcome.EngineResult,
	})
	o.logger.InfoContext(ctx, "issuance created",
		"issuance_id", iss.ID,
		"mpt_issuance_id", mptID,
		"network", iss.Network,
		"tx_hash", outcome.Hash,
	)
	return result, nil
}

// lookupMPTIssuanceID fetches the ledger-assigned issuance identifier from
// the validated creation transaction. Best effort: an empty return is
// repaired by reconciliation.
func (o *Orchestrator) lookupMPTIssuanceID(ctx context.Context, network xrpl.Network, hash string) string {
	sess, err := o.pool.Acquire(ctx, network)
	if err != nil {
		o.logger.WarnContext(ctx, "could not acquire session to read issuance id", "error", err)
		return ""
	}
	res, err := sess.Tx(ctx, hash)
	if err != nil {
		o.logger.WarnContext(ctx, "could not read issuance creation transaction", "tx_hash", hash, "error", err)
		return ""
	}
	return res.Meta.MPTIssuanceID
}
