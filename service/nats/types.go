package nats

import "time"

// Event kinds published to JetStream. The subject is "mpt." + Kind, so
// consumers can subscribe to slices of the lifecycle ("mpt.issuance.*",
// "mpt.authorization.*") or everything ("mpt.>").
const (
	KindIssuanceCreated       = "issuance.created"
	KindIssuanceMinted        = "issuance.minted"
	KindIssuanceFrozen        = "issuance.frozen"
	KindIssuanceUnfrozen      = "issuance.unfrozen"
	KindIssuanceClawback      = "issuance.clawback"
	KindAuthorizationPending  = "authorization.pending"
	KindAuthorizationGranted  = "authorization.authorized"
	KindAuthorizationRejected = "authorization.rejected"
	KindTransferCompleted     = "transfer.completed"
	KindReconcileNeeded       = "reconcile.needed"
)

// LifecycleEvent is one MPT lifecycle transition, published after the
// on-chain outcome is known. Amounts are decimal strings, never floats.
type LifecycleEvent struct {
	Kind          string `json:"kind"`
	Network       string `json:"network"`
	IssuanceID    string `json:"issuance_id"`
	MPTIssuanceID string `json:"mpt_issuance_id,omitempty"`
	Holder        string `json:"holder,omitempty"`
	Amount        string `json:"amount,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
	EngineResult  string `json:"engine_result,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// Detail carries kind-specific context, e.g. the reason a reconcile is
	// needed.
	Detail string `json:"detail,omitempty"`

	OccurredAt  time.Time `json:"occurred_at"`
	PublishedAt time.Time `json:"published_at"`
}
