package xrpl

import "time"

// Engine result codes this service has explicit policy for. Codes are the
// ledger's short tokens; the class prefix (tes/tec/ter/tef/tel/tem) encodes
// roughly how final the result is, but the retry policy is decided per code,
// not per class.
const (
	ResultSuccess = "tesSUCCESS"
	ResultQueued  = "terQUEUED"

	resultInsufFeeP       = "telINSUF_FEE_P"
	resultCanNotQueue     = "telCAN_NOT_QUEUE"
	resultCanNotQueueFull = "telCAN_NOT_QUEUE_FULL"

	resultPathDry     = "tecPATH_DRY"
	resultPathPartial = "tecPATH_PARTIAL"

	resultMaxLedger = "tefMAX_LEDGER"
	resultPastSeq   = "tefPAST_SEQ"
	resultPreSeq    = "terPRE_SEQ"

	resultUnfunded          = "tecUNFUNDED"
	resultUnfundedPayment   = "tecUNFUNDED_PAYMENT"
	resultInsufficientRes   = "tecINSUFFICIENT_RESERVE"
	resultNoDstInsufXRP     = "tecNO_DST_INSUF_XRP"
	resultInsufficientFunds = "tecINSUFFICIENT_FUNDS"

	resultNoAuth    = "tecNO_AUTH"
	resultFrozen    = "tecFROZEN"
	resultLocked    = "tecLOCKED"
	resultNoLine    = "tecNO_LINE"
	resultDuplicate = "tecDUPLICATE"
)

// Action tells the caller what to do with a rejected (or succeeded)
// transaction.
type Action string

const (
	// ActionRetry: submit the identical signed blob again after backoff.
	ActionRetry Action = "retry"
	// ActionResubmit: the blob is dead; rebuild the transaction with fresh
	// sequencing/expiry (and run the corrective step, if any) and submit the
	// new blob once.
	ActionResubmit Action = "resubmit"
	// ActionSkip: nothing to do; the intended state already holds.
	ActionSkip Action = "skip"
	// ActionFail: terminal failure, surface to the caller.
	ActionFail Action = "fail"
	// ActionManualReview: terminal, but flagged for operator attention.
	ActionManualReview Action = "manual_review"
)

// CorrectiveStep names the fix the orchestrator must apply before a
// resubmit. The taxonomy only names the step; performing it is the
// orchestrator's job.
type CorrectiveStep string

const (
	CorrectNone          CorrectiveStep = ""
	CorrectAuthorize     CorrectiveStep = "authorize_holder"
	CorrectEstablishLine CorrectiveStep = "establish_line"
)

// RetryPolicy is the policy for one engine result code.
type RetryPolicy struct {
	Action      Action
	Retryable   bool
	BackoffBase time.Duration // base for exponential backoff (base << attempt)
	MaxAttempts int           // total attempts, including the first
	Corrective  CorrectiveStep
	// UserCorrectable marks failures the caller can fix (e.g. fund the
	// account) as opposed to bugs or policy violations.
	UserCorrectable bool
}

// defaultPolicy is applied to any code without an explicit row. Unknown
// codes fail closed: retrying a code we cannot classify risks duplicate
// effects.
var defaultPolicy = RetryPolicy{Action: ActionFail, Retryable: false, MaxAttempts: 1}

var retryTable = map[string]RetryPolicy{
	// Terminal success: the intended state holds, nothing to redo.
	ResultSuccess: {Action: ActionSkip, Retryable: false, MaxAttempts: 1},

	// Transient local errors: the node was busy or its open-ledger fee
	// spiked. The same blob can be retried as-is.
	resultInsufFeeP:       {Action: ActionRetry, Retryable: true, BackoffBase: 500 * time.Millisecond, MaxAttempts: 5},
	resultCanNotQueue:     {Action: ActionRetry, Retryable: true, BackoffBase: 500 * time.Millisecond, MaxAttempts: 5},
	resultCanNotQueueFull: {Action: ActionRetry, Retryable: true, BackoffBase: time.Second, MaxAttempts: 5},

	// Liquidity/path timing: may clear as offers move. Limited attempts.
	resultPathDry:     {Action: ActionRetry, Retryable: true, BackoffBase: time.Second, MaxAttempts: 3},
	resultPathPartial: {Action: ActionRetry, Retryable: true, BackoffBase: time.Second, MaxAttempts: 3},

	// The validity window expired; the blob can never succeed. Rebuild with
	// a fresh LastLedgerSequence.
	resultMaxLedger: {Action: ActionResubmit, Retryable: false, MaxAttempts: 1},

	// Sequence already consumed; rebuild with the current account sequence.
	resultPastSeq: {Action: ActionResubmit, Retryable: false, MaxAttempts: 1},

	// Sequence in the future; earlier transactions haven't landed yet. Wait
	// for them, same blob.
	resultPreSeq: {Action: ActionRetry, Retryable: true, BackoffBase: time.Second, MaxAttempts: 5},

	// Funds/reserve problems are for the caller to fix, not for us to retry.
	resultUnfunded:          {Action: ActionFail, UserCorrectable: true, MaxAttempts: 1},
	resultUnfundedPayment:   {Action: ActionFail, UserCorrectable: true, MaxAttempts: 1},
	resultInsufficientRes:   {Action: ActionFail, UserCorrectable: true, MaxAttempts: 1},
	resultNoDstInsufXRP:     {Action: ActionFail, UserCorrectable: true, MaxAttempts: 1},
	resultInsufficientFunds: {Action: ActionFail, UserCorrectable: true, MaxAttempts: 1},

	// Missing authorization: compound policy. The orchestrator authorizes
	// the holder (if it custodies the holder) and resubmits once.
	resultNoAuth: {Action: ActionResubmit, Corrective: CorrectAuthorize, MaxAttempts: 1},

	// Frozen or locked assets never clear on retry.
	resultFrozen: {Action: ActionFail, MaxAttempts: 1},
	resultLocked: {Action: ActionFail, MaxAttempts: 1},

	// Missing trust/relationship line: establish it, then resubmit once.
	resultNoLine: {Action: ActionResubmit, Corrective: CorrectEstablishLine, MaxAttempts: 1},

	// The relationship already exists; redundant, not an error.
	resultDuplicate: {Action: ActionSkip, Retryable: false, MaxAttempts: 1},
}

// Classify returns the retry policy for an engine result code. It is a pure
// lookup: same code, same policy, no side effects. Codes without an explicit
// row get the conservative non-retryable fail policy.
func Classify(code string) RetryPolicy {
	if p, ok := retryTable[code]; ok {
		return p
	}
	return defaultPolicy
}

// Provisional reports whether a submit acknowledgement code means the
// transaction was provisionally accepted (applied to the open ledger or
// queued) and validation polling should begin.
func Provisional(code string) bool {
	return code == ResultSuccess || code == ResultQueued
}

// AuthorizationFailure reports whether a code is the authorization-class
// rejection (holder not authorized for the issuance).
func AuthorizationFailure(code string) bool {
	return code == resultNoAuth
}
