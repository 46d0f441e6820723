package xrpl

// Transaction payloads for the MPT lifecycle. Field names follow the
// ledger's canonical JSON (capitalized, no omitempty on required fields).

// MPTokenIssuanceCreate flags.
const (
	TfMPTCanLock     uint32 = 0x0002
	TfMPTRequireAuth uint32 = 0x0004
	TfMPTCanEscrow   uint32 = 0x0008
	TfMPTCanTrade    uint32 = 0x0010
	TfMPTCanTransfer uint32 = 0x0020
	TfMPTCanClawback uint32 = 0x0040
)

// MPTokenIssuanceSet flags.
const (
	TfMPTLock   uint32 = 0x0001
	TfMPTUnlock uint32 = 0x0002
)

// MPTokenAuthorize flags.
const (
	TfMPTUnauthorize uint32 = 0x0001
)

// Tx is any transaction payload. All payloads embed BaseTx, which
// implements Base, so signers and builders can reach the common fields
// without reflection.
type Tx interface {
	Base() *BaseTx
}

// BaseTx holds the fields common to every transaction. Sequence and
// LastLedgerSequence are filled by the orchestrator from account_info and
// the current validated ledger; SigningPubKey and TxnSignature are filled by
// the signer.
type BaseTx struct {
	TransactionType    string `json:"TransactionType"`
	Account            string `json:"Account"`
	Fee                string `json:"Fee"`
	Sequence           uint32 `json:"Sequence"`
	LastLedgerSequence uint32 `json:"LastLedgerSequence,omitempty"`
	Flags              uint32 `json:"Flags,omitempty"`
	SigningPubKey      string `json:"SigningPubKey,omitempty"`
	TxnSignature       string `json:"TxnSignature,omitempty"`
}

// Base returns the embedded common fields.
func (b *BaseTx) Base() *BaseTx { return b }

// MPTokenIssuanceCreate defines a new token type on-chain.
type MPTokenIssuanceCreate struct {
	BaseTx
	AssetScale      uint8  `json:"AssetScale"`
	MaximumAmount   string `json:"MaximumAmount,omitempty"`
	TransferFee     uint16 `json:"TransferFee,omitempty"`
	MPTokenMetadata string `json:"MPTokenMetadata,omitempty"` // hex-encoded
}

// MPTokenAuthorize authorizes (or, with TfMPTUnauthorize, deauthorizes) a
// holder for an issuance. Submitted by the issuer with Holder set, or by the
// holder itself with Holder empty.
type MPTokenAuthorize struct {
	BaseTx
	MPTokenIssuanceID string `json:"MPTokenIssuanceID"`
	Holder            string `json:"Holder,omitempty"`
}

// MPTokenIssuanceSet locks or unlocks an issuance (globally or per holder).
type MPTokenIssuanceSet struct {
	BaseTx
	MPTokenIssuanceID string `json:"MPTokenIssuanceID"`
	Holder            string `json:"Holder,omitempty"`
}

// MPTAmount is the amount object used by Payment and Clawback for MPTs.
// Value is an integer count of base units as a decimal string.
type MPTAmount struct {
	MPTIssuanceID string `json:"mpt_issuance_id"`
	Value         string `json:"value"`
}

// Payment moves MPT units between accounts.
type Payment struct {
	BaseTx
	Destination string    `json:"Destination"`
	Amount      MPTAmount `json:"Amount"`
}

// Clawback reclaims MPT units from a holder. Only valid when the issuance
// was created with TfMPTCanClawback.
type Clawback struct {
	BaseTx
	Amount MPTAmount `json:"Amount"`
	Holder string    `json:"Holder"`
}

// Transaction type names.
const (
	TxTypeMPTokenIssuanceCreate = "MPTokenIssuanceCreate"
	TxTypeMPTokenAuthorize      = "MPTokenAuthorize"
	TxTypeMPTokenIssuanceSet    = "MPTokenIssuanceSet"
	TxTypePayment               = "Payment"
	TxTypeClawback              = "Clawback"
)
