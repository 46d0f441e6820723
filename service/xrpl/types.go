package xrpl

import (
	"encoding/json"
	"fmt"
	"time"
)

// Network identifies a logical XRPL network. The pool keeps at most one live
// session per network.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkDevnet  Network = "devnet"
)

// ValidNetwork reports whether n is a network this service knows about.
func ValidNetwork(n Network) bool {
	switch n {
	case NetworkMainnet, NetworkTestnet, NetworkDevnet:
		return true
	}
	return false
}

// rpcRequest is the envelope for a WebSocket API command.
// Command-specific fields are flattened into the same JSON object, so we
// build requests as maps and only type the envelope keys we always set.
type rpcRequest map[string]any

// rpcResponse is the envelope the server sends back for a request.
type rpcResponse struct {
	ID           uint64          `json:"id"`
	Status       string          `json:"status"` // "success" or "error"
	Type         string          `json:"type"`   // "response" for command replies
	ErrorCode    string          `json:"error,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Request      json.RawMessage `json:"request,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// RPCError is a command-level error returned by the ledger node (as opposed
// to a transport failure). The code is the node's short error token, e.g.
// "txnNotFound" or "actNotFound".
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("xrpl: %s", e.Code)
	}
	return fmt.Sprintf("xrpl: %s: %s", e.Code, e.Message)
}

// IsRPCErrorCode reports whether err is an RPCError with the given code.
func IsRPCErrorCode(err error, code string) bool {
	rpcErr, ok := err.(*RPCError)
	return ok && rpcErr.Code == code
}

// ServerInfoResult is the subset of the server_info response we use for
// health checks.
type ServerInfoResult struct {
	Info struct {
		BuildVersion    string `json:"build_version"`
		CompleteLedgers string `json:"complete_ledgers"`
		ServerState     string `json:"server_state"`
		ValidatedLedger struct {
			Seq int64 `json:"seq"`
		} `json:"validated_ledger"`
	} `json:"info"`
}

// Healthy reports whether the node is in a state that can accept
// transactions. Anything syncing or disconnected is treated as unhealthy so
// the pool fails over to the next candidate endpoint.
func (r *ServerInfoResult) Healthy() bool {
	switch r.Info.ServerState {
	case "full", "validating", "proposing":
		return true
	}
	return false
}

// AccountInfoResult carries the account fields needed for transaction
// sequencing.
type AccountInfoResult struct {
	AccountData struct {
		Account  string `json:"Account"`
		Balance  string `json:"Balance"`
		Sequence uint32 `json:"Sequence"`
	} `json:"account_data"`
	LedgerCurrentIndex int64 `json:"ledger_current_index"`
	Validated          bool  `json:"validated"`
}

// SubmitResult is the immediate acknowledgement for a submit command. The
// engine result here is provisional; the authoritative result comes from the
// validated transaction metadata.
type SubmitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultCode    int    `json:"engine_result_code"`
	EngineResultMessage string `json:"engine_result_message"`
	Accepted            bool   `json:"accepted"`
	Applied             bool   `json:"applied"`
	Queued              bool   `json:"queued"`
	TxBlob              string `json:"tx_blob"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
	ValidatedLedgerIndex int64 `json:"validated_ledger_index"`
}

// TxResult is the response to a tx lookup. Once Validated is true the
// metadata's TransactionResult is the final engine result for the
// transaction.
type TxResult struct {
	Hash            string `json:"hash"`
	LedgerIndex     int64  `json:"ledger_index"`
	Validated       bool   `json:"validated"`
	TransactionType string `json:"TransactionType"`
	Account         string `json:"Account"`
	Destination     string `json:"Destination,omitempty"`
	Holder          string `json:"Holder,omitempty"`
	MPTIssuanceID   string `json:"MPTokenIssuanceID,omitempty"`
	Meta            TxMeta `json:"meta"`
}

// TxMeta is the transaction metadata recorded in a validated ledger.
type TxMeta struct {
	TransactionResult string `json:"TransactionResult"`
	MPTIssuanceID     string `json:"mpt_issuance_id,omitempty"`
}

// accountTxResult is the envelope for account_tx responses.
type accountTxResult struct {
	Account      string `json:"account"`
	Transactions []struct {
		Meta      TxMeta   `json:"meta"`
		Tx        TxResult `json:"tx"`
		Validated bool     `json:"validated"`
	} `json:"transactions"`
}

// FinalResult returns the authoritative engine result for a validated
// transaction, or the empty string if the transaction is not yet validated.
func (r *TxResult) FinalResult() string {
	if !r.Validated {
		return ""
	}
	return r.Meta.TransactionResult
}

// Outcome is the result of one submit-and-wait cycle. Exactly one of three
// shapes is produced:
//   - Validated:  the transaction is in a validated ledger; EngineResult is
//     the final result code (which may still be a tec failure).
//   - TimedOut:   the wait window elapsed without validation. Not a failure;
//     the caller decides whether to rebuild and resubmit.
//   - neither:    the submission was rejected before validation and retries
//     were exhausted; EngineResult carries the last observed code.
type Outcome struct {
	Validated    bool          `json:"validated"`
	TimedOut     bool          `json:"timed_out"`
	EngineResult string        `json:"engine_result"`
	Hash         string        `json:"hash"`
	Elapsed      time.Duration `json:"elapsed"`
	Attempts     int           `json:"attempts"`
}

// Succeeded reports whether the transaction landed in a validated ledger
// with the success engine result.
func (o *Outcome) Succeeded() bool {
	return o.Validated && o.EngineResult == ResultSuccess
}
