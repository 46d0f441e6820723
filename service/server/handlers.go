package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/sablefin/mintd/service/db"
	"github.com/sablefin/mintd/service/mpt"
	"github.com/sablefin/mintd/service/xrpl"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for any lifecycle request
	maxAddressLength   = 64      // XRPL classic addresses are 25-35 chars, give buffer
)

var (
	// Valid XRPL classic address: base58 (no 0, O, I, l) starting with 'r'
	validAddressRegex = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)
)

// handleCreateIssuance returns a handler that creates a new token type
// on-chain and records it.
// POST /api/v1/issuances
func handleCreateIssuance(orc *mpt.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Network       string `json:"network"`
			IssuerAddress string `json:"issuer_address"`
			AssetScale    uint8  `json:"asset_scale"`
			MaxSupply     string `json:"max_supply"`
			TransferFee   uint16 `json:"transfer_fee"`
			CanTransfer   bool   `json:"can_transfer"`
			RequireAuth   bool   `json:"require_auth"`
			CanClawback   bool   `json:"can_clawback"`
			CanLock       bool   `json:"can_lock"`
			Metadata      string `json:"metadata"`
		}
		if !decodeRequest(w, r, &req, logger) {
			return
		}

		if err := validateNetwork(req.Network); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.IssuerAddress); err != nil {
			logger.Debug("invalid issuer address", "address", req.IssuerAddress, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := orc.CreateIssuance(r.Context(), mpt.CreateIssuanceParams{
			Network:       xrpl.Network(req.Network),
			IssuerAddress: req.IssuerAddress,
			AssetScale:    req.AssetScale,
			MaxSupply:     req.MaxSupply,
			TransferFee:   req.TransferFee,
			CanTransfer:   req.CanTransfer,
			RequireAuth:   req.RequireAuth,
			CanClawback:   req.CanClawback,
			CanLock:       req.CanLock,
			Metadata:      req.Metadata,
		})
		if err != nil {
			writeDomainError(w, logger, "create issuance", err)
			return
		}

		logger.Info("issuance created",
			"issuance_id", result.Issuance.ID,
			"mpt_issuance_id", result.MPTIssuanceID,
			"tx_hash", result.TxHash,
		)

		writeJSON(w, map[string]any{
			"issuance":         issuanceToResponse(result.Issuance),
			"outcome":          outcomeToResponse(result.Outcome),
			"reconcile_needed": result.ReconcileNeeded,
		}, http.StatusCreated)
	})
}

// handleGetIssuance returns a handler that retrieves one issuance.
// GET /api/v1/issuances/{id}
func handleGetIssuance(orc *mpt.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			writeError(w, "issuance id is required", http.StatusBadRequest)
			return
		}

		iss, err := orc.GetIssuance(r.Context(), id)
		if err != nil {
			writeDomainError(w, logger, "get issuance", err)
			return
		}

		writeJSON(w, issuanceToResponse(iss), http.StatusOK)
	})
}

// handleListIssuances returns a handler that lists issuances, optionally
// filtered by network.
// GET /api/v1/issuances?network={network}
func handleListIssuances(orc *mpt.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		network := r.URL.Query().Get("network")
		if network != "" {
			if err := validateNetwork(network); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		issuances, err := orc.ListIssuances(r.Context(), network)
		if err != nil {
			writeDomainError(w, logger, "list issuances", err)
			return
		}

		resp := make([]issuanceResponse, len(issuances))
		for i, iss := range issuances {
			resp[i] = issuanceToResponse(iss)
		}

		writeJSON(w, map[string]any{
			"issuances": resp,
			"count":     len(resp),
		}, http.StatusOK)
	})
}

// handleAuthorizeHolder returns a handler that authorizes a holder for an
// issuance. Custodial holders come back authorized; non-custodial holders
// get a pending record, a correlation id, and the payload to sign.
// POST /api/v1/issuances/{id}/authorizations
func handleAuthorizeHolder(orc *mpt.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		issuanceID := r.PathValue("id")
		if issuanceID == "" {
			writeError(w, "issuance id is required", http.StatusBadRequest)
			return
		}

		var req struct {
			HolderAddress string `json:"holder_address"`
		}
		if !decodeRequest(w, r, &req, logger) {
			return
		}

		if err := validateAddress(req.HolderAddress); err != nil {
			logger.Debug("invalid holder address", "address", req.HolderAddress, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		result, err := orc.AuthorizeHolder(r.Context(), mpt.AuthorizeHolderParams{
			IssuanceID:    issuanceID,
			HolderAddress: req.HolderAddress,
		})
		if err != nil {
			writeDomainError(w, logger, "authorize holder", err)
			return
		}

		logger.Info("holder authorization requested",
			"issuance_id", issuanceID,
			"holder", req.HolderAddress,
			"status", result.Status,
		)

		statusCode := http.StatusCreated
		if result.Status == db.AuthStatusPending {
			statusCode = http.StatusAccepted
		}

		resp := map[string]any{
			"authorization": authorizationToResponse(result.Authorization),
			"status":        result.Status,
		}
		if result.TxHash != "" {
			resp["tx_hash"] = result.TxHash
		}
		if result.CorrelationID != "" {
			resp["correlation_id"] = result.CorrelationID
		}
		if result.SigningPayload != nil {
			resp["signing_payload"] = result.SigningPayload
		}
		writeJSON(w, resp, statusCode)
	})
}

// handleListAuthorizations returns a handler that lists authorizations for
// an issuance with optional status and holder filters.
// GET /api/v1/issuances/{id}/authorizations?status={status}&holder={address}
func handleListAuthorizations(orc *mpt.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuanceID := r.PathValue("id")
		if issuanceID == "" {
			writeError(w, "issuance id is required", http.StatusBadRequest)
			return
		}

		status := r.URL.Query().Get("status")
		if status != "" && status != db.AuthStatusPending && status != db.AuthStatusAuthorized && status != db.AuthStatusRejected {
			writeError(w, "invalid status: must be 'pending', 'authorized', or 'rejected'", http.StatusBadRequest)
			return
		}

		holder := r.URL.Query().Get("holder")
		if holder != "" {
			if err := validateAddress(holder); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}

		auths, err := orc.ListAuthorizations(r.Context(), db.ListAuthorizationsParams{
			IssuanceID:   issuanceID,
			StatusFilter: status,
			HolderFilter: holder,
		})
		if err != nil {
			writeDomainError(w, logger, "list authorizations", err)
			return
		}

		resp := make([]authorizationResponse, len(auths))
		for i, auth := range auths {
			resp[i] = authorizationToResponse(auth)
		}

		writeJSON(w, map[string]any{
			"authorizations": resp,
			"count":          len(resp),
		}, http.StatusOK)
	})
}

// handleConfirmAuthorization returns a handler that settles a pending
// non-custodial authorization against an observed on-chain transaction.
// POST /api/v1/authorizations/confirm
func handleConfirmAuthorization(orc *mpt.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			CorrelationID string `json:"correlation_id"`
			TxHash        string `json:"tx_hash"`
		}
		if !decodeRequest(w, r, &req, logger) {
			return
		}

		if req.CorrelationID == "" {
			writeError(w, "correlation_id is required", http.StatusBadRequest)
			return
		}
		if req.TxHash == "" {
			writeError(w, "tx_hash is required", http.StatusBadRequest)
			return
		}

		auth, err := orc.ConfirmAuthorization(r.Context(), req.CorrelationID, req.TxHash)
		if err != nil {
			writeDomainError(w, logger, "confirm authorization", err)
			return
		}

		logger.Info("authorization confirmed",
			"correlation_id", req.CorrelationID,
			"status", auth.Status,
		)

		writeJSON(w, authorizationToResponse(auth), http.StatusOK)
	})
}

// handleTransfer returns a handler that mints or moves token value,
// exactly once per idempotency key.
// POST /api/v1/transfers
func handleTransfer(orc *mpt.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			IssuanceID         string `json:"issuance_id"`
			SourceAddress      string `json:"source_address"`
			DestinationAddress string `json:"destination_address"`
			Amount             string `json:"amount"`
			IdempotencyKey     string `json:"idempotency_key"`
			AutoAuthorize      bool   `json:"auto_authorize"`
		}
		if !decodeRequest(w, r, &req, logger) {
			return
		}

		if req.IssuanceID == "" {
			writeError(w, "issuance_id is required", http.StatusBadRequest)
			return
		}
		if req.IdempotencyKey == "" {
			writeError(w, "idempotency_key is required", http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.SourceAddress); err != nil {
			writeError(w, fmt.Sprintf("invalid source_address: %v", err), http.StatusBadRequest)
			return
		}
		if err := validateAddress(req.DestinationAddress); err != nil {
			writeError(w, fmt.Sprintf("invalid destination_address: %v", err), http.StatusBadRequest)
			return
		}

		result, err := orc.Transfer(r.Context(), mpt.TransferParams{
			IssuanceID:         req.IssuanceID,
			SourceAddress:      req.SourceAddress,
			DestinationAddress: req.DestinationAddress,
			Amount:             req.Amount,
			IdempotencyKey:     req.IdempotencyKey,
			AutoAuthorize:      req.AutoAuthorize,
		})
		if err != nil {
			writeDomainError(w, logger, "transfer", err)
			return
		}

		logger.Info("transfer completed",
			"issuance_id", req.IssuanceID,
			"idempotency_key", req.IdempotencyKey,
			"replayed", result.Replayed,
		)

		statusCode := http.StatusCreated
		if result.Replayed {
			statusCode = http.StatusOK
		}

		resp := map[string]any{
			"outcome":  outcomeToResponse(result.Outcome),
			"replayed": result.Replayed,
		}
		if result.Transfer != nil {
			resp["transfer"] = transferToResponse(result.Transfer)
		}
		if result.ReconcileNeeded {
			resp["reconcile_needed"] = true
		}
		writeJSON(w, resp, statusCode)
	})
}

// handleFreeze returns a handler that freezes or unfreezes an issuance,
// globally or for a single holder.
// POST /api/v1/issuances/{id}/freeze
func handleFreeze(orc *mpt.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		issuanceID := r.PathValue("id")
		if issuanceID == "" {
			writeError(w, "issuance id is required", http.StatusBadRequest)
			return
		}

		var req struct {
			Action        string `json:"action"` // "freeze" or "unfreeze"
			HolderAddress string `json:"holder_address,omitempty"`
		}
		if !decodeRequest(w, r, &req, logger) {
			return
		}

		if req.Action != "freeze" && req.Action != "unfreeze" {
			writeError(w, "invalid action: must be 'freeze' or 'unfreeze'", http.StatusBadRequest)
			return
		}
		if req.HolderAddress != "" {
			if err := validateAddress(req.HolderAddress); err != nil {
				writeError(w, fmt.Sprintf("invalid holder_address: %v", err), http.StatusBadRequest)
				return
			}
		}

		var result *mpt.ControlResult
		var err error
		if req.Action == "freeze" {
			result, err = orc.Freeze(r.Context(), issuanceID, req.HolderAddress)
		} else {
			result, err = orc.Unfreeze(r.Context(), issuanceID, req.HolderAddress)
		}
		if err != nil {
			writeDomainError(w, logger, req.Action, err)
			return
		}

		logger.Info("issuance lock changed",
			"issuance_id", issuanceID,
			"action", req.Action,
			"holder", req.HolderAddress,
		)

		writeJSON(w, map[string]any{
			"issuance": issuanceToResponse(result.Issuance),
			"tx_hash":  result.TxHash,
			"outcome":  outcomeToResponse(result.Outcome),
		}, http.StatusOK)
	})
}

// handleClawback returns a handler that claws token value back from a
// holder. Requires the clawback capability; checked before any network
// call.
// POST /api/v1/issuances/{id}/clawback
func handleClawback(orc *mpt.Orchestrator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		issuanceID := r.PathValue("id")
		if issuanceID == "" {
			writeError(w, "issuance id is required", http.StatusBadRequest)
			return
		}

		var req struct {
			HolderAddress string `json:"holder_address"`
			Amount        string `json:"amount"`
		}
		if !decodeRequest(w, r, &req, logger) {
			return
		}

		if err := validateAddress(req.HolderAddress); err != nil {
			writeError(w, fmt.Sprintf("invalid holder_address: %v", err), http.StatusBadRequest)
			return
		}

		result, err := orc.Clawback(r.Context(), mpt.ClawbackParams{
			IssuanceID:    issuanceID,
			HolderAddress: req.HolderAddress,
			Amount:        req.Amount,
		})
		if err != nil {
			writeDomainError(w, logger, "clawback", err)
			return
		}

		logger.Info("clawback completed",
			"issuance_id", issuanceID,
			"holder", req.HolderAddress,
			"tx_hash", result.TxHash,
		)

		writeJSON(w, map[string]any{
			"issuance": issuanceToResponse(result.Issuance),
			"tx_hash":  result.TxHash,
			"outcome":  outcomeToResponse(result.Outcome),
		}, http.StatusOK)
	})
}

// issuanceResponse is the JSON response format for an issuance.
type issuanceResponse struct {
	ID            string `json:"id"`
	Network       string `json:"network"`
	IssuerAddress string `json:"issuer_address"`
	AssetScale    uint8  `json:"asset_scale"`
	MaxSupply     string `json:"max_supply"`
	TransferFee   int32  `json:"transfer_fee"`
	CanTransfer   bool   `json:"can_transfer"`
	RequireAuth   bool   `json:"require_auth"`
	CanClawback   bool   `json:"can_clawback"`
	CanLock       bool   `json:"can_lock"`
	Metadata      string `json:"metadata,omitempty"`
	MPTIssuanceID string `json:"mpt_issuance_id"`
	CreateTxHash  string `json:"create_tx_hash"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func issuanceToResponse(iss *db.Issuance) issuanceResponse {
	return issuanceResponse{
		ID:            iss.ID,
		Network:       iss.Network,
		IssuerAddress: iss.IssuerAddress,
		AssetScale:    iss.AssetScale,
		MaxSupply:     iss.MaxSupply,
		TransferFee:   iss.TransferFee,
		CanTransfer:   iss.CanTransfer,
		RequireAuth:   iss.RequireAuth,
		CanClawback:   iss.CanClawback,
		CanLock:       iss.CanLock,
		Metadata:      iss.Metadata,
		MPTIssuanceID: iss.MPTIssuanceID,
		CreateTxHash:  iss.CreateTxHash,
		Status:        iss.Status,
		CreatedAt:     iss.CreatedAt.Format(timeFormat),
		UpdatedAt:     iss.UpdatedAt.Format(timeFormat),
	}
}

// authorizationResponse is the JSON response format for an authorization.
type authorizationResponse struct {
	ID            string  `json:"id"`
	IssuanceID    string  `json:"issuance_id"`
	HolderAddress string  `json:"holder_address"`
	Custody       string  `json:"custody"`
	Status        string  `json:"status"`
	TxHash        *string `json:"tx_hash,omitempty"`
	CorrelationID *string `json:"correlation_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

func authorizationToResponse(a *db.Authorization) authorizationResponse {
	return authorizationResponse{
		ID:            a.ID,
		IssuanceID:    a.IssuanceID,
		HolderAddress: a.HolderAddress,
		Custody:       a.Custody,
		Status:        a.Status,
		TxHash:        a.TxHash,
		CorrelationID: a.CorrelationID,
		CreatedAt:     a.CreatedAt.Format(timeFormat),
		UpdatedAt:     a.UpdatedAt.Format(timeFormat),
	}
}

// transferResponse is the JSON response format for a transfer record.
type transferResponse struct {
	IdempotencyKey     string `json:"idempotency_key"`
	IssuanceID         string `json:"issuance_id"`
	SourceAddress      string `json:"source_address"`
	DestinationAddress string `json:"destination_address"`
	Amount             string `json:"amount"`
	TxHash             string `json:"tx_hash"`
	EngineResult       string `json:"engine_result"`
	Validated          bool   `json:"validated"`
	TimedOut           bool   `json:"timed_out"`
	ElapsedMS          int64  `json:"elapsed_ms"`
	CreatedAt          string `json:"created_at"`
}

func transferToResponse(t *db.Transfer) transferResponse {
	return transferResponse{
		IdempotencyKey:     t.IdempotencyKey,
		IssuanceID:         t.IssuanceID,
		SourceAddress:      t.SourceAddress,
		DestinationAddress: t.DestinationAddress,
		Amount:             t.Amount,
		TxHash:             t.TxHash,
		EngineResult:       t.EngineResult,
		Validated:          t.Validated,
		TimedOut:           t.TimedOut,
		ElapsedMS:          t.ElapsedMS,
		CreatedAt:          t.CreatedAt.Format(timeFormat),
	}
}

// outcomeResponse is the JSON response format for a submission outcome.
type outcomeResponse struct {
	Validated    bool   `json:"validated"`
	TimedOut     bool   `json:"timed_out"`
	EngineResult string `json:"engine_result"`
	Hash         string `json:"hash"`
	ElapsedMS    int64  `json:"elapsed_ms"`
	Attempts     int    `json:"attempts"`
}

func outcomeToResponse(o *xrpl.Outcome) *outcomeResponse {
	if o == nil {
		return nil
	}
	return &outcomeResponse{
		Validated:    o.Validated,
		TimedOut:     o.TimedOut,
		EngineResult: o.EngineResult,
		Hash:         o.Hash,
		ElapsedMS:    o.Elapsed.Milliseconds(),
		Attempts:     o.Attempts,
	}
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// decodeRequest decodes the JSON request body into dst, writing the error
// response itself when decoding fails.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any, logger *slog.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.Debug("failed to decode request", "path", r.URL.Path, "error", err)
		if strings.Contains(err.Error(), "http: request body too large") {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// writeDomainError maps orchestrator errors onto HTTP status codes.
// Caller-input failures are 400, missing records 404, terminal-state
// conflicts 409, engine rejections and timeouts 422.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var subErr *mpt.SubmissionError
	switch {
	case mpt.IsCallerInput(err):
		logger.Debug("rejected caller input", "op", op, "error", err)
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, mpt.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, mpt.ErrAlreadyTerminal):
		writeError(w, "authorization already terminal", http.StatusConflict)
	case errors.As(err, &subErr):
		logger.Warn("submission failed", "op", op, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   subErr.Error(),
			"outcome": outcomeToResponse(subErr.Outcome),
		})
	default:
		logger.Error("operation failed", "op", op, "error", err)
		writeError(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// validateAddress validates an XRPL classic address.
func validateAddress(address string) error {
	if address == "" {
		return errorf("address is required")
	}

	if len(address) > maxAddressLength {
		return errorf("address too long: maximum length is %d characters", maxAddressLength)
	}

	if !validAddressRegex.MatchString(address) {
		return errorf("invalid address format: must be a classic address starting with 'r'")
	}

	return nil
}

// validateNetwork validates a network parameter.
func validateNetwork(network string) error {
	if network == "" {
		return errorf("network is required")
	}

	if !xrpl.ValidNetwork(xrpl.Network(network)) {
		return errorf("invalid network: must be 'mainnet', 'testnet', or 'devnet'")
	}

	return nil
}

// errorf is a helper to format error strings.
func errorf(format string, args ...any) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
