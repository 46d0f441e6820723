package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Issuance is a token type managed by the mintd service.
type Issuance struct {
	ID            string    `json:"id"`
	Network       string    `json:"network"`
	IssuerAddress string    `json:"issuer_address"`
	AssetScale    uint8     `json:"asset_scale"`
	MaxSupply     string    `json:"max_supply"`
	TransferFee   int32     `json:"transfer_fee"`
	CanTransfer   bool      `json:"can_transfer"`
	RequireAuth   bool      `json:"require_auth"`
	CanClawback   bool      `json:"can_clawback"`
	CanLock       bool      `json:"can_lock"`
	Metadata      string    `json:"metadata,omitempty"`
	MPTIssuanceID string    `json:"mpt_issuance_id"`
	CreateTxHash  string    `json:"create_tx_hash"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Authorization is a per-holder permission record for an issuance.
type Authorization struct {
	ID            string    `json:"id"`
	IssuanceID    string    `json:"issuance_id"`
	HolderAddress string    `json:"holder_address"`
	Custody       string    `json:"custody"`
	Status        string    `json:"status"`
	TxHash        *string   `json:"tx_hash,omitempty"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Transfer is the recorded outcome of a mint or transfer request.
type Transfer struct {
	IdempotencyKey     string    `json:"idempotency_key"`
	IssuanceID         string    `json:"issuance_id"`
	SourceAddress      string    `json:"source_address"`
	DestinationAddress string    `json:"destination_address"`
	Amount             string    `json:"amount"`
	TxHash             string    `json:"tx_hash"`
	EngineResult       string    `json:"engine_result"`
	Validated          bool      `json:"validated"`
	TimedOut           bool      `json:"timed_out"`
	ElapsedMS          int64     `json:"elapsed_ms"`
	CreatedAt          time.Time `json:"created_at"`
}

// Outcome summarizes one submit-and-wait cycle.
type Outcome struct {
	Validated    bool   `json:"validated"`
	TimedOut     bool   `json:"timed_out"`
	EngineResult string `json:"engine_result"`
	Hash         string `json:"hash"`
	ElapsedMS    int64  `json:"elapsed_ms"`
	Attempts     int    `json:"attempts"`
}

// CreateIssuanceRequest contains the parameters for creating a token type.
type CreateIssuanceRequest struct {
	Network       string `json:"network"`
	IssuerAddress string `json:"issuer_address"`
	AssetScale    uint8  `json:"asset_scale"`
	MaxSupply     string `json:"max_supply"`
	TransferFee   uint16 `json:"transfer_fee,omitempty"`
	CanTransfer   bool   `json:"can_transfer"`
	RequireAuth   bool   `json:"require_auth"`
	CanClawback   bool   `json:"can_clawback"`
	CanLock       bool   `json:"can_lock"`
	Metadata      string `json:"metadata,omitempty"`
}

// IssuanceResult is the response to a create-issuance call.
type IssuanceResult struct {
	Issuance        *Issuance `json:"issuance"`
	Outcome         *Outcome  `json:"outcome"`
	ReconcileNeeded bool      `json:"reconcile_needed"`
}

// AuthorizationResult is the response to an authorize-holder call. For
// non-custodial holders SigningPayload carries the transaction the holder
// must sign and submit themselves.
type AuthorizationResult struct {
	Authorization  *Authorization  `json:"authorization"`
	Status         string          `json:"status"`
	TxHash         string          `json:"tx_hash,omitempty"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	SigningPayload json.RawMessage `json:"signing_payload,omitempty"`
}

// TransferRequest contains the parameters for a mint or transfer.
type TransferRequest struct {
	IssuanceID         string `json:"issuance_id"`
	SourceAddress      string `json:"source_address"`
	DestinationAddress string `json:"destination_address"`
	Amount             string `json:"amount"`
	IdempotencyKey     string `json:"idempotency_key"`
	AutoAuthorize      bool   `json:"auto_authorize,omitempty"`
}

// TransferResult is the response to a transfer call.
type TransferResult struct {
	Transfer        *Transfer `json:"transfer"`
	Outcome         *Outcome  `json:"outcome"`
	Replayed        bool      `json:"replayed"`
	ReconcileNeeded bool      `json:"reconcile_needed"`
}

// ControlResult is the response to a freeze, unfreeze, or clawback call.
type ControlResult struct {
	Issuance *Issuance `json:"issuance"`
	TxHash   string    `json:"tx_hash"`
	Outcome  *Outcome  `json:"outcome"`
}

// Client is the HTTP client for the mintd token lifecycle service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new mintd service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreateIssuance creates a new token type on-chain.
func (c *Client) CreateIssuance(ctx context.Context, req CreateIssuanceRequest) (*IssuanceResult, error) {
	var result IssuanceResult
	if err := c.post(ctx, "/api/v1/issuances", req, &result, http.StatusCreated); err != nil {
		return nil, err
	}
	c.logger.Debug("issuance created", "issuance_id", result.Issuance.ID)
	return &result, nil
}

// GetIssuance retrieves one issuance by id.
func (c *Client) GetIssuance(ctx context.Context, id string) (*Issuance, error) {
	var iss Issuance
	u := fmt.Sprintf("/api/v1/issuances/%s", url.PathEscape(id))
	if err := c.get(ctx, u, &iss); err != nil {
		return nil, err
	}
	return &iss, nil
}

// ListIssuances lists issuances, optionally filtered by network.
func (c *Client) ListIssuances(ctx context.Context, network string) ([]*Issuance, error) {
	u := "/api/v1/issuances"
	if network != "" {
		u += "?network=" + url.QueryEscape(network)
	}
	var response struct {
		Issuances []*Issuance `json:"issuances"`
	}
	if err := c.get(ctx, u, &response); err != nil {
		return nil, err
	}
	return response.Issuances, nil
}

// AuthorizeHolder authorizes a holder for an issuance. Custodial holders
// come back authorized; non-custodial holders get a pending record plus the
// payload to sign externally.
func (c *Client) AuthorizeHolder(ctx context.Context, issuanceID, holderAddress string) (*AuthorizationResult, error) {
	var result AuthorizationResult
	u := fmt.Sprintf("/api/v1/issuances/%s/authorizations", url.PathEscape(issuanceID))
	body := map[string]string{"holder_address": holderAddress}
	if err := c.post(ctx, u, body, &result, http.StatusCreated, http.StatusAccepted); err != nil {
		return nil, err
	}
	c.logger.Debug("holder authorization requested",
		"issuance_id", issuanceID, "holder", holderAddress, "status", result.Status)
	return &result, nil
}

// ConfirmAuthorization settles a pending non-custodial authorization against
// an observed on-chain transaction hash.
func (c *Client) ConfirmAuthorization(ctx context.Context, correlationID, txHash string) (*Authorization, error) {
	var auth Authorization
	body := map[string]string{"correlation_id": correlationID, "tx_hash": txHash}
	if err := c.post(ctx, "/api/v1/authorizations/confirm", body, &auth, http.StatusOK); err != nil {
		return nil, err
	}
	return &auth, nil
}

// ListAuthorizations lists authorizations for an issuance. Status and holder
// are optional filters.
func (c *Client) ListAuthorizations(ctx context.Context, issuanceID, status, holder string) ([]*Authorization, error) {
	u := fmt.Sprintf("/api/v1/issuances/%s/authorizations", url.PathEscape(issuanceID))
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if holder != "" {
		q.Set("holder", holder)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var response struct {
		Authorizations []*Authorization `json:"authorizations"`
	}
	if err := c.get(ctx, u, &response); err != nil {
		return nil, err
	}
	return response.Authorizations, nil
}

// Transfer mints or moves token value, exactly once per idempotency key.
// Replaying a settled key returns the stored outcome with Replayed set.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	var result TransferResult
	if err := c.post(ctx, "/api/v1/transfers", req, &result, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}
	c.logger.Debug("transfer completed",
		"idempotency_key", req.IdempotencyKey, "replayed", result.Replayed)
	return &result, nil
}

// Freeze locks an issuance. With an empty holder the lock is global;
// otherwise only the holder's balance is locked.
func (c *Client) Freeze(ctx context.Context, issuanceID, holder string) (*ControlResult, error) {
	return c.setLock(ctx, issuanceID, holder, "freeze")
}

// Unfreeze reverses a freeze.
func (c *Client) Unfreeze(ctx context.Context, issuanceID, holder string) (*ControlResult, error) {
	return c.setLock(ctx, issuanceID, holder, "unfreeze")
}

func (c *Client) setLock(ctx context.Context, issuanceID, holder, action string) (*ControlResult, error) {
	var result ControlResult
	u := fmt.Sprintf("/api/v1/issuances/%s/freeze", url.PathEscape(issuanceID))
	body := map[string]string{"action": action}
	if holder != "" {
		body["holder_address"] = holder
	}
	if err := c.post(ctx, u, body, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

// Clawback claws token value back from a holder.
func (c *Client) Clawback(ctx context.Context, issuanceID, holder, amount string) (*ControlResult, error) {
	var result ControlResult
	u := fmt.Sprintf("/api/v1/issuances/%s/clawback", url.PathEscape(issuanceID))
	body := map[string]string{"holder_address": holder, "amount": amount}
	if err := c.post(ctx, u, body, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any, wantStatus ...int) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	ok := false
	for _, status := range wantStatus {
		if resp.StatusCode == status {
			ok = true
			break
		}
	}
	if !ok {
		return c.parseErrorResponse(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
