package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sablefin/mintd/service/db"
	"github.com/sablefin/mintd/service/metrics"
	"github.com/sablefin/mintd/service/mpt"
	natspkg "github.com/sablefin/mintd/service/nats"
	"github.com/sablefin/mintd/service/xrpl"
)

const (
	testIssuer   = "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"
	testHolder   = "rPT1Sjq2YGrBMTttX4GZHjKu9dyfzbpAYe"
	testExternal = "rLHzPsX6oXkzU2qL12kHCH8G8cnZv1rBJh"
	testMPTID    = "00000F5DB95C05C1250AEFA7070B390CD1E2A70FB51B1F3A"
)

// fakeStore is an in-memory mpt.Store sufficient for handler tests.
type fakeStore struct {
	mu        sync.Mutex
	issuances map[string]*db.Issuance
	auths     map[string]*db.Authorization
	transfers map[string]*db.Transfer
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		issuances: make(map[string]*db.Issuance),
		auths:     make(map[string]*db.Authorization),
		transfers: make(map[string]*db.Transfer),
	}
}

func (s *fakeStore) CreateIssuance(ctx context.Context, params db.CreateIssuanceParams) (*db.Issuance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss := &db.Issuance{
		ID:            params.ID,
		Network:       params.Network,
		IssuerAddress: params.IssuerAddress,
		AssetScale:    params.AssetScale,
		MaxSupply:     params.MaxSupply,
		TransferFee:   params.TransferFee,
		CanTransfer:   params.CanTransfer,
		RequireAuth:   params.RequireAuth,
		CanClawback:   params.CanClawback,
		CanLock:       params.CanLock,
		Metadata:      params.Metadata,
		MPTIssuanceID: params.MPTIssuanceID,
		CreateTxHash:  params.CreateTxHash,
		Status:        db.IssuanceStatusCreated,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.issuances[iss.ID] = iss
	return iss, nil
}

func (s *fakeStore) GetIssuance(ctx context.Context, id string) (*db.Issuance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss, ok := s.issuances[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *iss
	return &cp, nil
}

func (s *fakeStore) ListIssuances(ctx context.Context, network string) ([]*db.Issuance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Issuance
	for _, iss := range s.issuances {
		if network == "" || iss.Network == network {
			cp := *iss
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateIssuanceStatus(ctx context.Context, id, status string) (*db.Issuance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	iss, ok := s.issuances[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	iss.Status = status
	iss.UpdatedAt = time.Now()
	cp := *iss
	return &cp, nil
}

func (s *fakeStore) CreateAuthorization(ctx context.Context, params db.CreateAuthorizationParams) (*db.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.auths {
		if a.IssuanceID == params.IssuanceID && a.HolderAddress == params.HolderAddress && !a.Terminal() {
			return nil, db.ErrDuplicatePending
		}
	}
	auth := &db.Authorization{
		ID:            params.ID,
		IssuanceID:    params.IssuanceID,
		HolderAddress: params.HolderAddress,
		Custody:       params.Custody,
		Status:        params.Status,
		TxHash:        params.TxHash,
		CorrelationID: params.CorrelationID,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.auths[auth.ID] = auth
	cp := *auth
	return &cp, nil
}

func (s *fakeStore) GetAuthorization(ctx context.Context, issuanceID, holderAddress string) (*db.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *db.Authorization
	for _, a := range s.auths {
		if a.IssuanceID == issuanceID && a.HolderAddress == holderAddress {
			if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
				latest = a
			}
		}
	}
	if latest == nil {
		return nil, db.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *fakeStore) GetAuthorizationByCorrelationID(ctx context.Context, correlationID string) (*db.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.auths {
		if a.CorrelationID != nil && *a.CorrelationID == correlationID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *fakeStore) FinalizeAuthorization(ctx context.Context, id, status string, txHash *string) (*db.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	auth, ok := s.auths[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	if auth.Terminal() {
		return nil, db.ErrAlreadyTerminal
	}
	auth.Status = status
	if txHash != nil {
		auth.TxHash = txHash
	}
	auth.UpdatedAt = time.Now()
	cp := *auth
	return &cp, nil
}

func (s *fakeStore) ListAuthorizations(ctx context.Context, params db.ListAuthorizationsParams) ([]*db.Authorization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Authorization
	for _, a := range s.auths {
		if a.IssuanceID != params.IssuanceID {
			continue
		}
		if params.StatusFilter != "" && a.Status != params.StatusFilter {
			continue
		}
		if params.HolderFilter != "" && a.HolderAddress != params.HolderFilter {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) ListStalePendingAuthorizations(ctx context.Context, cutoff time.Time, limit int32) ([]*db.Authorization, error) {
	return nil, nil
}

func (s *fakeStore) CreateTransfer(ctx context.Context, params db.CreateTransferParams) (*db.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transfers[params.IdempotencyKey]; ok {
		return nil, db.ErrDuplicateKey
	}
	t := &db.Transfer{
		IdempotencyKey:     params.IdempotencyKey,
		IssuanceID:         params.IssuanceID,
		SourceAddress:      params.SourceAddress,
		DestinationAddress: params.DestinationAddress,
		Amount:             params.Amount,
		TxHash:             params.TxHash,
		EngineResult:       params.EngineResult,
		Validated:          params.Validated,
		TimedOut:           params.TimedOut,
		ElapsedMS:          params.ElapsedMS,
		CreatedAt:          time.Now(),
	}
	s.transfers[t.IdempotencyKey] = t
	cp := *t
	return &cp, nil
}

func (s *fakeStore) GetTransfer(ctx context.Context, idempotencyKey string) (*db.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transfers[idempotencyKey]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// fakeSubmitter acknowledges every blob with a scripted outcome.
type fakeSubmitter struct {
	mu      sync.Mutex
	outcome *xrpl.Outcome
	submits int
}

func (f *fakeSubmitter) SubmitAndWait(ctx context.Context, txBlob string, network xrpl.Network) (*xrpl.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	if f.outcome != nil {
		cp := *f.outcome
		return &cp, nil
	}
	return &xrpl.Outcome{
		Validated:    true,
		EngineResult: xrpl.ResultSuccess,
		Hash:         fmt.Sprintf("HASH%04d", f.submits),
		Attempts:     1,
	}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

// fakeLedger is both the connection provider and the single session it
// hands out.
type fakeLedger struct{}

func (f *fakeLedger) Acquire(ctx context.Context, network xrpl.Network) (xrpl.Session, error) {
	return f, nil
}

func (f *fakeLedger) ServerInfo(ctx context.Context) (*xrpl.ServerInfoResult, error) {
	return &xrpl.ServerInfoResult{}, nil
}

func (f *fakeLedger) AccountInfo(ctx context.Context, account string) (*xrpl.AccountInfoResult, error) {
	var res xrpl.AccountInfoResult
	res.AccountData.Account = account
	res.AccountData.Sequence = 7
	res.LedgerCurrentIndex = 1000
	res.Validated = true
	return &res, nil
}

func (f *fakeLedger) Submit(ctx context.Context, txBlob string) (*xrpl.SubmitResult, error) {
	return &xrpl.SubmitResult{EngineResult: xrpl.ResultSuccess}, nil
}

func (f *fakeLedger) Tx(ctx context.Context, hash string) (*xrpl.TxResult, error) {
	res := &xrpl.TxResult{Hash: hash, Validated: true}
	res.Meta.TransactionResult = xrpl.ResultSuccess
	res.Meta.MPTIssuanceID = testMPTID
	return res, nil
}

func (f *fakeLedger) AccountTx(ctx context.Context, account string, limit int) ([]*xrpl.TxResult, error) {
	return nil, nil
}

func (f *fakeLedger) Alive() bool         { return true }
func (f *fakeLedger) LastUsed() time.Time { return time.Now() }
func (f *fakeLedger) Close() error        { return nil }

type handlerHarness struct {
	store     *fakeStore
	submitter *fakeSubmitter
	orc       *mpt.Orchestrator
	logger    *slog.Logger
}

func newHandlerHarness(t *testing.T) *handlerHarness {
	t.Helper()

	store := newFakeStore()
	submitter := &fakeSubmitter{}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))

	keyring := mpt.StaticKeyring{}
	for _, addr := range []string{testIssuer, testHolder} {
		seed := bytes.Repeat([]byte{0x42}, 32)
		signer, err := mpt.NewLocalSigner(addr, seed)
		require.NoError(t, err)
		keyring.Add(signer)
	}

	orc := mpt.NewOrchestrator(mpt.Config{
		Store:     store,
		Submitter: submitter,
		Pool:      &fakeLedger{},
		Keyring:   keyring,
		Publisher: natspkg.NewMockPublisher(),
		Metrics:   metrics.NewMetrics(prometheus.NewRegistry()),
		Logger:    logger,
	})

	return &handlerHarness{store: store, submitter: submitter, orc: orc, logger: logger}
}

// seedIssuance installs an issuance row directly, bypassing the on-chain
// creation path.
func (h *handlerHarness) seedIssuance(t *testing.T, mutate func(*db.Issuance)) *db.Issuance {
	t.Helper()
	iss := &db.Issuance{
		ID:            "iss-1",
		Network:       "testnet",
		IssuerAddress: testIssuer,
		AssetScale:    2,
		MaxSupply:     "100000000",
		CanTransfer:   true,
		MPTIssuanceID: testMPTID,
		CreateTxHash:  "CREATEHASH",
		Status:        db.IssuanceStatusCreated,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if mutate != nil {
		mutate(iss)
	}
	h.store.mu.Lock()
	h.store.issuances[iss.ID] = iss
	h.store.mu.Unlock()
	return iss
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if s, ok := body.(string); ok {
		reader = bytes.NewReader([]byte(s))
	} else {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleCreateIssuance(t *testing.T) {
	h := newHandlerHarness(t)
	handler := handleCreateIssuance(h.orc, h.logger)

	rec := doJSON(t, handler, "POST", "/api/v1/issuances", map[string]any{
		"network":        "testnet",
		"issuer_address": testIssuer,
		"asset_scale":    2,
		"max_supply":     "100000000",
		"can_transfer":   true,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	iss := body["issuance"].(map[string]any)
	assert.Equal(t, "testnet", iss["network"])
	assert.Equal(t, testIssuer, iss["issuer_address"])
	assert.Equal(t, testMPTID, iss["mpt_issuance_id"])
	assert.Equal(t, db.IssuanceStatusCreated, iss["status"])
	outcome := body["outcome"].(map[string]any)
	assert.Equal(t, true, outcome["validated"])
	assert.Equal(t, false, body["reconcile_needed"])
}

func TestHandleCreateIssuanceValidation(t *testing.T) {
	h := newHandlerHarness(t)
	handler := handleCreateIssuance(h.orc, h.logger)

	tests := []struct {
		name string
		body any
		want string
	}{
		{
			name: "invalid network",
			body: map[string]any{"network": "ripplenet", "issuer_address": testIssuer, "max_supply": "1"},
			want: "invalid network",
		},
		{
			name: "missing issuer",
			body: map[string]any{"network": "testnet", "max_supply": "1"},
			want: "address is required",
		},
		{
			name: "malformed issuer",
			body: map[string]any{"network": "testnet", "issuer_address": "not-an-address", "max_supply": "1"},
			want: "invalid address format",
		},
		{
			name: "malformed json",
			body: `{"network": `,
			want: "invalid request body",
		},
		{
			name: "transfer fee without transferability",
			body: map[string]any{"network": "testnet", "issuer_address": testIssuer, "max_supply": "1", "transfer_fee": 100},
			want: "transfer fee",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, "POST", "/api/v1/issuances", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Contains(t, body["error"], tt.want)
		})
	}

	assert.Zero(t, h.submitter.count(), "validation failures must not reach the network")
}

func TestHandleGetIssuance(t *testing.T) {
	h := newHandlerHarness(t)
	iss := h.seedIssuance(t, nil)

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/issuances/{id}", handleGetIssuance(h.orc, h.logger))

	rec := doJSON(t, mux, "GET", "/api/v1/issuances/"+iss.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, iss.ID, body["id"])
	assert.Equal(t, testMPTID, body["mpt_issuance_id"])
}

func TestHandleGetIssuanceNotFound(t *testing.T) {
	h := newHandlerHarness(t)

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/issuances/{id}", handleGetIssuance(h.orc, h.logger))

	rec := doJSON(t, mux, "GET", "/api/v1/issuances/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListIssuances(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, nil)
	h.seedIssuance(t, func(iss *db.Issuance) {
		iss.ID = "iss-2"
		iss.Network = "devnet"
	})
	handler := handleListIssuances(h.orc, h.logger)

	rec := doJSON(t, handler, "GET", "/api/v1/issuances", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	rec = doJSON(t, handler, "GET", "/api/v1/issuances?network=devnet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = doJSON(t, handler, "GET", "/api/v1/issuances?network=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAuthorizeHolderCustodial(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, func(iss *db.Issuance) { iss.RequireAuth = true })

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/issuances/{id}/authorizations", handleAuthorizeHolder(h.orc, h.logger))

	rec := doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/authorizations", map[string]any{
		"holder_address": testHolder,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, db.AuthStatusAuthorized, body["status"])
	assert.NotEmpty(t, body["tx_hash"])
	auth := body["authorization"].(map[string]any)
	assert.Equal(t, db.CustodyCustodial, auth["custody"])
}

func TestHandleAuthorizeHolderExternal(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, func(iss *db.Issuance) { iss.RequireAuth = true })

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/issuances/{id}/authorizations", handleAuthorizeHolder(h.orc, h.logger))

	rec := doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/authorizations", map[string]any{
		"holder_address": testExternal,
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, db.AuthStatusPending, body["status"])
	assert.NotEmpty(t, body["correlation_id"])
	require.NotNil(t, body["signing_payload"])
	assert.Zero(t, h.submitter.count(), "external holders sign for themselves")
}

func TestHandleConfirmAuthorization(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, func(iss *db.Issuance) { iss.RequireAuth = true })

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/issuances/{id}/authorizations", handleAuthorizeHolder(h.orc, h.logger))
	mux.Handle("POST /api/v1/authorizations/confirm", handleConfirmAuthorization(h.orc, h.logger))

	rec := doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/authorizations", map[string]any{
		"holder_address": testExternal,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	correlationID := decodeBody(t, rec)["correlation_id"].(string)

	// The fake ledger reports any hash as a validated MPTokenAuthorize once
	// the tx fields line up; an unknown correlation id is still a 404.
	rec = doJSON(t, mux, "POST", "/api/v1/authorizations/confirm", map[string]any{
		"correlation_id": "does-not-exist",
		"tx_hash":        "OBSERVED1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, mux, "POST", "/api/v1/authorizations/confirm", map[string]any{
		"correlation_id": correlationID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "tx_hash is required")

	rec = doJSON(t, mux, "POST", "/api/v1/authorizations/confirm", map[string]any{
		"tx_hash": "OBSERVED1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "correlation_id is required")
}

func TestHandleTransfer(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, nil)
	handler := handleTransfer(h.orc, h.logger)

	req := map[string]any{
		"issuance_id":         "iss-1",
		"source_address":      testIssuer,
		"destination_address": testHolder,
		"amount":              "500.00",
		"idempotency_key":     "mint-1",
	}

	rec := doJSON(t, handler, "POST", "/api/v1/transfers", req)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["replayed"])
	transfer := body["transfer"].(map[string]any)
	assert.Equal(t, "50000", transfer["amount"], "scale 2 turns 500.00 into 50000 base units")

	// Same key replays the stored outcome.
	rec = doJSON(t, handler, "POST", "/api/v1/transfers", req)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, true, body["replayed"])
	assert.Equal(t, 1, h.submitter.count())
}

func TestHandleTransferValidation(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, nil)
	handler := handleTransfer(h.orc, h.logger)

	tests := []struct {
		name string
		body map[string]any
		want string
	}{
		{
			name: "missing issuance id",
			body: map[string]any{"source_address": testIssuer, "destination_address": testHolder, "amount": "1", "idempotency_key": "k"},
			want: "issuance_id is required",
		},
		{
			name: "missing idempotency key",
			body: map[string]any{"issuance_id": "iss-1", "source_address": testIssuer, "destination_address": testHolder, "amount": "1"},
			want: "idempotency_key is required",
		},
		{
			name: "bad source",
			body: map[string]any{"issuance_id": "iss-1", "source_address": "xyz", "destination_address": testHolder, "amount": "1", "idempotency_key": "k"},
			want: "invalid source_address",
		},
		{
			name: "excess precision",
			body: map[string]any{"issuance_id": "iss-1", "source_address": testIssuer, "destination_address": testHolder, "amount": "1.234", "idempotency_key": "k"},
			want: "amount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, "POST", "/api/v1/transfers", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeBody(t, rec)["error"], tt.want)
		})
	}

	assert.Zero(t, h.submitter.count())
}

func TestHandleTransferEngineFailure(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, nil)
	h.submitter.outcome = &xrpl.Outcome{
		Validated:    true,
		EngineResult: "tecPATH_DRY",
		Hash:         "FAILHASH",
		Attempts:     1,
	}
	handler := handleTransfer(h.orc, h.logger)

	rec := doJSON(t, handler, "POST", "/api/v1/transfers", map[string]any{
		"issuance_id":         "iss-1",
		"source_address":      testIssuer,
		"destination_address": testHolder,
		"amount":              "10.00",
		"idempotency_key":     "mint-fail",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "tecPATH_DRY")
	outcome := body["outcome"].(map[string]any)
	assert.Equal(t, "tecPATH_DRY", outcome["engine_result"])
}

func TestHandleFreeze(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, func(iss *db.Issuance) {
		iss.CanLock = true
		iss.Status = db.IssuanceStatusActive
	})

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/issuances/{id}/freeze", handleFreeze(h.orc, h.logger))

	rec := doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/freeze", map[string]any{"action": "freeze"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	iss := body["issuance"].(map[string]any)
	assert.Equal(t, db.IssuanceStatusPaused, iss["status"])

	rec = doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/freeze", map[string]any{"action": "unfreeze"})
	require.Equal(t, http.StatusOK, rec.Code)
	iss = decodeBody(t, rec)["issuance"].(map[string]any)
	assert.Equal(t, db.IssuanceStatusActive, iss["status"])

	rec = doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/freeze", map[string]any{"action": "pause"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFreezeWithoutLockCapability(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, nil)

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/issuances/{id}/freeze", handleFreeze(h.orc, h.logger))

	rec := doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/freeze", map[string]any{"action": "freeze"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, h.submitter.count())
}

func TestHandleClawback(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, func(iss *db.Issuance) { iss.CanClawback = true })

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/issuances/{id}/clawback", handleClawback(h.orc, h.logger))

	rec := doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/clawback", map[string]any{
		"holder_address": testHolder,
		"amount":         "25.50",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["tx_hash"])
}

func TestHandleClawbackDisabled(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, nil)

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/issuances/{id}/clawback", handleClawback(h.orc, h.logger))

	rec := doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/clawback", map[string]any{
		"holder_address": testHolder,
		"amount":         "25.50",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "clawback")
	assert.Zero(t, h.submitter.count(), "capability check happens before the network")
}

func TestHandleListAuthorizations(t *testing.T) {
	h := newHandlerHarness(t)
	h.seedIssuance(t, func(iss *db.Issuance) { iss.RequireAuth = true })

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/issuances/{id}/authorizations", handleAuthorizeHolder(h.orc, h.logger))
	mux.Handle("GET /api/v1/issuances/{id}/authorizations", handleListAuthorizations(h.orc, h.logger))

	rec := doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/authorizations", map[string]any{"holder_address": testHolder})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, mux, "POST", "/api/v1/issuances/iss-1/authorizations", map[string]any{"holder_address": testExternal})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, mux, "GET", "/api/v1/issuances/iss-1/authorizations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	rec = doJSON(t, mux, "GET", "/api/v1/issuances/iss-1/authorizations?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = doJSON(t, mux, "GET", "/api/v1/issuances/iss-1/authorizations?status=revoked", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestBodyTooLarge(t *testing.T) {
	h := newHandlerHarness(t)
	handler := handleCreateIssuance(h.orc, h.logger)

	huge := fmt.Sprintf(`{"metadata": %q}`, strings.Repeat("x", maxRequestBodySize+1))
	rec := doJSON(t, handler, "POST", "/api/v1/issuances", huge)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "request body too large")
}

func TestCORSMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := corsMiddleware(inner)

	req := httptest.NewRequest("OPTIONS", "/api/v1/issuances", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"valid classic address", testIssuer, false},
		{"empty", "", true},
		{"missing r prefix", "Hb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", true},
		{"too short", "rABC", true},
		{"excluded base58 chars", "rOIl0" + strings.Repeat("a", 25), true},
		{"too long", "r" + strings.Repeat("a", 80), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAddress(tt.address)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
