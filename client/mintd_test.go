package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIssuance_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/issuances", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		err := json.NewDecoder(r.Body).Decode(&body)
		require.NoError(t, err)
		assert.Equal(t, "testnet", body["network"])
		assert.Equal(t, "rIssuer", body["issuer_address"])
		assert.Equal(t, true, body["can_transfer"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuance": map[string]interface{}{
				"id":              "iss-1",
				"network":         "testnet",
				"issuer_address":  "rIssuer",
				"mpt_issuance_id": "ABC123",
				"status":          "created",
			},
			"outcome": map[string]interface{}{
				"validated":     true,
				"engine_result": "tesSUCCESS",
				"hash":          "TXHASH",
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	result, err := client.CreateIssuance(context.Background(), CreateIssuanceRequest{
		Network:       "testnet",
		IssuerAddress: "rIssuer",
		AssetScale:    2,
		MaxSupply:     "100000000",
		CanTransfer:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "iss-1", result.Issuance.ID)
	assert.Equal(t, "ABC123", result.Issuance.MPTIssuanceID)
	assert.True(t, result.Outcome.Validated)
}

func TestCreateIssuance_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "a transfer fee requires the transferable capability",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.CreateIssuance(context.Background(), CreateIssuanceRequest{
		Network:       "testnet",
		IssuerAddress: "rIssuer",
		TransferFee:   100,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transferable capability")
}

func TestGetIssuance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/issuances/iss-1", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "iss-1",
			"status": "minted",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	iss, err := client.GetIssuance(context.Background(), "iss-1")
	require.NoError(t, err)
	assert.Equal(t, "minted", iss.Status)
}

func TestGetIssuance_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetIssuance(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListIssuances_NetworkFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "devnet", r.URL.Query().Get("network"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuances": []map[string]interface{}{
				{"id": "iss-1", "network": "devnet"},
			},
			"count": 1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	issuances, err := client.ListIssuances(context.Background(), "devnet")
	require.NoError(t, err)
	require.Len(t, issuances, 1)
	assert.Equal(t, "devnet", issuances[0].Network)
}

func TestAuthorizeHolder_Pending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/issuances/iss-1/authorizations", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rHolder", body["holder_address"])

		// Non-custodial holders come back 202 with a signing payload.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"authorization": map[string]interface{}{
				"id":      "auth-1",
				"custody": "external",
				"status":  "pending",
			},
			"status":          "pending",
			"correlation_id":  "corr-1",
			"signing_payload": map[string]interface{}{"TransactionType": "MPTokenAuthorize"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	result, err := client.AuthorizeHolder(context.Background(), "iss-1", "rHolder")
	require.NoError(t, err)
	assert.Equal(t, "pending", result.Status)
	assert.Equal(t, "corr-1", result.CorrelationID)
	assert.NotEmpty(t, result.SigningPayload)
}

func TestConfirmAuthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/authorizations/confirm", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "corr-1", body["correlation_id"])
		assert.Equal(t, "OBSERVED1", body["tx_hash"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "auth-1",
			"status": "authorized",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	auth, err := client.ConfirmAuthorization(context.Background(), "corr-1", "OBSERVED1")
	require.NoError(t, err)
	assert.Equal(t, "authorized", auth.Status)
}

func TestListAuthorizations_Filters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pending", r.URL.Query().Get("status"))
		assert.Equal(t, "rHolder", r.URL.Query().Get("holder"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"authorizations": []map[string]interface{}{
				{"id": "auth-1", "status": "pending"},
			},
			"count": 1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	auths, err := client.ListAuthorizations(context.Background(), "iss-1", "pending", "rHolder")
	require.NoError(t, err)
	require.Len(t, auths, 1)
	assert.Equal(t, "pending", auths[0].Status)
}

func TestTransfer_Replayed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transfers", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "mint-1", body["idempotency_key"])

		// A replayed key returns 200 instead of 201.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"transfer": map[string]interface{}{
				"idempotency_key": "mint-1",
				"amount":          "50000",
				"tx_hash":         "TXHASH",
				"validated":       true,
			},
			"outcome":  map[string]interface{}{"validated": true, "engine_result": "tesSUCCESS"},
			"replayed": true,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	result, err := client.Transfer(context.Background(), TransferRequest{
		IssuanceID:         "iss-1",
		SourceAddress:      "rIssuer",
		DestinationAddress: "rHolder",
		Amount:             "500.00",
		IdempotencyKey:     "mint-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Replayed)
	assert.Equal(t, "50000", result.Transfer.Amount)
}

func TestTransfer_EngineFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": "submission failed: tecPATH_DRY",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.Transfer(context.Background(), TransferRequest{
		IssuanceID:         "iss-1",
		SourceAddress:      "rIssuer",
		DestinationAddress: "rHolder",
		Amount:             "1.00",
		IdempotencyKey:     "mint-2",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tecPATH_DRY")
}

func TestFreezeAndUnfreeze(t *testing.T) {
	var gotAction string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/issuances/iss-1/freeze", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotAction = body["action"]
		assert.Equal(t, "rHolder", body["holder_address"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuance": map[string]interface{}{"id": "iss-1"},
			"tx_hash":  "LOCKHASH",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)

	result, err := client.Freeze(context.Background(), "iss-1", "rHolder")
	require.NoError(t, err)
	assert.Equal(t, "freeze", gotAction)
	assert.Equal(t, "LOCKHASH", result.TxHash)

	_, err = client.Unfreeze(context.Background(), "iss-1", "rHolder")
	require.NoError(t, err)
	assert.Equal(t, "unfreeze", gotAction)
}

func TestClawback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/issuances/iss-1/clawback", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rHolder", body["holder_address"])
		assert.Equal(t, "25.50", body["amount"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuance": map[string]interface{}{"id": "iss-1"},
			"tx_hash":  "CLAWHASH",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	result, err := client.Clawback(context.Background(), "iss-1", "rHolder", "25.50")
	require.NoError(t, err)
	assert.Equal(t, "CLAWHASH", result.TxHash)
}

func TestParseErrorResponse_NonJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetIssuance(context.Background(), "iss-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "upstream exploded")
}
