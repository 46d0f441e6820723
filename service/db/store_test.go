package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestIssuance(t *testing.T, ts *TestStore) *Issuance {
	t.Helper()

	iss, err := ts.CreateIssuance(context.Background(), CreateIssuanceParams{
		ID:            uuid.NewString(),
		Network:       "devnet",
		IssuerAddress: "rIssuerXXXXXXXXXXXXXXXXXXXXXXXXXXX",
		AssetScale:    2,
		MaxSupply:     "100000000",
		TransferFee:   0,
		CanTransfer:   true,
		RequireAuth:   true,
		CanClawback:   true,
		CanLock:       true,
		Metadata:      "697066733a2f2f746573740a",
		MPTIssuanceID: uuid.NewString(),
		CreateTxHash:  "ABC123",
	})
	require.NoError(t, err)
	return iss
}

func TestIssuanceLifecycle(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	iss := createTestIssuance(t, ts)
	assert.Equal(t, IssuanceStatusCreated, iss.Status)
	assert.Equal(t, "100000000", iss.MaxSupply)

	got, err := ts.GetIssuance(ctx, iss.ID)
	require.NoError(t, err)
	assert.Equal(t, iss.MPTIssuanceID, got.MPTIssuanceID)

	byMPT, err := ts.GetIssuanceByMPTID(ctx, iss.MPTIssuanceID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, iss.ID, byMPT.ID)

	updated, err := ts.UpdateIssuanceStatus(ctx, iss.ID, IssuanceStatusMinted)
	require.NoError(t, err)
	assert.Equal(t, IssuanceStatusMinted, updated.Status)

	_, err = ts.GetIssuance(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuthorizationSingleNonTerminal(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	iss := createTestIssuance(t, ts)
	holder := "rHolderXXXXXXXXXXXXXXXXXXXXXXXXXXX"
	corrID := uuid.NewString()

	_, err := ts.CreateAuthorization(ctx, CreateAuthorizationParams{
		ID:            uuid.NewString(),
		IssuanceID:    iss.ID,
		HolderAddress: holder,
		Custody:       CustodyExternal,
		Status:        AuthStatusPending,
		CorrelationID: &corrID,
	})
	require.NoError(t, err)

	// A second pending row for the same pair violates the invariant.
	otherCorr := uuid.NewString()
	_, err = ts.CreateAuthorization(ctx, CreateAuthorizationParams{
		ID:            uuid.NewString(),
		IssuanceID:    iss.ID,
		HolderAddress: holder,
		Custody:       CustodyExternal,
		Status:        AuthStatusPending,
		CorrelationID: &otherCorr,
	})
	assert.ErrorIs(t, err, ErrDuplicatePending)
}

func TestFinalizeAuthorizationTerminalIsImmutable(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	iss := createTestIssuance(t, ts)
	corrID := uuid.NewString()

	auth, err := ts.CreateAuthorization(ctx, CreateAuthorizationParams{
		ID:            uuid.NewString(),
		IssuanceID:    iss.ID,
		HolderAddress: "rHolderYYYYYYYYYYYYYYYYYYYYYYYYYYY",
		Custody:       CustodyExternal,
		Status:        AuthStatusPending,
		CorrelationID: &corrID,
	})
	require.NoError(t, err)

	hash := "DEADBEEF"
	final, err := ts.FinalizeAuthorization(ctx, auth.ID, AuthStatusAuthorized, &hash)
	require.NoError(t, err)
	assert.Equal(t, AuthStatusAuthorized, final.Status)
	require.NotNil(t, final.TxHash)
	assert.Equal(t, hash, *final.TxHash)

	// Second finalize must not mutate the terminal row.
	_, err = ts.FinalizeAuthorization(ctx, auth.ID, AuthStatusRejected, nil)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	got, err := ts.GetAuthorizationByCorrelationID(ctx, corrID)
	require.NoError(t, err)
	assert.Equal(t, AuthStatusAuthorized, got.Status)
}

func TestListAuthorizationsFilters(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	iss := createTestIssuance(t, ts)

	holderA := "rHolderAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	holderB := "rHolderBBBBBBBBBBBBBBBBBBBBBBBBBBB"
	hash := "HASH1"

	_, err := ts.CreateAuthorization(ctx, CreateAuthorizationParams{
		ID: uuid.NewString(), IssuanceID: iss.ID, HolderAddress: holderA,
		Custody: CustodyCustodial, Status: AuthStatusAuthorized, TxHash: &hash,
	})
	require.NoError(t, err)
	corr := uuid.NewString()
	_, err = ts.CreateAuthorization(ctx, CreateAuthorizationParams{
		ID: uuid.NewString(), IssuanceID: iss.ID, HolderAddress: holderB,
		Custody: CustodyExternal, Status: AuthStatusPending, CorrelationID: &corr,
	})
	require.NoError(t, err)

	all, err := ts.ListAuthorizations(ctx, ListAuthorizationsParams{IssuanceID: iss.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := ts.ListAuthorizations(ctx, ListAuthorizationsParams{
		IssuanceID: iss.ID, StatusFilter: AuthStatusPending,
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, holderB, pending[0].HolderAddress)

	byHolder, err := ts.ListAuthorizations(ctx, ListAuthorizationsParams{
		IssuanceID: iss.ID, HolderFilter: holderA,
	})
	require.NoError(t, err)
	require.Len(t, byHolder, 1)
	assert.Equal(t, AuthStatusAuthorized, byHolder[0].Status)
}

func TestTransferIdempotencyKey(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	iss := createTestIssuance(t, ts)

	params := CreateTransferParams{
		IdempotencyKey:     "purchase-42",
		IssuanceID:         iss.ID,
		SourceAddress:      iss.IssuerAddress,
		DestinationAddress: "rHolderAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Amount:             "50000",
		TxHash:             "CAFE01",
		EngineResult:       "tesSUCCESS",
		Validated:          true,
		ElapsedMS:          1200,
	}

	first, err := ts.CreateTransfer(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, "50000", first.Amount)

	// Same key again: no second row, no second state transition.
	_, err = ts.CreateTransfer(ctx, params)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	got, err := ts.GetTransfer(ctx, "purchase-42")
	require.NoError(t, err)
	assert.Equal(t, first.TxHash, got.TxHash)
	assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Second)
}

func TestListStalePendingAuthorizations(t *testing.T) {
	SkipIfNoTestDB(t)
	ts := NewTestStore(t)
	defer ts.Close()
	ts.Cleanup(t)

	ctx := context.Background()
	iss := createTestIssuance(t, ts)
	corr := uuid.NewString()

	_, err := ts.CreateAuthorization(ctx, CreateAuthorizationParams{
		ID: uuid.NewString(), IssuanceID: iss.ID,
		HolderAddress: "rHolderCCCCCCCCCCCCCCCCCCCCCCCCCCC",
		Custody:       CustodyExternal, Status: AuthStatusPending, CorrelationID: &corr,
	})
	require.NoError(t, err)

	// Cutoff in the future catches the fresh row; cutoff in the past does not.
	stale, err := ts.ListStalePendingAuthorizations(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	none, err := ts.ListStalePendingAuthorizations(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
