package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors the orchestrator branches on.
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("db: not found")

	// ErrAlreadyTerminal is returned when a state transition targets an
	// authorization that is no longer pending. Terminal rows are immutable.
	ErrAlreadyTerminal = errors.New("db: authorization already terminal")

	// ErrDuplicatePending is returned when a second non-terminal
	// authorization is created for the same (issuance, holder) pair.
	ErrDuplicatePending = errors.New("db: pending authorization already exists")

	// ErrDuplicateKey is returned when a transfer row already exists for an
	// idempotency key.
	ErrDuplicateKey = errors.New("db: idempotency key already recorded")
)

// Issuance lifecycle statuses.
const (
	IssuanceStatusCreated = "created"
	IssuanceStatusMinted  = "minted"
	IssuanceStatusActive  = "active"
	IssuanceStatusPaused  = "paused"
)

// Authorization statuses. Pending is the only non-terminal state.
const (
	AuthStatusPending    = "pending"
	AuthStatusAuthorized = "authorized"
	AuthStatusRejected   = "rejected"
)

// Custody modes for a holder.
const (
	CustodyCustodial = "custodial"
	CustodyExternal  = "external"
)

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Issuance is the persistent record of a token type created on-chain.
// MaxSupply is a decimal string of base units; never floating point.
type Issuance struct {
	ID            string
	Network       string
	IssuerAddress string
	AssetScale    uint8
	MaxSupply     string
	TransferFee   int32
	CanTransfer   bool
	RequireAuth   bool
	CanClawback   bool
	CanLock       bool
	Metadata      string
	MPTIssuanceID string
	CreateTxHash  string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Authorization is the per (issuance, holder) permission record.
type Authorization struct {
	ID            string
	IssuanceID    string
	HolderAddress string
	Custody       string
	Status        string
	TxHash        *string
	CorrelationID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether the authorization can no longer change.
func (a *Authorization) Terminal() bool {
	return a.Status != AuthStatusPending
}

// Transfer is the idempotency record for one mint/transfer request.
// Amount is a decimal string of base units.
type Transfer struct {
	IdempotencyKey     string
	IssuanceID         string
	SourceAddress      string
	DestinationAddress string
	Amount             string
	TxHash             string
	EngineResult       string
	Validated          bool
	TimedOut           bool
	ElapsedMS          int64
	CreatedAt          time.Time
}

// CreateIssuanceParams contains the parameters for persisting an issuance.
type CreateIssuanceParams struct {
	ID            string
	Network       string
	IssuerAddress string
	AssetScale    uint8
	MaxSupply     string
	TransferFee   int32
	CanTransfer   bool
	RequireAuth   bool
	CanClawback   bool
	CanLock       bool
	Metadata      string
	MPTIssuanceID string
	CreateTxHash  string
}

const issuanceColumns = `id, network, issuer_address, asset_scale, max_supply, transfer_fee,
	can_transfer, require_auth, can_clawback, can_lock, metadata,
	mpt_issuance_id, create_tx_hash, status, created_at, updated_at`

func scanIssuance(row pgx.Row) (*Issuance, error) {
	var iss Issuance
	err := row.Scan(&iss.ID, &iss.Network, &iss.IssuerAddress, &iss.AssetScale,
		&iss.MaxSupply, &iss.TransferFee, &iss.CanTransfer, &iss.RequireAuth,
		&iss.CanClawback, &iss.CanLock, &iss.Metadata, &iss.MPTIssuanceID,
		&iss.CreateTxHash, &iss.Status, &iss.CreatedAt, &iss.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &iss, nil
}

// CreateIssuance inserts a new issuance row in the created state.
func (s *Store) CreateIssuance(ctx context.Context, params CreateIssuanceParams) (*Issuance, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO issuances (id, network, issuer_address, asset_scale, max_supply,
			transfer_fee, can_transfer, require_auth, can_clawback, can_lock,
			metadata, mpt_issuance_id, create_tx_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING `+issuanceColumns,
		params.ID, params.Network, params.IssuerAddress, params.AssetScale,
		params.MaxSupply, params.TransferFee, params.CanTransfer, params.RequireAuth,
		params.CanClawback, params.CanLock, params.Metadata, params.MPTIssuanceID,
		params.CreateTxHash, IssuanceStatusCreated)
	return scanIssuance(row)
}

// GetIssuance retrieves an issuance by its id.
func (s *Store) GetIssuance(ctx context.Context, id string) (*Issuance, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+issuanceColumns+` FROM issuances WHERE id = $1`, id)
	return scanIssuance(row)
}

// GetIssuanceByMPTID retrieves an issuance by its on-chain identifier.
func (s *Store) GetIssuanceByMPTID(ctx context.Context, mptIssuanceID, network string) (*Issuance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+issuanceColumns+` FROM issuances WHERE mpt_issuance_id = $1 AND network = $2`,
		mptIssuanceID, network)
	return scanIssuance(row)
}

// ListIssuances lists issuances, optionally filtered by network.
func (s *Store) ListIssuances(ctx context.Context, network string) ([]*Issuance, error) {
	query := `SELECT ` + issuanceColumns + ` FROM issuances`
	args := []any{}
	if network != "" {
		query += ` WHERE network = $1`
		args = append(args, network)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issuances []*Issuance
	for rows.Next() {
		iss, err := scanIssuance(rows)
		if err != nil {
			return nil, err
		}
		issuances = append(issuances, iss)
	}
	return issuances, rows.Err()
}

// UpdateIssuanceStatus moves an issuance to a new lifecycle status.
func (s *Store) UpdateIssuanceStatus(ctx context.Context, id, status string) (*Issuance, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE issuances SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+issuanceColumns, id, status)
	return scanIssuance(row)
}

// CreateAuthorizationParams contains the parameters for creating an
// authorization row.
type CreateAuthorizationParams struct {
	ID            string
	IssuanceID    string
	HolderAddress string
	Custody       string
	Status        string
	TxHash        *string
	CorrelationID *string
}

const authColumns = `id, issuance_id, holder_address, custody, status, tx_hash, correlation_id, created_at, updated_at`

func scanAuthorization(row pgx.Row) (*Authorization, error) {
	var auth Authorization
	err := row.Scan(&auth.ID, &auth.IssuanceID, &auth.HolderAddress, &auth.Custody,
		&auth.Status, &auth.TxHash, &auth.CorrelationID, &auth.CreatedAt, &auth.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &auth, nil
}

// CreateAuthorization inserts an authorization row. The partial unique index
// enforces at most one non-terminal row per (issuance, holder); a violation
// surfaces as ErrDuplicatePending.
func (s *Store) CreateAuthorization(ctx context.Context, params CreateAuthorizationParams) (*Authorization, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO authorizations (id, issuance_id, holder_address, custody, status, tx_hash, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+authColumns,
		params.ID, params.IssuanceID, params.HolderAddress, params.Custody,
		params.Status, params.TxHash, params.CorrelationID)
	auth, err := scanAuthorization(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicatePending
		}
		return nil, err
	}
	return auth, nil
}

// GetAuthorization retrieves the most recent authorization for an
// (issuance, holder) pair.
func (s *Store) GetAuthorization(ctx context.Context, issuanceID, holderAddress string) (*Authorization, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+authColumns+` FROM authorizations
		WHERE issuance_id = $1 AND holder_address = $2
		ORDER BY created_at DESC LIMIT 1`, issuanceID, holderAddress)
	return scanAuthorization(row)
}

// GetAuthorizationByCorrelationID retrieves an authorization by the
// correlation id handed to a non-custodial holder.
func (s *Store) GetAuthorizationByCorrelationID(ctx context.Context, correlationID string) (*Authorization, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+authColumns+` FROM authorizations WHERE correlation_id = $1`, correlationID)
	return scanAuthorization(row)
}

// FinalizeAuthorization transitions a pending authorization to a terminal
// status. The WHERE clause makes terminal rows immutable: finalizing a
// non-pending row returns ErrAlreadyTerminal without mutating it.
func (s *Store) FinalizeAuthorization(ctx context.Context, id, status string, txHash *string) (*Authorization, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE authorizations SET status = $2, tx_hash = COALESCE($3, tx_hash), updated_at = now()
		WHERE id = $1 AND status = $4
		RETURNING `+authColumns, id, status, txHash, AuthStatusPending)
	auth, err := scanAuthorization(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Distinguish "no such row" from "row exists but is terminal".
			if _, getErr := s.getAuthorizationByID(ctx, id); getErr == nil {
				return nil, ErrAlreadyTerminal
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	return auth, nil
}

func (s *Store) getAuthorizationByID(ctx context.Context, id string) (*Authorization, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+authColumns+` FROM authorizations WHERE id = $1`, id)
	return scanAuthorization(row)
}

// ListAuthorizationsParams contains filters for listing authorizations.
type ListAuthorizationsParams struct {
	IssuanceID   string
	StatusFilter string // optional
	HolderFilter string // optional
}

// ListAuthorizations lists authorizations for an issuance with optional
// status and holder filters.
func (s *Store) ListAuthorizations(ctx context.Context, params ListAuthorizationsParams) ([]*Authorization, error) {
	query := `SELECT ` + authColumns + ` FROM authorizations WHERE issuance_id = $1`
	args := []any{params.IssuanceID}
	if params.StatusFilter != "" {
		args = append(args, params.StatusFilter)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if params.HolderFilter != "" {
		args = append(args, params.HolderFilter)
		query += fmt.Sprintf(` AND holder_address = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auths []*Authorization
	for rows.Next() {
		auth, err := scanAuthorization(rows)
		if err != nil {
			return nil, err
		}
		auths = append(auths, auth)
	}
	return auths, rows.Err()
}

// ListStalePendingAuthorizations lists pending authorizations created before
// the cutoff. The reconcile pass re-checks these against on-chain truth.
func (s *Store) ListStalePendingAuthorizations(ctx context.Context, cutoff time.Time, limit int32) ([]*Authorization, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+authColumns+` FROM authorizations
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC LIMIT $3`, AuthStatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auths []*Authorization
	for rows.Next() {
		auth, err := scanAuthorization(rows)
		if err != nil {
			return nil, err
		}
		auths = append(auths, auth)
	}
	return auths, rows.Err()
}

// CreateTransferParams contains the parameters for recording a transfer
// outcome under its idempotency key.
type CreateTransferParams struct {
	IdempotencyKey     string
	IssuanceID         string
	SourceAddress      string
	DestinationAddress string
	Amount             string
	TxHash             string
	EngineResult       string
	Validated          bool
	TimedOut           bool
	ElapsedMS          int64
}

const transferColumns = `idempotency_key, issuance_id, source_address, destination_address,
	amount, tx_hash, engine_result, validated, timed_out, elapsed_ms, created_at`

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	err := row.Scan(&t.IdempotencyKey, &t.IssuanceID, &t.SourceAddress,
		&t.DestinationAddress, &t.Amount, &t.TxHash, &t.EngineResult,
		&t.Validated, &t.TimedOut, &t.ElapsedMS, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateTransfer records the outcome of a transfer under its idempotency
// key. The same key never produces two distinct rows; a duplicate insert
// returns ErrDuplicateKey.
func (s *Store) CreateTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO transfers (idempotency_key, issuance_id, source_address,
			destination_address, amount, tx_hash, engine_result, validated, timed_out, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+transferColumns,
		params.IdempotencyKey, params.IssuanceID, params.SourceAddress,
		params.DestinationAddress, params.Amount, params.TxHash,
		params.EngineResult, params.Validated, params.TimedOut, params.ElapsedMS)
	t, err := scanTransfer(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return t, nil
}

// GetTransfer retrieves a transfer by its idempotency key.
func (s *Store) GetTransfer(ctx context.Context, idempotencyKey string) (*Transfer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1`, idempotencyKey)
	return scanTransfer(row)
}
