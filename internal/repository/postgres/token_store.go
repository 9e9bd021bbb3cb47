// internal/repository/postgres/token_store.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"motorlist-service/internal/domain/token"
	"motorlist-service/internal/domain/vehicle"
	xerrors "motorlist-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ledgerColumns = `
	account_id, plan_name, plan_start_date, plan_end_date,
	total_tokens, used_tokens, last_payment_status, last_payment_date,
	version, created_at, updated_at`

const listingTokenColumns = `
	id, account_id, token_status, token_activated_date, token_expiry_date,
	token_deactivated_date, deactivation_reason, updated_at`

const listingColumns = `
	id, account_id, title, make, model, year_make, price, mileage, fuel_type, transmission,
	token_status, token_activated_date, token_expiry_date, token_deactivated_date,
	deactivation_reason, created_at, updated_at`

type TokenStore struct {
	db *DB
}

func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{db: NewDB(pool)}
}

var (
	_ token.Store        = (*TokenStore)(nil)
	_ vehicle.Repository = (*TokenStore)(nil)
)

// WithinTx runs fn inside a READ COMMITTED transaction. Row locks taken by
// the Lock* methods are held until commit or rollback.
func (r *TokenStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx token.Tx) error) error {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindLedger retrieves a ledger without locking it
func (r *TokenStore) FindLedger(ctx context.Context, accountID string) (*token.AccountLedger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM account_ledgers WHERE account_id = $1`
	return scanLedger(r.db.Pool().QueryRow(ctx, query, accountID))
}

// FindListing retrieves a listing's token state without locking it
func (r *TokenStore) FindListing(ctx context.Context, listingID string) (*token.ListingTokenState, error) {
	query := `SELECT ` + listingTokenColumns + ` FROM vehicle_listings WHERE id = $1`
	return scanListingToken(r.db.Pool().QueryRow(ctx, query, listingID))
}

// ListPurchases returns an account's purchase history in arrival order
func (r *TokenStore) ListPurchases(ctx context.Context, accountID string) ([]token.PurchaseRecord, error) {
	query := `
		SELECT id, account_id, plan_name, purchase_date, amount, COALESCE(external_ref, ''),
		       tokens_granted, validity_days, kind
		FROM token_purchases
		WHERE account_id = $1
		ORDER BY seq ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	purchases := []token.PurchaseRecord{}
	for rows.Next() {
		var p token.PurchaseRecord
		var kind string
		err := rows.Scan(
			&p.ID, &p.AccountID, &p.PlanName, &p.PurchaseDate, &p.Amount, &p.ExternalRef,
			&p.TokensGranted, &p.ValidityDays, &kind,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		p.Kind = token.PurchaseKind(kind)
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchases: %w", err)
	}

	return purchases, nil
}

// ListExpiredAccounts returns accounts that still hold a plan whose end date has passed
func (r *TokenStore) ListExpiredAccounts(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT account_id
		FROM account_ledgers
		WHERE plan_name IS NOT NULL AND (plan_end_date IS NULL OR plan_end_date <= $1)
		ORDER BY plan_end_date ASC NULLS FIRST, account_id ASC
	`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired accounts: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expired accounts: %w", err)
	}

	return ids, nil
}

// ========== Listings ==========

// Create inserts a listing in inactive token state
func (r *TokenStore) Create(ctx context.Context, l *vehicle.Listing) error {
	query := `
		INSERT INTO vehicle_listings (
			id, account_id, title, make, model, year_make, price, mileage, fuel_type, transmission,
			token_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx, query,
		l.ID, l.AccountID, l.Title, l.Make, l.Model, l.YearMake, l.Price, l.Mileage,
		string(l.FuelType), string(l.Transmission), string(token.StatusInactive),
	).Scan(&l.CreatedAt, &l.UpdatedAt)

	if isDuplicateKey(err) {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}

	l.TokenStatus = token.StatusInactive
	return nil
}

// FindByID retrieves a listing by ID
func (r *TokenStore) FindByID(ctx context.Context, id string) (*vehicle.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM vehicle_listings WHERE id = $1`
	return scanListing(r.db.Pool().QueryRow(ctx, query, id))
}

// ListByAccount retrieves an account's listings, newest first
func (r *TokenStore) ListByAccount(ctx context.Context, accountID string, filters *vehicle.ListingListFilters) ([]vehicle.Listing, int64, error) {
	where := `account_id = $1`
	args := []any{accountID}
	if filters != nil && filters.TokenStatus != nil {
		where += ` AND token_status = $2`
		args = append(args, string(*filters.TokenStatus))
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM vehicle_listings WHERE ` + where
	if err := r.db.Pool().QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count listings: %w", err)
	}

	query := `SELECT ` + listingColumns + ` FROM vehicle_listings WHERE ` + where + ` ORDER BY created_at DESC, id ASC`
	if filters != nil && filters.PageSize > 0 {
		page := filters.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, filters.PageSize, (page-1)*filters.PageSize)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	listings := []vehicle.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, 0, err
		}
		listings = append(listings, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate listings: %w", err)
	}

	return listings, total, nil
}

// ========== Transaction ==========

type pgTx struct {
	tx pgx.Tx
}

// LockLedger selects the ledger row FOR UPDATE
func (t *pgTx) LockLedger(ctx context.Context, accountID string) (*token.AccountLedger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM account_ledgers WHERE account_id = $1 FOR UPDATE`
	return scanLedger(t.tx.QueryRow(ctx, query, accountID))
}

// LockOrCreateLedger inserts an empty ledger if none exists, then locks it
func (t *pgTx) LockOrCreateLedger(ctx context.Context, accountID string, now time.Time) (*token.AccountLedger, error) {
	query := `
		INSERT INTO account_ledgers (account_id, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (account_id) DO NOTHING
	`
	if _, err := t.tx.Exec(ctx, query, accountID, now); err != nil {
		return nil, fmt.Errorf("failed to create ledger: %w", err)
	}
	return t.LockLedger(ctx, accountID)
}

// SaveLedger writes every mutable ledger column and bumps the version
func (t *pgTx) SaveLedger(ctx context.Context, l *token.AccountLedger) error {
	if err := l.CheckInvariant(); err != nil {
		return err
	}

	query := `
		UPDATE account_ledgers
		SET plan_name = $1, plan_start_date = $2, plan_end_date = $3,
		    total_tokens = $4, used_tokens = $5,
		    last_payment_status = $6, last_payment_date = $7,
		    version = version + 1, updated_at = NOW()
		WHERE account_id = $8
		RETURNING version, updated_at
	`

	var paymentStatus *string
	if l.LastPaymentStatus != nil {
		s := string(*l.LastPaymentStatus)
		paymentStatus = &s
	}

	err := t.tx.QueryRow(
		ctx, query,
		l.PlanName, l.PlanStartDate, l.PlanEndDate,
		l.TotalTokens, l.UsedTokens,
		paymentStatus, l.LastPaymentDate,
		l.AccountID,
	).Scan(&l.Version, &l.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return xerrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	return nil
}

// LockListing selects the listing row FOR UPDATE
func (t *pgTx) LockListing(ctx context.Context, listingID string) (*token.ListingTokenState, error) {
	query := `SELECT ` + listingTokenColumns + ` FROM vehicle_listings WHERE id = $1 FOR UPDATE`
	return scanListingToken(t.tx.QueryRow(ctx, query, listingID))
}

// LockActiveListings locks every active listing of an account
func (t *pgTx) LockActiveListings(ctx context.Context, accountID string) ([]*token.ListingTokenState, error) {
	query := `
		SELECT ` + listingTokenColumns + `
		FROM vehicle_listings
		WHERE account_id = $1 AND token_status = $2
		ORDER BY id ASC
		FOR UPDATE
	`

	rows, err := t.tx.Query(ctx, query, accountID, string(token.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to query active listings: %w", err)
	}
	defer rows.Close()

	var states []*token.ListingTokenState
	for rows.Next() {
		s, err := scanListingToken(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate active listings: %w", err)
	}

	return states, nil
}

// SaveListing writes the listing's token columns
func (t *pgTx) SaveListing(ctx context.Context, s *token.ListingTokenState) error {
	query := `
		UPDATE vehicle_listings
		SET token_status = $1, token_activated_date = $2, token_expiry_date = $3,
		    token_deactivated_date = $4, deactivation_reason = $5, updated_at = $6
		WHERE id = $7
	`

	var reason *string
	if s.DeactivationReason != nil {
		r := string(*s.DeactivationReason)
		reason = &r
	}

	result, err := t.tx.Exec(
		ctx, query,
		string(s.TokenStatus), s.TokenActivatedDate, s.TokenExpiryDate,
		s.TokenDeactivatedDate, reason, s.UpdatedAt,
		s.ListingID,
	)
	if err != nil {
		return fmt.Errorf("failed to save listing token state: %w", err)
	}

	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

// PurchaseExists checks whether an external payment reference was applied
func (t *pgTx) PurchaseExists(ctx context.Context, externalRef string) (bool, error) {
	if externalRef == "" {
		return false, nil
	}
	query := `SELECT EXISTS(SELECT 1 FROM token_purchases WHERE external_ref = $1)`
	var exists bool
	if err := t.tx.QueryRow(ctx, query, externalRef).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check purchase reference: %w", err)
	}
	return exists, nil
}

// AppendPurchase inserts a purchase record
func (t *pgTx) AppendPurchase(ctx context.Context, p *token.PurchaseRecord) error {
	query := `
		INSERT INTO token_purchases (
			id, account_id, plan_name, purchase_date, amount, external_ref,
			tokens_granted, validity_days, kind
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var ref *string
	if p.ExternalRef != "" {
		ref = &p.ExternalRef
	}

	_, err := t.tx.Exec(
		ctx, query,
		p.ID, p.AccountID, p.PlanName, p.PurchaseDate, p.Amount, ref,
		p.TokensGranted, p.ValidityDays, string(p.Kind),
	)
	if isDuplicateKey(err) {
		return xerrors.ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("failed to append purchase: %w", err)
	}
	return nil
}

// ========== Scanning ==========

func scanLedger(row pgx.Row) (*token.AccountLedger, error) {
	var l token.AccountLedger
	var paymentStatus *string

	err := row.Scan(
		&l.AccountID, &l.PlanName, &l.PlanStartDate, &l.PlanEndDate,
		&l.TotalTokens, &l.UsedTokens, &paymentStatus, &l.LastPaymentDate,
		&l.Version, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ledger: %w", err)
	}

	if paymentStatus != nil {
		s := token.PaymentStatus(*paymentStatus)
		l.LastPaymentStatus = &s
	}
	return &l, nil
}

func scanListingToken(row pgx.Row) (*token.ListingTokenState, error) {
	var s token.ListingTokenState
	var status string
	var reason *string

	err := row.Scan(
		&s.ListingID, &s.AccountID, &status, &s.TokenActivatedDate, &s.TokenExpiryDate,
		&s.TokenDeactivatedDate, &reason, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan listing token state: %w", err)
	}

	s.TokenStatus = token.TokenStatus(status)
	if reason != nil {
		r := token.DeactivationReason(*reason)
		s.DeactivationReason = &r
	}
	return &s, nil
}

func scanListing(row pgx.Row) (*vehicle.Listing, error) {
	var l vehicle.Listing
	var fuel, transmission, status string
	var reason *string

	err := row.Scan(
		&l.ID, &l.AccountID, &l.Title, &l.Make, &l.Model, &l.YearMake, &l.Price, &l.Mileage,
		&fuel, &transmission,
		&status, &l.TokenActivatedDate, &l.TokenExpiryDate, &l.TokenDeactivatedDate,
		&reason, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan listing: %w", err)
	}

	l.FuelType = vehicle.FuelType(fuel)
	l.Transmission = vehicle.TransmissionType(transmission)
	l.TokenStatus = token.TokenStatus(status)
	if reason != nil {
		r := token.DeactivationReason(*reason)
		l.DeactivationReason = &r
	}
	return &l, nil
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
