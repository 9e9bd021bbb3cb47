// internal/domain/token/repository.go
package token

import (
	"context"
	"time"
)

// Store persists ledgers, purchase records and listing token state.
//
// All mutations go through WithinTx. Implementations must make the whole
// callback all-or-nothing and must hold ledger and listing rows returned by
// the Lock* methods until the callback returns, so a decision taken on a
// locked row cannot be invalidated by a concurrent writer. Locks are taken
// ledger first, then listings.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Reads outside a transaction. Missing rows return xerrors.ErrNotFound.
	FindLedger(ctx context.Context, accountID string) (*AccountLedger, error)
	FindListing(ctx context.Context, listingID string) (*ListingTokenState, error)
	ListPurchases(ctx context.Context, accountID string) ([]PurchaseRecord, error)
	ListExpiredAccounts(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Tx is the transactional view handed to WithinTx callbacks.
type Tx interface {
	LockLedger(ctx context.Context, accountID string) (*AccountLedger, error)
	LockOrCreateLedger(ctx context.Context, accountID string, now time.Time) (*AccountLedger, error)
	SaveLedger(ctx context.Context, ledger *AccountLedger) error

	LockListing(ctx context.Context, listingID string) (*ListingTokenState, error)
	LockActiveListings(ctx context.Context, accountID string) ([]*ListingTokenState, error)
	SaveListing(ctx context.Context, state *ListingTokenState) error

	PurchaseExists(ctx context.Context, externalRef string) (bool, error)
	AppendPurchase(ctx context.Context, record *PurchaseRecord) error
}
