// internal/repository/memory/token_store.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"motorlist-service/internal/domain/token"
	"motorlist-service/internal/domain/vehicle"
	xerrors "motorlist-service/internal/pkg/errors"
)

// TokenStore keeps ledgers, purchases and listings in process memory.
// Transactions are serialised behind one mutex and staged on a private
// copy that is published only when the callback returns nil.
type TokenStore struct {
	mu        sync.Mutex
	ledgers   map[string]*token.AccountLedger
	listings  map[string]*vehicle.Listing
	purchases map[string][]token.PurchaseRecord
	refs      map[string]struct{}
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		ledgers:   make(map[string]*token.AccountLedger),
		listings:  make(map[string]*vehicle.Listing),
		purchases: make(map[string][]token.PurchaseRecord),
		refs:      make(map[string]struct{}),
	}
}

var (
	_ token.Store        = (*TokenStore)(nil)
	_ vehicle.Repository = (*TokenStore)(nil)
)

// WithinTx runs fn with exclusive access to the store.
func (s *TokenStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx token.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:    s,
		ledgers:  make(map[string]*token.AccountLedger),
		listings: make(map[string]*token.ListingTokenState),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *TokenStore) FindLedger(ctx context.Context, accountID string) (*token.AccountLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[accountID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return l.Clone(), nil
}

func (s *TokenStore) FindListing(ctx context.Context, listingID string) (*token.ListingTokenState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[listingID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return l.TokenState(), nil
}

func (s *TokenStore) ListPurchases(ctx context.Context, accountID string) ([]token.PurchaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]token.PurchaseRecord, len(s.purchases[accountID]))
	copy(out, s.purchases[accountID])
	return out, nil
}

func (s *TokenStore) ListExpiredAccounts(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, l := range s.ledgers {
		if l.Expired(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// ========== Listings ==========

func (s *TokenStore) Create(ctx context.Context, listing *vehicle.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if listing.ID == "" {
		return fmt.Errorf("listing id is required: %w", xerrors.ErrInvalidInput)
	}
	if _, exists := s.listings[listing.ID]; exists {
		return xerrors.ErrDuplicateEntry
	}
	now := time.Now()
	if listing.CreatedAt.IsZero() {
		listing.CreatedAt = now
	}
	listing.UpdatedAt = now
	if listing.TokenStatus == "" {
		listing.TokenStatus = token.StatusInactive
	}
	c := *listing
	c.ApplyTokenState(listing.TokenState())
	s.listings[listing.ID] = &c
	return nil
}

func (s *TokenStore) FindByID(ctx context.Context, id string) (*vehicle.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	c := *l
	c.ApplyTokenState(l.TokenState())
	return &c, nil
}

func (s *TokenStore) ListByAccount(ctx context.Context, accountID string, filters *vehicle.ListingListFilters) ([]vehicle.Listing, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []vehicle.Listing{}
	for _, l := range s.listings {
		if l.AccountID != accountID {
			continue
		}
		if filters != nil && filters.TokenStatus != nil && l.TokenStatus != *filters.TokenStatus {
			continue
		}
		c := *l
		c.ApplyTokenState(l.TokenState())
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filters != nil && filters.PageSize > 0 {
		page := filters.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filters.PageSize
		if start > len(matched) {
			start = len(matched)
		}
		end := start + filters.PageSize
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

// ========== Transaction ==========

type memTx struct {
	store     *TokenStore
	ledgers   map[string]*token.AccountLedger
	listings  map[string]*token.ListingTokenState
	purchases []token.PurchaseRecord
}

func (tx *memTx) LockLedger(ctx context.Context, accountID string) (*token.AccountLedger, error) {
	if l, ok := tx.ledgers[accountID]; ok {
		return l.Clone(), nil
	}
	l, ok := tx.store.ledgers[accountID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return l.Clone(), nil
}

func (tx *memTx) LockOrCreateLedger(ctx context.Context, accountID string, now time.Time) (*token.AccountLedger, error) {
	l, err := tx.LockLedger(ctx, accountID)
	if err == nil {
		return l, nil
	}
	if !xerrors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}
	l = &token.AccountLedger{AccountID: accountID, CreatedAt: now, UpdatedAt: now}
	tx.ledgers[accountID] = l.Clone()
	return l, nil
}

func (tx *memTx) SaveLedger(ctx context.Context, ledger *token.AccountLedger) error {
	if err := ledger.CheckInvariant(); err != nil {
		return err
	}
	c := ledger.Clone()
	c.Version++
	c.UpdatedAt = time.Now()
	tx.ledgers[ledger.AccountID] = c
	ledger.Version = c.Version
	return nil
}

func (tx *memTx) LockListing(ctx context.Context, listingID string) (*token.ListingTokenState, error) {
	if s, ok := tx.listings[listingID]; ok {
		return s.Clone(), nil
	}
	l, ok := tx.store.listings[listingID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return l.TokenState(), nil
}

func (tx *memTx) LockActiveListings(ctx context.Context, accountID string) ([]*token.ListingTokenState, error) {
	var out []*token.ListingTokenState
	for id, l := range tx.store.listings {
		if l.AccountID != accountID {
			continue
		}
		state, err := tx.LockListing(ctx, id)
		if err != nil {
			return nil, err
		}
		if state.IsActive() {
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ListingID < out[j].ListingID })
	return out, nil
}

func (tx *memTx) SaveListing(ctx context.Context, state *token.ListingTokenState) error {
	if _, ok := tx.store.listings[state.ListingID]; !ok {
		return xerrors.ErrNotFound
	}
	tx.listings[state.ListingID] = state.Clone()
	return nil
}

func (tx *memTx) PurchaseExists(ctx context.Context, externalRef string) (bool, error) {
	if externalRef == "" {
		return false, nil
	}
	if _, ok := tx.store.refs[externalRef]; ok {
		return true, nil
	}
	for _, p := range tx.purchases {
		if p.ExternalRef == externalRef {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) AppendPurchase(ctx context.Context, record *token.PurchaseRecord) error {
	exists, err := tx.PurchaseExists(ctx, record.ExternalRef)
	if err != nil {
		return err
	}
	if exists {
		return xerrors.ErrDuplicatePayment
	}
	tx.purchases = append(tx.purchases, *record)
	return nil
}

func (tx *memTx) commit() {
	s := tx.store
	for id, l := range tx.ledgers {
		s.ledgers[id] = l
	}
	for id, state := range tx.listings {
		if l, ok := s.listings[id]; ok {
			l.ApplyTokenState(state)
		}
	}
	for _, p := range tx.purchases {
		s.purchases[p.AccountID] = append(s.purchases[p.AccountID], p)
		if p.ExternalRef != "" {
			s.refs[p.ExternalRef] = struct{}{}
		}
	}
}
