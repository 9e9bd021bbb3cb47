package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"motorlist-service/internal/domain/token"
	"motorlist-service/internal/domain/vehicle"
	xerrors "motorlist-service/internal/pkg/errors"
	"motorlist-service/internal/repository/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *TokenService
	store *memory.TokenStore
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewTokenStore()
	clock := &testClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewTokenService(store, token.MustDefaultCatalog(), zap.NewNop(), WithClock(clock.Now))
	return &fixture{svc: svc, store: store, clock: clock}
}

func (f *fixture) listing(t *testing.T, id, accountID string) {
	t.Helper()
	require.NoError(t, f.store.Create(context.Background(), &vehicle.Listing{ID: id, AccountID: accountID, Title: id}))
}

func (f *fixture) buy(t *testing.T, accountID, plan string, grant int, upgrade bool) *token.PurchaseResult {
	t.Helper()
	res, err := f.svc.ApplyPlanPurchase(context.Background(), accountID, token.PlanPurchase{
		PlanName: plan, TokenGrant: grant, ValidityDays: 30, Amount: 10, IsUpgrade: upgrade,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) ledger(t *testing.T, accountID string) *token.AccountLedger {
	t.Helper()
	l, err := f.store.FindLedger(context.Background(), accountID)
	require.NoError(t, err)
	return l
}

func (f *fixture) state(t *testing.T, listingID string) *token.ListingTokenState {
	t.Helper()
	s, err := f.store.FindListing(context.Background(), listingID)
	require.NoError(t, err)
	return s
}

func TestTokenLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.listing(t, "lst-a", "acct-1")
	f.listing(t, "lst-b", "acct-1")
	purchasedAt := f.clock.Now()

	// 1. New account buys Traders Gold.
	res := f.buy(t, "acct-1", "Traders Gold", 15, false)
	assert.Equal(t, 15, res.Ledger.TotalTokens)
	assert.Equal(t, 0, res.Ledger.UsedTokens)
	assert.Equal(t, purchasedAt.AddDate(0, 0, 30), *res.Ledger.PlanEndDate)
	assert.NotEmpty(t, res.Purchase.ID)

	// 2. Activate listing A.
	act, err := f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-a")
	require.NoError(t, err)
	assert.Equal(t, 1, act.Ledger.UsedTokens)
	assert.True(t, f.state(t, "lst-a").IsActive())
	assert.Equal(t, *f.ledger(t, "acct-1").PlanEndDate, *f.state(t, "lst-a").TokenExpiryDate)

	// 3. Dealer deactivates A; the token stays spent.
	_, err = f.svc.DeactivateVehicleToken(ctx, "acct-1", "lst-a", token.ReasonUserChoice)
	require.NoError(t, err)
	assert.False(t, f.state(t, "lst-a").IsActive())
	assert.Equal(t, token.ReasonUserChoice, *f.state(t, "lst-a").DeactivationReason)
	assert.Equal(t, 1, f.ledger(t, "acct-1").UsedTokens)

	// 4. Reactivate A.
	_, err = f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-a")
	require.NoError(t, err)
	assert.Equal(t, 2, f.ledger(t, "acct-1").UsedTokens)

	_, err = f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-b")
	require.NoError(t, err)

	// 5. Plan ends; the sweep deactivates everything and clears the plan.
	f.clock.Advance(31 * 24 * time.Hour)
	result, err := f.svc.ProcessExpiredPlans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AccountsScanned)
	assert.Equal(t, 1, result.AccountsSwept)
	assert.Equal(t, 2, result.ListingsDeactivated)
	assert.Empty(t, result.Failures)

	for _, id := range []string{"lst-a", "lst-b"} {
		s := f.state(t, id)
		assert.False(t, s.IsActive())
		assert.Equal(t, token.ReasonPlanExpired, *s.DeactivationReason)
	}
	l := f.ledger(t, "acct-1")
	assert.Nil(t, l.PlanName)
	assert.Equal(t, 0, l.UsedTokens)

	a, err := f.svc.CheckTokenAvailability(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, a.HasActivePlan)
	assert.False(t, a.HasAvailableTokens)

	_, err = f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-a")
	assert.ErrorIs(t, err, xerrors.ErrNoActivePlan)
}

func TestUpgradeCarriesUnusedTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.buy(t, "acct-1", "Traders Gold", 15, false)
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("lst-%d", i)
		f.listing(t, id, "acct-1")
		_, err := f.svc.ActivateVehicleToken(ctx, "acct-1", id)
		require.NoError(t, err)
	}

	res := f.buy(t, "acct-1", "Traders Platinum", 30, true)
	assert.Equal(t, 42, res.Ledger.TotalTokens)
	assert.Equal(t, 0, res.Ledger.UsedTokens)
	assert.Equal(t, token.PurchaseUpgrade, res.Purchase.Kind)

	// Purchases never touch listings.
	assert.True(t, f.state(t, "lst-0").IsActive())

	history, err := f.svc.GetPurchaseHistory(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, 2, history.Total)
	assert.Equal(t, "Traders Gold", history.Purchases[0].PlanName)
	assert.Equal(t, "Traders Platinum", history.Purchases[1].PlanName)
}

func TestActivationEligibility(t *testing.T) {
	ctx := context.Background()

	t.Run("no plan", func(t *testing.T) {
		f := newFixture(t)
		f.listing(t, "lst-1", "acct-1")
		_, err := f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-1")
		assert.ErrorIs(t, err, xerrors.ErrNoActivePlan)
		assert.Equal(t, xerrors.ReasonNoPlan, xerrors.Reason(err))
	})

	t.Run("plan expired", func(t *testing.T) {
		f := newFixture(t)
		f.listing(t, "lst-1", "acct-1")
		f.buy(t, "acct-1", "Traders Gold", 15, false)
		f.clock.Advance(30 * 24 * time.Hour)

		_, err := f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-1")
		assert.ErrorIs(t, err, xerrors.ErrPlanExpired)
		assert.Equal(t, 0, f.ledger(t, "acct-1").UsedTokens)
	})

	t.Run("tokens exhausted leaves state untouched", func(t *testing.T) {
		f := newFixture(t)
		f.listing(t, "lst-1", "acct-1")
		f.listing(t, "lst-2", "acct-1")
		f.buy(t, "acct-1", "Private Seller", 1, false)

		_, err := f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-1")
		require.NoError(t, err)
		before := f.ledger(t, "acct-1")

		_, err = f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-2")
		assert.ErrorIs(t, err, xerrors.ErrNoTokensAvailable)
		assert.Equal(t, xerrors.ReasonNoTokens, xerrors.Reason(err))

		after := f.ledger(t, "acct-1")
		assert.Equal(t, before.UsedTokens, after.UsedTokens)
		assert.Equal(t, before.Version, after.Version)
		assert.False(t, f.state(t, "lst-2").IsActive())
		assert.Nil(t, f.state(t, "lst-2").TokenActivatedDate)
	})

	t.Run("already active", func(t *testing.T) {
		f := newFixture(t)
		f.listing(t, "lst-1", "acct-1")
		f.buy(t, "acct-1", "Traders Gold", 15, false)
		_, err := f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-1")
		require.NoError(t, err)

		_, err = f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-1")
		assert.ErrorIs(t, err, xerrors.ErrInvalidTransition)
		assert.Equal(t, 1, f.ledger(t, "acct-1").UsedTokens)
	})

	t.Run("missing listing", func(t *testing.T) {
		f := newFixture(t)
		f.buy(t, "acct-1", "Traders Gold", 15, false)
		_, err := f.svc.ActivateVehicleToken(ctx, "acct-1", "nope")
		assert.ErrorIs(t, err, xerrors.ErrNotFound)
	})

	t.Run("listing of another account", func(t *testing.T) {
		f := newFixture(t)
		f.listing(t, "lst-1", "acct-2")
		f.buy(t, "acct-1", "Traders Gold", 15, false)
		_, err := f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-1")
		assert.ErrorIs(t, err, xerrors.ErrForbidden)
	})

	t.Run("blank ids", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.ActivateVehicleToken(ctx, " ", "lst-1")
		assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
		_, err = f.svc.ActivateVehicleToken(ctx, "acct-1", "")
		assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
	})
}

func TestDeactivationRefunds(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		reason   token.DeactivationReason
		wantUsed int
	}{
		{token.ReasonUserChoice, 1},
		{token.ReasonPlanExpired, 0},
		{token.ReasonTokenLimitReached, 0},
		{token.ReasonManual, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			f := newFixture(t)
			f.listing(t, "lst-1", "acct-1")
			f.buy(t, "acct-1", "Traders Gold", 15, false)
			_, err := f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-1")
			require.NoError(t, err)

			res, err := f.svc.DeactivateVehicleToken(ctx, "acct-1", "lst-1", tt.reason)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUsed, f.ledger(t, "acct-1").UsedTokens)
			assert.Equal(t, token.StatusInactive, res.Listing.TokenStatus)
			require.NotNil(t, res.Listing.TokenDeactivatedDate)
			assert.Equal(t, f.clock.Now(), *res.Listing.TokenDeactivatedDate)
		})
	}
}

func TestDeactivationFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.listing(t, "lst-1", "acct-1")
	f.buy(t, "acct-1", "Traders Gold", 15, false)

	_, err := f.svc.DeactivateVehicleToken(ctx, "acct-1", "missing", token.ReasonManual)
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	_, err = f.svc.DeactivateVehicleToken(ctx, "acct-1", "lst-1", token.ReasonManual)
	assert.ErrorIs(t, err, xerrors.ErrInvalidTransition)

	_, err = f.svc.DeactivateVehicleToken(ctx, "acct-1", "lst-1", token.DeactivationReason("bored"))
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = f.svc.DeactivateVehicleToken(ctx, "acct-2", "lst-1", token.ReasonManual)
	assert.ErrorIs(t, err, xerrors.ErrForbidden)

	assert.Equal(t, 0, f.ledger(t, "acct-1").UsedTokens)
	assert.Nil(t, f.state(t, "lst-1").DeactivationReason)
}

func TestConcurrentActivationsNeverOverspend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.buy(t, "acct-1", "Traders Bronze", 5, false)

	const attempts = 20
	for i := 0; i < attempts; i++ {
		f.listing(t, fmt.Sprintf("lst-%02d", i), "acct-1")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ActivateVehicleToken(ctx, "acct-1", fmt.Sprintf("lst-%02d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, xerrors.ErrNoTokensAvailable):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, attempts-5, exhausted)

	l := f.ledger(t, "acct-1")
	assert.Equal(t, 5, l.UsedTokens)
	assert.NoError(t, l.CheckInvariant())

	listings, total, err := f.store.ListByAccount(ctx, "acct-1", &vehicle.ListingListFilters{TokenStatus: ptr(token.StatusActive)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, listings, 5)
}

func TestDuplicatePaymentAppliedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	purchase := token.PlanPurchase{PlanName: "Traders Gold", TokenGrant: 15, ValidityDays: 30, Amount: 119, ExternalRef: "cs_123"}

	_, err := f.svc.ApplyPlanPurchase(ctx, "acct-1", purchase)
	require.NoError(t, err)

	purchase.IsRenewal = true
	_, err = f.svc.ApplyPlanPurchase(ctx, "acct-1", purchase)
	assert.ErrorIs(t, err, xerrors.ErrDuplicatePayment)

	assert.Equal(t, 15, f.ledger(t, "acct-1").TotalTokens)
	history, err := f.svc.GetPurchaseHistory(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, history.Total)
}

func TestHandlePaymentCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.HandlePaymentCompleted(ctx, &token.PaymentCompletedRequest{
		AccountID: "acct-1", PlanName: "traders silver", Amount: 89, ExternalPaymentRef: "cs_9",
	})
	require.NoError(t, err)
	assert.Equal(t, "Traders Silver", *res.Ledger.PlanName)
	assert.Equal(t, 10, res.Ledger.TotalTokens)

	_, err = f.svc.HandlePaymentCompleted(ctx, &token.PaymentCompletedRequest{AccountID: "acct-1", PlanName: "Unknown"})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestApplyPlanPurchaseValidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApplyPlanPurchase(context.Background(), "acct-1", token.PlanPurchase{PlanName: "x", TokenGrant: 0, ValidityDays: 30})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)

	_, err = f.svc.ApplyPlanPurchase(context.Background(), "", token.PlanPurchase{PlanName: "x", TokenGrant: 1, ValidityDays: 30})
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.listing(t, "lst-1", "acct-1")
	f.listing(t, "lst-2", "acct-2")
	f.buy(t, "acct-1", "Traders Gold", 15, false)
	_, err := f.svc.ActivateVehicleToken(ctx, "acct-1", "lst-1")
	require.NoError(t, err)

	f.clock.Advance(15 * 24 * time.Hour)
	f.buy(t, "acct-2", "Traders Gold", 15, false)
	_, err = f.svc.ActivateVehicleToken(ctx, "acct-2", "lst-2")
	require.NoError(t, err)

	// Only acct-1 has expired.
	f.clock.Advance(16 * 24 * time.Hour)
	first, err := f.svc.ProcessExpiredPlans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.AccountsSwept)
	assert.True(t, f.state(t, "lst-2").IsActive())

	snapshot := f.ledger(t, "acct-1")
	second, err := f.svc.ProcessExpiredPlans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.AccountsScanned)
	assert.Equal(t, 0, second.AccountsSwept)
	assert.Equal(t, snapshot, f.ledger(t, "acct-1"))
}

func TestSweepSkipsAccountRenewedAfterScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.buy(t, "acct-1", "Traders Gold", 15, false)
	f.clock.Advance(31 * 24 * time.Hour)

	// Renewal lands between the scan and the per-account transaction.
	f.buy(t, "acct-1", "Traders Gold", 15, true)
	deactivated, swept, err := f.svc.sweepAccount(ctx, "acct-1", f.clock.Now())
	require.NoError(t, err)
	assert.False(t, swept)
	assert.Zero(t, deactivated)
	assert.True(t, f.ledger(t, "acct-1").HasPlan())
}

// failingStore fails every SaveListing call after the ledger has been saved,
// to prove a half-applied transaction is never observable.
type failingStore struct {
	*memory.TokenStore
	failAccount string
}

type failingTx struct {
	token.Tx
	fail bool
}

func (s *failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx token.Tx) error) error {
	return s.TokenStore.WithinTx(ctx, func(ctx context.Context, tx token.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, fail: true})
	})
}

func (t *failingTx) SaveListing(ctx context.Context, state *token.ListingTokenState) error {
	if t.fail {
		return errors.New("connection reset")
	}
	return t.Tx.SaveListing(ctx, state)
}

func TestStorageFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.listing(t, "lst-1", "acct-1")
	f.buy(t, "acct-1", "Traders Gold", 15, false)
	before := f.ledger(t, "acct-1")

	broken := NewTokenService(&failingStore{TokenStore: f.store}, token.MustDefaultCatalog(), zap.NewNop(), WithClock(f.clock.Now))
	_, err := broken.ActivateVehicleToken(ctx, "acct-1", "lst-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrStorage)
	assert.False(t, xerrors.IsEligibility(err))

	assert.Equal(t, before, f.ledger(t, "acct-1"))
	assert.False(t, f.state(t, "lst-1").IsActive())
}

func TestSweepCollectsFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, acct := range []string{"acct-1", "acct-2"} {
		f.listing(t, "lst-"+acct, acct)
		f.buy(t, acct, "Traders Gold", 15, false)
		_, err := f.svc.ActivateVehicleToken(ctx, acct, "lst-"+acct)
		require.NoError(t, err)
	}
	f.clock.Advance(31 * 24 * time.Hour)

	broken := NewTokenService(&failingStore{TokenStore: f.store}, token.MustDefaultCatalog(), zap.NewNop(), WithClock(f.clock.Now), WithSweepConcurrency(2))
	result, err := broken.ProcessExpiredPlans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.AccountsScanned)
	assert.Equal(t, 0, result.AccountsSwept)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "acct-1", result.Failures[0].AccountID)
	assert.True(t, f.ledger(t, "acct-1").HasPlan())

	// The healthy service picks them up on the next run.
	result, err = f.svc.ProcessExpiredPlans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.AccountsSwept)
	assert.Equal(t, 2, result.ListingsDeactivated)
}

func TestCheckTokenAvailabilityUnknownAccount(t *testing.T) {
	f := newFixture(t)
	a, err := f.svc.CheckTokenAvailability(context.Background(), "acct-404")
	require.NoError(t, err)
	assert.Equal(t, "acct-404", a.AccountID)
	assert.False(t, a.HasActivePlan)
	assert.False(t, a.PlanExpired)
	assert.Zero(t, a.AvailableTokens)
	assert.Nil(t, a.Ledger)
}

func ptr[T any](v T) *T { return &v }
