// internal/service/token/token_service.go
package token

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"motorlist-service/internal/domain/token"
	xerrors "motorlist-service/internal/pkg/errors"
	"motorlist-service/internal/pkg/metrics"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultSweepConcurrency = 4

type TokenService struct {
	store            token.Store
	catalog          *token.Catalog
	logger           *zap.Logger
	now              func() time.Time
	sweepConcurrency int
}

type Option func(*TokenService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *TokenService) { s.now = now }
}

// WithSweepConcurrency bounds how many accounts a sweep processes at once.
func WithSweepConcurrency(n int) Option {
	return func(s *TokenService) {
		if n > 0 {
			s.sweepConcurrency = n
		}
	}
}

func NewTokenService(store token.Store, catalog *token.Catalog, logger *zap.Logger, opts ...Option) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &TokenService{
		store:            store,
		catalog:          catalog,
		logger:           logger,
		now:              time.Now,
		sweepConcurrency: defaultSweepConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPlans returns the plan catalog
func (s *TokenService) ListPlans() []token.Plan {
	return s.catalog.All()
}

// ========== Availability ==========

// CheckTokenAvailability reports whether the account can activate another listing.
// An account without a ledger has no plan.
func (s *TokenService) CheckTokenAvailability(ctx context.Context, accountID string) (*token.Availability, error) {
	if err := requireID("account id", accountID); err != nil {
		return nil, err
	}

	ledger, err := s.store.FindLedger(ctx, accountID)
	if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
		s.logger.Error("failed to load ledger", zap.String("account_id", accountID), zap.Error(err))
		return nil, xerrors.Storage(err, "failed to check token availability")
	}
	if err != nil {
		ledger = nil
	}

	a := token.EvaluateAvailability(accountID, ledger, s.now())
	return &a, nil
}

// ========== Purchases ==========

// HandlePaymentCompleted resolves a payment event against the catalog and applies it.
func (s *TokenService) HandlePaymentCompleted(ctx context.Context, req *token.PaymentCompletedRequest) (*token.PurchaseResult, error) {
	purchase, err := req.ToPurchase(s.catalog)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidInput, err)
	}
	return s.ApplyPlanPurchase(ctx, req.AccountID, purchase)
}

// ApplyPlanPurchase folds a completed payment into the account ledger and
// appends it to the purchase history in one transaction. Listings are not touched.
func (s *TokenService) ApplyPlanPurchase(ctx context.Context, accountID string, p token.PlanPurchase) (*token.PurchaseResult, error) {
	if err := requireID("account id", accountID); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidInput, err)
	}

	now := s.now()
	var result token.PurchaseResult

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx token.Tx) error {
		if p.ExternalRef != "" {
			exists, err := tx.PurchaseExists(ctx, p.ExternalRef)
			if err != nil {
				return err
			}
			if exists {
				return xerrors.ErrDuplicatePayment
			}
		}

		ledger, err := tx.LockOrCreateLedger(ctx, accountID, now)
		if err != nil {
			return err
		}

		record := ledger.ApplyPurchase(p, now)
		record.ID = ulid.Make().String()

		if err := tx.SaveLedger(ctx, ledger); err != nil {
			return err
		}
		if err := tx.AppendPurchase(ctx, &record); err != nil {
			return err
		}

		result.Ledger = ledger
		result.Purchase = &record
		return nil
	})
	if err != nil {
		if xerrors.Is(err, xerrors.ErrDuplicatePayment) {
			s.logger.Warn("duplicate payment ignored",
				zap.String("account_id", accountID),
				zap.String("external_ref", p.ExternalRef),
			)
			return nil, err
		}
		s.logger.Error("failed to apply plan purchase", zap.String("account_id", accountID), zap.Error(err))
		return nil, xerrors.Storage(err, "failed to apply plan purchase")
	}

	metrics.PlanPurchases.WithLabelValues(string(result.Purchase.Kind)).Inc()
	s.logger.Info("plan purchase applied",
		zap.String("account_id", accountID),
		zap.String("plan", p.PlanName),
		zap.String("kind", string(result.Purchase.Kind)),
		zap.Int("total_tokens", result.Ledger.TotalTokens),
		zap.Timep("plan_end_date", result.Ledger.PlanEndDate),
	)

	return &result, nil
}

// GetPurchaseHistory returns the account's purchases in arrival order
func (s *TokenService) GetPurchaseHistory(ctx context.Context, accountID string) (*token.PurchaseHistoryResponse, error) {
	if err := requireID("account id", accountID); err != nil {
		return nil, err
	}

	purchases, err := s.store.ListPurchases(ctx, accountID)
	if err != nil {
		return nil, xerrors.Storage(err, "failed to list purchases")
	}

	return &token.PurchaseHistoryResponse{
		AccountID: accountID,
		Purchases: purchases,
		Total:     len(purchases),
	}, nil
}

// ========== Activation ==========

// ActivateVehicleToken spends one token on a listing. Eligibility is evaluated
// on the locked ledger so concurrent activations cannot over-spend.
func (s *TokenService) ActivateVehicleToken(ctx context.Context, accountID, listingID string) (*token.TokenChangeResult, error) {
	if err := requireID("account id", accountID); err != nil {
		return nil, err
	}
	if err := requireID("listing id", listingID); err != nil {
		return nil, err
	}

	now := s.now()
	var result token.TokenChangeResult

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx token.Tx) error {
		ledger, err := tx.LockLedger(ctx, accountID)
		if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
			return err
		}
		if err != nil {
			ledger = nil
		}

		listing, err := lockOwnedListing(ctx, tx, accountID, listingID)
		if err != nil {
			return err
		}
		if listing.IsActive() {
			return xerrors.ErrInvalidTransition
		}

		a := token.EvaluateAvailability(accountID, ledger, now)
		switch {
		case a.PlanExpired:
			return xerrors.ErrPlanExpired
		case !a.HasActivePlan:
			return xerrors.ErrNoActivePlan
		case !a.HasAvailableTokens:
			return xerrors.ErrNoTokensAvailable
		}

		listing.Activate(now, ledger.PlanEndDate)
		ledger.UsedTokens++

		if err := tx.SaveLedger(ctx, ledger); err != nil {
			return err
		}
		if err := tx.SaveListing(ctx, listing); err != nil {
			return err
		}

		result.Listing = listing
		result.Ledger = ledger
		return nil
	})
	if err != nil {
		metrics.TokenActivations.WithLabelValues(xerrors.Reason(err)).Inc()
		if xerrors.IsEligibility(err) {
			s.logger.Warn("token activation refused",
				zap.String("account_id", accountID),
				zap.String("listing_id", listingID),
				zap.String("reason", xerrors.Reason(err)),
			)
			return nil, err
		}
		s.logger.Error("failed to activate token",
			zap.String("account_id", accountID),
			zap.String("listing_id", listingID),
			zap.Error(err),
		)
		return nil, xerrors.Storage(err, "failed to activate listing token")
	}

	metrics.TokenActivations.WithLabelValues("ok").Inc()
	s.logger.Info("listing token activated",
		zap.String("account_id", accountID),
		zap.String("listing_id", listingID),
		zap.Int("used_tokens", result.Ledger.UsedTokens),
		zap.Int("total_tokens", result.Ledger.TotalTokens),
	)

	return &result, nil
}

// ========== Deactivation ==========

// DeactivateVehicleToken marks an active listing inactive. The token slot is
// refunded unless the account holder chose to deactivate.
func (s *TokenService) DeactivateVehicleToken(ctx context.Context, accountID, listingID string, reason token.DeactivationReason) (*token.TokenChangeResult, error) {
	if err := requireID("account id", accountID); err != nil {
		return nil, err
	}
	if err := requireID("listing id", listingID); err != nil {
		return nil, err
	}
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown deactivation reason %q", xerrors.ErrInvalidInput, reason)
	}

	now := s.now()
	var result token.TokenChangeResult

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx token.Tx) error {
		ledger, err := tx.LockLedger(ctx, accountID)
		if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
			return err
		}
		if err != nil {
			ledger = nil
		}

		listing, err := lockOwnedListing(ctx, tx, accountID, listingID)
		if err != nil {
			return err
		}
		if !listing.IsActive() {
			return xerrors.ErrInvalidTransition
		}

		wasActive := listing.Deactivate(now, reason)
		if wasActive && reason.Refunds() && ledger != nil {
			ledger.ReleaseToken()
			if err := tx.SaveLedger(ctx, ledger); err != nil {
				return err
			}
		}
		if err := tx.SaveListing(ctx, listing); err != nil {
			return err
		}

		result.Listing = listing
		result.Ledger = ledger
		return nil
	})
	if err != nil {
		if xerrors.IsEligibility(err) {
			s.logger.Warn("token deactivation refused",
				zap.String("account_id", accountID),
				zap.String("listing_id", listingID),
				zap.String("reason", xerrors.Reason(err)),
			)
			return nil, err
		}
		s.logger.Error("failed to deactivate token",
			zap.String("account_id", accountID),
			zap.String("listing_id", listingID),
			zap.Error(err),
		)
		return nil, xerrors.Storage(err, "failed to deactivate listing token")
	}

	metrics.TokenDeactivations.WithLabelValues(string(reason)).Inc()
	fields := []zap.Field{
		zap.String("account_id", accountID),
		zap.String("listing_id", listingID),
		zap.String("reason", string(reason)),
	}
	if result.Ledger != nil {
		fields = append(fields, zap.Int("used_tokens", result.Ledger.UsedTokens))
	}
	s.logger.Info("listing token deactivated", fields...)

	return &result, nil
}

// ========== Expiry sweep ==========

// ProcessExpiredPlans deactivates every active listing of accounts whose plan
// has ended and clears their plan. Each account is handled in its own
// transaction; a failing account is reported and does not stop the others.
func (s *TokenService) ProcessExpiredPlans(ctx context.Context) (*token.SweepResult, error) {
	started := s.now()
	timer := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(timer).Seconds()) }()

	accountIDs, err := s.store.ListExpiredAccounts(ctx, started, 0)
	if err != nil {
		s.logger.Error("failed to list expired accounts", zap.Error(err))
		return nil, xerrors.Storage(err, "failed to list expired accounts")
	}

	result := &token.SweepResult{
		StartedAt:       started,
		AccountsScanned: len(accountIDs),
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.sweepConcurrency)

	for _, accountID := range accountIDs {
		accountID := accountID
		g.Go(func() error {
			deactivated, swept, err := s.sweepAccount(ctx, accountID, started)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err != nil:
				metrics.SweepAccounts.WithLabelValues("failed").Inc()
				s.logger.Error("failed to sweep account", zap.String("account_id", accountID), zap.Error(err))
				result.Failures = append(result.Failures, token.SweepFailure{AccountID: accountID, Error: err.Error()})
			case swept:
				metrics.SweepAccounts.WithLabelValues("swept").Inc()
				result.AccountsSwept++
				result.ListingsDeactivated += deactivated
			default:
				metrics.SweepAccounts.WithLabelValues("skipped").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].AccountID < result.Failures[j].AccountID
	})
	result.FinishedAt = s.now()

	if result.ListingsDeactivated > 0 {
		metrics.TokenDeactivations.WithLabelValues(string(token.ReasonPlanExpired)).Add(float64(result.ListingsDeactivated))
	}

	return result, nil
}

// sweepAccount re-checks expiry under the ledger lock, so an account renewed
// since the scan, or already swept, is left alone.
func (s *TokenService) sweepAccount(ctx context.Context, accountID string, now time.Time) (int, bool, error) {
	deactivated := 0
	swept := false

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx token.Tx) error {
		deactivated, swept = 0, false

		ledger, err := tx.LockLedger(ctx, accountID)
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !ledger.Expired(now) {
			return nil
		}

		listings, err := tx.LockActiveListings(ctx, accountID)
		if err != nil {
			return err
		}
		for _, listing := range listings {
			if listing.Deactivate(now, token.ReasonPlanExpired) {
				ledger.ReleaseToken()
				deactivated++
			}
			if err := tx.SaveListing(ctx, listing); err != nil {
				return err
			}
		}

		ledger.ResetPlan()
		if err := tx.SaveLedger(ctx, ledger); err != nil {
			return err
		}
		swept = true
		return nil
	})
	if err != nil {
		return 0, false, xerrors.Storage(err, "failed to sweep account")
	}

	if swept {
		s.logger.Info("expired plan swept",
			zap.String("account_id", accountID),
			zap.Int("listings_deactivated", deactivated),
		)
	}
	return deactivated, swept, nil
}

// ========== Helpers ==========

func lockOwnedListing(ctx context.Context, tx token.Tx, accountID, listingID string) (*token.ListingTokenState, error) {
	listing, err := tx.LockListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.AccountID != accountID {
		return nil, xerrors.ErrForbidden
	}
	return listing, nil
}

func requireID(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", xerrors.ErrInvalidInput, field)
	}
	return nil
}
