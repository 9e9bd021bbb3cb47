// internal/domain/token/entity.go
package token

import (
	"fmt"
	"time"
)

type TokenStatus string
type DeactivationReason string
type PaymentStatus string
type PurchaseKind string

const (
	StatusActive   TokenStatus = "active"
	StatusInactive TokenStatus = "inactive"
)

const (
	ReasonUserChoice        DeactivationReason = "user_choice"
	ReasonPlanExpired       DeactivationReason = "plan_expired"
	ReasonTokenLimitReached DeactivationReason = "token_limit_reached"
	ReasonManual            DeactivationReason = "manual"
)

const (
	PaymentCompleted PaymentStatus = "completed"
)

const (
	PurchaseNew     PurchaseKind = "new"
	PurchaseUpgrade PurchaseKind = "upgrade"
	PurchaseRenewal PurchaseKind = "renewal"
)

// Valid reports whether s is one of the two token states.
func (s TokenStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Valid reports whether r is a known deactivation reason.
func (r DeactivationReason) Valid() bool {
	switch r {
	case ReasonUserChoice, ReasonPlanExpired, ReasonTokenLimitReached, ReasonManual:
		return true
	}
	return false
}

// Refunds reports whether deactivating an active listing for this reason
// returns the token slot to the account. A dealer's own choice keeps it spent.
func (r DeactivationReason) Refunds() bool {
	return r != ReasonUserChoice
}

// UnmarshalText rejects unknown reasons at the decoding boundary.
func (r *DeactivationReason) UnmarshalText(b []byte) error {
	v := DeactivationReason(b)
	if !v.Valid() {
		return fmt.Errorf("unknown deactivation reason %q", string(b))
	}
	*r = v
	return nil
}

// ParseDeactivationReason converts a raw string into a DeactivationReason.
func ParseDeactivationReason(s string) (DeactivationReason, error) {
	var r DeactivationReason
	if err := r.UnmarshalText([]byte(s)); err != nil {
		return "", err
	}
	return r, nil
}

// AccountLedger is the per-account token ledger.
type AccountLedger struct {
	AccountID     string     `json:"account_id" db:"account_id"`
	PlanName      *string    `json:"plan_name,omitempty" db:"plan_name"`
	PlanStartDate *time.Time `json:"plan_start_date,omitempty" db:"plan_start_date"`
	PlanEndDate   *time.Time `json:"plan_end_date,omitempty" db:"plan_end_date"`

	// Token accounting
	TotalTokens int `json:"total_tokens" db:"total_tokens"`
	UsedTokens  int `json:"used_tokens" db:"used_tokens"`

	// Payment
	LastPaymentStatus *PaymentStatus `json:"last_payment_status,omitempty" db:"last_payment_status"`
	LastPaymentDate   *time.Time     `json:"last_payment_date,omitempty" db:"last_payment_date"`

	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasPlan reports whether a plan name is set, regardless of expiry.
func (l *AccountLedger) HasPlan() bool {
	return l != nil && l.PlanName != nil && *l.PlanName != ""
}

// AvailableTokens is max(0, total-used).
func (l *AccountLedger) AvailableTokens() int {
	if l == nil {
		return 0
	}
	if n := l.TotalTokens - l.UsedTokens; n > 0 {
		return n
	}
	return 0
}

// Expired reports whether the plan end date is at or before now. A plan
// without an end date counts as expired.
func (l *AccountLedger) Expired(now time.Time) bool {
	if !l.HasPlan() {
		return false
	}
	return l.PlanEndDate == nil || !l.PlanEndDate.After(now)
}

// CheckInvariant verifies 0 <= used <= total.
func (l *AccountLedger) CheckInvariant() error {
	if l.UsedTokens < 0 || l.TotalTokens < 0 || l.UsedTokens > l.TotalTokens {
		return fmt.Errorf("ledger %s out of balance: used=%d total=%d", l.AccountID, l.UsedTokens, l.TotalTokens)
	}
	return nil
}

// Clone returns a deep copy.
func (l *AccountLedger) Clone() *AccountLedger {
	if l == nil {
		return nil
	}
	c := *l
	c.PlanName = cloneString(l.PlanName)
	c.PlanStartDate = cloneTime(l.PlanStartDate)
	c.PlanEndDate = cloneTime(l.PlanEndDate)
	c.LastPaymentDate = cloneTime(l.LastPaymentDate)
	if l.LastPaymentStatus != nil {
		s := *l.LastPaymentStatus
		c.LastPaymentStatus = &s
	}
	return &c
}

// ApplyPurchase folds a completed purchase into the ledger and returns the
// record to append to the purchase history. Upgrades and renewals of a live
// plan carry unused tokens forward and reset the used count; anything else
// starts from the new grant.
func (l *AccountLedger) ApplyPurchase(p PlanPurchase, now time.Time) PurchaseRecord {
	kind := PurchaseNew
	total := p.TokenGrant
	if (p.IsUpgrade || p.IsRenewal) && l.HasPlan() {
		total = l.AvailableTokens() + p.TokenGrant
		kind = PurchaseRenewal
		if p.IsUpgrade {
			kind = PurchaseUpgrade
		}
	}

	start := now
	end := now.AddDate(0, 0, p.ValidityDays)
	status := PaymentCompleted
	name := p.PlanName

	l.PlanName = &name
	l.PlanStartDate = &start
	l.PlanEndDate = &end
	l.TotalTokens = total
	l.UsedTokens = 0
	l.LastPaymentStatus = &status
	l.LastPaymentDate = &start

	return PurchaseRecord{
		AccountID:     l.AccountID,
		PlanName:      p.PlanName,
		PurchaseDate:  now,
		Amount:        p.Amount,
		ExternalRef:   p.ExternalRef,
		TokensGranted: p.TokenGrant,
		ValidityDays:  p.ValidityDays,
		Kind:          kind,
	}
}

// ResetPlan clears the plan after expiry. Dates stay for audit.
func (l *AccountLedger) ResetPlan() {
	l.PlanName = nil
	l.UsedTokens = 0
	l.TotalTokens = 0
}

// ReleaseToken gives one used slot back, clamped at zero.
func (l *AccountLedger) ReleaseToken() {
	if l.UsedTokens > 0 {
		l.UsedTokens--
	}
}

// PurchaseRecord is one append-only entry of an account's purchase history.
type PurchaseRecord struct {
	ID            string       `json:"id" db:"id"`
	AccountID     string       `json:"account_id" db:"account_id"`
	PlanName      string       `json:"plan_name" db:"plan_name"`
	PurchaseDate  time.Time    `json:"purchase_date" db:"purchase_date"`
	Amount        float64      `json:"amount" db:"amount"`
	ExternalRef   string       `json:"external_ref,omitempty" db:"external_ref"`
	TokensGranted int          `json:"tokens_granted" db:"tokens_granted"`
	ValidityDays  int          `json:"validity_days" db:"validity_days"`
	Kind          PurchaseKind `json:"kind" db:"kind"`
}

// ListingTokenState is the token-related part of a vehicle listing.
type ListingTokenState struct {
	ListingID            string              `json:"listing_id" db:"id"`
	AccountID            string              `json:"account_id" db:"account_id"`
	TokenStatus          TokenStatus         `json:"token_status" db:"token_status"`
	TokenActivatedDate   *time.Time          `json:"token_activated_date,omitempty" db:"token_activated_date"`
	TokenExpiryDate      *time.Time          `json:"token_expiry_date,omitempty" db:"token_expiry_date"`
	TokenDeactivatedDate *time.Time          `json:"token_deactivated_date,omitempty" db:"token_deactivated_date"`
	DeactivationReason   *DeactivationReason `json:"deactivation_reason,omitempty" db:"deactivation_reason"`
	UpdatedAt            time.Time           `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the listing currently holds a token.
func (s *ListingTokenState) IsActive() bool {
	return s.TokenStatus == StatusActive
}

// Activate marks the listing active until planEnd.
func (s *ListingTokenState) Activate(now time.Time, planEnd *time.Time) {
	activated := now
	s.TokenStatus = StatusActive
	s.TokenActivatedDate = &activated
	s.TokenExpiryDate = cloneTime(planEnd)
	s.DeactivationReason = nil
	s.UpdatedAt = now
}

// Deactivate marks the listing inactive and returns whether it was active before.
func (s *ListingTokenState) Deactivate(now time.Time, reason DeactivationReason) bool {
	wasActive := s.IsActive()
	deactivated := now
	r := reason
	s.TokenStatus = StatusInactive
	s.TokenDeactivatedDate = &deactivated
	s.DeactivationReason = &r
	s.UpdatedAt = now
	return wasActive
}

// Clone returns a deep copy.
func (s *ListingTokenState) Clone() *ListingTokenState {
	if s == nil {
		return nil
	}
	c := *s
	c.TokenActivatedDate = cloneTime(s.TokenActivatedDate)
	c.TokenExpiryDate = cloneTime(s.TokenExpiryDate)
	c.TokenDeactivatedDate = cloneTime(s.TokenDeactivatedDate)
	if s.DeactivationReason != nil {
		r := *s.DeactivationReason
		c.DeactivationReason = &r
	}
	return &c
}

// Availability is the result of an eligibility check for an account.
type Availability struct {
	AccountID          string         `json:"account_id"`
	HasActivePlan      bool           `json:"has_active_plan"`
	PlanExpired        bool           `json:"plan_expired"`
	AvailableTokens    int            `json:"available_tokens"`
	HasAvailableTokens bool           `json:"has_available_tokens"`
	Ledger             *AccountLedger `json:"ledger,omitempty"`
}

// EvaluateAvailability computes availability from a ledger snapshot. A nil
// ledger means the account never bought a plan.
func EvaluateAvailability(accountID string, l *AccountLedger, now time.Time) Availability {
	a := Availability{AccountID: accountID, Ledger: l}
	if l == nil {
		return a
	}
	if l.HasPlan() {
		a.PlanExpired = l.Expired(now)
		a.HasActivePlan = !a.PlanExpired
	}
	a.AvailableTokens = l.AvailableTokens()
	a.HasAvailableTokens = a.HasActivePlan && a.AvailableTokens > 0
	return a
}

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	StartedAt           time.Time      `json:"started_at"`
	FinishedAt          time.Time      `json:"finished_at"`
	AccountsScanned     int            `json:"accounts_scanned"`
	AccountsSwept       int            `json:"accounts_swept"`
	ListingsDeactivated int            `json:"listings_deactivated"`
	Failures            []SweepFailure `json:"failures,omitempty"`
}

type SweepFailure struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
