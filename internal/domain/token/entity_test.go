package token

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ledgerWith(plan string, end *time.Time, total, used int) *AccountLedger {
	l := &AccountLedger{AccountID: "acct-1", TotalTokens: total, UsedTokens: used, PlanEndDate: end}
	if plan != "" {
		l.PlanName = &plan
	}
	return l
}

func at(t time.Time) *time.Time { return &t }

func TestEvaluateAvailability(t *testing.T) {
	tests := []struct {
		name          string
		ledger        *AccountLedger
		wantActive    bool
		wantExpired   bool
		wantAvailable int
		wantHasTokens bool
	}{
		{"no ledger", nil, false, false, 0, false},
		{"no plan", ledgerWith("", nil, 0, 0), false, false, 0, false},
		{"active with tokens", ledgerWith("Traders Gold", at(now.Add(time.Hour)), 15, 3), true, false, 12, true},
		{"active exhausted", ledgerWith("Traders Gold", at(now.Add(time.Hour)), 15, 15), true, false, 0, false},
		{"ends exactly now", ledgerWith("Traders Gold", at(now), 15, 3), false, true, 12, false},
		{"ended", ledgerWith("Traders Gold", at(now.Add(-time.Second)), 15, 3), false, true, 12, false},
		{"plan without end date", ledgerWith("Traders Gold", nil, 15, 0), false, true, 15, false},
		{"over-used clamps to zero", &AccountLedger{PlanName: at2("x"), PlanEndDate: at(now.Add(time.Hour)), TotalTokens: 1, UsedTokens: 3}, true, false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := EvaluateAvailability("acct-1", tt.ledger, now)
			assert.Equal(t, tt.wantActive, a.HasActivePlan)
			assert.Equal(t, tt.wantExpired, a.PlanExpired)
			assert.Equal(t, tt.wantAvailable, a.AvailableTokens)
			assert.Equal(t, tt.wantHasTokens, a.HasAvailableTokens)
			assert.Same(t, tt.ledger, a.Ledger)
		})
	}
}

func at2(s string) *string { return &s }

func TestApplyPurchase(t *testing.T) {
	t.Run("new purchase on empty ledger", func(t *testing.T) {
		l := &AccountLedger{AccountID: "acct-1"}
		rec := l.ApplyPurchase(PlanPurchase{PlanName: "Traders Gold", TokenGrant: 15, ValidityDays: 30, Amount: 119, ExternalRef: "cs_1"}, now)

		assert.Equal(t, "Traders Gold", *l.PlanName)
		assert.Equal(t, 15, l.TotalTokens)
		assert.Equal(t, 0, l.UsedTokens)
		assert.Equal(t, now, *l.PlanStartDate)
		assert.Equal(t, now.AddDate(0, 0, 30), *l.PlanEndDate)
		assert.Equal(t, PaymentCompleted, *l.LastPaymentStatus)
		assert.Equal(t, now, *l.LastPaymentDate)

		assert.Equal(t, PurchaseNew, rec.Kind)
		assert.Equal(t, "acct-1", rec.AccountID)
		assert.Equal(t, 15, rec.TokensGranted)
		assert.Equal(t, 30, rec.ValidityDays)
		assert.Equal(t, "cs_1", rec.ExternalRef)
		assert.Equal(t, now, rec.PurchaseDate)
	})

	t.Run("upgrade carries unused tokens", func(t *testing.T) {
		l := ledgerWith("Traders Silver", at(now.Add(24*time.Hour)), 10, 7)
		rec := l.ApplyPurchase(PlanPurchase{PlanName: "Traders Bronze", TokenGrant: 5, ValidityDays: 30, IsUpgrade: true}, now)

		assert.Equal(t, 8, l.TotalTokens)
		assert.Equal(t, 0, l.UsedTokens)
		assert.Equal(t, PurchaseUpgrade, rec.Kind)
	})

	t.Run("renewal carries unused tokens", func(t *testing.T) {
		l := ledgerWith("Traders Gold", at(now.Add(24*time.Hour)), 15, 3)
		rec := l.ApplyPurchase(PlanPurchase{PlanName: "Traders Platinum", TokenGrant: 30, ValidityDays: 30, IsRenewal: true}, now)

		assert.Equal(t, 42, l.TotalTokens)
		assert.Equal(t, 0, l.UsedTokens)
		assert.Equal(t, PurchaseRenewal, rec.Kind)
	})

	t.Run("non-upgrade replaces the grant", func(t *testing.T) {
		l := ledgerWith("Traders Gold", at(now.Add(24*time.Hour)), 15, 3)
		l.ApplyPurchase(PlanPurchase{PlanName: "Traders Bronze", TokenGrant: 5, ValidityDays: 30}, now)

		assert.Equal(t, 5, l.TotalTokens)
		assert.Equal(t, 0, l.UsedTokens)
	})

	t.Run("upgrade without a plan is a new purchase", func(t *testing.T) {
		l := ledgerWith("", nil, 0, 0)
		rec := l.ApplyPurchase(PlanPurchase{PlanName: "Traders Bronze", TokenGrant: 5, ValidityDays: 30, IsUpgrade: true}, now)

		assert.Equal(t, 5, l.TotalTokens)
		assert.Equal(t, PurchaseNew, rec.Kind)
	})
}

func TestResetPlanAndReleaseToken(t *testing.T) {
	l := ledgerWith("Traders Gold", at(now), 15, 1)

	l.ReleaseToken()
	assert.Equal(t, 0, l.UsedTokens)
	l.ReleaseToken()
	assert.Equal(t, 0, l.UsedTokens, "release must clamp at zero")

	l.UsedTokens = 4
	l.ResetPlan()
	assert.Nil(t, l.PlanName)
	assert.Equal(t, 0, l.UsedTokens)
	assert.Equal(t, 0, l.TotalTokens)
	require.NotNil(t, l.PlanEndDate, "dates stay for audit")
	assert.False(t, l.HasPlan())
	assert.False(t, l.Expired(now))
}

func TestCheckInvariant(t *testing.T) {
	assert.NoError(t, ledgerWith("x", nil, 3, 3).CheckInvariant())
	assert.Error(t, ledgerWith("x", nil, 3, 4).CheckInvariant())
	assert.Error(t, ledgerWith("x", nil, 3, -1).CheckInvariant())
}

func TestDeactivationReason(t *testing.T) {
	assert.False(t, ReasonUserChoice.Refunds())
	assert.True(t, ReasonPlanExpired.Refunds())
	assert.True(t, ReasonTokenLimitReached.Refunds())
	assert.True(t, ReasonManual.Refunds())

	r, err := ParseDeactivationReason("manual")
	require.NoError(t, err)
	assert.Equal(t, ReasonManual, r)

	_, err = ParseDeactivationReason("bored")
	assert.Error(t, err)

	var req DeactivateTokenRequest
	assert.Error(t, json.Unmarshal([]byte(`{"reason":"bored"}`), &req))
	require.NoError(t, json.Unmarshal([]byte(`{"reason":"token_limit_reached"}`), &req))
	assert.Equal(t, ReasonTokenLimitReached, req.Reason)
}

func TestListingTokenStateTransitions(t *testing.T) {
	s := &ListingTokenState{ListingID: "lst-1", AccountID: "acct-1", TokenStatus: StatusInactive}
	end := now.AddDate(0, 0, 30)

	s.Activate(now, &end)
	assert.True(t, s.IsActive())
	assert.Equal(t, end, *s.TokenExpiryDate)
	assert.Nil(t, s.DeactivationReason)

	end = end.Add(time.Hour)
	assert.NotEqual(t, end, *s.TokenExpiryDate, "expiry must not alias the ledger date")

	assert.True(t, s.Deactivate(now, ReasonManual))
	assert.False(t, s.IsActive())
	assert.Equal(t, ReasonManual, *s.DeactivationReason)
	assert.False(t, s.Deactivate(now, ReasonManual))
}

func TestCloneIsDeep(t *testing.T) {
	l := ledgerWith("Traders Gold", at(now), 15, 3)
	c := l.Clone()
	*c.PlanName = "changed"
	*c.PlanEndDate = now.Add(time.Hour)

	assert.Equal(t, "Traders Gold", *l.PlanName)
	assert.Equal(t, now, *l.PlanEndDate)
}
