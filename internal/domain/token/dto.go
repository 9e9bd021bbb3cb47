// internal/domain/token/dto.go
package token

import (
	"fmt"
	"strings"
)

// PlanPurchase is the effect of a completed payment on an account.
type PlanPurchase struct {
	PlanName     string  `json:"plan_name"`
	TokenGrant   int     `json:"token_grant"`
	ValidityDays int     `json:"validity_days"`
	Amount       float64 `json:"amount"`
	ExternalRef  string  `json:"external_ref"`
	IsUpgrade    bool    `json:"is_upgrade"`
	IsRenewal    bool    `json:"is_renewal"`
}

// Validate checks the purchase before it touches the ledger.
func (p PlanPurchase) Validate() error {
	if strings.TrimSpace(p.PlanName) == "" {
		return fmt.Errorf("plan name is required")
	}
	if p.TokenGrant < 1 {
		return fmt.Errorf("token grant must be at least 1")
	}
	if p.ValidityDays < 1 {
		return fmt.Errorf("validity days must be at least 1")
	}
	if p.Amount < 0 {
		return fmt.Errorf("amount cannot be negative")
	}
	return nil
}

// PaymentCompletedRequest is the payment completion event posted by the
// payment collaborator. Token grant and validity fall back to the catalog.
type PaymentCompletedRequest struct {
	AccountID          string  `json:"account_id" binding:"required"`
	PlanName           string  `json:"plan_name" binding:"required"`
	TokenGrant         int     `json:"token_grant" binding:"omitempty,min=1"`
	ValidityDays       int     `json:"validity_days" binding:"omitempty,min=1"`
	Amount             float64 `json:"amount" binding:"min=0"`
	ExternalPaymentRef string  `json:"external_payment_ref"`
	IsUpgrade          bool    `json:"is_upgrade"`
	IsRenewal          bool    `json:"is_renewal"`
}

// ToPurchase resolves the event against the catalog.
func (r *PaymentCompletedRequest) ToPurchase(c *Catalog) (PlanPurchase, error) {
	p := PlanPurchase{
		PlanName:     strings.TrimSpace(r.PlanName),
		TokenGrant:   r.TokenGrant,
		ValidityDays: r.ValidityDays,
		Amount:       r.Amount,
		ExternalRef:  strings.TrimSpace(r.ExternalPaymentRef),
		IsUpgrade:    r.IsUpgrade,
		IsRenewal:    r.IsRenewal,
	}
	if plan, ok := c.Lookup(p.PlanName); ok {
		p.PlanName = plan.Name
		if p.TokenGrant == 0 {
			p.TokenGrant = plan.TokenGrant
		}
		if p.ValidityDays == 0 {
			p.ValidityDays = plan.ValidityDays
		}
	} else if p.TokenGrant == 0 || p.ValidityDays == 0 {
		return PlanPurchase{}, fmt.Errorf("unknown plan %q", r.PlanName)
	}
	return p, p.Validate()
}

// DeactivateTokenRequest is sent by an account holder.
type DeactivateTokenRequest struct {
	Reason DeactivationReason `json:"reason"`
}

// AdminDeactivateTokenRequest is sent by an administrator.
type AdminDeactivateTokenRequest struct {
	AccountID string             `json:"account_id" binding:"required"`
	Reason    DeactivationReason `json:"reason"`
}

// PurchaseHistoryResponse lists an account's purchases in arrival order.
type PurchaseHistoryResponse struct {
	AccountID string           `json:"account_id"`
	Purchases []PurchaseRecord `json:"purchases"`
	Total     int              `json:"total"`
}

// PurchaseResult is returned after a payment has been applied.
type PurchaseResult struct {
	Ledger   *AccountLedger  `json:"ledger"`
	Purchase *PurchaseRecord `json:"purchase"`
}

// TokenChangeResult is returned after a listing's token state changed.
type TokenChangeResult struct {
	Listing *ListingTokenState `json:"listing"`
	Ledger  *AccountLedger     `json:"ledger,omitempty"`
}
