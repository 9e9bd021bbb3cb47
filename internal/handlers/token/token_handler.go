// internal/handlers/token/token_handler.go
package token

import (
	"errors"
	"io"
	"net/http"

	"motorlist-service/internal/domain/token"
	"motorlist-service/internal/middleware"
	xerrors "motorlist-service/internal/pkg/errors"
	"motorlist-service/internal/pkg/response"
	service "motorlist-service/internal/service/token"

	"github.com/gin-gonic/gin"
)

type TokenHandler struct {
	tokenService *service.TokenService
}

func NewTokenHandler(tokenService *service.TokenService) *TokenHandler {
	return &TokenHandler{
		tokenService: tokenService,
	}
}

// ========== Public Endpoints ==========

// ListPlans returns the plan catalog
func (h *TokenHandler) ListPlans(c *gin.Context) {
	response.Success(c, http.StatusOK, "plans retrieved successfully", h.tokenService.ListPlans())
}

// ========== Account Endpoints ==========

// GetAvailability reports the caller's token availability
func (h *TokenHandler) GetAvailability(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	result, err := h.tokenService.CheckTokenAvailability(c.Request.Context(), accountID)
	if err != nil {
		response.FromError(c, "failed to check token availability", err)
		return
	}

	response.Success(c, http.StatusOK, "token availability retrieved successfully", result)
}

// GetPurchaseHistory lists the caller's plan purchases
func (h *TokenHandler) GetPurchaseHistory(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	result, err := h.tokenService.GetPurchaseHistory(c.Request.Context(), accountID)
	if err != nil {
		response.FromError(c, "failed to retrieve purchase history", err)
		return
	}

	response.Success(c, http.StatusOK, "purchase history retrieved successfully", result)
}

// ActivateToken spends one of the caller's tokens on a listing
func (h *TokenHandler) ActivateToken(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)
	listingID := c.Param("id")

	result, err := h.tokenService.ActivateVehicleToken(c.Request.Context(), accountID, listingID)
	if err != nil {
		response.FromError(c, "failed to activate listing", err)
		return
	}

	response.Success(c, http.StatusOK, "listing activated successfully", result)
}

// DeactivateToken takes a listing offline at the holder's request. Only
// user_choice (the default) is accepted, so the token stays spent; refunding
// reasons are reserved for admins and the expiry sweep.
func (h *TokenHandler) DeactivateToken(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)
	listingID := c.Param("id")

	var req token.DeactivateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, http.StatusBadRequest, "invalid request", err, map[string]string{"reason": xerrors.ReasonInvalidInput})
		return
	}
	if req.Reason == "" {
		req.Reason = token.ReasonUserChoice
	}
	if req.Reason != token.ReasonUserChoice {
		response.FromError(c, "reason not allowed", xerrors.ErrForbidden)
		return
	}

	result, err := h.tokenService.DeactivateVehicleToken(c.Request.Context(), accountID, listingID, req.Reason)
	if err != nil {
		response.FromError(c, "failed to deactivate listing", err)
		return
	}

	response.Success(c, http.StatusOK, "listing deactivated successfully", result)
}

// ========== Payments / Admin Endpoints ==========

// PaymentCompleted applies a completed payment event to the account ledger
func (h *TokenHandler) PaymentCompleted(c *gin.Context) {
	var req token.PaymentCompletedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err, map[string]string{"reason": xerrors.ReasonInvalidInput})
		return
	}

	result, err := h.tokenService.HandlePaymentCompleted(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, "failed to apply payment", err)
		return
	}

	response.Success(c, http.StatusCreated, "payment applied successfully", result)
}

// AdminDeactivateToken deactivates any account's listing, manual by default
func (h *TokenHandler) AdminDeactivateToken(c *gin.Context) {
	listingID := c.Param("id")

	var req token.AdminDeactivateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err, map[string]string{"reason": xerrors.ReasonInvalidInput})
		return
	}
	if req.Reason == "" {
		req.Reason = token.ReasonManual
	}

	result, err := h.tokenService.DeactivateVehicleToken(c.Request.Context(), req.AccountID, listingID, req.Reason)
	if err != nil {
		response.FromError(c, "failed to deactivate listing", err)
		return
	}

	response.Success(c, http.StatusOK, "listing deactivated successfully", result)
}

// AdminGetAvailability reports token availability for any account
func (h *TokenHandler) AdminGetAvailability(c *gin.Context) {
	result, err := h.tokenService.CheckTokenAvailability(c.Request.Context(), c.Param("account_id"))
	if err != nil {
		response.FromError(c, "failed to check token availability", err)
		return
	}

	response.Success(c, http.StatusOK, "token availability retrieved successfully", result)
}

// RunSweep runs the plan expiry sweep on demand
func (h *TokenHandler) RunSweep(c *gin.Context) {
	result, err := h.tokenService.ProcessExpiredPlans(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to run expiry sweep", err)
		return
	}

	response.Success(c, http.StatusOK, "expiry sweep completed", result)
}
