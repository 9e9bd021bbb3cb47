// internal/app/router.go
package app

import (
	"net/http"
	"time"

	tokenHandler "motorlist-service/internal/handlers/token"
	listingHandler "motorlist-service/internal/handlers/vehicle"
	"motorlist-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	TokenHandler   *tokenHandler.TokenHandler
	ListingHandler *listingHandler.ListingHandler
	AuthMiddleware *middleware.AuthMiddleware

	// Optional
	RateLimiter     middleware.Limiter
	RateLimitMax    int64
	RateLimitWindow time.Duration
	MetricsEnabled  bool
	HealthCheck     func(c *gin.Context) error
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		if h.HealthCheck != nil {
			if err := h.HealthCheck(c); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": "1.0.0"})
	})

	if h.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// ==================== Public ====================
	api.GET("/plans", h.TokenHandler.ListPlans)

	limit := middleware.RateLimit(h.RateLimiter, h.RateLimitMax, h.RateLimitWindow, logger)

	// ==================== Account Tokens ====================
	tokens := api.Group("/tokens")
	tokens.Use(h.AuthMiddleware.Auth())
	{
		tokens.GET("/availability", h.TokenHandler.GetAvailability)
		tokens.GET("/purchases", h.TokenHandler.GetPurchaseHistory)
	}

	// ==================== Listings ====================
	listings := api.Group("/listings")
	listings.Use(h.AuthMiddleware.Auth())
	{
		listings.POST("", limit, h.ListingHandler.CreateListing)
		listings.GET("", h.ListingHandler.ListListings)
		listings.GET("/:id", h.ListingHandler.GetListing)
		listings.POST("/:id/token/activate", limit, h.TokenHandler.ActivateToken)
		listings.POST("/:id/token/deactivate", limit, h.TokenHandler.DeactivateToken)
	}

	// ==================== Payments ====================
	payments := api.Group("/admin/payments")
	payments.Use(h.AuthMiddleware.PaymentsOrAdmin()...)
	{
		payments.POST("/completed", h.TokenHandler.PaymentCompleted)
	}

	// ==================== Admin ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		admin.POST("/listings/:id/token/deactivate", h.TokenHandler.AdminDeactivateToken)
		admin.POST("/tokens/sweep", h.TokenHandler.RunSweep)
		admin.GET("/accounts/:account_id/availability", h.TokenHandler.AdminGetAvailability)
	}
}
