// internal/handlers/vehicle/listing_handler.go
package vehicle

import (
	"net/http"

	"motorlist-service/internal/domain/vehicle"
	"motorlist-service/internal/middleware"
	xerrors "motorlist-service/internal/pkg/errors"
	"motorlist-service/internal/pkg/response"
	service "motorlist-service/internal/service/vehicle"

	"github.com/gin-gonic/gin"
)

type ListingHandler struct {
	listingService *service.ListingService
}

func NewListingHandler(listingService *service.ListingService) *ListingHandler {
	return &ListingHandler{
		listingService: listingService,
	}
}

// CreateListing registers a new, inactive listing for the caller
func (h *ListingHandler) CreateListing(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	var req vehicle.CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err, map[string]string{"reason": xerrors.ReasonInvalidInput})
		return
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), accountID, &req)
	if err != nil {
		response.FromError(c, "failed to create listing", err)
		return
	}

	response.Success(c, http.StatusCreated, "listing created successfully", listing)
}

// GetListing retrieves one of the caller's listings
func (h *ListingHandler) GetListing(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	listing, err := h.listingService.GetListing(c.Request.Context(), accountID, c.Param("id"))
	if err != nil {
		response.FromError(c, "listing not found", err)
		return
	}

	response.Success(c, http.StatusOK, "listing retrieved successfully", listing)
}

// ListListings lists the caller's listings
func (h *ListingHandler) ListListings(c *gin.Context) {
	accountID := middleware.MustGetAccountID(c)

	var filters vehicle.ListingListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid query parameters", err, map[string]string{"reason": xerrors.ReasonInvalidInput})
		return
	}

	result, err := h.listingService.ListListings(c.Request.Context(), accountID, &filters)
	if err != nil {
		response.FromError(c, "failed to list listings", err)
		return
	}

	response.Success(c, http.StatusOK, "listings retrieved successfully", result)
}
