// internal/service/vehicle/listing_service.go
package vehicle

import (
	"context"
	"fmt"
	"math"
	"strings"

	"motorlist-service/internal/domain/token"
	"motorlist-service/internal/domain/vehicle"
	xerrors "motorlist-service/internal/pkg/errors"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type ListingService struct {
	repo   vehicle.Repository
	logger *zap.Logger
}

func NewListingService(repo vehicle.Repository, logger *zap.Logger) *ListingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListingService{repo: repo, logger: logger}
}

// CreateListing registers a listing for an account. It always starts inactive;
// spending a token is a separate step.
func (s *ListingService) CreateListing(ctx context.Context, accountID string, req *vehicle.CreateListingRequest) (*vehicle.Listing, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("%w: account id is required", xerrors.ErrInvalidInput)
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = ulid.Make().String()
	}

	listing := &vehicle.Listing{
		ID:           id,
		AccountID:    accountID,
		Title:        strings.TrimSpace(req.Title),
		Make:         strings.TrimSpace(req.Make),
		Model:        strings.TrimSpace(req.Model),
		YearMake:     req.YearMake,
		Price:        req.Price,
		Mileage:      req.Mileage,
		FuelType:     req.FuelType,
		Transmission: req.Transmission,
		TokenStatus:  token.StatusInactive,
	}

	if err := s.repo.Create(ctx, listing); err != nil {
		if xerrors.Is(err, xerrors.ErrDuplicateEntry) {
			return nil, err
		}
		s.logger.Error("failed to create listing", zap.String("account_id", accountID), zap.Error(err))
		return nil, xerrors.Storage(err, "failed to create listing")
	}

	s.logger.Info("listing created", zap.String("account_id", accountID), zap.String("listing_id", listing.ID))
	return listing, nil
}

// GetListing returns a listing owned by the account
func (s *ListingService) GetListing(ctx context.Context, accountID, listingID string) (*vehicle.Listing, error) {
	listing, err := s.repo.FindByID(ctx, listingID)
	if err != nil {
		return nil, xerrors.Storage(err, "failed to get listing")
	}
	if listing.AccountID != accountID {
		return nil, xerrors.ErrForbidden
	}
	return listing, nil
}

// ListListings returns the account's listings, optionally filtered by token status
func (s *ListingService) ListListings(ctx context.Context, accountID string, filters *vehicle.ListingListFilters) (*vehicle.ListingListResponse, error) {
	if filters == nil {
		filters = &vehicle.ListingListFilters{}
	}
	if filters.TokenStatus != nil && !filters.TokenStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown token status %q", xerrors.ErrInvalidInput, *filters.TokenStatus)
	}
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 {
		filters.PageSize = defaultPageSize
	}
	if filters.PageSize > maxPageSize {
		filters.PageSize = maxPageSize
	}

	listings, total, err := s.repo.ListByAccount(ctx, accountID, filters)
	if err != nil {
		return nil, xerrors.Storage(err, "failed to list listings")
	}

	return &vehicle.ListingListResponse{
		Listings:   listings,
		Total:      total,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(filters.PageSize))),
	}, nil
}
