package vehicle

// internal/domain/vehicle/entity.go
import (
	"time"

	"motorlist-service/internal/domain/token"
)

type FuelType string
type TransmissionType string

const (
	FuelTypePetrol   FuelType = "petrol"
	FuelTypeDiesel   FuelType = "diesel"
	FuelTypeElectric FuelType = "electric"
	FuelTypeHybrid   FuelType = "hybrid"

	TransmissionManual    TransmissionType = "manual"
	TransmissionAutomatic TransmissionType = "automatic"
)

// Listing is a vehicle advert owned by a dealer or private account. Only
// token state is managed here; the descriptive fields belong to the
// catalogue service and are carried for display.
type Listing struct {
	ID           string           `json:"id" db:"id"`
	AccountID    string           `json:"account_id" db:"account_id"`
	Title        string           `json:"title" db:"title"`
	Make         string           `json:"make" db:"make"`
	Model        string           `json:"model" db:"model"`
	YearMake     int              `json:"year_make" db:"year_make"`
	Price        float64          `json:"price" db:"price"`
	Mileage      int              `json:"mileage" db:"mileage"`
	FuelType     FuelType         `json:"fuel_type,omitempty" db:"fuel_type"`
	Transmission TransmissionType `json:"transmission,omitempty" db:"transmission"`

	// Token state
	TokenStatus          token.TokenStatus         `json:"token_status" db:"token_status"`
	TokenActivatedDate   *time.Time                `json:"token_activated_date,omitempty" db:"token_activated_date"`
	TokenExpiryDate      *time.Time                `json:"token_expiry_date,omitempty" db:"token_expiry_date"`
	TokenDeactivatedDate *time.Time                `json:"token_deactivated_date,omitempty" db:"token_deactivated_date"`
	DeactivationReason   *token.DeactivationReason `json:"deactivation_reason,omitempty" db:"deactivation_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TokenState projects the listing onto its token state.
func (l *Listing) TokenState() *token.ListingTokenState {
	s := &token.ListingTokenState{
		ListingID:            l.ID,
		AccountID:            l.AccountID,
		TokenStatus:          l.TokenStatus,
		TokenActivatedDate:   l.TokenActivatedDate,
		TokenExpiryDate:      l.TokenExpiryDate,
		TokenDeactivatedDate: l.TokenDeactivatedDate,
		DeactivationReason:   l.DeactivationReason,
		UpdatedAt:            l.UpdatedAt,
	}
	return s.Clone()
}

// ApplyTokenState copies token state back onto the listing.
func (l *Listing) ApplyTokenState(s *token.ListingTokenState) {
	c := s.Clone()
	l.TokenStatus = c.TokenStatus
	l.TokenActivatedDate = c.TokenActivatedDate
	l.TokenExpiryDate = c.TokenExpiryDate
	l.TokenDeactivatedDate = c.TokenDeactivatedDate
	l.DeactivationReason = c.DeactivationReason
	l.UpdatedAt = c.UpdatedAt
}

// CreateListingRequest registers a listing for token management. New
// listings always start inactive.
type CreateListingRequest struct {
	ID           string           `json:"id"`
	Title        string           `json:"title" binding:"required,max=255"`
	Make         string           `json:"make" binding:"required"`
	Model        string           `json:"model" binding:"required"`
	YearMake     int              `json:"year_make" binding:"required,min=1900,max=2100"`
	Price        float64          `json:"price" binding:"min=0"`
	Mileage      int              `json:"mileage" binding:"min=0"`
	FuelType     FuelType         `json:"fuel_type" binding:"omitempty,oneof=petrol diesel electric hybrid"`
	Transmission TransmissionType `json:"transmission" binding:"omitempty,oneof=manual automatic"`
}

// ListingListFilters for listing an account's vehicles
type ListingListFilters struct {
	TokenStatus *token.TokenStatus `form:"token_status"`
	Page        int                `form:"page"`
	PageSize    int                `form:"page_size"`
}

// ListingListResponse paginated list response
type ListingListResponse struct {
	Listings   []Listing `json:"listings"`
	Total      int64     `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}
