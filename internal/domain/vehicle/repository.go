// internal/domain/vehicle/repository.go
package vehicle

import "context"

type Repository interface {
	Create(ctx context.Context, listing *Listing) error
	FindByID(ctx context.Context, id string) (*Listing, error)
	ListByAccount(ctx context.Context, accountID string, filters *ListingListFilters) ([]Listing, int64, error)
}
