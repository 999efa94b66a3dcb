// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/communitrade/matching-engine/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// MatchConfigRepository defines operations for per-tenant match configs
type MatchConfigRepository interface {
	Repository[models.MatchConfig, models.MatchConfigFilter]
	ByTenant(ctx context.Context, tenantID string) (*models.MatchConfig, error)
	Update(ctx context.Context, config models.MatchConfig) error
}

// MatchRecordRepository defines operations for persisted match records
type MatchRecordRepository interface {
	Repository[models.MatchRecord, models.MatchRecordFilter]
	ByUUID(ctx context.Context, uuid string) (*models.MatchRecord, error)
	// UpdateStatusIf transitions the record only when its current status
	// matches expected, returning the number of rows changed. Zero rows with
	// an existing record means a concurrent reviewer won.
	UpdateStatusIf(ctx context.Context, id uint, expected, next models.MatchStatus, reviewerID uint, reviewedAt time.Time, notes *string) (int64, error)
	// RejectedCounterparts returns the user IDs that were ever rejected
	// against the given user in this tenant, in either direction.
	RejectedCounterparts(ctx context.Context, tenantID string, userID uint) (map[uint]struct{}, error)
	StatusCounts(ctx context.Context, tenantID string, since time.Time) (models.MatchStatusCounts, error)
	ScoreBuckets(ctx context.Context, tenantID string, since time.Time) (map[string]int64, error)
	DistanceBuckets(ctx context.Context, tenantID string, since time.Time) (map[string]int64, error)
	DistinctActiveUsers(ctx context.Context, tenantID string, since time.Time) (int64, error)
	Averages(ctx context.Context, tenantID string, since time.Time) (avgScore, avgDistance float64, err error)
}

// ListingRepository defines read-only access to the marketplace listing and
// profile read models. The engine never writes through this interface.
type ListingRepository interface {
	ByID(ctx context.Context, id uint) (*models.Listing, error)
	ByFilter(ctx context.Context, filter models.ListingFilter, orderBy string, limit, offset int) ([]*models.Listing, error)
	// ActiveByUser returns the user's active listings within a tenant.
	ActiveByUser(ctx context.Context, tenantID string, userID uint) ([]*models.Listing, error)
	// CandidatesNear returns up to poolCap active listings of the given type
	// within maxKm of the point, nearest-within-category first, excluding the
	// subject user and the given user set. DistanceKm is populated.
	CandidatesNear(ctx context.Context, tenantID string, listingType models.ListingType, lat, lon, maxKm float64, subjectCategoryID uint, excludeUserID uint, excludedUserIDs map[uint]struct{}, poolCap int) ([]*models.Listing, error)
	// CategoryIndexByUsers builds per-user offer/need category sets for
	// reciprocity scoring.
	CategoryIndexByUsers(ctx context.Context, tenantID string, userIDs []uint) (map[uint]*models.UserCategoryIndex, error)
	ProfilesByUserIDs(ctx context.Context, tenantID string, userIDs []uint) (map[uint]*models.Profile, error)
}
