package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/communitrade/matching-engine/models"
	"gorm.io/gorm"
)

// haversineExpr computes great-circle distance in km between a listing row
// and a fixed point. Placeholders: lat, lon, lat.
const haversineExpr = `6371 * acos(LEAST(1.0,
	cos(radians(?)) * cos(radians(latitude)) * cos(radians(longitude) - radians(?)) +
	sin(radians(?)) * sin(radians(latitude))))`

// ListingRepositoryImpl implements the ListingRepository interface. All
// methods are read-only; listing lifecycle belongs to the marketplace.
type ListingRepositoryImpl struct {
	DB *gorm.DB
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *gorm.DB) ListingRepository {
	return &ListingRepositoryImpl{DB: db}
}

func (r *ListingRepositoryImpl) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxContextKey).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.DB
}

// ByID retrieves a listing by ID
func (r *ListingRepositoryImpl) ByID(ctx context.Context, id uint) (*models.Listing, error) {
	db := r.getDB(ctx)

	var listing models.Listing
	err := db.Last(&listing, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &listing, nil
}

// ActiveByUser returns a user's active listings within a tenant
func (r *ListingRepositoryImpl) ActiveByUser(ctx context.Context, tenantID string, userID uint) ([]*models.Listing, error) {
	active := true
	filter := models.ListingFilter{
		TenantID: &tenantID,
		UserID:   &userID,
		Active:   &active,
	}
	return r.ByFilter(ctx, filter, "created_at DESC", 0, 0)
}

// CandidatesNear returns the bounded candidate pool around a point. Ordering
// puts same-category listings first, then nearest, so the pool cap keeps the
// most promising candidates.
func (r *ListingRepositoryImpl) CandidatesNear(ctx context.Context, tenantID string, listingType models.ListingType, lat, lon, maxKm float64, subjectCategoryID uint, excludeUserID uint, excludedUserIDs map[uint]struct{}, poolCap int) ([]*models.Listing, error) {
	db := r.getDB(ctx)

	query := db.Model(&models.Listing{}).
		Select("listings.*, "+haversineExpr+" AS distance_km", lat, lon, lat).
		Where("tenant_id = ? AND type = ? AND active = true", tenantID, listingType).
		Where("user_id <> ?", excludeUserID).
		Where(haversineExpr+" <= ?", lat, lon, lat, maxKm)

	if len(excludedUserIDs) > 0 {
		ids := make([]uint, 0, len(excludedUserIDs))
		for id := range excludedUserIDs {
			ids = append(ids, id)
		}
		query = query.Where("user_id NOT IN ?", ids)
	}

	query = query.Order(fmt.Sprintf("(category_id = %d) DESC, distance_km ASC", subjectCategoryID))
	if poolCap > 0 {
		query = query.Limit(poolCap)
	}

	var listings []*models.Listing
	err := query.Find(&listings).Error
	if err != nil {
		return nil, err
	}

	return listings, nil
}

// CategoryIndexByUsers builds the offer/need category sets per user in one
// grouped query. Offers count as offer categories, requests as needs.
func (r *ListingRepositoryImpl) CategoryIndexByUsers(ctx context.Context, tenantID string, userIDs []uint) (map[uint]*models.UserCategoryIndex, error) {
	out := make(map[uint]*models.UserCategoryIndex)
	if len(userIDs) == 0 {
		return out, nil
	}

	type row struct {
		UserID     uint
		Type       models.ListingType
		CategoryID uint
	}
	var rows []row
	db := r.getDB(ctx)
	err := db.Model(&models.Listing{}).
		Select("user_id, type, category_id").
		Where("tenant_id = ? AND active = true AND user_id IN ?", tenantID, userIDs).
		Group("user_id, type, category_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, rw := range rows {
		idx, ok := out[rw.UserID]
		if !ok {
			idx = &models.UserCategoryIndex{
				UserID:           rw.UserID,
				OfferCategoryIDs: make(map[uint]struct{}),
				NeedCategoryIDs:  make(map[uint]struct{}),
			}
			out[rw.UserID] = idx
		}
		if rw.Type == models.ListingTypeOffer {
			idx.OfferCategoryIDs[rw.CategoryID] = struct{}{}
		} else {
			idx.NeedCategoryIDs[rw.CategoryID] = struct{}{}
		}
	}
	return out, nil
}

// ProfilesByUserIDs loads profiles for the given users keyed by user ID
func (r *ListingRepositoryImpl) ProfilesByUserIDs(ctx context.Context, tenantID string, userIDs []uint) (map[uint]*models.Profile, error) {
	out := make(map[uint]*models.Profile)
	if len(userIDs) == 0 {
		return out, nil
	}

	var profiles []*models.Profile
	db := r.getDB(ctx)
	err := db.Where("tenant_id = ? AND user_id IN ?", tenantID, userIDs).
		Find(&profiles).Error
	if err != nil {
		return nil, err
	}

	for _, p := range profiles {
		out[p.UserID] = p
	}
	return out, nil
}

// ByFilter retrieves listings based on filter criteria
func (r *ListingRepositoryImpl) ByFilter(ctx context.Context, filter models.ListingFilter, orderBy string, limit, offset int) ([]*models.Listing, error) {
	db := r.getDB(ctx)

	var listings []*models.Listing
	query := r.applyFilter(db, filter)

	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&listings).Error
	if err != nil {
		return nil, err
	}

	return listings, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *ListingRepositoryImpl) applyFilter(db *gorm.DB, filter models.ListingFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.TenantID != nil {
		db = db.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.UserID != nil {
		db = db.Where("user_id = ?", *filter.UserID)
	}
	if filter.Type != nil {
		db = db.Where("type = ?", *filter.Type)
	}
	if filter.CategoryID != nil {
		db = db.Where("category_id = ?", *filter.CategoryID)
	}
	if filter.Active != nil {
		db = db.Where("active = ?", *filter.Active)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}
