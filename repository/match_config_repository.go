package repository

import (
	"context"

	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/utils"
	"gorm.io/gorm"
)

// MatchConfigRepositoryImpl implements the MatchConfigRepository interface
type MatchConfigRepositoryImpl struct {
	*BaseRepository[models.MatchConfig, models.MatchConfigFilter]
}

// NewMatchConfigRepository creates a new match config repository
func NewMatchConfigRepository(db *gorm.DB) MatchConfigRepository {
	return &MatchConfigRepositoryImpl{
		BaseRepository: NewBaseRepository[models.MatchConfig, models.MatchConfigFilter](db),
	}
}

// ByTenant retrieves the config row for a tenant, nil when none exists
func (r *MatchConfigRepositoryImpl) ByTenant(ctx context.Context, tenantID string) (*models.MatchConfig, error) {
	filter := models.MatchConfigFilter{TenantID: &tenantID}
	configs, err := r.ByFilter(ctx, filter, "", 1, 0)
	if err != nil {
		return nil, err
	}

	if len(configs) == 0 {
		return nil, nil
	}

	return configs[0], nil
}

// Update replaces a config row
func (r *MatchConfigRepositoryImpl) Update(ctx context.Context, config models.MatchConfig) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				db.Commit()
			}
		}()
	}

	now := utils.UTCNow()
	config.UpdatedAt = &now

	err = db.Save(&config).Error
	if err != nil {
		return err
	}

	return nil
}

// ByFilter retrieves configs based on filter criteria
func (r *MatchConfigRepositoryImpl) ByFilter(ctx context.Context, filter models.MatchConfigFilter, orderBy string, limit, offset int) ([]*models.MatchConfig, error) {
	db := r.getDB(ctx)

	var configs []*models.MatchConfig
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

	err := query.Find(&configs).Error
	if err != nil {
		return nil, err
	}

	return configs, nil
}

// Count returns the number of configs matching the filter
func (r *MatchConfigRepositoryImpl) Count(ctx context.Context, filter models.MatchConfigFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.MatchConfig{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any config matching the filter exists
func (r *MatchConfigRepositoryImpl) Exists(ctx context.Context, filter models.MatchConfigFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *MatchConfigRepositoryImpl) applyFilter(db *gorm.DB, filter models.MatchConfigFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.TenantID != nil {
		db = db.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.Enabled != nil {
		db = db.Where("enabled = ?", *filter.Enabled)
	}

	return db
}
