package repository

import (
	"context"
	"time"

	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/utils"
	"gorm.io/gorm"
)

// MatchRecordRepositoryImpl implements the MatchRecordRepository interface
type MatchRecordRepositoryImpl struct {
	*BaseRepository[models.MatchRecord, models.MatchRecordFilter]
}

// NewMatchRecordRepository creates a new match record repository
func NewMatchRecordRepository(db *gorm.DB) MatchRecordRepository {
	return &MatchRecordRepositoryImpl{
		BaseRepository: NewBaseRepository[models.MatchRecord, models.MatchRecordFilter](db),
	}
}

// ByUUID retrieves a match record by UUID
func (r *MatchRecordRepositoryImpl) ByUUID(ctx context.Context, uuid string) (*models.MatchRecord, error) {
	parsedUUID, err := utils.ParseUUID(uuid)
	if err != nil {
		return nil, err
	}

	filter := models.MatchRecordFilter{UUID: &parsedUUID}
	records, err := r.ByFilter(ctx, filter, "", 1, 0)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, nil
	}

	return records[0], nil
}

// UpdateStatusIf performs a compare-and-swap status transition. The WHERE
// clause on the expected status makes concurrent reviewers race safely; the
// loser sees zero rows changed.
func (r *MatchRecordRepositoryImpl) UpdateStatusIf(ctx context.Context, id uint, expected, next models.MatchStatus, reviewerID uint, reviewedAt time.Time, notes *string) (int64, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return 0, err
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

	updates := map[string]any{
		"status":      next,
		"reviewer_id": reviewerID,
		"reviewed_at": reviewedAt,
	}
	if notes != nil {
		updates["notes"] = *notes
	}

	res := db.Model(&models.MatchRecord{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		err = res.Error
		return 0, err
	}

	return res.RowsAffected, nil
}

// RejectedCounterparts returns every user rejected against the given user in
// either direction. Rejection is sticky, so no time bound is applied.
func (r *MatchRecordRepositoryImpl) RejectedCounterparts(ctx context.Context, tenantID string, userID uint) (map[uint]struct{}, error) {
	db := r.getDB(ctx)

	type row struct {
		User1ID uint
		User2ID uint
	}
	var rows []row
	err := db.Model(&models.MatchRecord{}).
		Select("user_1_id, user_2_id").
		Where("tenant_id = ? AND status = ? AND (user_1_id = ? OR user_2_id = ?)",
			tenantID, models.MatchStatusRejected, userID, userID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[uint]struct{}, len(rows))
	for _, rw := range rows {
		if rw.User1ID != userID {
			out[rw.User1ID] = struct{}{}
		}
		if rw.User2ID != userID {
			out[rw.User2ID] = struct{}{}
		}
	}
	return out, nil
}

// StatusCounts returns per-status record counts within the window
func (r *MatchRecordRepositoryImpl) StatusCounts(ctx context.Context, tenantID string, since time.Time) (models.MatchStatusCounts, error) {
	db := r.getDB(ctx)

	type row struct {
		Status models.MatchStatus
		Total  int64
	}
	var rows []row
	err := db.Model(&models.MatchRecord{}).
		Select("status, COUNT(*) AS total").
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return models.MatchStatusCounts{}, err
	}

	var counts models.MatchStatusCounts
	for _, rw := range rows {
		switch rw.Status {
		case models.MatchStatusPending:
			counts.Pending = rw.Total
		case models.MatchStatusApproved:
			counts.Approved = rw.Total
		case models.MatchStatusRejected:
			counts.Rejected = rw.Total
		}
	}
	return counts, nil
}

const scoreBucketExpr = `CASE
	WHEN match_score < 40 THEN '0-40'
	WHEN match_score < 60 THEN '40-60'
	WHEN match_score < 80 THEN '60-80'
	ELSE '80-100'
END`

const distanceBucketExpr = `CASE
	WHEN distance_km < 5 THEN 'walking'
	WHEN distance_km < 15 THEN 'local'
	WHEN distance_km < 30 THEN 'city'
	WHEN distance_km < 50 THEN 'regional'
	ELSE 'distant'
END`

// ScoreBuckets returns match counts per score range within the window
func (r *MatchRecordRepositoryImpl) ScoreBuckets(ctx context.Context, tenantID string, since time.Time) (map[string]int64, error) {
	return r.bucketCounts(ctx, scoreBucketExpr, tenantID, since)
}

// DistanceBuckets returns match counts per distance range within the window
func (r *MatchRecordRepositoryImpl) DistanceBuckets(ctx context.Context, tenantID string, since time.Time) (map[string]int64, error) {
	return r.bucketCounts(ctx, distanceBucketExpr, tenantID, since)
}

func (r *MatchRecordRepositoryImpl) bucketCounts(ctx context.Context, bucketExpr, tenantID string, since time.Time) (map[string]int64, error) {
	db := r.getDB(ctx)

	type row struct {
		Bucket string
		Total  int64
	}
	var rows []row
	err := db.Model(&models.MatchRecord{}).
		Select(bucketExpr+" AS bucket, COUNT(*) AS total").
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Group("bucket").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.Bucket] = rw.Total
	}
	return out, nil
}

// DistinctActiveUsers counts users appearing on either side of a match
// within the window
func (r *MatchRecordRepositoryImpl) DistinctActiveUsers(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	err := db.Raw(`SELECT COUNT(DISTINCT user_id) FROM (
			SELECT user_1_id AS user_id FROM match_records WHERE tenant_id = ? AND created_at >= ?
			UNION
			SELECT user_2_id AS user_id FROM match_records WHERE tenant_id = ? AND created_at >= ?
		) participants`, tenantID, since, tenantID, since).
		Scan(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Averages returns the mean score and distance within the window
func (r *MatchRecordRepositoryImpl) Averages(ctx context.Context, tenantID string, since time.Time) (float64, float64, error) {
	db := r.getDB(ctx)

	type row struct {
		AvgScore    *float64
		AvgDistance *float64
	}
	var rw row
	err := db.Model(&models.MatchRecord{}).
		Select("AVG(match_score) AS avg_score, AVG(distance_km) AS avg_distance").
		Where("tenant_id = ? AND created_at >= ?", tenantID, since).
		Scan(&rw).Error
	if err != nil {
		return 0, 0, err
	}

	var avgScore, avgDistance float64
	if rw.AvgScore != nil {
		avgScore = *rw.AvgScore
	}
	if rw.AvgDistance != nil {
		avgDistance = *rw.AvgDistance
	}
	return avgScore, avgDistance, nil
}

// ByFilter retrieves match records based on filter criteria
func (r *MatchRecordRepositoryImpl) ByFilter(ctx context.Context, filter models.MatchRecordFilter, orderBy string, limit, offset int) ([]*models.MatchRecord, error) {
	db := r.getDB(ctx)

	var records []*models.MatchRecord
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

	err := query.Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Count returns the number of match records matching the filter
func (r *MatchRecordRepositoryImpl) Count(ctx context.Context, filter models.MatchRecordFilter) (int64, error) {
	db := r.getDB(ctx)

	var count int64
	query := r.applyFilter(db.Model(&models.MatchRecord{}), filter)

	err := query.Count(&count).Error
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Exists checks if any match record matching the filter exists
func (r *MatchRecordRepositoryImpl) Exists(ctx context.Context, filter models.MatchRecordFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// applyFilter applies filter conditions to the GORM query
func (r *MatchRecordRepositoryImpl) applyFilter(db *gorm.DB, filter models.MatchRecordFilter) *gorm.DB {
	if filter.ID != nil {
		db = db.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		db = db.Where("uuid = ?", *filter.UUID)
	}
	if filter.TenantID != nil {
		db = db.Where("tenant_id = ?", *filter.TenantID)
	}
	if filter.User1ID != nil {
		db = db.Where("user_1_id = ?", *filter.User1ID)
	}
	if filter.User2ID != nil {
		db = db.Where("user_2_id = ?", *filter.User2ID)
	}
	if filter.AnyUserID != nil {
		db = db.Where("(user_1_id = ? OR user_2_id = ?)", *filter.AnyUserID, *filter.AnyUserID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.MatchType != nil {
		db = db.Where("match_type = ?", *filter.MatchType)
	}
	if filter.IsHot != nil {
		db = db.Where("is_hot = ?", *filter.IsHot)
	}
	if filter.MinScore != nil {
		db = db.Where("match_score >= ?", *filter.MinScore)
	}
	if filter.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		db = db.Where("created_at < ?", *filter.CreatedBefore)
	}

	return db
}
