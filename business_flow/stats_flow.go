// Package businessflow contains the core business logic and use cases for match analytics
package businessflow

import (
	"context"
	"time"

	"github.com/communitrade/matching-engine/app/dto"
	"github.com/communitrade/matching-engine/app/services"
	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/repository"
	"github.com/communitrade/matching-engine/utils"
)

// DefaultStatsWindowDays is the rolling window when the caller passes none.
const DefaultStatsWindowDays = 30

// scoreBucketKeys and distanceBucketKeys fix the dashboard bucket set; empty
// buckets still appear with a zero count.
var scoreBucketKeys = []string{"0-40", "40-60", "60-80", "80-100"}
var distanceBucketKeys = []string{"walking", "local", "city", "regional", "distant"}

// StatsFlow aggregates match data for the analytics dashboard. Read-only.
type StatsFlow interface {
	Stats(ctx context.Context, tenantID string, windowDays int) (*dto.MatchingStatsResponse, error)
}

// StatsFlowImpl implements the analytics business flow
type StatsFlowImpl struct {
	recordRepo repository.MatchRecordRepository
	configRepo repository.MatchConfigRepository
	cache      services.MatchCache
}

// NewStatsFlow creates a new stats flow instance
func NewStatsFlow(
	recordRepo repository.MatchRecordRepository,
	configRepo repository.MatchConfigRepository,
	cache services.MatchCache,
) StatsFlow {
	return &StatsFlowImpl{
		recordRepo: recordRepo,
		configRepo: configRepo,
		cache:      cache,
	}
}

// Stats computes the dashboard aggregates over the rolling window. Calendar
// boundaries (today, this week, this month) follow the tenant timezone.
func (s *StatsFlowImpl) Stats(ctx context.Context, tenantID string, windowDays int) (*dto.MatchingStatsResponse, error) {
	if windowDays == 0 {
		windowDays = DefaultStatsWindowDays
	}
	if windowDays < 1 || windowDays > 365 {
		return nil, NewBusinessError("MATCH_STATS_FAILED", "Window must be between 1 and 365 days", ErrInvalidWindowDays)
	}

	config, err := s.configRepo.ByTenant(ctx, tenantID)
	if err != nil {
		return nil, NewBusinessError("MATCH_STATS_FAILED", "Failed to load config", err)
	}
	if config == nil {
		config = models.DefaultMatchConfig(tenantID)
	}

	loc := config.Location()
	now := utils.UTCNow()
	since := now.AddDate(0, 0, -windowDays)

	resp := &dto.MatchingStatsResponse{WindowDays: windowDays}

	resp.MatchesToday, err = s.countSince(ctx, tenantID, utils.StartOfDay(now, loc))
	if err != nil {
		return nil, err
	}
	resp.MatchesThisWeek, err = s.countSince(ctx, tenantID, utils.StartOfWeek(now, loc))
	if err != nil {
		return nil, err
	}
	resp.MatchesThisMonth, err = s.countSince(ctx, tenantID, utils.StartOfMonth(now, loc))
	if err != nil {
		return nil, err
	}

	hot := true
	resp.HotMatches, err = s.recordRepo.Count(ctx, models.MatchRecordFilter{
		TenantID:     &tenantID,
		IsHot:        &hot,
		CreatedAfter: &since,
	})
	if err != nil {
		return nil, NewBusinessError("MATCH_STATS_FAILED", "Failed to count hot matches", err)
	}

	mutual := models.MatchTypeMutual
	resp.MutualMatches, err = s.recordRepo.Count(ctx, models.MatchRecordFilter{
		TenantID:     &tenantID,
		MatchType:    &mutual,
		CreatedAfter: &since,
	})
	if err != nil {
		return nil, NewBusinessError("MATCH_STATS_FAILED", "Failed to count mutual matches", err)
	}

	resp.ActiveUsers, err = s.recordRepo.DistinctActiveUsers(ctx, tenantID, since)
	if err != nil {
		return nil, NewBusinessError("MATCH_STATS_FAILED", "Failed to count active users", err)
	}

	resp.CacheEntries, err = s.cache.EntryCount(ctx, tenantID)
	if err != nil {
		return nil, NewBusinessError("MATCH_STATS_FAILED", "Failed to count cache entries", ErrCacheUnavailable)
	}

	resp.AverageScore, resp.AverageDistance, err = s.recordRepo.Averages(ctx, tenantID, since)
	if err != nil {
		return nil, NewBusinessError("MATCH_STATS_FAILED", "Failed to compute averages", err)
	}

	counts, err := s.recordRepo.StatusCounts(ctx, tenantID, since)
	if err != nil {
		return nil, NewBusinessError("MATCH_STATS_FAILED", "Failed to count statuses", err)
	}
	resp.PendingCount = counts.Pending
	resp.ApprovedCount = counts.Approved
	resp.RejectedCount = counts.Rejected
	resp.ApprovalRate = counts.ApprovalRate()

	scoreBuckets, err := s.recordRepo.ScoreBuckets(ctx, tenantID, since)
	if err != nil {
		return nil, NewBusinessError("MATCH_STATS_FAILED", "Failed to bucket scores", err)
	}
	resp.ScoreDistribution = fillBuckets(scoreBucketKeys, scoreBuckets)

	distanceBuckets, err := s.recordRepo.DistanceBuckets(ctx, tenantID, since)
	if err != nil {
		return nil, NewBusinessError("MATCH_STATS_FAILED", "Failed to bucket distances", err)
	}
	resp.DistanceDistribution = fillBuckets(distanceBucketKeys, distanceBuckets)

	return resp, nil
}

func (s *StatsFlowImpl) countSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	count, err := s.recordRepo.Count(ctx, models.MatchRecordFilter{
		TenantID:     &tenantID,
		CreatedAfter: &since,
	})
	if err != nil {
		return 0, NewBusinessError("MATCH_STATS_FAILED", "Failed to count matches", err)
	}
	return count, nil
}

func fillBuckets(keys []string, counts map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(keys))
	for _, key := range keys {
		out[key] = counts[key]
	}
	return out
}
