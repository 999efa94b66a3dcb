package businessflow

import (
	"context"
	"testing"

	"github.com/communitrade/matching-engine/app/dto"
	"github.com/communitrade/matching-engine/app/services"
	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/utils"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// matchingFixture wires a flow around one offer subject (user 10, listing 1)
// and a request-side candidate pool:
//
//	user 20 scores 95 (exact category, shared skill, 3 km, reciprocal)
//	user 30 scores 47 (sibling category, 10 km, complete profile)
//	user 40 scores 13 (unrelated, 45 km, 29 days old) and is filtered out
type matchingFixture struct {
	configRepo  *stubConfigRepo
	listingRepo *stubListingRepo
	recordRepo  *stubRecordRepo
	cache       *stubCache
	flow        MatchingFlow
}

func newMatchingFixture() *matchingFixture {
	now := utils.UTCNow()

	configRepo := &stubConfigRepo{config: models.DefaultMatchConfig("tenant-1")}
	recordRepo := newStubRecordRepo()
	listingRepo := newStubListingRepo()
	cache := newStubCache()

	listingRepo.listings[1] = &models.Listing{
		ID: 1, TenantID: "tenant-1", UserID: 10,
		Type: models.ListingTypeOffer, CategoryID: 7, ParentCategoryID: 70,
		CategoryName: "Carpentry", Title: "Custom shelving",
		Skills: pq.StringArray{"carpentry"}, Active: true, CreatedAt: now,
	}

	listingRepo.pool = []*models.Listing{
		{
			ID: 101, TenantID: "tenant-1", UserID: 20,
			Type: models.ListingTypeRequest, CategoryID: 7, ParentCategoryID: 70,
			CategoryName: "Carpentry", Title: "Need a bookshelf",
			Skills: pq.StringArray{"carpentry"}, Active: true,
			CreatedAt: now, DistanceKm: 3,
		},
		{
			ID: 102, TenantID: "tenant-1", UserID: 30,
			Type: models.ListingTypeRequest, CategoryID: 8, ParentCategoryID: 70,
			CategoryName: "Joinery", Title: "Door repair",
			Active: true, CreatedAt: now, DistanceKm: 10,
		},
		{
			ID: 103, TenantID: "tenant-1", UserID: 40,
			Type: models.ListingTypeRequest, CategoryID: 9, ParentCategoryID: 90,
			CategoryName: "Gardening", Title: "Hedge trimming",
			Active: true, CreatedAt: now.AddDate(0, 0, -29), DistanceKm: 45,
		},
	}

	listingRepo.index[10] = &models.UserCategoryIndex{
		UserID:           10,
		OfferCategoryIDs: map[uint]struct{}{7: {}},
	}
	listingRepo.index[20] = &models.UserCategoryIndex{
		UserID:          20,
		NeedCategoryIDs: map[uint]struct{}{7: {}},
	}

	completeness := 1.0
	listingRepo.profiles[30] = &models.Profile{UserID: 30, Completeness: &completeness}

	flow := NewMatchingFlow(
		configRepo, listingRepo, recordRepo,
		services.NewScoringService(), cache,
		services.NewLogMatchEventSink(), services.NewEngineMetrics(),
		nil, 0, 0,
	)

	return &matchingFixture{
		configRepo:  configRepo,
		listingRepo: listingRepo,
		recordRepo:  recordRepo,
		cache:       cache,
		flow:        flow,
	}
}

func runRequest() *dto.RunMatchingRequest {
	return &dto.RunMatchingRequest{UserID: 10, ListingID: 1}
}

func TestMatchingFlow_RunMatching(t *testing.T) {
	ctx := context.Background()
	metadata := NewClientMetadata("127.0.0.1", "test-agent")

	t.Run("ScoresFiltersAndSorts", func(t *testing.T) {
		f := newMatchingFixture()

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.False(t, resp.FromCache)
		assert.Equal(t, "10:1", resp.SubjectKey)

		require.Len(t, resp.Candidates, 2, "candidate below the score floor is dropped")
		assert.Equal(t, uint(20), resp.Candidates[0].CandidateID)
		assert.Equal(t, 95, resp.Candidates[0].Score)
		assert.InDelta(t, 0.95, resp.Candidates[0].RawScore, 0.001)
		assert.True(t, resp.Candidates[0].IsHot)
		assert.Equal(t, uint(30), resp.Candidates[1].CandidateID)
		assert.Equal(t, 47, resp.Candidates[1].Score)
		assert.False(t, resp.Candidates[1].IsHot)
	})

	t.Run("PersistsPendingRecords", func(t *testing.T) {
		f := newMatchingFixture()

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.Equal(t, 2, resp.RecordsCreated)

		pending := models.MatchStatusPending
		count, err := f.recordRepo.Count(ctx, models.MatchRecordFilter{Status: &pending})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("RecordsBornApprovedWithoutBrokerApproval", func(t *testing.T) {
		f := newMatchingFixture()
		f.configRepo.config.BrokerApprovalEnabled = false

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.Equal(t, 2, resp.RecordsCreated)

		approved := models.MatchStatusApproved
		count, err := f.recordRepo.Count(ctx, models.MatchRecordFilter{Status: &approved})
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("SecondRunServedFromCache", func(t *testing.T) {
		f := newMatchingFixture()

		_, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.True(t, resp.FromCache)
		assert.Equal(t, 0, resp.RecordsCreated)
		assert.Len(t, resp.Candidates, 2)
	})

	t.Run("EqualScoresOrderedByCandidateID", func(t *testing.T) {
		f := newMatchingFixture()
		twin := *f.listingRepo.pool[0]
		twin.ID = 104
		twin.UserID = 15
		f.listingRepo.pool = append(f.listingRepo.pool, &twin)
		f.listingRepo.index[15] = &models.UserCategoryIndex{
			UserID:          15,
			NeedCategoryIDs: map[uint]struct{}{7: {}},
		}

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		require.Len(t, resp.Candidates, 3)
		assert.Equal(t, resp.Candidates[0].Score, resp.Candidates[1].Score)
		assert.Equal(t, uint(15), resp.Candidates[0].CandidateID)
		assert.Equal(t, uint(20), resp.Candidates[1].CandidateID)
	})

	t.Run("RejectedCounterpartsExcluded", func(t *testing.T) {
		f := newMatchingFixture()
		f.recordRepo.rejected[10] = map[uint]struct{}{20: {}}

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)

		require.Len(t, resp.Candidates, 1)
		assert.Equal(t, uint(30), resp.Candidates[0].CandidateID)
		assert.Contains(t, f.listingRepo.lastExcluded, uint(20))
	})

	t.Run("SearchRadiusCappedByLastBand", func(t *testing.T) {
		f := newMatchingFixture()
		f.configRepo.config.MaxDistanceKm = 100

		_, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.Equal(t, 50.0, f.listingRepo.lastMaxKm)
	})

	t.Run("LiveRecordPairsNotDuplicated", func(t *testing.T) {
		f := newMatchingFixture()
		f.recordRepo.add(pendingRecord("tenant-1", 10, 20))

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.Len(t, resp.Candidates, 2)
		assert.Equal(t, 1, resp.RecordsCreated, "only the user 30 pair is new")
	})

	t.Run("ReverseDirectionRecordAlsoDeduplicates", func(t *testing.T) {
		f := newMatchingFixture()
		f.recordRepo.add(pendingRecord("tenant-1", 20, 10))

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.Len(t, resp.Candidates, 2)
		assert.Equal(t, 1, resp.RecordsCreated, "the 10/20 pair already holds a live record")
	})

	t.Run("EmptyPoolIsValid", func(t *testing.T) {
		f := newMatchingFixture()
		f.listingRepo.pool = nil

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.Empty(t, resp.Candidates)
		assert.Equal(t, 0, resp.RecordsCreated)
	})

	t.Run("MissingConfigUsesDefaults", func(t *testing.T) {
		f := newMatchingFixture()
		f.configRepo.config = nil

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.Len(t, resp.Candidates, 2)
	})

	t.Run("SubjectReadRetriedOnce", func(t *testing.T) {
		f := newMatchingFixture()
		f.listingRepo.byIDFailures = 1

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.Len(t, resp.Candidates, 2)
	})
}

func TestMatchingFlow_SubjectGuards(t *testing.T) {
	ctx := context.Background()
	metadata := NewClientMetadata("127.0.0.1", "test-agent")

	t.Run("DisabledTenant", func(t *testing.T) {
		f := newMatchingFixture()
		f.configRepo.config.Enabled = false

		_, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		assert.True(t, IsMatchingDisabled(err))
	})

	t.Run("UnknownListing", func(t *testing.T) {
		f := newMatchingFixture()

		_, err := f.flow.RunMatching(ctx, "tenant-1", &dto.RunMatchingRequest{UserID: 10, ListingID: 99}, metadata)
		assert.True(t, IsSubjectListingNotFound(err))
	})

	t.Run("ListingFromAnotherTenant", func(t *testing.T) {
		f := newMatchingFixture()
		f.listingRepo.listings[1].TenantID = "tenant-2"

		_, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		assert.True(t, IsListingTenantMismatch(err))
	})

	t.Run("ListingOwnedByAnotherUser", func(t *testing.T) {
		f := newMatchingFixture()

		_, err := f.flow.RunMatching(ctx, "tenant-1", &dto.RunMatchingRequest{UserID: 11, ListingID: 1}, metadata)
		assert.True(t, IsListingUserMismatch(err))
	})

	t.Run("InactiveListing", func(t *testing.T) {
		f := newMatchingFixture()
		f.listingRepo.listings[1].Active = false

		_, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		assert.True(t, IsSubjectListingInactive(err))
	})
}

func TestMatchingFlow_MutualClassification(t *testing.T) {
	ctx := context.Background()
	metadata := NewClientMetadata("127.0.0.1", "test-agent")

	t.Run("ReverseEntryPromotesToMutual", func(t *testing.T) {
		f := newMatchingFixture()
		f.cache.put("tenant-1", SubjectKey(20, 101), []models.MatchCandidate{
			{CandidateID: 10, Score: 50},
		})

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)

		require.Len(t, resp.Candidates, 2)
		assert.Equal(t, models.MatchTypeMutual, resp.Candidates[0].MatchType)
		assert.Contains(t, resp.Candidates[0].Reasons, "Matched in both directions")
		assert.Equal(t, models.MatchTypeOneWay, resp.Candidates[1].MatchType)
	})

	t.Run("ReverseScoreBelowFloorStaysOneWay", func(t *testing.T) {
		f := newMatchingFixture()
		f.cache.put("tenant-1", SubjectKey(20, 101), []models.MatchCandidate{
			{CandidateID: 10, Score: 30},
		})

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		assert.Equal(t, models.MatchTypeOneWay, resp.Candidates[0].MatchType)
	})

	t.Run("NoReverseEntryStaysOneWay", func(t *testing.T) {
		f := newMatchingFixture()

		resp, err := f.flow.RunMatching(ctx, "tenant-1", runRequest(), metadata)
		require.NoError(t, err)
		for _, candidate := range resp.Candidates {
			assert.Equal(t, models.MatchTypeOneWay, candidate.MatchType)
		}
	})
}

// Hotness must compare the unrounded raw score against the threshold. A raw
// 79.5 rounds up to a display score of 80 but does not reach an 80 threshold.
func TestMatchingFlow_HotnessUsesRawScore(t *testing.T) {
	f := newMatchingFixture()
	flow := f.flow.(*MatchingFlowImpl)
	cfg := models.DefaultMatchConfig("tenant-1")

	candidates := []models.MatchCandidate{
		{CandidateID: 20, RawScore: 0.795, Score: 80},
		{CandidateID: 30, RawScore: 0.80, Score: 80},
	}
	flow.classify(context.Background(), cfg, f.listingRepo.listings[1], candidates)

	assert.False(t, candidates[0].IsHot)
	assert.True(t, candidates[1].IsHot)
}

func TestMatchingFlow_InvalidateSubject(t *testing.T) {
	ctx := context.Background()

	f := newMatchingFixture()
	f.cache.put("tenant-1", SubjectKey(10, 1), []models.MatchCandidate{{CandidateID: 20}})

	require.NoError(t, f.flow.InvalidateSubject(ctx, "tenant-1", 10, 1))

	entry, err := f.cache.Peek(ctx, "tenant-1", SubjectKey(10, 1))
	require.NoError(t, err)
	assert.Nil(t, entry)

	t.Run("CacheDownSurfacesUnavailable", func(t *testing.T) {
		f := newMatchingFixture()
		f.cache.failAll = true

		err := f.flow.InvalidateSubject(ctx, "tenant-1", 10, 1)
		assert.True(t, IsCacheUnavailable(err))
	})
}

// Guard against fixture drift: the 29-day-old candidate must stay below the
// default score floor even as its freshness decays toward zero.
func TestMatchingFixture_FilteredCandidateScore(t *testing.T) {
	f := newMatchingFixture()
	scorer := services.NewScoringService()
	cfg := models.DefaultMatchConfig("tenant-1")

	stale := f.listingRepo.pool[2]
	score, _, _, _ := scorer.Score(services.ScoringInput{
		Subject:    f.listingRepo.listings[1],
		Candidate:  stale,
		DistanceKm: stale.DistanceKm,
		Now:        utils.UTCNow(),
	}, cfg)
	assert.Less(t, score, cfg.MinMatchScore)
}
