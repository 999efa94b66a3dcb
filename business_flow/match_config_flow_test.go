package businessflow

import (
	"context"
	"errors"
	"testing"

	"github.com/communitrade/matching-engine/app/dto"
	"github.com/communitrade/matching-engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfigFixture() (*stubConfigRepo, *stubCache, MatchConfigFlow) {
	configRepo := &stubConfigRepo{}
	cache := newStubCache()
	return configRepo, cache, NewMatchConfigFlow(configRepo, cache, nil)
}

func TestMatchConfigFlow_GetConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("ProvisionsDefaultsOnFirstAccess", func(t *testing.T) {
		configRepo, _, flow := newConfigFixture()

		resp, err := flow.GetConfig(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, "tenant-1", resp.TenantID)
		assert.True(t, resp.Enabled)
		assert.True(t, resp.BrokerApprovalEnabled)
		assert.Equal(t, 40, resp.MinMatchScore)
		assert.Equal(t, 1, configRepo.saved, "default config persisted")
	})

	t.Run("ReturnsStoredConfig", func(t *testing.T) {
		configRepo, _, flow := newConfigFixture()
		stored := models.DefaultMatchConfig("tenant-1")
		stored.MinMatchScore = 55
		configRepo.config = stored

		resp, err := flow.GetConfig(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, 55, resp.MinMatchScore)
		assert.Equal(t, 0, configRepo.saved)
	})
}

func TestMatchConfigFlow_UpdateConfig(t *testing.T) {
	ctx := context.Background()
	metadata := NewClientMetadata("127.0.0.1", "test-agent")

	t.Run("EmptyUpdateRejected", func(t *testing.T) {
		_, _, flow := newConfigFixture()

		_, err := flow.UpdateConfig(ctx, "tenant-1", &dto.UpdateMatchConfigRequest{}, metadata)
		assert.True(t, IsConfigUpdateEmpty(err))

		_, err = flow.UpdateConfig(ctx, "tenant-1", nil, metadata)
		assert.True(t, IsConfigUpdateEmpty(err))
	})

	t.Run("PartialUpdatePreservesOtherFields", func(t *testing.T) {
		configRepo, _, flow := newConfigFixture()
		configRepo.config = models.DefaultMatchConfig("tenant-1")

		minScore := 60
		resp, err := flow.UpdateConfig(ctx, "tenant-1", &dto.UpdateMatchConfigRequest{
			MinMatchScore: &minScore,
		}, metadata)
		require.NoError(t, err)

		assert.Equal(t, 60, resp.MinMatchScore)
		assert.Equal(t, 80, resp.HotMatchThreshold)
		assert.InDelta(t, 0.25, resp.Weights.Category, 0.001)
		assert.Equal(t, 1, configRepo.updated)
	})

	t.Run("InvalidMergeLeavesStoredConfigUntouched", func(t *testing.T) {
		configRepo, _, flow := newConfigFixture()
		configRepo.config = models.DefaultMatchConfig("tenant-1")

		// Individually valid weights whose sum is far from 1.0.
		_, err := flow.UpdateConfig(ctx, "tenant-1", &dto.UpdateMatchConfigRequest{
			Weights: &dto.MatchWeightsDTO{
				Category: 0.9, Skill: 0.9, Proximity: 0.9,
				Freshness: 0.9, Reciprocity: 0.9, Quality: 0.9,
			},
		}, metadata)
		require.Error(t, err)

		var be *BusinessError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, "MATCH_CONFIG_VALIDATION_FAILED", be.Code)
		assert.Equal(t, 0, configRepo.updated)
		assert.InDelta(t, 0.25, configRepo.config.Weights.Category, 0.001)
	})

	t.Run("BandOrderViolationRejected", func(t *testing.T) {
		configRepo, _, flow := newConfigFixture()
		configRepo.config = models.DefaultMatchConfig("tenant-1")

		_, err := flow.UpdateConfig(ctx, "tenant-1", &dto.UpdateMatchConfigRequest{
			ProximityBands: []dto.ProximityBandDTO{
				{DistanceKmCeiling: 20, ScoreMultiplier: 1.0},
				{DistanceKmCeiling: 10, ScoreMultiplier: 0.8},
			},
		}, metadata)
		require.Error(t, err)

		var be *BusinessError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, "MATCH_CONFIG_VALIDATION_FAILED", be.Code)
	})

	t.Run("CacheClearRetriedAfterOneFailure", func(t *testing.T) {
		configRepo, cache, flow := newConfigFixture()
		configRepo.config = models.DefaultMatchConfig("tenant-1")
		cache.put("tenant-1", "10:1", nil)
		cache.failClears = 1

		minScore := 50
		_, err := flow.UpdateConfig(ctx, "tenant-1", &dto.UpdateMatchConfigRequest{
			MinMatchScore: &minScore,
		}, metadata)
		require.NoError(t, err)

		count, err := cache.EntryCount(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count, "second clear attempt succeeded")
	})

	t.Run("SuccessfulUpdateClearsTenantCache", func(t *testing.T) {
		configRepo, cache, flow := newConfigFixture()
		configRepo.config = models.DefaultMatchConfig("tenant-1")
		cache.put("tenant-1", "10:1", nil)
		cache.put("tenant-1", "11:2", nil)
		cache.put("tenant-2", "30:9", nil)

		enabled := false
		_, err := flow.UpdateConfig(ctx, "tenant-1", &dto.UpdateMatchConfigRequest{
			Enabled: &enabled,
		}, metadata)
		require.NoError(t, err)

		count, err := cache.EntryCount(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)

		count, err = cache.EntryCount(ctx, "tenant-2")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})
}

func TestMatchConfigFlow_ClearCache(t *testing.T) {
	ctx := context.Background()

	t.Run("ReportsClearedCount", func(t *testing.T) {
		_, cache, flow := newConfigFixture()
		cache.put("tenant-1", "10:1", nil)
		cache.put("tenant-1", "11:2", nil)

		resp, err := flow.ClearCache(ctx, "tenant-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), resp.EntriesCleared)
	})

	t.Run("CacheDownSurfacesUnavailable", func(t *testing.T) {
		_, cache, flow := newConfigFixture()
		cache.failAll = true

		_, err := flow.ClearCache(ctx, "tenant-1")
		assert.True(t, IsCacheUnavailable(err))
	})
}
