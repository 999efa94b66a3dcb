// Package businessflow contains the core business logic and use cases for match configuration
package businessflow

import (
	"context"
	"log"

	"github.com/communitrade/matching-engine/app/dto"
	"github.com/communitrade/matching-engine/app/services"
	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/repository"
	"gorm.io/gorm"
)

// MatchConfigFlow handles the per-tenant matching configuration
type MatchConfigFlow interface {
	GetConfig(ctx context.Context, tenantID string) (*dto.MatchConfigResponse, error)
	UpdateConfig(ctx context.Context, tenantID string, req *dto.UpdateMatchConfigRequest, metadata *ClientMetadata) (*dto.MatchConfigResponse, error)
	ClearCache(ctx context.Context, tenantID string) (*dto.ClearCacheResponse, error)
}

// MatchConfigFlowImpl implements the match config business flow
type MatchConfigFlowImpl struct {
	configRepo repository.MatchConfigRepository
	cache      services.MatchCache
	db         *gorm.DB
}

// NewMatchConfigFlow creates a new match config flow instance
func NewMatchConfigFlow(
	configRepo repository.MatchConfigRepository,
	cache services.MatchCache,
	db *gorm.DB,
) MatchConfigFlow {
	return &MatchConfigFlowImpl{
		configRepo: configRepo,
		cache:      cache,
		db:         db,
	}
}

// GetConfig returns the tenant's config, provisioning defaults on first access
func (s *MatchConfigFlowImpl) GetConfig(ctx context.Context, tenantID string) (*dto.MatchConfigResponse, error) {
	config, err := s.loadOrProvision(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	resp := dto.ToMatchConfigResponse(*config)
	return &resp, nil
}

// UpdateConfig merges the request into the stored config, validates the
// merged result as a whole, and persists it. Nothing is written when
// validation fails, so the stored config stays untouched. A successful
// update clears the tenant's cache since every cached score is stale.
func (s *MatchConfigFlowImpl) UpdateConfig(ctx context.Context, tenantID string, req *dto.UpdateMatchConfigRequest, metadata *ClientMetadata) (*dto.MatchConfigResponse, error) {
	if req == nil || isEmptyUpdate(req) {
		return nil, NewBusinessError("MATCH_CONFIG_UPDATE_FAILED", "At least one field must be provided", ErrConfigUpdateEmpty)
	}

	var updated *models.MatchConfig

	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		config, err := s.loadOrProvision(txCtx, tenantID)
		if err != nil {
			return err
		}

		merged := *config
		applyConfigUpdate(&merged, req)

		if err := merged.Validate(); err != nil {
			return NewBusinessError("MATCH_CONFIG_VALIDATION_FAILED", err.Error(), err)
		}

		if err := s.configRepo.Update(txCtx, merged); err != nil {
			return NewBusinessError("MATCH_CONFIG_UPDATE_FAILED", "Failed to persist config", err)
		}

		updated = &merged
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Stale scores are semantically wrong once weights or bands change, so a
	// failed clear is retried once before falling back to TTL expiry.
	clearErr := withRetry(ctx, func() error {
		_, err := s.cache.Clear(ctx, tenantID)
		return err
	})
	if clearErr != nil {
		log.Printf("match config: cache clear after update failed for tenant %s: %v", tenantID, clearErr)
	}

	resp := dto.ToMatchConfigResponse(*updated)
	return &resp, nil
}

// ClearCache drops every cached match set for the tenant
func (s *MatchConfigFlowImpl) ClearCache(ctx context.Context, tenantID string) (*dto.ClearCacheResponse, error) {
	cleared, err := s.cache.Clear(ctx, tenantID)
	if err != nil {
		return nil, NewBusinessError("MATCH_CACHE_CLEAR_FAILED", "Failed to clear match cache", ErrCacheUnavailable)
	}

	return &dto.ClearCacheResponse{EntriesCleared: cleared}, nil
}

func (s *MatchConfigFlowImpl) loadOrProvision(ctx context.Context, tenantID string) (*models.MatchConfig, error) {
	config, err := s.configRepo.ByTenant(ctx, tenantID)
	if err != nil {
		return nil, NewBusinessError("MATCH_CONFIG_LOAD_FAILED", "Failed to load config", err)
	}
	if config != nil {
		return config, nil
	}

	config = models.DefaultMatchConfig(tenantID)
	if err := s.configRepo.Save(ctx, config); err != nil {
		return nil, NewBusinessError("MATCH_CONFIG_PROVISION_FAILED", "Failed to provision default config", err)
	}

	return config, nil
}

func isEmptyUpdate(req *dto.UpdateMatchConfigRequest) bool {
	return req.Enabled == nil &&
		req.BrokerApprovalEnabled == nil &&
		req.Weights == nil &&
		req.ProximityBands == nil &&
		req.MaxDistanceKm == nil &&
		req.MinMatchScore == nil &&
		req.HotMatchThreshold == nil &&
		req.FreshnessHorizonDays == nil &&
		req.Timezone == nil
}

func applyConfigUpdate(config *models.MatchConfig, req *dto.UpdateMatchConfigRequest) {
	if req.Enabled != nil {
		config.Enabled = *req.Enabled
	}
	if req.BrokerApprovalEnabled != nil {
		config.BrokerApprovalEnabled = *req.BrokerApprovalEnabled
	}
	if req.Weights != nil {
		config.Weights = models.MatchWeights{
			Category:    req.Weights.Category,
			Skill:       req.Weights.Skill,
			Proximity:   req.Weights.Proximity,
			Freshness:   req.Weights.Freshness,
			Reciprocity: req.Weights.Reciprocity,
			Quality:     req.Weights.Quality,
		}
	}
	if req.ProximityBands != nil {
		bands := make(models.ProximityBands, 0, len(req.ProximityBands))
		for _, band := range req.ProximityBands {
			bands = append(bands, models.ProximityBand{
				DistanceKmCeiling: band.DistanceKmCeiling,
				ScoreMultiplier:   band.ScoreMultiplier,
			})
		}
		config.Bands = bands
	}
	if req.MaxDistanceKm != nil {
		config.MaxDistanceKm = *req.MaxDistanceKm
	}
	if req.MinMatchScore != nil {
		config.MinMatchScore = *req.MinMatchScore
	}
	if req.HotMatchThreshold != nil {
		config.HotMatchThreshold = *req.HotMatchThreshold
	}
	if req.FreshnessHorizonDays != nil {
		config.FreshnessHorizonDays = *req.FreshnessHorizonDays
	}
	if req.Timezone != nil {
		config.Timezone = *req.Timezone
	}
}
