package dto

import (
	"time"

	"github.com/communitrade/matching-engine/models"
)

// MatchWeightsDTO carries the six factor weights of a config update
type MatchWeightsDTO struct {
	Category    float64 `json:"category" validate:"min=0,max=1"`
	Skill       float64 `json:"skill" validate:"min=0,max=1"`
	Proximity   float64 `json:"proximity" validate:"min=0,max=1"`
	Freshness   float64 `json:"freshness" validate:"min=0,max=1"`
	Reciprocity float64 `json:"reciprocity" validate:"min=0,max=1"`
	Quality     float64 `json:"quality" validate:"min=0,max=1"`
}

// ProximityBandDTO is one (ceiling, multiplier) step of the band table
type ProximityBandDTO struct {
	DistanceKmCeiling float64 `json:"distance_km_ceiling" validate:"gt=0"`
	ScoreMultiplier   float64 `json:"score_multiplier" validate:"min=0,max=1"`
}

// UpdateMatchConfigRequest is the admin config update payload. Absent fields
// keep their stored values; the merged config is validated as a whole before
// anything is persisted.
type UpdateMatchConfigRequest struct {
	Enabled               *bool              `json:"enabled,omitempty"`
	BrokerApprovalEnabled *bool              `json:"broker_approval_enabled,omitempty"`
	Weights               *MatchWeightsDTO   `json:"weights,omitempty" validate:"omitempty"`
	ProximityBands        []ProximityBandDTO `json:"proximity_bands,omitempty" validate:"omitempty,min=1,dive"`
	MaxDistanceKm         *float64           `json:"max_distance_km,omitempty" validate:"omitempty,gt=0"`
	MinMatchScore         *int               `json:"min_match_score,omitempty" validate:"omitempty,min=0,max=100"`
	HotMatchThreshold     *int               `json:"hot_match_threshold,omitempty" validate:"omitempty,min=0,max=100"`
	FreshnessHorizonDays  *int               `json:"freshness_horizon_days,omitempty" validate:"omitempty,gt=0"`
	Timezone              *string            `json:"timezone,omitempty"`
}

// MatchConfigResponse mirrors the stored config for the admin console
type MatchConfigResponse struct {
	UUID                  string             `json:"uuid"`
	TenantID              string             `json:"tenant_id"`
	Enabled               bool               `json:"enabled"`
	BrokerApprovalEnabled bool               `json:"broker_approval_enabled"`
	Weights               MatchWeightsDTO    `json:"weights"`
	ProximityBands        []ProximityBandDTO `json:"proximity_bands"`
	MaxDistanceKm         float64            `json:"max_distance_km"`
	MinMatchScore         int                `json:"min_match_score"`
	HotMatchThreshold     int                `json:"hot_match_threshold"`
	FreshnessHorizonDays  int                `json:"freshness_horizon_days"`
	Timezone              string             `json:"timezone"`
	UpdatedAt             *time.Time         `json:"updated_at,omitempty"`
}

// ClearCacheResponse reports how many cached match sets were dropped
type ClearCacheResponse struct {
	EntriesCleared int64 `json:"entries_cleared"`
}

// RunMatchingRequest triggers a scoring pass for one subject
type RunMatchingRequest struct {
	UserID    uint `json:"user_id" validate:"required"`
	ListingID uint `json:"listing_id" validate:"required"`
}

// RunMatchingResponse returns the classified candidate set of a pass
type RunMatchingResponse struct {
	SubjectKey     string                  `json:"subject_key"`
	FromCache      bool                    `json:"from_cache"`
	Candidates     []models.MatchCandidate `json:"candidates"`
	RecordsCreated int                     `json:"records_created"`
}

// MatchRecordDTO is the approval-queue view of a match record
type MatchRecordDTO struct {
	ID           uint       `json:"id"`
	UUID         string     `json:"uuid"`
	TenantID     string     `json:"tenant_id"`
	User1ID      uint       `json:"user_1_id"`
	User2ID      uint       `json:"user_2_id"`
	ListingID    uint       `json:"listing_id"`
	MatchScore   int        `json:"match_score"`
	MatchType    string     `json:"match_type"`
	IsHot        bool       `json:"is_hot"`
	DistanceKm   float64    `json:"distance_km"`
	CategoryName string     `json:"category_name"`
	MatchReasons []string   `json:"match_reasons"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	ReviewerID   *uint      `json:"reviewer_id,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
}

// ListApprovalsRequest filters the approval queue
type ListApprovalsRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=pending approved rejected"`
	Page   int    `json:"page" validate:"omitempty,min=1"`
}

// ListApprovalsResponse is one page of the approval queue
type ListApprovalsResponse struct {
	Items      []MatchRecordDTO `json:"items"`
	Pagination PaginationMeta   `json:"pagination"`
}

// RejectMatchRequest carries the mandatory rejection reason
type RejectMatchRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ApprovalDecisionResponse returns the reviewed record
type ApprovalDecisionResponse struct {
	Message string         `json:"message"`
	Record  MatchRecordDTO `json:"record"`
}

// MatchingStatsResponse is the analytics dashboard payload
type MatchingStatsResponse struct {
	WindowDays int `json:"window_days"`

	MatchesToday     int64   `json:"matches_today"`
	MatchesThisWeek  int64   `json:"matches_this_week"`
	MatchesThisMonth int64   `json:"matches_this_month"`
	HotMatches       int64   `json:"hot_matches"`
	MutualMatches    int64   `json:"mutual_matches"`
	ActiveUsers      int64   `json:"active_users"`
	CacheEntries     int64   `json:"cache_entries"`
	AverageScore     float64 `json:"average_score"`
	AverageDistance  float64 `json:"average_distance_km"`

	PendingCount  int64 `json:"pending_count"`
	ApprovedCount int64 `json:"approved_count"`
	RejectedCount int64 `json:"rejected_count"`
	ApprovalRate  int   `json:"approval_rate"`

	ScoreDistribution    map[string]int64 `json:"score_distribution"`
	DistanceDistribution map[string]int64 `json:"distance_distribution"`
}

// ToMatchRecordDTO converts a model to its API shape
func ToMatchRecordDTO(record models.MatchRecord) MatchRecordDTO {
	return MatchRecordDTO{
		ID:           record.ID,
		UUID:         record.UUID.String(),
		TenantID:     record.TenantID,
		User1ID:      record.User1ID,
		User2ID:      record.User2ID,
		ListingID:    record.ListingID,
		MatchScore:   record.MatchScore,
		MatchType:    record.MatchType.String(),
		IsHot:        record.IsHot,
		DistanceKm:   record.DistanceKm,
		CategoryName: record.CategoryName,
		MatchReasons: record.MatchReasons,
		Status:       record.Status.String(),
		CreatedAt:    record.CreatedAt,
		ReviewedAt:   record.ReviewedAt,
		ReviewerID:   record.ReviewerID,
		Notes:        record.Notes,
	}
}

// ToMatchConfigResponse converts a config model to its API shape
func ToMatchConfigResponse(config models.MatchConfig) MatchConfigResponse {
	bands := make([]ProximityBandDTO, 0, len(config.Bands))
	for _, band := range config.Bands {
		bands = append(bands, ProximityBandDTO{
			DistanceKmCeiling: band.DistanceKmCeiling,
			ScoreMultiplier:   band.ScoreMultiplier,
		})
	}

	return MatchConfigResponse{
		UUID:                  config.UUID.String(),
		TenantID:              config.TenantID,
		Enabled:               config.Enabled,
		BrokerApprovalEnabled: config.BrokerApprovalEnabled,
		Weights: MatchWeightsDTO{
			Category:    config.Weights.Category,
			Skill:       config.Weights.Skill,
			Proximity:   config.Weights.Proximity,
			Freshness:   config.Weights.Freshness,
			Reciprocity: config.Weights.Reciprocity,
			Quality:     config.Weights.Quality,
		},
		ProximityBands:       bands,
		MaxDistanceKm:        config.MaxDistanceKm,
		MinMatchScore:        config.MinMatchScore,
		HotMatchThreshold:    config.HotMatchThreshold,
		FreshnessHorizonDays: config.FreshnessHorizonDays,
		Timezone:             config.Timezone,
		UpdatedAt:            config.UpdatedAt,
	}
}
