package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/communitrade/matching-engine/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Scoring factor names, used as keys of MatchCandidate.SubScores and in reasons.
const (
	FactorCategory    = "category"
	FactorSkill       = "skill"
	FactorProximity   = "proximity"
	FactorFreshness   = "freshness"
	FactorReciprocity = "reciprocity"
	FactorQuality     = "quality"
)

// MatchWeights holds the six scoring factor weights. They are fractions of 1.0
// and must sum to 1.0 within utils.WeightSumTolerance.
type MatchWeights struct {
	Category    float64 `json:"category"`
	Skill       float64 `json:"skill"`
	Proximity   float64 `json:"proximity"`
	Freshness   float64 `json:"freshness"`
	Reciprocity float64 `json:"reciprocity"`
	Quality     float64 `json:"quality"`
}

// Sum returns the total of all six weights.
func (w MatchWeights) Sum() float64 {
	return w.Category + w.Skill + w.Proximity + w.Freshness + w.Reciprocity + w.Quality
}

// ForFactor returns the weight assigned to the given factor name.
func (w MatchWeights) ForFactor(factor string) float64 {
	switch factor {
	case FactorCategory:
		return w.Category
	case FactorSkill:
		return w.Skill
	case FactorProximity:
		return w.Proximity
	case FactorFreshness:
		return w.Freshness
	case FactorReciprocity:
		return w.Reciprocity
	case FactorQuality:
		return w.Quality
	default:
		return 0
	}
}

// Value implements the driver.Valuer interface for MatchWeights
func (w MatchWeights) Value() (driver.Value, error) {
	return json.Marshal(w)
}

// Scan implements the sql.Scanner interface for MatchWeights
func (w *MatchWeights) Scan(value any) error {
	if value == nil {
		*w = MatchWeights{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into MatchWeights", value)
	}

	return json.Unmarshal(bytes, w)
}

// ProximityBand maps a distance ceiling to a proximity score multiplier.
// The ceiling is inclusive: a candidate at exactly DistanceKmCeiling falls
// into this band.
type ProximityBand struct {
	DistanceKmCeiling float64 `json:"distance_km_ceiling"`
	ScoreMultiplier   float64 `json:"score_multiplier"`
}

// ProximityBands is the ordered band list, stored as jsonb.
type ProximityBands []ProximityBand

// Value implements the driver.Valuer interface for ProximityBands
func (b ProximityBands) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements the sql.Scanner interface for ProximityBands
func (b *ProximityBands) Scan(value any) error {
	if value == nil {
		*b = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ProximityBands", value)
	}

	return json.Unmarshal(bytes, b)
}

// MultiplierFor returns the multiplier of the first band whose ceiling is at
// or beyond the given distance. The second return value is false when the
// distance lies beyond every band.
func (b ProximityBands) MultiplierFor(distanceKm float64) (float64, bool) {
	for _, band := range b {
		if distanceKm <= band.DistanceKmCeiling {
			return band.ScoreMultiplier, true
		}
	}
	return 0, false
}

// MatchConfig is the per-tenant matching configuration. One row per tenant,
// created with defaults on provisioning and mutated only through a validated
// admin update.
type MatchConfig struct {
	ID                    uint           `gorm:"primaryKey" json:"id"`
	UUID                  uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uk_match_configs_uuid" json:"uuid"`
	TenantID              string         `gorm:"not null;uniqueIndex:uk_match_configs_tenant_id" json:"tenant_id"`
	Enabled               bool           `gorm:"not null;default:true" json:"enabled"`
	BrokerApprovalEnabled bool           `gorm:"not null;default:true" json:"broker_approval_enabled"`
	Weights               MatchWeights   `gorm:"type:jsonb;not null" json:"weights"`
	Bands                 ProximityBands `gorm:"type:jsonb;not null" json:"proximity_bands"`
	MaxDistanceKm         float64        `gorm:"not null" json:"max_distance_km"`
	MinMatchScore         int            `gorm:"not null" json:"min_match_score"`
	HotMatchThreshold     int            `gorm:"not null" json:"hot_match_threshold"`
	FreshnessHorizonDays  int            `gorm:"not null" json:"freshness_horizon_days"`
	Timezone              string         `gorm:"not null;default:'UTC'" json:"timezone"`
	CreatedAt             time.Time      `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt             *time.Time     `json:"updated_at,omitempty"`
}

// TableName returns the table name for the model
func (MatchConfig) TableName() string {
	return "match_configs"
}

// BeforeCreate is called before creating a new record
func (c *MatchConfig) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *MatchConfig) BeforeUpdate(tx *gorm.DB) error {
	now := utils.UTCNow()
	c.UpdatedAt = &now
	return nil
}

// Validate checks the config invariants. Errors carry the offending field so
// the admin UI can show field-level messages.
func (c *MatchConfig) Validate() error {
	sum := c.Weights.Sum()
	if math.Abs(sum-1.0) > utils.WeightSumTolerance {
		return fmt.Errorf("weights: sum is %.3f, must be 1.0 ±%.2f", sum, utils.WeightSumTolerance)
	}
	if len(c.Bands) == 0 {
		return fmt.Errorf("proximity_bands: at least one band is required")
	}
	for i, band := range c.Bands {
		if band.DistanceKmCeiling <= 0 {
			return fmt.Errorf("proximity_bands[%d]: distance ceiling must be positive", i)
		}
		if band.ScoreMultiplier < 0 || band.ScoreMultiplier > 1 {
			return fmt.Errorf("proximity_bands[%d]: multiplier must be in [0,1]", i)
		}
		if i > 0 {
			if band.DistanceKmCeiling <= c.Bands[i-1].DistanceKmCeiling {
				return fmt.Errorf("proximity_bands[%d]: distance ceilings must be strictly increasing", i)
			}
			if band.ScoreMultiplier > c.Bands[i-1].ScoreMultiplier {
				return fmt.Errorf("proximity_bands[%d]: multipliers must be non-increasing", i)
			}
		}
	}
	if c.MaxDistanceKm <= 0 {
		return fmt.Errorf("max_distance_km: must be positive")
	}
	if c.MinMatchScore < 0 || c.MinMatchScore > 100 {
		return fmt.Errorf("min_match_score: must be in [0,100]")
	}
	if c.HotMatchThreshold < 0 || c.HotMatchThreshold > 100 {
		return fmt.Errorf("hot_match_threshold: must be in [0,100]")
	}
	if c.FreshnessHorizonDays <= 0 {
		return fmt.Errorf("freshness_horizon_days: must be positive")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone: unknown location %q", c.Timezone)
		}
	}
	return nil
}

// Location resolves the tenant timezone, falling back to UTC.
func (c *MatchConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultMatchConfig returns the provisioning defaults for a tenant.
func DefaultMatchConfig(tenantID string) *MatchConfig {
	return &MatchConfig{
		UUID:                  uuid.New(),
		TenantID:              tenantID,
		Enabled:               true,
		BrokerApprovalEnabled: true,
		Weights: MatchWeights{
			Category:    0.25,
			Skill:       0.20,
			Proximity:   0.20,
			Freshness:   0.10,
			Reciprocity: 0.15,
			Quality:     0.10,
		},
		Bands: ProximityBands{
			{DistanceKmCeiling: 5, ScoreMultiplier: 1.0},
			{DistanceKmCeiling: 15, ScoreMultiplier: 0.8},
			{DistanceKmCeiling: 30, ScoreMultiplier: 0.6},
			{DistanceKmCeiling: 50, ScoreMultiplier: 0.4},
		},
		MaxDistanceKm:        utils.DefaultMaxDistanceKm,
		MinMatchScore:        utils.DefaultMinMatchScore,
		HotMatchThreshold:    utils.DefaultHotMatchThreshold,
		FreshnessHorizonDays: utils.DefaultFreshnessHorizonDays,
		Timezone:             "UTC",
		CreatedAt:            utils.UTCNow(),
	}
}

// MatchConfigFilter represents filter criteria for match configs
type MatchConfigFilter struct {
	ID       *uint      `json:"id,omitempty"`
	UUID     *uuid.UUID `json:"uuid,omitempty"`
	TenantID *string    `json:"tenant_id,omitempty"`
	Enabled  *bool      `json:"enabled,omitempty"`
}
