package utils

import (
	"time"
)

// ContextKey is the type for request-scoped context values.
type ContextKey string

// Context keys populated by the handler layer for audit logging and timeouts.
const (
	RequestIDKey  ContextKey = "request_id"
	UserAgentKey  ContextKey = "user_agent"
	IPAddressKey  ContextKey = "ip_address"
	EndpointKey   ContextKey = "endpoint"
	TimeoutKey    ContextKey = "timeout"
	CancelFuncKey ContextKey = "cancel_func"
	TenantIDKey   ContextKey = "tenant_id"
	ReviewerIDKey ContextKey = "reviewer_id"
)

// Token and session time constants
const (
	// ReviewerTokenTTL is the time-to-live for reviewer access tokens (24 hours)
	ReviewerTokenTTL = 24 * time.Hour

	// RefreshTokenTTL is the time-to-live for refresh tokens (7 days)
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Matching engine defaults. All of these are overridable per tenant through
// the match config; the constants are the provisioning defaults.
const (
	// DefaultCacheTTL is how long a computed match set stays valid.
	DefaultCacheTTL = 15 * time.Minute

	// DefaultCandidatePoolCap bounds how many listings one scoring pass evaluates.
	DefaultCandidatePoolCap = 200

	// DefaultScoringConcurrency bounds the per-pass scoring worker pool.
	DefaultScoringConcurrency = 8

	// DefaultMaxDistanceKm is the provisioning default search radius.
	DefaultMaxDistanceKm = 50.0

	// DefaultMinMatchScore is the provisioning default score floor.
	DefaultMinMatchScore = 40

	// DefaultHotMatchThreshold is the provisioning default hot-match score.
	DefaultHotMatchThreshold = 80

	// DefaultFreshnessHorizonDays is the age at which a listing's freshness decays to 0.
	DefaultFreshnessHorizonDays = 30

	// DefaultNeutralQuality is the quality sub-score used when profile data is missing.
	DefaultNeutralQuality = 0.5

	// WeightSumTolerance is the allowed deviation of the weight sum from 1.0.
	WeightSumTolerance = 0.05

	// ApprovalsPageSize is the fixed page size for the admin approvals list.
	ApprovalsPageSize = 20
)
