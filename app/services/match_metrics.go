package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cache outcomes partitioned by tenant
	matchCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_cache_hits_total",
			Help: "Match cache lookups served from Redis",
		},
		[]string{"tenant"},
	)

	matchCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_cache_misses_total",
			Help: "Match cache lookups that triggered candidate generation",
		},
		[]string{"tenant"},
	)

	// Scoring passes completed, partitioned by tenant
	scoringPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_scoring_passes_total",
			Help: "Completed candidate generation passes",
		},
		[]string{"tenant"},
	)

	// Candidates dropped mid-pass due to per-candidate errors
	candidatesSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_candidates_skipped_total",
			Help: "Candidates skipped because scoring them failed",
		},
		[]string{"tenant"},
	)

	matchesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_records_created_total",
			Help: "Match records persisted by scoring passes",
		},
		[]string{"tenant"},
	)

	approvalDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_approval_decisions_total",
			Help: "Broker approval decisions",
		},
		[]string{"tenant", "decision"},
	)
)

// EngineMetrics groups the counters the flows and cache report into.
type EngineMetrics struct{}

// NewEngineMetrics creates the metrics facade
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{}
}

func (m *EngineMetrics) CacheHit(tenantID string) {
	matchCacheHits.WithLabelValues(tenantID).Inc()
}

func (m *EngineMetrics) CacheMiss(tenantID string) {
	matchCacheMisses.WithLabelValues(tenantID).Inc()
}

func (m *EngineMetrics) ScoringPass(tenantID string) {
	scoringPassesTotal.WithLabelValues(tenantID).Inc()
}

func (m *EngineMetrics) CandidateSkipped(tenantID string) {
	candidatesSkippedTotal.WithLabelValues(tenantID).Inc()
}

func (m *EngineMetrics) MatchesCreated(tenantID string, n int) {
	matchesCreatedTotal.WithLabelValues(tenantID).Add(float64(n))
}

func (m *EngineMetrics) ApprovalDecision(tenantID, decision string) {
	approvalDecisionsTotal.WithLabelValues(tenantID, decision).Inc()
}
