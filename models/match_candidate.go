package models

import (
	"time"
)

// MatchCandidate is the ephemeral result of scoring one subject/candidate
// pair. Candidates live in the match cache and in API responses; only the
// derived MatchRecord is persisted.
type MatchCandidate struct {
	SubjectID   uint               `json:"subject_id"`
	CandidateID uint               `json:"candidate_id"`
	ListingID   uint               `json:"listing_id"`
	SubScores   map[string]float64 `json:"sub_scores"`
	DistanceKm  float64            `json:"distance_km"`
	RawScore    float64            `json:"raw_score"`
	Score       int                `json:"score"`
	MatchType   MatchType          `json:"match_type"`
	IsHot       bool               `json:"is_hot"`
	Reasons     []string           `json:"reasons"`

	CategoryName string `json:"category_name"`
	ListingTitle string `json:"listing_title"`
}

// CacheEntry is one cached match set, keyed by (tenant, subject).
type CacheEntry struct {
	TenantID   string           `json:"tenant_id"`
	SubjectKey string           `json:"subject_key"`
	Candidates []MatchCandidate `json:"candidates"`
	ComputedAt time.Time        `json:"computed_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// Expired reports whether the entry passed its TTL at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CandidateFor returns the cached candidate scored against the given user,
// if present.
func (e *CacheEntry) CandidateFor(userID uint) (*MatchCandidate, bool) {
	for i := range e.Candidates {
		if e.Candidates[i].CandidateID == userID {
			return &e.Candidates[i], true
		}
	}
	return nil, false
}
