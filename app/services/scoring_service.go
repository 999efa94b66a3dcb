package services

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/utils"
)

// notableThreshold is the sub-score above which a factor earns a reason line.
const notableThreshold = 0.75

// maxReasons caps the reasons attached to one candidate.
const maxReasons = 3

// reasonPhrases maps factors to the fixed wording shown in the admin console.
var reasonPhrases = map[string]string{
	models.FactorCategory:    "Strong category match",
	models.FactorSkill:       "Complementary skills",
	models.FactorProximity:   "Very close by",
	models.FactorFreshness:   "Recently listed",
	models.FactorReciprocity: "Mutual exchange potential",
	models.FactorQuality:     "Highly rated profile",
}

// factorOrder breaks contribution ties so reason ordering stays deterministic.
var factorOrder = map[string]int{
	models.FactorCategory:    0,
	models.FactorSkill:       1,
	models.FactorProximity:   2,
	models.FactorFreshness:   3,
	models.FactorReciprocity: 4,
	models.FactorQuality:     5,
}

// ScoringInput carries everything one pair scoring needs. All lookups happen
// before scoring so Score stays pure.
type ScoringInput struct {
	Subject    *models.Listing
	Candidate  *models.Listing
	DistanceKm float64

	// CandidateProfile may be nil for users without a profile row.
	CandidateProfile *models.Profile

	// SubjectOfferCategories are the categories the subject's user offers;
	// CandidateNeedCategories are the categories the candidate's user
	// requests. Their intersection drives the reciprocity factor.
	SubjectOfferCategories  map[uint]struct{}
	CandidateNeedCategories map[uint]struct{}

	// Now anchors the freshness decay; passing it in keeps scoring
	// deterministic for identical inputs.
	Now time.Time
}

// ScoringService computes the weighted compatibility score of one pair.
// Implementations must be pure: no I/O, identical output for identical input.
// The raw score is the unrounded weighted sum in [0,1]; boundary decisions
// like hotness classification must use it, not the rounded display score.
type ScoringService interface {
	Score(input ScoringInput, cfg *models.MatchConfig) (score int, raw float64, subScores map[string]float64, reasons []string)
}

// ScoringServiceImpl implements ScoringService
type ScoringServiceImpl struct {
	neutralQuality float64
}

// NewScoringService creates a new scoring service
func NewScoringService() ScoringService {
	return &ScoringServiceImpl{
		neutralQuality: utils.DefaultNeutralQuality,
	}
}

// Score computes the final 0-100 score, the raw weighted sum it was rounded
// from, the per-factor sub-scores, and the reason lines for one
// subject/candidate pair.
func (s *ScoringServiceImpl) Score(input ScoringInput, cfg *models.MatchConfig) (int, float64, map[string]float64, []string) {
	subScores := map[string]float64{
		models.FactorCategory:    s.categoryScore(input.Subject, input.Candidate),
		models.FactorSkill:       s.skillScore(input.Subject.Skills, input.Candidate.Skills),
		models.FactorProximity:   s.proximityScore(input.DistanceKm, cfg.Bands),
		models.FactorFreshness:   s.freshnessScore(input.Candidate, input.Now, cfg.FreshnessHorizonDays),
		models.FactorReciprocity: s.reciprocityScore(input.SubjectOfferCategories, input.CandidateNeedCategories),
		models.FactorQuality:     s.qualityScore(input.CandidateProfile),
	}

	raw := 0.0
	for factor, sub := range subScores {
		raw += cfg.Weights.ForFactor(factor) * sub
	}
	raw = clamp01(raw)

	score := int(math.Round(raw * 100))

	return score, raw, subScores, s.reasons(subScores, cfg.Weights)
}

// categoryScore is 1.0 for an exact category match, 0.5 for siblings under
// the same parent category, otherwise 0.
func (s *ScoringServiceImpl) categoryScore(subject, candidate *models.Listing) float64 {
	if subject.CategoryID == candidate.CategoryID {
		return 1.0
	}
	if subject.ParentCategoryID != 0 && subject.ParentCategoryID == candidate.ParentCategoryID {
		return 0.5
	}
	return 0
}

// skillScore is the Jaccard overlap of the two skill sets, case-insensitive.
func (s *ScoringServiceImpl) skillScore(subjectSkills, candidateSkills []string) float64 {
	if len(subjectSkills) == 0 || len(candidateSkills) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(subjectSkills))
	for _, skill := range subjectSkills {
		set[strings.ToLower(strings.TrimSpace(skill))] = struct{}{}
	}

	union := make(map[string]struct{}, len(set)+len(candidateSkills))
	for skill := range set {
		union[skill] = struct{}{}
	}

	intersection := 0
	for _, skill := range candidateSkills {
		normalized := strings.ToLower(strings.TrimSpace(skill))
		if _, ok := set[normalized]; ok {
			intersection++
			// Count duplicates in the candidate list once.
			delete(set, normalized)
		}
		union[normalized] = struct{}{}
	}

	return float64(intersection) / float64(len(union))
}

// proximityScore looks the distance up in the band table. The first band
// whose ceiling is at or beyond the distance wins; beyond all bands scores 0
// (such candidates are normally excluded before scoring).
func (s *ScoringServiceImpl) proximityScore(distanceKm float64, bands models.ProximityBands) float64 {
	multiplier, ok := bands.MultiplierFor(distanceKm)
	if !ok {
		return 0
	}
	return multiplier
}

// freshnessScore decays linearly from 1 at age zero to 0 at the horizon.
func (s *ScoringServiceImpl) freshnessScore(candidate *models.Listing, now time.Time, horizonDays int) float64 {
	if horizonDays <= 0 {
		return 0
	}
	age := candidate.AgeDays(now)
	fresh := 1 - age/float64(horizonDays)
	if fresh < 0 {
		return 0
	}
	return fresh
}

// reciprocityScore is 1.0 when the candidate requests anything the subject's
// user offers, otherwise 0.
func (s *ScoringServiceImpl) reciprocityScore(subjectOffers, candidateNeeds map[uint]struct{}) float64 {
	for categoryID := range candidateNeeds {
		if _, ok := subjectOffers[categoryID]; ok {
			return 1.0
		}
	}
	return 0
}

// qualityScore blends profile completeness and average rating. Missing data
// falls back to the neutral value rather than penalizing new users.
func (s *ScoringServiceImpl) qualityScore(profile *models.Profile) float64 {
	if profile == nil {
		return s.neutralQuality
	}

	completeness := s.neutralQuality
	if profile.Completeness != nil {
		completeness = clamp01(*profile.Completeness)
	}

	rating := s.neutralQuality
	if profile.Rating != nil {
		rating = clamp01(*profile.Rating / 5)
	}

	return clamp01(0.7*completeness + 0.3*rating)
}

// reasons returns the phrases for notable sub-scores, ordered by weighted
// contribution descending, capped at maxReasons.
func (s *ScoringServiceImpl) reasons(subScores map[string]float64, weights models.MatchWeights) []string {
	type contribution struct {
		factor string
		value  float64
	}

	notable := make([]contribution, 0, len(subScores))
	for factor, sub := range subScores {
		if sub > notableThreshold {
			notable = append(notable, contribution{factor: factor, value: weights.ForFactor(factor) * sub})
		}
	}

	sort.Slice(notable, func(i, j int) bool {
		if notable[i].value != notable[j].value {
			return notable[i].value > notable[j].value
		}
		return factorOrder[notable[i].factor] < factorOrder[notable[j].factor]
	})

	if len(notable) > maxReasons {
		notable = notable[:maxReasons]
	}

	reasons := make([]string, 0, len(notable))
	for _, c := range notable {
		reasons = append(reasons, reasonPhrases[c.factor])
	}
	return reasons
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
