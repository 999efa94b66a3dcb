// Package businessflow contains the core business logic and use cases for candidate generation
package businessflow

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/communitrade/matching-engine/app/dto"
	"github.com/communitrade/matching-engine/app/services"
	"github.com/communitrade/matching-engine/models"
	"github.com/communitrade/matching-engine/repository"
	"github.com/communitrade/matching-engine/utils"
	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// retryBackoff is the single-retry delay for idempotent data-access reads.
const retryBackoff = 200 * time.Millisecond

// MatchingFlow runs scoring passes and owns cache invalidation for subjects
type MatchingFlow interface {
	RunMatching(ctx context.Context, tenantID string, req *dto.RunMatchingRequest, metadata *ClientMetadata) (*dto.RunMatchingResponse, error)
	// InvalidateSubject is the hook the marketplace calls when a listing or
	// profile changed and the cached match set became stale.
	InvalidateSubject(ctx context.Context, tenantID string, userID, listingID uint) error
}

// MatchingFlowImpl implements the matching business flow
type MatchingFlowImpl struct {
	configRepo  repository.MatchConfigRepository
	listingRepo repository.ListingRepository
	recordRepo  repository.MatchRecordRepository
	scorer      services.ScoringService
	cache       services.MatchCache
	events      services.MatchEventSink
	metrics     *services.EngineMetrics
	db          *gorm.DB
	poolCap     int
	concurrency int
}

// NewMatchingFlow creates a new matching flow instance
func NewMatchingFlow(
	configRepo repository.MatchConfigRepository,
	listingRepo repository.ListingRepository,
	recordRepo repository.MatchRecordRepository,
	scorer services.ScoringService,
	cache services.MatchCache,
	events services.MatchEventSink,
	metrics *services.EngineMetrics,
	db *gorm.DB,
	poolCap int,
	concurrency int,
) MatchingFlow {
	if poolCap <= 0 {
		poolCap = utils.DefaultCandidatePoolCap
	}
	if concurrency <= 0 {
		concurrency = utils.DefaultScoringConcurrency
	}
	return &MatchingFlowImpl{
		configRepo:  configRepo,
		listingRepo: listingRepo,
		recordRepo:  recordRepo,
		scorer:      scorer,
		cache:       cache,
		events:      events,
		metrics:     metrics,
		db:          db,
		poolCap:     poolCap,
		concurrency: concurrency,
	}
}

// RunMatching returns the classified candidate set for a subject, computing
// and persisting it when the cache has no live entry.
func (s *MatchingFlowImpl) RunMatching(ctx context.Context, tenantID string, req *dto.RunMatchingRequest, metadata *ClientMetadata) (*dto.RunMatchingResponse, error) {
	config, err := s.loadConfig(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !config.Enabled {
		return nil, NewBusinessError("MATCHING_DISABLED", "Matching is disabled for this tenant", ErrMatchingDisabled)
	}

	subject, err := s.loadSubject(ctx, tenantID, req.UserID, req.ListingID)
	if err != nil {
		return nil, err
	}

	subjectKey := SubjectKey(req.UserID, req.ListingID)
	recordsCreated := 0

	candidates, fresh, err := s.cache.GetOrCompute(ctx, tenantID, subjectKey, func(computeCtx context.Context) ([]models.MatchCandidate, error) {
		scored, err := s.computePass(computeCtx, config, subject)
		if err != nil {
			return nil, err
		}

		created, err := s.persistRecords(computeCtx, config, subject, scored)
		if err != nil {
			return nil, err
		}
		recordsCreated = created

		s.metrics.ScoringPass(tenantID)
		return scored, nil
	})
	if err != nil {
		return nil, err
	}

	return &dto.RunMatchingResponse{
		SubjectKey:     subjectKey,
		FromCache:      !fresh,
		Candidates:     candidates,
		RecordsCreated: recordsCreated,
	}, nil
}

// InvalidateSubject drops the cached match set for one subject
func (s *MatchingFlowImpl) InvalidateSubject(ctx context.Context, tenantID string, userID, listingID uint) error {
	if err := s.cache.Invalidate(ctx, tenantID, SubjectKey(userID, listingID)); err != nil {
		return NewBusinessError("MATCH_CACHE_INVALIDATE_FAILED", "Failed to invalidate cache entry", ErrCacheUnavailable)
	}
	return nil
}

// loadConfig reads the tenant config once per pass so the pass stays
// internally consistent even when an admin updates the config concurrently.
func (s *MatchingFlowImpl) loadConfig(ctx context.Context, tenantID string) (*models.MatchConfig, error) {
	config, err := s.configRepo.ByTenant(ctx, tenantID)
	if err != nil {
		return nil, NewBusinessError("MATCH_CONFIG_LOAD_FAILED", "Failed to load config", fmt.Errorf("%w: %v", ErrDataAccessFailed, err))
	}
	if config == nil {
		config = models.DefaultMatchConfig(tenantID)
	}
	return config, nil
}

func (s *MatchingFlowImpl) loadSubject(ctx context.Context, tenantID string, userID, listingID uint) (*models.Listing, error) {
	var subject *models.Listing
	err := withRetry(ctx, func() error {
		var err error
		subject, err = s.listingRepo.ByID(ctx, listingID)
		return err
	})
	if err != nil {
		return nil, NewBusinessError("SUBJECT_LOAD_FAILED", "Failed to load subject listing", fmt.Errorf("%w: %v", ErrDataAccessFailed, err))
	}
	if subject == nil {
		return nil, NewBusinessError("SUBJECT_NOT_FOUND", "Subject listing not found", ErrSubjectListingNotFound)
	}
	if subject.TenantID != tenantID {
		return nil, NewBusinessError("SUBJECT_NOT_FOUND", "Subject listing not found", ErrListingTenantMismatch)
	}
	if subject.UserID != userID {
		return nil, NewBusinessError("SUBJECT_USER_MISMATCH", "Listing does not belong to this user", ErrListingUserMismatch)
	}
	if !subject.Active {
		return nil, NewBusinessError("SUBJECT_INACTIVE", "Subject listing is inactive", ErrSubjectListingInactive)
	}
	return subject, nil
}

// computePass generates, scores, and classifies the candidate set for one
// subject. Data-access failures abort the pass; a single candidate failing
// to score is logged and skipped.
func (s *MatchingFlowImpl) computePass(ctx context.Context, config *models.MatchConfig, subject *models.Listing) ([]models.MatchCandidate, error) {
	tenantID := config.TenantID

	rejected, err := s.recordRepo.RejectedCounterparts(ctx, tenantID, subject.UserID)
	if err != nil {
		return nil, NewBusinessError("CANDIDATE_GENERATION_FAILED", "Failed to load rejection list", fmt.Errorf("%w: %v", ErrDataAccessFailed, err))
	}

	// Candidates past the last band would score 0 on proximity anyway, so
	// the search radius is the tighter of the two limits.
	maxKm := config.MaxDistanceKm
	if n := len(config.Bands); n > 0 && config.Bands[n-1].DistanceKmCeiling < maxKm {
		maxKm = config.Bands[n-1].DistanceKmCeiling
	}

	var pool []*models.Listing
	err = withRetry(ctx, func() error {
		var err error
		pool, err = s.listingRepo.CandidatesNear(ctx, tenantID, subject.Type.Complement(),
			subject.Latitude, subject.Longitude, maxKm, subject.CategoryID,
			subject.UserID, rejected, s.poolCap)
		return err
	})
	if err != nil {
		return nil, NewBusinessError("CANDIDATE_GENERATION_FAILED", "Failed to load candidate pool", fmt.Errorf("%w: %v", ErrDataAccessFailed, err))
	}

	// An empty pool is a valid result, not an error.
	if len(pool) == 0 {
		return []models.MatchCandidate{}, nil
	}

	userIDs := make([]uint, 0, len(pool)+1)
	userIDs = append(userIDs, subject.UserID)
	for _, listing := range pool {
		userIDs = append(userIDs, listing.UserID)
	}

	categoryIndex, err := s.listingRepo.CategoryIndexByUsers(ctx, tenantID, userIDs)
	if err != nil {
		return nil, NewBusinessError("CANDIDATE_GENERATION_FAILED", "Failed to load category index", fmt.Errorf("%w: %v", ErrDataAccessFailed, err))
	}

	profiles, err := s.listingRepo.ProfilesByUserIDs(ctx, tenantID, userIDs)
	if err != nil {
		return nil, NewBusinessError("CANDIDATE_GENERATION_FAILED", "Failed to load profiles", fmt.Errorf("%w: %v", ErrDataAccessFailed, err))
	}

	subjectOffers := map[uint]struct{}{}
	if idx, ok := categoryIndex[subject.UserID]; ok {
		subjectOffers = idx.OfferCategoryIDs
	}

	now := utils.UTCNow()
	results := make([]*models.MatchCandidate, len(pool))

	g, scoreCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, listing := range pool {
		g.Go(func() error {
			if scoreCtx.Err() != nil {
				return scoreCtx.Err()
			}
			candidate, err := s.scoreCandidate(config, subject, listing, profiles[listing.UserID], categoryIndex[listing.UserID], subjectOffers, now)
			if err != nil {
				log.Printf("matching: skipping candidate listing %d for subject %d: %v", listing.ID, subject.ID, err)
				s.metrics.CandidateSkipped(tenantID)
				return nil
			}
			results[i] = candidate
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make([]models.MatchCandidate, 0, len(results))
	for _, candidate := range results {
		if candidate == nil || candidate.Score < config.MinMatchScore {
			continue
		}
		candidates = append(candidates, *candidate)
	}

	s.classify(ctx, config, subject, candidates)

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].CandidateID < candidates[j].CandidateID
	})

	return candidates, nil
}

// scoreCandidate wraps one Score call with panic isolation so malformed
// candidate data never kills the batch.
func (s *MatchingFlowImpl) scoreCandidate(
	config *models.MatchConfig,
	subject, listing *models.Listing,
	profile *models.Profile,
	candidateIndex *models.UserCategoryIndex,
	subjectOffers map[uint]struct{},
	now time.Time,
) (candidate *models.MatchCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			candidate = nil
			err = fmt.Errorf("scoring panicked: %v", r)
		}
	}()

	candidateNeeds := map[uint]struct{}{}
	if candidateIndex != nil {
		candidateNeeds = candidateIndex.NeedCategoryIDs
	}

	score, raw, subScores, reasons := s.scorer.Score(services.ScoringInput{
		Subject:                 subject,
		Candidate:               listing,
		DistanceKm:              listing.DistanceKm,
		CandidateProfile:        profile,
		SubjectOfferCategories:  subjectOffers,
		CandidateNeedCategories: candidateNeeds,
		Now:                     now,
	}, config)

	return &models.MatchCandidate{
		SubjectID:    subject.UserID,
		CandidateID:  listing.UserID,
		ListingID:    listing.ID,
		SubScores:    subScores,
		DistanceKm:   listing.DistanceKm,
		RawScore:     raw,
		Score:        score,
		MatchType:    models.MatchTypeOneWay,
		Reasons:      reasons,
		CategoryName: listing.CategoryName,
		ListingTitle: listing.Title,
	}, nil
}

// classify annotates hotness and mutuality. Hotness compares the unrounded
// raw score against the threshold, so a raw 79.5 rounding up to a display
// score of 80 does not cross an 80 threshold. The reverse direction is read
// from the cache only; a counterpart without a live entry stays one_way for
// this pass rather than triggering recursive generation.
func (s *MatchingFlowImpl) classify(ctx context.Context, config *models.MatchConfig, subject *models.Listing, candidates []models.MatchCandidate) {
	for i := range candidates {
		candidate := &candidates[i]
		candidate.IsHot = candidate.RawScore*100 >= float64(config.HotMatchThreshold)

		reverseKey := SubjectKey(candidate.CandidateID, candidate.ListingID)
		entry, err := s.cache.Peek(ctx, config.TenantID, reverseKey)
		if err != nil || entry == nil {
			continue
		}

		reverse, ok := entry.CandidateFor(subject.UserID)
		if ok && reverse.Score >= config.MinMatchScore {
			candidate.MatchType = models.MatchTypeMutual
			candidate.Reasons = append(candidate.Reasons, "Matched in both directions")
		}
	}
}

// persistRecords writes match records for a fresh candidate set. With broker
// approval enabled records start pending; otherwise they are born approved
// and skip the workflow. Pairs that already hold a live record are not
// duplicated.
func (s *MatchingFlowImpl) persistRecords(ctx context.Context, config *models.MatchConfig, subject *models.Listing, candidates []models.MatchCandidate) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	tenantID := config.TenantID
	status := models.MatchStatusApproved
	if config.BrokerApprovalEnabled {
		status = models.MatchStatusPending
	}

	var records []*models.MatchRecord

	err := repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		for i := range candidates {
			candidate := &candidates[i]

			exists, err := s.pairHasLiveRecord(txCtx, tenantID, subject.UserID, candidate.CandidateID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}

			records = append(records, &models.MatchRecord{
				TenantID:     tenantID,
				User1ID:      subject.UserID,
				User2ID:      candidate.CandidateID,
				ListingID:    candidate.ListingID,
				MatchScore:   candidate.Score,
				MatchType:    candidate.MatchType,
				IsHot:        candidate.IsHot,
				DistanceKm:   candidate.DistanceKm,
				CategoryName: candidate.CategoryName,
				MatchReasons: pq.StringArray(candidate.Reasons),
				Status:       status,
			})
		}

		if len(records) == 0 {
			return nil
		}
		return s.recordRepo.SaveBatch(txCtx, records)
	})
	if err != nil {
		return 0, NewBusinessError("MATCH_PERSIST_FAILED", "Failed to persist match records", fmt.Errorf("%w: %v", ErrDataAccessFailed, err))
	}

	s.metrics.MatchesCreated(tenantID, len(records))
	s.emitEvents(ctx, tenantID, records)

	return len(records), nil
}

// pairHasLiveRecord reports whether a pending or approved record already
// exists for the pair in either direction.
func (s *MatchingFlowImpl) pairHasLiveRecord(ctx context.Context, tenantID string, user1, user2 uint) (bool, error) {
	for _, pair := range [][2]uint{{user1, user2}, {user2, user1}} {
		for _, status := range []models.MatchStatus{models.MatchStatusPending, models.MatchStatusApproved} {
			exists, err := s.recordRepo.Exists(ctx, models.MatchRecordFilter{
				TenantID: &tenantID,
				User1ID:  &pair[0],
				User2ID:  &pair[1],
				Status:   &status,
			})
			if err != nil {
				return false, err
			}
			if exists {
				return true, nil
			}
		}
	}
	return false, nil
}

// emitEvents hands hot and mutual records to the notification collaborator.
// Best-effort: sink failures are logged, never surfaced.
func (s *MatchingFlowImpl) emitEvents(ctx context.Context, tenantID string, records []*models.MatchRecord) {
	if s.events == nil {
		return
	}
	for _, record := range records {
		var eventType string
		switch {
		case record.MatchType == models.MatchTypeMutual:
			eventType = services.MatchEventMutual
		case record.IsHot:
			eventType = services.MatchEventHot
		default:
			continue
		}

		event := services.MatchEvent{Type: eventType, TenantID: tenantID, Record: record}
		if err := s.events.EmitMatchEvent(ctx, event); err != nil {
			log.Printf("matching: event emit failed for record %s: %v", record.UUID, err)
		}
	}
}

// withRetry runs an idempotent read, retrying once after a short backoff.
func withRetry(ctx context.Context, op func() error) error {
	if err := op(); err == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryBackoff):
	}

	return op()
}
