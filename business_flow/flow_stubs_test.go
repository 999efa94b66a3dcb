package businessflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/communitrade/matching-engine/app/services"
	"github.com/communitrade/matching-engine/models"
)

// errStubFailure is the injected data-access failure for error-path tests.
var errStubFailure = errors.New("stub failure")

// stubRecordRepo is an in-memory MatchRecordRepository.
type stubRecordRepo struct {
	mu      sync.Mutex
	nextID  uint
	records map[uint]*models.MatchRecord

	rejected map[uint]map[uint]struct{}

	statusCounts    models.MatchStatusCounts
	scoreBuckets    map[string]int64
	distanceBuckets map[string]int64
	activeUsers     int64
	avgScore        float64
	avgDistance     float64

	failAll bool
}

func newStubRecordRepo() *stubRecordRepo {
	return &stubRecordRepo{
		records:  make(map[uint]*models.MatchRecord),
		rejected: make(map[uint]map[uint]struct{}),
	}
}

func (r *stubRecordRepo) add(record *models.MatchRecord) *models.MatchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	record.ID = r.nextID
	if record.Status == "" {
		record.Status = models.MatchStatusPending
	}
	if record.MatchType == "" {
		record.MatchType = models.MatchTypeOneWay
	}
	r.records[record.ID] = record
	return record
}

func matchesRecordFilter(record *models.MatchRecord, filter models.MatchRecordFilter) bool {
	if filter.ID != nil && record.ID != *filter.ID {
		return false
	}
	if filter.TenantID != nil && record.TenantID != *filter.TenantID {
		return false
	}
	if filter.User1ID != nil && record.User1ID != *filter.User1ID {
		return false
	}
	if filter.User2ID != nil && record.User2ID != *filter.User2ID {
		return false
	}
	if filter.AnyUserID != nil && record.User1ID != *filter.AnyUserID && record.User2ID != *filter.AnyUserID {
		return false
	}
	if filter.Status != nil && record.Status != *filter.Status {
		return false
	}
	if filter.MatchType != nil && record.MatchType != *filter.MatchType {
		return false
	}
	if filter.IsHot != nil && record.IsHot != *filter.IsHot {
		return false
	}
	if filter.MinScore != nil && record.MatchScore < *filter.MinScore {
		return false
	}
	if filter.CreatedAfter != nil && record.CreatedAt.Before(*filter.CreatedAfter) {
		return false
	}
	if filter.CreatedBefore != nil && record.CreatedAt.After(*filter.CreatedBefore) {
		return false
	}
	return true
}

func (r *stubRecordRepo) ByID(ctx context.Context, id uint) (*models.MatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errStubFailure
	}
	record, ok := r.records[id]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (r *stubRecordRepo) ByUUID(ctx context.Context, id string) (*models.MatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.UUID.String() == id {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubRecordRepo) ByFilter(ctx context.Context, filter models.MatchRecordFilter, orderBy string, limit, offset int) ([]*models.MatchRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errStubFailure
	}

	matched := make([]*models.MatchRecord, 0, len(r.records))
	for _, record := range r.records {
		if matchesRecordFilter(record, filter) {
			copied := *record
			matched = append(matched, &copied)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	if offset >= len(matched) {
		return []*models.MatchRecord{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (r *stubRecordRepo) Save(ctx context.Context, record *models.MatchRecord) error {
	if r.failAll {
		return errStubFailure
	}
	r.add(record)
	return nil
}

func (r *stubRecordRepo) SaveBatch(ctx context.Context, records []*models.MatchRecord) error {
	if r.failAll {
		return errStubFailure
	}
	for _, record := range records {
		r.add(record)
	}
	return nil
}

func (r *stubRecordRepo) Count(ctx context.Context, filter models.MatchRecordFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return 0, errStubFailure
	}
	var count int64
	for _, record := range r.records {
		if matchesRecordFilter(record, filter) {
			count++
		}
	}
	return count, nil
}

func (r *stubRecordRepo) Exists(ctx context.Context, filter models.MatchRecordFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	return count > 0, err
}

func (r *stubRecordRepo) UpdateStatusIf(ctx context.Context, id uint, expected, next models.MatchStatus, reviewerID uint, reviewedAt time.Time, notes *string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return 0, errStubFailure
	}
	record, ok := r.records[id]
	if !ok || record.Status != expected {
		return 0, nil
	}
	record.Status = next
	record.ReviewerID = &reviewerID
	record.ReviewedAt = &reviewedAt
	record.Notes = notes
	return 1, nil
}

func (r *stubRecordRepo) RejectedCounterparts(ctx context.Context, tenantID string, userID uint) (map[uint]struct{}, error) {
	if r.failAll {
		return nil, errStubFailure
	}
	out := map[uint]struct{}{}
	for id := range r.rejected[userID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (r *stubRecordRepo) StatusCounts(ctx context.Context, tenantID string, since time.Time) (models.MatchStatusCounts, error) {
	if r.failAll {
		return models.MatchStatusCounts{}, errStubFailure
	}
	return r.statusCounts, nil
}

func (r *stubRecordRepo) ScoreBuckets(ctx context.Context, tenantID string, since time.Time) (map[string]int64, error) {
	return r.scoreBuckets, nil
}

func (r *stubRecordRepo) DistanceBuckets(ctx context.Context, tenantID string, since time.Time) (map[string]int64, error) {
	return r.distanceBuckets, nil
}

func (r *stubRecordRepo) DistinctActiveUsers(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	return r.activeUsers, nil
}

func (r *stubRecordRepo) Averages(ctx context.Context, tenantID string, since time.Time) (float64, float64, error) {
	return r.avgScore, r.avgDistance, nil
}

// stubConfigRepo is an in-memory MatchConfigRepository holding one config.
type stubConfigRepo struct {
	mu      sync.Mutex
	config  *models.MatchConfig
	saved   int
	updated int
	failAll bool
}

func (r *stubConfigRepo) ByID(ctx context.Context, id uint) (*models.MatchConfig, error) {
	return r.ByTenant(ctx, "")
}

func (r *stubConfigRepo) ByFilter(ctx context.Context, filter models.MatchConfigFilter, orderBy string, limit, offset int) ([]*models.MatchConfig, error) {
	if r.config == nil {
		return nil, nil
	}
	return []*models.MatchConfig{r.config}, nil
}

func (r *stubConfigRepo) Save(ctx context.Context, config *models.MatchConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errStubFailure
	}
	r.saved++
	copied := *config
	r.config = &copied
	return nil
}

func (r *stubConfigRepo) SaveBatch(ctx context.Context, configs []*models.MatchConfig) error {
	for _, config := range configs {
		if err := r.Save(ctx, config); err != nil {
			return err
		}
	}
	return nil
}

func (r *stubConfigRepo) Count(ctx context.Context, filter models.MatchConfigFilter) (int64, error) {
	if r.config == nil {
		return 0, nil
	}
	return 1, nil
}

func (r *stubConfigRepo) Exists(ctx context.Context, filter models.MatchConfigFilter) (bool, error) {
	return r.config != nil, nil
}

func (r *stubConfigRepo) ByTenant(ctx context.Context, tenantID string) (*models.MatchConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return nil, errStubFailure
	}
	if r.config == nil {
		return nil, nil
	}
	copied := *r.config
	return &copied, nil
}

func (r *stubConfigRepo) Update(ctx context.Context, config models.MatchConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errStubFailure
	}
	r.updated++
	copied := config
	r.config = &copied
	return nil
}

// stubListingRepo serves a fixed subject and candidate pool.
type stubListingRepo struct {
	listings map[uint]*models.Listing
	pool     []*models.Listing
	index    map[uint]*models.UserCategoryIndex
	profiles map[uint]*models.Profile

	lastExcluded map[uint]struct{}
	lastMaxKm    float64
	lastPoolCap  int

	byIDFailures int
}

func newStubListingRepo() *stubListingRepo {
	return &stubListingRepo{
		listings: make(map[uint]*models.Listing),
		index:    make(map[uint]*models.UserCategoryIndex),
		profiles: make(map[uint]*models.Profile),
	}
}

func (r *stubListingRepo) ByID(ctx context.Context, id uint) (*models.Listing, error) {
	if r.byIDFailures > 0 {
		r.byIDFailures--
		return nil, errStubFailure
	}
	listing, ok := r.listings[id]
	if !ok {
		return nil, nil
	}
	copied := *listing
	return &copied, nil
}

func (r *stubListingRepo) ByFilter(ctx context.Context, filter models.ListingFilter, orderBy string, limit, offset int) ([]*models.Listing, error) {
	return nil, nil
}

func (r *stubListingRepo) ActiveByUser(ctx context.Context, tenantID string, userID uint) ([]*models.Listing, error) {
	var out []*models.Listing
	for _, listing := range r.listings {
		if listing.TenantID == tenantID && listing.UserID == userID && listing.Active {
			out = append(out, listing)
		}
	}
	return out, nil
}

func (r *stubListingRepo) CandidatesNear(ctx context.Context, tenantID string, listingType models.ListingType, lat, lon, maxKm float64, subjectCategoryID uint, excludeUserID uint, excludedUserIDs map[uint]struct{}, poolCap int) ([]*models.Listing, error) {
	r.lastExcluded = excludedUserIDs
	r.lastMaxKm = maxKm
	r.lastPoolCap = poolCap

	out := make([]*models.Listing, 0, len(r.pool))
	for _, listing := range r.pool {
		if listing.Type != listingType || listing.UserID == excludeUserID {
			continue
		}
		if _, ok := excludedUserIDs[listing.UserID]; ok {
			continue
		}
		copied := *listing
		out = append(out, &copied)
	}
	return out, nil
}

func (r *stubListingRepo) CategoryIndexByUsers(ctx context.Context, tenantID string, userIDs []uint) (map[uint]*models.UserCategoryIndex, error) {
	return r.index, nil
}

func (r *stubListingRepo) ProfilesByUserIDs(ctx context.Context, tenantID string, userIDs []uint) (map[uint]*models.Profile, error) {
	return r.profiles, nil
}

// stubCache is an in-memory MatchCache without TTLs.
type stubCache struct {
	mu      sync.Mutex
	entries map[string]*models.CacheEntry
	failAll bool

	// failClears makes the next N Clear calls fail, for retry tests.
	failClears int
}

func newStubCache() *stubCache {
	return &stubCache{entries: make(map[string]*models.CacheEntry)}
}

func (c *stubCache) key(tenantID, subjectKey string) string {
	return tenantID + "/" + subjectKey
}

func (c *stubCache) put(tenantID, subjectKey string, candidates []models.MatchCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(tenantID, subjectKey)] = &models.CacheEntry{
		TenantID:   tenantID,
		SubjectKey: subjectKey,
		Candidates: candidates,
	}
}

func (c *stubCache) GetOrCompute(ctx context.Context, tenantID, subjectKey string, compute services.ComputeFunc) ([]models.MatchCandidate, bool, error) {
	if c.failAll {
		return nil, false, services.ErrCacheUnavailable
	}

	c.mu.Lock()
	entry, ok := c.entries[c.key(tenantID, subjectKey)]
	c.mu.Unlock()
	if ok {
		return entry.Candidates, false, nil
	}

	candidates, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}
	c.put(tenantID, subjectKey, candidates)
	return candidates, true, nil
}

func (c *stubCache) Peek(ctx context.Context, tenantID, subjectKey string) (*models.CacheEntry, error) {
	if c.failAll {
		return nil, services.ErrCacheUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[c.key(tenantID, subjectKey)], nil
}

func (c *stubCache) Invalidate(ctx context.Context, tenantID, subjectKey string) error {
	if c.failAll {
		return services.ErrCacheUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, c.key(tenantID, subjectKey))
	return nil
}

func (c *stubCache) Clear(ctx context.Context, tenantID string) (int64, error) {
	if c.failAll {
		return 0, services.ErrCacheUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failClears > 0 {
		c.failClears--
		return 0, services.ErrCacheUnavailable
	}
	var cleared int64
	for key, entry := range c.entries {
		if entry.TenantID == tenantID {
			delete(c.entries, key)
			cleared++
		}
	}
	return cleared, nil
}

func (c *stubCache) EntryCount(ctx context.Context, tenantID string) (int64, error) {
	if c.failAll {
		return 0, services.ErrCacheUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var count int64
	for _, entry := range c.entries {
		if entry.TenantID == tenantID {
			count++
		}
	}
	return count, nil
}
