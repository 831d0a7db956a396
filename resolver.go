package intake

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/blnkfinance/intake/config"
	"github.com/blnkfinance/intake/database"
	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/internal/cache"
	redlock "github.com/blnkfinance/intake/internal/lock"
	"github.com/blnkfinance/intake/model"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	entityLockTimeout = 30 * time.Second
	entityLockWait    = 10 * time.Second
)

// ResolverConfig tunes matching.
type ResolverConfig struct {
	FuzzyThreshold     float64
	FallbackConfidence float64
	CandidateLimit     int // page size when scanning fuzzy candidates
	CacheTTL           time.Duration
}

// ResolverConfigFromConfig reads the import section of the configuration.
func ResolverConfigFromConfig(cfg config.ImportConfig) ResolverConfig {
	return ResolverConfig{
		FuzzyThreshold:     cfg.FuzzyThreshold,
		FallbackConfidence: cfg.FallbackConfidence,
		CandidateLimit:     cfg.CandidateLimit,
		CacheTTL:           time.Duration(cfg.EntityCacheTTLSec) * time.Second,
	}
}

// Resolver maps raw references onto canonical entities: exact natural key
// first, then the closest fuzzy candidate, then a new placeholder.
type Resolver struct {
	datasource database.IDataSource
	retrier    *Retrier
	ledger     *Ledger
	cache      cache.Cache
	redis      redis.UniversalClient
	cfg        ResolverConfig
}

// NewResolver builds a resolver. entityCache and redisClient may be nil;
// without Redis creation is only guarded in-process and by the store's
// unique key.
func NewResolver(ds database.IDataSource, retrier *Retrier, ledger *Ledger, entityCache cache.Cache, redisClient redis.UniversalClient, cfg ResolverConfig) *Resolver {
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = config.DEFAULT_CANDIDATE_LIMIT
	}
	return &Resolver{
		datasource: ds,
		retrier:    retrier,
		ledger:     ledger,
		cache:      entityCache,
		redis:      redisClient,
		cfg:        cfg,
	}
}

// ResolutionRun is the resolution state shared by the items of one batch.
type ResolutionRun struct {
	BatchID string
	owner   string
	keys    *keyedMutex

	mu      sync.Mutex
	created map[string]string
}

func NewResolutionRun(batchID string) *ResolutionRun {
	return &ResolutionRun{
		BatchID: batchID,
		owner:   model.GenerateUUIDWithSuffix("run"),
		keys:    newKeyedMutex(),
		created: make(map[string]string),
	}
}

func (r *ResolutionRun) remember(kind model.EntityKind, key, entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created[runKey(kind, key)] = entityID
}

func (r *ResolutionRun) lookup(kind model.EntityKind, key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.created[runKey(kind, key)]
	return id, ok
}

func runKey(kind model.EntityKind, key string) string {
	return string(kind) + "\x00" + key
}

// Resolve finds or creates the entity a raw reference points to. Calls for
// the same natural key within one run are serialised.
func (r *Resolver) Resolve(ctx context.Context, run *ResolutionRun, kind model.EntityKind, raw string) (model.ResolvedEntity, error) {
	key := model.NaturalKey(kind, raw)
	if key == "" {
		return model.ResolvedEntity{}, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("empty %s reference", kind), nil)
	}

	unlock := run.keys.Lock(runKey(kind, key))
	defer unlock()

	match, err := r.match(ctx, run, kind, key)
	if err != nil {
		return model.ResolvedEntity{}, err
	}
	if match != nil {
		return *match, nil
	}

	placeholder := &model.Entity{
		EntityID:    model.GenerateUUIDWithSuffix(kind.Prefix()),
		Kind:        kind,
		NaturalKey:  key,
		DisplayName: RepairText(raw).Value,
		NeedsReview: true,
	}
	entity, created, err := r.create(ctx, run, placeholder)
	if err != nil {
		return model.ResolvedEntity{}, err
	}
	if !created {
		return exactMatch(entity), nil
	}

	return model.ResolvedEntity{
		CandidateID: entity.EntityID,
		Kind:        kind,
		NaturalKey:  key,
		MatchType:   model.MatchCreated,
		Confidence:  r.cfg.FallbackConfidence,
	}, nil
}

// ImportCustomer commits a customer from a customer list. When the name
// already resolves exactly or fuzzily the existing match is returned and
// nothing is written; otherwise the created customer is returned.
func (r *Resolver) ImportCustomer(ctx context.Context, run *ResolutionRun, name string, meta map[string]interface{}) (*model.Entity, *model.ResolvedEntity, error) {
	key := model.NaturalKey(model.EntityCustomer, name)
	if key == "" {
		return nil, nil, apierror.NewAPIError(apierror.ErrInvalidInput, "empty customer name", nil)
	}

	unlock := run.keys.Lock(runKey(model.EntityCustomer, key))
	defer unlock()

	match, err := r.match(ctx, run, model.EntityCustomer, key)
	if err != nil || match != nil {
		return nil, match, err
	}

	customer := &model.Entity{
		EntityID:    model.GenerateUUIDWithSuffix(model.EntityCustomer.Prefix()),
		Kind:        model.EntityCustomer,
		NaturalKey:  key,
		DisplayName: RepairText(name).Value,
		MetaData:    meta,
	}
	entity, created, err := r.create(ctx, run, customer)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		existing := exactMatch(entity)
		return nil, &existing, nil
	}
	return entity, nil, nil
}

// match tries the exact key, then fuzzy candidates. It returns nil when
// nothing is close enough.
func (r *Resolver) match(ctx context.Context, run *ResolutionRun, kind model.EntityKind, key string) (*model.ResolvedEntity, error) {
	entity, err := r.exact(ctx, run, kind, key)
	if err != nil {
		return nil, err
	}
	if entity != nil {
		m := exactMatch(entity)
		return &m, nil
	}
	return r.fuzzy(ctx, kind, key)
}

func (r *Resolver) exact(ctx context.Context, run *ResolutionRun, kind model.EntityKind, key string) (*model.Entity, error) {
	if id, ok := run.lookup(kind, key); ok {
		return &model.Entity{EntityID: id, Kind: kind, NaturalKey: key}, nil
	}

	cacheKey := entityCacheKey(kind, key)
	if r.cache != nil {
		var cached model.Entity
		found, err := r.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			logrus.WithError(err).WithField("key", cacheKey).Warn("entity cache read failed")
		}
		if found {
			return &cached, nil
		}
	}

	entity, err := RetryValue(ctx, r.retrier, "get entity", func(ctx context.Context) (*model.Entity, error) {
		e, err := r.datasource.GetEntityByKey(ctx, kind, key)
		return e, permanent(err)
	})
	if apierror.HasCode(err, apierror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r.cacheEntity(ctx, entity)
	return entity, nil
}

func (r *Resolver) fuzzy(ctx context.Context, kind model.EntityKind, key string) (*model.ResolvedEntity, error) {
	length := utf8.RuneCountInString(key)
	q := candidateWindow(kind, length, r.cfg.FuzzyThreshold)
	q.Limit = r.cfg.CandidateLimit

	var best *model.Entity
	bestScore := 0.0
	for {
		page, err := RetryValue(ctx, r.retrier, "get entity candidates", func(ctx context.Context) ([]*model.Entity, error) {
			c, err := r.datasource.GetEntityCandidates(ctx, q)
			return c, permanent(err)
		})
		if err != nil {
			return nil, err
		}

		for _, candidate := range page {
			score := Similarity(key, candidate.NaturalKey)
			if score > bestScore {
				best, bestScore = candidate, score
			}
		}
		if len(page) < q.Limit {
			break
		}
		// Pages come nearest length first, so nothing after this page can
		// beat the bound of its last candidate.
		last := utf8.RuneCountInString(page[len(page)-1].NaturalKey)
		if bestScore >= lengthBound(length, last) {
			break
		}
		q.Offset += len(page)
	}
	if best == nil || bestScore < r.cfg.FuzzyThreshold {
		return nil, nil
	}

	return &model.ResolvedEntity{
		CandidateID: best.EntityID,
		Kind:        kind,
		NaturalKey:  best.NaturalKey,
		MatchType:   model.MatchFuzzy,
		Confidence:  bestScore,
	}, nil
}

// candidateWindow bounds the key lengths worth scoring. A key of n runes
// scores at most min(n, length) / max(n, length) against one of length
// runes, so lengths outside [ceil(length*t), floor(length/t)] cannot reach t.
func candidateWindow(kind model.EntityKind, length int, threshold float64) model.CandidateQuery {
	q := model.CandidateQuery{Kind: kind, TargetLen: length, MinLen: 1, MaxLen: math.MaxInt32}
	if threshold <= 0 {
		return q
	}
	const eps = 1e-9
	if minLen := int(math.Ceil(float64(length)*threshold - eps)); minLen > 1 {
		q.MinLen = minLen
	}
	if maxLen := float64(length)/threshold + eps; maxLen < math.MaxInt32 {
		q.MaxLen = int(math.Floor(maxLen))
	}
	return q
}

// lengthBound is the best similarity two keys of lengths a and b can reach.
func lengthBound(a, b int) float64 {
	if a == b {
		return 1
	}
	if a > b {
		a, b = b, a
	}
	return float64(a) / float64(b)
}

// create inserts entity unless another writer got there first, in which
// case the stored row is returned with created false.
func (r *Resolver) create(ctx context.Context, run *ResolutionRun, entity *model.Entity) (*model.Entity, bool, error) {
	if r.redis != nil {
		locker := redlock.NewLocker(r.redis, "intake:lock:"+entityCacheKey(entity.Kind, entity.NaturalKey), run.owner)
		if err := locker.WaitLock(ctx, entityLockTimeout, entityLockWait); err != nil {
			return nil, false, err
		}
		defer func() {
			if err := locker.Unlock(context.Background()); err != nil {
				logrus.WithError(err).Warn("releasing entity lock")
			}
		}()

		existing, err := r.exact(ctx, run, entity.Kind, entity.NaturalKey)
		if err != nil || existing != nil {
			return existing, false, err
		}
	}

	entity.CreatedAt = time.Now().UTC()
	inserted, err := RetryValue(ctx, r.retrier, "insert entity", func(ctx context.Context) (bool, error) {
		ok, err := r.datasource.InsertEntity(ctx, entity)
		return ok, permanent(err)
	})
	if err != nil {
		return nil, false, err
	}

	if !inserted {
		existing, err := RetryValue(ctx, r.retrier, "get entity", func(ctx context.Context) (*model.Entity, error) {
			e, err := r.datasource.GetEntityByKey(ctx, entity.Kind, entity.NaturalKey)
			return e, permanent(err)
		})
		if err != nil {
			return nil, false, err
		}
		r.cacheEntity(ctx, existing)
		return existing, false, nil
	}

	run.remember(entity.Kind, entity.NaturalKey, entity.EntityID)
	r.cacheEntity(ctx, entity)

	err = r.ledger.RecordAudit(ctx, &model.AuditLogEntry{
		EntityType: string(entity.Kind),
		EntityID:   entity.EntityID,
		Action:     model.ActionEntityCreated,
		After: map[string]interface{}{
			"natural_key":  entity.NaturalKey,
			"display_name": entity.DisplayName,
			"needs_review": entity.NeedsReview,
		},
		BatchID: run.BatchID,
	})
	if err != nil {
		logrus.WithError(err).WithField("entity_id", entity.EntityID).Error("recording entity.created audit entry")
	}
	return entity, true, nil
}

func (r *Resolver) cacheEntity(ctx context.Context, entity *model.Entity) {
	if r.cache == nil || entity == nil {
		return
	}
	if err := r.cache.Set(ctx, entityCacheKey(entity.Kind, entity.NaturalKey), entity, r.cfg.CacheTTL); err != nil {
		logrus.WithError(err).Warn("entity cache write failed")
	}
}

func entityCacheKey(kind model.EntityKind, key string) string {
	return fmt.Sprintf("entity:%s:%s", kind, key)
}

func exactMatch(entity *model.Entity) model.ResolvedEntity {
	return model.ResolvedEntity{
		CandidateID: entity.EntityID,
		Kind:        entity.Kind,
		NaturalKey:  entity.NaturalKey,
		MatchType:   model.MatchExact,
		Confidence:  1,
	}
}

// keyedMutex hands out one mutex per key and drops it when the last holder
// releases it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
