package intake

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/intake/database"
	"github.com/blnkfinance/intake/database/mocks"
	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/internal/cache"
	"github.com/blnkfinance/intake/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(ds database.IDataSource) *Resolver {
	retrier := testRetrier()
	return NewResolver(ds, retrier, NewLedger(ds, retrier), nil, nil, testResolverConfig())
}

func seedEntity(t *testing.T, ds database.IDataSource, kind model.EntityKind, raw string) *model.Entity {
	t.Helper()
	e := &model.Entity{
		EntityID:    model.GenerateUUIDWithSuffix(kind.Prefix()),
		Kind:        kind,
		NaturalKey:  model.NaturalKey(kind, raw),
		DisplayName: raw,
	}
	created, err := ds.InsertEntity(context.Background(), e)
	require.NoError(t, err)
	require.True(t, created)
	return e
}

func TestResolveExactMatch(t *testing.T) {
	ds := database.NewMemoryStore()
	existing := seedEntity(t, ds, model.EntityAgreement, "AGR 100")
	r := newTestResolver(ds)

	got, err := r.Resolve(context.Background(), NewResolutionRun("imp_1"), model.EntityAgreement, " agr100 ")
	require.NoError(t, err)

	assert.Equal(t, model.MatchExact, got.MatchType)
	assert.Equal(t, existing.EntityID, got.CandidateID)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestResolveFuzzyMatch(t *testing.T) {
	ds := database.NewMemoryStore()
	john := seedEntity(t, ds, model.EntityCustomer, "John Doe")
	seedEntity(t, ds, model.EntityCustomer, gofakeit.Name()+" Extra Long Surname")
	r := newTestResolver(ds)

	got, err := r.Resolve(context.Background(), NewResolutionRun("imp_1"), model.EntityCustomer, "Jon Doe")
	require.NoError(t, err)

	assert.Equal(t, model.MatchFuzzy, got.MatchType)
	assert.Equal(t, john.EntityID, got.CandidateID)
	assert.GreaterOrEqual(t, got.Confidence, 0.8)

	count, err := ds.CountEntities(context.Background(), model.EntityCustomer)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "fuzzy match must not create an entity")
}

func TestResolveFuzzyMatchLongName(t *testing.T) {
	ds := database.NewMemoryStore()
	khalid := seedEntity(t, ds, model.EntityCustomer, "Mohammed Abdullah Al Thani Khalid")
	r := newTestResolver(ds)

	got, err := r.Resolve(context.Background(), NewResolutionRun("imp_1"), model.EntityCustomer, "Mohammed Abdullah Thani Khal")
	require.NoError(t, err)

	assert.Equal(t, model.MatchFuzzy, got.MatchType, "five edits on a 33 rune name still clear the threshold")
	assert.Equal(t, khalid.EntityID, got.CandidateID)
	assert.InDelta(t, 0.848, got.Confidence, 0.001)
}

// pagingStore counts the candidate pages a resolver reads.
type pagingStore struct {
	*database.MemoryStore
	pages int
}

func (p *pagingStore) GetEntityCandidates(ctx context.Context, q model.CandidateQuery) ([]*model.Entity, error) {
	p.pages++
	return p.MemoryStore.GetEntityCandidates(ctx, q)
}

func TestResolveFuzzyMatchBeyondFirstPage(t *testing.T) {
	ds := &pagingStore{MemoryStore: database.NewMemoryStore()}
	for n := 0; n < 30; n++ {
		seedEntity(t, ds, model.EntityCustomer, fmt.Sprintf("aaa customer %02d", n))
	}
	zara := seedEntity(t, ds, model.EntityCustomer, "zara customer bb")

	cfg := testResolverConfig()
	cfg.CandidateLimit = 10
	retrier := testRetrier()
	r := NewResolver(ds, retrier, NewLedger(ds, retrier), nil, nil, cfg)

	got, err := r.Resolve(context.Background(), NewResolutionRun("imp_1"), model.EntityCustomer, "zara customer b")
	require.NoError(t, err)

	assert.Equal(t, model.MatchFuzzy, got.MatchType)
	assert.Equal(t, zara.EntityID, got.CandidateID)
	assert.InDelta(t, 0.9375, got.Confidence, 0.0001)
	assert.Equal(t, 4, ds.pages, "thirty closer-length names fill the first three pages")

	count, err := ds.CountEntities(context.Background(), model.EntityCustomer)
	require.NoError(t, err)
	assert.Equal(t, 31, count)
}

func TestCandidateWindow(t *testing.T) {
	tests := []struct {
		length int
		minLen int
		maxLen int
	}{
		{length: 28, minLen: 23, maxLen: 35},
		{length: 8, minLen: 7, maxLen: 10},
		{length: 15, minLen: 12, maxLen: 18},
		{length: 1, minLen: 1, maxLen: 1},
	}

	for _, tt := range tests {
		q := candidateWindow(model.EntityCustomer, tt.length, 0.8)
		assert.Equal(t, tt.minLen, q.MinLen, "min for %d", tt.length)
		assert.Equal(t, tt.maxLen, q.MaxLen, "max for %d", tt.length)
		assert.Equal(t, tt.length, q.TargetLen)

		// The lengths just outside the window cannot reach the threshold.
		assert.Less(t, lengthBound(tt.length, q.MaxLen+1), 0.8)
		if q.MinLen > 1 {
			assert.Less(t, lengthBound(tt.length, q.MinLen-1), 0.8)
		}
	}

	open := candidateWindow(model.EntityVehicle, 6, 0)
	assert.Equal(t, 1, open.MinLen)
	assert.Greater(t, open.MaxLen, 1000)
}

func TestResolveCreatesPlaceholder(t *testing.T) {
	ds := database.NewMemoryStore()
	seedEntity(t, ds, model.EntityCustomer, "John Doe")
	r := newTestResolver(ds)
	ctx := context.Background()

	got, err := r.Resolve(ctx, NewResolutionRun("imp_1"), model.EntityCustomer, "Jane Smith")
	require.NoError(t, err)

	assert.Equal(t, model.MatchCreated, got.MatchType)
	assert.Equal(t, 0.7, got.Confidence)
	assert.Equal(t, "jane smith", got.NaturalKey)

	stored, err := ds.GetEntityByKey(ctx, model.EntityCustomer, "jane smith")
	require.NoError(t, err)
	assert.Equal(t, got.CandidateID, stored.EntityID)
	assert.True(t, stored.NeedsReview)
	assert.Equal(t, "Jane Smith", stored.DisplayName)

	entries, err := ds.GetAuditEntries(ctx, string(model.EntityCustomer), stored.EntityID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionEntityCreated, entries[0].Action)
	assert.Equal(t, "imp_1", entries[0].BatchID)
}

func TestResolveEmptyReference(t *testing.T) {
	r := newTestResolver(database.NewMemoryStore())

	_, err := r.Resolve(context.Background(), NewResolutionRun("imp_1"), model.EntityVehicle, " - ")
	assert.True(t, apierror.HasCode(err, apierror.ErrInvalidInput))
}

func TestResolveConcurrentSameKeyCreatesOnce(t *testing.T) {
	ds := database.NewMemoryStore()
	r := newTestResolver(ds)
	run := NewResolutionRun("imp_1")
	ctx := context.Background()

	spellings := []string{"AGR-77", "agr-77", " AGR-77", "AGR -77"}
	results := make([]model.ResolvedEntity, 20)
	var wg sync.WaitGroup
	for n := range results {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := r.Resolve(ctx, run, model.EntityAgreement, spellings[n%len(spellings)])
			assert.NoError(t, err)
			results[n] = got
		}(n)
	}
	wg.Wait()

	count, err := ds.CountEntities(ctx, model.EntityAgreement)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	created := 0
	for _, res := range results {
		assert.Equal(t, results[0].CandidateID, res.CandidateID)
		if res.MatchType == model.MatchCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestResolveConcurrentRunsCreateOnce(t *testing.T) {
	ds := database.NewMemoryStore()
	r := newTestResolver(ds)
	ctx := context.Background()

	var wg sync.WaitGroup
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := r.Resolve(ctx, NewResolutionRun(model.GenerateUUIDWithSuffix("imp")), model.EntityVehicle, "AB 1234")
			assert.NoError(t, err)
		}(n)
	}
	wg.Wait()

	count, err := ds.CountEntities(ctx, model.EntityVehicle)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestImportCustomer(t *testing.T) {
	ds := database.NewMemoryStore()
	r := newTestResolver(ds)
	ctx := context.Background()
	run := NewResolutionRun("imp_1")

	created, existing, err := r.ImportCustomer(ctx, run, "John Doe", map[string]interface{}{ColPhone: "555"})
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Nil(t, existing)
	assert.False(t, created.NeedsReview)

	created, existing, err = r.ImportCustomer(ctx, run, "Jon Doe", nil)
	require.NoError(t, err)
	assert.Nil(t, created)
	require.NotNil(t, existing)
	assert.Equal(t, model.MatchFuzzy, existing.MatchType)
}

func TestResolveWithRedisLockAndCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ds := database.NewMemoryStore()
	retrier := testRetrier()
	r := NewResolver(ds, retrier, NewLedger(ds, retrier), cache.NewCache(client), client, testResolverConfig())
	ctx := context.Background()

	got, err := r.Resolve(ctx, NewResolutionRun("imp_1"), model.EntityAgreement, "AGR1")
	require.NoError(t, err)
	assert.Equal(t, model.MatchCreated, got.MatchType)

	assert.False(t, mr.Exists("intake:lock:entity:agreement:AGR1"), "lock released after creation")
	assert.True(t, mr.Exists("entity:agreement:AGR1"), "created entity cached")

	// A fresh resolver on a store that must not be touched finds it in Redis.
	untouched := new(mocks.MockDataSource)
	cached := NewResolver(untouched, retrier, NewLedger(untouched, retrier), cache.NewCache(client), client, testResolverConfig())
	again, err := cached.Resolve(ctx, NewResolutionRun("imp_2"), model.EntityAgreement, "agr1")
	require.NoError(t, err)
	assert.Equal(t, model.MatchExact, again.MatchType)
	assert.Equal(t, got.CandidateID, again.CandidateID)
	untouched.AssertExpectations(t)
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	other := k.Lock("b")
	other()
	unlock()
	assert.Empty(t, k.locks)
}
