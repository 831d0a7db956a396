package intake

import (
	"context"
	"testing"
	"time"

	"github.com/blnkfinance/intake/config"
	"github.com/blnkfinance/intake/database"
	"github.com/blnkfinance/intake/internal/objectstore"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testRetrier() *Retrier {
	return NewRetrier(DefaultRetryPolicy()).WithSleep(noSleep)
}

func testResolverConfig() ResolverConfig {
	return ResolverConfig{
		FuzzyThreshold:     config.DEFAULT_FUZZY_THRESHOLD,
		FallbackConfidence: config.DEFAULT_FALLBACK_CONFIDENCE,
		CandidateLimit:     config.DEFAULT_CANDIDATE_LIMIT,
		CacheTTL:           time.Minute,
	}
}

func mockConfig(t *testing.T, mutate func(cfg *config.Configuration)) {
	t.Helper()
	cfg := &config.Configuration{}
	if mutate != nil {
		mutate(cfg)
	}
	config.MockConfig(cfg)
}

// newTestIntake wires an Intake on the given datasource and a disk store in
// a temp dir, with retries that do not sleep.
func newTestIntake(t *testing.T, ds database.IDataSource, opts ...Option) *Intake {
	t.Helper()
	mockConfig(t, nil)

	store, err := objectstore.NewDiskStore(t.TempDir())
	require.NoError(t, err)

	opts = append([]Option{WithRetrier(testRetrier())}, opts...)
	i, err := NewIntake(ds, store, opts...)
	require.NoError(t, err)
	return i
}
