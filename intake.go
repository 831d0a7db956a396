/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package intake

import (
	"embed"

	"github.com/blnkfinance/intake/config"
	"github.com/blnkfinance/intake/database"
	"github.com/blnkfinance/intake/internal/cache"
	"github.com/blnkfinance/intake/internal/objectstore"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("Intake")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Intake represents the import pipeline: upload, processing and status.
type Intake struct {
	datasource database.IDataSource
	store      objectstore.Store
	queue      *Queue
	redis      redis.UniversalClient
	cache      cache.Cache
	analysis   *AnalysisClient
	retrier    *Retrier
	ledger     *Ledger
	resolver   *Resolver
	batchSize  int
}

// Option customises an Intake at construction.
type Option func(*Intake)

// WithRedis enables the entity cache and the distributed creation lock.
func WithRedis(client redis.UniversalClient) Option {
	return func(i *Intake) {
		i.redis = client
		if client != nil {
			i.cache = cache.NewCache(client)
		}
	}
}

// WithQueue lets batches be processed asynchronously by the workers.
func WithQueue(q *Queue) Option {
	return func(i *Intake) { i.queue = q }
}

// WithRetrier replaces the retrier built from the configuration.
func WithRetrier(r *Retrier) Option {
	return func(i *Intake) { i.retrier = r }
}

// WithCache overrides the entity cache. A nil cache disables caching.
func WithCache(c cache.Cache) Option {
	return func(i *Intake) { i.cache = c }
}

// NewIntake initializes a new instance of Intake with the provided datasource and file store.
// Tunables are read from the loaded configuration.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
// - store objectstore.Store: Where uploaded files are kept.
// - opts ...Option: Optional collaborators such as Redis and the queue.
//
// Returns:
// - *Intake: A pointer to the newly created Intake instance.
// - error: An error if the configuration is not loaded.
func NewIntake(db database.IDataSource, store objectstore.Store, opts ...Option) (*Intake, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	i := &Intake{
		datasource: db,
		store:      store,
		retrier:    NewRetrier(RetryPolicyFromConfig(configuration.Retry)),
		batchSize:  configuration.Import.BatchSize,
	}
	for _, opt := range opts {
		opt(i)
	}

	i.ledger = NewLedger(db, i.retrier)
	i.resolver = NewResolver(db, i.retrier, i.ledger, i.cache, i.redis, ResolverConfigFromConfig(configuration.Import))
	i.analysis = NewAnalysisClient(configuration.Analysis, i.retrier)
	return i, nil
}

// Ledger exposes batch status and the audit log.
func (i *Intake) Ledger() *Ledger {
	return i.ledger
}

// Resolver exposes entity resolution.
func (i *Intake) Resolver() *Resolver {
	return i.resolver
}
