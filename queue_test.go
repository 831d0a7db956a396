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
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/blnkfinance/intake/config"
	"github.com/blnkfinance/intake/database"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &config.Configuration{}
	cfg.Redis.Dns = mr.Addr()
	config.MockConfig(cfg)

	q, err := NewQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestEnqueueImportDeduplicatesByBatch(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueImport(ctx, "imp_1"))
	require.NoError(t, q.EnqueueImport(ctx, "imp_1"), "a queued batch is not an error")
	require.NoError(t, q.EnqueueImport(ctx, "imp_2"))

	pending, err := mr.List("asynq:{" + config.DEFAULT_IMPORT_QUEUE + "}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestStartImportUsesQueue(t *testing.T) {
	q, mr := newTestQueue(t)
	ds := database.NewMemoryStore()
	batch := createPendingBatch(t, ds, 1)

	i := newTestIntake(t, ds, WithQueue(q))
	require.NoError(t, i.StartImport(context.Background(), batch.BatchID))

	pending, err := mr.List("asynq:{" + config.DEFAULT_IMPORT_QUEUE + "}:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{batch.BatchID}, pending)
}

func TestParseImportTask(t *testing.T) {
	payload, err := ParseImportTask(asynq.NewTask(config.DEFAULT_IMPORT_QUEUE, []byte(`{"batch_id":"imp_9"}`)))
	require.NoError(t, err)
	assert.Equal(t, "imp_9", payload.BatchID)

	_, err = ParseImportTask(asynq.NewTask(config.DEFAULT_IMPORT_QUEUE, []byte(`{}`)))
	assert.Error(t, err)

	_, err = ParseImportTask(asynq.NewTask(config.DEFAULT_IMPORT_QUEUE, []byte(`not json`)))
	assert.Error(t, err)
}
