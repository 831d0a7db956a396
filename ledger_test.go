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
	"errors"
	"testing"
	"time"

	"github.com/blnkfinance/intake/database"
	"github.com/blnkfinance/intake/database/mocks"
	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func createPendingBatch(t *testing.T, ds database.IDataSource, items int) *model.ImportBatch {
	t.Helper()
	now := time.Now().UTC()
	batch := &model.ImportBatch{
		BatchID:    model.GenerateUUIDWithSuffix("imp"),
		SourceFile: "imports/test/file.csv",
		FileName:   "file.csv",
		Kind:       model.KindCustomers,
		Status:     model.StatusPending,
		TotalRows:  items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	var list []*model.ImportItem
	for n := 1; n <= items; n++ {
		list = append(list, &model.ImportItem{
			ItemID:    model.GenerateUUIDWithSuffix("item"),
			BatchID:   batch.BatchID,
			RowIndex:  n,
			Kind:      model.KindCustomers,
			Payload:   map[string]string{ColCustomerName: "Customer " + string(rune('A'+n-1))},
			Status:    model.ItemPending,
			CreatedAt: now,
		})
	}
	require.NoError(t, ds.CreateImportBatch(context.Background(), batch, list))
	return batch
}

func TestLedgerTransition(t *testing.T) {
	ds := database.NewMemoryStore()
	ledger := NewLedger(ds, testRetrier())
	ctx := context.Background()
	batch := createPendingBatch(t, ds, 0)

	require.NoError(t, ledger.Transition(ctx, batch.BatchID, model.StatusPending, model.StatusProcessing))

	status, err := ledger.GetBatchStatus(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, status.Status)

	entries, err := ledger.ListAuditEntries(ctx, model.AuditEntityImportBatch, batch.BatchID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionBatchStatusChanged, entries[0].Action)
	assert.Equal(t, "pending", entries[0].Before["status"])
	assert.Equal(t, "processing", entries[0].After["status"])
	assert.Equal(t, model.DefaultAuditActor, entries[0].Actor)
	assert.NotEmpty(t, entries[0].AuditID)
}

func TestLedgerRejectsBackwardTransitions(t *testing.T) {
	ds := database.NewMemoryStore()
	ledger := NewLedger(ds, testRetrier())
	ctx := context.Background()
	batch := createPendingBatch(t, ds, 0)

	err := ledger.Transition(ctx, batch.BatchID, model.StatusProcessing, model.StatusPending)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = ledger.Transition(ctx, batch.BatchID, model.StatusPending, model.StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// the batch is pending, so a processing -> completed move is stale
	err = ledger.Transition(ctx, batch.BatchID, model.StatusProcessing, model.StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	status, err := ledger.GetBatchStatus(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, status.Status)
}

func TestLedgerFinalize(t *testing.T) {
	ds := database.NewMemoryStore()
	ledger := NewLedger(ds, testRetrier())
	ctx := context.Background()
	batch := createPendingBatch(t, ds, 3)
	require.NoError(t, ledger.Transition(ctx, batch.BatchID, model.StatusPending, model.StatusProcessing))

	now := time.Now().UTC()
	batch.Status = model.StatusCompleted
	batch.RecordsProcessed = 3
	batch.FailedCount = 1
	batch.Errors = []model.ImportError{{Row: 2, Category: model.ErrorCategoryItem, Reason: "boom"}}
	batch.CompletedAt = &now
	require.NoError(t, ledger.Finalize(ctx, batch, model.StatusProcessing))

	status, err := ledger.GetBatchStatus(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, status.Status)
	assert.Equal(t, 3, status.RecordsProcessed)
	assert.Equal(t, 1, status.FailedCount)
	assert.Len(t, status.Errors, 1)
	assert.NotNil(t, status.CompletedAt)

	err = ledger.Finalize(ctx, batch, model.StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestLedgerGetBatchStatusNotFound(t *testing.T) {
	ledger := NewLedger(database.NewMemoryStore(), testRetrier())
	_, err := ledger.GetBatchStatus(context.Background(), "imp_missing")
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestLedgerRecordAuditRetriesTransientFailures(t *testing.T) {
	mockDS := new(mocks.MockDataSource)
	ledger := NewLedger(mockDS, testRetrier())

	mockDS.On("RecordAuditEntry", mock.Anything, mock.AnythingOfType("*model.AuditLogEntry")).Return(errors.New("connection reset by peer")).Once()
	mockDS.On("RecordAuditEntry", mock.Anything, mock.AnythingOfType("*model.AuditLogEntry")).Return(nil).Once()

	entry := &model.AuditLogEntry{EntityType: "customer", EntityID: "cus_1", Action: model.ActionEntityCreated}
	require.NoError(t, ledger.RecordAudit(context.Background(), entry))

	assert.False(t, entry.CreatedAt.IsZero())
	mockDS.AssertNumberOfCalls(t, "RecordAuditEntry", 2)
}
