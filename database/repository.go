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

package database

import (
	"context"

	"github.com/blnkfinance/intake/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	importBatch // Interface for import batch tracking
	importItem  // Interface for per-row work items
	entity      // Interface for canonical customers, agreements and vehicles
	records     // Interface for committed payments, fines and balance rows
	audit       // Interface for the append-only audit log
}

// importBatch defines methods for handling import batches.
type importBatch interface {
	// CreateImportBatch records a batch and its items atomically.
	CreateImportBatch(ctx context.Context, batch *model.ImportBatch, items []*model.ImportItem) error
	GetImportBatch(ctx context.Context, batchID string) (*model.ImportBatch, error)
	// GetImportBatches lists batches of a kind, newest first.
	GetImportBatches(ctx context.Context, kind model.ImportKind, limit, offset int) ([]*model.ImportBatch, error)
	// UpdateImportBatchStatus moves a batch from one status to another.
	UpdateImportBatchStatus(ctx context.Context, batchID string, from, to model.ImportStatus) error
	// FinalizeImportBatch writes counts, errors and the terminal status in one statement.
	FinalizeImportBatch(ctx context.Context, batch *model.ImportBatch, from model.ImportStatus) error
}

// importItem defines methods for handling import items.
type importItem interface {
	GetImportItems(ctx context.Context, batchID string) ([]*model.ImportItem, error) // Retrieves every item of a batch
	UpdateImportItem(ctx context.Context, item *model.ImportItem) error             // Records the outcome of one processing attempt
}

// entity defines methods for handling canonical entities.
type entity interface {
	GetEntityByKey(ctx context.Context, kind model.EntityKind, naturalKey string) (*model.Entity, error)
	// GetEntityCandidates returns a page of entities whose key length is near q.TargetLen.
	GetEntityCandidates(ctx context.Context, q model.CandidateQuery) ([]*model.Entity, error)
	// InsertEntity inserts unless the natural key exists and reports whether a row was created.
	InsertEntity(ctx context.Context, entity *model.Entity) (bool, error)
	CountEntities(ctx context.Context, kind model.EntityKind) (int, error)
}

// records defines methods for committing canonical records. Each insert is
// keyed on the record's natural key; a duplicate returns an ErrConflict APIError.
type records interface {
	InsertPayment(ctx context.Context, payment *model.Payment) error
	InsertTrafficFine(ctx context.Context, fine *model.TrafficFine) error
	InsertBalanceRecord(ctx context.Context, record *model.BalanceRecord) error
	CountRecords(ctx context.Context, kind model.ImportKind) (int, error)
}

// audit defines methods for the audit log. It has no update or delete.
type audit interface {
	RecordAuditEntry(ctx context.Context, entry *model.AuditLogEntry) error
	GetAuditEntries(ctx context.Context, entityType, entityID string) ([]*model.AuditLogEntry, error)
}
