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
package mocks

import (
	"context"

	"github.com/blnkfinance/intake/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Import batch methods

func (m *MockDataSource) CreateImportBatch(ctx context.Context, batch *model.ImportBatch, items []*model.ImportItem) error {
	args := m.Called(ctx, batch, items)
	return args.Error(0)
}

func (m *MockDataSource) GetImportBatch(ctx context.Context, batchID string) (*model.ImportBatch, error) {
	args := m.Called(ctx, batchID)
	batch, _ := args.Get(0).(*model.ImportBatch)
	return batch, args.Error(1)
}

func (m *MockDataSource) GetImportBatches(ctx context.Context, kind model.ImportKind, limit, offset int) ([]*model.ImportBatch, error) {
	args := m.Called(ctx, kind, limit, offset)
	batches, _ := args.Get(0).([]*model.ImportBatch)
	return batches, args.Error(1)
}

func (m *MockDataSource) UpdateImportBatchStatus(ctx context.Context, batchID string, from, to model.ImportStatus) error {
	args := m.Called(ctx, batchID, from, to)
	return args.Error(0)
}

func (m *MockDataSource) FinalizeImportBatch(ctx context.Context, batch *model.ImportBatch, from model.ImportStatus) error {
	args := m.Called(ctx, batch, from)
	return args.Error(0)
}

// Import item methods

func (m *MockDataSource) GetImportItems(ctx context.Context, batchID string) ([]*model.ImportItem, error) {
	args := m.Called(ctx, batchID)
	items, _ := args.Get(0).([]*model.ImportItem)
	return items, args.Error(1)
}

func (m *MockDataSource) UpdateImportItem(ctx context.Context, item *model.ImportItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

// Entity methods

func (m *MockDataSource) GetEntityByKey(ctx context.Context, kind model.EntityKind, naturalKey string) (*model.Entity, error) {
	args := m.Called(ctx, kind, naturalKey)
	entity, _ := args.Get(0).(*model.Entity)
	return entity, args.Error(1)
}

func (m *MockDataSource) GetEntityCandidates(ctx context.Context, q model.CandidateQuery) ([]*model.Entity, error) {
	args := m.Called(ctx, q)
	entities, _ := args.Get(0).([]*model.Entity)
	return entities, args.Error(1)
}

func (m *MockDataSource) InsertEntity(ctx context.Context, entity *model.Entity) (bool, error) {
	args := m.Called(ctx, entity)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) CountEntities(ctx context.Context, kind model.EntityKind) (int, error) {
	args := m.Called(ctx, kind)
	return args.Int(0), args.Error(1)
}

// Record methods

func (m *MockDataSource) InsertPayment(ctx context.Context, payment *model.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockDataSource) InsertTrafficFine(ctx context.Context, fine *model.TrafficFine) error {
	args := m.Called(ctx, fine)
	return args.Error(0)
}

func (m *MockDataSource) InsertBalanceRecord(ctx context.Context, record *model.BalanceRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockDataSource) CountRecords(ctx context.Context, kind model.ImportKind) (int, error) {
	args := m.Called(ctx, kind)
	return args.Int(0), args.Error(1)
}

// Audit methods

func (m *MockDataSource) RecordAuditEntry(ctx context.Context, entry *model.AuditLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDataSource) GetAuditEntries(ctx context.Context, entityType, entityID string) ([]*model.AuditLogEntry, error) {
	args := m.Called(ctx, entityType, entityID)
	entries, _ := args.Get(0).([]*model.AuditLogEntry)
	return entries, args.Error(1)
}
