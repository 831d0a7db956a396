package database

import (
	"context"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
)

var (
	_ IDataSource = (*Datasource)(nil)
	_ IDataSource = (*MemoryStore)(nil)
)

type entityKey struct {
	kind model.EntityKind
	key  string
}

// MemoryStore is an IDataSource held in process memory. It enforces the
// same natural-key uniqueness and status guards as the postgres store and
// backs the memory driver used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	batches  map[string]*model.ImportBatch
	items    map[string][]*model.ImportItem
	entities map[entityKey]*model.Entity
	records  map[model.ImportKind]map[string]struct{}
	audit    []*model.AuditLogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:  make(map[string]*model.ImportBatch),
		items:    make(map[string][]*model.ImportItem),
		entities: make(map[entityKey]*model.Entity),
		records: map[model.ImportKind]map[string]struct{}{
			model.KindPayments:     {},
			model.KindTrafficFines: {},
			model.KindBalances:     {},
		},
	}
}

func (m *MemoryStore) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *MemoryStore) CreateImportBatch(ctx context.Context, batch *model.ImportBatch, items []*model.ImportItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[batch.BatchID]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, "import batch '"+batch.BatchID+"' already exists", nil)
	}
	stored := copyBatch(batch)
	stored.ID = m.nextID()
	m.batches[batch.BatchID] = stored

	copied := make([]*model.ImportItem, 0, len(items))
	for _, item := range items {
		c := copyItem(item)
		c.ID = m.nextID()
		copied = append(copied, c)
	}
	m.items[batch.BatchID] = copied
	return nil
}

func (m *MemoryStore) GetImportBatch(ctx context.Context, batchID string) (*model.ImportBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	batch, ok := m.batches[batchID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "import batch with ID '"+batchID+"' not found", nil)
	}
	return copyBatch(batch), nil
}

func (m *MemoryStore) GetImportBatches(ctx context.Context, kind model.ImportKind, limit, offset int) ([]*model.ImportBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.ImportBatch
	for _, batch := range m.batches {
		if kind == "" || batch.Kind == kind {
			out = append(out, copyBatch(batch))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpdateImportBatchStatus(ctx context.Context, batchID string, from, to model.ImportStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, err := m.batchIn(batchID, from)
	if err != nil {
		return err
	}
	batch.Status = to
	batch.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) FinalizeImportBatch(ctx context.Context, update *model.ImportBatch, from model.ImportStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, err := m.batchIn(update.BatchID, from)
	if err != nil {
		return err
	}
	batch.Status = update.Status
	batch.RecordsProcessed = update.RecordsProcessed
	batch.FailedCount = update.FailedCount
	batch.Errors = append([]model.ImportError{}, update.Errors...)
	batch.UpdatedAt = update.UpdatedAt
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		batch.CompletedAt = &t
	}
	return nil
}

func (m *MemoryStore) batchIn(batchID string, from model.ImportStatus) (*model.ImportBatch, error) {
	batch, ok := m.batches[batchID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "import batch with ID '"+batchID+"' not found", nil)
	}
	if batch.Status != from {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "import batch '"+batchID+"' is no longer "+string(from), nil)
	}
	return batch, nil
}

func (m *MemoryStore) GetImportItems(ctx context.Context, batchID string) ([]*model.ImportItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.ImportItem, 0, len(m.items[batchID]))
	for _, item := range m.items[batchID] {
		out = append(out, copyItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowIndex < out[j].RowIndex })
	return out, nil
}

func (m *MemoryStore) UpdateImportItem(ctx context.Context, update *model.ImportItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items[update.BatchID] {
		if item.ItemID == update.ItemID {
			item.Status = update.Status
			item.ProcessingAttempts = update.ProcessingAttempts
			item.ErrorDetails = update.ErrorDetails
			if update.LastProcessedAt != nil {
				t := *update.LastProcessedAt
				item.LastProcessedAt = &t
			}
			return nil
		}
	}
	return apierror.NewAPIError(apierror.ErrNotFound, "import item with ID '"+update.ItemID+"' not found", nil)
}

func (m *MemoryStore) GetEntityByKey(ctx context.Context, kind model.EntityKind, naturalKey string) (*model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	entity, ok := m.entities[entityKey{kind: kind, key: naturalKey}]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, string(kind)+" '"+naturalKey+"' not found", nil)
	}
	c := *entity
	return &c, nil
}

func (m *MemoryStore) GetEntityCandidates(ctx context.Context, q model.CandidateQuery) ([]*model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Entity
	for k, entity := range m.entities {
		n := utf8.RuneCountInString(k.key)
		if k.kind == q.Kind && n >= q.MinLen && n <= q.MaxLen {
			c := *entity
			out = append(out, &c)
		}
	}
	gap := func(e *model.Entity) int {
		d := utf8.RuneCountInString(e.NaturalKey) - q.TargetLen
		if d < 0 {
			return -d
		}
		return d
	}
	sort.Slice(out, func(i, j int) bool {
		if gi, gj := gap(out[i]), gap(out[j]); gi != gj {
			return gi < gj
		}
		return out[i].NaturalKey < out[j].NaturalKey
	})

	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) InsertEntity(ctx context.Context, entity *model.Entity) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey{kind: entity.Kind, key: entity.NaturalKey}
	if _, ok := m.entities[key]; ok {
		return false, nil
	}
	c := *entity
	c.ID = m.nextID()
	m.entities[key] = &c
	return true, nil
}

func (m *MemoryStore) CountEntities(ctx context.Context, kind model.EntityKind) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for k := range m.entities {
		if k.kind == kind {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) InsertPayment(ctx context.Context, payment *model.Payment) error {
	return m.insertRecord(ctx, model.KindPayments, "payment", payment.NaturalKey)
}

func (m *MemoryStore) InsertTrafficFine(ctx context.Context, fine *model.TrafficFine) error {
	return m.insertRecord(ctx, model.KindTrafficFines, "traffic fine", fine.NaturalKey)
}

func (m *MemoryStore) InsertBalanceRecord(ctx context.Context, record *model.BalanceRecord) error {
	return m.insertRecord(ctx, model.KindBalances, "balance record", record.NaturalKey)
}

func (m *MemoryStore) insertRecord(ctx context.Context, kind model.ImportKind, what, naturalKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[kind][naturalKey]; ok {
		return apierror.NewAPIError(apierror.ErrConflict, what+" '"+naturalKey+"' already exists", nil)
	}
	m.records[kind][naturalKey] = struct{}{}
	return nil
}

func (m *MemoryStore) CountRecords(ctx context.Context, kind model.ImportKind) (int, error) {
	if kind == model.KindCustomers {
		return m.CountEntities(ctx, model.EntityCustomer)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.records[kind]
	if !ok {
		return 0, apierror.NewAPIError(apierror.ErrInvalidInput, "unknown import kind '"+string(kind)+"'", nil)
	}
	return len(records), nil
}

func (m *MemoryStore) RecordAuditEntry(ctx context.Context, entry *model.AuditLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *entry
	c.ID = m.nextID()
	m.audit = append(m.audit, &c)
	return nil
}

func (m *MemoryStore) GetAuditEntries(ctx context.Context, entityType, entityID string) ([]*model.AuditLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.AuditLogEntry
	for _, entry := range m.audit {
		if entry.EntityType == entityType && entry.EntityID == entityID {
			c := *entry
			out = append(out, &c)
		}
	}
	return out, nil
}

func copyBatch(b *model.ImportBatch) *model.ImportBatch {
	c := *b
	c.Errors = append([]model.ImportError{}, b.Errors...)
	c.Repairs = append([]model.RepairNote{}, b.Repairs...)
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func copyItem(i *model.ImportItem) *model.ImportItem {
	c := *i
	c.Payload = make(map[string]string, len(i.Payload))
	for k, v := range i.Payload {
		c.Payload[k] = v
	}
	if i.LastProcessedAt != nil {
		t := *i.LastProcessedAt
		c.LastProcessedAt = &t
	}
	return &c
}
