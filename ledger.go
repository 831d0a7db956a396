package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/blnkfinance/intake/database"
	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
	"github.com/sirupsen/logrus"
)

// Ledger owns batch status and the audit log. Audit entries are only ever
// appended.
type Ledger struct {
	datasource database.IDataSource
	retrier    *Retrier
}

func NewLedger(ds database.IDataSource, retrier *Retrier) *Ledger {
	return &Ledger{datasource: ds, retrier: retrier}
}

// RecordAudit appends entry, filling its id, actor and timestamp when unset.
func (l *Ledger) RecordAudit(ctx context.Context, entry *model.AuditLogEntry) error {
	if entry.AuditID == "" {
		entry.AuditID = model.GenerateUUIDWithSuffix("audit")
	}
	if entry.Actor == "" {
		entry.Actor = model.DefaultAuditActor
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return l.retrier.Do(ctx, "record audit entry", func(ctx context.Context) error {
		return permanent(l.datasource.RecordAuditEntry(ctx, entry))
	})
}

// ListAuditEntries returns the entries recorded for one entity, oldest first.
func (l *Ledger) ListAuditEntries(ctx context.Context, entityType, entityID string) ([]*model.AuditLogEntry, error) {
	return RetryValue(ctx, l.retrier, "get audit entries", func(ctx context.Context) ([]*model.AuditLogEntry, error) {
		entries, err := l.datasource.GetAuditEntries(ctx, entityType, entityID)
		return entries, permanent(err)
	})
}

// GetBatch reads a batch through the retrier.
func (l *Ledger) GetBatch(ctx context.Context, batchID string) (*model.ImportBatch, error) {
	return RetryValue(ctx, l.retrier, "get import batch", func(ctx context.Context) (*model.ImportBatch, error) {
		batch, err := l.datasource.GetImportBatch(ctx, batchID)
		return batch, permanent(err)
	})
}

// ListBatches returns batches newest first. An empty kind lists every kind.
func (l *Ledger) ListBatches(ctx context.Context, kind model.ImportKind, limit, offset int) ([]*model.ImportBatch, error) {
	return RetryValue(ctx, l.retrier, "list import batches", func(ctx context.Context) ([]*model.ImportBatch, error) {
		batches, err := l.datasource.GetImportBatches(ctx, kind, limit, offset)
		return batches, permanent(err)
	})
}

// GetBatchStatus is the status read polled by callers.
func (l *Ledger) GetBatchStatus(ctx context.Context, batchID string) (model.BatchStatus, error) {
	batch, err := l.GetBatch(ctx, batchID)
	if err != nil {
		return model.BatchStatus{}, err
	}
	return batch.Summary(), nil
}

// Transition moves a batch from one status to the next and records the
// change. Moves outside pending -> processing -> {completed | error}, and
// moves from a status the batch is no longer in, fail with
// ErrInvalidTransition.
func (l *Ledger) Transition(ctx context.Context, batchID string, from, to model.ImportStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	err := l.retrier.Do(ctx, "update import batch status", func(ctx context.Context) error {
		return permanent(l.datasource.UpdateImportBatchStatus(ctx, batchID, from, to))
	})
	if err != nil {
		return transitionError(err, batchID, from, to)
	}

	l.auditTransition(ctx, batchID, from, to, nil)
	return nil
}

// Finalize writes the final counts and error summary together with the
// terminal status from batch.Status.
func (l *Ledger) Finalize(ctx context.Context, batch *model.ImportBatch, from model.ImportStatus) error {
	if !from.CanTransitionTo(batch.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, batch.Status)
	}

	err := l.retrier.Do(ctx, "finalize import batch", func(ctx context.Context) error {
		return permanent(l.datasource.FinalizeImportBatch(ctx, batch, from))
	})
	if err != nil {
		return transitionError(err, batch.BatchID, from, batch.Status)
	}

	l.auditTransition(ctx, batch.BatchID, from, batch.Status, map[string]interface{}{
		"records_processed": batch.RecordsProcessed,
		"failed_count":      batch.FailedCount,
	})
	return nil
}

func (l *Ledger) auditTransition(ctx context.Context, batchID string, from, to model.ImportStatus, extra map[string]interface{}) {
	after := map[string]interface{}{"status": string(to)}
	for k, v := range extra {
		after[k] = v
	}

	err := l.RecordAudit(ctx, &model.AuditLogEntry{
		EntityType: model.AuditEntityImportBatch,
		EntityID:   batchID,
		Action:     model.ActionBatchStatusChanged,
		Before:     map[string]interface{}{"status": string(from)},
		After:      after,
		BatchID:    batchID,
	})
	if err != nil {
		logrus.WithError(err).WithField("batch_id", batchID).Error("recording batch status audit entry")
	}
}

func transitionError(err error, batchID string, from, to model.ImportStatus) error {
	if apierror.HasCode(err, apierror.ErrConflict) {
		return fmt.Errorf("%w: batch %s %s -> %s: %v", ErrInvalidTransition, batchID, from, to, err)
	}
	return err
}
