package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
	"go.opentelemetry.io/otel"
)

const batchColumns = `id, batch_id, source_file, file_name, kind, status, total_rows,
	records_processed, failed_count, errors, repairs, created_at, updated_at, completed_at`

// CreateImportBatch inserts a batch and all of its items in one transaction,
// so a batch is never visible without its work items.
func (d Datasource) CreateImportBatch(ctx context.Context, batch *model.ImportBatch, items []*model.ImportItem) error {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Saving import batch to db")
	defer span.End()

	errorsJSON, err := json.Marshal(nonNilErrors(batch.Errors))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal batch errors", err)
	}
	repairsJSON, err := json.Marshal(nonNilRepairs(batch.Repairs))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal batch repairs", err)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapError(err, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO intake.import_batches (
			batch_id, source_file, file_name, kind, status, total_rows,
			records_processed, failed_count, errors, repairs, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		batch.BatchID, batch.SourceFile, batch.FileName, batch.Kind, batch.Status, batch.TotalRows,
		batch.RecordsProcessed, batch.FailedCount, errorsJSON, repairsJSON, batch.CreatedAt, batch.UpdatedAt, batch.CompletedAt,
	)
	if err != nil {
		return wrapError(err, "failed to create import batch")
	}

	if len(items) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO intake.import_items (
				item_id, batch_id, row_index, kind, payload, status, processing_attempts, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
		if err != nil {
			return wrapError(err, "failed to prepare import item insert")
		}
		defer stmt.Close()

		for _, item := range items {
			payload, err := json.Marshal(item.Payload)
			if err != nil {
				return apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal item payload", err)
			}
			_, err = stmt.ExecContext(ctx, item.ItemID, item.BatchID, item.RowIndex, item.Kind, payload,
				item.Status, item.ProcessingAttempts, item.CreatedAt)
			if err != nil {
				return wrapError(err, "failed to create import item")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapError(err, "failed to commit import batch")
	}
	return nil
}

// GetImportBatch retrieves a batch by its batch id.
func (d Datasource) GetImportBatch(ctx context.Context, batchID string) (*model.ImportBatch, error) {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Fetching import batch from db")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM intake.import_batches WHERE batch_id = $1`, batchID)
	batch, err := scanBatch(row)
	if err != nil {
		return nil, wrapError(err, "import batch with ID '"+batchID+"'")
	}
	return batch, nil
}

// GetImportBatches lists batches newest first. An empty kind lists every kind.
func (d Datasource) GetImportBatches(ctx context.Context, kind model.ImportKind, limit, offset int) ([]*model.ImportBatch, error) {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Listing import batches from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM intake.import_batches
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, kind, limit, offset)
	if err != nil {
		return nil, wrapError(err, "failed to list import batches")
	}
	defer rows.Close()

	var batches []*model.ImportBatch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, wrapError(err, "failed to scan import batch")
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "failed to list import batches")
	}
	return batches, nil
}

// UpdateImportBatchStatus moves a batch from one status to another. The
// update only applies while the row is still in from; otherwise the batch
// has moved on and an ErrConflict is returned.
func (d Datasource) UpdateImportBatchStatus(ctx context.Context, batchID string, from, to model.ImportStatus) error {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Updating import batch status")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE intake.import_batches
		SET status = $3, updated_at = $4
		WHERE batch_id = $1 AND status = $2`,
		batchID, from, to, time.Now().UTC())
	if err != nil {
		return wrapError(err, "failed to update import batch status")
	}
	return d.checkBatchUpdate(ctx, result, batchID, from)
}

// FinalizeImportBatch writes the batch's counts, error summary and terminal
// status in a single statement, guarded on the batch still being in from.
func (d Datasource) FinalizeImportBatch(ctx context.Context, batch *model.ImportBatch, from model.ImportStatus) error {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Finalizing import batch")
	defer span.End()

	errorsJSON, err := json.Marshal(nonNilErrors(batch.Errors))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal batch errors", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE intake.import_batches
		SET status = $3, records_processed = $4, failed_count = $5, errors = $6, updated_at = $7, completed_at = $8
		WHERE batch_id = $1 AND status = $2`,
		batch.BatchID, from, batch.Status, batch.RecordsProcessed, batch.FailedCount, errorsJSON, batch.UpdatedAt, batch.CompletedAt)
	if err != nil {
		return wrapError(err, "failed to finalize import batch")
	}
	return d.checkBatchUpdate(ctx, result, batch.BatchID, from)
}

func (d Datasource) checkBatchUpdate(ctx context.Context, result sql.Result, batchID string, from model.ImportStatus) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapError(err, "failed to read affected rows")
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = d.Conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM intake.import_batches WHERE batch_id = $1)`, batchID).Scan(&exists)
	if err != nil {
		return wrapError(err, "failed to check import batch")
	}
	if !exists {
		return apierror.NewAPIError(apierror.ErrNotFound, "import batch with ID '"+batchID+"' not found", nil)
	}
	return apierror.NewAPIError(apierror.ErrConflict, "import batch '"+batchID+"' is no longer "+string(from), nil)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row scanner) (*model.ImportBatch, error) {
	batch := &model.ImportBatch{}
	var errorsJSON, repairsJSON []byte
	var completedAt sql.NullTime
	err := row.Scan(
		&batch.ID, &batch.BatchID, &batch.SourceFile, &batch.FileName, &batch.Kind, &batch.Status,
		&batch.TotalRows, &batch.RecordsProcessed, &batch.FailedCount, &errorsJSON, &repairsJSON,
		&batch.CreatedAt, &batch.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &batch.Errors); err != nil {
			return nil, err
		}
	}
	if len(repairsJSON) > 0 {
		if err := json.Unmarshal(repairsJSON, &batch.Repairs); err != nil {
			return nil, err
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		batch.CompletedAt = &t
	}
	batch.Errors = nonNilErrors(batch.Errors)
	batch.Repairs = nonNilRepairs(batch.Repairs)
	return batch, nil
}

func nonNilErrors(errs []model.ImportError) []model.ImportError {
	if errs == nil {
		return []model.ImportError{}
	}
	return errs
}

func nonNilRepairs(repairs []model.RepairNote) []model.RepairNote {
	if repairs == nil {
		return []model.RepairNote{}
	}
	return repairs
}
