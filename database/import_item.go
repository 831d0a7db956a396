package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
	"go.opentelemetry.io/otel"
)

const itemColumns = `id, item_id, batch_id, row_index, kind, payload, status,
	processing_attempts, last_processed_at, error_details, created_at`

// GetImportItems retrieves every item of a batch ordered by row.
func (d Datasource) GetImportItems(ctx context.Context, batchID string) ([]*model.ImportItem, error) {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Fetching import items from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM intake.import_items
		WHERE batch_id = $1
		ORDER BY row_index ASC`, batchID)
	if err != nil {
		return nil, wrapError(err, "failed to fetch import items")
	}
	defer rows.Close()

	return scanItems(rows)
}

// UpdateImportItem records the outcome of one processing attempt.
func (d Datasource) UpdateImportItem(ctx context.Context, item *model.ImportItem) error {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Updating import item")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE intake.import_items
		SET status = $2, processing_attempts = $3, last_processed_at = $4, error_details = $5
		WHERE item_id = $1`,
		item.ItemID, item.Status, item.ProcessingAttempts, item.LastProcessedAt, item.ErrorDetails)
	if err != nil {
		return wrapError(err, "failed to update import item")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return wrapError(err, "failed to read affected rows")
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "import item with ID '"+item.ItemID+"' not found", nil)
	}
	return nil
}

func scanItems(rows *sql.Rows) ([]*model.ImportItem, error) {
	var items []*model.ImportItem
	for rows.Next() {
		item := &model.ImportItem{}
		var payload []byte
		var lastProcessedAt sql.NullTime
		var errorDetails sql.NullString
		err := rows.Scan(
			&item.ID, &item.ItemID, &item.BatchID, &item.RowIndex, &item.Kind, &payload, &item.Status,
			&item.ProcessingAttempts, &lastProcessedAt, &errorDetails, &item.CreatedAt,
		)
		if err != nil {
			return nil, wrapError(err, "failed to scan import item")
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &item.Payload); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to unmarshal item payload", err)
			}
		}
		if lastProcessedAt.Valid {
			t := lastProcessedAt.Time
			item.LastProcessedAt = &t
		}
		item.ErrorDetails = errorDetails.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "failed to read import items")
	}
	return items, nil
}
