package database

import (
	"context"
	"encoding/json"

	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
	"go.opentelemetry.io/otel"
)

// RecordAuditEntry appends an entry to the audit log. Audit rows are
// never updated or deleted.
func (d Datasource) RecordAuditEntry(ctx context.Context, entry *model.AuditLogEntry) error {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Saving audit entry to db")
	defer span.End()

	before, err := json.Marshal(entry.Before)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal audit snapshot", err)
	}
	after, err := json.Marshal(entry.After)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal audit snapshot", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO intake.audit_logs (audit_id, entity_type, entity_id, action, before, after, actor, batch_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.AuditID, entry.EntityType, entry.EntityID, entry.Action, before, after, entry.Actor, entry.BatchID, entry.CreatedAt,
	)
	return wrapError(err, "failed to record audit entry")
}

// GetAuditEntries returns the entries recorded against one entity, oldest first.
func (d Datasource) GetAuditEntries(ctx context.Context, entityType, entityID string) ([]*model.AuditLogEntry, error) {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Fetching audit entries from db")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT id, audit_id, entity_type, entity_id, action, before, after, actor, batch_id, created_at
		FROM intake.audit_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC, id ASC`, entityType, entityID)
	if err != nil {
		return nil, wrapError(err, "failed to fetch audit entries")
	}
	defer rows.Close()

	var entries []*model.AuditLogEntry
	for rows.Next() {
		entry := &model.AuditLogEntry{}
		var before, after []byte
		err := rows.Scan(&entry.ID, &entry.AuditID, &entry.EntityType, &entry.EntityID, &entry.Action,
			&before, &after, &entry.Actor, &entry.BatchID, &entry.CreatedAt)
		if err != nil {
			return nil, wrapError(err, "failed to scan audit entry")
		}
		if err := unmarshalSnapshot(before, &entry.Before); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to unmarshal audit snapshot", err)
		}
		if err := unmarshalSnapshot(after, &entry.After); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to unmarshal audit snapshot", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "failed to read audit entries")
	}
	return entries, nil
}

func unmarshalSnapshot(data []byte, target *map[string]interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, target)
}
