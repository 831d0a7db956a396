package database

import (
	"context"
	"encoding/json"

	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
	"go.opentelemetry.io/otel"
)

const entityColumns = `id, entity_id, kind, natural_key, display_name, needs_review, meta_data, created_at`

// GetEntityByKey looks an entity up by its exact natural key.
func (d Datasource) GetEntityByKey(ctx context.Context, kind model.EntityKind, naturalKey string) (*model.Entity, error) {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Fetching entity by natural key")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM intake.entities
		WHERE kind = $1 AND natural_key = $2`, kind, naturalKey)

	entity, err := scanEntity(row)
	if err != nil {
		return nil, wrapError(err, string(kind)+" '"+naturalKey+"'")
	}
	return entity, nil
}

// GetEntityCandidates returns one page of entities matching q, ordered by
// how far their key length is from q.TargetLen.
func (d Datasource) GetEntityCandidates(ctx context.Context, q model.CandidateQuery) ([]*model.Entity, error) {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Fetching entity candidates")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+entityColumns+`
		FROM intake.entities
		WHERE kind = $1 AND char_length(natural_key) BETWEEN $2 AND $3
		ORDER BY abs(char_length(natural_key) - $4), natural_key ASC, id ASC
		LIMIT $5 OFFSET $6`, q.Kind, q.MinLen, q.MaxLen, q.TargetLen, q.Limit, q.Offset)
	if err != nil {
		return nil, wrapError(err, "failed to fetch entity candidates")
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, wrapError(err, "failed to scan entity")
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err, "failed to read entity candidates")
	}
	return entities, nil
}

// InsertEntity inserts entity unless an entity with the same kind and
// natural key exists. It reports whether this call created the row.
func (d Datasource) InsertEntity(ctx context.Context, entity *model.Entity) (bool, error) {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Saving entity to db")
	defer span.End()

	metaDataJSON, err := json.Marshal(entity.MetaData)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInvalidInput, "failed to marshal entity metadata", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO intake.entities (entity_id, kind, natural_key, display_name, needs_review, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (kind, natural_key) DO NOTHING`,
		entity.EntityID, entity.Kind, entity.NaturalKey, entity.DisplayName, entity.NeedsReview, metaDataJSON, entity.CreatedAt)
	if err != nil {
		return false, wrapError(err, "failed to create entity")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, wrapError(err, "failed to read affected rows")
	}
	return affected > 0, nil
}

// CountEntities counts the entities of kind.
func (d Datasource) CountEntities(ctx context.Context, kind model.EntityKind) (int, error) {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Counting entities")
	defer span.End()

	var count int
	err := d.Conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM intake.entities WHERE kind = $1`, kind).Scan(&count)
	if err != nil {
		return 0, wrapError(err, "failed to count entities")
	}
	return count, nil
}

func scanEntity(row scanner) (*model.Entity, error) {
	entity := &model.Entity{}
	var metaDataJSON []byte
	err := row.Scan(
		&entity.ID, &entity.EntityID, &entity.Kind, &entity.NaturalKey, &entity.DisplayName,
		&entity.NeedsReview, &metaDataJSON, &entity.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 && string(metaDataJSON) != "null" {
		if err := json.Unmarshal(metaDataJSON, &entity.MetaData); err != nil {
			return nil, err
		}
	}
	return entity, nil
}
