package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var entityRowColumns = []string{"id", "entity_id", "kind", "natural_key", "display_name", "needs_review", "meta_data", "created_at"}

func TestGetEntityByKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	name := gofakeit.Name()
	key := model.NaturalKey(model.EntityCustomer, name)

	mock.ExpectQuery("SELECT (.+) FROM intake.entities").
		WithArgs(model.EntityCustomer, key).
		WillReturnRows(sqlmock.NewRows(entityRowColumns).
			AddRow(1, "cus_1", "customer", key, name, false, []byte(`{"phone":"555"}`), time.Now()))

	entity, err := ds.GetEntityByKey(context.Background(), model.EntityCustomer, key)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", entity.EntityID)
	assert.Equal(t, name, entity.DisplayName)
	assert.Equal(t, "555", entity.MetaData["phone"])
}

func TestGetEntityByKey_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT (.+) FROM intake.entities").
		WithArgs(model.EntityVehicle, "ABC123").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetEntityByKey(context.Background(), model.EntityVehicle, "ABC123")
	require.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, err.(apierror.APIError).Code)
}

func TestGetEntityCandidates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM intake.entities WHERE kind = \\$1 AND char_length").
		WithArgs(model.EntityCustomer, 4, 10, 8, 200, 400).
		WillReturnRows(sqlmock.NewRows(entityRowColumns).
			AddRow(1, "cus_1", "customer", "john doe", "John Doe", false, nil, now).
			AddRow(2, "cus_2", "customer", "jane roe", "Jane Roe", true, []byte("null"), now))

	q := model.CandidateQuery{Kind: model.EntityCustomer, TargetLen: 8, MinLen: 4, MaxLen: 10, Limit: 200, Offset: 400}
	entities, err := ds.GetEntityCandidates(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.True(t, entities[1].NeedsReview)
	assert.Nil(t, entities[1].MetaData)
}

func TestInsertEntity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	entity := &model.Entity{
		EntityID:    "veh_1",
		Kind:        model.EntityVehicle,
		NaturalKey:  "ABC123",
		DisplayName: "abc-123",
		NeedsReview: true,
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec("INSERT INTO intake.entities (.+) ON CONFLICT \\(kind, natural_key\\) DO NOTHING").
		WithArgs(entity.EntityID, entity.Kind, entity.NaturalKey, entity.DisplayName, true, []byte("null"), entity.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO intake.entities").
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := ds.InsertEntity(context.Background(), entity)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = ds.InsertEntity(context.Background(), entity)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCountEntities(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM intake.entities").
		WithArgs(model.EntityAgreement).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := ds.CountEntities(context.Background(), model.EntityAgreement)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}
