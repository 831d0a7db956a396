package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var batchRowColumns = []string{
	"id", "batch_id", "source_file", "file_name", "kind", "status", "total_rows",
	"records_processed", "failed_count", "errors", "repairs", "created_at", "updated_at", "completed_at",
}

func testBatch() *model.ImportBatch {
	now := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	return &model.ImportBatch{
		BatchID:    "imp_123",
		SourceFile: "imports/imp_123/payments.csv",
		FileName:   "payments.csv",
		Kind:       model.KindPayments,
		Status:     model.StatusPending,
		TotalRows:  2,
		Errors:     []model.ImportError{{Row: 2, Category: model.ErrorCategoryUnrepairable, Field: "Amount", Reason: "not a number"}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateImportBatch_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	batch := testBatch()
	item := &model.ImportItem{
		ItemID:    "itm_1",
		BatchID:   batch.BatchID,
		RowIndex:  1,
		Kind:      model.KindPayments,
		Payload:   map[string]string{"Amount": "100.00"},
		Status:    model.ItemPending,
		CreatedAt: batch.CreatedAt,
	}

	errorsJSON, _ := json.Marshal(batch.Errors)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO intake.import_batches").
		WithArgs(batch.BatchID, batch.SourceFile, batch.FileName, batch.Kind, batch.Status, batch.TotalRows,
			0, 0, errorsJSON, []byte("[]"), batch.CreatedAt, batch.UpdatedAt, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare("INSERT INTO intake.import_items")
	prep.ExpectExec().
		WithArgs(item.ItemID, item.BatchID, item.RowIndex, item.Kind, []byte(`{"Amount":"100.00"}`), item.Status, 0, item.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = ds.CreateImportBatch(context.Background(), batch, []*model.ImportItem{item})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateImportBatch_ItemFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	batch := testBatch()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO intake.import_batches").WillReturnResult(sqlmock.NewResult(1, 1))
	prep := mock.ExpectPrepare("INSERT INTO intake.import_items")
	prep.ExpectExec().WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	err = ds.CreateImportBatch(context.Background(), batch, []*model.ImportItem{{ItemID: "itm_1", BatchID: batch.BatchID}})
	require.Error(t, err)
	assert.Equal(t, apierror.ErrConflict, err.(apierror.APIError).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetImportBatch_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()

	rows := sqlmock.NewRows(batchRowColumns).
		AddRow(1, "imp_123", "imports/imp_123/payments.csv", "payments.csv", "payments", "completed", 3,
			3, 1, []byte(`[{"item_id":"itm_2","category":"item","reason":"boom"}]`),
			[]byte(`[{"row":1,"field":"Amount","original":"$100","value":"100.00","note":"stripped currency"}]`),
			now, now, now)
	mock.ExpectQuery("SELECT (.+) FROM intake.import_batches WHERE batch_id = \\$1").
		WithArgs("imp_123").
		WillReturnRows(rows)

	batch, err := ds.GetImportBatch(context.Background(), "imp_123")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, batch.Status)
	assert.Equal(t, 3, batch.RecordsProcessed)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, "itm_2", batch.Errors[0].ItemID)
	require.Len(t, batch.Repairs, 1)
	assert.Equal(t, "100.00", batch.Repairs[0].Value)
	require.NotNil(t, batch.CompletedAt)
}

func TestGetImportBatch_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectQuery("SELECT (.+) FROM intake.import_batches").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetImportBatch(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apierror.ErrNotFound, err.(apierror.APIError).Code)
}

func TestUpdateImportBatchStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("UPDATE intake.import_batches").
		WithArgs("imp_123", model.StatusPending, model.StatusProcessing, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.UpdateImportBatchStatus(context.Background(), "imp_123", model.StatusPending, model.StatusProcessing)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateImportBatchStatus_StaleStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("UPDATE intake.import_batches").
		WithArgs("imp_123", model.StatusPending, model.StatusProcessing, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("imp_123").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err = ds.UpdateImportBatchStatus(context.Background(), "imp_123", model.StatusPending, model.StatusProcessing)
	require.Error(t, err)
	assert.Equal(t, apierror.ErrConflict, err.(apierror.APIError).Code)
}

func TestUpdateImportBatchStatus_Missing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("UPDATE intake.import_batches").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err = ds.UpdateImportBatchStatus(context.Background(), "imp_404", model.StatusPending, model.StatusProcessing)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrNotFound))
}

func TestFinalizeImportBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	batch := testBatch()
	completed := time.Now().UTC()
	batch.Status = model.StatusCompleted
	batch.RecordsProcessed = 2
	batch.FailedCount = 1
	batch.CompletedAt = &completed
	errorsJSON, _ := json.Marshal(batch.Errors)

	mock.ExpectExec("UPDATE intake.import_batches").
		WithArgs(batch.BatchID, model.StatusProcessing, model.StatusCompleted, 2, 1, errorsJSON, batch.UpdatedAt, batch.CompletedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = ds.FinalizeImportBatch(context.Background(), batch, model.StatusProcessing)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateImportBatchStatus_ConnectionError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	mock.ExpectExec("UPDATE intake.import_batches").
		WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})

	err = ds.UpdateImportBatchStatus(context.Background(), "imp_123", model.StatusPending, model.StatusProcessing)
	require.Error(t, err)
	assert.True(t, apierror.HasCode(err, apierror.ErrUnavailable))

	var pqErr *pq.Error
	assert.True(t, errors.As(err, &pqErr))
}

func TestGetImportBatches(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()
	rows := sqlmock.NewRows(batchRowColumns).
		AddRow(2, "imp_2", "imports/imp_2/f.csv", "f.csv", "traffic_fines", "pending", 1, 0, 0, nil, nil, now, now, nil).
		AddRow(1, "imp_1", "imports/imp_1/f.csv", "f.csv", "traffic_fines", "completed", 1, 1, 0, []byte("[]"), []byte("[]"), now, now, now)
	mock.ExpectQuery("SELECT (.+) FROM intake.import_batches").
		WithArgs(model.KindTrafficFines, 20, 0).
		WillReturnRows(rows)

	batches, err := ds.GetImportBatches(context.Background(), model.KindTrafficFines, 20, 0)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "imp_2", batches[0].BatchID)
	assert.Empty(t, batches[0].Errors)
	assert.NotNil(t, batches[0].Errors)
	assert.Nil(t, batches[0].CompletedAt)
}
