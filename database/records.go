package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/blnkfinance/intake/internal/apierror"
	"github.com/blnkfinance/intake/model"
	"go.opentelemetry.io/otel"
)

var recordTables = map[model.ImportKind]string{
	model.KindPayments:     "intake.payments",
	model.KindTrafficFines: "intake.traffic_fines",
	model.KindBalances:     "intake.balance_records",
	model.KindCustomers:    "intake.entities",
}

// InsertPayment commits a payment keyed on its natural key.
func (d Datasource) InsertPayment(ctx context.Context, payment *model.Payment) error {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Saving payment to db")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO intake.payments (
			payment_id, natural_key, batch_id, payment_number, agreement_id, customer_id, vehicle_id,
			vehicle_description, amount, payment_date, payment_method, status, type, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (natural_key) DO NOTHING`,
		payment.PaymentID, payment.NaturalKey, payment.BatchID, payment.PaymentNumber, payment.AgreementID,
		nullIfEmpty(payment.CustomerID), nullIfEmpty(payment.VehicleID), nullIfEmpty(payment.VehicleDescription),
		payment.Amount, payment.PaymentDate, payment.Method, payment.Status, payment.Type, payment.Description, payment.CreatedAt,
	)
	return checkRecordInsert(result, err, "payment", payment.NaturalKey)
}

// InsertTrafficFine commits a fine keyed on its natural key.
func (d Datasource) InsertTrafficFine(ctx context.Context, fine *model.TrafficFine) error {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Saving traffic fine to db")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO intake.traffic_fines (
			fine_id, natural_key, batch_id, serial, violation_number, violation_date, plate_number,
			vehicle_id, location, charge, fine_amount, points, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (natural_key) DO NOTHING`,
		fine.FineID, fine.NaturalKey, fine.BatchID, fine.Serial, fine.ViolationNumber, fine.ViolationDate,
		fine.PlateNumber, fine.VehicleID, fine.Location, fine.Charge, fine.FineAmount, fine.Points, fine.CreatedAt,
	)
	return checkRecordInsert(result, err, "traffic fine", fine.NaturalKey)
}

// InsertBalanceRecord commits a balance row keyed on its content hash.
func (d Datasource) InsertBalanceRecord(ctx context.Context, record *model.BalanceRecord) error {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Saving balance record to db")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO intake.balance_records (
			record_id, natural_key, batch_id, agreement_number, agreement_id, vehicle_id, license_plate,
			rent_amount, final_price, amount_paid, remaining_amount, agreement_duration, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (natural_key) DO NOTHING`,
		record.RecordID, record.NaturalKey, record.BatchID, record.AgreementNumber, record.AgreementID,
		nullIfEmpty(record.VehicleID), record.LicensePlate, record.RentAmount, record.FinalPrice, record.AmountPaid,
		record.RemainingAmount, record.AgreementDuration, record.CreatedAt,
	)
	return checkRecordInsert(result, err, "balance record", record.NaturalKey)
}

// CountRecords counts the committed records of an import kind. Customer
// imports commit customer entities, so they are counted from the entities table.
func (d Datasource) CountRecords(ctx context.Context, kind model.ImportKind) (int, error) {
	ctx, span := otel.Tracer("Intake").Start(ctx, "Counting records")
	defer span.End()

	table, ok := recordTables[kind]
	if !ok {
		return 0, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown import kind %q", kind), nil)
	}

	query := `SELECT COUNT(*) FROM ` + table
	var args []interface{}
	if kind == model.KindCustomers {
		query += ` WHERE kind = $1`
		args = append(args, model.EntityCustomer)
	}

	var count int
	if err := d.Conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, wrapError(err, "failed to count records")
	}
	return count, nil
}

// nullIfEmpty stores an unresolved optional reference as NULL.
func nullIfEmpty(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

func checkRecordInsert(result sql.Result, err error, what, naturalKey string) error {
	if err != nil {
		return wrapError(err, "failed to save "+what)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapError(err, "failed to read affected rows")
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, what+" '"+naturalKey+"' already exists", nil)
	}
	return nil
}
