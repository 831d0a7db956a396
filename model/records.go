package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is the closed set of canonical payment methods.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "Cash"
	MethodWireTransfer PaymentMethod = "WireTransfer"
	MethodInvoice      PaymentMethod = "Invoice"
	MethodOnHold       PaymentMethod = "On_hold"
	MethodDeposit      PaymentMethod = "Deposit"
	MethodCheque       PaymentMethod = "Cheque"
)

// PaymentMethods lists the canonical methods.
var PaymentMethods = []PaymentMethod{MethodCash, MethodWireTransfer, MethodInvoice, MethodOnHold, MethodDeposit, MethodCheque}

// PaymentStatus is the closed set of canonical payment states.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is a committed payment row. VehicleDescription is the free-text
// Vehicle column, kept as written and never resolved to an entity.
type Payment struct {
	ID                 int64           `json:"-"`
	PaymentID          string          `json:"payment_id"`
	NaturalKey         string          `json:"natural_key"`
	BatchID            string          `json:"batch_id"`
	PaymentNumber      string          `json:"payment_number"`
	AgreementID        string          `json:"agreement_id"`
	CustomerID         string          `json:"customer_id"`
	VehicleID          string          `json:"vehicle_id"`
	VehicleDescription string          `json:"vehicle_description"`
	Amount             decimal.Decimal `json:"amount"`
	PaymentDate        time.Time       `json:"payment_date"`
	Method             PaymentMethod   `json:"payment_method"`
	Status             PaymentStatus   `json:"status"`
	Type               string          `json:"type"`
	Description        string          `json:"description"`
	CreatedAt          time.Time       `json:"created_at"`
}

// PaymentKey is the idempotency key of a payment: the agreement it belongs
// to plus the provider's payment number. Rows without a payment number fall
// back to a hash of their content.
func PaymentKey(agreementNumber, paymentNumber string, amount decimal.Decimal, date time.Time) string {
	agreement := NaturalKey(EntityAgreement, agreementNumber)
	number := strings.ToUpper(strings.TrimSpace(paymentNumber))
	if number != "" {
		return agreement + ":" + number
	}
	return hashParts(agreement, amount.StringFixed(2), date.Format("2006-01-02"))
}

// TrafficFine is a committed traffic-fine citation.
type TrafficFine struct {
	ID              int64           `json:"-"`
	FineID          string          `json:"fine_id"`
	NaturalKey      string          `json:"natural_key"`
	BatchID         string          `json:"batch_id"`
	Serial          string          `json:"serial"`
	ViolationNumber string          `json:"violation_number"`
	ViolationDate   time.Time       `json:"violation_date"`
	PlateNumber     string          `json:"plate_number"`
	VehicleID       string          `json:"vehicle_id"`
	Location        string          `json:"location"`
	Charge          string          `json:"charge"`
	FineAmount      decimal.Decimal `json:"fine_amount"`
	Points          int             `json:"points"`
	CreatedAt       time.Time       `json:"created_at"`
}

// FineKey is the idempotency key of a fine: its violation number, or a
// content hash when the provider left it blank.
func FineKey(violationNumber, plate string, date time.Time, amount decimal.Decimal) string {
	number := strings.ToUpper(strings.Join(strings.Fields(violationNumber), ""))
	if number != "" {
		return number
	}
	return hashParts(NaturalKey(EntityVehicle, plate), date.Format("2006-01-02"), amount.StringFixed(2))
}

// BalanceRecord is one committed row of a balance-reconciliation export.
type BalanceRecord struct {
	ID                int64           `json:"-"`
	RecordID          string          `json:"record_id"`
	NaturalKey        string          `json:"natural_key"`
	BatchID           string          `json:"batch_id"`
	AgreementNumber   string          `json:"agreement_number"`
	AgreementID       string          `json:"agreement_id"`
	VehicleID         string          `json:"vehicle_id"`
	LicensePlate      string          `json:"license_plate"`
	RentAmount        decimal.Decimal `json:"rent_amount"`
	FinalPrice        decimal.Decimal `json:"final_price"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	RemainingAmount   decimal.Decimal `json:"remaining_amount"`
	AgreementDuration string          `json:"agreement_duration"`
	CreatedAt         time.Time       `json:"created_at"`
}

// HashRecord generates the idempotency key of a balance row from its
// business content, so an identical export re-imported is skipped while a
// changed snapshot for the same agreement is kept.
func (b *BalanceRecord) HashRecord() string {
	return hashParts(
		NaturalKey(EntityAgreement, b.AgreementNumber),
		NaturalKey(EntityVehicle, b.LicensePlate),
		b.RentAmount.StringFixed(2),
		b.FinalPrice.StringFixed(2),
		b.AmountPaid.StringFixed(2),
		b.RemainingAmount.StringFixed(2),
		strings.TrimSpace(b.AgreementDuration),
	)
}
