package intake

import (
	"fmt"
	"strings"

	"github.com/blnkfinance/intake/model"
)

// FieldType selects the repair applied to a column.
type FieldType string

const (
	FieldText          FieldType = "text"
	FieldDate          FieldType = "date"
	FieldAmount        FieldType = "amount"
	FieldPaymentMethod FieldType = "payment_method"
	FieldStatus        FieldType = "status"
	FieldInteger       FieldType = "integer"
)

// Column names of the supported file grammars.
const (
	ColAgreementNumber    = "Agreement Number"
	ColCustomerName       = "Customer Name"
	ColAmount             = "Amount"
	ColLicensePlate       = "License Plate"
	ColVehicle            = "Vehicle"
	ColPaymentDate        = "Payment Date"
	ColPaymentMethod      = "Payment Method"
	ColPaymentNumber      = "Payment Number"
	ColPaymentDescription = "Payment Description"
	ColType               = "Type"
	ColStatus             = "Status"

	ColSerial          = "serial"
	ColViolationNumber = "violation number"
	ColViolationDate   = "violation date"
	ColPlateNumber     = "plate number"
	ColLocation        = "location"
	ColCharge          = "charge"
	ColFineAmount      = "fine amount"
	ColPoints          = "points"

	ColRentAmount        = "rent amount"
	ColFinalPrice        = "final price"
	ColAmountPaid        = "amount paid"
	ColRemainingAmount   = "remaining amount"
	ColAgreementDuration = "Agreement Duration"

	ColPhone      = "Phone"
	ColEmail      = "Email"
	ColNationalID = "National ID"
)

// Column describes one column of a file grammar. Required columns must be
// present in the header; NotEmpty columns must also carry a value in every row.
type Column struct {
	Name     string
	Type     FieldType
	Required bool
	NotEmpty bool
}

// Schema is the strict column grammar of one import kind.
type Schema struct {
	Kind    model.ImportKind
	Columns []Column
}

// RequiredHeaders lists the header names a file must carry, in schema order.
func (s Schema) RequiredHeaders() []string {
	var out []string
	for _, c := range s.Columns {
		if c.Required {
			out = append(out, c.Name)
		}
	}
	return out
}

// Column looks a column up by name, ignoring case and surrounding space.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return Column{}, false
}

var schemas = map[model.ImportKind]Schema{
	model.KindPayments: {
		Kind: model.KindPayments,
		Columns: []Column{
			{Name: ColAgreementNumber, Type: FieldText, Required: true, NotEmpty: true},
			{Name: ColCustomerName, Type: FieldText, Required: true},
			{Name: ColAmount, Type: FieldAmount, Required: true, NotEmpty: true},
			{Name: ColLicensePlate, Type: FieldText, Required: true},
			{Name: ColVehicle, Type: FieldText, Required: true},
			{Name: ColPaymentDate, Type: FieldDate, Required: true, NotEmpty: true},
			{Name: ColPaymentMethod, Type: FieldPaymentMethod, Required: true},
			{Name: ColPaymentNumber, Type: FieldText, Required: true},
			{Name: ColPaymentDescription, Type: FieldText, Required: true},
			{Name: ColType, Type: FieldText},
			{Name: ColStatus, Type: FieldStatus},
		},
	},
	model.KindTrafficFines: {
		Kind: model.KindTrafficFines,
		Columns: []Column{
			{Name: ColSerial, Type: FieldText, Required: true},
			{Name: ColViolationNumber, Type: FieldText, Required: true},
			{Name: ColViolationDate, Type: FieldDate, Required: true, NotEmpty: true},
			{Name: ColPlateNumber, Type: FieldText, Required: true, NotEmpty: true},
			{Name: ColLocation, Type: FieldText, Required: true},
			{Name: ColCharge, Type: FieldText, Required: true},
			{Name: ColFineAmount, Type: FieldAmount, Required: true, NotEmpty: true},
			{Name: ColPoints, Type: FieldInteger, Required: true},
		},
	},
	model.KindBalances: {
		Kind: model.KindBalances,
		Columns: []Column{
			{Name: ColAgreementNumber, Type: FieldText, Required: true, NotEmpty: true},
			{Name: ColLicensePlate, Type: FieldText, Required: true},
			{Name: ColRentAmount, Type: FieldAmount, Required: true, NotEmpty: true},
			{Name: ColFinalPrice, Type: FieldAmount, Required: true, NotEmpty: true},
			{Name: ColAmountPaid, Type: FieldAmount, Required: true, NotEmpty: true},
			{Name: ColRemainingAmount, Type: FieldAmount, Required: true, NotEmpty: true},
			{Name: ColAgreementDuration, Type: FieldText, Required: true},
		},
	},
	model.KindCustomers: {
		Kind: model.KindCustomers,
		Columns: []Column{
			{Name: ColCustomerName, Type: FieldText, Required: true, NotEmpty: true},
			{Name: ColPhone, Type: FieldText},
			{Name: ColEmail, Type: FieldText},
			{Name: ColNationalID, Type: FieldText},
		},
	},
}

// SchemaFor returns the grammar of an import kind.
func SchemaFor(kind model.ImportKind) (Schema, error) {
	schema, ok := schemas[kind]
	if !ok {
		return Schema{}, fmt.Errorf("unsupported import kind %q", kind)
	}
	return schema, nil
}
