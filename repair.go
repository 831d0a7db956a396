package intake

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/blnkfinance/intake/model"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// CanonicalDateLayout is the single output format of date repair.
const CanonicalDateLayout = "2006-01-02"

type dateShape struct {
	pattern *regexp.Regexp
	name    string
	// positions of day, month and year in the submatches
	day, month, year int
}

var dateShapes = []dateShape{
	{regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`), "YYYY-MM-DD", 3, 2, 1},
	{regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`), "DD-MM-YYYY", 1, 2, 3},
	{regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`), "DD/MM/YYYY", 1, 2, 3},
}

// RepairDate canonicalises DD-MM-YYYY, YYYY-MM-DD and DD/MM/YYYY (day and
// month may be single digits) to YYYY-MM-DD. Other shapes and impossible
// calendar dates are errors.
func RepairDate(value string) model.RepairOutcome {
	trimmed := strings.TrimSpace(value)
	for _, shape := range dateShapes {
		m := shape.pattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		day, _ := strconv.Atoi(m[shape.day])
		month, _ := strconv.Atoi(m[shape.month])
		year, _ := strconv.Atoi(m[shape.year])

		t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if t.Day() != day || int(t.Month()) != month || t.Year() != year {
			return errored(value, fmt.Sprintf("%q is not a valid calendar date", trimmed))
		}

		canonical := t.Format(CanonicalDateLayout)
		if canonical == value {
			return unchanged(value)
		}
		return repaired(canonical, fmt.Sprintf("date %q reformatted from %s", value, shape.name))
	}
	return errored(value, fmt.Sprintf("unrecognised date %q", trimmed))
}

var (
	canonicalAmount = regexp.MustCompile(`^-?\d+\.\d{2}$`)
	currencyAffix   = regexp.MustCompile(`^[A-Za-z]{3}\s*|\s*[A-Za-z]{3}$`)
)

// stripCurrencyCode removes a leading or trailing ISO 4217 code such as
// "QAR 300" or "300 usd". Other letters are kept, so the number parse
// rejects them.
func stripCurrencyCode(s string) string {
	return currencyAffix.ReplaceAllStringFunc(s, func(m string) string {
		if _, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(m))); err != nil {
			return m
		}
		return ""
	})
}

// decimalComma reports a comma used as the decimal mark: one after the last
// dot, or with no dot, one not followed by exactly three digits.
func decimalComma(s string) bool {
	comma := strings.LastIndex(s, ",")
	if comma < 0 {
		return false
	}
	if dot := strings.LastIndex(s, "."); dot >= 0 {
		return comma > dot
	}
	return len(s)-comma-1 != 3
}

// RepairAmount strips currency symbols and ISO codes, thousands separators
// and whitespace, keeps the sign and decimal point, and renders the result
// with two decimals. "(12.00)" is read as a negative amount. A decimal
// comma is an error rather than a guess.
func RepairAmount(value string) model.RepairOutcome {
	if canonicalAmount.MatchString(value) {
		return unchanged(value)
	}

	s := strings.TrimSpace(value)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = stripCurrencyCode(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsSpace(r), unicode.Is(unicode.Sc, r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return errored(value, "amount is empty")
	}
	if decimalComma(cleaned) {
		return errored(value, fmt.Sprintf("%q uses a decimal comma; write decimals with a dot", strings.TrimSpace(value)))
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")

	amount, err := decimal.NewFromString(cleaned)
	if err != nil || strings.ContainsAny(cleaned, "eE") {
		return errored(value, fmt.Sprintf("%q is not a number", strings.TrimSpace(value)))
	}
	if negative {
		amount = amount.Neg()
	}

	canonical := amount.StringFixed(2)
	note := fmt.Sprintf("amount %q normalised to %s", value, canonical)
	if !amount.Equal(amount.Round(2)) {
		note = fmt.Sprintf("amount %q rounded to %s", value, canonical)
	}
	return repaired(canonical, note)
}

var separators = regexp.MustCompile(`[\s\-./]+`)

var paymentMethodSynonyms = map[string]model.PaymentMethod{
	"cash": model.MethodCash,

	"wire":          model.MethodWireTransfer,
	"transfer":      model.MethodWireTransfer,
	"wire_transfer": model.MethodWireTransfer,
	"wiretransfer":  model.MethodWireTransfer,
	"bank":          model.MethodWireTransfer,
	"bank_transfer": model.MethodWireTransfer,
	"card":          model.MethodWireTransfer,
	"cc":            model.MethodWireTransfer,
	"credit_card":   model.MethodWireTransfer,
	"debit_card":    model.MethodWireTransfer,

	"check":  model.MethodCheque,
	"cheque": model.MethodCheque,

	"invoice": model.MethodInvoice,
	"bill":    model.MethodInvoice,

	"hold":    model.MethodOnHold,
	"on_hold": model.MethodOnHold,
	"onhold":  model.MethodOnHold,

	"deposit":          model.MethodDeposit,
	"security_deposit": model.MethodDeposit,
}

// RepairPaymentMethod maps a provider's payment method onto the canonical
// set. Unknown or blank values become Cash and are marked repaired.
func RepairPaymentMethod(value string) model.RepairOutcome {
	for _, m := range model.PaymentMethods {
		if value == string(m) {
			return unchanged(value)
		}
	}

	normalised := strings.Trim(separators.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "_"), "_")
	if method, ok := paymentMethodSynonyms[normalised]; ok {
		return repaired(string(method), fmt.Sprintf("payment method %q mapped to %s", value, method))
	}
	return repaired(string(model.MethodCash), fmt.Sprintf("unknown payment method %q defaulted to %s", value, model.MethodCash))
}

var statusSynonyms = map[string]model.PaymentStatus{
	"completed": model.PaymentCompleted,
	"complete":  model.PaymentCompleted,
	"success":   model.PaymentCompleted,
	"done":      model.PaymentCompleted,
	"paid":      model.PaymentCompleted,

	"failed":    model.PaymentFailed,
	"fail":      model.PaymentFailed,
	"error":     model.PaymentFailed,
	"cancelled": model.PaymentFailed,
	"canceled":  model.PaymentFailed,

	"pending":    model.PaymentPending,
	"processing": model.PaymentPending,
	"waiting":    model.PaymentPending,
}

// RepairStatus maps a status onto pending, completed or failed. Unknown or
// blank values become pending and are marked repaired.
func RepairStatus(value string) model.RepairOutcome {
	switch model.PaymentStatus(value) {
	case model.PaymentPending, model.PaymentCompleted, model.PaymentFailed:
		return unchanged(value)
	}

	normalised := strings.Trim(separators.ReplaceAllString(strings.ToLower(strings.TrimSpace(value)), "_"), "_")
	if status, ok := statusSynonyms[normalised]; ok {
		return repaired(string(status), fmt.Sprintf("status %q mapped to %s", value, status))
	}
	return repaired(string(model.PaymentPending), fmt.Sprintf("unknown status %q defaulted to %s", value, model.PaymentPending))
}

// RepairText trims the value and collapses inner runs of whitespace.
func RepairText(value string) model.RepairOutcome {
	cleaned := strings.Join(strings.Fields(value), " ")
	if cleaned == value {
		return unchanged(value)
	}
	return repaired(cleaned, "whitespace trimmed")
}

// RepairInteger parses a whole number. Blank values become 0 and integral
// decimals such as "3.0" are accepted.
func RepairInteger(value string) model.RepairOutcome {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return repaired("0", "blank value defaulted to 0")
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		if trimmed == value && strconv.Itoa(n) == value {
			return unchanged(value)
		}
		return repaired(strconv.Itoa(n), fmt.Sprintf("integer %q normalised", value))
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil || !d.Equal(d.Truncate(0)) {
		return errored(value, fmt.Sprintf("%q is not a whole number", trimmed))
	}
	return repaired(d.Truncate(0).String(), fmt.Sprintf("integer %q normalised", value))
}

// RepairField applies the repair for t.
func RepairField(t FieldType, value string) model.RepairOutcome {
	switch t {
	case FieldDate:
		return RepairDate(value)
	case FieldAmount:
		return RepairAmount(value)
	case FieldPaymentMethod:
		return RepairPaymentMethod(value)
	case FieldStatus:
		return RepairStatus(value)
	case FieldInteger:
		return RepairInteger(value)
	default:
		return RepairText(value)
	}
}

// RepairedRow is a data row after every schema column has been repaired.
type RepairedRow struct {
	Row      int
	Raw      string
	Values   map[string]string
	Outcomes map[string]model.RepairOutcome
	Notes    []model.RepairNote
	Errors   []FieldError
}

// Valid reports whether the row can be committed.
func (r RepairedRow) Valid() bool {
	return len(r.Errors) == 0
}

// RepairRow repairs every schema column present in row. Values are keyed
// by the schema's column names; columns absent from the file are left out.
func RepairRow(row model.RawRow, schema Schema) RepairedRow {
	out := RepairedRow{
		Row:      row.Index(),
		Raw:      row.Raw(),
		Values:   make(map[string]string, len(schema.Columns)),
		Outcomes: make(map[string]model.RepairOutcome, len(schema.Columns)),
	}

	for _, col := range schema.Columns {
		value, ok := row.Get(col.Name)
		if !ok {
			continue
		}

		var outcome model.RepairOutcome
		if col.NotEmpty && strings.TrimSpace(value) == "" {
			outcome = errored(value, "required value is empty")
		} else {
			outcome = RepairField(col.Type, value)
		}
		out.Outcomes[col.Name] = outcome

		switch outcome.State() {
		case model.FieldErrored:
			out.Errors = append(out.Errors, FieldError{Row: out.Row, Field: col.Name, Value: value, Reason: outcome.Error})
		case model.FieldRepaired:
			out.Values[col.Name] = outcome.Value
			out.Notes = append(out.Notes, model.RepairNote{
				Row:      out.Row,
				Field:    col.Name,
				Original: value,
				Value:    outcome.Value,
				Note:     outcome.Note,
			})
		default:
			out.Values[col.Name] = outcome.Value
		}
	}
	return out
}

func unchanged(value string) model.RepairOutcome {
	return model.RepairOutcome{Value: value}
}

func repaired(value, note string) model.RepairOutcome {
	return model.RepairOutcome{Value: value, WasRepaired: true, Note: note}
}

func errored(value, reason string) model.RepairOutcome {
	return model.RepairOutcome{Value: value, Error: reason}
}
