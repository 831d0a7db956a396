package model

import "strings"

// RawRow is one parsed data row. It cannot be modified once built.
type RawRow struct {
	index  int
	order  []string
	fields map[string]string
	raw    string
}

// NewRawRow builds a row from the file's header and the row's values.
// headers and values must have equal length.
func NewRawRow(index int, headers, values []string, raw string) RawRow {
	order := make([]string, len(headers))
	copy(order, headers)
	fields := make(map[string]string, len(headers))
	for i, h := range headers {
		fields[foldHeader(h)] = values[i]
	}
	return RawRow{index: index, order: order, fields: fields, raw: raw}
}

// Index returns the 1-based data row number (the header is row 0).
func (r RawRow) Index() int { return r.index }

// Raw returns the row's original text.
func (r RawRow) Raw() string { return r.raw }

// Headers returns the header names in file order.
func (r RawRow) Headers() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Get looks a field up by header name, ignoring case and surrounding space.
func (r RawRow) Get(header string) (string, bool) {
	v, ok := r.fields[foldHeader(header)]
	return v, ok
}

// Fields returns a copy of the row keyed by the file's header spelling.
func (r RawRow) Fields() map[string]string {
	out := make(map[string]string, len(r.order))
	for _, h := range r.order {
		out[h] = r.fields[foldHeader(h)]
	}
	return out
}

func foldHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// FieldState is the single disposition every repaired field ends up in.
type FieldState string

const (
	FieldUnchanged FieldState = "unchanged"
	FieldRepaired  FieldState = "repaired"
	FieldErrored   FieldState = "errored"
)

// RepairOutcome is the result of repairing one field value.
type RepairOutcome struct {
	Value       string `json:"value"`
	WasRepaired bool   `json:"was_repaired"`
	Note        string `json:"note,omitempty"`
	Error       string `json:"error,omitempty"`
}

// State classifies the outcome. An errored outcome is never also repaired.
func (o RepairOutcome) State() FieldState {
	switch {
	case o.Error != "":
		return FieldErrored
	case o.WasRepaired:
		return FieldRepaired
	default:
		return FieldUnchanged
	}
}
