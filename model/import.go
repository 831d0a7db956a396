package model

import "time"

// ImportKind identifies which column grammar a file follows.
type ImportKind string

const (
	KindPayments     ImportKind = "payments"
	KindTrafficFines ImportKind = "traffic_fines"
	KindBalances     ImportKind = "balances"
	KindCustomers    ImportKind = "customers"
)

// ImportKinds lists every supported import kind.
var ImportKinds = []ImportKind{KindPayments, KindTrafficFines, KindBalances, KindCustomers}

// Valid reports whether k is a supported import kind.
func (k ImportKind) Valid() bool {
	for _, kind := range ImportKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ImportStatus is the lifecycle state of an ImportBatch.
type ImportStatus string

const (
	StatusPending    ImportStatus = "pending"
	StatusProcessing ImportStatus = "processing"
	StatusCompleted  ImportStatus = "completed"
	StatusError      ImportStatus = "error"
)

// CanTransitionTo reports whether a batch in status s may move to next.
// The only legal moves are pending -> processing -> {completed | error}.
func (s ImportStatus) CanTransitionTo(next ImportStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusError
	default:
		return false
	}
}

// Terminal reports whether no further transitions are possible.
func (s ImportStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Error categories recorded on a batch.
const (
	ErrorCategorySchema       = "schema"
	ErrorCategoryStructural   = "structural"
	ErrorCategoryUnrepairable = "unrepairable"
	ErrorCategoryItem         = "item"
	ErrorCategoryFatal        = "fatal"
)

// ImportError is one entry of a batch's error summary.
type ImportError struct {
	Row      int    `json:"row,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Field    string `json:"field,omitempty"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

// RepairNote records a field value that was cleaned during ingestion.
type RepairNote struct {
	Row      int    `json:"row"`
	Field    string `json:"field"`
	Original string `json:"original"`
	Value    string `json:"value"`
	Note     string `json:"note"`
}

// ImportBatch tracks one import run over one uploaded file.
type ImportBatch struct {
	ID               int64         `json:"-"`
	BatchID          string        `json:"batch_id"`
	SourceFile       string        `json:"source_file"`
	FileName         string        `json:"file_name"`
	Kind             ImportKind    `json:"kind"`
	Status           ImportStatus  `json:"status"`
	TotalRows        int           `json:"total_rows"`
	RecordsProcessed int           `json:"records_processed"`
	FailedCount      int           `json:"failed_count"`
	Errors           []ImportError `json:"errors"`
	Repairs          []RepairNote  `json:"repairs"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// ItemStatus is the processing state of a single ImportItem.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemAssigned  ItemStatus = "assigned"
	ItemFailed    ItemStatus = "failed"
	ItemCompleted ItemStatus = "completed"
)

// ImportItem is one row's worth of work inside a batch. Payload holds the
// repaired field values keyed by the schema's column names.
type ImportItem struct {
	ID                 int64             `json:"-"`
	ItemID             string            `json:"item_id"`
	BatchID            string            `json:"batch_id"`
	RowIndex           int               `json:"row_index"`
	Kind               ImportKind        `json:"kind"`
	Payload            map[string]string `json:"payload"`
	Status             ItemStatus        `json:"status"`
	ProcessingAttempts int               `json:"processing_attempts"`
	LastProcessedAt    *time.Time        `json:"last_processed_at,omitempty"`
	ErrorDetails       string            `json:"error_details,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// BatchStatus is the read model exposed to pollers.
type BatchStatus struct {
	BatchID          string        `json:"batch_id"`
	Kind             ImportKind    `json:"kind"`
	Status           ImportStatus  `json:"status"`
	TotalRows        int           `json:"total_rows"`
	RecordsProcessed int           `json:"records_processed"`
	FailedCount      int           `json:"failed_count"`
	Errors           []ImportError `json:"errors"`
	Repairs          []RepairNote  `json:"repairs"`
	UpdatedAt        time.Time     `json:"updated_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Summary builds the poller view of the batch.
func (b *ImportBatch) Summary() BatchStatus {
	return BatchStatus{
		BatchID:          b.BatchID,
		Kind:             b.Kind,
		Status:           b.Status,
		TotalRows:        b.TotalRows,
		RecordsProcessed: b.RecordsProcessed,
		FailedCount:      b.FailedCount,
		Errors:           b.Errors,
		Repairs:          b.Repairs,
		UpdatedAt:        b.UpdatedAt,
		CompletedAt:      b.CompletedAt,
	}
}
