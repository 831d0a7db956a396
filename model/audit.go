package model

import "time"

// AuditAction names a state-changing action recorded in the audit log.
type AuditAction string

const (
	ActionFieldRepaired      AuditAction = "field.repaired"
	ActionEntityCreated      AuditAction = "entity.created"
	ActionItemAssigned       AuditAction = "item.assigned"
	ActionItemFailed         AuditAction = "item.failed"
	ActionItemSkipped        AuditAction = "item.skipped"
	ActionBatchStatusChanged AuditAction = "batch.status_changed"
	ActionItemCompleted      AuditAction = "item.completed"
)

const (
	AuditEntityImportBatch = "import_batch"
	AuditEntityImportItem  = "import_item"
	DefaultAuditActor      = "system:intake"
)

// AuditLogEntry is an append-only record of one action.
type AuditLogEntry struct {
	ID         int64                  `json:"-"`
	AuditID    string                 `json:"audit_id"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     AuditAction            `json:"action"`
	Before     map[string]interface{} `json:"before,omitempty"`
	After      map[string]interface{} `json:"after,omitempty"`
	Actor      string                 `json:"actor"`
	BatchID    string                 `json:"batch_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}
