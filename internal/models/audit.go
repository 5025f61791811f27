package models

import "time"

// Audit action constants
const (
	AuditActionEntryCreated      = "ENTRY_CREATED"
	AuditActionEntryUpdated      = "ENTRY_UPDATED"
	AuditActionEntryDeactivated  = "ENTRY_DEACTIVATED"
	AuditActionUploadRollback    = "CERTIFICATE_UPLOAD_ROLLBACK"
	AuditActionRollbackFailed    = "CERTIFICATE_ROLLBACK_FAILED"
	AuditActionDispatchCompleted = "AUTOSEND_DISPATCH_COMPLETED"
	AuditActionAutoSendToggled   = "AUTOSEND_TOGGLED"
)

// AuditRecord is one append-only audit log row. The pipeline only ever
// writes these; control decisions never read them back.
type AuditRecord struct {
	ID         int64     `json:"id"`
	Action     string    `json:"action"`
	ObjectType string    `json:"object_type"`
	ObjectID   int64     `json:"object_id"`
	ActorID    int64     `json:"actor_id"`
	Summary    string    `json:"summary"` // JSON blob
	CreatedAt  time.Time `json:"created_at"`
}

// LookupItem is the uniform shape shared by all lookup tables
// (products, countries, locations, characteristics)
type LookupItem struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Code        string    `json:"code,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}
