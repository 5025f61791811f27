package models

import "time"

// Item status constants
const (
	ItemStatusPending = "PENDING"
	ItemStatusSent    = "SENT"
	ItemStatusFailed  = "FAILED"
)

// AutoSendBatch is one planning decision covering a date range.
// Immutable after creation; dispatch state lives on its items.
type AutoSendBatch struct {
	ID              int64     `json:"id"`
	DateFrom        time.Time `json:"date_from"`
	DateTo          time.Time `json:"date_to"`
	TotalEntries    int       `json:"total_entries"`
	BatchSize       int       `json:"batch_size"`
	TotalBatches    int       `json:"total_batches"`
	RecipientsCount int       `json:"recipients_count"`
	CreatedBy       int64     `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`

	Items []*AutoSendBatchItem `json:"items,omitempty"`
}

// AutoSendBatchItem is one chunk of entries within a batch, the unit
// of email delivery and retry. RecipientEmails is a snapshot taken at
// plan time; later recipient changes never alter a planned item.
type AutoSendBatchItem struct {
	ID                  int64      `json:"id"`
	BatchID             int64      `json:"batch_id"`
	Sequence            int        `json:"sequence"`
	EntryIDs            []int64    `json:"entry_ids"`
	RecipientEmails     []string   `json:"recipient_emails"`
	EntriesCount        int        `json:"entries_count"`
	IncludeCertificates bool       `json:"include_certificates"`
	Status              string     `json:"status"`
	SentAt              *time.Time `json:"sent_at,omitempty"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`

	// RegistrationNumbers is resolved for history display only
	RegistrationNumbers []int64 `json:"registration_numbers,omitempty"`
}

// Recipient is a configured delivery address for compliance digests
type Recipient struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
