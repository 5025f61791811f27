package repository

import (
	"encoding/json"
	"fmt"

	"github.com/mpetkov/fuel-registry/internal/models"
	"github.com/mpetkov/fuel-registry/pkg/database"
	"go.uber.org/zap"
)

// AuditRepository appends audit log records. The log is write-only from
// the pipeline's point of view; nothing reads it back for control flow.
type AuditRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *database.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Append writes one audit record. Summary is marshalled to JSON; a
// marshal failure degrades to an empty summary rather than losing the record.
func (r *AuditRepository) Append(action, objectType string, objectID, actorID int64, summary map[string]interface{}) error {
	summaryJSON := "{}"
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			r.logger.Warn("Failed to marshal audit summary",
				zap.String("action", action),
				zap.Error(err))
		} else {
			summaryJSON = string(data)
		}
	}

	_, err := r.db.Exec(`
		INSERT INTO audit_log (action, object_type, object_id, actor_id, summary)
		VALUES (?, ?, ?, ?, ?)`,
		action, objectType, objectID, actorID, summaryJSON,
	)
	if err != nil {
		r.logger.Error("Failed to append audit record",
			zap.String("action", action),
			zap.Error(err))
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// ListPage returns a page of audit records, newest first
func (r *AuditRepository) ListPage(limit, offset int) ([]*models.AuditRecord, error) {
	rows, err := r.db.Query(`
		SELECT id, action, object_type, object_id, actor_id, summary, created_at
		FROM audit_log
		ORDER BY id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var record models.AuditRecord
		err := rows.Scan(
			&record.ID,
			&record.Action,
			&record.ObjectType,
			&record.ObjectID,
			&record.ActorID,
			&record.Summary,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}
