package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mpetkov/fuel-registry/internal/models"
	"github.com/mpetkov/fuel-registry/pkg/database"
	"go.uber.org/zap"
)

// BatchRepository handles auto-send batch and item database operations
type BatchRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *database.DB, logger *zap.Logger) *BatchRepository {
	return &BatchRepository{
		db:     db,
		logger: logger,
	}
}

// CreatePlan persists a batch header and all of its items in one
// transaction. Each item snapshots its recipient list at plan time.
func (r *BatchRepository) CreatePlan(batch *models.AutoSendBatch, items []*models.AutoSendBatchItem) error {
	return r.db.WithTransaction(func(tx *sql.Tx) error {
		now := time.Now().UTC()
		result, err := tx.Exec(`
			INSERT INTO autosend_batches (
				date_from, date_to, total_entries, batch_size, total_batches,
				recipients_count, created_by, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			batch.DateFrom,
			batch.DateTo,
			batch.TotalEntries,
			batch.BatchSize,
			batch.TotalBatches,
			batch.RecipientsCount,
			batch.CreatedBy,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to create batch: %w", err)
		}

		batchID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get batch id: %w", err)
		}
		batch.ID = batchID
		batch.CreatedAt = now

		for _, item := range items {
			entryIDs, err := json.Marshal(item.EntryIDs)
			if err != nil {
				return fmt.Errorf("failed to marshal entry ids: %w", err)
			}
			recipients, err := json.Marshal(item.RecipientEmails)
			if err != nil {
				return fmt.Errorf("failed to marshal recipients: %w", err)
			}

			itemResult, err := tx.Exec(`
				INSERT INTO autosend_batch_items (
					batch_id, sequence, entry_ids, recipient_emails,
					entries_count, include_certificates, status, created_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				batchID,
				item.Sequence,
				string(entryIDs),
				string(recipients),
				item.EntriesCount,
				item.IncludeCertificates,
				models.ItemStatusPending,
				now,
			)
			if err != nil {
				return fmt.Errorf("failed to create batch item %d: %w", item.Sequence, err)
			}

			itemID, err := itemResult.LastInsertId()
			if err != nil {
				return fmt.Errorf("failed to get item id: %w", err)
			}
			item.ID = itemID
			item.BatchID = batchID
			item.Status = models.ItemStatusPending
			item.CreatedAt = now
		}

		return nil
	})
}

// GetBatch retrieves a batch header by id, or nil if not found
func (r *BatchRepository) GetBatch(id int64) (*models.AutoSendBatch, error) {
	var batch models.AutoSendBatch
	err := r.db.QueryRow(`
		SELECT id, date_from, date_to, total_entries, batch_size, total_batches,
			recipients_count, created_by, created_at
		FROM autosend_batches WHERE id = ?`, id,
	).Scan(
		&batch.ID,
		&batch.DateFrom,
		&batch.DateTo,
		&batch.TotalEntries,
		&batch.BatchSize,
		&batch.TotalBatches,
		&batch.RecipientsCount,
		&batch.CreatedBy,
		&batch.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get batch", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &batch, nil
}

func scanItem(row interface{ Scan(...interface{}) error }) (*models.AutoSendBatchItem, error) {
	var item models.AutoSendBatchItem
	var entryIDs, recipients string
	var sentAt sql.NullTime

	err := row.Scan(
		&item.ID,
		&item.BatchID,
		&item.Sequence,
		&entryIDs,
		&recipients,
		&item.EntriesCount,
		&item.IncludeCertificates,
		&item.Status,
		&sentAt,
		&item.ErrorMessage,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(entryIDs), &item.EntryIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry ids: %w", err)
	}
	if err := json.Unmarshal([]byte(recipients), &item.RecipientEmails); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
	}
	if sentAt.Valid {
		item.SentAt = &sentAt.Time
	}
	return &item, nil
}

const itemColumns = `
	id, batch_id, sequence, entry_ids, recipient_emails,
	entries_count, include_certificates, status, sent_at, error_message, created_at`

// ItemsByBatch returns all items of a batch in sequence order
func (r *BatchRepository) ItemsByBatch(batchID int64) ([]*models.AutoSendBatchItem, error) {
	query := "SELECT" + itemColumns + " FROM autosend_batch_items WHERE batch_id = ? ORDER BY sequence ASC"

	rows, err := r.db.Query(query, batchID)
	if err != nil {
		r.logger.Error("Failed to list batch items", zap.Int64("batch_id", batchID), zap.Error(err))
		return nil, fmt.Errorf("failed to list batch items: %w", err)
	}
	defer rows.Close()

	var items []*models.AutoSendBatchItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem retrieves one item by batch id and sequence, or nil if not found
func (r *BatchRepository) GetItem(batchID int64, sequence int) (*models.AutoSendBatchItem, error) {
	query := "SELECT" + itemColumns + " FROM autosend_batch_items WHERE batch_id = ? AND sequence = ?"

	item, err := scanItem(r.db.QueryRow(query, batchID, sequence))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch item: %w", err)
	}
	return item, nil
}

// MarkItemSent records a successful delivery: SENT, sent_at set,
// error message cleared
func (r *BatchRepository) MarkItemSent(itemID int64, sentAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE autosend_batch_items
		SET status = ?, sent_at = ?, error_message = ''
		WHERE id = ?`,
		models.ItemStatusSent, sentAt, itemID,
	)
	if err != nil {
		r.logger.Error("Failed to mark item sent", zap.Int64("item_id", itemID), zap.Error(err))
		return fmt.Errorf("failed to mark item sent: %w", err)
	}
	return nil
}

// MarkItemFailed records a delivery failure with its cause
func (r *BatchRepository) MarkItemFailed(itemID int64, errMsg string) error {
	_, err := r.db.Exec(`
		UPDATE autosend_batch_items
		SET status = ?, error_message = ?
		WHERE id = ?`,
		models.ItemStatusFailed, errMsg, itemID,
	)
	if err != nil {
		r.logger.Error("Failed to mark item failed", zap.Int64("item_id", itemID), zap.Error(err))
		return fmt.Errorf("failed to mark item failed: %w", err)
	}
	return nil
}

// CountByStatus returns total, sent and failed item counts for a batch
func (r *BatchRepository) CountByStatus(batchID int64) (total, sent, failed int, err error) {
	err = r.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM autosend_batch_items WHERE batch_id = ?`,
		models.ItemStatusSent, models.ItemStatusFailed, batchID,
	).Scan(&total, &sent, &failed)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count items by status: %w", err)
	}
	return total, sent, failed, nil
}

// ListBatchIDsWithPending returns ids of batches that still have
// PENDING items, oldest first. Used to resume unfinished batches
// after a restart.
func (r *BatchRepository) ListBatchIDsWithPending(limit int) ([]int64, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT batch_id FROM autosend_batch_items
		WHERE status = ?
		ORDER BY batch_id ASC
		LIMIT ?`,
		models.ItemStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending batches: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListBatches returns a page of batches with nested items, newest first
func (r *BatchRepository) ListBatches(limit, offset int) ([]*models.AutoSendBatch, error) {
	rows, err := r.db.Query(`
		SELECT id, date_from, date_to, total_entries, batch_size, total_batches,
			recipients_count, created_by, created_at
		FROM autosend_batches
		ORDER BY id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.AutoSendBatch
	for rows.Next() {
		var batch models.AutoSendBatch
		err := rows.Scan(
			&batch.ID,
			&batch.DateFrom,
			&batch.DateTo,
			&batch.TotalEntries,
			&batch.BatchSize,
			&batch.TotalBatches,
			&batch.RecipientsCount,
			&batch.CreatedBy,
			&batch.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, &batch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, batch := range batches {
		items, err := r.ItemsByBatch(batch.ID)
		if err != nil {
			return nil, err
		}
		batch.Items = items
	}
	return batches, nil
}
