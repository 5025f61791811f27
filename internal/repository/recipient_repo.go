package repository

import (
	"fmt"
	"strings"

	"github.com/mpetkov/fuel-registry/internal/models"
	"github.com/mpetkov/fuel-registry/pkg/database"
	"go.uber.org/zap"
)

// RecipientRepository handles digest recipient database operations
type RecipientRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewRecipientRepository creates a new recipient repository
func NewRecipientRepository(db *database.DB, logger *zap.Logger) *RecipientRepository {
	return &RecipientRepository{
		db:     db,
		logger: logger,
	}
}

const recipientColumns = "id, email, name, is_active, created_at"

// ListActive returns all active recipients
func (r *RecipientRepository) ListActive() ([]*models.Recipient, error) {
	rows, err := r.db.Query(
		"SELECT " + recipientColumns + " FROM recipients WHERE is_active = 1 ORDER BY email ASC",
	)
	if err != nil {
		r.logger.Error("Failed to list active recipients", zap.Error(err))
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	return scanRecipients(rows)
}

// ListActiveByIDs returns the intersection of the given ids with the
// active recipient set
func (r *RecipientRepository) ListActiveByIDs(ids []int64) ([]*models.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.Query(
		"SELECT "+recipientColumns+" FROM recipients WHERE is_active = 1 AND id IN ("+placeholders+") ORDER BY email ASC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients by ids: %w", err)
	}
	defer rows.Close()

	return scanRecipients(rows)
}

// Create inserts a new recipient
func (r *RecipientRepository) Create(recipient *models.Recipient) error {
	result, err := r.db.Exec(
		"INSERT INTO recipients (email, name, is_active) VALUES (?, ?, 1)",
		recipient.Email, recipient.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	recipient.ID = id
	recipient.IsActive = true
	return nil
}

// Deactivate marks a recipient inactive
func (r *RecipientRepository) Deactivate(id int64) error {
	_, err := r.db.Exec("UPDATE recipients SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate recipient: %w", err)
	}
	return nil
}

func scanRecipients(rows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}) ([]*models.Recipient, error) {
	var recipients []*models.Recipient
	for rows.Next() {
		var recipient models.Recipient
		err := rows.Scan(
			&recipient.ID,
			&recipient.Email,
			&recipient.Name,
			&recipient.IsActive,
			&recipient.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, &recipient)
	}
	return recipients, rows.Err()
}
