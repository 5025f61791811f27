package repository

import (
	"database/sql"
	"fmt"

	"github.com/mpetkov/fuel-registry/internal/models"
	"github.com/mpetkov/fuel-registry/pkg/database"
	"go.uber.org/zap"
)

// LookupRepository stores the uniform lookup items for every lookup
// kind. Kind membership is enforced one level up by the lookup registry.
type LookupRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewLookupRepository creates a new lookup repository
func NewLookupRepository(db *database.DB, logger *zap.Logger) *LookupRepository {
	return &LookupRepository{
		db:     db,
		logger: logger,
	}
}

// FindByKind returns all active items of one lookup kind
func (r *LookupRepository) FindByKind(kind string) ([]*models.LookupItem, error) {
	rows, err := r.db.Query(`
		SELECT id, kind, name, description, code, is_active, created_at
		FROM lookup_items
		WHERE kind = ? AND is_active = 1
		ORDER BY name ASC`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find lookup items: %w", err)
	}
	defer rows.Close()

	var items []*models.LookupItem
	for rows.Next() {
		var item models.LookupItem
		err := rows.Scan(
			&item.ID,
			&item.Kind,
			&item.Name,
			&item.Description,
			&item.Code,
			&item.IsActive,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lookup item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Create inserts a lookup item
func (r *LookupRepository) Create(item *models.LookupItem) error {
	result, err := r.db.Exec(
		"INSERT INTO lookup_items (kind, name, description, code, is_active) VALUES (?, ?, ?, ?, 1)",
		item.Kind, item.Name, item.Description, item.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to create lookup item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	item.ID = id
	item.IsActive = true
	return nil
}

// Update modifies a lookup item within its kind
func (r *LookupRepository) Update(item *models.LookupItem) error {
	result, err := r.db.Exec(
		"UPDATE lookup_items SET name = ?, description = ?, code = ? WHERE id = ? AND kind = ?",
		item.Name, item.Description, item.Code, item.ID, item.Kind,
	)
	if err != nil {
		return fmt.Errorf("failed to update lookup item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
