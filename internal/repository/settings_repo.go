package repository

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/mpetkov/fuel-registry/pkg/database"
	"go.uber.org/zap"
)

// Setting keys
const (
	SettingAutoSendEnabled = "auto_send_enabled"
)

// SettingsRepository handles persisted key/value settings
type SettingsRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *database.DB, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{
		db:     db,
		logger: logger,
	}
}

// GetBool returns a boolean setting, or fallback when unset or invalid
func (r *SettingsRepository) GetBool(key string, fallback bool) (bool, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to get setting %s: %w", key, err)
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.logger.Warn("Invalid boolean setting value",
			zap.String("key", key),
			zap.String("value", value))
		return fallback, nil
	}
	return parsed, nil
}

// SetBool persists a boolean setting
func (r *SettingsRepository) SetBool(key string, value bool) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, strconv.FormatBool(value), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
