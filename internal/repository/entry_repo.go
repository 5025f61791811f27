package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mpetkov/fuel-registry/internal/models"
	"github.com/mpetkov/fuel-registry/pkg/database"
	"go.uber.org/zap"
)

const registrationSequence = "registration_number"

// EntryRepository handles fuel entry database operations, including
// atomic registration number allocation
type EntryRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewEntryRepository creates a new entry repository
func NewEntryRepository(db *database.DB, logger *zap.Logger) *EntryRepository {
	return &EntryRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new fuel entry, allocating its registration number
// from the store sequence inside the same transaction. The allocation
// is a single increment-and-return statement, never read-then-write.
func (r *EntryRepository) Create(entry *models.FuelEntry) error {
	return r.db.WithTransaction(func(tx *sql.Tx) error {
		var regNumber int64
		err := tx.QueryRow(
			"UPDATE sequences SET value = value + 1 WHERE name = ? RETURNING value",
			registrationSequence,
		).Scan(&regNumber)
		if err != nil {
			return fmt.Errorf("failed to allocate registration number: %w", err)
		}

		now := time.Now().UTC()
		result, err := tx.Exec(`
			INSERT INTO fuel_entries (
				registration_number, entry_date, warehouse_id, product_name, quantity,
				supplier_name, transporter_name, vehicle_reg,
				customs_document, lab_report_number, quality_class,
				is_active, operator_id, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
			regNumber,
			entry.EntryDate,
			entry.WarehouseID,
			entry.ProductName,
			entry.Quantity,
			entry.SupplierName,
			entry.TransporterName,
			entry.VehicleReg,
			entry.CustomsDocument,
			entry.LabReportNumber,
			entry.QualityClass,
			entry.OperatorID,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to create fuel entry: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}

		entry.ID = id
		entry.RegistrationNumber = regNumber
		entry.IsActive = true
		entry.CreatedAt = now
		entry.UpdatedAt = now
		return nil
	})
}

// SetCertificate records the uploaded certificate location on an entry
func (r *EntryRepository) SetCertificate(id int64, path, fileName string, uploadedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE fuel_entries
		SET certificate_path = ?, certificate_file_name = ?, certificate_uploaded_at = ?, updated_at = ?
		WHERE id = ?`,
		path, fileName, uploadedAt, time.Now().UTC(), id,
	)
	if err != nil {
		r.logger.Error("Failed to set certificate", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to set certificate: %w", err)
	}
	return nil
}

// HardDelete removes an entry row entirely. Used only by the creation
// flow's compensating transaction; an invisible record holding a
// registration number is worse than a permanent gap.
func (r *EntryRepository) HardDelete(id int64) error {
	_, err := r.db.Exec("DELETE FROM fuel_entries WHERE id = ?", id)
	if err != nil {
		r.logger.Error("Failed to hard delete entry", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to hard delete entry: %w", err)
	}
	return nil
}

// SoftDelete marks an entry inactive
func (r *EntryRepository) SoftDelete(id int64) error {
	_, err := r.db.Exec(
		"UPDATE fuel_entries SET is_active = 0, updated_at = ? WHERE id = ?",
		time.Now().UTC(), id,
	)
	if err != nil {
		r.logger.Error("Failed to soft delete entry", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to soft delete entry: %w", err)
	}
	return nil
}

// Update modifies the editable fields of an entry
func (r *EntryRepository) Update(entry *models.FuelEntry) error {
	_, err := r.db.Exec(`
		UPDATE fuel_entries
		SET entry_date = ?, warehouse_id = ?, product_name = ?, quantity = ?,
			supplier_name = ?, transporter_name = ?, vehicle_reg = ?,
			customs_document = ?, lab_report_number = ?, quality_class = ?,
			updated_at = ?
		WHERE id = ? AND is_active = 1`,
		entry.EntryDate,
		entry.WarehouseID,
		entry.ProductName,
		entry.Quantity,
		entry.SupplierName,
		entry.TransporterName,
		entry.VehicleReg,
		entry.CustomsDocument,
		entry.LabReportNumber,
		entry.QualityClass,
		time.Now().UTC(),
		entry.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update entry", zap.Int64("id", entry.ID), zap.Error(err))
		return fmt.Errorf("failed to update entry: %w", err)
	}
	return nil
}

const entryColumns = `
	id, registration_number, entry_date, warehouse_id, product_name, quantity,
	supplier_name, transporter_name, vehicle_reg,
	customs_document, lab_report_number, quality_class,
	certificate_path, certificate_file_name, certificate_uploaded_at,
	is_active, operator_id, created_at, updated_at`

func scanEntry(row interface{ Scan(...interface{}) error }) (*models.FuelEntry, error) {
	var entry models.FuelEntry
	var certUploadedAt sql.NullTime

	err := row.Scan(
		&entry.ID,
		&entry.RegistrationNumber,
		&entry.EntryDate,
		&entry.WarehouseID,
		&entry.ProductName,
		&entry.Quantity,
		&entry.SupplierName,
		&entry.TransporterName,
		&entry.VehicleReg,
		&entry.CustomsDocument,
		&entry.LabReportNumber,
		&entry.QualityClass,
		&entry.CertificatePath,
		&entry.CertificateFileName,
		&certUploadedAt,
		&entry.IsActive,
		&entry.OperatorID,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if certUploadedAt.Valid {
		entry.CertificateUploadedAt = &certUploadedAt.Time
	}
	return &entry, nil
}

// GetByID retrieves an entry by id, or nil if not found
func (r *EntryRepository) GetByID(id int64) (*models.FuelEntry, error) {
	query := "SELECT" + entryColumns + " FROM fuel_entries WHERE id = ?"

	entry, err := scanEntry(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get entry by id", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return entry, nil
}

// GetByRegistrationNumber retrieves an active entry by its public
// registration number, or nil if not found
func (r *EntryRepository) GetByRegistrationNumber(regNumber int64) (*models.FuelEntry, error) {
	query := "SELECT" + entryColumns + " FROM fuel_entries WHERE registration_number = ? AND is_active = 1"

	entry, err := scanEntry(r.db.QueryRow(query, regNumber))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry by registration number: %w", err)
	}
	return entry, nil
}

// ListByDateRange returns active entries with entry_date in the
// half-open interval [from, to), ordered by date ascending, capped at limit
func (r *EntryRepository) ListByDateRange(from, to time.Time, limit int) ([]*models.FuelEntry, error) {
	query := "SELECT" + entryColumns + `
		FROM fuel_entries
		WHERE is_active = 1 AND entry_date >= ? AND entry_date < ?
		ORDER BY entry_date ASC, id ASC
		LIMIT ?`

	rows, err := r.db.Query(query, from, to, limit)
	if err != nil {
		r.logger.Error("Failed to list entries by date range", zap.Error(err))
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.FuelEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetDetailedByIDs fetches entries with related warehouse and operator
// data, preserving the order of the input ids. Missing ids are skipped.
func (r *EntryRepository) GetDetailedByIDs(ids []int64) ([]*models.EntryDetails, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := `
		SELECT e.id, e.registration_number, e.entry_date, e.warehouse_id, e.product_name, e.quantity,
			e.supplier_name, e.transporter_name, e.vehicle_reg,
			e.customs_document, e.lab_report_number, e.quality_class,
			e.certificate_path, e.certificate_file_name, e.certificate_uploaded_at,
			e.is_active, e.operator_id, e.created_at, e.updated_at,
			w.name, u.name
		FROM fuel_entries e
		JOIN warehouses w ON w.id = e.warehouse_id
		JOIN users u ON u.id = e.operator_id
		WHERE e.id IN (` + placeholders + `)`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		r.logger.Error("Failed to get detailed entries", zap.Error(err))
		return nil, fmt.Errorf("failed to get detailed entries: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*models.EntryDetails, len(ids))
	for rows.Next() {
		var d models.EntryDetails
		var certUploadedAt sql.NullTime
		err := rows.Scan(
			&d.ID,
			&d.RegistrationNumber,
			&d.EntryDate,
			&d.WarehouseID,
			&d.ProductName,
			&d.Quantity,
			&d.SupplierName,
			&d.TransporterName,
			&d.VehicleReg,
			&d.CustomsDocument,
			&d.LabReportNumber,
			&d.QualityClass,
			&d.CertificatePath,
			&d.CertificateFileName,
			&certUploadedAt,
			&d.IsActive,
			&d.OperatorID,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.WarehouseName,
			&d.OperatorName,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detailed entry: %w", err)
		}
		if certUploadedAt.Valid {
			d.CertificateUploadedAt = &certUploadedAt.Time
		}
		byID[d.ID] = &d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the order captured at planning time
	ordered := make([]*models.EntryDetails, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			ordered = append(ordered, d)
		}
	}
	return ordered, nil
}

// ResolveRegistrationNumbers maps entry ids to registration numbers,
// preserving input order. Unknown ids are skipped.
func (r *EntryRepository) ResolveRegistrationNumbers(ids []int64) ([]int64, error) {
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
		"SELECT id, registration_number FROM fuel_entries WHERE id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve registration numbers: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]int64, len(ids))
	for rows.Next() {
		var id, regNumber int64
		if err := rows.Scan(&id, &regNumber); err != nil {
			return nil, err
		}
		byID[id] = regNumber
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	numbers := make([]int64, 0, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			numbers = append(numbers, n)
		}
	}
	return numbers, nil
}

// ListPage returns a page of entries for admin listing, newest first
func (r *EntryRepository) ListPage(limit, offset int) ([]*models.FuelEntry, error) {
	query := "SELECT" + entryColumns + `
		FROM fuel_entries
		WHERE is_active = 1
		ORDER BY registration_number DESC
		LIMIT ? OFFSET ?`

	rows, err := r.db.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.FuelEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
