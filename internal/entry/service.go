// Package entry implements the fuel entry creation flow: validation,
// atomic registration number allocation, certificate upload keyed by
// the allocated number, and a compensating delete when the upload
// fails after the record exists.
package entry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/models"
)

// ValidationError reports bad input. It is rejected before any
// persistent state is created and maps to a 400 at the HTTP layer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrCertificateUpload is returned when the certificate upload failed
// after the entry row was created and the compensating delete ran.
// The caller must retry the whole creation; a new registration number
// will be issued.
var ErrCertificateUpload = errors.New("could not attach certificate; please retry the creation")

// EntryStore is the persistence contract used by the creation flow
type EntryStore interface {
	Create(entry *models.FuelEntry) error
	SetCertificate(id int64, path, fileName string, uploadedAt time.Time) error
	HardDelete(id int64) error
}

// CertificateStore uploads certificate files
type CertificateStore interface {
	Save(relPath string, content []byte) (string, error)
	Remove(relPath string) error
}

// CertificateInspector validates an uploaded certificate document
type CertificateInspector interface {
	Inspect(data []byte) (pages int, err error)
}

// AuditSink appends audit records
type AuditSink interface {
	Append(action, objectType string, objectID, actorID int64, summary map[string]interface{}) error
}

// Config holds creation flow limits
type Config struct {
	MaxCertificateSize int64 // bytes
}

// CertificateUpload is an attached certificate file
type CertificateUpload struct {
	FileName string
	Data     []byte
}

// CreateInput holds the fields of a new fuel entry
type CreateInput struct {
	EntryDate       time.Time
	WarehouseID     int64
	ProductName     string
	Quantity        int64
	SupplierName    string
	TransporterName string
	VehicleReg      string
	CustomsDocument string
	LabReportNumber string
	QualityClass    string
	Certificate     *CertificateUpload
}

// Service implements the entry creation flow
type Service struct {
	cfg       Config
	store     EntryStore
	certs     CertificateStore
	inspector CertificateInspector
	audit     AuditSink
	logger    *zap.Logger
}

// NewService creates a new entry service
func NewService(
	cfg Config,
	store EntryStore,
	certs CertificateStore,
	inspector CertificateInspector,
	audit AuditSink,
	logger *zap.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		store:     store,
		certs:     certs,
		inspector: inspector,
		audit:     audit,
		logger:    logger,
	}
}

// Create validates input, inserts the entry with its registration
// number, uploads the certificate if present, and compensates with a
// hard delete if the upload fails after the row was created.
func (s *Service) Create(ctx context.Context, input CreateInput, operatorID int64) (*models.FuelEntry, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry := &models.FuelEntry{
		EntryDate:       input.EntryDate,
		WarehouseID:     input.WarehouseID,
		ProductName:     strings.TrimSpace(input.ProductName),
		Quantity:        input.Quantity,
		SupplierName:    strings.TrimSpace(input.SupplierName),
		TransporterName: strings.TrimSpace(input.TransporterName),
		VehicleReg:      strings.TrimSpace(input.VehicleReg),
		CustomsDocument: strings.TrimSpace(input.CustomsDocument),
		LabReportNumber: strings.TrimSpace(input.LabReportNumber),
		QualityClass:    strings.TrimSpace(input.QualityClass),
		OperatorID:      operatorID,
	}

	if err := s.store.Create(entry); err != nil {
		return nil, fmt.Errorf("failed to create entry: %w", err)
	}

	if input.Certificate != nil {
		if err := s.attachCertificate(entry, input.Certificate); err != nil {
			s.compensate(entry, operatorID, err)
			return nil, fmt.Errorf("%w: %v", ErrCertificateUpload, err)
		}
	}

	if err := s.audit.Append(models.AuditActionEntryCreated, "fuel_entry", entry.ID, operatorID,
		map[string]interface{}{
			"registration_number": entry.RegistrationNumber,
			"entry_date":          entry.EntryDate.Format("2006-01-02"),
			"product_name":        entry.ProductName,
			"quantity":            entry.Quantity,
			"has_certificate":     entry.HasCertificate(),
		}); err != nil {
		s.logger.Warn("Failed to append creation audit record",
			zap.Int64("entry_id", entry.ID),
			zap.Error(err))
	}

	s.logger.Info("Fuel entry created",
		zap.Int64("entry_id", entry.ID),
		zap.Int64("registration_number", entry.RegistrationNumber))
	return entry, nil
}

// attachCertificate uploads the certificate keyed by the now-known
// registration number and records its location on the entry
func (s *Service) attachCertificate(entry *models.FuelEntry, cert *CertificateUpload) error {
	relPath := fmt.Sprintf("certificates/%d%s",
		entry.RegistrationNumber,
		strings.ToLower(filepath.Ext(cert.FileName)))

	storedPath, err := s.certs.Save(relPath, cert.Data)
	if err != nil {
		return fmt.Errorf("failed to upload certificate: %w", err)
	}

	uploadedAt := time.Now().UTC()
	if err := s.store.SetCertificate(entry.ID, storedPath, cert.FileName, uploadedAt); err != nil {
		// Record update failed after the file was written; remove the
		// orphan file so no artifact outlives the compensated record
		if rmErr := s.certs.Remove(storedPath); rmErr != nil {
			s.logger.Error("Failed to remove certificate after record update failure",
				zap.String("path", storedPath),
				zap.Error(rmErr))
		}
		return fmt.Errorf("failed to record certificate: %w", err)
	}

	entry.CertificatePath = storedPath
	entry.CertificateFileName = cert.FileName
	entry.CertificateUploadedAt = &uploadedAt
	return nil
}

// compensate hard-deletes the just-created entry after a failed upload.
// A delete failure is logged and audited but does not mask the upload
// error; the orphan row is a known, surfaced failure mode for manual
// cleanup.
func (s *Service) compensate(entry *models.FuelEntry, operatorID int64, cause error) {
	s.logger.Warn("Certificate upload failed, rolling back entry",
		zap.Int64("entry_id", entry.ID),
		zap.Int64("registration_number", entry.RegistrationNumber),
		zap.Error(cause))

	action := models.AuditActionUploadRollback
	if err := s.store.HardDelete(entry.ID); err != nil {
		action = models.AuditActionRollbackFailed
		s.logger.Error("Compensating delete failed, orphan entry left for manual cleanup",
			zap.Int64("entry_id", entry.ID),
			zap.Int64("registration_number", entry.RegistrationNumber),
			zap.Error(err))
	}

	if err := s.audit.Append(action, "fuel_entry", entry.ID, operatorID,
		map[string]interface{}{
			"registration_number": entry.RegistrationNumber,
			"cause":               cause.Error(),
		}); err != nil {
		s.logger.Warn("Failed to append rollback audit record", zap.Error(err))
	}
}

func (s *Service) validate(input CreateInput) error {
	if input.EntryDate.IsZero() {
		return &ValidationError{Field: "entry_date", Reason: "is required"}
	}
	if input.WarehouseID <= 0 {
		return &ValidationError{Field: "warehouse_id", Reason: "is required"}
	}
	if strings.TrimSpace(input.ProductName) == "" {
		return &ValidationError{Field: "product_name", Reason: "is required"}
	}
	if input.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be a positive integer"}
	}

	if cert := input.Certificate; cert != nil {
		ext := strings.ToLower(filepath.Ext(cert.FileName))
		if ext != ".pdf" {
			return &ValidationError{Field: "certificate", Reason: fmt.Sprintf("unsupported file type %s, only PDF is accepted", ext)}
		}
		if int64(len(cert.Data)) > s.cfg.MaxCertificateSize {
			return &ValidationError{Field: "certificate", Reason: fmt.Sprintf("file exceeds the %d byte limit", s.cfg.MaxCertificateSize)}
		}
		if len(cert.Data) == 0 {
			return &ValidationError{Field: "certificate", Reason: "file is empty"}
		}
		if _, err := s.inspector.Inspect(cert.Data); err != nil {
			return &ValidationError{Field: "certificate", Reason: err.Error()}
		}
	}

	return nil
}
