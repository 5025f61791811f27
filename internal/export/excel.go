// Package export produces Excel register exports for administrators.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/models"
)

// EntryLister lists entries for a date range
type EntryLister interface {
	ListByDateRange(from, to time.Time, limit int) ([]*models.FuelEntry, error)
}

const exportLimit = 10000

// Exporter writes the entry register for a date range as an xlsx file
type Exporter struct {
	entries EntryLister
	loc     *time.Location
	logger  *zap.Logger
}

// NewExporter creates a new register exporter
func NewExporter(entries EntryLister, loc *time.Location, logger *zap.Logger) *Exporter {
	return &Exporter{
		entries: entries,
		loc:     loc,
		logger:  logger,
	}
}

var exportHeaders = []string{
	"Reg. No.", "Entry date", "Product", "Quantity (L)",
	"Supplier", "Transporter", "Vehicle", "Customs document",
	"Lab report", "Quality class", "Certificate",
}

// Export renders the register for [from, to) and returns the xlsx bytes
func (e *Exporter) Export(from, to time.Time) ([]byte, error) {
	entries, err := e.entries.ListByDateRange(from, to, exportLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries for export: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)

	for col, header := range exportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to compute header cell: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i, entry := range entries {
		cert := ""
		if entry.HasCertificate() {
			cert = entry.CertificateFileName
		}
		values := []interface{}{
			entry.RegistrationNumber,
			entry.EntryDate.In(e.loc).Format("02.01.2006"),
			entry.ProductName,
			entry.Quantity,
			entry.SupplierName,
			entry.TransporterName,
			entry.VehicleReg,
			entry.CustomsDocument,
			entry.LabReportNumber,
			entry.QualityClass,
			cert,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, fmt.Errorf("failed to compute cell: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize export: %w", err)
	}

	e.logger.Info("Register exported",
		zap.Int("entries", len(entries)),
		zap.Int("size", buf.Len()))
	return buf.Bytes(), nil
}
