// Package document renders statements of conformity for fuel entries.
package document

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/gen2brain/go-fitz"
	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/models"
)

// Renderer produces a compliance PDF for one fuel entry
type Renderer interface {
	Render(ctx context.Context, entry *models.EntryDetails, includeCertificate bool) ([]byte, error)
}

// CertificateReader loads a stored certificate by its relative path
type CertificateReader interface {
	Read(relPath string) ([]byte, error)
}

// Config holds statement rendering configuration
type Config struct {
	IssuerName string
	IssuerEIK  string
}

// PDFRenderer renders statements of conformity with fpdf, appending
// rasterized certificate pages when requested
type PDFRenderer struct {
	cfg    Config
	certs  CertificateReader
	logger *zap.Logger
}

// NewPDFRenderer creates a new statement renderer
func NewPDFRenderer(cfg Config, certs CertificateReader, logger *zap.Logger) *PDFRenderer {
	return &PDFRenderer{
		cfg:    cfg,
		certs:  certs,
		logger: logger,
	}
}

// Render produces the statement PDF for an entry. When
// includeCertificate is set and the entry has one, each certificate
// page is rasterized and appended as a full-page image.
func (r *PDFRenderer) Render(ctx context.Context, entry *models.EntryDetails, includeCertificate bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Statement of Conformity No. %d", entry.RegistrationNumber), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "STATEMENT OF CONFORMITY", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 7, r.cfg.IssuerName, "", 1, "C", false, 0, "")
	if r.cfg.IssuerEIK != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("EIK %s", r.cfg.IssuerEIK), "", 1, "C", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, fmt.Sprintf("Registration No. %d", entry.RegistrationNumber), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	rows := [][2]string{
		{"Entry date", entry.EntryDate.Format("02.01.2006")},
		{"Warehouse", entry.WarehouseName},
		{"Product", entry.ProductName},
		{"Quantity", fmt.Sprintf("%d L", entry.Quantity)},
		{"Supplier", entry.SupplierName},
		{"Transporter", entry.TransporterName},
		{"Vehicle", entry.VehicleReg},
		{"Customs document", entry.CustomsDocument},
		{"Lab report", entry.LabReportNumber},
		{"Quality class", entry.QualityClass},
		{"Logged by", entry.OperatorName},
	}

	pdf.SetFont("Helvetica", "", 11)
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(55, 8, row[0], "1", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 8, row[1], "1", 1, "L", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.CellFormat(0, 6,
		fmt.Sprintf("Issued %s. This document certifies the conformity of the delivered fuel batch.",
			time.Now().Format("02.01.2006 15:04")),
		"", 1, "L", false, 0, "")

	if includeCertificate && entry.HasCertificate() {
		if err := r.appendCertificate(ctx, pdf, entry); err != nil {
			return nil, fmt.Errorf("failed to append certificate: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render statement: %w", err)
	}

	r.logger.Debug("Statement rendered",
		zap.Int64("registration_number", entry.RegistrationNumber),
		zap.Int("size", buf.Len()))
	return buf.Bytes(), nil
}

// appendCertificate rasterizes each page of the stored certificate and
// appends it as an image page
func (r *PDFRenderer) appendCertificate(ctx context.Context, pdf *fpdf.Fpdf, entry *models.EntryDetails) error {
	data, err := r.certs.Read(entry.CertificatePath)
	if err != nil {
		return fmt.Errorf("failed to read certificate: %w", err)
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return fmt.Errorf("failed to open certificate: %w", err)
	}
	defer doc.Close()

	for page := 0; page < doc.NumPage(); page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		img, err := doc.Image(page)
		if err != nil {
			return fmt.Errorf("failed to rasterize certificate page %d: %w", page+1, err)
		}

		var jpegBuf bytes.Buffer
		if err := jpeg.Encode(&jpegBuf, img, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to encode certificate page %d: %w", page+1, err)
		}

		name := fmt.Sprintf("cert-%d-%d", entry.ID, page)
		pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "JPG"}, &jpegBuf)
		pdf.AddPage()
		// Full width inside a 10mm margin on A4
		pdf.ImageOptions(name, 10, 10, 190, 0, false, fpdf.ImageOptions{ImageType: "JPG"}, 0, "")
	}

	return nil
}
