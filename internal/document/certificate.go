package document

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// CertificateInspector validates an uploaded certificate before any
// persistent state is created
type CertificateInspector struct {
	maxPages int
	logger   *zap.Logger
}

// NewCertificateInspector creates a new certificate inspector
func NewCertificateInspector(maxPages int, logger *zap.Logger) *CertificateInspector {
	return &CertificateInspector{
		maxPages: maxPages,
		logger:   logger,
	}
}

// Inspect opens the uploaded PDF and returns its page count. It fails
// on unreadable files, empty documents and documents over the page cap.
func (i *CertificateInspector) Inspect(data []byte) (int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, fmt.Errorf("certificate is not a readable PDF: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return 0, fmt.Errorf("certificate has no pages")
	}
	if i.maxPages > 0 && pages > i.maxPages {
		return pages, fmt.Errorf("certificate has %d pages, maximum is %d", pages, i.maxPages)
	}

	return pages, nil
}
