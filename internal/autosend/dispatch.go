package autosend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/email"
	"github.com/mpetkov/fuel-registry/internal/models"
)

const brandingImageName = "branding.png"

// DispatchResult summarizes one dispatch run over a batch
type DispatchResult struct {
	BatchID int64 `json:"batch_id"`
	Total   int   `json:"total"`
	Sent    int   `json:"sent"`
	Failed  int   `json:"failed"`
	Skipped int   `json:"skipped"` // already SENT before this run
}

// Dispatch processes every non-SENT item of a batch in sequence order.
// Items already SENT are never re-sent; FAILED items are retried.
// One item's failure never aborts its siblings. Safe to re-invoke to
// mop up failures; concurrent dispatch of the same batch id is
// rejected with ErrDispatchInProgress.
func (s *Service) Dispatch(ctx context.Context, batchID int64) (*DispatchResult, error) {
	s.inflightMu.Lock()
	if _, running := s.inflight[batchID]; running {
		s.inflightMu.Unlock()
		return nil, ErrDispatchInProgress
	}
	s.inflight[batchID] = struct{}{}
	s.inflightMu.Unlock()

	defer func() {
		s.inflightMu.Lock()
		delete(s.inflight, batchID)
		s.inflightMu.Unlock()
	}()

	batch, err := s.batches.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}

	items, err := s.batches.ItemsByBatch(batchID)
	if err != nil {
		return nil, err
	}

	result := &DispatchResult{BatchID: batchID, Total: len(items)}
	for _, item := range items {
		if item.Status == models.ItemStatusSent {
			result.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if sentAt, ok := s.deliveredAt(item.ID); ok {
			// Email already went out on a previous run; only the
			// status write is outstanding
			if err := s.batches.MarkItemSent(item.ID, sentAt); err != nil {
				s.logger.Error("Failed to record item delivery",
					zap.Int64("item_id", item.ID),
					zap.Error(err))
			} else {
				s.clearDelivered(item.ID)
			}
			result.Skipped++
			continue
		}

		if err := s.dispatchItem(ctx, batch, item); err != nil {
			result.Failed++
			s.logger.Warn("Batch item dispatch failed",
				zap.Int64("batch_id", batchID),
				zap.Int("sequence", item.Sequence),
				zap.Error(err))

			if markErr := s.batches.MarkItemFailed(item.ID, err.Error()); markErr != nil {
				s.logger.Error("Failed to record item failure",
					zap.Int64("item_id", item.ID),
					zap.Error(markErr))
			}
			continue
		}

		sentAt := s.now().UTC()
		if err := s.batches.MarkItemSent(item.ID, sentAt); err != nil {
			// Delivery happened; a status write failure must not
			// trigger a re-send. Remember the delivery so a later
			// dispatch of the still-PENDING row retries only the write.
			s.rememberDelivered(item.ID, sentAt)
			s.logger.Error("Failed to record item delivery",
				zap.Int64("item_id", item.ID),
				zap.Error(err))
		}
		result.Sent++
	}

	if err := s.audit.Append(models.AuditActionDispatchCompleted, "autosend_batch", batchID, batch.CreatedBy,
		map[string]interface{}{
			"total":   result.Total,
			"sent":    result.Sent,
			"failed":  result.Failed,
			"skipped": result.Skipped,
		}); err != nil {
		s.logger.Warn("Failed to append dispatch audit record",
			zap.Int64("batch_id", batchID),
			zap.Error(err))
	}

	s.logger.Info("Batch dispatch completed",
		zap.Int64("batch_id", batchID),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Service) rememberDelivered(itemID int64, sentAt time.Time) {
	s.deliveredMu.Lock()
	defer s.deliveredMu.Unlock()
	s.delivered[itemID] = sentAt
}

func (s *Service) deliveredAt(itemID int64) (time.Time, bool) {
	s.deliveredMu.Lock()
	defer s.deliveredMu.Unlock()
	sentAt, ok := s.delivered[itemID]
	return sentAt, ok
}

func (s *Service) clearDelivered(itemID int64) {
	s.deliveredMu.Lock()
	defer s.deliveredMu.Unlock()
	delete(s.delivered, itemID)
}

// dispatchItem renders every entry of one item, composes the digest
// email in full, and sends it to the item's snapshot recipients
func (s *Service) dispatchItem(ctx context.Context, batch *models.AutoSendBatch, item *models.AutoSendBatchItem) error {
	entries, err := s.entries.GetDetailedByIDs(item.EntryIDs)
	if err != nil {
		return fmt.Errorf("failed to load item entries: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no entries found for item %d", item.Sequence)
	}

	attachments := make([]email.Attachment, 0, len(entries))
	for _, entry := range entries {
		pdf, err := s.renderOne(ctx, entry, item.IncludeCertificates)
		if err != nil {
			return fmt.Errorf("failed to render statement %d: %w", entry.RegistrationNumber, err)
		}

		attachments = append(attachments, email.Attachment{
			Name:        fmt.Sprintf("statement-%d.pdf", entry.RegistrationNumber),
			ContentType: "application/pdf",
			Data:        pdf,
		})
	}

	msg := email.Message{
		To:          item.RecipientEmails,
		Subject:     s.digestSubject(batch, item),
		HTML:        s.digestBody(batch, item, entries),
		Attachments: attachments,
	}
	if len(s.cfg.BrandingImage) > 0 {
		msg.Inline = []email.Attachment{{
			Name:        brandingImageName,
			ContentType: "image/png",
			Data:        s.cfg.BrandingImage,
		}}
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send item %d: %w", item.Sequence, err)
	}
	return nil
}

// Document is one regenerated statement with its attachment name
type Document struct {
	Name string
	Data []byte
}

// RenderItemDocuments regenerates the statement set of one historical
// item on demand. Nothing is stored; artifacts are always rebuilt from
// the current entry data.
func (s *Service) RenderItemDocuments(ctx context.Context, batchID int64, sequence int) ([]Document, error) {
	item, err := s.batches.GetItem(batchID, sequence)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrBatchNotFound
	}

	entries, err := s.entries.GetDetailedByIDs(item.EntryIDs)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		pdf, err := s.renderOne(ctx, entry, item.IncludeCertificates)
		if err != nil {
			return nil, fmt.Errorf("failed to render statement %d: %w", entry.RegistrationNumber, err)
		}
		docs = append(docs, Document{
			Name: fmt.Sprintf("statement-%d.pdf", entry.RegistrationNumber),
			Data: pdf,
		})
	}
	return docs, nil
}

// renderOne renders a single statement under the per-render timeout
func (s *Service) renderOne(ctx context.Context, entry *models.EntryDetails, includeCertificate bool) ([]byte, error) {
	if s.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RenderTimeout)
		defer cancel()
	}
	return s.renderer.Render(ctx, entry, includeCertificate)
}

func (s *Service) digestSubject(batch *models.AutoSendBatch, item *models.AutoSendBatchItem) string {
	from := batch.DateFrom.In(s.cfg.Timezone).Format("02.01.2006")
	to := batch.DateTo.In(s.cfg.Timezone).AddDate(0, 0, -1).Format("02.01.2006")
	if from == to {
		return fmt.Sprintf("Fuel register statements %s (part %d/%d)", from, item.Sequence, batch.TotalBatches)
	}
	return fmt.Sprintf("Fuel register statements %s - %s (part %d/%d)", from, to, item.Sequence, batch.TotalBatches)
}

// digestBody builds the HTML summary table for one item, listing its
// entries in the exact order captured at planning time
func (s *Service) digestBody(batch *models.AutoSendBatch, item *models.AutoSendBatchItem, entries []*models.EntryDetails) string {
	var b strings.Builder

	b.WriteString("<html><body>")
	if len(s.cfg.BrandingImage) > 0 {
		fmt.Fprintf(&b, `<p><img src="cid:%s" alt="Fuel Registry"/></p>`, brandingImageName)
	}
	fmt.Fprintf(&b, "<h2>Statements of conformity, part %d of %d</h2>", item.Sequence, batch.TotalBatches)
	fmt.Fprintf(&b, "<p>The attached %d statement(s) cover fuel deliveries logged between %s and %s.</p>",
		len(entries),
		batch.DateFrom.In(s.cfg.Timezone).Format("02.01.2006"),
		batch.DateTo.In(s.cfg.Timezone).AddDate(0, 0, -1).Format("02.01.2006"))

	b.WriteString(`<table border="1" cellpadding="4" cellspacing="0">`)
	b.WriteString("<tr><th>Reg. No.</th><th>Date</th><th>Warehouse</th><th>Product</th><th>Quantity (L)</th><th>Certificate</th></tr>")
	for _, entry := range entries {
		cert := "no"
		if entry.HasCertificate() {
			cert = "yes"
		}
		fmt.Fprintf(&b, "<tr><td>%d</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%s</td></tr>",
			entry.RegistrationNumber,
			entry.EntryDate.In(s.cfg.Timezone).Format("02.01.2006"),
			entry.WarehouseName,
			entry.ProductName,
			entry.Quantity,
			cert)
	}
	b.WriteString("</table>")

	fmt.Fprintf(&b, "<p>Generated at %s. This is an automated delivery; do not reply.</p>",
		s.now().In(s.cfg.Timezone).Format("02.01.2006 15:04"))
	b.WriteString("</body></html>")

	return b.String()
}
