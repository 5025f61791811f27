package http

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mpetkov/fuel-registry/internal/autosend"
	"github.com/mpetkov/fuel-registry/internal/entry"
	"github.com/mpetkov/fuel-registry/internal/export"
	"github.com/mpetkov/fuel-registry/internal/lookup"
	"github.com/mpetkov/fuel-registry/internal/models"
	"github.com/mpetkov/fuel-registry/internal/repository"
)

// Enqueuer hands a planned batch to the dispatch worker
type Enqueuer interface {
	Enqueue(batchID int64)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	entries    *entry.Service
	entryStore *repository.EntryRepository
	autosend   *autosend.Service
	dispatch   Enqueuer
	exporter   *export.Exporter
	lookups    *lookup.Registry
	settings   *repository.SettingsRepository
	audit      *repository.AuditRepository
	region     *time.Location
	logger     *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	entries *entry.Service,
	entryStore *repository.EntryRepository,
	autosendSvc *autosend.Service,
	dispatch Enqueuer,
	exporter *export.Exporter,
	lookups *lookup.Registry,
	settings *repository.SettingsRepository,
	audit *repository.AuditRepository,
	region *time.Location,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		entries:    entries,
		entryStore: entryStore,
		autosend:   autosendSvc,
		dispatch:   dispatch,
		exporter:   exporter,
		lookups:    lookups,
		settings:   settings,
		audit:      audit,
		region:     region,
		logger:     logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// operatorID resolves the acting operator from the request. Session
// handling is an external collaborator; it forwards the id in a header.
func operatorID(c *gin.Context) int64 {
	id, err := strconv.ParseInt(c.GetHeader("X-Operator-ID"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

const maxCertificateUpload = 32 << 20 // request body cap for multipart parsing

// CreateEntry handles POST /api/entries (multipart form)
func (h *Handlers) CreateEntry(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxCertificateUpload); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid multipart form"})
		return
	}

	entryDate, err := time.ParseInLocation("2006-01-02", c.PostForm("entry_date"), h.region)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid entry_date, expected YYYY-MM-DD"})
		return
	}
	warehouseID, _ := strconv.ParseInt(c.PostForm("warehouse_id"), 10, 64)
	quantity, _ := strconv.ParseInt(c.PostForm("quantity"), 10, 64)

	input := entry.CreateInput{
		EntryDate:       entryDate,
		WarehouseID:     warehouseID,
		ProductName:     c.PostForm("product_name"),
		Quantity:        quantity,
		SupplierName:    c.PostForm("supplier_name"),
		TransporterName: c.PostForm("transporter_name"),
		VehicleReg:      c.PostForm("vehicle_reg"),
		CustomsDocument: c.PostForm("customs_document"),
		LabReportNumber: c.PostForm("lab_report_number"),
		QualityClass:    c.PostForm("quality_class"),
	}

	if file, header, err := c.Request.FormFile("certificate"); err == nil {
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "failed to read certificate upload"})
			return
		}
		input.Certificate = &entry.CertificateUpload{
			FileName: header.Filename,
			Data:     data,
		}
	}

	created, err := h.entries.Create(c.Request.Context(), input, operatorID(c))
	if err != nil {
		if entry.IsValidation(err) {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
			return
		}
		if errors.Is(err, entry.ErrCertificateUpload) {
			c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
			return
		}
		h.logger.Error("Entry creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to create entry"})
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: created})
}

// ListEntries handles GET /api/entries
func (h *Handlers) ListEntries(c *gin.Context) {
	limit, offset := pagination(c)

	entries, err := h.entryStore.ListPage(limit, offset)
	if err != nil {
		h.logger.Error("Failed to list entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to list entries"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// GetEntry handles GET /api/entries/:id
func (h *Handlers) GetEntry(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid entry id"})
		return
	}

	found, err := h.entryStore.GetByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to get entry"})
		return
	}
	if found == nil || !found.IsActive {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "entry not found"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: found})
}

// UpdateEntryRequest is the editable subset of a fuel entry
type UpdateEntryRequest struct {
	EntryDate       string `json:"entry_date"`
	WarehouseID     int64  `json:"warehouse_id"`
	ProductName     string `json:"product_name"`
	Quantity        int64  `json:"quantity"`
	SupplierName    string `json:"supplier_name"`
	TransporterName string `json:"transporter_name"`
	VehicleReg      string `json:"vehicle_reg"`
	CustomsDocument string `json:"customs_document"`
	LabReportNumber string `json:"lab_report_number"`
	QualityClass    string `json:"quality_class"`
}

// UpdateEntry handles PUT /api/entries/:id
func (h *Handlers) UpdateEntry(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid entry id"})
		return
	}

	var req UpdateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	entryDate, err := time.ParseInLocation("2006-01-02", req.EntryDate, h.region)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid entry_date, expected YYYY-MM-DD"})
		return
	}
	if req.Quantity <= 0 || req.ProductName == "" || req.WarehouseID <= 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "warehouse_id, product_name and positive quantity are required"})
		return
	}

	existing, err := h.entryStore.GetByID(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to get entry"})
		return
	}
	if existing == nil || !existing.IsActive {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "entry not found"})
		return
	}

	existing.EntryDate = entryDate
	existing.WarehouseID = req.WarehouseID
	existing.ProductName = req.ProductName
	existing.Quantity = req.Quantity
	existing.SupplierName = req.SupplierName
	existing.TransporterName = req.TransporterName
	existing.VehicleReg = req.VehicleReg
	existing.CustomsDocument = req.CustomsDocument
	existing.LabReportNumber = req.LabReportNumber
	existing.QualityClass = req.QualityClass

	if err := h.entryStore.Update(existing); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to update entry"})
		return
	}

	if err := h.audit.Append(models.AuditActionEntryUpdated, "fuel_entry", id, operatorID(c), nil); err != nil {
		h.logger.Warn("Failed to append update audit record", zap.Error(err))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: existing})
}

// DeleteEntry handles DELETE /api/entries/:id (soft delete)
func (h *Handlers) DeleteEntry(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid entry id"})
		return
	}

	if err := h.entryStore.SoftDelete(id); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to delete entry"})
		return
	}

	if err := h.audit.Append(models.AuditActionEntryDeactivated, "fuel_entry", id, operatorID(c), nil); err != nil {
		h.logger.Warn("Failed to append delete audit record", zap.Error(err))
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ExportEntries handles GET /api/entries/export
func (h *Handlers) ExportEntries(c *gin.Context) {
	from, err := time.ParseInLocation("2006-01-02", c.Query("date_from"), h.region)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid date_from, expected YYYY-MM-DD"})
		return
	}
	to, err := time.ParseInLocation("2006-01-02", c.Query("date_to"), h.region)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid date_to, expected YYYY-MM-DD"})
		return
	}

	data, err := h.exporter.Export(from, to.AddDate(0, 0, 1))
	if err != nil {
		h.logger.Error("Register export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to export register"})
		return
	}

	filename := fmt.Sprintf("register-%s-%s.xlsx", c.Query("date_from"), c.Query("date_to"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// PlanAutoSendRequest is the planning trigger payload
type PlanAutoSendRequest struct {
	DateFrom     string  `json:"dateFrom"`
	DateTo       string  `json:"dateTo"`
	RecipientIDs []int64 `json:"recipientIds"`
}

// PlanAutoSend handles POST /api/autosend: plans a batch and enqueues
// it for background dispatch, returning the batch id immediately
func (h *Handlers) PlanAutoSend(c *gin.Context) {
	var req PlanAutoSendRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
			return
		}
	}

	summary, err := h.autosend.Plan(c.Request.Context(), autosend.PlanRequest{
		DateFrom:     req.DateFrom,
		DateTo:       req.DateTo,
		RecipientIDs: req.RecipientIDs,
		CreatedBy:    operatorID(c),
	})
	if err != nil {
		if errors.Is(err, autosend.ErrNoRecipients) || errors.Is(err, autosend.ErrNoEntries) {
			c.JSON(http.StatusUnprocessableEntity, Response{Success: false, Error: err.Error()})
			return
		}
		h.logger.Error("Auto-send planning failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to plan auto-send"})
		return
	}

	h.dispatch.Enqueue(summary.BatchID)

	c.JSON(http.StatusAccepted, Response{
		Success: true,
		Data: gin.H{
			"batchId": summary.BatchID,
			"batches": summary.TotalBatches,
			"entries": summary.TotalEntries,
			"sent":    summary.Recipients,
		},
	})
}

// GetAutoSendProgress handles GET /api/autosend/:id/progress
func (h *Handlers) GetAutoSendProgress(c *gin.Context) {
	batchID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid batch id"})
		return
	}

	progress, err := h.autosend.GetProgress(c.Request.Context(), batchID)
	if err != nil {
		if errors.Is(err, autosend.ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: "batch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to get progress"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: progress})
}

// ListAutoSendHistory handles GET /api/autosend
func (h *Handlers) ListAutoSendHistory(c *gin.Context) {
	limit, offset := pagination(c)

	batches, err := h.autosend.History(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list auto-send history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to list history"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: batches})
}

// DownloadItemDocuments handles GET /api/autosend/:id/items/:seq/download,
// regenerating the item's statements and returning them as one zip
func (h *Handlers) DownloadItemDocuments(c *gin.Context) {
	batchID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid batch id"})
		return
	}
	sequence, err := strconv.Atoi(c.Param("seq"))
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid item sequence"})
		return
	}

	docs, err := h.autosend.RenderItemDocuments(c.Request.Context(), batchID, sequence)
	if err != nil {
		if errors.Is(err, autosend.ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: "batch item not found"})
			return
		}
		h.logger.Error("Failed to regenerate item documents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to regenerate documents"})
		return
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, doc := range docs {
		f, err := zw.Create(doc.Name)
		if err == nil {
			_, err = f.Write(doc.Data)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to build archive"})
			return
		}
	}
	if err := zw.Close(); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to build archive"})
		return
	}

	filename := fmt.Sprintf("batch-%d-item-%d.zip", batchID, sequence)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

// SetAutoSendToggleRequest is the toggle payload
type SetAutoSendToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// SetAutoSendToggle handles PUT /api/settings/autosend
func (h *Handlers) SetAutoSendToggle(c *gin.Context) {
	var req SetAutoSendToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	if err := h.settings.SetBool(repository.SettingAutoSendEnabled, req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to update setting"})
		return
	}

	if err := h.audit.Append(models.AuditActionAutoSendToggled, "setting", 0, operatorID(c),
		map[string]interface{}{"enabled": req.Enabled}); err != nil {
		h.logger.Warn("Failed to append toggle audit record", zap.Error(err))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"enabled": req.Enabled}})
}

// VerifyEntry handles GET /verify/:regNumber, the public verification page
func (h *Handlers) VerifyEntry(c *gin.Context) {
	regNumber, err := strconv.ParseInt(c.Param("regNumber"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid registration number"})
		return
	}

	found, err := h.entryStore.GetByRegistrationNumber(regNumber)
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "verification unavailable"})
		return
	}
	if found == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "no record with this registration number"})
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"registration_number": found.RegistrationNumber,
			"entry_date":          found.EntryDate.In(h.region).Format("2006-01-02"),
			"product_name":        found.ProductName,
			"quantity":            found.Quantity,
			"has_certificate":     found.HasCertificate(),
		},
	})
}

// ListLookupItems handles GET /api/lookups/:kind
func (h *Handlers) ListLookupItems(c *gin.Context) {
	accessor, ok := h.lookupAccessor(c)
	if !ok {
		return
	}

	items, err := accessor.Find()
	if err != nil {
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to list lookup items"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: items})
}

// LookupItemRequest is the uniform lookup item payload
type LookupItemRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Code        string `json:"code"`
}

// CreateLookupItem handles POST /api/lookups/:kind
func (h *Handlers) CreateLookupItem(c *gin.Context) {
	accessor, ok := h.lookupAccessor(c)
	if !ok {
		return
	}

	var req LookupItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	item, err := accessor.Create(req.Name, req.Description, req.Code)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: item})
}

// UpdateLookupItem handles PUT /api/lookups/:kind/:id
func (h *Handlers) UpdateLookupItem(c *gin.Context) {
	accessor, ok := h.lookupAccessor(c)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid item id"})
		return
	}

	var req LookupItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
		return
	}

	item := &models.LookupItem{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Code:        req.Code,
	}
	if err := accessor.Update(item); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: item})
}

func (h *Handlers) lookupAccessor(c *gin.Context) (lookup.Accessor, bool) {
	kind, err := lookup.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return nil, false
	}

	accessor, err := h.lookups.For(kind)
	if err != nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: err.Error()})
		return nil, false
	}
	return accessor, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
