package models

import "time"

// FuelEntry represents one logged fuel delivery in the register.
// RegistrationNumber is assigned exactly once by the store's atomic
// sequence; gaps from compensated creations are permanent.
type FuelEntry struct {
	ID                    int64      `json:"id"`
	RegistrationNumber    int64      `json:"registration_number"`
	EntryDate             time.Time  `json:"entry_date"`
	WarehouseID           int64      `json:"warehouse_id"`
	ProductName           string     `json:"product_name"`
	Quantity              int64      `json:"quantity"` // litres
	SupplierName          string     `json:"supplier_name,omitempty"`
	TransporterName       string     `json:"transporter_name,omitempty"`
	VehicleReg            string     `json:"vehicle_reg,omitempty"`
	CustomsDocument       string     `json:"customs_document,omitempty"`
	LabReportNumber       string     `json:"lab_report_number,omitempty"`
	QualityClass          string     `json:"quality_class,omitempty"`
	CertificatePath       string     `json:"certificate_path,omitempty"`
	CertificateFileName   string     `json:"certificate_file_name,omitempty"`
	CertificateUploadedAt *time.Time `json:"certificate_uploaded_at,omitempty"`
	IsActive              bool       `json:"is_active"`
	OperatorID            int64      `json:"operator_id"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// HasCertificate reports whether a conformity certificate is attached
func (e *FuelEntry) HasCertificate() bool {
	return e.CertificatePath != ""
}

// EntryDetails is a FuelEntry joined with its related display data
type EntryDetails struct {
	FuelEntry
	WarehouseName string `json:"warehouse_name"`
	OperatorName  string `json:"operator_name"`
}

// Warehouse is a storage site registered with the authority
type Warehouse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
