package models

import "time"

// Invoice status constants
const (
	InvoiceStatusPending  = "pending"
	InvoiceStatusApproved = "approved"
	InvoiceStatusRejected = "rejected"
)

// Classification method constants
const (
	MethodVendor  = "vendor"
	MethodPattern = "pattern"
	MethodModel   = "gpt4o"
	MethodHybrid  = "hybrid"
)

// PlaceholderVendorName is stored until field extraction names the vendor
const PlaceholderVendorName = "Processing..."

// Invoice is created by the sync worker right after the attachment upload,
// so a visible row exists before classification runs.
type Invoice struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	MailboxID            string     `gorm:"column:mailbox_id;index"`
	SourceMessageID      *string    `gorm:"column:source_message_id;uniqueIndex:idx_invoice_source_attachment"`
	AttachmentName       *string    `gorm:"column:attachment_name;uniqueIndex:idx_invoice_source_attachment"`
	BlobName             string     `gorm:"column:blob_name"`
	FileURL              string     `gorm:"column:file_url"`
	ContentType          string     `gorm:"column:content_type"`
	VendorName           string     `gorm:"column:vendor_name;index"`
	InvoiceNumber        *string    `gorm:"column:invoice_number"`
	InvoiceDate          *time.Time `gorm:"column:invoice_date"`
	DueDate              *time.Time `gorm:"column:due_date"`
	Amount               *float64   `gorm:"column:amount"`
	Currency             *string    `gorm:"column:currency"`
	Category             *string    `gorm:"column:category"`
	Subcategory          *string    `gorm:"column:subcategory"`
	GLAccount            *string    `gorm:"column:gl_account"`
	Branch               *string    `gorm:"column:branch"`
	Division             *string    `gorm:"column:division"`
	PaymentMethod        *string    `gorm:"column:payment_method"`
	Description          *string    `gorm:"column:description"`
	Confidence           *float64   `gorm:"column:confidence"`
	ClassificationMethod *string    `gorm:"column:classification_method"`
	PatternID            *string    `gorm:"column:pattern_id"`
	DuplicateOf          *string    `gorm:"column:duplicate_of"`
	Status               string     `gorm:"column:status;not null;default:pending;index"`
	IsPaid               bool       `gorm:"column:is_paid;not null;default:false"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Invoice) TableName() string {
	return "invoice"
}

// HasConfirmedClassification reports whether a human (or auto-approval) has
// settled this invoice with both category and subcategory filled in
func (i Invoice) HasConfirmedClassification() bool {
	if i.Status == InvoiceStatusPending {
		return false
	}
	return i.Category != nil && *i.Category != "" && i.Subcategory != nil && *i.Subcategory != ""
}
