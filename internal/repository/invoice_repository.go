package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/invoice-intake/internal/models"
	"gorm.io/gorm"
)

var (
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrInvoiceNotPending = errors.New("invoice is not pending review")
)

type InvoiceRepository struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// ExtractedFields are the document fields written back after field extraction
type ExtractedFields struct {
	VendorName    string
	InvoiceNumber *string
	InvoiceDate   *time.Time
	DueDate       *time.Time
	Amount        *float64
	Currency      *string
}

// ClassificationFields are the accounting fields written by the classification engine
// or a reviewer
type ClassificationFields struct {
	Category             *string
	Subcategory          *string
	GLAccount            *string
	Branch               *string
	Division             *string
	PaymentMethod        *string
	Description          *string
	Confidence           *float64
	ClassificationMethod *string
	PatternID            *string
}

// Create inserts a new invoice
func (r *InvoiceRepository) Create(ctx context.Context, invoice *models.Invoice) error {
	if err := r.db.WithContext(ctx).Create(invoice).Error; err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	return nil
}

// GetByID retrieves an invoice by ID
func (r *InvoiceRepository) GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error) {
	var invoice models.Invoice
	result := r.db.WithContext(ctx).First(&invoice, "id = ?", invoiceID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", result.Error)
	}
	return &invoice, nil
}

// ExistsForAttachment reports whether this attachment of this message already produced an invoice
func (r *InvoiceRepository) ExistsForAttachment(ctx context.Context, sourceMessageID, attachmentName string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("source_message_id = ? AND attachment_name = ?", sourceMessageID, attachmentName).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check attachment: %w", result.Error)
	}
	return count > 0, nil
}

// FindBySignature looks for another non-rejected invoice with the same vendor, amount and date.
// Returns nil when there is none.
func (r *InvoiceRepository) FindBySignature(ctx context.Context, vendorName string, amount float64, invoiceDate time.Time, excludeID string) (*models.Invoice, error) {
	var invoice models.Invoice
	result := r.db.WithContext(ctx).
		Where("LOWER(vendor_name) = LOWER(?) AND amount = ? AND invoice_date = ?", vendorName, amount, invoiceDate).
		Where("id <> ? AND status <> ?", excludeID, models.InvoiceStatusRejected).
		Order("created_at ASC").
		Limit(1).
		Find(&invoice)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query invoice signature: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &invoice, nil
}

// LatestConfirmedForVendor returns the most recent non-pending invoice of the vendor with
// both category and subcategory set, or nil when the vendor has none
func (r *InvoiceRepository) LatestConfirmedForVendor(ctx context.Context, vendorName string, excludeID string) (*models.Invoice, error) {
	var invoice models.Invoice
	result := r.db.WithContext(ctx).
		Where("LOWER(TRIM(vendor_name)) = ? AND id <> ?", models.VendorKey(vendorName), excludeID).
		Where("status <> ?", models.InvoiceStatusPending).
		Where("category IS NOT NULL AND category <> '' AND subcategory IS NOT NULL AND subcategory <> ''").
		Order("updated_at DESC").
		Limit(1).
		Find(&invoice)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query vendor history: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &invoice, nil
}

// UpdateExtraction writes extracted document fields
func (r *InvoiceRepository) UpdateExtraction(ctx context.Context, invoiceID string, fields ExtractedFields) error {
	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Updates(map[string]interface{}{
			"vendor_name":    fields.VendorName,
			"invoice_number": fields.InvoiceNumber,
			"invoice_date":   fields.InvoiceDate,
			"due_date":       fields.DueDate,
			"amount":         fields.Amount,
			"currency":       fields.Currency,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update extracted fields: %w", result.Error)
	}
	return nil
}

// UpdateClassification writes classification fields
func (r *InvoiceRepository) UpdateClassification(ctx context.Context, invoiceID string, fields ClassificationFields) error {
	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Updates(map[string]interface{}{
			"category":              fields.Category,
			"subcategory":           fields.Subcategory,
			"gl_account":            fields.GLAccount,
			"branch":                fields.Branch,
			"division":              fields.Division,
			"payment_method":        fields.PaymentMethod,
			"description":           fields.Description,
			"confidence":            fields.Confidence,
			"classification_method": fields.ClassificationMethod,
			"pattern_id":            fields.PatternID,
			"updated_at":            time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update classification: %w", result.Error)
	}
	return nil
}

// UpdateStatus settles a pending invoice. Only one caller can move a given invoice
// out of pending; the others get ErrInvoiceNotPending.
func (r *InvoiceRepository) UpdateStatus(ctx context.Context, invoiceID string, status string) error {
	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, models.InvoiceStatusPending).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update invoice status: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Invoice{}).Where("id = ?", invoiceID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check invoice: %w", err)
	}
	if count == 0 {
		return ErrInvoiceNotFound
	}
	return ErrInvoiceNotPending
}

// MarkDuplicate rejects an invoice as a copy of an earlier one
func (r *InvoiceRepository) MarkDuplicate(ctx context.Context, invoiceID string, duplicateOf string) error {
	result := r.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Updates(map[string]interface{}{
			"duplicate_of": duplicateOf,
			"status":       models.InvoiceStatusRejected,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark duplicate: %w", result.Error)
	}
	return nil
}

// ListByStatus retrieves a page of invoices, newest first. Empty status lists all.
func (r *InvoiceRepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Invoice, int64, error) {
	scoped := func() *gorm.DB {
		query := r.db.WithContext(ctx).Model(&models.Invoice{})
		if status != "" {
			query = query.Where("status = ?", status)
		}
		return query
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count invoices: %w", err)
	}

	var invoices []models.Invoice
	if err := scoped().Order("created_at DESC").Limit(limit).Offset(offset).Find(&invoices).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, total, nil
}
