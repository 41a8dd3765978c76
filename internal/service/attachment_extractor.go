package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/invoice-intake/internal/classifier"
	"github.com/vipul43/invoice-intake/internal/docai"
	"github.com/vipul43/invoice-intake/internal/models"
	"github.com/vipul43/invoice-intake/internal/repository"
	"github.com/vipul43/invoice-intake/internal/storage"
)

// Scanned receipts below this size are usually logos or signatures
const minImageAttachmentSize = 20 * 1024

var invoiceKeywords = []string{"invoice", "receipt", "bill", "statement", "factura"}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
	".heic": true,
	".webp": true,
}

// InvoiceStore interface for invoice persistence used during intake
type InvoiceStore interface {
	Create(ctx context.Context, invoice *models.Invoice) error
	ExistsForAttachment(ctx context.Context, sourceMessageID, attachmentName string) (bool, error)
	FindBySignature(ctx context.Context, vendorName string, amount float64, invoiceDate time.Time, excludeID string) (*models.Invoice, error)
	UpdateExtraction(ctx context.Context, invoiceID string, fields repository.ExtractedFields) error
	MarkDuplicate(ctx context.Context, invoiceID string, duplicateOf string) error
}

// BlobStore interface for attachment storage
type BlobStore interface {
	Put(ctx context.Context, name string, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, name string) error
}

// FieldExtractor interface for the document model's extraction mode
type FieldExtractor interface {
	ExtractFields(ctx context.Context, doc docai.Document) (*docai.ExtractedFields, error)
}

// AuditLog interface for the invoice audit trail
type AuditLog interface {
	Create(ctx context.Context, entry models.AuditEntry) error
}

// InvoiceClassifier classifies a stored invoice and persists the result
type InvoiceClassifier interface {
	ClassifyInvoice(ctx context.Context, invoiceID string, in classifier.Input) (*classifier.Result, error)
}

// AttachmentExtractor stores invoice attachments exactly once and hands them to classification
type AttachmentExtractor struct {
	provider   MailProvider
	invoices   InvoiceStore
	blobs      BlobStore
	extractor  FieldExtractor
	audit      AuditLog
	classifier InvoiceClassifier
	now        func() time.Time
}

func NewAttachmentExtractor(
	provider MailProvider,
	invoices InvoiceStore,
	blobs BlobStore,
	extractor FieldExtractor,
	audit AuditLog,
	invoiceClassifier InvoiceClassifier,
) *AttachmentExtractor {
	return &AttachmentExtractor{
		provider:   provider,
		invoices:   invoices,
		blobs:      blobs,
		extractor:  extractor,
		audit:      audit,
		classifier: invoiceClassifier,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// IsInvoiceAttachment accepts PDFs, and images only when the file name or the
// email subject says it is an invoice and the file is large enough to be a scan
func IsInvoiceAttachment(att Attachment, subject string) bool {
	mimeType := strings.ToLower(att.MimeType)
	ext := strings.ToLower(path.Ext(att.Filename))

	if mimeType == "application/pdf" || ext == ".pdf" {
		return true
	}

	if !strings.HasPrefix(mimeType, "image/") && !imageExtensions[ext] {
		return false
	}

	size := att.Size
	if size == 0 {
		size = int64(len(att.InlineData))
	}
	if size < minImageAttachmentSize {
		return false
	}

	haystack := strings.ToLower(att.Filename + " " + subject)
	for _, keyword := range invoiceKeywords {
		if strings.Contains(haystack, keyword) {
			return true
		}
	}
	return false
}

// ProcessMessage handles the message's attachments in listed order and returns how many
// invoices it created. Only rate limiting aborts the message; other attachment
// failures are logged and skipped.
func (e *AttachmentExtractor) ProcessMessage(ctx context.Context, mailboxID string, accessToken string, msg *EmailMessage) (int, error) {
	created := 0

	for _, att := range msg.Attachments {
		if !IsInvoiceAttachment(att, msg.Subject) {
			continue
		}

		ok, err := e.processAttachment(ctx, mailboxID, accessToken, msg, att)
		if err != nil {
			var rateLimitErr *RateLimitError
			if errors.As(err, &rateLimitErr) {
				return created, err
			}
			log.Printf("Warning: failed to process attachment %s of message %s: %v", att.Filename, msg.ID, err)
			continue
		}
		if ok {
			created++
		}
	}

	return created, nil
}

func (e *AttachmentExtractor) processAttachment(ctx context.Context, mailboxID, accessToken string, msg *EmailMessage, att Attachment) (bool, error) {
	// Step 1: skip attachments that already produced an invoice
	exists, err := e.invoices.ExistsForAttachment(ctx, msg.ID, att.Filename)
	if err != nil {
		return false, err
	}
	if exists {
		log.Printf("Skipping duplicate attachment %s of message %s", att.Filename, msg.ID)
		return false, nil
	}

	// Step 2: download
	data := att.InlineData
	if len(data) == 0 {
		data, err = e.provider.DownloadAttachment(ctx, accessToken, msg.ID, att.AttachmentID)
		if err != nil {
			return false, err
		}
	}

	// Step 3: upload
	contentType := att.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	blobName := storage.ObjectName(mailboxID, msg.ID, att.Filename)
	fileURL, err := e.blobs.Put(ctx, blobName, contentType, data)
	if err != nil {
		return false, fmt.Errorf("failed to upload attachment: %w", err)
	}

	// Step 4: create the visible record before any model call
	now := e.now()
	messageID := msg.ID
	attachmentName := att.Filename
	invoice := &models.Invoice{
		ID:              uuid.New().String(),
		MailboxID:       mailboxID,
		SourceMessageID: &messageID,
		AttachmentName:  &attachmentName,
		BlobName:        blobName,
		FileURL:         fileURL,
		ContentType:     contentType,
		VendorName:      models.PlaceholderVendorName,
		Status:          models.InvoiceStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.invoices.Create(ctx, invoice); err != nil {
		if delErr := e.blobs.Delete(ctx, blobName); delErr != nil {
			log.Printf("Warning: failed to delete orphaned blob %s: %v", blobName, delErr)
		}
		return false, err
	}

	log.Printf("Created invoice %s from attachment %s of message %s", invoice.ID, att.Filename, msg.ID)
	e.record(ctx, invoice.ID, models.AuditActionCreated, models.JSONB{
		"source_message_id": msg.ID,
		"attachment_name":   att.Filename,
		"blob_name":         blobName,
	})

	// Step 5: field extraction, falling back to the email text
	input := classifier.Input{
		VendorName: models.PlaceholderVendorName,
		Text:       strings.TrimSpace(msg.Subject + "\n" + msg.BodyText),
	}

	fields, err := e.extractor.ExtractFields(ctx, docai.Document{
		Name:     att.Filename,
		MimeType: contentType,
		Data:     data,
		Hint:     msg.Subject + "\n" + msg.BodyText,
	})
	if err != nil {
		log.Printf("Warning: field extraction failed for invoice %s: %v", invoice.ID, err)
	} else {
		extracted := toExtractedFields(fields)
		if err := e.invoices.UpdateExtraction(ctx, invoice.ID, extracted); err != nil {
			log.Printf("Warning: failed to store extracted fields for invoice %s: %v", invoice.ID, err)
		}

		input.VendorName = extracted.VendorName
		input.Amount = extracted.Amount
		if fields.Text != nil && *fields.Text != "" {
			input.Text = *fields.Text + "\n" + input.Text
		}

		// Step 6: the same invoice sent twice is recorded but not classified
		if duplicate := e.findDuplicate(ctx, invoice.ID, extracted); duplicate != nil {
			return true, nil
		}
	}

	// Step 7: classification (awaited)
	if _, err := e.classifier.ClassifyInvoice(ctx, invoice.ID, input); err != nil {
		log.Printf("Warning: classification failed for invoice %s: %v", invoice.ID, err)
	}

	return true, nil
}

// findDuplicate marks the invoice as a duplicate when another invoice carries the same signature
func (e *AttachmentExtractor) findDuplicate(ctx context.Context, invoiceID string, fields repository.ExtractedFields) *models.Invoice {
	if fields.VendorName == models.PlaceholderVendorName || fields.Amount == nil || fields.InvoiceDate == nil {
		return nil
	}

	original, err := e.invoices.FindBySignature(ctx, fields.VendorName, *fields.Amount, *fields.InvoiceDate, invoiceID)
	if err != nil {
		log.Printf("Warning: duplicate check failed for invoice %s: %v", invoiceID, err)
		return nil
	}
	if original == nil {
		return nil
	}

	if err := e.invoices.MarkDuplicate(ctx, invoiceID, original.ID); err != nil {
		log.Printf("Warning: failed to mark invoice %s as duplicate: %v", invoiceID, err)
		return nil
	}

	log.Printf("Invoice %s duplicates invoice %s, skipping classification", invoiceID, original.ID)
	e.record(ctx, invoiceID, models.AuditActionDuplicate, models.JSONB{"duplicate_of": original.ID})
	return original
}

func (e *AttachmentExtractor) record(ctx context.Context, invoiceID, action string, details models.JSONB) {
	entry := models.AuditEntry{
		ID:        uuid.New().String(),
		InvoiceID: invoiceID,
		Action:    action,
		Actor:     models.ActorSystem,
		Details:   details,
		CreatedAt: e.now(),
	}
	if err := e.audit.Create(ctx, entry); err != nil {
		log.Printf("Warning: failed to write audit entry %s for invoice %s: %v", action, invoiceID, err)
	}
}

func toExtractedFields(fields *docai.ExtractedFields) repository.ExtractedFields {
	vendorName := models.PlaceholderVendorName
	if fields.VendorName != nil && strings.TrimSpace(*fields.VendorName) != "" {
		vendorName = strings.TrimSpace(*fields.VendorName)
	}

	return repository.ExtractedFields{
		VendorName:    vendorName,
		InvoiceNumber: fields.InvoiceNumber,
		InvoiceDate:   docai.ParseDate(fields.InvoiceDate),
		DueDate:       docai.ParseDate(fields.DueDate),
		Amount:        fields.Amount,
		Currency:      fields.Currency,
	}
}
