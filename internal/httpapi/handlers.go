package httpapi

import (
	"crypto/subtle"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vipul43/invoice-intake/internal/models"
	"github.com/vipul43/invoice-intake/internal/repository"
	"github.com/vipul43/invoice-intake/internal/service"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	defaultActor     = "reviewer"
)

// handleGmailWebhook acknowledges a push delivery once the notification is durably recorded.
// Malformed payloads are acknowledged too, since redelivering them cannot succeed.
func (s *Server) handleGmailWebhook(c *gin.Context) {
	if s.opts.WebhookToken != "" {
		token := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.WebhookToken)) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "invalid webhook token"})
			return
		}
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Printf("[Webhook] Failed to read body: %v", err)
		c.Status(http.StatusNoContent)
		return
	}

	notification, err := service.DecodePushEnvelope(body)
	if err != nil {
		log.Printf("[Webhook] Dropping malformed notification: %v", err)
		c.Status(http.StatusNoContent)
		return
	}

	outcome, err := s.intake.HandleNotification(c.Request.Context(), *notification)
	if err != nil {
		log.Printf("[Webhook] Failed to record notification for %s: %v", notification.EmailAddress, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record notification"})
		return
	}

	log.Printf("[Webhook] Notification for %s at %d: %s", notification.EmailAddress, notification.HistoryID, outcome)
	c.JSON(http.StatusOK, gin.H{"status": outcome})
}

func (s *Server) handleDrain(c *gin.Context) {
	summary, err := s.drainer.Drain(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (s *Server) handleListInvoices(c *gin.Context) {
	status := c.DefaultQuery("status", models.InvoiceStatusPending)
	switch status {
	case models.InvoiceStatusPending, models.InvoiceStatusApproved, models.InvoiceStatusRejected:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be pending, approved or rejected"})
		return
	}

	limit := defaultListLimit
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	invoices, total, err := s.invoices.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	items := make([]invoiceResponse, 0, len(invoices))
	for _, invoice := range invoices {
		items = append(items, toInvoiceResponse(invoice))
	}

	c.JSON(http.StatusOK, invoiceListResponse{
		Invoices: items,
		Limit:    limit,
		Offset:   offset,
		Total:    total,
	})
}

func (s *Server) handleGetInvoice(c *gin.Context) {
	invoice, err := s.invoices.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeReviewError(c, err)
		return
	}

	entries, err := s.audit.ListByInvoice(c.Request.Context(), invoice.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	trail := make([]auditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		trail = append(trail, auditEntryResponse{
			Action:    entry.Action,
			Actor:     entry.Actor,
			Details:   entry.Details,
			CreatedAt: entry.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, invoiceDetailResponse{
		Invoice:    toInvoiceResponse(*invoice),
		AuditTrail: trail,
	})
}

type approveRequest struct {
	Actor       string               `json:"actor"`
	Corrections *service.Corrections `json:"corrections"`
}

func (s *Server) handleApprove(c *gin.Context) {
	var req approveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	invoice, err := s.reviewer.Approve(c.Request.Context(), c.Param("id"), actorOrDefault(req.Actor), req.Corrections)
	if err != nil {
		writeReviewError(c, err)
		return
	}

	c.JSON(http.StatusOK, toInvoiceResponse(*invoice))
}

type rejectRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func (s *Server) handleReject(c *gin.Context) {
	var req rejectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	invoice, err := s.reviewer.Reject(c.Request.Context(), c.Param("id"), actorOrDefault(req.Actor), req.Reason)
	if err != nil {
		writeReviewError(c, err)
		return
	}

	c.JSON(http.StatusOK, toInvoiceResponse(*invoice))
}

func writeReviewError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrInvoiceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
	case errors.Is(err, service.ErrInvoiceNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func actorOrDefault(actor string) string {
	if actor == "" {
		return defaultActor
	}
	return actor
}

type invoiceListResponse struct {
	Invoices []invoiceResponse `json:"invoices"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
	Total    int64             `json:"total"`
}

type invoiceDetailResponse struct {
	Invoice    invoiceResponse      `json:"invoice"`
	AuditTrail []auditEntryResponse `json:"audit_trail"`
}

type auditEntryResponse struct {
	Action    string       `json:"action"`
	Actor     string       `json:"actor"`
	Details   models.JSONB `json:"details"`
	CreatedAt time.Time    `json:"created_at"`
}

type invoiceResponse struct {
	ID                   string     `json:"id"`
	MailboxID            string     `json:"mailbox_id"`
	SourceMessageID      *string    `json:"source_message_id"`
	AttachmentName       *string    `json:"attachment_name"`
	FileURL              string     `json:"file_url"`
	VendorName           string     `json:"vendor_name"`
	InvoiceNumber        *string    `json:"invoice_number"`
	InvoiceDate          *time.Time `json:"invoice_date"`
	DueDate              *time.Time `json:"due_date"`
	Amount               *float64   `json:"amount"`
	Currency             *string    `json:"currency"`
	Category             *string    `json:"category"`
	Subcategory          *string    `json:"subcategory"`
	GLAccount            *string    `json:"gl_account"`
	Branch               *string    `json:"branch"`
	Division             *string    `json:"division"`
	PaymentMethod        *string    `json:"payment_method"`
	Description          *string    `json:"description"`
	Confidence           *float64   `json:"confidence"`
	ClassificationMethod *string    `json:"classification_method"`
	DuplicateOf          *string    `json:"duplicate_of"`
	Status               string     `json:"status"`
	IsPaid               bool       `json:"is_paid"`
	CreatedAt            time.Time  `json:"created_at"`
}

func toInvoiceResponse(invoice models.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:                   invoice.ID,
		MailboxID:            invoice.MailboxID,
		SourceMessageID:      invoice.SourceMessageID,
		AttachmentName:       invoice.AttachmentName,
		FileURL:              invoice.FileURL,
		VendorName:           invoice.VendorName,
		InvoiceNumber:        invoice.InvoiceNumber,
		InvoiceDate:          invoice.InvoiceDate,
		DueDate:              invoice.DueDate,
		Amount:               invoice.Amount,
		Currency:             invoice.Currency,
		Category:             invoice.Category,
		Subcategory:          invoice.Subcategory,
		GLAccount:            invoice.GLAccount,
		Branch:               invoice.Branch,
		Division:             invoice.Division,
		PaymentMethod:        invoice.PaymentMethod,
		Description:          invoice.Description,
		Confidence:           invoice.Confidence,
		ClassificationMethod: invoice.ClassificationMethod,
		DuplicateOf:          invoice.DuplicateOf,
		Status:               invoice.Status,
		IsPaid:               invoice.IsPaid,
		CreatedAt:            invoice.CreatedAt,
	}
}
