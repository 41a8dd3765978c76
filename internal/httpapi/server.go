package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/vipul43/invoice-intake/internal/models"
	"github.com/vipul43/invoice-intake/internal/service"
)

// NotificationIntake interface for the webhook's intake path
type NotificationIntake interface {
	HandleNotification(ctx context.Context, n service.Notification) (string, error)
}

// QueueDrainer interface for the queue-drain trigger
type QueueDrainer interface {
	Drain(ctx context.Context) (*service.DrainSummary, error)
}

// InvoiceLister interface for the review listing
type InvoiceLister interface {
	ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.Invoice, int64, error)
	GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error)
}

type AuditReader interface {
	ListByInvoice(ctx context.Context, invoiceID string) ([]models.AuditEntry, error)
}

// InvoiceReviewer interface for approve/reject
type InvoiceReviewer interface {
	Approve(ctx context.Context, invoiceID string, actor string, corrections *service.Corrections) (*models.Invoice, error)
	Reject(ctx context.Context, invoiceID string, actor string, reason string) (*models.Invoice, error)
}

type Options struct {
	WebhookToken string // Optional shared secret expected in the push endpoint's token query parameter
}

// Server exposes the webhook, queue-drain and review endpoints
type Server struct {
	intake   NotificationIntake
	drainer  QueueDrainer
	invoices InvoiceLister
	audit    AuditReader
	reviewer InvoiceReviewer
	opts     Options
	router   *gin.Engine
}

func NewServer(intake NotificationIntake, drainer QueueDrainer, invoices InvoiceLister, audit AuditReader, reviewer InvoiceReviewer, opts Options) *Server {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	s := &Server{
		intake:   intake,
		drainer:  drainer,
		invoices: invoices,
		audit:    audit,
		reviewer: reviewer,
		opts:     opts,
		router:   router,
	}

	router.GET("/health", s.handleHealth)
	router.POST("/webhooks/gmail", s.handleGmailWebhook)

	api := router.Group("/api")
	{
		api.POST("/queue/drain", s.handleDrain)
		api.GET("/invoices", s.handleListInvoices)
		api.GET("/invoices/:id", s.handleGetInvoice)
		api.POST("/invoices/:id/approve", s.handleApprove)
		api.POST("/invoices/:id/reject", s.handleReject)
	}

	return s
}

// Handler returns the HTTP handler for use with http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
