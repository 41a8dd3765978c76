package service

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/invoice-intake/internal/classifier"
	"github.com/vipul43/invoice-intake/internal/models"
	"github.com/vipul43/invoice-intake/internal/repository"
)

var ErrInvoiceNotPending = repository.ErrInvoiceNotPending

// Learned patterns accept amounts within this fraction of the approved amount
const learnedAmountTolerance = 0.2

// ReviewInvoiceStore interface for invoices under review
type ReviewInvoiceStore interface {
	GetByID(ctx context.Context, invoiceID string) (*models.Invoice, error)
	UpdateClassification(ctx context.Context, invoiceID string, fields repository.ClassificationFields) error
	UpdateStatus(ctx context.Context, invoiceID string, status string) error
}

// PatternLearner interface for pattern feedback and learning
type PatternLearner interface {
	List(ctx context.Context) ([]models.ClassificationPattern, error)
	Create(ctx context.Context, pattern *models.ClassificationPattern) error
	RecordOutcome(ctx context.Context, patternID string, success bool) error
}

// Corrections are reviewer overrides applied on approval. Nil fields keep the current value.
type Corrections struct {
	Category      *string `json:"category"`
	Subcategory   *string `json:"subcategory"`
	GLAccount     *string `json:"gl_account"`
	Branch        *string `json:"branch"`
	Division      *string `json:"division"`
	PaymentMethod *string `json:"payment_method"`
	Description   *string `json:"description"`
}

// ApprovalService closes the review loop: it settles invoices and feeds the
// outcome back into the learned patterns
type ApprovalService struct {
	invoices ReviewInvoiceStore
	patterns PatternLearner
	audit    AuditLog
	now      func() time.Time
}

func NewApprovalService(invoices ReviewInvoiceStore, patterns PatternLearner, audit AuditLog) *ApprovalService {
	return &ApprovalService{
		invoices: invoices,
		patterns: patterns,
		audit:    audit,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Approve settles a pending invoice, optionally correcting its classification
func (s *ApprovalService) Approve(ctx context.Context, invoiceID string, actor string, corrections *Corrections) (*models.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != models.InvoiceStatusPending {
		return nil, ErrInvoiceNotPending
	}

	// Claim the transition before any side effect
	if err := s.invoices.UpdateStatus(ctx, invoice.ID, models.InvoiceStatusApproved); err != nil {
		return nil, err
	}
	invoice.Status = models.InvoiceStatusApproved

	corrected := applyCorrections(invoice, corrections)
	if corrected {
		err := s.invoices.UpdateClassification(ctx, invoice.ID, repository.ClassificationFields{
			Category:             invoice.Category,
			Subcategory:          invoice.Subcategory,
			GLAccount:            invoice.GLAccount,
			Branch:               invoice.Branch,
			Division:             invoice.Division,
			PaymentMethod:        invoice.PaymentMethod,
			Description:          invoice.Description,
			Confidence:           invoice.Confidence,
			ClassificationMethod: invoice.ClassificationMethod,
			PatternID:            invoice.PatternID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store corrections: %w", err)
		}
	}

	if invoice.PatternID != nil {
		if err := s.patterns.RecordOutcome(ctx, *invoice.PatternID, !corrected); err != nil {
			log.Printf("Warning: failed to record outcome for pattern %s: %v", *invoice.PatternID, err)
		}
	}

	learned := s.learnPattern(ctx, invoice)

	s.record(ctx, invoice.ID, models.AuditActionApproved, actor, models.JSONB{
		"corrected":       corrected,
		"pattern_learned": learned,
	})
	log.Printf("Invoice %s approved by %s (corrected: %v)", invoice.ID, actor, corrected)

	return invoice, nil
}

// Reject closes a pending invoice as not payable
func (s *ApprovalService) Reject(ctx context.Context, invoiceID string, actor string, reason string) (*models.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != models.InvoiceStatusPending {
		return nil, ErrInvoiceNotPending
	}

	if err := s.invoices.UpdateStatus(ctx, invoice.ID, models.InvoiceStatusRejected); err != nil {
		return nil, err
	}
	invoice.Status = models.InvoiceStatusRejected

	if invoice.PatternID != nil {
		if err := s.patterns.RecordOutcome(ctx, *invoice.PatternID, false); err != nil {
			log.Printf("Warning: failed to record outcome for pattern %s: %v", *invoice.PatternID, err)
		}
	}

	s.record(ctx, invoice.ID, models.AuditActionRejected, actor, models.JSONB{"reason": reason})
	log.Printf("Invoice %s rejected by %s", invoice.ID, actor)

	return invoice, nil
}

// learnPattern stores a pattern for the vendor when no existing pattern recognises it
func (s *ApprovalService) learnPattern(ctx context.Context, invoice *models.Invoice) bool {
	if invoice.VendorName == "" || invoice.VendorName == models.PlaceholderVendorName {
		return false
	}
	if invoice.Category == nil || *invoice.Category == "" || invoice.Subcategory == nil || *invoice.Subcategory == "" {
		return false
	}

	patterns, err := s.patterns.List(ctx)
	if err != nil {
		log.Printf("Warning: failed to load patterns: %v", err)
		return false
	}
	for _, pattern := range patterns {
		if classifier.MatchesVendor(pattern, invoice.VendorName) {
			return false
		}
	}

	now := s.now()
	sourceID := invoice.ID
	pattern := &models.ClassificationPattern{
		ID:              uuid.New().String(),
		VendorRegex:     "^" + regexp.QuoteMeta(invoice.VendorName) + "$",
		Category:        *invoice.Category,
		Subcategory:     *invoice.Subcategory,
		GLAccount:       invoice.GLAccount,
		Branch:          invoice.Branch,
		PaymentMethod:   invoice.PaymentMethod,
		SuccessRate:     1,
		FeedbackCount:   1,
		SourceInvoiceID: &sourceID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if invoice.Amount != nil {
		amountMin := *invoice.Amount * (1 - learnedAmountTolerance)
		amountMax := *invoice.Amount * (1 + learnedAmountTolerance)
		pattern.AmountMin = &amountMin
		pattern.AmountMax = &amountMax
	}

	if err := s.patterns.Create(ctx, pattern); err != nil {
		log.Printf("Warning: failed to learn pattern for vendor %s: %v", invoice.VendorName, err)
		return false
	}

	log.Printf("Learned pattern %s for vendor %s", pattern.ID, invoice.VendorName)
	return true
}

func (s *ApprovalService) record(ctx context.Context, invoiceID, action, actor string, details models.JSONB) {
	entry := models.AuditEntry{
		ID:        uuid.New().String(),
		InvoiceID: invoiceID,
		Action:    action,
		Actor:     actor,
		Details:   details,
		CreatedAt: s.now(),
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		log.Printf("Warning: failed to write audit entry %s for invoice %s: %v", action, invoiceID, err)
	}
}

// applyCorrections copies overrides onto the invoice and reports whether anything changed
func applyCorrections(invoice *models.Invoice, corrections *Corrections) bool {
	if corrections == nil {
		return false
	}

	changed := false
	apply := func(target **string, value *string) {
		if value == nil {
			return
		}
		if *target != nil && **target == *value {
			return
		}
		v := *value
		*target = &v
		changed = true
	}

	apply(&invoice.Category, corrections.Category)
	apply(&invoice.Subcategory, corrections.Subcategory)
	apply(&invoice.GLAccount, corrections.GLAccount)
	apply(&invoice.Branch, corrections.Branch)
	apply(&invoice.Division, corrections.Division)
	apply(&invoice.PaymentMethod, corrections.PaymentMethod)
	apply(&invoice.Description, corrections.Description)

	return changed
}
