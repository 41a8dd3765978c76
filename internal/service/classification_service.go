package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/invoice-intake/internal/classifier"
	"github.com/vipul43/invoice-intake/internal/models"
	"github.com/vipul43/invoice-intake/internal/repository"
)

// Classifier interface for the classification engine
type Classifier interface {
	Classify(ctx context.Context, in classifier.Input) classifier.Result
}

// ClassificationStore interface for writing classification results
type ClassificationStore interface {
	UpdateClassification(ctx context.Context, invoiceID string, fields repository.ClassificationFields) error
	UpdateStatus(ctx context.Context, invoiceID string, status string) error
}

// VendorProfileStore interface for vendor statistics
type VendorProfileStore interface {
	RecordObservation(ctx context.Context, name string, category string, amount float64, observedAt time.Time) (*models.VendorProfile, error)
}

// ClassificationService runs the engine for a stored invoice, persists the result,
// audits it and folds it into the vendor profile
type ClassificationService struct {
	engine   Classifier
	invoices ClassificationStore
	vendors  VendorProfileStore
	audit    AuditLog
	now      func() time.Time
}

func NewClassificationService(engine Classifier, invoices ClassificationStore, vendors VendorProfileStore, audit AuditLog) *ClassificationService {
	return &ClassificationService{
		engine:   engine,
		invoices: invoices,
		vendors:  vendors,
		audit:    audit,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ClassifyInvoice classifies and stores the result. The invoice stays visible
// whatever happens; the engine itself never fails.
func (s *ClassificationService) ClassifyInvoice(ctx context.Context, invoiceID string, in classifier.Input) (*classifier.Result, error) {
	in.InvoiceID = invoiceID
	result := s.engine.Classify(ctx, in)

	category := result.Category
	subcategory := result.Subcategory
	confidence := result.Confidence
	method := result.Method

	err := s.invoices.UpdateClassification(ctx, invoiceID, repository.ClassificationFields{
		Category:             &category,
		Subcategory:          &subcategory,
		GLAccount:            result.GLAccount,
		Branch:               result.Branch,
		Division:             result.Division,
		PaymentMethod:        result.PaymentMethod,
		Description:          result.Description,
		Confidence:           &confidence,
		ClassificationMethod: &method,
		PatternID:            result.PatternID,
	})
	if err != nil {
		return &result, fmt.Errorf("failed to store classification: %w", err)
	}

	log.Printf("Classified invoice %s as %s / %s (method: %s, confidence: %.2f)", invoiceID, category, subcategory, method, confidence)
	s.record(ctx, invoiceID, models.AuditActionClassified, models.JSONB{
		"category":    category,
		"subcategory": subcategory,
		"method":      method,
		"confidence":  confidence,
	})

	if in.Amount == nil || in.VendorName == "" || in.VendorName == models.PlaceholderVendorName {
		return &result, nil
	}

	profile, err := s.vendors.RecordObservation(ctx, in.VendorName, category, *in.Amount, s.now())
	if err != nil {
		log.Printf("Warning: failed to update vendor profile for %s: %v", in.VendorName, err)
		return &result, nil
	}

	// Only remembered vendors are ever approved without a human
	if method == models.MethodVendor && confidence >= profile.AutoApprovalThreshold {
		if err := s.invoices.UpdateStatus(ctx, invoiceID, models.InvoiceStatusApproved); err != nil {
			log.Printf("Warning: failed to auto-approve invoice %s: %v", invoiceID, err)
			return &result, nil
		}
		log.Printf("Auto-approved invoice %s for vendor %s", invoiceID, in.VendorName)
		s.record(ctx, invoiceID, models.AuditActionAutoApproved, models.JSONB{
			"threshold":  profile.AutoApprovalThreshold,
			"confidence": confidence,
		})
	}

	return &result, nil
}

func (s *ClassificationService) record(ctx context.Context, invoiceID, action string, details models.JSONB) {
	entry := models.AuditEntry{
		ID:        uuid.New().String(),
		InvoiceID: invoiceID,
		Action:    action,
		Actor:     models.ActorSystem,
		Details:   details,
		CreatedAt: s.now(),
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		log.Printf("Warning: failed to write audit entry %s for invoice %s: %v", action, invoiceID, err)
	}
}
