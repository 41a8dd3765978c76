package repository

import (
	"context"
	"fmt"

	"github.com/vipul43/invoice-intake/internal/models"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an audit entry
func (r *AuditRepository) Create(ctx context.Context, entry models.AuditEntry) error {
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}
	return nil
}

// ListByInvoice retrieves an invoice's audit trail, oldest first
func (r *AuditRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	result := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at ASC").
		Find(&entries)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", result.Error)
	}
	return entries, nil
}
