package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/invoice-intake/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrVendorProfileNotFound = errors.New("vendor profile not found")

type VendorProfileRepository struct {
	db *gorm.DB
}

func NewVendorProfileRepository(db *gorm.DB) *VendorProfileRepository {
	return &VendorProfileRepository{db: db}
}

// GetByName retrieves a vendor profile by vendor name, ignoring case and surrounding space
func (r *VendorProfileRepository) GetByName(ctx context.Context, name string) (*models.VendorProfile, error) {
	var profile models.VendorProfile
	result := r.db.WithContext(ctx).First(&profile, "name = ?", models.VendorKey(name))
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrVendorProfileNotFound
		}
		return nil, fmt.Errorf("failed to get vendor profile: %w", result.Error)
	}
	return &profile, nil
}

// ObservationCount returns how many invoices the vendor has been seen on (0 for unknown vendors)
func (r *VendorProfileRepository) ObservationCount(ctx context.Context, name string) (int, error) {
	profile, err := r.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrVendorProfileNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return profile.ObservationCount(), nil
}

// RecordObservation upserts the profile on first sighting, then folds the invoice into
// the running mean and appends the observation timestamp. The row stays locked until
// the update commits so concurrent observations of one vendor serialise.
func (r *VendorProfileRepository) RecordObservation(ctx context.Context, name string, category string, amount float64, observedAt time.Time) (*models.VendorProfile, error) {
	var profile models.VendorProfile
	key := models.VendorKey(name)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := models.VendorProfile{
			ID:                    uuid.New().String(),
			Name:                  key,
			AutoApprovalThreshold: models.DefaultAutoApprovalThreshold,
			CreatedAt:             observedAt,
			UpdatedAt:             observedAt,
		}
		if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("failed to create vendor profile: %w", err)
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&profile, "name = ?", key).Error; err != nil {
			return fmt.Errorf("failed to load vendor profile: %w", err)
		}

		profile.Observe(category, amount, observedAt)

		result := tx.Model(&models.VendorProfile{}).
			Where("id = ?", profile.ID).
			Updates(map[string]interface{}{
				"typical_category":       profile.TypicalCategory,
				"average_invoice_amount": profile.AverageInvoiceAmount,
				"invoice_count":          profile.InvoiceCount,
				"recurrence_history":     profile.RecurrenceHistory,
				"updated_at":             time.Now(),
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update vendor profile: %w", result.Error)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &profile, nil
}
