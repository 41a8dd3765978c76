package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/vipul43/invoice-intake/internal/models"
	"gorm.io/gorm"
)

type ClassificationPatternRepository struct {
	db *gorm.DB
}

func NewClassificationPatternRepository(db *gorm.DB) *ClassificationPatternRepository {
	return &ClassificationPatternRepository{db: db}
}

// List returns every stored pattern in creation order
func (r *ClassificationPatternRepository) List(ctx context.Context) ([]models.ClassificationPattern, error) {
	var patterns []models.ClassificationPattern
	result := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&patterns)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", result.Error)
	}
	return patterns, nil
}

// Create stores a newly learned pattern
func (r *ClassificationPatternRepository) Create(ctx context.Context, pattern *models.ClassificationPattern) error {
	if err := r.db.WithContext(ctx).Create(pattern).Error; err != nil {
		return fmt.Errorf("failed to create pattern: %w", err)
	}
	return nil
}

// IncrementUsage bumps the usage counter of the winning pattern
func (r *ClassificationPatternRepository) IncrementUsage(ctx context.Context, patternID string) error {
	result := r.db.WithContext(ctx).Model(&models.ClassificationPattern{}).
		Where("id = ?", patternID).
		Updates(map[string]interface{}{
			"usage_count": gorm.Expr("usage_count + 1"),
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to increment pattern usage: %w", result.Error)
	}
	return nil
}

// RecordOutcome folds one review outcome into the pattern's success rate (running mean).
// The result stays within [0,1] because every outcome is 0 or 1.
func (r *ClassificationPatternRepository) RecordOutcome(ctx context.Context, patternID string, success bool) error {
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	result := r.db.WithContext(ctx).Model(&models.ClassificationPattern{}).
		Where("id = ?", patternID).
		Updates(map[string]interface{}{
			"success_rate":   gorm.Expr("(success_rate * feedback_count + ?) / (feedback_count + 1)", outcome),
			"feedback_count": gorm.Expr("feedback_count + 1"),
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record pattern outcome: %w", result.Error)
	}
	return nil
}
