package models

import (
	"time"

	"gorm.io/datatypes"
)

// ClassificationPattern is a rule learned from a human-approved decision.
// Patterns are additive: nothing in the pipeline deletes them.
type ClassificationPattern struct {
	ID              string                      `gorm:"column:id;primaryKey"`
	VendorRegex     string                      `gorm:"column:vendor_regex;not null"`
	AmountMin       *float64                    `gorm:"column:amount_min"`
	AmountMax       *float64                    `gorm:"column:amount_max"`
	TextContains    datatypes.JSONSlice[string] `gorm:"column:text_contains"`
	Category        string                      `gorm:"column:category;not null"`
	Subcategory     string                      `gorm:"column:subcategory;not null"`
	GLAccount       *string                     `gorm:"column:gl_account"`
	Branch          *string                     `gorm:"column:branch"`
	PaymentMethod   *string                     `gorm:"column:payment_method"`
	UsageCount      int                         `gorm:"column:usage_count;not null;default:0"`
	SuccessRate     float64                     `gorm:"column:success_rate;not null;default:1"`
	FeedbackCount   int                         `gorm:"column:feedback_count;not null;default:0"`
	SourceInvoiceID *string                     `gorm:"column:source_invoice_id"`
	CreatedAt       time.Time                   `gorm:"column:created_at"`
	UpdatedAt       time.Time                   `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (ClassificationPattern) TableName() string {
	return "classification_pattern"
}
