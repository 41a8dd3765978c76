package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// DefaultAutoApprovalThreshold keeps auto-approval off: classification
// confidence never exceeds 0.95
const DefaultAutoApprovalThreshold = 1.0

// VendorKey normalises a vendor name the way vendor history is matched
func VendorKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// VendorProfile holds rolling per-vendor statistics.
// RecurrenceHistory is an append-only log with no compaction.
type VendorProfile struct {
	ID                    string                         `gorm:"column:id;primaryKey"`
	Name                  string                         `gorm:"column:name;not null;uniqueIndex"` // VendorKey of the vendor name
	TypicalCategory       *string                        `gorm:"column:typical_category"`
	AverageInvoiceAmount  float64                        `gorm:"column:average_invoice_amount;not null;default:0"`
	InvoiceCount          int                            `gorm:"column:invoice_count;not null;default:0"`
	RecurrenceHistory     datatypes.JSONSlice[time.Time] `gorm:"column:recurrence_history"`
	AutoApprovalThreshold float64                        `gorm:"column:auto_approval_threshold;not null;default:1"`
	CreatedAt             time.Time                      `gorm:"column:created_at"`
	UpdatedAt             time.Time                      `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (VendorProfile) TableName() string {
	return "vendor_profile"
}

// ObservationCount is the number of recorded sightings of this vendor
func (v VendorProfile) ObservationCount() int {
	return len(v.RecurrenceHistory)
}

// Observe folds one invoice into the profile using an incremental running mean
func (v *VendorProfile) Observe(category string, amount float64, at time.Time) {
	oldCount := float64(v.InvoiceCount)
	v.AverageInvoiceAmount = (v.AverageInvoiceAmount*oldCount + amount) / (oldCount + 1)
	v.InvoiceCount++
	if category != "" {
		v.TypicalCategory = &category
	}
	v.RecurrenceHistory = append(v.RecurrenceHistory, at)
}
