package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Audit action constants
const (
	AuditActionCreated      = "invoice_created"
	AuditActionClassified   = "invoice_classified"
	AuditActionDuplicate    = "duplicate_detected"
	AuditActionApproved     = "invoice_approved"
	AuditActionAutoApproved = "invoice_auto_approved"
	AuditActionRejected     = "invoice_rejected"
)

// Audit actors
const (
	ActorSystem = "system"
)

// JSONB type for GORM to handle PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Value implements driver.Valuer for JSONB
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSONB
func (j *JSONB) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return errors.New("type assertion to []byte failed")
	}
}

// AuditEntry is one line of an invoice's audit trail
type AuditEntry struct {
	ID        string    `gorm:"column:id;primaryKey"`
	InvoiceID string    `gorm:"column:invoice_id;not null;index"`
	Action    string    `gorm:"column:action;not null"`
	Actor     string    `gorm:"column:actor;not null"`
	Details   JSONB     `gorm:"column:details;type:jsonb"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (AuditEntry) TableName() string {
	return "audit_entry"
}
