package models

import "time"

// QueuedEvent records that a notification claimed mail exists up to Cursor.
// (MailboxID, Cursor) is unique so re-delivery never creates a second row.
type QueuedEvent struct {
	ID          string     `gorm:"column:id;primaryKey"`
	MailboxID   string     `gorm:"column:mailbox_id;not null;uniqueIndex:idx_queued_event_mailbox_cursor"`
	Cursor      uint64     `gorm:"column:history_cursor;not null;uniqueIndex:idx_queued_event_mailbox_cursor"`
	Processed   bool       `gorm:"column:processed;not null;default:false"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
	ProcessedAt *time.Time `gorm:"column:processed_at"`
}

// TableName specifies the table name for GORM
func (QueuedEvent) TableName() string {
	return "queued_event"
}
