package models

import "time"

// MailboxAccount holds the OAuth credentials used to read a synced mailbox
type MailboxAccount struct {
	ID                   string     `gorm:"column:id;primaryKey"`
	EmailAddress         string     `gorm:"column:email_address;not null;uniqueIndex"`
	AccessToken          *string    `gorm:"column:access_token"`
	RefreshToken         *string    `gorm:"column:refresh_token"`
	AccessTokenExpiresAt *time.Time `gorm:"column:access_token_expires_at"`
	Scope                *string    `gorm:"column:scope"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (MailboxAccount) TableName() string {
	return "mailbox_account"
}
