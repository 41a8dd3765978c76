package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/invoice-intake/internal/models"
	"gorm.io/gorm"
)

var ErrMailboxAccountNotFound = errors.New("mailbox account not found")

type MailboxAccountRepository struct {
	db *gorm.DB
}

func NewMailboxAccountRepository(db *gorm.DB) *MailboxAccountRepository {
	return &MailboxAccountRepository{db: db}
}

// GetByEmail retrieves the credentials for a mailbox address
func (r *MailboxAccountRepository) GetByEmail(ctx context.Context, emailAddress string) (*models.MailboxAccount, error) {
	var account models.MailboxAccount
	result := r.db.WithContext(ctx).First(&account, "email_address = ?", emailAddress)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMailboxAccountNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox account: %w", result.Error)
	}
	return &account, nil
}

// ListAll returns every configured mailbox account
func (r *MailboxAccountRepository) ListAll(ctx context.Context) ([]models.MailboxAccount, error) {
	var accounts []models.MailboxAccount
	result := r.db.WithContext(ctx).Order("email_address ASC").Find(&accounts)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list mailbox accounts: %w", result.Error)
	}
	return accounts, nil
}

// UpdateTokens updates access token, refresh token, and access token expiry
func (r *MailboxAccountRepository) UpdateTokens(ctx context.Context, accountID string, accessToken string, refreshToken string, accessTokenExpiresAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.MailboxAccount{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"access_token":            accessToken,
			"refresh_token":           refreshToken,
			"access_token_expires_at": accessTokenExpiresAt,
			"updated_at":              time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update tokens: %w", result.Error)
	}
	return nil
}
