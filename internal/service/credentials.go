package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vipul43/invoice-intake/internal/models"
)

// MailboxAccountStore interface for mailbox OAuth credentials
type MailboxAccountStore interface {
	GetByEmail(ctx context.Context, emailAddress string) (*models.MailboxAccount, error)
	UpdateTokens(ctx context.Context, accountID string, accessToken string, refreshToken string, accessTokenExpiresAt time.Time) error
}

// TokenRefresher interface for OAuth refresh
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error)
}

// Credentials hands out a valid access token per mailbox, refreshing it when needed
type Credentials struct {
	accounts  MailboxAccountStore
	refresher TokenRefresher
	now       func() time.Time
}

func NewCredentials(accounts MailboxAccountStore, refresher TokenRefresher) *Credentials {
	return &Credentials{
		accounts:  accounts,
		refresher: refresher,
		now:       time.Now,
	}
}

// AccessToken returns a usable access token for the mailbox
func (c *Credentials) AccessToken(ctx context.Context, mailboxID string) (string, error) {
	account, err := c.accounts.GetByEmail(ctx, mailboxID)
	if err != nil {
		return "", fmt.Errorf("failed to get mailbox account: %w", err)
	}

	if account.RefreshToken == nil || *account.RefreshToken == "" {
		return "", fmt.Errorf("mailbox account missing refresh token")
	}

	if account.AccessToken != nil && *account.AccessToken != "" && !c.isTokenExpired(account.AccessTokenExpiresAt) {
		return *account.AccessToken, nil
	}

	log.Printf("Access token expired for mailbox %s, refreshing...", mailboxID)

	result, err := c.refresher.RefreshAccessToken(ctx, *account.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := c.accounts.UpdateTokens(ctx, account.ID, result.AccessToken, result.RefreshToken, result.ExpiresAt); err != nil {
		return "", fmt.Errorf("failed to update tokens: %w", err)
	}

	return result.AccessToken, nil
}

// isTokenExpired checks if access token is expired or will expire within 5 minutes
func (c *Credentials) isTokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return c.now().Add(5 * time.Minute).After(*expiresAt)
}
