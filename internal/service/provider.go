package service

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrHistoryExpired means the stored cursor is older than the provider keeps history for
var ErrHistoryExpired = errors.New("mailbox history expired")

// ErrMessageNotFound means a message listed in history was deleted before it could be fetched
var ErrMessageNotFound = errors.New("message no longer exists")

// RateLimitError is returned by the provider when it asks us to back off
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// MailProvider interface for mail provider operations
type MailProvider interface {
	ListHistorySince(ctx context.Context, accessToken string, startHistoryID uint64) (*HistoryResult, error)
	GetMessage(ctx context.Context, accessToken string, messageID string) (*EmailMessage, error)
	DownloadAttachment(ctx context.Context, accessToken string, messageID string, attachmentID string) ([]byte, error)
	Watch(ctx context.Context, accessToken string) (*WatchResult, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error)
}

// HistoryResult lists messages added since a cursor, in provider order
type HistoryResult struct {
	Messages  []HistoryMessage
	HistoryID uint64 // Latest history id the provider reported
}

// HistoryMessage is one added message and the history record that introduced it
type HistoryMessage struct {
	ID        string
	HistoryID uint64
}

type EmailMessage struct {
	ID           string
	ThreadID     string
	Subject      string
	From         string
	Snippet      string
	BodyText     string
	Date         time.Time
	InternalDate time.Time
	Attachments  []Attachment
}

// Attachment is attachment metadata; InlineData is set when the provider returned
// the bytes with the message
type Attachment struct {
	AttachmentID string
	Filename     string
	MimeType     string
	Size         int64
	InlineData   []byte
}

type WatchResult struct {
	HistoryID  uint64
	Expiration time.Time
}

type TokenRefreshResult struct {
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string // May be same or new
}
