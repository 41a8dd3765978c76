package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/vipul43/invoice-intake/internal/service"
)

const breakerTimeout = 30 * time.Second

type Client struct {
	clientID          string
	clientSecret      string
	topicName         string
	defaultRetryAfter time.Duration
	breaker           *gobreaker.CircuitBreaker
}

func NewClient(clientID, clientSecret, topicName string, defaultRetryAfter time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			var nce *nonCircuitError
			return err == nil || errors.As(err, &nce)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Client{
		clientID:          clientID,
		clientSecret:      clientSecret,
		topicName:         topicName,
		defaultRetryAfter: defaultRetryAfter,
		breaker:           gobreaker.NewCircuitBreaker(settings),
	}
}

// newService creates a Gmail service bound to a single access token
func (c *Client) newService(ctx context.Context, accessToken string) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}

	gmailService, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return gmailService, nil
}

// ListHistorySince lists messages added after startHistoryID, following every page
func (c *Client) ListHistorySince(ctx context.Context, accessToken string, startHistoryID uint64) (*service.HistoryResult, error) {
	gmailService, err := c.newService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var records []*gmail.History
	var latestHistoryID uint64
	pageToken := ""

	for {
		call := gmailService.Users.History.List("me").
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListHistoryResponse
		err := c.execute("History.List", func() error {
			var apiErr error
			resp, apiErr = call.Do()
			return apiErr
		})
		if err != nil {
			if isNotFound(err) {
				return nil, fmt.Errorf("history %d: %w", startHistoryID, service.ErrHistoryExpired)
			}
			return nil, c.wrapError(err, "failed to list history")
		}

		records = append(records, resp.History...)
		if resp.HistoryId > latestHistoryID {
			latestHistoryID = resp.HistoryId
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	messages := collectAddedMessages(records)
	log.Printf("Gmail history since %d returned %d new messages (latest history id: %d)", startHistoryID, len(messages), latestHistoryID)

	return &service.HistoryResult{
		Messages:  messages,
		HistoryID: latestHistoryID,
	}, nil
}

// GetMessage fetches a single email by its Gmail message ID
func (c *Client) GetMessage(ctx context.Context, accessToken string, messageID string) (*service.EmailMessage, error) {
	gmailService, err := c.newService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var fullMsg *gmail.Message
	err = c.execute("Messages.Get", func() error {
		var apiErr error
		fullMsg, apiErr = gmailService.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("message %s: %w", messageID, service.ErrMessageNotFound)
		}
		return nil, c.wrapError(err, "failed to get message")
	}

	emailMsg := parseMessage(fullMsg)
	return &emailMsg, nil
}

// DownloadAttachment fetches the raw bytes of one attachment
func (c *Client) DownloadAttachment(ctx context.Context, accessToken string, messageID string, attachmentID string) ([]byte, error) {
	gmailService, err := c.newService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var body *gmail.MessagePartBody
	err = c.execute("Attachments.Get", func() error {
		var apiErr error
		body, apiErr = gmailService.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("attachment %s of message %s: %w", attachmentID, messageID, service.ErrMessageNotFound)
		}
		return nil, c.wrapError(err, "failed to download attachment")
	}

	data, err := decodeBase64URL(body.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment: %w", err)
	}
	return data, nil
}

// Watch (re)registers push notifications for the inbox
func (c *Client) Watch(ctx context.Context, accessToken string) (*service.WatchResult, error) {
	if c.topicName == "" {
		return nil, fmt.Errorf("no Pub/Sub topic configured")
	}

	gmailService, err := c.newService(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	req := &gmail.WatchRequest{
		TopicName: c.topicName,
		LabelIds:  []string{"INBOX"},
	}

	var resp *gmail.WatchResponse
	err = c.execute("Watch", func() error {
		var apiErr error
		resp, apiErr = gmailService.Users.Watch("me", req).Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		return nil, c.wrapError(err, "failed to set up watch")
	}

	return &service.WatchResult{
		HistoryID:  resp.HistoryId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// RefreshAccessToken refreshes the OAuth2 access token
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*service.TokenRefreshResult, error) {
	config := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: refreshToken,
	}

	newToken, err := config.TokenSource(ctx, token).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	result := &service.TokenRefreshResult{
		AccessToken: newToken.AccessToken,
		ExpiresAt:   newToken.Expiry,
	}

	// Check if refresh token was rotated
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		result.RefreshToken = newToken.RefreshToken
	} else {
		result.RefreshToken = refreshToken
	}

	log.Printf("Token refreshed successfully, expires at: %s", result.ExpiresAt)

	return result, nil
}

// execute runs fn through the circuit breaker. Only server-side failures and
// throttling count against the breaker.
func (c *Client) execute(operation string, fn func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 429, 500, 502, 503:
					return nil, err
				default:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		return nce.err
	}

	if err != nil {
		log.Printf("[Gmail] %s failed: breaker=%s, err=%v", operation, c.breaker.State().String(), err)
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// wrapError converts throttling into *service.RateLimitError and wraps everything else
func (c *Client) wrapError(err error, msg string) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &service.RateLimitError{RetryAfter: breakerTimeout, Err: err}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && isRateLimit(apiErr) {
		return &service.RateLimitError{
			RetryAfter: parseRetryAfter(apiErr.Header, c.defaultRetryAfter),
			Err:        err,
		}
	}

	return fmt.Errorf("%s: %w", msg, err)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isRateLimit(apiErr *googleapi.Error) bool {
	if apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	if strings.Contains(apiErr.Message, "Rate Limit") {
		return true
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

// parseRetryAfter reads a Retry-After header given in seconds
func parseRetryAfter(header http.Header, fallback time.Duration) time.Duration {
	if header == nil {
		return fallback
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// collectAddedMessages flattens history records into added messages, first sighting wins
func collectAddedMessages(records []*gmail.History) []service.HistoryMessage {
	seen := make(map[string]bool)
	var messages []service.HistoryMessage

	for _, record := range records {
		if record == nil {
			continue
		}
		for _, added := range record.MessagesAdded {
			if added == nil || added.Message == nil || seen[added.Message.Id] {
				continue
			}
			seen[added.Message.Id] = true
			messages = append(messages, service.HistoryMessage{
				ID:        added.Message.Id,
				HistoryID: record.Id,
			})
		}
	}

	return messages
}

// parseMessage parses Gmail message into EmailMessage
func parseMessage(msg *gmail.Message) service.EmailMessage {
	emailMsg := service.EmailMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
	}

	// Parse internal date (milliseconds since epoch)
	if msg.InternalDate > 0 {
		emailMsg.InternalDate = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload == nil {
		return emailMsg
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			emailMsg.Subject = header.Value
		case "From":
			emailMsg.From = header.Value
		case "Date":
			parsedDate, err := parseEmailDate(header.Value)
			if err != nil {
				log.Printf("Warning: failed to parse date '%s': %v", header.Value, err)
			} else {
				emailMsg.Date = parsedDate
			}
		}
	}

	emailMsg.BodyText = extractText(msg.Payload)
	emailMsg.Attachments = collectAttachments(msg.Payload.Parts, nil)

	return emailMsg
}

// extractText returns the first text/plain body found in the part tree
func extractText(part *gmail.MessagePart) string {
	if part.MimeType == "text/plain" && part.Filename == "" && part.Body != nil && part.Body.Data != "" {
		if decoded, err := decodeBase64URL(part.Body.Data); err == nil {
			return string(decoded)
		}
	}
	for _, child := range part.Parts {
		if text := extractText(child); text != "" {
			return text
		}
	}
	return ""
}

// collectAttachments walks parts recursively, keeping listed order
func collectAttachments(parts []*gmail.MessagePart, attachments []service.Attachment) []service.Attachment {
	for _, part := range parts {
		if part.Filename != "" && part.Body != nil {
			attachment := service.Attachment{
				AttachmentID: part.Body.AttachmentId,
				Filename:     part.Filename,
				MimeType:     part.MimeType,
				Size:         part.Body.Size,
			}
			if part.Body.AttachmentId == "" && part.Body.Data != "" {
				if data, err := decodeBase64URL(part.Body.Data); err == nil {
					attachment.InlineData = data
				} else {
					log.Printf("Warning: failed to decode inline attachment %s: %v", part.Filename, err)
				}
			}
			attachments = append(attachments, attachment)
		}

		if len(part.Parts) > 0 {
			attachments = collectAttachments(part.Parts, attachments)
		}
	}
	return attachments
}

func decodeBase64URL(data string) ([]byte, error) {
	decoded, err := base64.URLEncoding.DecodeString(data)
	if err == nil {
		return decoded, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
}

// parseEmailDate parses various email date formats
func parseEmailDate(dateStr string) (time.Time, error) {
	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC3339,
	}

	dateStr = strings.TrimSpace(dateStr)

	// Gmail sometimes appends the zone name, e.g. "(UTC)"
	if idx := strings.Index(dateStr, " ("); idx != -1 {
		dateStr = dateStr[:idx]
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}
