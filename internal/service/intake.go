package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/vipul43/invoice-intake/internal/models"
)

var ErrInvalidNotification = errors.New("invalid notification")

// Intake outcomes
const (
	IntakeInitialized = "initialized" // First notification for the mailbox, cursor recorded only
	IntakeStale       = "stale"
	IntakeQueued      = "queued"
)

// PushEnvelope is the body of a push subscription delivery
type PushEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// Notification is a decoded mailbox change event
type Notification struct {
	EmailAddress string
	HistoryID    uint64
}

// DecodePushEnvelope unwraps the base64 payload of a push delivery
func DecodePushEnvelope(body []byte) (*Notification, error) {
	var envelope PushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if envelope.Message.Data == "" {
		return nil, fmt.Errorf("%w: empty message data", ErrInvalidNotification)
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(envelope.Message.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: message data is not base64", ErrInvalidNotification)
		}
	}

	return DecodeNotification(data)
}

// DecodeNotification parses {emailAddress, historyId}. historyId may arrive as a number or a string.
func DecodeNotification(data []byte) (*Notification, error) {
	var payload struct {
		EmailAddress string      `json:"emailAddress"`
		HistoryID    json.Number `json:"historyId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}

	email := strings.TrimSpace(payload.EmailAddress)
	if email == "" {
		return nil, fmt.Errorf("%w: missing emailAddress", ErrInvalidNotification)
	}

	historyID, err := strconv.ParseUint(payload.HistoryID.String(), 10, 64)
	if err != nil || historyID == 0 {
		return nil, fmt.Errorf("%w: invalid historyId %q", ErrInvalidNotification, payload.HistoryID.String())
	}

	return &Notification{EmailAddress: strings.ToLower(email), HistoryID: historyID}, nil
}

// IntakeStateStore interface for the lock row operations used on intake
type IntakeStateStore interface {
	Get(ctx context.Context, mailboxID string) (*models.MailboxState, error)
	EnsureExists(ctx context.Context, mailboxID string, now time.Time) error
	InitializeCursor(ctx context.Context, mailboxID string, cursor uint64, now time.Time) (bool, error)
	MarkPending(ctx context.Context, mailboxID string, now time.Time) error
}

// EventEnqueuer interface for recording a notification in the queue
type EventEnqueuer interface {
	Enqueue(ctx context.Context, mailboxID string, cursor uint64, now time.Time) error
}

// Kicker wakes a worker for a mailbox without waiting for it
type Kicker interface {
	Kick(mailboxID string)
}

// IntakeService records notifications durably. It never calls the provider.
type IntakeService struct {
	states IntakeStateStore
	queue  EventEnqueuer
	kicker Kicker
	now    func() time.Time
}

// NewIntakeService creates the intake path. kicker may be nil.
func NewIntakeService(states IntakeStateStore, queue EventEnqueuer, kicker Kicker) *IntakeService {
	return &IntakeService{
		states: states,
		queue:  queue,
		kicker: kicker,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandleNotification records one mailbox change event and returns the outcome
func (s *IntakeService) HandleNotification(ctx context.Context, n Notification) (string, error) {
	if n.EmailAddress == "" || n.HistoryID == 0 {
		return "", ErrInvalidNotification
	}
	now := s.now()

	if err := s.states.EnsureExists(ctx, n.EmailAddress, now); err != nil {
		return "", err
	}

	initialized, err := s.states.InitializeCursor(ctx, n.EmailAddress, n.HistoryID, now)
	if err != nil {
		return "", err
	}
	if initialized {
		log.Printf("Mailbox %s seen for the first time, cursor initialized at %d", n.EmailAddress, n.HistoryID)
		return IntakeInitialized, nil
	}

	state, err := s.states.Get(ctx, n.EmailAddress)
	if err != nil {
		return "", err
	}
	if state.Cursor != nil && n.HistoryID <= *state.Cursor {
		log.Printf("Notification for mailbox %s at %d is behind cursor %d, ignoring", n.EmailAddress, n.HistoryID, *state.Cursor)
		return IntakeStale, nil
	}

	if err := s.queue.Enqueue(ctx, n.EmailAddress, n.HistoryID, now); err != nil {
		return "", fmt.Errorf("failed to enqueue notification: %w", err)
	}
	if err := s.states.MarkPending(ctx, n.EmailAddress, now); err != nil {
		return "", fmt.Errorf("failed to mark pending work: %w", err)
	}

	if s.kicker != nil {
		s.kicker.Kick(n.EmailAddress)
	}

	return IntakeQueued, nil
}
