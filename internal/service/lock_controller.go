package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/invoice-intake/internal/models"
)

// Admission outcomes
const (
	AdmissionAdmitted  = "admitted"
	AdmissionLocked    = "locked"
	AdmissionCooldown  = "cooldown"
	AdmissionThrottled = "throttled"
)

// MailboxStateStore interface for the persisted lock row
type MailboxStateStore interface {
	Get(ctx context.Context, mailboxID string) (*models.MailboxState, error)
	TryAcquireLock(ctx context.Context, mailboxID string, token string, now, staleBefore, queriedBefore time.Time) (bool, error)
	MarkPending(ctx context.Context, mailboxID string, now time.Time) error
	CompleteSync(ctx context.Context, mailboxID, token string, cursor uint64, forcePending bool, now time.Time) (bool, error)
	SetCooldown(ctx context.Context, mailboxID, token string, processedCursor uint64, until time.Time, lastError string, now time.Time) (bool, error)
	ReleaseWithError(ctx context.Context, mailboxID, token string, processedCursor uint64, lastError string, now time.Time) (bool, error)
}

// EventQueue interface for queued notifications
type EventQueue interface {
	Enqueue(ctx context.Context, mailboxID string, cursor uint64, now time.Time) error
	HighestUnprocessed(ctx context.Context, mailboxID string) (*uint64, error)
	MarkProcessedUpTo(ctx context.Context, mailboxID string, cursor uint64, now time.Time) (int64, error)
}

type LockSettings struct {
	StaleAfter       time.Duration // A lock older than this is treated as abandoned
	MinQueryInterval time.Duration // Minimum gap between provider queries per mailbox
}

// Admission is the controller's answer to "may a worker run now?"
type Admission struct {
	Admitted bool
	Reason   string
	Token    string // Lock owner token, set only when admitted
	State    *models.MailboxState
}

// LockController admits at most one sync worker per mailbox and owns every
// transition of the lock row
type LockController struct {
	states   MailboxStateStore
	queue    EventQueue
	settings LockSettings
	now      func() time.Time
}

func NewLockController(states MailboxStateStore, queue EventQueue, settings LockSettings) *LockController {
	return &LockController{
		states:   states,
		queue:    queue,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Admit tries to take the mailbox lock. A rejected caller leaves pending work behind
// so the next drain picks the mailbox up.
func (c *LockController) Admit(ctx context.Context, mailboxID string) (*Admission, error) {
	now := c.now()
	token := uuid.New().String()

	acquired, err := c.states.TryAcquireLock(ctx, mailboxID, token, now,
		now.Add(-c.settings.StaleAfter), now.Add(-c.settings.MinQueryInterval))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	state, err := c.states.Get(ctx, mailboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mailbox state: %w", err)
	}

	if acquired {
		return &Admission{Admitted: true, Reason: AdmissionAdmitted, Token: token, State: state}, nil
	}

	reason := c.rejectionReason(state, now)
	if err := c.states.MarkPending(ctx, mailboxID, now); err != nil {
		return nil, fmt.Errorf("failed to mark pending work: %w", err)
	}

	log.Printf("Worker for mailbox %s not admitted (%s), pending work recorded", mailboxID, reason)
	return &Admission{Admitted: false, Reason: reason, State: state}, nil
}

func (c *LockController) rejectionReason(state *models.MailboxState, now time.Time) string {
	switch state.State(now, c.settings.StaleAfter) {
	case models.LockStateCooldown:
		return AdmissionCooldown
	case models.LockStateLocked:
		return AdmissionLocked
	}
	return AdmissionThrottled
}

// Complete releases the lock after a successful (or budget-limited) pass.
// Queue entries up to cursor are marked first so the pending flag is recomputed
// against what is really left.
func (c *LockController) Complete(ctx context.Context, mailboxID, token string, cursor uint64, morePending bool) error {
	now := c.now()

	if cursor > 0 {
		if _, err := c.queue.MarkProcessedUpTo(ctx, mailboxID, cursor, now); err != nil {
			return fmt.Errorf("failed to mark queue processed: %w", err)
		}
	}

	released, err := c.states.CompleteSync(ctx, mailboxID, token, cursor, morePending, now)
	if err != nil {
		return fmt.Errorf("failed to complete sync: %w", err)
	}
	if !released {
		log.Printf("Warning: lock for mailbox %s was reclaimed before completion", mailboxID)
	}
	return nil
}

// RateLimited puts the mailbox into cooldown, keeps the target queued and releases the lock
func (c *LockController) RateLimited(ctx context.Context, mailboxID, token string, target, processedCursor uint64, retryAfter time.Duration, cause error) error {
	now := c.now()

	if target > 0 {
		if err := c.queue.Enqueue(ctx, mailboxID, target, now); err != nil {
			return fmt.Errorf("failed to re-enqueue target cursor: %w", err)
		}
	}
	if processedCursor > 0 {
		if _, err := c.queue.MarkProcessedUpTo(ctx, mailboxID, processedCursor, now); err != nil {
			return fmt.Errorf("failed to mark queue processed: %w", err)
		}
	}

	until := now.Add(retryAfter)
	released, err := c.states.SetCooldown(ctx, mailboxID, token, processedCursor, until, cause.Error(), now)
	if err != nil {
		return fmt.Errorf("failed to set cooldown: %w", err)
	}
	if !released {
		log.Printf("Warning: lock for mailbox %s was reclaimed before cooldown", mailboxID)
	}

	log.Printf("Mailbox %s rate limited, cooling down until %s", mailboxID, until.Format(time.RFC3339))
	return nil
}

// Abort releases the lock after a failed pass, keeping work pending for a retry
func (c *LockController) Abort(ctx context.Context, mailboxID, token string, target, processedCursor uint64, cause error) error {
	now := c.now()

	if target > 0 {
		if err := c.queue.Enqueue(ctx, mailboxID, target, now); err != nil {
			return fmt.Errorf("failed to re-enqueue target cursor: %w", err)
		}
	}
	if processedCursor > 0 {
		if _, err := c.queue.MarkProcessedUpTo(ctx, mailboxID, processedCursor, now); err != nil {
			return fmt.Errorf("failed to mark queue processed: %w", err)
		}
	}

	released, err := c.states.ReleaseWithError(ctx, mailboxID, token, processedCursor, cause.Error(), now)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if !released {
		log.Printf("Warning: lock for mailbox %s was reclaimed before release", mailboxID)
	}
	return nil
}
