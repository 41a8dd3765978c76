package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipul43/invoice-intake/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrMailboxNotFound = errors.New("mailbox not found")

// MailboxStateRepository owns the per-mailbox lock row.
// Every write is a single conditional UPDATE so concurrent processes never lose an update.
type MailboxStateRepository struct {
	db *gorm.DB
}

func NewMailboxStateRepository(db *gorm.DB) *MailboxStateRepository {
	return &MailboxStateRepository{db: db}
}

// Get retrieves the state row for a mailbox
func (r *MailboxStateRepository) Get(ctx context.Context, mailboxID string) (*models.MailboxState, error) {
	var state models.MailboxState
	result := r.db.WithContext(ctx).First(&state, "mailbox_id = ?", mailboxID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMailboxNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox state: %w", result.Error)
	}
	return &state, nil
}

// EnsureExists creates an empty state row (no cursor) if the mailbox has none
func (r *MailboxStateRepository) EnsureExists(ctx context.Context, mailboxID string, now time.Time) error {
	state := models.MailboxState{
		MailboxID: mailboxID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "mailbox_id"}}, DoNothing: true}).
		Create(&state)
	if result.Error != nil {
		return fmt.Errorf("failed to create mailbox state: %w", result.Error)
	}
	return nil
}

// InitializeCursor stores the first cursor ever seen for a mailbox.
// Returns true only for the call that actually set it.
func (r *MailboxStateRepository) InitializeCursor(ctx context.Context, mailboxID string, cursor uint64, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.MailboxState{}).
		Where("mailbox_id = ? AND history_cursor IS NULL", mailboxID).
		Updates(map[string]interface{}{
			"history_cursor": cursor,
			"updated_at":     now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to initialize cursor: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// TryAcquireLock admits a worker when the mailbox is unlocked (or its lock is older than
// staleBefore), no cooldown is active at now, and the provider was last queried no later
// than queriedBefore. The winning caller's token is stored on the row.
func (r *MailboxStateRepository) TryAcquireLock(ctx context.Context, mailboxID string, token string, now, staleBefore, queriedBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.MailboxState{}).
		Where("mailbox_id = ?", mailboxID).
		Where("(is_locked = ? OR lock_acquired_at IS NULL OR lock_acquired_at < ?)", false, staleBefore).
		Where("(cooldown_until IS NULL OR cooldown_until <= ?)", now).
		Where("(last_provider_query_at IS NULL OR last_provider_query_at <= ?)", queriedBefore).
		Updates(map[string]interface{}{
			"is_locked":              true,
			"lock_token":             token,
			"lock_acquired_at":       now,
			"last_provider_query_at": now,
			"updated_at":             now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// MarkPending flags that deferred work exists for the mailbox
func (r *MailboxStateRepository) MarkPending(ctx context.Context, mailboxID string, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.MailboxState{}).
		Where("mailbox_id = ?", mailboxID).
		Updates(map[string]interface{}{
			"has_pending_work": true,
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark pending work: %w", result.Error)
	}
	return nil
}

// CompleteSync releases the lock held by token and advances the cursor (never backwards).
// has_pending_work is recomputed in the same statement from the queue so an event
// enqueued while the worker ran is never lost. forcePending keeps it set regardless.
// Returns false when the lock was no longer ours.
func (r *MailboxStateRepository) CompleteSync(ctx context.Context, mailboxID, token string, cursor uint64, forcePending bool, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.MailboxState{}).
		Where("mailbox_id = ? AND is_locked = ? AND lock_token = ?", mailboxID, true, token).
		Updates(map[string]interface{}{
			"history_cursor":   advanceCursorExpr(cursor),
			"is_locked":        false,
			"lock_token":       nil,
			"lock_acquired_at": nil,
			"has_pending_work": gorm.Expr("(? OR EXISTS (SELECT 1 FROM queued_event WHERE queued_event.mailbox_id = ? AND queued_event.processed = ? AND queued_event.history_cursor > ?))", forcePending, mailboxID, false, cursor),
			"last_error":       nil,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to complete sync: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// SetCooldown releases the lock held by token, records provider backoff until the given
// instant and leaves pending work set. The cursor still advances to what was processed.
func (r *MailboxStateRepository) SetCooldown(ctx context.Context, mailboxID, token string, processedCursor uint64, until time.Time, lastError string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.MailboxState{}).
		Where("mailbox_id = ? AND is_locked = ? AND lock_token = ?", mailboxID, true, token).
		Updates(map[string]interface{}{
			"history_cursor":   advanceCursorExpr(processedCursor),
			"is_locked":        false,
			"lock_token":       nil,
			"lock_acquired_at": nil,
			"cooldown_until":   until,
			"has_pending_work": true,
			"last_error":       lastError,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to set cooldown: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ReleaseWithError releases the lock held by token after a failed pass and keeps
// pending work set so a later trigger retries
func (r *MailboxStateRepository) ReleaseWithError(ctx context.Context, mailboxID, token string, processedCursor uint64, lastError string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.MailboxState{}).
		Where("mailbox_id = ? AND is_locked = ? AND lock_token = ?", mailboxID, true, token).
		Updates(map[string]interface{}{
			"history_cursor":   advanceCursorExpr(processedCursor),
			"is_locked":        false,
			"lock_token":       nil,
			"lock_acquired_at": nil,
			"has_pending_work": true,
			"last_error":       lastError,
			"updated_at":       now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to release lock: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ListPending retrieves mailboxes flagged with pending work, least recently touched first
func (r *MailboxStateRepository) ListPending(ctx context.Context, limit int) ([]models.MailboxState, error) {
	var states []models.MailboxState
	result := r.db.WithContext(ctx).
		Where("has_pending_work = ?", true).
		Order("updated_at ASC").
		Limit(limit).
		Find(&states)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to query pending mailboxes: %w", result.Error)
	}
	return states, nil
}

// UpdateWatch records when the provider push subscription expires
func (r *MailboxStateRepository) UpdateWatch(ctx context.Context, mailboxID string, expiration time.Time, now time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.MailboxState{}).
		Where("mailbox_id = ?", mailboxID).
		Updates(map[string]interface{}{
			"watch_expiration": expiration,
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update watch expiration: %w", result.Error)
	}
	return nil
}

// advanceCursorExpr moves history_cursor forward only. Zero means nothing was processed.
func advanceCursorExpr(cursor uint64) clause.Expr {
	if cursor == 0 {
		return gorm.Expr("history_cursor")
	}
	return gorm.Expr("CASE WHEN history_cursor IS NULL OR history_cursor < ? THEN ? ELSE history_cursor END", cursor, cursor)
}
