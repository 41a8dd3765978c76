package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vipul43/invoice-intake/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueuedEventRepository struct {
	db *gorm.DB
}

func NewQueuedEventRepository(db *gorm.DB) *QueuedEventRepository {
	return &QueuedEventRepository{db: db}
}

// Enqueue records that mail exists up to cursor.
// Re-delivering the same (mailbox, cursor) pair is a no-op and never resets processed.
func (r *QueuedEventRepository) Enqueue(ctx context.Context, mailboxID string, cursor uint64, now time.Time) error {
	event := models.QueuedEvent{
		ID:        uuid.New().String(),
		MailboxID: mailboxID,
		Cursor:    cursor,
		Processed: false,
		CreatedAt: now,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mailbox_id"}, {Name: "history_cursor"}},
			DoNothing: true,
		}).
		Create(&event)
	if result.Error != nil {
		return fmt.Errorf("failed to enqueue event: %w", result.Error)
	}
	return nil
}

// HighestUnprocessed returns the largest unprocessed cursor, or nil when the queue is drained
func (r *QueuedEventRepository) HighestUnprocessed(ctx context.Context, mailboxID string) (*uint64, error) {
	var highest sql.NullInt64
	err := r.db.WithContext(ctx).Model(&models.QueuedEvent{}).
		Select("MAX(history_cursor)").
		Where("mailbox_id = ? AND processed = ?", mailboxID, false).
		Row().
		Scan(&highest)
	if err != nil {
		return nil, fmt.Errorf("failed to query highest unprocessed event: %w", err)
	}
	if !highest.Valid {
		return nil, nil
	}
	cursor := uint64(highest.Int64)
	return &cursor, nil
}

// MarkProcessedUpTo marks every unprocessed event with cursor <= the given value as processed
func (r *QueuedEventRepository) MarkProcessedUpTo(ctx context.Context, mailboxID string, cursor uint64, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.QueuedEvent{}).
		Where("mailbox_id = ? AND processed = ? AND history_cursor <= ?", mailboxID, false, cursor).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark events processed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountUnprocessedAbove counts events still waiting beyond cursor
func (r *QueuedEventRepository) CountUnprocessedAbove(ctx context.Context, mailboxID string, cursor uint64) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.QueuedEvent{}).
		Where("mailbox_id = ? AND processed = ? AND history_cursor > ?", mailboxID, false, cursor).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count unprocessed events: %w", result.Error)
	}
	return count, nil
}
