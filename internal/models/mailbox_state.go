package models

import "time"

// LockState is the derived state of a mailbox's sync lock
type LockState string

const (
	LockStateIdle     LockState = "idle"     // No worker and no provider backoff
	LockStateLocked   LockState = "locked"   // A worker owns the mailbox
	LockStateCooldown LockState = "cooldown" // Provider asked us to back off
)

// MailboxState is the single serialization point for a mailbox.
// Every mutation goes through a conditional single-row update in the repository.
type MailboxState struct {
	MailboxID           string     `gorm:"column:mailbox_id;primaryKey"`
	Cursor              *uint64    `gorm:"column:history_cursor"` // NULL until the first notification is seen
	IsLocked            bool       `gorm:"column:is_locked;not null;default:false"`
	LockToken           *string    `gorm:"column:lock_token"`
	LockAcquiredAt      *time.Time `gorm:"column:lock_acquired_at"`
	HasPendingWork      bool       `gorm:"column:has_pending_work;not null;default:false;index"`
	CooldownUntil       *time.Time `gorm:"column:cooldown_until"`
	LastProviderQueryAt *time.Time `gorm:"column:last_provider_query_at"`
	WatchExpiration     *time.Time `gorm:"column:watch_expiration"`
	LastError           *string    `gorm:"column:last_error"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (MailboxState) TableName() string {
	return "mailbox_state"
}

// State derives Idle/Locked/Cooldown at the given instant.
// A lock older than staleAfter counts as abandoned and does not hold the mailbox.
func (s MailboxState) State(now time.Time, staleAfter time.Duration) LockState {
	if s.CooldownUntil != nil && s.CooldownUntil.After(now) {
		return LockStateCooldown
	}
	if s.IsLocked && !s.LockIsStale(now, staleAfter) {
		return LockStateLocked
	}
	return LockStateIdle
}

// LockIsStale reports whether a held lock has outlived the staleness window
func (s MailboxState) LockIsStale(now time.Time, staleAfter time.Duration) bool {
	if !s.IsLocked {
		return false
	}
	if s.LockAcquiredAt == nil {
		return true
	}
	return now.Sub(*s.LockAcquiredAt) >= staleAfter
}

// NeedsWorker is the "work was deferred and must be retried" state
func (s MailboxState) NeedsWorker() bool {
	return !s.IsLocked && s.HasPendingWork
}
