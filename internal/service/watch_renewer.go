package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vipul43/invoice-intake/internal/models"
)

// AccountLister interface for enumerating connected mailboxes
type AccountLister interface {
	ListAll(ctx context.Context) ([]models.MailboxAccount, error)
}

// Watcher interface for the provider push subscription
type Watcher interface {
	Watch(ctx context.Context, accessToken string) (*WatchResult, error)
}

// WatchStateStore interface for the lock row fields touched by watch renewal
type WatchStateStore interface {
	EnsureExists(ctx context.Context, mailboxID string, now time.Time) error
	InitializeCursor(ctx context.Context, mailboxID string, cursor uint64, now time.Time) (bool, error)
	UpdateWatch(ctx context.Context, mailboxID string, expiration time.Time, now time.Time) error
}

// WatchRenewer keeps the provider push subscription alive for every mailbox
type WatchRenewer struct {
	accounts    AccountLister
	credentials TokenSource
	watcher     Watcher
	states      WatchStateStore
	now         func() time.Time
}

func NewWatchRenewer(accounts AccountLister, credentials TokenSource, watcher Watcher, states WatchStateStore) *WatchRenewer {
	return &WatchRenewer{
		accounts:    accounts,
		credentials: credentials,
		watcher:     watcher,
		states:      states,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RenewAll renews every mailbox's watch and returns how many succeeded
func (r *WatchRenewer) RenewAll(ctx context.Context) (int, error) {
	accounts, err := r.accounts.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list mailbox accounts: %w", err)
	}

	renewed := 0
	for _, account := range accounts {
		if err := r.Renew(ctx, account.EmailAddress); err != nil {
			log.Printf("Warning: failed to renew watch for mailbox %s: %v", account.EmailAddress, err)
			continue
		}
		renewed++
	}

	log.Printf("Renewed watch for %d of %d mailboxes", renewed, len(accounts))
	return renewed, nil
}

// Renew renews one mailbox's watch. A mailbox without a cursor gets the watch's history id.
func (r *WatchRenewer) Renew(ctx context.Context, mailboxID string) error {
	accessToken, err := r.credentials.AccessToken(ctx, mailboxID)
	if err != nil {
		return err
	}

	result, err := r.watcher.Watch(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("failed to watch mailbox: %w", err)
	}

	now := r.now()
	if err := r.states.EnsureExists(ctx, mailboxID, now); err != nil {
		return err
	}
	if result.HistoryID > 0 {
		initialized, err := r.states.InitializeCursor(ctx, mailboxID, result.HistoryID, now)
		if err != nil {
			return err
		}
		if initialized {
			log.Printf("Mailbox %s cursor initialized at %d from watch", mailboxID, result.HistoryID)
		}
	}
	return r.states.UpdateWatch(ctx, mailboxID, result.Expiration, now)
}
