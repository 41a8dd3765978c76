package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vipul43/invoice-intake/internal/models"
	"github.com/vipul43/invoice-intake/internal/repository"
)

type mockAccountLister struct {
	listAllFunc func(ctx context.Context) ([]models.MailboxAccount, error)
}

func (m *mockAccountLister) ListAll(ctx context.Context) ([]models.MailboxAccount, error) {
	if m.listAllFunc != nil {
		return m.listAllFunc(ctx)
	}
	return nil, nil
}

func TestWatchRenewer_RenewAll(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	states := repository.NewMailboxStateRepository(db)
	seedMailbox(t, states, "known@example.com", 500)

	accounts := &mockAccountLister{
		listAllFunc: func(ctx context.Context) ([]models.MailboxAccount, error) {
			return []models.MailboxAccount{
				{EmailAddress: "new@example.com"},
				{EmailAddress: "known@example.com"},
				{EmailAddress: "broken@example.com"},
			}, nil
		},
	}
	tokens := &mockTokenSource{
		accessTokenFunc: func(ctx context.Context, mailboxID string) (string, error) {
			if mailboxID == "broken@example.com" {
				return "", errors.New("mailbox account missing refresh token")
			}
			return "token-" + mailboxID, nil
		},
	}
	expiration := baseTime.Add(7 * 24 * time.Hour)
	provider := &mockMailProvider{
		watchFunc: func(ctx context.Context, accessToken string) (*WatchResult, error) {
			return &WatchResult{HistoryID: 800, Expiration: expiration}, nil
		},
	}

	renewer := NewWatchRenewer(accounts, tokens, provider, states)
	renewer.now = fixedClock(&baseTime)

	renewed, err := renewer.RenewAll(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if renewed != 2 {
		t.Errorf("expected 2 renewals, got %d", renewed)
	}

	fresh := mustState(t, states, "new@example.com")
	if fresh.Cursor == nil || *fresh.Cursor != 800 {
		t.Errorf("expected new mailbox to be seeded at 800, got %v", fresh.Cursor)
	}
	if fresh.WatchExpiration == nil || !fresh.WatchExpiration.Equal(expiration) {
		t.Errorf("expected watch expiration %v, got %v", expiration, fresh.WatchExpiration)
	}

	known := mustState(t, states, "known@example.com")
	if *known.Cursor != 500 {
		t.Errorf("expected existing cursor to be kept, got %d", *known.Cursor)
	}

	if _, err := states.Get(ctx, "broken@example.com"); !errors.Is(err, repository.ErrMailboxNotFound) {
		t.Errorf("expected no state for the failed mailbox, got %v", err)
	}
}
