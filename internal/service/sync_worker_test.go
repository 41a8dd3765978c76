package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vipul43/invoice-intake/internal/repository"
)

type workerFixture struct {
	worker    *SyncWorker
	states    *repository.MailboxStateRepository
	queue     *repository.QueuedEventRepository
	provider  *mockMailProvider
	processor *mockMessageProcessor
	now       *time.Time
}

func newWorkerFixture(t *testing.T, budget time.Duration) *workerFixture {
	t.Helper()
	db := newTestDB(t)
	states := repository.NewMailboxStateRepository(db)
	queue := repository.NewQueuedEventRepository(db)

	now := baseTime
	lock := NewLockController(states, queue, LockSettings{
		StaleAfter:       5 * time.Minute,
		MinQueryInterval: 60 * time.Second,
	})
	lock.now = fixedClock(&now)

	provider := &mockMailProvider{}
	processor := &mockMessageProcessor{}
	worker := NewSyncWorker(lock, queue, provider, &mockTokenSource{}, processor, budget)
	worker.now = fixedClock(&now)

	return &workerFixture{
		worker:    worker,
		states:    states,
		queue:     queue,
		provider:  provider,
		processor: processor,
		now:       &now,
	}
}

func historyOf(refs ...HistoryMessage) func(ctx context.Context, accessToken string, start uint64) (*HistoryResult, error) {
	return func(ctx context.Context, accessToken string, start uint64) (*HistoryResult, error) {
		latest := start
		for _, ref := range refs {
			if ref.HistoryID > latest {
				latest = ref.HistoryID
			}
		}
		return &HistoryResult{Messages: refs, HistoryID: latest}, nil
	}
}

func TestSyncWorker_Run_ProcessesHistoryAndAdvances(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 50*time.Second)
	seedMailbox(t, f.states, "ap@example.com", 100)

	var startCursor uint64
	f.provider.listHistorySinceFunc = func(ctx context.Context, accessToken string, start uint64) (*HistoryResult, error) {
		startCursor = start
		return &HistoryResult{
			Messages:  []HistoryMessage{{ID: "m1", HistoryID: 120}, {ID: "m2", HistoryID: 130}},
			HistoryID: 210,
		}, nil
	}
	f.processor.processMessageFunc = func(ctx context.Context, mailboxID, accessToken string, msg *EmailMessage) (int, error) {
		return 1, nil
	}

	result, err := f.worker.Run(ctx, "ap@example.com", 200)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if startCursor != 100 {
		t.Errorf("expected history to be listed from 100, got %d", startCursor)
	}
	if result.MessagesProcessed != 2 || result.InvoicesCreated != 2 {
		t.Errorf("expected 2 messages and 2 invoices, got %d and %d", result.MessagesProcessed, result.InvoicesCreated)
	}
	if result.Cursor != 210 {
		t.Errorf("expected cursor 210, got %d", result.Cursor)
	}

	state := mustState(t, f.states, "ap@example.com")
	if state.IsLocked || state.HasPendingWork {
		t.Errorf("expected idle mailbox without pending work, got locked=%v pending=%v", state.IsLocked, state.HasPendingWork)
	}
	if state.Cursor == nil || *state.Cursor != 210 {
		t.Errorf("expected stored cursor 210, got %v", state.Cursor)
	}
}

func TestSyncWorker_Run_TargetIncludesQueuedEvents(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 50*time.Second)
	seedMailbox(t, f.states, "ap@example.com", 100)

	if err := f.queue.Enqueue(ctx, "ap@example.com", 500, baseTime); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	f.provider.listHistorySinceFunc = historyOf()

	result, err := f.worker.Run(ctx, "ap@example.com", 200)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Target != 500 || result.Cursor != 500 {
		t.Errorf("expected target and cursor 500, got %d and %d", result.Target, result.Cursor)
	}

	count, _ := f.queue.CountUnprocessedAbove(ctx, "ap@example.com", 0)
	if count != 0 {
		t.Errorf("expected queue to be drained, got %d unprocessed", count)
	}
}

func TestSyncWorker_Run_AlreadySyncedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 50*time.Second)
	seedMailbox(t, f.states, "ap@example.com", 300)

	result, err := f.worker.Run(ctx, "ap@example.com", 200)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.provider.historyCalls.Load() != 0 {
		t.Errorf("expected no provider call, got %d", f.provider.historyCalls.Load())
	}
	if result.Cursor != 300 {
		t.Errorf("expected cursor to stay at 300, got %d", result.Cursor)
	}

	state := mustState(t, f.states, "ap@example.com")
	if *state.Cursor != 300 || state.IsLocked {
		t.Errorf("expected unlocked mailbox at 300, got %d locked=%v", *state.Cursor, state.IsLocked)
	}
}

func TestSyncWorker_Run_FirstCursorOnlyRecorded(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 50*time.Second)
	seedMailbox(t, f.states, "ap@example.com", 0)

	result, err := f.worker.Run(ctx, "ap@example.com", 200)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.provider.historyCalls.Load() != 0 {
		t.Errorf("expected no provider call, got %d", f.provider.historyCalls.Load())
	}

	state := mustState(t, f.states, "ap@example.com")
	if state.Cursor == nil || *state.Cursor != 200 || result.Cursor != 200 {
		t.Errorf("expected cursor 200 to be recorded, got %v", state.Cursor)
	}
}

func TestSyncWorker_Run_RateLimitRecovery(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 50*time.Second)
	seedMailbox(t, f.states, "ap@example.com", 100)

	f.provider.listHistorySinceFunc = func(ctx context.Context, accessToken string, start uint64) (*HistoryResult, error) {
		return nil, &RateLimitError{RetryAfter: 120 * time.Second, Err: errors.New("googleapi: Error 429")}
	}

	result, err := f.worker.Run(ctx, "ap@example.com", 200)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.RateLimited || result.RetryAfter != 120*time.Second {
		t.Errorf("expected rate limited result with 120s retry, got %+v", result)
	}

	state := mustState(t, f.states, "ap@example.com")
	if state.IsLocked {
		t.Error("expected lock to be released")
	}
	if !state.HasPendingWork {
		t.Error("expected pending work")
	}
	if state.CooldownUntil == nil || !state.CooldownUntil.Equal(baseTime.Add(120*time.Second)) {
		t.Errorf("expected cooldown until now+120s, got %v", state.CooldownUntil)
	}
	if *state.Cursor != 100 {
		t.Errorf("expected cursor to stay at 100, got %d", *state.Cursor)
	}

	highest, _ := f.queue.HighestUnprocessed(ctx, "ap@example.com")
	if highest == nil || *highest != 200 {
		t.Errorf("expected target 200 re-enqueued, got %v", highest)
	}

	// A notification during cooldown never reaches the provider
	*f.now = baseTime.Add(61 * time.Second)
	again, err := f.worker.Run(ctx, "ap@example.com", 220)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if again.Admitted || again.Reason != AdmissionCooldown {
		t.Errorf("expected cooldown rejection, got %+v", again)
	}
	if f.provider.historyCalls.Load() != 1 {
		t.Errorf("expected a single provider call, got %d", f.provider.historyCalls.Load())
	}
}

func TestSyncWorker_Run_FailureKeepsSafeCursor(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 50*time.Second)
	seedMailbox(t, f.states, "ap@example.com", 100)

	// m2 and m3 share a history record, so failing on m3 must not advance past 150
	f.provider.listHistorySinceFunc = historyOf(
		HistoryMessage{ID: "m1", HistoryID: 150},
		HistoryMessage{ID: "m2", HistoryID: 160},
		HistoryMessage{ID: "m3", HistoryID: 160},
	)
	f.processor.processMessageFunc = func(ctx context.Context, mailboxID, accessToken string, msg *EmailMessage) (int, error) {
		if msg.ID == "m3" {
			return 0, fmt.Errorf("storage unavailable")
		}
		return 0, nil
	}

	result, err := f.worker.Run(ctx, "ap@example.com", 200)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Error == "" {
		t.Error("expected the failure to be reported")
	}

	state := mustState(t, f.states, "ap@example.com")
	if *state.Cursor != 150 {
		t.Errorf("expected cursor 150, got %d", *state.Cursor)
	}
	if state.IsLocked || !state.HasPendingWork {
		t.Errorf("expected released lock with pending work, got locked=%v pending=%v", state.IsLocked, state.HasPendingWork)
	}
	if state.CooldownUntil != nil {
		t.Error("expected no cooldown for a non rate limit failure")
	}
}

func TestSyncWorker_Run_BudgetExhausted(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 50*time.Second)
	seedMailbox(t, f.states, "ap@example.com", 100)

	// Each clock read moves time forward by 30s
	tick := baseTime
	f.worker.now = func() time.Time {
		current := tick
		tick = tick.Add(30 * time.Second)
		return current
	}

	f.provider.listHistorySinceFunc = historyOf(
		HistoryMessage{ID: "m1", HistoryID: 150},
		HistoryMessage{ID: "m2", HistoryID: 170},
		HistoryMessage{ID: "m3", HistoryID: 190},
	)

	result, err := f.worker.Run(ctx, "ap@example.com", 200)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.BudgetExhausted {
		t.Fatal("expected the budget to run out")
	}
	if result.MessagesProcessed != 1 {
		t.Errorf("expected 1 message processed, got %d", result.MessagesProcessed)
	}

	state := mustState(t, f.states, "ap@example.com")
	if *state.Cursor != 150 {
		t.Errorf("expected cursor 150, got %d", *state.Cursor)
	}
	if state.IsLocked || !state.HasPendingWork {
		t.Errorf("expected released lock with pending work, got locked=%v pending=%v", state.IsLocked, state.HasPendingWork)
	}
}

func TestSyncWorker_Run_HistoryExpiredJumpsCursor(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 50*time.Second)
	seedMailbox(t, f.states, "ap@example.com", 100)

	f.provider.listHistorySinceFunc = func(ctx context.Context, accessToken string, start uint64) (*HistoryResult, error) {
		return nil, fmt.Errorf("failed to list history: %w", ErrHistoryExpired)
	}

	result, err := f.worker.Run(ctx, "ap@example.com", 900)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.Cursor != 900 {
		t.Errorf("expected cursor 900, got %d", result.Cursor)
	}

	state := mustState(t, f.states, "ap@example.com")
	if *state.Cursor != 900 || state.HasPendingWork {
		t.Errorf("expected cursor 900 without pending work, got %d pending=%v", *state.Cursor, state.HasPendingWork)
	}
}

func TestSyncWorker_Run_TokenFailureReleasesLock(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 50*time.Second)
	seedMailbox(t, f.states, "ap@example.com", 100)

	f.worker.credentials = &mockTokenSource{
		accessTokenFunc: func(ctx context.Context, mailboxID string) (string, error) {
			return "", errors.New("mailbox account missing refresh token")
		},
	}

	_, err := f.worker.Run(ctx, "ap@example.com", 200)
	if err == nil {
		t.Fatal("expected token error")
	}

	state := mustState(t, f.states, "ap@example.com")
	if state.IsLocked || !state.HasPendingWork {
		t.Errorf("expected released lock with pending work, got locked=%v pending=%v", state.IsLocked, state.HasPendingWork)
	}
}

func TestSyncWorker_Run_SkipsDeletedMessage(t *testing.T) {
	ctx := context.Background()
	f := newWorkerFixture(t, 50*time.Second)
	seedMailbox(t, f.states, "ap@example.com", 100)

	f.provider.listHistorySinceFunc = historyOf(
		HistoryMessage{ID: "gone", HistoryID: 150},
		HistoryMessage{ID: "m2", HistoryID: 160},
	)
	f.provider.getMessageFunc = func(ctx context.Context, accessToken string, messageID string) (*EmailMessage, error) {
		if messageID == "gone" {
			return nil, fmt.Errorf("message gone: %w", ErrMessageNotFound)
		}
		return &EmailMessage{ID: messageID}, nil
	}

	result, err := f.worker.Run(ctx, "ap@example.com", 200)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.MessagesSkipped != 1 || result.MessagesProcessed != 1 {
		t.Errorf("expected 1 skipped and 1 processed message, got %d and %d", result.MessagesSkipped, result.MessagesProcessed)
	}
	if len(f.processor.processed) != 1 || f.processor.processed[0] != "m2" {
		t.Errorf("expected only m2 to be processed, got %v", f.processor.processed)
	}
	if result.Error != "" {
		t.Errorf("expected no error to be reported, got %s", result.Error)
	}

	state := mustState(t, f.states, "ap@example.com")
	if state.Cursor == nil || *state.Cursor != 200 {
		t.Errorf("expected cursor to reach 200, got %v", state.Cursor)
	}
	if state.IsLocked || state.HasPendingWork {
		t.Errorf("expected idle mailbox without pending work, got locked=%v pending=%v", state.IsLocked, state.HasPendingWork)
	}
}
