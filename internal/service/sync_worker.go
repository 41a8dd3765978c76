package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// TokenSource interface for per-mailbox access tokens
type TokenSource interface {
	AccessToken(ctx context.Context, mailboxID string) (string, error)
}

// MessageProcessor turns one email into invoice records
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, mailboxID string, accessToken string, msg *EmailMessage) (int, error)
}

// SyncResult summarises one worker invocation
type SyncResult struct {
	MailboxID         string
	Admitted          bool
	Reason            string
	Target            uint64
	Cursor            uint64
	MessagesProcessed int
	MessagesSkipped   int
	InvoicesCreated   int
	BudgetExhausted   bool
	RateLimited       bool
	RetryAfter        time.Duration
	Error             string
}

// SyncWorker pulls the provider history diff for one mailbox and processes it
// while holding the mailbox lock
type SyncWorker struct {
	lock        *LockController
	queue       EventQueue
	provider    MailProvider
	credentials TokenSource
	processor   MessageProcessor
	budget      time.Duration
	now         func() time.Time
}

func NewSyncWorker(lock *LockController, queue EventQueue, provider MailProvider, credentials TokenSource, processor MessageProcessor, budget time.Duration) *SyncWorker {
	return &SyncWorker{
		lock:        lock,
		queue:       queue,
		provider:    provider,
		credentials: credentials,
		processor:   processor,
		budget:      budget,
		now:         time.Now,
	}
}

// Run syncs a mailbox up to max(incoming, highest queued cursor).
// Provider failures never escape as errors: they become cooldown or release
// transitions recorded on the lock row. The returned error is for store failures.
func (w *SyncWorker) Run(ctx context.Context, mailboxID string, incoming uint64) (*SyncResult, error) {
	start := w.now()
	result := &SyncResult{MailboxID: mailboxID}

	admission, err := w.lock.Admit(ctx, mailboxID)
	if err != nil {
		return nil, err
	}
	result.Admitted = admission.Admitted
	result.Reason = admission.Reason
	if !admission.Admitted {
		return result, nil
	}
	token := admission.Token

	// Determine the target cursor
	target := incoming
	highest, err := w.queue.HighestUnprocessed(ctx, mailboxID)
	if err != nil {
		return nil, w.abort(ctx, mailboxID, token, target, 0, fmt.Errorf("failed to read queue: %w", err))
	}
	if highest != nil && *highest > target {
		target = *highest
	}
	result.Target = target

	// No cursor yet: the first cursor we learn about only gets recorded
	if admission.State.Cursor == nil {
		log.Printf("Mailbox %s has no cursor yet, recording %d without processing", mailboxID, target)
		result.Cursor = target
		return result, w.lock.Complete(ctx, mailboxID, token, target, false)
	}

	stored := *admission.State.Cursor
	result.Cursor = stored
	if target <= stored {
		log.Printf("Mailbox %s already synced to %d (target %d)", mailboxID, stored, target)
		return result, w.lock.Complete(ctx, mailboxID, token, stored, false)
	}

	accessToken, err := w.credentials.AccessToken(ctx, mailboxID)
	if err != nil {
		result.Error = err.Error()
		return result, w.abort(ctx, mailboxID, token, target, 0, err)
	}

	history, err := w.provider.ListHistorySince(ctx, accessToken, stored)
	if err != nil {
		if errors.Is(err, ErrHistoryExpired) {
			log.Printf("Warning: history for mailbox %s expired at cursor %d, jumping to %d", mailboxID, stored, target)
			result.Cursor = target
			result.Error = err.Error()
			return result, w.lock.Complete(ctx, mailboxID, token, target, false)
		}
		return result, w.providerFailure(ctx, result, token, target, 0, err)
	}

	log.Printf("Syncing mailbox %s from %d to %d: %d new messages", mailboxID, stored, target, len(history.Messages))

	deadline := start.Add(w.budget)
	var safeCursor uint64

	for i, ref := range history.Messages {
		if w.budget > 0 && w.now().After(deadline) {
			result.BudgetExhausted = true
			break
		}

		msg, err := w.provider.GetMessage(ctx, accessToken, ref.ID)
		switch {
		case errors.Is(err, ErrMessageNotFound):
			// Deleted after its history record was written; retrying cannot succeed
			log.Printf("Warning: message %s of mailbox %s no longer exists, skipping", ref.ID, mailboxID)
			result.MessagesSkipped++
		case err != nil:
			return result, w.providerFailure(ctx, result, token, target, safeCursor, fmt.Errorf("failed to get message %s: %w", ref.ID, err))
		default:
			created, err := w.processor.ProcessMessage(ctx, mailboxID, accessToken, msg)
			result.InvoicesCreated += created
			if err != nil {
				return result, w.providerFailure(ctx, result, token, target, safeCursor, fmt.Errorf("failed to process message %s: %w", ref.ID, err))
			}
			result.MessagesProcessed++
		}

		// Advance only past history records whose messages are all done
		if i == len(history.Messages)-1 || history.Messages[i+1].HistoryID > ref.HistoryID {
			safeCursor = ref.HistoryID
		}
	}

	if result.BudgetExhausted {
		log.Printf("Worker budget exhausted for mailbox %s after %d messages, advancing to %d", mailboxID, result.MessagesProcessed, safeCursor)
		if safeCursor > stored {
			result.Cursor = safeCursor
		}
		return result, w.lock.Complete(ctx, mailboxID, token, safeCursor, true)
	}

	final := target
	if history.HistoryID > final {
		final = history.HistoryID
	}
	result.Cursor = final

	log.Printf("Mailbox %s synced to %d (%d messages, %d invoices)", mailboxID, final, result.MessagesProcessed, result.InvoicesCreated)
	return result, w.lock.Complete(ctx, mailboxID, token, final, false)
}

// providerFailure maps a provider error onto cooldown or release
func (w *SyncWorker) providerFailure(ctx context.Context, result *SyncResult, token string, target, processed uint64, err error) error {
	if processed > result.Cursor {
		result.Cursor = processed
	}
	result.Error = err.Error()

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		result.RateLimited = true
		result.RetryAfter = rateLimitErr.RetryAfter
		return w.lock.RateLimited(ctx, result.MailboxID, token, target, processed, rateLimitErr.RetryAfter, err)
	}

	log.Printf("Warning: sync of mailbox %s failed: %v", result.MailboxID, err)
	return w.lock.Abort(ctx, result.MailboxID, token, target, processed, err)
}

func (w *SyncWorker) abort(ctx context.Context, mailboxID, token string, target, processed uint64, cause error) error {
	if err := w.lock.Abort(ctx, mailboxID, token, target, processed, cause); err != nil {
		return fmt.Errorf("%v (release failed: %w)", cause, err)
	}
	return cause
}
