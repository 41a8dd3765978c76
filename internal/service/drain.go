package service

import (
	"context"
	"fmt"
	"log"

	"github.com/vipul43/invoice-intake/internal/models"
)

// DefaultDrainBatch is how many pending mailboxes one drain visits
const DefaultDrainBatch = 100

// PendingLister interface for mailboxes with deferred work
type PendingLister interface {
	ListPending(ctx context.Context, limit int) ([]models.MailboxState, error)
}

// Runner runs the sync worker for one mailbox
type Runner interface {
	Run(ctx context.Context, mailboxID string, incoming uint64) (*SyncResult, error)
}

// DrainSummary reports what a drain did
type DrainSummary struct {
	Scanned  int           `json:"scanned"`
	Admitted int           `json:"admitted"`
	Deferred int           `json:"deferred"`
	Failed   int           `json:"failed"`
	Results  []*SyncResult `json:"results"`
}

// DrainService re-runs the worker for every mailbox that has pending work
type DrainService struct {
	states PendingLister
	runner Runner
	batch  int
}

func NewDrainService(states PendingLister, runner Runner, batch int) *DrainService {
	if batch <= 0 {
		batch = DefaultDrainBatch
	}
	return &DrainService{
		states: states,
		runner: runner,
		batch:  batch,
	}
}

// Drain visits pending mailboxes one at a time. A failing mailbox does not stop the rest.
func (s *DrainService) Drain(ctx context.Context) (*DrainSummary, error) {
	pending, err := s.states.ListPending(ctx, s.batch)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending mailboxes: %w", err)
	}

	summary := &DrainSummary{Results: make([]*SyncResult, 0, len(pending))}
	for _, state := range pending {
		if ctx.Err() != nil {
			break
		}
		summary.Scanned++

		result, err := s.runner.Run(ctx, state.MailboxID, 0)
		if err != nil {
			log.Printf("Warning: drain failed for mailbox %s: %v", state.MailboxID, err)
			summary.Failed++
			continue
		}

		summary.Results = append(summary.Results, result)
		if result.Admitted {
			summary.Admitted++
		} else {
			summary.Deferred++
		}
	}

	if summary.Scanned > 0 {
		log.Printf("Drain visited %d mailboxes (%d admitted, %d deferred, %d failed)",
			summary.Scanned, summary.Admitted, summary.Deferred, summary.Failed)
	}

	return summary, nil
}
