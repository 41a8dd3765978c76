package watcher

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
	"github.com/vipul43/invoice-intake/internal/service"
)

// Drainer interface for the pending-work drain
type Drainer interface {
	Drain(ctx context.Context) (*service.DrainSummary, error)
}

// WatchRenewer interface for provider watch renewal
type WatchRenewer interface {
	RenewAll(ctx context.Context) (int, error)
}

type Schedules struct {
	Drain       string // cron expression or descriptor, e.g. "@every 1m"
	WatchRenew  string
	RenewOnBoot bool
}

// Watcher re-triggers deferred work on a schedule. All of its state lives in the
// database, so a restart loses nothing.
type Watcher struct {
	drainer   Drainer
	renewer   WatchRenewer
	schedules Schedules
}

func New(drainer Drainer, renewer WatchRenewer, schedules Schedules) *Watcher {
	return &Watcher{
		drainer:   drainer,
		renewer:   renewer,
		schedules: schedules,
	}
}

// Start drains once, then runs the scheduled jobs until the context is cancelled
func (w *Watcher) Start(ctx context.Context) error {
	log.Println("[Scheduler] Starting watcher for pending mailboxes and watch renewal...")

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	if _, err := c.AddFunc(w.schedules.Drain, func() { w.drain(ctx) }); err != nil {
		return fmt.Errorf("invalid drain schedule %q: %w", w.schedules.Drain, err)
	}
	if w.renewer != nil {
		if _, err := c.AddFunc(w.schedules.WatchRenew, func() { w.renew(ctx) }); err != nil {
			return fmt.Errorf("invalid watch renewal schedule %q: %w", w.schedules.WatchRenew, err)
		}
	}

	// Pick up work deferred before the last shutdown
	w.drain(ctx)
	if w.renewer != nil && w.schedules.RenewOnBoot {
		w.renew(ctx)
	}

	c.Start()
	<-ctx.Done()

	log.Println("[Scheduler] Watcher shutting down...")
	<-c.Stop().Done()
	return ctx.Err()
}

func (w *Watcher) drain(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.drainer.Drain(ctx); err != nil {
		log.Printf("[Scheduler] Error draining pending mailboxes: %v", err)
	}
}

func (w *Watcher) renew(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.renewer.RenewAll(ctx); err != nil {
		log.Printf("[Scheduler] Error renewing mailbox watches: %v", err)
	}
}
