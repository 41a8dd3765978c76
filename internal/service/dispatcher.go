package service

import (
	"context"
	"log"
)

// Dispatcher runs the sync worker in a single background goroutine for mailboxes
// kicked by the intake path. Dropped kicks are fine: pending work stays on the
// lock row for the next drain.
type Dispatcher struct {
	runner Runner
	kicks  chan string
}

func NewDispatcher(runner Runner, bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Dispatcher{
		runner: runner,
		kicks:  make(chan string, bufferSize),
	}
}

// Kick schedules a worker run without blocking
func (d *Dispatcher) Kick(mailboxID string) {
	select {
	case d.kicks <- mailboxID:
	default:
		log.Printf("Warning: dispatcher busy, mailbox %s left for the next drain", mailboxID)
	}
}

// Start processes kicks until the context is cancelled
func (d *Dispatcher) Start(ctx context.Context) {
	log.Println("Dispatcher started")

	for {
		select {
		case <-ctx.Done():
			log.Println("Dispatcher stopped")
			return
		case mailboxID := <-d.kicks:
			if _, err := d.runner.Run(ctx, mailboxID, 0); err != nil {
				log.Printf("Warning: worker run for mailbox %s failed: %v", mailboxID, err)
			}
		}
	}
}
