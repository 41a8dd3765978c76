package notification

import (
	"context"
	"errors"
	"fmt"
	"log"

	"cloud.google.com/go/pubsub"
	"github.com/vipul43/invoice-intake/internal/service"
	"google.golang.org/api/option"
)

// Intake interface for recording mailbox notifications
type Intake interface {
	HandleNotification(ctx context.Context, n service.Notification) (string, error)
}

// Subscriber pulls mailbox notifications from a Pub/Sub subscription and feeds
// them into the same intake path as the push webhook
type Subscriber struct {
	client  *pubsub.Client
	subName string
	intake  Intake
}

func NewSubscriber(ctx context.Context, projectID, subName, credentialsFile string, intake Intake) (*Subscriber, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Subscriber{
		client:  client,
		subName: subName,
		intake:  intake,
	}, nil
}

// Start receives messages until the context is cancelled
func (s *Subscriber) Start(ctx context.Context) error {
	sub := s.client.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("failed to check subscription: %w", err)
	}
	if !exists {
		return fmt.Errorf("subscription %s does not exist", s.subName)
	}

	log.Printf("[PubSub] Listening for messages on subscription: %s", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.handle(ctx, msg.Data) {
			msg.Ack()
		} else {
			msg.Nack()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	log.Println("[PubSub] Subscriber stopped")
	return nil
}

// handle reports whether the message should be acknowledged.
// Malformed payloads are acknowledged so they are not redelivered forever.
func (s *Subscriber) handle(ctx context.Context, data []byte) bool {
	n, err := service.DecodeNotification(data)
	if err != nil {
		log.Printf("[PubSub] Dropping malformed notification: %v", err)
		return true
	}

	outcome, err := s.intake.HandleNotification(ctx, *n)
	if err != nil {
		log.Printf("[PubSub] Failed to record notification for %s: %v", n.EmailAddress, err)
		return false
	}

	log.Printf("[PubSub] Notification for %s at %d: %s", n.EmailAddress, n.HistoryID, outcome)
	return true
}

func (s *Subscriber) Close() error {
	return s.client.Close()
}
