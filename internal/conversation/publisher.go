package conversation

import (
	"context"
	"fmt"

	"github.com/stayware/cohost-platform/pkg/logging"
)

// Publisher enqueues conversation jobs for asynchronous processing.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueInbound publishes a normalized guest message for processing.
func (p *Publisher) EnqueueInbound(ctx context.Context, msg GuestMessage) error {
	return p.enqueue(ctx, queuePayload{Kind: jobTypeInbound, Message: &msg})
}

// EnqueueBookingUpdate publishes a booking or property change event.
func (p *Publisher) EnqueueBookingUpdate(ctx context.Context, evt BookingUpdateEvent) error {
	return p.enqueue(ctx, queuePayload{Kind: jobTypeBookingUpdate, BookingUpdate: &evt})
}

// EnqueueHumanResolve publishes a host's close of an escalated conversation.
func (p *Publisher) EnqueueHumanResolve(ctx context.Context, evt HumanResolveEvent) error {
	return p.enqueue(ctx, queuePayload{Kind: jobTypeHumanResolve, Resolve: &evt})
}

func (p *Publisher) enqueue(ctx context.Context, payload queuePayload) error {
	if ctx == nil {
		ctx = context.Background()
	}
	payload, body, err := encodePayload(payload)
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("conversation: failed to enqueue job: %w", err)
	}
	p.logger.Debug("conversation job enqueued", "job_id", payload.ID, "kind", payload.Kind)
	return nil
}
