package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/pkg/logging"
)

var gatewayTracer = otel.Tracer("cohost/dispatch-gateway")

// Gateway routes outbound replies to the right platform adapter with
// bounded retries. Idempotency keys pass through to the platform so a retry
// after an ambiguous timeout cannot double-send.
type Gateway struct {
	adapters    map[conversation.Platform]Adapter
	maxAttempts int
	baseDelay   time.Duration
	logger      *logging.Logger
}

// GatewayOption customizes retry behavior.
type GatewayOption func(*Gateway)

// WithMaxAttempts bounds delivery attempts per message.
func WithMaxAttempts(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first retry delay; later delays double with jitter.
func WithBaseDelay(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.baseDelay = d
		}
	}
}

// NewGateway indexes adapters by platform.
func NewGateway(adapters []Adapter, logger *logging.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	indexed := make(map[conversation.Platform]Adapter, len(adapters))
	for _, a := range adapters {
		if a != nil {
			indexed[a.Platform()] = a
		}
	}
	g := &Gateway{
		adapters:    indexed,
		maxAttempts: 4,
		baseDelay:   500 * time.Millisecond,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ conversation.Dispatcher = (*Gateway)(nil)

// Deliver sends the reply, retrying transient failures with exponential
// backoff and jitter. Permanent failures and context cancellation stop the
// loop immediately.
func (g *Gateway) Deliver(ctx context.Context, req conversation.OutboundDelivery) (*conversation.DeliveryReceipt, error) {
	ctx, span := gatewayTracer.Start(ctx, "dispatch.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("dispatch.platform", string(req.Platform)),
		attribute.String("dispatch.conversation_id", req.ConversationID),
	)

	adapter, ok := g.adapters[req.Platform]
	if !ok {
		return nil, &DeliveryError{
			Platform:  req.Platform,
			Permanent: true,
			Err:       fmt.Errorf("no adapter configured"),
		}
	}

	thread := threadID(req.ConversationID)
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := g.baseDelay << (attempt - 2)
			delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		platformMessageID, err := adapter.Send(ctx, thread, req.Text, req.IdempotencyKey)
		if err == nil {
			span.SetAttributes(attribute.Int("dispatch.attempts", attempt))
			g.logger.Debug("reply delivered to platform",
				"platform", req.Platform,
				"conversation_id", req.ConversationID,
				"attempts", attempt,
			)
			return &conversation.DeliveryReceipt{
				PlatformMessageID: platformMessageID,
				Attempts:          attempt,
			}, nil
		}

		lastErr = err
		if IsPermanent(err) {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.logger.Warn("delivery attempt failed",
			"platform", req.Platform,
			"conversation_id", req.ConversationID,
			"attempt", attempt,
			"error", err,
		)
	}

	span.RecordError(lastErr)
	return nil, lastErr
}
