package ingest

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/pkg/logging"
)

var ingestTracer = otel.Tracer("cohost/ingest")

// Publisher enqueues normalized messages for asynchronous processing.
type Publisher interface {
	EnqueueInbound(ctx context.Context, msg conversation.GuestMessage) error
}

// Result reports what happened to one webhook delivery.
type Result struct {
	Accepted  bool
	Duplicate bool
	Message   conversation.GuestMessage
}

// Service normalizes platform webhooks, drops duplicates, and hands accepted
// messages to the queue. The webhook handler returns as soon as the message
// is enqueued; all heavy work happens in the worker.
type Service struct {
	deduper   *Deduper
	publisher Publisher
	logger    *logging.Logger
}

// NewService wires the ingestion pipeline.
func NewService(deduper *Deduper, publisher Publisher, logger *logging.Logger) *Service {
	if deduper == nil {
		panic("ingest: deduper cannot be nil")
	}
	if publisher == nil {
		panic("ingest: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{deduper: deduper, publisher: publisher, logger: logger}
}

// Accept processes one raw webhook delivery. Duplicate events are
// acknowledged without re-enqueueing; host-authored messages are accepted so
// the worker can record them, and validation failures surface to the caller
// for a 4xx response.
func (s *Service) Accept(ctx context.Context, env Envelope) (Result, error) {
	ctx, span := ingestTracer.Start(ctx, "ingest.accept")
	defer span.End()
	span.SetAttributes(attribute.String("ingest.platform", string(env.Platform)))

	if env.Received.IsZero() {
		env.Received = time.Now()
	}

	msg, err := Normalize(env)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	first, err := s.deduper.FirstSeen(ctx, string(msg.Platform), msg.PlatformEventID)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	if !first {
		s.logger.Debug("duplicate platform event dropped",
			"platform", msg.Platform,
			"platform_event_id", msg.PlatformEventID,
		)
		span.SetAttributes(attribute.Bool("ingest.duplicate", true))
		return Result{Duplicate: true, Message: msg}, nil
	}

	if err := s.publisher.EnqueueInbound(ctx, msg); err != nil {
		// Give the claim back so the platform's redelivery is not dropped as
		// a duplicate of an event that never reached the queue.
		if relErr := s.deduper.Release(ctx, string(msg.Platform), msg.PlatformEventID); relErr != nil {
			s.logger.Error("failed to release dedupe claim after enqueue failure",
				"platform", msg.Platform,
				"platform_event_id", msg.PlatformEventID,
				"error", relErr,
			)
		}
		return Result{}, fmt.Errorf("ingest: enqueue failed: %w", err)
	}

	s.logger.Info("inbound message accepted",
		"platform", msg.Platform,
		"conversation_id", msg.ConversationID,
		"platform_event_id", msg.PlatformEventID,
	)
	return Result{Accepted: true, Message: msg}, nil
}
