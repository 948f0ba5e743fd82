package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stayware/cohost-platform/pkg/logging"
)

var (
	// ErrNotFound means the entity does not exist. Distinct from
	// ErrUnavailable; a missing booking is normal for pre-booking inquiries.
	ErrNotFound = errors.New("conversation: not found")

	// ErrUnavailable means a backing store could not answer at all.
	ErrUnavailable = errors.New("conversation: store unavailable")

	// ErrContextUnavailable means required context could not be assembled and
	// the message must be handled conservatively (escalate, never guess).
	ErrContextUnavailable = errors.New("conversation: context unavailable")
)

// PropertyStore resolves property snapshots for context assembly.
type PropertyStore interface {
	GetProperty(ctx context.Context, propertyID string) (PropertySummary, error)
}

// BookingStore resolves the booking tied to a conversation.
type BookingStore interface {
	GetBookingByConversation(ctx context.Context, conversationID string) (BookingSummary, error)
}

// TurnHistory provides the recent turn log plus escalation flags.
type TurnHistory interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]Turn, error)
	Flags(ctx context.Context, conversationID string) (map[ReasonCode]struct{}, error)
}

// ContextAssembler builds the per-message snapshot the classifier and
// composer run against. Property data is required; history and booking are
// best-effort because a missing booking is a normal pre-booking inquiry and a
// cold history cache should not block an answer.
type ContextAssembler struct {
	properties   PropertyStore
	bookings     BookingStore
	history      TurnHistory
	historyLimit int
	logger       *logging.Logger
}

// NewContextAssembler wires the assembler. Panics on nil required stores.
func NewContextAssembler(properties PropertyStore, bookings BookingStore, history TurnHistory, historyLimit int, logger *logging.Logger) *ContextAssembler {
	if properties == nil {
		panic("conversation: property store cannot be nil")
	}
	if history == nil {
		panic("conversation: turn history cannot be nil")
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ContextAssembler{
		properties:   properties,
		bookings:     bookings,
		history:      history,
		historyLimit: historyLimit,
		logger:       logger,
	}
}

var assemblerTracer = otel.Tracer("cohost/context-assembler")

// Assemble builds the context for one inbound message. A failed or missing
// property lookup returns ErrContextUnavailable; the caller escalates rather
// than answering without knowing which property the guest means.
func (a *ContextAssembler) Assemble(ctx context.Context, msg GuestMessage) (*ConversationContext, error) {
	ctx, span := assemblerTracer.Start(ctx, "context.assemble")
	defer span.End()

	property, err := a.properties.GetProperty(ctx, msg.PropertyID)
	if err != nil {
		span.RecordError(err)
		a.logger.Warn("property lookup failed during context assembly",
			"conversation_id", msg.ConversationID,
			"property_id", msg.PropertyID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: property %s: %v", ErrContextUnavailable, msg.PropertyID, err)
	}

	convCtx := &ConversationContext{
		Property:        property,
		EscalationFlags: make(map[ReasonCode]struct{}),
	}

	if a.bookings != nil {
		booking, err := a.bookings.GetBookingByConversation(ctx, msg.ConversationID)
		switch {
		case err == nil:
			convCtx.Booking = booking
		case errors.Is(err, ErrNotFound):
			// Pre-booking inquiry, nothing to attach.
		default:
			span.RecordError(err)
			return nil, fmt.Errorf("%w: booking for %s: %v", ErrContextUnavailable, msg.ConversationID, err)
		}
	}

	turns, err := a.history.Recent(ctx, msg.ConversationID, a.historyLimit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: history for %s: %v", ErrContextUnavailable, msg.ConversationID, err)
	}
	convCtx.History = turns
	for _, t := range turns {
		for _, f := range t.Flags {
			convCtx.EscalationFlags[f] = struct{}{}
		}
	}

	span.SetAttributes(
		attribute.Int("context.history_turns", len(convCtx.History)),
		attribute.Int("context.escalation_flags", len(convCtx.EscalationFlags)),
		attribute.Bool("context.has_booking", convCtx.Booking.ConversationID != ""),
	)
	return convCtx, nil
}
