package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPropertyStore struct {
	property PropertySummary
	err      error
}

func (s *stubPropertyStore) GetProperty(_ context.Context, _ string) (PropertySummary, error) {
	return s.property, s.err
}

type stubBookingStore struct {
	booking BookingSummary
	err     error
}

func (s *stubBookingStore) GetBookingByConversation(_ context.Context, _ string) (BookingSummary, error) {
	return s.booking, s.err
}

func assemblerFixture(t *testing.T, properties PropertyStore, bookings BookingStore) (*ContextAssembler, *HistoryStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	history := NewHistoryStore(client, time.Hour)
	return NewContextAssembler(properties, bookings, history, 5, nil), history
}

func TestContextAssembler_Assemble(t *testing.T) {
	properties := &stubPropertyStore{property: PropertySummary{ID: "prop-1", Name: "Lakeview Cottage"}}
	bookings := &stubBookingStore{booking: BookingSummary{ConversationID: "c1", GuestName: "Maya"}}
	assembler, history := assemblerFixture(t, properties, bookings)

	ctx := context.Background()
	_, err := history.Append(ctx, "c1", Turn{Speaker: SpeakerGuest, Text: "hi", Timestamp: time.Now()})
	require.NoError(t, err)
	_, err = history.Append(ctx, "c1", Turn{
		Speaker:   SpeakerGuest,
		Text:      "the sink is broken",
		Timestamp: time.Now(),
		Flags:     []ReasonCode{ReasonDamage},
	})
	require.NoError(t, err)

	convCtx, err := assembler.Assemble(ctx, GuestMessage{ConversationID: "c1", PropertyID: "prop-1"})
	require.NoError(t, err)

	assert.Equal(t, "Lakeview Cottage", convCtx.Property.Name)
	assert.Equal(t, "Maya", convCtx.Booking.GuestName)
	assert.Len(t, convCtx.History, 2)
	assert.True(t, convCtx.Flagged())
	assert.Contains(t, convCtx.EscalationFlags, ReasonDamage)
}

func TestContextAssembler_PropertyFailureIsContextUnavailable(t *testing.T) {
	properties := &stubPropertyStore{err: errors.New("db down")}
	assembler, _ := assemblerFixture(t, properties, nil)

	_, err := assembler.Assemble(context.Background(), GuestMessage{ConversationID: "c1", PropertyID: "prop-1"})
	assert.ErrorIs(t, err, ErrContextUnavailable)
}

func TestContextAssembler_MissingBookingIsNormal(t *testing.T) {
	properties := &stubPropertyStore{property: PropertySummary{ID: "prop-1"}}
	bookings := &stubBookingStore{err: ErrNotFound}
	assembler, _ := assemblerFixture(t, properties, bookings)

	convCtx, err := assembler.Assemble(context.Background(), GuestMessage{ConversationID: "c1", PropertyID: "prop-1"})
	require.NoError(t, err)
	assert.Empty(t, convCtx.Booking.GuestName)
}

func TestContextAssembler_BookingStoreFailure(t *testing.T) {
	properties := &stubPropertyStore{property: PropertySummary{ID: "prop-1"}}
	bookings := &stubBookingStore{err: errors.New("timeout")}
	assembler, _ := assemblerFixture(t, properties, bookings)

	_, err := assembler.Assemble(context.Background(), GuestMessage{ConversationID: "c1", PropertyID: "prop-1"})
	assert.ErrorIs(t, err, ErrContextUnavailable)
}
