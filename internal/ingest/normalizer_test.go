package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayware/cohost-platform/internal/conversation"
)

func TestNormalize_Airbnb(t *testing.T) {
	body := []byte(`{
		"event_id": "evt-123",
		"thread": {"id": "th-9", "listing_id": "prop-1"},
		"message": {
			"body": "  What's the wifi password?  ",
			"created_at": "2026-08-30T14:05:00Z",
			"sender": {"role": "guest"}
		}
	}`)

	msg, err := Normalize(Envelope{Platform: conversation.PlatformAirbnb, Body: body, Received: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, "airbnb:th-9", msg.ConversationID)
	assert.Equal(t, "prop-1", msg.PropertyID)
	assert.Equal(t, "evt-123", msg.PlatformEventID)
	assert.Equal(t, "What's the wifi password?", msg.RawText)
	assert.Equal(t, conversation.SpeakerGuest, msg.SenderRole)
	assert.Equal(t, 2026, msg.ReceivedAt.Year())
}

func TestNormalize_AirbnbHostMessage(t *testing.T) {
	body := []byte(`{
		"event_id": "evt-124",
		"thread": {"id": "th-9", "listing_id": "prop-1"},
		"message": {"body": "I'll drop off new towels.", "sender": {"role": "host"}}
	}`)

	msg, err := Normalize(Envelope{Platform: conversation.PlatformAirbnb, Body: body, Received: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, conversation.SpeakerHuman, msg.SenderRole)
}

func TestNormalize_Vrbo(t *testing.T) {
	body := []byte(`{
		"notificationId": "n-55",
		"conversationId": "conv-8",
		"propertyId": "prop-2",
		"messageText": "Is parking included?",
		"sentTimestamp": 1756500000000,
		"senderType": "TRAVELER"
	}`)

	msg, err := Normalize(Envelope{Platform: conversation.PlatformVrbo, Body: body, Received: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, "vrbo:conv-8", msg.ConversationID)
	assert.Equal(t, "n-55", msg.PlatformEventID)
	assert.Equal(t, conversation.SpeakerGuest, msg.SenderRole)
	assert.Equal(t, time.UnixMilli(1756500000000), msg.ReceivedAt)
}

func TestNormalize_Booking(t *testing.T) {
	body := []byte(`{
		"message_id": "m-1",
		"reservation_id": "res-77",
		"hotel_id": "prop-3",
		"content": "When is check-out?",
		"timestamp": "2026-08-30T09:00:00Z",
		"sender": "guest"
	}`)

	msg, err := Normalize(Envelope{Platform: conversation.PlatformBooking, Body: body})
	require.NoError(t, err)
	assert.Equal(t, "booking:res-77", msg.ConversationID)
	assert.Equal(t, "prop-3", msg.PropertyID)
}

func TestNormalize_Direct(t *testing.T) {
	body := []byte(`{
		"event_id": "d-1",
		"conversation_id": "web-4",
		"property_id": "prop-4",
		"text": "Do you allow dogs?",
		"from": "guest"
	}`)

	msg, err := Normalize(Envelope{Platform: conversation.PlatformDirect, Body: body, Received: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "direct:web-4", msg.ConversationID)
}

func TestNormalize_ValidationFailures(t *testing.T) {
	tests := []struct {
		name     string
		platform conversation.Platform
		body     string
	}{
		{"airbnb missing event id", conversation.PlatformAirbnb, `{"thread":{"id":"t"},"message":{"body":"hi"}}`},
		{"airbnb empty body", conversation.PlatformAirbnb, `{"event_id":"e","thread":{"id":"t"},"message":{"body":"  "}}`},
		{"vrbo missing conversation", conversation.PlatformVrbo, `{"notificationId":"n","messageText":"hi"}`},
		{"booking missing reservation", conversation.PlatformBooking, `{"message_id":"m","content":"hi"}`},
		{"direct missing text", conversation.PlatformDirect, `{"event_id":"d","conversation_id":"c"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(Envelope{Platform: tt.platform, Body: []byte(tt.body)})
			var validationErr *ValidationError
			assert.True(t, errors.As(err, &validationErr), "want ValidationError, got %v", err)
		})
	}
}

func TestNormalize_UnsupportedPlatform(t *testing.T) {
	_, err := Normalize(Envelope{Platform: "craigslist", Body: []byte(`{}`)})
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestNormalize_MalformedJSON(t *testing.T) {
	_, err := Normalize(Envelope{Platform: conversation.PlatformAirbnb, Body: []byte(`{not json`)})
	assert.Error(t, err)
}
