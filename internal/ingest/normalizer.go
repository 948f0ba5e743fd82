package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stayware/cohost-platform/internal/conversation"
)

// ErrUnsupportedPlatform means the envelope names a platform no normalizer
// handles.
var ErrUnsupportedPlatform = errors.New("ingest: unsupported platform")

// ValidationError reports a payload that parsed but is not usable.
type ValidationError struct {
	Platform conversation.Platform
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ingest: invalid %s payload: %s %s", e.Platform, e.Field, e.Reason)
}

// Envelope is the raw webhook body plus the platform it arrived on. Each
// platform posts its own schema; the platform tag selects the decoder.
type Envelope struct {
	Platform conversation.Platform
	Body     []byte
	Received time.Time
}

// airbnbPayload mirrors Airbnb's messaging webhook schema.
type airbnbPayload struct {
	EventID string `json:"event_id"`
	Thread  struct {
		ID        string `json:"id"`
		ListingID string `json:"listing_id"`
	} `json:"thread"`
	Message struct {
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
		Sender    struct {
			Role string `json:"role"`
		} `json:"sender"`
	} `json:"message"`
}

// vrboPayload mirrors Vrbo's conversation event schema.
type vrboPayload struct {
	NotificationID string `json:"notificationId"`
	ConversationID string `json:"conversationId"`
	PropertyID     string `json:"propertyId"`
	MessageText    string `json:"messageText"`
	SentTimestamp  int64  `json:"sentTimestamp"`
	SenderType     string `json:"senderType"`
}

// bookingPayload mirrors Booking.com's messaging API event schema.
type bookingPayload struct {
	MessageID     string `json:"message_id"`
	ReservationID string `json:"reservation_id"`
	HotelID       string `json:"hotel_id"`
	Content       string `json:"content"`
	Timestamp     string `json:"timestamp"`
	Sender        string `json:"sender"`
}

// directPayload is the schema of the direct-booking site's chat widget.
type directPayload struct {
	EventID        string    `json:"event_id"`
	ConversationID string    `json:"conversation_id"`
	PropertyID     string    `json:"property_id"`
	Text           string    `json:"text"`
	SentAt         time.Time `json:"sent_at"`
	From           string    `json:"from"`
}

// Normalize decodes a platform envelope into the canonical message. Messages
// authored by the host side pass through with SenderRole set so the engine
// can record them without replying.
func Normalize(env Envelope) (conversation.GuestMessage, error) {
	switch env.Platform {
	case conversation.PlatformAirbnb:
		return normalizeAirbnb(env)
	case conversation.PlatformVrbo:
		return normalizeVrbo(env)
	case conversation.PlatformBooking:
		return normalizeBooking(env)
	case conversation.PlatformDirect:
		return normalizeDirect(env)
	default:
		return conversation.GuestMessage{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, env.Platform)
	}
}

func normalizeAirbnb(env Envelope) (conversation.GuestMessage, error) {
	var p airbnbPayload
	if err := json.Unmarshal(env.Body, &p); err != nil {
		return conversation.GuestMessage{}, fmt.Errorf("ingest: airbnb payload decode: %w", err)
	}
	if p.EventID == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformAirbnb, Field: "event_id", Reason: "is required"}
	}
	if p.Thread.ID == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformAirbnb, Field: "thread.id", Reason: "is required"}
	}
	if strings.TrimSpace(p.Message.Body) == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformAirbnb, Field: "message.body", Reason: "is empty"}
	}

	receivedAt := env.Received
	if ts, err := time.Parse(time.RFC3339, p.Message.CreatedAt); err == nil {
		receivedAt = ts
	}

	role := conversation.SpeakerGuest
	if p.Message.Sender.Role == "host" {
		role = conversation.SpeakerHuman
	}

	return conversation.GuestMessage{
		ConversationID:  conversationID(conversation.PlatformAirbnb, p.Thread.ID),
		PropertyID:      p.Thread.ListingID,
		Platform:        conversation.PlatformAirbnb,
		PlatformEventID: p.EventID,
		RawText:         strings.TrimSpace(p.Message.Body),
		ReceivedAt:      receivedAt,
		SenderRole:      role,
	}, nil
}

func normalizeVrbo(env Envelope) (conversation.GuestMessage, error) {
	var p vrboPayload
	if err := json.Unmarshal(env.Body, &p); err != nil {
		return conversation.GuestMessage{}, fmt.Errorf("ingest: vrbo payload decode: %w", err)
	}
	if p.NotificationID == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformVrbo, Field: "notificationId", Reason: "is required"}
	}
	if p.ConversationID == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformVrbo, Field: "conversationId", Reason: "is required"}
	}
	if strings.TrimSpace(p.MessageText) == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformVrbo, Field: "messageText", Reason: "is empty"}
	}

	receivedAt := env.Received
	if p.SentTimestamp > 0 {
		receivedAt = time.UnixMilli(p.SentTimestamp)
	}

	role := conversation.SpeakerGuest
	if strings.EqualFold(p.SenderType, "OWNER") {
		role = conversation.SpeakerHuman
	}

	return conversation.GuestMessage{
		ConversationID:  conversationID(conversation.PlatformVrbo, p.ConversationID),
		PropertyID:      p.PropertyID,
		Platform:        conversation.PlatformVrbo,
		PlatformEventID: p.NotificationID,
		RawText:         strings.TrimSpace(p.MessageText),
		ReceivedAt:      receivedAt,
		SenderRole:      role,
	}, nil
}

func normalizeBooking(env Envelope) (conversation.GuestMessage, error) {
	var p bookingPayload
	if err := json.Unmarshal(env.Body, &p); err != nil {
		return conversation.GuestMessage{}, fmt.Errorf("ingest: booking payload decode: %w", err)
	}
	if p.MessageID == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformBooking, Field: "message_id", Reason: "is required"}
	}
	if p.ReservationID == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformBooking, Field: "reservation_id", Reason: "is required"}
	}
	if strings.TrimSpace(p.Content) == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformBooking, Field: "content", Reason: "is empty"}
	}

	receivedAt := env.Received
	if ts, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
		receivedAt = ts
	}

	role := conversation.SpeakerGuest
	if strings.EqualFold(p.Sender, "hotel") {
		role = conversation.SpeakerHuman
	}

	return conversation.GuestMessage{
		ConversationID:  conversationID(conversation.PlatformBooking, p.ReservationID),
		PropertyID:      p.HotelID,
		Platform:        conversation.PlatformBooking,
		PlatformEventID: p.MessageID,
		RawText:         strings.TrimSpace(p.Content),
		ReceivedAt:      receivedAt,
		SenderRole:      role,
	}, nil
}

func normalizeDirect(env Envelope) (conversation.GuestMessage, error) {
	var p directPayload
	if err := json.Unmarshal(env.Body, &p); err != nil {
		return conversation.GuestMessage{}, fmt.Errorf("ingest: direct payload decode: %w", err)
	}
	if p.EventID == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformDirect, Field: "event_id", Reason: "is required"}
	}
	if p.ConversationID == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformDirect, Field: "conversation_id", Reason: "is required"}
	}
	if strings.TrimSpace(p.Text) == "" {
		return conversation.GuestMessage{}, &ValidationError{Platform: conversation.PlatformDirect, Field: "text", Reason: "is empty"}
	}

	receivedAt := env.Received
	if !p.SentAt.IsZero() {
		receivedAt = p.SentAt
	}

	role := conversation.SpeakerGuest
	if strings.EqualFold(p.From, "host") {
		role = conversation.SpeakerHuman
	}

	return conversation.GuestMessage{
		ConversationID:  conversationID(conversation.PlatformDirect, p.ConversationID),
		PropertyID:      p.PropertyID,
		Platform:        conversation.PlatformDirect,
		PlatformEventID: p.EventID,
		RawText:         strings.TrimSpace(p.Text),
		ReceivedAt:      receivedAt,
		SenderRole:      role,
	}, nil
}

func conversationID(platform conversation.Platform, threadID string) string {
	return fmt.Sprintf("%s:%s", platform, threadID)
}
