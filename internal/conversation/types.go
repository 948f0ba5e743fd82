package conversation

import (
	"sort"
	"time"
)

// Platform identifies the booking platform a conversation belongs to.
type Platform string

const (
	PlatformAirbnb  Platform = "airbnb"
	PlatformVrbo    Platform = "vrbo"
	PlatformBooking Platform = "booking"
	PlatformDirect  Platform = "direct"
)

// Valid reports whether p is a supported platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformAirbnb, PlatformVrbo, PlatformBooking, PlatformDirect:
		return true
	}
	return false
}

// Speaker attributes a turn to the guest, the automated agent, or a human host.
type Speaker string

const (
	SpeakerGuest Speaker = "guest"
	SpeakerAgent Speaker = "agent"
	SpeakerHuman Speaker = "human"
)

// GuestMessage is the canonical inbound message produced by the ingestion
// normalizer. Immutable once created.
type GuestMessage struct {
	ConversationID  string    `json:"conversation_id"`
	PropertyID      string    `json:"property_id"`
	Platform        Platform  `json:"platform"`
	PlatformEventID string    `json:"platform_event_id"`
	RawText         string    `json:"raw_text"`
	ReceivedAt      time.Time `json:"received_at"`
	SenderRole      Speaker   `json:"sender_role"`
}

// Turn is one message exchanged within a conversation. Append-only; canonical
// order is Timestamp, with ties broken by Seq (insertion order), never by
// wall-clock alone.
type Turn struct {
	Speaker   Speaker      `json:"speaker"`
	Text      string       `json:"text"`
	Timestamp time.Time    `json:"timestamp"`
	Channel   Platform     `json:"channel"`
	Seq       int64        `json:"seq"`
	Flags     []ReasonCode `json:"flags,omitempty"`
}

// SortTurns orders turns into canonical conversation order.
func SortTurns(turns []Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		if turns[i].Timestamp.Equal(turns[j].Timestamp) {
			return turns[i].Seq < turns[j].Seq
		}
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})
}

// PropertySummary is the property snapshot used for context assembly and
// variable resolution.
type PropertySummary struct {
	ID            string
	Name          string
	Address       string
	TimeZone      string
	CheckInTime   string
	CheckOutTime  string
	WiFiNetwork   string
	WiFiPassword  string
	DoorCode      string
	ParkingInfo   string
	HouseRules    string
	ConfigVersion int64
}

// BookingSummary is the booking snapshot for a conversation. A zero value
// means no booking exists yet (pre-booking inquiry).
type BookingSummary struct {
	ConversationID string
	GuestName      string
	CheckIn        time.Time
	CheckOut       time.Time
	PartySize      int
	Status         string
}

// ConversationContext is the per-message snapshot assembled before
// classification and composition. It is rebuilt for every inbound message and
// never mutated in place.
type ConversationContext struct {
	Property        PropertySummary
	Booking         BookingSummary
	History         []Turn
	EscalationFlags map[ReasonCode]struct{}
}

// Flagged reports whether any prior turn carried an escalation flag.
func (c *ConversationContext) Flagged() bool {
	return c != nil && len(c.EscalationFlags) > 0
}

// Severity ranks how urgently a message needs human attention.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityNotice
	SeverityUrgent
	SeverityEmergency
)

func (s Severity) String() string {
	switch s {
	case SeverityNotice:
		return "notice"
	case SeverityUrgent:
		return "urgent"
	case SeverityEmergency:
		return "emergency"
	default:
		return "none"
	}
}

// ReasonCode names why a message was flagged for escalation.
type ReasonCode string

const (
	ReasonSafety             ReasonCode = "safety"
	ReasonDamage             ReasonCode = "damage"
	ReasonRefund             ReasonCode = "refund"
	ReasonLegal              ReasonCode = "legal"
	ReasonComplaint          ReasonCode = "complaint"
	ReasonSentiment          ReasonCode = "sentiment"
	ReasonContextUnavailable ReasonCode = "context_unavailable"
	ReasonPolicyViolation    ReasonCode = "policy_violation"
	ReasonDeliveryFailure    ReasonCode = "delivery_failure"
	ReasonGenerationFailure  ReasonCode = "generation_failure"
)

// EscalationSignal is the classifier's verdict for one inbound message.
type EscalationSignal struct {
	Severity   Severity
	Reasons    []ReasonCode
	Confidence float64
}

// RequiresHuman reports whether the signal forces the conversation out of
// automated handling.
func (s EscalationSignal) RequiresHuman() bool {
	return s.Severity >= SeverityUrgent
}

// ResponseCandidate is a composed reply awaiting dispatch. Exactly one of
// SourceTemplateID and GeneratedByModel is set.
type ResponseCandidate struct {
	Text              string            `json:"text"`
	SourceTemplateID  string            `json:"source_template_id,omitempty"`
	GeneratedByModel  string            `json:"generated_by_model,omitempty"`
	VariablesResolved map[string]string `json:"variables_resolved,omitempty"`
}

// DeliveryReceipt reports a successful platform send.
type DeliveryReceipt struct {
	PlatformMessageID string
	Attempts          int
}
