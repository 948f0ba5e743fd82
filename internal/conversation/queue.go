package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobType string

const (
	jobTypeInbound       jobType = "inbound_message"
	jobTypeBookingUpdate jobType = "booking_update"
	jobTypeHumanResolve  jobType = "human_resolve"
)

// BookingUpdateEvent signals a booking or property change that invalidates
// cached replies for the property.
type BookingUpdateEvent struct {
	PropertyID     string `json:"property_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Change         string `json:"change"`
}

// HumanResolveEvent signals a host closing an escalated conversation.
type HumanResolveEvent struct {
	ConversationID string `json:"conversation_id"`
	ResolvedBy     string `json:"resolved_by,omitempty"`
	Note           string `json:"note,omitempty"`
}

type queuePayload struct {
	ID            string              `json:"id"`
	Kind          jobType             `json:"kind"`
	Message       *GuestMessage       `json:"message,omitempty"`
	BookingUpdate *BookingUpdateEvent `json:"booking_update,omitempty"`
	Resolve       *HumanResolveEvent  `json:"resolve,omitempty"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("conversation: failed to encode payload: %w", err)
	}
	return payload, string(body), nil
}
