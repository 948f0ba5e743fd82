package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/internal/ingest"
	"github.com/stayware/cohost-platform/pkg/logging"
)

// maxWebhookBody bounds webhook payload reads. Platform messages are small;
// anything larger is malformed or hostile.
const maxWebhookBody = 64 * 1024

type bookingPublisher interface {
	EnqueueBookingUpdate(ctx context.Context, evt conversation.BookingUpdateEvent) error
}

type configVersionBumper interface {
	BumpConfigVersion(ctx context.Context, propertyID string) error
}

// WebhookHandler accepts inbound platform webhooks: guest messages and
// booking updates. It acknowledges as soon as the job is enqueued.
type WebhookHandler struct {
	ingest   *ingest.Service
	bookings bookingPublisher
	versions configVersionBumper
	logger   *logging.Logger
}

// NewWebhookHandler wires the webhook surface. ingest is required; bookings
// and versions may be nil when booking-update routing is disabled.
func NewWebhookHandler(ingestSvc *ingest.Service, bookings bookingPublisher, versions configVersionBumper, logger *logging.Logger) *WebhookHandler {
	if ingestSvc == nil {
		panic("handlers: ingest service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		ingest:   ingestSvc,
		bookings: bookings,
		versions: versions,
		logger:   logger,
	}
}

// HandleMessage processes POST /webhooks/{platform}/messages.
func (h *WebhookHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	platform := conversation.Platform(chi.URLParam(r, "platform"))
	if !platform.Valid() {
		http.Error(w, "unknown platform", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	result, err := h.ingest.Accept(r.Context(), ingest.Envelope{
		Platform: platform,
		Body:     body,
		Received: time.Now(),
	})
	if err != nil {
		var validationErr *ingest.ValidationError
		if errors.As(err, &validationErr) {
			http.Error(w, validationErr.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, ingest.ErrUnsupportedPlatform) {
			http.Error(w, "unknown platform", http.StatusNotFound)
			return
		}
		h.logger.Error("webhook ingestion failed", "platform", platform, "error", err)
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}

	if result.Duplicate {
		// Redelivery of an event already queued; ack so the platform stops.
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type bookingUpdateRequest struct {
	PropertyID     string `json:"property_id"`
	ConversationID string `json:"conversation_id"`
	Change         string `json:"change"`
}

// HandleBookingUpdate processes POST /webhooks/{platform}/bookings. Booking
// changes invalidate cached responses for the property; the job also flows
// through the queue so the worker can bump cache epochs.
func (h *WebhookHandler) HandleBookingUpdate(w http.ResponseWriter, r *http.Request) {
	platform := conversation.Platform(chi.URLParam(r, "platform"))
	if !platform.Valid() {
		http.Error(w, "unknown platform", http.StatusNotFound)
		return
	}
	if h.bookings == nil {
		http.Error(w, "booking updates not configured", http.StatusServiceUnavailable)
		return
	}

	var req bookingUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.PropertyID == "" {
		http.Error(w, "property_id is required", http.StatusBadRequest)
		return
	}

	if h.versions != nil {
		if err := h.versions.BumpConfigVersion(r.Context(), req.PropertyID); err != nil {
			if errors.Is(err, conversation.ErrNotFound) {
				http.Error(w, "unknown property", http.StatusNotFound)
				return
			}
			h.logger.Error("config version bump failed", "property_id", req.PropertyID, "error", err)
			http.Error(w, "processing error", http.StatusInternalServerError)
			return
		}
	}

	err := h.bookings.EnqueueBookingUpdate(r.Context(), conversation.BookingUpdateEvent{
		PropertyID:     req.PropertyID,
		ConversationID: req.ConversationID,
		Change:         req.Change,
	})
	if err != nil {
		h.logger.Error("booking update enqueue failed", "property_id", req.PropertyID, "error", err)
		http.Error(w, "processing error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("booking update accepted",
		"platform", platform,
		"property_id", req.PropertyID,
		"change", req.Change,
	)
	w.WriteHeader(http.StatusAccepted)
}
