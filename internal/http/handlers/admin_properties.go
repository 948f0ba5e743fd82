package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/internal/property"
	"github.com/stayware/cohost-platform/pkg/logging"
)

type propertyWriter interface {
	UpsertProperty(ctx context.Context, rec property.Record) error
	UpsertBooking(ctx context.Context, propertyID string, b conversation.BookingSummary) error
}

// AdminPropertiesHandler manages property and booking records. Property edits
// bump the config version, which orphans cached responses built on the old
// facts.
type AdminPropertiesHandler struct {
	store  propertyWriter
	logger *logging.Logger
}

// NewAdminPropertiesHandler creates the admin property surface.
func NewAdminPropertiesHandler(store propertyWriter, logger *logging.Logger) *AdminPropertiesHandler {
	if store == nil {
		panic("handlers: property store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminPropertiesHandler{store: store, logger: logger}
}

type propertyRequest struct {
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	TimeZone     string   `json:"timezone"`
	CheckInTime  string   `json:"check_in_time"`
	CheckOutTime string   `json:"check_out_time"`
	WiFiNetwork  string   `json:"wifi_network"`
	WiFiPassword string   `json:"wifi_password"`
	DoorCode     string   `json:"door_code"`
	ParkingInfo  string   `json:"parking_info"`
	HouseRules   string   `json:"house_rules"`
	HostName     string   `json:"host_name"`
	HostEmails   []string `json:"host_emails"`
	HostPhones   []string `json:"host_phones"`
}

// UpsertProperty serves PUT /ops/properties/{propertyID}.
func (h *AdminPropertiesHandler) UpsertProperty(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "propertyID")

	var req propertyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	rec := property.Record{
		Summary: conversation.PropertySummary{
			ID:           propertyID,
			Name:         req.Name,
			Address:      req.Address,
			TimeZone:     req.TimeZone,
			CheckInTime:  req.CheckInTime,
			CheckOutTime: req.CheckOutTime,
			WiFiNetwork:  req.WiFiNetwork,
			WiFiPassword: req.WiFiPassword,
			DoorCode:     req.DoorCode,
			ParkingInfo:  req.ParkingInfo,
			HouseRules:   req.HouseRules,
		},
		HostName:   req.HostName,
		HostEmails: req.HostEmails,
		HostPhones: req.HostPhones,
	}
	if err := h.store.UpsertProperty(r.Context(), rec); err != nil {
		h.logger.Error("property upsert failed", "property_id", propertyID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("property upserted", "property_id", propertyID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "property_id": propertyID})
}

type bookingRequest struct {
	ConversationID string    `json:"conversation_id"`
	GuestName      string    `json:"guest_name"`
	CheckIn        time.Time `json:"check_in"`
	CheckOut       time.Time `json:"check_out"`
	PartySize      int       `json:"party_size"`
	Status         string    `json:"status"`
}

// UpsertBooking serves PUT /ops/properties/{propertyID}/bookings.
func (h *AdminPropertiesHandler) UpsertBooking(w http.ResponseWriter, r *http.Request) {
	propertyID := chi.URLParam(r, "propertyID")

	var req bookingRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.ConversationID == "" {
		http.Error(w, "conversation_id is required", http.StatusBadRequest)
		return
	}

	booking := conversation.BookingSummary{
		ConversationID: req.ConversationID,
		GuestName:      req.GuestName,
		CheckIn:        req.CheckIn,
		CheckOut:       req.CheckOut,
		PartySize:      req.PartySize,
		Status:         req.Status,
	}
	if err := h.store.UpsertBooking(r.Context(), propertyID, booking); err != nil {
		h.logger.Error("booking upsert failed", "property_id", propertyID, "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("booking upserted", "property_id", propertyID, "conversation_id", req.ConversationID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
