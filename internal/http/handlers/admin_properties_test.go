package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/internal/property"
)

type fakePropertyWriter struct {
	properties []property.Record
	bookings   []conversation.BookingSummary
}

func (f *fakePropertyWriter) UpsertProperty(_ context.Context, rec property.Record) error {
	f.properties = append(f.properties, rec)
	return nil
}

func (f *fakePropertyWriter) UpsertBooking(_ context.Context, _ string, b conversation.BookingSummary) error {
	f.bookings = append(f.bookings, b)
	return nil
}

func adminRouter(h *AdminPropertiesHandler) http.Handler {
	r := chi.NewRouter()
	r.Put("/ops/properties/{propertyID}", h.UpsertProperty)
	r.Put("/ops/properties/{propertyID}/bookings", h.UpsertBooking)
	return r
}

func TestAdminProperties_Upsert(t *testing.T) {
	writer := &fakePropertyWriter{}
	handler := NewAdminPropertiesHandler(writer, nil)

	body := `{
		"name": "Lakeview Cottage",
		"wifi_network": "LakeviewGuest",
		"wifi_password": "bluewater42",
		"host_name": "Dana",
		"host_emails": ["dana@example.com"]
	}`
	req := httptest.NewRequest(http.MethodPut, "/ops/properties/prop-1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	adminRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, writer.properties, 1)
	assert.Equal(t, "prop-1", writer.properties[0].Summary.ID)
	assert.Equal(t, "bluewater42", writer.properties[0].Summary.WiFiPassword)
	assert.Equal(t, []string{"dana@example.com"}, writer.properties[0].HostEmails)
}

func TestAdminProperties_UpsertRequiresName(t *testing.T) {
	writer := &fakePropertyWriter{}
	handler := NewAdminPropertiesHandler(writer, nil)

	req := httptest.NewRequest(http.MethodPut, "/ops/properties/prop-1", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	adminRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, writer.properties)
}

func TestAdminProperties_UpsertBooking(t *testing.T) {
	writer := &fakePropertyWriter{}
	handler := NewAdminPropertiesHandler(writer, nil)

	body := `{"conversation_id":"airbnb:th-1","guest_name":"Maya","party_size":4,"status":"confirmed"}`
	req := httptest.NewRequest(http.MethodPut, "/ops/properties/prop-1/bookings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	adminRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, writer.bookings, 1)
	assert.Equal(t, "Maya", writer.bookings[0].GuestName)
}

func TestAdminProperties_BookingRequiresConversationID(t *testing.T) {
	writer := &fakePropertyWriter{}
	handler := NewAdminPropertiesHandler(writer, nil)

	req := httptest.NewRequest(http.MethodPut, "/ops/properties/prop-1/bookings", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	adminRouter(handler).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, writer.bookings)
}
