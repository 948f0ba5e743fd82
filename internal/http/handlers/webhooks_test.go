package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/internal/ingest"
)

type capturePublisher struct {
	inbound  []conversation.GuestMessage
	bookings []conversation.BookingUpdateEvent
	resolves []conversation.HumanResolveEvent
}

func (p *capturePublisher) EnqueueInbound(_ context.Context, msg conversation.GuestMessage) error {
	p.inbound = append(p.inbound, msg)
	return nil
}

func (p *capturePublisher) EnqueueBookingUpdate(_ context.Context, evt conversation.BookingUpdateEvent) error {
	p.bookings = append(p.bookings, evt)
	return nil
}

func (p *capturePublisher) EnqueueHumanResolve(_ context.Context, evt conversation.HumanResolveEvent) error {
	p.resolves = append(p.resolves, evt)
	return nil
}

type fakeBumper struct {
	bumped []string
	err    error
}

func (f *fakeBumper) BumpConfigVersion(_ context.Context, propertyID string) error {
	if f.err != nil {
		return f.err
	}
	f.bumped = append(f.bumped, propertyID)
	return nil
}

func webhookFixture(t *testing.T) (*WebhookHandler, *capturePublisher, *fakeBumper) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	publisher := &capturePublisher{}
	bumper := &fakeBumper{}
	svc := ingest.NewService(ingest.NewDeduper(client, time.Hour), publisher, nil)
	return NewWebhookHandler(svc, publisher, bumper, nil), publisher, bumper
}

func serveWebhook(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Method(method, "/webhooks/{platform}/messages", h)
	router.Method(method, "/webhooks/{platform}/bookings", h)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const airbnbBody = `{
	"event_id": "evt-1",
	"thread": {"id": "th-1", "listing_id": "prop-1"},
	"message": {"body": "What's the wifi password?", "sender": {"role": "guest"}}
}`

func TestWebhookHandler_AcceptsMessage(t *testing.T) {
	handler, publisher, _ := webhookFixture(t)

	rec := serveWebhook(handler.HandleMessage, http.MethodPost, "/webhooks/airbnb/messages", airbnbBody)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, publisher.inbound, 1)
	assert.Equal(t, "airbnb:th-1", publisher.inbound[0].ConversationID)
}

func TestWebhookHandler_DuplicateAckedWith200(t *testing.T) {
	handler, publisher, _ := webhookFixture(t)

	rec := serveWebhook(handler.HandleMessage, http.MethodPost, "/webhooks/airbnb/messages", airbnbBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = serveWebhook(handler.HandleMessage, http.MethodPost, "/webhooks/airbnb/messages", airbnbBody)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, publisher.inbound, 1, "redelivery must not enqueue twice")
}

func TestWebhookHandler_InvalidPayloadIs400(t *testing.T) {
	handler, publisher, _ := webhookFixture(t)

	rec := serveWebhook(handler.HandleMessage, http.MethodPost, "/webhooks/airbnb/messages", `{"event_id":"e"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, publisher.inbound)
}

func TestWebhookHandler_UnknownPlatformIs404(t *testing.T) {
	handler, _, _ := webhookFixture(t)

	rec := serveWebhook(handler.HandleMessage, http.MethodPost, "/webhooks/telegram/messages", airbnbBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookHandler_BookingUpdate(t *testing.T) {
	handler, publisher, bumper := webhookFixture(t)

	body := `{"property_id":"prop-1","change":"dates_changed"}`
	rec := serveWebhook(handler.HandleBookingUpdate, http.MethodPost, "/webhooks/airbnb/bookings", body)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, publisher.bookings, 1)
	assert.Equal(t, "prop-1", publisher.bookings[0].PropertyID)
	assert.Equal(t, []string{"prop-1"}, bumper.bumped)
}

func TestWebhookHandler_BookingUpdateRequiresProperty(t *testing.T) {
	handler, publisher, _ := webhookFixture(t)

	rec := serveWebhook(handler.HandleBookingUpdate, http.MethodPost, "/webhooks/airbnb/bookings", `{"change":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, publisher.bookings)
}
