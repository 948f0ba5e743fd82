package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayware/cohost-platform/internal/conversation"
)

func TestGateway_DeliverSuccess(t *testing.T) {
	var gotIdempotencyKey atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdempotencyKey.Store(r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"am-99"}`))
	}))
	defer server.Close()

	gateway := NewGateway([]Adapter{NewAirbnbAdapter(server.URL, "key")}, nil)
	receipt, err := gateway.Deliver(context.Background(), conversation.OutboundDelivery{
		Platform:       conversation.PlatformAirbnb,
		ConversationID: "airbnb:th-1",
		Text:           "The WiFi password is bluewater42.",
		IdempotencyKey: "airbnb:evt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "am-99", receipt.PlatformMessageID)
	assert.Equal(t, 1, receipt.Attempts)
	assert.Equal(t, "airbnb:evt-1", gotIdempotencyKey.Load())
}

func TestGateway_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"id":"vm-5"}`))
	}))
	defer server.Close()

	gateway := NewGateway([]Adapter{NewVrboAdapter(server.URL, "key")}, nil,
		WithMaxAttempts(4), WithBaseDelay(time.Millisecond))

	receipt, err := gateway.Deliver(context.Background(), conversation.OutboundDelivery{
		Platform:       conversation.PlatformVrbo,
		ConversationID: "vrbo:conv-1",
		Text:           "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, receipt.Attempts)
}

func TestGateway_PermanentFailureStopsImmediately(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"message rejected"}`))
	}))
	defer server.Close()

	gateway := NewGateway([]Adapter{NewBookingAdapter(server.URL, "key")}, nil,
		WithMaxAttempts(4), WithBaseDelay(time.Millisecond))

	_, err := gateway.Deliver(context.Background(), conversation.OutboundDelivery{
		Platform:       conversation.PlatformBooking,
		ConversationID: "booking:res-1",
		Text:           "hello",
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, int32(1), calls.Load(), "permanent failure must not be retried")
}

func TestGateway_RateLimitIsTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"message_id":"bm-2"}`))
	}))
	defer server.Close()

	gateway := NewGateway([]Adapter{NewDirectAdapter(server.URL, "token")}, nil,
		WithMaxAttempts(3), WithBaseDelay(time.Millisecond))

	receipt, err := gateway.Deliver(context.Background(), conversation.OutboundDelivery{
		Platform:       conversation.PlatformDirect,
		ConversationID: "direct:web-1",
		Text:           "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.Attempts)
}

func TestGateway_ExhaustedRetriesReturnLastError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gateway := NewGateway([]Adapter{NewAirbnbAdapter(server.URL, "key")}, nil,
		WithMaxAttempts(2), WithBaseDelay(time.Millisecond))

	_, err := gateway.Deliver(context.Background(), conversation.OutboundDelivery{
		Platform:       conversation.PlatformAirbnb,
		ConversationID: "airbnb:th-1",
		Text:           "hello",
	})
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}

func TestGateway_UnknownPlatform(t *testing.T) {
	gateway := NewGateway(nil, nil)
	_, err := gateway.Deliver(context.Background(), conversation.OutboundDelivery{
		Platform:       conversation.PlatformAirbnb,
		ConversationID: "airbnb:th-1",
		Text:           "hello",
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestGateway_CancelledContextStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gateway := NewGateway([]Adapter{NewAirbnbAdapter(server.URL, "key")}, nil,
		WithMaxAttempts(5), WithBaseDelay(10*time.Millisecond))

	_, err := gateway.Deliver(ctx, conversation.OutboundDelivery{
		Platform:       conversation.PlatformAirbnb,
		ConversationID: "airbnb:th-1",
		Text:           "hello",
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestThreadID(t *testing.T) {
	assert.Equal(t, "th-1", threadID("airbnb:th-1"))
	assert.Equal(t, "bare", threadID("bare"))
}
