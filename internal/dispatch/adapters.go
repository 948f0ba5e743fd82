package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stayware/cohost-platform/internal/conversation"
)

// Adapter sends one reply through a platform's messaging API. Send returns
// the platform's message id on success; failures are *DeliveryError.
type Adapter interface {
	Platform() conversation.Platform
	Send(ctx context.Context, threadID, text, idempotencyKey string) (string, error)
}

// threadID strips the platform prefix from a canonical conversation id.
func threadID(conversationID string) string {
	if _, id, ok := strings.Cut(conversationID, ":"); ok {
		return id
	}
	return conversationID
}

type httpAdapter struct {
	platform   conversation.Platform
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newHTTPAdapter(platform conversation.Platform, baseURL, apiKey string) httpAdapter {
	return httpAdapter{
		platform: platform,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// postJSON sends the payload and decodes {"id": ...} (or a platform variant)
// out of the response. Non-2xx statuses become DeliveryErrors classified by
// status code.
func (a httpAdapter) postJSON(ctx context.Context, path string, payload any, idempotencyKey string) (string, error) {
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", &DeliveryError{Platform: a.platform, Permanent: true, Err: fmt.Errorf("payload marshal: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", &DeliveryError{Platform: a.platform, Permanent: true, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &DeliveryError{Platform: a.platform, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &DeliveryError{
			Platform:   a.platform,
			StatusCode: resp.StatusCode,
			Permanent:  classifyStatus(resp.StatusCode),
			Err:        fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var parsed struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
	}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &parsed)
	}
	if parsed.ID != "" {
		return parsed.ID, nil
	}
	return parsed.MessageID, nil
}

// AirbnbAdapter posts replies to an Airbnb messaging thread.
type AirbnbAdapter struct{ httpAdapter }

func NewAirbnbAdapter(baseURL, apiKey string) *AirbnbAdapter {
	return &AirbnbAdapter{newHTTPAdapter(conversation.PlatformAirbnb, baseURL, apiKey)}
}

func (a *AirbnbAdapter) Platform() conversation.Platform { return conversation.PlatformAirbnb }

func (a *AirbnbAdapter) Send(ctx context.Context, thread, text, idempotencyKey string) (string, error) {
	payload := map[string]string{
		"thread_id": thread,
		"message":   text,
	}
	return a.postJSON(ctx, "/v2/threads/"+thread+"/messages", payload, idempotencyKey)
}

// VrboAdapter posts replies to a Vrbo conversation.
type VrboAdapter struct{ httpAdapter }

func NewVrboAdapter(baseURL, apiKey string) *VrboAdapter {
	return &VrboAdapter{newHTTPAdapter(conversation.PlatformVrbo, baseURL, apiKey)}
}

func (a *VrboAdapter) Platform() conversation.Platform { return conversation.PlatformVrbo }

func (a *VrboAdapter) Send(ctx context.Context, thread, text, idempotencyKey string) (string, error) {
	payload := map[string]string{
		"conversationId": thread,
		"body":           text,
	}
	return a.postJSON(ctx, "/conversations/"+thread+"/messages", payload, idempotencyKey)
}

// BookingAdapter posts replies through Booking.com's messaging API.
type BookingAdapter struct{ httpAdapter }

func NewBookingAdapter(baseURL, apiKey string) *BookingAdapter {
	return &BookingAdapter{newHTTPAdapter(conversation.PlatformBooking, baseURL, apiKey)}
}

func (a *BookingAdapter) Platform() conversation.Platform { return conversation.PlatformBooking }

func (a *BookingAdapter) Send(ctx context.Context, thread, text, idempotencyKey string) (string, error) {
	payload := map[string]string{
		"reservation_id": thread,
		"content":        text,
	}
	return a.postJSON(ctx, "/messages", payload, idempotencyKey)
}

// DirectAdapter pushes replies into the direct-booking site's chat widget.
type DirectAdapter struct{ httpAdapter }

func NewDirectAdapter(baseURL, token string) *DirectAdapter {
	return &DirectAdapter{newHTTPAdapter(conversation.PlatformDirect, baseURL, token)}
}

func (a *DirectAdapter) Platform() conversation.Platform { return conversation.PlatformDirect }

func (a *DirectAdapter) Send(ctx context.Context, thread, text, idempotencyKey string) (string, error) {
	payload := map[string]string{
		"conversation_id": thread,
		"text":            text,
	}
	return a.postJSON(ctx, "/api/chat/messages", payload, idempotencyKey)
}
