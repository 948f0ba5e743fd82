package conversation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	text  string
	errs  []error
	calls atomic.Int32
}

func (s *stubLLM) Name() string { return "stub" }

func (s *stubLLM) Generate(_ context.Context, _ LLMRequest) (*LLMResponse, error) {
	n := int(s.calls.Add(1))
	if n <= len(s.errs) && s.errs[n-1] != nil {
		return nil, s.errs[n-1]
	}
	return &LLMResponse{Text: s.text, Model: "stub"}, nil
}

func fullContext() *ConversationContext {
	return &ConversationContext{
		Property: PropertySummary{
			ID:           "prop-1",
			Name:         "Lakeview Cottage",
			Address:      "12 Shore Rd",
			CheckInTime:  "3:00 PM",
			CheckOutTime: "11:00 AM",
			WiFiNetwork:  "Lakeview-5G",
			WiFiPassword: "bluewater42",
			DoorCode:     "4821",
			ParkingInfo:  "Driveway fits two cars.",
			HouseRules:   "No parties. Quiet hours after 10pm.",
		},
		Booking: BookingSummary{ConversationID: "c1", GuestName: "Maya"},
	}
}

func testComposer(t *testing.T, llm LLMClient, withCache bool) (*ResponseComposer, *ResponseCache) {
	t.Helper()
	catalog := NewTemplateCatalog(DefaultBrandVoice(), DefaultTemplates())
	guard := NewPolicyGuard(DefaultBrandVoice(), nil)

	var cache *ResponseCache
	if withCache {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		cache = NewResponseCache(client, time.Hour, nil)
	}
	return NewResponseComposer(catalog, guard, llm, cache, 2, nil), cache
}

func TestComposer_TemplatePathSkipsLLM(t *testing.T) {
	llm := &stubLLM{text: "generated"}
	composer, _ := testComposer(t, llm, true)

	msg := GuestMessage{ConversationID: "c1", PropertyID: "prop-1", RawText: "What's the wifi password?"}
	result, err := composer.Compose(context.Background(), msg, fullContext())
	require.NoError(t, err)

	assert.Equal(t, "wifi-v1", result.Candidate.SourceTemplateID)
	assert.Empty(t, result.Candidate.GeneratedByModel)
	assert.Contains(t, result.Candidate.Text, "bluewater42")
	assert.Equal(t, int32(0), llm.calls.Load())
}

func TestComposer_SecondIdenticalAskHitsCache(t *testing.T) {
	llm := &stubLLM{text: "generated"}
	composer, _ := testComposer(t, llm, true)

	msg := GuestMessage{ConversationID: "c1", PropertyID: "prop-1", RawText: "What's the wifi password?"}
	first, err := composer.Compose(context.Background(), msg, fullContext())
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	// Same meaning, different phrasing and conversation.
	again := GuestMessage{ConversationID: "c2", PropertyID: "prop-1", RawText: "wifi password please!"}
	second, err := composer.Compose(context.Background(), again, fullContext())
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Candidate.Text, second.Candidate.Text)
}

func TestComposer_MissingVariableFallsBackToGeneration(t *testing.T) {
	llm := &stubLLM{text: "A host will confirm the door code shortly."}
	composer, _ := testComposer(t, llm, true)

	convCtx := fullContext()
	convCtx.Property.DoorCode = ""

	msg := GuestMessage{ConversationID: "c1", PropertyID: "prop-1", RawText: "What's the door code to get in?"}
	result, err := composer.Compose(context.Background(), msg, convCtx)
	require.NoError(t, err)

	assert.Empty(t, result.Candidate.SourceTemplateID)
	assert.Equal(t, "stub", result.Candidate.GeneratedByModel)
	assert.Equal(t, int32(1), llm.calls.Load())
}

func TestComposer_UnknownIntentNeverCached(t *testing.T) {
	llm := &stubLLM{text: "There's a great trattoria two blocks east."}
	composer, cache := testComposer(t, llm, true)

	msg := GuestMessage{ConversationID: "c1", PropertyID: "prop-1", RawText: "Any good restaurants nearby?"}
	result, err := composer.Compose(context.Background(), msg, fullContext())
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, result.Intent)
	assert.False(t, result.CacheHit)

	// A different free-form question must trigger its own generation.
	msg2 := GuestMessage{ConversationID: "c1", PropertyID: "prop-1", RawText: "Is there a gym close by?"}
	_, err = composer.Compose(context.Background(), msg2, fullContext())
	require.NoError(t, err)
	assert.Equal(t, int32(2), llm.calls.Load())
	_ = cache
}

func TestComposer_GuardBlocksGeneratedReply(t *testing.T) {
	llm := &stubLLM{text: "So sorry! We will refund your whole stay."}
	composer, _ := testComposer(t, llm, false)

	msg := GuestMessage{ConversationID: "c1", PropertyID: "prop-1", RawText: "Any good restaurants nearby?"}
	_, err := composer.Compose(context.Background(), msg, fullContext())

	var violation *PolicyViolationError
	require.True(t, errors.As(err, &violation))
}

func TestComposer_TransientGenerationRetried(t *testing.T) {
	llm := &stubLLM{
		text: "answer",
		errs: []error{
			&GenerationError{Kind: GenerationRateLimited, Err: errors.New("throttled")},
			nil,
		},
	}
	composer, _ := testComposer(t, llm, false)

	msg := GuestMessage{ConversationID: "c1", PropertyID: "prop-1", RawText: "Any good restaurants nearby?"}
	result, err := composer.Compose(context.Background(), msg, fullContext())
	require.NoError(t, err)
	assert.Equal(t, "answer", result.Candidate.Text)
	assert.Equal(t, int32(2), llm.calls.Load())
}

func TestComposer_ContentPolicyNotRetried(t *testing.T) {
	genErr := &GenerationError{Kind: GenerationContentPolicy, Err: errors.New("blocked")}
	llm := &stubLLM{errs: []error{genErr, genErr, genErr}}
	composer, _ := testComposer(t, llm, false)

	msg := GuestMessage{ConversationID: "c1", PropertyID: "prop-1", RawText: "Any good restaurants nearby?"}
	_, err := composer.Compose(context.Background(), msg, fullContext())

	var gotErr *GenerationError
	require.True(t, errors.As(err, &gotErr))
	assert.Equal(t, GenerationContentPolicy, gotErr.Kind)
	assert.Equal(t, int32(1), llm.calls.Load(), "permanent failures must not be retried")
}

func TestComposer_NoLLMConfigured(t *testing.T) {
	composer, _ := testComposer(t, nil, false)

	msg := GuestMessage{ConversationID: "c1", PropertyID: "prop-1", RawText: "Any good restaurants nearby?"}
	_, err := composer.Compose(context.Background(), msg, fullContext())

	var genErr *GenerationError
	require.True(t, errors.As(err, &genErr))
}
