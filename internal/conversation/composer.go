package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stayware/cohost-platform/pkg/logging"
)

var composerTracer = otel.Tracer("cohost/response-composer")

// ComposeResult is the composer's output for one inbound message.
type ComposeResult struct {
	Candidate ResponseCandidate
	CacheHit  bool
	Intent    IntentFamily
}

// ResponseComposer turns an inbound message plus its context into a reply.
// Deterministic templates are preferred; the cache sits in front of both
// template renders and generative fallbacks; the policy guard screens every
// reply last so nothing bypasses it.
type ResponseComposer struct {
	catalog    *TemplateCatalog
	guard      *PolicyGuard
	llm        LLMClient
	cache      *ResponseCache
	maxRetries int
	logger     *logging.Logger
}

// NewResponseComposer wires the composer. The catalog and guard are required;
// llm may be nil, in which case template misses escalate instead of falling
// back to generation.
func NewResponseComposer(catalog *TemplateCatalog, guard *PolicyGuard, llm LLMClient, cache *ResponseCache, maxRetries int, logger *logging.Logger) *ResponseComposer {
	if catalog == nil {
		panic("conversation: template catalog cannot be nil")
	}
	if guard == nil {
		panic("conversation: policy guard cannot be nil")
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ResponseComposer{
		catalog:    catalog,
		guard:      guard,
		llm:        llm,
		cache:      cache,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Compose produces the reply for msg. Unknown intents go straight to
// generation and are never cached; the fingerprint carries no message text,
// so caching them would hand one guest's answer to a different question.
func (c *ResponseComposer) Compose(ctx context.Context, msg GuestMessage, convCtx *ConversationContext) (*ComposeResult, error) {
	ctx, span := composerTracer.Start(ctx, "composer.compose")
	defer span.End()

	match := ClassifyIntent(msg.RawText)
	span.SetAttributes(
		attribute.String("composer.intent", string(match.Family)),
		attribute.Float64("composer.intent_confidence", match.Confidence),
	)

	vars := ResolveVariables(convCtx)

	if match.Family == IntentUnknown || c.cache == nil {
		candidate, err := c.composeOnce(ctx, msg, convCtx, match.Family, vars)
		if err != nil {
			return nil, err
		}
		return &ComposeResult{Candidate: *candidate, Intent: match.Family}, nil
	}

	template, _ := c.catalog.Lookup(match.Family)
	propertyEpoch, templateEpoch, err := c.cache.Epochs(ctx, msg.PropertyID)
	if err != nil {
		// Cache bookkeeping failure degrades to a direct compose, never to a
		// dropped message.
		c.logger.Warn("cache epoch lookup failed, composing without cache", "error", err)
		candidate, err := c.composeOnce(ctx, msg, convCtx, match.Family, vars)
		if err != nil {
			return nil, err
		}
		return &ComposeResult{Candidate: *candidate, Intent: match.Family}, nil
	}

	fingerprint := Fingerprint(FingerprintInput{
		PropertyID:      msg.PropertyID,
		Intent:          match.Family,
		Variables:       vars,
		TemplateVersion: template.Version,
		BrandVoiceVer:   c.catalog.Voice().Version,
		PropertyConfVer: convCtx.Property.ConfigVersion,
		PropertyEpoch:   propertyEpoch,
		TemplateEpoch:   templateEpoch,
	})

	entry, hit, err := c.cache.GetOrCompute(ctx, fingerprint, func(computeCtx context.Context) (CacheEntry, error) {
		candidate, err := c.composeOnce(computeCtx, msg, convCtx, match.Family, vars)
		if err != nil {
			return CacheEntry{}, err
		}
		return CacheEntry{
			Text:             candidate.Text,
			SourceTemplateID: candidate.SourceTemplateID,
			GeneratedByModel: candidate.GeneratedByModel,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Bool("composer.cache_hit", hit))
	candidate := ResponseCandidate{
		Text:              entry.Text,
		SourceTemplateID:  entry.SourceTemplateID,
		GeneratedByModel:  entry.GeneratedByModel,
		VariablesResolved: vars,
	}
	return &ComposeResult{Candidate: candidate, CacheHit: hit, Intent: match.Family}, nil
}

// composeOnce renders the template for the intent, falling back to
// generation when no template exists or variables are missing. The policy
// guard runs on whatever text results.
func (c *ResponseComposer) composeOnce(ctx context.Context, msg GuestMessage, convCtx *ConversationContext, family IntentFamily, vars map[string]string) (*ResponseCandidate, error) {
	if family != IntentUnknown {
		if template, ok := c.catalog.Lookup(family); ok {
			text, err := c.catalog.Render(template, vars)
			if err == nil {
				if guardErr := c.guard.Check(text); guardErr != nil {
					return nil, guardErr
				}
				return &ResponseCandidate{
					Text:              text,
					SourceTemplateID:  template.ID,
					VariablesResolved: vars,
				}, nil
			}
			var missing *MissingVariableError
			if !errors.As(err, &missing) {
				return nil, err
			}
			c.logger.Info("template render missing variables, falling back to generation",
				"conversation_id", msg.ConversationID,
				"template_id", missing.TemplateID,
				"missing", missing.Variables,
			)
		}
	}

	text, model, err := c.generate(ctx, msg, convCtx)
	if err != nil {
		return nil, err
	}
	if guardErr := c.guard.Check(text); guardErr != nil {
		return nil, guardErr
	}
	return &ResponseCandidate{
		Text:              text,
		GeneratedByModel:  model,
		VariablesResolved: vars,
	}, nil
}

// generate calls the LLM with bounded retries on transient failures.
func (c *ResponseComposer) generate(ctx context.Context, msg GuestMessage, convCtx *ConversationContext) (string, string, error) {
	if c.llm == nil {
		return "", "", &GenerationError{Kind: GenerationUnavailable, Err: errors.New("no generation provider configured")}
	}

	req := LLMRequest{
		System:      c.buildSystemPrompt(convCtx),
		Messages:    c.buildMessages(msg, convCtx),
		MaxTokens:   400,
		Temperature: 0.4,
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
			}
		}
		resp, err := c.llm.Generate(ctx, req)
		if err == nil {
			return resp.Text, resp.Model, nil
		}
		lastErr = err
		if !IsTransientGeneration(err) {
			break
		}
		c.logger.Warn("generation attempt failed",
			"conversation_id", msg.ConversationID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	return "", "", lastErr
}

func (c *ResponseComposer) buildSystemPrompt(convCtx *ConversationContext) string {
	voice := c.catalog.Voice()
	var b strings.Builder
	b.WriteString("You are a virtual co-host answering guest messages for a short-term rental.\n")
	fmt.Fprintf(&b, "Tone: %s.\n", voice.Tone)
	b.WriteString("Never promise refunds, discounts, free nights, or compensation. ")
	b.WriteString("If you cannot answer from the facts below, say a host will follow up; do not guess.\n\n")
	b.WriteString("Property facts:\n")
	p := convCtx.Property
	fmt.Fprintf(&b, "- Name: %s\n", p.Name)
	if p.Address != "" {
		fmt.Fprintf(&b, "- Address: %s\n", p.Address)
	}
	if p.CheckInTime != "" {
		fmt.Fprintf(&b, "- Check-in: %s\n", p.CheckInTime)
	}
	if p.CheckOutTime != "" {
		fmt.Fprintf(&b, "- Check-out: %s\n", p.CheckOutTime)
	}
	if p.ParkingInfo != "" {
		fmt.Fprintf(&b, "- Parking: %s\n", p.ParkingInfo)
	}
	if p.HouseRules != "" {
		fmt.Fprintf(&b, "- House rules: %s\n", p.HouseRules)
	}
	if convCtx.Booking.GuestName != "" {
		fmt.Fprintf(&b, "\nGuest name: %s\n", convCtx.Booking.GuestName)
	}
	return b.String()
}

func (c *ResponseComposer) buildMessages(msg GuestMessage, convCtx *ConversationContext) []ChatMessage {
	messages := make([]ChatMessage, 0, len(convCtx.History)+1)
	for _, turn := range convCtx.History {
		role := "user"
		if turn.Speaker == SpeakerAgent || turn.Speaker == SpeakerHuman {
			role = "assistant"
		}
		messages = append(messages, ChatMessage{Role: role, Content: turn.Text})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: msg.RawText})
	return messages
}
