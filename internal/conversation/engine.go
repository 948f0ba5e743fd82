package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stayware/cohost-platform/internal/observability/metrics"
	"github.com/stayware/cohost-platform/pkg/logging"
)

var engineTracer = otel.Tracer("cohost/engine")

// OutboundDelivery is one reply handed to the dispatch gateway.
type OutboundDelivery struct {
	Platform       Platform
	ConversationID string
	Text           string
	IdempotencyKey string
}

// Dispatcher delivers composed replies to the guest's platform.
type Dispatcher interface {
	Deliver(ctx context.Context, req OutboundDelivery) (*DeliveryReceipt, error)
}

// EscalationNotice is the summary handed to human notification channels.
type EscalationNotice struct {
	ConversationID string
	PropertyID     string
	Platform       Platform
	Severity       Severity
	Reasons        []ReasonCode
	GuestMessage   string
	OccurredAt     time.Time
}

// EscalationNotifier alerts hosts about conversations needing attention.
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, notice EscalationNotice) error
}

// TranscriptArchiver persists a finished conversation's transcript to cold
// storage.
type TranscriptArchiver interface {
	ArchiveConversation(ctx context.Context, conversationID string) error
}

// Engine runs the full pipeline for one inbound message: context assembly,
// escalation classification, composition, dispatch, and state transitions.
// Escalation always outranks automated work racing against it.
type Engine struct {
	states     *StateMachine
	assembler  *ContextAssembler
	classifier *EscalationClassifier
	composer   *ResponseComposer
	dispatcher Dispatcher
	history    *HistoryStore
	store      *ConversationStore
	cache      *ResponseCache
	notifier   EscalationNotifier
	archiver   TranscriptArchiver
	metrics    *metrics.EngineMetrics
	logger     *logging.Logger

	holdingMessage   string
	notifyTimeout    time.Duration
	archiveOnResolve bool

	semMu       sync.Mutex
	propertySem map[string]chan struct{}
	semDepth    int
}

type engineConfig struct {
	store            *ConversationStore
	cache            *ResponseCache
	notifier         EscalationNotifier
	archiver         TranscriptArchiver
	metrics          *metrics.EngineMetrics
	holdingMessage   string
	notifyTimeout    time.Duration
	archiveOnResolve bool
	semDepth         int
}

// EngineOption customizes engine behavior.
type EngineOption func(*engineConfig)

// WithConversationStore enables durable persistence of conversations.
func WithConversationStore(store *ConversationStore) EngineOption {
	return func(cfg *engineConfig) { cfg.store = store }
}

// WithResponseCache wires the cache used for booking-update invalidation.
func WithResponseCache(cache *ResponseCache) EngineOption {
	return func(cfg *engineConfig) { cfg.cache = cache }
}

// WithEscalationNotifier wires host notifications for escalations.
func WithEscalationNotifier(notifier EscalationNotifier) EngineOption {
	return func(cfg *engineConfig) { cfg.notifier = notifier }
}

// WithTranscriptArchiver wires cold-storage archival of resolved conversations.
func WithTranscriptArchiver(archiver TranscriptArchiver, onResolve bool) EngineOption {
	return func(cfg *engineConfig) {
		cfg.archiver = archiver
		cfg.archiveOnResolve = onResolve
	}
}

// WithEngineMetrics wires Prometheus instrumentation.
func WithEngineMetrics(m *metrics.EngineMetrics) EngineOption {
	return func(cfg *engineConfig) { cfg.metrics = m }
}

// WithHoldingMessage sets the text sent to guests when their conversation
// escalates to a human.
func WithHoldingMessage(text string) EngineOption {
	return func(cfg *engineConfig) {
		if strings.TrimSpace(text) != "" {
			cfg.holdingMessage = text
		}
	}
}

// WithNotifyTimeout bounds how long escalation notifications may take.
func WithNotifyTimeout(d time.Duration) EngineOption {
	return func(cfg *engineConfig) {
		if d > 0 {
			cfg.notifyTimeout = d
		}
	}
}

// WithPropertyConcurrency bounds how many messages per property are handled
// at once.
func WithPropertyConcurrency(depth int) EngineOption {
	return func(cfg *engineConfig) {
		if depth > 0 {
			cfg.semDepth = depth
		}
	}
}

// NewEngine wires the pipeline. The state machine, assembler, classifier,
// composer, dispatcher, and history store are required.
func NewEngine(states *StateMachine, assembler *ContextAssembler, classifier *EscalationClassifier, composer *ResponseComposer, dispatcher Dispatcher, history *HistoryStore, logger *logging.Logger, opts ...EngineOption) *Engine {
	if states == nil {
		panic("conversation: state machine cannot be nil")
	}
	if assembler == nil {
		panic("conversation: context assembler cannot be nil")
	}
	if classifier == nil {
		panic("conversation: escalation classifier cannot be nil")
	}
	if composer == nil {
		panic("conversation: composer cannot be nil")
	}
	if dispatcher == nil {
		panic("conversation: dispatcher cannot be nil")
	}
	if history == nil {
		panic("conversation: history store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := engineConfig{
		holdingMessage: "Thanks for reaching out! We're looking into this and will get back to you shortly.",
		notifyTimeout:  10 * time.Second,
		semDepth:       8,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Engine{
		states:           states,
		assembler:        assembler,
		classifier:       classifier,
		composer:         composer,
		dispatcher:       dispatcher,
		history:          history,
		store:            cfg.store,
		cache:            cfg.cache,
		notifier:         cfg.notifier,
		archiver:         cfg.archiver,
		metrics:          cfg.metrics,
		logger:           logger,
		holdingMessage:   cfg.holdingMessage,
		notifyTimeout:    cfg.notifyTimeout,
		archiveOnResolve: cfg.archiveOnResolve,
		propertySem:      make(map[string]chan struct{}),
		semDepth:         cfg.semDepth,
	}
}

func (e *Engine) acquireProperty(ctx context.Context, propertyID string) (release func(), err error) {
	e.semMu.Lock()
	sem, ok := e.propertySem[propertyID]
	if !ok {
		sem = make(chan struct{}, e.semDepth)
		e.propertySem[propertyID] = sem
	}
	e.semMu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HandleMessage runs the pipeline for one normalized inbound message. Errors
// returned here mean the job should be retried by the queue; handled
// escalations and stale discards return nil.
func (e *Engine) HandleMessage(ctx context.Context, msg GuestMessage) error {
	ctx, span := engineTracer.Start(ctx, "engine.handle_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", msg.ConversationID),
		attribute.String("conversation.platform", string(msg.Platform)),
	)
	started := time.Now()
	defer func() {
		e.metrics.ObserveProcessing(string(msg.Platform), time.Since(started).Seconds())
	}()

	if msg.SenderRole == SpeakerHuman {
		// The host replied in-thread. Record their turn and stay out; the
		// engine never answers the host's own message.
		e.appendInboundTurn(ctx, msg, nil)
		e.metrics.ObserveMessage(string(msg.Platform), "host_message")
		return nil
	}

	release, err := e.acquireProperty(ctx, msg.PropertyID)
	if err != nil {
		return err
	}
	defer release()

	token, err := e.states.BeginTurn(ctx, msg.ConversationID)
	if errors.Is(err, ErrConversationEscalated) {
		// A human owns the conversation; record the guest's message and stay out.
		e.appendInboundTurn(ctx, msg, nil)
		e.metrics.ObserveMessage(string(msg.Platform), "human_owned")
		return nil
	}
	if err != nil {
		return err
	}
	defer token.Release()

	convCtx, err := e.assembler.Assemble(token.Ctx, msg)
	if err != nil {
		if errors.Is(err, ErrContextUnavailable) {
			e.appendInboundTurn(ctx, msg, []ReasonCode{ReasonContextUnavailable})
			e.escalate(ctx, msg, EscalationSignal{
				Severity: SeverityUrgent,
				Reasons:  []ReasonCode{ReasonContextUnavailable},
			})
			return nil
		}
		return err
	}

	signal := e.classifier.Classify(token.Ctx, msg, convCtx)

	var guestFlags []ReasonCode
	if signal.Severity > SeverityNone {
		guestFlags = signal.Reasons
	}
	e.appendInboundTurn(ctx, msg, guestFlags)

	if signal.RequiresHuman() {
		e.escalate(ctx, msg, signal)
		return nil
	}

	result, err := e.composer.Compose(token.Ctx, msg, convCtx)
	if err != nil {
		return e.handleComposeFailure(ctx, msg, err)
	}
	e.metrics.ObserveCacheLookup(result.CacheHit)

	receipt, err := e.dispatcher.Deliver(token.Ctx, OutboundDelivery{
		Platform:       msg.Platform,
		ConversationID: msg.ConversationID,
		Text:           result.Candidate.Text,
		IdempotencyKey: deliveryKey(msg),
	})
	if err != nil {
		e.metrics.ObserveDispatch(string(msg.Platform), "failed")
		e.logger.Error("delivery failed after retries",
			"conversation_id", msg.ConversationID,
			"platform", msg.Platform,
			"error", err,
		)
		e.escalate(ctx, msg, EscalationSignal{
			Severity: SeverityUrgent,
			Reasons:  []ReasonCode{ReasonDeliveryFailure},
		})
		return nil
	}
	e.metrics.ObserveDispatch(string(msg.Platform), "delivered")

	if err := e.states.CompleteDelivery(msg.ConversationID, token); err != nil {
		// The state moved on while the reply was in flight, but the guest
		// already received it, so it belongs in history either way.
		e.appendAgentTurn(ctx, msg, result.Candidate)
		if e.states.Snapshot(msg.ConversationID) == StateEscalated {
			// An escalation outranked this completion; the human keeps the
			// conversation.
			e.logger.Warn("delivery completion superseded by escalation",
				"conversation_id", msg.ConversationID,
			)
			e.metrics.ObserveMessage(string(msg.Platform), "superseded")
			return nil
		}
		// A parallel turn on the same conversation resolved it first.
		e.logger.Info("delivery completed after parallel resolution",
			"conversation_id", msg.ConversationID,
		)
		e.metrics.ObserveMessage(string(msg.Platform), "answered")
		return nil
	}

	e.appendAgentTurn(ctx, msg, result.Candidate)
	if e.store != nil {
		if err := e.store.UpdateState(ctx, msg.ConversationID, StateResolved); err != nil {
			e.logger.Warn("failed to persist resolved state", "error", err)
		}
	}
	e.logger.Info("reply delivered",
		"conversation_id", msg.ConversationID,
		"platform", msg.Platform,
		"intent", result.Intent,
		"cache_hit", result.CacheHit,
		"attempts", receipt.Attempts,
	)
	e.metrics.ObserveMessage(string(msg.Platform), "answered")
	return nil
}

func (e *Engine) handleComposeFailure(ctx context.Context, msg GuestMessage, err error) error {
	var policyErr *PolicyViolationError
	if errors.As(err, &policyErr) {
		e.logger.Warn("composed reply violated policy, escalating",
			"conversation_id", msg.ConversationID,
			"pattern", policyErr.Pattern,
		)
		e.escalate(ctx, msg, EscalationSignal{
			Severity: SeverityUrgent,
			Reasons:  []ReasonCode{ReasonPolicyViolation},
		})
		return nil
	}

	var genErr *GenerationError
	if errors.As(err, &genErr) {
		e.logger.Error("response generation failed, escalating",
			"conversation_id", msg.ConversationID,
			"kind", genErr.Kind,
			"error", genErr,
		)
		e.escalate(ctx, msg, EscalationSignal{
			Severity: SeverityUrgent,
			Reasons:  []ReasonCode{ReasonGenerationFailure},
		})
		return nil
	}

	if errors.Is(err, context.Canceled) {
		// The turn context was cancelled, most likely by an escalation racing
		// this compose. Nothing to retry.
		e.metrics.ObserveMessage(string(msg.Platform), "superseded")
		return nil
	}
	return err
}

// escalate moves the conversation to a human: state flips first so racing
// automated turns cancel, then the guest gets a holding message and hosts get
// notified out of band.
func (e *Engine) escalate(ctx context.Context, msg GuestMessage, signal EscalationSignal) {
	e.states.Escalate(msg.ConversationID)
	for _, reason := range signal.Reasons {
		e.metrics.ObserveEscalation(signal.Severity.String(), string(reason))
	}
	e.metrics.ObserveMessage(string(msg.Platform), "escalated")

	if e.store != nil {
		if err := e.store.UpdateState(ctx, msg.ConversationID, StateEscalated); err != nil {
			e.logger.Warn("failed to persist escalated state", "error", err)
		}
	}

	if e.holdingMessage != "" {
		if _, err := e.dispatcher.Deliver(ctx, OutboundDelivery{
			Platform:       msg.Platform,
			ConversationID: msg.ConversationID,
			Text:           e.holdingMessage,
			IdempotencyKey: deliveryKey(msg) + ":holding",
		}); err != nil {
			e.logger.Warn("failed to send holding message",
				"conversation_id", msg.ConversationID,
				"error", err,
			)
		}
	}

	e.logger.Info("conversation escalated",
		"conversation_id", msg.ConversationID,
		"property_id", msg.PropertyID,
		"severity", signal.Severity.String(),
		"reasons", signal.Reasons,
	)

	if e.notifier != nil {
		notice := EscalationNotice{
			ConversationID: msg.ConversationID,
			PropertyID:     msg.PropertyID,
			Platform:       msg.Platform,
			Severity:       signal.Severity,
			Reasons:        signal.Reasons,
			GuestMessage:   msg.RawText,
			OccurredAt:     time.Now(),
		}
		go func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
			defer cancel()
			if err := e.notifier.NotifyEscalation(notifyCtx, notice); err != nil {
				e.logger.Error("escalation notification failed",
					"conversation_id", notice.ConversationID,
					"error", err,
				)
			}
		}()
	}
}

// HandleBookingUpdate invalidates cached replies for the property so stale
// answers never survive a booking or configuration change.
func (e *Engine) HandleBookingUpdate(ctx context.Context, evt BookingUpdateEvent) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.InvalidateProperty(ctx, evt.PropertyID); err != nil {
		return fmt.Errorf("conversation: booking update invalidation: %w", err)
	}
	e.logger.Info("booking update processed",
		"property_id", evt.PropertyID,
		"change", evt.Change,
	)
	return nil
}

// ResolveByHuman closes an escalated conversation on behalf of a host.
func (e *Engine) ResolveByHuman(ctx context.Context, evt HumanResolveEvent) error {
	if err := e.states.ResolveByHuman(evt.ConversationID); err != nil {
		return err
	}
	if e.store != nil {
		if err := e.store.UpdateState(ctx, evt.ConversationID, StateResolved); err != nil {
			e.logger.Warn("failed to persist human resolution", "error", err)
		}
	}
	if evt.Note != "" {
		if _, err := e.history.Append(ctx, evt.ConversationID, Turn{
			Speaker:   SpeakerHuman,
			Text:      evt.Note,
			Timestamp: time.Now(),
		}); err != nil {
			e.logger.Warn("failed to record resolution note", "error", err)
		}
	}
	if e.archiveOnResolve && e.archiver != nil {
		if err := e.archiver.ArchiveConversation(ctx, evt.ConversationID); err != nil {
			e.logger.Warn("transcript archival failed",
				"conversation_id", evt.ConversationID,
				"error", err,
			)
		}
	}
	e.logger.Info("conversation resolved by human",
		"conversation_id", evt.ConversationID,
		"resolved_by", evt.ResolvedBy,
	)
	return nil
}

func (e *Engine) appendInboundTurn(ctx context.Context, msg GuestMessage, flags []ReasonCode) {
	speaker := msg.SenderRole
	if speaker == "" {
		speaker = SpeakerGuest
	}
	turn := Turn{
		Speaker:   speaker,
		Text:      msg.RawText,
		Timestamp: msg.ReceivedAt,
		Channel:   msg.Platform,
		Flags:     flags,
	}
	stored, err := e.history.Append(ctx, msg.ConversationID, turn)
	if err != nil {
		e.logger.Warn("failed to append inbound turn to history", "error", err)
		stored = turn
	}
	if e.store != nil {
		if err := e.store.AppendTurn(ctx, msg.ConversationID, msg.PropertyID, stored); err != nil {
			e.logger.Warn("failed to persist inbound turn", "error", err)
		}
	}
}

func (e *Engine) appendAgentTurn(ctx context.Context, msg GuestMessage, candidate ResponseCandidate) {
	turn := Turn{
		Speaker:   SpeakerAgent,
		Text:      candidate.Text,
		Timestamp: time.Now(),
		Channel:   msg.Platform,
	}
	stored, err := e.history.Append(ctx, msg.ConversationID, turn)
	if err != nil {
		e.logger.Warn("failed to append agent turn to history", "error", err)
		stored = turn
	}
	if e.store != nil {
		if err := e.store.AppendTurn(ctx, msg.ConversationID, msg.PropertyID, stored); err != nil {
			e.logger.Warn("failed to persist agent turn", "error", err)
		}
	}
}

func deliveryKey(msg GuestMessage) string {
	return fmt.Sprintf("%s:%s", msg.Platform, msg.PlatformEventID)
}
