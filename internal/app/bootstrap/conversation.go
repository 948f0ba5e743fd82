package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/stayware/cohost-platform/internal/archive"
	appconfig "github.com/stayware/cohost-platform/internal/config"
	"github.com/stayware/cohost-platform/internal/conversation"
	"github.com/stayware/cohost-platform/internal/dispatch"
	"github.com/stayware/cohost-platform/internal/notify"
	"github.com/stayware/cohost-platform/internal/observability/metrics"
	"github.com/stayware/cohost-platform/internal/property"
	"github.com/stayware/cohost-platform/pkg/logging"
)

// Runtime bundles the wired conversation pipeline shared by the API and
// worker binaries.
type Runtime struct {
	Engine            *conversation.Engine
	Worker            *conversation.Worker
	Publisher         *conversation.Publisher
	Cache             *conversation.ResponseCache
	ConversationStore *conversation.ConversationStore
	PropertyStore     *property.Store
	Redis             *redis.Client
	DB                *sql.DB

	closers []func()
}

// Close releases runtime resources in reverse wiring order.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// BuildConversationRuntime wires the full pipeline from config: stores,
// queue, LLM chain, dispatcher, notifier, and engine. Redis and Postgres are
// required; everything else degrades to disabled when unconfigured.
func BuildConversationRuntime(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, registerer prometheus.Registerer, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rt := &Runtime{}

	redisClient := BuildRedisClient(ctx, cfg, logger, false)
	if redisClient == nil {
		return nil, fmt.Errorf("bootstrap: redis is required (REDIS_ADDR)")
	}
	rt.Redis = redisClient
	rt.closers = append(rt.closers, func() { redisClient.Close() })

	db, err := BuildDB(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if db == nil {
		rt.Close()
		return nil, fmt.Errorf("bootstrap: database is required (DATABASE_URL)")
	}
	rt.DB = db
	rt.closers = append(rt.closers, func() { db.Close() })

	propertyStore := property.NewStore(db)
	rt.PropertyStore = propertyStore
	conversationStore := conversation.NewConversationStore(db)
	rt.ConversationStore = conversationStore

	history := conversation.NewHistoryStore(redisClient, cfg.HistoryTTL)
	assembler := conversation.NewContextAssembler(propertyStore, propertyStore, history, cfg.HistoryLimit, logger)
	classifier := conversation.NewEscalationClassifier(conversation.NewLexiconSentimentScorer(), cfg.SentimentThreshold, logger)

	cache := conversation.NewResponseCache(redisClient, cfg.CacheTTL, logger)
	rt.Cache = cache

	voice := conversation.DefaultBrandVoice()
	catalog := conversation.NewTemplateCatalog(voice, conversation.DefaultTemplates())
	guard := conversation.NewPolicyGuard(voice, logger)

	llm, llmClose, err := buildLLMChain(ctx, cfg, awsCfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if llmClose != nil {
		rt.closers = append(rt.closers, llmClose)
	}

	composer := conversation.NewResponseComposer(catalog, guard, llm, cache, cfg.ComposerMaxRetries, logger)
	dispatcher := buildDispatcher(cfg, logger)

	engineOpts := []conversation.EngineOption{
		conversation.WithConversationStore(conversationStore),
		conversation.WithResponseCache(cache),
		conversation.WithHoldingMessage(cfg.HoldingMessage),
		conversation.WithNotifyTimeout(cfg.NotifyTimeout),
		conversation.WithPropertyConcurrency(cfg.PropertyQueueDepth),
	}
	if registerer != nil {
		engineOpts = append(engineOpts, conversation.WithEngineMetrics(metrics.NewEngineMetrics(registerer)))
	}
	if notifier := buildNotifier(cfg, awsCfg, propertyStore, logger); notifier != nil {
		engineOpts = append(engineOpts, conversation.WithEscalationNotifier(notifier))
	}
	if cfg.ArchiveBucket != "" {
		archiver := archive.NewArchiver(archive.Config{
			Source: conversationStore,
			S3:     s3.NewFromConfig(awsCfg),
			Bucket: cfg.ArchiveBucket,
			Logger: logger,
		})
		engineOpts = append(engineOpts, conversation.WithTranscriptArchiver(archiver, cfg.ArchiveOnResolve))
	}

	states := conversation.NewStateMachine(logger)
	engine := conversation.NewEngine(states, assembler, classifier, composer, dispatcher, history, logger, engineOpts...)
	rt.Engine = engine

	if cfg.UseMemoryQueue {
		queue := conversation.NewMemoryQueue(256)
		rt.Publisher = conversation.NewPublisher(queue, logger)
		rt.Worker = conversation.NewWorker(engine, queue, logger, conversation.WithWorkerCount(cfg.WorkerCount))
		logger.Info("using in-memory conversation queue")
	} else {
		if strings.TrimSpace(cfg.MessageQueueURL) == "" {
			rt.Close()
			return nil, fmt.Errorf("bootstrap: MESSAGE_QUEUE_URL is required without USE_MEMORY_QUEUE")
		}
		queue := conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.MessageQueueURL)
		rt.Publisher = conversation.NewPublisher(queue, logger)
		rt.Worker = conversation.NewWorker(engine, queue, logger, conversation.WithWorkerCount(cfg.WorkerCount))
	}

	return rt, nil
}

// buildLLMChain wires Bedrock primary with Gemini fallback. Either side may
// be unconfigured; with neither, the composer answers from templates only.
func buildLLMChain(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (conversation.LLMClient, func(), error) {
	var primary, fallback conversation.LLMClient
	var closeFn func()

	if model := strings.TrimSpace(cfg.BedrockModelID); model != "" {
		primary = conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg), model)
		logger.Info("bedrock generation enabled", "model", model)
	}
	if key := strings.TrimSpace(cfg.GeminiAPIKey); key != "" {
		gemini, err := conversation.NewGeminiLLMClient(ctx, key, cfg.GeminiModelID)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		closeFn = func() { gemini.Close() }
		fallback = gemini
		logger.Info("gemini generation enabled", "model", cfg.GeminiModelID)
	}

	switch {
	case primary != nil && fallback != nil:
		return conversation.NewFallbackLLMClient(primary, fallback, logger), closeFn, nil
	case primary != nil:
		return primary, closeFn, nil
	case fallback != nil:
		return fallback, closeFn, nil
	default:
		logger.Warn("no generative backend configured; template-only responses")
		return nil, closeFn, nil
	}
}

func buildDispatcher(cfg *appconfig.Config, logger *logging.Logger) *dispatch.Gateway {
	var adapters []dispatch.Adapter
	if cfg.AirbnbAPIKey != "" {
		adapters = append(adapters, dispatch.NewAirbnbAdapter(cfg.AirbnbBaseURL, cfg.AirbnbAPIKey))
	}
	if cfg.VrboAPIKey != "" {
		adapters = append(adapters, dispatch.NewVrboAdapter(cfg.VrboBaseURL, cfg.VrboAPIKey))
	}
	if cfg.BookingAPIKey != "" {
		adapters = append(adapters, dispatch.NewBookingAdapter(cfg.BookingBaseURL, cfg.BookingAPIKey))
	}
	if cfg.DirectSiteBaseURL != "" {
		adapters = append(adapters, dispatch.NewDirectAdapter(cfg.DirectSiteBaseURL, cfg.DirectSiteToken))
	}
	return dispatch.NewGateway(adapters, logger,
		dispatch.WithMaxAttempts(cfg.DispatchMaxAttempts),
		dispatch.WithBaseDelay(cfg.DispatchBaseDelay),
	)
}

func buildNotifier(cfg *appconfig.Config, awsCfg aws.Config, contacts notify.HostContactStore, logger *logging.Logger) conversation.EscalationNotifier {
	var email notify.EmailSender
	if sender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sender != nil {
		email = sender
	} else if cfg.SESFromEmail != "" {
		email = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SESFromName,
		}, logger)
	}
	if email == nil {
		logger.Warn("no email sender configured; escalation notifications disabled")
		return nil
	}
	return notify.NewService(email, nil, contacts, logger,
		notify.WithFallbackEmails(cfg.EscalationEmails))
}
