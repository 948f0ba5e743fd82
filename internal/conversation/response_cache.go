package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/stayware/cohost-platform/pkg/logging"
)

// CacheEntry is one cached reply. Entries are immutable; staleness is handled
// by versioned fingerprints, never by editing an entry in place.
type CacheEntry struct {
	Text             string    `json:"text"`
	SourceTemplateID string    `json:"source_template_id,omitempty"`
	GeneratedByModel string    `json:"generated_by_model,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// FingerprintInput captures everything that makes two replies interchangeable.
// Two messages with equal fingerprints may share one cached reply.
type FingerprintInput struct {
	PropertyID       string
	Intent           IntentFamily
	Variables        map[string]string
	TemplateVersion  int64
	BrandVoiceVer    int64
	PropertyConfVer  int64
	PropertyEpoch    int64
	TemplateEpoch    int64
}

// Fingerprint derives the deterministic cache key. Variables are serialized
// in sorted order so map iteration order never changes the key.
func Fingerprint(in FingerprintInput) string {
	keys := make([]string, 0, len(in.Variables))
	for k := range in.Variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "p=%s|i=%s|tv=%d|bv=%d|pv=%d|pe=%d|te=%d",
		in.PropertyID, in.Intent, in.TemplateVersion, in.BrandVoiceVer,
		in.PropertyConfVer, in.PropertyEpoch, in.TemplateEpoch)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%s", k, in.Variables[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ResponseCache stores composed replies keyed by fingerprint. Concurrent
// misses on the same fingerprint collapse into a single compute via
// singleflight; invalidation bumps a Redis epoch counter so every old
// fingerprint becomes unreachable without scanning keys.
type ResponseCache struct {
	redis  *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	now    func() time.Time
	logger *logging.Logger
}

// CacheOption configures a ResponseCache.
type CacheOption func(*ResponseCache)

// WithClock overrides the cache's time source. Tests use this to step
// through TTL expiry without sleeping.
func WithClock(now func() time.Time) CacheOption {
	return func(c *ResponseCache) { c.now = now }
}

// NewResponseCache creates the cache. TTL zero means the default of 6 hours.
func NewResponseCache(rdb *redis.Client, ttl time.Duration, logger *logging.Logger, opts ...CacheOption) *ResponseCache {
	if rdb == nil {
		panic("conversation: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &ResponseCache{
		redis:  rdb,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var cacheTracer = otel.Tracer("cohost/response-cache")

func cacheKey(fingerprint string) string {
	return fmt.Sprintf("response_cache:%s", fingerprint)
}

func propertyEpochKey(propertyID string) string {
	return fmt.Sprintf("cache_epoch:property:%s", propertyID)
}

func templateEpochKey(propertyID string) string {
	return fmt.Sprintf("cache_epoch:templates:%s", propertyID)
}

// Epochs loads the current invalidation epochs for a property. Missing keys
// read as zero, so a never-invalidated property needs no setup.
func (c *ResponseCache) Epochs(ctx context.Context, propertyID string) (propertyEpoch, templateEpoch int64, err error) {
	pipe := c.redis.Pipeline()
	pCmd := pipe.Get(ctx, propertyEpochKey(propertyID))
	tCmd := pipe.Get(ctx, templateEpochKey(propertyID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("conversation: failed to load cache epochs: %w", err)
	}
	propertyEpoch, _ = pCmd.Int64()
	templateEpoch, _ = tCmd.Int64()
	return propertyEpoch, templateEpoch, nil
}

// Lookup returns the entry for a fingerprint, or nil on miss. Expiry is
// enforced both by Redis TTL and by CreatedAt so an injected clock can
// observe expiry deterministically.
func (c *ResponseCache) Lookup(ctx context.Context, fingerprint string) (*CacheEntry, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.lookup")
	defer span.End()

	data, err := c.redis.Get(ctx, cacheKey(fingerprint)).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: cache lookup failed: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: cache entry decode failed: %w", err)
	}
	if c.now().Sub(entry.CreatedAt) >= c.ttl {
		span.SetAttributes(attribute.Bool("cache.hit", false), attribute.Bool("cache.expired", true))
		return nil, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return &entry, nil
}

// Store writes an entry under its fingerprint with the cache TTL.
func (c *ResponseCache) Store(ctx context.Context, fingerprint string, entry CacheEntry) error {
	ctx, span := cacheTracer.Start(ctx, "cache.store")
	defer span.End()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: cache entry encode failed: %w", err)
	}
	if err := c.redis.Set(ctx, cacheKey(fingerprint), data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("conversation: cache store failed: %w", err)
	}
	return nil
}

// GetOrCompute returns the cached entry for the fingerprint, computing and
// storing it on miss. Concurrent callers with the same fingerprint share one
// compute. A compute that finishes after its context was cancelled is
// returned to the caller but never cached; the cancellation may mean the
// conversation escalated mid-flight.
func (c *ResponseCache) GetOrCompute(ctx context.Context, fingerprint string, compute func(ctx context.Context) (CacheEntry, error)) (*CacheEntry, bool, error) {
	entry, err := c.Lookup(ctx, fingerprint)
	if err != nil {
		return nil, false, err
	}
	if entry != nil {
		return entry, true, nil
	}

	ch := c.group.DoChan(fingerprint, func() (interface{}, error) {
		// Re-check under the flight lock; a racing caller may have stored.
		if existing, err := c.Lookup(ctx, fingerprint); err == nil && existing != nil {
			return *existing, nil
		}
		computed, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		computed.CreatedAt = c.now()
		if ctx.Err() != nil {
			c.logger.Debug("skipping cache store for cancelled compute", "fingerprint", fingerprint)
			return computed, nil
		}
		if err := c.Store(ctx, fingerprint, computed); err != nil {
			c.logger.Warn("failed to store computed response", "error", err)
		}
		return computed, nil
	})

	// The compute honors ctx, so the channel resolves promptly even when the
	// caller is cancelled mid-flight.
	res := <-ch
	if res.Err != nil {
		return nil, false, res.Err
	}
	computed := res.Val.(CacheEntry)
	return &computed, false, nil
}

// InvalidateProperty makes every cached reply for a property unreachable by
// bumping its epoch. O(1) regardless of how many entries exist; the orphaned
// entries age out via TTL.
func (c *ResponseCache) InvalidateProperty(ctx context.Context, propertyID string) error {
	if err := c.redis.Incr(ctx, propertyEpochKey(propertyID)).Err(); err != nil {
		return fmt.Errorf("conversation: property cache invalidation failed: %w", err)
	}
	c.logger.Info("response cache invalidated for property", "property_id", propertyID)
	return nil
}

// InvalidateTemplates makes every template-derived reply for a property
// unreachable after a template or brand voice change.
func (c *ResponseCache) InvalidateTemplates(ctx context.Context, propertyID string) error {
	if err := c.redis.Incr(ctx, templateEpochKey(propertyID)).Err(); err != nil {
		return fmt.Errorf("conversation: template cache invalidation failed: %w", err)
	}
	c.logger.Info("response cache invalidated for templates", "property_id", propertyID)
	return nil
}
