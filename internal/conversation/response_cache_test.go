package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T, ttl time.Duration, opts ...CacheOption) (*ResponseCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewResponseCache(client, ttl, nil, opts...), mr
}

func TestFingerprint_Deterministic(t *testing.T) {
	in := FingerprintInput{
		PropertyID:      "prop-1",
		Intent:          IntentWiFi,
		Variables:       map[string]string{"wifi_password": "x", "guest_name": "Maya"},
		TemplateVersion: 1,
		BrandVoiceVer:   1,
	}
	first := Fingerprint(in)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Fingerprint(in))
	}
}

func TestFingerprint_SensitiveToInputs(t *testing.T) {
	base := FingerprintInput{
		PropertyID:      "prop-1",
		Intent:          IntentWiFi,
		Variables:       map[string]string{"wifi_password": "x"},
		TemplateVersion: 1,
	}

	changed := base
	changed.PropertyID = "prop-2"
	assert.NotEqual(t, Fingerprint(base), Fingerprint(changed))

	changed = base
	changed.TemplateVersion = 2
	assert.NotEqual(t, Fingerprint(base), Fingerprint(changed))

	changed = base
	changed.Variables = map[string]string{"wifi_password": "y"}
	assert.NotEqual(t, Fingerprint(base), Fingerprint(changed))

	changed = base
	changed.PropertyEpoch = 1
	assert.NotEqual(t, Fingerprint(base), Fingerprint(changed))
}

func TestResponseCache_StoreAndLookup(t *testing.T) {
	cache, _ := testCache(t, time.Hour)
	ctx := context.Background()

	entry := CacheEntry{Text: "The WiFi password is bluewater42.", SourceTemplateID: "wifi-v1"}
	require.NoError(t, cache.Store(ctx, "fp1", entry))

	got, err := cache.Lookup(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entry.Text, got.Text)
	assert.Equal(t, "wifi-v1", got.SourceTemplateID)

	miss, err := cache.Lookup(ctx, "fp-other")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestResponseCache_TTLExpiry(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cache, _ := testCache(t, time.Hour, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, cache.Store(ctx, "fp1", CacheEntry{Text: "hello"}))

	got, err := cache.Lookup(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, got)

	mu.Lock()
	now = now.Add(time.Hour + time.Minute)
	mu.Unlock()

	expired, err := cache.Lookup(ctx, "fp1")
	require.NoError(t, err)
	assert.Nil(t, expired, "entry past TTL must read as a miss")
}

func TestResponseCache_GetOrComputeSingleFlight(t *testing.T) {
	cache, _ := testCache(t, time.Hour)
	ctx := context.Background()

	var computes atomic.Int32
	compute := func(context.Context) (CacheEntry, error) {
		computes.Add(1)
		time.Sleep(50 * time.Millisecond)
		return CacheEntry{Text: "computed once"}, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*CacheEntry, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, _, err := cache.GetOrCompute(ctx, "fp-shared", compute)
			require.NoError(t, err)
			results[i] = entry
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), computes.Load(), "concurrent identical misses must share one compute")
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, "computed once", r.Text)
	}
}

func TestResponseCache_GetOrComputeHitSkipsCompute(t *testing.T) {
	cache, _ := testCache(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, cache.Store(ctx, "fp1", CacheEntry{Text: "cached"}))

	entry, hit, err := cache.GetOrCompute(ctx, "fp1", func(context.Context) (CacheEntry, error) {
		t.Fatal("compute must not run on a hit")
		return CacheEntry{}, nil
	})
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "cached", entry.Text)
}

func TestResponseCache_CancelledComputeNotCached(t *testing.T) {
	cache, _ := testCache(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	entry, hit, err := cache.GetOrCompute(ctx, "fp1", func(computeCtx context.Context) (CacheEntry, error) {
		// Cancellation lands while the compute is in flight.
		cancel()
		return CacheEntry{Text: "late result"}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	require.NotNil(t, entry)
	assert.Equal(t, "late result", entry.Text)

	stored, err := cache.Lookup(context.Background(), "fp1")
	require.NoError(t, err)
	assert.Nil(t, stored, "a compute finishing after cancellation must not be cached")
}

func TestResponseCache_InvalidationBumpsEpoch(t *testing.T) {
	cache, _ := testCache(t, time.Hour)
	ctx := context.Background()

	p0, t0, err := cache.Epochs(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), p0)
	assert.Equal(t, int64(0), t0)

	require.NoError(t, cache.InvalidateProperty(ctx, "prop-1"))
	p1, _, err := cache.Epochs(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p1)

	require.NoError(t, cache.InvalidateTemplates(ctx, "prop-1"))
	_, t1, err := cache.Epochs(ctx, "prop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), t1)

	// Another property's epochs are untouched.
	pOther, tOther, err := cache.Epochs(ctx, "prop-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pOther)
	assert.Equal(t, int64(0), tOther)
}
