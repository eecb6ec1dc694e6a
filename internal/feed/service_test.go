package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-podcaster/internal/feedcache"
	"content-podcaster/internal/models"
)

type staticCatalog map[string]models.Feed

func (c staticCatalog) Feed(slug string) (models.Feed, bool) {
	f, ok := c[slug]
	return f, ok
}

type memoryEpisodes struct {
	mu       sync.Mutex
	episodes map[string][]models.Episode
}

func (m *memoryEpisodes) ListEpisodes(ctx context.Context, slug string) ([]models.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Episode(nil), m.episodes[slug]...), nil
}

func (m *memoryEpisodes) add(ep models.Episode) {
	m.mu.Lock()
	m.episodes[ep.FeedSlug] = append(m.episodes[ep.FeedSlug], ep)
	m.mu.Unlock()
}

type countingRenderer struct {
	inner    Renderer
	calls    atomic.Int32
	returned atomic.Int32
	delay    time.Duration
	fail     atomic.Bool
}

func (r *countingRenderer) Render(ctx context.Context, f models.Feed, episodes []models.Episode, opts Options) (string, error) {
	r.calls.Add(1)
	defer r.returned.Add(1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if r.fail.Load() {
		return "", errors.New("template exploded")
	}
	return r.inner.Render(ctx, f, episodes, opts)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *Service
	store    *feedcache.Store
	episodes *memoryEpisodes
	renderer *countingRenderer
	clock    *clock
}

func newFixture(t *testing.T, ttl time.Duration, maxBytes int64, renderTimeout time.Duration) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	store := feedcache.NewStore(feedcache.Options{TTL: ttl, MaxEntryBytes: maxBytes, Clock: c.Now})
	eps := &memoryEpisodes{episodes: map[string][]models.Episode{"default": testEpisodes()}}
	renderer := &countingRenderer{inner: NewDocumentRenderer("https://pod.example.com")}
	catalog := staticCatalog{"default": testFeed, "news": {Slug: "news", Title: "News"}}
	svc := NewService(eps, catalog, renderer, store, ServiceConfig{RenderTimeout: renderTimeout, Clock: c.Now})
	return &fixture{svc: svc, store: store, episodes: eps, renderer: renderer, clock: c}
}

func TestReadCachesBetweenIdenticalReads(t *testing.T) {
	f := newFixture(t, time.Minute, 0, time.Second)
	ctx := context.Background()

	first, err := f.svc.Read(ctx, "default", Options{})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.NotEmpty(t, first.ETag)
	assert.Equal(t, f.clock.Now(), first.LastModified)
	assert.Equal(t, "application/rss+xml; charset=utf-8", first.ContentType)

	second, err := f.svc.Read(ctx, "default", Options{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.ETag, second.ETag)
	assert.Equal(t, first.LastModified, second.LastModified)
	assert.Equal(t, int32(1), f.renderer.calls.Load())

	st := f.store.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, int64(len(first.Content)*2), st.BytesServed)
}

func TestReadDetectsEpisodeChangeByFingerprint(t *testing.T) {
	f := newFixture(t, time.Minute, 0, time.Second)
	ctx := context.Background()

	first, err := f.svc.Read(ctx, "default", Options{})
	require.NoError(t, err)

	f.episodes.add(models.Episode{ID: "ep-4", FeedSlug: "default", Title: "Fourth", Description: "four", AudioURL: "https://pod.example.com/audio/4.mp3", PublishedAt: time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)})

	second, err := f.svc.Read(ctx, "default", Options{})
	require.NoError(t, err)
	assert.False(t, second.FromCache)
	assert.NotEqual(t, first.ETag, second.ETag)
	assert.Contains(t, second.Content, "Fourth")
	assert.Equal(t, 1, f.store.Len(), "regeneration replaces the entry")
}

func TestReadAfterInvalidationIsMiss(t *testing.T) {
	f := newFixture(t, time.Minute, 0, time.Second)
	ctx := context.Background()

	_, err := f.svc.Read(ctx, "default", Options{})
	require.NoError(t, err)
	_, err = f.svc.Read(ctx, "default", Options{Format: FormatEpisodes})
	require.NoError(t, err)

	removed := f.store.InvalidateFeed("default")
	assert.Len(t, removed, 2)

	res, err := f.svc.Read(ctx, "default", Options{})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
}

func TestReadConcurrentMissesStoreOneEntry(t *testing.T) {
	f := newFixture(t, time.Minute, 0, time.Second)
	f.renderer.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]*Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Read(context.Background(), "default", Options{})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, f.renderer.calls.Load(), int32(2))
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, results[0].Content, results[1].Content)
}

func TestReadRendersAgainAfterTTL(t *testing.T) {
	f := newFixture(t, 60*time.Second, 0, time.Second)
	ctx := context.Background()

	first, err := f.svc.Read(ctx, "default", Options{})
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	f.clock.Advance(61 * time.Second)

	second, err := f.svc.Read(ctx, "default", Options{})
	require.NoError(t, err)
	assert.False(t, second.FromCache)
	assert.Equal(t, int32(2), f.renderer.calls.Load())
	assert.Equal(t, first.ETag, second.ETag, "same episode set, same fingerprint")
}

func TestReadServesStaleOnRendererFailure(t *testing.T) {
	f := newFixture(t, time.Minute, 0, time.Second)
	ctx := context.Background()

	first, err := f.svc.Read(ctx, "default", Options{})
	require.NoError(t, err)

	f.episodes.add(models.Episode{ID: "ep-4", FeedSlug: "default", Title: "Fourth", Description: "four", AudioURL: "https://pod.example.com/audio/4.mp3", PublishedAt: time.Now()})
	f.renderer.fail.Store(true)

	res, err := f.svc.Read(ctx, "default", Options{})
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.True(t, res.FromCache)
	assert.Equal(t, first.Content, res.Content)

	// no fallback for a representation that was never rendered
	_, err = f.svc.Read(ctx, "default", Options{Format: FormatEpisodes})
	var rerr *RendererError
	require.True(t, errors.As(err, &rerr))
	assert.False(t, rerr.Timeout)
	assert.True(t, rerr.Retryable())
}

func TestReadRenderTimeout(t *testing.T) {
	f := newFixture(t, time.Minute, 0, 20*time.Millisecond)
	f.renderer.delay = 200 * time.Millisecond

	_, err := f.svc.Read(context.Background(), "default", Options{})
	var rerr *RendererError
	require.True(t, errors.As(err, &rerr))
	assert.True(t, rerr.Timeout)
	assert.Equal(t, 0, f.store.Len(), "a timed out render is never cached")
}

func TestReadRenderTimeoutReleasesRenderer(t *testing.T) {
	f := newFixture(t, time.Minute, 0, 20*time.Millisecond)
	f.renderer.delay = time.Hour

	_, err := f.svc.Read(context.Background(), "default", Options{})
	var rerr *RendererError
	require.True(t, errors.As(err, &rerr))
	assert.True(t, rerr.Timeout)

	assert.Eventually(t, func() bool {
		return f.renderer.returned.Load() == f.renderer.calls.Load()
	}, time.Second, 5*time.Millisecond)
}

func TestDocumentRendererHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDocumentRenderer("https://pod.example.com").Render(ctx, testFeed, testEpisodes(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadServesUncachedWhenEntryTooLarge(t *testing.T) {
	f := newFixture(t, time.Minute, 64, time.Second)

	res, err := f.svc.Read(context.Background(), "default", Options{})
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.True(t, strings.HasPrefix(res.Content, "<?xml"))
	assert.Equal(t, 0, f.store.Len())
	assert.Equal(t, int64(1), f.store.Stats().Rejected)
}

func TestReadUnknownFeedAndBadOptions(t *testing.T) {
	f := newFixture(t, time.Minute, 0, time.Second)

	_, err := f.svc.Read(context.Background(), "missing", Options{})
	assert.ErrorIs(t, err, ErrFeedNotFound)

	_, err = f.svc.Read(context.Background(), "default", Options{Format: "atom"})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Equal(t, int32(0), f.renderer.calls.Load())
}

func TestReadEmptyFeed(t *testing.T) {
	f := newFixture(t, time.Minute, 0, time.Second)

	res, err := f.svc.Read(context.Background(), "news", Options{Format: FormatEpisodes})
	require.NoError(t, err)
	assert.Contains(t, res.Content, `"episodes":[]`)
	assert.Equal(t, "application/json", res.ContentType)
}
