package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"content-podcaster/internal/feedcache"
	"content-podcaster/internal/logger"
	"content-podcaster/internal/models"
)

const defaultRenderTimeout = 5 * time.Second

// EpisodeLister is the source of truth for the episodes of a feed.
type EpisodeLister interface {
	ListEpisodes(ctx context.Context, feedSlug string) ([]models.Episode, error)
}

// Catalog resolves configured feeds by slug.
type Catalog interface {
	Feed(slug string) (models.Feed, bool)
}

// Result is one served feed representation.
type Result struct {
	Content      string
	ContentType  string
	ETag         string
	LastModified time.Time
	FromCache    bool
	// Stale is set when rendering failed and a previous entry was served.
	Stale bool
}

type ServiceConfig struct {
	RenderTimeout time.Duration
	Logger        logrus.FieldLogger
	Clock         func() time.Time
}

// Service answers feed reads from the cache, rendering on a miss.
type Service struct {
	episodes EpisodeLister
	catalog  Catalog
	renderer Renderer
	cache    *feedcache.Store

	renderTimeout time.Duration
	logger        logrus.FieldLogger
	now           func() time.Time

	flights singleflight.Group
}

func NewService(episodes EpisodeLister, catalog Catalog, renderer Renderer, cache *feedcache.Store, cfg ServiceConfig) *Service {
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = defaultRenderTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Service{
		episodes:      episodes,
		catalog:       catalog,
		renderer:      renderer,
		cache:         cache,
		renderTimeout: cfg.RenderTimeout,
		logger:        cfg.Logger.WithField("component", "feed"),
		now:           cfg.Clock,
	}
}

// Read returns the representation of feed slug selected by opts.
func (s *Service) Read(ctx context.Context, slug string, opts Options) (*Result, error) {
	start := time.Now()

	info, ok := s.catalog.Feed(slug)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFeedNotFound, slug)
	}
	opts, err := opts.Normalize(info)
	if err != nil {
		return nil, err
	}
	key := feedcache.Key{FeedSlug: slug, OptionsHash: feedcache.OptionsHash(opts)}

	episodes, err := s.episodes.ListEpisodes(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("listing episodes of %s: %w", slug, err)
	}
	fingerprint := feedcache.Fingerprint(episodes, opts)

	if entry, ok := s.cache.Get(key, fingerprint); ok {
		res := resultFromEntry(entry, true)
		s.cache.RecordServed(len(res.Content), time.Since(start))
		return res, nil
	}

	content, err := s.render(ctx, key, fingerprint, info, episodes, opts)
	if err != nil {
		var rerr *RendererError
		if !errors.As(err, &rerr) {
			return nil, err
		}
		if entry, ok := s.cache.GetStale(key); ok {
			s.logger.WithError(err).WithField("key", key.String()).Warn("Serving stale feed after render failure")
			res := resultFromEntry(entry, true)
			res.Stale = true
			s.cache.RecordServed(len(res.Content), time.Since(start))
			return res, nil
		}
		return nil, err
	}

	entry := feedcache.Entry{
		Key:         key,
		Content:     content,
		ContentType: opts.ContentType(),
		Fingerprint: fingerprint,
		CreatedAt:   s.now(),
		TTL:         s.cache.TTL(),
	}
	if err := s.cache.Put(entry); err != nil {
		s.logger.WithError(err).WithField("key", key.String()).Debug("Serving feed uncached")
	}

	res := resultFromEntry(entry, false)
	s.cache.RecordServed(len(res.Content), time.Since(start))
	return res, nil
}

func resultFromEntry(e feedcache.Entry, fromCache bool) *Result {
	return &Result{
		Content:      e.Content,
		ContentType:  e.ContentType,
		ETag:         e.Fingerprint,
		LastModified: e.CreatedAt,
		FromCache:    fromCache,
	}
}

// render shares one renderer call between concurrent misses on the same key
// and fingerprint. The call runs under its own timeout so that a caller
// going away does not fail the others.
func (s *Service) render(ctx context.Context, key feedcache.Key, fingerprint string, info models.Feed, episodes []models.Episode, opts Options) (string, error) {
	ch := s.flights.DoChan(key.String()+":"+fingerprint, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.Background(), s.renderTimeout)
		defer cancel()
		return s.renderOnce(rctx, info, episodes, opts)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// renderOnce bounds the wait by ctx. The render goroutine exits when the
// renderer returns, which Renderer requires to happen once ctx is done.
func (s *Service) renderOnce(ctx context.Context, info models.Feed, episodes []models.Episode, opts Options) (string, error) {
	type result struct {
		doc string
		err error
	}
	done := make(chan result, 1)
	go func() {
		doc, err := s.renderer.Render(ctx, info, episodes, opts)
		done <- result{doc: doc, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", &RendererError{Feed: info.Slug, Timeout: true, Err: ctx.Err()}
	case r := <-done:
		if r.err != nil {
			return "", &RendererError{Feed: info.Slug, Err: r.err}
		}
		return r.doc, nil
	}
}
