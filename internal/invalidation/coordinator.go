// Package invalidation keeps cached feed documents in step with episode
// changes.
//
// A Coordinator receives episode change events and, depending on its
// strategy, removes the affected feed's cache entries right away, batches
// them for a periodic flush, or only marks the feed dirty and relies on
// fingerprint validation on read. In every strategy the public edge cache is
// asked to purge the feed's paths after the local entries are gone; that call
// never holds up local invalidation and is never retried here.
package invalidation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"content-podcaster/internal/feedcache"
	"content-podcaster/internal/logger"
	"content-podcaster/internal/models"
)

type Strategy string

const (
	StrategyImmediate Strategy = "immediate"
	StrategyScheduled Strategy = "scheduled"
	StrategyLazy      Strategy = "lazy"
)

const (
	defaultInterval     = 30 * time.Second
	defaultPurgeTimeout = 10 * time.Second
)

// ParseStrategy validates a configured strategy name. Empty means immediate.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyImmediate:
		return StrategyImmediate, nil
	case StrategyScheduled, StrategyLazy:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown invalidation strategy %q", s)
}

// EdgeCache purges public paths from an external cache.
type EdgeCache interface {
	Purge(ctx context.Context, paths []string) error
}

// Invalidator is the part of the cache store the coordinator drives.
type Invalidator interface {
	InvalidateFeed(slug string) []feedcache.Key
}

type Config struct {
	Strategy Strategy
	// Interval is the flush period of the scheduled and lazy strategies.
	Interval     time.Duration
	PurgeTimeout time.Duration
	Logger       logrus.FieldLogger
	Clock        func() time.Time
}

// Stats counts what the coordinator has done since start.
type Stats struct {
	Strategy          Strategy  `json:"strategy"`
	EventsReceived    int64     `json:"events_received"`
	EventsCoalesced   int64     `json:"events_coalesced"`
	Flushes           int64     `json:"flushes"`
	EntriesRemoved    int64     `json:"entries_removed"`
	EdgePurges        int64     `json:"edge_purges"`
	EdgePurgeFailures int64     `json:"edge_purge_failures"`
	PendingFeeds      int       `json:"pending_feeds"`
	DirtyFeeds        int       `json:"dirty_feeds"`
	LastEventAt       time.Time `json:"last_event_at,omitempty"`
}

type Coordinator struct {
	cache    Invalidator
	edge     EdgeCache
	strategy Strategy
	interval time.Duration
	timeout  time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time

	mu      sync.Mutex
	pending map[string][]models.InvalidationEvent
	dirty   map[string]time.Time

	purges sync.WaitGroup

	eventsReceived    atomic.Int64
	eventsCoalesced   atomic.Int64
	flushes           atomic.Int64
	entriesRemoved    atomic.Int64
	edgePurges        atomic.Int64
	edgePurgeFailures atomic.Int64
	lastEventAt       atomic.Int64
}

// NewCoordinator builds a coordinator. edge may be nil when no external
// cache sits in front of the service.
func NewCoordinator(cache Invalidator, edge EdgeCache, cfg Config) *Coordinator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyImmediate
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.PurgeTimeout <= 0 {
		cfg.PurgeTimeout = defaultPurgeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Coordinator{
		cache:    cache,
		edge:     edge,
		strategy: cfg.Strategy,
		interval: cfg.Interval,
		timeout:  cfg.PurgeTimeout,
		logger:   cfg.Logger.WithFields(logrus.Fields{"component": "invalidation", "strategy": cfg.Strategy}),
		now:      cfg.Clock,
		pending:  make(map[string][]models.InvalidationEvent),
		dirty:    make(map[string]time.Time),
	}
}

func (c *Coordinator) Strategy() Strategy {
	return c.strategy
}

// OnEpisodeChange reacts to one episode change according to the strategy.
// Processing the same event twice is harmless.
func (c *Coordinator) OnEpisodeChange(ctx context.Context, ev models.InvalidationEvent) {
	if ev.FeedSlug == "" {
		ev.FeedSlug = models.DefaultFeedSlug
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = c.now()
	}
	c.eventsReceived.Add(1)
	c.lastEventAt.Store(ev.OccurredAt.UnixNano())

	log := c.logger.WithFields(logrus.Fields{
		"feed":        ev.FeedSlug,
		"episode_id":  ev.EpisodeID,
		"change_kind": ev.ChangeKind,
	})

	switch c.strategy {
	case StrategyScheduled:
		c.mu.Lock()
		if len(c.pending[ev.FeedSlug]) > 0 {
			c.eventsCoalesced.Add(1)
		}
		c.pending[ev.FeedSlug] = append(c.pending[ev.FeedSlug], ev)
		c.mu.Unlock()
		log.Debug("Queued feed invalidation")
	case StrategyLazy:
		c.mu.Lock()
		if _, ok := c.dirty[ev.FeedSlug]; ok {
			c.eventsCoalesced.Add(1)
		} else {
			c.dirty[ev.FeedSlug] = ev.OccurredAt
		}
		c.mu.Unlock()
		log.Debug("Marked feed dirty")
	default:
		removed := c.Flush(ctx, ev.FeedSlug)
		log.WithField("removed", removed).Info("Invalidated feed cache")
	}
}

// Flush removes every cached entry of the feed now, clears any queued or
// dirty state for it and asks the edge cache to purge its public paths.
// It returns the number of local entries removed.
func (c *Coordinator) Flush(ctx context.Context, slug string) int {
	c.mu.Lock()
	delete(c.pending, slug)
	delete(c.dirty, slug)
	c.mu.Unlock()

	removed := c.cache.InvalidateFeed(slug)
	c.flushes.Add(1)
	c.entriesRemoved.Add(int64(len(removed)))

	c.purgeEdge(ctx, slug)
	return len(removed)
}

// IsDirty reports whether the lazy strategy has an unflushed change for slug.
func (c *Coordinator) IsDirty(slug string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dirty[slug]
	return ok
}

// Drain flushes every feed with queued or dirty changes and returns the
// slugs it flushed.
func (c *Coordinator) Drain(ctx context.Context) []string {
	c.mu.Lock()
	slugs := make([]string, 0, len(c.pending)+len(c.dirty))
	for slug := range c.pending {
		slugs = append(slugs, slug)
	}
	for slug := range c.dirty {
		if _, queued := c.pending[slug]; !queued {
			slugs = append(slugs, slug)
		}
	}
	c.mu.Unlock()

	for _, slug := range slugs {
		removed := c.Flush(ctx, slug)
		c.logger.WithFields(logrus.Fields{"feed": slug, "removed": removed}).Info("Flushed feed cache")
	}
	return slugs
}

// Run drains on every interval tick until ctx is done. It is a no-op loop
// for the immediate strategy, which never queues.
func (c *Coordinator) Run(ctx context.Context) {
	if c.strategy == StrategyImmediate {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Drain(ctx)
		}
	}
}

// Wait blocks until in-flight edge purges finish.
func (c *Coordinator) Wait() {
	c.purges.Wait()
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	pending, dirty := len(c.pending), len(c.dirty)
	c.mu.Unlock()

	st := Stats{
		Strategy:          c.strategy,
		EventsReceived:    c.eventsReceived.Load(),
		EventsCoalesced:   c.eventsCoalesced.Load(),
		Flushes:           c.flushes.Load(),
		EntriesRemoved:    c.entriesRemoved.Load(),
		EdgePurges:        c.edgePurges.Load(),
		EdgePurgeFailures: c.edgePurgeFailures.Load(),
		PendingFeeds:      pending,
		DirtyFeeds:        dirty,
	}
	if ns := c.lastEventAt.Load(); ns != 0 {
		st.LastEventAt = time.Unix(0, ns).UTC()
	}
	return st
}

// PublicPaths are the URL paths under which a feed is served.
func PublicPaths(slug string) []string {
	return []string{
		fmt.Sprintf("/feeds/%s/rss.xml", slug),
		fmt.Sprintf("/feeds/%s/episodes", slug),
	}
}

func (c *Coordinator) purgeEdge(ctx context.Context, slug string) {
	if c.edge == nil {
		return
	}
	paths := PublicPaths(slug)
	c.edgePurges.Add(1)

	c.purges.Add(1)
	go func() {
		defer c.purges.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		if err := c.edge.Purge(pctx, paths); err != nil {
			c.edgePurgeFailures.Add(1)
			c.logger.WithError(err).WithFields(logrus.Fields{
				"feed":  slug,
				"paths": paths,
			}).Warn("Edge cache purge failed")
		}
	}()
}
