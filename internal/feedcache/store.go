package feedcache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"content-podcaster/internal/logger"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultMaxEntryBytes = 5 << 20
)

// Options configures a Store.
type Options struct {
	TTL           time.Duration
	MaxEntryBytes int64
	Logger        logrus.FieldLogger
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Store holds rendered feed documents in memory. Reads and writes are
// individually atomic; a Put always replaces the previous entry for its key,
// so under a race the last writer wins.
type Store struct {
	mu      sync.RWMutex
	entries map[Key]Entry

	ttl           time.Duration
	maxEntryBytes int64
	now           func() time.Time
	logger        logrus.FieldLogger

	stats counters
}

func NewStore(opts Options) *Store {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntryBytes <= 0 {
		opts.MaxEntryBytes = DefaultMaxEntryBytes
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	return &Store{
		entries:       make(map[Key]Entry),
		ttl:           opts.TTL,
		maxEntryBytes: opts.MaxEntryBytes,
		now:           opts.Clock,
		logger:        opts.Logger.WithField("component", "feedcache"),
	}
}

// TTL is the lifetime given to entries stored without an explicit TTL.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the entry for key if it is within its TTL and was rendered from
// an episode set with the given fingerprint.
func (s *Store) Get(key Key, fingerprint string) (Entry, bool) {
	s.stats.requests.Add(1)

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.Expired(s.now()) || entry.Fingerprint != fingerprint {
		s.stats.misses.Add(1)
		return Entry{}, false
	}
	s.stats.hits.Add(1)
	return entry, true
}

// GetStale returns the entry for key if it is still within its TTL, whatever
// its fingerprint. It is meant for serving something when rendering fails and
// does not count as a request.
func (s *Store) GetStale(key Key) (Entry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.Expired(s.now()) {
		return Entry{}, false
	}
	return entry, true
}

// Put stores entry, replacing any previous entry for the same key.
func (s *Store) Put(entry Entry) error {
	if entry.SizeBytes == 0 {
		entry.SizeBytes = int64(len(entry.Content))
	}
	if entry.TTL <= 0 {
		entry.TTL = s.ttl
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}

	if entry.SizeBytes > s.maxEntryBytes {
		s.stats.rejected.Add(1)
		err := &CacheWriteRejectedError{Key: entry.Key, Size: entry.SizeBytes, Limit: s.maxEntryBytes}
		s.logger.WithFields(logrus.Fields{
			"key":   entry.Key.String(),
			"size":  entry.SizeBytes,
			"limit": s.maxEntryBytes,
		}).Warn("Cache write rejected")
		return err
	}

	s.mu.Lock()
	s.entries[entry.Key] = entry
	s.stats.entries.Store(int64(len(s.entries)))
	s.mu.Unlock()

	return nil
}

// Invalidate removes every entry whose key satisfies match and returns the
// removed keys.
func (s *Store) Invalidate(match func(Key) bool) []Key {
	var removed []Key

	s.mu.Lock()
	for key := range s.entries {
		if match(key) {
			delete(s.entries, key)
			removed = append(removed, key)
		}
	}
	s.stats.entries.Store(int64(len(s.entries)))
	s.mu.Unlock()

	s.stats.recordInvalidation(s.now(), len(removed))

	if len(removed) > 0 {
		s.logger.WithField("removed", len(removed)).Debug("Cache entries invalidated")
	}
	return removed
}

// InvalidateFeed removes every entry of the given feed.
func (s *Store) InvalidateFeed(slug string) []Key {
	return s.Invalidate(func(k Key) bool { return k.FeedSlug == slug })
}

// Sweep removes entries past their TTL and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()
	removed := 0

	s.mu.Lock()
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.stats.entries.Store(int64(len(s.entries)))
	s.mu.Unlock()

	s.stats.swept.Add(int64(removed))
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.WithField("removed", n).Debug("Swept expired cache entries")
			}
		}
	}
}

// Len is the number of stored entries, expired or not.
func (s *Store) Len() int {
	return int(s.stats.entries.Load())
}
