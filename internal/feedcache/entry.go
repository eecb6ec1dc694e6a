package feedcache

import (
	"fmt"
	"time"
)

// Key identifies one rendered representation of a feed.
type Key struct {
	FeedSlug    string
	OptionsHash string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.FeedSlug, k.OptionsHash)
}

// Entry is a rendered feed document tagged with the fingerprint of the
// episode set it was rendered from.
type Entry struct {
	Key         Key
	Content     string
	ContentType string
	Fingerprint string
	CreatedAt   time.Time
	TTL         time.Duration
	SizeBytes   int64
}

// Expired reports whether the entry has outlived its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// CacheWriteRejectedError is returned by Put for entries above the size limit.
type CacheWriteRejectedError struct {
	Key   Key
	Size  int64
	Limit int64
}

func (e *CacheWriteRejectedError) Error() string {
	return fmt.Sprintf("cache entry %s rejected: %d bytes exceeds limit of %d", e.Key, e.Size, e.Limit)
}
