package feedcache

import (
	"math"
	"sync/atomic"
	"time"
)

// latencyWeight is the smoothing factor of the response latency average.
const latencyWeight = 0.1

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Requests           int64         `json:"requests"`
	Hits               int64         `json:"hits"`
	Misses             int64         `json:"misses"`
	HitRatio           float64       `json:"hit_ratio"`
	AvgLatency         time.Duration `json:"avg_latency_ns"`
	BytesServed        int64         `json:"bytes_served"`
	Entries            int64         `json:"entries"`
	Rejected           int64         `json:"rejected"`
	Swept              int64         `json:"swept"`
	Invalidations      int64         `json:"invalidations"`
	InvalidatedEntries int64         `json:"invalidated_entries"`
	LastInvalidation   time.Time     `json:"last_invalidation,omitempty"`
}

// counters are updated lock free so that reading them never stalls a request.
type counters struct {
	requests           atomic.Int64
	hits               atomic.Int64
	misses             atomic.Int64
	bytesServed        atomic.Int64
	entries            atomic.Int64
	rejected           atomic.Int64
	swept              atomic.Int64
	invalidations      atomic.Int64
	invalidatedEntries atomic.Int64
	lastInvalidation   atomic.Int64 // unix nanos
	latencyBits        atomic.Uint64
}

func (c *counters) recordInvalidation(at time.Time, removed int) {
	c.invalidations.Add(1)
	c.invalidatedEntries.Add(int64(removed))
	c.lastInvalidation.Store(at.UnixNano())
}

func (c *counters) observeLatency(d time.Duration) {
	sample := float64(d)
	for {
		old := c.latencyBits.Load()
		avg := math.Float64frombits(old)
		next := sample
		if old != 0 {
			next = avg + latencyWeight*(sample-avg)
		}
		if c.latencyBits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// RecordServed accounts for a response produced by the feed read path.
func (s *Store) RecordServed(bytes int, latency time.Duration) {
	s.stats.bytesServed.Add(int64(bytes))
	s.stats.observeLatency(latency)
}

// Stats returns a snapshot of the cache counters.
func (s *Store) Stats() Stats {
	st := Stats{
		Requests:           s.stats.requests.Load(),
		Hits:               s.stats.hits.Load(),
		Misses:             s.stats.misses.Load(),
		AvgLatency:         time.Duration(math.Float64frombits(s.stats.latencyBits.Load())),
		BytesServed:        s.stats.bytesServed.Load(),
		Entries:            s.stats.entries.Load(),
		Rejected:           s.stats.rejected.Load(),
		Swept:              s.stats.swept.Load(),
		Invalidations:      s.stats.invalidations.Load(),
		InvalidatedEntries: s.stats.invalidatedEntries.Load(),
	}
	if st.Requests > 0 {
		st.HitRatio = float64(st.Hits) / float64(st.Requests)
	}
	if ns := s.stats.lastInvalidation.Load(); ns != 0 {
		st.LastInvalidation = time.Unix(0, ns).UTC()
	}
	return st
}
