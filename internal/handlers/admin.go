package handlers

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"content-podcaster/internal/feed"
	"content-podcaster/internal/feedcache"
	"content-podcaster/internal/invalidation"
)

type cacheStatsResponse struct {
	Cache        feedcache.Stats    `json:"cache"`
	Invalidation invalidation.Stats `json:"invalidation"`
}

type invalidateResponse struct {
	FeedSlug string `json:"feed_slug"`
	Removed  int    `json:"removed"`
}

func (h *Handlers) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cacheStatsResponse{
		Cache:        h.cache.Stats(),
		Invalidation: h.invalidator.Stats(),
	})
}

// PostInvalidate drops every cached representation of a feed right away,
// whatever the configured strategy.
func (h *Handlers) PostInvalidate(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	if _, ok := h.catalog.Feed(slug); !ok {
		h.writeError(w, r, fmt.Errorf("%w: %s", feed.ErrFeedNotFound, slug))
		return
	}

	removed := h.invalidator.Flush(r.Context(), slug)
	h.log.WithField("feed_slug", slug).WithField("removed", removed).Info("Feed cache invalidated by operator")
	writeJSON(w, http.StatusOK, invalidateResponse{FeedSlug: slug, Removed: removed})
}
