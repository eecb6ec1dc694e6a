package handlers

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"content-podcaster/internal/feed"
	"content-podcaster/internal/submission"
)

const feedCacheControl = "public, max-age=60"

func (h *Handlers) GetRSSFeed(w http.ResponseWriter, r *http.Request) {
	opts, err := feedOptions(r, feed.FormatRSS)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serveFeed(w, r, opts)
}

func (h *Handlers) GetEpisodes(w http.ResponseWriter, r *http.Request) {
	opts, err := feedOptions(r, feed.FormatEpisodes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serveFeed(w, r, opts)
}

func (h *Handlers) serveFeed(w http.ResponseWriter, r *http.Request, opts feed.Options) {
	slug := mux.Vars(r)["slug"]

	res, err := h.feeds.Read(r.Context(), slug, opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	etag := `"` + res.ETag + `"`
	header := w.Header()
	header.Set("ETag", etag)
	header.Set("Last-Modified", res.LastModified.UTC().Format(http.TimeFormat))
	header.Set("Cache-Control", feedCacheControl)
	header.Set("X-Cache", cacheStatus(res))

	if notModified(r, etag, res.LastModified) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	header.Set("Content-Type", res.ContentType)
	header.Set("Content-Length", strconv.Itoa(len(res.Content)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(res.Content))
	}
}

func cacheStatus(res *feed.Result) string {
	switch {
	case res.Stale:
		return "STALE"
	case res.FromCache:
		return "HIT"
	}
	return "MISS"
}

// notModified evaluates If-None-Match, falling back to If-Modified-Since.
func notModified(r *http.Request, etag string, lastModified time.Time) bool {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		for _, candidate := range strings.Split(inm, ",") {
			candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
			if candidate == etag || candidate == "*" {
				return true
			}
		}
		return false
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		t, err := http.ParseTime(ims)
		if err != nil {
			return false
		}
		return !lastModified.Truncate(time.Second).After(t)
	}
	return false
}

func feedOptions(r *http.Request, format string) (feed.Options, error) {
	q := r.URL.Query()
	opts := feed.Options{Format: format, Order: q.Get("order")}

	var err error
	if opts.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return feed.Options{}, err
	}
	if format == feed.FormatEpisodes {
		if opts.Page, err = intParam(q.Get("page"), "page"); err != nil {
			return feed.Options{}, err
		}
		if opts.PerPage, err = intParam(q.Get("per_page"), "per_page"); err != nil {
			return feed.Options{}, err
		}
	}
	return opts, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &submission.ValidationError{Field: name, Reason: "must be a non-negative integer"}
	}
	return n, nil
}

func (h *Handlers) ServeAudioFile(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		http.NotFound(w, r)
		return
	}

	filePath := filepath.Join(h.audioStoragePath, filename)
	http.ServeFile(w, r, filePath)
}
