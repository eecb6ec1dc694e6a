package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"content-podcaster/internal/feed"
	"content-podcaster/internal/feedcache"
	"content-podcaster/internal/invalidation"
	"content-podcaster/internal/logger"
	"content-podcaster/internal/models"
	"content-podcaster/pkg/tasks"
)

// SubmissionStore is implemented by *db.Store.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub models.Submission) error
	GetSubmission(ctx context.Context, id string) (models.Submission, error)
	ApplyTransition(ctx context.Context, from models.Status, next models.Submission) error
	Ping(ctx context.Context) error
}

type FeedReader interface {
	Read(ctx context.Context, slug string, opts feed.Options) (*feed.Result, error)
}

type CacheStats interface {
	Stats() feedcache.Stats
}

type Invalidator interface {
	Flush(ctx context.Context, slug string) int
	Stats() invalidation.Stats
}

type Config struct {
	BaseURL  string
	AudioDir string
	Logger   logrus.FieldLogger
	Clock    func() time.Time
}

type Handlers struct {
	store            SubmissionStore
	feeds            FeedReader
	catalog          feed.Catalog
	cache            CacheStats
	invalidator      Invalidator
	asynqClient      tasks.TaskEnqueuer
	baseURL          string
	audioStoragePath string
	log              logrus.FieldLogger
	now              func() time.Time
}

func New(store SubmissionStore, feeds FeedReader, catalog feed.Catalog, cache CacheStats, invalidator Invalidator, asynqClient tasks.TaskEnqueuer, cfg Config) *Handlers {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Handlers{
		store:            store,
		feeds:            feeds,
		catalog:          catalog,
		cache:            cache,
		invalidator:      invalidator,
		asynqClient:      asynqClient,
		baseURL:          cfg.BaseURL,
		audioStoragePath: cfg.AudioDir,
		log:              cfg.Logger,
		now:              cfg.Clock,
	}
}

// Register adds all routes to r. intake wraps the submission endpoint, for
// example with a rate limiter; it may be nil.
func (h *Handlers) Register(r *mux.Router, intake mux.MiddlewareFunc) {
	var post http.Handler = http.HandlerFunc(h.PostSubmission)
	if intake != nil {
		post = intake(post)
	}
	r.Handle("/submissions", post).Methods(http.MethodPost)
	r.HandleFunc("/submissions/{id}", h.GetSubmission).Methods(http.MethodGet)

	r.HandleFunc("/feeds/{slug}/rss.xml", h.GetRSSFeed).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/feeds/{slug}/episodes", h.GetEpisodes).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/audio/{filename}", h.ServeAudioFile).Methods(http.MethodGet, http.MethodHead)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/cache/stats", h.GetCacheStats).Methods(http.MethodGet)
	admin.HandleFunc("/cache/{slug}/invalidate", h.PostInvalidate).Methods(http.MethodPost)

	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
