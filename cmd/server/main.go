package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"content-podcaster/internal/config"
	"content-podcaster/internal/db"
	"content-podcaster/internal/edge"
	"content-podcaster/internal/events"
	"content-podcaster/internal/feed"
	"content-podcaster/internal/feedcache"
	"content-podcaster/internal/handlers"
	"content-podcaster/internal/invalidation"
	"content-podcaster/internal/logger"
	"content-podcaster/internal/middleware"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").WithError(err).Fatal("Invalid configuration")
	}
	log := logger.New(cfg.LogLevel)

	if err := cfg.RequireDatabase(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	log.Info("Database connection established")

	catalog, err := config.LoadFeedCatalog(cfg.FeedsFile)
	if err != nil {
		return err
	}

	cache := feedcache.NewStore(feedcache.Options{
		TTL:           cfg.Cache.TTL,
		MaxEntryBytes: cfg.Cache.MaxEntryBytes,
		Logger:        log,
	})

	strategy, err := invalidation.ParseStrategy(cfg.Invalidation.Strategy)
	if err != nil {
		return err
	}
	var edgeCache invalidation.EdgeCache
	if cfg.Edge.PurgeURL != "" {
		edgeCache = edge.NewHTTPPurger(edge.Config{
			Endpoint: cfg.Edge.PurgeURL,
			Token:    cfg.Edge.PurgeToken,
			BaseURL:  cfg.BaseURL,
			RPS:      cfg.Edge.PurgeRPS,
			Timeout:  cfg.Edge.Timeout,
			Logger:   log.WithField("component", "edge"),
		})
	}
	coord := invalidation.NewCoordinator(cache, edgeCache, invalidation.Config{
		Strategy:     strategy,
		Interval:     cfg.Invalidation.Interval,
		PurgeTimeout: cfg.Edge.Timeout,
		Logger:       log,
	})

	service := feed.NewService(store, catalog, feed.NewDocumentRenderer(cfg.BaseURL), cache, feed.ServiceConfig{
		RenderTimeout: cfg.Cache.RenderTimeout,
		Logger:        log,
	})

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer asynqClient.Close()

	subscriber, err := events.NewSubscriber(cfg.Events, rdb, log.WithField("component", "events"))
	if err != nil {
		return err
	}
	defer subscriber.Close()

	h := handlers.New(store, service, catalog, cache, coord, asynqClient, handlers.Config{
		BaseURL:  cfg.BaseURL,
		AudioDir: cfg.AudioDir,
		Logger:   log.WithField("component", "api"),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(h, log, cfg.RateLimit),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		cache.RunSweeper(gctx, cfg.Cache.SweepInterval)
		return nil
	})
	g.Go(func() error {
		coord.Run(gctx)
		return nil
	})
	g.Go(func() error {
		// Reads validate fingerprints, so feeds stay correct without events.
		if err := subscriber.Subscribe(gctx, coord.OnEpisodeChange); err != nil {
			log.WithError(err).Error("Episode change subscription ended")
		}
		return nil
	})
	g.Go(func() error {
		err := catalog.Watch(gctx, log, func(slugs []string) {
			for _, slug := range slugs {
				coord.Flush(gctx, slug)
			}
		})
		if err != nil {
			log.WithError(err).Warn("Feeds file is not watched, restart to apply changes")
		}
		return nil
	})
	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"port":     cfg.Port,
			"commit":   CommitSHA,
			"strategy": strategy,
			"events":   cfg.Events.Bus,
		}).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	coord.Wait()
	log.Info("Server stopped")
	return err
}

func newRouter(h *handlers.Handlers, log logrus.FieldLogger, rl config.RateLimit) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	limiter := middleware.NewRateLimiterMiddleware(rate.Limit(rl.RPS), rl.Burst, log)
	h.Register(r, limiter.Middleware)
	return r
}
