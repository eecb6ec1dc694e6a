package main

import (
	"context"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"content-podcaster/internal/config"
	"content-podcaster/internal/content"
	"content-podcaster/internal/db"
	"content-podcaster/internal/events"
	"content-podcaster/internal/logger"
	"content-podcaster/internal/worker"
	"content-podcaster/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

const (
	retryBaseDelay = 30 * time.Second
	retryMaxDelay  = 10 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").WithError(err).Fatal("Invalid configuration")
	}
	log := logger.New(cfg.LogLevel)
	if err := cfg.RequireDatabase(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}

	ctx := context.Background()
	store, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("Could not connect to database")
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.WithError(err).Fatal("Could not migrate database")
	}

	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		log.WithError(err).Fatal("Could not create audio directory")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	publisher, err := events.NewPublisher(cfg.Events, rdb, log.WithField("component", "events"))
	if err != nil {
		log.WithError(err).Fatal("Could not open event bus")
	}
	defer publisher.Close()

	pipeline := content.NewPipeline(content.PipelineConfig{
		AudioDir:      cfg.AudioDir,
		YtDlpPath:     cfg.Worker.YtDlpPath,
		PdfToTextPath: cfg.Worker.PdfToTextPath,
		FetchTimeout:  cfg.Worker.HTTPFetchTimeout,
		MaxBytes:      cfg.Worker.MaxContentBytes,
		Logger:        log,
	})
	synth := content.NewSynthesizer(content.SynthesizerConfig{
		Command:  cfg.Worker.TTSCommand,
		AudioDir: cfg.AudioDir,
		BaseURL:  cfg.BaseURL,
		Logger:   log,
	})
	taskHandler := worker.NewTaskHandler(store, pipeline, synth, publisher, worker.Config{
		StalledAfter: cfg.Worker.StalledAfter,
		Logger:       log,
	})

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				tasks.QueueHigh:    2,
				tasks.QueueDefault: 1,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := retryDelay(n)
				log.WithFields(logrus.Fields{
					"task":     task.Type(),
					"attempts": n + 1,
					"delay":    delay,
				}).WithError(err).Warn("Task failed, retrying")
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.WithField("task", task.Type()).WithError(err).Error("Task error")
			}),
			Logger:   log,
			LogLevel: asynq.InfoLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeProcessSubmission, taskHandler.HandleProcessSubmissionTask)
	mux.HandleFunc(tasks.TypeReapStalled, taskHandler.HandleReapStalledTask)

	log.WithFields(logrus.Fields{
		"commit":      CommitSHA,
		"concurrency": cfg.Worker.Concurrency,
		"events":      cfg.Events.Bus,
	}).Info("Worker starting")
	if err := srv.Run(mux); err != nil {
		log.WithError(err).Fatal("Could not run worker")
	}
}

// retryDelay backs off exponentially: 30s, 1m, 2m, ... capped at 10m.
func retryDelay(n int) time.Duration {
	delay := retryBaseDelay
	for i := 0; i < n; i++ {
		delay *= 2
		if delay > retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}
