package main

import (
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"content-podcaster/internal/config"
	"content-podcaster/internal/logger"
	"content-podcaster/pkg/tasks"
)

// CommitSHA is set at build time via ldflags
var CommitSHA = "unknown"

const reapSchedule = "@every 10m"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").WithError(err).Fatal("Invalid configuration")
	}
	log := logger.New(cfg.LogLevel)

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		&asynq.SchedulerOpts{Logger: log},
	)

	task, err := tasks.NewReapStalledTask()
	if err != nil {
		log.WithError(err).Fatal("Could not create task")
	}
	if _, err := scheduler.Register(reapSchedule, task); err != nil {
		log.WithError(err).Fatal("Could not register task")
	}

	log.WithFields(logrus.Fields{"commit": CommitSHA, "schedule": reapSchedule}).Info("Scheduler starting")
	if err := scheduler.Run(); err != nil {
		log.WithError(err).Fatal("Could not run scheduler")
	}
}
