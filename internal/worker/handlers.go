package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"content-podcaster/internal/content"
	"content-podcaster/internal/db"
	"content-podcaster/internal/events"
	"content-podcaster/internal/logger"
	"content-podcaster/internal/models"
	"content-podcaster/internal/submission"
	"content-podcaster/pkg/tasks"
)

const stalledMessage = "processing stalled"

// Store is the persistence used by the task handlers. It is implemented by
// *db.Store.
type Store interface {
	GetSubmission(ctx context.Context, id string) (models.Submission, error)
	ApplyTransition(ctx context.Context, from models.Status, next models.Submission) error
	TouchProcessing(ctx context.Context, id string, at time.Time) error
	CompleteSubmission(ctx context.Context, from models.Status, next models.Submission, ep models.Episode) error
	GetEpisodeBySubmission(ctx context.Context, submissionID string) (models.Episode, error)
	ListStalled(ctx context.Context, before time.Time) ([]models.Submission, error)
}

type Extractor interface {
	Process(ctx context.Context, sub models.Submission) (content.Extracted, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, id string, ex content.Extracted) (models.EpisodeDraft, error)
}

type Config struct {
	// StalledAfter is how long a submission may stay in processing without
	// an update before the reaper fails it.
	StalledAfter time.Duration
	Logger       logrus.FieldLogger
	Clock        func() time.Time
}

type TaskHandler struct {
	store        Store
	extractor    Extractor
	synth        Synthesizer
	publisher    events.Publisher
	stalledAfter time.Duration
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewTaskHandler(store Store, extractor Extractor, synth Synthesizer, publisher events.Publisher, cfg Config) *TaskHandler {
	if cfg.StalledAfter <= 0 {
		cfg.StalledAfter = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &TaskHandler{
		store:        store,
		extractor:    extractor,
		synth:        synth,
		publisher:    publisher,
		stalledAfter: cfg.StalledAfter,
		log:          cfg.Logger,
		now:          cfg.Clock,
	}
}

// HandleProcessSubmissionTask drives one submission from pending to a
// terminal status. A returned error without asynq.SkipRetry means the task
// is retried and picks up from processing.
func (h *TaskHandler) HandleProcessSubmissionTask(ctx context.Context, t *asynq.Task) error {
	p, err := tasks.ParseProcessSubmissionPayload(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := h.log.WithField("submission_id", p.SubmissionID)

	sub, err := h.store.GetSubmission(ctx, p.SubmissionID)
	if errors.Is(err, db.ErrNotFound) {
		log.Warn("Submission does not exist, dropping task")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	switch sub.Status {
	case models.StatusCompleted:
		// An earlier attempt stored the episode; make sure the change was announced.
		ep, err := h.store.GetEpisodeBySubmission(ctx, sub.ID)
		if err != nil {
			return err
		}
		h.announce(ctx, ep, log)
		return nil
	case models.StatusFailed:
		log.Info("Submission already failed, nothing to do")
		return nil
	case models.StatusPending:
		next, err := submission.Transition(sub, models.StatusProcessing, submission.TransitionOptions{Now: h.now().UTC()})
		if err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		if err := h.store.ApplyTransition(ctx, models.StatusPending, next); err != nil {
			return err
		}
		sub = next
	case models.StatusProcessing:
		// A retried attempt; refresh updated_at so the reaper leaves it alone.
		now := h.now().UTC()
		if err := h.store.TouchProcessing(ctx, sub.ID, now); err != nil {
			if errors.Is(err, db.ErrConcurrentUpdate) {
				log.WithError(err).Warn("Submission left processing before the retry started")
				return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
			}
			return err
		}
		sub.UpdatedAt = now
	}

	log.WithFields(logrus.Fields{
		"content_type": sub.ContentType,
		"content_url":  sub.ContentURL,
	}).Info("Processing submission")

	ex, err := h.extractor.Process(ctx, sub)
	if err != nil {
		return h.handleFailure(ctx, sub, err, log)
	}
	draft, err := h.synth.Synthesize(ctx, sub.ID, ex)
	if err != nil {
		return h.handleFailure(ctx, sub, err, log)
	}

	now := h.now().UTC()
	ep := models.Episode{
		ID:              uuid.New().String(),
		SubmissionID:    sub.ID,
		FeedSlug:        sub.FeedSlug,
		Title:           draft.Title,
		Description:     draft.Description,
		AudioURL:        draft.AudioURL,
		AudioSizeBytes:  draft.AudioSizeBytes,
		DurationSeconds: draft.DurationSeconds,
		PublishedAt:     draft.PublishedAt,
		CreatedAt:       now,
	}
	if ep.PublishedAt.IsZero() {
		ep.PublishedAt = now
	}

	next, err := submission.Transition(sub, models.StatusCompleted, submission.TransitionOptions{
		ProcessedAt: &now,
		EpisodeID:   ep.ID,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := h.store.CompleteSubmission(ctx, models.StatusProcessing, next, ep); err != nil {
		if errors.Is(err, db.ErrConcurrentUpdate) {
			log.WithError(err).Warn("Submission left processing while it was being worked on")
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}

	log.WithField("episode_id", ep.ID).Info("Successfully processed submission")
	h.announce(ctx, ep, log)
	return nil
}

// handleFailure fails the submission for permanent errors and on the last
// attempt; other errors are returned for retry.
func (h *TaskHandler) handleFailure(ctx context.Context, sub models.Submission, cause error, log logrus.FieldLogger) error {
	var upErr *content.UpstreamProcessingError
	permanent := errors.As(cause, &upErr)
	if !permanent && !lastAttempt(ctx) {
		log.WithError(cause).Warn("Processing failed, will retry")
		return cause
	}

	if err := h.fail(ctx, sub, cause.Error()); err != nil {
		log.WithError(err).Error("Failed to mark submission as failed")
		return err
	}
	log.WithError(cause).Error("Submission failed")
	if permanent {
		return fmt.Errorf("%v: %w", cause, asynq.SkipRetry)
	}
	return cause
}

func (h *TaskHandler) fail(ctx context.Context, sub models.Submission, message string) error {
	now := h.now().UTC()
	next, err := submission.Transition(sub, models.StatusFailed, submission.TransitionOptions{
		ErrorMessage: message,
		ProcessedAt:  &now,
		Now:          now,
	})
	if err != nil {
		return err
	}
	// The task context may already be cancelled by its timeout.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return h.store.ApplyTransition(writeCtx, sub.Status, next)
}

func (h *TaskHandler) announce(ctx context.Context, ep models.Episode, log logrus.FieldLogger) {
	ev := models.InvalidationEvent{
		EpisodeID:  ep.ID,
		FeedSlug:   ep.FeedSlug,
		ChangeKind: models.ChangeCreated,
		OccurredAt: h.now().UTC(),
	}
	if err := h.publisher.Publish(ctx, ev); err != nil {
		// Feed reads compare fingerprints, so a lost event only delays the
		// cache cleanup.
		log.WithError(err).Warn("Failed to publish episode change")
	}
}

// HandleReapStalledTask fails submissions stuck in processing.
func (h *TaskHandler) HandleReapStalledTask(ctx context.Context, t *asynq.Task) error {
	cutoff := h.now().UTC().Add(-h.stalledAfter)
	stalled, err := h.store.ListStalled(ctx, cutoff)
	if err != nil {
		return err
	}

	reaped := 0
	for _, sub := range stalled {
		err := h.fail(ctx, sub, stalledMessage)
		if errors.Is(err, db.ErrConcurrentUpdate) {
			continue
		}
		if err != nil {
			h.log.WithError(err).WithField("submission_id", sub.ID).Error("Failed to reap stalled submission")
			continue
		}
		reaped++
	}
	if reaped > 0 {
		h.log.WithFields(logrus.Fields{"reaped": reaped, "cutoff": cutoff}).Warn("Failed stalled submissions")
	}
	return nil
}

func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return false
	}
	return retried >= maxRetry
}
