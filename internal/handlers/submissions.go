package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"

	"content-podcaster/internal/db"
	"content-podcaster/internal/feed"
	"content-podcaster/internal/models"
	"content-podcaster/internal/submission"
	"content-podcaster/pkg/tasks"
)

const maxIntakeBodyBytes = 64 << 10

type intakeResponse struct {
	SubmissionID        string        `json:"submission_id"`
	Status              models.Status `json:"status"`
	EstimatedCompletion time.Time     `json:"estimated_completion"`
}

type statusResponse struct {
	ID                  string             `json:"id"`
	ContentURL          string             `json:"content_url"`
	ContentType         models.ContentType `json:"content_type"`
	Status              models.Status      `json:"status"`
	Progress            int                `json:"progress"`
	ErrorMessage        *string            `json:"error_message,omitempty"`
	UserNote            *string            `json:"user_note,omitempty"`
	Metadata            models.Metadata    `json:"metadata,omitempty"`
	FeedSlug            string             `json:"feed_slug"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	ProcessedAt         *time.Time         `json:"processed_at,omitempty"`
	EstimatedCompletion *time.Time         `json:"estimated_completion,omitempty"`
	EpisodeID           *string            `json:"episode_id,omitempty"`
	FeedURL             string             `json:"feed_url,omitempty"`
}

// PostSubmission accepts a content reference and queues it for processing.
func (h *Handlers) PostSubmission(w http.ResponseWriter, r *http.Request) {
	var req submission.IntakeRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxIntakeBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, &submission.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	sub, err := submission.New(req, h.now().UTC())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, ok := h.catalog.Feed(sub.FeedSlug); !ok {
		h.writeError(w, r, &submission.ValidationError{Field: "feed_slug", Reason: fmt.Sprintf("unknown feed %q", sub.FeedSlug)})
		return
	}

	if err := h.store.CreateSubmission(r.Context(), sub); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.enqueue(sub.ID); err != nil {
		h.log.WithError(err).WithField("submission_id", sub.ID).Error("Failed to enqueue submission")
		h.abandon(r, sub)
		h.writeError(w, r, err)
		return
	}

	h.log.WithFields(map[string]interface{}{
		"submission_id": sub.ID,
		"content_type":  sub.ContentType,
		"feed_slug":     sub.FeedSlug,
	}).Info("Submission accepted")

	w.Header().Set("Location", "/submissions/"+sub.ID)
	writeJSON(w, http.StatusAccepted, intakeResponse{
		SubmissionID:        sub.ID,
		Status:              sub.Status,
		EstimatedCompletion: submission.EstimatedCompletion(sub),
	})
}

func (h *Handlers) enqueue(id string) error {
	task, err := tasks.NewProcessSubmissionTask(id)
	if err != nil {
		return fmt.Errorf("failed to create process task: %w", err)
	}
	_, err = h.asynqClient.Enqueue(task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue process task: %w", err)
	}
	return nil
}

// abandon fails a submission that could not be queued, so it does not stay
// pending forever.
func (h *Handlers) abandon(r *http.Request, sub models.Submission) {
	now := h.now().UTC()
	next, err := submission.Transition(sub, models.StatusFailed, submission.TransitionOptions{
		ErrorMessage: "could not be queued for processing",
		ProcessedAt:  &now,
		Now:          now,
	})
	if err == nil {
		err = h.store.ApplyTransition(r.Context(), sub.Status, next)
	}
	if err != nil {
		h.log.WithError(err).WithField("submission_id", sub.ID).Error("Failed to fail unqueued submission")
	}
}

// GetSubmission reports the status of a submission.
func (h *Handlers) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(w, r, fmt.Errorf("submission %s: %w", id, db.ErrNotFound))
		return
	}

	sub, err := h.store.GetSubmission(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := statusResponse{
		ID:           sub.ID,
		ContentURL:   sub.ContentURL,
		ContentType:  sub.ContentType,
		Status:       sub.Status,
		Progress:     submission.Progress(sub, h.now()),
		ErrorMessage: sub.ErrorMessage,
		UserNote:     sub.UserNote,
		Metadata:     sub.Metadata,
		FeedSlug:     sub.FeedSlug,
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
		ProcessedAt:  sub.ProcessedAt,
	}
	if !sub.Status.Terminal() {
		eta := submission.EstimatedCompletion(sub)
		resp.EstimatedCompletion = &eta
	}
	if sub.Status == models.StatusCompleted {
		resp.EpisodeID = sub.EpisodeID
		resp.FeedURL = feed.FeedURL(h.baseURL, sub.FeedSlug)
	}
	writeJSON(w, http.StatusOK, resp)
}
