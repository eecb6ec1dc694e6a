package submission

import (
	"fmt"
	"strings"
	"time"

	"content-podcaster/internal/models"
)

var transitions = map[models.Status][]models.Status{
	models.StatusPending:    {models.StatusProcessing, models.StatusFailed},
	models.StatusProcessing: {models.StatusCompleted, models.StatusFailed},
	models.StatusCompleted:  {},
	models.StatusFailed:     {},
}

// TransitionOptions carries the data that accompanies a status change.
type TransitionOptions struct {
	// ErrorMessage is required when entering failed.
	ErrorMessage string
	// ProcessedAt is required when entering completed or failed.
	ProcessedAt *time.Time
	// EpisodeID links the produced episode when entering completed.
	EpisodeID string
	// Now is the transition time. Zero means time.Now().
	Now time.Time
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to models.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves s to target and returns the resulting submission.
func Transition(s models.Submission, target models.Status, opts TransitionOptions) (models.Submission, error) {
	if !target.Valid() {
		return models.Submission{}, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", target)}
	}
	if !CanTransition(s.Status, target) {
		return models.Submission{}, &InvalidTransitionError{From: s.Status, To: target}
	}

	msg := strings.TrimSpace(opts.ErrorMessage)
	if target == models.StatusFailed && msg == "" {
		return models.Submission{}, &ValidationError{Field: "error_message", Reason: "required when entering failed"}
	}
	if target.Terminal() && (opts.ProcessedAt == nil || opts.ProcessedAt.IsZero()) {
		return models.Submission{}, &ValidationError{Field: "processed_at", Reason: fmt.Sprintf("required when entering %s", target)}
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	// updated_at strictly advances even if the caller's clock lags.
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Microsecond)
	}

	next := s
	next.Metadata = s.Metadata.Clone()
	next.Status = target
	next.UpdatedAt = now

	switch target {
	case models.StatusFailed:
		next.ErrorMessage = &msg
	case models.StatusCompleted:
		next.ErrorMessage = nil
		if opts.EpisodeID != "" {
			id := opts.EpisodeID
			next.EpisodeID = &id
		}
	}
	if target.Terminal() {
		processedAt := *opts.ProcessedAt
		next.ProcessedAt = &processedAt
	}

	return next, nil
}

// CheckInvariants verifies the data that must accompany s.Status.
func CheckInvariants(s models.Submission) error {
	hasError := s.ErrorMessage != nil && strings.TrimSpace(*s.ErrorMessage) != ""
	hasProcessed := s.ProcessedAt != nil && !s.ProcessedAt.IsZero()

	switch {
	case s.Status == models.StatusFailed && !hasError:
		return &ValidationError{Field: "error_message", Reason: "failed submission has no error message"}
	case s.Status != models.StatusFailed && hasError:
		return &ValidationError{Field: "error_message", Reason: fmt.Sprintf("%s submission carries an error message", s.Status)}
	case s.Status.Terminal() && !hasProcessed:
		return &ValidationError{Field: "processed_at", Reason: fmt.Sprintf("%s submission has no processed_at", s.Status)}
	case !s.Status.Terminal() && hasProcessed:
		return &ValidationError{Field: "processed_at", Reason: fmt.Sprintf("%s submission has processed_at", s.Status)}
	case s.UpdatedAt.Before(s.CreatedAt):
		return &ValidationError{Field: "updated_at", Reason: "earlier than created_at"}
	case s.ContentType == models.ContentTypeYouTube && !IsYouTubeURL(s.ContentURL):
		return &ValidationError{Field: "content_url", Reason: "not a recognized video URL"}
	}
	return nil
}
