package submission

import (
	"time"

	"content-podcaster/internal/models"
)

var estimatedDurations = map[models.ContentType]time.Duration{
	models.ContentTypeURL:      2 * time.Minute,
	models.ContentTypeYouTube:  5 * time.Minute,
	models.ContentTypePDF:      3 * time.Minute,
	models.ContentTypeDocument: 3 * time.Minute,
}

// EstimatedDuration is the typical processing time for a content type.
func EstimatedDuration(t models.ContentType) time.Duration {
	if d, ok := estimatedDurations[t]; ok {
		return d
	}
	return 3 * time.Minute
}

// EstimatedCompletion is when s is expected to reach a terminal state.
func EstimatedCompletion(s models.Submission) time.Time {
	return s.CreatedAt.Add(EstimatedDuration(s.ContentType))
}

// Progress derives a 0-100 progress figure from the status. Processing
// submissions report 20-99, growing with time spent in processing.
func Progress(s models.Submission, now time.Time) int {
	switch s.Status {
	case models.StatusCompleted:
		return 100
	case models.StatusProcessing:
		elapsed := now.Sub(s.UpdatedAt)
		estimate := EstimatedDuration(s.ContentType)
		switch {
		case elapsed <= 0:
			return 20
		case elapsed >= estimate:
			return 99
		}
		return 20 + int(79*elapsed/estimate)
	default:
		return 0
	}
}
