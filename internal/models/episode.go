package models

import "time"

// Episode is a published podcast episode. Exactly one episode exists per
// completed submission.
type Episode struct {
	ID              string     `db:"id" json:"id"`
	SubmissionID    string     `db:"submission_id" json:"submission_id"`
	FeedSlug        string     `db:"feed_slug" json:"feed_slug"`
	Title           string     `db:"title" json:"title"`
	Description     string     `db:"description" json:"description"`
	AudioURL        string     `db:"audio_url" json:"audio_url"`
	AudioSizeBytes  int64      `db:"audio_size_bytes" json:"audio_size_bytes"`
	DurationSeconds int        `db:"duration_seconds" json:"duration_seconds"`
	PublishedAt     time.Time  `db:"published_at" json:"published_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// RevisionTime is the timestamp that identifies the current revision of the
// episode: the last update if there was one, otherwise the publish time.
func (e Episode) RevisionTime() time.Time {
	if e.UpdatedAt != nil && !e.UpdatedAt.IsZero() {
		return *e.UpdatedAt
	}
	if !e.PublishedAt.IsZero() {
		return e.PublishedAt
	}
	return e.CreatedAt
}

// EpisodeDraft is the synthesized output that becomes an Episode once the
// owning submission completes.
type EpisodeDraft struct {
	Title           string
	Description     string
	AudioURL        string
	AudioSizeBytes  int64
	DurationSeconds int
	PublishedAt     time.Time
}
