package models

import "time"

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// InvalidationEvent announces that an episode of a feed changed. It is never
// persisted.
type InvalidationEvent struct {
	EpisodeID  string     `json:"episode_id"`
	FeedSlug   string     `json:"feed_slug"`
	ChangeKind ChangeKind `json:"change_kind"`
	OccurredAt time.Time  `json:"occurred_at"`
}
