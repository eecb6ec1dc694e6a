package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// DefaultFeedSlug is the feed a submission is published to when none is given.
const DefaultFeedSlug = "default"

type ContentType string

const (
	ContentTypeURL      ContentType = "url"
	ContentTypeYouTube  ContentType = "youtube"
	ContentTypePDF      ContentType = "pdf"
	ContentTypeDocument ContentType = "document"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentTypeURL, ContentTypeYouTube, ContentTypePDF, ContentTypeDocument:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Metadata is free-form key/value data attached to a submission, stored as jsonb.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("metadata assertion to []byte failed")
	}
	return json.Unmarshal(b, m)
}

// Clone returns an independent copy of m.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Submission is a user supplied content reference on its way to becoming an
// episode. Values are replaced, never mutated, by the submission state machine.
type Submission struct {
	ID           string      `db:"id" json:"id"`
	ContentURL   string      `db:"content_url" json:"content_url"`
	ContentType  ContentType `db:"content_type" json:"content_type"`
	Status       Status      `db:"status" json:"status"`
	ErrorMessage *string     `db:"error_message" json:"error_message,omitempty"`
	ProcessedAt  *time.Time  `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
	UserNote     *string     `db:"user_note" json:"user_note,omitempty"`
	Metadata     Metadata    `db:"metadata" json:"metadata,omitempty"`
	FeedSlug     string      `db:"feed_slug" json:"feed_slug"`
	EpisodeID    *string     `db:"episode_id" json:"episode_id,omitempty"`
}
