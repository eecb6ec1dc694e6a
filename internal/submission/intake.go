package submission

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"content-podcaster/internal/models"
)

const maxUserNoteLength = 1000

var (
	youTubeURLPattern = regexp.MustCompile(`^https?://((www|m|music)\.)?(youtube\.com/(watch\?(.*&)?v=|shorts/|live/|embed/)|youtu\.be/)[A-Za-z0-9_-]{11}([?&#/].*)?$`)
	feedSlugPattern   = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)
)

// IntakeRequest is the user supplied data for a new submission.
type IntakeRequest struct {
	ContentURL  string             `json:"content_url"`
	ContentType models.ContentType `json:"content_type,omitempty"`
	UserNote    string             `json:"user_note,omitempty"`
	FeedSlug    string             `json:"feed_slug,omitempty"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

// New validates req and returns a pending submission created at now.
func New(req IntakeRequest, now time.Time) (models.Submission, error) {
	raw := strings.TrimSpace(req.ContentURL)
	if raw == "" {
		return models.Submission{}, &ValidationError{Field: "content_url", Reason: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.Submission{}, &ValidationError{Field: "content_url", Reason: "must be an absolute http(s) URL"}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = InferContentType(u)
	}
	if !contentType.Valid() {
		return models.Submission{}, &ValidationError{Field: "content_type", Reason: fmt.Sprintf("unknown content type %q", contentType)}
	}
	if contentType == models.ContentTypeYouTube && !IsYouTubeURL(raw) {
		return models.Submission{}, &ValidationError{Field: "content_url", Reason: "not a recognized video URL"}
	}

	slug := strings.TrimSpace(req.FeedSlug)
	if slug == "" {
		slug = models.DefaultFeedSlug
	}
	if !feedSlugPattern.MatchString(slug) {
		return models.Submission{}, &ValidationError{Field: "feed_slug", Reason: "must be lowercase letters, digits and dashes"}
	}

	var note *string
	if n := strings.TrimSpace(req.UserNote); n != "" {
		if utf8.RuneCountInString(n) > maxUserNoteLength {
			return models.Submission{}, &ValidationError{Field: "user_note", Reason: fmt.Sprintf("longer than %d characters", maxUserNoteLength)}
		}
		note = &n
	}

	if now.IsZero() {
		now = time.Now().UTC()
	}

	return models.Submission{
		ID:          uuid.New().String(),
		ContentURL:  raw,
		ContentType: contentType,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		UserNote:    note,
		Metadata:    models.Metadata(req.Metadata).Clone(),
		FeedSlug:    slug,
	}, nil
}

// IsYouTubeURL reports whether raw has the shape of a single video URL.
func IsYouTubeURL(raw string) bool {
	return youTubeURLPattern.MatchString(strings.TrimSpace(raw))
}

// InferContentType guesses the content type from the URL when the caller did
// not name one.
func InferContentType(u *url.URL) models.ContentType {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
		return models.ContentTypeYouTube
	}

	switch strings.ToLower(path.Ext(u.Path)) {
	case ".pdf":
		return models.ContentTypePDF
	case ".doc", ".docx", ".odt", ".rtf", ".txt", ".md":
		return models.ContentTypeDocument
	}
	return models.ContentTypeURL
}
