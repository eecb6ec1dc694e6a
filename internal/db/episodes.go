package db

import (
	"context"
	"fmt"

	"content-podcaster/internal/models"
)

const episodeColumns = `id, submission_id, feed_slug, title, description, audio_url,
	audio_size_bytes, duration_seconds, published_at, created_at, updated_at`

// ListEpisodes returns the episodes of a feed, newest first.
func (s *Store) ListEpisodes(ctx context.Context, feedSlug string) ([]models.Episode, error) {
	episodes := []models.Episode{}
	err := s.db.SelectContext(ctx, &episodes, `
		SELECT `+episodeColumns+`
		FROM episodes
		WHERE feed_slug = $1
		ORDER BY published_at DESC, id`,
		feedSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes for feed %s: %w", feedSlug, err)
	}
	return episodes, nil
}

func (s *Store) GetEpisodeBySubmission(ctx context.Context, submissionID string) (models.Episode, error) {
	var ep models.Episode
	err := s.db.GetContext(ctx, &ep, `SELECT `+episodeColumns+` FROM episodes WHERE submission_id = $1`, submissionID)
	if err != nil {
		return models.Episode{}, notFound(err, "episode for submission "+submissionID)
	}
	return ep, nil
}
