package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"content-podcaster/internal/models"
)

const submissionColumns = `id, content_url, content_type, status, error_message, processed_at,
	created_at, updated_at, user_note, metadata, feed_slug, episode_id`

func (s *Store) CreateSubmission(ctx context.Context, sub models.Submission) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sub.ID, sub.ContentURL, sub.ContentType, sub.Status, sub.ErrorMessage, sub.ProcessedAt,
		sub.CreatedAt, sub.UpdatedAt, sub.UserNote, sub.Metadata, sub.FeedSlug, sub.EpisodeID)
	if err != nil {
		return fmt.Errorf("failed to insert submission %s: %w", sub.ID, err)
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (models.Submission, error) {
	var sub models.Submission
	err := s.db.GetContext(ctx, &sub, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	if err != nil {
		return models.Submission{}, notFound(err, "submission "+id)
	}
	return sub, nil
}

// ApplyTransition stores next if the row still has status from.
func (s *Store) ApplyTransition(ctx context.Context, from models.Status, next models.Submission) error {
	return applyTransition(ctx, s.db, from, next)
}

// CompleteSubmission inserts the episode and stores the completed submission
// in one transaction.
func (s *Store) CompleteSubmission(ctx context.Context, from models.Status, next models.Submission, ep models.Episode) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO episodes (`+episodeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ep.ID, ep.SubmissionID, ep.FeedSlug, ep.Title, ep.Description, ep.AudioURL,
		ep.AudioSizeBytes, ep.DurationSeconds, ep.PublishedAt, ep.CreatedAt, ep.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert episode for submission %s: %w", next.ID, err)
	}

	if err := applyTransition(ctx, tx, from, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit submission %s: %w", next.ID, err)
	}
	return nil
}

// TouchProcessing refreshes updated_at of a submission still in processing,
// keeping a resumed attempt away from the stalled reaper.
func (s *Store) TouchProcessing(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE submissions SET updated_at = $1
		WHERE id = $2 AND status = $3`,
		at, id, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to touch submission %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to touch submission %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("submission %s is no longer processing: %w", id, ErrConcurrentUpdate)
	}
	return nil
}

// ListStalled returns processing submissions not updated since before.
func (s *Store) ListStalled(ctx context.Context, before time.Time) ([]models.Submission, error) {
	var subs []models.Submission
	err := s.db.SelectContext(ctx, &subs, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at`,
		models.StatusProcessing, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled submissions: %w", err)
	}
	return subs, nil
}

func applyTransition(ctx context.Context, ex sqlx.ExecerContext, from models.Status, next models.Submission) error {
	res, err := ex.ExecContext(ctx, `
		UPDATE submissions
		SET status = $1, error_message = $2, processed_at = $3, updated_at = $4, episode_id = $5
		WHERE id = $6 AND status = $7`,
		next.Status, next.ErrorMessage, next.ProcessedAt, next.UpdatedAt, next.EpisodeID, next.ID, from)
	if err != nil {
		return fmt.Errorf("failed to update submission %s: %w", next.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update submission %s: %w", next.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("submission %s from %s to %s: %w", next.ID, from, next.Status, ErrConcurrentUpdate)
	}
	return nil
}
