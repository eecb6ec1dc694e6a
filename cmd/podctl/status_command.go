package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"content-podcaster/internal/models"
)

type statusResponse struct {
	ID                  string             `json:"id"`
	ContentURL          string             `json:"content_url"`
	ContentType         models.ContentType `json:"content_type"`
	Status              models.Status      `json:"status"`
	Progress            int                `json:"progress"`
	ErrorMessage        *string            `json:"error_message,omitempty"`
	UserNote            *string            `json:"user_note,omitempty"`
	FeedSlug            string             `json:"feed_slug"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
	ProcessedAt         *time.Time         `json:"processed_at,omitempty"`
	EstimatedCompletion *time.Time         `json:"estimated_completion,omitempty"`
	EpisodeID           *string            `json:"episode_id,omitempty"`
	FeedURL             string             `json:"feed_url,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <submission-id>",
		Short: "Show the processing state of a submission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp statusResponse
			path := "/submissions/" + url.PathEscape(args[0])
			if err := ctx.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(resp))
			return nil
		},
	}
}

func renderStatus(s statusResponse) string {
	rows := [][]string{
		{"ID", s.ID},
		{"Content", fmt.Sprintf("%s (%s)", s.ContentURL, s.ContentType)},
		{"Feed", s.FeedSlug},
		{"Status", string(s.Status)},
		{"Progress", fmt.Sprintf("%d%%", s.Progress)},
		{"Submitted", humanize.Time(s.CreatedAt)},
		{"Updated", humanize.Time(s.UpdatedAt)},
	}
	if s.UserNote != nil {
		rows = append(rows, []string{"Note", *s.UserNote})
	}
	if s.EstimatedCompletion != nil {
		rows = append(rows, []string{"Expected", humanize.Time(*s.EstimatedCompletion)})
	}
	if s.ProcessedAt != nil {
		rows = append(rows, []string{"Processed", humanize.Time(*s.ProcessedAt)})
	}
	if s.ErrorMessage != nil {
		rows = append(rows, []string{"Error", *s.ErrorMessage})
	}
	if s.EpisodeID != nil {
		rows = append(rows, []string{"Episode", *s.EpisodeID})
	}
	if s.FeedURL != "" {
		rows = append(rows, []string{"Feed URL", s.FeedURL})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}
