package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"content-podcaster/internal/models"
	"content-podcaster/internal/submission"
)

type intakeResponse struct {
	SubmissionID        string        `json:"submission_id"`
	Status              models.Status `json:"status"`
	EstimatedCompletion time.Time     `json:"estimated_completion"`
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		contentType string
		feedSlug    string
		note        string
		metadata    map[string]string
	)

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit content to be turned into an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := submission.IntakeRequest{
				ContentURL:  args[0],
				ContentType: models.ContentType(contentType),
				UserNote:    note,
				FeedSlug:    feedSlug,
				Metadata:    metadata,
			}
			var resp intakeResponse
			if err := ctx.client().do(cmd.Context(), http.MethodPost, "/submissions", req, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted %s (%s)\n", resp.SubmissionID, resp.Status)
			if !resp.EstimatedCompletion.IsZero() {
				fmt.Fprintf(out, "Expected to complete %s\n", humanize.Time(resp.EstimatedCompletion))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&contentType, "type", "t", "", "Content type: url, youtube, pdf or document (detected when empty)")
	cmd.Flags().StringVarP(&feedSlug, "feed", "f", "", "Feed to publish the episode in")
	cmd.Flags().StringVar(&note, "note", "", "Note kept with the submission")
	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "Extra metadata as key=value pairs")

	return cmd
}
