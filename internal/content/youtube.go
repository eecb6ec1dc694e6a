package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"content-podcaster/internal/models"
)

type ytDlpOutput struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	Filename    string  `json:"_filename"`
}

// downloadAudio extracts the audio track with yt-dlp into the audio
// directory, named after the submission.
func (p *Pipeline) downloadAudio(ctx context.Context, sub models.Submission) (Extracted, error) {
	if err := os.MkdirAll(p.audioDir, 0o755); err != nil {
		return Extracted{}, fmt.Errorf("failed to create audio dir: %w", err)
	}
	audioPath := filepath.Join(p.audioDir, sub.ID+".m4a")

	cmd := execCommandContext(ctx, p.ytDlpPath,
		"-x", // extract audio
		"--audio-format", "m4a",
		"--no-playlist",
		"-o", audioPath,
		"--print-json", // print video metadata as JSON
		sub.ContentURL,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return Extracted{}, fmt.Errorf("yt-dlp interrupted: %w", ctx.Err())
		}
		p.log.WithError(err).WithField("output", string(output)).Warn("yt-dlp failed")
		return Extracted{}, upstream(sub.ContentURL, "yt-dlp failed", err)
	}

	// yt-dlp may print progress lines before the JSON document.
	start := bytes.IndexByte(output, '{')
	if start == -1 {
		return Extracted{}, upstream(sub.ContentURL, "no metadata in yt-dlp output", nil)
	}
	var meta ytDlpOutput
	if err := json.NewDecoder(bytes.NewReader(output[start:])).Decode(&meta); err != nil {
		return Extracted{}, upstream(sub.ContentURL, "unreadable yt-dlp metadata", err)
	}

	if _, err := os.Stat(audioPath); err != nil {
		return Extracted{}, upstream(sub.ContentURL, "yt-dlp produced no audio file", err)
	}

	return Extracted{
		Title:           meta.Title,
		Description:     meta.Description,
		AudioPath:       audioPath,
		DurationSeconds: int(meta.Duration),
	}, nil
}
