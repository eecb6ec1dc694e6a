package content

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"content-podcaster/internal/logger"
	"content-podcaster/internal/models"
)

const (
	wordsPerMinute    = 150
	maxDescriptionLen = 400
)

type SynthesizerConfig struct {
	// Command is invoked as "<command> <text file> <mp3 file>".
	Command  string
	AudioDir string
	BaseURL  string
	Logger   logrus.FieldLogger
	Clock    func() time.Time
}

// Synthesizer produces the episode audio for extracted content and describes
// the resulting episode.
type Synthesizer struct {
	command  string
	audioDir string
	baseURL  string
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Synthesizer{
		command:  cfg.Command,
		audioDir: cfg.AudioDir,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		log:      cfg.Logger,
		now:      cfg.Clock,
	}
}

// Synthesize returns the episode draft for the extracted content of the
// submission with the given id.
func (s *Synthesizer) Synthesize(ctx context.Context, id string, ex Extracted) (models.EpisodeDraft, error) {
	audioPath := ex.AudioPath
	duration := ex.DurationSeconds

	if audioPath == "" {
		var err error
		audioPath, err = s.speak(ctx, id, ex.Text)
		if err != nil {
			return models.EpisodeDraft{}, err
		}
		duration = EstimateSpeechSeconds(ex.Text)
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		return models.EpisodeDraft{}, fmt.Errorf("failed to stat audio file: %w", err)
	}
	if info.Size() == 0 {
		return models.EpisodeDraft{}, upstream(id, "synthesized audio is empty", nil)
	}

	return models.EpisodeDraft{
		Title:           ex.Title,
		Description:     describe(ex),
		AudioURL:        AudioURL(s.baseURL, filepath.Base(audioPath)),
		AudioSizeBytes:  info.Size(),
		DurationSeconds: duration,
		PublishedAt:     s.now().UTC(),
	}, nil
}

func (s *Synthesizer) speak(ctx context.Context, id, text string) (string, error) {
	if err := os.MkdirAll(s.audioDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create audio dir: %w", err)
	}
	textFile, err := os.CreateTemp("", "episode-*.txt")
	if err != nil {
		return "", fmt.Errorf("failed to create text file: %w", err)
	}
	defer os.Remove(textFile.Name())
	if _, err := textFile.WriteString(text); err != nil {
		textFile.Close()
		return "", fmt.Errorf("failed to write text file: %w", err)
	}
	if err := textFile.Close(); err != nil {
		return "", fmt.Errorf("failed to write text file: %w", err)
	}

	audioPath := filepath.Join(s.audioDir, id+".mp3")
	cmd := execCommandContext(ctx, s.command, textFile.Name(), audioPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("speech synthesis interrupted: %w", ctx.Err())
		}
		s.log.WithError(err).WithField("stderr", stderr.String()).Error("Speech synthesis failed")
		return "", fmt.Errorf("failed to run %s: %w", s.command, err)
	}
	return audioPath, nil
}

// AudioURL is the public URL of an audio file served by the api.
func AudioURL(baseURL, filename string) string {
	return strings.TrimRight(baseURL, "/") + "/audio/" + filename
}

// EstimateSpeechSeconds approximates how long text takes to read aloud.
func EstimateSpeechSeconds(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	secs := words * 60 / wordsPerMinute
	if secs < 1 {
		secs = 1
	}
	return secs
}

func describe(ex Extracted) string {
	if ex.Description != "" {
		return ex.Description
	}
	text := collapseSpace(ex.Text)
	if len(text) <= maxDescriptionLen {
		return text
	}
	cut := strings.LastIndex(text[:maxDescriptionLen], " ")
	if cut <= 0 {
		cut = maxDescriptionLen
	}
	return text[:cut] + "…"
}
