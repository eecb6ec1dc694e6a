// Package content turns submitted references into episode audio: it extracts
// text or audio from the source and synthesizes speech where needed.
package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"content-podcaster/internal/logger"
	"content-podcaster/internal/models"
)

var execCommandContext = exec.CommandContext

// Extracted is the intermediate result of processing a submission.
type Extracted struct {
	Title       string
	Description string
	Text        string
	// AudioPath is set when the source already provides audio.
	AudioPath       string
	DurationSeconds int
}

type PipelineConfig struct {
	AudioDir      string
	YtDlpPath     string
	PdfToTextPath string
	FetchTimeout  time.Duration
	MaxBytes      int64
	Client        *http.Client
	Logger        logrus.FieldLogger
}

// Pipeline extracts content according to the submission's content type.
type Pipeline struct {
	audioDir      string
	ytDlpPath     string
	pdfToTextPath string
	maxBytes      int64
	client        *http.Client
	log           logrus.FieldLogger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.YtDlpPath == "" {
		cfg.YtDlpPath = "yt-dlp"
	}
	if cfg.PdfToTextPath == "" {
		cfg.PdfToTextPath = "pdftotext"
	}
	return &Pipeline{
		audioDir:      cfg.AudioDir,
		ytDlpPath:     cfg.YtDlpPath,
		pdfToTextPath: cfg.PdfToTextPath,
		maxBytes:      cfg.MaxBytes,
		client:        cfg.Client,
		log:           cfg.Logger,
	}
}

func (p *Pipeline) Process(ctx context.Context, sub models.Submission) (Extracted, error) {
	var (
		ex  Extracted
		err error
	)
	switch sub.ContentType {
	case models.ContentTypeYouTube:
		ex, err = p.downloadAudio(ctx, sub)
	case models.ContentTypeURL:
		ex, err = p.extractPage(ctx, sub.ContentURL)
	case models.ContentTypePDF:
		ex, err = p.extractPDF(ctx, sub)
	case models.ContentTypeDocument:
		ex, err = p.extractDocument(ctx, sub.ContentURL)
	default:
		return Extracted{}, upstream(sub.ContentURL, fmt.Sprintf("unsupported content type %q", sub.ContentType), nil)
	}
	if err != nil {
		return Extracted{}, err
	}
	if ex.Title == "" {
		ex.Title = sub.ContentURL
	}
	if ex.AudioPath == "" && strings.TrimSpace(ex.Text) == "" {
		return Extracted{}, upstream(sub.ContentURL, "no readable text found", nil)
	}
	return ex, nil
}

// fetch downloads url, returning the body and its media type. 4xx answers
// and oversized bodies are upstream errors; transport failures and 5xx are
// returned as plain errors so the task is retried.
func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", upstream(url, "invalid url", err)
	}
	req.Header.Set("User-Agent", "content-podcaster/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, "", fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, "", upstream(url, fmt.Sprintf("source returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", url, err)
	}
	if int64(len(body)) > p.maxBytes {
		return nil, "", upstream(url, fmt.Sprintf("content larger than %d bytes", p.maxBytes), nil)
	}

	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0]))
	return body, mediaType, nil
}
