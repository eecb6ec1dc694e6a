package content

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"unicode/utf8"

	"content-podcaster/internal/models"
)

func (p *Pipeline) extractDocument(ctx context.Context, url string) (Extracted, error) {
	body, mediaType, err := p.fetch(ctx, url)
	if err != nil {
		return Extracted{}, err
	}

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return extractHTML(url, body)
	case strings.HasPrefix(mediaType, "text/"), mediaType == "" && utf8.Valid(body):
		return Extracted{
			Title: documentTitle(url, body),
			Text:  string(body),
		}, nil
	}
	return Extracted{}, upstream(url, "unsupported document format "+mediaType, nil)
}

// documentTitle uses a leading markdown heading, or the file name.
func documentTitle(url string, body []byte) string {
	first, _, _ := bytes.Cut(bytes.TrimSpace(body), []byte("\n"))
	if line := strings.TrimSpace(string(first)); strings.HasPrefix(line, "# ") {
		return strings.TrimSpace(strings.TrimPrefix(line, "# "))
	}
	return path.Base(url)
}

func (p *Pipeline) extractPDF(ctx context.Context, sub models.Submission) (Extracted, error) {
	body, _, err := p.fetch(ctx, sub.ContentURL)
	if err != nil {
		return Extracted{}, err
	}
	if !bytes.HasPrefix(body, []byte("%PDF-")) {
		return Extracted{}, upstream(sub.ContentURL, "not a pdf document", nil)
	}

	tmp, err := os.CreateTemp("", "submission-*.pdf")
	if err != nil {
		return Extracted{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return Extracted{}, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Extracted{}, fmt.Errorf("failed to write temp file: %w", err)
	}

	cmd := execCommandContext(ctx, p.pdfToTextPath, "-enc", "UTF-8", "-nopgbrk", tmp.Name(), "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		p.log.WithError(err).WithField("stderr", stderr.String()).Warn("pdftotext failed")
		return Extracted{}, upstream(sub.ContentURL, "pdf text extraction failed", err)
	}

	return Extracted{
		Title: documentTitle(sub.ContentURL, nil),
		Text:  string(output),
	}, nil
}
