// Package edge purges feed URLs from an external HTTP cache.
package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"content-podcaster/internal/logger"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
)

type Config struct {
	// Endpoint receives POST {"files": [...]} with absolute URLs.
	Endpoint string
	Token    string
	// BaseURL is prefixed to purged paths.
	BaseURL  string
	RPS      float64
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
	Client   *http.Client
	Logger   logrus.FieldLogger
}

// HTTPPurger calls a purge API, rate limited and with a bounded number of
// attempts per call.
type HTTPPurger struct {
	endpoint string
	token    string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
	log      logrus.FieldLogger
}

type purgeRequest struct {
	Files []string `json:"files"`
}

// StatusError is a non-2xx answer from the purge endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("purge endpoint returned %d: %s", e.Code, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func NewHTTPPurger(cfg Config) *HTTPPurger {
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.Client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		cfg.Client = &http.Client{Timeout: timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &HTTPPurger{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   cfg.Client,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		log:      cfg.Logger,
	}
}

// Purge asks the edge to drop the given public paths.
func (p *HTTPPurger) Purge(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	files := make([]string, len(paths))
	for i, path := range paths {
		files[i] = p.baseURL + path
	}
	body, err := json.Marshal(purgeRequest{Files: files})
	if err != nil {
		return fmt.Errorf("failed to marshal purge request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("purge rate limiter: %w", err)
		}
		lastErr = p.send(ctx, body)
		if lastErr == nil {
			return nil
		}
		var se *StatusError
		if errors.As(lastErr, &se) && !se.retryable() {
			return lastErr
		}
		if attempt == p.attempts {
			break
		}
		p.log.WithError(lastErr).WithField("attempt", attempt).Warn("Edge purge failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("edge purge failed after %d attempts: %w", p.attempts, lastErr)
}

func (p *HTTPPurger) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build purge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call purge endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
