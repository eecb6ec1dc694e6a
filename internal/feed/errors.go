package feed

import (
	"errors"
	"fmt"
)

var ErrFeedNotFound = errors.New("feed not found")

// RendererError reports that the renderer failed or ran out of time.
type RendererError struct {
	Feed    string
	Timeout bool
	Err     error
}

func (e *RendererError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("rendering feed %s timed out: %v", e.Feed, e.Err)
	}
	return fmt.Sprintf("rendering feed %s: %v", e.Feed, e.Err)
}

func (e *RendererError) Unwrap() error {
	return e.Err
}

// Retryable is always true: renderer failures are transient from the
// caller's point of view.
func (e *RendererError) Retryable() bool {
	return true
}
