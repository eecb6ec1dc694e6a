package content

import "fmt"

// UpstreamProcessingError means the content itself cannot be turned into an
// episode. Retrying will not help.
type UpstreamProcessingError struct {
	Source string
	Reason string
	Err    error
}

func (e *UpstreamProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Reason)
}

func (e *UpstreamProcessingError) Unwrap() error {
	return e.Err
}

func upstream(source, reason string, err error) error {
	return &UpstreamProcessingError{Source: source, Reason: reason, Err: err}
}
