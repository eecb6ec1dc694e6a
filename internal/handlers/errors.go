package handlers

import (
	"errors"
	"net/http"

	"content-podcaster/internal/content"
	"content-podcaster/internal/db"
	"content-podcaster/internal/feed"
	"content-podcaster/internal/submission"
)

// Stable error kinds of the api.
const (
	KindValidation        = "validation"
	KindInvalidTransition = "invalid_transition"
	KindRenderer          = "renderer"
	KindUpstream          = "upstream"
	KindNotFound          = "not_found"
	KindInternal          = "internal"
)

type apiError struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type errorBody struct {
	Error apiError `json:"error"`
}

// describeError maps an error to its http status and api representation.
func describeError(err error) (int, apiError) {
	var (
		validation *submission.ValidationError
		transition *submission.InvalidTransitionError
		renderer   *feed.RendererError
		upstream   *content.UpstreamProcessingError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, apiError{Kind: KindValidation, Message: validation.Error()}
	case errors.Is(err, feed.ErrInvalidOptions):
		return http.StatusBadRequest, apiError{Kind: KindValidation, Message: err.Error()}
	case errors.As(err, &transition):
		return http.StatusConflict, apiError{Kind: KindInvalidTransition, Message: transition.Error()}
	case errors.As(err, &renderer):
		return http.StatusServiceUnavailable, apiError{Kind: KindRenderer, Message: "feed is temporarily unavailable", Retryable: renderer.Retryable()}
	case errors.As(err, &upstream):
		return http.StatusBadGateway, apiError{Kind: KindUpstream, Message: upstream.Error()}
	case errors.Is(err, db.ErrNotFound), errors.Is(err, feed.ErrFeedNotFound):
		return http.StatusNotFound, apiError{Kind: KindNotFound, Message: err.Error()}
	}
	return http.StatusInternalServerError, apiError{Kind: KindInternal, Message: "internal error", Retryable: true}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := describeError(err)
	entry := h.log.WithError(err).WithFields(map[string]interface{}{
		"method": r.Method,
		"path":   r.URL.Path,
		"kind":   body.Kind,
	})
	if status >= 500 {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, errorBody{Error: body})
}
