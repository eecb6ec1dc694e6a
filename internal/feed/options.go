package feed

import (
	"errors"
	"fmt"
	"sort"

	"content-podcaster/internal/models"
)

const (
	FormatRSS      = "rss"
	FormatEpisodes = "episodes"

	OrderNewest = "newest"
	OrderOldest = "oldest"

	defaultMaxEpisodes = 100
	maxEpisodesCap     = 500
	defaultPerPage     = 20
	maxPerPage         = 100
)

var ErrInvalidOptions = errors.New("invalid feed options")

// Options select one representation of a feed. Every field takes part in the
// cache key and in the fingerprint.
type Options struct {
	Format  string `json:"format"`
	Limit   int    `json:"limit"`
	Order   string `json:"order"`
	Page    int    `json:"page,omitempty"`
	PerPage int    `json:"per_page,omitempty"`
}

// Normalize fills defaults from the feed definition and validates o.
func (o Options) Normalize(f models.Feed) (Options, error) {
	if o.Format == "" {
		o.Format = FormatRSS
	}
	if o.Order == "" {
		o.Order = OrderNewest
	}

	switch o.Format {
	case FormatRSS, FormatEpisodes:
	default:
		return Options{}, fmt.Errorf("%w: unknown format %q", ErrInvalidOptions, o.Format)
	}
	switch o.Order {
	case OrderNewest, OrderOldest:
	default:
		return Options{}, fmt.Errorf("%w: unknown order %q", ErrInvalidOptions, o.Order)
	}

	if o.Limit < 0 || o.Page < 0 || o.PerPage < 0 {
		return Options{}, fmt.Errorf("%w: negative limit or page", ErrInvalidOptions)
	}
	if o.Limit == 0 {
		o.Limit = f.MaxEpisodes
		if o.Limit <= 0 {
			o.Limit = defaultMaxEpisodes
		}
	}
	if o.Limit > maxEpisodesCap {
		o.Limit = maxEpisodesCap
	}

	if o.Format == FormatRSS {
		o.Page, o.PerPage = 0, 0
		return o, nil
	}
	if o.Page == 0 {
		o.Page = 1
	}
	if o.PerPage == 0 {
		o.PerPage = defaultPerPage
	}
	if o.PerPage > maxPerPage {
		o.PerPage = maxPerPage
	}
	return o, nil
}

// ContentType is the media type of the representation o selects.
func (o Options) ContentType() string {
	if o.Format == FormatEpisodes {
		return "application/json"
	}
	return "application/rss+xml; charset=utf-8"
}

// sortEpisodes returns a sorted copy of episodes in the order o asks for.
func sortEpisodes(episodes []models.Episode, order string) []models.Episode {
	out := append([]models.Episode(nil), episodes...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].PublishedAt, out[j].PublishedAt
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		if order == OrderOldest {
			return a.Before(b)
		}
		return a.After(b)
	})
	return out
}
