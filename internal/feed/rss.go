package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/eduncan911/podcast"

	"content-podcaster/internal/models"
)

// Renderer turns an episode set into a feed document. Implementations must be
// deterministic: identical inputs produce identical output. Render must return
// once ctx is done; the service stops waiting at its render timeout but the
// call itself keeps running until it returns.
type Renderer interface {
	Render(ctx context.Context, f models.Feed, episodes []models.Episode, opts Options) (string, error)
}

// DocumentRenderer renders RSS documents and JSON episode listings.
type DocumentRenderer struct {
	BaseURL string
}

func NewDocumentRenderer(baseURL string) *DocumentRenderer {
	return &DocumentRenderer{BaseURL: strings.TrimRight(baseURL, "/")}
}

func (r *DocumentRenderer) Render(ctx context.Context, f models.Feed, episodes []models.Episode, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	switch opts.Format {
	case FormatEpisodes:
		return r.renderListing(f, episodes, opts)
	default:
		return r.renderRSS(f, episodes, opts)
	}
}

// FeedURL is the public RSS location of the feed with the given slug.
func FeedURL(baseURL, slug string) string {
	return fmt.Sprintf("%s/feeds/%s/rss.xml", strings.TrimRight(baseURL, "/"), slug)
}

func (r *DocumentRenderer) renderRSS(f models.Feed, episodes []models.Episode, opts Options) (string, error) {
	sorted := sortEpisodes(episodes, opts.Order)
	if len(sorted) > opts.Limit {
		sorted = sorted[:opts.Limit]
	}

	// Dates come from the episodes so output depends on nothing but input.
	// podcast.New substitutes the wall clock for a zero time.
	lastBuild := time.Unix(0, 0).UTC()
	for _, ep := range episodes {
		if t := ep.RevisionTime(); t.After(lastBuild) {
			lastBuild = t
		}
	}

	link := FeedURL(r.BaseURL, f.Slug)
	description := f.Description
	if description == "" {
		description = f.Title
	}
	p := podcast.New(f.Title, link, description, &lastBuild, &lastBuild)
	p.AddAtomLink(link)
	p.IAuthor = f.Author
	if f.Language != "" {
		p.Language = f.Language
	}
	if f.ImageURL != "" {
		p.AddImage(f.ImageURL)
	}

	for _, ep := range sorted {
		desc := ep.Description
		if desc == "" {
			desc = ep.Title
		}
		pub := ep.PublishedAt
		item := podcast.Item{
			GUID:        ep.ID,
			Title:       ep.Title,
			Description: desc,
			PubDate:     &pub,
		}
		item.AddEnclosure(ep.AudioURL, enclosureType(ep.AudioURL), ep.AudioSizeBytes)
		if ep.DurationSeconds > 0 {
			item.AddDuration(int64(ep.DurationSeconds))
		}
		if _, err := p.AddItem(item); err != nil {
			return "", fmt.Errorf("adding episode %s: %w", ep.ID, err)
		}
	}

	return p.String(), nil
}

func enclosureType(audioURL string) podcast.EnclosureType {
	switch strings.ToLower(path.Ext(audioURL)) {
	case ".m4a":
		return podcast.M4A
	case ".m4v":
		return podcast.M4V
	case ".mp4":
		return podcast.MP4
	default:
		return podcast.MP3
	}
}

// Listing is the JSON document of the paginated episode listing.
type Listing struct {
	Feed       string           `json:"feed"`
	Title      string           `json:"title"`
	FeedURL    string           `json:"feed_url"`
	Page       int              `json:"page"`
	PerPage    int              `json:"per_page"`
	Total      int              `json:"total"`
	TotalPages int              `json:"total_pages"`
	Episodes   []models.Episode `json:"episodes"`
}

func (r *DocumentRenderer) renderListing(f models.Feed, episodes []models.Episode, opts Options) (string, error) {
	sorted := sortEpisodes(episodes, opts.Order)

	listing := Listing{
		Feed:     f.Slug,
		Title:    f.Title,
		FeedURL:  FeedURL(r.BaseURL, f.Slug),
		Page:     opts.Page,
		PerPage:  opts.PerPage,
		Total:    len(sorted),
		Episodes: []models.Episode{},
	}
	listing.TotalPages = (listing.Total + opts.PerPage - 1) / opts.PerPage

	start := (opts.Page - 1) * opts.PerPage
	if start < len(sorted) {
		end := start + opts.PerPage
		if end > len(sorted) {
			end = len(sorted)
		}
		listing.Episodes = sorted[start:end]
	}

	b, err := json.Marshal(listing)
	if err != nil {
		return "", fmt.Errorf("encoding listing: %w", err)
	}
	return string(b), nil
}
