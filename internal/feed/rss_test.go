package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-podcaster/internal/models"
)

var testFeed = models.Feed{
	Slug:        "default",
	Title:       "Reading List",
	Description: "Articles and videos, read aloud.",
	Author:      "Podcaster",
	Language:    "en",
	MaxEpisodes: 2,
}

func testEpisodes() []models.Episode {
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	return []models.Episode{
		{ID: "ep-1", FeedSlug: "default", Title: "First", Description: "one", AudioURL: "https://pod.example.com/audio/1.mp3", AudioSizeBytes: 1000, DurationSeconds: 60, PublishedAt: base},
		{ID: "ep-2", FeedSlug: "default", Title: "Second", Description: "", AudioURL: "https://pod.example.com/audio/2.m4a", AudioSizeBytes: 2000, DurationSeconds: 120, PublishedAt: base.Add(time.Hour)},
		{ID: "ep-3", FeedSlug: "default", Title: "Third", Description: "three", AudioURL: "https://pod.example.com/audio/3.mp3", AudioSizeBytes: 3000, PublishedAt: base.Add(2 * time.Hour)},
	}
}

func TestRenderRSS(t *testing.T) {
	r := NewDocumentRenderer("https://pod.example.com/")
	opts, err := Options{}.Normalize(testFeed)
	require.NoError(t, err)

	doc, err := r.Render(context.Background(), testFeed, testEpisodes(), opts)
	require.NoError(t, err)

	parsed, err := gofeed.NewParser().ParseString(doc)
	require.NoError(t, err)
	assert.Equal(t, "Reading List", parsed.Title)
	assert.Equal(t, "https://pod.example.com/feeds/default/rss.xml", parsed.Link)

	require.Len(t, parsed.Items, 2, "limited by max_episodes")
	assert.Equal(t, "Third", parsed.Items[0].Title)
	assert.Equal(t, "ep-3", parsed.Items[0].GUID)
	assert.Equal(t, "Second", parsed.Items[1].Title)
	assert.Equal(t, "Second", parsed.Items[1].Description, "empty description falls back to title")

	require.Len(t, parsed.Items[1].Enclosures, 1)
	assert.Equal(t, "https://pod.example.com/audio/2.m4a", parsed.Items[1].Enclosures[0].URL)
	assert.Equal(t, "2000", parsed.Items[1].Enclosures[0].Length)
	assert.Equal(t, "audio/x-m4a", parsed.Items[1].Enclosures[0].Type)
}

func TestRenderRSSDeterministic(t *testing.T) {
	r := NewDocumentRenderer("https://pod.example.com")
	opts, err := Options{Order: OrderOldest}.Normalize(testFeed)
	require.NoError(t, err)

	a, err := r.Render(context.Background(), testFeed, testEpisodes(), opts)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	b, err := r.Render(context.Background(), testFeed, testEpisodes(), opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	empty1, err := r.Render(context.Background(), testFeed, nil, opts)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	empty2, err := r.Render(context.Background(), testFeed, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, empty1, empty2)
}

func TestRenderListing(t *testing.T) {
	r := NewDocumentRenderer("https://pod.example.com")
	opts, err := Options{Format: FormatEpisodes, PerPage: 2, Page: 2}.Normalize(testFeed)
	require.NoError(t, err)

	doc, err := r.Render(context.Background(), testFeed, testEpisodes(), opts)
	require.NoError(t, err)

	var listing Listing
	require.NoError(t, json.Unmarshal([]byte(doc), &listing))
	assert.Equal(t, 3, listing.Total)
	assert.Equal(t, 2, listing.TotalPages)
	assert.Equal(t, 2, listing.Page)
	require.Len(t, listing.Episodes, 1)
	assert.Equal(t, "ep-1", listing.Episodes[0].ID)

	opts.Page = 5
	doc, err = r.Render(context.Background(), testFeed, testEpisodes(), opts)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(doc), &listing))
	assert.Empty(t, listing.Episodes)
}

func TestOptionsNormalize(t *testing.T) {
	opts, err := Options{}.Normalize(models.Feed{})
	require.NoError(t, err)
	assert.Equal(t, Options{Format: FormatRSS, Limit: defaultMaxEpisodes, Order: OrderNewest}, opts)

	opts, err = Options{Format: FormatEpisodes, Limit: 10000, PerPage: 1000, Page: 3}.Normalize(models.Feed{})
	require.NoError(t, err)
	assert.Equal(t, maxEpisodesCap, opts.Limit)
	assert.Equal(t, maxPerPage, opts.PerPage)
	assert.Equal(t, 3, opts.Page)

	opts, err = Options{Page: 4, PerPage: 3}.Normalize(models.Feed{})
	require.NoError(t, err)
	assert.Zero(t, opts.Page, "rss ignores pagination")

	for _, bad := range []Options{{Format: "atom"}, {Order: "random"}, {Limit: -1}} {
		_, err := bad.Normalize(models.Feed{})
		assert.ErrorIs(t, err, ErrInvalidOptions)
	}
}
