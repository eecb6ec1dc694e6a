package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-podcaster/internal/config"
	"content-podcaster/internal/content"
	"content-podcaster/internal/db"
	"content-podcaster/internal/feed"
	"content-podcaster/internal/feedcache"
	"content-podcaster/internal/invalidation"
	"content-podcaster/internal/models"
	"content-podcaster/internal/submission"
	"content-podcaster/internal/test"
	"content-podcaster/pkg/tasks"
)

const baseURL = "http://localhost:8080"

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type memoryEpisodes struct {
	mu       sync.Mutex
	episodes map[string][]models.Episode
}

func (m *memoryEpisodes) ListEpisodes(ctx context.Context, slug string) ([]models.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Episode(nil), m.episodes[slug]...), nil
}

func (m *memoryEpisodes) add(ep models.Episode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes[ep.FeedSlug] = append(m.episodes[ep.FeedSlug], ep)
}

type fixture struct {
	router   *mux.Router
	mock     sqlmock.Sqlmock
	enqueuer *test.MockTaskEnqueuer
	episodes *memoryEpisodes
	cache    *feedcache.Store
	audioDir string
}

func episode(id string, published time.Time) models.Episode {
	return models.Episode{
		ID:              id,
		SubmissionID:    "sub-" + id,
		FeedSlug:        "default",
		Title:           "Episode " + id,
		AudioURL:        baseURL + "/audio/" + id + ".mp3",
		AudioSizeBytes:  1000,
		DurationSeconds: 60,
		PublishedAt:     published,
		CreatedAt:       published,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sqlxDB, mock := test.NewMockDB(t)
	store := db.New(sqlxDB)

	catalog, err := config.NewFeedCatalog(models.Feed{Slug: "default", Title: "Everything", MaxEpisodes: 50})
	require.NoError(t, err)

	clock := func() time.Time { return fixedNow }
	eps := &memoryEpisodes{episodes: map[string][]models.Episode{
		"default": {episode("e1", fixedNow.Add(-2*time.Hour)), episode("e2", fixedNow.Add(-time.Hour))},
	}}
	cache := feedcache.NewStore(feedcache.Options{TTL: time.Minute, Clock: clock})
	service := feed.NewService(eps, catalog, feed.NewDocumentRenderer(baseURL), cache, feed.ServiceConfig{Clock: clock})
	coord := invalidation.NewCoordinator(cache, nil, invalidation.Config{Strategy: invalidation.StrategyImmediate})
	enqueuer := &test.MockTaskEnqueuer{}
	audioDir := t.TempDir()

	h := New(store, service, catalog, cache, coord, enqueuer, Config{BaseURL: baseURL, AudioDir: audioDir, Clock: clock})
	r := mux.NewRouter()
	h.Register(r, nil)

	return &fixture{router: r, mock: mock, enqueuer: enqueuer, episodes: eps, cache: cache, audioDir: audioDir}
}

func (f *fixture) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Error
}

func TestPostSubmission(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectExec(`INSERT INTO submissions`).
		WithArgs(sqlmock.AnyArg(), "https://youtu.be/dQw4w9WgXcQ", "youtube", "pending", nil, nil,
			fixedNow, fixedNow, "listen later", sqlmock.AnyArg(), "default", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := f.do(http.MethodPost, "/submissions", `{"content_url":"https://youtu.be/dQw4w9WgXcQ","user_note":"listen later"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var resp intakeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusPending, resp.Status)
	assert.Equal(t, fixedNow.Add(5*time.Minute), resp.EstimatedCompletion.UTC())
	assert.Equal(t, "/submissions/"+resp.SubmissionID, rr.Header().Get("Location"))

	queued := f.enqueuer.Tasks()
	require.Len(t, queued, 1)
	assert.Equal(t, tasks.TypeProcessSubmission, queued[0].Type())
	p, err := tasks.ParseProcessSubmissionPayload(queued[0])
	require.NoError(t, err)
	assert.Equal(t, resp.SubmissionID, p.SubmissionID)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestPostSubmissionRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"unknown field", `{"content_url":"https://example.com","colour":"red"}`},
		{"missing url", `{}`},
		{"relative url", `{"content_url":"/local/file"}`},
		{"bad content type", `{"content_url":"https://example.com","content_type":"podcast"}`},
		{"unknown feed", `{"content_url":"https://example.com","feed_slug":"missing"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rr := f.do(http.MethodPost, "/submissions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			apiErr := decodeError(t, rr)
			assert.Equal(t, KindValidation, apiErr.Kind)
			assert.False(t, apiErr.Retryable)
			assert.Empty(t, f.enqueuer.Tasks())
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}

func TestPostSubmissionEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueuer.Err = errors.New("redis down")
	f.mock.ExpectExec(`INSERT INTO submissions`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec(`UPDATE submissions`).
		WithArgs("failed", "could not be queued for processing", fixedNow, sqlmock.AnyArg(), nil, sqlmock.AnyArg(), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := f.do(http.MethodPost, "/submissions", `{"content_url":"https://example.com/post"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	apiErr := decodeError(t, rr)
	assert.Equal(t, KindInternal, apiErr.Kind)
	assert.True(t, apiErr.Retryable)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

var submissionColumns = []string{
	"id", "content_url", "content_type", "status", "error_message", "processed_at",
	"created_at", "updated_at", "user_note", "metadata", "feed_slug", "episode_id",
}

const subID = "8d0d3f7e-6b1a-4f37-9a53-0f2f3c6b2a10"

func TestGetSubmissionCompleted(t *testing.T) {
	f := newFixture(t)
	processed := fixedNow.Add(-time.Minute)
	f.mock.ExpectQuery(`FROM submissions WHERE id = \$1`).WithArgs(subID).WillReturnRows(
		sqlmock.NewRows(submissionColumns).AddRow(subID, "https://example.com/post", "url", "completed", nil, processed,
			fixedNow.Add(-5*time.Minute), processed, nil, []byte(`{}`), "default", "ep-9"))

	rr := f.do(http.MethodGet, "/submissions/"+subID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp["status"])
	assert.EqualValues(t, 100, resp["progress"])
	assert.Equal(t, "ep-9", resp["episode_id"])
	assert.Equal(t, baseURL+"/feeds/default/rss.xml", resp["feed_url"])
	assert.NotContains(t, resp, "estimated_completion")
	assert.NotContains(t, resp, "error_message")
}

func TestGetSubmissionProcessing(t *testing.T) {
	f := newFixture(t)
	started := fixedNow.Add(-time.Minute)
	f.mock.ExpectQuery(`FROM submissions WHERE id = \$1`).WithArgs(subID).WillReturnRows(
		sqlmock.NewRows(submissionColumns).AddRow(subID, "https://example.com/post", "url", "processing", nil, nil,
			started, started, nil, []byte(`{}`), "default", nil))

	rr := f.do(http.MethodGet, "/submissions/"+subID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 59, resp.Progress) // half of the two minute estimate
	require.NotNil(t, resp.EstimatedCompletion)
	assert.Nil(t, resp.EpisodeID)
	assert.Empty(t, resp.FeedURL)
}

func TestGetSubmissionNotFound(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/submissions/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, KindNotFound, decodeError(t, rr).Kind)

	f.mock.ExpectQuery(`FROM submissions WHERE id = \$1`).WithArgs(subID).WillReturnError(sql.ErrNoRows)
	rr = f.do(http.MethodGet, "/submissions/"+subID, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetRSSFeedCaching(t *testing.T) {
	f := newFixture(t)

	first := f.do(http.MethodGet, "/feeds/default/rss.xml", "")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Contains(t, first.Header().Get("Content-Type"), "xml")
	assert.Equal(t, fixedNow.Format(http.TimeFormat), first.Header().Get("Last-Modified"))
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Contains(t, first.Body.String(), "Episode e2")

	second := f.do(http.MethodGet, "/feeds/default/rss.xml", "")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, etag, second.Header().Get("ETag"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	notModified := f.do(http.MethodGet, "/feeds/default/rss.xml", "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, notModified.Code)
	assert.Empty(t, notModified.Body.String())

	sinceLast := f.do(http.MethodGet, "/feeds/default/rss.xml", "", "If-Modified-Since", fixedNow.Format(http.TimeFormat))
	assert.Equal(t, http.StatusNotModified, sinceLast.Code)

	otherTag := f.do(http.MethodGet, "/feeds/default/rss.xml", "", "If-None-Match", `"something-else"`)
	assert.Equal(t, http.StatusOK, otherTag.Code)
}

func TestGetRSSFeedReflectsNewEpisode(t *testing.T) {
	f := newFixture(t)
	first := f.do(http.MethodGet, "/feeds/default/rss.xml", "")
	require.Equal(t, http.StatusOK, first.Code)

	f.episodes.add(episode("e3", fixedNow))

	next := f.do(http.MethodGet, "/feeds/default/rss.xml", "", "If-None-Match", first.Header().Get("ETag"))
	require.Equal(t, http.StatusOK, next.Code)
	assert.Equal(t, "MISS", next.Header().Get("X-Cache"))
	assert.NotEqual(t, first.Header().Get("ETag"), next.Header().Get("ETag"))
	assert.Contains(t, next.Body.String(), "Episode e3")
}

func TestGetEpisodes(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/feeds/default/episodes?page=1&per_page=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var listing feed.Listing
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	assert.Equal(t, 2, listing.Total)
	require.Len(t, listing.Episodes, 1)
	assert.Equal(t, "e2", listing.Episodes[0].ID)

	// Different options are cached separately.
	rr = f.do(http.MethodGet, "/feeds/default/episodes?page=2&per_page=1", "")
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
}

func TestGetFeedErrors(t *testing.T) {
	f := newFixture(t)

	rr := f.do(http.MethodGet, "/feeds/unknown/rss.xml", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, KindNotFound, decodeError(t, rr).Kind)

	rr = f.do(http.MethodGet, "/feeds/default/rss.xml?limit=many", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodGet, "/feeds/default/rss.xml?order=random", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, KindValidation, decodeError(t, rr).Kind)
}

func TestAdminInvalidate(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/feeds/default/rss.xml", "").Code)
	require.Equal(t, 1, f.cache.Len())

	rr := f.do(http.MethodPost, "/admin/cache/default/invalidate", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp invalidateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, invalidateResponse{FeedSlug: "default", Removed: 1}, resp)
	assert.Equal(t, 0, f.cache.Len())

	assert.Equal(t, "MISS", f.do(http.MethodGet, "/feeds/default/rss.xml", "").Header().Get("X-Cache"))

	rr = f.do(http.MethodPost, "/admin/cache/unknown/invalidate", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminCacheStats(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodGet, "/feeds/default/rss.xml", "")
	f.do(http.MethodGet, "/feeds/default/rss.xml", "")

	rr := f.do(http.MethodGet, "/admin/cache/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp cacheStatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Cache.Requests)
	assert.Equal(t, int64(1), resp.Cache.Hits)
	assert.Equal(t, invalidation.StrategyImmediate, resp.Invalidation.Strategy)
}

func TestServeAudioFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.audioDir, "e1.mp3"), []byte("ID3 audio"), 0o644))

	rr := f.do(http.MethodGet, "/audio/e1.mp3", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ID3 audio", rr.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/audio/missing.mp3", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/audio/.hidden", "").Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		kind      string
		retryable bool
	}{
		{&submission.ValidationError{Field: "content_url", Reason: "required"}, http.StatusBadRequest, KindValidation, false},
		{&submission.InvalidTransitionError{From: models.StatusCompleted, To: models.StatusProcessing}, http.StatusConflict, KindInvalidTransition, false},
		{&feed.RendererError{Feed: "default", Timeout: true, Err: context.DeadlineExceeded}, http.StatusServiceUnavailable, KindRenderer, true},
		{&content.UpstreamProcessingError{Source: "https://x", Reason: "gone"}, http.StatusBadGateway, KindUpstream, false},
		{db.ErrNotFound, http.StatusNotFound, KindNotFound, false},
		{feed.ErrFeedNotFound, http.StatusNotFound, KindNotFound, false},
		{errors.New("boom"), http.StatusInternalServerError, KindInternal, true},
	}
	for _, tt := range tests {
		status, apiErr := describeError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.kind, apiErr.Kind)
		assert.Equal(t, tt.retryable, apiErr.Retryable)
	}
}
