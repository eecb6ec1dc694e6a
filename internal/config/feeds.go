package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"content-podcaster/internal/models"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

var defaultFeed = models.Feed{
	Slug:        models.DefaultFeedSlug,
	Title:       "Content Podcast",
	Description: "Web pages, videos and documents turned into podcast episodes.",
	Language:    "en",
	MaxEpisodes: 100,
}

type feedsFile struct {
	Feeds []models.Feed `yaml:"feeds"`
}

// FeedCatalog holds the configured feeds. It is safe for concurrent use and
// can be reloaded while serving.
type FeedCatalog struct {
	path string

	mu    sync.RWMutex
	feeds map[string]models.Feed
}

// LoadFeedCatalog reads feed definitions from path. A missing file yields a
// catalog holding only the default feed.
func LoadFeedCatalog(path string) (*FeedCatalog, error) {
	c := &FeedCatalog{path: path}
	feeds, err := readFeeds(path)
	if err != nil {
		return nil, err
	}
	c.feeds = feeds
	return c, nil
}

// NewFeedCatalog builds a catalog from in-memory definitions.
func NewFeedCatalog(feeds ...models.Feed) (*FeedCatalog, error) {
	m, err := indexFeeds(feeds)
	if err != nil {
		return nil, err
	}
	return &FeedCatalog{feeds: m}, nil
}

func (c *FeedCatalog) Feed(slug string) (models.Feed, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.feeds[slug]
	return f, ok
}

// Feeds returns all feeds ordered by slug.
func (c *FeedCatalog) Feeds() []models.Feed {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Feed, 0, len(c.feeds))
	for _, f := range c.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Reload re-reads the file and returns the slugs whose definition changed,
// appeared or disappeared. On error the current catalog is kept.
func (c *FeedCatalog) Reload() ([]string, error) {
	if c.path == "" {
		return nil, nil
	}
	next, err := readFeeds(c.path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	prev := c.feeds
	c.feeds = next
	c.mu.Unlock()

	var changed []string
	for slug, f := range next {
		if old, ok := prev[slug]; !ok || old != f {
			changed = append(changed, slug)
		}
	}
	for slug := range prev {
		if _, ok := next[slug]; !ok {
			changed = append(changed, slug)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

// Watch reloads the catalog whenever its file changes and reports changed
// slugs to onChange. It returns when ctx is done.
func (c *FeedCatalog) Watch(ctx context.Context, log logrus.FieldLogger, onChange func(slugs []string)) error {
	if c.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating feeds watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so watch the directory.
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(c.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			changed, err := c.Reload()
			if err != nil {
				log.WithError(err).WithField("path", c.path).Error("Failed to reload feeds")
				continue
			}
			if len(changed) > 0 {
				log.WithField("feeds", changed).Info("Feed definitions changed")
				onChange(changed)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Feeds watcher error")
		}
	}
}

func readFeeds(path string) (map[string]models.Feed, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return indexFeeds(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("reading feeds file: %w", err)
	}
	return ParseFeeds(data)
}

// ParseFeeds decodes and validates a feeds document.
func ParseFeeds(data []byte) (map[string]models.Feed, error) {
	var file feedsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding feeds: %w", err)
	}
	return indexFeeds(file.Feeds)
}

func indexFeeds(feeds []models.Feed) (map[string]models.Feed, error) {
	out := make(map[string]models.Feed, len(feeds)+1)
	for _, f := range feeds {
		if !slugPattern.MatchString(f.Slug) {
			return nil, fmt.Errorf("feed slug %q: must be lowercase letters, digits and dashes", f.Slug)
		}
		if f.Title == "" {
			return nil, fmt.Errorf("feed %s: title is required", f.Slug)
		}
		if f.MaxEpisodes < 0 {
			return nil, fmt.Errorf("feed %s: max_episodes must not be negative", f.Slug)
		}
		if _, dup := out[f.Slug]; dup {
			return nil, fmt.Errorf("feed %s: defined twice", f.Slug)
		}
		out[f.Slug] = f
	}
	if _, ok := out[models.DefaultFeedSlug]; !ok {
		out[models.DefaultFeedSlug] = defaultFeed
	}
	return out, nil
}
