package models

// Feed describes a published podcast feed. Feeds are configured, not stored.
type Feed struct {
	Slug        string `yaml:"slug" json:"slug"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Author      string `yaml:"author" json:"author,omitempty"`
	Language    string `yaml:"language" json:"language,omitempty"`
	ImageURL    string `yaml:"image_url" json:"image_url,omitempty"`
	MaxEpisodes int    `yaml:"max_episodes" json:"max_episodes,omitempty"`
}
