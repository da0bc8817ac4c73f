package feed

import (
	"time"
)

// Feed processing types

type Metadata struct {
	Title       string
	Link        string
	Description string
	Language    string
}

// Entry is one raw feed entry after normalization.
type Entry struct {
	GUID        string
	Link        string
	Title       string
	Summary     string
	PublishedAt *time.Time
	StableKey   string
}

type FetchResult struct {
	Metadata *Metadata
	Entries  []Entry
	// Total is the number of entries parsed before the max_items cap.
	Total     int
	Truncated bool
}

// Configuration types

type Config struct {
	Name      string            // Derived from filename (without .yml extension)
	URL       string            `yaml:"url"`
	Settings  ConfigSettings    `yaml:"settings"`
	Publish   PublishSettings   `yaml:"publish"`
	Retention RetentionSettings `yaml:"retention"`
}

type ConfigSettings struct {
	Enabled         bool   `yaml:"enabled"`
	RefreshInterval int    `yaml:"refresh_interval"` // seconds
	MaxItems        int    `yaml:"max_items"`
	Timeout         int    `yaml:"timeout"`     // seconds
	Retries         int    `yaml:"retries"`     // extra attempts after the first
	RetrySleep      int    `yaml:"retry_sleep"` // seconds, first backoff step
	MaxBytes        int64  `yaml:"max_bytes"`
	CABundle        string `yaml:"ca_bundle"` // PEM file trusted in addition to system roots
}

type PublishSettings struct {
	AutoPublish     bool     `yaml:"auto_publish"`
	DomainWhitelist []string `yaml:"domain_whitelist"`
	RiskKeywords    []string `yaml:"risk_keywords"`
	MaxAgeHours     int      `yaml:"max_age_hours"` // 0 = unlimited
	PostTTLHours    int      `yaml:"post_ttl_hours"`
}

type RetentionSettings struct {
	ItemsMaxAgeDays int `yaml:"items_max_age_days"`
	ItemsMaxCount   int `yaml:"items_max_count"`
	PostsKeepDays   int `yaml:"posts_keep_days"`
	PostsKeepCount  int `yaml:"posts_keep_count"`
}

func (s PublishSettings) PostTTL() time.Duration {
	return time.Duration(s.PostTTLHours) * time.Hour
}

func (s PublishSettings) MaxAge() time.Duration {
	return time.Duration(s.MaxAgeHours) * time.Hour
}

func (s ConfigSettings) RefreshEvery() time.Duration {
	return time.Duration(s.RefreshInterval) * time.Second
}
