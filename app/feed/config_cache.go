package feed

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRefreshInterval = 3600
	DefaultMaxItems        = 50
	DefaultTimeout         = 30
	DefaultRetries         = 2
	DefaultRetrySleep      = 2
	DefaultMaxBytes        = 5 << 20
	DefaultPostTTLHours    = 24 * 7
)

type ConfigCache struct {
	feedsDir string
	cache    map[string]*Config
	mu       sync.RWMutex
}

func NewConfigCache(feedsDir string) *ConfigCache {
	return &ConfigCache{
		feedsDir: feedsDir,
		cache:    make(map[string]*Config),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.feedsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.feedsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		// Derive feed name from filename (remove .yml extension)
		fileName := filepath.Base(file)
		feedName := fileName[:len(fileName)-4]

		config, err := cc.LoadConfig(feedName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "feed", feedName, "enabled", config.Settings.Enabled, "auto_publish", config.Publish.AutoPublish)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(feedName string) (*Config, error) {
	configFile := cc.getConfigFilePath(feedName)
	feedConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	feedConfig.Name = feedName

	if err := cc.validateConfig(feedConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.Set(feedConfig)

	return feedConfig, nil
}

// Set stores a configuration directly, bypassing the filesystem.
func (cc *ConfigCache) Set(feedConfig *Config) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[feedConfig.Name] = feedConfig
}

func (cc *ConfigCache) GetConfig(feedName string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	feedConfig, ok := cc.cache[feedName]
	if !ok {
		return nil, fmt.Errorf("feed config with name '%s' not found", feedName)
	}
	return feedConfig, nil
}

func (cc *ConfigCache) GetConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(cc.cache))
	for k, v := range cc.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

func (cc *ConfigCache) GetEnabledConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabledConfigs := make(map[string]*Config)
	for k, v := range cc.cache {
		if v.Settings.Enabled {
			enabledConfigs[k] = v
		}
	}
	return enabledConfigs
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// Retry settings accept an explicit zero, so their defaults are set
	// before decoding rather than filled in afterwards.
	feedConfig := Config{Settings: ConfigSettings{
		Retries:    DefaultRetries,
		RetrySleep: DefaultRetrySleep,
	}}
	if err := yaml.Unmarshal(data, &feedConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	ApplyDefaults(&feedConfig)

	return &feedConfig, nil
}

// ApplyDefaults fills zero-valued settings with their defaults. Retries and
// RetrySleep are left alone since zero is a valid value for both.
func ApplyDefaults(feedConfig *Config) {
	if feedConfig.Settings.RefreshInterval == 0 {
		feedConfig.Settings.RefreshInterval = DefaultRefreshInterval
	}
	if feedConfig.Settings.MaxItems == 0 {
		feedConfig.Settings.MaxItems = DefaultMaxItems
	}
	if feedConfig.Settings.Timeout == 0 {
		feedConfig.Settings.Timeout = DefaultTimeout
	}
	if feedConfig.Settings.MaxBytes == 0 {
		feedConfig.Settings.MaxBytes = DefaultMaxBytes
	}
	if feedConfig.Publish.PostTTLHours == 0 {
		feedConfig.Publish.PostTTLHours = DefaultPostTTLHours
	}
}

func (cc *ConfigCache) validateConfig(feedConfig *Config) error {
	if feedConfig == nil {
		return fmt.Errorf("feedConfig is nil")
	}

	requiredFeedFields := map[string]string{
		"feed name": feedConfig.Name,
		"feed URL":  feedConfig.URL,
	}

	for fieldName, fieldValue := range requiredFeedFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	if u, err := url.Parse(feedConfig.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("feed URL must be an absolute http(s) URL: %s", feedConfig.URL)
	}

	nonNegativeFields := map[string]int{
		"refresh interval":   feedConfig.Settings.RefreshInterval,
		"max items":          feedConfig.Settings.MaxItems,
		"timeout":            feedConfig.Settings.Timeout,
		"retries":            feedConfig.Settings.Retries,
		"retry sleep":        feedConfig.Settings.RetrySleep,
		"max age hours":      feedConfig.Publish.MaxAgeHours,
		"post TTL hours":     feedConfig.Publish.PostTTLHours,
		"items max age days": feedConfig.Retention.ItemsMaxAgeDays,
		"items max count":    feedConfig.Retention.ItemsMaxCount,
		"posts keep days":    feedConfig.Retention.PostsKeepDays,
		"posts keep count":   feedConfig.Retention.PostsKeepCount,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	if feedConfig.Settings.MaxBytes < 0 {
		return fmt.Errorf("max bytes must be non-negative")
	}

	for i, domain := range feedConfig.Publish.DomainWhitelist {
		if domain == "" {
			return fmt.Errorf("empty domain whitelist entry at index %d", i)
		}
	}

	for i, keyword := range feedConfig.Publish.RiskKeywords {
		if keyword == "" {
			return fmt.Errorf("empty risk keyword at index %d", i)
		}
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(feedName string) string {
	return filepath.Join(cc.feedsDir, feedName+".yml")
}
