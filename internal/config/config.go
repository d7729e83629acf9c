// Package config handles Herald configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/herald/config.yaml, /etc/herald/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "herald", "config.yaml"))
	}

	paths = append(paths, "/etc/herald/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Herald configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Digest    DigestConfig    `yaml:"digest"`
	Search    SearchConfig    `yaml:"search"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	Notify    NotifyConfig    `yaml:"notify"`
	History   HistoryConfig   `yaml:"history"`
	LogLevel  string          `yaml:"log_level"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// DigestConfig defines what the digest covers and how the generation
// loop is bounded.
type DigestConfig struct {
	// Topics are substituted into the prompt template as a bulleted list.
	Topics []string `yaml:"topics"`

	// PromptTemplate must contain a {topics} placeholder. Empty selects
	// the built-in template.
	PromptTemplate string `yaml:"prompt_template"`

	// Language is an ISO 639-1 code for the digest language ("en" default).
	Language string `yaml:"language"`

	// MaxIterations caps provider round trips per generation.
	MaxIterations int `yaml:"max_iterations"`

	// MaxToolCalls caps web searches per generation.
	MaxToolCalls int `yaml:"max_tool_calls"`

	// MaxRetries caps full generation attempts.
	MaxRetries int `yaml:"max_retries"`
}

// SearchConfig defines the web search tool settings.
type SearchConfig struct {
	// Enabled exposes the web_search tool to the model.
	Enabled bool `yaml:"enabled"`

	// Provider selects the search backend ("duckduckgo" or "searxng").
	Provider string `yaml:"provider"`

	// MaxResults caps results per search call.
	MaxResults int `yaml:"max_results"`

	// SearXNGURL is the root URL of a SearXNG instance, required when
	// provider is "searxng".
	SearXNGURL string `yaml:"searxng_url"`
}

// FeedsConfig defines optional RSS source material for the prompt.
type FeedsConfig struct {
	Enabled           bool         `yaml:"enabled"`
	MaxItemsPerSource int          `yaml:"max_items_per_source"`
	Sources           []FeedSource `yaml:"sources"`
}

// FeedSource names one RSS or Atom feed.
type FeedSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// NotifyConfig defines the notification fan-out.
type NotifyConfig struct {
	// Methods lists enabled channels: "email", "webhook", "mqtt".
	Methods []string `yaml:"methods"`

	Email   EmailConfig   `yaml:"email"`
	Webhook WebhookConfig `yaml:"webhook"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
}

// EmailConfig defines the SMTP delivery channel.
type EmailConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	StartTLS bool     `yaml:"starttls"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// WebhookConfig defines the webhook delivery channel.
type WebhookConfig struct {
	URL string `yaml:"url"`
}

// MQTTConfig defines the MQTT delivery channel.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// HistoryConfig defines run history persistence. An empty path
// disables recording.
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file. Environment variable
// references (${VAR} or $VAR) in the file are expanded before parsing,
// so secrets can stay out of the file itself.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 2000,
		},
		Digest: DigestConfig{
			Topics:        []string{"Latest AI developments and breakthroughs"},
			Language:      "en",
			MaxIterations: 5,
			MaxToolCalls:  5,
			MaxRetries:    3,
		},
		Search: SearchConfig{
			Enabled:    true,
			Provider:   "duckduckgo",
			MaxResults: 10,
		},
		Feeds: FeedsConfig{
			MaxItemsPerSource: 5,
		},
	}
}
