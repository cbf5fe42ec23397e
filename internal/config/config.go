// Package config handles feedview configuration loading and validation.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Feed rendering settings
	Feed FeedConfig `yaml:"feed" mapstructure:"feed"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// ServerConfig describes the chat server connection.
type ServerConfig struct {
	// URL is the server root, e.g. "https://chat.example.com".
	URL string `yaml:"url" mapstructure:"url"`

	// Token authenticates REST calls and the websocket dial.
	Token string `yaml:"token" mapstructure:"token"`

	// ViewerID is the authenticated user's identifier.
	ViewerID string `yaml:"viewer_id" mapstructure:"viewer_id"`
}

// FeedConfig tunes the feed pipeline.
type FeedConfig struct {
	// ShowJoinLeave renders system join/leave messages.
	ShowJoinLeave bool `yaml:"show_join_leave" mapstructure:"show_join_leave"`

	// GroupingWindow is the maximum gap for same-author header grouping.
	GroupingWindow time.Duration `yaml:"grouping_window" mapstructure:"grouping_window"`

	// TypingTimeout is the typing-signal expiry window.
	TypingTimeout time.Duration `yaml:"typing_timeout" mapstructure:"typing_timeout"`

	// Overscan is the windowing engine's item margin above and below the
	// viewport.
	Overscan int `yaml:"overscan" mapstructure:"overscan"`

	// PageSize is the message count requested per page fetch.
	PageSize int `yaml:"page_size" mapstructure:"page_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			GroupingWindow: 5 * time.Minute,
			TypingTimeout:  8 * time.Second,
			Overscan:       100,
			PageSize:       60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks settings that cannot be repaired with a default.
func (c *Config) Validate() error {
	if c.Feed.GroupingWindow < 0 {
		return fmt.Errorf("feed.grouping_window must not be negative")
	}
	if c.Feed.TypingTimeout <= 0 {
		return fmt.Errorf("feed.typing_timeout must be positive")
	}
	if c.Feed.Overscan < 0 {
		return fmt.Errorf("feed.overscan must not be negative")
	}
	if c.Feed.PageSize <= 0 {
		return fmt.Errorf("feed.page_size must be positive")
	}
	return nil
}
