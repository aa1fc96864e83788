package slack

import (
	"errors"
	"strings"
	"time"
)

const defaultAPIURL = "https://slack.com/api"

// Config holds the Slack channel configuration.
type Config struct {
	// AppToken is the app-level token (xapp-...) used for Socket Mode.
	AppToken string `yaml:"app_token"`

	// BotToken is the bot token (xoxb-...) used for Web API calls.
	BotToken string `yaml:"bot_token"`

	// ChannelID is the Slack channel where prompts are posted.
	ChannelID string `yaml:"channel_id"`

	// APIURL overrides the Web API base URL. Used in tests.
	APIURL string `yaml:"api_url"`

	// AllowUsers restricts who may decide. Empty allows any member of the
	// channel; entries are Slack user IDs (U...).
	AllowUsers []string `yaml:"allow_users"`

	// ReconnectMax caps the Socket Mode reconnect backoff. Defaults to 30s.
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

func (c *Config) defaults() {
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	c.APIURL = strings.TrimRight(c.APIURL, "/")
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.AppToken == "" {
		return errors.New("slack: app_token is required")
	}
	if c.BotToken == "" {
		return errors.New("slack: bot_token is required")
	}
	if c.ChannelID == "" {
		return errors.New("slack: channel_id is required")
	}
	return nil
}

// userAllowed reports whether a Slack user ID may decide requests.
func (c *Config) userAllowed(userID string) bool {
	if len(c.AllowUsers) == 0 {
		return true
	}
	for _, u := range c.AllowUsers {
		if u == userID {
			return true
		}
	}
	return false
}
