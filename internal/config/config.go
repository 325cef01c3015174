package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Port            int
	NatsURL         string
	NatsToken       string
	DatabaseURL     string
	LogLevel        string
	AnthropicAPIKey string
	AnthropicModel  string
	SlackBotToken   string
	SlackChannel    string
	APIToken        string
	ChannelsFile    string
	WindowHours     int
	FetchLimit      int
	MCPCommand      string
	MCPArgs         []string
	MCPTimeout      time.Duration
	OutputDir       string
	Interval        time.Duration
	Temperature     float64
	MaxOutputTokens int
}

func Load() Config {
	return Config{
		Port:            envInt("HERALD_PORT", 8760),
		NatsURL:         envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("HERALD_MODEL", "claude-sonnet-4-20250514"),
		SlackBotToken:   envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:    envStr("SLACK_DIGEST_CHANNEL", ""),
		APIToken:        envStr("HERALD_API_TOKEN", ""),
		ChannelsFile:    envStr("HERALD_CHANNELS_FILE", "channels.toml"),
		WindowHours:     envInt("HERALD_WINDOW_HOURS", 24),
		FetchLimit:      envInt("HERALD_FETCH_LIMIT", 200),
		MCPCommand:      envStr("HERALD_MCP_COMMAND", "slack-mcp-server"),
		MCPArgs:         envList("HERALD_MCP_ARGS", nil),
		MCPTimeout:      time.Duration(envInt("HERALD_MCP_TIMEOUT_SECONDS", 30)) * time.Second,
		OutputDir:       envStr("HERALD_OUTPUT_DIR", "digests"),
		Interval:        time.Duration(envInt("HERALD_INTERVAL_HOURS", 24)) * time.Hour,
		Temperature:     envFloat("HERALD_TEMPERATURE", 0.4),
		MaxOutputTokens: envInt("HERALD_MAX_TOKENS", 2048),
	}
}

// Channel is one entry from the channel roster file.
type Channel struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

type channelsFile struct {
	Channels   []Channel       `toml:"channels"`
	FetchFlags map[string]bool `toml:"fetch_flags"`
}

// LoadChannels reads the TOML channel roster. The roster holds the channel
// ids to digest plus any extra boolean flags forwarded to the history tool.
func LoadChannels(path string) ([]Channel, map[string]bool, error) {
	var f channelsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, nil, fmt.Errorf("load channels %s: %w", path, err)
	}
	if len(f.Channels) == 0 {
		return nil, nil, fmt.Errorf("load channels %s: no channels configured", path)
	}
	for i, ch := range f.Channels {
		if ch.ID == "" {
			return nil, nil, fmt.Errorf("load channels %s: channel %d has no id", path, i)
		}
		if ch.Name == "" {
			f.Channels[i].Name = ch.ID
		}
	}
	return f.Channels, f.FetchFlags, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		return strings.Fields(v)
	}
	return fallback
}
