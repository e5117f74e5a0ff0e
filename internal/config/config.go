package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

// Defaults mirror the long-standing operational values of the bot.
const (
	DefaultFeedURL = "https://alerts.globaleas.org/api/v1/alerts/active"

	DefaultPollInterval = 120 * time.Second
	MinPollInterval     = 30 * time.Second

	DefaultFeedTimeout  = 30 * time.Second
	DefaultAudioTimeout = 45 * time.Second

	DefaultDeliveredPath = "./posted_globaleas_alerts.txt"
	DefaultTenantsPath   = "./tenants.json"
)

type Config struct {
	Discord DiscordConfig `json:"discord"`
	Feed    FeedConfig    `json:"feed"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
}

type DiscordConfig struct {
	Token string `json:"token"`
}

// FeedConfig controls polling of the alert feed.
//
// All durations are Go duration strings (e.g. "90s", "2m").
type FeedConfig struct {
	URL          string `json:"url"`
	Interval     string `json:"interval"`
	Timeout      string `json:"timeout"`
	AudioTimeout string `json:"audio_timeout"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Console is a pointer so "omitted" (default true) can be told apart
	// from an explicit false.
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Driver values:
//   - "file": newline-delimited delivered set + JSON tenant map (default)
//   - "sqlite": single SQLite database file (optional build tag)
type StorageConfig struct {
	Driver        string `json:"driver"`
	DeliveredPath string `json:"delivered_path"`
	TenantsPath   string `json:"tenants_path"`
	SQLitePath    string `json:"sqlite_path,omitempty"`  // sqlite driver only
	BusyTimeout   string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Load builds the process configuration: defaults, then the optional
// config file (JSON or YAML), then environment overrides.
//
// The file is strict: unknown fields are rejected so typos surface early.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Feed: FeedConfig{URL: DefaultFeedURL},
		Storage: StorageConfig{
			Driver:        "file",
			DeliveredPath: DefaultDeliveredPath,
			TenantsPath:   DefaultTenantsPath,
		},
	}

	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else {
			jb, err := decodeFileBytes(path, b)
			if err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			dec := json.NewDecoder(bytes.NewReader(jb))
			dec.DisallowUnknownFields()
			if err := dec.Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			// reject trailing tokens (e.g. concatenated JSON)
			if err := dec.Decode(&struct{}{}); err != io.EOF {
				if err == nil {
					return nil, fmt.Errorf("parse config %s: trailing data", path)
				}
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")); v != "" {
		cfg.Discord.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("EAS_FEED_URL")); v != "" {
		cfg.Feed.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHECK_INTERVAL_SECONDS")); v != "" {
		cfg.Feed.Interval = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the settings the process cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return errors.New("discord token is not set (DISCORD_BOT_TOKEN)")
	}
	if strings.TrimSpace(c.Feed.URL) == "" {
		return errors.New("feed.url is empty")
	}
	return nil
}

func (c *Config) ConsoleEnabled() bool {
	if c.Logging.Console == nil {
		return true
	}
	return *c.Logging.Console
}

// PollInterval resolves the poll interval: bare integers are seconds
// (matching the CHECK_INTERVAL_SECONDS environment variable), otherwise a
// Go duration string. Invalid values fall back to the default; values
// below the floor are clamped so the feed is not hammered.
func (c *Config) PollInterval(log logx.Logger) time.Duration {
	raw := strings.TrimSpace(c.Feed.Interval)
	if raw == "" {
		return DefaultPollInterval
	}

	var d time.Duration
	if secs, err := strconv.Atoi(raw); err == nil {
		d = time.Duration(secs) * time.Second
	} else {
		var perr error
		d, perr = time.ParseDuration(raw)
		if perr != nil {
			log.Warn("invalid feed.interval; using default",
				logx.String("raw", raw), logx.Duration("default", DefaultPollInterval))
			return DefaultPollInterval
		}
	}

	if d < MinPollInterval {
		log.Warn("feed.interval below minimum; clamping",
			logx.Duration("requested", d), logx.Duration("min", MinPollInterval))
		return MinPollInterval
	}
	return d
}

func (c *Config) FeedTimeout() time.Duration {
	return durationOrDefault(c.Feed.Timeout, DefaultFeedTimeout)
}

func (c *Config) AudioTimeout() time.Duration {
	return durationOrDefault(c.Feed.AudioTimeout, DefaultAudioTimeout)
}

func (c *Config) StorageBusyTimeout() time.Duration {
	return durationOrDefault(c.Storage.BusyTimeout, 0)
}

func durationOrDefault(raw string, def time.Duration) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
