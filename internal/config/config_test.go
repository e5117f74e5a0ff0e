package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/TheGrinnerWx/Eas-Discord-posting-bot/pkg/logx"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("EAS_FEED_URL", "")
	t.Setenv("CHECK_INTERVAL_SECONDS", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.URL != DefaultFeedURL {
		t.Fatalf("feed url = %q", cfg.Feed.URL)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.DeliveredPath != DefaultDeliveredPath {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	if got := cfg.PollInterval(logx.Nop()); got != DefaultPollInterval {
		t.Fatalf("interval = %v", got)
	}
	if !cfg.ConsoleEnabled() {
		t.Fatal("console should default on")
	}
}

func TestLoadFileJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "discord": {"token": "tok"},
  "feed": {"interval": "90s"},
  "logging": {"level": "debug", "console": false}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "tok" {
		t.Fatalf("token = %q", cfg.Discord.Token)
	}
	if got := cfg.PollInterval(logx.Nop()); got != 90*time.Second {
		t.Fatalf("interval = %v", got)
	}
	if cfg.ConsoleEnabled() {
		t.Fatal("console explicitly disabled")
	}
}

func TestLoadFileYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
discord:
  token: tok
feed:
  interval: 2m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "tok" {
		t.Fatalf("token = %q", cfg.Discord.Token)
	}
	if got := cfg.PollInterval(logx.Nop()); got != 2*time.Minute {
		t.Fatalf("interval = %v", got)
	}
}

func TestDecodeFileBytes(t *testing.T) {
	// Non-YAML extensions pass through untouched.
	raw := []byte(`{"discord":{"token":"tok"}}`)
	out, err := decodeFileBytes("config.json", raw)
	if err != nil {
		t.Fatalf("decodeFileBytes: %v", err)
	}
	if string(out) != string(raw) {
		t.Fatalf("json passthrough changed bytes: %q", out)
	}

	// Nested YAML mappings become JSON objects with string keys.
	out, err = decodeFileBytes("config.yml", []byte("storage:\n  driver: file\n"))
	if err != nil {
		t.Fatalf("decodeFileBytes: %v", err)
	}
	var v map[string]map[string]string
	if err := json.Unmarshal(out, &v); err != nil {
		t.Fatalf("coerced output is not JSON: %v", err)
	}
	if v["storage"]["driver"] != "file" {
		t.Fatalf("coerced = %v", v)
	}

	if _, err := decodeFileBytes("config.yaml", []byte("{{not yaml")); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", "feeed:\n  url: x\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field in yaml")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.json", `{"feeed": {}}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Feed.URL != DefaultFeedURL {
		t.Fatalf("feed url = %q", cfg.Feed.URL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "env-tok")
	t.Setenv("EAS_FEED_URL", "https://example.com/feed")
	t.Setenv("CHECK_INTERVAL_SECONDS", "45")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "env-tok" {
		t.Fatalf("token = %q", cfg.Discord.Token)
	}
	if cfg.Feed.URL != "https://example.com/feed" {
		t.Fatalf("feed url = %q", cfg.Feed.URL)
	}
	if got := cfg.PollInterval(logx.Nop()); got != 45*time.Second {
		t.Fatalf("interval = %v", got)
	}
}

func TestPollInterval(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Duration
	}{
		{"empty uses default", "", DefaultPollInterval},
		{"bare seconds", "300", 300 * time.Second},
		{"duration string", "5m", 5 * time.Minute},
		{"below floor clamps", "10", MinPollInterval},
		{"duration below floor clamps", "5s", MinPollInterval},
		{"garbage uses default", "soon", DefaultPollInterval},
		{"negative uses floor", "-60", MinPollInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Feed: FeedConfig{Interval: tt.raw}}
			if got := cfg.PollInterval(logx.Nop()); got != tt.want {
				t.Fatalf("PollInterval(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Feed: FeedConfig{URL: DefaultFeedURL}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without token")
	}
	cfg.Discord.Token = "tok"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	cfg.Feed.URL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error without feed url")
	}
}

func TestTimeouts(t *testing.T) {
	cfg := &Config{}
	if cfg.FeedTimeout() != DefaultFeedTimeout || cfg.AudioTimeout() != DefaultAudioTimeout {
		t.Fatal("timeout defaults wrong")
	}
	cfg.Feed.Timeout = "10s"
	cfg.Feed.AudioTimeout = "bogus"
	if cfg.FeedTimeout() != 10*time.Second || cfg.AudioTimeout() != DefaultAudioTimeout {
		t.Fatal("timeout parsing wrong")
	}
}
