package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/fedisync/internal/feed"
	"github.com/JakeFAU/fedisync/internal/settings"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: true
  level: debug
database:
  backend: postgres
  postgres:
    dsn: postgres://fedisync@localhost/fedisync
    schema: sync
    max_conns: 8
lemmy:
  uri: https://lemmy.example
  admin_username: admin
  admin_password: hunter2
  timeout_seconds: 45
  rate_limit:
    default_rps: 2
gotify:
  uri: https://push.example
  app_token: app
  app_id: 3
  min_priority: 5
scheduler:
  parallel_post_fetch: 2
  scan_delay_minutes: 15
  log_filter_tokens: ["timeout", "429"]
archive:
  backend: local
  prefix: snapshots
  local:
    base_dir: /tmp/fedisync
pubsub:
  enabled: true
  project_id: proj
  topic_id: items
communities:
  - origin_url: https://a.example/c/golang
    name: golang
    post_fetch_days: 3
    fetch_comments: true
  - origin_url: https://b.example/c/rust
    name: rust
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Database.Postgres.Schema != "sync" || cfg.Database.Postgres.MaxConns != 8 {
		t.Fatalf("unexpected postgres config: %+v", cfg.Database.Postgres)
	}
	if cfg.Lemmy.APIPath != "/api/v3" || cfg.Lemmy.RateLimit.DefaultRPS != 2 {
		t.Fatalf("unexpected lemmy config: %+v", cfg.Lemmy)
	}
	if got := cfg.LemmyTimeout(); got != 45*time.Second {
		t.Fatalf("expected lemmy timeout 45s, got %v", got)
	}
	if !cfg.PubSub.Enabled || cfg.PubSub.TopicID != "items" {
		t.Fatalf("unexpected pubsub config: %+v", cfg.PubSub)
	}
	if cfg.Archive.Local.BaseDir != "/tmp/fedisync" || cfg.Archive.Prefix != "snapshots" {
		t.Fatalf("unexpected archive config: %+v", cfg.Archive)
	}
	if len(cfg.Communities) != 2 {
		t.Fatalf("expected 2 communities, got %d", len(cfg.Communities))
	}
	golang := cfg.Communities[0]
	if golang.Name != "golang" || golang.PostFetchDays != 3 || !golang.FetchComments {
		t.Fatalf("unexpected community: %+v", golang)
	}

	seed := cfg.SettingsSeed()
	want := map[string]string{
		settings.SyncEnabled:       "true",
		settings.ParallelPostFetch: "2",
		settings.ScanDelayMinutes:  "15",
		settings.PageLimit:         "50",
		settings.LogFilterTokens:   "timeout;429",
		settings.GotifyAppID:       "3",
		settings.GotifyMinPriority: "5",
		settings.LemmyURI:          "https://lemmy.example",
	}
	for k, v := range want {
		if seed[k] != v {
			t.Fatalf("seed[%s] = %q, want %q", k, seed[k], v)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Backend != DatabaseMemory {
		t.Fatalf("expected memory backend, got %q", cfg.Database.Backend)
	}
	seed := cfg.SettingsSeed()
	if seed[settings.GotifyAppID] != "-1" || seed[settings.GotifyMinPriority] != "2" {
		t.Fatalf("unexpected gotify defaults: %v", seed)
	}
	if seed[settings.ScanDelayMinutes] != "10" || seed[settings.DefaultPostFetchDays] != "7" {
		t.Fatalf("unexpected scheduler defaults: %v", seed)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FEDISYNC_SERVER_PORT", "7070")
	t.Setenv("FEDISYNC_LEMMY_URI", "https://env.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Lemmy.URI != "https://env.example" {
		t.Fatalf("expected env lemmy uri, got %q", cfg.Lemmy.URI)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	golang := feed.Community{OriginURL: "https://a.example/c/golang", Name: "golang"}
	cases := []struct {
		want   string
		mutate func(*Config)
	}{
		{"server.port", func(c *Config) { c.Server.Port = 0 }},
		{"auth.api_key", func(c *Config) { c.Auth.Enabled = true }},
		{"logging.level", func(c *Config) { c.Logging.Level = "loud" }},
		{"database.backend", func(c *Config) { c.Database.Backend = "sqlite" }},
		{"database.postgres.dsn", func(c *Config) { c.Database.Backend = DatabasePostgres }},
		{"lemmy.timeout_seconds", func(c *Config) { c.Lemmy.TimeoutSeconds = 0 }},
		{"archive.gcs.bucket", func(c *Config) { c.Archive.Backend = "gcs" }},
		{"archive.local.base_dir", func(c *Config) { c.Archive.Backend = "local" }},
		{"archive.backend", func(c *Config) { c.Archive.Backend = "s3" }},
		{"pubsub.project_id", func(c *Config) { c.PubSub.Enabled = true }},
		{"communities[0].origin_url", func(c *Config) { c.Communities = []feed.Community{{Name: "x"}} }},
		{"duplicate origin_url", func(c *Config) { c.Communities = []feed.Community{golang, golang} }},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("Validate() error = %v, want mention of %q", err, tc.want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
