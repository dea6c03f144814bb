// Package config loads and validates fedisync configuration via Viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fedisync/internal/feed"
	"github.com/JakeFAU/fedisync/internal/logging"
	"github.com/JakeFAU/fedisync/internal/policy/ratelimit"
	"github.com/JakeFAU/fedisync/internal/publisher/pubsub"
	"github.com/JakeFAU/fedisync/internal/settings"
	"github.com/JakeFAU/fedisync/internal/storage"
	"github.com/JakeFAU/fedisync/internal/storage/postgres"
)

// EnvPrefix is prepended to every environment override, e.g.
// FEDISYNC_SERVER_PORT.
const EnvPrefix = "FEDISYNC"

// Database backends.
const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig     `mapstructure:"server"`
	Auth        AuthConfig       `mapstructure:"auth"`
	Logging     logging.Config   `mapstructure:"logging"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Lemmy       LemmyConfig      `mapstructure:"lemmy"`
	Gotify      GotifyConfig     `mapstructure:"gotify"`
	Scheduler   SchedulerConfig  `mapstructure:"scheduler"`
	Archive     storage.Config   `mapstructure:"archive"`
	PubSub      PubSubConfig     `mapstructure:"pubsub"`
	Communities []feed.Community `mapstructure:"communities"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Backend  string          `mapstructure:"backend"`
	Migrate  bool            `mapstructure:"migrate"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// LemmyConfig describes the destination instance and outbound client.
type LemmyConfig struct {
	URI            string           `mapstructure:"uri"`
	APIPath        string           `mapstructure:"api_path"`
	AdminUsername  string           `mapstructure:"admin_username"`
	AdminPassword  string           `mapstructure:"admin_password"`
	TimeoutSeconds int              `mapstructure:"timeout_seconds"`
	UserAgent      string           `mapstructure:"user_agent"`
	RateLimit      ratelimit.Config `mapstructure:"rate_limit"`
}

// GotifyConfig seeds the push service settings.
type GotifyConfig struct {
	URI         string `mapstructure:"uri"`
	AppToken    string `mapstructure:"app_token"`
	ClientToken string `mapstructure:"client_token"`
	AppID       int64  `mapstructure:"app_id"`
	MinPriority int    `mapstructure:"min_priority"`
}

// SchedulerConfig seeds the round settings.
type SchedulerConfig struct {
	Enabled              bool     `mapstructure:"enabled"`
	ParallelPostFetch    int      `mapstructure:"parallel_post_fetch"`
	ScanDelayMinutes     int      `mapstructure:"scan_delay_minutes"`
	PageLimit            int      `mapstructure:"page_limit"`
	DefaultPostFetchDays int      `mapstructure:"default_post_fetch_days"`
	LogFilterTokens      []string `mapstructure:"log_filter_tokens"`
}

// PubSubConfig enables batch announcements on a Pub/Sub topic.
type PubSubConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	pubsub.Config `mapstructure:",squash"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.backend", DatabaseMemory)
	v.SetDefault("database.migrate", true)
	v.SetDefault("database.postgres.dsn", "")
	v.SetDefault("database.postgres.schema", "")
	v.SetDefault("database.postgres.max_conns", 4)
	v.SetDefault("lemmy.uri", "")
	v.SetDefault("lemmy.api_path", "/api/v3")
	v.SetDefault("lemmy.admin_username", "")
	v.SetDefault("lemmy.admin_password", "")
	v.SetDefault("lemmy.timeout_seconds", 30)
	v.SetDefault("lemmy.user_agent", "fedisync/1.0")
	v.SetDefault("lemmy.rate_limit.default_rps", 5)
	v.SetDefault("lemmy.rate_limit.default_burst", 5)
	v.SetDefault("gotify.uri", "")
	v.SetDefault("gotify.app_token", "")
	v.SetDefault("gotify.client_token", "")
	v.SetDefault("gotify.app_id", -1)
	v.SetDefault("gotify.min_priority", 2)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.parallel_post_fetch", 4)
	v.SetDefault("scheduler.scan_delay_minutes", 10)
	v.SetDefault("scheduler.page_limit", 50)
	v.SetDefault("scheduler.default_post_fetch_days", 7)
	v.SetDefault("scheduler.log_filter_tokens", []string{})
	v.SetDefault("archive.backend", storage.BackendNone)
	v.SetDefault("archive.prefix", "archive")
	v.SetDefault("archive.local.base_dir", "")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Database.Backend {
	case DatabaseMemory:
	case DatabasePostgres:
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("database.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("database.backend must be %q or %q", DatabaseMemory, DatabasePostgres)
	}
	if c.Lemmy.TimeoutSeconds <= 0 {
		return fmt.Errorf("lemmy.timeout_seconds must be > 0")
	}
	switch strings.ToLower(c.Archive.Backend) {
	case "", storage.BackendNone, storage.BackendMemory:
	case storage.BackendLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir is required for the local backend")
		}
	case storage.BackendGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set when pubsub is enabled")
	}
	seen := make(map[string]bool, len(c.Communities))
	for i, community := range c.Communities {
		if strings.TrimSpace(community.OriginURL) == "" {
			return fmt.Errorf("communities[%d].origin_url is required", i)
		}
		if seen[community.OriginURL] {
			return fmt.Errorf("communities[%d]: duplicate origin_url %q", i, community.OriginURL)
		}
		seen[community.OriginURL] = true
	}
	return nil
}

// LemmyTimeout returns the outbound request timeout.
func (c Config) LemmyTimeout() time.Duration {
	return time.Duration(c.Lemmy.TimeoutSeconds) * time.Second
}

// SettingsSeed converts the configured values into settings rows. Values
// already present in the settings store take precedence over these.
func (c Config) SettingsSeed() map[string]string {
	return map[string]string{
		settings.SyncEnabled:          strconv.FormatBool(c.Scheduler.Enabled),
		settings.ParallelPostFetch:    strconv.Itoa(c.Scheduler.ParallelPostFetch),
		settings.ScanDelayMinutes:     strconv.Itoa(c.Scheduler.ScanDelayMinutes),
		settings.PageLimit:            strconv.Itoa(c.Scheduler.PageLimit),
		settings.DefaultPostFetchDays: strconv.Itoa(c.Scheduler.DefaultPostFetchDays),
		settings.LogFilterTokens:      strings.Join(c.Scheduler.LogFilterTokens, ";"),
		settings.LemmyURI:             c.Lemmy.URI,
		settings.LemmyAPIPath:         c.Lemmy.APIPath,
		settings.LemmyAdminUsername:   c.Lemmy.AdminUsername,
		settings.LemmyAdminPassword:   c.Lemmy.AdminPassword,
		settings.GotifyURI:            c.Gotify.URI,
		settings.GotifyAppToken:       c.Gotify.AppToken,
		settings.GotifyClientToken:    c.Gotify.ClientToken,
		settings.GotifyAppID:          strconv.FormatInt(c.Gotify.AppID, 10),
		settings.GotifyMinPriority:    strconv.Itoa(c.Gotify.MinPriority),
	}
}
