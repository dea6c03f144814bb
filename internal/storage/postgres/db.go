// Package postgres provides Postgres-backed persistence for settings,
// communities and synchronized items.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validSchemaName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Schema          string        `mapstructure:"schema"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DB is the subset of pgxpool.Pool used by the stores.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Open connects a pool using cfg.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// tables resolves the qualified table names for schema.
type tables struct {
	settings    string
	communities string
	posts       string
	comments    string
}

func newTables(schema string) (tables, error) {
	prefix := ""
	if schema = strings.TrimSpace(schema); schema != "" {
		if !validSchemaName.MatchString(schema) {
			return tables{}, fmt.Errorf("invalid schema name %q", schema)
		}
		prefix = schema + "."
	}
	return tables{
		settings:    prefix + "settings",
		communities: prefix + "communities",
		posts:       prefix + "posts",
		comments:    prefix + "comments",
	}, nil
}

// Migrate creates the tables used by the stores when they are missing.
func Migrate(ctx context.Context, db DB, schema string) error {
	t, err := newTables(schema)
	if err != nil {
		return err
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + t.settings + ` (
			name  TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.communities + ` (
			origin_url            TEXT PRIMARY KEY,
			origin_type           TEXT NOT NULL DEFAULT '',
			remote_id             BIGINT,
			name                  TEXT NOT NULL,
			title                 TEXT NOT NULL DEFAULT '',
			description           TEXT NOT NULL DEFAULT '',
			icon                  TEXT NOT NULL DEFAULT '',
			banner                TEXT NOT NULL DEFAULT '',
			nsfw                  BOOLEAN NOT NULL DEFAULT FALSE,
			post_fetch_days       INTEGER NOT NULL DEFAULT 0,
			fetch_comments        BOOLEAN NOT NULL DEFAULT FALSE,
			refresh_comments_days INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.posts + ` (
			origin_url   TEXT NOT NULL,
			remote_id    BIGINT NOT NULL,
			name         TEXT NOT NULL,
			url          TEXT NOT NULL DEFAULT '',
			body         TEXT NOT NULL DEFAULT '',
			nsfw         BOOLEAN NOT NULL DEFAULT FALSE,
			activity_url TEXT NOT NULL DEFAULT '',
			published    TIMESTAMPTZ NOT NULL,
			updated      TIMESTAMPTZ,
			fetched_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (origin_url, remote_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + t.comments + ` (
			origin_url   TEXT NOT NULL,
			remote_id    BIGINT NOT NULL,
			post_id      BIGINT NOT NULL,
			parent_id    BIGINT,
			content      TEXT NOT NULL,
			activity_url TEXT NOT NULL DEFAULT '',
			published    TIMESTAMPTZ NOT NULL,
			updated      TIMESTAMPTZ,
			fetched_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (origin_url, remote_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(context.WithoutCancel(ctx))
}
