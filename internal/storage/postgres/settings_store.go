package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/fedisync/internal/settings"
)

// SettingsStore keeps runtime settings in a name/value table.
type SettingsStore struct {
	db    DB
	table string
}

// NewSettingsStore builds a SettingsStore on db.
func NewSettingsStore(db DB, schema string) (*SettingsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	t, err := newTables(schema)
	if err != nil {
		return nil, err
	}
	return &SettingsStore{db: db, table: t.settings}, nil
}

// Get returns the stored value or settings.ErrNotFound.
func (s *SettingsStore) Get(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM `+s.table+` WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", settings.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", name, err)
	}
	return value, nil
}

// Set inserts or replaces a setting.
func (s *SettingsStore) Set(ctx context.Context, name, value string) error {
	_, err := s.db.Exec(ctx, `INSERT INTO `+s.table+` (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`, name, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", name, err)
	}
	return nil
}

// All returns every stored setting.
func (s *SettingsStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, `SELECT name, value FROM `+s.table+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return out, nil
}

// Seed stores every value whose name is not present yet, in one transaction.
func (s *SettingsStore) Seed(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer rollback(ctx, tx)
	for _, name := range names {
		if _, err := tx.Exec(ctx, `INSERT INTO `+s.table+` (name, value) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING`, name, values[name]); err != nil {
			return fmt.Errorf("seed setting %s: %w", name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}
