// Package storage selects the blob store used to archive fetched batches.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	gstorage "cloud.google.com/go/storage"

	"github.com/JakeFAU/fedisync/internal/storage/gcs"
	"github.com/JakeFAU/fedisync/internal/storage/local"
	"github.com/JakeFAU/fedisync/internal/storage/memory"
)

// Supported archive backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// BlobStore archives raw snapshots.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Config selects and configures the archive backend.
type Config struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// Open builds the configured blob store. It returns a nil store for the
// none backend. The returned close function is never nil.
func Open(ctx context.Context, cfg Config) (BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return nil, noop, nil
	case BackendMemory:
		return memory.NewBlobStore(), noop, nil
	case BackendLocal:
		store, err := local.New(cfg.Local)
		if err != nil {
			return nil, noop, fmt.Errorf("local archive: %w", err)
		}
		return store, noop, nil
	case BackendGCS:
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(ctx, client, cfg.GCS)
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("gcs archive: %w", err)
		}
		return store, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}
