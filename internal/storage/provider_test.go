package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fedisync/internal/storage/local"
	"github.com/JakeFAU/fedisync/internal/storage/memory"
)

func TestOpenSelectsBackend(t *testing.T) {
	t.Parallel()

	store, closeFn, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	require.Nil(t, store)
	require.NoError(t, closeFn())

	store, _, err = Open(context.Background(), Config{Backend: "Memory"})
	require.NoError(t, err)
	require.IsType(t, &memory.BlobStore{}, store)

	dir := filepath.Join(t.TempDir(), "archive")
	store, _, err = Open(context.Background(), Config{Backend: BackendLocal, Local: local.Config{BaseDir: dir}})
	require.NoError(t, err)
	require.IsType(t, &local.BlobStore{}, store)

	_, _, err = Open(context.Background(), Config{Backend: BackendLocal})
	require.Error(t, err)

	_, _, err = Open(context.Background(), Config{Backend: "s3"})
	require.ErrorContains(t, err, "unknown archive backend")
}
