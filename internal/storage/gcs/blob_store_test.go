package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(context.Background(), client, Config{Bucket: " "})
	require.ErrorContains(t, err, "bucket")

	store, err := New(context.Background(), client, Config{Bucket: "archive", Prefix: "/fedisync/"})
	require.NoError(t, err)
	require.Equal(t, "fedisync/golang/1.json", store.ObjectName("/golang/1.json"))

	_, err = store.PutObject(context.Background(), "", "application/json", nil)
	require.ErrorContains(t, err, "path")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		prefix, path, want string
	}{
		{"", "golang/1.json", "golang/1.json"},
		{"archive", "golang/1.json", "archive/golang/1.json"},
		{"archive/", "/golang/1.json", "archive/golang/1.json"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ObjectName(tc.prefix, tc.path))
	}
}
