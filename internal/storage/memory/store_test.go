package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fedisync/internal/feed"
	"github.com/JakeFAU/fedisync/internal/settings"
)

func TestSettingsStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSettingsStore(map[string]string{settings.PageLimit: "20"})

	_, err := store.Get(ctx, settings.SyncEnabled)
	require.ErrorIs(t, err, settings.ErrNotFound)

	require.NoError(t, store.Seed(ctx, map[string]string{
		settings.PageLimit:   "50",
		settings.SyncEnabled: "true",
	}))
	v, err := store.Get(ctx, settings.PageLimit)
	require.NoError(t, err)
	require.Equal(t, "20", v)

	require.NoError(t, store.Set(ctx, settings.SyncEnabled, "false"))
	all, err := store.All(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{settings.PageLimit: "20", settings.SyncEnabled: "false"}, all)

	all[settings.PageLimit] = "1"
	v, _ = store.Get(ctx, settings.PageLimit)
	require.Equal(t, "20", v)
}

func TestCommunityStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewCommunityStore(
		feed.Community{OriginURL: "https://b.example/c/rust", Name: "rust"},
		feed.Community{OriginURL: "https://a.example/c/golang", Name: "golang"},
	)
	require.Error(t, store.UpsertCommunity(ctx, feed.Community{Name: "nameless"}))
	require.NoError(t, store.UpsertCommunity(ctx, feed.Community{OriginURL: "https://a.example/c/golang", Name: "go"}))
	require.NoError(t, store.SetRemoteID(ctx, "https://b.example/c/rust", 12))
	require.Error(t, store.SetRemoteID(ctx, "https://missing.example", 1))

	list, err := store.ListCommunities(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "go", list[0].Name)
	require.Equal(t, "rust", list[1].Name)
	require.EqualValues(t, 12, *list[1].RemoteID)

	require.NoError(t, store.UpsertCommunity(ctx, feed.Community{OriginURL: "https://b.example/c/rust", Name: "rust", Title: "Rust"}))
	list, err = store.ListCommunities(ctx)
	require.NoError(t, err)
	require.Equal(t, "Rust", list[1].Title)
	require.EqualValues(t, 12, *list[1].RemoteID)
}

func TestItemStoreUpserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewItemStore()
	community := feed.Community{OriginURL: "https://a.example/c/golang"}
	published := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveBatch(ctx, feed.Batch{
		Community: community,
		Posts:     []feed.PostView{{Post: feed.Post{ID: 1, Name: "v1", Published: published}}},
		Comments:  []feed.CommentView{{Comment: feed.Comment{ID: 4, PostID: 1}}},
	}))
	require.NoError(t, store.SaveBatch(ctx, feed.Batch{
		Community: community,
		Posts:     []feed.PostView{{Post: feed.Post{ID: 1, Name: "v2", Published: published}}},
	}))

	posts, comments, batches := store.Counts()
	require.Equal(t, 1, posts)
	require.Equal(t, 1, comments)
	require.Equal(t, 2, batches)

	post, ok := store.Post(community.OriginURL, 1)
	require.True(t, ok)
	require.Equal(t, "v2", post.Name)
}
