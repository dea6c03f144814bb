package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fedisync/internal/clock"
	"github.com/JakeFAU/fedisync/internal/feed"
	"github.com/JakeFAU/fedisync/internal/publisher/memory"
	"github.com/JakeFAU/fedisync/internal/settings"
	memstore "github.com/JakeFAU/fedisync/internal/storage/memory"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	posts         []feed.PostView
	comments      []feed.CommentView
	err           error
	postWindow    time.Duration
	commentWindow time.Duration
	commentCalls  int
}

func (f *fakeFetcher) FetchPosts(_ context.Context, _ feed.Community, window time.Duration) ([]feed.PostView, error) {
	f.postWindow = window
	return f.posts, f.err
}

func (f *fakeFetcher) FetchComments(_ context.Context, _ feed.Community, window time.Duration) ([]feed.CommentView, error) {
	f.commentCalls++
	f.commentWindow = window
	return f.comments, f.err
}

type failingItems struct{}

func (failingItems) SaveBatch(context.Context, feed.Batch) error { return errors.New("db down") }

func golang() feed.Community {
	return feed.Community{Name: "golang", OriginURL: "https://a.example/c/golang"}
}

func TestProcessStoresArchivesAndPublishes(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		posts:    []feed.PostView{{Post: feed.Post{ID: 1, Name: "hello", Published: now}}},
		comments: []feed.CommentView{{Comment: feed.Comment{ID: 2, PostID: 1, Published: now}}},
	}
	items := memstore.NewItemStore()
	blobs := memstore.NewBlobStore()
	pub := memory.New(0, clock.Fixed(now))
	p := New(fetcher, items, blobs, pub, memstore.NewSettingsStore(nil), clock.Fixed(now), nil, Config{ArchivePrefix: "archive"})

	community := golang()
	community.PostFetchDays = 3
	community.FetchComments = true
	community.RefreshCommentsDays = 1
	require.NoError(t, p.Process(context.Background(), community))

	require.Equal(t, 3*24*time.Hour, fetcher.postWindow)
	require.Equal(t, 24*time.Hour, fetcher.commentWindow)

	posts, comments, batches := items.Counts()
	require.Equal(t, 1, posts)
	require.Equal(t, 1, comments)
	require.Equal(t, 1, batches)

	path := "archive/golang/" + "1748779200.json"
	data, contentType, ok := blobs.Object(path)
	require.True(t, ok)
	require.Equal(t, "application/json", contentType)
	var archived feed.Batch
	require.NoError(t, json.Unmarshal(data, &archived))
	require.Equal(t, "hello", archived.Posts[0].Post.Name)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, EventItemsFetched, msgs[0].Event)
	payload, ok := msgs[0].Payload.(ItemsFetched)
	require.True(t, ok)
	require.Equal(t, 1, payload.Posts)
	require.Equal(t, 1, payload.Comments)
	require.Equal(t, "memory://"+path, payload.ArchiveURI)
}

func TestProcessUsesDefaultWindowAndSkipsComments(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	store := memstore.NewSettingsStore(map[string]string{settings.DefaultPostFetchDays: "2"})
	pub := memory.New(0, clock.Fixed(now))
	p := New(fetcher, nil, nil, pub, store, clock.Fixed(now), nil, Config{})

	require.NoError(t, p.Process(context.Background(), golang()))
	require.Equal(t, 2*24*time.Hour, fetcher.postWindow)
	require.Zero(t, fetcher.commentCalls)
	require.Empty(t, pub.Messages())

	p = New(fetcher, nil, nil, nil, memstore.NewSettingsStore(nil), clock.Fixed(now), nil, Config{})
	require.NoError(t, p.Process(context.Background(), golang()))
	require.Equal(t, 7*24*time.Hour, fetcher.postWindow)
}

func TestProcessPropagatesFailures(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: context.Canceled}
	p := New(fetcher, nil, nil, nil, nil, clock.Fixed(now), nil, Config{})
	require.ErrorIs(t, p.Process(context.Background(), golang()), context.Canceled)

	fetcher = &fakeFetcher{posts: []feed.PostView{{Post: feed.Post{ID: 1}}}}
	pub := memory.New(0, clock.Fixed(now))
	p = New(fetcher, failingItems{}, nil, pub, nil, clock.Fixed(now), nil, Config{})
	err := p.Process(context.Background(), golang())
	require.ErrorContains(t, err, "save items")
	require.ErrorContains(t, err, "db down")
	require.Empty(t, pub.Messages())
}

func TestArchivePathAndSlug(t *testing.T) {
	t.Parallel()

	fetched := time.Unix(1700000000, 0)
	require.Equal(t, "archive/golang/1700000000.json", ArchivePath("/archive/", golang(), fetched))
	require.Equal(t, "golang/1700000000.json", ArchivePath("", golang(), fetched))

	cases := []struct {
		community feed.Community
		want      string
	}{
		{feed.Community{Name: "Go Lang!!"}, "go-lang"},
		{feed.Community{Name: "  rust_lang "}, "rust_lang"},
		{feed.Community{Name: "***", OriginURL: "https://lemmy.World/c/x"}, "lemmy-world"},
		{feed.Community{}, "community"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Slug(tc.community))
	}
}

type fakeDestination struct {
	missing bool
	found   *feed.CommunityView
	created *feed.CommunityView
	lookups int
	creates int
}

func (d *fakeDestination) Configured(context.Context) bool { return !d.missing }

func (d *fakeDestination) GetCommunity(context.Context, feed.Community) (*feed.CommunityView, error) {
	d.lookups++
	return d.found, nil
}

func (d *fakeDestination) CreateCommunity(context.Context, feed.Community) (*feed.CommunityView, error) {
	d.creates++
	return d.created, nil
}

func TestProcessResolvesDestinationCommunity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	communities := memstore.NewCommunityStore(golang())
	dest := &fakeDestination{created: &feed.CommunityView{Community: feed.RemoteCommunity{ID: 42, Name: "golang"}}}
	p := New(&fakeFetcher{}, nil, nil, nil, nil, clock.Fixed(now), nil, Config{}, WithDestination(dest, communities))

	require.NoError(t, p.Process(ctx, golang()))
	require.Equal(t, 1, dest.lookups)
	require.Equal(t, 1, dest.creates)

	list, err := communities.ListCommunities(ctx)
	require.NoError(t, err)
	require.NotNil(t, list[0].RemoteID)
	require.EqualValues(t, 42, *list[0].RemoteID)

	require.NoError(t, p.Process(ctx, list[0]))
	require.Equal(t, 1, dest.lookups)
}

func TestProcessLeavesCommunityUnresolvedOnLookupFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	communities := memstore.NewCommunityStore(golang())
	dest := &fakeDestination{}
	fetcher := &fakeFetcher{}
	p := New(fetcher, nil, nil, nil, nil, clock.Fixed(now), nil, Config{}, WithDestination(dest, communities))

	require.NoError(t, p.Process(ctx, golang()))
	require.Equal(t, 1, dest.creates)
	require.NotZero(t, fetcher.postWindow)

	list, err := communities.ListCommunities(ctx)
	require.NoError(t, err)
	require.Nil(t, list[0].RemoteID)
}

func TestProcessSkipsResolutionWithoutDestination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	communities := memstore.NewCommunityStore(golang())
	dest := &fakeDestination{missing: true}
	fetcher := &fakeFetcher{}
	p := New(fetcher, nil, nil, nil, nil, clock.Fixed(now), nil, Config{}, WithDestination(dest, communities))

	require.NoError(t, p.Process(ctx, golang()))
	require.Zero(t, dest.lookups)
	require.Zero(t, dest.creates)
	require.NotZero(t, fetcher.postWindow)
}
