package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fedisync/internal/clock"
	"github.com/JakeFAU/fedisync/internal/notify/gotify"
	"github.com/JakeFAU/fedisync/internal/settings"
)

type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings(kv map[string]string) *memSettings {
	if kv == nil {
		kv = map[string]string{}
	}
	return &memSettings{values: kv}
}

func (m *memSettings) Get(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[name]
	if !ok {
		return "", settings.ErrNotFound
	}
	return v, nil
}

type fakeRemote struct {
	mu        sync.Mutex
	nextID    int64
	created   []gotify.Message
	deleted   []int64
	bulk      []int64
	listed    []gotify.Message
	listErr   error
	createErr error
	streamed  chan func(gotify.Message)
}

func (f *fakeRemote) CreateMessage(_ context.Context, title, body string, priority int) (gotify.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return gotify.Message{}, f.createErr
	}
	f.nextID++
	msg := gotify.Message{ID: 100 + f.nextID, AppID: 5, Title: title, Message: body, Priority: priority}
	f.created = append(f.created, msg)
	return msg, nil
}

func (f *fakeRemote) DeleteMessage(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRemote) DeleteApplicationMessages(_ context.Context, appID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, appID)
	return nil
}

func (f *fakeRemote) ApplicationMessages(context.Context, int64) ([]gotify.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listed, f.listErr
}

func (f *fakeRemote) Stream(ctx context.Context, _ int64, handle func(gotify.Message)) {
	f.streamed <- handle
	<-ctx.Done()
}

func (f *fakeRemote) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func remoteSettings(extra map[string]string) *memSettings {
	kv := map[string]string{
		settings.GotifyURI:      "https://push.example",
		settings.GotifyAppToken: "app",
		settings.GotifyAppID:    "5",
	}
	for k, v := range extra {
		kv[k] = v
	}
	return newMemSettings(kv)
}

func newRemoteDispatcher(store settings.Reader, remote *fakeRemote) *Dispatcher {
	return New(store, clock.Fixed(fixedNow), zap.NewNop(), WithRemoteFactory(
		func(gotify.Config, *zap.Logger) (Remote, error) { return remote, nil },
	))
}

func TestPushStoresLocallyWithIncreasingIDs(t *testing.T) {
	t.Parallel()

	d := New(newMemSettings(nil), clock.Fixed(fixedNow), nil)
	d.Push(context.Background(), "first", "a", SeverityInformation)
	d.Push(context.Background(), "second", "b", SeverityError)

	list := d.List(context.Background())
	require.Len(t, list, 2)
	require.Equal(t, "second", list[0].Title)
	require.EqualValues(t, 2, list[0].ID)
	require.EqualValues(t, 1, list[1].ID)
	require.Equal(t, 8, list[0].Priority)
	require.Equal(t, fixedNow, list[0].Date)
	require.Nil(t, list[0].ExternalID)
}

func TestPushSuppressesMatchingTokens(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	store := remoteSettings(map[string]string{
		settings.LogFilterTokens: " foo ; ;bar",
		settings.GotifyAppID:     "-1",
	})
	d := newRemoteDispatcher(store, remote)

	d.Push(context.Background(), "Foobar", "body", SeverityCritical)
	d.Push(context.Background(), "title", "something BAR here", SeverityCritical)
	d.Push(context.Background(), "kept", "body", SeverityCritical)

	list := d.List(context.Background())
	require.Len(t, list, 1)
	require.Equal(t, "kept", list[0].Title)
	require.Equal(t, 1, remote.createdCount())
}

func TestPushForwardsAtOrAboveMinimumPriority(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	store := remoteSettings(map[string]string{settings.GotifyMinPriority: "5", settings.GotifyAppID: "0"})
	d := newRemoteDispatcher(store, remote)

	d.Push(context.Background(), "info", "", SeverityInformation)
	d.Push(context.Background(), "warn", "", SeverityWarning)
	d.Push(context.Background(), "crit", "", SeverityCritical)

	remote.mu.Lock()
	require.Len(t, remote.created, 2)
	require.Equal(t, 5, remote.created[0].Priority)
	require.Equal(t, 9, remote.created[1].Priority)
	remote.mu.Unlock()

	// Without an application id the local store is listed.
	list := d.List(context.Background())
	require.Len(t, list, 3)
	require.NotNil(t, list[0].ExternalID)
	require.EqualValues(t, 102, *list[0].ExternalID)
	require.Nil(t, list[2].ExternalID)
}

func TestPushSurvivesForwardingFailure(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{createErr: errors.New("boom")}
	d := newRemoteDispatcher(remoteSettings(map[string]string{settings.GotifyAppID: "-1"}), remote)

	d.Push(context.Background(), "title", "body", SeverityError)
	list := d.List(context.Background())
	require.Len(t, list, 1)
	require.Nil(t, list[0].ExternalID)
}

func TestDeleteTwiceIsNoop(t *testing.T) {
	t.Parallel()

	d := New(newMemSettings(nil), clock.Fixed(fixedNow), nil)
	d.Push(context.Background(), "one", "", SeverityWarning)
	d.Push(context.Background(), "two", "", SeverityWarning)

	d.Delete(context.Background(), 1, 0)
	d.Delete(context.Background(), 1, 0)

	list := d.List(context.Background())
	require.Len(t, list, 1)
	require.Equal(t, "two", list[0].Title)
}

func TestDeleteForwardsExternalID(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	d := newRemoteDispatcher(remoteSettings(nil), remote)

	d.Push(context.Background(), "forwarded", "", SeverityError)
	d.Delete(context.Background(), 1, 0)
	d.Delete(context.Background(), 0, 55)

	remote.mu.Lock()
	defer remote.mu.Unlock()
	require.Equal(t, []int64{101, 55}, remote.deleted)
}

func TestDeleteAllClearsBothStores(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	store := remoteSettings(nil)
	d := newRemoteDispatcher(store, remote)
	d.Push(context.Background(), "a", "", SeverityError)

	d.DeleteAll(context.Background())

	remote.mu.Lock()
	require.Equal(t, []int64{5}, remote.bulk)
	remote.mu.Unlock()

	store.mu.Lock()
	store.values[settings.GotifyURI] = ""
	store.mu.Unlock()
	require.Empty(t, d.List(context.Background()))
}

func TestListUsesRemoteAsSourceOfTruth(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{listed: []gotify.Message{
		{ID: 9, AppID: 5, Title: "remote", Message: "body", Priority: 6, Date: fixedNow},
		{ID: 8, AppID: 5, Title: "older", Priority: 0},
	}}
	d := newRemoteDispatcher(remoteSettings(nil), remote)

	list := d.List(context.Background())
	require.Len(t, list, 2)
	require.Zero(t, list[0].ID)
	require.EqualValues(t, 9, *list[0].ExternalID)
	require.Equal(t, SeverityWarning, list[0].Severity)
	require.Equal(t, "body", list[0].Body)
	require.Equal(t, SeverityTrace, list[1].Severity)
}

func TestListFallsBackToEmptyOnRemoteFailure(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{listErr: errors.New("offline")}
	d := newRemoteDispatcher(remoteSettings(nil), remote)
	d.Push(context.Background(), "local", "", SeverityError)

	require.Empty(t, d.List(context.Background()))
}

func TestSubscribeLocalFiresOnPushUntilCanceled(t *testing.T) {
	t.Parallel()

	d := New(newMemSettings(nil), clock.Fixed(fixedNow), nil)
	ctx, cancel := context.WithCancel(context.Background())

	var got []string
	d.Subscribe(ctx, func(n Notification) { got = append(got, n.Title) })

	d.Push(context.Background(), "one", "", SeverityInformation)
	require.Equal(t, []string{"one"}, got)

	cancel()
	require.Eventually(t, func() bool {
		d.listenersMu.RLock()
		defer d.listenersMu.RUnlock()
		return len(d.listeners) == 0
	}, time.Second, 5*time.Millisecond)

	d.Push(context.Background(), "two", "", SeverityInformation)
	require.Equal(t, []string{"one"}, got)
}

func TestSubscribeStreamsFromRemote(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{streamed: make(chan func(gotify.Message), 1)}
	d := newRemoteDispatcher(remoteSettings(nil), remote)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Notification, 1)
	d.Subscribe(ctx, func(n Notification) { received <- n })

	var handle func(gotify.Message)
	select {
	case handle = <-remote.streamed:
	case <-time.After(time.Second):
		t.Fatal("stream was not opened")
	}
	handle(gotify.Message{ID: 3, AppID: 5, Title: "pushed", Priority: 8})

	n := <-received
	require.Equal(t, "pushed", n.Title)
	require.Equal(t, SeverityError, n.Severity)

	// Local pushes do not reach remote subscribers directly.
	d.listenersMu.RLock()
	require.Empty(t, d.listeners)
	d.listenersMu.RUnlock()
}

func TestRemoteIsRebuiltWhenSettingsChange(t *testing.T) {
	t.Parallel()

	store := remoteSettings(nil)
	var builds []gotify.Config
	d := New(store, clock.Fixed(fixedNow), nil, WithRemoteFactory(
		func(cfg gotify.Config, _ *zap.Logger) (Remote, error) {
			builds = append(builds, cfg)
			return &fakeRemote{}, nil
		},
	))

	d.Push(context.Background(), "a", "", SeverityError)
	d.Push(context.Background(), "b", "", SeverityError)
	require.Len(t, builds, 1)

	store.mu.Lock()
	store.values[settings.GotifyClientToken] = "client"
	store.mu.Unlock()
	d.Push(context.Background(), "c", "", SeverityError)
	require.Len(t, builds, 2)
	require.Equal(t, "client", builds[1].ClientToken)
}

func TestSubscribeWithoutAppIDUsesLocalListeners(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{streamed: make(chan func(gotify.Message), 1)}
	d := newRemoteDispatcher(remoteSettings(map[string]string{settings.GotifyAppID: "-1"}), remote)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	d.Subscribe(ctx, func(n Notification) {
		mu.Lock()
		got = append(got, n.Title)
		mu.Unlock()
	})
	d.Push(context.Background(), "local", "", SeverityError)

	mu.Lock()
	require.Equal(t, []string{"local"}, got)
	mu.Unlock()
	select {
	case <-remote.streamed:
		t.Fatal("remote stream opened without an application id")
	default:
	}
}

func TestDeleteListedRemoteEntryTargetsItsExternalID(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{}
	d := newRemoteDispatcher(remoteSettings(nil), remote)

	// Forwarded as 101 and 102.
	d.Push(context.Background(), "first", "", SeverityError)
	d.Push(context.Background(), "second", "", SeverityError)

	remote.mu.Lock()
	remote.listed = []gotify.Message{
		{ID: 102, AppID: 5, Title: "second", Priority: 8},
		{ID: 2, AppID: 5, Title: "older", Priority: 8},
	}
	remote.mu.Unlock()

	listed := d.List(context.Background())
	require.Len(t, listed, 2)
	target := listed[1]
	require.Zero(t, target.ID)
	d.Delete(context.Background(), target.ID, *target.ExternalID)

	remote.mu.Lock()
	require.Equal(t, []int64{2}, remote.deleted)
	remote.mu.Unlock()

	d.mu.Lock()
	require.Len(t, d.items, 2)
	d.mu.Unlock()

	d.Delete(context.Background(), listed[0].ID, *listed[0].ExternalID)
	remote.mu.Lock()
	require.Equal(t, []int64{2, 102}, remote.deleted)
	remote.mu.Unlock()

	d.mu.Lock()
	require.Len(t, d.items, 1)
	require.Equal(t, "first", d.items[0].Title)
	d.mu.Unlock()
}
