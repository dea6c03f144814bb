package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fedisync/internal/config"
	"github.com/JakeFAU/fedisync/internal/feed"
	"github.com/JakeFAU/fedisync/internal/server"
	"github.com/JakeFAU/fedisync/internal/settings"
	"github.com/JakeFAU/fedisync/internal/storage/memory"
)

type fakeApp struct {
	settings    *memory.SettingsStore
	communities *memory.CommunityStore
	runErr      error
	ran         bool
	closed      int
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return f.runErr
}

func (f *fakeApp) Close() error {
	f.closed++
	return nil
}

func (f *fakeApp) Settings() server.SettingsStore { return f.settings }
func (f *fakeApp) Communities() server.CommunityStore { return f.communities }

func withFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	previous := newApp
	newApp = func(context.Context, *config.Config) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = previous })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newFakeApp() *fakeApp {
	return &fakeApp{
		settings: memory.NewSettingsStore(map[string]string{
			settings.PageLimit:          "50",
			settings.LemmyAdminPassword: "hunter2",
		}),
		communities: memory.NewCommunityStore(),
	}
}

func TestServeRunsAndClosesApp(t *testing.T) {
	app := newFakeApp()
	withFakeApp(t, app)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	require.True(t, app.ran)
	require.Equal(t, 1, app.closed)
}

func TestServeReportsRunFailure(t *testing.T) {
	app := newFakeApp()
	app.runErr = errors.New("listen failed")
	withFakeApp(t, app)

	_, err := execute(t, "serve")
	require.ErrorContains(t, err, "listen failed")
}

func TestSettingsCommands(t *testing.T) {
	app := newFakeApp()
	withFakeApp(t, app)

	out, err := execute(t, "settings", "list")
	require.NoError(t, err)
	require.Equal(t, "LemmyAdminPassword=********\nPageLimit=50\n", out)

	out, err = execute(t, "settings", "list", "--show-secrets")
	require.NoError(t, err)
	require.Contains(t, out, "LemmyAdminPassword=hunter2")

	_, err = execute(t, "settings", "set", settings.PageLimit, "25")
	require.NoError(t, err)

	out, err = execute(t, "settings", "get", settings.PageLimit)
	require.NoError(t, err)
	require.Equal(t, "25\n", out)

	_, err = execute(t, "settings", "get", "Missing")
	require.ErrorIs(t, err, settings.ErrNotFound)
}

func TestCommunitiesCommands(t *testing.T) {
	app := newFakeApp()
	withFakeApp(t, app)

	_, err := execute(t, "communities", "add", "--name", "golang")
	require.ErrorContains(t, err, "--origin")

	_, err = execute(t, "communities", "add",
		"--name", "golang", "--origin", "https://lemmy.example/c/golang", "--fetch-comments")
	require.NoError(t, err)

	stored, err := app.communities.ListCommunities(context.Background())
	require.NoError(t, err)
	require.Equal(t, []feed.Community{{
		Name:          "golang",
		OriginURL:     "https://lemmy.example/c/golang",
		OriginType:    "lemmy",
		FetchComments: true,
	}}, stored)

	out, err := execute(t, "communities", "list")
	require.NoError(t, err)
	require.Contains(t, out, "golang")
	require.Contains(t, out, "https://lemmy.example/c/golang")
}

func TestFactoryFailureIsReported(t *testing.T) {
	previous := newApp
	newApp = func(context.Context, *config.Config) (App, error) { return nil, errors.New("no db") }
	t.Cleanup(func() { newApp = previous })

	_, err := execute(t, "settings", "list")
	require.ErrorContains(t, err, "no db")
}
