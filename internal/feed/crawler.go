// Package feed crawls community listings on Lemmy-compatible instances and
// creates content on the destination instance.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fedisync/internal/apiclient"
	"github.com/JakeFAU/fedisync/internal/clock"
	"github.com/JakeFAU/fedisync/internal/credential"
	"github.com/JakeFAU/fedisync/internal/notify"
	"github.com/JakeFAU/fedisync/internal/settings"
)

const (
	// DefaultPageLimit is used when the PageLimit setting is absent or invalid.
	DefaultPageLimit = 50
	// DefaultAPIPath is appended to instance URLs to reach the REST API.
	DefaultAPIPath = "/api/v3"
)

// Reporter receives operator-facing failure reports.
type Reporter interface {
	Push(ctx context.Context, title, body string, severity notify.Severity)
}

// Config locates the destination instance and its admin account. The
// LemmyUri, LemmyApiPath, LemmyAdminUsername and LemmyAdminPassword settings
// override these values on every call.
type Config struct {
	DestinationURL string
	APIPath        string
	Admin          credential.User
}

// Crawler pages through remote listings and writes to the destination.
type Crawler struct {
	cfg        Config
	settings   settings.Reader
	reporter   Reporter
	clock      clock.Clock
	logger     *zap.Logger
	clientOpts []apiclient.Option

	mu      sync.Mutex
	origins map[string]*apiclient.Client
	users   map[userKey]*apiclient.Client
}

// userKey identifies a cached destination client.
type userKey struct {
	base string
	user credential.User
}

// New builds a Crawler. clientOpts are applied to every request client it creates.
func New(
	cfg Config,
	store settings.Reader,
	reporter Reporter,
	clk clock.Clock,
	logger *zap.Logger,
	clientOpts ...apiclient.Option,
) *Crawler {
	if cfg.APIPath == "" {
		cfg.APIPath = DefaultAPIPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:        cfg,
		settings:   store,
		reporter:   reporter,
		clock:      clk,
		logger:     logger,
		clientOpts: clientOpts,
		origins:    make(map[string]*apiclient.Client),
		users:      make(map[userKey]*apiclient.Client),
	}
}

// FetchPosts returns every post of community updated after now-window,
// newest first. Remote failures are reported and yield an empty result;
// only cancellation is returned as an error.
func (c *Crawler) FetchPosts(ctx context.Context, community Community, window time.Duration) ([]PostView, error) {
	client, err := c.originClient(ctx, community)
	if err != nil {
		return []PostView{}, c.report(ctx, "fetching posts", community, community.OriginURL, err)
	}
	cutoff := c.clock.Now().Add(-window)
	limit := c.pageLimit(ctx)
	posts, err := collect(ctx, func(ctx context.Context, page int) ([]PostView, error) {
		resp, err := apiclient.Get[postListResponse](ctx, client, "post/list", listQuery(community, limit, page))
		return resp.Posts, err
	}, func(p PostView) time.Time { return p.Post.LastUpdated() }, cutoff)
	if err != nil {
		return []PostView{}, c.report(ctx, "fetching posts", community, client.BaseURL(), err)
	}
	c.logger.Debug("fetched posts",
		zap.String("community", community.Name),
		zap.Int("count", len(posts)),
		zap.Time("cutoff", cutoff),
	)
	return posts, nil
}

// FetchComments is the comment counterpart of FetchPosts.
func (c *Crawler) FetchComments(ctx context.Context, community Community, window time.Duration) ([]CommentView, error) {
	client, err := c.originClient(ctx, community)
	if err != nil {
		return []CommentView{}, c.report(ctx, "fetching comments", community, community.OriginURL, err)
	}
	cutoff := c.clock.Now().Add(-window)
	limit := c.pageLimit(ctx)
	comments, err := collect(ctx, func(ctx context.Context, page int) ([]CommentView, error) {
		resp, err := apiclient.Get[commentListResponse](ctx, client, "comment/list", listQuery(community, limit, page))
		return resp.Comments, err
	}, func(cv CommentView) time.Time { return cv.Comment.LastUpdated() }, cutoff)
	if err != nil {
		return []CommentView{}, c.report(ctx, "fetching comments", community, client.BaseURL(), err)
	}
	c.logger.Debug("fetched comments",
		zap.String("community", community.Name),
		zap.Int("count", len(comments)),
		zap.Time("cutoff", cutoff),
	)
	return comments, nil
}

// GetCommunity looks community up on the destination instance as the admin.
// Failures are reported and yield nil.
func (c *Crawler) GetCommunity(ctx context.Context, community Community) (*CommunityView, error) {
	client, err := c.adminClient(ctx)
	if err != nil {
		return nil, c.report(ctx, "looking up", community, c.destination(ctx).DestinationURL, err)
	}
	query := url.Values{}
	if community.RemoteID != nil {
		query.Set("id", strconv.FormatInt(*community.RemoteID, 10))
	} else {
		query.Set("name", community.Name)
	}
	resp, err := apiclient.Get[communityResponse](ctx, client, "community", query)
	if err != nil {
		return nil, c.report(ctx, "looking up", community, client.BaseURL(), err)
	}
	return &resp.CommunityView, nil
}

// CreateCommunity creates community on the destination instance as the admin.
// Failures are reported and yield nil.
func (c *Crawler) CreateCommunity(ctx context.Context, community Community) (*CommunityView, error) {
	client, err := c.adminClient(ctx)
	if err != nil {
		return nil, c.report(ctx, "creating", community, c.destination(ctx).DestinationURL, err)
	}
	resp, err := apiclient.Post[communityResponse](ctx, client, "community", createCommunityRequest{
		Name:        community.Name,
		Title:       community.Title,
		Description: community.Description,
		Icon:        community.Icon,
		Banner:      community.Banner,
		NSFW:        community.NSFW,
	})
	if err != nil {
		return nil, c.report(ctx, "creating", community, client.BaseURL(), err)
	}
	return &resp.CommunityView, nil
}

// CreatePost publishes post on the destination instance as user.
func (c *Crawler) CreatePost(ctx context.Context, post Post, user credential.User) (*Post, error) {
	client, err := c.userClient(c.destination(ctx), user)
	if err != nil {
		return nil, err
	}
	resp, err := apiclient.Post[postResponse](ctx, client, "post", createPostRequest{
		Name:        post.Name,
		CommunityID: post.CommunityID,
		URL:         post.URL,
		Body:        post.Body,
		NSFW:        post.NSFW,
	})
	if err != nil {
		return nil, fmt.Errorf("create post in community %d: %w", post.CommunityID, err)
	}
	created := resp.PostView.Post
	return &created, nil
}

// CreateComment publishes comment on the destination instance as user.
func (c *Crawler) CreateComment(ctx context.Context, comment Comment, user credential.User) (*Comment, error) {
	client, err := c.userClient(c.destination(ctx), user)
	if err != nil {
		return nil, err
	}
	resp, err := apiclient.Post[commentResponse](ctx, client, "comment", createCommentRequest{
		Content:  comment.Content,
		PostID:   comment.PostID,
		ParentID: comment.ParentID,
	})
	if err != nil {
		return nil, fmt.Errorf("create comment on post %d: %w", comment.PostID, err)
	}
	created := resp.CommentView.Comment
	return &created, nil
}

// collect requests pages starting at 1 until a page is empty or an item at
// or before cutoff shows up. Listings are sorted newest first, so the first
// stale item ends the crawl.
func collect[T any](
	ctx context.Context,
	fetch func(context.Context, int) ([]T, error),
	updated func(T) time.Time,
	cutoff time.Time,
) ([]T, error) {
	accepted := []T{}
	for page := 1; ; page++ {
		items, err := fetch(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if len(items) == 0 {
			return accepted, nil
		}
		for _, item := range items {
			if !updated(item).After(cutoff) {
				return accepted, nil
			}
			accepted = append(accepted, item)
		}
	}
}

func listQuery(community Community, limit, page int) url.Values {
	return url.Values{
		"community_name": {community.Name},
		"type_":          {"All"},
		"sort":           {"New"},
		"limit":          {strconv.Itoa(limit)},
		"page":           {strconv.Itoa(page)},
	}
}

func (c *Crawler) pageLimit(ctx context.Context) int {
	limit := settings.Int(ctx, c.settings, settings.PageLimit, DefaultPageLimit)
	if limit <= 0 {
		return DefaultPageLimit
	}
	return limit
}

// report turns err into an Error notification. Cancellation is returned
// unchanged instead of being reported.
func (c *Crawler) report(ctx context.Context, action string, community Community, address string, err error) error {
	if apiclient.IsCanceled(err) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return err
	}
	title := fmt.Sprintf("There was a problem while %s in the community %q", action, community.Name)
	if errors.Is(err, apiclient.ErrConnectivity) {
		title = fmt.Sprintf("There was a problem connecting to the configured address %q", address)
	}
	body := fmt.Sprintf("%v (community %q at %s)", err, community.Name, address)
	c.logger.Warn("remote request failed",
		zap.String("community", community.Name),
		zap.String("address", address),
		zap.String("action", action),
		zap.Error(err),
	)
	if c.reporter != nil {
		c.reporter.Push(ctx, title, body, notify.SeverityError)
	}
	return nil
}

// Configured reports whether a destination instance and admin user are set.
func (c *Crawler) Configured(ctx context.Context) bool {
	dest := c.destination(ctx)
	return strings.TrimSpace(dest.DestinationURL) != "" && dest.Admin.Username != ""
}

// destination returns the current destination settings, falling back to the
// values the Crawler was built with.
func (c *Crawler) destination(ctx context.Context) Config {
	dest := Config{
		DestinationURL: settings.String(ctx, c.settings, settings.LemmyURI, c.cfg.DestinationURL),
		APIPath:        settings.String(ctx, c.settings, settings.LemmyAPIPath, c.cfg.APIPath),
		Admin: credential.User{
			Username: settings.String(ctx, c.settings, settings.LemmyAdminUsername, c.cfg.Admin.Username),
			Password: settings.String(ctx, c.settings, settings.LemmyAdminPassword, c.cfg.Admin.Password),
		},
	}
	if strings.TrimSpace(dest.APIPath) == "" {
		dest.APIPath = DefaultAPIPath
	}
	return dest
}

func (c *Crawler) originClient(ctx context.Context, community Community) (*apiclient.Client, error) {
	origin, err := url.Parse(community.OriginURL)
	if err != nil {
		return nil, fmt.Errorf("parse origin url: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin url %q must be absolute", community.OriginURL)
	}
	base := origin.Scheme + "://" + origin.Host + "/" + strings.TrimPrefix(c.destination(ctx).APIPath, "/")

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.origins[base]; ok {
		return client, nil
	}
	opts := append([]apiclient.Option{apiclient.WithAuthenticator(credential.Anonymous{})}, c.clientOpts...)
	client, err := apiclient.New(base, opts...)
	if err != nil {
		return nil, fmt.Errorf("build origin client: %w", err)
	}
	c.origins[base] = client
	return client, nil
}

func (c *Crawler) adminClient(ctx context.Context) (*apiclient.Client, error) {
	dest := c.destination(ctx)
	return c.userClient(dest, dest.Admin)
}

// userClient returns the client acting as user on dest. Clients are cached
// per base URL and credentials, so changed settings build a new client.
func (c *Crawler) userClient(dest Config, user credential.User) (*apiclient.Client, error) {
	if strings.TrimSpace(dest.DestinationURL) == "" {
		return nil, errors.New("destination instance is not configured")
	}
	if user.Username == "" {
		return nil, fmt.Errorf("%w: username is required", apiclient.ErrAuthentication)
	}

	base := strings.TrimRight(dest.DestinationURL, "/") + "/" + strings.TrimPrefix(dest.APIPath, "/")
	key := userKey{base: base, user: user}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.users[key]; ok {
		return client, nil
	}
	login, err := apiclient.New(base, c.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("build login client: %w", err)
	}
	opts := append([]apiclient.Option{}, c.clientOpts...)
	opts = append(opts, apiclient.WithAuthenticator(credential.NewAdmin(login, user)))
	client, err := apiclient.New(base, opts...)
	if err != nil {
		return nil, fmt.Errorf("build user client: %w", err)
	}
	c.users[key] = client
	return client, nil
}
