// Package processor performs the per-community work of a round: fetch new
// items, persist them, archive a snapshot and announce the batch.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fedisync/internal/clock"
	"github.com/JakeFAU/fedisync/internal/feed"
	"github.com/JakeFAU/fedisync/internal/metrics"
	"github.com/JakeFAU/fedisync/internal/settings"
)

// EventItemsFetched is the event name attached to published batches.
const EventItemsFetched = "items_fetched"

const defaultPostFetchDays = 7

// Fetcher pages through a community's remote listings.
type Fetcher interface {
	FetchPosts(ctx context.Context, community feed.Community, window time.Duration) ([]feed.PostView, error)
	FetchComments(ctx context.Context, community feed.Community, window time.Duration) ([]feed.CommentView, error)
}

// ItemStore persists fetched items.
type ItemStore interface {
	SaveBatch(ctx context.Context, batch feed.Batch) error
}

// BlobStore archives raw snapshots.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher announces fetched batches.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Destination resolves communities on the destination instance.
type Destination interface {
	Configured(ctx context.Context) bool
	GetCommunity(ctx context.Context, community feed.Community) (*feed.CommunityView, error)
	CreateCommunity(ctx context.Context, community feed.Community) (*feed.CommunityView, error)
}

// RemoteIDStore records the destination id assigned to a community.
type RemoteIDStore interface {
	SetRemoteID(ctx context.Context, originURL string, remoteID int64) error
}

// Option customizes a Processor.
type Option func(*Processor)

// WithDestination resolves every community without a remote id on dest,
// creating it when the lookup finds nothing, and stores the id in ids.
func WithDestination(dest Destination, ids RemoteIDStore) Option {
	return func(p *Processor) {
		p.destination = dest
		p.remoteIDs = ids
	}
}

// ItemsFetched is the payload published for every non-empty batch.
type ItemsFetched struct {
	Community  string    `json:"community"`
	OriginURL  string    `json:"origin_url"`
	Posts      int       `json:"posts"`
	Comments   int       `json:"comments"`
	FetchedAt  time.Time `json:"fetched_at"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
}

// Config controls archiving.
type Config struct {
	ArchivePrefix string
}

// Processor implements the scheduler's per-community work. Items, blobs
// and publisher are optional.
type Processor struct {
	fetcher   Fetcher
	items     ItemStore
	blobs     BlobStore
	publisher Publisher
	settings  settings.Reader
	clock     clock.Clock
	logger    *zap.Logger
	cfg       Config

	destination Destination
	remoteIDs   RemoteIDStore
}

// New builds a Processor.
func New(
	fetcher Fetcher,
	items ItemStore,
	blobs BlobStore,
	publisher Publisher,
	store settings.Reader,
	clk clock.Clock,
	logger *zap.Logger,
	cfg Config,
	opts ...Option,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.System{}
	}
	p := &Processor{
		fetcher:   fetcher,
		items:     items,
		blobs:     blobs,
		publisher: publisher,
		settings:  store,
		clock:     clk,
		logger:    logger,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process fetches, stores, archives and announces the community's new items.
func (p *Processor) Process(ctx context.Context, community feed.Community) error {
	if err := p.resolve(ctx, &community); err != nil {
		return err
	}

	postDays := community.PostFetchDays
	if postDays <= 0 {
		postDays = settings.Int(ctx, p.settings, settings.DefaultPostFetchDays, defaultPostFetchDays)
	}
	window := days(postDays)

	posts, err := p.fetcher.FetchPosts(ctx, community, window)
	if err != nil {
		return fmt.Errorf("fetch posts: %w", err)
	}
	var comments []feed.CommentView
	if community.FetchComments {
		commentWindow := window
		if community.RefreshCommentsDays > 0 {
			commentWindow = days(community.RefreshCommentsDays)
		}
		comments, err = p.fetcher.FetchComments(ctx, community, commentWindow)
		if err != nil {
			return fmt.Errorf("fetch comments: %w", err)
		}
	}

	batch := feed.Batch{
		Community: community,
		FetchedAt: p.clock.Now(),
		Posts:     posts,
		Comments:  comments,
	}
	if batch.Len() == 0 {
		p.logger.Debug("no new items", zap.String("community", community.Name))
		return nil
	}
	metrics.ObserveItems("posts", len(posts))
	metrics.ObserveItems("comments", len(comments))

	if p.items != nil {
		if err := p.items.SaveBatch(ctx, batch); err != nil {
			return fmt.Errorf("save items: %w", err)
		}
	}

	archiveURI, err := p.archive(ctx, batch)
	if err != nil {
		return err
	}

	if p.publisher != nil {
		id, err := p.publisher.Publish(ctx, EventItemsFetched, ItemsFetched{
			Community:  community.Name,
			OriginURL:  community.OriginURL,
			Posts:      len(posts),
			Comments:   len(comments),
			FetchedAt:  batch.FetchedAt,
			ArchiveURI: archiveURI,
		})
		if err != nil {
			return fmt.Errorf("publish items: %w", err)
		}
		p.logger.Debug("published batch", zap.String("community", community.Name), zap.String("message_id", id))
	}

	p.logger.Info("community synchronized",
		zap.String("community", community.Name),
		zap.Int("posts", len(posts)),
		zap.Int("comments", len(comments)),
	)
	return nil
}

// resolve assigns the destination id to community when it has none. Lookup
// and creation failures are reported by the destination and leave the
// community unresolved until the next round.
func (p *Processor) resolve(ctx context.Context, community *feed.Community) error {
	if p.destination == nil || community.RemoteID != nil || !p.destination.Configured(ctx) {
		return nil
	}
	view, err := p.destination.GetCommunity(ctx, *community)
	if err != nil {
		return fmt.Errorf("look up community: %w", err)
	}
	if view == nil {
		if view, err = p.destination.CreateCommunity(ctx, *community); err != nil {
			return fmt.Errorf("create community: %w", err)
		}
	}
	if view == nil {
		return nil
	}
	id := view.Community.ID
	community.RemoteID = &id
	if p.remoteIDs != nil {
		if err := p.remoteIDs.SetRemoteID(ctx, community.OriginURL, id); err != nil {
			return fmt.Errorf("store remote id: %w", err)
		}
	}
	p.logger.Info("community resolved", zap.String("community", community.Name), zap.Int64("remote_id", id))
	return nil
}

func (p *Processor) archive(ctx context.Context, batch feed.Batch) (string, error) {
	if p.blobs == nil {
		return "", nil
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("marshal batch: %w", err)
	}
	objectPath := ArchivePath(p.cfg.ArchivePrefix, batch.Community, batch.FetchedAt)
	uri, err := p.blobs.PutObject(ctx, objectPath, "application/json", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("archive batch: %w", err)
	}
	return uri, nil
}

// ArchivePath returns <prefix>/<slug>/<unix>.json for a batch.
func ArchivePath(prefix string, community feed.Community, fetchedAt time.Time) string {
	return path.Join(strings.Trim(prefix, "/"), Slug(community), strconv.FormatInt(fetchedAt.Unix(), 10)+".json")
}

// Slug derives a path-safe name for community, falling back to its host.
func Slug(community feed.Community) string {
	slug := sanitize(community.Name)
	if slug != "" {
		return slug
	}
	if u, err := url.Parse(community.OriginURL); err == nil {
		if slug = sanitize(u.Hostname()); slug != "" {
			return slug
		}
	}
	return "community"
}

func sanitize(raw string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
