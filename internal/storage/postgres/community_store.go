package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/fedisync/internal/feed"
)

const communityColumns = `origin_url, origin_type, remote_id, name, title, description, icon, banner,
	nsfw, post_fetch_days, fetch_comments, refresh_comments_days`

// CommunityStore persists the communities to synchronize.
type CommunityStore struct {
	db    DB
	table string
}

// NewCommunityStore builds a CommunityStore on db.
func NewCommunityStore(db DB, schema string) (*CommunityStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	t, err := newTables(schema)
	if err != nil {
		return nil, err
	}
	return &CommunityStore{db: db, table: t.communities}, nil
}

// ListCommunities returns every community ordered by name.
func (s *CommunityStore) ListCommunities(ctx context.Context) ([]feed.Community, error) {
	rows, err := s.db.Query(ctx, `SELECT `+communityColumns+` FROM `+s.table+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	defer rows.Close()

	var out []feed.Community
	for rows.Next() {
		var c feed.Community
		if err := rows.Scan(
			&c.OriginURL, &c.OriginType, &c.RemoteID, &c.Name, &c.Title, &c.Description, &c.Icon, &c.Banner,
			&c.NSFW, &c.PostFetchDays, &c.FetchComments, &c.RefreshCommentsDays,
		); err != nil {
			return nil, fmt.Errorf("scan community: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list communities: %w", err)
	}
	return out, nil
}

// UpsertCommunity inserts or replaces a community keyed by origin URL. An
// existing remote id is kept when c has none.
func (s *CommunityStore) UpsertCommunity(ctx context.Context, c feed.Community) error {
	if strings.TrimSpace(c.OriginURL) == "" {
		return fmt.Errorf("community origin url is required")
	}
	query := `INSERT INTO ` + s.table + ` (` + communityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (origin_url) DO UPDATE SET
			origin_type = EXCLUDED.origin_type,
			remote_id = COALESCE(EXCLUDED.remote_id, ` + s.table + `.remote_id),
			name = EXCLUDED.name,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			icon = EXCLUDED.icon,
			banner = EXCLUDED.banner,
			nsfw = EXCLUDED.nsfw,
			post_fetch_days = EXCLUDED.post_fetch_days,
			fetch_comments = EXCLUDED.fetch_comments,
			refresh_comments_days = EXCLUDED.refresh_comments_days`
	_, err := s.db.Exec(ctx, query,
		c.OriginURL, c.OriginType, c.RemoteID, c.Name, c.Title, c.Description, c.Icon, c.Banner,
		c.NSFW, c.PostFetchDays, c.FetchComments, c.RefreshCommentsDays,
	)
	if err != nil {
		return fmt.Errorf("upsert community %s: %w", c.OriginURL, err)
	}
	return nil
}

// SetRemoteID records the destination id assigned to a community.
func (s *CommunityStore) SetRemoteID(ctx context.Context, originURL string, remoteID int64) error {
	tag, err := s.db.Exec(ctx, `UPDATE `+s.table+` SET remote_id = $1 WHERE origin_url = $2`, remoteID, originURL)
	if err != nil {
		return fmt.Errorf("set remote id for %s: %w", originURL, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("community %q not found", originURL)
	}
	return nil
}
