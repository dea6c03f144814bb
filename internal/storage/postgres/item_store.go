package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/fedisync/internal/feed"
)

// ItemStore upserts fetched posts and comments.
type ItemStore struct {
	db       DB
	posts    string
	comments string
}

// NewItemStore builds an ItemStore on db.
func NewItemStore(db DB, schema string) (*ItemStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	t, err := newTables(schema)
	if err != nil {
		return nil, err
	}
	return &ItemStore{db: db, posts: t.posts, comments: t.comments}, nil
}

// SaveBatch upserts every item of batch in one transaction.
func (s *ItemStore) SaveBatch(ctx context.Context, batch feed.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	origin := batch.Community.OriginURL

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer rollback(ctx, tx)

	postQuery := `INSERT INTO ` + s.posts + `
		(origin_url, remote_id, name, url, body, nsfw, activity_url, published, updated, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (origin_url, remote_id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			body = EXCLUDED.body,
			nsfw = EXCLUDED.nsfw,
			activity_url = EXCLUDED.activity_url,
			updated = EXCLUDED.updated,
			fetched_at = EXCLUDED.fetched_at`
	for _, pv := range batch.Posts {
		p := pv.Post
		if _, err := tx.Exec(ctx, postQuery,
			origin, p.ID, p.Name, p.URL, p.Body, p.NSFW, p.ActivityURL, p.Published, p.Updated, batch.FetchedAt,
		); err != nil {
			return fmt.Errorf("upsert post %d: %w", p.ID, err)
		}
	}

	commentQuery := `INSERT INTO ` + s.comments + `
		(origin_url, remote_id, post_id, parent_id, content, activity_url, published, updated, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (origin_url, remote_id) DO UPDATE SET
			content = EXCLUDED.content,
			activity_url = EXCLUDED.activity_url,
			updated = EXCLUDED.updated,
			fetched_at = EXCLUDED.fetched_at`
	for _, cv := range batch.Comments {
		c := cv.Comment
		if _, err := tx.Exec(ctx, commentQuery,
			origin, c.ID, c.PostID, c.ParentID, c.Content, c.ActivityURL, c.Published, c.Updated, batch.FetchedAt,
		); err != nil {
			return fmt.Errorf("upsert comment %d: %w", c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}
