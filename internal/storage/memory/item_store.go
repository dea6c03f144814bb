package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/fedisync/internal/feed"
)

type itemKey struct {
	origin string
	id     int64
}

// ItemStore upserts fetched posts and comments keyed by community and
// remote id.
type ItemStore struct {
	mu       sync.RWMutex
	posts    map[itemKey]feed.Post
	comments map[itemKey]feed.Comment
	batches  int
}

// NewItemStore returns an empty ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{
		posts:    make(map[itemKey]feed.Post),
		comments: make(map[itemKey]feed.Comment),
	}
}

// SaveBatch upserts every item of batch.
func (s *ItemStore) SaveBatch(_ context.Context, batch feed.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	origin := batch.Community.OriginURL
	for _, pv := range batch.Posts {
		s.posts[itemKey{origin: origin, id: pv.Post.ID}] = pv.Post
	}
	for _, cv := range batch.Comments {
		s.comments[itemKey{origin: origin, id: cv.Comment.ID}] = cv.Comment
	}
	s.batches++
	return nil
}

// Post returns the stored post with id for the community at origin.
func (s *ItemStore) Post(origin string, id int64) (feed.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[itemKey{origin: origin, id: id}]
	return p, ok
}

// Counts returns the number of stored posts, comments and saved batches.
func (s *ItemStore) Counts() (posts, comments, batches int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts), len(s.comments), s.batches
}
