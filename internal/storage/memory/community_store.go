package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/fedisync/internal/feed"
)

// CommunityStore keeps communities keyed by origin URL.
type CommunityStore struct {
	mu          sync.RWMutex
	communities map[string]feed.Community
}

// NewCommunityStore returns a store seeded with communities.
func NewCommunityStore(communities ...feed.Community) *CommunityStore {
	s := &CommunityStore{communities: make(map[string]feed.Community)}
	for _, c := range communities {
		s.communities[c.OriginURL] = c
	}
	return s
}

// ListCommunities returns every community ordered by name.
func (s *CommunityStore) ListCommunities(context.Context) ([]feed.Community, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]feed.Community, 0, len(s.communities))
	for _, c := range s.communities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertCommunity inserts or replaces community by origin URL. An existing
// remote id is kept when community has none.
func (s *CommunityStore) UpsertCommunity(_ context.Context, community feed.Community) error {
	if strings.TrimSpace(community.OriginURL) == "" {
		return fmt.Errorf("community origin url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.communities[community.OriginURL]; ok && community.RemoteID == nil {
		community.RemoteID = existing.RemoteID
	}
	s.communities[community.OriginURL] = community
	return nil
}

// SetRemoteID records the destination id assigned to a community.
func (s *CommunityStore) SetRemoteID(_ context.Context, originURL string, remoteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.communities[originURL]
	if !ok {
		return fmt.Errorf("community %q not found", originURL)
	}
	c.RemoteID = &remoteID
	s.communities[originURL] = c
	return nil
}
