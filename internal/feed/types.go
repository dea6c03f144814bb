package feed

import "time"

// Community is a remote feed synchronized by the service. OriginURL is the
// stable key; the remaining fields are read-only to the engine.
type Community struct {
	OriginURL           string `json:"origin_url" mapstructure:"origin_url"`
	OriginType          string `json:"origin_type" mapstructure:"origin_type"`
	RemoteID            *int64 `json:"remote_id,omitempty" mapstructure:"remote_id"`
	Name                string `json:"name" mapstructure:"name"`
	Title               string `json:"title" mapstructure:"title"`
	Description         string `json:"description,omitempty" mapstructure:"description"`
	Icon                string `json:"icon,omitempty" mapstructure:"icon"`
	Banner              string `json:"banner,omitempty" mapstructure:"banner"`
	NSFW                bool   `json:"nsfw" mapstructure:"nsfw"`
	PostFetchDays       int    `json:"post_fetch_days" mapstructure:"post_fetch_days"`
	FetchComments       bool   `json:"fetch_comments" mapstructure:"fetch_comments"`
	RefreshCommentsDays int    `json:"refresh_comments_days" mapstructure:"refresh_comments_days"`
}

// RemoteCommunity is the community object returned by the remote API.
type RemoteCommunity struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Icon        string     `json:"icon,omitempty"`
	Banner      string     `json:"banner,omitempty"`
	NSFW        bool       `json:"nsfw"`
	ActorID     string     `json:"actor_id,omitempty"`
	Local       bool       `json:"local"`
	Published   time.Time  `json:"published"`
	Updated     *time.Time `json:"updated,omitempty"`
}

// CommunityAggregates is decoded from the remote API but not interpreted.
type CommunityAggregates struct {
	Subscribers         int64 `json:"subscribers"`
	Posts               int64 `json:"posts"`
	Comments            int64 `json:"comments"`
	UsersActiveDay      int64 `json:"users_active_day"`
	UsersActiveWeek     int64 `json:"users_active_week"`
	UsersActiveMonth    int64 `json:"users_active_month"`
	UsersActiveHalfYear int64 `json:"users_active_half_year"`
}

// CommunityView wraps a remote community with its counters.
type CommunityView struct {
	Community RemoteCommunity     `json:"community"`
	Counts    CommunityAggregates `json:"counts"`
}

// Post is a remote post.
type Post struct {
	ID          int64      `json:"id,omitempty"`
	Name        string     `json:"name"`
	URL         string     `json:"url,omitempty"`
	Body        string     `json:"body,omitempty"`
	NSFW        bool       `json:"nsfw"`
	CommunityID int64      `json:"community_id"`
	CreatorID   int64      `json:"creator_id,omitempty"`
	ActivityURL string     `json:"ap_id,omitempty"`
	Published   time.Time  `json:"published"`
	Updated     *time.Time `json:"updated,omitempty"`
}

// LastUpdated returns the edit time, or the publish time for unedited posts.
func (p Post) LastUpdated() time.Time {
	if p.Updated != nil {
		return *p.Updated
	}
	return p.Published
}

// PostView is one entry of a post listing.
type PostView struct {
	Post Post `json:"post"`
}

// Comment is a remote comment.
type Comment struct {
	ID          int64      `json:"id,omitempty"`
	Content     string     `json:"content"`
	PostID      int64      `json:"post_id"`
	ParentID    *int64     `json:"parent_id,omitempty"`
	CreatorID   int64      `json:"creator_id,omitempty"`
	ActivityURL string     `json:"ap_id,omitempty"`
	Published   time.Time  `json:"published"`
	Updated     *time.Time `json:"updated,omitempty"`
}

// LastUpdated returns the edit time, or the publish time for unedited comments.
func (c Comment) LastUpdated() time.Time {
	if c.Updated != nil {
		return *c.Updated
	}
	return c.Published
}

// CommentView is one entry of a comment listing.
type CommentView struct {
	Comment Comment `json:"comment"`
	Post    Post    `json:"post"`
}

// Batch is the outcome of crawling one community in one round.
type Batch struct {
	Community Community     `json:"community"`
	FetchedAt time.Time     `json:"fetched_at"`
	Posts     []PostView    `json:"posts"`
	Comments  []CommentView `json:"comments"`
}

// Len returns the number of items in the batch.
func (b Batch) Len() int {
	return len(b.Posts) + len(b.Comments)
}

type postListResponse struct {
	Posts []PostView `json:"posts"`
}

type commentListResponse struct {
	Comments []CommentView `json:"comments"`
}

type communityResponse struct {
	CommunityView CommunityView `json:"community_view"`
}

type postResponse struct {
	PostView PostView `json:"post_view"`
}

type commentResponse struct {
	CommentView CommentView `json:"comment_view"`
}

type createCommunityRequest struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	Banner      string `json:"banner,omitempty"`
	NSFW        bool   `json:"nsfw"`
}

type createPostRequest struct {
	Name        string `json:"name"`
	CommunityID int64  `json:"community_id"`
	URL         string `json:"url,omitempty"`
	Body        string `json:"body,omitempty"`
	NSFW        bool   `json:"nsfw"`
}

type createCommentRequest struct {
	Content  string `json:"content"`
	PostID   int64  `json:"post_id"`
	ParentID *int64 `json:"parent_id,omitempty"`
}
