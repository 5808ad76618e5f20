package model

import "github.com/ServiceWeaver/weaver"

// Profile is the public subset of a user account that is shipped to
// clients (post authors, suggestion carousels, comment authors).
type Profile struct {
	weaver.AutoMarshal
	UserID    int64  `bson:"user_id" json:"userId"`
	Username  string `bson:"username" json:"username"`
	Name      string `bson:"name" json:"name"`
	Avatar    string `bson:"avatar" json:"avatar"`
	CreatedAt int64  `bson:"created_at" json:"createdAt"`
}

type User struct {
	weaver.AutoMarshal
	UserID    int64  `bson:"user_id"`
	Username  string `bson:"username"`
	Name      string `bson:"name"`
	Avatar    string `bson:"avatar"`
	CreatedAt int64  `bson:"created_at"`
	PwdHashed string `bson:"pwd_hashed"`
	Salt      string `bson:"salt"`
}

func (u User) Profile() Profile {
	return Profile{
		UserID:    u.UserID,
		Username:  u.Username,
		Name:      u.Name,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
	}
}

// Post is a published post. OriginalPost is set when the post is a repost
// and always references the root original: reposting a repost re-targets
// the root, so the chain is never deeper than one level.
type Post struct {
	weaver.AutoMarshal
	PostID         int64    `bson:"post_id" json:"id"`
	AuthorID       int64    `bson:"author_id" json:"authorId"`
	Author         Profile  `bson:"author" json:"author"`
	Content        string   `bson:"content" json:"content"`
	Images         []string `bson:"images" json:"images"`
	CreatedAt      int64    `bson:"created_at" json:"createdAt"`
	LikesCount     int64    `bson:"likes_count" json:"likesCount"`
	RepostsCount   int64    `bson:"reposts_count" json:"repostsCount"`
	CommentsCount  int64    `bson:"comments_count" json:"commentsCount"`
	OriginalPostID int64    `bson:"original_post_id,omitempty" json:"originalPostId,omitempty"`
	OriginalPost   *Post    `bson:"original_post,omitempty" json:"originalPost,omitempty"`
	PollID         int64    `bson:"poll_id,omitempty" json:"pollId,omitempty"`
	// IsLikedByUser is viewer-relative, attached per request, never stored.
	IsLikedByUser bool `bson:"-" json:"isLikedByUser"`
}

type Comment struct {
	weaver.AutoMarshal
	CommentID int64   `bson:"comment_id" json:"id"`
	PostID    int64   `bson:"post_id" json:"postId"`
	AuthorID  int64   `bson:"author_id" json:"authorId"`
	Author    Profile `bson:"author" json:"author"`
	Text      string  `bson:"text" json:"text"`
	Score     int64   `bson:"score" json:"score"`
	CreatedAt int64   `bson:"created_at" json:"createdAt"`
	Post      *Post   `bson:"post,omitempty" json:"post,omitempty"`
}

type FeedItemType string

const (
	FEED_ITEM_TOP_POST        FeedItemType = "TOP_POST"
	FEED_ITEM_FRIEND_POST     FeedItemType = "FRIEND_POST"
	FEED_ITEM_POPULAR_COMMENT FeedItemType = "POPULAR_COMMENT"
	FEED_ITEM_USER_CAROUSEL   FeedItemType = "USER_CAROUSEL"
	FEED_ITEM_STRANGER_POST   FeedItemType = "STRANGER_POST"
)

// FeedItem is one unit of the composed feed. Exactly one payload field is
// set, selected by Type.
type FeedItem struct {
	weaver.AutoMarshal
	Type    FeedItemType `json:"type"`
	Post    *Post        `json:"post,omitempty"`
	Comment *Comment     `json:"comment,omitempty"`
	Users   []Profile    `json:"users,omitempty"`
}

type EngagementKind string

const (
	ENGAGEMENT_LIKE   EngagementKind = "like"
	ENGAGEMENT_UNLIKE EngagementKind = "unlike"
)
