package feed

import (
	"context"

	"vibenet/pkg/model"
)

// LikeStore answers whether a like record exists for (postID, userID).
type LikeStore interface {
	HasLiked(ctx context.Context, postID int64, userID int64) (bool, error)
}

// AnnotateLikeStatus sets IsLikedByUser on the post and, when the post is
// a repost, on its original post. Reposts never nest deeper than one
// level, so the recursion stops there.
func AnnotateLikeStatus(ctx context.Context, likes LikeStore, post *model.Post, viewerID int64) error {
	if post == nil {
		return nil
	}
	liked, err := likes.HasLiked(ctx, post.PostID, viewerID)
	if err != nil {
		return err
	}
	post.IsLikedByUser = liked
	if post.OriginalPost != nil {
		return AnnotateLikeStatus(ctx, likes, post.OriginalPost, viewerID)
	}
	return nil
}
