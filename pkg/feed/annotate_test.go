package feed

import (
	"context"
	"errors"
	"sync"
	"testing"

	"vibenet/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLikeStore is shared with the pipeline tests, where it is queried
// from concurrent annotation goroutines.
type fakeLikeStore struct {
	mu    sync.Mutex
	liked map[int64]bool
	err   error
	calls int
}

func (f *fakeLikeStore) HasLiked(ctx context.Context, postID int64, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.liked[postID], nil
}

func TestAnnotateLikeStatus(t *testing.T) {
	likes := &fakeLikeStore{liked: map[int64]bool{1: true}}
	post := model.Post{PostID: 1}

	require.NoError(t, AnnotateLikeStatus(context.Background(), likes, &post, 7))
	assert.True(t, post.IsLikedByUser)
	assert.Equal(t, 1, likes.calls)

	other := model.Post{PostID: 2}
	require.NoError(t, AnnotateLikeStatus(context.Background(), likes, &other, 7))
	assert.False(t, other.IsLikedByUser)
}

func TestAnnotateLikeStatusRecursesIntoOriginal(t *testing.T) {
	likes := &fakeLikeStore{liked: map[int64]bool{10: true}}
	repost := model.Post{
		PostID:         2,
		OriginalPostID: 10,
		OriginalPost:   &model.Post{PostID: 10},
	}

	require.NoError(t, AnnotateLikeStatus(context.Background(), likes, &repost, 7))
	assert.False(t, repost.IsLikedByUser)
	assert.True(t, repost.OriginalPost.IsLikedByUser)
	assert.Equal(t, 2, likes.calls)
}

func TestAnnotateLikeStatusIdempotent(t *testing.T) {
	likes := &fakeLikeStore{liked: map[int64]bool{1: true}}
	post := model.Post{PostID: 1}

	require.NoError(t, AnnotateLikeStatus(context.Background(), likes, &post, 7))
	first := post.IsLikedByUser
	require.NoError(t, AnnotateLikeStatus(context.Background(), likes, &post, 7))
	assert.Equal(t, first, post.IsLikedByUser)
}

func TestAnnotateLikeStatusError(t *testing.T) {
	likes := &fakeLikeStore{err: errors.New("redis down")}
	post := model.Post{PostID: 1}

	err := AnnotateLikeStatus(context.Background(), likes, &post, 7)
	assert.Error(t, err)
	assert.False(t, post.IsLikedByUser)
}

func TestAnnotateLikeStatusNilPost(t *testing.T) {
	likes := &fakeLikeStore{}
	require.NoError(t, AnnotateLikeStatus(context.Background(), likes, nil, 7))
	assert.Zero(t, likes.calls)
}
