package feed

import (
	"testing"

	"vibenet/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostCursorSkipsEmitted(t *testing.T) {
	cursor := newPostCursor(makePosts(1, 2, 3))
	emitted := map[int64]struct{}{2: {}}

	p, ok := cursor.next(emitted)
	require.True(t, ok)
	assert.Equal(t, int64(1), p.PostID)

	p, ok = cursor.next(emitted)
	require.True(t, ok)
	assert.Equal(t, int64(3), p.PostID)

	_, ok = cursor.next(emitted)
	assert.False(t, ok)
}

func TestPostCursorNeverBacktracks(t *testing.T) {
	cursor := newPostCursor(makePosts(1, 2))
	emitted := map[int64]struct{}{1: {}}

	p, ok := cursor.next(emitted)
	require.True(t, ok)
	assert.Equal(t, int64(2), p.PostID)

	// Unmarking post 1 after the cursor passed it does not resurrect it.
	delete(emitted, 1)
	_, ok = cursor.next(emitted)
	assert.False(t, ok)
}

func TestPostCursorEmpty(t *testing.T) {
	cursor := newPostCursor(nil)
	_, ok := cursor.next(map[int64]struct{}{})
	assert.False(t, ok)
}

func TestCommentCursorDedupsByParentPost(t *testing.T) {
	cursor := newCommentCursor(makeComments(
		[2]int64{201, 10},
		[2]int64{202, 11},
		[2]int64{203, 12},
	))
	emitted := map[int64]struct{}{11: {}}

	cm, ok := cursor.next(emitted)
	require.True(t, ok)
	assert.Equal(t, int64(201), cm.CommentID)

	cm, ok = cursor.next(emitted)
	require.True(t, ok)
	assert.Equal(t, int64(203), cm.CommentID)

	_, ok = cursor.next(emitted)
	assert.False(t, ok)
}

func TestCarouselCursorBatches(t *testing.T) {
	cursor := newCarouselCursor(makeProfiles(7), 3)

	batch, ok := cursor.next()
	require.True(t, ok)
	require.Len(t, batch, 3)
	assert.Equal(t, int64(1000), batch[0].UserID)

	batch, ok = cursor.next()
	require.True(t, ok)
	assert.Len(t, batch, 3)

	// Final batch carries the remainder.
	batch, ok = cursor.next()
	require.True(t, ok)
	require.Len(t, batch, 1)
	assert.Equal(t, int64(1006), batch[0].UserID)

	_, ok = cursor.next()
	assert.False(t, ok)
}

func TestCarouselCursorEmpty(t *testing.T) {
	cursor := newCarouselCursor(nil, 5)
	batch, ok := cursor.next()
	assert.False(t, ok)
	assert.Nil(t, batch)
}

func TestCarouselCursorIgnoresPostDedup(t *testing.T) {
	// Suggestion batches are independent of the emitted-post set.
	users := []model.Profile{{UserID: 1}, {UserID: 2}}
	cursor := newCarouselCursor(users, 5)
	batch, ok := cursor.next()
	require.True(t, ok)
	assert.Len(t, batch, 2)
}
