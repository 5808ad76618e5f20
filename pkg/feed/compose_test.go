package feed

import (
	"testing"

	"vibenet/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePosts(ids ...int64) []model.Post {
	posts := make([]model.Post, 0, len(ids))
	for _, id := range ids {
		posts = append(posts, model.Post{PostID: id, AuthorID: id * 100})
	}
	return posts
}

func makeComments(pairs ...[2]int64) []model.Comment {
	comments := make([]model.Comment, 0, len(pairs))
	for _, p := range pairs {
		comments = append(comments, model.Comment{CommentID: p[0], PostID: p[1]})
	}
	return comments
}

func makeProfiles(n int) []model.Profile {
	users := make([]model.Profile, 0, n)
	for i := 0; i < n; i++ {
		users = append(users, model.Profile{UserID: int64(1000 + i)})
	}
	return users
}

func itemTypes(items []model.FeedItem) []model.FeedItemType {
	types := make([]model.FeedItemType, 0, len(items))
	for _, it := range items {
		types = append(types, it.Type)
	}
	return types
}

func TestComposeCycleOrder(t *testing.T) {
	c := Candidates{
		TopPosts:        makePosts(1, 2),
		FriendPosts:     makePosts(11, 12, 13, 14),
		PopularComments: makeComments([2]int64{201, 21}, [2]int64{202, 22}),
		Suggestions:     makeProfiles(10),
		StrangerPosts:   makePosts(31, 32),
	}
	items := Compose(c, DefaultOptions())

	// Cycle 0 carries a carousel, cycle 1 does not.
	want := []model.FeedItemType{
		model.FEED_ITEM_TOP_POST,
		model.FEED_ITEM_FRIEND_POST,
		model.FEED_ITEM_POPULAR_COMMENT,
		model.FEED_ITEM_USER_CAROUSEL,
		model.FEED_ITEM_STRANGER_POST,
		model.FEED_ITEM_FRIEND_POST,
		model.FEED_ITEM_TOP_POST,
		model.FEED_ITEM_FRIEND_POST,
		model.FEED_ITEM_POPULAR_COMMENT,
		model.FEED_ITEM_STRANGER_POST,
		model.FEED_ITEM_FRIEND_POST,
		model.FEED_ITEM_USER_CAROUSEL,
	}
	assert.Equal(t, want, itemTypes(items))
}

func TestComposeFriendPostsSampledTwicePerCycle(t *testing.T) {
	c := Candidates{FriendPosts: makePosts(11, 12, 13, 14, 15)}
	items := Compose(c, DefaultOptions())

	require.Len(t, items, 5)
	// Two friend posts per cycle until the source runs dry.
	assert.Equal(t, int64(11), items[0].Post.PostID)
	assert.Equal(t, int64(12), items[1].Post.PostID)
	assert.Equal(t, int64(13), items[2].Post.PostID)
	assert.Equal(t, int64(14), items[3].Post.PostID)
	assert.Equal(t, int64(15), items[4].Post.PostID)
	for _, it := range items {
		assert.Equal(t, model.FEED_ITEM_FRIEND_POST, it.Type)
	}
}

func TestComposeNoDuplicatePosts(t *testing.T) {
	// Post 5 appears in every post source; first source wins.
	c := Candidates{
		TopPosts:        makePosts(5, 1),
		FriendPosts:     makePosts(5, 11),
		PopularComments: makeComments([2]int64{201, 5}, [2]int64{202, 21}),
		StrangerPosts:   makePosts(5, 31),
	}
	items := Compose(c, DefaultOptions())

	seen := make(map[int64]int)
	for _, it := range items {
		switch {
		case it.Post != nil:
			seen[it.Post.PostID]++
		case it.Comment != nil:
			seen[it.Comment.PostID]++
		}
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "post %d surfaced %d times", id, n)
	}
	assert.Equal(t, 1, seen[5])
	// Post 5 was emitted by the top source.
	assert.Equal(t, model.FEED_ITEM_TOP_POST, items[0].Type)
	assert.Equal(t, int64(5), items[0].Post.PostID)
}

func TestComposeCommentClaimsParentPost(t *testing.T) {
	// The comment on post 31 surfaces before the stranger copy of post 31.
	c := Candidates{
		PopularComments: makeComments([2]int64{201, 31}),
		StrangerPosts:   makePosts(31, 32),
	}
	items := Compose(c, DefaultOptions())

	require.Len(t, items, 2)
	assert.Equal(t, model.FEED_ITEM_POPULAR_COMMENT, items[0].Type)
	assert.Equal(t, int64(31), items[0].Comment.PostID)
	assert.Equal(t, model.FEED_ITEM_STRANGER_POST, items[1].Type)
	assert.Equal(t, int64(32), items[1].Post.PostID)
}

func TestComposePostSuppressesLaterComment(t *testing.T) {
	// Post 1 is emitted as a top post in cycle 0, so the comment on it
	// never surfaces even though the comment source still has entries.
	c := Candidates{
		TopPosts:        makePosts(1),
		PopularComments: makeComments([2]int64{201, 1}, [2]int64{202, 99}),
	}
	items := Compose(c, DefaultOptions())

	require.Len(t, items, 2)
	assert.Equal(t, model.FEED_ITEM_TOP_POST, items[0].Type)
	assert.Equal(t, model.FEED_ITEM_POPULAR_COMMENT, items[1].Type)
	assert.Equal(t, int64(202), items[1].Comment.CommentID)
}

func TestComposeCarouselCadenceAndBatching(t *testing.T) {
	// Enough posts to keep every cycle alive; 12 suggestions split into
	// batches of 5, 5 and 2 across even cycles.
	var topIDs []int64
	for i := int64(0); i < 20; i++ {
		topIDs = append(topIDs, 100+i)
	}
	c := Candidates{
		TopPosts:    makePosts(topIDs...),
		Suggestions: makeProfiles(12),
	}
	items := Compose(c, DefaultOptions())

	var batches [][]model.Profile
	for _, it := range items {
		if it.Type == model.FEED_ITEM_USER_CAROUSEL {
			batches = append(batches, it.Users)
		}
	}
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 5)
	assert.Len(t, batches[1], 5)
	assert.Len(t, batches[2], 2)
	assert.Equal(t, int64(1000), batches[0][0].UserID)
	assert.Equal(t, int64(1011), batches[2][1].UserID)
}

func TestComposeNoPaddingWhenSourcesExhaust(t *testing.T) {
	// A viewer with no friends: two top posts, ten suggestions, one fresh
	// stranger post. No filler items are invented for the empty sources.
	c := Candidates{
		TopPosts:      makePosts(1, 2),
		Suggestions:   makeProfiles(10),
		StrangerPosts: makePosts(31),
	}
	items := Compose(c, DefaultOptions())

	want := []model.FeedItemType{
		model.FEED_ITEM_TOP_POST,
		model.FEED_ITEM_USER_CAROUSEL,
		model.FEED_ITEM_STRANGER_POST,
		model.FEED_ITEM_TOP_POST,
		model.FEED_ITEM_USER_CAROUSEL,
	}
	assert.Equal(t, want, itemTypes(items))
}

func TestComposeEmptyCandidates(t *testing.T) {
	items := Compose(Candidates{}, DefaultOptions())
	assert.Empty(t, items)
}

func TestComposeCustomCadence(t *testing.T) {
	opts := DefaultOptions()
	opts.CarouselCadence = 3
	opts.CarouselSize = 2
	var topIDs []int64
	for i := int64(0); i < 10; i++ {
		topIDs = append(topIDs, 100+i)
	}
	c := Candidates{
		TopPosts:    makePosts(topIDs...),
		Suggestions: makeProfiles(8),
	}
	items := Compose(c, opts)

	carousels := 0
	for _, it := range items {
		if it.Type == model.FEED_ITEM_USER_CAROUSEL {
			carousels++
			assert.Len(t, it.Users, 2)
		}
	}
	// Cycles 0, 3, 6 and 9 inject a carousel.
	assert.Equal(t, 4, carousels)
}
