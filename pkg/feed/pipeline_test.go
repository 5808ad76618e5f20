package feed

import (
	"context"
	"errors"
	"testing"

	"vibenet/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRelationshipStore struct {
	friends  []int64
	requests []int64
	blocked  []int64

	friendsErr  error
	requestsErr error
	blockedErr  error
}

func (f *fakeRelationshipStore) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	return f.friends, f.friendsErr
}

func (f *fakeRelationshipStore) SentRequestIDs(ctx context.Context, userID int64) ([]int64, error) {
	return f.requests, f.requestsErr
}

func (f *fakeRelationshipStore) BlockedIDs(ctx context.Context, userID int64) ([]int64, error) {
	return f.blocked, f.blockedErr
}

type fakeContentStore struct {
	topPosts      []model.Post
	friendPosts   []model.Post
	comments      []model.Comment
	strangerPosts []model.Post

	topErr error

	// arguments seen by the last query, one slot per method
	topFriends, topExcluded []int64
	recentFriendsArg        []int64
	suggestExcluded         []int64
}

func (f *fakeContentStore) TopStrangerPosts(ctx context.Context, viewerID int64, friendIDs, excludedIDs []int64, limit int) ([]model.Post, error) {
	f.topFriends, f.topExcluded = friendIDs, excludedIDs
	if f.topErr != nil {
		return nil, f.topErr
	}
	return capPosts(dropAuthors(f.topPosts, excludedIDs), limit), nil
}

func (f *fakeContentStore) RecentFriendPosts(ctx context.Context, friendIDs, excludedIDs []int64, limit int) ([]model.Post, error) {
	f.recentFriendsArg = friendIDs
	return capPosts(f.friendPosts, limit), nil
}

func (f *fakeContentStore) PopularFriendComments(ctx context.Context, friendIDs, excludedIDs []int64, limit int) ([]model.Comment, error) {
	if limit < len(f.comments) {
		return f.comments[:limit], nil
	}
	return f.comments, nil
}

func (f *fakeContentStore) RecentStrangerPosts(ctx context.Context, viewerID int64, friendIDs, excludedIDs []int64, limit int) ([]model.Post, error) {
	return capPosts(f.strangerPosts, limit), nil
}

func capPosts(posts []model.Post, limit int) []model.Post {
	if limit < len(posts) {
		return posts[:limit]
	}
	return posts
}

// dropAuthors mirrors the store-side $nin author filter.
func dropAuthors(posts []model.Post, excludedIDs []int64) []model.Post {
	excluded := make(map[int64]struct{}, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = struct{}{}
	}
	var out []model.Post
	for _, p := range posts {
		if _, ok := excluded[p.AuthorID]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}

type fakeSuggestionStore struct {
	users []model.Profile
	err   error

	excludedArg []int64
}

func (f *fakeSuggestionStore) SuggestUsers(ctx context.Context, viewerID int64, friendIDs, sentRequestIDs, excludedIDs []int64, limit int) ([]model.Profile, error) {
	f.excludedArg = excludedIDs
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.users) {
		return f.users[:limit], nil
	}
	return f.users, nil
}

func testStores() (*fakeRelationshipStore, *fakeContentStore, *fakeSuggestionStore, *fakeLikeStore, Stores) {
	rel := &fakeRelationshipStore{friends: []int64{11, 12}}
	content := &fakeContentStore{
		topPosts:      makePosts(1, 2),
		friendPosts:   makePosts(101, 102),
		comments:      makeComments([2]int64{201, 50}),
		strangerPosts: makePosts(31),
	}
	suggestions := &fakeSuggestionStore{users: makeProfiles(6)}
	likes := &fakeLikeStore{liked: map[int64]bool{1: true, 101: true}}
	return rel, content, suggestions, likes, Stores{
		Relationships: rel,
		Content:       content,
		Suggestions:   suggestions,
		Likes:         likes,
	}
}

func TestPipelineComposeFeed(t *testing.T) {
	_, content, _, _, stores := testStores()
	p := NewPipeline(stores, DefaultOptions(), nil)
	p.SeedRand(1)

	items, err := p.ComposeFeed(context.Background(), 7)
	require.NoError(t, err)
	require.NotEmpty(t, items)

	counts := make(map[model.FeedItemType]int)
	for _, it := range items {
		counts[it.Type]++
	}
	assert.Equal(t, 2, counts[model.FEED_ITEM_TOP_POST])
	assert.Equal(t, 2, counts[model.FEED_ITEM_FRIEND_POST])
	assert.Equal(t, 1, counts[model.FEED_ITEM_POPULAR_COMMENT])
	assert.Equal(t, 1, counts[model.FEED_ITEM_STRANGER_POST])
	assert.Equal(t, 2, counts[model.FEED_ITEM_USER_CAROUSEL])

	// The friend set reached the content queries.
	assert.Equal(t, []int64{11, 12}, content.topFriends)
	assert.Equal(t, []int64{11, 12}, content.recentFriendsArg)
}

func TestPipelineAnnotatesLikeStatus(t *testing.T) {
	_, _, _, _, stores := testStores()
	p := NewPipeline(stores, DefaultOptions(), nil)

	items, err := p.ComposeFeed(context.Background(), 7)
	require.NoError(t, err)

	liked := make(map[int64]bool)
	for _, it := range items {
		if it.Post != nil {
			liked[it.Post.PostID] = it.Post.IsLikedByUser
		}
	}
	assert.True(t, liked[1])
	assert.True(t, liked[101])
	assert.False(t, liked[2])
	assert.False(t, liked[31])
}

func TestPipelineDegradedSourceYieldsEmptyList(t *testing.T) {
	_, content, _, _, stores := testStores()
	content.topErr = errors.New("mongodb timeout")
	p := NewPipeline(stores, DefaultOptions(), nil)

	items, err := p.ComposeFeed(context.Background(), 7)
	require.NoError(t, err)

	for _, it := range items {
		assert.NotEqual(t, model.FEED_ITEM_TOP_POST, it.Type)
	}
	// The other sources still contribute.
	assert.NotEmpty(t, items)
}

func TestPipelineDegradedSuggestions(t *testing.T) {
	_, _, suggestions, _, stores := testStores()
	suggestions.err = errors.New("mongodb timeout")
	p := NewPipeline(stores, DefaultOptions(), nil)

	items, err := p.ComposeFeed(context.Background(), 7)
	require.NoError(t, err)
	for _, it := range items {
		assert.NotEqual(t, model.FEED_ITEM_USER_CAROUSEL, it.Type)
	}
}

func TestPipelineRelationshipFailureFailsRequest(t *testing.T) {
	rel, _, _, _, stores := testStores()
	rel.friendsErr = errors.New("redis down")
	p := NewPipeline(stores, DefaultOptions(), nil)

	_, err := p.ComposeFeed(context.Background(), 7)
	assert.Error(t, err)
}

func TestPipelineBlockedFailureFailsRequest(t *testing.T) {
	rel, _, _, _, stores := testStores()
	rel.blockedErr = errors.New("mongodb down")
	p := NewPipeline(stores, DefaultOptions(), nil)

	_, err := p.ComposeFeed(context.Background(), 7)
	assert.Error(t, err)
}

func TestPipelineStripsViewerFromExclusionSet(t *testing.T) {
	rel, content, suggestions, _, stores := testStores()
	rel.blocked = []int64{7, 40, 41}
	p := NewPipeline(stores, DefaultOptions(), nil)

	_, err := p.ComposeFeed(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{40, 41}, content.topExcluded)
	assert.Equal(t, []int64{40, 41}, suggestions.excludedArg)
}

func TestPipelineAnnotationFailureLeavesFlagFalse(t *testing.T) {
	_, _, _, likes, stores := testStores()
	likes.err = errors.New("redis down")
	p := NewPipeline(stores, DefaultOptions(), nil)

	items, err := p.ComposeFeed(context.Background(), 7)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for _, it := range items {
		if it.Post != nil {
			assert.False(t, it.Post.IsLikedByUser)
		}
	}
}

func TestPipelineViewerWithNoFriends(t *testing.T) {
	// Three stranger posts with like counts {5, 3, 0}: the top source
	// carries the two liked ones best-first, the recency source carries
	// two fresh posts, and ten suggestion candidates fill two carousels.
	rel := &fakeRelationshipStore{}
	content := &fakeContentStore{
		topPosts: []model.Post{
			{PostID: 1, AuthorID: 100, LikesCount: 5},
			{PostID: 2, AuthorID: 200, LikesCount: 3},
		},
		strangerPosts: makePosts(31, 32),
	}
	suggestions := &fakeSuggestionStore{users: makeProfiles(10)}
	likes := &fakeLikeStore{}
	stores := Stores{Relationships: rel, Content: content, Suggestions: suggestions, Likes: likes}

	p := NewPipeline(stores, DefaultOptions(), nil)
	items, err := p.ComposeFeed(context.Background(), 7)
	require.NoError(t, err)

	want := []model.FeedItemType{
		model.FEED_ITEM_TOP_POST,
		model.FEED_ITEM_USER_CAROUSEL,
		model.FEED_ITEM_STRANGER_POST,
		model.FEED_ITEM_TOP_POST,
		model.FEED_ITEM_STRANGER_POST,
		model.FEED_ITEM_USER_CAROUSEL,
	}
	require.Equal(t, want, itemTypes(items))
	assert.Equal(t, int64(5), items[0].Post.LikesCount)
	assert.Equal(t, int64(31), items[2].Post.PostID)
	assert.Equal(t, int64(3), items[3].Post.LikesCount)
	assert.Equal(t, int64(32), items[4].Post.PostID)
	assert.Len(t, items[1].Users, 5)
	assert.Len(t, items[5].Users, 5)
}

func TestPipelineBlockedAuthorNeverSurfaces(t *testing.T) {
	// User 666 is blocked by the viewer; their 100-like post would rank
	// first but must not appear.
	rel := &fakeRelationshipStore{blocked: []int64{666}}
	content := &fakeContentStore{
		topPosts: []model.Post{
			{PostID: 9, AuthorID: 666, LikesCount: 100},
			{PostID: 1, AuthorID: 100, LikesCount: 5},
		},
	}
	stores := Stores{
		Relationships: rel,
		Content:       content,
		Suggestions:   &fakeSuggestionStore{},
		Likes:         &fakeLikeStore{},
	}

	p := NewPipeline(stores, DefaultOptions(), nil)
	items, err := p.ComposeFeed(context.Background(), 7)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	for _, it := range items {
		if it.Post != nil {
			assert.NotEqual(t, int64(9), it.Post.PostID)
			assert.NotEqual(t, int64(666), it.Post.AuthorID)
		}
	}
	assert.Equal(t, int64(1), items[0].Post.PostID)
}

func TestPipelineShuffleDeterministicForSeed(t *testing.T) {
	run := func() []model.FeedItem {
		_, _, _, _, stores := testStores()
		p := NewPipeline(stores, DefaultOptions(), nil)
		p.SeedRand(99)
		items, err := p.ComposeFeed(context.Background(), 7)
		require.NoError(t, err)
		return items
	}
	assert.Equal(t, run(), run())
}
