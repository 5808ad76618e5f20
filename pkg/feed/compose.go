package feed

import "vibenet/pkg/model"

// Candidates holds the five annotated source lists, each already ordered
// and capped by its provider. Suggestions must already be shuffled.
type Candidates struct {
	TopPosts        []model.Post
	FriendPosts     []model.Post
	PopularComments []model.Comment
	Suggestions     []model.Profile
	StrangerPosts   []model.Post
}

// Compose merges the candidate lists into a single sequence using a
// bounded round-robin schedule. Per cycle, in order: one top post, one
// friend post, one popular comment, a suggestion carousel on every
// CarouselCadence-th cycle, one stranger post, and a second friend post
// (friend content is intentionally sampled twice per cycle). A post id is
// emitted at most once across all post-bearing item kinds; a popular
// comment claims its parent post's id. Exhausted sources contribute
// nothing for the remaining cycles and the result is never padded.
func Compose(c Candidates, opts Options) []model.FeedItem {
	opts = opts.withDefaults()

	top := newPostCursor(c.TopPosts)
	friends := newPostCursor(c.FriendPosts)
	comments := newCommentCursor(c.PopularComments)
	carousel := newCarouselCursor(c.Suggestions, opts.CarouselSize)
	strangers := newPostCursor(c.StrangerPosts)

	var items []model.FeedItem
	emitted := make(map[int64]struct{})

	emitPost := func(t model.FeedItemType, p model.Post) {
		emitted[p.PostID] = struct{}{}
		items = append(items, model.FeedItem{Type: t, Post: &p})
	}

	for cycle := 0; cycle < opts.MaxCycles; cycle++ {
		if p, ok := top.next(emitted); ok {
			emitPost(model.FEED_ITEM_TOP_POST, p)
		}
		if p, ok := friends.next(emitted); ok {
			emitPost(model.FEED_ITEM_FRIEND_POST, p)
		}
		if cm, ok := comments.next(emitted); ok {
			emitted[cm.PostID] = struct{}{}
			items = append(items, model.FeedItem{Type: model.FEED_ITEM_POPULAR_COMMENT, Comment: &cm})
		}
		if cycle%opts.CarouselCadence == 0 {
			if batch, ok := carousel.next(); ok {
				items = append(items, model.FeedItem{Type: model.FEED_ITEM_USER_CAROUSEL, Users: batch})
			}
		}
		if p, ok := strangers.next(emitted); ok {
			emitPost(model.FEED_ITEM_STRANGER_POST, p)
		}
		if p, ok := friends.next(emitted); ok {
			emitPost(model.FEED_ITEM_FRIEND_POST, p)
		}
	}
	return items
}
