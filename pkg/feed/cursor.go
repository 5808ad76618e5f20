package feed

import "vibenet/pkg/model"

// postCursor walks a ranked candidate list exactly once, skipping posts
// whose id was already emitted by an earlier source. The cursor never
// backtracks: a candidate skipped as a duplicate is gone for good.
type postCursor struct {
	posts []model.Post
	idx   int
}

func newPostCursor(posts []model.Post) *postCursor {
	return &postCursor{posts: posts}
}

// next returns the first remaining candidate whose id is not in emitted,
// or false when the list is exhausted.
func (c *postCursor) next(emitted map[int64]struct{}) (model.Post, bool) {
	for c.idx < len(c.posts) {
		p := c.posts[c.idx]
		c.idx++
		if _, dup := emitted[p.PostID]; dup {
			continue
		}
		return p, true
	}
	return model.Post{}, false
}

// commentCursor is a postCursor over comments, deduplicating by the
// comment's parent post id: a comment never surfaces once its post did,
// and vice versa.
type commentCursor struct {
	comments []model.Comment
	idx      int
}

func newCommentCursor(comments []model.Comment) *commentCursor {
	return &commentCursor{comments: comments}
}

func (c *commentCursor) next(emitted map[int64]struct{}) (model.Comment, bool) {
	for c.idx < len(c.comments) {
		cm := c.comments[c.idx]
		c.idx++
		if _, dup := emitted[cm.PostID]; dup {
			continue
		}
		return cm, true
	}
	return model.Comment{}, false
}

// carouselCursor slices the pre-shuffled suggestion list into fixed-size
// batches. Suggestions are not content and take no part in post dedup; the
// cursor simply advances by one batch per call.
type carouselCursor struct {
	users []model.Profile
	size  int
	idx   int
}

func newCarouselCursor(users []model.Profile, size int) *carouselCursor {
	return &carouselCursor{users: users, size: size}
}

func (c *carouselCursor) next() ([]model.Profile, bool) {
	if c.idx >= len(c.users) {
		return nil, false
	}
	end := c.idx + c.size
	if end > len(c.users) {
		end = len(c.users)
	}
	batch := c.users[c.idx:end]
	c.idx = end
	return batch, true
}
