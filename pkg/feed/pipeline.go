package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"vibenet/pkg/metrics"
	"vibenet/pkg/model"
)

// Candidate source names, used for logging and degradation metrics.
const (
	SourceTopPosts        = "top_posts"
	SourceFriendPosts     = "friend_posts"
	SourcePopularComments = "popular_comments"
	SourceSuggestions     = "suggestions"
	SourceStrangerPosts   = "stranger_posts"
)

// RelationshipStore resolves the viewer's social sets. BlockedIDs is
// symmetric: it contains anyone who blocked the viewer or whom the viewer
// blocked.
type RelationshipStore interface {
	FriendIDs(ctx context.Context, userID int64) ([]int64, error)
	SentRequestIDs(ctx context.Context, userID int64) ([]int64, error)
	BlockedIDs(ctx context.Context, userID int64) ([]int64, error)
}

// ContentStore exposes the post and comment candidate queries. Every query
// must exclude blocked users; the friend set partitions authors into
// friends and strangers.
type ContentStore interface {
	TopStrangerPosts(ctx context.Context, viewerID int64, friendIDs, excludedIDs []int64, limit int) ([]model.Post, error)
	RecentFriendPosts(ctx context.Context, friendIDs, excludedIDs []int64, limit int) ([]model.Post, error)
	PopularFriendComments(ctx context.Context, friendIDs, excludedIDs []int64, limit int) ([]model.Comment, error)
	RecentStrangerPosts(ctx context.Context, viewerID int64, friendIDs, excludedIDs []int64, limit int) ([]model.Post, error)
}

// SuggestionStore lists users the viewer might befriend: not already a
// friend, not already requested, not the viewer, not blocked either way.
type SuggestionStore interface {
	SuggestUsers(ctx context.Context, viewerID int64, friendIDs, sentRequestIDs, excludedIDs []int64, limit int) ([]model.Profile, error)
}

// Stores bundles the collaborators the pipeline reads from.
type Stores struct {
	Relationships RelationshipStore
	Content       ContentStore
	Suggestions   SuggestionStore
	Likes         LikeStore
}

// Pipeline runs one feed request end to end: relationship resolution,
// concurrent candidate fan-out, like-status annotation and composition.
// It is safe for concurrent use.
type Pipeline struct {
	stores Stores
	opts   Options
	logger *slog.Logger

	rng   *rand.Rand
	rngMu sync.Mutex
}

func NewPipeline(stores Stores, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		stores: stores,
		opts:   opts.withDefaults(),
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SeedRand replaces the shuffle source, for deterministic tests.
func (p *Pipeline) SeedRand(seed int64) {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	p.rng = rand.New(rand.NewSource(seed))
}

// ComposeFeed produces the ordered feed for an already-authenticated
// viewer. A failed candidate source degrades to an empty list; only a
// relationship resolution failure fails the request, since every source
// query depends on the exclusion set.
func (p *Pipeline) ComposeFeed(ctx context.Context, viewerID int64) ([]model.FeedItem, error) {
	friendIDs, sentRequestIDs, excludedIDs, err := p.resolveRelationships(ctx, viewerID)
	if err != nil {
		return nil, err
	}

	var c Candidates
	var wg sync.WaitGroup
	wg.Add(5)
	go func() {
		defer wg.Done()
		posts, err := p.stores.Content.TopStrangerPosts(ctx, viewerID, friendIDs, excludedIDs, p.opts.TopPostsCap)
		c.TopPosts = p.degradePosts(SourceTopPosts, posts, err)
	}()
	go func() {
		defer wg.Done()
		posts, err := p.stores.Content.RecentFriendPosts(ctx, friendIDs, excludedIDs, p.opts.FriendPostsCap)
		c.FriendPosts = p.degradePosts(SourceFriendPosts, posts, err)
	}()
	go func() {
		defer wg.Done()
		comments, err := p.stores.Content.PopularFriendComments(ctx, friendIDs, excludedIDs, p.opts.PopularCommentsCap)
		if err != nil {
			p.degraded(SourcePopularComments, err)
			comments = nil
		}
		c.PopularComments = comments
	}()
	go func() {
		defer wg.Done()
		users, err := p.stores.Suggestions.SuggestUsers(ctx, viewerID, friendIDs, sentRequestIDs, excludedIDs, p.opts.SuggestionsCap)
		if err != nil {
			p.degraded(SourceSuggestions, err)
			users = nil
		}
		c.Suggestions = users
	}()
	go func() {
		defer wg.Done()
		posts, err := p.stores.Content.RecentStrangerPosts(ctx, viewerID, friendIDs, excludedIDs, p.opts.StrangerPostsCap)
		c.StrangerPosts = p.degradePosts(SourceStrangerPosts, posts, err)
	}()
	wg.Wait()

	// Annotation must finish for every candidate of every source before
	// composition starts; the concurrency here is a latency optimization
	// only. Comments carry their parent post through unchanged.
	p.annotateAll(ctx, viewerID, c.TopPosts, c.FriendPosts, c.StrangerPosts)

	p.rngMu.Lock()
	ShuffleSuggestions(p.rng, c.Suggestions)
	p.rngMu.Unlock()

	return Compose(c, p.opts), nil
}

func (p *Pipeline) resolveRelationships(ctx context.Context, viewerID int64) (friendIDs, sentRequestIDs, excludedIDs []int64, err error) {
	var errs [3]error
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		friendIDs, errs[0] = p.stores.Relationships.FriendIDs(ctx, viewerID)
	}()
	go func() {
		defer wg.Done()
		sentRequestIDs, errs[1] = p.stores.Relationships.SentRequestIDs(ctx, viewerID)
	}()
	go func() {
		defer wg.Done()
		excludedIDs, errs[2] = p.stores.Relationships.BlockedIDs(ctx, viewerID)
	}()
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			p.logger.Error("error resolving viewer relationships", "viewer_id", viewerID, "msg", e.Error())
			return nil, nil, nil, e
		}
	}
	// The viewer can land in the block set as the blocker; the sources
	// exclude the viewer separately.
	excludedIDs = removeID(excludedIDs, viewerID)
	return friendIDs, sentRequestIDs, excludedIDs, nil
}

func (p *Pipeline) annotateAll(ctx context.Context, viewerID int64, lists ...[]model.Post) {
	var wg sync.WaitGroup
	for _, posts := range lists {
		for i := range posts {
			wg.Add(1)
			go func(post *model.Post) {
				defer wg.Done()
				if err := AnnotateLikeStatus(ctx, p.stores.Likes, post, viewerID); err != nil {
					// Render-only flag; leave it false rather than
					// failing the whole feed.
					p.logger.Warn("error annotating like status", "post_id", post.PostID, "msg", err.Error())
				}
			}(&posts[i])
		}
	}
	wg.Wait()
}

func (p *Pipeline) degradePosts(source string, posts []model.Post, err error) []model.Post {
	if err != nil {
		p.degraded(source, err)
		return nil
	}
	return posts
}

func (p *Pipeline) degraded(source string, err error) {
	p.logger.Warn("candidate source degraded to empty", "source", source, "msg", err.Error())
	metrics.DegradedSources.Get(metrics.SourceLabel{Source: source}).Inc()
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
