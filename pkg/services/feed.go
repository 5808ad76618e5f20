package services

import (
	"context"
	"time"

	"vibenet/pkg/feed"
	"vibenet/pkg/metrics"
	"vibenet/pkg/model"
	"vibenet/pkg/utils"

	"github.com/ServiceWeaver/weaver"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FeedService composes the recommendation feed for a viewer. The viewer id
// is already authenticated by the caller; the service only assembles the
// pipeline around the storage components and reports metrics.
type FeedService interface {
	ComposeFeed(ctx context.Context, reqID int64, viewerID int64) ([]model.FeedItem, error)
}

type feedServiceOptions struct {
	TopPostsCap        int    `toml:"top_posts_cap"`
	FriendPostsCap     int    `toml:"friend_posts_cap"`
	PopularCommentsCap int    `toml:"popular_comments_cap"`
	SuggestionsCap     int    `toml:"suggestions_cap"`
	StrangerPostsCap   int    `toml:"stranger_posts_cap"`
	MaxCycles          int    `toml:"max_cycles"`
	CarouselSize       int    `toml:"carousel_size"`
	CarouselCadence    int    `toml:"carousel_cadence"`
	Region             string `toml:"region"`
}

type feedService struct {
	weaver.Implements[FeedService]
	weaver.WithConfig[feedServiceOptions]
	socialGraphService    weaver.Ref[SocialGraphService]
	postStorageService    weaver.Ref[PostStorageService]
	commentStorageService weaver.Ref[CommentStorageService]
	userService           weaver.Ref[UserService]
	likeStatusService     weaver.Ref[LikeStatusService]

	opts feed.Options
}

func (f *feedService) Init(ctx context.Context) error {
	logger := f.Logger(ctx)

	if f.Config().Region == "" {
		region, err := utils.Region()
		if err != nil {
			logger.Error(err.Error())
			return err
		}
		f.Config().Region = region
	}

	// zero fields fall back to the observed defaults inside pkg/feed
	f.opts = feed.Options{
		TopPostsCap:        f.Config().TopPostsCap,
		FriendPostsCap:     f.Config().FriendPostsCap,
		PopularCommentsCap: f.Config().PopularCommentsCap,
		SuggestionsCap:     f.Config().SuggestionsCap,
		StrangerPostsCap:   f.Config().StrangerPostsCap,
		MaxCycles:          f.Config().MaxCycles,
		CarouselSize:       f.Config().CarouselSize,
		CarouselCadence:    f.Config().CarouselCadence,
	}

	logger.Info("feed service running!", "region", f.Config().Region)
	return nil
}

func (f *feedService) ComposeFeed(ctx context.Context, reqID int64, viewerID int64) ([]model.FeedItem, error) {
	logger := f.Logger(ctx)
	logger.Debug("entering ComposeFeed", "req_id", reqID, "viewer_id", viewerID)

	composeStartMs := time.Now().UnixMilli()

	stores := feed.Stores{
		Relationships: &relationshipAdapter{svc: f.socialGraphService.Get(), reqID: reqID},
		Content: &contentAdapter{
			posts:    f.postStorageService.Get(),
			comments: f.commentStorageService.Get(),
			reqID:    reqID,
		},
		Suggestions: &suggestionAdapter{svc: f.userService.Get(), reqID: reqID},
		Likes:       &likeAdapter{svc: f.likeStatusService.Get(), reqID: reqID},
	}
	pipeline := feed.NewPipeline(stores, f.opts, logger)

	items, err := pipeline.ComposeFeed(ctx, viewerID)
	if err != nil {
		logger.Error("error composing feed", "req_id", reqID, "viewer_id", viewerID, "msg", err.Error())
		return nil, err
	}

	metrics.ComposedFeeds.Get(metrics.RegionLabel{Region: f.Config().Region}).Inc()
	metrics.ComposeFeedDurationMs.Get(metrics.RegionLabel{Region: f.Config().Region}).Put(float64(time.Now().UnixMilli() - composeStartMs))
	for _, item := range items {
		metrics.EmittedFeedItems.Get(metrics.ItemLabel{Kind: string(item.Type)}).Inc()
	}

	trace.SpanFromContext(ctx).AddEvent("composed feed",
		trace.WithAttributes(
			attribute.Int64("viewer_id", viewerID),
			attribute.Int("num_items", len(items)),
			attribute.Int64("compose_start_ms", composeStartMs),
			attribute.Int64("compose_end_ms", time.Now().UnixMilli()),
		))

	return items, nil
}

// The adapters bind the weaver components to the pipeline's store
// interfaces, carrying the request id of the current feed request.

type relationshipAdapter struct {
	svc   SocialGraphService
	reqID int64
}

func (a *relationshipAdapter) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	return a.svc.GetFriendIDs(ctx, a.reqID, userID)
}

func (a *relationshipAdapter) SentRequestIDs(ctx context.Context, userID int64) ([]int64, error) {
	return a.svc.GetSentRequestIDs(ctx, a.reqID, userID)
}

func (a *relationshipAdapter) BlockedIDs(ctx context.Context, userID int64) ([]int64, error) {
	return a.svc.GetBlockedIDs(ctx, a.reqID, userID)
}

type contentAdapter struct {
	posts    PostStorageService
	comments CommentStorageService
	reqID    int64
}

func (a *contentAdapter) TopStrangerPosts(ctx context.Context, viewerID int64, friendIDs, excludedIDs []int64, limit int) ([]model.Post, error) {
	return a.posts.TopStrangerPosts(ctx, a.reqID, viewerID, friendIDs, excludedIDs, limit)
}

func (a *contentAdapter) RecentFriendPosts(ctx context.Context, friendIDs, excludedIDs []int64, limit int) ([]model.Post, error) {
	return a.posts.RecentFriendPosts(ctx, a.reqID, friendIDs, excludedIDs, limit)
}

func (a *contentAdapter) PopularFriendComments(ctx context.Context, friendIDs, excludedIDs []int64, limit int) ([]model.Comment, error) {
	return a.comments.PopularFriendComments(ctx, a.reqID, friendIDs, excludedIDs, limit)
}

func (a *contentAdapter) RecentStrangerPosts(ctx context.Context, viewerID int64, friendIDs, excludedIDs []int64, limit int) ([]model.Post, error) {
	return a.posts.RecentStrangerPosts(ctx, a.reqID, viewerID, friendIDs, excludedIDs, limit)
}

type suggestionAdapter struct {
	svc   UserService
	reqID int64
}

func (a *suggestionAdapter) SuggestUsers(ctx context.Context, viewerID int64, friendIDs, sentRequestIDs, excludedIDs []int64, limit int) ([]model.Profile, error) {
	return a.svc.SuggestUsers(ctx, a.reqID, viewerID, friendIDs, sentRequestIDs, excludedIDs, limit)
}

type likeAdapter struct {
	svc   LikeStatusService
	reqID int64
}

func (a *likeAdapter) HasLiked(ctx context.Context, postID int64, userID int64) (bool, error) {
	return a.svc.HasLiked(ctx, a.reqID, postID, userID)
}
