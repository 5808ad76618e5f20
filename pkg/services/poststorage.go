package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"vibenet/pkg/model"
	"vibenet/pkg/storage"
	"vibenet/pkg/utils"

	"github.com/ServiceWeaver/weaver"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PostStorageService owns the posts collection: authoring, reposts, point
// reads, and the three post candidate queries used by the feed.
type PostStorageService interface {
	StorePost(ctx context.Context, reqID int64, post model.Post) (int64, error)
	StoreRepost(ctx context.Context, reqID int64, author model.Profile, postID int64) (model.Post, error)
	ReadPost(ctx context.Context, reqID int64, postID int64) (model.Post, error)
	TopStrangerPosts(ctx context.Context, reqID int64, viewerID int64, friendIDs []int64, excludedIDs []int64, limit int) ([]model.Post, error)
	RecentFriendPosts(ctx context.Context, reqID int64, friendIDs []int64, excludedIDs []int64, limit int) ([]model.Post, error)
	RecentStrangerPosts(ctx context.Context, reqID int64, viewerID int64, friendIDs []int64, excludedIDs []int64, limit int) ([]model.Post, error)
}

var _ weaver.NotRetriable = PostStorageService.StorePost
var _ weaver.NotRetriable = PostStorageService.StoreRepost

type postStorageServiceOptions struct {
	MongoDBAddr string `toml:"mongodb_address"`
	MongoDBPort int    `toml:"mongodb_port"`
	RedisAddr   string `toml:"redis_address"`
	RedisPort   int    `toml:"redis_port"`
	Region      string `toml:"region"`
}

type postStorageService struct {
	weaver.Implements[PostStorageService]
	weaver.WithConfig[postStorageServiceOptions]
	mongoClient *mongo.Client
	redisClient *redis.Client

	machineID        string
	mu               sync.Mutex
	counter          int64
	currentTimestamp int64
}

func (p *postStorageService) Init(ctx context.Context) error {
	logger := p.Logger(ctx)

	var err error
	p.mongoClient, err = storage.MongoDBClient(ctx, p.Config().MongoDBAddr, p.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	p.redisClient = storage.RedisClient(p.Config().RedisAddr, p.Config().RedisPort)
	p.machineID = utils.GetMachineID()
	p.currentTimestamp = -1

	logger.Info("post storage service running!", "region", p.Config().Region, "mongodb_addr", p.Config().MongoDBAddr, "mongodb_port", p.Config().MongoDBPort)
	return nil
}

func (p *postStorageService) postsCollection() *mongo.Collection {
	return p.mongoClient.Database("poststorage").Collection("posts")
}

func (p *postStorageService) nextPostID() (int64, error) {
	timestamp := time.Now().UnixMilli() - utils.CUSTOM_EPOCH
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.currentTimestamp > timestamp {
		return 0, fmt.Errorf("timestamps are not incremental")
	}
	if p.currentTimestamp == timestamp {
		p.counter += 1
	} else {
		p.currentTimestamp = timestamp
		p.counter = 0
	}
	return utils.GenUniqueID(p.machineID, timestamp, p.counter)
}

// StorePost assigns the post id and timestamp and writes the post to
// mongodb. The author must already be set by the caller.
func (p *postStorageService) StorePost(ctx context.Context, reqID int64, post model.Post) (int64, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering StorePost", "req_id", reqID, "author_id", post.AuthorID)

	poststorageStartMs := time.Now().UnixMilli()

	postID, err := p.nextPostID()
	if err != nil {
		logger.Error("error generating post id", "msg", err.Error())
		return 0, err
	}
	post.PostID = postID
	post.CreatedAt = time.Now().UnixMilli()

	if _, err := p.postsCollection().InsertOne(ctx, post); err != nil {
		logger.Error("error writing post", "msg", err.Error())
		return 0, err
	}

	trace.SpanFromContext(ctx).AddEvent("writing post in mongodb",
		trace.WithAttributes(
			attribute.Int64("poststorage_start_ms", poststorageStartMs),
			attribute.Int64("poststorage_end_ms", time.Now().UnixMilli()),
		))

	return postID, nil
}

// StoreRepost creates a repost of postID. Reposting a repost re-targets
// the root original, so a stored original_post_id never points at another
// repost.
func (p *postStorageService) StoreRepost(ctx context.Context, reqID int64, author model.Profile, postID int64) (model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering StoreRepost", "req_id", reqID, "user_id", author.UserID, "post_id", postID)

	original, err := p.ReadPost(ctx, reqID, postID)
	if err != nil {
		return model.Post{}, err
	}
	targetPostID := original.PostID
	if original.OriginalPostID != 0 {
		targetPostID = original.OriginalPostID
	}

	repost := model.Post{
		AuthorID:       author.UserID,
		Author:         author,
		Images:         []string{},
		OriginalPostID: targetPostID,
	}
	repostID, err := p.StorePost(ctx, reqID, repost)
	if err != nil {
		return model.Post{}, err
	}
	repost.PostID = repostID

	filter := bson.D{{Key: "post_id", Value: targetPostID}}
	update := bson.M{"$inc": bson.M{"reposts_count": 1}}
	if _, err := p.postsCollection().UpdateOne(ctx, filter, update); err != nil {
		logger.Error("error incrementing reposts count in mongodb", "msg", err.Error())
		return model.Post{}, err
	}
	// the cached payload of the target carries a stale count now
	p.redisClient.Del(ctx, strconv.FormatInt(targetPostID, 10))

	return p.ReadPost(ctx, reqID, repostID)
}

// ReadPost attempts to read the post from cache and returns it
// If not found, it fetches the post from the db and uploads it to cache
func (p *postStorageService) ReadPost(ctx context.Context, reqID int64, postID int64) (model.Post, error) {
	logger := p.Logger(ctx)

	var post model.Post
	postIDStr := strconv.FormatInt(postID, 10)
	result, err := p.redisClient.Get(ctx, postIDStr).Bytes()
	if err == nil {
		if err := json.Unmarshal(result, &post); err != nil {
			logger.Error("error parsing post from redis result", "msg", err.Error())
			return model.Post{}, err
		}
		return post, nil
	}
	if err != redis.Nil {
		logger.Error("error reading post from redis", "msg", err.Error())
	}

	filter := bson.D{{Key: "post_id", Value: postID}}
	if err := p.postsCollection().FindOne(ctx, filter).Decode(&post); err != nil {
		if err == mongo.ErrNoDocuments {
			return model.Post{}, fmt.Errorf("post %d does not exist", postID)
		}
		logger.Error("error reading post from mongodb", "msg", err.Error())
		return model.Post{}, err
	}
	if err := p.hydrateOriginals(ctx, []model.Post{post}); err != nil {
		return model.Post{}, err
	}

	postJSON, err := json.Marshal(post)
	if err != nil {
		logger.Error("error converting post to json", "post_id", post.PostID)
		return model.Post{}, err
	}
	p.redisClient.Set(ctx, postIDStr, postJSON, 0)
	return post, nil
}

func (p *postStorageService) TopStrangerPosts(ctx context.Context, reqID int64, viewerID int64, friendIDs []int64, excludedIDs []int64, limit int) ([]model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering TopStrangerPosts", "req_id", reqID, "viewer_id", viewerID, "limit", limit)

	notAuthors := append(append([]int64{viewerID}, friendIDs...), excludedIDs...)
	filter := bson.M{
		"author_id":   bson.M{"$nin": notAuthors},
		"likes_count": bson.M{"$gt": 0},
	}
	sort := bson.D{{Key: "likes_count", Value: -1}}
	return p.findPosts(ctx, filter, sort, limit)
}

func (p *postStorageService) RecentFriendPosts(ctx context.Context, reqID int64, friendIDs []int64, excludedIDs []int64, limit int) ([]model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering RecentFriendPosts", "req_id", reqID, "limit", limit)

	// blocking removes friendship, but exclude defensively anyway
	filter := bson.M{
		"author_id": bson.M{"$in": friendIDs, "$nin": excludedIDs},
	}
	sort := bson.D{{Key: "created_at", Value: -1}}
	return p.findPosts(ctx, filter, sort, limit)
}

func (p *postStorageService) RecentStrangerPosts(ctx context.Context, reqID int64, viewerID int64, friendIDs []int64, excludedIDs []int64, limit int) ([]model.Post, error) {
	logger := p.Logger(ctx)
	logger.Debug("entering RecentStrangerPosts", "req_id", reqID, "viewer_id", viewerID, "limit", limit)

	notAuthors := append(append([]int64{viewerID}, friendIDs...), excludedIDs...)
	filter := bson.M{
		"author_id": bson.M{"$nin": notAuthors},
	}
	sort := bson.D{{Key: "created_at", Value: -1}}
	return p.findPosts(ctx, filter, sort, limit)
}

func (p *postStorageService) findPosts(ctx context.Context, filter bson.M, sort bson.D, limit int) ([]model.Post, error) {
	logger := p.Logger(ctx)

	queryStartMs := time.Now().UnixMilli()
	opts := options.Find().SetSort(sort).SetLimit(int64(limit))
	cur, err := p.postsCollection().Find(ctx, filter, opts)
	if err != nil {
		logger.Error("error reading posts from mongodb", "msg", err.Error())
		return nil, err
	}
	var posts []model.Post
	if err := cur.All(ctx, &posts); err != nil {
		logger.Error("error parsing posts from mongodb result", "msg", err.Error())
		return nil, err
	}
	if err := p.hydrateOriginals(ctx, posts); err != nil {
		return nil, err
	}

	trace.SpanFromContext(ctx).AddEvent("reading candidate posts from mongodb",
		trace.WithAttributes(
			attribute.Int64("query_start_ms", queryStartMs),
			attribute.Int64("query_end_ms", time.Now().UnixMilli()),
			attribute.Int("num_posts", len(posts)),
		))

	return posts, nil
}

// hydrateOriginals attaches the referenced original post to every repost
// in the slice with a single $in query. Originals are never reposts
// themselves, so one pass suffices.
func (p *postStorageService) hydrateOriginals(ctx context.Context, posts []model.Post) error {
	logger := p.Logger(ctx)

	var originalIDs []int64
	seen := make(map[int64]struct{})
	for i := range posts {
		if posts[i].OriginalPostID == 0 {
			continue
		}
		if _, ok := seen[posts[i].OriginalPostID]; !ok {
			seen[posts[i].OriginalPostID] = struct{}{}
			originalIDs = append(originalIDs, posts[i].OriginalPostID)
		}
	}
	if len(originalIDs) == 0 {
		return nil
	}

	filter := bson.M{"post_id": bson.M{"$in": originalIDs}}
	cur, err := p.postsCollection().Find(ctx, filter)
	if err != nil {
		logger.Error("error reading original posts from mongodb", "msg", err.Error())
		return err
	}
	var originals []model.Post
	if err := cur.All(ctx, &originals); err != nil {
		logger.Error("error parsing original posts from mongodb result", "msg", err.Error())
		return err
	}
	byID := make(map[int64]model.Post, len(originals))
	for _, o := range originals {
		byID[o.PostID] = o
	}
	for i := range posts {
		if posts[i].OriginalPostID == 0 {
			continue
		}
		if o, ok := byID[posts[i].OriginalPostID]; ok {
			o := o
			posts[i].OriginalPost = &o
		}
	}
	return nil
}
