package services

import (
	"context"
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
)

// CommentStorageService owns the comments collection and the popular
// comment candidate query. Comment docs denormalize the parent post's
// author id so the query needs no join against the posts collection.
type CommentStorageService interface {
	StoreComment(ctx context.Context, reqID int64, comment model.Comment) (int64, error)
	VoteComment(ctx context.Context, reqID int64, commentID int64, delta int64) error
	PopularFriendComments(ctx context.Context, reqID int64, friendIDs []int64, excludedIDs []int64, limit int) ([]model.Comment, error)
}

var _ weaver.NotRetriable = CommentStorageService.StoreComment

type commentStorageServiceOptions struct {
	MongoDBAddr string `toml:"mongodb_address"`
	MongoDBPort int    `toml:"mongodb_port"`
	RedisAddr   string `toml:"redis_address"`
	RedisPort   int    `toml:"redis_port"`
	Region      string `toml:"region"`
}

type commentStorageService struct {
	weaver.Implements[CommentStorageService]
	weaver.WithConfig[commentStorageServiceOptions]
	postStorageService weaver.Ref[PostStorageService]
	mongoClient        *mongo.Client
	redisClient        *redis.Client

	machineID        string
	mu               sync.Mutex
	counter          int64
	currentTimestamp int64
}

// commentDoc is the stored shape of a comment.
type commentDoc struct {
	model.Comment `bson:",inline"`
	PostAuthorID  int64 `bson:"post_author_id"`
}

func (c *commentStorageService) Init(ctx context.Context) error {
	logger := c.Logger(ctx)

	var err error
	c.mongoClient, err = storage.MongoDBClient(ctx, c.Config().MongoDBAddr, c.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	c.redisClient = storage.RedisClient(c.Config().RedisAddr, c.Config().RedisPort)
	c.machineID = utils.GetMachineID()
	c.currentTimestamp = -1

	logger.Info("comment storage service running!", "region", c.Config().Region, "mongodb_addr", c.Config().MongoDBAddr, "mongodb_port", c.Config().MongoDBPort)
	return nil
}

func (c *commentStorageService) commentsCollection() *mongo.Collection {
	return c.mongoClient.Database("commentstorage").Collection("comments")
}

func (c *commentStorageService) nextCommentID() (int64, error) {
	timestamp := time.Now().UnixMilli() - utils.CUSTOM_EPOCH
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentTimestamp > timestamp {
		return 0, fmt.Errorf("timestamps are not incremental")
	}
	if c.currentTimestamp == timestamp {
		c.counter += 1
	} else {
		c.currentTimestamp = timestamp
		c.counter = 0
	}
	return utils.GenUniqueID(c.machineID, timestamp, c.counter)
}

func (c *commentStorageService) StoreComment(ctx context.Context, reqID int64, comment model.Comment) (int64, error) {
	logger := c.Logger(ctx)
	logger.Debug("entering StoreComment", "req_id", reqID, "post_id", comment.PostID, "author_id", comment.AuthorID)

	post, err := c.postStorageService.Get().ReadPost(ctx, reqID, comment.PostID)
	if err != nil {
		return 0, err
	}

	commentID, err := c.nextCommentID()
	if err != nil {
		logger.Error("error generating comment id", "msg", err.Error())
		return 0, err
	}
	comment.CommentID = commentID
	comment.CreatedAt = time.Now().UnixMilli()
	comment.Post = nil // hydrated on read, never stored

	doc := commentDoc{Comment: comment, PostAuthorID: post.AuthorID}
	if _, err := c.commentsCollection().InsertOne(ctx, doc); err != nil {
		logger.Error("error writing comment", "msg", err.Error())
		return 0, err
	}

	collection := c.mongoClient.Database("poststorage").Collection("posts")
	filter := bson.D{{Key: "post_id", Value: comment.PostID}}
	update := bson.M{"$inc": bson.M{"comments_count": 1}}
	if _, err := collection.UpdateOne(ctx, filter, update); err != nil {
		logger.Error("error incrementing comments count in mongodb", "msg", err.Error())
		return 0, err
	}
	// the cached payload of the post carries a stale count now
	c.redisClient.Del(ctx, strconv.FormatInt(comment.PostID, 10))

	return commentID, nil
}

// VoteComment shifts the comment score by delta (+1 like, -1 dislike).
func (c *commentStorageService) VoteComment(ctx context.Context, reqID int64, commentID int64, delta int64) error {
	logger := c.Logger(ctx)
	logger.Debug("entering VoteComment", "req_id", reqID, "comment_id", commentID, "delta", delta)

	filter := bson.D{{Key: "comment_id", Value: commentID}}
	update := bson.M{"$inc": bson.M{"score": delta}}
	updateResult, err := c.commentsCollection().UpdateOne(ctx, filter, update)
	if err != nil {
		logger.Error("error updating comment score in mongodb", "msg", err.Error())
		return err
	}
	if updateResult.MatchedCount == 0 {
		return fmt.Errorf("comment %d does not exist", commentID)
	}
	return nil
}

// PopularFriendComments returns comments on friend posts with a positive
// score, best first, with the parent post attached.
func (c *commentStorageService) PopularFriendComments(ctx context.Context, reqID int64, friendIDs []int64, excludedIDs []int64, limit int) ([]model.Comment, error) {
	logger := c.Logger(ctx)
	logger.Debug("entering PopularFriendComments", "req_id", reqID, "limit", limit)

	filter := bson.M{
		"post_author_id": bson.M{"$in": friendIDs, "$nin": excludedIDs},
		"author_id":      bson.M{"$nin": excludedIDs},
		"score":          bson.M{"$gt": 0},
	}
	opts := options.Find().SetSort(bson.D{{Key: "score", Value: -1}}).SetLimit(int64(limit))
	cur, err := c.commentsCollection().Find(ctx, filter, opts)
	if err != nil {
		logger.Error("error reading comments from mongodb", "msg", err.Error())
		return nil, err
	}
	var docs []commentDoc
	if err := cur.All(ctx, &docs); err != nil {
		logger.Error("error parsing comments from mongodb result", "msg", err.Error())
		return nil, err
	}

	comments := make([]model.Comment, len(docs))
	var wg sync.WaitGroup
	errs := make([]error, len(docs))
	for i := range docs {
		comments[i] = docs[i].Comment
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			post, err := c.postStorageService.Get().ReadPost(ctx, reqID, comments[i].PostID)
			if err != nil {
				errs[i] = err
				return
			}
			comments[i].Post = &post
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			logger.Error("error attaching parent post to comment", "msg", err.Error())
			return nil, err
		}
	}
	return comments, nil
}
