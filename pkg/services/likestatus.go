package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"vibenet/pkg/metrics"
	"vibenet/pkg/model"
	"vibenet/pkg/storage"
	vn_trace "vibenet/pkg/trace"

	"github.com/ServiceWeaver/weaver"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel/trace"
)

const ENGAGEMENT_EXCHANGE = "engagement-events"

// LikeStatusService owns like records. HasLiked backs the feed's
// like-status annotator; LikePost/UnlikePost mutate the record, bump the
// post counter and hand an engagement event to the background workers
// through RabbitMQ.
type LikeStatusService interface {
	HasLiked(ctx context.Context, reqID int64, postID int64, userID int64) (bool, error)
	LikePost(ctx context.Context, reqID int64, postID int64, userID int64) error
	UnlikePost(ctx context.Context, reqID int64, postID int64, userID int64) error
}

var _ weaver.NotRetriable = LikeStatusService.LikePost
var _ weaver.NotRetriable = LikeStatusService.UnlikePost

type likeStatusServiceOptions struct {
	MongoDBAddr      string   `toml:"mongodb_address"`
	MongoDBPort      int      `toml:"mongodb_port"`
	RedisAddr        string   `toml:"redis_address"`
	RedisPort        int      `toml:"redis_port"`
	RabbitMQAddr     string   `toml:"rabbitmq_address"`
	RabbitMQPort     int      `toml:"rabbitmq_port"`
	RabbitMQUsername string   `toml:"rabbitmq_username"`
	RabbitMQPassword string   `toml:"rabbitmq_password"`
	Regions          []string `toml:"regions"`
	Region           string
}

type likeStatusService struct {
	weaver.Implements[LikeStatusService]
	weaver.WithConfig[likeStatusServiceOptions]
	mongoClient   *mongo.Client
	redisClient   *redis.Client
	amqChannel    *amqp.Channel
	amqConnection *amqp.Connection
}

type LikeInfo struct {
	PostID    int64 `bson:"post_id"`
	UserID    int64 `bson:"user_id"`
	Timestamp int64 `bson:"timestamp"`
}

func (l *likeStatusService) Init(ctx context.Context) error {
	logger := l.Logger(ctx)

	region := l.Config().Region
	if region == "" {
		region = "local"
		l.Config().Region = region
	}
	if len(l.Config().Regions) == 0 {
		l.Config().Regions = []string{region}
	}

	var err error
	l.mongoClient, err = storage.MongoDBClient(ctx, l.Config().MongoDBAddr, l.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	l.redisClient = storage.RedisClient(l.Config().RedisAddr, l.Config().RedisPort)

	l.amqChannel, l.amqConnection, err = storage.RabbitMQClient(l.Config().RabbitMQUsername, l.Config().RabbitMQPassword, l.Config().RabbitMQAddr, l.Config().RabbitMQPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	logger.Info("like status service running!", "region", l.Config().Region, "regions", l.Config().Regions,
		"mongodb_addr", l.Config().MongoDBAddr, "mongodb_port", l.Config().MongoDBPort,
		"rabbitmq_addr", l.Config().RabbitMQAddr, "rabbitmq_port", l.Config().RabbitMQPort,
	)
	return nil
}

func (l *likeStatusService) likesCollection() *mongo.Collection {
	return l.mongoClient.Database("likestatus").Collection("likes")
}

func likeKey(postID int64, userID int64) string {
	return "like:" + strconv.FormatInt(postID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// HasLiked attempts to read the like flag from cache and returns it
// If not found, it looks up the like record in the db and updates cache
func (l *likeStatusService) HasLiked(ctx context.Context, reqID int64, postID int64, userID int64) (bool, error) {
	logger := l.Logger(ctx)

	result, err := l.redisClient.Get(ctx, likeKey(postID, userID)).Result()
	if err == nil {
		return result == "1", nil
	}
	if err != redis.Nil {
		logger.Error("error reading like flag from cache", "msg", err.Error())
	}

	liked := true
	filter := bson.D{
		{Key: "post_id", Value: postID},
		{Key: "user_id", Value: userID},
	}
	var like LikeInfo
	if err := l.likesCollection().FindOne(ctx, filter).Decode(&like); err != nil {
		if err != mongo.ErrNoDocuments {
			logger.Error("error reading like record from mongodb", "msg", err.Error())
			return false, err
		}
		liked = false
	}

	flag := "0"
	if liked {
		flag = "1"
	}
	if err := l.redisClient.Set(ctx, likeKey(postID, userID), flag, 0).Err(); err != nil {
		logger.Error("error writing like flag to cache", "msg", err.Error())
	}
	return liked, nil
}

func (l *likeStatusService) LikePost(ctx context.Context, reqID int64, postID int64, userID int64) error {
	logger := l.Logger(ctx)
	logger.Debug("entering LikePost", "req_id", reqID, "post_id", postID, "user_id", userID)

	liked, err := l.HasLiked(ctx, reqID, postID, userID)
	if err != nil {
		return err
	}
	if liked {
		// liking twice is a no-op, mirroring the unique (post, user) record
		return nil
	}

	timestamp := time.Now().UnixMilli()
	doc := bson.D{
		{Key: "post_id", Value: postID},
		{Key: "user_id", Value: userID},
		{Key: "timestamp", Value: timestamp},
	}
	if _, err := l.likesCollection().InsertOne(ctx, doc); err != nil {
		logger.Error("error inserting like record in mongodb", "msg", err.Error())
		return err
	}

	authorID, err := l.shiftLikesCount(ctx, postID, 1)
	if err != nil {
		return err
	}
	if err := l.redisClient.Set(ctx, likeKey(postID, userID), "1", 0).Err(); err != nil {
		logger.Error("error writing like flag to cache", "msg", err.Error())
	}

	return l.publishEngagement(ctx, reqID, model.ENGAGEMENT_LIKE, postID, authorID, userID, timestamp)
}

func (l *likeStatusService) UnlikePost(ctx context.Context, reqID int64, postID int64, userID int64) error {
	logger := l.Logger(ctx)
	logger.Debug("entering UnlikePost", "req_id", reqID, "post_id", postID, "user_id", userID)

	filter := bson.D{
		{Key: "post_id", Value: postID},
		{Key: "user_id", Value: userID},
	}
	deleteResult, err := l.likesCollection().DeleteOne(ctx, filter)
	if err != nil {
		logger.Error("error deleting like record in mongodb", "msg", err.Error())
		return err
	}
	if deleteResult.DeletedCount == 0 {
		return nil
	}

	authorID, err := l.shiftLikesCount(ctx, postID, -1)
	if err != nil {
		return err
	}
	if err := l.redisClient.Set(ctx, likeKey(postID, userID), "0", 0).Err(); err != nil {
		logger.Error("error writing like flag to cache", "msg", err.Error())
	}

	return l.publishEngagement(ctx, reqID, model.ENGAGEMENT_UNLIKE, postID, authorID, userID, time.Now().UnixMilli())
}

// shiftLikesCount bumps the post's like counter and returns the post's
// author id for the engagement event. The cached post payload is dropped
// since its counter is stale now.
func (l *likeStatusService) shiftLikesCount(ctx context.Context, postID int64, delta int64) (int64, error) {
	logger := l.Logger(ctx)

	collection := l.mongoClient.Database("poststorage").Collection("posts")
	filter := bson.D{{Key: "post_id", Value: postID}}
	update := bson.M{"$inc": bson.M{"likes_count": delta}}
	updateResult, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		logger.Error("error updating likes count in mongodb", "msg", err.Error())
		return 0, err
	}
	if updateResult.MatchedCount == 0 {
		return 0, fmt.Errorf("post %d does not exist", postID)
	}

	var post model.Post
	if err := collection.FindOne(ctx, filter).Decode(&post); err != nil {
		logger.Error("error reading post author from mongodb", "msg", err.Error())
		return 0, err
	}
	l.redisClient.Del(ctx, strconv.FormatInt(postID, 10))
	return post.AuthorID, nil
}

func (l *likeStatusService) publishEngagement(ctx context.Context, reqID int64, kind model.EngagementKind, postID int64, authorID int64, actorID int64, timestamp int64) error {
	logger := l.Logger(ctx)

	err := l.amqChannel.ExchangeDeclare(ENGAGEMENT_EXCHANGE, "topic", false, false, false, false, nil)
	if err != nil {
		logger.Error("error declaring exchange for rabbitmq", "msg", err.Error())
		return err
	}

	spanContext := trace.SpanContextFromContext(ctx)
	event := model.EngagementEvent{
		ReqID:       reqID,
		Kind:        kind,
		PostID:      postID,
		AuthorID:    authorID,
		ActorID:     actorID,
		Timestamp:   timestamp,
		SpanContext: vn_trace.Build(spanContext),
		EventSendTs: time.Now().UnixMilli(),
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		logger.Error("error converting engagement event to json", "msg", err.Error())
		return err
	}

	amqMsg := amqp.Publishing{
		ContentType: "application/json",
		Body:        eventJSON,
	}
	for _, region := range l.Config().Regions {
		routingKey := fmt.Sprintf("%s-%s", ENGAGEMENT_EXCHANGE, region)
		l.amqChannel.PublishWithContext(ctx, ENGAGEMENT_EXCHANGE, routingKey, false, false, amqMsg)
	}
	metrics.EngagementEvents.Get(metrics.RegionLabel{Region: l.Config().Region}).Inc()
	return nil
}
