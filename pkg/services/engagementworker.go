package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"vibenet/pkg/metrics"
	"vibenet/pkg/model"
	"vibenet/pkg/storage"

	"github.com/ServiceWeaver/weaver"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// EngagementWorkerService consumes engagement events from RabbitMQ,
// verifies the engaged post still exists, refreshes the cached post
// payload and hands the event to the notification collaborator. It exposes
// no rpc methods.
type EngagementWorkerService interface {
}

type engagementWorkerServiceOptions struct {
	RabbitMQAddr     string `toml:"rabbitmq_address"`
	RabbitMQPort     int    `toml:"rabbitmq_port"`
	RabbitMQUsername string `toml:"rabbitmq_username"`
	RabbitMQPassword string `toml:"rabbitmq_password"`
	MongoDBAddr      string `toml:"mongodb_address"`
	MongoDBPort      int    `toml:"mongodb_port"`
	RedisAddr        string `toml:"redis_address"`
	RedisPort        int    `toml:"redis_port"`
	NumWorkers       int    `toml:"num_workers"`
	Region           string `toml:"region"`
}

type engagementWorkerService struct {
	weaver.Implements[EngagementWorkerService]
	weaver.WithConfig[engagementWorkerServiceOptions]
	mongoClient *mongo.Client
	redisClient *redis.Client
}

func (w *engagementWorkerService) Init(ctx context.Context) error {
	logger := w.Logger(ctx)
	logger.Debug("initializing engagement worker service...")

	if w.Config().Region == "" {
		w.Config().Region = "local"
	}
	if w.Config().NumWorkers <= 0 {
		w.Config().NumWorkers = 1
	}

	var err error
	w.mongoClient, err = storage.MongoDBClient(ctx, w.Config().MongoDBAddr, w.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	w.redisClient = storage.RedisClient(w.Config().RedisAddr, w.Config().RedisPort)

	logger.Info("initializing workers for EngagementWorkerService service", "region", w.Config().Region, "nworkers", w.Config().NumWorkers, "rabbitmq_addr", w.Config().RabbitMQAddr, "rabbitmq_port", w.Config().RabbitMQPort)
	var wg sync.WaitGroup
	wg.Add(w.Config().NumWorkers)
	for i := 1; i <= w.Config().NumWorkers; i++ {
		go func() {
			defer wg.Done()
			err := w.workerThread(ctx)
			logger.Error("error in worker thread", "msg", err.Error())
		}()
	}
	wg.Wait()
	return nil
}

func (w *engagementWorkerService) onReceivedWorker(ctx context.Context, body []byte) error {
	logger := w.Logger(ctx)

	var event model.EngagementEvent
	if err := json.Unmarshal(body, &event); err != nil {
		logger.Error("error parsing json engagement event", "msg", err.Error())
		return err
	}

	logger.Debug("received rabbitmq engagement event", "kind", event.Kind, "post_id", event.PostID)
	metrics.ConsumedEngagementEvents.Get(metrics.RegionLabel{Region: w.Config().Region}).Inc()

	trace.SpanFromContext(ctx).AddEvent("reading rabbitmq engagement event",
		trace.WithAttributes(
			attribute.Int64("queue_end_ms", time.Now().UnixMilli()),
		))

	collection := w.mongoClient.Database("poststorage").Collection("posts")
	var post model.Post
	filter := bson.D{{Key: "post_id", Value: event.PostID}}
	err := collection.FindOne(ctx, filter, nil).Decode(&post)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// an engagement event for a post that no longer exists
			logger.Debug("inconsistency!", "post_id", event.PostID)
			metrics.Inconsistencies.Get(metrics.RegionLabel{Region: w.Config().Region}).Inc()
			return nil
		}
		logger.Error("error reading post from mongodb", "msg", err.Error())
		return err
	}

	// refresh the cached payload so feed reads see the new counter
	postJSON, err := json.Marshal(post)
	if err != nil {
		logger.Error("error converting post to json", "post_id", post.PostID)
		return err
	}
	w.redisClient.Set(ctx, strconv.FormatInt(post.PostID, 10), postJSON, 0)

	// self-engagement produces no notification
	if event.ActorID == event.AuthorID || event.Kind != model.ENGAGEMENT_LIKE {
		return nil
	}
	logger.Debug("handing like notification to notification collaborator", "author_id", event.AuthorID, "actor_id", event.ActorID)
	return nil
}

func (w *engagementWorkerService) workerThread(ctx context.Context) error {
	logger := w.Logger(ctx)

	ch, conn, err := storage.RabbitMQClient(w.Config().RabbitMQUsername, w.Config().RabbitMQPassword, w.Config().RabbitMQAddr, w.Config().RabbitMQPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	defer conn.Close()
	defer ch.Close()

	err = ch.ExchangeDeclare(ENGAGEMENT_EXCHANGE, "topic", false, false, false, false, nil)
	if err != nil {
		logger.Error("error declaring exchange for rabbitmq", "msg", err.Error())
		return err
	}

	routingKey := fmt.Sprintf("%s-%s", ENGAGEMENT_EXCHANGE, w.Config().Region)
	_, err = ch.QueueDeclare(routingKey, true, false, false, false, nil)
	if err != nil {
		logger.Error("error declaring queue for rabbitmq", "msg", err.Error())
		return err
	}

	err = ch.QueueBind(routingKey, routingKey, ENGAGEMENT_EXCHANGE, false, nil)
	if err != nil {
		logger.Error("error binding queue for rabbitmq", "msg", err.Error())
		return err
	}

	msgs, err := ch.Consume(routingKey, "", true, false, false, false, nil)
	if err != nil {
		logger.Error("error consuming queue", "msg", err.Error())
		return err
	}

	for msg := range msgs {
		if err := w.onReceivedWorker(ctx, msg.Body); err != nil {
			logger.Warn("error in worker thread", "msg", err.Error())
		}
	}
	return nil
}
