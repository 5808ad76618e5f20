package services

import (
	"context"
	"strconv"
	"sync"
	"time"

	"vibenet/pkg/storage"
	"vibenet/pkg/utils"

	"github.com/ServiceWeaver/weaver"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// SocialGraphService owns friendships, pending friend requests and blocks.
// The three Get methods back the feed's relationship resolver and are pure
// reads; GetBlockedIDs is symmetric in either block direction.
type SocialGraphService interface {
	GetFriendIDs(ctx context.Context, reqID int64, userID int64) ([]int64, error)
	GetSentRequestIDs(ctx context.Context, reqID int64, userID int64) ([]int64, error)
	GetBlockedIDs(ctx context.Context, reqID int64, userID int64) ([]int64, error)
	SendFriendRequest(ctx context.Context, reqID int64, senderID int64, receiverID int64) error
	AddFriend(ctx context.Context, reqID int64, userID int64, friendID int64) error
	RemoveFriend(ctx context.Context, reqID int64, userID int64, friendID int64) error
	BlockUser(ctx context.Context, reqID int64, blockerID int64, blockedID int64) error
	UnblockUser(ctx context.Context, reqID int64, blockerID int64, blockedID int64) error
	InsertUser(ctx context.Context, reqID int64, userID int64) error
}

type socialGraphService struct {
	weaver.Implements[SocialGraphService]
	weaver.WithConfig[socialGraphServiceOptions]
	mongoClient *mongo.Client
	redisClient *redis.Client
}

type socialGraphServiceOptions struct {
	MongoDBAddr map[string]string `toml:"mongodb_address"`
	MongoDBPort map[string]int    `toml:"mongodb_port"`
	RedisAddr   map[string]string `toml:"redis_address"`
	RedisPort   map[string]int    `toml:"redis_port"`
	Region      string
}

type FriendInfo struct {
	FriendID  int64 `bson:"friend_id"`
	Timestamp int64 `bson:"timestamp"`
}

type RequestInfo struct {
	ReceiverID int64 `bson:"receiver_id"`
	Timestamp  int64 `bson:"timestamp"`
}

type GraphInfo struct {
	UserID       int64         `bson:"user_id"`
	Friends      []FriendInfo  `bson:"friends"`
	SentRequests []RequestInfo `bson:"sent_requests"`
}

type BlockInfo struct {
	BlockerID int64 `bson:"blocker_id"`
	BlockedID int64 `bson:"blocked_id"`
	Timestamp int64 `bson:"timestamp"`
}

func (s *socialGraphService) Init(ctx context.Context) error {
	logger := s.Logger(ctx)

	region, err := utils.Region()
	if err != nil {
		logger.Error(err.Error())
		return err
	}
	s.Config().Region = region

	s.mongoClient, err = storage.MongoDBClient(ctx, s.Config().MongoDBAddr[region], s.Config().MongoDBPort[region])
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	s.redisClient = storage.RedisClient(s.Config().RedisAddr[region], s.Config().RedisPort[region])

	logger.Info("social graph service running!", "region", s.Config().Region,
		"mongodb_addr", s.Config().MongoDBAddr[region], "mongodb_port", s.Config().MongoDBPort[region],
		"redis_addr", s.Config().RedisAddr[region], "redis_port", s.Config().RedisPort[region],
	)
	return nil
}

func (s *socialGraphService) graphCollection() *mongo.Collection {
	return s.mongoClient.Database("social-graph").Collection("social-graph")
}

func (s *socialGraphService) blocksCollection() *mongo.Collection {
	return s.mongoClient.Database("social-graph").Collection("blocks")
}

// GetFriendIDs attempts to get the ids from redis if cached
// Otherwise, it gets the friends from mongodb and updates redis with the ids
func (s *socialGraphService) GetFriendIDs(ctx context.Context, reqID int64, userID int64) ([]int64, error) {
	logger := s.Logger(ctx)
	logger.Debug("entering GetFriendIDs", "req_id", reqID, "user_id", userID)

	var friendIDs []int64
	userIDStr := strconv.FormatInt(userID, 10)
	numFriends, err := s.redisClient.ZCard(ctx, userIDStr+":friends").Result()
	if err != nil {
		logger.Error("error reading number of friends from cache", "msg", err.Error())
	}
	if numFriends > 0 {
		// friends are cached in redis so we retrieve them
		result, err := s.redisClient.ZRange(ctx, userIDStr+":friends", 0, -1).Result()
		if err != nil {
			logger.Error("error reading friends from cache", "msg", err.Error())
			return nil, err
		}
		for _, r := range result {
			friendID, err := strconv.ParseInt(r, 10, 64)
			if err != nil {
				logger.Error("error parsing friend id from redis to int64", "msg", err.Error())
				return nil, err
			}
			friendIDs = append(friendIDs, friendID)
		}
		return friendIDs, nil
	}

	// did not find friends in redis
	// look up in mongodb and update redis
	var info GraphInfo
	filter := bson.D{{Key: "user_id", Value: userID}}
	err = s.graphCollection().FindOne(ctx, filter).Decode(&info)
	if err != nil {
		if err != mongo.ErrNoDocuments {
			logger.Error("error reading friends from mongodb", "msg", err.Error())
			return nil, err
		}
		// return empty array of ids
		return friendIDs, nil
	}
	for _, f := range info.Friends {
		friendIDs = append(friendIDs, f.FriendID)
	}
	_, err = s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, f := range info.Friends {
			err := pipe.ZAddNX(ctx, userIDStr+":friends", redis.Z{
				Member: f.FriendID,
				Score:  float64(f.Timestamp),
			}).Err()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("error updating redis with friends from mongodb", "msg", err.Error())
		return nil, err
	}
	return friendIDs, nil
}

// GetSentRequestIDs returns the ids of users the given user has a pending
// outgoing friend request to, cached the same way as friends.
func (s *socialGraphService) GetSentRequestIDs(ctx context.Context, reqID int64, userID int64) ([]int64, error) {
	logger := s.Logger(ctx)
	logger.Debug("entering GetSentRequestIDs", "req_id", reqID, "user_id", userID)

	var receiverIDs []int64
	userIDStr := strconv.FormatInt(userID, 10)
	numRequests, err := s.redisClient.ZCard(ctx, userIDStr+":sent_requests").Result()
	if err != nil {
		logger.Error("error reading number of sent requests from cache", "msg", err.Error())
	}
	if numRequests > 0 {
		result, err := s.redisClient.ZRange(ctx, userIDStr+":sent_requests", 0, -1).Result()
		if err != nil {
			logger.Error("error reading sent requests from cache", "msg", err.Error())
			return nil, err
		}
		for _, r := range result {
			receiverID, err := strconv.ParseInt(r, 10, 64)
			if err != nil {
				logger.Error("error parsing receiver id from redis to int64", "msg", err.Error())
				return nil, err
			}
			receiverIDs = append(receiverIDs, receiverID)
		}
		return receiverIDs, nil
	}

	var info GraphInfo
	filter := bson.D{{Key: "user_id", Value: userID}}
	err = s.graphCollection().FindOne(ctx, filter).Decode(&info)
	if err != nil {
		if err != mongo.ErrNoDocuments {
			logger.Error("error reading sent requests from mongodb", "msg", err.Error())
			return nil, err
		}
		return receiverIDs, nil
	}
	for _, r := range info.SentRequests {
		receiverIDs = append(receiverIDs, r.ReceiverID)
	}
	_, err = s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range info.SentRequests {
			err := pipe.ZAddNX(ctx, userIDStr+":sent_requests", redis.Z{
				Member: r.ReceiverID,
				Score:  float64(r.Timestamp),
			}).Err()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("error updating redis with sent requests from mongodb", "msg", err.Error())
		return nil, err
	}
	return receiverIDs, nil
}

// GetBlockedIDs returns every user id in a block relation with userID, in
// either direction. The result is the feed's exclusion set, so it is read
// straight from the flat block records rather than a per-user cache: a
// single block mutation would otherwise have to invalidate two caches.
func (s *socialGraphService) GetBlockedIDs(ctx context.Context, reqID int64, userID int64) ([]int64, error) {
	logger := s.Logger(ctx)
	logger.Debug("entering GetBlockedIDs", "req_id", reqID, "user_id", userID)

	filter := bson.M{
		"$or": []bson.M{
			{"blocker_id": userID},
			{"blocked_id": userID},
		},
	}
	cur, err := s.blocksCollection().Find(ctx, filter)
	if err != nil {
		logger.Error("error reading blocks from mongodb", "msg", err.Error())
		return nil, err
	}
	var blocks []BlockInfo
	if err := cur.All(ctx, &blocks); err != nil {
		logger.Error("error parsing blocks from mongodb result", "msg", err.Error())
		return nil, err
	}
	seen := make(map[int64]struct{})
	var blockedIDs []int64
	for _, b := range blocks {
		for _, id := range []int64{b.BlockerID, b.BlockedID} {
			if id == userID {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			blockedIDs = append(blockedIDs, id)
		}
	}
	return blockedIDs, nil
}

func (s *socialGraphService) SendFriendRequest(ctx context.Context, reqID int64, senderID int64, receiverID int64) error {
	logger := s.Logger(ctx)
	logger.Debug("entering SendFriendRequest", "req_id", reqID, "sender_id", senderID, "receiver_id", receiverID)

	timestamp := time.Now().UnixMilli()
	searchNotExist := bson.M{
		"$and": []bson.M{
			{"user_id": senderID},
			{"sent_requests": bson.M{"$not": bson.M{"$elemMatch": bson.M{"receiver_id": receiverID}}}},
		},
	}
	push := bson.M{
		"$push": bson.M{
			"sent_requests": bson.M{
				"receiver_id": receiverID,
				"timestamp":   timestamp,
			},
		},
	}
	updateResult, err := s.graphCollection().UpdateOne(ctx, searchNotExist, push)
	if err != nil {
		logger.Error("error pushing friend request in mongodb", "msg", err.Error())
		return err
	}
	logger.Debug("updated sender->receiver request edge in mongodb", "#matched", updateResult.MatchedCount, "#modified", updateResult.ModifiedCount)

	senderIDStr := strconv.FormatInt(senderID, 10)
	_, err = s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		_, err := pipe.ZCard(ctx, senderIDStr+":sent_requests").Result()
		if err == nil {
			pipe.ZAddNX(ctx, senderIDStr+":sent_requests", redis.Z{
				Member: receiverID,
				Score:  float64(timestamp),
			})
		}
		return nil
	})
	return err
}

// AddFriend records a symmetric friendship edge and clears any pending
// request between the two users in either direction.
func (s *socialGraphService) AddFriend(ctx context.Context, reqID int64, userID int64, friendID int64) error {
	logger := s.Logger(ctx)
	logger.Debug("entering AddFriend", "req_id", reqID, "user_id", userID, "friend_id", friendID)

	timestamp := time.Now().UnixMilli()
	var mongoUserErr, mongoFriendErr, redisUpdateErr error
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		// Update user->friend edge
		defer wg.Done()
		mongoUserErr = s.pushFriendEdge(ctx, userID, friendID, timestamp)
	}()
	go func() {
		// Update friend->user edge
		defer wg.Done()
		mongoFriendErr = s.pushFriendEdge(ctx, friendID, userID, timestamp)
	}()
	go func() {
		defer wg.Done()
		userIDStr := strconv.FormatInt(userID, 10)
		friendIDStr := strconv.FormatInt(friendID, 10)
		_, redisUpdateErr = s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			_, err := pipe.ZCard(ctx, userIDStr+":friends").Result()
			if err == nil {
				pipe.ZAddNX(ctx, userIDStr+":friends", redis.Z{
					Member: friendID,
					Score:  float64(timestamp),
				})
			}
			_, err = pipe.ZCard(ctx, friendIDStr+":friends").Result()
			if err == nil {
				pipe.ZAddNX(ctx, friendIDStr+":friends", redis.Z{
					Member: userID,
					Score:  float64(timestamp),
				})
			}
			pipe.ZRem(ctx, userIDStr+":sent_requests", friendID)
			pipe.ZRem(ctx, friendIDStr+":sent_requests", userID)
			return nil
		})
	}()
	wg.Wait()

	// Pending requests between the two are consumed by the friendship.
	s.pullRequestEdge(ctx, userID, friendID)
	s.pullRequestEdge(ctx, friendID, userID)

	if mongoUserErr != nil {
		return mongoUserErr
	}
	if mongoFriendErr != nil {
		return mongoFriendErr
	}
	return redisUpdateErr
}

func (s *socialGraphService) pushFriendEdge(ctx context.Context, userID int64, friendID int64, timestamp int64) error {
	logger := s.Logger(ctx)
	searchNotExist := bson.M{
		"$and": []bson.M{
			{"user_id": userID},
			{"friends": bson.M{"$not": bson.M{"$elemMatch": bson.M{"friend_id": friendID}}}},
		},
	}
	push := bson.M{
		"$push": bson.M{
			"friends": bson.M{
				"friend_id": friendID,
				"timestamp": timestamp,
			},
		},
	}
	updateResult, err := s.graphCollection().UpdateOne(ctx, searchNotExist, push)
	if err != nil {
		logger.Error("error pushing friend edge in mongodb", "msg", err.Error())
		return err
	}
	logger.Debug("updated friend edge in mongodb", "#matched", updateResult.MatchedCount, "#modified", updateResult.ModifiedCount)
	return nil
}

func (s *socialGraphService) pullRequestEdge(ctx context.Context, senderID int64, receiverID int64) {
	logger := s.Logger(ctx)
	filter := bson.D{{Key: "user_id", Value: senderID}}
	pull := bson.M{
		"$pull": bson.M{
			"sent_requests": bson.M{
				"receiver_id": receiverID,
			},
		},
	}
	if _, err := s.graphCollection().UpdateOne(ctx, filter, pull); err != nil {
		logger.Error("error pulling request edge in mongodb", "msg", err.Error())
	}
}

// RemoveFriend removes both friendship edges in mongodb and then in redis
func (s *socialGraphService) RemoveFriend(ctx context.Context, reqID int64, userID int64, friendID int64) error {
	logger := s.Logger(ctx)
	logger.Debug("entering RemoveFriend", "req_id", reqID, "user_id", userID, "friend_id", friendID)

	var err1, err2, err3 error
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		err1 = s.pullFriendEdge(ctx, userID, friendID)
	}()
	go func() {
		defer wg.Done()
		err2 = s.pullFriendEdge(ctx, friendID, userID)
	}()
	go func() {
		defer wg.Done()
		userIDStr := strconv.FormatInt(userID, 10)
		friendIDStr := strconv.FormatInt(friendID, 10)
		_, err3 = s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, userIDStr+":friends", friendID)
			pipe.ZRem(ctx, friendIDStr+":friends", userID)
			return nil
		})
	}()
	wg.Wait()
	if err1 != nil {
		return err1
	}
	if err2 != nil {
		return err2
	}
	return err3
}

func (s *socialGraphService) pullFriendEdge(ctx context.Context, userID int64, friendID int64) error {
	logger := s.Logger(ctx)
	filter := bson.D{{Key: "user_id", Value: userID}}
	pull := bson.M{
		"$pull": bson.M{
			"friends": bson.M{
				"friend_id": friendID,
			},
		},
	}
	updateResult, err := s.graphCollection().UpdateOne(ctx, filter, pull)
	if err != nil {
		logger.Error("error pulling friend edge in mongodb", "msg", err.Error())
		return err
	}
	logger.Debug("removed friend edge in mongodb", "#matched", updateResult.MatchedCount, "#modified", updateResult.ModifiedCount)
	return nil
}

// BlockUser records the block and severs the friendship and any pending
// requests between the two users, in both directions.
func (s *socialGraphService) BlockUser(ctx context.Context, reqID int64, blockerID int64, blockedID int64) error {
	logger := s.Logger(ctx)
	logger.Debug("entering BlockUser", "req_id", reqID, "blocker_id", blockerID, "blocked_id", blockedID)

	searchNotExist := bson.M{
		"blocker_id": blockerID,
		"blocked_id": blockedID,
	}
	count, err := s.blocksCollection().CountDocuments(ctx, searchNotExist)
	if err != nil {
		logger.Error("error counting block records in mongodb", "msg", err.Error())
		return err
	}
	if count == 0 {
		doc := bson.D{
			{Key: "blocker_id", Value: blockerID},
			{Key: "blocked_id", Value: blockedID},
			{Key: "timestamp", Value: time.Now().UnixMilli()},
		}
		if _, err := s.blocksCollection().InsertOne(ctx, doc); err != nil {
			logger.Error("error inserting block record in mongodb", "msg", err.Error())
			return err
		}
	}

	if err := s.RemoveFriend(ctx, reqID, blockerID, blockedID); err != nil {
		return err
	}
	s.pullRequestEdge(ctx, blockerID, blockedID)
	s.pullRequestEdge(ctx, blockedID, blockerID)

	blockerIDStr := strconv.FormatInt(blockerID, 10)
	blockedIDStr := strconv.FormatInt(blockedID, 10)
	_, err = s.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, blockerIDStr+":sent_requests", blockedID)
		pipe.ZRem(ctx, blockedIDStr+":sent_requests", blockerID)
		return nil
	})
	return err
}

func (s *socialGraphService) UnblockUser(ctx context.Context, reqID int64, blockerID int64, blockedID int64) error {
	logger := s.Logger(ctx)
	logger.Debug("entering UnblockUser", "req_id", reqID, "blocker_id", blockerID, "blocked_id", blockedID)

	filter := bson.M{
		"blocker_id": blockerID,
		"blocked_id": blockedID,
	}
	_, err := s.blocksCollection().DeleteOne(ctx, filter)
	if err != nil {
		logger.Error("error deleting block record in mongodb", "msg", err.Error())
	}
	return err
}

// InsertUser writes an empty graph document for a new user to mongodb
func (s *socialGraphService) InsertUser(ctx context.Context, reqID int64, userID int64) error {
	logger := s.Logger(ctx)
	logger.Debug("entering InsertUser", "req_id", reqID, "user_id", userID)
	doc := bson.D{
		{Key: "user_id", Value: userID},
		{Key: "friends", Value: bson.A{}},
		{Key: "sent_requests", Value: bson.A{}},
	}
	_, err := s.graphCollection().InsertOne(ctx, doc)
	return err
}
