package services

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"vibenet/pkg/model"
	"vibenet/pkg/storage"
	"vibenet/pkg/utils"

	"github.com/ServiceWeaver/weaver"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/dgrijalva/jwt-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var letterRunes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// UserService owns user accounts: registration, login, profile reads and
// the suggestion candidate query for the feed's carousels.
type UserService interface {
	RegisterUser(ctx context.Context, reqID int64, name string, username string, password string) (int64, error)
	Login(ctx context.Context, reqID int64, username string, password string) (string, error)
	GetUserID(ctx context.Context, reqID int64, username string) (int64, error)
	GetProfile(ctx context.Context, reqID int64, userID int64) (model.Profile, error)
	SuggestUsers(ctx context.Context, reqID int64, viewerID int64, friendIDs []int64, sentRequestIDs []int64, excludedIDs []int64, limit int) ([]model.Profile, error)
}

type Claims struct {
	Username  string `json:"username"`
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
	jwt.StandardClaims
}

type userService struct {
	weaver.Implements[UserService]
	weaver.WithConfig[userServiceOptions]
	socialGraphService weaver.Ref[SocialGraphService]
	mongoClient        *mongo.Client
	memCachedClient    *memcache.Client

	secret           string
	machineID        string
	mu               sync.Mutex
	counter          int64
	currentTimestamp int64
}

type userServiceOptions struct {
	MongoDBAddr   string `toml:"mongodb_address"`
	MongoDBPort   int    `toml:"mongodb_port"`
	MemCachedAddr string `toml:"memcached_address"`
	MemCachedPort int    `toml:"memcached_port"`
	Secret        string `toml:"secret"`
}

func (u *userService) Init(ctx context.Context) error {
	logger := u.Logger(ctx)

	var err error
	u.mongoClient, err = storage.MongoDBClient(ctx, u.Config().MongoDBAddr, u.Config().MongoDBPort)
	if err != nil {
		logger.Error(err.Error())
		return err
	}

	u.memCachedClient = storage.MemCachedClient(u.Config().MemCachedAddr, u.Config().MemCachedPort)
	u.secret = u.Config().Secret
	u.machineID = utils.GetMachineID()
	u.currentTimestamp = -1

	logger.Info("user service running!",
		"mongodb_addr", u.Config().MongoDBAddr, "mongodb_port", u.Config().MongoDBPort,
		"memcached_addr", u.Config().MemCachedAddr, "memcached_port", u.Config().MemCachedPort,
	)
	return nil
}

func (u *userService) usersCollection() *mongo.Collection {
	return u.mongoClient.Database("user").Collection("user")
}

func (u *userService) getCounter(timestamp int64) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.currentTimestamp > timestamp {
		return 0, fmt.Errorf("timestamps are not incremental")
	}
	if u.currentTimestamp == timestamp {
		counter := u.counter
		u.counter += 1
		return counter, nil
	}
	u.currentTimestamp = timestamp
	u.counter = 1
	return u.counter, nil
}

func (u *userService) genRandomStr(length int) string {
	b := make([]rune, length)
	for i := range b {
		b[i] = letterRunes[rand.Intn(len(letterRunes))]
	}
	return string(b)
}

func (u *userService) hashPwd(pwd []byte) string {
	hasher := sha1.New()
	hasher.Write(pwd)
	return base64.URLEncoding.EncodeToString(hasher.Sum(nil))
}

func (u *userService) RegisterUser(ctx context.Context, reqID int64, name string, username string, password string) (int64, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering RegisterUser", "req_id", reqID, "name", name, "username", username)

	filter := bson.D{{Key: "username", Value: username}}
	cur, err := u.usersCollection().Find(ctx, filter)
	if err != nil {
		logger.Error("error finding user in mongodb", "msg", err.Error())
		return 0, err
	}
	if cur.TryNext(ctx) {
		errMsg := fmt.Sprintf("username %s already registered", username)
		logger.Error(errMsg)
		return 0, fmt.Errorf(errMsg)
	}

	timestamp := time.Now().UnixMilli() - utils.CUSTOM_EPOCH
	counter, err := u.getCounter(timestamp)
	if err != nil {
		logger.Error("error getting counter", "msg", err.Error())
		return 0, err
	}
	userID, err := utils.GenUniqueID(u.machineID, timestamp, counter)
	if err != nil {
		return 0, err
	}

	salt := u.genRandomStr(32)
	user := model.User{
		UserID:    userID,
		Username:  username,
		Name:      name,
		CreatedAt: time.Now().UnixMilli(),
		PwdHashed: u.hashPwd([]byte(password + salt)),
		Salt:      salt,
	}
	if _, err := u.usersCollection().InsertOne(ctx, user); err != nil {
		logger.Error("error inserting new user in mongodb")
		return 0, err
	}
	return userID, u.socialGraphService.Get().InsertUser(ctx, reqID, userID)
}

func (u *userService) Login(ctx context.Context, reqID int64, username string, password string) (string, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering Login", "req_id", reqID, "username", username)

	user, err := u.findUser(ctx, username)
	if err != nil {
		return "", err
	}

	hashedPwd := u.hashPwd([]byte(password + user.Salt))
	if hashedPwd != user.PwdHashed {
		return "", fmt.Errorf("invalid credentials")
	}

	timestamp := time.Now().UnixMilli()
	expirationTime := time.Now().Add(6 * time.Minute)
	claims := &Claims{
		Username:       username,
		UserID:         strconv.FormatInt(user.UserID, 10),
		Timestamp:      timestamp,
		StandardClaims: jwt.StandardClaims{ExpiresAt: expirationTime.Unix()},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString([]byte(u.secret))
	if err != nil {
		return "", fmt.Errorf("failed to create login token")
	}
	return tokenStr, nil
}

// findUser attempts to read the user from memcached and returns it
// If not found, it fetches the user from the db and uploads it to memcached
func (u *userService) findUser(ctx context.Context, username string) (model.User, error) {
	logger := u.Logger(ctx)

	var user model.User
	item, err := u.memCachedClient.Get(username + ":user")
	if err == nil {
		if err := json.Unmarshal(item.Value, &user); err != nil {
			logger.Error("error parsing user from memcached result", "msg", err.Error())
			return model.User{}, err
		}
		return user, nil
	}
	if err != memcache.ErrCacheMiss {
		logger.Error("error reading user from memcached", "msg", err.Error())
	}

	filter := bson.D{{Key: "username", Value: username}}
	cur, err := u.usersCollection().Find(ctx, filter)
	if err != nil {
		logger.Error("error finding user in mongodb", "msg", err.Error())
		return model.User{}, err
	}
	if !cur.TryNext(ctx) {
		msg := fmt.Sprintf("username %s does not exist", username)
		logger.Debug(msg)
		return model.User{}, fmt.Errorf(msg)
	}
	if err := cur.Decode(&user); err != nil {
		logger.Error("error parsing user from mongodb result", "msg", err.Error())
		return model.User{}, err
	}

	userJSON, err := json.Marshal(user)
	if err != nil {
		logger.Error("error converting user to json", "msg", err.Error())
		return model.User{}, err
	}
	if err := u.memCachedClient.Set(&memcache.Item{Key: username + ":user", Value: userJSON}); err != nil {
		logger.Error("error writing user to memcached", "msg", err.Error())
	}
	return user, nil
}

func (u *userService) GetUserID(ctx context.Context, reqID int64, username string) (int64, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering GetUserID", "req_id", reqID, "username", username)

	user, err := u.findUser(ctx, username)
	if err != nil {
		return 0, err
	}
	return user.UserID, nil
}

func (u *userService) GetProfile(ctx context.Context, reqID int64, userID int64) (model.Profile, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering GetProfile", "req_id", reqID, "user_id", userID)

	var user model.User
	filter := bson.D{{Key: "user_id", Value: userID}}
	if err := u.usersCollection().FindOne(ctx, filter).Decode(&user); err != nil {
		if err == mongo.ErrNoDocuments {
			return model.Profile{}, fmt.Errorf("user %d does not exist", userID)
		}
		logger.Error("error reading user from mongodb", "msg", err.Error())
		return model.Profile{}, err
	}
	return user.Profile(), nil
}

// SuggestUsers returns up to limit candidate users the viewer might
// befriend: not the viewer, not already a friend, not already requested
// and not blocked in either direction. Newest accounts first; the feed
// shuffles the result before slicing carousels.
func (u *userService) SuggestUsers(ctx context.Context, reqID int64, viewerID int64, friendIDs []int64, sentRequestIDs []int64, excludedIDs []int64, limit int) ([]model.Profile, error) {
	logger := u.Logger(ctx)
	logger.Debug("entering SuggestUsers", "req_id", reqID, "viewer_id", viewerID, "limit", limit)

	notIDs := append(append(append([]int64{viewerID}, friendIDs...), sentRequestIDs...), excludedIDs...)
	filter := bson.M{
		"user_id": bson.M{"$nin": notIDs},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := u.usersCollection().Find(ctx, filter, opts)
	if err != nil {
		logger.Error("error reading suggestion candidates from mongodb", "msg", err.Error())
		return nil, err
	}
	var users []model.User
	if err := cur.All(ctx, &users); err != nil {
		logger.Error("error parsing suggestion candidates from mongodb result", "msg", err.Error())
		return nil, err
	}
	profiles := make([]model.Profile, len(users))
	for i, user := range users {
		profiles[i] = user.Profile()
	}
	return profiles, nil
}
