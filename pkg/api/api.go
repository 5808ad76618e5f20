// Package api is the HTTP frontend of the application. It authenticates
// requests, translates them into component calls and serializes the
// results as JSON.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vibenet/pkg/model"
	"vibenet/pkg/services"

	"github.com/ServiceWeaver/weaver"
	"github.com/dgrijalva/jwt-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type serverOptions struct {
	Secret string `toml:"secret"`
}

type server struct {
	weaver.Implements[weaver.Main]
	weaver.WithConfig[serverOptions]
	feedService           weaver.Ref[services.FeedService]
	userService           weaver.Ref[services.UserService]
	postStorageService    weaver.Ref[services.PostStorageService]
	commentStorageService weaver.Ref[services.CommentStorageService]
	likeStatusService     weaver.Ref[services.LikeStatusService]
	socialGraphService    weaver.Ref[services.SocialGraphService]
	// referenced so the runtime spins up the background consumers
	engagementWorkerService weaver.Ref[services.EngagementWorkerService]
	lis                     weaver.Listener `weaver:"api"`
}

func Serve(ctx context.Context, s *server) error {
	mux := http.NewServeMux()
	mux.Handle("/api/register", instrument("register", s.registerHandler, http.MethodPost))
	mux.Handle("/api/login", instrument("login", s.loginHandler, http.MethodPost))
	mux.Handle("/api/feed", instrument("feed", s.feedHandler, http.MethodGet))
	mux.Handle("/api/post", instrument("post", s.createPostHandler, http.MethodPost))
	mux.Handle("/api/repost", instrument("repost", s.repostHandler, http.MethodPost))
	mux.Handle("/api/comment", instrument("comment", s.createCommentHandler, http.MethodPost))
	mux.Handle("/api/comment/vote", instrument("comment_vote", s.voteCommentHandler, http.MethodPost))
	mux.Handle("/api/like", instrument("like", s.likeHandler, http.MethodPost))
	mux.Handle("/api/unlike", instrument("unlike", s.unlikeHandler, http.MethodPost))
	mux.Handle("/api/friend/request", instrument("friend_request", s.friendRequestHandler, http.MethodPost))
	mux.Handle("/api/friend/accept", instrument("friend_accept", s.friendAcceptHandler, http.MethodPost))
	mux.Handle("/api/friend/remove", instrument("friend_remove", s.friendRemoveHandler, http.MethodPost))
	mux.Handle("/api/block", instrument("block", s.blockHandler, http.MethodPost))
	mux.Handle("/api/unblock", instrument("unblock", s.unblockHandler, http.MethodPost))
	var handler http.Handler = mux
	s.Logger(ctx).Info("api available", "addr", s.lis)
	return http.Serve(s.lis, handler)
}

func instrument(label string, fn func(http.ResponseWriter, *http.Request), methods ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, method := range methods {
		allowed[method] = struct{}{}
	}
	handler := func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[r.Method]; len(allowed) > 0 && !ok {
			msg := fmt.Sprintf("method %q not allowed", r.Method)
			http.Error(w, msg, http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	}
	return weaver.InstrumentHandlerFunc(label, handler)
}

func newReqID() int64 {
	return rand.New(rand.NewSource(time.Now().UnixNano())).Int63()
}

// authUserID validates the bearer token and returns the authenticated
// user id. Every endpoint past register/login requires it.
func (s *server) authUserID(r *http.Request) (int64, error) {
	header := r.Header.Get("Authorization")
	tokenStr, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return 0, fmt.Errorf("missing bearer token")
	}
	claims := &services.Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(s.Config().Secret), nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}
	return strconv.ParseInt(claims.UserID, 10, 64)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func formInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(r.FormValue(key), 10, 64)
}

func (s *server) registerHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := newReqID()
	userID, err := s.userService.Get().RegisterUser(ctx, reqID, r.FormValue("name"), r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]int64{"userId": userID})
}

func (s *server) loginHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := newReqID()
	token, err := s.userService.Get().Login(ctx, reqID, r.FormValue("username"), r.FormValue("password"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

func (s *server) feedHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := s.Logger(ctx)

	viewerID, err := s.authUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	reqID := newReqID()

	trace.SpanFromContext(ctx).AddEvent("handling feed request",
		trace.WithAttributes(
			attribute.Int64("viewer_id", viewerID),
		))

	items, err := s.feedService.Get().ComposeFeed(ctx, reqID, viewerID)
	if err != nil {
		logger.Error("error composing feed", "viewer_id", viewerID, "msg", err.Error())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		// an empty feed is a valid result, not an error
		items = []model.FeedItem{}
	}
	writeJSON(w, items)
}

func (s *server) createPostHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := s.authUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reqID := newReqID()

	profile, err := s.userService.Get().GetProfile(ctx, reqID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	post := model.Post{
		AuthorID: userID,
		Author:   profile,
		Content:  r.FormValue("content"),
		Images:   r.Form["image"],
	}
	postID, err := s.postStorageService.Get().StorePost(ctx, reqID, post)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int64{"postId": postID})
}

func (s *server) repostHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := s.authUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	postID, err := formInt64(r, "post_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reqID := newReqID()
	profile, err := s.userService.Get().GetProfile(ctx, reqID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	repost, err := s.postStorageService.Get().StoreRepost(ctx, reqID, profile, postID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, repost)
}

func (s *server) createCommentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := s.authUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	postID, err := formInt64(r, "post_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reqID := newReqID()
	profile, err := s.userService.Get().GetProfile(ctx, reqID, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	comment := model.Comment{
		PostID:   postID,
		AuthorID: userID,
		Author:   profile,
		Text:     r.FormValue("text"),
	}
	commentID, err := s.commentStorageService.Get().StoreComment(ctx, reqID, comment)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int64{"commentId": commentID})
}

func (s *server) voteCommentHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := s.authUserID(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	commentID, err := formInt64(r, "comment_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	delta, err := formInt64(r, "delta")
	if err != nil || (delta != 1 && delta != -1) {
		http.Error(w, "delta must be 1 or -1", http.StatusBadRequest)
		return
	}
	if err := s.commentStorageService.Get().VoteComment(ctx, newReqID(), commentID, delta); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *server) likeHandler(w http.ResponseWriter, r *http.Request) {
	s.engagementHandler(w, r, s.likeStatusService.Get().LikePost)
}

func (s *server) unlikeHandler(w http.ResponseWriter, r *http.Request) {
	s.engagementHandler(w, r, s.likeStatusService.Get().UnlikePost)
}

func (s *server) engagementHandler(w http.ResponseWriter, r *http.Request, op func(context.Context, int64, int64, int64) error) {
	ctx := r.Context()
	userID, err := s.authUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	postID, err := formInt64(r, "post_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := op(ctx, newReqID(), postID, userID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func (s *server) friendRequestHandler(w http.ResponseWriter, r *http.Request) {
	s.graphMutationHandler(w, r, "receiver_id", s.socialGraphService.Get().SendFriendRequest)
}

func (s *server) friendAcceptHandler(w http.ResponseWriter, r *http.Request) {
	s.graphMutationHandler(w, r, "friend_id", s.socialGraphService.Get().AddFriend)
}

func (s *server) friendRemoveHandler(w http.ResponseWriter, r *http.Request) {
	s.graphMutationHandler(w, r, "friend_id", s.socialGraphService.Get().RemoveFriend)
}

func (s *server) blockHandler(w http.ResponseWriter, r *http.Request) {
	s.graphMutationHandler(w, r, "blocked_id", s.socialGraphService.Get().BlockUser)
}

func (s *server) unblockHandler(w http.ResponseWriter, r *http.Request) {
	s.graphMutationHandler(w, r, "blocked_id", s.socialGraphService.Get().UnblockUser)
}

func (s *server) graphMutationHandler(w http.ResponseWriter, r *http.Request, key string, op func(context.Context, int64, int64, int64) error) {
	ctx := r.Context()
	userID, err := s.authUserID(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	otherID, err := formInt64(r, key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := op(ctx, newReqID(), userID, otherID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}
