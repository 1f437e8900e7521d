package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/socialfeed/internal/model"
)

// RelationshipService はフォロー関係ハンドラーが必要とするサービスインターフェース。
type RelationshipService interface {
	// Follow は follower が followee をフォローする。冪等。
	Follow(ctx context.Context, followerID, followeeID string) error
	// Unfollow はフォローを解除する。冪等。
	Unfollow(ctx context.Context, followerID, followeeID string) error
	// Followers はフォロワーのID一覧を返す。
	Followers(ctx context.Context, userID string) ([]string, error)
	// Following はフォロー先のID一覧を返す。
	Following(ctx context.Context, userID string) ([]string, error)
	// IsFollowing は follower が followee をフォローしているかどうかを返す。
	IsFollowing(ctx context.Context, followerID, followeeID string) (bool, error)
	// Counts はフォロワー数とフォロー数を返す。
	Counts(ctx context.Context, userID string) (followers, following int, err error)
}

// SocialHandler はフォロー関係のHTTPハンドラー。
type SocialHandler struct {
	service RelationshipService
}

// NewSocialHandler はSocialHandlerを生成する。
func NewSocialHandler(service RelationshipService) *SocialHandler {
	return &SocialHandler{service: service}
}

// followRequest はフォロー・フォロー解除リクエストのボディ。
// follower は省略可能で、指定する場合はログイン中のユーザーと一致する必要がある。
type followRequest struct {
	Follower string `json:"follower" validate:"omitempty,max=255"`
	Followee string `json:"followee" validate:"required,max=255"`
}

// followResponse はフォロー操作後の関係を表すレスポンス。
type followResponse struct {
	Follower  string `json:"follower"`
	Followee  string `json:"followee"`
	Following bool   `json:"following"`
}

// userListResponse はフォロワー・フォロー先一覧のレスポンス。
type userListResponse struct {
	User  string   `json:"user"`
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// Follow はフォローを処理する。
// POST /api/follow
func (h *SocialHandler) Follow(w http.ResponseWriter, r *http.Request) {
	followerID, followeeID, ok := h.parseFollowRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Follow(r.Context(), followerID, followeeID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, followResponse{
		Follower:  followerID,
		Followee:  followeeID,
		Following: true,
	})
}

// Unfollow はフォロー解除を処理する。
// POST /api/unfollow
func (h *SocialHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	followerID, followeeID, ok := h.parseFollowRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Unfollow(r.Context(), followerID, followeeID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, followResponse{
		Follower:  followerID,
		Followee:  followeeID,
		Following: false,
	})
}

// Followers はユーザーのフォロワー一覧を返す。
// GET /api/users/{id}/followers
func (h *SocialHandler) Followers(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, h.service.Followers)
}

// Following はユーザーのフォロー先一覧を返す。
// GET /api/users/{id}/following
func (h *SocialHandler) Following(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, h.service.Following)
}

func (h *SocialHandler) listUsers(w http.ResponseWriter, r *http.Request, list func(context.Context, string) ([]string, error)) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	userID := chi.URLParam(r, "id")
	ids, err := list(r.Context(), userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	writeJSON(w, http.StatusOK, userListResponse{User: userID, Users: ids, Count: len(ids)})
}

func (h *SocialHandler) parseFollowRequest(w http.ResponseWriter, r *http.Request) (followerID, followeeID string, ok bool) {
	callerID, ok := requireUser(w, r)
	if !ok {
		return "", "", false
	}

	var req followRequest
	if !decodeJSON(w, r, &req) {
		return "", "", false
	}

	if req.Follower != "" && req.Follower != callerID {
		writeAPIErrorResponse(w, http.StatusForbidden,
			model.NewForbiddenError("他のユーザーとしてフォロー操作はできません"))
		return "", "", false
	}

	return callerID, req.Followee, true
}
