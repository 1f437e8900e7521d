package handler

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/security"
)

// recentPostsOnProfile はプロフィールに含める最近の投稿数。
const recentPostsOnProfile = 5

// Directory はプロフィールハンドラーが必要とするIDディレクトリのインターフェース。
type Directory interface {
	// Resolve はハンドルをユーザーIDに解決する。
	Resolve(ctx context.Context, handle string) (string, error)
	// Lookup はユーザーIDからユーザーレコードを取得する。
	Lookup(ctx context.Context, id string) (*model.User, error)
	// UpdateProfile はプロフィールを部分更新する。
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.User, error)
}

// PresenceView はオンライン状態の参照に使用するインターフェース。
type PresenceView interface {
	IsOnline(userID string) bool
}

// ProfileHandler はプロフィールのHTTPハンドラー。
type ProfileHandler struct {
	directory Directory
	social    RelationshipService
	posts     FeedService
	presence  PresenceView
	sanitizer security.TextSanitizer
	urlGuard  security.URLGuard
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(
	directory Directory,
	social RelationshipService,
	posts FeedService,
	presence PresenceView,
	sanitizer security.TextSanitizer,
	urlGuard security.URLGuard,
) *ProfileHandler {
	return &ProfileHandler{
		directory: directory,
		social:    social,
		posts:     posts,
		presence:  presence,
		sanitizer: sanitizer,
		urlGuard:  urlGuard,
	}
}

// userResponse はユーザー情報のレスポンス。
type userResponse struct {
	ID          string `json:"id"`
	Handle      string `json:"handle,omitempty"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// profileResponse はプロフィール画面のレスポンス。
// is_following は閲覧者からの、follows_you は閲覧者へのフォロー関係を表す。
type profileResponse struct {
	User        userResponse   `json:"user"`
	Followers   int            `json:"followers"`
	Following   int            `json:"following"`
	IsFollowing bool           `json:"is_following"`
	FollowsYou  bool           `json:"follows_you"`
	Online      bool           `json:"online"`
	IsSelf      bool           `json:"is_self"`
	Posts       []postResponse `json:"posts"`
	NextCursor  string         `json:"next_cursor,omitempty"`
}

// updateProfileRequest はプロフィール編集リクエストのボディ。省略したフィールドは変更しない。
type updateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,max=2048"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Handle:      u.Handle,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		AvatarURL:   u.AvatarURL,
	}
}

// GetProfile はユーザーのプロフィールを返す。
// user と handle のどちらも指定しない場合はログイン中のユーザー自身のプロフィールを返す。
// GET /api/profile?user=<id> または ?handle=<handle>
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := requireUser(w, r)
	if !ok {
		return
	}

	targetID, err := h.resolveTarget(r, viewerID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	user, err := h.directory.Lookup(r.Context(), targetID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := profileResponse{
		User:   toUserResponse(user),
		Online: h.presence.IsOnline(user.ID),
		IsSelf: user.ID == viewerID,
	}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		resp.Followers, resp.Following, err = h.social.Counts(ctx, user.ID)
		return err
	})
	g.Go(func() error {
		var err error
		resp.IsFollowing, err = h.social.IsFollowing(ctx, viewerID, user.ID)
		return err
	})
	g.Go(func() error {
		var err error
		resp.FollowsYou, err = h.social.IsFollowing(ctx, user.ID, viewerID)
		return err
	})
	g.Go(func() error {
		page, err := h.posts.AuthorPage(ctx, user.ID, recentPostsOnProfile, "")
		if err != nil {
			return err
		}
		resp.Posts = toPageResponse(page).Posts
		resp.NextCursor = page.NextCursor
		return nil
	})
	if err := g.Wait(); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// UpdateProfile はログイン中のユーザーのプロフィールを部分更新する。
// アバターURLは公開された https のURLのみ受け付ける。空文字列はアバターの削除を表す。
// PATCH /api/profile
func (h *ProfileHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	update, err := h.sanitizer.Profile(model.ProfileUpdate{
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if update.IsEmpty() {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("更新するフィールドを指定してください"))
		return
	}

	if update.AvatarURL != nil && *update.AvatarURL != "" {
		if err := h.urlGuard.ValidateURL(*update.AvatarURL); err != nil {
			handleServiceError(w, r, err)
			return
		}
	}

	user, err := h.directory.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *ProfileHandler) resolveTarget(r *http.Request, viewerID string) (string, error) {
	q := r.URL.Query()
	if id := q.Get("user"); id != "" {
		return id, nil
	}
	if handle := q.Get("handle"); handle != "" {
		return h.directory.Resolve(r.Context(), handle)
	}
	return viewerID, nil
}
