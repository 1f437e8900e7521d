package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/socialfeed/internal/feed"
	"github.com/hitoshi/socialfeed/internal/model"
)

// FeedService は投稿・フィードハンドラーが必要とするサービスインターフェース。
type FeedService interface {
	// GlobalFeed は全ユーザーの投稿を新しい順にページングして返す。
	GlobalFeed(ctx context.Context, limit int, cursor string) (*feed.Page, error)
	// AuthorPage は指定ユーザーの投稿を新しい順にページングして返す。
	AuthorPage(ctx context.Context, authorID string, limit int, cursor string) (*feed.Page, error)
	// GetPost は投稿をスコア付きで返す。
	GetPost(ctx context.Context, postID string) (*model.ScoredPost, error)
	// CreatePost は投稿を作成する。
	CreatePost(ctx context.Context, authorID, body string) (*model.ScoredPost, error)
	// EditPost は自分の投稿の本文を更新する。
	EditPost(ctx context.Context, callerID, postID, body string) (*model.ScoredPost, error)
	// DeletePost は自分の投稿を論理削除する。
	DeletePost(ctx context.Context, callerID, postID string) error
}

// PostHandler は投稿とフィードのHTTPハンドラー。
type PostHandler struct {
	service FeedService
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(service FeedService) *PostHandler {
	return &PostHandler{service: service}
}

// postBodyRequest は投稿作成・編集リクエストのボディ。
// 長さと内容の検証は投稿サービスが INVALID_POST_BODY として行う。
type postBodyRequest struct {
	Body string `json:"body" validate:"required"`
}

// postResponse はスコア付き投稿のレスポンス。
type postResponse struct {
	ID        string        `json:"id"`
	Author    string        `json:"author"`
	Body      string        `json:"body"`
	CreatedAt time.Time     `json:"created_at"`
	EditedAt  *time.Time    `json:"edited_at,omitempty"`
	Score     scoreResponse `json:"score"`
}

// pageResponse はフィード1ページ分のレスポンス。
type pageResponse struct {
	Posts      []postResponse `json:"posts"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

func toPostResponse(p model.ScoredPost) postResponse {
	return postResponse{
		ID:        p.ID,
		Author:    p.AuthorID,
		Body:      p.Body,
		CreatedAt: p.CreatedAt,
		EditedAt:  p.EditedAt,
		Score:     toScoreResponse(p.Score),
	}
}

func toPageResponse(page *feed.Page) pageResponse {
	posts := make([]postResponse, 0, len(page.Posts))
	for _, p := range page.Posts {
		posts = append(posts, toPostResponse(p))
	}
	return pageResponse{Posts: posts, NextCursor: page.NextCursor, HasMore: page.HasMore}
}

// Feed はフィードを返す。author を指定した場合はそのユーザーの投稿のみを返す。
// GET /api/feed?author=&limit=&cursor=
func (h *PostHandler) Feed(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	var page *feed.Page
	if author := q.Get("author"); author != "" {
		page, err = h.service.AuthorPage(r.Context(), author, limit, q.Get("cursor"))
	} else {
		page, err = h.service.GlobalFeed(r.Context(), limit, q.Get("cursor"))
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(page))
}

// CreatePost は投稿を作成する。
// POST /api/posts
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req postBodyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.CreatePost(r.Context(), userID, req.Body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPostResponse(*post))
}

// GetPost は投稿を1件返す。
// GET /api/posts/{id}
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	post, err := h.service.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(*post))
}

// EditPost は投稿本文を更新する。作者本人のみ実行できる。
// PATCH /api/posts/{id}
func (h *PostHandler) EditPost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req postBodyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.EditPost(r.Context(), userID, chi.URLParam(r, "id"), req.Body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(*post))
}

// DeletePost は投稿を論理削除する。作者本人のみ実行できる。
// DELETE /api/posts/{id}
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.service.DeletePost(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
