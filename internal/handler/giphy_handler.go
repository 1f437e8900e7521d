package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/socialfeed/internal/giphy"
)

// GifSearcher はGIF検索ハンドラーが必要とするクライアントのインターフェース。
type GifSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]giphy.GIF, error)
	Trending(ctx context.Context, limit int) ([]giphy.GIF, error)
}

// GiphyHandler はGIF検索を中継するHTTPハンドラー。
type GiphyHandler struct {
	client GifSearcher
}

// NewGiphyHandler はGiphyHandlerを生成する。
func NewGiphyHandler(client GifSearcher) *GiphyHandler {
	return &GiphyHandler{client: client}
}

// gifListResponse はGIF一覧のレスポンス。
type gifListResponse struct {
	GIFs []giphy.GIF `json:"gifs"`
}

// Search はキーワードでGIFを検索する。
// GET /api/giphy/search?q=&limit=
func (h *GiphyHandler) Search(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	gifs, err := h.client.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeGIFs(w, gifs)
}

// Trending はトレンドのGIFを返す。
// GET /api/giphy/trending?limit=
func (h *GiphyHandler) Trending(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	gifs, err := h.client.Trending(r.Context(), limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeGIFs(w, gifs)
}

func writeGIFs(w http.ResponseWriter, gifs []giphy.GIF) {
	if gifs == nil {
		gifs = []giphy.GIF{}
	}
	writeJSON(w, http.StatusOK, gifListResponse{GIFs: gifs})
}
