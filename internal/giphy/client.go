// Package giphy はGiphy APIのGIF検索・トレンド取得を中継するクライアントを提供する。
package giphy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/socialfeed/internal/model"
)

const (
	// defaultBaseURL はGiphy APIのベースURL。
	defaultBaseURL = "https://api.giphy.com/v1/gifs"
	// DefaultLimit は1回の取得件数の既定値。
	DefaultLimit = 25
	// MaxLimit は1回の取得件数の上限。
	MaxLimit = 50
	// maxResponseSize はレスポンスボディの読み取り上限。
	maxResponseSize = 2 << 20
	// rating は返却するGIFのレーティング上限。
	rating = "pg-13"
)

// GIF はクライアントに返すGIFの情報。
type GIF struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	PreviewURL string `json:"preview_url"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// URLValidator は返却するGIFのURLを検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Client はGiphy APIのクライアント。
type Client struct {
	httpClient *http.Client
	apiKey     string
	validator  URLValidator
	logger     *slog.Logger
	baseURL    string // テスト用に差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClient にはSSRF防止付きのクライアントを渡す。
// validator が nil の場合、返却URLの検証は行わない。
func NewClient(httpClient *http.Client, apiKey string, validator URLValidator, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		apiKey:     apiKey,
		validator:  validator,
		logger:     logger,
		baseURL:    defaultBaseURL,
	}
}

// Enabled はAPIキーが設定されているかどうかを返す。
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Search はキーワードでGIFを検索する。
func (c *Client) Search(ctx context.Context, query string, limit int) ([]GIF, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, model.NewInvalidRequestError("検索キーワードを指定してください")
	}
	params := url.Values{}
	params.Set("q", query)
	return c.fetch(ctx, "search", params, limit)
}

// Trending はトレンドのGIFを取得する。
func (c *Client) Trending(ctx context.Context, limit int) ([]GIF, error) {
	return c.fetch(ctx, "trending", url.Values{}, limit)
}

// apiResponse はGiphy APIのレスポンスのうち使用する部分。
type apiResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		URL    string `json:"url"`
		Images struct {
			Original    apiImage `json:"original"`
			FixedHeight apiImage `json:"fixed_height"`
		} `json:"images"`
	} `json:"data"`
}

type apiImage struct {
	URL    string `json:"url"`
	Width  string `json:"width"`
	Height string `json:"height"`
}

func (c *Client) fetch(ctx context.Context, path string, params url.Values, limit int) ([]GIF, error) {
	if !c.Enabled() {
		return nil, model.NewUnavailableError("Giphy", fmt.Errorf("GIPHY_API_KEY is not configured"))
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	params.Set("api_key", c.apiKey)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("rating", rating)
	reqURL := c.baseURL + "/" + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Giphy APIの呼び出しに失敗しました",
			slog.String("endpoint", path),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUnavailableError("Giphy", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Giphy APIがエラーステータスを返しました",
			slog.String("endpoint", path),
			slog.Int("http_status", resp.StatusCode),
		)
		// APIキーの不備や上流の障害はいずれも利用者側では解決できない
		return nil, model.NewUnavailableError("Giphy", fmt.Errorf("giphy returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, model.NewUnavailableError("Giphy", fmt.Errorf("read response: %w", err))
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("Giphy APIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	gifs := make([]GIF, 0, len(result.Data))
	for _, d := range result.Data {
		img := d.Images.FixedHeight
		if img.URL == "" {
			img = d.Images.Original
		}
		if img.URL == "" {
			continue
		}
		if c.validator != nil && c.validator.ValidateURL(img.URL) != nil {
			c.logger.Warn("安全でないGIFのURLを除外しました", slog.String("gif_id", d.ID))
			continue
		}

		width, _ := strconv.Atoi(img.Width)
		height, _ := strconv.Atoi(img.Height)
		gifs = append(gifs, GIF{
			ID:         d.ID,
			Title:      d.Title,
			URL:        d.URL,
			PreviewURL: img.URL,
			Width:      width,
			Height:     height,
		})
	}
	return gifs, nil
}
