package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/socialfeed/internal/metrics"
	"github.com/hitoshi/socialfeed/internal/middleware"
	"github.com/hitoshi/socialfeed/internal/security"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilの場合は /metrics を公開しない
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 認証
	TokenVerifier  *middleware.TokenVerifier
	IdentitySyncer middleware.IdentitySyncer

	// ユーザー・フォロー関係
	Directory     Directory
	Relationships RelationshipService
	Sanitizer     security.TextSanitizer
	URLGuard      security.URLGuard

	// 投稿・投票
	Feed  FeedService
	Votes VoteService

	// オンライン状態
	Tracker      PresenceTracker
	Hub          PresenceHub
	PingInterval time.Duration

	// GIF検索
	Giphy GifSearcher

	// ヘルスチェック
	HealthChecker  HealthChecker
	StorageBackend string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Logging → Metrics → Recovery → SecurityHeaders → CORS → Auth → RateLimit(General) → RateLimit(Write)
//
// /health と /metrics は認証の外に配置する。書き込み系ルートのみ書き込み用レート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	socialHandler := NewSocialHandler(deps.Relationships)
	profileHandler := NewProfileHandler(deps.Directory, deps.Relationships, deps.Feed, deps.Tracker, deps.Sanitizer, deps.URLGuard)
	voteHandler := NewVoteHandler(deps.Votes)
	postHandler := NewPostHandler(deps.Feed)
	presenceHandler := NewPresenceHandler(deps.Tracker, deps.Hub, PresenceConfig{
		PingInterval:  deps.PingInterval,
		AllowedOrigin: deps.CORSAllowedOrigin,
	})
	giphyHandler := NewGiphyHandler(deps.Giphy)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker, deps.StorageBackend))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	write := deps.RateLimiter.WriteMiddleware()

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth(Bearer) → RateLimit(General)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier, deps.IdentitySyncer, middleware.BearerToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// フォロー関係
		r.With(write).Post("/follow", socialHandler.Follow)
		r.With(write).Post("/unfollow", socialHandler.Unfollow)
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/followers", socialHandler.Followers)
			r.Get("/following", socialHandler.Following)
		})

		// プロフィール
		r.Get("/profile", profileHandler.GetProfile)
		r.With(write).Patch("/profile", profileHandler.UpdateProfile)

		// 投票
		r.With(write).Post("/vote", voteHandler.CastVote)

		// フィード・投稿
		r.Get("/feed", postHandler.Feed)
		r.Route("/posts", func(r chi.Router) {
			r.With(write).Post("/", postHandler.CreatePost)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", postHandler.GetPost)
				r.With(write).Patch("/", postHandler.EditPost)
				r.With(write).Delete("/", postHandler.DeletePost)
			})
		})

		// オンライン状態
		r.Get("/presence", presenceHandler.OnlineUsers)

		// GIF検索
		r.Route("/giphy", func(r chi.Router) {
			r.Get("/search", giphyHandler.Search)
			r.Get("/trending", giphyHandler.Trending)
		})
	})

	// --- WebSocket ---
	// ブラウザはヘッダーを設定できないため ?token= でも認証を受け付ける
	r.Route("/ws", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier, deps.IdentitySyncer, middleware.QueryToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Get("/presence", presenceHandler.Stream)
	})

	return r
}
