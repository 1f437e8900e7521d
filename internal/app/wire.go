package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/socialfeed/internal/config"
	"github.com/hitoshi/socialfeed/internal/database"
	"github.com/hitoshi/socialfeed/internal/feed"
	"github.com/hitoshi/socialfeed/internal/giphy"
	"github.com/hitoshi/socialfeed/internal/handler"
	"github.com/hitoshi/socialfeed/internal/identity"
	"github.com/hitoshi/socialfeed/internal/metrics"
	"github.com/hitoshi/socialfeed/internal/middleware"
	"github.com/hitoshi/socialfeed/internal/presence"
	"github.com/hitoshi/socialfeed/internal/relationship"
	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/repository/memory"
	"github.com/hitoshi/socialfeed/internal/security"
	"github.com/hitoshi/socialfeed/internal/vote"
)

const dbPingTimeout = 5 * time.Second

// storage は選択されたバックエンドのリポジトリ一式。
// dbはPostgreSQL構成のときのみ非nil。
type storage struct {
	db      *sql.DB
	users   repository.UserRepository
	posts   repository.PostRepository
	follows repository.FollowRepository
	votes   repository.VoteRepository
}

// openStorage はSTORAGE_BACKENDに応じてリポジトリを構築する。
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.UsesMemoryStorage() {
		store := memory.NewStore(0)
		slog.Warn("using in-memory storage; data is lost on restart")
		return &storage{
			users:   store.Users,
			posts:   store.Posts,
			follows: store.Follows,
			votes:   store.Votes,
		}, nil
	}

	pool := database.DefaultPoolConfig()
	if cfg.DBMaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.DBMaxOpenConns
	}

	db, err := database.Open(cfg.DatabaseURL, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		slog.Int("max_open_conns", pool.MaxOpenConns),
	)

	return &storage{
		db:      db,
		users:   repository.NewPostgresUserRepo(db),
		posts:   repository.NewPostgresPostRepo(db),
		follows: repository.NewPostgresFollowRepo(db),
		votes:   repository.NewPostgresVoteRepo(db),
	}, nil
}

// Close はDB接続を閉じる。インメモリ構成では何もしない。
func (s *storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// healthChecker はDB疎通確認に使うチェッカーを返す。インメモリ構成ではnil。
func (s *storage) healthChecker() handler.HealthChecker {
	if s.db == nil {
		return nil
	}
	return s.db
}

// server はHTTPハンドラーと、シャットダウン時に停止が必要な部品をまとめたもの。
type server struct {
	handler   http.Handler
	collector *metrics.Collector
	hub       *presence.Hub
	limiter   *middleware.RateLimiter
}

// newServer はリポジトリからドメインサービスとルーターを組み立てる。
func newServer(cfg *config.Config, st *storage, logger *slog.Logger) (*server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	breaker := identity.DefaultBreakerConfig()
	if cfg.IdentityBreakerTimeout > 0 {
		breaker.Timeout = cfg.IdentityBreakerTimeout
	}
	directory := identity.NewDirectory(st.users, breaker, logger)

	cache, err := vote.NewScoreCache(cfg.ScoreCacheMaxCost, cfg.ScoreCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create score cache: %w", err)
	}
	ledger := vote.NewLedger(st.votes, cache, collector)
	social := relationship.NewService(st.follows, directory, collector)

	sanitizer := security.NewTextSanitizer()
	urlGuard := security.NewURLGuard()
	assembler := feed.NewAssembler(st.posts, ledger, directory, sanitizer, feed.Options{
		DefaultLimit: cfg.FeedPageSize,
		MaxLimit:     cfg.FeedMaxPageSize,
	})

	hub := presence.NewHub(cfg.PresenceBuffer, logger)
	tracker := presence.NewTracker(hub, collector, 0)

	gifs := giphy.NewClient(urlGuard.NewSafeClient(cfg.GiphyTimeout), cfg.GiphyAPIKey, urlGuard, logger)
	limiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,

		TokenVerifier:  middleware.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		IdentitySyncer: directory,

		Directory:     directory,
		Relationships: social,
		Sanitizer:     sanitizer,
		URLGuard:      urlGuard,

		Feed:  assembler,
		Votes: ledger,

		Tracker:      tracker,
		Hub:          hub,
		PingInterval: cfg.WSPingInterval,

		Giphy: gifs,

		HealthChecker:  st.healthChecker(),
		StorageBackend: cfg.StorageBackend,
	})

	return &server{
		handler:   router,
		collector: collector,
		hub:       hub,
		limiter:   limiter,
	}, nil
}

// Close はバックグラウンドで動作する部品を停止する。
func (s *server) Close() {
	s.limiter.Stop()
	s.hub.Close()
}
