package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout はヘルスチェック時の依存先確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker は依存先（データベース等）の疎通確認に使用するインターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

// NewHealthHandler はヘルスチェックハンドラーを返す。
// checker が nil の場合（インメモリストレージ）は常に正常を返す。
func NewHealthHandler(checker HealthChecker, storage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Warn("health check failed",
					slog.String("storage", storage),
					slog.String("error", err.Error()),
				)
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Storage: storage})
				return
			}
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Storage: storage})
	}
}
