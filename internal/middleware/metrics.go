package middleware

import (
	"net/http"
	"time"

	"github.com/hitoshi/socialfeed/internal/metrics"
)

// NewMetricsMiddleware はHTTPステータスとレイテンシを記録するミドルウェアを返す。
// WebSocketの接続は持続時間がレイテンシを歪めるため、ステータスのみ記録する。
func NewMetricsMiddleware(collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			collector.RecordHTTPStatus(rec.statusCode)
			if rec.statusCode != http.StatusSwitchingProtocols {
				collector.RecordRequestLatency(time.Since(start))
			}
		})
	}
}
