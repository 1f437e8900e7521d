// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordFollow(op string, changed bool)
	RecordVote(previous, current string)
	RecordPresenceChange(online bool)
	SetOnlineUsers(n int)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	RecordPostsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	followOps      *prometheus.CounterVec
	voteTransition *prometheus.CounterVec
	presenceChange *prometheus.CounterVec
	onlineUsers    prometheus.Gauge
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	postsPurged    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		followOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialfeed_follow_operations_total",
			Help: "フォロー/アンフォロー操作の合計数（changed=falseは冪等な再実行）",
		}, []string{"op", "changed"}),
		voteTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialfeed_vote_transitions_total",
			Help: "投票状態遷移の合計数",
		}, []string{"from", "to"}),
		presenceChange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialfeed_presence_changes_total",
			Help: "オンライン状態変化の合計数",
		}, []string{"online"}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "socialfeed_online_users",
			Help: "現在オンラインのユーザー数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialfeed_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "socialfeed_request_latency_seconds",
			Help:    "HTTPリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		postsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "socialfeed_posts_purged_total",
			Help: "物理削除された投稿の合計数",
		}),
	}

	reg.MustRegister(
		c.followOps,
		c.voteTransition,
		c.presenceChange,
		c.onlineUsers,
		c.httpStatus,
		c.requestLatency,
		c.postsPurged,
	)

	return c
}

// RecordFollow はフォロー操作を記録する。
func (c *Collector) RecordFollow(op string, changed bool) {
	c.followOps.WithLabelValues(op, strconv.FormatBool(changed)).Inc()
}

// RecordVote は投票状態の遷移を記録する。
func (c *Collector) RecordVote(previous, current string) {
	c.voteTransition.WithLabelValues(previous, current).Inc()
}

// RecordPresenceChange はオンライン状態の変化を記録する。
func (c *Collector) RecordPresenceChange(online bool) {
	c.presenceChange.WithLabelValues(strconv.FormatBool(online)).Inc()
}

// SetOnlineUsers はオンラインユーザー数を設定する。
func (c *Collector) SetOnlineUsers(n int) {
	c.onlineUsers.Set(float64(n))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストのレイテンシを記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordPostsPurged は物理削除された投稿数を記録する。
func (c *Collector) RecordPostsPurged(count int64) {
	c.postsPurged.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。メトリクスを使用しない構成とテストで使う。
type Nop struct{}

func (Nop) RecordFollow(string, bool) {}
func (Nop) RecordVote(string, string) {}
func (Nop) RecordPresenceChange(bool) {}
func (Nop) SetOnlineUsers(int) {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(time.Duration) {}
func (Nop) RecordPostsPurged(int64) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
