// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// トークン付与の発生源ラベル
const (
	SourceCheckIn      = "check_in"
	SourceSession      = "session"
	SourceDistribution = "distribution"
)

// 配布実行の結果ラベル
const (
	OutcomeCompleted        = "completed"
	OutcomeAlreadyCompleted = "already_completed"
	OutcomeInterrupted      = "interrupted"
	OutcomeFailed           = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// エンジン、ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordCheckIn(claimed bool)
	RecordSession(score int64)
	RecordTokensAwarded(source string, amount int64)
	RecordDistributionRun(outcome string, duration time.Duration)
	RecordNotificationFailure(kind string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkIns             *prometheus.CounterVec
	sessions             prometheus.Counter
	sessionScore         prometheus.Histogram
	tokensAwarded        *prometheus.CounterVec
	distributionRuns     *prometheus.CounterVec
	distributionLatency  prometheus.Histogram
	notificationFailures *prometheus.CounterVec
	httpStatus           *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftledger_check_ins_total",
			Help: "チェックイン試行数（outcome=claimed|already_claimed）",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driftledger_sessions_recorded_total",
			Help: "記録されたゲームセッションの合計数",
		}),
		sessionScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftledger_session_score",
			Help:    "記録されたゲームスコアの分布",
			Buckets: prometheus.ExponentialBuckets(10, 4, 8),
		}),
		tokensAwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftledger_tokens_awarded_total",
			Help: "発生源別の付与トークン合計",
		}, []string{"source"}),
		distributionRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftledger_distribution_runs_total",
			Help: "日次報酬配布の実行回数",
		}, []string{"outcome"}),
		distributionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftledger_distribution_duration_seconds",
			Help:    "日次報酬配布の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftledger_notification_failures_total",
			Help: "通知配信失敗の合計数",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftledger_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.checkIns,
		c.sessions,
		c.sessionScore,
		c.tokensAwarded,
		c.distributionRuns,
		c.distributionLatency,
		c.notificationFailures,
		c.httpStatus,
	)

	return c
}

// RecordCheckIn はチェックインの結果を記録する。
func (c *Collector) RecordCheckIn(claimed bool) {
	outcome := "already_claimed"
	if claimed {
		outcome = "claimed"
	}
	c.checkIns.WithLabelValues(outcome).Inc()
}

// RecordSession はゲームセッションの記録を計上する。
func (c *Collector) RecordSession(score int64) {
	c.sessions.Inc()
	c.sessionScore.Observe(float64(score))
}

// RecordTokensAwarded は付与したトークン数を記録する。0以下は無視する。
func (c *Collector) RecordTokensAwarded(source string, amount int64) {
	if amount <= 0 {
		return
	}
	c.tokensAwarded.WithLabelValues(source).Add(float64(amount))
}

// RecordDistributionRun は配布実行の結果と所要時間を記録する。
func (c *Collector) RecordDistributionRun(outcome string, duration time.Duration) {
	c.distributionRuns.WithLabelValues(outcome).Inc()
	c.distributionLatency.Observe(duration.Seconds())
}

// RecordNotificationFailure は通知配信の失敗を記録する。
func (c *Collector) RecordNotificationFailure(kind string) {
	c.notificationFailures.WithLabelValues(kind).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
