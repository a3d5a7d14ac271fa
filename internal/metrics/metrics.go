// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 連携試行の結果ラベル。
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
)

// 連携エンティティ保存・トークン更新の結果ラベル。
const (
	ResultInserted  = "inserted"
	ResultUpdated   = "updated"
	ResultFailed    = "failed"
	ResultRefreshed = "refreshed"
	ResultRevoked   = "revoked"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 連携サービスとワーカーから利用する。
type MetricsCollector interface {
	// RecordLinkAttempt は連携フロー1回の最終結果を記録する。outcomeはsuccess、partial、またはリダイレクトのエラータグ。
	RecordLinkAttempt(platform, outcome string)
	RecordLinkedEntity(platform, result string)
	ObservePlatformRequest(platform, step string, d time.Duration)
	RecordTokenRefresh(platform, result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	linkAttempts    *prometheus.CounterVec
	linkedEntities  *prometheus.CounterVec
	platformLatency *prometheus.HistogramVec
	tokenRefresh    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		linkAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialhub_link_attempts_total",
			Help: "アカウント連携フローの結果別件数",
		}, []string{"platform", "outcome"}),
		linkedEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialhub_linked_entities_total",
			Help: "連携アカウント保存の結果別件数",
		}, []string{"platform", "result"}),
		platformLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "socialhub_platform_request_seconds",
			Help:    "連携先APIへのリクエスト所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform", "step"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "socialhub_token_refresh_total",
			Help: "トークン更新の結果別件数",
		}, []string{"platform", "result"}),
	}

	reg.MustRegister(
		c.linkAttempts,
		c.linkedEntities,
		c.platformLatency,
		c.tokenRefresh,
	)

	return c
}

// RecordLinkAttempt は連携フローの結果を記録する。
func (c *Collector) RecordLinkAttempt(platform, outcome string) {
	c.linkAttempts.WithLabelValues(platform, outcome).Inc()
}

// RecordLinkedEntity は連携アカウント1件の保存結果を記録する。
func (c *Collector) RecordLinkedEntity(platform, result string) {
	c.linkedEntities.WithLabelValues(platform, result).Inc()
}

// ObservePlatformRequest は連携先APIの呼び出し時間を記録する。
func (c *Collector) ObservePlatformRequest(platform, step string, d time.Duration) {
	c.platformLatency.WithLabelValues(platform, step).Observe(d.Seconds())
}

// RecordTokenRefresh はトークン更新の結果を記録する。
func (c *Collector) RecordTokenRefresh(platform, result string) {
	c.tokenRefresh.WithLabelValues(platform, result).Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordLinkAttempt(string, string)                     {}
func (Nop) RecordLinkedEntity(string, string)                    {}
func (Nop) ObservePlatformRequest(string, string, time.Duration) {}
func (Nop) RecordTokenRefresh(string, string)                    {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
