// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// スケジューラとオーケストレータから利用する。
type MetricsCollector interface {
	RecordFetchSuccess()
	RecordFetchFailure(reason string)
	RecordFetchLatency(duration time.Duration)
	RecordPostsIngested(count int)
	RecordPostsDuplicate(count int)
	RecordTickSkipped()
	SetScheduledJobs(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchSuccess   prometheus.Counter
	fetchFail      *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	postsIngested  prometheus.Counter
	postsDuplicate prometheus.Counter
	tickSkipped    prometheus.Counter
	scheduledJobs  prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nitterpost_fetch_success_total",
			Help: "フィードフェッチ成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nitterpost_fetch_fail_total",
			Help: "フィードフェッチ失敗の合計数（理由別）",
		}, []string{"reason"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nitterpost_fetch_latency_seconds",
			Help:    "フィードフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		postsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nitterpost_posts_ingested_total",
			Help: "新規に取り込まれたポストの合計数",
		}),
		postsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nitterpost_posts_duplicate_total",
			Help: "重複によりスキップされたポストの合計数",
		}),
		tickSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nitterpost_tick_skipped_total",
			Help: "前回実行が完了していないためスキップされたティックの合計数",
		}),
		scheduledJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nitterpost_scheduled_jobs",
			Help: "現在登録されている定期ジョブ数",
		}),
	}

	reg.MustRegister(
		c.fetchSuccess,
		c.fetchFail,
		c.fetchLatency,
		c.postsIngested,
		c.postsDuplicate,
		c.tickSkipped,
		c.scheduledJobs,
	)

	return c
}

// RecordFetchSuccess はフェッチ成功を記録する。
func (c *Collector) RecordFetchSuccess() {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はフェッチ失敗を理由別に記録する。
func (c *Collector) RecordFetchFailure(reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordPostsIngested は新規取り込みポスト数を記録する。
func (c *Collector) RecordPostsIngested(count int) {
	c.postsIngested.Add(float64(count))
}

// RecordPostsDuplicate は重複スキップ数を記録する。
func (c *Collector) RecordPostsDuplicate(count int) {
	c.postsDuplicate.Add(float64(count))
}

// RecordTickSkipped はスキップされたティックを記録する。
func (c *Collector) RecordTickSkipped() {
	c.tickSkipped.Inc()
}

// SetScheduledJobs は現在の定期ジョブ数を設定する。
func (c *Collector) SetScheduledJobs(count int) {
	c.scheduledJobs.Set(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
