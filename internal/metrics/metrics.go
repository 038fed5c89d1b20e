// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector は集約パイプラインのPrometheusメトリクスを収集する。
// aggregate.MetricsRecorderを実装する。
type Collector struct {
	sourceFetchSuccess *prometheus.CounterVec
	sourceFetchFail    *prometheus.CounterVec
	candidatesGathered prometheus.Counter
	candidatesAccepted prometheus.Counter
	rejections         *prometheus.CounterVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	pipelineLatency    prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sourceFetchSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendpulse_source_fetch_success_total",
			Help: "ソース別のフェッチ成功の合計数",
		}, []string{"source"}),
		sourceFetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendpulse_source_fetch_fail_total",
			Help: "ソース別のフェッチ失敗の合計数",
		}, []string{"source"}),
		candidatesGathered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendpulse_candidates_gathered_total",
			Help: "収集された候補投稿の合計数",
		}),
		candidatesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendpulse_candidates_accepted_total",
			Help: "最終結果に採用された投稿の合計数",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trendpulse_candidate_rejections_total",
			Help: "理由別の候補除外の合計数",
		}, []string{"reason"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendpulse_cache_hits_total",
			Help: "結果キャッシュのヒット数",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trendpulse_cache_misses_total",
			Help: "結果キャッシュのミス数",
		}),
		pipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trendpulse_pipeline_latency_seconds",
			Help:    "集約パイプラインのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.sourceFetchSuccess,
		c.sourceFetchFail,
		c.candidatesGathered,
		c.candidatesAccepted,
		c.rejections,
		c.cacheHits,
		c.cacheMisses,
		c.pipelineLatency,
	)

	return c
}

// RecordSourceFetch はソースからの取得結果を記録する。
func (c *Collector) RecordSourceFetch(sourceName string, count int, err error) {
	if err != nil {
		c.sourceFetchFail.WithLabelValues(sourceName).Inc()
		return
	}
	c.sourceFetchSuccess.WithLabelValues(sourceName).Inc()
}

// RecordCandidates は収集数と採用数を記録する。
func (c *Collector) RecordCandidates(gathered, accepted int) {
	c.candidatesGathered.Add(float64(gathered))
	c.candidatesAccepted.Add(float64(accepted))
}

// RecordRejection は候補の除外理由を記録する。
func (c *Collector) RecordRejection(reason string) {
	c.rejections.WithLabelValues(reason).Inc()
}

// RecordCacheHit は結果キャッシュのヒットを記録する。
func (c *Collector) RecordCacheHit() {
	c.cacheHits.Inc()
}

// RecordCacheMiss は結果キャッシュのミスを記録する。
func (c *Collector) RecordCacheMiss() {
	c.cacheMisses.Inc()
}

// RecordPipelineLatency はパイプライン実行のレイテンシを記録する。
func (c *Collector) RecordPipelineLatency(duration time.Duration) {
	c.pipelineLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
