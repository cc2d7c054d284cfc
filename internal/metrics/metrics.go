// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/hitoshi/fitsync/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期処理やトークン管理から利用する。
type MetricsCollector interface {
	RecordSyncRun(duration time.Duration)
	RecordUserFailure()
	RecordProviderError(provider model.Provider, kind model.ErrorKind)
	RecordTokenRefresh(provider model.Provider, success bool)
	RecordWorkoutUpserted(provider model.Provider, outcome string)
	RecordHRR(outcome string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncRuns        prometheus.Counter
	syncDuration    prometheus.Histogram
	userFailures    prometheus.Counter
	providerErrors  *prometheus.CounterVec
	tokenRefresh    *prometheus.CounterVec
	workoutsUpsert  *prometheus.CounterVec
	hrrComputations *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitsync_sync_runs_total",
			Help: "同期実行の合計数",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitsync_sync_duration_seconds",
			Help:    "同期実行1回あたりの所要時間（秒）",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		userFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitsync_user_failures_total",
			Help: "エラーで終了したユーザー単位の同期の合計数",
		}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsync_provider_errors_total",
			Help: "プロバイダー呼び出し失敗の合計数",
		}, []string{"provider", "kind"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsync_token_refresh_total",
			Help: "トークンリフレッシュの合計数",
		}, []string{"provider", "result"}),
		workoutsUpsert: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsync_workouts_upserted_total",
			Help: "取り込んだワークアウトの合計数",
		}, []string{"provider", "outcome"}),
		hrrComputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitsync_hrr_total",
			Help: "HRR2min算出の結果別合計数",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.syncDuration,
		c.userFailures,
		c.providerErrors,
		c.tokenRefresh,
		c.workoutsUpsert,
		c.hrrComputations,
	)

	return c
}

// RecordSyncRun は同期実行1回と所要時間を記録する。
func (c *Collector) RecordSyncRun(duration time.Duration) {
	c.syncRuns.Inc()
	c.syncDuration.Observe(duration.Seconds())
}

// RecordUserFailure はユーザー単位の同期失敗を記録する。
func (c *Collector) RecordUserFailure() {
	c.userFailures.Inc()
}

// RecordProviderError はプロバイダー呼び出し失敗を記録する。
func (c *Collector) RecordProviderError(provider model.Provider, kind model.ErrorKind) {
	c.providerErrors.WithLabelValues(string(provider), string(kind)).Inc()
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(provider model.Provider, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.tokenRefresh.WithLabelValues(string(provider), result).Inc()
}

// RecordWorkoutUpserted はワークアウトの取り込み結果を記録する。
func (c *Collector) RecordWorkoutUpserted(provider model.Provider, outcome string) {
	c.workoutsUpsert.WithLabelValues(string(provider), outcome).Inc()
}

// RecordHRR はHRR2min算出の結果を記録する。
func (c *Collector) RecordHRR(outcome string) {
	c.hrrComputations.WithLabelValues(outcome).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var _ MetricsCollector = (*Collector)(nil)
