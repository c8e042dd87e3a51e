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
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordOperation(operation, outcome string)
	RecordOperationLatency(operation string, duration time.Duration)
	RecordStatusTransition(from, to string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	operations        *prometheus.CounterVec
	operationLatency  *prometheus.HistogramVec
	statusTransitions *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visadesk_operations_total",
			Help: "ユースケース別・結果別の実行回数",
		}, []string{"operation", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visadesk_operation_duration_seconds",
			Help:    "ユースケースの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visadesk_status_transitions_total",
			Help: "審査ステータスの遷移回数",
		}, []string{"from", "to"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visadesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.operations,
		c.operationLatency,
		c.statusTransitions,
		c.httpStatus,
	)

	return c
}

// RecordOperation はユースケースの実行結果を記録する。
// outcomeには "ok" またはエラー種別を指定する。
func (c *Collector) RecordOperation(operation, outcome string) {
	c.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordOperationLatency はユースケースの処理時間を記録する。
func (c *Collector) RecordOperationLatency(operation string, duration time.Duration) {
	c.operationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStatusTransition は審査ステータスの遷移を記録する。
func (c *Collector) RecordStatusTransition(from, to string) {
	c.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordOperation(string, string)                {}
func (Nop) RecordOperationLatency(string, time.Duration) {}
func (Nop) RecordStatusTransition(string, string)         {}
func (Nop) RecordHTTPStatus(int)                          {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
