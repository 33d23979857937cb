// Package metrics реализует экспорт метрик в Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики
var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "method", "status"},
	)

	// RequestDuration длительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitals_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"endpoint", "method"},
	)

	// PredictionsTotal количество предсказаний по варианту и метке
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_predictions_total",
			Help: "Total number of risk level predictions",
		},
		[]string{"variant", "label"},
	)

	// PredictionFailures количество ошибок предсказания по виду
	PredictionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_prediction_failures_total",
			Help: "Total number of failed predictions by kind",
		},
		[]string{"variant", "kind"},
	)

	// InferenceLatency время вызова модели
	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitals_inference_latency_seconds",
			Help:    "Model inference latency in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		},
		[]string{"schema"},
	)

	// ModelAvailable 1 если модель варианта загружена
	ModelAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vitals_model_available",
			Help: "Whether the model handle of a variant is loaded",
		},
		[]string{"variant", "schema"},
	)

	// ArtifactChanges изменения файлов артефактов после загрузки
	ArtifactChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitals_artifact_changes_total",
			Help: "Artifact file changes observed since the handle was loaded",
		},
	)

	// InputOutliers наблюдения с выбросом по показателю
	InputOutliers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_input_outliers_total",
			Help: "Observations whose vital sign z-score exceeded the threshold",
		},
		[]string{"field"},
	)

	// CacheHits попадания в кэш
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_cache_hits_total",
			Help: "Total number of prediction cache hits",
		},
		[]string{"tier"},
	)

	// CacheMisses промахи кэша
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitals_cache_misses_total",
			Help: "Total number of prediction cache misses",
		},
	)

	// DashboardClients количество подключенных дашбордов
	DashboardClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitals_dashboard_clients",
			Help: "Number of connected dashboard websocket clients",
		},
	)

	// ActiveGoroutines количество активных горутин
	ActiveGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitals_active_goroutines",
			Help: "Number of active goroutines",
		},
	)
)

// RecordPrediction обновляет метрики успешного предсказания
func RecordPrediction(variant, schema, label string, inferenceSeconds float64, cacheHit bool) {
	PredictionsTotal.WithLabelValues(variant, label).Inc()
	if !cacheHit {
		InferenceLatency.WithLabelValues(schema).Observe(inferenceSeconds)
	}
}

// SetModelAvailable выставляет признак загруженной модели
func SetModelAvailable(variant, schema string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	ModelAvailable.WithLabelValues(variant, schema).Set(v)
}
