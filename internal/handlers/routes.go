package handlers

import (
	"net/http"
	_ "net/http/pprof"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter настраивает маршруты формы, JSON API и служебных эндпоинтов
func NewRouter(h *Handler, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()

	// Форма и JSON API делят POST /predict, различаются по Content-Type
	router.HandleFunc("/", h.IndexHandler).Methods(http.MethodGet)
	router.HandleFunc("/predict", h.APIPredictHandler).
		Methods(http.MethodPost).
		HeadersRegexp("Content-Type", `^application/json`)
	router.HandleFunc("/predict", h.FormPredictHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/predict", h.APIPredictHandler).Methods(http.MethodPost)

	router.HandleFunc("/health", h.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/stats", h.StatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/analyze", h.AnalyzeHandler).Methods(http.MethodGet)
	router.HandleFunc("/predictions/recent", h.RecentPredictionsHandler).Methods(http.MethodGet)

	// Prometheus метрики
	router.Handle("/prometheus", promhttp.Handler())

	// pprof для профилирования
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	router.Use(RequestIDMiddleware)
	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggingMiddleware(logger))
	router.Use(MetricsMiddleware)

	return router
}
