// Package handlers содержит HTTP обработчики формы и JSON API
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"go.uber.org/zap"

	"vitals-risk-service/internal/analytics"
	"vitals-risk-service/internal/cache"
	"vitals-risk-service/internal/features"
	"vitals-risk-service/internal/metrics"
	"vitals-risk-service/internal/models"
	"vitals-risk-service/internal/predictor"
	"vitals-risk-service/internal/tracking"
)

// maxBodyBytes ограничение на размер тела запроса
const maxBodyBytes = 64 << 10

// Handler содержит зависимости для HTTP обработчиков
type Handler struct {
	form      *predictor.Predictor
	api       *predictor.Predictor
	tracker   *tracking.Tracker
	cache     *cache.Tiered
	logger    *zap.Logger
	startTime time.Time
}

// NewHandler создает новый обработчик. Предикторы без модели отвечают
// состоянием недоступности, а не ошибкой запуска.
func NewHandler(form, api *predictor.Predictor, tracker *tracking.Tracker, c *cache.Tiered, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = tracking.New(logger)
	}
	if form == nil {
		form = predictor.New(nil)
	}
	if api == nil {
		api = predictor.New(nil)
	}
	return &Handler{
		form:      form,
		api:       api,
		tracker:   tracker,
		cache:     c,
		logger:    logger,
		startTime: time.Now(),
	}
}

// IndexHandler обрабатывает GET / - форма ввода показателей
func (h *Handler) IndexHandler(w http.ResponseWriter, r *http.Request) {
	data := newPageData(h.form.Schema(), h.form.Available(), nil)
	if !h.form.Available() {
		data.ErrorText = msgModelNotLoaded
	}
	h.respondPage(w, data)
}

// FormPredictHandler обрабатывает POST /predict с формой.
// Любой исход отображается на той же странице со статусом 200.
func (h *Handler) FormPredictHandler(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())

	if !h.form.Available() {
		h.tracker.Failure(models.VariantForm, requestID, &predictor.Error{Kind: predictor.ErrUnavailable})
		h.respondPage(w, pageData{ErrorText: msgCannotPredict})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw := models.RawObservation{}
	if err := r.ParseForm(); err == nil {
		for field := range r.PostForm {
			raw[field] = r.PostForm.Get(field)
		}
	}

	data := newPageData(h.form.Schema(), true, raw)
	result, err := h.form.Predict(r.Context(), raw)
	if err != nil {
		h.tracker.Failure(models.VariantForm, requestID, err)
		data.ErrorText = msgProcessingFailed
		h.respondPage(w, data)
		return
	}

	h.tracker.Success(r.Context(), models.VariantForm, requestID, result)
	data.PredictionText = predictionPrefix + result.Label
	h.respondPage(w, data)
}

// APIPredictHandler обрабатывает POST /api/predict (и POST /predict с JSON)
func (h *Handler) APIPredictHandler(w http.ResponseWriter, r *http.Request) {
	requestID := RequestIDFromContext(r.Context())

	if !h.api.Available() {
		err := &predictor.Error{Kind: predictor.ErrUnavailable}
		h.respondPredictError(w, err, h.tracker.Failure(models.VariantAPI, requestID, err))
		return
	}

	raw, err := decodeObservation(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		err = &predictor.Error{Kind: predictor.ErrValidation, Err: err}
		h.respondPredictError(w, err, h.tracker.Failure(models.VariantAPI, requestID, err))
		return
	}

	result, err := h.api.Predict(r.Context(), raw)
	if err != nil {
		h.respondPredictError(w, err, h.tracker.Failure(models.VariantAPI, requestID, err))
		return
	}

	h.tracker.Success(r.Context(), models.VariantAPI, requestID, result)
	h.respondJSON(w, models.RiskLevelResponse{PredictedRiskLevel: result.Label}, http.StatusOK)
}

// decodeObservation читает JSON объект; числа и строки принимаются как значения полей
func decodeObservation(body io.Reader) (models.RawObservation, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if payload == nil {
		return nil, errors.New("invalid JSON: expected an object")
	}

	raw, err := features.FromJSON(payload)
	return models.RawObservation(raw), err
}

// AnalyzeHandler обрабатывает GET /analyze - скользящая статистика входных показателей
func (h *Handler) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	monitor := h.tracker.Monitor()
	if monitor == nil {
		h.respondError(w, "Input monitor not available", http.StatusServiceUnavailable)
		return
	}

	response := map[string]interface{}{
		"timestamp": time.Now(),
		"fields":    monitor.Stats(),
		"thresholds": map[string]float64{
			"outlier_z_score": monitor.Threshold(),
			"window_size":     float64(monitor.WindowSize()),
			"min_samples":     float64(analytics.MinSamples),
		},
	}
	h.respondJSON(w, response, http.StatusOK)
}

// HealthHandler обрабатывает GET /health - проверка здоровья
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	redisStatus := "disconnected"
	if rc := h.tracker.Redis(); rc != nil && rc.Ping(r.Context()) == nil {
		redisStatus = "connected"
	}

	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Redis:     redisStatus,
		Models: map[string]string{
			models.VariantForm: modelState(h.form),
			models.VariantAPI:  modelState(h.api),
		},
		Uptime: time.Since(h.startTime).String(),
	}
	if !h.form.Available() || !h.api.Available() {
		status.Status = "degraded"
	}

	h.respondJSON(w, status, http.StatusOK)
}

func modelState(p *predictor.Predictor) string {
	info, ok := p.Info()
	if !ok {
		return "unavailable"
	}
	return info.Schema + "@" + info.Checksum
}

// StatsHandler обрабатывает GET /stats - статистика сервиса
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	// Обновляем метрику горутин
	metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))

	response := models.StatsResponse{ByLabel: map[string]int64{}}

	if rc := h.tracker.Redis(); rc != nil {
		var err error
		if response.TotalPredictions, err = rc.GetCounter(r.Context(), cache.TotalPredictionsKey); err != nil {
			h.logger.Warn("Failed to read prediction counter", zap.Error(err))
		}
		if response.OutliersCount, err = rc.GetCounter(r.Context(), cache.OutliersKey); err != nil {
			h.logger.Warn("Failed to read outlier counter", zap.Error(err))
		}
		if counts, err := rc.LabelCounts(r.Context()); err == nil {
			response.ByLabel = counts
		} else {
			h.logger.Warn("Failed to read label counters", zap.Error(err))
		}
	}

	if store := h.tracker.Audit(); store != nil {
		n, err := store.Count(r.Context())
		if err != nil {
			h.logger.Warn("Failed to count audit records", zap.Error(err))
		}
		response.AuditRecords = n
	}

	if h.cache != nil {
		response.CachedPredictions = h.cache.Len()
	}

	h.respondJSON(w, response, http.StatusOK)
}

// RecentPredictionsHandler возвращает последние предсказания из журнала
func (h *Handler) RecentPredictionsHandler(w http.ResponseWriter, r *http.Request) {
	count := 50
	if countStr := r.URL.Query().Get("count"); countStr != "" {
		if c, err := strconv.Atoi(countStr); err == nil && c > 0 && c <= 1000 {
			count = c
		}
	}

	store := h.tracker.Audit()
	if store == nil {
		h.respondError(w, "Audit log not available", http.StatusServiceUnavailable)
		return
	}

	records, err := store.Recent(r.Context(), count)
	if err != nil {
		h.logger.Error("Failed to read audit records", zap.Error(err))
		h.respondError(w, "Failed to get predictions", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, records, http.StatusOK)
}

// respondPredictError отвечает статусом по виду ошибки
func (h *Handler) respondPredictError(w http.ResponseWriter, err error, kind string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, predictor.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, predictor.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	h.respondJSON(w, models.ErrorResponse{Error: err.Error(), Kind: kind}, status)
}

// respondPage отображает страницу формы
func (h *Handler) respondPage(w http.ResponseWriter, data pageData) {
	var buf bytes.Buffer
	if err := renderPage(&buf, data); err != nil {
		h.logger.Error("Failed to render page", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// respondJSON отправляет JSON ответ
func (h *Handler) respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// respondError отправляет ошибку в JSON формате
func (h *Handler) respondError(w http.ResponseWriter, message string, status int) {
	h.respondJSON(w, map[string]string{"error": message}, status)
}
