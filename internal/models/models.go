// Package models содержит структуры данных запросов, предсказаний и статистики
package models

import (
	"time"
)

// Варианты точек входа
const (
	VariantForm      = "form"
	VariantAPI       = "api"
	VariantDashboard = "dashboard"
)

// RawObservation сырое наблюдение пациента: имя поля -> строковое значение
type RawObservation map[string]string

// PredictionResult результат предсказания уровня риска
type PredictionResult struct {
	Label    string             `json:"label"`
	Schema   string             `json:"schema"`
	Features []float64          `json:"features"`
	Inputs   map[string]float64 `json:"inputs,omitempty"`
	CacheHit bool               `json:"cache_hit"`
	Latency  time.Duration      `json:"latency"`
}

// RiskLevelResponse ответ минимального JSON API
type RiskLevelResponse struct {
	PredictedRiskLevel string `json:"Predicted Risk Level"`
}

// ErrorResponse ответ с ошибкой JSON API
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// PredictionRecord запись журнала предсказаний
type PredictionRecord struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id,omitempty"`
	Variant   string    `json:"variant"`
	Schema    string    `json:"schema"`
	Features  []float64 `json:"features"`
	Label     string    `json:"label"`
	LatencyMs float64   `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// PredictionEvent событие предсказания для внешних подписчиков
type PredictionEvent struct {
	ID        string    `json:"id"`
	Variant   string    `json:"variant"`
	Schema    string    `json:"schema"`
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
}

// VitalsSample числовые показатели наблюдения для мониторинга входов
type VitalsSample struct {
	Timestamp time.Time          `json:"timestamp"`
	Variant   string             `json:"variant"`
	Values    map[string]float64 `json:"values"`
}

// DriftResult результат проверки наблюдения на выброс
type DriftResult struct {
	Timestamp       time.Time          `json:"timestamp"`
	Variant         string             `json:"variant"`
	ZScores         map[string]float64 `json:"z_scores"`
	Outliers        []string           `json:"outliers,omitempty"`
	AnomalyDetected bool               `json:"anomaly_detected"`
}

// FieldStats скользящая статистика одного показателя
type FieldStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Count  int     `json:"count"`
}

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Redis     string            `json:"redis"`
	Models    map[string]string `json:"models"`
	Uptime    string            `json:"uptime"`
}

// StatsResponse содержит статистику сервиса
type StatsResponse struct {
	TotalPredictions  int64            `json:"total_predictions"`
	ByLabel           map[string]int64 `json:"by_label"`
	AuditRecords      int64            `json:"audit_records"`
	OutliersCount     int64            `json:"outliers_count"`
	CachedPredictions int              `json:"cached_predictions"`
}
