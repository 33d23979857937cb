// Package tracking фиксирует исход каждого предсказания: метрики, счетчики Redis,
// журнал SQLite, монитор входных данных и публикация события.
package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vitals-risk-service/internal/analytics"
	"vitals-risk-service/internal/audit"
	"vitals-risk-service/internal/cache"
	"vitals-risk-service/internal/metrics"
	"vitals-risk-service/internal/models"
	"vitals-risk-service/internal/predictor"
	"vitals-risk-service/internal/publish"
)

const (
	// eventBufferSize очередь событий для публикации
	eventBufferSize = 256
	// publishTimeout ограничение на публикацию одного события
	publishTimeout = 5 * time.Second
)

// Tracker получатели исходов предсказаний; любое поле может быть nil
type Tracker struct {
	redis     *cache.RedisCache
	audit     *audit.Store
	publisher publish.Publisher
	monitor   *analytics.Monitor
	logger    *zap.Logger

	events   chan models.PredictionEvent
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option настройка трекера
type Option func(*Tracker)

// WithRedis включает счетчики в Redis
func WithRedis(rc *cache.RedisCache) Option {
	return func(t *Tracker) { t.redis = rc }
}

// WithAudit включает журнал предсказаний
func WithAudit(s *audit.Store) Option {
	return func(t *Tracker) { t.audit = s }
}

// WithPublisher включает публикацию событий
func WithPublisher(p publish.Publisher) Option {
	return func(t *Tracker) { t.publisher = p }
}

// WithMonitor включает проверку входов на выбросы
func WithMonitor(m *analytics.Monitor) Option {
	return func(t *Tracker) { t.monitor = m }
}

// New создает трекер. С publisher события отправляются в фоне до Close.
func New(logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{logger: logger, stopChan: make(chan struct{})}
	for _, opt := range opts {
		opt(t)
	}
	if t.publisher != nil {
		t.events = make(chan models.PredictionEvent, eventBufferSize)
		t.wg.Add(1)
		go t.publishLoop()
	}
	return t
}

func (t *Tracker) publishLoop() {
	defer t.wg.Done()
	for {
		select {
		case event := <-t.events:
			t.publish(event)
		case <-t.stopChan:
			// Дописываем то, что уже в очереди
			for {
				select {
				case event := <-t.events:
					t.publish(event)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) publish(event models.PredictionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := t.publisher.Publish(ctx, event); err != nil {
		t.logger.Warn("Failed to publish prediction event", zap.String("id", event.ID), zap.Error(err))
	}
}

// Close останавливает публикацию событий и закрывает publisher
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.wg.Wait()
	if t.publisher != nil {
		t.publisher.Close()
	}
}

// Redis возвращает клиент счетчиков
func (t *Tracker) Redis() *cache.RedisCache { return t.redis }

// Audit возвращает журнал предсказаний
func (t *Tracker) Audit() *audit.Store { return t.audit }

// Monitor возвращает монитор входных данных
func (t *Tracker) Monitor() *analytics.Monitor { return t.monitor }

// Success фиксирует успешное предсказание. Ошибки получателей логируются
// и не влияют на ответ клиенту.
func (t *Tracker) Success(ctx context.Context, variant, requestID string, result models.PredictionResult) {
	metrics.RecordPrediction(variant, result.Schema, result.Label, result.Latency.Seconds(), result.CacheHit)

	now := time.Now().UTC()
	id := uuid.NewString()

	if t.monitor != nil && len(result.Inputs) > 0 {
		t.monitor.Submit(models.VitalsSample{Timestamp: now, Variant: variant, Values: result.Inputs})
	}

	if t.redis != nil {
		if err := t.redis.CountPrediction(ctx, result.Label); err != nil {
			t.logger.Warn("Failed to update prediction counters", zap.Error(err))
		}
	}

	if t.audit != nil {
		_, err := t.audit.Record(ctx, models.PredictionRecord{
			ID:        id,
			RequestID: requestID,
			Variant:   variant,
			Schema:    result.Schema,
			Features:  result.Features,
			Label:     result.Label,
			LatencyMs: float64(result.Latency.Microseconds()) / 1000,
			CreatedAt: now,
		})
		if err != nil {
			t.logger.Warn("Failed to write audit record", zap.Error(err))
		}
	}

	if t.events != nil {
		event := models.PredictionEvent{
			ID:        id,
			Variant:   variant,
			Schema:    result.Schema,
			Label:     result.Label,
			Timestamp: now,
		}
		select {
		case t.events <- event:
		default:
			t.logger.Warn("Prediction event queue is full, dropping event", zap.String("id", id))
		}
	}

	t.logger.Debug("Prediction served",
		zap.String("variant", variant),
		zap.String("request_id", requestID),
		zap.String("label", result.Label),
		zap.Bool("cache_hit", result.CacheHit),
		zap.Duration("latency", result.Latency),
	)
}

// Failure фиксирует неудачное предсказание и возвращает вид ошибки
func (t *Tracker) Failure(variant, requestID string, err error) string {
	kind := predictor.KindOf(err)
	metrics.PredictionFailures.WithLabelValues(variant, kind).Inc()

	fields := []zap.Field{
		zap.String("variant", variant),
		zap.String("request_id", requestID),
		zap.String("kind", kind),
		zap.Error(err),
	}
	if kind == "validation" {
		t.logger.Info("Prediction rejected", fields...)
	} else {
		t.logger.Error("Prediction failed", fields...)
	}
	return kind
}
