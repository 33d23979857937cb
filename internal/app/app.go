// Package app собирает общую инфраструктуру процессов сервиса: логгер,
// монитор входных показателей, Redis, журнал SQLite, публикацию в MQTT и трекер.
package app

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"vitals-risk-service/internal/analytics"
	"vitals-risk-service/internal/audit"
	"vitals-risk-service/internal/cache"
	"vitals-risk-service/internal/config"
	"vitals-risk-service/internal/logger"
	"vitals-risk-service/internal/metrics"
	"vitals-risk-service/internal/model"
	"vitals-risk-service/internal/predictor"
	"vitals-risk-service/internal/publish"
	"vitals-risk-service/internal/tracking"
)

// redisAttempts число попыток подключения к Redis при старте
const redisAttempts = 5

// NewLogger создает логгер процесса по секции log конфигурации
func NewLogger(cfg config.LogConfig, service string) *zap.Logger {
	return logger.NewLogger(logger.Options{
		Level:       cfg.Level,
		Format:      cfg.Format,
		ServiceName: service,
		File:        cfg.File,
		MaxSizeMB:   cfg.MaxSizeMB,
		MaxBackups:  cfg.MaxBackups,
		MaxAgeDays:  cfg.MaxAgeDays,
	})
}

// Runtime общие получатели исходов предсказаний одного процесса
type Runtime struct {
	Monitor *analytics.Monitor
	Redis   *cache.RedisCache
	Cache   *cache.Tiered
	Audit   *audit.Store
	Tracker *tracking.Tracker

	logger *zap.Logger
}

// Start поднимает монитор, Redis, кэш, журнал, публикацию и трекер.
// Недоступные внешние системы отключаются с предупреждением.
// Фоновые циклы работают до отмены ctx.
func Start(ctx context.Context, cfg config.Config, service string, log *zap.Logger) (*Runtime, error) {
	rt := &Runtime{logger: log}

	rt.Monitor = analytics.NewMonitor(cfg.Monitor.BufferSize, cfg.Monitor.Window, cfg.Monitor.ZThreshold)
	rt.Monitor.Start(cfg.Monitor.Workers)
	log.Info("Input monitor started", zap.Int("workers", cfg.Monitor.Workers))

	rt.Redis = ConnectRedis(ctx, cfg.Redis, log)

	var err error
	rt.Cache, err = cache.NewTiered(cfg.Predictor.CacheSize, rt.Redis, log)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Audit = OpenAudit(cfg.Audit, log)

	rt.Tracker = tracking.New(log,
		tracking.WithRedis(rt.Redis),
		tracking.WithAudit(rt.Audit),
		tracking.WithPublisher(NewPublisher(ctx, cfg.MQTT, service, log)),
		tracking.WithMonitor(rt.Monitor),
	)

	go ProcessDriftResults(ctx, rt.Monitor, rt.Redis, log)
	go UpdateRuntimeMetrics(ctx, 5*time.Second)

	return rt, nil
}

// Close останавливает фоновые обработчики и закрывает соединения
func (rt *Runtime) Close() {
	if rt.Tracker != nil {
		rt.Tracker.Close()
	}
	if rt.Monitor != nil {
		rt.Monitor.Stop()
	}
	if rt.Audit != nil {
		if err := rt.Audit.Close(); err != nil {
			rt.logger.Warn("Failed to close audit log", zap.Error(err))
		}
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.logger.Warn("Failed to close Redis client", zap.Error(err))
		}
	}
}

// ConnectRedis пробует подключиться к Redis с повторами; nil означает работу без Redis
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) *cache.RedisCache {
	if !cfg.Enabled {
		log.Info("Redis disabled")
		return nil
	}

	var lastErr error
	for i := 0; i < redisAttempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := cache.NewRedisCache(attemptCtx, cfg.Addr, cfg.Password, cfg.DB, cfg.TTL)
		cancel()
		if err == nil {
			log.Info("Connected to Redis", zap.String("addr", cfg.Addr))
			return rc
		}
		lastErr = err
		log.Warn("Redis connection attempt failed", zap.Int("attempt", i+1), zap.Error(err))

		if i == redisAttempts-1 {
			break
		}
		select {
		case <-time.After(time.Duration(i+1) * time.Second):
		case <-ctx.Done():
			return nil
		}
	}

	log.Warn("Failed to connect to Redis, running without it", zap.Error(lastErr))
	return nil
}

// OpenAudit открывает журнал предсказаний; nil означает работу без журнала
func OpenAudit(cfg config.AuditConfig, log *zap.Logger) *audit.Store {
	if !cfg.Enabled {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		log.Warn("Failed to create audit directory", zap.Error(err))
	}
	store, err := audit.Open(cfg.Path)
	if err != nil {
		log.Warn("Audit log disabled", zap.Error(err))
		return nil
	}
	log.Info("Audit log opened", zap.String("path", cfg.Path))
	return store
}

// NewPublisher подключается к брокеру MQTT. Идентификатор клиента
// дополняется именем процесса, чтобы процессы не вытесняли друг друга.
func NewPublisher(ctx context.Context, cfg config.MQTTConfig, service string, log *zap.Logger) publish.Publisher {
	if !cfg.Enabled {
		return publish.Nop{}
	}
	p, err := publish.NewMQTTPublisher(ctx, publish.Options{
		Broker:      cfg.Broker,
		ClientID:    cfg.ClientID + "-" + service,
		TopicPrefix: cfg.TopicPrefix,
		QoS:         cfg.QoS,
	}, log)
	if err != nil {
		log.Warn("MQTT publishing disabled", zap.Error(err))
		return publish.Nop{}
	}
	return p
}

// LoadPredictor загружает модель варианта; при ошибке возвращает недоступный предиктор.
// Вторым значением возвращаются файлы артефактов для наблюдения.
func LoadPredictor(variant string, cfg config.Config, c predictor.Cache, log *zap.Logger) (*predictor.Predictor, []string) {
	mc, _ := cfg.Models.ForVariant(variant)
	paths := []string{mc.Artifact}
	if mc.Transformer != "" {
		paths = append(paths, mc.Transformer)
	}

	handle, err := model.Load(model.Spec{
		ArtifactPath:    mc.Artifact,
		TransformerPath: mc.Transformer,
		Schema:          mc.Schema,
	})
	if err != nil {
		log.Error("Model could not be loaded",
			zap.String("variant", variant),
			zap.String("artifact", mc.Artifact),
			zap.Error(err),
		)
		metrics.SetModelAvailable(variant, mc.Schema, false)
		return predictor.New(nil), paths
	}

	info := handle.Info()
	log.Info("Model loaded",
		zap.String("variant", variant),
		zap.String("schema", info.Schema),
		zap.String("format", info.Format),
		zap.String("version", info.Version),
		zap.String("checksum", info.Checksum),
	)
	metrics.SetModelAvailable(variant, mc.Schema, true)

	opts := []predictor.Option{
		predictor.WithTimeout(cfg.Predictor.Timeout),
		predictor.WithLogger(log.With(zap.String("variant", variant))),
	}
	if c != nil {
		opts = append(opts, predictor.WithCache(c))
	}
	return predictor.New(handle, opts...), paths
}

// WatchArtifacts сообщает об изменении файлов моделей; загруженные модели не меняются
func WatchArtifacts(ctx context.Context, paths []string, log *zap.Logger) {
	err := model.Watch(ctx, paths,
		func(path string, op fsnotify.Op) {
			metrics.ArtifactChanges.Inc()
			log.Warn("Model artifact changed on disk, restart to apply",
				zap.String("path", path),
				zap.String("op", op.String()),
			)
		},
		func(err error) {
			log.Error("Artifact watcher error", zap.Error(err))
		},
	)
	if err != nil {
		log.Warn("Artifact watcher stopped", zap.Error(err))
	}
}

// UpdateRuntimeMetrics периодически обновляет метрики Prometheus
func UpdateRuntimeMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
		case <-ctx.Done():
			return
		}
	}
}

// ProcessDriftResults обрабатывает результаты проверки входных показателей
func ProcessDriftResults(ctx context.Context, monitor *analytics.Monitor, redisCache *cache.RedisCache, log *zap.Logger) {
	for {
		select {
		case result := <-monitor.Results():
			if !result.AnomalyDetected {
				continue
			}
			for _, field := range result.Outliers {
				metrics.InputOutliers.WithLabelValues(field).Inc()
			}
			if redisCache != nil {
				if _, err := redisCache.IncrementCounter(ctx, cache.OutliersKey); err != nil {
					log.Warn("Failed to update outlier counter", zap.Error(err))
				}
			}
			log.Warn("Outlier in patient vitals",
				zap.String("variant", result.Variant),
				zap.Strings("fields", result.Outliers),
				zap.Any("z_scores", result.ZScores),
			)
		case <-ctx.Done():
			return
		}
	}
}
