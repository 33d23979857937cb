package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"vitals-risk-service/internal/metrics"
)

// Tiered двухуровневый кэш предсказаний: LRU в памяти и опционально Redis.
// Ошибки Redis не прерывают предсказание, а только логируются.
type Tiered struct {
	local  *lru.Cache[string, string]
	remote *RedisCache
	logger *zap.Logger
}

// NewTiered создает кэш. remote может быть nil.
func NewTiered(size int, remote *RedisCache, logger *zap.Logger) (*Tiered, error) {
	if size <= 0 {
		size = 1024
	}
	local, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tiered{local: local, remote: remote, logger: logger}, nil
}

// Get ищет метку сначала в памяти, затем в Redis
func (t *Tiered) Get(ctx context.Context, key string) (string, bool) {
	if label, ok := t.local.Get(key); ok {
		metrics.CacheHits.WithLabelValues("local").Inc()
		return label, true
	}

	if t.remote != nil {
		label, ok, err := t.remote.GetPrediction(ctx, key)
		if err != nil {
			t.logger.Warn("Redis lookup failed", zap.Error(err))
		} else if ok {
			t.local.Add(key, label)
			metrics.CacheHits.WithLabelValues("redis").Inc()
			return label, true
		}
	}

	metrics.CacheMisses.Inc()
	return "", false
}

// Set сохраняет метку на обоих уровнях
func (t *Tiered) Set(ctx context.Context, key, label string) {
	t.local.Add(key, label)
	if t.remote == nil {
		return
	}
	if err := t.remote.SetPrediction(ctx, key, label); err != nil {
		t.logger.Warn("Redis store failed", zap.Error(err))
	}
}

// Len возвращает число записей в памяти
func (t *Tiered) Len() int {
	return t.local.Len()
}
