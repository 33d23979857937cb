// Package cache реализует кэширование предсказаний и счетчики в Redis
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// PredictionKeyPrefix префикс для ключей предсказаний
	PredictionKeyPrefix = "prediction:"
	// TotalPredictionsKey счетчик всех предсказаний
	TotalPredictionsKey = "predictions:total"
	// LabelCounterPrefix префикс счетчиков по меткам
	LabelCounterPrefix = "predictions:label:"
	// OutliersKey счетчик наблюдений с выбросами
	OutliersKey = "outliers:total"
	// DefaultTTL время жизни записи по умолчанию
	DefaultTTL = 10 * time.Minute
)

// RedisCache реализует кэширование в Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache создает новое подключение к Redis
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     50,
		MinIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

// GetPrediction возвращает закэшированную метку
func (r *RedisCache) GetPrediction(ctx context.Context, key string) (string, bool, error) {
	label, err := r.client.Get(ctx, PredictionKeyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get prediction: %w", err)
	}
	return label, true, nil
}

// SetPrediction сохраняет метку с TTL
func (r *RedisCache) SetPrediction(ctx context.Context, key, label string) error {
	if err := r.client.Set(ctx, PredictionKeyPrefix+key, label, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache prediction: %w", err)
	}
	return nil
}

// CountPrediction увеличивает общий счетчик и счетчик метки
func (r *RedisCache) CountPrediction(ctx context.Context, label string) error {
	pipe := r.client.Pipeline()
	pipe.Incr(ctx, TotalPredictionsKey)
	pipe.Incr(ctx, LabelCounterPrefix+label)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to count prediction: %w", err)
	}
	return nil
}

// LabelCounts возвращает счетчики по всем меткам
func (r *RedisCache) LabelCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	iter := r.client.Scan(ctx, 0, LabelCounterPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		n, err := r.GetCounter(ctx, key)
		if err != nil {
			return nil, err
		}
		counts[key[len(LabelCounterPrefix):]] = n
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan label counters: %w", err)
	}
	return counts, nil
}

// IncrementCounter увеличивает счетчик
func (r *RedisCache) IncrementCounter(ctx context.Context, key string) (int64, error) {
	return r.client.Incr(ctx, key).Result()
}

// GetCounter возвращает значение счетчика
func (r *RedisCache) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := r.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Ping проверяет соединение с Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение
func (r *RedisCache) Close() error {
	return r.client.Close()
}
