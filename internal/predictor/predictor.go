// Package predictor превращает наблюдение пациента в вектор признаков
// и получает у загруженной модели одну метку уровня риска.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vitals-risk-service/internal/features"
	"vitals-risk-service/internal/model"
	"vitals-risk-service/internal/models"
)

// DefaultTimeout ограничение на один вызов модели
const DefaultTimeout = 2 * time.Second

// Cache кэш меток по ключу вектора. Предсказание идемпотентно,
// поэтому повторный вектор при той же модели можно не считать.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, label string)
}

// Predictor собирает вектор признаков и вызывает модель
type Predictor struct {
	handle  *model.Handle
	cache   Cache
	timeout time.Duration
	logger  *zap.Logger
}

// Option настройка предиктора
type Option func(*Predictor)

// WithCache подключает кэш предсказаний
func WithCache(c Cache) Option {
	return func(p *Predictor) { p.cache = c }
}

// WithTimeout задает ограничение на вызов модели; 0 отключает ограничение
func WithTimeout(d time.Duration) Option {
	return func(p *Predictor) { p.timeout = d }
}

// WithLogger задает логгер
func WithLogger(l *zap.Logger) Option {
	return func(p *Predictor) { p.logger = l }
}

// New создает предиктор. handle == nil означает, что модель не загрузилась:
// такой предиктор отвечает ErrUnavailable и никогда не вызывает модель.
func New(handle *model.Handle, opts ...Option) *Predictor {
	p := &Predictor{
		handle:  handle,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Available сообщает, загружена ли модель
func (p *Predictor) Available() bool {
	return p.handle != nil
}

// Schema возвращает схему признаков модели
func (p *Predictor) Schema() features.Schema {
	if p.handle == nil {
		return features.Schema{}
	}
	return p.handle.Schema()
}

// Info возвращает сведения о модели
func (p *Predictor) Info() (model.Info, bool) {
	if p.handle == nil {
		return model.Info{}, false
	}
	return p.handle.Info(), true
}

// Assemble собирает вектор признаков в порядке, на котором обучена модель
func (p *Predictor) Assemble(raw models.RawObservation) (features.Vector, error) {
	vec, _, err := p.assemble(raw)
	return vec, err
}

func (p *Predictor) assemble(raw models.RawObservation) (features.Vector, features.Observation, error) {
	if p.handle == nil {
		return features.Vector{}, features.Observation{}, &Error{Kind: ErrUnavailable}
	}
	schema := p.handle.Schema()

	obs, err := features.Parse(raw, schema)
	if err != nil {
		return features.Vector{}, features.Observation{}, validationError(err)
	}

	if schema.Encoding == features.EncodingManual {
		vec, err := features.Assemble(schema, obs)
		if err != nil {
			return features.Vector{}, features.Observation{}, validationError(err)
		}
		return vec, obs, nil
	}

	row, err := features.TabularRow(schema, obs)
	if err != nil {
		return features.Vector{}, features.Observation{}, validationError(err)
	}
	vectors, err := p.handle.Transform([]features.Row{row})
	if err != nil {
		if errors.Is(err, model.ErrUnknownCategory) {
			return features.Vector{}, features.Observation{}, validationError(err)
		}
		return features.Vector{}, features.Observation{}, inferenceError(fmt.Errorf("transform: %w", err))
	}
	if len(vectors) != 1 {
		return features.Vector{}, features.Observation{}, inferenceError(fmt.Errorf("transform returned %d rows", len(vectors)))
	}
	return features.Vector{Schema: schema.Name, Values: vectors[0]}, obs, nil
}

// Infer возвращает единственную метку для вектора
func (p *Predictor) Infer(ctx context.Context, vec features.Vector) (models.PredictionResult, error) {
	if p.handle == nil {
		return models.PredictionResult{}, &Error{Kind: ErrUnavailable}
	}
	schema := p.handle.Schema()

	if vec.Schema != schema.Name {
		return models.PredictionResult{}, validationError(
			fmt.Errorf("%w: vector built for %q, model expects %q", model.ErrSchemaMismatch, vec.Schema, schema.Name))
	}
	if want := p.handle.InputWidth(); vec.Len() != want {
		return models.PredictionResult{}, validationError(
			fmt.Errorf("%w: got %d features, want %d", model.ErrShapeMismatch, vec.Len(), want))
	}

	start := time.Now()
	key := p.handle.Info().Checksum + "|" + vec.Key()
	if p.cache != nil {
		if label, ok := p.cache.Get(ctx, key); ok {
			return p.result(vec, label, true, time.Since(start)), nil
		}
	}

	label, err := p.run(ctx, vec.Values)
	if err != nil {
		p.logger.Warn("Inference failed",
			zap.String("schema", schema.Name),
			zap.Error(err),
		)
		return models.PredictionResult{}, inferenceError(err)
	}

	if p.cache != nil {
		p.cache.Set(ctx, key, label)
	}
	return p.result(vec, label, false, time.Since(start)), nil
}

// Predict разбирает наблюдение, собирает вектор и вызывает модель
func (p *Predictor) Predict(ctx context.Context, raw models.RawObservation) (models.PredictionResult, error) {
	vec, obs, err := p.assemble(raw)
	if err != nil {
		return models.PredictionResult{}, err
	}
	result, err := p.Infer(ctx, vec)
	if err != nil {
		return models.PredictionResult{}, err
	}
	result.Inputs = obs.Numerics()
	return result, nil
}

type outcome struct {
	labels []string
	err    error
}

// run вызывает модель на пакете из одной строки с ограничением по времени
func (p *Predictor) run(ctx context.Context, values []float64) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("model panic: %v", r)}
			}
		}()
		labels, err := p.handle.Predict([][]float64{values})
		done <- outcome{labels: labels, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return "", o.err
		}
		if len(o.labels) != 1 {
			return "", fmt.Errorf("model returned %d labels for one row", len(o.labels))
		}
		return o.labels[0], nil
	case <-ctx.Done():
		return "", fmt.Errorf("inference aborted: %w", ctx.Err())
	}
}

func (p *Predictor) result(vec features.Vector, label string, cacheHit bool, latency time.Duration) models.PredictionResult {
	return models.PredictionResult{
		Label:    label,
		Schema:   vec.Schema,
		Features: append([]float64(nil), vec.Values...),
		CacheHit: cacheHit,
		Latency:  latency,
	}
}
