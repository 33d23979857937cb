// Package model загружает обученный классификатор (и опционально препроцессор)
// из артефактов на диске. Handle создается один раз при старте процесса
// и дальше только читается, поэтому безопасен для конкурентного использования.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"vitals-risk-service/internal/features"
)

// Форматы артефактов
const (
	FormatDecisionTree       = "decision_tree"
	FormatLogisticRegression = "logistic_regression"
	FormatColumnTransformer  = "column_transformer"
)

// Ошибки загрузки и вызова модели
var (
	ErrArtifactNotFound = errors.New("model artifact not found")
	ErrSchemaMismatch   = errors.New("artifact schema mismatch")
	ErrShapeMismatch    = errors.New("feature vector shape mismatch")
)

// Classifier пакетное предсказание меток
type Classifier interface {
	Predict(batch [][]float64) ([]string, error)
	NumFeatures() int
}

// Transformer обученное преобразование табличной строки в вектор
type Transformer interface {
	Transform(rows []features.Row) ([][]float64, error)
	OutputWidth() int
}

// Artifact сериализованный классификатор с описанием схемы
type Artifact struct {
	Format    string      `json:"format"`
	Schema    string      `json:"schema"`
	Version   string      `json:"version"`
	NFeatures int         `json:"n_features"`
	Classes   []string    `json:"classes"`
	Tree      []TreeNode  `json:"tree,omitempty"`
	Coef      [][]float64 `json:"coef,omitempty"`
	Intercept []float64   `json:"intercept,omitempty"`
}

// Spec описывает, какие артефакты загрузить и какой схеме они должны соответствовать
type Spec struct {
	ArtifactPath    string
	TransformerPath string
	Schema          string
}

// Info сведения о загруженной модели
type Info struct {
	Schema      string    `json:"schema"`
	Format      string    `json:"format"`
	Version     string    `json:"version"`
	Path        string    `json:"path"`
	Transformer string    `json:"transformer,omitempty"`
	Checksum    string    `json:"checksum"`
	Classes     []string  `json:"classes"`
	LoadedAt    time.Time `json:"loaded_at"`
}

// Handle неизменяемая ссылка на загруженную модель
type Handle struct {
	classifier  Classifier
	transformer Transformer
	schema      features.Schema
	info        Info
}

// NewHandle собирает Handle из готовых компонентов (используется в тестах и встраивании)
func NewHandle(schema features.Schema, classifier Classifier, transformer Transformer) (*Handle, error) {
	if classifier == nil {
		return nil, errors.New("classifier is required")
	}
	h := &Handle{
		classifier:  classifier,
		transformer: transformer,
		schema:      schema,
		info:        Info{Schema: schema.Name, LoadedAt: time.Now()},
	}
	if err := h.checkShape(); err != nil {
		return nil, err
	}
	return h, nil
}

// Load читает артефакты и проверяет их соответствие схеме
func Load(spec Spec) (*Handle, error) {
	schema, err := features.Lookup(spec.Schema)
	if err != nil {
		return nil, err
	}

	artifact, payload, err := readArtifact(spec.ArtifactPath)
	if err != nil {
		return nil, err
	}
	if artifact.Schema != schema.Name {
		return nil, fmt.Errorf("%w: artifact %s declares %q, expected %q",
			ErrSchemaMismatch, spec.ArtifactPath, artifact.Schema, schema.Name)
	}

	classifier, err := newClassifier(artifact)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", spec.ArtifactPath, err)
	}

	sum := sha256.New()
	sum.Write(payload)

	var transformer Transformer
	if schema.Encoding == features.EncodingTransformer {
		if spec.TransformerPath == "" {
			return nil, fmt.Errorf("schema %s requires a transformer artifact", schema.Name)
		}
		ct, tPayload, err := LoadTransformer(spec.TransformerPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
			}
			return nil, err
		}
		if ct.Schema != schema.Name {
			return nil, fmt.Errorf("%w: transformer %s declares %q, expected %q",
				ErrSchemaMismatch, spec.TransformerPath, ct.Schema, schema.Name)
		}
		sum.Write(tPayload)
		transformer = ct
	}

	h := &Handle{
		classifier:  classifier,
		transformer: transformer,
		schema:      schema,
		info: Info{
			Schema:      schema.Name,
			Format:      artifact.Format,
			Version:     artifact.Version,
			Path:        spec.ArtifactPath,
			Transformer: spec.TransformerPath,
			Checksum:    hex.EncodeToString(sum.Sum(nil))[:16],
			Classes:     append([]string(nil), artifact.Classes...),
			LoadedAt:    time.Now(),
		},
	}
	if err := h.checkShape(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", spec.ArtifactPath, err)
	}
	return h, nil
}

func readArtifact(path string) (*Artifact, []byte, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, path)
		}
		return nil, nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	var a Artifact
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, nil, fmt.Errorf("decode artifact %s: %w", path, err)
	}
	if a.NFeatures <= 0 {
		return nil, nil, fmt.Errorf("artifact %s: n_features must be positive", path)
	}
	if len(a.Classes) == 0 {
		return nil, nil, fmt.Errorf("artifact %s: no classes", path)
	}
	return &a, payload, nil
}

func newClassifier(a *Artifact) (Classifier, error) {
	switch a.Format {
	case FormatDecisionTree:
		return newDecisionTree(a)
	case FormatLogisticRegression:
		return newLogisticRegression(a)
	default:
		return nil, fmt.Errorf("unsupported model format %q", a.Format)
	}
}

// checkShape сверяет длину входа классификатора со схемой или трансформером
func (h *Handle) checkShape() error {
	want := h.schema.Width()
	switch {
	case h.schema.Encoding == features.EncodingTransformer && !h.HasTransformer():
		return fmt.Errorf("schema %s requires a transformer", h.schema.Name)
	case h.schema.Encoding == features.EncodingTransformer:
		want = h.transformer.OutputWidth()
	case h.HasTransformer():
		return fmt.Errorf("schema %s is encoded manually and takes no transformer", h.schema.Name)
	}
	if got := h.classifier.NumFeatures(); got != want {
		return fmt.Errorf("%w: classifier expects %d features, schema %s provides %d",
			ErrShapeMismatch, got, h.schema.Name, want)
	}
	return nil
}

// Schema возвращает схему признаков, на которой обучена модель
func (h *Handle) Schema() features.Schema {
	return h.schema
}

// Info возвращает сведения о загруженных артефактах
func (h *Handle) Info() Info {
	return h.info
}

// InputWidth возвращает ожидаемую длину вектора признаков
func (h *Handle) InputWidth() int {
	return h.classifier.NumFeatures()
}

// HasTransformer сообщает, кодирует ли наблюдения трансформер
func (h *Handle) HasTransformer() bool {
	return h.transformer != nil
}

// Transform прогоняет табличные строки через трансформер
func (h *Handle) Transform(rows []features.Row) ([][]float64, error) {
	if h.transformer == nil {
		return nil, errors.New("model has no transformer")
	}
	return h.transformer.Transform(rows)
}

// Predict возвращает метки для пакета векторов
func (h *Handle) Predict(batch [][]float64) ([]string, error) {
	return h.classifier.Predict(batch)
}
