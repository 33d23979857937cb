package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"vitals-risk-service/internal/features"
)

// ErrUnknownCategory категория не встречалась при обучении трансформера
var ErrUnknownCategory = errors.New("unknown category")

// ScaledColumn числовая колонка со стандартизацией (x - mean) / scale
type ScaledColumn struct {
	Name  string  `json:"name"`
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// CategoricalColumn категориальная колонка с one-hot кодированием
type CategoricalColumn struct {
	Name       string   `json:"name"`
	Categories []string `json:"categories"`
}

// ColumnTransformer обученный препроцессор табличной строки.
// Выход: стандартизованные колонки, затем passthrough, затем one-hot категорий.
type ColumnTransformer struct {
	Format      string              `json:"format"`
	Schema      string              `json:"schema"`
	Numeric     []ScaledColumn      `json:"numeric"`
	Passthrough []string            `json:"passthrough"`
	Categorical []CategoricalColumn `json:"categorical"`
}

// LoadTransformer читает артефакт трансформера с диска
func LoadTransformer(path string) (*ColumnTransformer, []byte, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read transformer %s: %w", path, err)
	}
	var ct ColumnTransformer
	if err := json.Unmarshal(payload, &ct); err != nil {
		return nil, nil, fmt.Errorf("decode transformer %s: %w", path, err)
	}
	if ct.Format != FormatColumnTransformer {
		return nil, nil, fmt.Errorf("transformer %s: unsupported format %q", path, ct.Format)
	}
	if ct.OutputWidth() == 0 {
		return nil, nil, fmt.Errorf("transformer %s: no columns", path)
	}
	return &ct, payload, nil
}

// OutputWidth возвращает длину выходного вектора
func (ct *ColumnTransformer) OutputWidth() int {
	width := len(ct.Numeric) + len(ct.Passthrough)
	for _, c := range ct.Categorical {
		width += len(c.Categories)
	}
	return width
}

// Transform кодирует строки в числовые векторы
func (ct *ColumnTransformer) Transform(rows []features.Row) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		vec, err := ct.transformRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

func (ct *ColumnTransformer) transformRow(row features.Row) ([]float64, error) {
	vec := make([]float64, 0, ct.OutputWidth())

	for _, c := range ct.Numeric {
		v, ok := row.Numeric[c.Name]
		if !ok {
			return nil, fmt.Errorf("column %s is missing", c.Name)
		}
		scale := c.Scale
		if scale == 0 {
			scale = 1
		}
		vec = append(vec, (v-c.Mean)/scale)
	}

	for _, name := range ct.Passthrough {
		v, ok := row.Numeric[name]
		if !ok {
			return nil, fmt.Errorf("column %s is missing", name)
		}
		vec = append(vec, v)
	}

	for _, c := range ct.Categorical {
		value, ok := row.Categorical[c.Name]
		if !ok {
			return nil, fmt.Errorf("column %s is missing", c.Name)
		}
		found := false
		for _, category := range c.Categories {
			if category == value {
				vec = append(vec, 1)
				found = true
			} else {
				vec = append(vec, 0)
			}
		}
		if !found {
			return nil, fmt.Errorf("column %s: %w %q", c.Name, ErrUnknownCategory, value)
		}
	}

	return vec, nil
}
