package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// LogisticRegression линейный классификатор: argmax(X·Wᵀ + b).
// Для бинарной модели с одной строкой коэффициентов выбирается classes[1] при положительном счете.
type LogisticRegression struct {
	coef      *mat.Dense
	intercept []float64
	classes   []string
	nFeatures int
}

func newLogisticRegression(a *Artifact) (*LogisticRegression, error) {
	if len(a.Coef) == 0 {
		return nil, errors.New("logistic regression has no coefficients")
	}
	rows := len(a.Coef)
	switch {
	case rows == 1 && len(a.Classes) != 2:
		return nil, fmt.Errorf("single coefficient row requires 2 classes, got %d", len(a.Classes))
	case rows > 1 && rows != len(a.Classes):
		return nil, fmt.Errorf("coefficient rows %d do not match %d classes", rows, len(a.Classes))
	}
	if len(a.Intercept) != rows {
		return nil, fmt.Errorf("intercept length %d does not match %d coefficient rows", len(a.Intercept), rows)
	}

	flat := make([]float64, 0, rows*a.NFeatures)
	for i, row := range a.Coef {
		if len(row) != a.NFeatures {
			return nil, fmt.Errorf("coefficient row %d has %d values, want %d", i, len(row), a.NFeatures)
		}
		flat = append(flat, row...)
	}

	return &LogisticRegression{
		coef:      mat.NewDense(rows, a.NFeatures, flat),
		intercept: a.Intercept,
		classes:   a.Classes,
		nFeatures: a.NFeatures,
	}, nil
}

// NumFeatures возвращает ожидаемую длину вектора
func (lr *LogisticRegression) NumFeatures() int {
	return lr.nFeatures
}

// Predict возвращает метку класса для каждой строки пакета
func (lr *LogisticRegression) Predict(batch [][]float64) ([]string, error) {
	if len(batch) == 0 {
		return []string{}, nil
	}

	flat := make([]float64, 0, len(batch)*lr.nFeatures)
	for i, row := range batch {
		if len(row) != lr.nFeatures {
			return nil, fmt.Errorf("row %d: %w: got %d features, want %d", i, ErrShapeMismatch, len(row), lr.nFeatures)
		}
		flat = append(flat, row...)
	}
	x := mat.NewDense(len(batch), lr.nFeatures, flat)

	var scores mat.Dense
	scores.Mul(x, lr.coef.T())

	labels := make([]string, len(batch))
	for i := range batch {
		labels[i] = lr.decide(scores.RawRowView(i))
	}
	return labels, nil
}

func (lr *LogisticRegression) decide(scores []float64) string {
	if len(scores) == 1 {
		if scores[0]+lr.intercept[0] > 0 {
			return lr.classes[1]
		}
		return lr.classes[0]
	}

	best := 0
	bestScore := scores[0] + lr.intercept[0]
	for k := 1; k < len(scores); k++ {
		if s := scores[k] + lr.intercept[k]; s > bestScore {
			best, bestScore = k, s
		}
	}
	return lr.classes[best]
}
