package model

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals-risk-service/internal/features"
)

const artifactsDir = "../../artifacts"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DecisionTreeArtifact(t *testing.T) {
	h, err := Load(Spec{
		ArtifactPath: filepath.Join(artifactsDir, "news_onehot_v1.json"),
		Schema:       features.NEWSOneHotV1.Name,
	})
	require.NoError(t, err)

	assert.Equal(t, 12, h.InputWidth())
	assert.False(t, h.HasTransformer())
	assert.Equal(t, FormatDecisionTree, h.Info().Format)
	assert.Len(t, h.Info().Checksum, 16)

	labels, err := h.Predict([][]float64{{20, 98.5, 1.5, 120, 80, 36.6, 1, 1, 0, 0, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Medium"}, labels)

	labels, err = h.Predict([][]float64{{20, 88, 1.5, 120, 80, 36.6, 1, 1, 0, 0, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, []string{"High"}, labels)
}

func TestLoad_LogisticRegressionArtifact(t *testing.T) {
	h, err := Load(Spec{
		ArtifactPath: filepath.Join(artifactsDir, "vitals_minimal_v1.json"),
		Schema:       features.MinimalV1.Name,
	})
	require.NoError(t, err)

	labels, err := h.Predict([][]float64{{22, 94, 110, 90, 38.2}, {22, 94, 110, 90, 38.2}})
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, labels[0], labels[1])
	assert.Contains(t, h.Info().Classes, labels[0])
}

func TestLoad_TransformerArtifact(t *testing.T) {
	h, err := Load(Spec{
		ArtifactPath:    filepath.Join(artifactsDir, "tabular_tree_v1.json"),
		TransformerPath: filepath.Join(artifactsDir, "tabular_transformer_v1.json"),
		Schema:          features.TabularV1.Name,
	})
	require.NoError(t, err)
	require.True(t, h.HasTransformer())

	rows := []features.Row{{
		Numeric: map[string]float64{
			features.FieldRespiratoryRate:  20,
			features.FieldOxygenSaturation: 98.5,
			features.FieldO2Scale:          1.5,
			features.FieldSystolicBP:       120,
			features.FieldHeartRate:        80,
			features.FieldTemperature:      36.6,
			features.FieldOnOxygen:         1,
		},
		Categorical: map[string]string{features.FieldConsciousness: "A"},
	}}
	vectors, err := h.Transform(rows)
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Len(t, vectors[0], 12)
	assert.Equal(t, []float64{1, 1, 0, 0, 0, 0}, vectors[0][6:])

	labels, err := h.Predict(vectors)
	require.NoError(t, err)
	assert.Equal(t, []string{"Low"}, labels)
}

func TestLoad_MissingArtifact(t *testing.T) {
	_, err := Load(Spec{
		ArtifactPath: filepath.Join(t.TempDir(), "absent.json"),
		Schema:       features.NEWSOneHotV1.Name,
	})
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestLoad_CorruptArtifact(t *testing.T) {
	path := writeFile(t, t.TempDir(), "corrupt.json", "{not json")
	_, err := Load(Spec{ArtifactPath: path, Schema: features.NEWSOneHotV1.Name})
	assert.Error(t, err)
}

func TestLoad_SchemaMismatch(t *testing.T) {
	_, err := Load(Spec{
		ArtifactPath: filepath.Join(artifactsDir, "vitals_minimal_v1.json"),
		Schema:       features.NEWSOneHotV1.Name,
	})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestLoad_FeatureCountMismatch(t *testing.T) {
	path := writeFile(t, t.TempDir(), "short.json", `{
		"format": "logistic_regression",
		"schema": "news-onehot-v1",
		"n_features": 3,
		"classes": ["High", "Low"],
		"coef": [[1, 2, 3]],
		"intercept": [0]
	}`)
	_, err := Load(Spec{ArtifactPath: path, Schema: features.NEWSOneHotV1.Name})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestLoad_TransformerSchemaRequiresTransformer(t *testing.T) {
	_, err := Load(Spec{
		ArtifactPath: filepath.Join(artifactsDir, "tabular_tree_v1.json"),
		Schema:       features.TabularV1.Name,
	})
	assert.Error(t, err)
}

func TestLoad_UnknownSchema(t *testing.T) {
	_, err := Load(Spec{ArtifactPath: filepath.Join(artifactsDir, "news_onehot_v1.json"), Schema: "v0"})
	assert.Error(t, err)
}

func TestDecisionTree_RejectsInvalidChildren(t *testing.T) {
	_, err := newDecisionTree(&Artifact{
		NFeatures: 1,
		Classes:   []string{"Low"},
		Tree: []TreeNode{
			{FeatureIdx: 0, Threshold: 1, LeftChild: 0, RightChild: 1},
			{IsLeaf: true},
		},
	})
	assert.Error(t, err)
}

func TestDecisionTree_ShapeMismatch(t *testing.T) {
	dt, err := newDecisionTree(&Artifact{
		NFeatures: 2,
		Classes:   []string{"Low", "High"},
		Tree: []TreeNode{
			{FeatureIdx: 1, Threshold: 0.5, LeftChild: 1, RightChild: 2},
			{IsLeaf: true, ClassIdx: 0},
			{IsLeaf: true, ClassIdx: 1},
		},
	})
	require.NoError(t, err)

	_, err = dt.Predict([][]float64{{1}})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	labels, err := dt.Predict([][]float64{{0, 0.2}, {0, 0.9}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Low", "High"}, labels)
}

func TestLogisticRegression_Binary(t *testing.T) {
	lr, err := newLogisticRegression(&Artifact{
		NFeatures: 2,
		Classes:   []string{"Low", "High"},
		Coef:      [][]float64{{1, 1}},
		Intercept: []float64{-1},
	})
	require.NoError(t, err)

	labels, err := lr.Predict([][]float64{{0.2, 0.2}, {1, 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Low", "High"}, labels)
}

func TestLogisticRegression_Multiclass(t *testing.T) {
	lr, err := newLogisticRegression(&Artifact{
		NFeatures: 2,
		Classes:   []string{"A", "B", "C"},
		Coef:      [][]float64{{1, 0}, {0, 1}, {0, 0}},
		Intercept: []float64{0, 0, 0.5},
	})
	require.NoError(t, err)

	labels, err := lr.Predict([][]float64{{2, 0}, {0, 2}, {0, 0}})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, labels)
}

func TestLogisticRegression_InvalidShape(t *testing.T) {
	_, err := newLogisticRegression(&Artifact{
		NFeatures: 2,
		Classes:   []string{"A", "B", "C"},
		Coef:      [][]float64{{1, 0}, {0, 1}},
		Intercept: []float64{0, 0},
	})
	assert.Error(t, err)
}

func TestColumnTransformer_UnknownCategory(t *testing.T) {
	ct := &ColumnTransformer{
		Format:      FormatColumnTransformer,
		Categorical: []CategoricalColumn{{Name: "Consciousness", Categories: []string{"A", "C"}}},
	}
	_, err := ct.Transform([]features.Row{{Categorical: map[string]string{"Consciousness": "X"}}})
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestColumnTransformer_ZeroScaleIsIdentity(t *testing.T) {
	ct := &ColumnTransformer{
		Format:  FormatColumnTransformer,
		Numeric: []ScaledColumn{{Name: "x", Mean: 1, Scale: 0}},
	}
	out, err := ct.Transform([]features.Row{{Numeric: map[string]float64{"x": 3}}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{2}}, out)
}

func TestNewHandle_ChecksShape(t *testing.T) {
	lr, err := newLogisticRegression(&Artifact{
		NFeatures: 2,
		Classes:   []string{"Low", "High"},
		Coef:      [][]float64{{1, 1}},
		Intercept: []float64{0},
	})
	require.NoError(t, err)

	_, err = NewHandle(features.MinimalV1, lr, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNewHandle_ManualSchemaRejectsTransformer(t *testing.T) {
	lr, err := newLogisticRegression(&Artifact{
		NFeatures: 5,
		Classes:   []string{"Low", "High"},
		Coef:      [][]float64{{1, 1, 1, 1, 1}},
		Intercept: []float64{0},
	})
	require.NoError(t, err)

	ct := &ColumnTransformer{
		Format:  FormatColumnTransformer,
		Numeric: []ScaledColumn{{Name: "x", Mean: 0, Scale: 1}},
	}
	_, err = NewHandle(features.MinimalV1, lr, ct)
	assert.Error(t, err)

	h, err := NewHandle(features.MinimalV1, lr, nil)
	require.NoError(t, err)
	assert.False(t, h.HasTransformer())
}

func TestWatch_ReportsArtifactChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "model.json", "{}")
	writeFile(t, dir, "other.json", "{}")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 10)
	require.NoError(t, Watch(ctx, []string{path}, func(p string, op fsnotify.Op) {
		changes <- filepath.Base(p)
	}, nil))

	writeFile(t, dir, "other.json", `{"a":1}`)
	writeFile(t, dir, "model.json", `{"b":2}`)

	select {
	case name := <-changes:
		assert.Equal(t, "model.json", name)
	case <-time.After(5 * time.Second):
		t.Fatal("expected a change notification")
	}
}

func TestWatch_ReportsWatcherErrors(t *testing.T) {
	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 1)
	go watchLoop(ctx, watcher, map[string]bool{}, func(string, fsnotify.Op) {}, func(err error) {
		errs <- err
	})

	watcher.Errors <- fsnotify.ErrEventOverflow

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, fsnotify.ErrEventOverflow)
	case <-time.After(5 * time.Second):
		t.Fatal("expected the watcher error to be reported")
	}
}
