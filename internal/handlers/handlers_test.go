package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals-risk-service/internal/analytics"
	"vitals-risk-service/internal/audit"
	"vitals-risk-service/internal/cache"
	"vitals-risk-service/internal/features"
	"vitals-risk-service/internal/model"
	"vitals-risk-service/internal/models"
	"vitals-risk-service/internal/predictor"
	"vitals-risk-service/internal/tracking"
)

func loadPredictor(t *testing.T, artifact string, schema features.Schema) *predictor.Predictor {
	t.Helper()
	handle, err := model.Load(model.Spec{
		ArtifactPath: filepath.Join("..", "..", "artifacts", artifact),
		Schema:       schema.Name,
	})
	require.NoError(t, err)
	return predictor.New(handle)
}

type testServer struct {
	router  http.Handler
	redis   *cache.RedisCache
	store   *audit.Store
	monitor *analytics.Monitor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := testContext(t)

	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(ctx, mr.Addr(), "", 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	store, err := audit.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	monitor := analytics.NewMonitor(100, 0, 0)
	monitor.Start(1)
	t.Cleanup(monitor.Stop)
	tracker := tracking.New(nil, tracking.WithRedis(rc), tracking.WithAudit(store), tracking.WithMonitor(monitor))

	h := NewHandler(
		loadPredictor(t, "news_onehot_v1.json", features.NEWSOneHotV1),
		loadPredictor(t, "vitals_minimal_v1.json", features.MinimalV1),
		tracker, nil, nil,
	)
	return &testServer{router: NewRouter(h, nil), redis: rc, store: store, monitor: monitor}
}

func scenarioForm() url.Values {
	return url.Values{
		"Respiratory_Rate":  {"20"},
		"Oxygen_Saturation": {"98.5"},
		"O2_Scale":          {"1.5"},
		"Systolic_BP":       {"120"},
		"Heart_Rate":        {"80"},
		"Temperature":       {"36.6"},
		"On_Oxygen":         {"Yes"},
		"Consciousness":     {"Alert"},
	}
}

func postForm(router http.Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func postJSON(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIndex_RendersForm(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `name="Respiratory_Rate"`)
	assert.Contains(t, body, `name="Consciousness"`)
	assert.Contains(t, body, "Responds to Voice (V)")
	assert.NotContains(t, body, "error-result")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestFormPredict_Scenario(t *testing.T) {
	s := newTestServer(t)

	rec := postForm(s.router, scenarioForm())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Predicted Risk Level: Medium")

	records, err := s.store.Recent(testContext(t), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.VariantForm, records[0].Variant)
	assert.Equal(t, []float64{20, 98.5, 1.5, 120, 80, 36.6, 1, 1, 0, 0, 0, 0}, records[0].Features)
}

func TestFormPredict_InvalidInputRendersGenericError(t *testing.T) {
	s := newTestServer(t)

	for name, mutate := range map[string]func(url.Values){
		"missing field":         func(v url.Values) { v.Del("Heart_Rate") },
		"non numeric":           func(v url.Values) { v.Set("Temperature", "warm") },
		"unknown consciousness": func(v url.Values) { v.Set("Consciousness", "Drowsy") },
	} {
		t.Run(name, func(t *testing.T) {
			form := scenarioForm()
			mutate(form)
			rec := postForm(s.router, form)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), msgProcessingFailed)
			assert.NotContains(t, rec.Body.String(), predictionPrefix)
		})
	}
}

func TestAPIPredict_Scenario(t *testing.T) {
	s := newTestServer(t)
	body := `{"Respiratory_Rate": 22, "Oxygen_Saturation": 94, "Systolic_BP": 110, "Heart_Rate": 90, "Temperature": 38.2}`

	for _, path := range []string{"/predict", "/api/predict"} {
		rec := postJSON(s.router, path, body)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp, 1)
		assert.Equal(t, "High", resp["Predicted Risk Level"])
	}

	total, err := s.redis.GetCounter(testContext(t), cache.TotalPredictionsKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Eventually(t, func() bool {
		return s.monitor.Stats()["Heart_Rate"].Count == 2
	}, time.Second, 10*time.Millisecond)
}

func TestAPIPredict_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		kind string
	}{
		{"malformed json", `{"Respiratory_Rate": `, "validation"},
		{"not an object", `[1, 2, 3]`, "validation"},
		{"missing field", `{"Respiratory_Rate": 22, "Oxygen_Saturation": 94, "Systolic_BP": 110, "Heart_Rate": 90}`, "validation"},
		{"non numeric", `{"Respiratory_Rate": "fast", "Oxygen_Saturation": 94, "Systolic_BP": 110, "Heart_Rate": 90, "Temperature": 38.2}`, "validation"},
		{"nested value", `{"Respiratory_Rate": {"v": 22}, "Oxygen_Saturation": 94, "Systolic_BP": 110, "Heart_Rate": 90, "Temperature": 38.2}`, "validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(s.router, "/api/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp models.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.kind, resp.Kind)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestAPIPredict_NumericStringsAccepted(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(s.router, "/api/predict",
		`{"Respiratory_Rate": "22", "Oxygen_Saturation": "94", "Systolic_BP": "110", "Heart_Rate": "90", "Temperature": "38.2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnavailableModel(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, nil)
	router := NewRouter(h, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), msgModelNotLoaded)
	assert.NotContains(t, rec.Body.String(), "<form")

	rec = postForm(router, scenarioForm())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), msgCannotPredict)

	rec = postJSON(router, "/api/predict", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.Kind)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health models.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "unavailable", health.Models[models.VariantForm])
}

func TestStatsAndRecent(t *testing.T) {
	s := newTestServer(t)
	postForm(s.router, scenarioForm())
	postJSON(s.router, "/api/predict", `{"Respiratory_Rate": 22, "Oxygen_Saturation": 94, "Systolic_BP": 110, "Heart_Rate": 90, "Temperature": 38.2}`)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats models.StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(2), stats.TotalPredictions)
	assert.Equal(t, int64(2), stats.AuditRecords)
	assert.Equal(t, map[string]int64{"Medium": 1, "High": 1}, stats.ByLabel)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predictions/recent?count=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var records []models.PredictionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "High", records[0].Label)
	assert.Equal(t, models.VariantAPI, records[0].Variant)
}

func TestAnalyze(t *testing.T) {
	s := newTestServer(t)
	postForm(s.router, scenarioForm())
	require.Eventually(t, func() bool {
		return s.monitor.Stats()["Temperature"].Count == 1
	}, time.Second, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analyze", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Fields     map[string]models.FieldStats `json:"fields"`
		Thresholds map[string]float64           `json:"thresholds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Fields["Temperature"].Count)
	assert.Equal(t, float64(analytics.WindowSize), resp.Thresholds["window_size"])
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
