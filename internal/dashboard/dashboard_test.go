package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitals-risk-service/internal/features"
	"vitals-risk-service/internal/model"
	"vitals-risk-service/internal/predictor"
)

func tabularPredictor(t *testing.T) *predictor.Predictor {
	t.Helper()
	h, err := model.Load(model.Spec{
		ArtifactPath:    filepath.Join("..", "..", "artifacts", "tabular_tree_v1.json"),
		TransformerPath: filepath.Join("..", "..", "artifacts", "tabular_transformer_v1.json"),
		Schema:          features.TabularV1.Name,
	})
	require.NoError(t, err)
	return predictor.New(h)
}

func startServer(t *testing.T, p *predictor.Predictor) *httptest.Server {
	t.Helper()
	s := NewServer(p, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Response {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	return resp
}

func observation() map[string]any {
	return map[string]any{
		"Respiratory_Rate":  20,
		"Oxygen_Saturation": 98.5,
		"O2_Scale":          1.5,
		"Systolic_BP":       120,
		"Heart_Rate":        80,
		"Temperature":       36.6,
		"On_Oxygen":         "Yes",
		"Consciousness":     "Alert",
	}
}

func TestDashboard_PredictAndFeed(t *testing.T) {
	ts := startServer(t, tabularPredictor(t))

	alice := dial(t, ts)
	status := read(t, alice)
	require.Equal(t, TypeStatus, status.Type)
	require.NotNil(t, status.Available)
	assert.True(t, *status.Available)
	assert.Equal(t, "tabular-v1", status.Schema)

	bob := dial(t, ts)
	require.Equal(t, TypeStatus, read(t, bob).Type)

	require.NoError(t, alice.WriteJSON(Request{Type: TypePredict, ID: "1", Observation: observation()}))

	result := read(t, alice)
	require.Equal(t, TypeResult, result.Type, result.Error)
	assert.Equal(t, "1", result.ID)
	assert.Equal(t, "Low", result.Label)
	assert.Len(t, result.Features, 12)

	feed := read(t, alice)
	assert.Equal(t, TypeFeed, feed.Type)

	bobFeed := read(t, bob)
	require.Equal(t, TypeFeed, bobFeed.Type)
	require.NotNil(t, bobFeed.Event)
	assert.Equal(t, "Low", bobFeed.Event.Label)
	assert.Equal(t, "dashboard", bobFeed.Event.Variant)
}

func TestDashboard_ValidationErrors(t *testing.T) {
	ts := startServer(t, tabularPredictor(t))
	conn := dial(t, ts)
	read(t, conn)

	obs := observation()
	obs["Consciousness"] = "Drowsy"
	require.NoError(t, conn.WriteJSON(Request{Type: TypePredict, ID: "2", Observation: obs}))
	resp := read(t, conn)
	assert.Equal(t, TypeError, resp.Type)
	assert.Equal(t, "validation", resp.Kind)
	assert.Equal(t, "2", resp.ID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	resp = read(t, conn)
	assert.Equal(t, TypeError, resp.Type)
	assert.Equal(t, "validation", resp.Kind)

	require.NoError(t, conn.WriteJSON(Request{Type: "subscribe"}))
	resp = read(t, conn)
	assert.Equal(t, TypeError, resp.Type)
	assert.Contains(t, resp.Error, "subscribe")
}

func TestDashboard_Unavailable(t *testing.T) {
	ts := startServer(t, nil)

	res, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), msgModelNotLoaded)
	assert.NotContains(t, string(body), `id="vitals"`)

	conn := dial(t, ts)
	status := read(t, conn)
	require.NotNil(t, status.Available)
	assert.False(t, *status.Available)
	assert.Equal(t, "unavailable", status.Kind)

	require.NoError(t, conn.WriteJSON(Request{Type: TypePredict, Observation: observation()}))
	resp := read(t, conn)
	assert.Equal(t, TypeError, resp.Type)
	assert.Equal(t, "unavailable", resp.Kind)
}

func TestDashboard_Health(t *testing.T) {
	ts := startServer(t, tabularPredictor(t))

	res, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()

	var health map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
}
