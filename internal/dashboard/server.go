package dashboard

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vitals-risk-service/internal/features"
	"vitals-risk-service/internal/handlers"
	"vitals-risk-service/internal/models"
	"vitals-risk-service/internal/predictor"
	"vitals-risk-service/internal/tracking"
)

// Типы сообщений websocket
const (
	TypePredict = "predict"
	TypeStatus  = "status"
	TypeResult  = "result"
	TypeError   = "error"
	TypeFeed    = "feed"
)

const msgModelNotLoaded = "Error: Model could not be loaded. Please check server logs."

// Request сообщение панели серверу
type Request struct {
	Type        string         `json:"type"`
	ID          string         `json:"id,omitempty"`
	Observation map[string]any `json:"observation"`
}

// Response сообщение сервера панели
type Response struct {
	Type      string                  `json:"type"`
	ID        string                  `json:"id,omitempty"`
	Available *bool                   `json:"available,omitempty"`
	Schema    string                  `json:"schema,omitempty"`
	Fields    []string                `json:"fields,omitempty"`
	Label     string                  `json:"label,omitempty"`
	Features  []float64               `json:"features,omitempty"`
	Inputs    map[string]float64      `json:"inputs,omitempty"`
	Error     string                  `json:"error,omitempty"`
	Kind      string                  `json:"kind,omitempty"`
	Event     *models.PredictionEvent `json:"event,omitempty"`
}

//go:embed static/index.html
var staticFS embed.FS

var pageTemplate = template.Must(template.ParseFS(staticFS, "static/index.html"))

// Server интерактивная панель
type Server struct {
	predictor *predictor.Predictor
	tracker   *tracking.Tracker
	hub       *Hub
	upgrader  websocket.Upgrader
	logger    *zap.Logger
	startTime time.Time
}

// NewServer создает панель; p без модели отображает состояние недоступности
func NewServer(p *predictor.Predictor, tracker *tracking.Tracker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p == nil {
		p = predictor.New(nil)
	}
	if tracker == nil {
		tracker = tracking.New(logger)
	}
	return &Server{
		predictor: p,
		tracker:   tracker,
		hub:       NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:    logger,
		startTime: time.Now(),
	}
}

// Run запускает цикл хаба до отмены контекста
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// Router настраивает маршруты панели
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", s.IndexHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.WebSocketHandler).Methods(http.MethodGet)
	router.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)
	router.Handle("/prometheus", promhttp.Handler())

	router.Use(handlers.RequestIDMiddleware)
	router.Use(handlers.RecoveryMiddleware(s.logger))
	router.Use(handlers.LoggingMiddleware(s.logger))
	router.Use(handlers.MetricsMiddleware)
	return router
}

type pageData struct {
	Available bool
	Schema    string
	ErrorText string
	Levels    []features.Consciousness
}

// IndexHandler отдает страницу панели
func (s *Server) IndexHandler(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Available: s.predictor.Available(),
		Schema:    s.predictor.Schema().Name,
		Levels:    features.ConsciousnessLevels,
	}
	if !data.Available {
		data.ErrorText = msgModelNotLoaded
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		s.logger.Error("Failed to render dashboard", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// HealthHandler статус панели
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Redis:     "disconnected",
		Models:    map[string]string{models.VariantDashboard: "unavailable"},
		Uptime:    time.Since(s.startTime).String(),
	}
	if rc := s.tracker.Redis(); rc != nil && rc.Ping(r.Context()) == nil {
		status.Redis = "connected"
	}
	if info, ok := s.predictor.Info(); ok {
		status.Models[models.VariantDashboard] = info.Schema + "@" + info.Checksum
	} else {
		status.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Warn("Failed to encode health", zap.Error(err))
	}
}

// WebSocketHandler подключает панель к хабу
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBufferSize)}
	if !s.hub.join(client) {
		conn.Close()
		return
	}

	go client.writePump()
	s.hub.SendTo(client, s.encode(s.status()))
	go client.readPump(s.hub, s.handleMessage)
}

func (s *Server) status() Response {
	available := s.predictor.Available()
	resp := Response{Type: TypeStatus, Available: &available}
	if available {
		schema := s.predictor.Schema()
		resp.Schema = schema.Name
		resp.Fields = schema.Inputs
	} else {
		resp.Error = msgModelNotLoaded
		resp.Kind = predictor.KindOf(&predictor.Error{Kind: predictor.ErrUnavailable})
	}
	return resp
}

// handleMessage обрабатывает запрос панели: ответ уходит отправителю,
// успешное предсказание попадает в общую ленту
func (s *Server) handleMessage(client *Client, data []byte) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var req Request
	if err := dec.Decode(&req); err != nil {
		s.hub.SendTo(client, s.encode(Response{Type: TypeError, Kind: "validation", Error: "invalid message: " + err.Error()}))
		return
	}
	if req.Type != TypePredict {
		s.hub.SendTo(client, s.encode(Response{
			Type: TypeError, ID: req.ID, Kind: "validation",
			Error: fmt.Sprintf("unsupported message type %q", req.Type),
		}))
		return
	}

	requestID := req.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	ctx := context.Background()
	result, err := s.predict(ctx, req.Observation)
	if err != nil {
		kind := s.tracker.Failure(models.VariantDashboard, requestID, err)
		s.hub.SendTo(client, s.encode(Response{Type: TypeError, ID: req.ID, Kind: kind, Error: err.Error()}))
		return
	}

	s.tracker.Success(ctx, models.VariantDashboard, requestID, result)
	s.hub.SendTo(client, s.encode(Response{
		Type:     TypeResult,
		ID:       req.ID,
		Schema:   result.Schema,
		Label:    result.Label,
		Features: result.Features,
		Inputs:   result.Inputs,
	}))
	s.hub.Broadcast(s.encode(Response{
		Type: TypeFeed,
		Event: &models.PredictionEvent{
			ID:        requestID,
			Variant:   models.VariantDashboard,
			Schema:    result.Schema,
			Label:     result.Label,
			Timestamp: time.Now().UTC(),
		},
	}))
}

func (s *Server) predict(ctx context.Context, observation map[string]any) (models.PredictionResult, error) {
	if !s.predictor.Available() {
		return models.PredictionResult{}, &predictor.Error{Kind: predictor.ErrUnavailable}
	}
	if observation == nil {
		return models.PredictionResult{}, &predictor.Error{Kind: predictor.ErrValidation, Err: errors.New("observation is required")}
	}
	raw, err := features.FromJSON(observation)
	if err != nil {
		return models.PredictionResult{}, &predictor.Error{Kind: predictor.ErrValidation, Err: err}
	}
	return s.predictor.Predict(ctx, models.RawObservation(raw))
}

func (s *Server) encode(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode dashboard message", zap.Error(err))
		return []byte(`{"type":"error","kind":"internal"}`)
	}
	return data
}
