// Package main запускает сервис оценки уровня риска пациента по витальным показателям.
// Сервис реализует:
// - HTML форму (POST /predict) и минимальный JSON API (POST /api/predict)
// - Мониторинг выбросов во входных показателях (окно 50 наблюдений, z-score)
// - Кэширование предсказаний в памяти и в Redis
// - Журнал предсказаний в SQLite и публикацию событий в MQTT
// - Экспорт метрик в Prometheus
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"

	"vitals-risk-service/internal/app"
	"vitals-risk-service/internal/config"
	"vitals-risk-service/internal/handlers"
	"vitals-risk-service/internal/models"
)

func main() {
	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	log := app.NewLogger(cfg.Log, "vitals-risk-service")
	defer log.Sync()
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	log.Info("Starting Vitals Risk Service",
		zap.String("go_version", runtime.Version()),
		zap.Int("num_cpu", runtime.NumCPU()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Start(ctx, cfg, "server", log)
	if err != nil {
		log.Fatal("Failed to start runtime", zap.Error(err))
	}

	// Загружаем модели; ошибка загрузки переводит вариант в состояние недоступности
	formPredictor, formPaths := app.LoadPredictor(models.VariantForm, cfg, rt.Cache, log)
	apiPredictor, apiPaths := app.LoadPredictor(models.VariantAPI, cfg, rt.Cache, log)

	go app.WatchArtifacts(ctx, append(formPaths, apiPaths...), log)

	handler := handlers.NewHandler(formPredictor, apiPredictor, rt.Tracker, rt.Cache, log)
	router := handlers.NewRouter(handler, log)

	// Создаем HTTP сервер с настройками таймаутов
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Server listening",
			zap.String("addr", cfg.Server.Addr),
			zap.Strings("endpoints", []string{
				"GET  /                   - Risk level form",
				"POST /predict            - Form or JSON prediction",
				"POST /api/predict        - JSON prediction",
				"GET  /health             - Health check",
				"GET  /stats              - Service statistics",
				"GET  /analyze            - Input statistics",
				"GET  /predictions/recent - Audit log",
				"GET  /prometheus         - Prometheus metrics",
			}),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	rt.Close()
	log.Info("Server stopped")
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
