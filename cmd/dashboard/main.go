// Package main запускает интерактивную панель оценки уровня риска.
// Модель работает в том же процессе; панель общается с ней через websocket.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"vitals-risk-service/internal/app"
	"vitals-risk-service/internal/config"
	"vitals-risk-service/internal/dashboard"
	"vitals-risk-service/internal/models"
)

func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	log := app.NewLogger(cfg.Log, "vitals-risk-dashboard")
	defer log.Sync()
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Start(ctx, cfg, "dashboard", log)
	if err != nil {
		log.Fatal("Failed to start runtime", zap.Error(err))
	}

	p, paths := app.LoadPredictor(models.VariantDashboard, cfg, rt.Cache, log)
	go app.WatchArtifacts(ctx, paths, log)

	srv := dashboard.NewServer(p, rt.Tracker, log)
	go srv.Run(ctx)

	server := &http.Server{
		Addr:        cfg.Dashboard.Addr,
		Handler:     srv.Router(),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Dashboard listening", zap.String("addr", cfg.Dashboard.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Dashboard server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down dashboard...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Dashboard shutdown error", zap.Error(err))
	}

	rt.Close()
	log.Info("Dashboard stopped")
}
