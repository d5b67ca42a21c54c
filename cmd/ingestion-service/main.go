package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/gorilla/mux"
	"github.com/licitaciones/platform/pkg/app"
	"github.com/licitaciones/platform/pkg/common/config"
	"github.com/licitaciones/platform/pkg/common/kafka"
	"github.com/licitaciones/platform/pkg/common/logger"
	"github.com/licitaciones/platform/pkg/common/middleware"
	"github.com/licitaciones/platform/pkg/ingestion"
	"github.com/licitaciones/platform/pkg/observability/metrics"
)

func main() {
	logger.Init()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to initialise ingestion")
	}
	defer a.Close()

	handler := ingestion.NewHTTPHandler(ctx, a.Service, a.Tenders, 1<<20)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.Tenders.Count(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"store unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	handler.Register(router)
	router.Use(middleware.Recovery, middleware.Logging)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	var wg sync.WaitGroup

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"sources": len(a.Sources.Sources),
		}).Info("Ingestion Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Service.Loop(ctx, cfg.TickInterval)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := a.Service.Cleanup(ctx); err != nil {
					logger.Log.WithError(err).Warn("cleanup job failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if cfg.KafkaCommandsEnable && len(cfg.KafkaBrokers) > 0 {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.CommandsTopic, cfg.KafkaGroupID)
		defer consumer.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log.WithField("topic", cfg.CommandsTopic).Info("Listening for run commands")
			if err := consumer.Consume(ctx, a.Service.HandleCommand); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Error("command consumer stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Ingestion Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	// In-flight runs stop at the next artifact boundary and save their state.
	wg.Wait()
	logger.Log.Info("Ingestion Service stopped")
}
