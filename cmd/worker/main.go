package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aawaheed/datashare/internal/bootstrap"
	"github.com/aawaheed/datashare/internal/config"
	"github.com/aawaheed/datashare/internal/observability/logging"
	"github.com/aawaheed/datashare/internal/observability/metrics"
)

const executionTimeout = 2 * time.Hour

func main() {
	cfg := config.MustLoad()
	logging.Setup("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: workerMetrics.Handler(),
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker subscribed", "subject", cfg.BatchSubject)
	err = app.BatchQueue.Subscribe(ctx, func(handlerCtx context.Context, uuid string) error {
		execCtx, cancel := context.WithTimeout(handlerCtx, executionTimeout)
		defer cancel()

		start := time.Now()
		workerMetrics.StartBatch()
		execErr := app.ExecUC.ExecuteByUUID(execCtx, uuid)
		workerMetrics.FinishBatch("worker", time.Since(start), execErr)
		return execErr
	})
	if err != nil {
		slog.Error("worker subscribe failed", "error", err)
		os.Exit(1)
	}
}
