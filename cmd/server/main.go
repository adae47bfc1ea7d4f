package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osvaldoandrade/captureq/internal/providers"
	"github.com/osvaldoandrade/captureq/pkg/app"
	"github.com/osvaldoandrade/captureq/pkg/config"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	cfgPath := getenv("CAPTUREQ_CONFIG_PATH", "")

	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid config:", err)
		os.Exit(1)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] init app:", err)
		os.Exit(1)
	}
	app.SetupMappings(application)

	if err := providers.WaitForRedis(context.Background(), application.Redis, 10, time.Second); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] redis:", err)
		os.Exit(1)
	}

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	waitWorkers := application.StartWorkers(workersCtx)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(os.Stderr, "[ERROR] http server:", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		application.Logger.Warn("http shutdown", "err", err)
	}

	// In-flight captures finish on their own context; only new claims stop.
	// Redis stays open until the consumer has released its last job.
	stopWorkers()
	application.Logger.Info("waiting for in-flight captures")
	waitWorkers()

	if application.TracingShutdown != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = application.TracingShutdown(flushCtx)
		flushCancel()
	}
	_ = application.Redis.Close()
}
