// Package main wires together the mangawatch service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/api"
	"github.com/JakeFAU/mangawatch/internal/config"
	"github.com/JakeFAU/mangawatch/internal/logging"
	"github.com/JakeFAU/mangawatch/internal/metrics"
	"github.com/JakeFAU/mangawatch/internal/scheduler"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	pollOnce := flag.Bool("poll-once", false, "Run a single poll pass, print the report and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *pollOnce, logger); err != nil {
		logger.Error("mangawatch exited with error", zap.Error(err))
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, pollOnce bool, logger *zap.Logger) error {
	app, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Store.SeedFile != "" {
		seed, err := config.LoadSeed(cfg.Store.SeedFile)
		if err != nil {
			return err
		}
		if err := seedLibrary(ctx, app.library, seed, logger); err != nil {
			return err
		}
	}

	if pollOnce {
		report, err := app.scheduler.Poll(ctx)
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		for _, line := range report.Logs {
			fmt.Println(line)
		}
		return nil
	}

	if interval := cfg.PollInterval(); interval > 0 {
		go pollLoop(ctx, app.scheduler, interval, logger.Named("ticker"))
	}

	server := api.NewServer(app.scheduler, app.resolver, app.ready, cfg, logger)
	httpServer := &http.Server{
		Addr:              ":" + listenPort(cfg),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// pollLoop runs Poll on a ticker for deployments without an external cron.
func pollLoop(ctx context.Context, s *scheduler.Scheduler, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.Poll(ctx)
			if err != nil {
				logger.Error("scheduled poll failed", zap.Error(err))
				continue
			}
			logger.Info("scheduled poll finished",
				zap.String("run_id", report.RunID),
				zap.Int("checked", len(report.Checked)),
			)
		}
	}
}

// listenPort prefers the PORT variable set by Cloud Run.
func listenPort(cfg config.Config) string {
	if p := os.Getenv("PORT"); p != "" {
		if _, err := strconv.Atoi(p); err == nil {
			return p
		}
	}
	return strconv.Itoa(cfg.Server.Port)
}
