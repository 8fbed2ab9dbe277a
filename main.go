package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailbot/config"
	"mailbot/internal/bootstrap"
	"mailbot/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
	onceRunTimeout  = 15 * time.Minute
)

func main() {
	mode := flag.String("mode", "once", "Run mode: once, worker, api, all")
	dryRun := flag.Bool("dry-run", false, "once mode: classify and label without sending replies")
	flag.Parse()

	// Load .env file if exists (for local development)
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	logger.Init(logger.Config{
		Level:   cfg.LogLevel,
		Service: "mailbot",
		Console: cfg.IsDevelopment(),
	})
	if envErr != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch *mode {
	case "once":
		if err := runOnce(deps, *dryRun); err != nil {
			cleanup()
			os.Exit(1)
		}
	case "api":
		runAPI(deps, nil)
	case "worker":
		runWorker(deps)
	case "all":
		w, err := bootstrap.NewWorker(deps)
		if errors.Is(err, bootstrap.ErrSchedulerDisabled) {
			logger.Warn("Scheduler disabled, serving API only")
		} else if err != nil {
			logger.Fatal("Failed to initialize worker: %v", err)
		} else {
			go w.Start()
		}
		runAPI(deps, w)
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runOnce(deps *bootstrap.Dependencies, dryRun bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, onceRunTimeout)
	defer cancel()

	report, err := bootstrap.RunOnce(ctx, deps, dryRun)
	if err != nil {
		logger.Error("Inbox run failed: %v", err)
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Error("Failed to write run report: %v", err)
		return err
	}
	return nil
}

func runAPI(deps *bootstrap.Dependencies, w *bootstrap.Worker) {
	app := bootstrap.NewAPI(deps)

	// Graceful shutdown with timeout
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down (timeout: %v)...", shutdownTimeout)
		shutdown(app, w)
	}()

	addr := ":" + deps.Config.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Fatal("Failed to start server: %v", err)
	}
}

func shutdown(app *fiber.App, w *bootstrap.Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if w != nil {
			w.Stop()
		}
		done <- app.ShutdownWithContext(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Error shutting down: %v", err)
		} else {
			logger.Info("Shut down gracefully")
		}
	case <-ctx.Done():
		logger.Warn("Shutdown timed out, forcing exit")
	}
}

func runWorker(deps *bootstrap.Dependencies) {
	w, err := bootstrap.NewWorker(deps)
	if err != nil {
		logger.Fatal("Failed to initialize worker: %v", err)
	}

	// Graceful shutdown with timeout
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker (timeout: %v)...", shutdownTimeout)

		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()

		select {
		case <-done:
			logger.Info("Worker shut down gracefully")
		case <-time.After(shutdownTimeout):
			logger.Warn("Worker shutdown timed out, forcing exit")
			os.Exit(1)
		}
	}()

	logger.Info("Starting worker...")
	w.Start()
}
