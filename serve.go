package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"voynich/api"
	"voynich/worker"
)

const shutdownTimeout = 30 * time.Second

var (
	serveWorkers int
	serveAddr    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API together with conversion workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("workers") {
			cfg.WorkerCount = serveWorkers
		}
		if cmd.Flags().Changed("addr") {
			cfg.HTTPAddr = serveAddr
		}
		return runService(true)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run conversion workers only",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("workers") {
			cfg.WorkerCount = serveWorkers
		}
		return runService(false)
	},
}

func init() {
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 3, "number of conversion workers (0 for API only)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8000", "HTTP listen address")
	workerCmd.Flags().IntVar(&serveWorkers, "workers", 3, "number of conversion workers")
	rootCmd.AddCommand(serveCmd, workerCmd)
}

func runService(withAPI bool) error {
	logger := newLogger()
	logger.Info().Msg("Starting Voynich conversion service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis successfully")

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	queue := worker.NewQueue(redisClient, cfg)
	a.controller.SetExecutor(queue)
	pool := worker.NewPool(cfg, queue, a.controller, a.db, worker.NewMetrics(registry), logger)

	g, gctx := errgroup.WithContext(ctx)
	workers := startWorkers(gctx, g, pool, cfg.WorkerCount, logger)

	if withAPI {
		checks := a.healthChecks()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

		srv := &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: api.NewRouter(api.Options{
				Conversions: a.controller,
				Voices:      a.db,
				VoiceDir:    filepath.Join(cfg.UploadDir, "voices"),
				OutputDir:   a.outputDir,
				Gatherer:    registry,
				Checks:      checks,
				Logger:      logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("HTTP API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info().
		Int("workers", workers).
		Str("queue", cfg.PendingQueue).
		Str("gotenberg", cfg.GotenbergURL).
		Msg("Service is ready to process conversions")

	<-gctx.Done()
	logger.Info().Msg("Shutdown signal received, stopping workers...")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		logger.Info().Msg("All workers stopped gracefully")
	case <-time.After(shutdownTimeout):
		logger.Warn().Msg("Shutdown timeout, forcing exit")
	}

	logger.Info().Msg("Conversion service stopped")
	return nil
}

func startWorkers(ctx context.Context, g *errgroup.Group, pool *worker.Pool, count int, logger zerolog.Logger) int {
	if count <= 0 {
		return 0
	}
	for i := 0; i < count; i++ {
		workerID := i
		g.Go(func() error {
			pool.StartWorker(ctx, workerID)
			return nil
		})
	}
	g.Go(func() error {
		pool.RecoveryLoop(ctx)
		return nil
	})
	logger.Info().Int("count", count).Msg("Started conversion workers")
	return count
}
