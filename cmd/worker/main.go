package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"upscaler/internal/adapter/repo"
	"upscaler/internal/history"
	"upscaler/internal/infra"
	"upscaler/internal/metrics"
	"upscaler/internal/storage"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 10
)

type mirrorWorker struct {
	recorder *history.Service
	logger   infra.Logger
	interval time.Duration
	batch    int
}

func main() {
	var (
		intervalFlag time.Duration
		batchFlag    int
		onceFlag     bool
		metricsAddr  string
	)
	flag.DurationVar(&intervalFlag, "interval", defaultPollInterval, "delay between polls when no pending mirror is found")
	flag.IntVar(&batchFlag, "batch", defaultBatchSize, "pending records claimed per poll")
	flag.BoolVar(&onceFlag, "once", false, "process one batch and exit")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9091)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "worker").Logger()
	if !cfg.HistoryEnabled() {
		logger.Fatal().Msg("worker: DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	blobs, _, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	mx := metrics.New()
	if metricsAddr != "" {
		go func() {
			srv := &http.Server{Addr: metricsAddr, Handler: mx.Handler(), ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("worker: metrics server failed")
			}
		}()
	}

	w := &mirrorWorker{
		recorder: history.NewService(history.Options{
			Repo:     repo.NewJobRepository(infra.NewSQLRunner(pool, logger)),
			Blobs:    blobs,
			Logger:   logger,
			OnMirror: mx.MirrorResult,
		}),
		logger:   logger,
		interval: intervalFlag,
		batch:    batchFlag,
	}

	if onceFlag {
		n, err := w.recorder.RetryPending(ctx, w.batch)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: batch failed")
		}
		logger.Info().Int("processed", n).Msg("worker: batch done")
		return
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// Run drains pending mirrors, sleeping only when a poll finds nothing.
func (w *mirrorWorker) Run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Int("batch", w.batch).Msg("worker: started")
	for {
		n, err := w.recorder.RetryPending(ctx, w.batch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error().Err(err).Msg("worker: failed to claim pending mirrors")
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.interval):
		}
	}
}
