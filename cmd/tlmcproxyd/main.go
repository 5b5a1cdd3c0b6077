package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/guozi058/tlmc/internal/config"
	"github.com/guozi058/tlmc/internal/proxy"
	"github.com/guozi058/tlmc/internal/stats"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Fatal("application failed", zap.Error(err))
	}
}

// run contains all application logic
func run() error {
	cfg, err := config.ParseProxyFlags()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := initLogger(cfg.Verbose)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	collector.Start()

	srv, err := proxy.New(proxy.Config{
		ListenAddr:      cfg.ListenAddr,
		Suffix:          cfg.Suffix,
		FallbackHost:    cfg.FallbackHost,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Collector:       collector,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run(ctx)
	})

	g.Go(func() error {
		return reportStats(ctx, collector, logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	collector.End()
	logger.Info("proxy stopped",
		zap.Int64("remapped", collector.RemapCount()),
		zap.Int64("fallbacks", collector.FallbackCount()))

	return nil
}

// reportStats periodically logs routing counters until ctx is cancelled.
func reportStats(ctx context.Context, collector *stats.Collector, logger *zap.Logger) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			logger.Info("routing stats",
				zap.Int64("remapped", collector.RemapCount()),
				zap.Int64("fallbacks", collector.FallbackCount()))
		}
	}
}

// initLogger creates and configures the application logger
func initLogger(verbose bool) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
