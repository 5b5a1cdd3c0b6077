package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/guozi058/tlmc/internal/config"
	"github.com/guozi058/tlmc/internal/csvreplay"
	"github.com/guozi058/tlmc/internal/remap"
	"github.com/guozi058/tlmc/internal/stats"
	"github.com/guozi058/tlmc/internal/worker"
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
	cfg, err := config.ParseReplayFlags()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Start CPU profiling if requested
	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	logger := initLogger(cfg.Verbose)
	defer logger.Sync()

	ctx, cancel := setupGracefulShutdown(logger)
	defer cancel()

	rule, err := remap.New(cfg.Suffix)
	if err != nil {
		return fmt.Errorf("remap rule: %w", err)
	}
	defer rule.Close()

	collector := stats.NewCollector()

	pool, err := initWorkerPool(ctx, rule, collector, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Shutdown()

	pool.Start()
	collector.Start()

	logger.Info("starting replay", zap.String("suffix", cfg.Suffix))

	totalRecords, parseErrors, err := processRecords(ctx, cfg, pool, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("processing completed with errors", zap.Error(err))
	}

	summary := finalizeReplay(pool, collector, totalRecords, logger)
	printResults(summary, parseErrors)

	// Write memory profile if requested
	if cfg.MemProfile != "" {
		f, err := os.Create(cfg.MemProfile)
		if err != nil {
			return fmt.Errorf("could not create memory profile: %w", err)
		}
		defer f.Close()
		runtime.GC() // Get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			return fmt.Errorf("could not write memory profile: %w", err)
		}
	}

	return nil
}

// initLogger creates and configures the application logger
func initLogger(verbose bool) *zap.Logger {
	zapCfg := zap.NewDevelopmentConfig()
	if verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		// Fallback to production logger if development config fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// setupGracefulShutdown configures signal handling for graceful shutdown
func setupGracefulShutdown(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	return ctx, cancel
}

// initWorkerPool creates and configures the worker pool. In print mode every
// rewritten hostname is emitted to stdout through a shared buffered writer.
func initWorkerPool(ctx context.Context, rule *remap.Rule, collector *stats.Collector, cfg *config.ReplayConfig, logger *zap.Logger) (*worker.Pool, error) {
	logger.Info("creating worker pool",
		zap.Int("workers", cfg.NumWorkers),
		zap.Int("queue_depth", cfg.QueueDepth))

	poolCfg := worker.PoolConfig{
		NumWorkers: cfg.NumWorkers,
		QueueDepth: cfg.QueueDepth,
		Logger:     logger,
	}

	if cfg.Print {
		out := bufio.NewWriter(os.Stdout)
		var mu sync.Mutex
		poolCfg.OnRemap = func(rec *csvreplay.Record, newHost string) {
			mu.Lock()
			fmt.Fprintf(out, "%s,%s -> %s\n", rec.Host, rec.Path, newHost)
			out.Flush()
			mu.Unlock()
		}
	}

	pool, err := worker.NewPool(ctx, rule, collector, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return pool, nil
}

// processRecords reads and submits records from the configured input source
func processRecords(ctx context.Context, cfg *config.ReplayConfig, pool *worker.Pool, logger *zap.Logger) (int64, int64, error) {
	if cfg.UseStdin {
		logger.Info("reading from stdin")
		return processReader(ctx, os.Stdin, pool, logger)
	}

	logger.Info("reading from file", zap.String("file", cfg.InputFile))
	return processFile(ctx, cfg.InputFile, pool, logger)
}

// finalizeReplay waits for completion and returns the summary
func finalizeReplay(pool *worker.Pool, collector *stats.Collector, totalRecords int64, logger *zap.Logger) *stats.Summary {
	logger.Info("waiting for workers", zap.Int64("submitted", totalRecords))
	pool.CloseQueues()
	pool.Wait()
	collector.End()
	return collector.GetSummary()
}

// printResults outputs replay results to stdout
func printResults(summary *stats.Summary, parseErrors int64) {
	fmt.Println(summary.String())

	if parseErrors > 0 {
		fmt.Printf("\nParse Errors: %d\n", parseErrors)
	}
	if summary.TotalFallbacks > 0 {
		fmt.Printf("Fallback Routings: %d\n", summary.TotalFallbacks)
	}
}

// processFile reads records from a file and submits them to the worker pool
func processFile(ctx context.Context, path string, pool *worker.Pool, logger *zap.Logger) (int64, int64, error) {
	reader, err := csvreplay.NewReaderFromFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer reader.Close()

	return processWithReader(ctx, reader, pool, logger)
}

// processReader reads records from an io.Reader and submits them to the worker pool
func processReader(ctx context.Context, r io.Reader, pool *worker.Pool, logger *zap.Logger) (int64, int64, error) {
	reader := csvreplay.NewReader(r)
	return processWithReader(ctx, reader, pool, logger)
}

// processWithReader reads CSV line by line and dispatches each record to its
// hash-affine worker
func processWithReader(ctx context.Context, reader *csvreplay.Reader, pool *worker.Pool, logger *zap.Logger) (int64, int64, error) {
	var totalRecords int64
	var parseErrors int64

	// Use a goroutine to make reading cancellable
	type readResult struct {
		record *csvreplay.Record
		err    error
	}
	readChan := make(chan readResult, 1)

	go func() {
		for {
			record, err := reader.Read()
			select {
			case readChan <- readResult{record, err}:
				// Only stop on EOF or fatal errors
				if err == io.EOF {
					return
				}
				// For parse errors, continue reading
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return totalRecords, parseErrors, ctx.Err()

		case result := <-readChan:
			if result.err == io.EOF {
				return totalRecords, parseErrors, nil
			}
			if result.err != nil {
				parseErrors++
				var parseErr *csvreplay.ParseError
				if errors.As(result.err, &parseErr) {
					logger.Error("CSV parse error",
						zap.Int("line", parseErr.LineNum),
						zap.String("error", parseErr.Message))
				} else {
					logger.Error("parse error", zap.Error(result.err))
				}
				continue
			}

			if err := pool.Submit(result.record); err != nil {
				if errors.Is(err, context.Canceled) {
					return totalRecords, parseErrors, err
				}
				logger.Warn("submit failed", zap.Error(err))
				continue
			}

			totalRecords++
		}
	}
}
