package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gftdcojp/kafka-replay-buffer/internal/config"
	"github.com/gftdcojp/kafka-replay-buffer/internal/ingest"
	"github.com/gftdcojp/kafka-replay-buffer/internal/memtier"
	"github.com/gftdcojp/kafka-replay-buffer/internal/metrics"
	"github.com/gftdcojp/kafka-replay-buffer/internal/redistier"
	"github.com/gftdcojp/kafka-replay-buffer/internal/replay"
	"github.com/gftdcojp/kafka-replay-buffer/internal/serve"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kafka-replay-buffer %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sink := metrics.NewSink(metrics.SinkConfig{
		DurableEnabled:  cfg.Buffer.Durable.Enabled,
		MaxMemorySize:   cfg.Buffer.Memory.Capacity,
		RetentionTTL:    cfg.Buffer.Durable.TTL.Duration(),
		MaxIndexEntries: cfg.Buffer.Durable.MaxIndexEntries,
	})

	memStore := memtier.NewStore(cfg.Buffer.Memory.Capacity, sink, logger.Named("memtier"))

	var durable replay.DurableTier
	var durableStore *redistier.Store
	if cfg.Buffer.Durable.Enabled {
		var err error
		durableStore, err = redistier.New(ctx, cfg.Buffer.Durable, sink, logger.Named("redistier"))
		if err != nil {
			return fmt.Errorf("connecting durable tier: %w", err)
		}
		defer durableStore.Close()
		durable = durableStore
	}

	engine := replay.NewEngine(memStore, durable, sink, cfg.Kafka.Topic, logger.Named("replay"))

	consumer, err := ingest.NewConsumer(cfg.Kafka, engine, logger.Named("ingest"))
	if err != nil {
		return fmt.Errorf("creating kafka consumer: %w", err)
	}
	defer consumer.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return consumer.Run(gctx) })

	if cfg.API.Enabled {
		g.Go(func() error {
			return serve.RunHTTP(gctx, cfg.API, engine, cfg.Kafka.Topic, logger.Named("api"))
		})
	}

	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return metrics.RunServer(gctx, cfg.Observability.Metrics) })
	}

	if cfg.Observability.Health.Enabled {
		var checker *metrics.HealthChecker
		if durableStore != nil {
			checker = metrics.NewHealthChecker(durableStore.Client(), consumer)
		} else {
			checker = metrics.NewHealthChecker(nil, consumer)
		}
		g.Go(func() error {
			return metrics.RunHealthServer(gctx, cfg.Observability.Health, checker)
		})
	}

	logger.Info("kafka-replay-buffer started",
		zap.String("version", version),
		zap.String("topic", cfg.Kafka.Topic),
		zap.Int("memory_capacity", cfg.Buffer.Memory.Capacity),
		zap.Bool("durable_enabled", cfg.Buffer.Durable.Enabled),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Graceful shutdown: let scheduled durable writes land before exit.
	if durableStore != nil {
		logger.Info("shutting down, draining durable writes...")
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		durableStore.Drain(drainCtx)
		drainCancel()
	}

	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	return zapCfg.Build()
}
