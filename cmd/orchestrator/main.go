// Package main provides the entry point for the paper trading
// orchestrator: screener ingestion, rule-based routing, strategy
// signal generation, and ledger-backed paper execution, wired to an
// always-on monitor loop and a minimal ops surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/paper-orchestrator/internal/classifier"
	"github.com/atlas-desktop/paper-orchestrator/internal/config"
	"github.com/atlas-desktop/paper-orchestrator/internal/data"
	"github.com/atlas-desktop/paper-orchestrator/internal/events"
	"github.com/atlas-desktop/paper-orchestrator/internal/execution"
	"github.com/atlas-desktop/paper-orchestrator/internal/ledger"
	"github.com/atlas-desktop/paper-orchestrator/internal/learning"
	"github.com/atlas-desktop/paper-orchestrator/internal/opsapi"
	"github.com/atlas-desktop/paper-orchestrator/internal/router"
	"github.com/atlas-desktop/paper-orchestrator/internal/screener"
	"github.com/atlas-desktop/paper-orchestrator/internal/strategy"
	"github.com/atlas-desktop/paper-orchestrator/internal/validator"
	"github.com/atlas-desktop/paper-orchestrator/internal/workers"
)

func main() {
	configFile := flag.String("config", "", "Path to config file (optional; env PAPERORCH_* and defaults otherwise)")
	host := flag.String("host", "", "Ops API host (overrides config)")
	port := flag.Int("port", 0, "Ops API port (overrides config)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
	liveFeed := flag.Bool("live-feed", false, "Stream quotes from a websocket feed instead of the local JSON store")
	streamURL := flag.String("stream-url", "", "Websocket URL for -live-feed")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting paper trading orchestrator",
		zap.String("data_dir", cfg.DataDir),
		zap.String("ops_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.Bool("screener_enabled", cfg.Screener.Enabled),
		zap.Bool("live_feed", *liveFeed),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dataStore, err := data.NewStore(logger, cfg.DataDir)
	if err != nil {
		logger.Fatal("failed to initialize data store", zap.Error(err))
	}

	var source data.MarketDataSource = dataStore
	var feed *data.LiveFeed
	if *liveFeed {
		feedCfg := data.DefaultLiveFeedConfig()
		if *streamURL != "" {
			feedCfg.StreamURL = *streamURL
		}
		feed = data.NewLiveFeed(logger, feedCfg, dataStore)
		source = feed
	}

	led, err := ledger.New(logger, cfg.DataDir, cfg.StartingCash)
	if err != nil {
		logger.Fatal("failed to initialize ledger", zap.Error(err))
	}
	defer led.Close()

	tracker := learning.NewTracker(logger, led)

	stockClassifier := classifier.New(source, cfg.Routing, nil, nil)
	tradeRouter := router.New(tracker, cfg.Routing.MomentumSectors, cfg.Routing.HighVolThreshold)
	entryValidator := validator.New(cfg.Routing.MinStopBuffer, cfg.Validator.MinConfidence, cfg.Validator.MaxDataAge, cfg.Validator.WaitTolerance)
	registry := strategy.NewRegistry(cfg.Engines)

	recPoller := screener.NewPoller(logger, cfg.Screener.FilePath, cfg.Screener.PollInterval, cfg.Screener.Cooldown, cfg.Screener.CandidateQueue)

	bus := events.New(logger, events.DefaultConfig())
	defer bus.Stop()

	account := led.Account()
	breaker := execution.NewCircuitBreaker(logger, cfg.Execution, account.Cash)

	executor := execution.New(logger, cfg.Execution, execution.Deps{
		Source:          source,
		Classifier:      stockClassifier,
		Router:          tradeRouter,
		Validator:       entryValidator,
		Registry:        registry,
		RecStore:        recPoller.Store(),
		Ledger:          led,
		Tracker:         tracker,
		Breaker:         breaker,
		Bus:             bus,
		ScreenerEnabled: cfg.Screener.Enabled,
	})

	metrics := opsapi.NewMetrics(prometheus.DefaultRegisterer)
	registerEventMetrics(bus, metrics)

	opsServer := opsapi.New(logger, opsapi.Config{Host: cfg.Server.Host, Port: cfg.Server.Port}, led, prometheus.DefaultRegisterer.(*prometheus.Registry))

	candidatePool := workers.NewPool(logger, workers.DefaultPoolConfig("candidate-processor", cfg.WorkerPoolSize))
	candidatePool.Start()

	if *liveFeed {
		go func() {
			if err := feed.Start(ctx); err != nil {
				logger.Error("live feed stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Screener.Enabled {
		go recPoller.Run(ctx)
		go dispatchCandidates(ctx, logger, recPoller, candidatePool, executor, metrics)
	}

	go executor.RunMonitoringLoop(ctx, cfg.Monitor.Interval)

	go func() {
		if err := opsServer.Start(); err != nil {
			logger.Error("ops api server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	if *liveFeed {
		if err := feed.Stop(); err != nil {
			logger.Error("error stopping live feed", zap.Error(err))
		}
	}

	if err := candidatePool.Stop(); err != nil {
		logger.Error("error stopping candidate pool", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := opsServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during ops api shutdown", zap.Error(err))
	}

	logger.Info("orchestrator stopped")
}

// dispatchCandidates drains the screener's candidate queue onto the
// worker pool, one ProcessCandidate call per task.
func dispatchCandidates(ctx context.Context, logger *zap.Logger, poller *screener.Poller, pool *workers.Pool, executor *execution.Executor, metrics *opsapi.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case symbol, ok := <-poller.Candidates():
			if !ok {
				return
			}
			symbol := symbol
			err := pool.SubmitFunc(func() error {
				outcome := executor.ProcessCandidate(ctx, symbol)
				metrics.CandidatesProcessed.Inc()
				if outcome.Decision == "executed" {
					metrics.OrdersCommitted.Inc()
				}
				if outcome.Decision == "skipped" || outcome.Decision == "error" {
					logger.Debug("candidate not executed",
						zap.String("symbol", symbol),
						zap.String("step", outcome.Step),
						zap.String("reason", outcome.Reason))
				}
				return nil
			})
			if err != nil {
				logger.Warn("failed to submit candidate", zap.String("symbol", symbol), zap.Error(err))
			}
		}
	}
}

// registerEventMetrics mirrors circuit-trip events onto the Prometheus
// counter so the ops surface reflects them without the executor
// depending on opsapi directly.
func registerEventMetrics(bus *events.Bus, metrics *opsapi.Metrics) {
	bus.SubscribeAll(func(event events.Event) error {
		if event.GetType() == events.EventTypeCircuitTripped {
			metrics.CircuitTrips.Inc()
		}
		return nil
	})
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
