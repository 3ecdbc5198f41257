package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emperorhan/safe-coordinator/internal/alert"
	"github.com/emperorhan/safe-coordinator/internal/chain"
	"github.com/emperorhan/safe-coordinator/internal/chain/ratelimit"
	"github.com/emperorhan/safe-coordinator/internal/chain/rpc"
	"github.com/emperorhan/safe-coordinator/internal/circuitbreaker"
	"github.com/emperorhan/safe-coordinator/internal/config"
	"github.com/emperorhan/safe-coordinator/internal/queue"
	"github.com/emperorhan/safe-coordinator/internal/store/postgres"
	"github.com/emperorhan/safe-coordinator/internal/tracing"
	"github.com/emperorhan/safe-coordinator/internal/txservice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting safe-coordinator",
		"safe", cfg.Safe.Address.Hex(),
		"chain_id", cfg.Chain.ChainID,
		"rpc", cfg.Chain.RPCURL,
		"reconcile_interval", cfg.Reconcile.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "safe-coordinator", cfg.Tracing.OTLPEndpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	onBreakerChange := func(name string, from, to circuitbreaker.State) {
		logger.Warn("circuit breaker state change", "backend", name, "from", from, "to", to)
	}

	limiter := ratelimit.NewLimiter(cfg.Chain.RateLimitRPS, cfg.Chain.RateBurst)
	rpcBreaker := circuitbreaker.New(circuitbreaker.Config{Name: "rpc", OnStateChange: onBreakerChange})
	rpcClient := rpc.NewClient(cfg.Chain.RPCURL, limiter, rpcBreaker, logger)

	reader, err := chain.NewReader(rpcClient, cfg.Safe.Address, logger)
	if err != nil {
		logger.Error("failed to build chain reader", "error", err)
		os.Exit(1)
	}

	chainID, err := reader.ChainID(ctx)
	if err != nil {
		logger.Error("failed to read chain id", "error", err)
		os.Exit(1)
	}
	if chainID != cfg.Chain.ChainID {
		logger.Error("chain id mismatch", "configured", cfg.Chain.ChainID, "node", chainID)
		os.Exit(1)
	}

	serviceURL, err := txservice.ServiceURL(cfg.Chain.ChainID, cfg.TxService.URLOverride)
	if err != nil {
		logger.Error("failed to resolve transaction service", "error", err)
		os.Exit(1)
	}
	txBreaker := circuitbreaker.New(circuitbreaker.Config{Name: "txservice", OnStateChange: onBreakerChange})
	txClient := txservice.NewClient(serviceURL, cfg.Safe.Address, cfg.Chain.ChainID, txBreaker, logger)

	alerter := buildAlerter(cfg.Alert, logger)

	q := queue.New(cfg.Safe.Address, cfg.Chain.ChainID)
	reconciler := queue.NewReconciler(q, reader, txClient, alerter, logger)

	if cfg.DB.URL != "" {
		db, err := postgres.New(postgres.Config{
			URL:             cfg.DB.URL,
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.RunMigrations(cfg.DB.MigrationsDir); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		reconciler.SetAuditSink(postgres.NewAuditRepo(db))
		logger.Info("audit persistence enabled")
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reconciler.RunPeriodic(gCtx, cfg.Reconcile.Interval)
	})

	g.Go(func() error {
		return serveMetrics(gCtx, cfg.Server.MetricsPort, logger)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("coordinator stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("coordinator stopped")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	channels := []alert.Alerter{alert.NewLogAlerter(logger)}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

func serveMetrics(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}()

	logger.Info("metrics listening", "port", port)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
