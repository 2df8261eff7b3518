package tapd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"indexerservice/eligibility"
	"indexerservice/gateway/middleware"
	"indexerservice/observability/logging"
	telemetry "indexerservice/observability/otel"
	"indexerservice/storage/receipts"
	"indexerservice/tap"
)

// Main initialises and runs the receipt admission daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/tapd/config.yaml", "path to tapd configuration (.yaml or .toml)")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := cfg.Environment
	if value := strings.TrimSpace(os.Getenv("TAPD_ENV")); value != "" {
		env = value
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.Setup("tapd", env, level)

	endpoint := cfg.Telemetry.Endpoint
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); value != "" {
		endpoint = value
	}
	insecure := cfg.Telemetry.Insecure
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "tapd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Enabled,
		Traces:      cfg.Telemetry.Enabled,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	logger.Info("connecting to receipt database", slog.String("database", logging.RedactDSN(cfg.DatabaseURL)))
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	store := receipts.NewStore(db, receipts.PostgresNotifier{Channel: cfg.NotificationChannel})
	migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.Migrate(migrateCtx)
	cancel()
	if err != nil {
		return err
	}

	svc, err := newService(cfg, store, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           svc.server,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout.Duration,
		WriteTimeout:      cfg.HTTP.WriteTimeout.Duration,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("tapd listening",
			slog.String("listen", cfg.ListenAddress),
			slog.String("channel", cfg.NotificationChannel),
			slog.String("indexer_address", cfg.IndexerAddress),
			slog.Int("allocations", svc.allocations.Len()))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// service is the wired admission pipeline behind the HTTP server.
type service struct {
	manager     *tap.Manager
	allocations *eligibility.AllocationSet
	escrow      *eligibility.EscrowAccounts
	server      *Server
}

type healthStore interface {
	tap.ReceiptStore
	Ping(ctx context.Context) error
}

func newService(cfg Config, store healthStore, logger *slog.Logger, registerer prometheus.Registerer) (*service, error) {
	domain, err := cfg.TapDomain()
	if err != nil {
		return nil, err
	}
	ids, err := cfg.AllocationIDs()
	if err != nil {
		return nil, err
	}
	balances, err := cfg.SenderBalances()
	if err != nil {
		return nil, err
	}

	seededAt := time.Now()
	allocations := eligibility.NewAllocationSet()
	allocations.Replace(seededAt, ids...)
	escrow := eligibility.NewEscrowAccounts(nil)
	escrow.Replace(seededAt, balances)

	manager := tap.NewManager(store, allocations, escrow, domain, tap.WithLogger(logger))
	if separator, err := domain.Separator(); err == nil {
		logger.Info("receipt domain configured",
			slog.String("name", domain.Name),
			slog.Uint64("chain_id", domain.ChainID),
			slog.String("separator", separator.Hex()))
	}

	opts := []ServerOption{
		WithServerLogger(logger),
		WithHealthCheck(store.Ping),
		WithObservability(middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "tapd"}, registerer, logger)),
	}
	if cfg.RateLimit.RequestsPerMinute > 0 {
		limit, err := cfg.RateLimit.Limit()
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRateLimiter(middleware.NewRateLimiter(limit, logger)))
	}
	if gatherer, ok := registerer.(prometheus.Gatherer); ok && registerer != prometheus.DefaultRegisterer {
		opts = append(opts, WithMetricsHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &service{
		manager:     manager,
		allocations: allocations,
		escrow:      escrow,
		server:      NewServer(manager, opts...),
	}, nil
}
