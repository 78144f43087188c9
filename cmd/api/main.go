package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"studyroom/internal/api"
	"studyroom/internal/clock"
	"studyroom/internal/config"
	"studyroom/internal/database"
	"studyroom/internal/domain"
	"studyroom/internal/events"
	"studyroom/internal/lock"
	"studyroom/internal/logging"
	"studyroom/internal/metrics"
	"studyroom/internal/models"
	"studyroom/internal/service"
	"studyroom/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	catalog, err := loadCatalog(logger)
	if err != nil {
		return err
	}

	db, err := initDatabase(cfg, catalog, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if !cfg.API.Enabled {
		logger.Warn().Msg("API is disabled in config, serving without auth and rate limits")
	}

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	bus := events.NewEventBus()
	forwarder := initForwarder(ctx, cfg, bus, &wg, logger)

	policy, err := service.PolicyFromConfig(cfg.Booking)
	if err != nil {
		return fmt.Errorf("booking policy: %w", err)
	}
	clk := clock.Real{Location: policy.Location}
	locker := initLocker(cfg, redisClient, logger)

	availability := service.NewAvailabilityService(db, db, db, logger)
	bookings := service.NewBookingService(db, db, availability, locker, bus, clk, policy, logger)
	occupancy := service.NewOccupancyService(db, db, locker, bus, clk, logger)

	reconcilerCfg, err := worker.ReconcilerConfigFromConfig(cfg.Booking)
	if err != nil {
		return fmt.Errorf("reconciler config: %w", err)
	}
	reconciler := worker.NewReconciler(db, bus, clk, reconcilerCfg, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	backup := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		backup.Start(ctx)
	}()

	startMetrics(ctx, cfg, logger)

	httpServer := api.NewHTTPServer(cfg.API, api.NewHandler(availability, bookings, occupancy, logger), logger)
	err = serveHTTP(ctx, httpServer, cfg, logger)

	stop()
	wg.Wait()
	if forwarder != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := forwarder.Close(closeCtx); cerr != nil {
			logger.Warn().Err(cerr).Msg("close event forwarder")
		}
	}
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, baseLogger, closer, nil
}

// loadCatalog reads the buildings, classrooms, seats and users to seed.
func loadCatalog(logger *zerolog.Logger) (*models.Catalog, error) {
	catalogPath := os.Getenv("CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = "configs/catalog.yaml"
	}
	data, err := os.ReadFile(catalogPath)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("read catalog")
		return nil, err
	}

	var catalog models.Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("parse catalog")
		return nil, err
	}
	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog %s: %w", catalogPath, err)
	}
	return &catalog, nil
}

func initDatabase(cfg *config.Config, catalog *models.Catalog, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"),
		database.WithBusyTimeout(cfg.Database.BusyTimeout))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SeedCatalog(context.Background(), catalog); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed catalog: %w", err)
	}
	return db, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, using in-process locks")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initLocker prefers redis leases so several instances can share one
// database, and keeps in-process locks as the fallback.
func initLocker(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) domain.Locker {
	local := lock.NewLocal(cfg.Booking.LockWait)
	if client == nil {
		return local
	}
	primary := lock.NewRedis(client, lock.RedisOptions{
		TTL:  cfg.Booking.LockTTL,
		Wait: cfg.Booking.LockWait,
	}, logger)
	return lock.NewFailover(primary, local, logger)
}

func initForwarder(
	ctx context.Context,
	cfg *config.Config,
	bus *events.EventBus,
	wg *sync.WaitGroup,
	logger *zerolog.Logger,
) *events.AMQPForwarder {
	if !cfg.Events.Enabled {
		return nil
	}
	forwarder, err := events.DialAMQP(cfg.Events.AMQPURL, cfg.Events.Exchange, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, events stay in-process")
		return nil
	}
	forwarder.Attach(bus)
	wg.Add(1)
	go func() {
		defer wg.Done()
		forwarder.Run(ctx)
	}()
	logger.Info().Str("exchange", cfg.Events.Exchange).Msg("event forwarding enabled")
	return forwarder
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func serveHTTP(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("http server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return serveErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
