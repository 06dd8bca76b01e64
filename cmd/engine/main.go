package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"

	"gator-clubs/internal/cache"
	"gator-clubs/internal/config"
	"gator-clubs/internal/database"
	"gator-clubs/internal/engine"
	"gator-clubs/internal/events"
	"gator-clubs/internal/handlers"
	"gator-clubs/internal/middleware"
	"gator-clubs/internal/utils"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	snapshot, err := openCache(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer snapshot.Close()

	publisher, err := openPublisher(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer publisher.Close()

	metrics := utils.NewMetricsCollector()
	system := actor.NewActorSystem()
	eng := engine.NewEngine(system, store, publisher, snapshot, metrics, logger, engine.Config{
		Shards:         cfg.Engine.Shards,
		RequestTimeout: cfg.Server.RequestTimeout,
		TrendingWindow: cfg.Engine.TrendingWindow,
		NearbyRadiusKm: cfg.Engine.NearbyRadiusKm,
	})
	defer eng.Stop()

	server := handlers.NewServer(
		eng,
		metrics,
		middleware.NewJWTAuth(cfg.JWTSecret, logger),
		middleware.DefaultCORSConfig(cfg.AllowedOrigins),
		logger,
		cfg.Server.MetricsEnabled,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.Database.Type))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore connects the configured backend and prepares its schema.
func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (database.Store, error) {
	switch cfg.Type {
	case "postgres":
		db, err := database.NewPostgresDB(cfg.URI, logger.Named("postgres"))
		if err != nil {
			return nil, err
		}
		if err := db.InitializeTables(ctx); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to initialize tables: %w", err)
		}
		return db, nil

	case "mongo":
		db, err := database.NewMongoDB(cfg.MongoURI, cfg.MongoDatabase, logger.Named("mongo"))
		if err != nil {
			return nil, err
		}
		if err := db.EnsureIndexes(ctx); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		return db, nil

	case "memory", "":
		logger.Warn("using in-memory store; data is lost on restart")
		return database.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unsupported store type %q", cfg.Type)
}

// openCache uses Redis when an address is configured so replicas share one
// discovery snapshot.
func openCache(cfg *config.RedisConfig, logger *zap.Logger) (cache.SnapshotCache, error) {
	if cfg.Addr == "" {
		return cache.NewMemoryCache(cfg.TTL), nil
	}
	return cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		TTL:      cfg.TTL,
	}, logger.Named("redis"))
}

func openPublisher(cfg *config.NATSConfig, logger *zap.Logger) (events.Publisher, error) {
	if cfg.URL == "" {
		return events.NewLogPublisher(logger.Named("events")), nil
	}
	return events.NewNATSPublisher(events.NATSConfig{
		URL:           cfg.URL,
		Name:          "gator-clubs",
		SubjectPrefix: cfg.SubjectPrefix,
	}, logger.Named("nats"))
}
