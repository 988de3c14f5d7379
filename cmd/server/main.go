package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/niikun/social-listening/internal/app"
	"github.com/niikun/social-listening/internal/config"
	"github.com/niikun/social-listening/internal/events"
	"github.com/niikun/social-listening/internal/repository"
	"github.com/niikun/social-listening/internal/service"
	"github.com/niikun/social-listening/internal/telemetry"
	"github.com/niikun/social-listening/internal/transport/rest"
	"github.com/niikun/social-listening/internal/transport/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "social-listening",
		Endpoint:    cfg.Server.OTLPEndpoint,
		Protocol:    cfg.Server.OTLPProtocol,
		Insecure:    cfg.Server.OTLPInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	stores := service.RunStores{}

	// MongoDB connection (optional archive)
	if cfg.Server.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Server.MongoURI))
		if err != nil {
			return err
		}
		defer mongoClient.Disconnect(context.Background())

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = mongoClient.Ping(pingCtx, nil)
		cancel()
		if err != nil {
			return err
		}

		db := mongoClient.Database(cfg.Server.MongoDB)
		if err := repository.EnsureIndexes(ctx, db); err != nil {
			logger.Warn("failed to create run indexes", zap.Error(err))
		}
		stores.Repo = repository.NewRunRepo(db)
		logger.Info("connected to MongoDB", zap.String("database", cfg.Server.MongoDB))
	} else {
		logger.Warn("MONGO_URI not set, finished runs are kept in memory only")
	}

	// Redis connection (optional caches)
	var rdb *redis.Client
	if cfg.Server.RedisURI != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: strings.TrimPrefix(cfg.Server.RedisURI, "redis://"),
		})
		defer rdb.Close()

		if _, err := rdb.Ping(ctx).Result(); err != nil {
			return err
		}
		logger.Info("connected to Redis")
	}

	engine, err := app.NewEngine(ctx, cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer engine.Close()
	stores.Cache = engine.RunCache
	stores.Insights = engine.Insights

	// Kafka producer (optional)
	if len(cfg.Server.KafkaBrokers) > 0 {
		producer := events.NewProducer(events.Config{
			Brokers: cfg.Server.KafkaBrokers,
			Topic:   cfg.Server.KafkaTopic,
		}, logger)
		defer producer.Close()
		stores.Publisher = producer
		logger.Info("publishing run events", zap.Strings("brokers", cfg.Server.KafkaBrokers), zap.String("topic", cfg.Server.KafkaTopic))
	}

	wsHub := ws.NewHub(logger)
	defer wsHub.Stop()
	stores.Broadcaster = wsHub

	runSvc := service.NewRunService(engine.Orchestrator, engine.Generator, engine.Analytics,
		cfg.Survey, cfg.Server.RunHistory, stores, logger)

	router := rest.NewRouter(&rest.Container{
		AuthService:    service.NewAuthService(cfg.Server.Auth),
		RunService:     runSvc,
		Orchestrator:   engine.Orchestrator,
		Generator:      engine.Generator,
		InsightService: engine.Insights,
		Search:         engine.Search,
		WSHub:          wsHub,
		CORS:           cfg.Server.CORS,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port), zap.String("operator", cfg.Server.Auth.Username))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := runSvc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("runs did not finish cleanly", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}
